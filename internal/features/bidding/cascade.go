// Package bidding — cascade.go рассчитывает каскад автоставок после принятой ставки.
//
// Результат — чистая функция от положения (лидер, текущая ставка), активных
// автоставок с возможностями их владельцев и шага лиги. Претенденты полностью
// упорядочены: потолок по убыванию, время создания автоставки по возрастанию,
// ID автоставки по возрастанию. Порядок входа на результат не влияет.
package bidding

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Contender — активная автоставка с точки зрения каскада.
type Contender struct {
	AutoBidID uuid.UUID
	UserID    int64
	MaxAmount int64
	// Capacity — сколько владелец может вложить в этот аукцион: доступные
	// кредиты плюс его текущая блокировка здесь, если он лидирует.
	Capacity  int64
	CreatedAt time.Time
}

// Ceiling — максимум, до которого каскад может поднять претендента.
func (c Contender) Ceiling() int64 {
	if c.Capacity < c.MaxAmount {
		return c.Capacity
	}
	return c.MaxAmount
}

// Outranks сообщает, стоит ли c выше o в борьбе за лидерство.
func (c Contender) Outranks(o Contender) bool {
	if c.Ceiling() != o.Ceiling() {
		return c.Ceiling() > o.Ceiling()
	}
	if !c.CreatedAt.Equal(o.CreatedAt) {
		return c.CreatedAt.Before(o.CreatedAt)
	}
	return c.AutoBidID.String() < o.AutoBidID.String()
}

// Standing — лидер и цена аукциона в одной точке каскада.
type Standing struct {
	LeaderID   int64
	CurrentBid int64
}

// Step — одно автоматическое повышение.
type Step struct {
	UserID    int64
	Amount    int64
	Displaced int64 // лидер до шага, 0 если не было
}

// Resolution — итог каскада.
type Resolution struct {
	Steps []Step
	Final Standing
	// Exhausted — автоставки, чей MaxAmount больше не перебивает итоговую ставку.
	Exhausted []uuid.UUID
}

// Resolve проводит каскад от start, пока ни одна автоставка не может перебить
// текущую ставку.
//
// Каждое повышение получает старший по рангу претендент, кроме лидера, чей
// потолок ещё выше текущей ставки, до min(currentBid+increment, потолок).
// Если каскад встал на цене, равной потолку претендента выше лидера по рангу,
// тот уравнивает цену и забирает лидерство.
//
// Две автоставки, перебивающие друг друга, дают по повышению на каждый шаг.
// Такая серия возвращается как последнее повышение каждого из двух владельцев;
// промежуточные блокировки взаимно гасятся.
//
// Параметры:
//   - start: лидер и ставка после принятой ставки
//   - contenders: активные автоставки аукциона
//   - increment: шаг лиги; 0 или меньше означает 1
func Resolve(start Standing, contenders []Contender, increment int64) Resolution {
	if increment <= 0 {
		increment = 1
	}
	ranked := append([]Contender(nil), contenders...)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Outranks(ranked[j]) })

	cur := start
	var trail []Step
	for {
		best, ok := strongestChallenger(ranked, cur)
		if !ok {
			break
		}
		amount := min(cur.CurrentBid+increment, best.Ceiling())
		trail = append(trail, Step{UserID: best.UserID, Amount: amount, Displaced: cur.LeaderID})
		cur = Standing{LeaderID: best.UserID, CurrentBid: amount}
	}
	if m, ok := matcher(ranked, cur); ok {
		trail = append(trail, Step{UserID: m.UserID, Amount: cur.CurrentBid, Displaced: cur.LeaderID})
		cur.LeaderID = m.UserID
	}

	var exhausted []uuid.UUID
	for _, c := range ranked {
		if c.UserID != cur.LeaderID && c.MaxAmount <= cur.CurrentBid {
			exhausted = append(exhausted, c.AutoBidID)
		}
	}
	return Resolution{Steps: compact(trail), Final: cur, Exhausted: exhausted}
}

// strongestChallenger возвращает старшего по рангу претендента, кроме лидера,
// чей потолок ещё выше текущей ставки.
func strongestChallenger(ranked []Contender, cur Standing) (Contender, bool) {
	for _, c := range ranked {
		if c.UserID == cur.LeaderID {
			continue
		}
		if c.Ceiling() > cur.CurrentBid {
			return c, true
		}
	}
	return Contender{}, false
}

// matcher возвращает претендента, который забирает лидерство при равных
// потолках: старшего по рангу с потолком ровно на текущей ставке, если потолок
// лидера там же и лидер ниже по рангу. В остальных случаях лидер остаётся.
func matcher(ranked []Contender, cur Standing) (Contender, bool) {
	var leader *Contender
	for i := range ranked {
		if ranked[i].UserID == cur.LeaderID {
			leader = &ranked[i]
			break
		}
	}
	if leader == nil || leader.Ceiling() != cur.CurrentBid {
		return Contender{}, false
	}
	for _, c := range ranked {
		if c.Ceiling() != cur.CurrentBid {
			continue
		}
		if c.UserID != cur.LeaderID && c.Outranks(*leader) {
			return c, true
		}
		return Contender{}, false
	}
	return Contender{}, false
}

// compact оставляет в каждой серии, где чередуются два владельца, последнее
// повышение каждого из них; остальные повышения остаются как есть.
func compact(trail []Step) []Step {
	var out []Step
	for i := 0; i < len(trail); {
		j := i + 2
		for j < len(trail) && trail[j].UserID == trail[j-2].UserID && trail[j].UserID != trail[j-1].UserID {
			j++
		}
		if j-i > 2 {
			out = append(out, trail[j-2], trail[j-1])
		} else {
			out = append(out, trail[i:min(j, len(trail))]...)
		}
		i = j
	}
	return out
}
