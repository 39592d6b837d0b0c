package bidding

import (
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

var t0 = time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

func contender(user, maxAmount int64, createdOffset time.Duration) Contender {
	return Contender{
		AutoBidID: uuid.New(),
		UserID:    user,
		MaxAmount: maxAmount,
		Capacity:  1000,
		CreatedAt: t0.Add(createdOffset),
	}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name       string
		start      Standing
		contenders []Contender
		increment  int64
		wantLeader int64
		wantBid    int64
		wantSteps  []Step
	}{
		{
			name:       "auto-bid answers a manual bid",
			start:      Standing{LeaderID: 2, CurrentBid: 80},
			contenders: []Contender{contender(1, 100, 0)},
			increment:  1,
			wantLeader: 1,
			wantBid:    81,
		},
		{
			name:       "auto-bid at or below current bid stays quiet",
			start:      Standing{LeaderID: 2, CurrentBid: 100},
			contenders: []Contender{contender(1, 100, 0)},
			increment:  1,
			wantLeader: 2,
			wantBid:    100,
		},
		{
			name:       "higher ceiling wins one increment above the runner-up",
			start:      Standing{LeaderID: 3, CurrentBid: 10},
			contenders: []Contender{contender(1, 100, 0), contender(2, 90, time.Second)},
			increment:  1,
			wantLeader: 1,
			wantBid:    91,
		},
		{
			name:       "later but higher ceiling wins",
			start:      Standing{LeaderID: 3, CurrentBid: 10},
			contenders: []Contender{contender(1, 100, 0), contender(2, 120, time.Second)},
			increment:  1,
			wantLeader: 2,
			wantBid:    101,
		},
		{
			name:       "equal ceilings go to the earliest",
			start:      Standing{LeaderID: 3, CurrentBid: 80},
			contenders: []Contender{contender(2, 100, time.Second), contender(1, 100, 0)},
			increment:  1,
			wantLeader: 1,
			wantBid:    100,
			wantSteps:  []Step{{UserID: 2, Amount: 100, Displaced: 1}, {UserID: 1, Amount: 100, Displaced: 2}},
		},
		{
			name:       "leader defends with own auto-bid",
			start:      Standing{LeaderID: 1, CurrentBid: 50},
			contenders: []Contender{contender(1, 200, 0), contender(2, 120, time.Second)},
			increment:  5,
			wantLeader: 1,
			wantBid:    120,
		},
		{
			name:       "runner-up ceiling reached on the leader's turn",
			start:      Standing{LeaderID: 2, CurrentBid: 51},
			contenders: []Contender{contender(1, 100, 0), contender(2, 90, time.Second)},
			increment:  1,
			wantLeader: 1,
			wantBid:    90,
			wantSteps:  []Step{{UserID: 2, Amount: 89, Displaced: 1}, {UserID: 1, Amount: 90, Displaced: 2}},
		},
		{
			name:       "runner-up ceiling reached on its own turn",
			start:      Standing{LeaderID: 2, CurrentBid: 50},
			contenders: []Contender{contender(1, 100, 0), contender(2, 90, time.Second)},
			increment:  1,
			wantLeader: 1,
			wantBid:    91,
			wantSteps:  []Step{{UserID: 2, Amount: 90, Displaced: 1}, {UserID: 1, Amount: 91, Displaced: 2}},
		},
		{
			name:       "single raise is kept as is",
			start:      Standing{LeaderID: 2, CurrentBid: 80},
			contenders: []Contender{contender(1, 100, 0)},
			increment:  1,
			wantLeader: 1,
			wantBid:    81,
			wantSteps:  []Step{{UserID: 1, Amount: 81, Displaced: 2}},
		},
		{
			name:       "equal ceilings hand the stalled lead to the earliest",
			start:      Standing{LeaderID: 3, CurrentBid: 97},
			contenders: []Contender{contender(2, 100, time.Second), contender(1, 100, 0)},
			increment:  1,
			wantLeader: 1,
			wantBid:    100,
			wantSteps:  []Step{{UserID: 2, Amount: 99, Displaced: 1}, {UserID: 1, Amount: 100, Displaced: 2}},
		},
		{
			name:       "manual bid at an auto-bid ceiling holds",
			start:      Standing{LeaderID: 2, CurrentBid: 100},
			contenders: []Contender{contender(1, 100, 0), contender(2, 90, time.Second)},
			increment:  1,
			wantLeader: 2,
			wantBid:    100,
			wantSteps:  []Step{},
		},
		{
			name:       "increment capped by ceiling",
			start:      Standing{LeaderID: 2, CurrentBid: 98},
			contenders: []Contender{contender(1, 100, 0)},
			increment:  10,
			wantLeader: 1,
			wantBid:    100,
		},
		{
			name:       "no contenders",
			start:      Standing{LeaderID: 2, CurrentBid: 40},
			increment:  1,
			wantLeader: 2,
			wantBid:    40,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Resolve(tt.start, tt.contenders, tt.increment)
			check.Equal(t, tt.wantLeader, res.Final.LeaderID)
			check.Equal(t, tt.wantBid, res.Final.CurrentBid)
			if tt.wantSteps != nil {
				check.Equal(t, len(tt.wantSteps), len(res.Steps))
				for i := range min(len(tt.wantSteps), len(res.Steps)) {
					check.Equal(t, tt.wantSteps[i], res.Steps[i])
				}
			}

			prev := tt.start.CurrentBid
			for _, s := range res.Steps {
				check.True(t, s.Amount >= prev)
				prev = s.Amount
			}
		})
	}
}

// Пошаговое повторение каждого повышения должно прийти туда же, куда Resolve.
func TestResolve_MatchesStepwiseReplay(t *testing.T) {
	replay := func(start Standing, cs []Contender, inc int64) Standing {
		cur := start
		for {
			best, ok := strongestChallenger(cs, cur)
			if !ok {
				return cur
			}
			amount := min(cur.CurrentBid+inc, best.Ceiling())
			cur = Standing{LeaderID: best.UserID, CurrentBid: amount}
		}
	}
	for startBid := int64(40); startBid <= 60; startBid++ {
		for _, inc := range []int64{1, 2, 3, 5} {
			cs := []Contender{contender(1, 100, 0), contender(2, 90, time.Second), contender(3, 70, 2*time.Second)}
			start := Standing{LeaderID: 4, CurrentBid: startBid}
			want := replay(start, cs, inc)
			got := Resolve(start, cs, inc)
			check.Equal(t, want, got.Final)
			assert.True(t, len(got.Steps) > 0)
			check.Equal(t, got.Final.CurrentBid, got.Steps[len(got.Steps)-1].Amount)
			check.Equal(t, got.Final.LeaderID, got.Steps[len(got.Steps)-1].UserID)
		}
	}
}

func TestResolve_CapacityLimitsCeiling(t *testing.T) {
	rich := contender(1, 300, 0)
	rich.Capacity = 60
	res := Resolve(Standing{LeaderID: 2, CurrentBid: 70}, []Contender{rich}, 1)
	check.Equal(t, int64(2), res.Final.LeaderID)
	check.Equal(t, int64(70), res.Final.CurrentBid)
	check.Equal(t, 0, len(res.Steps))
	// Потолок всё ещё выше ставки; автоставка остаётся активной.
	check.Equal(t, 0, len(res.Exhausted))
}

func TestResolve_Exhausted(t *testing.T) {
	a := contender(1, 100, 0)
	b := contender(2, 90, time.Second)
	res := Resolve(Standing{LeaderID: 3, CurrentBid: 10}, []Contender{a, b}, 1)
	assert.Equal(t, int64(1), res.Final.LeaderID)
	check.Equal(t, []uuid.UUID{b.AutoBidID}, res.Exhausted)
}

func TestResolve_SameInstantUsesAutoBidID(t *testing.T) {
	a := contender(1, 100, 0)
	b := contender(2, 100, 0)
	want := a.UserID
	if b.AutoBidID.String() < a.AutoBidID.String() {
		want = b.UserID
	}
	res := Resolve(Standing{LeaderID: 3, CurrentBid: 50}, []Contender{a, b}, 1)
	check.Equal(t, want, res.Final.LeaderID)
	check.Equal(t, int64(100), res.Final.CurrentBid)
}

func TestResolve_DeterministicUnderInputOrder(t *testing.T) {
	base := []Contender{
		contender(1, 150, 3*time.Second),
		contender(2, 150, time.Second),
		contender(3, 140, 0),
		contender(4, 90, 2*time.Second),
		contender(5, 150, 4*time.Second),
	}
	start := Standing{LeaderID: 9, CurrentBid: 60}
	want := Resolve(start, base, 2)
	check.Equal(t, int64(2), want.Final.LeaderID)
	check.Equal(t, int64(150), want.Final.CurrentBid)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 50; i++ {
		shuffled := append([]Contender(nil), base...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		got := Resolve(start, shuffled, 2)
		check.Equal(t, want.Final, got.Final)
		check.Equal(t, len(want.Steps), len(got.Steps))
	}
}
