// Package ledger — единственный источник правды о доступных кредитах.
//
// ledger.go содержит изменения бюджета с проверкой инварианта. Своих транзакций
// они не открывают: каждый вызов идёт внутри единицы работы вызывающего вместе
// с остальными его записями и добавляет одну запись BudgetTransaction.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"serotonyl.ru/draft-auction/internal/common"
	"serotonyl.ru/draft-auction/internal/store"
)

// Ref связывает движение по бюджету с аукционом и игроком, которые его вызвали.
type Ref struct {
	AuctionID   *uuid.UUID
	PlayerID    *int64
	Description string
}

// AuctionRef собирает Ref для аукциона.
func AuctionRef(a *store.Auction, description string) Ref {
	id := a.ID
	player := a.PlayerID
	return Ref{AuctionID: &id, PlayerID: &player, Description: description}
}

// SettleParams описывает списание кредитов.
type SettleParams struct {
	LeagueID int64
	UserID   int64
	Amount   int64
	// FromLocked списывает существующую блокировку (выигрыш аукциона).
	// Иначе сумма берётся из доступных кредитов (штраф).
	FromLocked bool
	Reason     store.TxType
	Ref        Ref
}

// Ledger проводит движения по бюджету внутри единицы работы.
type Ledger struct {
	clock common.Clock
}

// New создаёт бюджетную книгу.
//
// Параметры:
//   - clock: источник времени для записей BudgetTransaction; nil означает системные часы
func New(clock common.Clock) *Ledger {
	return &Ledger{clock: clock.OrSystem()}
}

// Reserve блокирует amount из доступных кредитов участника.
//
// Параметры:
//   - tx: текущая единица работы; строка участника должна быть заблокирована
//   - leagueID, userID: участник
//   - amount: сумма блокировки (положительная)
//   - ref: аукцион и описание для истории
//
// Возвращает ErrInsufficientFunds, если нарушится 0 <= locked <= budget.
// Для текущей операции эта ошибка фатальна, повтор с той же суммой не поможет.
func (l *Ledger) Reserve(ctx context.Context, tx store.Tx, leagueID, userID, amount int64, ref Ref) error {
	p, err := tx.GetParticipantForUpdate(ctx, leagueID, userID)
	if err != nil {
		return err
	}
	if err := applyReserve(p, amount); err != nil {
		return err
	}
	return l.write(ctx, tx, p, store.TxLock, 0, amount, ref)
}

// Release возвращает блокировку в доступные кредиты.
func (l *Ledger) Release(ctx context.Context, tx store.Tx, leagueID, userID, amount int64, ref Ref) error {
	p, err := tx.GetParticipantForUpdate(ctx, leagueID, userID)
	if err != nil {
		return err
	}
	if err := applyRelease(p, amount); err != nil {
		return err
	}
	return l.write(ctx, tx, p, store.TxUnlock, 0, -amount, ref)
}

// Settle списывает кредиты и уменьшает бюджет.
// Возвращает фактически списанную сумму.
func (l *Ledger) Settle(ctx context.Context, tx store.Tx, sp SettleParams) (int64, error) {
	p, err := tx.GetParticipantForUpdate(ctx, sp.LeagueID, sp.UserID)
	if err != nil {
		return 0, err
	}
	lockedDelta, err := applySettle(p, sp.Amount, sp.FromLocked)
	if err != nil {
		return 0, err
	}
	if err := l.write(ctx, tx, p, sp.Reason, -sp.Amount, lockedDelta, sp.Ref); err != nil {
		return 0, err
	}
	return sp.Amount, nil
}

// Available возвращает currentBudget − lockedCredits.
func (l *Ledger) Available(ctx context.Context, tx store.Tx, leagueID, userID int64) (int64, error) {
	p, err := tx.GetParticipantForUpdate(ctx, leagueID, userID)
	if err != nil {
		return 0, err
	}
	return p.Available(), nil
}

func (l *Ledger) write(ctx context.Context, tx store.Tx, p *store.Participant, typ store.TxType, amount, lockedDelta int64, ref Ref) error {
	now := l.clock()
	p.UpdatedAt = now
	if err := tx.UpdateParticipant(ctx, p); err != nil {
		return fmt.Errorf("update participant %d: %w", p.UserID, err)
	}
	bt := &store.BudgetTransaction{
		ID:               uuid.New(),
		LeagueID:         p.LeagueID,
		UserID:           p.UserID,
		Type:             typ,
		Amount:           amount,
		LockedDelta:      lockedDelta,
		BalanceAfter:     p.CurrentBudget,
		LockedAfter:      p.LockedCredits,
		RelatedAuctionID: ref.AuctionID,
		RelatedPlayerID:  ref.PlayerID,
		Description:      ref.Description,
		CreatedAt:        now,
	}
	if err := tx.InsertBudgetTransaction(ctx, bt); err != nil {
		return fmt.Errorf("insert budget transaction: %w", err)
	}
	return nil
}

// ---------- арифметика ----------

func applyReserve(p *store.Participant, amount int64) error {
	if amount <= 0 {
		return common.Validation(common.ErrInvalidAmount, "reserve %d", amount)
	}
	if p.Available() < amount {
		return common.Validation(common.ErrInsufficientFunds,
			"need %s, available %s", common.FormatCredits(amount), common.FormatCredits(p.Available()))
	}
	p.LockedCredits += amount
	return nil
}

func applyRelease(p *store.Participant, amount int64) error {
	if amount <= 0 {
		return common.Validation(common.ErrInvalidAmount, "release %d", amount)
	}
	if p.LockedCredits < amount {
		return fmt.Errorf("release %d exceeds locked credits %d of user %d", amount, p.LockedCredits, p.UserID)
	}
	p.LockedCredits -= amount
	return nil
}

func applySettle(p *store.Participant, amount int64, fromLocked bool) (int64, error) {
	if amount <= 0 {
		return 0, common.Validation(common.ErrInvalidAmount, "settle %d", amount)
	}
	if fromLocked {
		if p.LockedCredits < amount {
			return 0, fmt.Errorf("settle %d exceeds locked credits %d of user %d", amount, p.LockedCredits, p.UserID)
		}
		p.LockedCredits -= amount
		p.CurrentBudget -= amount
		return -amount, nil
	}
	if p.Available() < amount {
		return 0, common.Validation(common.ErrInsufficientFunds,
			"need %s, available %s", common.FormatCredits(amount), common.FormatCredits(p.Available()))
	}
	p.CurrentBudget -= amount
	return 0, nil
}

// ---------- сверка ----------

// Discrepancy описывает нарушенный инвариант бюджета.
type Discrepancy struct {
	LeagueID      int64
	UserID        int64
	CurrentBudget int64
	Expected      int64 // стартовый бюджет + Σ amount
	LockedCredits int64
	ExpectedLock  int64 // Σ locked delta
}

func (d Discrepancy) Error() string {
	return fmt.Sprintf("ledger mismatch for user %d in league %d: budget %d (expected %d), locked %d (expected %d)",
		d.UserID, d.LeagueID, d.CurrentBudget, d.Expected, d.LockedCredits, d.ExpectedLock)
}

// Reconcile проигрывает журнал транзакций участника и проверяет
// budget = initial + Σ amount, locked = Σ lockedDelta, 0 <= locked <= budget.
func Reconcile(p *store.Participant, txs []*store.BudgetTransaction) error {
	budget, locked := p.InitialBudget, int64(0)
	for _, t := range txs {
		budget += t.Amount
		locked += t.LockedDelta
	}
	if budget != p.CurrentBudget || locked != p.LockedCredits || locked < 0 || locked > budget {
		return Discrepancy{
			LeagueID:      p.LeagueID,
			UserID:        p.UserID,
			CurrentBudget: p.CurrentBudget,
			Expected:      budget,
			LockedCredits: p.LockedCredits,
			ExpectedLock:  locked,
		}
	}
	return nil
}

// enrollment возвращает строку нового участника лиги.
func enrollment(league *store.League, userID int64, now time.Time) *store.Participant {
	return &store.Participant{
		LeagueID:      league.ID,
		UserID:        userID,
		InitialBudget: league.InitialBudget,
		CurrentBudget: league.InitialBudget,
		UpdatedAt:     now,
	}
}
