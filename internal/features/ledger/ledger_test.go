package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"serotonyl.ru/draft-auction/internal/common"
	"serotonyl.ru/draft-auction/internal/db/memory"
	"serotonyl.ru/draft-auction/internal/store"
)

var fixedNow = time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

func newLedgerStore(t *testing.T) (*memory.Store, *Ledger) {
	t.Helper()
	st := memory.New()
	st.AddLeague(store.League{ID: 1, Name: "test", Stage: store.StageAuction, InitialBudget: 500})
	st.AddParticipant(1, 10, 500)
	return st, New(fixedClock)
}

func TestApplyReserve(t *testing.T) {
	tests := []struct {
		name     string
		budget   int64
		locked   int64
		amount   int64
		wantErr  error
		wantLock int64
	}{
		{name: "fits", budget: 500, locked: 0, amount: 50, wantLock: 50},
		{name: "exactly available", budget: 500, locked: 450, amount: 50, wantLock: 500},
		{name: "over available", budget: 500, locked: 451, amount: 50, wantErr: common.ErrInsufficientFunds, wantLock: 451},
		{name: "zero", budget: 500, amount: 0, wantErr: common.ErrInvalidAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &store.Participant{CurrentBudget: tt.budget, LockedCredits: tt.locked}
			err := applyReserve(p, tt.amount)
			if tt.wantErr != nil {
				check.True(t, errors.Is(err, tt.wantErr))
				check.True(t, common.IsValidation(err))
			} else {
				check.NoError(t, err)
			}
			check.Equal(t, tt.wantLock, p.LockedCredits)
		})
	}
}

func TestApplySettle(t *testing.T) {
	p := &store.Participant{CurrentBudget: 500, LockedCredits: 120}
	delta, err := applySettle(p, 120, true)
	assert.NoError(t, err)
	check.Equal(t, int64(-120), delta)
	check.Equal(t, int64(380), p.CurrentBudget)
	check.Equal(t, int64(0), p.LockedCredits)

	p = &store.Participant{CurrentBudget: 100, LockedCredits: 90}
	_, err = applySettle(p, 20, false)
	check.True(t, errors.Is(err, common.ErrInsufficientFunds))
	check.Equal(t, int64(100), p.CurrentBudget)

	_, err = applySettle(p, 10, false)
	check.NoError(t, err)
	check.Equal(t, int64(90), p.CurrentBudget)
	check.Equal(t, int64(90), p.LockedCredits)
}

func TestLedger_ReserveReleaseSettle(t *testing.T) {
	ctx := context.Background()
	st, l := newLedgerStore(t)

	err := st.InTx(ctx, func(tx store.Tx) error {
		if err := l.Reserve(ctx, tx, 1, 10, 120, Ref{Description: "bid"}); err != nil {
			return err
		}
		if err := l.Release(ctx, tx, 1, 10, 20, Ref{}); err != nil {
			return err
		}
		_, err := l.Settle(ctx, tx, SettleParams{LeagueID: 1, UserID: 10, Amount: 100, FromLocked: true, Reason: store.TxPurchase})
		return err
	})
	assert.NoError(t, err)

	p, ok := st.Participant(1, 10)
	assert.True(t, ok)
	check.Equal(t, int64(400), p.CurrentBudget)
	check.Equal(t, int64(0), p.LockedCredits)

	txs := st.Transactions(1, 10)
	assert.Equal(t, 3, len(txs))
	check.Equal(t, store.TxLock, txs[0].Type)
	check.Equal(t, store.TxUnlock, txs[1].Type)
	check.Equal(t, store.TxPurchase, txs[2].Type)
	check.Equal(t, int64(-100), txs[2].Amount)
	check.Equal(t, int64(400), txs[2].BalanceAfter)
}

func TestLedger_FailedUnitLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	st, l := newLedgerStore(t)

	err := st.InTx(ctx, func(tx store.Tx) error {
		if err := l.Reserve(ctx, tx, 1, 10, 400, Ref{}); err != nil {
			return err
		}
		return l.Reserve(ctx, tx, 1, 10, 200, Ref{})
	})
	check.True(t, errors.Is(err, common.ErrInsufficientFunds))

	p, _ := st.Participant(1, 10)
	check.Equal(t, int64(0), p.LockedCredits)
	check.Equal(t, 0, len(st.Transactions(1, 10)))
}

func TestService_EnrollAndReconcile(t *testing.T) {
	ctx := context.Background()
	st, l := newLedgerStore(t)
	svc := NewService(st, l)

	b, err := svc.Enroll(ctx, 1, 11)
	assert.NoError(t, err)
	check.Equal(t, int64(500), b.Available)

	_, err = svc.Enroll(ctx, 1, 11)
	check.True(t, common.IsConflict(err))

	_, err = svc.Enroll(ctx, 2, 11)
	check.True(t, common.IsNotFound(err))

	err = st.InTx(ctx, func(tx store.Tx) error {
		if err := l.Reserve(ctx, tx, 1, 11, 50, Ref{}); err != nil {
			return err
		}
		_, err := l.Settle(ctx, tx, SettleParams{LeagueID: 1, UserID: 11, Amount: 5, Reason: store.TxPenalty})
		return err
	})
	assert.NoError(t, err)
	check.NoError(t, svc.Reconcile(ctx, 1, 11))

	b, err = svc.GetBalance(ctx, 1, 11)
	assert.NoError(t, err)
	check.Equal(t, int64(495), b.CurrentBudget)
	check.Equal(t, int64(50), b.LockedCredits)
	check.Equal(t, int64(445), b.Available)
}

func TestReconcile_DetectsTamperedRow(t *testing.T) {
	p := &store.Participant{InitialBudget: 500, CurrentBudget: 480, LockedCredits: 0}
	txs := []*store.BudgetTransaction{{Type: store.TxPenalty, Amount: -10}}
	err := Reconcile(p, txs)
	var d Discrepancy
	assert.True(t, errors.As(err, &d))
	check.Equal(t, int64(490), d.Expected)
}
