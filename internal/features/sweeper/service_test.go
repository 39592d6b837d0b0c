package sweeper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"serotonyl.ru/draft-auction/internal/db/memory"
	"serotonyl.ru/draft-auction/internal/features/bidding"
	"serotonyl.ru/draft-auction/internal/features/ledger"
	"serotonyl.ru/draft-auction/internal/features/timers"
	"serotonyl.ru/draft-auction/internal/relay"
	"serotonyl.ru/draft-auction/internal/store"
)

const league int64 = 1

var t0 = time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	st      *memory.Store
	rec     *relay.Recorder
	bidding *bidding.Service
	sweeper *Service
	books   *ledger.Service
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{st: memory.New(), rec: &relay.Recorder{}, now: t0}
	clock := func() time.Time { return f.now }

	f.st.AddLeague(store.League{
		ID:              league,
		Name:            "test",
		Stage:           store.StageAuction,
		ActiveRoles:     []string{"P", "D", "C", "A"},
		InitialBudget:   500,
		MinBid:          1,
		MinIncrement:    1,
		AuctionDuration: time.Hour,
		ResponseWindow:  10 * time.Minute,
	})
	for id := int64(100); id < 103; id++ {
		f.st.AddPlayer(store.Player{ID: id, Name: "player", Role: "A"})
	}
	for _, u := range []int64{1, 2} {
		f.st.AddParticipant(league, u, 500)
	}

	l := ledger.New(clock)
	tm := timers.NewManager(f.st, f.rec, clock, 0)
	f.bidding = bidding.NewService(f.st, l, tm, f.rec, clock)
	f.sweeper = NewService(f.st, l, tm, f.rec, clock, 0)
	f.books = ledger.NewService(f.st, l)
	return f
}

func (f *fixture) place(t *testing.T, req bidding.PlaceBidRequest) *bidding.AuctionSnapshot {
	t.Helper()
	req.LeagueID = league
	if req.Type == "" {
		req.Type = store.BidManual
	}
	snap, err := f.bidding.PlaceBid(context.Background(), req)
	assert.NoError(t, err)
	return snap
}

func TestProcessExpiredAuctions_SellsToLeader(t *testing.T) {
	f := newFixture(t)
	f.place(t, bidding.PlaceBidRequest{PlayerID: 100, UserID: 2, MaxAmount: 90, Type: store.BidAuto})
	snap := f.place(t, bidding.PlaceBidRequest{PlayerID: 100, UserID: 1, Amount: 120, MaxAmount: 200})
	assert.Equal(t, int64(1), snap.CurrentBidderID)
	assert.Equal(t, int64(120), snap.CurrentBid)

	before, _ := f.st.Participant(league, 1)
	check.Equal(t, int64(120), before.LockedCredits)

	f.now = snap.ScheduledEndTime.Add(time.Second)
	res, err := f.sweeper.ProcessExpiredAuctions(context.Background())
	assert.NoError(t, err)
	check.Equal(t, 1, res.ProcessedCount)
	check.Equal(t, 0, res.FailedCount)

	a, ok := f.st.Auction(snap.AuctionID)
	assert.True(t, ok)
	check.Equal(t, store.AuctionSold, a.Status)

	after, _ := f.st.Participant(league, 1)
	check.Equal(t, before.LockedCredits-120, after.LockedCredits)
	check.Equal(t, before.CurrentBudget-120, after.CurrentBudget)

	pas := f.st.Assignments()
	assert.Equal(t, 1, len(pas))
	check.Equal(t, int64(1), pas[0].UserID)
	check.Equal(t, int64(100), pas[0].PlayerID)
	check.Equal(t, int64(120), pas[0].Price)
	check.Equal(t, snap.AuctionID, pas[0].AuctionID)

	for _, ab := range f.st.AutoBids(snap.AuctionID) {
		check.False(t, ab.IsActive)
	}
	for _, rt := range f.st.Timers(snap.AuctionID) {
		check.NotEqual(t, store.TimerPending, rt.Status)
	}

	types := f.rec.Types()
	check.Equal(t, relay.AuctionSold, types[len(types)-1])
	check.NoError(t, f.books.Reconcile(context.Background(), league, 1))
	check.NoError(t, f.books.Reconcile(context.Background(), league, 2))
}

func TestProcessExpiredAuctions_Idempotent(t *testing.T) {
	f := newFixture(t)
	snap := f.place(t, bidding.PlaceBidRequest{PlayerID: 100, UserID: 1, Amount: 30})

	f.now = snap.ScheduledEndTime
	first, err := f.sweeper.ProcessExpiredAuctions(context.Background())
	assert.NoError(t, err)
	check.Equal(t, 1, first.ProcessedCount)

	second, err := f.sweeper.ProcessExpiredAuctions(context.Background())
	assert.NoError(t, err)
	check.Equal(t, 0, second.ProcessedCount)
	check.Equal(t, 0, second.FailedCount)

	p, _ := f.st.Participant(league, 1)
	check.Equal(t, int64(470), p.CurrentBudget)
	check.Equal(t, int64(0), p.LockedCredits)
	check.Equal(t, 1, len(f.st.Assignments()))
}

func TestProcessExpiredAuctions_SkipsOpenAndExtended(t *testing.T) {
	f := newFixture(t)
	snap := f.place(t, bidding.PlaceBidRequest{PlayerID: 100, UserID: 1, Amount: 30})

	f.now = snap.ScheduledEndTime.Add(-time.Second)
	res, err := f.sweeper.ProcessExpiredAuctions(context.Background())
	assert.NoError(t, err)
	check.Equal(t, 0, res.ProcessedCount)

	a, _ := f.st.Auction(snap.AuctionID)
	check.Equal(t, store.AuctionActive, a.Status)
}

func TestProcessExpiredAuctions_PartialFailure(t *testing.T) {
	f := newFixture(t)
	bad := f.place(t, bidding.PlaceBidRequest{PlayerID: 100, UserID: 1, Amount: 40})
	good := f.place(t, bidding.PlaceBidRequest{PlayerID: 101, UserID: 2, Amount: 50})

	f.st.Fault = func(op string, key any) error {
		if op == "InsertAssignment" && key == any(bad.AuctionID) {
			return errors.New("constraint violated")
		}
		return nil
	}
	f.now = t0.Add(2 * time.Hour)
	res, err := f.sweeper.ProcessExpiredAuctions(context.Background())
	assert.NoError(t, err)
	check.Equal(t, 1, res.ProcessedCount)
	check.Equal(t, 1, res.FailedCount)
	assert.Equal(t, 1, len(res.Errors))

	a, _ := f.st.Auction(bad.AuctionID)
	check.Equal(t, store.AuctionActive, a.Status)
	p, _ := f.st.Participant(league, 1)
	check.Equal(t, int64(40), p.LockedCredits)
	check.Equal(t, int64(500), p.CurrentBudget)

	a, _ = f.st.Auction(good.AuctionID)
	check.Equal(t, store.AuctionSold, a.Status)

	f.st.Fault = nil
	res, err = f.sweeper.ProcessExpiredAuctions(context.Background())
	assert.NoError(t, err)
	check.Equal(t, 1, res.ProcessedCount)
	a, _ = f.st.Auction(bad.AuctionID)
	check.Equal(t, store.AuctionSold, a.Status)
	check.NoError(t, f.books.Reconcile(context.Background(), league, 1))
}

func TestProcessExpiredAuctions_NoBidderExpires(t *testing.T) {
	f := newFixture(t)
	id := uuid.New()
	err := f.st.InTx(context.Background(), func(tx store.Tx) error {
		return tx.InsertAuction(context.Background(), &store.Auction{
			ID:               id,
			LeagueID:         league,
			PlayerID:         102,
			ScheduledEndTime: t0,
			Status:           store.AuctionActive,
			CreatedAt:        t0.Add(-time.Hour),
		})
	})
	assert.NoError(t, err)

	res, err := f.sweeper.ProcessExpiredAuctions(context.Background())
	assert.NoError(t, err)
	check.Equal(t, 1, res.ProcessedCount)

	a, _ := f.st.Auction(id)
	check.Equal(t, store.AuctionExpired, a.Status)
	check.Equal(t, 0, len(f.st.Assignments()))
	check.Equal(t, []string{relay.AuctionExpired}, f.rec.Types())
}
