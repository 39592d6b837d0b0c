// Package bidding — service.go принимает ставку и фиксирует вызванный ею каскад.
package bidding

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/draft-auction/internal/common"
	"serotonyl.ru/draft-auction/internal/features/ledger"
	"serotonyl.ru/draft-auction/internal/features/timers"
	"serotonyl.ru/draft-auction/internal/relay"
	"serotonyl.ru/draft-auction/internal/store"
)

// Service обрабатывает ставки.
type Service struct {
	store  store.Store
	ledger *ledger.Ledger
	timers *timers.Manager
	relay  relay.Publisher
	clock  common.Clock
}

// NewService создаёт обработчик ставок.
//
// Параметры:
//   - st: хранилище с транзакциями
//   - l: бюджетная книга
//   - tm: менеджер таймеров ответа (открывает таймеры перебитым участникам)
//   - pub: получатель событий после коммита; nil отключает события
//   - clock: источник времени; nil означает системные часы
func NewService(st store.Store, l *ledger.Ledger, tm *timers.Manager, pub relay.Publisher, clock common.Clock) *Service {
	if pub == nil {
		pub = relay.Nop{}
	}
	return &Service{store: st, ledger: l, timers: tm, relay: pub, clock: clock.OrSystem()}
}

// PlaceBid принимает одну ставку, проводит каскад автоставок и записывает
// аукцион, ставки, автоставки, движения бюджета и таймеры одной единицей работы.
//
// Возвращает:
//   - *AuctionSnapshot: зафиксированное состояние аукциона
//   - ValidationError: ставка мала, не хватает кредитов, аукцион закрыт
//   - ConflictError: аукцион ушёл дальше ExpectedBid или гонка за создание аукциона
//
// При ошибке ничего не записывается.
func (s *Service) PlaceBid(ctx context.Context, req PlaceBidRequest) (*AuctionSnapshot, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	var (
		snap   AuctionSnapshot
		events []relay.Event
	)
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		r := &round{svc: s, tx: tx, req: req, now: s.clock()}
		if err := r.run(ctx); err != nil {
			return err
		}
		snap = r.snapshot
		events = r.events
		return nil
	})
	if err != nil {
		log.WithFields(log.Fields{
			"league": req.LeagueID,
			"player": req.PlayerID,
			"user":   req.UserID,
			"type":   req.Type,
			"kind":   common.KindOf(err),
		}).WithError(err).Info("bid rejected")
		return nil, err
	}

	for _, ev := range events {
		s.relay.Publish(ev)
	}
	log.WithFields(log.Fields{
		"auction": snap.AuctionID,
		"user":    req.UserID,
		"bid":     snap.CurrentBid,
		"leader":  snap.CurrentBidderID,
		"steps":   len(snap.Bids),
	}).Info("bid accepted")
	return &snap, nil
}

func validateRequest(req PlaceBidRequest) error {
	if !req.Type.Valid() {
		return common.Invalid("unknown bid type %q", req.Type)
	}
	if req.LeagueID <= 0 || req.PlayerID <= 0 || req.UserID <= 0 {
		return common.Invalid("league, player and user are required")
	}
	if req.MaxAmount < 0 {
		return common.Validation(common.ErrInvalidAmount, "max amount %d", req.MaxAmount)
	}
	switch req.Type {
	case store.BidManual:
		if req.Amount <= 0 {
			return common.Validation(common.ErrInvalidAmount, "amount %d", req.Amount)
		}
		if req.MaxAmount > 0 && req.MaxAmount < req.Amount {
			return common.Invalid("max amount %d is below the bid %d", req.MaxAmount, req.Amount)
		}
	case store.BidAuto:
		if req.MaxAmount <= 0 {
			return common.Invalid("auto bid needs a max amount")
		}
	}
	return nil
}

// round — состояние одной единицы работы PlaceBid.
type round struct {
	svc *Service
	tx  store.Tx
	req PlaceBidRequest
	now time.Time

	league  *store.League
	auction *store.Auction
	created bool
	written []store.Bid
	engaged []int64 // кто лидировал или чью автоставку перебили за раунд

	snapshot AuctionSnapshot
	events   []relay.Event
}

func (r *round) run(ctx context.Context) error {
	tx, req := r.tx, r.req

	league, err := tx.GetLeague(ctx, req.LeagueID)
	if err != nil {
		return err
	}
	if !league.BiddingOpen() {
		return common.Validation(common.ErrAuctionClosed, "league %d is in stage %s", league.ID, league.Stage)
	}
	player, err := tx.GetPlayer(ctx, req.PlayerID)
	if err != nil {
		return err
	}
	if !league.RoleActive(player.Role) {
		return common.Validation(common.ErrRoleClosed, "role %s", player.Role)
	}
	r.league = league

	if err := r.loadAuction(ctx); err != nil {
		return err
	}
	a := r.auction
	if !a.Status.Open() || !r.now.Before(a.ScheduledEndTime) {
		return common.Validation(common.ErrAuctionClosed, "auction %s", a.ID)
	}
	if req.ExpectedBid != nil && *req.ExpectedBid != a.CurrentBid {
		return common.Conflict(nil, "auction %s moved to %d, expected %d", a.ID, a.CurrentBid, *req.ExpectedBid)
	}
	if !r.created {
		if err := r.svc.timers.CheckCooldown(ctx, tx, a.ID, req.UserID); err != nil {
			return err
		}
	}

	bidder, err := r.lockParticipants(ctx)
	if err != nil {
		return err
	}

	if a.HasLeader() {
		r.engaged = append(r.engaged, a.CurrentBidderID)
	}

	if a.CurrentBidderID == req.UserID {
		if err := r.raiseCeiling(ctx, bidder); err != nil {
			return err
		}
	} else if err := r.admit(ctx, bidder); err != nil {
		return err
	}

	if err := r.cascade(ctx); err != nil {
		return err
	}
	if err := r.resolveTimers(ctx); err != nil {
		return err
	}

	if len(r.written) > 0 && a.ScheduledEndTime.Sub(r.now) < league.SoftClose {
		a.ScheduledEndTime = r.now.Add(league.SoftClose)
		a.Status = store.AuctionClosing
	}
	a.UpdatedAt = r.now
	if err := tx.UpdateAuction(ctx, a); err != nil {
		return fmt.Errorf("update auction: %w", err)
	}

	available, err := r.svc.ledger.Available(ctx, tx, req.LeagueID, req.UserID)
	if err != nil {
		return err
	}
	r.snapshot = snapshotOf(a)
	r.snapshot.Created = r.created
	r.snapshot.Bids = r.written
	r.snapshot.Available = available
	r.collectEvents()
	return nil
}

// loadAuction блокирует открытый аукцион по игроку или создаёт новый.
func (r *round) loadAuction(ctx context.Context) error {
	a, err := r.tx.GetOpenAuctionForUpdate(ctx, r.req.LeagueID, r.req.PlayerID)
	if err == nil {
		r.auction = a
		return nil
	}
	if !common.IsNotFound(err) {
		return err
	}

	assigned, err := r.tx.PlayerAssigned(ctx, r.req.LeagueID, r.req.PlayerID)
	if err != nil {
		return err
	}
	if assigned {
		return common.Validation(common.ErrAuctionClosed, "player %d already assigned", r.req.PlayerID)
	}
	a = &store.Auction{
		ID:               uuid.New(),
		LeagueID:         r.req.LeagueID,
		PlayerID:         r.req.PlayerID,
		ScheduledEndTime: r.now.Add(r.league.AuctionDuration),
		Status:           store.AuctionActive,
		CreatedAt:        r.now,
		UpdatedAt:        r.now,
	}
	if err := r.tx.InsertAuction(ctx, a); err != nil {
		return err
	}
	r.auction = a
	r.created = true
	return nil
}

// lockParticipants блокирует ставящего, лидера и владельцев автоставок
// по возрастанию user ID и возвращает ставящего.
func (r *round) lockParticipants(ctx context.Context) (*store.Participant, error) {
	ids := []int64{r.req.UserID}
	if r.auction.HasLeader() {
		ids = append(ids, r.auction.CurrentBidderID)
	}
	if !r.created {
		abs, err := r.tx.ListActiveAutoBids(ctx, r.auction.ID)
		if err != nil {
			return nil, err
		}
		for _, ab := range abs {
			ids = append(ids, ab.UserID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var (
		bidder *store.Participant
		prev   int64
	)
	for _, id := range ids {
		if id == prev {
			continue
		}
		prev = id
		p, err := r.tx.GetParticipantForUpdate(ctx, r.req.LeagueID, id)
		if err != nil {
			return nil, err
		}
		if id == r.req.UserID {
			bidder = p
		}
	}
	return bidder, nil
}

// minimum — минимальная допустимая ставка сейчас.
func (r *round) minimum() int64 {
	if !r.auction.HasLeader() {
		return max(r.league.MinBid, 1)
	}
	return r.auction.CurrentBid + max(r.league.MinIncrement, 1)
}

// raiseCeiling обрабатывает ставку лидера: меняться может только потолок автоставки.
func (r *round) raiseCeiling(ctx context.Context, bidder *store.Participant) error {
	if r.req.Type != store.BidAuto {
		return common.Validation(common.ErrAlreadyLeading, "auction %s", r.auction.ID)
	}
	if r.req.MaxAmount < r.auction.CurrentBid {
		return common.Invalid("max amount %d is below your current bid %d", r.req.MaxAmount, r.auction.CurrentBid)
	}
	capacity := bidder.Available() + r.auction.CurrentBid
	if r.req.MaxAmount > capacity {
		return common.Validation(common.ErrInsufficientFunds,
			"ceiling %s, capacity %s", common.FormatCredits(r.req.MaxAmount), common.FormatCredits(capacity))
	}
	return r.upsertAutoBid(ctx, r.req.MaxAmount)
}

// admit проверяет и применяет ставку участника, который не лидирует.
func (r *round) admit(ctx context.Context, bidder *store.Participant) error {
	minimum := r.minimum()
	amount := minimum
	if r.req.Type == store.BidManual {
		amount = r.req.Amount
	}
	if amount < minimum {
		return common.Validation(common.ErrBidTooLow, "minimum is %s", common.FormatCredits(minimum))
	}

	need := max(amount, r.req.MaxAmount)
	if r.req.Type == store.BidAuto && r.req.MaxAmount < minimum {
		return common.Validation(common.ErrBidTooLow, "ceiling %d, minimum is %s", r.req.MaxAmount, common.FormatCredits(minimum))
	}
	if bidder.Available() < need {
		return common.Validation(common.ErrInsufficientFunds,
			"need %s, available %s", common.FormatCredits(need), common.FormatCredits(bidder.Available()))
	}

	if r.req.MaxAmount > 0 {
		if err := r.upsertAutoBid(ctx, r.req.MaxAmount); err != nil {
			return err
		}
	}
	return r.apply(ctx, Step{UserID: r.req.UserID, Amount: amount, Displaced: r.auction.CurrentBidderID}, r.req.Type)
}

// upsertAutoBid записывает потолок ставящего. Существующая автоставка сохраняет
// время создания, а с ним и приоритет при равных потолках.
func (r *round) upsertAutoBid(ctx context.Context, maxAmount int64) error {
	ab, err := r.tx.GetActiveAutoBid(ctx, r.auction.ID, r.req.UserID)
	switch {
	case err == nil:
		ab.MaxAmount = maxAmount
		ab.UpdatedAt = r.now
		return r.tx.UpdateAutoBid(ctx, ab)
	case common.IsNotFound(err):
		return r.tx.InsertAutoBid(ctx, &store.AutoBid{
			ID:        uuid.New(),
			AuctionID: r.auction.ID,
			UserID:    r.req.UserID,
			MaxAmount: maxAmount,
			IsActive:  true,
			CreatedAt: r.now,
			UpdatedAt: r.now,
		})
	default:
		return err
	}
}

// apply передаёт лидерство step.UserID: блокировка прежнего лидера снимается,
// новая сумма блокируется, ставка записывается.
func (r *round) apply(ctx context.Context, step Step, typ store.BidType) error {
	a := r.auction
	if step.Amount < a.CurrentBid {
		return fmt.Errorf("bid %d below current bid %d on auction %s", step.Amount, a.CurrentBid, a.ID)
	}
	if a.HasLeader() {
		ref := ledger.AuctionRef(a, "outbid")
		if a.CurrentBidderID == step.UserID {
			ref.Description = "raised"
		}
		if err := r.svc.ledger.Release(ctx, r.tx, a.LeagueID, a.CurrentBidderID, a.CurrentBid, ref); err != nil {
			return err
		}
	}
	if err := r.svc.ledger.Reserve(ctx, r.tx, a.LeagueID, step.UserID, step.Amount, ledger.AuctionRef(a, string(typ)+" bid")); err != nil {
		return err
	}

	b := store.Bid{
		ID:        uuid.New(),
		AuctionID: a.ID,
		UserID:    step.UserID,
		Amount:    step.Amount,
		Type:      typ,
		CreatedAt: r.now,
	}
	if err := r.tx.InsertBid(ctx, &b); err != nil {
		return fmt.Errorf("insert bid: %w", err)
	}
	r.written = append(r.written, b)

	a.CurrentBid = step.Amount
	a.CurrentBidderID = step.UserID
	r.engaged = append(r.engaged, step.UserID)
	return nil
}

// cascade поднимает активные автоставки за их владельцев, пока ни одна не может
// перебить текущую ставку, и закрывает оставшиеся позади.
func (r *round) cascade(ctx context.Context) error {
	a := r.auction
	abs, err := r.tx.ListActiveAutoBids(ctx, a.ID)
	if err != nil {
		return err
	}
	if len(abs) == 0 {
		return nil
	}

	contenders := make([]Contender, 0, len(abs))
	owners := make(map[uuid.UUID]*store.AutoBid, len(abs))
	for _, ab := range abs {
		available, err := r.svc.ledger.Available(ctx, r.tx, a.LeagueID, ab.UserID)
		if err != nil {
			return err
		}
		capacity := available
		if ab.UserID == a.CurrentBidderID {
			capacity += a.CurrentBid
		}
		contenders = append(contenders, Contender{
			AutoBidID: ab.ID,
			UserID:    ab.UserID,
			MaxAmount: ab.MaxAmount,
			Capacity:  capacity,
			CreatedAt: ab.CreatedAt,
		})
		owners[ab.ID] = ab
	}

	res := Resolve(Standing{LeaderID: a.CurrentBidderID, CurrentBid: a.CurrentBid}, contenders, r.league.MinIncrement)
	for _, step := range res.Steps {
		if err := r.apply(ctx, step, store.BidAuto); err != nil {
			return fmt.Errorf("auto bid for user %d: %w", step.UserID, err)
		}
	}
	for _, id := range res.Exhausted {
		ab := owners[id]
		ab.IsActive = false
		ab.UpdatedAt = r.now
		if err := r.tx.UpdateAutoBid(ctx, ab); err != nil {
			return err
		}
		r.engaged = append(r.engaged, ab.UserID)
	}
	return nil
}

// resolveTimers закрывает таймеры ставящего и итогового лидера и открывает
// таймер каждому, кого перебили за раунд.
func (r *round) resolveTimers(ctx context.Context) error {
	a := r.auction
	tm := r.svc.timers
	if _, err := tm.Complete(ctx, r.tx, a.ID, r.req.UserID); err != nil {
		return err
	}
	if a.CurrentBidderID != r.req.UserID {
		if _, err := tm.Complete(ctx, r.tx, a.ID, a.CurrentBidderID); err != nil {
			return err
		}
	}
	if len(r.written) == 0 {
		return nil
	}

	seen := map[int64]bool{a.CurrentBidderID: true}
	for _, uid := range r.engaged {
		if seen[uid] || uid == 0 {
			continue
		}
		seen[uid] = true
		if err := tm.Open(ctx, r.tx, a, uid, r.league.ResponseWindow); err != nil {
			return err
		}
	}
	return nil
}

func (r *round) collectEvents() {
	if len(r.written) == 0 {
		return
	}
	a := r.auction
	typ := relay.AuctionUpdated
	if r.created {
		typ = relay.AuctionCreated
	}
	ev := relay.NewEvent(typ, a.LeagueID, r.now).WithAuction(a.ID, a.PlayerID)
	ev.UserID = a.CurrentBidderID
	ev.Amount = a.CurrentBid
	ev.Status = string(a.Status)
	r.events = append(r.events, ev)
}
