// Package memory — реализация store.Store в памяти процесса.
//
// Единицы работы полностью сериализованы одним мьютексом и работают с живым
// состоянием; снимок, сделанный в начале единицы, восстанавливается при ошибке.
// Используется в тестах движка и при локальном запуске в одном процессе.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"serotonyl.ru/draft-auction/internal/common"
	"serotonyl.ru/draft-auction/internal/store"
)

type userKey struct {
	leagueID int64
	userID   int64
}

type engageKey struct {
	auctionID uuid.UUID
	userID    int64
}

type rateKey struct {
	key   string
	start int64
}

type state struct {
	leagues      map[int64]store.League
	players      map[int64]store.Player
	participants map[userKey]store.Participant
	transactions []store.BudgetTransaction
	auctions     map[uuid.UUID]store.Auction
	bids         []store.Bid
	autoBids     map[uuid.UUID]store.AutoBid
	assignments  []store.PlayerAssignment
	timers       map[uuid.UUID]store.ResponseTimer
	cooldowns    map[engageKey]store.Cooldown
	compliance   map[userKey]store.ComplianceStatus
	rateCounters map[rateKey]int
}

func newState() state {
	return state{
		leagues:      make(map[int64]store.League),
		players:      make(map[int64]store.Player),
		participants: make(map[userKey]store.Participant),
		auctions:     make(map[uuid.UUID]store.Auction),
		autoBids:     make(map[uuid.UUID]store.AutoBid),
		timers:       make(map[uuid.UUID]store.ResponseTimer),
		cooldowns:    make(map[engageKey]store.Cooldown),
		compliance:   make(map[userKey]store.ComplianceStatus),
		rateCounters: make(map[rateKey]int),
	}
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s state) clone() state {
	leagues := make(map[int64]store.League, len(s.leagues))
	for id, l := range s.leagues {
		l.ActiveRoles = append([]string(nil), l.ActiveRoles...)
		leagues[id] = l
	}
	return state{
		leagues:      leagues,
		players:      cloneMap(s.players),
		participants: cloneMap(s.participants),
		transactions: append([]store.BudgetTransaction(nil), s.transactions...),
		auctions:     cloneMap(s.auctions),
		bids:         append([]store.Bid(nil), s.bids...),
		autoBids:     cloneMap(s.autoBids),
		assignments:  append([]store.PlayerAssignment(nil), s.assignments...),
		timers:       cloneMap(s.timers),
		cooldowns:    cloneMap(s.cooldowns),
		compliance:   cloneMap(s.compliance),
		rateCounters: cloneMap(s.rateCounters),
	}
}

// Store — хранилище в памяти.
type Store struct {
	mu sync.Mutex
	st state

	// Fault, если задан, вызывается перед каждой записью; ненулевой результат проваливает запись.
	// Тесты так имитируют сбои хранилища на выбранных строках.
	Fault func(op string, key any) error
}

// New возвращает пустое хранилище.
func New() *Store {
	return &Store{st: newState()}
}

// InTx выполняет fn как одну сериализованную единицу и откатывает при ошибке.
func (s *Store) InTx(ctx context.Context, fn func(store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	tx := &memTx{s: s}
	err := fn(tx)
	tx.done = true
	if err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

// AddLeague добавляет лигу.
func (s *Store) AddLeague(l store.League) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l.ActiveRoles = append([]string(nil), l.ActiveRoles...)
	s.st.leagues[l.ID] = l
}

// SetLeagueStage меняет фазу лиги.
func (s *Store) SetLeagueStage(leagueID int64, stage string, roles ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.st.leagues[leagueID]
	l.Stage = stage
	l.ActiveRoles = append([]string(nil), roles...)
	s.st.leagues[leagueID] = l
}

// AddPlayer добавляет игрока.
func (s *Store) AddPlayer(p store.Player) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.players[p.ID] = p
}

// AddParticipant добавляет участника с незаблокированным бюджетом.
func (s *Store) AddParticipant(leagueID, userID, budget int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.participants[userKey{leagueID, userID}] = store.Participant{
		LeagueID:      leagueID,
		UserID:        userID,
		InitialBudget: budget,
		CurrentBudget: budget,
	}
}

// Participant возвращает копию строки участника.
func (s *Store) Participant(leagueID, userID int64) (store.Participant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.st.participants[userKey{leagueID, userID}]
	return p, ok
}

// Auction возвращает копию строки аукциона.
func (s *Store) Auction(id uuid.UUID) (store.Auction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.st.auctions[id]
	return a, ok
}

// Transactions возвращает строки журнала участника в порядке вставки.
func (s *Store) Transactions(leagueID, userID int64) []store.BudgetTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.BudgetTransaction
	for _, t := range s.st.transactions {
		if t.LeagueID == leagueID && t.UserID == userID {
			out = append(out, t)
		}
	}
	return out
}

// Assignments возвращает все закрепления игроков.
func (s *Store) Assignments() []store.PlayerAssignment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]store.PlayerAssignment(nil), s.st.assignments...)
}

// Bids возвращает историю ставок аукциона.
func (s *Store) Bids(auctionID uuid.UUID) []store.Bid {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.Bid
	for _, b := range s.st.bids {
		if b.AuctionID == auctionID {
			out = append(out, b)
		}
	}
	return out
}

// AutoBids возвращает все автоставки аукциона, активные и нет.
func (s *Store) AutoBids(auctionID uuid.UUID) []store.AutoBid {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.AutoBid
	for _, ab := range s.st.autoBids {
		if ab.AuctionID == auctionID {
			out = append(out, ab)
		}
	}
	sortAutoBids(out)
	return out
}

// Timers возвращает таймеры ответа аукциона.
func (s *Store) Timers(auctionID uuid.UUID) []store.ResponseTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.ResponseTimer
	for _, t := range s.st.timers {
		if t.AuctionID == auctionID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Compliance возвращает строку легальности состава.
func (s *Store) Compliance(leagueID, userID int64) (store.ComplianceStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, ok := s.st.compliance[userKey{leagueID, userID}]
	return cs, ok
}

func sortAutoBids(abs []store.AutoBid) {
	sort.Slice(abs, func(i, j int) bool {
		if !abs[i].CreatedAt.Equal(abs[j].CreatedAt) {
			return abs[i].CreatedAt.Before(abs[j].CreatedAt)
		}
		return abs[i].ID.String() < abs[j].ID.String()
	})
}

// memTx работает с состоянием хранилища, пока удерживается его мьютекс.
type memTx struct {
	s    *Store
	done bool
}

func (t *memTx) st() *state {
	if t.done {
		panic("memory: transaction used after completion")
	}
	return &t.s.st
}

func (t *memTx) fault(op string, key any) error {
	if t.s.Fault == nil {
		return nil
	}
	return t.s.Fault(op, key)
}

// ---------- лиги ----------

func (t *memTx) GetLeague(_ context.Context, leagueID int64) (*store.League, error) {
	l, ok := t.st().leagues[leagueID]
	if !ok {
		return nil, common.NotFound("league %d", leagueID)
	}
	l.ActiveRoles = append([]string(nil), l.ActiveRoles...)
	return &l, nil
}

func (t *memTx) ListLeagues(_ context.Context) ([]*store.League, error) {
	var out []*store.League
	for _, l := range t.st().leagues {
		l := l
		l.ActiveRoles = append([]string(nil), l.ActiveRoles...)
		out = append(out, &l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) GetPlayer(_ context.Context, playerID int64) (*store.Player, error) {
	p, ok := t.st().players[playerID]
	if !ok {
		return nil, common.NotFound("player %d", playerID)
	}
	return &p, nil
}

// ---------- бюджет ----------

func (t *memTx) GetParticipantForUpdate(_ context.Context, leagueID, userID int64) (*store.Participant, error) {
	p, ok := t.st().participants[userKey{leagueID, userID}]
	if !ok {
		return nil, common.NotFound("participant %d in league %d", userID, leagueID)
	}
	return &p, nil
}

func (t *memTx) ListParticipants(_ context.Context, leagueID int64) ([]*store.Participant, error) {
	var out []*store.Participant
	for k, p := range t.st().participants {
		if k.leagueID == leagueID {
			p := p
			out = append(out, &p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (t *memTx) InsertParticipant(_ context.Context, p *store.Participant) error {
	if err := t.fault("InsertParticipant", p.UserID); err != nil {
		return err
	}
	k := userKey{p.LeagueID, p.UserID}
	if _, ok := t.st().participants[k]; ok {
		return common.Conflict(nil, "participant %d already enrolled in league %d", p.UserID, p.LeagueID)
	}
	t.st().participants[k] = *p
	return nil
}

func (t *memTx) UpdateParticipant(_ context.Context, p *store.Participant) error {
	if err := t.fault("UpdateParticipant", p.UserID); err != nil {
		return err
	}
	k := userKey{p.LeagueID, p.UserID}
	if _, ok := t.st().participants[k]; !ok {
		return common.NotFound("participant %d in league %d", p.UserID, p.LeagueID)
	}
	t.st().participants[k] = *p
	return nil
}

func (t *memTx) InsertBudgetTransaction(_ context.Context, bt *store.BudgetTransaction) error {
	if err := t.fault("InsertBudgetTransaction", bt.UserID); err != nil {
		return err
	}
	st := t.st()
	st.transactions = append(st.transactions, *bt)
	return nil
}

func (t *memTx) ListBudgetTransactions(_ context.Context, leagueID, userID int64) ([]*store.BudgetTransaction, error) {
	var out []*store.BudgetTransaction
	for _, bt := range t.st().transactions {
		if bt.LeagueID == leagueID && bt.UserID == userID {
			bt := bt
			out = append(out, &bt)
		}
	}
	return out, nil
}

// ---------- аукционы ----------

func (t *memTx) GetAuctionForUpdate(_ context.Context, id uuid.UUID) (*store.Auction, error) {
	a, ok := t.st().auctions[id]
	if !ok {
		return nil, common.NotFound("auction %s", id)
	}
	return &a, nil
}

func (t *memTx) GetOpenAuctionForUpdate(_ context.Context, leagueID, playerID int64) (*store.Auction, error) {
	for _, a := range t.st().auctions {
		if a.LeagueID == leagueID && a.PlayerID == playerID && a.Status.Open() {
			a := a
			return &a, nil
		}
	}
	return nil, common.NotFound("open auction for player %d in league %d", playerID, leagueID)
}

func (t *memTx) InsertAuction(_ context.Context, a *store.Auction) error {
	if err := t.fault("InsertAuction", a.ID); err != nil {
		return err
	}
	for _, other := range t.st().auctions {
		if other.LeagueID == a.LeagueID && other.PlayerID == a.PlayerID && other.Status.Open() {
			return common.Conflict(nil, "player %d already has an open auction", a.PlayerID)
		}
	}
	t.st().auctions[a.ID] = *a
	return nil
}

func (t *memTx) UpdateAuction(_ context.Context, a *store.Auction) error {
	if err := t.fault("UpdateAuction", a.ID); err != nil {
		return err
	}
	if _, ok := t.st().auctions[a.ID]; !ok {
		return common.NotFound("auction %s", a.ID)
	}
	t.st().auctions[a.ID] = *a
	return nil
}

func (t *memTx) ListExpiredAuctionIDs(_ context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	var due []store.Auction
	for _, a := range t.st().auctions {
		if a.Status.Open() && !a.ScheduledEndTime.After(now) {
			due = append(due, a)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].ScheduledEndTime.Equal(due[j].ScheduledEndTime) {
			return due[i].ScheduledEndTime.Before(due[j].ScheduledEndTime)
		}
		return due[i].ID.String() < due[j].ID.String()
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	ids := make([]uuid.UUID, 0, len(due))
	for _, a := range due {
		ids = append(ids, a.ID)
	}
	return ids, nil
}

func (t *memTx) InsertBid(_ context.Context, b *store.Bid) error {
	if err := t.fault("InsertBid", b.AuctionID); err != nil {
		return err
	}
	st := t.st()
	st.bids = append(st.bids, *b)
	return nil
}

func (t *memTx) ListBids(_ context.Context, auctionID uuid.UUID) ([]*store.Bid, error) {
	var out []*store.Bid
	for _, b := range t.st().bids {
		if b.AuctionID == auctionID {
			b := b
			out = append(out, &b)
		}
	}
	return out, nil
}

func (t *memTx) GetActiveAutoBid(_ context.Context, auctionID uuid.UUID, userID int64) (*store.AutoBid, error) {
	for _, ab := range t.st().autoBids {
		if ab.AuctionID == auctionID && ab.UserID == userID && ab.IsActive {
			ab := ab
			return &ab, nil
		}
	}
	return nil, common.NotFound("auto-bid of user %d on auction %s", userID, auctionID)
}

func (t *memTx) ListActiveAutoBids(_ context.Context, auctionID uuid.UUID) ([]*store.AutoBid, error) {
	var rows []store.AutoBid
	for _, ab := range t.st().autoBids {
		if ab.AuctionID == auctionID && ab.IsActive {
			rows = append(rows, ab)
		}
	}
	sortAutoBids(rows)
	out := make([]*store.AutoBid, 0, len(rows))
	for i := range rows {
		out = append(out, &rows[i])
	}
	return out, nil
}

func (t *memTx) InsertAutoBid(_ context.Context, ab *store.AutoBid) error {
	if err := t.fault("InsertAutoBid", ab.AuctionID); err != nil {
		return err
	}
	for _, other := range t.st().autoBids {
		if other.AuctionID == ab.AuctionID && other.UserID == ab.UserID && other.IsActive {
			return common.Conflict(nil, "user %d already has an active auto-bid", ab.UserID)
		}
	}
	t.st().autoBids[ab.ID] = *ab
	return nil
}

func (t *memTx) UpdateAutoBid(_ context.Context, ab *store.AutoBid) error {
	if err := t.fault("UpdateAutoBid", ab.AuctionID); err != nil {
		return err
	}
	if _, ok := t.st().autoBids[ab.ID]; !ok {
		return common.NotFound("auto-bid %s", ab.ID)
	}
	t.st().autoBids[ab.ID] = *ab
	return nil
}

func (t *memTx) DeactivateAutoBids(_ context.Context, auctionID uuid.UUID, now time.Time) (int, error) {
	if err := t.fault("DeactivateAutoBids", auctionID); err != nil {
		return 0, err
	}
	n := 0
	for id, ab := range t.st().autoBids {
		if ab.AuctionID == auctionID && ab.IsActive {
			ab.IsActive = false
			ab.UpdatedAt = now
			t.st().autoBids[id] = ab
			n++
		}
	}
	return n, nil
}

func (t *memTx) InsertAssignment(_ context.Context, pa *store.PlayerAssignment) error {
	if err := t.fault("InsertAssignment", pa.AuctionID); err != nil {
		return err
	}
	st := t.st()
	for _, other := range st.assignments {
		if other.LeagueID == pa.LeagueID && other.PlayerID == pa.PlayerID {
			return common.Conflict(nil, "player %d already assigned", pa.PlayerID)
		}
	}
	st.assignments = append(st.assignments, *pa)
	return nil
}

func (t *memTx) PlayerAssigned(_ context.Context, leagueID, playerID int64) (bool, error) {
	for _, pa := range t.st().assignments {
		if pa.LeagueID == leagueID && pa.PlayerID == playerID {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) RosterCounts(_ context.Context, leagueID, userID int64) (map[string]int, error) {
	st := t.st()
	counts := make(map[string]int)
	for _, pa := range st.assignments {
		if pa.LeagueID == leagueID && pa.UserID == userID {
			counts[st.players[pa.PlayerID].Role]++
		}
	}
	for _, a := range st.auctions {
		if a.LeagueID == leagueID && a.CurrentBidderID == userID && a.Status.Open() {
			counts[st.players[a.PlayerID].Role]++
		}
	}
	return counts, nil
}

// ---------- таймеры ----------

func (t *memTx) GetPendingResponseTimer(_ context.Context, auctionID uuid.UUID, userID int64) (*store.ResponseTimer, error) {
	for _, rt := range t.st().timers {
		if rt.AuctionID == auctionID && rt.UserID == userID && rt.Status == store.TimerPending {
			rt := rt
			return &rt, nil
		}
	}
	return nil, common.NotFound("pending response timer of user %d on auction %s", userID, auctionID)
}

func (t *memTx) GetResponseTimerForUpdate(_ context.Context, id uuid.UUID) (*store.ResponseTimer, error) {
	rt, ok := t.st().timers[id]
	if !ok {
		return nil, common.NotFound("response timer %s", id)
	}
	return &rt, nil
}

func (t *memTx) ListPendingResponseTimers(_ context.Context, auctionID uuid.UUID) ([]*store.ResponseTimer, error) {
	var out []*store.ResponseTimer
	for _, rt := range t.st().timers {
		if rt.AuctionID == auctionID && rt.Status == store.TimerPending {
			rt := rt
			out = append(out, &rt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (t *memTx) ListExpiredResponseTimerIDs(_ context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	var due []store.ResponseTimer
	for _, rt := range t.st().timers {
		if rt.Status == store.TimerPending && !rt.ResponseDeadline.After(now) {
			due = append(due, rt)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].ResponseDeadline.Equal(due[j].ResponseDeadline) {
			return due[i].ResponseDeadline.Before(due[j].ResponseDeadline)
		}
		return due[i].ID.String() < due[j].ID.String()
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	ids := make([]uuid.UUID, 0, len(due))
	for _, rt := range due {
		ids = append(ids, rt.ID)
	}
	return ids, nil
}

func (t *memTx) InsertResponseTimer(_ context.Context, rt *store.ResponseTimer) error {
	if err := t.fault("InsertResponseTimer", rt.UserID); err != nil {
		return err
	}
	t.st().timers[rt.ID] = *rt
	return nil
}

func (t *memTx) UpdateResponseTimer(_ context.Context, rt *store.ResponseTimer) error {
	if err := t.fault("UpdateResponseTimer", rt.ID); err != nil {
		return err
	}
	if _, ok := t.st().timers[rt.ID]; !ok {
		return common.NotFound("response timer %s", rt.ID)
	}
	t.st().timers[rt.ID] = *rt
	return nil
}

func (t *memTx) GetCooldown(_ context.Context, auctionID uuid.UUID, userID int64) (*store.Cooldown, error) {
	c, ok := t.st().cooldowns[engageKey{auctionID, userID}]
	if !ok {
		return nil, common.NotFound("cooldown of user %d on auction %s", userID, auctionID)
	}
	return &c, nil
}

func (t *memTx) UpsertCooldown(_ context.Context, c *store.Cooldown) error {
	if err := t.fault("UpsertCooldown", c.UserID); err != nil {
		return err
	}
	t.st().cooldowns[engageKey{c.AuctionID, c.UserID}] = *c
	return nil
}

// ---------- легальность состава ----------

func (t *memTx) GetComplianceStatusForUpdate(_ context.Context, leagueID, userID int64) (*store.ComplianceStatus, error) {
	cs, ok := t.st().compliance[userKey{leagueID, userID}]
	if !ok {
		return nil, common.NotFound("compliance status of user %d in league %d", userID, leagueID)
	}
	return &cs, nil
}

func (t *memTx) UpsertComplianceStatus(_ context.Context, cs *store.ComplianceStatus) error {
	if err := t.fault("UpsertComplianceStatus", cs.UserID); err != nil {
		return err
	}
	t.st().compliance[userKey{cs.LeagueID, cs.UserID}] = *cs
	return nil
}

func (t *memTx) DeleteComplianceStatus(_ context.Context, leagueID, userID int64) error {
	if err := t.fault("DeleteComplianceStatus", userID); err != nil {
		return err
	}
	delete(t.st().compliance, userKey{leagueID, userID})
	return nil
}

// ---------- ограничение частоты ----------

func (t *memTx) IncrementRateCounter(_ context.Context, key string, windowStart time.Time) (int, error) {
	k := rateKey{key, windowStart.UnixNano()}
	st := t.st()
	st.rateCounters[k]++
	return st.rateCounters[k], nil
}

var _ store.Store = (*Store)(nil)
var _ store.Tx = (*memTx)(nil)
