package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"serotonyl.ru/draft-auction/internal/common"
	"serotonyl.ru/draft-auction/internal/config"
	"serotonyl.ru/draft-auction/internal/db/memory"
	"serotonyl.ru/draft-auction/internal/features/bidding"
	"serotonyl.ru/draft-auction/internal/features/compliance"
	"serotonyl.ru/draft-auction/internal/features/ledger"
	"serotonyl.ru/draft-auction/internal/features/sweeper"
	"serotonyl.ru/draft-auction/internal/features/timers"
	"serotonyl.ru/draft-auction/internal/ratelimit"
	"serotonyl.ru/draft-auction/internal/relay"
	"serotonyl.ru/draft-auction/internal/store"
)

var (
	t0 = time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	// Дешёвые параметры, чтобы тесты шли быстро.
	testParams = PasswordParams{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 8, KeyLength: 16}
)

type fixture struct {
	st      *memory.Store
	handler http.Handler
	now     time.Time
}

func newFixture(t *testing.T, limiter ratelimit.Limiter) *fixture {
	t.Helper()
	f := &fixture{st: memory.New(), now: t0}
	clock := func() time.Time { return f.now }

	f.st.AddLeague(store.League{
		ID:              1,
		Name:            "test",
		Stage:           store.StageAuction,
		ActiveRoles:     []string{"P", "D", "C", "A"},
		InitialBudget:   500,
		MinBid:          1,
		MinIncrement:    1,
		AuctionDuration: time.Hour,
		ResponseWindow:  30 * time.Minute,
		AbandonCooldown: time.Hour,
		ComplianceGrace: time.Hour,
		PenaltyInterval: time.Hour,
		PenaltyAmount:   5,
	})
	f.st.AddPlayer(store.Player{ID: 100, Name: "Striker", Role: "A"})
	f.st.AddParticipant(1, 1, 500)
	f.st.AddParticipant(1, 2, 500)

	hash, err := HashPassword("s3cret", testParams)
	assert.NoError(t, err)

	rec := &relay.Recorder{}
	l := ledger.New(clock)
	tm := timers.NewManager(f.st, rec, clock, 0)
	srv := NewServer(":0", Deps{
		Bidding:           bidding.NewService(f.st, l, tm, rec, clock),
		Timers:            tm,
		Sweeper:           sweeper.NewService(f.st, l, tm, rec, clock, 0),
		Compliance:        compliance.NewService(f.st, l, config.DefaultRules(), rec, clock),
		Ledger:            ledger.NewService(f.st, l),
		Limiter:           limiter,
		AdminPasswordHash: hash,
	})
	f.handler = srv.Handler()
	return f
}

func (f *fixture) do(t *testing.T, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		assert.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) admin(t *testing.T, path, password string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, nil)
	if password != "" {
		req.SetBasicAuth(AdminUser, password)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	assert.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodGet, "/healthz", "", nil)
	check.Equal(t, http.StatusOK, rec.Code)
}

func TestPlaceBid(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/leagues/1/players/100/bids", "1", map[string]any{"amount": 50})
	assert.Equal(t, http.StatusCreated, rec.Code)
	snap := decodeBody[bidding.AuctionSnapshot](t, rec)
	check.Equal(t, int64(50), snap.CurrentBid)
	check.Equal(t, int64(1), snap.CurrentBidderID)
	check.Equal(t, int64(450), snap.Available)

	rec = f.do(t, http.MethodPost, "/leagues/1/players/100/bids", "2", map[string]any{"type": "quick"})
	assert.Equal(t, http.StatusOK, rec.Code)
	snap = decodeBody[bidding.AuctionSnapshot](t, rec)
	check.Equal(t, int64(51), snap.CurrentBid)

	rec = f.do(t, http.MethodGet, "/leagues/1/participants/1/balance", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	bal := decodeBody[ledger.Balance](t, rec)
	check.Equal(t, int64(0), bal.LockedCredits)
	check.Equal(t, int64(500), bal.Available)
}

func TestPlaceBid_Errors(t *testing.T) {
	f := newFixture(t, nil)
	f.do(t, http.MethodPost, "/leagues/1/players/100/bids", "1", map[string]any{"amount": 50})

	tests := []struct {
		name   string
		path   string
		user   string
		body   any
		status int
		kind   common.Kind
	}{
		{name: "no user", path: "/leagues/1/players/100/bids", body: map[string]any{"amount": 60}, status: http.StatusBadRequest, kind: common.KindValidation},
		{name: "too low", path: "/leagues/1/players/100/bids", user: "2", body: map[string]any{"amount": 50}, status: http.StatusBadRequest, kind: common.KindValidation},
		{name: "too expensive", path: "/leagues/1/players/100/bids", user: "2", body: map[string]any{"amount": 501}, status: http.StatusBadRequest, kind: common.KindValidation},
		{name: "stale state", path: "/leagues/1/players/100/bids", user: "2", body: map[string]any{"amount": 60, "expectedBid": 10}, status: http.StatusConflict, kind: common.KindConflict},
		{name: "unknown league", path: "/leagues/9/players/100/bids", user: "2", body: map[string]any{"amount": 60}, status: http.StatusNotFound, kind: common.KindNotFound},
		{name: "unknown field", path: "/leagues/1/players/100/bids", user: "2", body: map[string]any{"amount": 60, "price": 1}, status: http.StatusBadRequest, kind: common.KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, tt.path, tt.user, tt.body)
			check.Equal(t, tt.status, rec.Code)
			body := decodeBody[errorBody](t, rec)
			check.Equal(t, string(tt.kind), body.Kind)
		})
	}
}

func TestAbandon(t *testing.T) {
	f := newFixture(t, nil)
	f.do(t, http.MethodPost, "/leagues/1/players/100/bids", "1", map[string]any{"amount": 50})

	rec := f.do(t, http.MethodPost, "/leagues/1/players/100/abandon", "1", nil)
	check.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/leagues/1/players/100/abandon", "2", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	res := decodeBody[timers.AbandonResult](t, rec)
	check.Equal(t, t0.Add(time.Hour), res.CooldownUntil)

	rec = f.do(t, http.MethodPost, "/leagues/1/players/100/bids", "2", map[string]any{"amount": 60})
	check.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminRoutes(t *testing.T) {
	f := newFixture(t, nil)
	f.do(t, http.MethodPost, "/leagues/1/players/100/bids", "1", map[string]any{"amount": 50})

	check.Equal(t, http.StatusUnauthorized, f.admin(t, "/admin/sweeps/auctions", "").Code)
	check.Equal(t, http.StatusUnauthorized, f.admin(t, "/admin/sweeps/auctions", "wrong").Code)
	check.Equal(t, http.StatusNotFound, f.admin(t, "/admin/sweeps/everything", "s3cret").Code)

	f.now = t0.Add(2 * time.Hour)
	rec := f.admin(t, "/admin/sweeps/auctions", "s3cret")
	assert.Equal(t, http.StatusOK, rec.Code)
	res := decodeBody[common.BatchResult](t, rec)
	check.Equal(t, 1, res.ProcessedCount)
	check.Equal(t, 0, res.FailedCount)

	p, _ := f.st.Participant(1, 1)
	check.Equal(t, int64(450), p.CurrentBudget)

	check.Equal(t, http.StatusOK, f.admin(t, "/admin/sweeps/response-timers", "s3cret").Code)
	check.Equal(t, http.StatusOK, f.admin(t, "/admin/sweeps/compliance", "s3cret").Code)
	check.Equal(t, http.StatusOK, f.admin(t, "/admin/leagues/1/participants/1/reconcile", "s3cret").Code)
}

func TestAdminEnrollAndCompliance(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.admin(t, "/admin/leagues/1/participants/3", "s3cret")
	assert.Equal(t, http.StatusCreated, rec.Code)
	bal := decodeBody[ledger.Balance](t, rec)
	check.Equal(t, int64(500), bal.Available)
	check.Equal(t, http.StatusConflict, f.admin(t, "/admin/leagues/1/participants/3", "s3cret").Code)

	rec = f.admin(t, "/admin/leagues/1/participants/3/compliance", "s3cret")
	assert.Equal(t, http.StatusOK, rec.Code)
	res := decodeBody[compliance.Result](t, rec)
	check.False(t, res.Compliant)
	check.Equal(t, "auction:A,C,D,P", res.PhaseIdentifier)

	check.Equal(t, http.StatusNotFound, f.admin(t, "/admin/leagues/1/participants/99/compliance", "s3cret").Code)
}

func TestPlaceBid_RateLimited(t *testing.T) {
	limiter := ratelimit.NewLocal(1, time.Minute, nil)
	defer limiter.Close()
	f := newFixture(t, limiter)

	check.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/leagues/1/players/100/bids", "1", map[string]any{"amount": 5}).Code)
	check.Equal(t, http.StatusTooManyRequests, f.do(t, http.MethodPost, "/leagues/1/players/100/bids", "1", map[string]any{"amount": 6}).Code)
	check.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/leagues/1/players/100/bids", "2", map[string]any{"amount": 6}).Code)
}

func TestVerifyPassword(t *testing.T) {
	hash, err := HashPassword("correct horse", testParams)
	assert.NoError(t, err)
	check.True(t, VerifyPassword("correct horse", hash))
	check.False(t, VerifyPassword("battery staple", hash))
	check.False(t, VerifyPassword("correct horse", "$argon2i$v=19$m=1024,t=1,p=1$c2FsdA$aGFzaA"))
	check.False(t, VerifyPassword("correct horse", "not-a-hash"))

	other, err := HashPassword("correct horse", testParams)
	assert.NoError(t, err)
	check.NotEqual(t, hash, other)
}

func TestStatusOf(t *testing.T) {
	check.Equal(t, http.StatusBadRequest, statusOf(common.Validation(common.ErrBidTooLow, "x")))
	check.Equal(t, http.StatusConflict, statusOf(common.Conflict(nil, "x")))
	check.Equal(t, http.StatusNotFound, statusOf(common.NotFound("x")))
	check.Equal(t, http.StatusInternalServerError, statusOf(common.Internal(errBoom)))
}

var errBoom = errorString("boom")

type errorString string

func (e errorString) Error() string { return string(e) }
