package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/draft-auction/internal/api/middleware"
	"serotonyl.ru/draft-auction/internal/common"
	"serotonyl.ru/draft-auction/internal/features/bidding"
	"serotonyl.ru/draft-auction/internal/store"
)

// bidBody — JSON-тело ставки. Тип по умолчанию manual.
type bidBody struct {
	Amount      int64         `json:"amount"`
	Type        store.BidType `json:"type"`
	MaxAmount   int64         `json:"maxAmount"`
	ExpectedBid *int64        `json:"expectedBid"`
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if s.Ping != nil {
		if err := s.Ping(r.Context()); err != nil {
			log.WithError(err).Warn("health check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) placeBid(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r)
	if !ok {
		writeError(w, common.Invalid("missing or invalid %s header", middleware.UserHeader))
		return
	}
	leagueID, playerID, err := pathIDs(r, "league", "player")
	if err != nil {
		writeError(w, err)
		return
	}
	var body bidBody
	if err := decode(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if body.Type == "" {
		body.Type = store.BidManual
	}

	snap, err := s.Bidding.PlaceBid(r.Context(), bidding.PlaceBidRequest{
		LeagueID:    leagueID,
		PlayerID:    playerID,
		UserID:      userID,
		Amount:      body.Amount,
		Type:        body.Type,
		MaxAmount:   body.MaxAmount,
		ExpectedBid: body.ExpectedBid,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusOK
	if snap.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, snap)
}

func (s *Server) abandon(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r)
	if !ok {
		writeError(w, common.Invalid("missing or invalid %s header", middleware.UserHeader))
		return
	}
	leagueID, playerID, err := pathIDs(r, "league", "player")
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := s.Timers.AbandonAuction(r.Context(), userID, leagueID, playerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) balance(w http.ResponseWriter, r *http.Request) {
	leagueID, userID, err := pathIDs(r, "league", "user")
	if err != nil {
		writeError(w, err)
		return
	}
	b, err := s.Ledger.GetBalance(r.Context(), leagueID, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) sweep(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["sweep"]
	run, ok := s.sweeps[name]
	if !ok {
		writeError(w, common.NotFound("sweep %q", name))
		return
	}
	res, err := run(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	log.WithFields(log.Fields{
		"sweep":     name,
		"processed": res.ProcessedCount,
		"failed":    res.FailedCount,
	}).Info("sweep triggered on demand")
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) enroll(w http.ResponseWriter, r *http.Request) {
	leagueID, userID, err := pathIDs(r, "league", "user")
	if err != nil {
		writeError(w, err)
		return
	}
	b, err := s.Ledger.Enroll(r.Context(), leagueID, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (s *Server) compliance(w http.ResponseWriter, r *http.Request) {
	leagueID, userID, err := pathIDs(r, "league", "user")
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := s.Compliance.ProcessUserComplianceAndPenalties(r.Context(), leagueID, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) reconcile(w http.ResponseWriter, r *http.Request) {
	leagueID, userID, err := pathIDs(r, "league", "user")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.Ledger.Reconcile(r.Context(), leagueID, userID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "consistent"})
}

func pathIDs(r *http.Request, a, b string) (int64, int64, error) {
	vars := mux.Vars(r)
	first, err := strconv.ParseInt(vars[a], 10, 64)
	if err != nil {
		return 0, 0, common.Invalid("bad %s id %q", a, vars[a])
	}
	second, err := strconv.ParseInt(vars[b], 10, 64)
	if err != nil {
		return 0, 0, common.Invalid("bad %s id %q", b, vars[b])
	}
	return first, second, nil
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return common.Invalid("malformed request body: %v", err)
	}
	return nil
}

// statusOf переводит виды ошибок в HTTP-коды.
func statusOf(err error) int {
	switch common.KindOf(err) {
	case common.KindValidation:
		return http.StatusBadRequest
	case common.KindConflict:
		return http.StatusConflict
	case common.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	body := errorBody{Error: err.Error(), Kind: string(common.KindOf(err))}
	if status == http.StatusInternalServerError {
		log.WithError(err).Error("request failed")
		body.Error = "internal error"
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Debug(fmt.Sprintf("failed to write %d response", status))
	}
}
