// Package api открывает движок по HTTP.
//
// Публичные маршруты узнают пользователя по заголовку X-User-ID; личность
// проверяется выше по цепочке. Админские маршруты запускают проходы по
// требованию и требуют basic auth.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/draft-auction/internal/api/middleware"
	"serotonyl.ru/draft-auction/internal/common"
	"serotonyl.ru/draft-auction/internal/features/bidding"
	"serotonyl.ru/draft-auction/internal/features/compliance"
	"serotonyl.ru/draft-auction/internal/features/ledger"
	"serotonyl.ru/draft-auction/internal/features/sweeper"
	"serotonyl.ru/draft-auction/internal/features/timers"
	"serotonyl.ru/draft-auction/internal/ratelimit"
)

// Deps — компоненты движка за маршрутами.
type Deps struct {
	Bidding    *bidding.Service
	Timers     *timers.Manager
	Sweeper    *sweeper.Service
	Compliance *compliance.Service
	Ledger     *ledger.Service
	// Limiter ограничивает частоту ставок пользователя. nil отключает ограничение.
	Limiter ratelimit.Limiter
	// Ping обслуживает /healthz. nil означает "здоров".
	Ping              func(ctx context.Context) error
	AdminPasswordHash string
}

// Server направляет HTTP-запросы в движок.
type Server struct {
	Deps
	adminHash string
	router    *mux.Router
	sweeps    map[string]func(context.Context) (common.BatchResult, error)
	http      *http.Server
}

// NewServer собирает маршрутизатор.
//
// Параметры:
//   - addr: адрес для прослушивания, например ":8080"
//   - d: сервисы движка; AdminPasswordHash в формате argon2id
//
// Сервер не запускается до вызова Start.
func NewServer(addr string, d Deps) *Server {
	s := &Server{Deps: d, adminHash: d.AdminPasswordHash}
	s.sweeps = map[string]func(context.Context) (common.BatchResult, error){
		"auctions":        d.Sweeper.ProcessExpiredAuctions,
		"response-timers": d.Timers.ProcessExpiredResponseTimers,
		"compliance":      d.Compliance.ProcessExpiredComplianceTimers,
	}
	s.router = s.routes()
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       time.Minute,
	}
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.Recover, middleware.Logger)

	r.HandleFunc("/healthz", s.health).Methods(http.MethodGet)

	league := r.PathPrefix("/leagues/{league:[0-9]+}").Subrouter()
	var bid http.Handler = http.HandlerFunc(s.placeBid)
	if s.Limiter != nil {
		bid = middleware.RateLimit(s.Limiter)(bid)
	}
	league.Handle("/players/{player:[0-9]+}/bids", bid).Methods(http.MethodPost)
	league.HandleFunc("/players/{player:[0-9]+}/abandon", s.abandon).Methods(http.MethodPost)
	league.HandleFunc("/participants/{user:[0-9]+}/balance", s.balance).Methods(http.MethodGet)

	admin := r.PathPrefix("/admin").Subrouter()
	admin.Use(s.requireAdmin)
	admin.HandleFunc("/sweeps/{sweep}", s.sweep).Methods(http.MethodPost)
	admin.HandleFunc("/leagues/{league:[0-9]+}/participants/{user:[0-9]+}", s.enroll).Methods(http.MethodPost)
	admin.HandleFunc("/leagues/{league:[0-9]+}/participants/{user:[0-9]+}/compliance", s.compliance).Methods(http.MethodPost)
	admin.HandleFunc("/leagues/{league:[0-9]+}/participants/{user:[0-9]+}/reconcile", s.reconcile).Methods(http.MethodPost)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "no such route", Kind: string(common.KindNotFound)})
	})
	return r
}

// Handler возвращает обработчик с маршрутами (для тестов и встраивания).
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start обслуживает запросы в фоне до вызова Shutdown.
func (s *Server) Start() {
	go func() {
		log.WithField("addr", s.http.Addr).Info("HTTP server listening")
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("HTTP server stopped")
		}
	}()
}

// Shutdown перестаёт принимать запросы и дожидается текущих.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
