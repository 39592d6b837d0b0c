// Package app собирает движок.
// app.go — точка сборки: создаёт пул БД, хранилище, сервисы,
// доставку событий, HTTP-сервер и планировщик.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/draft-auction/internal/api"
	"serotonyl.ru/draft-auction/internal/config"
	"serotonyl.ru/draft-auction/internal/db/postgres"
	"serotonyl.ru/draft-auction/internal/features/bidding"
	"serotonyl.ru/draft-auction/internal/features/compliance"
	"serotonyl.ru/draft-auction/internal/features/ledger"
	"serotonyl.ru/draft-auction/internal/features/sweeper"
	"serotonyl.ru/draft-auction/internal/features/timers"
	"serotonyl.ru/draft-auction/internal/jobs"
	"serotonyl.ru/draft-auction/internal/ratelimit"
	"serotonyl.ru/draft-auction/internal/relay"
)

// App хранит все долгоживущие компоненты.
type App struct {
	DB        *pgxpool.Pool
	Server    *api.Server
	Scheduler *jobs.Scheduler

	dispatcher  *relay.Dispatcher
	broadcaster *relay.Broadcaster
	spool       *relay.Spool
	limiter     *ratelimit.Local
}

// New собирает приложение. При ошибке всё уже открытое закрывается.
func New(ctx context.Context, cfg *config.Config) (_ *App, err error) {
	a := &App{}
	defer func() {
		if err != nil {
			a.closeResources()
		}
	}()

	// === 1. База данных ===
	a.DB, err = postgres.NewPool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	if err := postgres.RunMigrations(ctx, a.DB); err != nil {
		return nil, fmt.Errorf("migrations failed: %w", err)
	}
	st := postgres.NewStore(a.DB)

	// === 2. Правила состава ===
	rules, err := config.LoadRules(cfg.RulesFile)
	if err != nil {
		return nil, err
	}

	// === 3. Доставка событий ===
	sink, err := buildSinks(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.RelaySpoolDir != "" {
		a.spool, err = relay.OpenSpool(cfg.RelaySpoolDir)
		if err != nil {
			sink.Close()
			return nil, fmt.Errorf("open relay spool: %w", err)
		}
		a.broadcaster = relay.NewBroadcaster(a.spool, sink, time.Second)
		a.dispatcher = relay.NewDispatcher(relay.KeepOpen(a.spool), cfg.RelayBuffer)
	} else {
		a.dispatcher = relay.NewDispatcher(sink, cfg.RelayBuffer)
	}

	// === 4. Сервисы ===
	l := ledger.New(nil)
	tm := timers.NewManager(st, a.dispatcher, nil, cfg.SweepBatchSize)
	bids := bidding.NewService(st, l, tm, a.dispatcher, nil)
	sw := sweeper.NewService(st, l, tm, a.dispatcher, nil, cfg.SweepBatchSize)
	comp := compliance.NewService(st, l, rules, a.dispatcher, nil)
	books := ledger.NewService(st, l)

	// === 5. Ограничение частоты ===
	var limiter ratelimit.Limiter
	if cfg.RateLimitShared {
		limiter = ratelimit.NewShared(st, "bids", cfg.RateLimitRequests, cfg.RateLimitWindow, nil)
	} else {
		a.limiter = ratelimit.NewLocal(cfg.RateLimitRequests, cfg.RateLimitWindow, nil)
		limiter = a.limiter
	}

	// === 6. HTTP ===
	a.Server = api.NewServer(cfg.HTTPAddr, api.Deps{
		Bidding:           bids,
		Timers:            tm,
		Sweeper:           sw,
		Compliance:        comp,
		Ledger:            books,
		Limiter:           limiter,
		Ping:              st.Ping,
		AdminPasswordHash: cfg.AdminPasswordHash,
	})

	// === 7. Планировщик ===
	a.Scheduler = jobs.NewScheduler(
		jobs.Sweep{Name: "auctions", Every: cfg.SweepInterval, Run: sw.ProcessExpiredAuctions},
		jobs.Sweep{Name: "response-timers", Every: cfg.ResponseSweepInterval, Run: tm.ProcessExpiredResponseTimers},
		jobs.Sweep{Name: "compliance", Every: cfg.ComplianceSweepInterval, Run: comp.ProcessExpiredComplianceTimers},
	)

	log.WithFields(log.Fields{
		"spool":        cfg.RelaySpoolDir != "",
		"kafka":        len(cfg.KafkaBrokerList()) > 0,
		"telegram":     cfg.TelegramEnabled(),
		"shared_limit": cfg.RateLimitShared,
	}).Info("application assembled")
	return a, nil
}

// buildSinks собирает все настроенные sink наблюдателей в один.
func buildSinks(cfg *config.Config) (relay.Sink, error) {
	var sinks relay.Multi
	if brokers := cfg.KafkaBrokerList(); len(brokers) > 0 {
		sinks = append(sinks, relay.NewKafkaSink(brokers, cfg.KafkaTopic))
	}
	if cfg.TelegramEnabled() {
		tg, err := relay.NewTelegramSink(cfg.TelegramBotToken, cfg.TelegramChatID)
		if err != nil {
			sinks.Close()
			return nil, fmt.Errorf("telegram sink: %w", err)
		}
		sinks = append(sinks, tg)
	}
	return sinks, nil
}

// Run запускает фоновые компоненты и HTTP-сервер.
func (a *App) Run(ctx context.Context) error {
	a.dispatcher.Start(ctx)
	if a.broadcaster != nil {
		a.broadcaster.Start(ctx)
	}
	if err := a.Scheduler.Start(ctx); err != nil {
		return err
	}
	a.Server.Start()
	return nil
}

// Shutdown сначала останавливает приём, затем дочищает доставку, затем закрывает хранилище.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	if err := a.Server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http: %w", err))
	}
	a.Scheduler.Stop()
	if err := a.dispatcher.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("dispatcher: %w", err))
	}
	if a.broadcaster != nil {
		if err := a.broadcaster.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("broadcaster: %w", err))
		}
	}
	a.closeResources()
	return errors.Join(errs...)
}

func (a *App) closeResources() {
	if a.limiter != nil {
		a.limiter.Close()
	}
	if a.spool != nil {
		if err := a.spool.Close(); err != nil {
			log.WithError(err).Warn("failed to close relay spool")
		}
	}
	if a.DB != nil {
		a.DB.Close()
	}
}
