// Package jobs запускает периодические проходы по cron-расписанию.
// scheduler.go регистрирует по одной записи "@every" на проход; если прошлый
// запуск ещё идёт, очередной тик пропускается.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/draft-auction/internal/common"
)

// Sweep — одна периодическая пакетная задача.
type Sweep struct {
	Name  string
	Every time.Duration // ноль отключает запись
	Run   func(ctx context.Context) (common.BatchResult, error)
}

// Scheduler запускает проходы.
type Scheduler struct {
	cron   *cron.Cron
	sweeps []Sweep
}

// NewScheduler создаёт планировщик в UTC для переданных проходов.
//
// Параметры:
//   - sweeps: задачи; задачи с Every <= 0 не регистрируются
//
// Паника внутри задачи перехватывается и логируется, планировщик продолжает работу.
func NewScheduler(sweeps ...Sweep) *Scheduler {
	logger := cronLogger{}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	return &Scheduler{cron: c, sweeps: sweeps}
}

// Start регистрирует включённые проходы и запускает цикл cron.
// Задачи получают ctx; его отмена прерывает проход между элементами.
func (s *Scheduler) Start(ctx context.Context) error {
	for _, sw := range s.sweeps {
		if sw.Every <= 0 {
			log.WithField("sweep", sw.Name).Info("[CRON] sweep disabled")
			continue
		}
		if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", sw.Every), s.job(ctx, sw)); err != nil {
			return fmt.Errorf("schedule %s: %w", sw.Name, err)
		}
	}
	s.cron.Start()
	log.WithField("entries", len(s.cron.Entries())).Info("scheduler started")
	return nil
}

// Stop дожидается завершения идущих проходов.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Info("scheduler stopped")
}

func (s *Scheduler) job(ctx context.Context, sw Sweep) func() {
	return func() {
		started := time.Now()
		res, err := sw.Run(ctx)
		entry := log.WithFields(log.Fields{
			"sweep":     sw.Name,
			"processed": res.ProcessedCount,
			"failed":    res.FailedCount,
			"took":      time.Since(started).Round(time.Millisecond),
		})
		switch {
		case err != nil:
			entry.WithError(err).Error("[CRON] sweep failed")
		case res.FailedCount > 0:
			entry.Warn("[CRON] sweep finished with failures")
		case res.ProcessedCount > 0:
			entry.Info("[CRON] sweep finished")
		default:
			entry.Debug("[CRON] nothing to do")
		}
	}
}

// cronLogger направляет сообщения cron в logrus.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	log.WithFields(fields(keysAndValues)).Debug("[CRON] " + msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	log.WithError(err).WithFields(fields(keysAndValues)).Error("[CRON] " + msg)
}

func fields(kv []interface{}) log.Fields {
	f := make(log.Fields, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		f[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return f
}
