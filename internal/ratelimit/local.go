// Package ratelimit ограничивает частоту ставок одного пользователя.
//
// Local держит скользящее окно в памяти процесса и корректен только для одного
// экземпляра. Shared хранит счётчики фиксированных окон в базе, поэтому все
// экземпляры движка видят одно и то же значение.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"serotonyl.ru/draft-auction/internal/common"
)

// Limiter решает, можно ли пользователю сделать ещё один запрос.
type Limiter interface {
	Allow(ctx context.Context, userID int64) (bool, error)
}

// Local ограничивает запросы пользователя скользящим окном.
type Local struct {
	mu       sync.Mutex
	requests map[int64][]time.Time
	limit    int
	window   time.Duration
	clock    common.Clock

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewLocal создаёт лимитер и запускает горутину очистки устаревших записей.
//
// Параметры:
//   - limit: максимум запросов за окно
//   - window: длина окна (например, 1 минута)
//   - clock: источник времени; nil означает системные часы
//
// При остановке сервиса нужно вызвать Close.
func NewLocal(limit int, window time.Duration, clock common.Clock) *Local {
	rl := &Local{
		requests: make(map[int64][]time.Time),
		limit:    limit,
		window:   window,
		clock:    clock.OrSystem(),
		stopCh:   make(chan struct{}),
	}
	go rl.cleanup()
	return rl
}

// Close останавливает горутину очистки. Повторный вызов безопасен.
func (rl *Local) Close() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// Allow возвращает true, если запрос укладывается в лимит, и учитывает его.
func (rl *Local) Allow(_ context.Context, userID int64) (bool, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock()
	recent := rl.recent(rl.requests[userID], now)
	if len(recent) >= rl.limit {
		rl.requests[userID] = recent
		return false, nil
	}
	rl.requests[userID] = append(recent, now)
	return true, nil
}

func (rl *Local) recent(times []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-rl.window)
	var out []time.Time
	for _, t := range times {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}

// cleanup раз в 5 минут удаляет пользователей без свежих запросов,
// чтобы map не росла бесконечно.
func (rl *Local) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopCh:
			return
		case <-ticker.C:
			rl.prune()
		}
	}
}

func (rl *Local) prune() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.clock()
	for userID, times := range rl.requests {
		if recent := rl.recent(times, now); len(recent) == 0 {
			delete(rl.requests, userID)
		} else {
			rl.requests[userID] = recent
		}
	}
}
