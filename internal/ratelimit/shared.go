package ratelimit

import (
	"context"
	"fmt"
	"time"

	"serotonyl.ru/draft-auction/internal/common"
	"serotonyl.ru/draft-auction/internal/store"
)

// Shared ограничивает запросы пользователя фиксированными окнами со счётчиками в хранилище.
type Shared struct {
	store  store.Store
	limit  int
	window time.Duration
	clock  common.Clock
	prefix string
}

// NewShared создаёт лимитер со счётчиками под ключами "prefix:userID".
//
// Параметры:
//   - st: хранилище, общее для всех экземпляров
//   - prefix: пространство ключей, например "bids"
//   - limit: максимум запросов за окно
//   - window: длина окна
//   - clock: источник времени; nil означает системные часы
func NewShared(st store.Store, prefix string, limit int, window time.Duration, clock common.Clock) *Shared {
	return &Shared{store: st, limit: limit, window: window, clock: clock.OrSystem(), prefix: prefix}
}

func (s *Shared) Allow(ctx context.Context, userID int64) (bool, error) {
	windowStart := s.clock().Truncate(s.window)
	key := fmt.Sprintf("%s:%d", s.prefix, userID)

	var count int
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		count, err = tx.IncrementRateCounter(ctx, key, windowStart)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("rate counter: %w", err)
	}
	return count <= s.limit, nil
}
