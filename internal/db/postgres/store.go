// Package postgres — store.go реализует store.Store на транзакциях pgx.
//
// Каждая единица работы идёт на уровне READ COMMITTED. Строки, прочитанные
// методами ...ForUpdate, блокируются через SELECT ... FOR UPDATE до коммита:
// ставки на один аукцион и движения по бюджету одного участника идут строго
// друг за другом.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"serotonyl.ru/draft-auction/internal/common"
	"serotonyl.ru/draft-auction/internal/store"
)

// Store выполняет единицы работы на пуле соединений.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore оборачивает пул.
//
// Параметры:
//   - pool: пул из NewPool; миграции должны быть уже применены
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// InTx выполняет fn в одной транзакции и коммитит её, только если fn вернула nil.
//
// Возвращает:
//   - nil после успешного коммита
//   - ConflictError при таймауте блокировки, дедлоке или нарушении уникальности
//   - ошибку fn как есть, если у неё уже есть вид (валидация, не найдено)
func (s *Store) InTx(ctx context.Context, fn func(store.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return common.Internal(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx}); err != nil {
		return mapError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return mapError(fmt.Errorf("failed to commit: %w", err))
	}
	return nil
}

// Ping проверяет, что база отвечает.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// pgTx реализует store.Tx поверх одной транзакции pgx.
type pgTx struct {
	tx pgx.Tx
}

var _ store.Tx = (*pgTx)(nil)

func dur(msec int64) time.Duration { return time.Duration(msec) * time.Millisecond }

// IncrementRateCounter увеличивает счётчик окна и удаляет более старые окна
// того же ключа.
func (t *pgTx) IncrementRateCounter(ctx context.Context, key string, windowStart time.Time) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `
		INSERT INTO rate_counters (key, window_start, count) VALUES ($1, $2, 1)
		ON CONFLICT (key, window_start) DO UPDATE SET count = rate_counters.count + 1
		RETURNING count`,
		key, windowStart,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("increment rate counter: %w", err)
	}
	if n == 1 {
		if _, err := t.tx.Exec(ctx,
			"DELETE FROM rate_counters WHERE key = $1 AND window_start < $2", key, windowStart,
		); err != nil {
			return 0, fmt.Errorf("prune rate counters: %w", err)
		}
	}
	return n, nil
}

// limitArg превращает неположительный лимит в LIMIT NULL, то есть без ограничения.
func limitArg(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}
