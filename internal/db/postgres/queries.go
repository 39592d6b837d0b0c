// Package postgres — queries.go содержит общие вспомогательные функции запросов.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"serotonyl.ru/draft-auction/internal/common"
)

// Коды ошибок PostgreSQL, на которые реагирует движок.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeUniqueViolation      = "23505"
	codeLockNotAvailable     = "55P03"
)

// ExecMigrationSQL применяет одну миграцию в отдельной транзакции и записывает
// её версию.
//
// Параметры:
//   - ctx: контекст
//   - pool: пул соединений
//   - version: номер миграции
//   - sql: SQL-код миграции
//
// Возвращает:
//   - bool: true, если миграция применена сейчас; false, если уже была
//   - error: ошибка выполнения
func ExecMigrationSQL(ctx context.Context, pool *pgxpool.Pool, version int, sql string) (bool, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var exists bool
	err = tx.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)", version,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check migration: %w", err)
	}
	if exists {
		return false, nil
	}

	if _, err := tx.Exec(ctx, sql); err != nil {
		return false, fmt.Errorf("failed to execute migration %d: %w", version, err)
	}
	if _, err := tx.Exec(ctx,
		"INSERT INTO schema_migrations (version) VALUES ($1)", version,
	); err != nil {
		return false, fmt.Errorf("failed to record migration version: %w", err)
	}

	return true, tx.Commit(ctx)
}

// mapError переводит ошибки драйвера в виды ошибок движка. Проигранная гонка
// становится ConflictError: вызывающий перечитывает состояние и повторяет.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if common.KindOf(err) != common.KindInternal {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable:
			return common.Conflict(err, "concurrent update, retry with fresh state")
		case codeUniqueViolation:
			return common.Conflict(err, "duplicate row (%s)", pgErr.ConstraintName)
		}
	}
	return common.Internal(err)
}

// notFound превращает pgx.ErrNoRows в NotFoundError, остальное оборачивает.
func notFound(err error, format string, args ...any) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return common.NotFound(format, args...)
	}
	return err
}
