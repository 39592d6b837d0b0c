package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"serotonyl.ru/draft-auction/internal/store"
)

const timerColumns = `id, auction_id, league_id, user_id, response_deadline, status, created_at, resolved_at`

func scanTimer(row pgx.Row) (*store.ResponseTimer, error) {
	var (
		rt     store.ResponseTimer
		status string
	)
	err := row.Scan(&rt.ID, &rt.AuctionID, &rt.LeagueID, &rt.UserID, &rt.ResponseDeadline,
		&status, &rt.CreatedAt, &rt.ResolvedAt)
	if err != nil {
		return nil, err
	}
	rt.Status = store.TimerStatus(status)
	return &rt, nil
}

func (t *pgTx) GetPendingResponseTimer(ctx context.Context, auctionID uuid.UUID, userID int64) (*store.ResponseTimer, error) {
	rt, err := scanTimer(t.tx.QueryRow(ctx, `
		SELECT `+timerColumns+` FROM response_timers
		WHERE auction_id = $1 AND user_id = $2 AND status = 'pending'
		FOR UPDATE`,
		auctionID, userID))
	if err != nil {
		return nil, notFound(err, "pending response timer of user %d on auction %s", userID, auctionID)
	}
	return rt, nil
}

func (t *pgTx) GetResponseTimerForUpdate(ctx context.Context, id uuid.UUID) (*store.ResponseTimer, error) {
	rt, err := scanTimer(t.tx.QueryRow(ctx,
		"SELECT "+timerColumns+" FROM response_timers WHERE id = $1 FOR UPDATE", id))
	if err != nil {
		return nil, notFound(err, "response timer %s", id)
	}
	return rt, nil
}

func (t *pgTx) ListPendingResponseTimers(ctx context.Context, auctionID uuid.UUID) ([]*store.ResponseTimer, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+timerColumns+` FROM response_timers
		WHERE auction_id = $1 AND status = 'pending'
		ORDER BY user_id
		FOR UPDATE`,
		auctionID)
	if err != nil {
		return nil, fmt.Errorf("list pending timers: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*store.ResponseTimer, error) {
		return scanTimer(row)
	})
}

func (t *pgTx) ListExpiredResponseTimerIDs(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id FROM response_timers
		WHERE status = 'pending' AND response_deadline <= $1
		ORDER BY response_deadline, id
		LIMIT $2`,
		now, limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("list expired timers: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

func (t *pgTx) InsertResponseTimer(ctx context.Context, rt *store.ResponseTimer) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO response_timers (`+timerColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rt.ID, rt.AuctionID, rt.LeagueID, rt.UserID, rt.ResponseDeadline,
		string(rt.Status), rt.CreatedAt, rt.ResolvedAt)
	if err != nil {
		return fmt.Errorf("insert response timer: %w", err)
	}
	return nil
}

func (t *pgTx) UpdateResponseTimer(ctx context.Context, rt *store.ResponseTimer) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE response_timers SET response_deadline = $2, status = $3, resolved_at = $4
		WHERE id = $1`,
		rt.ID, rt.ResponseDeadline, string(rt.Status), rt.ResolvedAt)
	if err != nil {
		return fmt.Errorf("update response timer: %w", err)
	}
	return nil
}

func (t *pgTx) GetCooldown(ctx context.Context, auctionID uuid.UUID, userID int64) (*store.Cooldown, error) {
	var c store.Cooldown
	err := t.tx.QueryRow(ctx,
		"SELECT auction_id, user_id, until FROM auction_cooldowns WHERE auction_id = $1 AND user_id = $2",
		auctionID, userID,
	).Scan(&c.AuctionID, &c.UserID, &c.Until)
	if err != nil {
		return nil, notFound(err, "cooldown of user %d on auction %s", userID, auctionID)
	}
	return &c, nil
}

func (t *pgTx) UpsertCooldown(ctx context.Context, c *store.Cooldown) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO auction_cooldowns (auction_id, user_id, until) VALUES ($1, $2, $3)
		ON CONFLICT (auction_id, user_id) DO UPDATE SET until = EXCLUDED.until`,
		c.AuctionID, c.UserID, c.Until)
	if err != nil {
		return fmt.Errorf("upsert cooldown: %w", err)
	}
	return nil
}

func (t *pgTx) GetComplianceStatusForUpdate(ctx context.Context, leagueID, userID int64) (*store.ComplianceStatus, error) {
	var cs store.ComplianceStatus
	err := t.tx.QueryRow(ctx, `
		SELECT league_id, user_id, phase_identifier, timer_start_at, penalties_applied, updated_at
		FROM compliance_status WHERE league_id = $1 AND user_id = $2
		FOR UPDATE`,
		leagueID, userID,
	).Scan(&cs.LeagueID, &cs.UserID, &cs.PhaseIdentifier, &cs.TimerStartAt, &cs.PenaltiesApplied, &cs.UpdatedAt)
	if err != nil {
		return nil, notFound(err, "compliance status of user %d in league %d", userID, leagueID)
	}
	return &cs, nil
}

func (t *pgTx) UpsertComplianceStatus(ctx context.Context, cs *store.ComplianceStatus) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO compliance_status (league_id, user_id, phase_identifier, timer_start_at, penalties_applied, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (league_id, user_id) DO UPDATE SET
			phase_identifier = EXCLUDED.phase_identifier,
			timer_start_at = EXCLUDED.timer_start_at,
			penalties_applied = EXCLUDED.penalties_applied,
			updated_at = EXCLUDED.updated_at`,
		cs.LeagueID, cs.UserID, cs.PhaseIdentifier, cs.TimerStartAt, cs.PenaltiesApplied, cs.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert compliance status: %w", err)
	}
	return nil
}

func (t *pgTx) DeleteComplianceStatus(ctx context.Context, leagueID, userID int64) error {
	_, err := t.tx.Exec(ctx,
		"DELETE FROM compliance_status WHERE league_id = $1 AND user_id = $2", leagueID, userID)
	if err != nil {
		return fmt.Errorf("delete compliance status: %w", err)
	}
	return nil
}
