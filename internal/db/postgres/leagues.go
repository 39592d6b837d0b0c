package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"serotonyl.ru/draft-auction/internal/store"
)

const leagueColumns = `id, name, stage, active_roles, initial_budget, min_bid, min_increment,
	auction_duration_ms, soft_close_ms, response_window_ms, abandon_cooldown_ms,
	compliance_grace_ms, penalty_interval_ms, penalty_amount`

func scanLeague(row pgx.Row) (*store.League, error) {
	var (
		l                                     store.League
		duration, softClose, window, cooldown int64
		grace, interval                       int64
	)
	err := row.Scan(&l.ID, &l.Name, &l.Stage, &l.ActiveRoles, &l.InitialBudget, &l.MinBid, &l.MinIncrement,
		&duration, &softClose, &window, &cooldown, &grace, &interval, &l.PenaltyAmount)
	if err != nil {
		return nil, err
	}
	l.AuctionDuration = dur(duration)
	l.SoftClose = dur(softClose)
	l.ResponseWindow = dur(window)
	l.AbandonCooldown = dur(cooldown)
	l.ComplianceGrace = dur(grace)
	l.PenaltyInterval = dur(interval)
	return &l, nil
}

func (t *pgTx) GetLeague(ctx context.Context, leagueID int64) (*store.League, error) {
	l, err := scanLeague(t.tx.QueryRow(ctx,
		"SELECT "+leagueColumns+" FROM leagues WHERE id = $1", leagueID))
	if err != nil {
		return nil, notFound(err, "league %d", leagueID)
	}
	return l, nil
}

func (t *pgTx) ListLeagues(ctx context.Context) ([]*store.League, error) {
	rows, err := t.tx.Query(ctx, "SELECT "+leagueColumns+" FROM leagues ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list leagues: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*store.League, error) {
		return scanLeague(row)
	})
}

func (t *pgTx) GetPlayer(ctx context.Context, playerID int64) (*store.Player, error) {
	var p store.Player
	err := t.tx.QueryRow(ctx,
		"SELECT id, name, role FROM players WHERE id = $1", playerID,
	).Scan(&p.ID, &p.Name, &p.Role)
	if err != nil {
		return nil, notFound(err, "player %d", playerID)
	}
	return &p, nil
}
