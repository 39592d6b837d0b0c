package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"serotonyl.ru/draft-auction/internal/store"
)

const participantColumns = "league_id, user_id, initial_budget, current_budget, locked_credits, updated_at"

func scanParticipant(row pgx.Row) (*store.Participant, error) {
	var p store.Participant
	err := row.Scan(&p.LeagueID, &p.UserID, &p.InitialBudget, &p.CurrentBudget, &p.LockedCredits, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (t *pgTx) GetParticipantForUpdate(ctx context.Context, leagueID, userID int64) (*store.Participant, error) {
	p, err := scanParticipant(t.tx.QueryRow(ctx,
		"SELECT "+participantColumns+" FROM league_participants WHERE league_id = $1 AND user_id = $2 FOR UPDATE",
		leagueID, userID))
	if err != nil {
		return nil, notFound(err, "participant %d in league %d", userID, leagueID)
	}
	return p, nil
}

func (t *pgTx) ListParticipants(ctx context.Context, leagueID int64) ([]*store.Participant, error) {
	rows, err := t.tx.Query(ctx,
		"SELECT "+participantColumns+" FROM league_participants WHERE league_id = $1 ORDER BY user_id",
		leagueID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*store.Participant, error) {
		return scanParticipant(row)
	})
}

func (t *pgTx) InsertParticipant(ctx context.Context, p *store.Participant) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO league_participants (league_id, user_id, initial_budget, current_budget, locked_credits, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		p.LeagueID, p.UserID, p.InitialBudget, p.CurrentBudget, p.LockedCredits, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert participant: %w", err)
	}
	return nil
}

func (t *pgTx) UpdateParticipant(ctx context.Context, p *store.Participant) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE league_participants
		SET current_budget = $3, locked_credits = $4, updated_at = $5
		WHERE league_id = $1 AND user_id = $2`,
		p.LeagueID, p.UserID, p.CurrentBudget, p.LockedCredits, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update participant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(pgx.ErrNoRows, "participant %d in league %d", p.UserID, p.LeagueID)
	}
	return nil
}

func (t *pgTx) InsertBudgetTransaction(ctx context.Context, bt *store.BudgetTransaction) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO budget_transactions (
			id, league_id, user_id, type, amount, locked_delta, balance_after, locked_after,
			related_auction_id, related_player_id, description, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		bt.ID, bt.LeagueID, bt.UserID, string(bt.Type), bt.Amount, bt.LockedDelta, bt.BalanceAfter, bt.LockedAfter,
		bt.RelatedAuctionID, bt.RelatedPlayerID, bt.Description, bt.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert budget transaction: %w", err)
	}
	return nil
}

func (t *pgTx) ListBudgetTransactions(ctx context.Context, leagueID, userID int64) ([]*store.BudgetTransaction, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, league_id, user_id, type, amount, locked_delta, balance_after, locked_after,
			related_auction_id, related_player_id, description, created_at
		FROM budget_transactions
		WHERE league_id = $1 AND user_id = $2
		ORDER BY seq`,
		leagueID, userID)
	if err != nil {
		return nil, fmt.Errorf("list budget transactions: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*store.BudgetTransaction, error) {
		var (
			bt  store.BudgetTransaction
			typ string
		)
		err := row.Scan(&bt.ID, &bt.LeagueID, &bt.UserID, &typ, &bt.Amount, &bt.LockedDelta, &bt.BalanceAfter,
			&bt.LockedAfter, &bt.RelatedAuctionID, &bt.RelatedPlayerID, &bt.Description, &bt.CreatedAt)
		bt.Type = store.TxType(typ)
		return &bt, err
	})
}
