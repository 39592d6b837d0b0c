package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"serotonyl.ru/draft-auction/internal/store"
)

const auctionColumns = `id, league_id, player_id, current_bid, current_bidder_id,
	scheduled_end_time, status, created_at, updated_at`

func scanAuction(row pgx.Row) (*store.Auction, error) {
	var (
		a      store.Auction
		status string
	)
	err := row.Scan(&a.ID, &a.LeagueID, &a.PlayerID, &a.CurrentBid, &a.CurrentBidderID,
		&a.ScheduledEndTime, &status, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Status = store.AuctionStatus(status)
	return &a, nil
}

func (t *pgTx) GetAuctionForUpdate(ctx context.Context, id uuid.UUID) (*store.Auction, error) {
	a, err := scanAuction(t.tx.QueryRow(ctx,
		"SELECT "+auctionColumns+" FROM auctions WHERE id = $1 FOR UPDATE", id))
	if err != nil {
		return nil, notFound(err, "auction %s", id)
	}
	return a, nil
}

func (t *pgTx) GetOpenAuctionForUpdate(ctx context.Context, leagueID, playerID int64) (*store.Auction, error) {
	a, err := scanAuction(t.tx.QueryRow(ctx, `
		SELECT `+auctionColumns+` FROM auctions
		WHERE league_id = $1 AND player_id = $2 AND status IN ('active', 'closing')
		FOR UPDATE`,
		leagueID, playerID))
	if err != nil {
		return nil, notFound(err, "open auction for player %d in league %d", playerID, leagueID)
	}
	return a, nil
}

// InsertAuction падает на нарушении уникальности, если другая единица работы
// открыла аукцион по этому игроку раньше; InTx превращает это в ConflictError.
func (t *pgTx) InsertAuction(ctx context.Context, a *store.Auction) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO auctions (`+auctionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.LeagueID, a.PlayerID, a.CurrentBid, a.CurrentBidderID,
		a.ScheduledEndTime, string(a.Status), a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert auction: %w", err)
	}
	return nil
}

func (t *pgTx) UpdateAuction(ctx context.Context, a *store.Auction) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE auctions
		SET current_bid = $2, current_bidder_id = $3, scheduled_end_time = $4, status = $5, updated_at = $6
		WHERE id = $1`,
		a.ID, a.CurrentBid, a.CurrentBidderID, a.ScheduledEndTime, string(a.Status), a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update auction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(pgx.ErrNoRows, "auction %s", a.ID)
	}
	return nil
}

func (t *pgTx) ListExpiredAuctionIDs(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id FROM auctions
		WHERE status IN ('active', 'closing') AND scheduled_end_time <= $1
		ORDER BY scheduled_end_time, id
		LIMIT $2`,
		now, limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("list expired auctions: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

func (t *pgTx) InsertBid(ctx context.Context, b *store.Bid) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO bids (id, auction_id, user_id, amount, type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		b.ID, b.AuctionID, b.UserID, b.Amount, string(b.Type), b.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert bid: %w", err)
	}
	return nil
}

func (t *pgTx) ListBids(ctx context.Context, auctionID uuid.UUID) ([]*store.Bid, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, auction_id, user_id, amount, type, created_at
		FROM bids WHERE auction_id = $1 ORDER BY seq`,
		auctionID)
	if err != nil {
		return nil, fmt.Errorf("list bids: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*store.Bid, error) {
		var (
			b   store.Bid
			typ string
		)
		err := row.Scan(&b.ID, &b.AuctionID, &b.UserID, &b.Amount, &typ, &b.CreatedAt)
		b.Type = store.BidType(typ)
		return &b, err
	})
}

const autoBidColumns = "id, auction_id, user_id, max_amount, is_active, created_at, updated_at"

func scanAutoBid(row pgx.Row) (*store.AutoBid, error) {
	var ab store.AutoBid
	err := row.Scan(&ab.ID, &ab.AuctionID, &ab.UserID, &ab.MaxAmount, &ab.IsActive, &ab.CreatedAt, &ab.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &ab, nil
}

func (t *pgTx) GetActiveAutoBid(ctx context.Context, auctionID uuid.UUID, userID int64) (*store.AutoBid, error) {
	ab, err := scanAutoBid(t.tx.QueryRow(ctx,
		"SELECT "+autoBidColumns+" FROM auto_bids WHERE auction_id = $1 AND user_id = $2 AND is_active",
		auctionID, userID))
	if err != nil {
		return nil, notFound(err, "active auto-bid of user %d on auction %s", userID, auctionID)
	}
	return ab, nil
}

func (t *pgTx) ListActiveAutoBids(ctx context.Context, auctionID uuid.UUID) ([]*store.AutoBid, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+autoBidColumns+` FROM auto_bids
		WHERE auction_id = $1 AND is_active
		ORDER BY created_at, id`,
		auctionID)
	if err != nil {
		return nil, fmt.Errorf("list auto-bids: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*store.AutoBid, error) {
		return scanAutoBid(row)
	})
}

func (t *pgTx) InsertAutoBid(ctx context.Context, ab *store.AutoBid) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO auto_bids (`+autoBidColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ab.ID, ab.AuctionID, ab.UserID, ab.MaxAmount, ab.IsActive, ab.CreatedAt, ab.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert auto-bid: %w", err)
	}
	return nil
}

func (t *pgTx) UpdateAutoBid(ctx context.Context, ab *store.AutoBid) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE auto_bids SET max_amount = $2, is_active = $3, updated_at = $4
		WHERE id = $1`,
		ab.ID, ab.MaxAmount, ab.IsActive, ab.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update auto-bid: %w", err)
	}
	return nil
}

func (t *pgTx) DeactivateAutoBids(ctx context.Context, auctionID uuid.UUID, now time.Time) (int, error) {
	tag, err := t.tx.Exec(ctx,
		"UPDATE auto_bids SET is_active = FALSE, updated_at = $2 WHERE auction_id = $1 AND is_active",
		auctionID, now)
	if err != nil {
		return 0, fmt.Errorf("deactivate auto-bids: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (t *pgTx) InsertAssignment(ctx context.Context, pa *store.PlayerAssignment) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO player_assignments (id, league_id, user_id, player_id, auction_id, price, assigned_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		pa.ID, pa.LeagueID, pa.UserID, pa.PlayerID, pa.AuctionID, pa.Price, pa.AssignedAt)
	if err != nil {
		return fmt.Errorf("insert assignment: %w", err)
	}
	return nil
}

func (t *pgTx) PlayerAssigned(ctx context.Context, leagueID, playerID int64) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM player_assignments WHERE league_id = $1 AND player_id = $2)",
		leagueID, playerID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check assignment: %w", err)
	}
	return exists, nil
}

func (t *pgTx) RosterCounts(ctx context.Context, leagueID, userID int64) (map[string]int, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT p.role, COUNT(*)
		FROM (
			SELECT player_id FROM player_assignments WHERE league_id = $1 AND user_id = $2
			UNION ALL
			SELECT player_id FROM auctions
			WHERE league_id = $1 AND current_bidder_id = $2 AND status IN ('active', 'closing')
		) r
		JOIN players p ON p.id = r.player_id
		GROUP BY p.role`,
		leagueID, userID)
	if err != nil {
		return nil, fmt.Errorf("roster counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			role string
			n    int
		)
		if err := rows.Scan(&role, &n); err != nil {
			return nil, fmt.Errorf("scan roster count: %w", err)
		}
		counts[role] = n
	}
	return counts, rows.Err()
}
