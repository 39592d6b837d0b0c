// Package bidding принимает ставки, проводит каскад автоставок и фиксирует
// изменения аукциона и бюджета одной единицей работы.
package bidding

import (
	"time"

	"github.com/google/uuid"

	"serotonyl.ru/draft-auction/internal/store"
)

// PlaceBidRequest — вход PlaceBid.
type PlaceBidRequest struct {
	LeagueID int64         `json:"leagueId"`
	PlayerID int64         `json:"playerId"`
	UserID   int64         `json:"userId"`
	Amount   int64         `json:"amount"`
	Type     store.BidType `json:"type"`
	// MaxAmount задаёт или поднимает потолок автоставки. Ноль означает без автоставки.
	MaxAmount int64 `json:"maxAmount,omitempty"`
	// ExpectedBid, если задан, должен совпадать с текущей ставкой в базе,
	// иначе вызов завершается ConflictError.
	ExpectedBid *int64 `json:"expectedBid,omitempty"`
}

// AuctionSnapshot — зафиксированное состояние, которое получает ставящий.
type AuctionSnapshot struct {
	AuctionID        uuid.UUID           `json:"auctionId"`
	LeagueID         int64               `json:"leagueId"`
	PlayerID         int64               `json:"playerId"`
	CurrentBid       int64               `json:"currentBid"`
	CurrentBidderID  int64               `json:"currentBidderId"`
	ScheduledEndTime time.Time           `json:"scheduledEndTime"`
	Status           store.AuctionStatus `json:"status"`
	Created          bool                `json:"created"`
	// Bids — все ставки, записанные этим вызовом, включая повышения каскада.
	Bids []store.Bid `json:"bids"`
	// Available — доступные кредиты ставящего после вызова.
	Available int64 `json:"available"`
}

func snapshotOf(a *store.Auction) AuctionSnapshot {
	return AuctionSnapshot{
		AuctionID:        a.ID,
		LeagueID:         a.LeagueID,
		PlayerID:         a.PlayerID,
		CurrentBid:       a.CurrentBid,
		CurrentBidderID:  a.CurrentBidderID,
		ScheduledEndTime: a.ScheduledEndTime,
		Status:           a.Status,
	}
}
