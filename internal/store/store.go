// Package store определяет транзакционный контракт данных движка аукционов.
//
// Своего хранения у движка нет: каждая операция идёт внутри одной единицы
// Store.InTx, и каждая строка, прочитанная методом ...ForUpdate, заблокирована
// для других единиц до коммита или отката.
// Отсутствующие строки возвращаются как *common.NotFoundError.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store открывает атомарные единицы работы.
type Store interface {
	// InTx выполняет fn в одной транзакции. Коммит только если fn вернула nil;
	// иначе ничего из записанного fn не станет видимым.
	InTx(ctx context.Context, fn func(Tx) error) error
}

// Tx — типизированный доступ к строкам внутри единицы работы.
type Tx interface {
	LeagueTx
	LedgerTx
	AuctionTx
	TimerTx
	ComplianceTx

	// IncrementRateCounter увеличивает счётчик окна для key и возвращает новое значение.
	IncrementRateCounter(ctx context.Context, key string, windowStart time.Time) (int, error)
}

// LeagueTx читает настройки лиги и справочник игроков.
type LeagueTx interface {
	GetLeague(ctx context.Context, leagueID int64) (*League, error)
	ListLeagues(ctx context.Context) ([]*League, error)
	GetPlayer(ctx context.Context, playerID int64) (*Player, error)
}

// LedgerTx работает с бюджетами участников и журналом транзакций.
type LedgerTx interface {
	GetParticipantForUpdate(ctx context.Context, leagueID, userID int64) (*Participant, error)
	ListParticipants(ctx context.Context, leagueID int64) ([]*Participant, error)
	InsertParticipant(ctx context.Context, p *Participant) error
	UpdateParticipant(ctx context.Context, p *Participant) error
	InsertBudgetTransaction(ctx context.Context, t *BudgetTransaction) error
	ListBudgetTransactions(ctx context.Context, leagueID, userID int64) ([]*BudgetTransaction, error)
}

// AuctionTx работает с аукционами, ставками, автоставками и закреплениями.
type AuctionTx interface {
	GetAuctionForUpdate(ctx context.Context, id uuid.UUID) (*Auction, error)
	// GetOpenAuctionForUpdate возвращает аукцион игрока в статусе active/closing.
	GetOpenAuctionForUpdate(ctx context.Context, leagueID, playerID int64) (*Auction, error)
	InsertAuction(ctx context.Context, a *Auction) error
	UpdateAuction(ctx context.Context, a *Auction) error
	// ListExpiredAuctionIDs возвращает открытые аукционы с ScheduledEndTime <= now, старые первыми.
	ListExpiredAuctionIDs(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)

	InsertBid(ctx context.Context, b *Bid) error
	ListBids(ctx context.Context, auctionID uuid.UUID) ([]*Bid, error)

	GetActiveAutoBid(ctx context.Context, auctionID uuid.UUID, userID int64) (*AutoBid, error)
	// ListActiveAutoBids возвращает активные автоставки по CreatedAt, затем по ID.
	ListActiveAutoBids(ctx context.Context, auctionID uuid.UUID) ([]*AutoBid, error)
	InsertAutoBid(ctx context.Context, ab *AutoBid) error
	UpdateAutoBid(ctx context.Context, ab *AutoBid) error
	DeactivateAutoBids(ctx context.Context, auctionID uuid.UUID, now time.Time) (int, error)

	InsertAssignment(ctx context.Context, pa *PlayerAssignment) error
	PlayerAssigned(ctx context.Context, leagueID, playerID int64) (bool, error)
	// RosterCounts возвращает по ролям: закреплённые игроки плюс открытые аукционы, где пользователь лидирует.
	RosterCounts(ctx context.Context, leagueID, userID int64) (map[string]int, error)
}

// TimerTx работает с таймерами ответа и периодами ожидания.
type TimerTx interface {
	GetPendingResponseTimer(ctx context.Context, auctionID uuid.UUID, userID int64) (*ResponseTimer, error)
	GetResponseTimerForUpdate(ctx context.Context, id uuid.UUID) (*ResponseTimer, error)
	ListPendingResponseTimers(ctx context.Context, auctionID uuid.UUID) ([]*ResponseTimer, error)
	ListExpiredResponseTimerIDs(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
	InsertResponseTimer(ctx context.Context, t *ResponseTimer) error
	UpdateResponseTimer(ctx context.Context, t *ResponseTimer) error

	GetCooldown(ctx context.Context, auctionID uuid.UUID, userID int64) (*Cooldown, error)
	UpsertCooldown(ctx context.Context, c *Cooldown) error
}

// ComplianceTx работает с таймерами легальности состава.
type ComplianceTx interface {
	GetComplianceStatusForUpdate(ctx context.Context, leagueID, userID int64) (*ComplianceStatus, error)
	UpsertComplianceStatus(ctx context.Context, cs *ComplianceStatus) error
	DeleteComplianceStatus(ctx context.Context, leagueID, userID int64) error
}
