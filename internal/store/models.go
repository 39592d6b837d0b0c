// Package store — models.go описывает строки движка аукционов.
// Каждая сущность принадлежит одной лиге; между лигами ничего не делится.
package store

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Стадии лиги.
const (
	StageSetup     = "setup"
	StageAuction   = "auction"
	StageRepair    = "repair"
	StageCompleted = "completed"
)

// League хранит правила, по которым играет лига.
type League struct {
	ID              int64
	Name            string
	Stage           string
	ActiveRoles     []string // роли, открытые для ставок сейчас
	InitialBudget   int64
	MinBid          int64 // стартовая ставка нового аукциона
	MinIncrement    int64
	AuctionDuration time.Duration
	SoftClose       time.Duration // поздняя ставка продлевает срок до now+SoftClose
	ResponseWindow  time.Duration
	AbandonCooldown time.Duration
	ComplianceGrace time.Duration
	PenaltyInterval time.Duration
	PenaltyAmount   int64
}

// BiddingOpen сообщает, принимает ли стадия ставки.
func (l *League) BiddingOpen() bool {
	return l.Stage == StageAuction || l.Stage == StageRepair
}

// RoleActive сообщает, открыта ли роль для ставок.
func (l *League) RoleActive(role string) bool {
	for _, r := range l.ActiveRoles {
		if r == role {
			return true
		}
	}
	return false
}

// SortedRoles возвращает активные роли в стабильном порядке.
func (l *League) SortedRoles() []string {
	roles := append([]string(nil), l.ActiveRoles...)
	sort.Strings(roles)
	return roles
}

// Player — реальный спортсмен, которого в лиге можно купить один раз.
type Player struct {
	ID   int64
	Name string
	Role string
}

// Participant — бюджет одного пользователя в лиге.
// Инвариант: 0 <= LockedCredits <= CurrentBudget.
type Participant struct {
	LeagueID      int64
	UserID        int64
	InitialBudget int64
	CurrentBudget int64
	LockedCredits int64
	UpdatedAt     time.Time
}

// Available возвращает доступные для трат кредиты.
func (p *Participant) Available() int64 {
	return p.CurrentBudget - p.LockedCredits
}

// AuctionStatus — стадия жизни аукциона.
type AuctionStatus string

const (
	AuctionActive  AuctionStatus = "active"
	AuctionClosing AuctionStatus = "closing"
	AuctionSold    AuctionStatus = "sold"
	AuctionExpired AuctionStatus = "expired"
)

// Open сообщает, принимает ли аукцион ставки (если срок не истёк).
func (s AuctionStatus) Open() bool {
	return s == AuctionActive || s == AuctionClosing
}

// Auction — торги за одного игрока в одной лиге.
type Auction struct {
	ID               uuid.UUID
	LeagueID         int64
	PlayerID         int64
	CurrentBid       int64
	CurrentBidderID  int64 // 0, пока ставок не было
	ScheduledEndTime time.Time
	Status           AuctionStatus
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// HasLeader сообщает, была ли принята ставка.
func (a *Auction) HasLeader() bool {
	return a.CurrentBidderID != 0
}

// BidType — как появилась ставка.
type BidType string

const (
	BidManual BidType = "manual"
	BidAuto   BidType = "auto"
	BidQuick  BidType = "quick"
)

// Valid сообщает, известен ли тип ставки.
func (t BidType) Valid() bool {
	return t == BidManual || t == BidAuto || t == BidQuick
}

// Bid — неизменяемая запись истории.
type Bid struct {
	ID        uuid.UUID
	AuctionID uuid.UUID
	UserID    int64
	Amount    int64
	Type      BidType
	CreatedAt time.Time
}

// AutoBid — поручение поднимать ставку за пользователя до MaxAmount.
// Не больше одной активной строки на (аукцион, пользователь).
type AutoBid struct {
	ID        uuid.UUID
	AuctionID uuid.UUID
	UserID    int64
	MaxAmount int64
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TxType — вид движения по бюджету.
type TxType string

const (
	TxLock     TxType = "lock"
	TxUnlock   TxType = "unlock"
	TxPurchase TxType = "purchase"
	TxPenalty  TxType = "penalty"
)

// BudgetTransaction — строка журнала, только добавление.
// Amount — изменение CurrentBudget со знаком (ноль для lock/unlock),
// LockedDelta — изменение LockedCredits со знаком.
type BudgetTransaction struct {
	ID               uuid.UUID
	LeagueID         int64
	UserID           int64
	Type             TxType
	Amount           int64
	LockedDelta      int64
	BalanceAfter     int64
	LockedAfter      int64
	RelatedAuctionID *uuid.UUID
	RelatedPlayerID  *int64
	Description      string
	CreatedAt        time.Time
}

// PlayerAssignment фиксирует, что пользователь выиграл игрока.
type PlayerAssignment struct {
	ID         uuid.UUID
	LeagueID   int64
	UserID     int64
	PlayerID   int64
	AuctionID  uuid.UUID
	Price      int64
	AssignedAt time.Time
}

// TimerStatus — состояние таймера ответа.
type TimerStatus string

const (
	TimerPending   TimerStatus = "pending"
	TimerCompleted TimerStatus = "completed"
	TimerExpired   TimerStatus = "expired"
)

// ResponseTimer — окно, за которое перебитый участник может ответить.
type ResponseTimer struct {
	ID               uuid.UUID
	AuctionID        uuid.UUID
	LeagueID         int64
	UserID           int64
	ResponseDeadline time.Time
	Status           TimerStatus
	CreatedAt        time.Time
	ResolvedAt       *time.Time
}

// Cooldown не даёт вернуться в аукцион, от которого пользователь отказался.
type Cooldown struct {
	AuctionID uuid.UUID
	UserID    int64
	Until     time.Time
}

// ComplianceStatus хранит, сколько состав нелегален в текущей фазе.
type ComplianceStatus struct {
	LeagueID         int64
	UserID           int64
	PhaseIdentifier  string
	TimerStartAt     time.Time
	PenaltiesApplied int
	UpdatedAt        time.Time
}
