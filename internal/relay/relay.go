// Package relay доставляет уведомления о зафиксированных изменениях
// наблюдателям (шина сообщений, чат лиги) по принципу best-effort.
//
// Публикация не блокирует и не проваливает вызывающего: события идут в очередь
// ограниченного размера и отбрасываются с предупреждением, если она полна.
// Доставка не входит в условие успеха ни одной операции движка.
package relay

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Типы событий.
const (
	AuctionCreated   = "auction_created"
	AuctionUpdated   = "auction_updated"
	AuctionSold      = "auction_sold"
	AuctionExpired   = "auction_expired"
	AuctionAbandoned = "auction_abandoned"
	ResponseExpired  = "response_expired"
	PenaltyApplied   = "penalty_applied"
)

// Event — уведомление, которое отправляется после коммита единицы работы.
type Event struct {
	ID         uuid.UUID  `json:"id"`
	Type       string     `json:"type"`
	LeagueID   int64      `json:"leagueId"`
	AuctionID  *uuid.UUID `json:"auctionId,omitempty"`
	PlayerID   int64      `json:"playerId,omitempty"`
	UserID     int64      `json:"userId,omitempty"`
	Amount     int64      `json:"amount,omitempty"`
	Status     string     `json:"status,omitempty"`
	OccurredAt time.Time  `json:"occurredAt"`
}

// NewEvent проставляет событию ID.
func NewEvent(typ string, leagueID int64, at time.Time) Event {
	return Event{ID: uuid.New(), Type: typ, LeagueID: leagueID, OccurredAt: at}
}

// WithAuction задаёт ссылку на аукцион.
func (e Event) WithAuction(id uuid.UUID, playerID int64) Event {
	e.AuctionID = &id
	e.PlayerID = playerID
	return e
}

// Publisher принимает события без блокировки.
type Publisher interface {
	Publish(Event)
}

// Sink доставляет одно событие во внешнюю систему.
type Sink interface {
	Deliver(ctx context.Context, ev Event) error
	Close() error
}

// Nop отбрасывает все события.
type Nop struct{}

func (Nop) Publish(Event) {}

// Recorder хранит опубликованные события в памяти; тесты так наблюдают за relay.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events возвращает копию всего опубликованного.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types возвращает типы событий в порядке публикации.
func (r *Recorder) Types() []string {
	evs := r.Events()
	out := make([]string, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev.Type)
	}
	return out
}

// Multi рассылает событие в несколько sink; ошибка одного не останавливает остальные.
type Multi []Sink

func (m Multi) Deliver(ctx context.Context, ev Event) error {
	var firstErr error
	for _, s := range m {
		if err := s.Deliver(ctx, ev); err != nil {
			log.WithError(err).WithField("event", ev.Type).Warn("relay sink delivery failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (m Multi) Close() error {
	var firstErr error
	for _, s := range m {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

type unclosed struct{ Sink }

func (unclosed) Close() error { return nil }

// KeepOpen защищает s от Close; владелец закрывает его отдельно.
func KeepOpen(s Sink) Sink { return unclosed{s} }
