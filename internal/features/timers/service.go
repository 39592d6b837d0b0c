// Package timers управляет окнами ответа перебитых участников и добровольным
// отказом от аукциона с периодом ожидания.
//
// Таймеры — это сроки, сохранённые в базе. Здесь нет ни блокировок ставок, ни
// таймеров в памяти: внешний триггер вызывает ProcessExpiredResponseTimers, и
// "сейчас" каждый раз сравнивается с сохранённым сроком.
package timers

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/draft-auction/internal/common"
	"serotonyl.ru/draft-auction/internal/relay"
	"serotonyl.ru/draft-auction/internal/store"
)

// DefaultBatchSize — сколько таймеров забирает один проход.
const DefaultBatchSize = 500

// AbandonResult возвращает AbandonAuction.
type AbandonResult struct {
	AuctionID     uuid.UUID `json:"auctionId"`
	CooldownUntil time.Time `json:"cooldownUntil"`
	AutoBidClosed bool      `json:"autoBidClosed"`
}

// Manager владеет таблицами таймеров ответа и периодов ожидания.
type Manager struct {
	store     store.Store
	relay     relay.Publisher
	clock     common.Clock
	batchSize int
}

// NewManager создаёт менеджер таймеров.
//
// Параметры:
//   - st: хранилище с транзакциями
//   - pub: получатель событий; nil отключает события
//   - clock: источник времени; nil означает системные часы
//   - batchSize: размер пачки за проход; 0 или меньше означает DefaultBatchSize
func NewManager(st store.Store, pub relay.Publisher, clock common.Clock, batchSize int) *Manager {
	if pub == nil {
		pub = relay.Nop{}
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Manager{store: st, relay: pub, clock: clock.OrSystem(), batchSize: batchSize}
}

// Open открывает (или перезапускает) окно ответа перебитого участника внутри единицы работы вызывающего.
func (m *Manager) Open(ctx context.Context, tx store.Tx, a *store.Auction, userID int64, window time.Duration) error {
	now := m.clock()
	deadline := now.Add(window)

	rt, err := tx.GetPendingResponseTimer(ctx, a.ID, userID)
	switch {
	case err == nil:
		rt.ResponseDeadline = deadline
		return tx.UpdateResponseTimer(ctx, rt)
	case common.IsNotFound(err):
		return tx.InsertResponseTimer(ctx, &store.ResponseTimer{
			ID:               uuid.New(),
			AuctionID:        a.ID,
			LeagueID:         a.LeagueID,
			UserID:           userID,
			ResponseDeadline: deadline,
			Status:           store.TimerPending,
			CreatedAt:        now,
		})
	default:
		return err
	}
}

// Complete закрывает ожидающий таймер участника внутри единицы работы вызывающего.
// Возвращает true, если таймер был.
func (m *Manager) Complete(ctx context.Context, tx store.Tx, auctionID uuid.UUID, userID int64) (bool, error) {
	return m.resolve(ctx, tx, auctionID, userID, store.TimerCompleted)
}

func (m *Manager) resolve(ctx context.Context, tx store.Tx, auctionID uuid.UUID, userID int64, status store.TimerStatus) (bool, error) {
	rt, err := tx.GetPendingResponseTimer(ctx, auctionID, userID)
	if common.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	now := m.clock()
	rt.Status = status
	rt.ResolvedAt = &now
	if err := tx.UpdateResponseTimer(ctx, rt); err != nil {
		return false, err
	}
	return true, nil
}

// CloseForAuction завершает все ожидающие таймеры только что закрытого аукциона.
func (m *Manager) CloseForAuction(ctx context.Context, tx store.Tx, auctionID uuid.UUID) (int, error) {
	pending, err := tx.ListPendingResponseTimers(ctx, auctionID)
	if err != nil {
		return 0, err
	}
	now := m.clock()
	for _, rt := range pending {
		rt.Status = store.TimerExpired
		rt.ResolvedAt = &now
		if err := tx.UpdateResponseTimer(ctx, rt); err != nil {
			return 0, err
		}
	}
	return len(pending), nil
}

// CheckCooldown возвращает ErrCooldownActive, пока участнику нельзя вернуться в аукцион.
func (m *Manager) CheckCooldown(ctx context.Context, tx store.Tx, auctionID uuid.UUID, userID int64) error {
	c, err := tx.GetCooldown(ctx, auctionID, userID)
	if common.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if m.clock().Before(c.Until) {
		return common.Validation(common.ErrCooldownActive, "until %s", c.Until.Format(time.RFC3339))
	}
	return nil
}

// MarkCompleted закрывает ожидающий таймер участника отдельной единицей работы.
func (m *Manager) MarkCompleted(ctx context.Context, auctionID uuid.UUID, userID int64) (bool, error) {
	var done bool
	err := m.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		done, err = m.Complete(ctx, tx, auctionID, userID)
		return err
	})
	return done, err
}

// ProcessExpiredResponseTimers помечает просроченные ожидающие таймеры как expired.
// Аукционы и кредиты не трогает. Каждый таймер — своя единица работы; ошибки
// собираются, проход продолжается.
func (m *Manager) ProcessExpiredResponseTimers(ctx context.Context) (common.BatchResult, error) {
	var result common.BatchResult
	now := m.clock()

	var ids []uuid.UUID
	err := m.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		ids, err = tx.ListExpiredResponseTimerIDs(ctx, now, m.batchSize)
		return err
	})
	if err != nil {
		return result, fmt.Errorf("list expired response timers: %w", err)
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		expired, ev, err := m.expireOne(ctx, id)
		if err != nil {
			result.Fail("response timer "+id.String(), err)
			log.WithError(err).WithField("timer", id).Error("response timer expiry failed")
			continue
		}
		if expired {
			result.ProcessedCount++
			m.relay.Publish(ev)
		}
	}

	if len(ids) > 0 {
		log.WithFields(log.Fields{
			"processed": result.ProcessedCount,
			"failed":    result.FailedCount,
		}).Info("response timer sweep finished")
	}
	return result, nil
}

func (m *Manager) expireOne(ctx context.Context, id uuid.UUID) (bool, relay.Event, error) {
	var (
		expired bool
		ev      relay.Event
	)
	err := m.store.InTx(ctx, func(tx store.Tx) error {
		rt, err := tx.GetResponseTimerForUpdate(ctx, id)
		if err != nil {
			return err
		}
		now := m.clock()
		// Закрыт параллельной ставкой или срок сдвинулся.
		if rt.Status != store.TimerPending || rt.ResponseDeadline.After(now) {
			return nil
		}
		rt.Status = store.TimerExpired
		rt.ResolvedAt = &now
		if err := tx.UpdateResponseTimer(ctx, rt); err != nil {
			return err
		}
		expired = true
		ev = relay.NewEvent(relay.ResponseExpired, rt.LeagueID, now)
		ev.AuctionID = &rt.AuctionID
		ev.UserID = rt.UserID
		return nil
	})
	return expired, ev, err
}

// AbandonAuction позволяет участнику отказаться от открытого аукциона: его
// автоставка закрывается, таймер ответа завершается, и записывается период
// ожидания до следующей ставки на этот аукцион.
//
// Параметры:
//   - userID: кто отказывается
//   - leagueID, playerID: аукцион по игроку
//
// Текущий лидер отказаться не может. У остальных блокировки на аукционе нет,
// поэтому кредиты не двигаются.
func (m *Manager) AbandonAuction(ctx context.Context, userID, leagueID, playerID int64) (*AbandonResult, error) {
	var (
		res AbandonResult
		ev  relay.Event
	)
	err := m.store.InTx(ctx, func(tx store.Tx) error {
		league, err := tx.GetLeague(ctx, leagueID)
		if err != nil {
			return err
		}
		if _, err := tx.GetParticipantForUpdate(ctx, leagueID, userID); err != nil {
			return err
		}
		a, err := tx.GetOpenAuctionForUpdate(ctx, leagueID, playerID)
		if err != nil {
			return err
		}
		if a.CurrentBidderID == userID {
			return common.Invalid("the highest bidder cannot abandon the auction")
		}

		now := m.clock()
		ab, err := tx.GetActiveAutoBid(ctx, a.ID, userID)
		switch {
		case err == nil:
			ab.IsActive = false
			ab.UpdatedAt = now
			if err := tx.UpdateAutoBid(ctx, ab); err != nil {
				return err
			}
			res.AutoBidClosed = true
		case !common.IsNotFound(err):
			return err
		}

		if _, err := m.Complete(ctx, tx, a.ID, userID); err != nil {
			return err
		}

		until := now.Add(league.AbandonCooldown)
		if err := tx.UpsertCooldown(ctx, &store.Cooldown{AuctionID: a.ID, UserID: userID, Until: until}); err != nil {
			return err
		}

		res.AuctionID = a.ID
		res.CooldownUntil = until
		ev = relay.NewEvent(relay.AuctionAbandoned, leagueID, now).WithAuction(a.ID, playerID)
		ev.UserID = userID
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.relay.Publish(ev)
	log.WithFields(log.Fields{
		"league": leagueID,
		"player": playerID,
		"user":   userID,
	}).Info("auction abandoned")
	return &res, nil
}
