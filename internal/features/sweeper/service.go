// Package sweeper закрывает аукционы с истёкшим сроком.
//
// Каждый аукцион закрывается своей единицей работы, поэтому ошибка на одном
// не останавливает остальные. Закрытие идемпотентно: проданный или истёкший
// аукцион пропускается, так что повторный запуск безопасен.
package sweeper

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/draft-auction/internal/common"
	"serotonyl.ru/draft-auction/internal/features/ledger"
	"serotonyl.ru/draft-auction/internal/features/timers"
	"serotonyl.ru/draft-auction/internal/relay"
	"serotonyl.ru/draft-auction/internal/store"
)

// DefaultBatchSize — сколько аукционов забирает один проход.
const DefaultBatchSize = 200

// Service закрывает просроченные аукционы.
type Service struct {
	store     store.Store
	ledger    *ledger.Ledger
	timers    *timers.Manager
	relay     relay.Publisher
	clock     common.Clock
	batchSize int
}

// NewService создаёт сервис закрытия аукционов.
//
// Параметры:
//   - st: хранилище с транзакциями
//   - l: бюджетная книга (списывает выигрыш)
//   - tm: менеджер таймеров (закрывает таймеры аукциона)
//   - pub: получатель событий; nil отключает события
//   - clock: источник времени; nil означает системные часы
//   - batchSize: размер пачки за проход; 0 или меньше означает DefaultBatchSize
func NewService(st store.Store, l *ledger.Ledger, tm *timers.Manager, pub relay.Publisher, clock common.Clock, batchSize int) *Service {
	if pub == nil {
		pub = relay.Nop{}
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Service{store: st, ledger: l, timers: tm, relay: pub, clock: clock.OrSystem(), batchSize: batchSize}
}

// outcome — результат закрытия одного аукциона.
type outcome struct {
	closed bool
	event  relay.Event
}

// ProcessExpiredAuctions закрывает все открытые аукционы, чей срок не позже now.
// Аукцион с лидером продаётся: блокировка лидера списывается, игрок
// закрепляется, оставшиеся автоставки закрываются. Аукцион без ставок
// истекает без движения по бюджету.
//
// Возвращает:
//   - common.BatchResult: сколько закрыто, сколько упало и почему
//   - error: только если не удалось получить список аукционов
func (s *Service) ProcessExpiredAuctions(ctx context.Context) (common.BatchResult, error) {
	var result common.BatchResult
	now := s.clock()

	var ids []uuid.UUID
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		ids, err = tx.ListExpiredAuctionIDs(ctx, now, s.batchSize)
		return err
	})
	if err != nil {
		return result, fmt.Errorf("list expired auctions: %w", err)
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		out, err := s.closeOne(ctx, id)
		if err != nil {
			result.Fail("auction "+id.String(), err)
			log.WithError(err).WithField("auction", id).Error("failed to close auction")
			continue
		}
		if out.closed {
			result.ProcessedCount++
			s.relay.Publish(out.event)
		}
	}

	if len(ids) > 0 {
		log.WithFields(log.Fields{
			"due":       len(ids),
			"processed": result.ProcessedCount,
			"failed":    result.FailedCount,
		}).Info("auction sweep finished")
	}
	return result, nil
}

func (s *Service) closeOne(ctx context.Context, id uuid.UUID) (outcome, error) {
	var out outcome
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		a, err := tx.GetAuctionForUpdate(ctx, id)
		if err != nil {
			return err
		}
		now := s.clock()
		// Закрыт прошлым проходом или продлён поздней ставкой после выборки.
		if !a.Status.Open() || a.ScheduledEndTime.After(now) {
			return nil
		}

		if a.HasLeader() {
			if err := s.sell(ctx, tx, a); err != nil {
				return err
			}
			a.Status = store.AuctionSold
		} else {
			a.Status = store.AuctionExpired
		}

		if _, err := tx.DeactivateAutoBids(ctx, a.ID, now); err != nil {
			return fmt.Errorf("deactivate auto bids: %w", err)
		}
		if _, err := s.timers.CloseForAuction(ctx, tx, a.ID); err != nil {
			return fmt.Errorf("close response timers: %w", err)
		}
		a.UpdatedAt = now
		if err := tx.UpdateAuction(ctx, a); err != nil {
			return fmt.Errorf("update auction: %w", err)
		}

		typ := relay.AuctionExpired
		if a.Status == store.AuctionSold {
			typ = relay.AuctionSold
		}
		out.closed = true
		out.event = relay.NewEvent(typ, a.LeagueID, now).WithAuction(a.ID, a.PlayerID)
		out.event.UserID = a.CurrentBidderID
		out.event.Amount = a.CurrentBid
		out.event.Status = string(a.Status)
		return nil
	})
	if err == nil && out.closed {
		log.WithFields(log.Fields{
			"auction": id,
			"status":  out.event.Status,
			"winner":  out.event.UserID,
			"price":   out.event.Amount,
		}).Info("auction closed")
	}
	return out, err
}

// sell списывает блокировку лидера и закрепляет за ним игрока.
// Блокировка на аукционе есть только у лидера, поэтому закрытие остальных
// автоставок ничего не освобождает.
func (s *Service) sell(ctx context.Context, tx store.Tx, a *store.Auction) error {
	_, err := s.ledger.Settle(ctx, tx, ledger.SettleParams{
		LeagueID:   a.LeagueID,
		UserID:     a.CurrentBidderID,
		Amount:     a.CurrentBid,
		FromLocked: true,
		Reason:     store.TxPurchase,
		Ref:        ledger.AuctionRef(a, "auction won"),
	})
	if err != nil {
		return fmt.Errorf("settle winner %d: %w", a.CurrentBidderID, err)
	}

	return tx.InsertAssignment(ctx, &store.PlayerAssignment{
		ID:         uuid.New(),
		LeagueID:   a.LeagueID,
		UserID:     a.CurrentBidderID,
		PlayerID:   a.PlayerID,
		AuctionID:  a.ID,
		Price:      a.CurrentBid,
		AssignedAt: s.clock(),
	})
}
