// Package ledger — service.go открывает чтение бюджета и зачисление в лигу,
// каждое отдельной единицей работы.
package ledger

import (
	"context"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/draft-auction/internal/store"
)

// Balance — видимое снаружи состояние участника.
type Balance struct {
	LeagueID      int64 `json:"leagueId"`
	UserID        int64 `json:"userId"`
	CurrentBudget int64 `json:"currentBudget"`
	LockedCredits int64 `json:"lockedCredits"`
	Available     int64 `json:"available"`
}

// Service оборачивает бюджетную книгу своими транзакциями для чтения и админки.
type Service struct {
	store  store.Store
	ledger *Ledger
}

// NewService создаёт сервис бюджета.
func NewService(st store.Store, l *Ledger) *Service {
	return &Service{store: st, ledger: l}
}

// Ledger возвращает книгу, которую остальные компоненты используют внутри транзакций.
func (s *Service) Ledger() *Ledger {
	return s.ledger
}

// GetBalance возвращает бюджет, блокировки и доступные кредиты.
func (s *Service) GetBalance(ctx context.Context, leagueID, userID int64) (*Balance, error) {
	var b Balance
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		p, err := tx.GetParticipantForUpdate(ctx, leagueID, userID)
		if err != nil {
			return err
		}
		b = Balance{
			LeagueID:      p.LeagueID,
			UserID:        p.UserID,
			CurrentBudget: p.CurrentBudget,
			LockedCredits: p.LockedCredits,
			Available:     p.Available(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// Enroll добавляет пользователя в лигу со стартовым бюджетом лиги.
func (s *Service) Enroll(ctx context.Context, leagueID, userID int64) (*Balance, error) {
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		league, err := tx.GetLeague(ctx, leagueID)
		if err != nil {
			return err
		}
		return tx.InsertParticipant(ctx, enrollment(league, userID, s.ledger.clock()))
	})
	if err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{
		"league": leagueID,
		"user":   userID,
	}).Info("participant enrolled")
	return s.GetBalance(ctx, leagueID, userID)
}

// Reconcile проверяет инвариант бюджета для одного участника.
func (s *Service) Reconcile(ctx context.Context, leagueID, userID int64) error {
	return s.store.InTx(ctx, func(tx store.Tx) error {
		p, err := tx.GetParticipantForUpdate(ctx, leagueID, userID)
		if err != nil {
			return err
		}
		txs, err := tx.ListBudgetTransactions(ctx, leagueID, userID)
		if err != nil {
			return err
		}
		return Reconcile(p, txs)
	})
}
