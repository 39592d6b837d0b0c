// Package compliance ведёт ленивые таймеры легальности состава и списывает
// накопленные по ним штрафы.
//
// В памяти ничего не тикает. Каждая проверка заново считает число положенных
// штрафов от сохранённого начала таймера и текущего времени и списывает только
// разницу с уже применёнными в этом цикле.
package compliance

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/draft-auction/internal/common"
	"serotonyl.ru/draft-auction/internal/features/ledger"
	"serotonyl.ru/draft-auction/internal/relay"
	"serotonyl.ru/draft-auction/internal/store"
)

// Result — итог проверки одного участника.
type Result struct {
	LeagueID         int64      `json:"leagueId"`
	UserID           int64      `json:"userId"`
	PhaseIdentifier  string     `json:"phaseIdentifier"`
	Compliant        bool       `json:"compliant"`
	Missing          []string   `json:"missing,omitempty"`
	TimerStartAt     *time.Time `json:"timerStartAt,omitempty"`
	PenaltiesApplied int        `json:"penaltiesApplied"`
	NewPenalties     int        `json:"newPenalties"`
	Charged          int64      `json:"charged"`
}

// Service проверяет составы и начисляет штрафы.
type Service struct {
	store  store.Store
	ledger *ledger.Ledger
	slots  Requirements
	relay  relay.Publisher
	clock  common.Clock
}

// NewService создаёт сервис штрафов.
//
// Параметры:
//   - st: хранилище с транзакциями
//   - l: бюджетная книга (списывает штрафы)
//   - slots: требования к составу по ролям для лиги
//   - pub: получатель событий; nil отключает события
//   - clock: источник времени; nil означает системные часы
func NewService(st store.Store, l *ledger.Ledger, slots Requirements, pub relay.Publisher, clock common.Clock) *Service {
	if pub == nil {
		pub = relay.Nop{}
	}
	return &Service{store: st, ledger: l, slots: slots, relay: pub, clock: clock.OrSystem()}
}

// ProcessUserComplianceAndPenalties проверяет одного участника отдельной единицей работы.
//
// Если состав легален или лига вне стадии торгов, таймер удаляется. Если фаза
// сменилась, таймер и счётчик штрафов начинаются заново.
//
// Возвращает:
//   - *Result: фаза, легальность, начало таймера и списанные штрафы
//   - NotFoundError: нет лиги или участника
func (s *Service) ProcessUserComplianceAndPenalties(ctx context.Context, leagueID, userID int64) (*Result, error) {
	var res *Result
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		res, err = s.evaluate(ctx, tx, leagueID, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if res.NewPenalties > 0 {
		ev := relay.NewEvent(relay.PenaltyApplied, leagueID, s.clock())
		ev.UserID = userID
		ev.Amount = res.Charged
		ev.Status = res.PhaseIdentifier
		s.relay.Publish(ev)
	}
	return res, nil
}

// ProcessExpiredComplianceTimers проверяет всех участников всех незавершённых лиг.
// Каждый участник — своя единица работы; ошибки собираются, проход продолжается.
func (s *Service) ProcessExpiredComplianceTimers(ctx context.Context) (common.BatchResult, error) {
	var result common.BatchResult

	var targets []*store.Participant
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		leagues, err := tx.ListLeagues(ctx)
		if err != nil {
			return err
		}
		for _, l := range leagues {
			if l.Stage == store.StageCompleted {
				continue
			}
			ps, err := tx.ListParticipants(ctx, l.ID)
			if err != nil {
				return fmt.Errorf("list participants of league %d: %w", l.ID, err)
			}
			targets = append(targets, ps...)
		}
		return nil
	})
	if err != nil {
		return result, fmt.Errorf("list compliance targets: %w", err)
	}

	var penalties int
	for _, p := range targets {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		res, err := s.ProcessUserComplianceAndPenalties(ctx, p.LeagueID, p.UserID)
		if err != nil {
			result.Fail(fmt.Sprintf("user %d in league %d", p.UserID, p.LeagueID), err)
			log.WithError(err).WithFields(log.Fields{
				"league": p.LeagueID,
				"user":   p.UserID,
			}).Error("compliance evaluation failed")
			continue
		}
		result.ProcessedCount++
		penalties += res.NewPenalties
	}

	if penalties > 0 || result.FailedCount > 0 {
		log.WithFields(log.Fields{
			"participants": result.ProcessedCount,
			"penalties":    penalties,
			"failed":       result.FailedCount,
		}).Info("compliance sweep finished")
	}
	return result, nil
}

func (s *Service) evaluate(ctx context.Context, tx store.Tx, leagueID, userID int64) (*Result, error) {
	league, err := tx.GetLeague(ctx, leagueID)
	if err != nil {
		return nil, err
	}
	if _, err := tx.GetParticipantForUpdate(ctx, leagueID, userID); err != nil {
		return nil, err
	}
	phase := PhaseIdentifier(league.Stage, league.ActiveRoles)
	res := &Result{LeagueID: leagueID, UserID: userID, PhaseIdentifier: phase}

	cs, err := tx.GetComplianceStatusForUpdate(ctx, leagueID, userID)
	switch {
	case common.IsNotFound(err):
		cs = nil
	case err != nil:
		return nil, err
	}

	// Вне стадий торгов собирать состав не нужно.
	if !league.BiddingOpen() {
		res.Compliant = true
		return res, s.clear(ctx, tx, cs)
	}

	counts, err := tx.RosterCounts(ctx, leagueID, userID)
	if err != nil {
		return nil, err
	}
	slots := s.slots.SlotsFor(leagueID)
	if IsCompliant(counts, slots, league.ActiveRoles) {
		res.Compliant = true
		return res, s.clear(ctx, tx, cs)
	}
	res.Missing = Missing(counts, slots, league.ActiveRoles)

	now := s.clock()
	if cs == nil || cs.PhaseIdentifier != phase {
		if cs != nil {
			log.WithFields(log.Fields{
				"league": leagueID,
				"user":   userID,
				"from":   cs.PhaseIdentifier,
				"to":     phase,
			}).Debug("compliance phase changed, timer restarted")
		}
		cs = &store.ComplianceStatus{
			LeagueID:        leagueID,
			UserID:          userID,
			PhaseIdentifier: phase,
			TimerStartAt:    now,
		}
	}

	due := PenaltiesDue(cs.TimerStartAt, now, league.ComplianceGrace, league.PenaltyInterval)
	for n := cs.PenaltiesApplied + 1; n <= due; n++ {
		charged, err := s.charge(ctx, tx, league, userID, n)
		if err != nil {
			return nil, err
		}
		res.Charged += charged
		res.NewPenalties++
	}
	if due > cs.PenaltiesApplied {
		cs.PenaltiesApplied = due
	}
	cs.UpdatedAt = now
	if err := tx.UpsertComplianceStatus(ctx, cs); err != nil {
		return nil, fmt.Errorf("save compliance status: %w", err)
	}

	start := cs.TimerStartAt
	res.TimerStartAt = &start
	res.PenaltiesApplied = cs.PenaltiesApplied
	if res.NewPenalties > 0 {
		log.WithFields(log.Fields{
			"league":    leagueID,
			"user":      userID,
			"phase":     phase,
			"penalties": res.NewPenalties,
			"charged":   res.Charged,
		}).Info("compliance penalties applied")
	}
	return res, nil
}

// charge списывает штраф номер n, не больше доступных кредитов участника, чтобы
// бюджет не опустился ниже заблокированного. Возвращает списанную сумму.
func (s *Service) charge(ctx context.Context, tx store.Tx, league *store.League, userID int64, n int) (int64, error) {
	available, err := s.ledger.Available(ctx, tx, league.ID, userID)
	if err != nil {
		return 0, err
	}
	amount := min(league.PenaltyAmount, available)
	if amount <= 0 {
		return 0, nil
	}
	return s.ledger.Settle(ctx, tx, ledger.SettleParams{
		LeagueID: league.ID,
		UserID:   userID,
		Amount:   amount,
		Reason:   store.TxPenalty,
		Ref:      ledger.Ref{Description: fmt.Sprintf("roster penalty #%d", n)},
	})
}

func (s *Service) clear(ctx context.Context, tx store.Tx, cs *store.ComplianceStatus) error {
	if cs == nil {
		return nil
	}
	return tx.DeleteComplianceStatus(ctx, cs.LeagueID, cs.UserID)
}
