package relay

import (
	"context"
	"fmt"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"serotonyl.ru/draft-auction/internal/common"
)

// TelegramSink пишет в чат лиги итоги торгов и штрафы.
// Остальные типы событий пропускаются.
type TelegramSink struct {
	bot    *telego.Bot
	chatID int64
}

// NewTelegramSink создаёт клиента бота для chatID.
func NewTelegramSink(token string, chatID int64) (*TelegramSink, error) {
	bot, err := telego.NewBot(token, telego.WithDiscardLogger())
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &TelegramSink{bot: bot, chatID: chatID}, nil
}

func (s *TelegramSink) Deliver(ctx context.Context, ev Event) error {
	text, ok := ChatText(ev)
	if !ok {
		return nil
	}
	_, err := s.bot.SendMessage(ctx, tu.Message(tu.ID(s.chatID), text))
	return err
}

func (s *TelegramSink) Close() error { return nil }

// ChatText готовит текст события для чата лиги. ok равен false для событий, которые чат не показывает.
func ChatText(ev Event) (text string, ok bool) {
	switch ev.Type {
	case AuctionSold:
		return fmt.Sprintf("🔨 Player #%d sold to user %d for %s", ev.PlayerID, ev.UserID, common.FormatCredits(ev.Amount)), true
	case AuctionExpired:
		return fmt.Sprintf("⌛ Auction for player #%d closed without bids", ev.PlayerID), true
	case PenaltyApplied:
		return fmt.Sprintf("⚠️ User %d fined %s for an incomplete roster", ev.UserID, common.FormatCredits(ev.Amount)), true
	default:
		return "", false
	}
}
