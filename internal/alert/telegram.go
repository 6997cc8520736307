package alert

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type messageSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier posts alerts to operator chats.
type TelegramNotifier struct {
	bot     messageSender
	chatIDs []int64
}

// NewTelegramNotifier connects to the Bot API with token.
func NewTelegramNotifier(token string, chatIDs []int64) (*TelegramNotifier, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram bot token is empty")
	}
	if len(chatIDs) == 0 {
		return nil, fmt.Errorf("no telegram chat ids configured")
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("connect telegram bot: %w", err)
	}
	return &TelegramNotifier{bot: bot, chatIDs: chatIDs}, nil
}

func (n *TelegramNotifier) Notify(ctx context.Context, a Alert) error {
	text := formatAlert(a)
	var errs []error
	for _, chatID := range n.chatIDs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := n.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
			errs = append(errs, fmt.Errorf("chat %d: %w", chatID, err))
		}
	}
	return errors.Join(errs...)
}

func formatAlert(a Alert) string {
	var b strings.Builder
	if a.Severity == SeverityCritical {
		b.WriteString("🚨 ")
	} else {
		b.WriteString("⚠️ ")
	}
	b.WriteString(a.Title)
	if a.Body != "" {
		b.WriteString("\n\n")
		b.WriteString(a.Body)
	}
	if !a.At.IsZero() {
		b.WriteString("\n\n")
		b.WriteString(a.At.Format("2006-01-02 15:04:05 MST"))
	}
	return b.String()
}
