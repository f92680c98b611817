package notify

import (
	"context"
	"fmt"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

const telegramMaxLen = 4096

type telegramSender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

type Telegram struct {
	chatID int64
	bot    telegramSender
}

// NewTelegram creates the bot client. It validates the token against the
// Bot API, so it needs network access.
func NewTelegram(token string, chatID int64) (*Telegram, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram: bot token not set")
	}
	if chatID == 0 {
		return nil, fmt.Errorf("telegram: chat id not set")
	}
	b, err := bot.New(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: creating bot: %w", err)
	}
	return &Telegram{chatID: chatID, bot: b}, nil
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) Notify(ctx context.Context, a Alert) error {
	for _, chunk := range SplitMessage(a.Text(), telegramMaxLen) {
		_, err := t.bot.SendMessage(ctx, &bot.SendMessageParams{
			ChatID: t.chatID,
			Text:   chunk,
		})
		if err != nil {
			return fmt.Errorf("telegram: sending message: %w", err)
		}
	}
	return nil
}
