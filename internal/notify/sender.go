package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Sender delivers a rendered message to a chat.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// botAPI is the subset of *tgbotapi.BotAPI the sender uses.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramSender sends messages through the Telegram Bot API.
type TelegramSender struct {
	bot botAPI
}

// NewTelegramSender authenticates with token and returns a sender.
func NewTelegramSender(token string) (*TelegramSender, error) {
	if token == "" {
		return nil, errors.New("telegram: empty bot token")
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: connect: %w", err)
	}
	return &TelegramSender{bot: bot}, nil
}

// NewTelegramSenderWithBot wraps an existing bot client.
func NewTelegramSenderWithBot(bot botAPI) *TelegramSender {
	return &TelegramSender{bot: bot}
}

// Send posts text to chatID. The Bot API call is not cancellable; ctx is
// only checked before sending.
func (s *TelegramSender) Send(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		return fmt.Errorf("telegram: send to %d: %w", chatID, err)
	}
	return nil
}

// NopSender discards every message.
type NopSender struct{}

func (NopSender) Send(context.Context, int64, string) error { return nil }

// LogSender writes messages to a logger instead of delivering them. Used when
// no bot token is configured.
type LogSender struct {
	Logger *slog.Logger
}

func (s LogSender) Send(_ context.Context, chatID int64, text string) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("notification", "chat_id", chatID, "text", text)
	return nil
}
