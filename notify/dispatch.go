package notify

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type Options struct {
	DisablePreview bool
}

// Dispatcher delivers one message to one chat. Callers own pacing.
type Dispatcher interface {
	Dispatch(ctx context.Context, chatID int64, text string, opts Options) error
}

type TelegramDispatcher struct {
	bot *tgbotapi.BotAPI
}

func NewTelegramDispatcher(token string, client *http.Client) (*TelegramDispatcher, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	log.Printf("Telegram dispatcher authorized as @%s", bot.Self.UserName)
	return &TelegramDispatcher{bot: bot}, nil
}

func (d *TelegramDispatcher) Dispatch(ctx context.Context, chatID int64, text string, opts Options) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.DisableWebPagePreview = opts.DisablePreview
	if _, err := d.bot.Send(msg); err != nil {
		return fmt.Errorf("send to %d: %w", chatID, err)
	}
	return nil
}

// LogDispatcher writes messages to the log. Used when no bot token is
// configured.
type LogDispatcher struct{}

func (LogDispatcher) Dispatch(_ context.Context, chatID int64, text string, _ Options) error {
	log.Printf("[info] dispatch %d:\n%s", chatID, text)
	return nil
}

// Sender paces a batch of messages to one chat. A failed delivery is logged
// and not retried.
type Sender struct {
	dispatcher Dispatcher
	delay      time.Duration
}

func NewSender(d Dispatcher, delay time.Duration) *Sender {
	return &Sender{dispatcher: d, delay: delay}
}

// Send returns how many messages were delivered.
func (s *Sender) Send(ctx context.Context, chatID int64, messages []string) int {
	sent := 0
	for i, text := range messages {
		if i > 0 && s.delay > 0 {
			select {
			case <-time.After(s.delay):
			case <-ctx.Done():
				return sent
			}
		}
		if err := s.dispatcher.Dispatch(ctx, chatID, text, Options{DisablePreview: true}); err != nil {
			log.Printf("[error] dispatch to %d: %v", chatID, err)
			continue
		}
		sent++
	}
	return sent
}
