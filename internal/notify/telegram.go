// Package notify delivers operator alerts. The engine treats the channel as
// best-effort: sends are fire-and-forget and failures only log.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
)

// Notifier is the outbound alert channel.
type Notifier interface {
	// Send delivers an informational message.
	Send(ctx context.Context, text string) error
	// Emergency delivers a high-priority alert (circuit breaker, fatal exit).
	Emergency(ctx context.Context, reason string) error
}

// Nop is the disabled notifier.
type Nop struct{}

func (Nop) Send(context.Context, string) error      { return nil }
func (Nop) Emergency(context.Context, string) error { return nil }

// Telegram sends messages through the Bot API.
type Telegram struct {
	http   *resty.Client
	chatID string
	logger *slog.Logger
}

// NewTelegram creates a Telegram notifier. Returns Nop when the token or
// chat id is missing.
func NewTelegram(token, chatID string, logger *slog.Logger) Notifier {
	if token == "" || chatID == "" {
		logger.Info("telegram not configured, notifications disabled")
		return Nop{}
	}
	return &Telegram{
		http: resty.New().
			SetBaseURL("https://api.telegram.org/bot" + token).
			SetTimeout(10 * time.Second),
		chatID: chatID,
		logger: logger.With("component", "notify"),
	}
}

// Send posts a message to the configured chat.
func (t *Telegram) Send(ctx context.Context, text string) error {
	resp, err := t.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"chat_id":    t.chatID,
			"text":       text,
			"parse_mode": "HTML",
		}).
		Post("/sendMessage")
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("telegram send: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// Emergency sends a prefixed high-priority alert.
func (t *Telegram) Emergency(ctx context.Context, reason string) error {
	return t.Send(ctx, "<b>[EMERGENCY STOP]</b>\n"+reason)
}
