package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-telegram/bot"
)

const (
	DefaultTelegramURL = "https://api.telegram.org"
	defaultTimeout     = 10 * time.Second
	redactedToken      = "<redacted>"
)

var ErrMissingToken = errors.New("telegram bot token is not configured")

type TelegramConfig struct {
	Token   string        `mapstructure:"token"`
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Telegram sends messages through the Bot API sendMessage method.
type Telegram struct {
	bot   *bot.Bot
	token string
}

// NewTelegram does not call getMe, so a misconfigured token surfaces on the
// first send rather than at startup.
func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	if cfg.Token == "" {
		return nil, ErrMissingToken
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultTelegramURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	b, err := bot.New(cfg.Token,
		bot.WithServerURL(strings.TrimRight(baseURL, "/")),
		bot.WithHTTPClient(timeout, &http.Client{Timeout: timeout}),
		bot.WithSkipGetMe(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", redact(err, cfg.Token))
	}
	return &Telegram{bot: b, token: cfg.Token}, nil
}

func (t *Telegram) Send(ctx context.Context, recipient string, text string) error {
	_, err := t.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: recipient,
		Text:   text,
	})
	if err != nil {
		return fmt.Errorf("send message to %s: %w", recipient, redact(err, t.token))
	}
	return nil
}

// redact keeps the token, which is part of every request URL, out of errors.
func redact(err error, token string) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		err = uerr.Err
	}
	if msg := err.Error(); strings.Contains(msg, token) {
		return errors.New(strings.ReplaceAll(msg, token, redactedToken))
	}
	return err
}
