package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

const (
	// telegramBaseURL is the telegram bot API endpoint.
	telegramBaseURL = "https://api.telegram.org"
	// requestTimeout bounds notification delivery.
	requestTimeout = time.Second * 10
)

// TelegramConfig represents the telegram notifier configuration.
type TelegramConfig struct {
	// BaseURL overrides the default API endpoint when set, used by tests.
	BaseURL string
	// BotToken is the telegram bot token. An empty token disables the
	// notifier.
	BotToken string
	// ChatID is the chat notifications are delivered to.
	ChatID string
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Telegram delivers best-effort push notifications through the telegram bot
// API. Delivery failures are logged and never propagated, a dropped
// notification must not interrupt trading.
type Telegram struct {
	cfg   *TelegramConfig
	httpc http.Client
}

// NewTelegram initializes a new telegram notifier.
func NewTelegram(cfg *TelegramConfig) *Telegram {
	return &Telegram{
		cfg:   cfg,
		httpc: http.Client{Timeout: requestTimeout},
	}
}

// Enabled reports whether the notifier has delivery credentials.
func (t *Telegram) Enabled() bool {
	return t.cfg.BotToken != "" && t.cfg.ChatID != ""
}

// Notify delivers the provided message, best effort.
func (t *Telegram) Notify(ctx context.Context, message string) {
	if !t.Enabled() {
		return
	}

	base := telegramBaseURL
	if t.cfg.BaseURL != "" {
		base = t.cfg.BaseURL
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", base, t.cfg.BotToken)

	params := url.Values{}
	params.Set("chat_id", t.cfg.ChatID)
	params.Set("text", message)
	params.Set("disable_web_page_preview", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		bytes.NewReader([]byte(params.Encode())))
	if err != nil {
		t.cfg.Logger.Error().Msgf("creating notification request: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.httpc.Do(req)
	if err != nil {
		t.cfg.Logger.Error().Msgf("delivering notification: %v", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.cfg.Logger.Error().Msgf("notification delivery failed: %s: %s",
			resp.Status, ParseDeliveryError(body))
	}
}

// ParseDeliveryError extracts the error description from a telegram API
// response body.
func ParseDeliveryError(body []byte) string {
	payload := gjson.ParseBytes(body)
	if payload.Get("ok").Bool() {
		return ""
	}

	return payload.Get("description").String()
}
