// Package notify delivers reservation outcomes to external channels. Every
// channel is best effort: a failed notification is logged and never affects
// the reservation it describes.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ktxgo/ktxgo/internal/interfaces"
	"github.com/ktxgo/ktxgo/internal/logging"
)

// DefaultTelegramAPI is the Telegram Bot API origin.
const DefaultTelegramAPI = "https://api.telegram.org"

// Status lines
const (
	StatusPaid     = "예약+결제 완료"
	StatusReserved = "예약 완료 (미결제)"
)

// Message renders the notification text for event.
func Message(event interfaces.Event) string {
	status := StatusReserved
	if event.Paid {
		status = StatusPaid
	}
	pnr := event.PNR
	if pnr == "" {
		pnr = "?"
	}
	return fmt.Sprintf("[KTXgo] %s\n%s %s\n%s → %s\n%s %s\nPNR: %s",
		status,
		event.TrainType, event.TrainNo,
		event.Departure, event.Arrival,
		formatDate(event.DepDate), formatTime(event.DepTime),
		pnr)
}

func formatDate(d string) string {
	if len(d) != 8 {
		return d
	}
	return d[:4] + "-" + d[4:6] + "-" + d[6:]
}

func formatTime(t string) string {
	if len(t) < 4 {
		return t
	}
	return t[:2] + ":" + t[2:4]
}

// Telegram sends the notification text to one chat through the Bot API.
type Telegram struct {
	token  string
	chatID string
	apiURL string
	client *http.Client
	logger *logging.Logger
}

// TelegramOption configures a Telegram notifier
type TelegramOption func(*Telegram)

// WithTelegramAPI overrides the Bot API origin.
func WithTelegramAPI(apiURL string) TelegramOption {
	return func(t *Telegram) {
		if apiURL != "" {
			t.apiURL = strings.TrimRight(apiURL, "/")
		}
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) TelegramOption {
	return func(t *Telegram) {
		t.client = client
	}
}

// NewTelegram creates a Telegram notifier for chatID.
func NewTelegram(token, chatID string, logger *logging.Logger, opts ...TelegramOption) (*Telegram, error) {
	if token == "" || chatID == "" {
		return nil, fmt.Errorf("telegram token and chat id are required")
	}
	if logger == nil {
		logger = logging.GetNotifyLogger()
	}
	t := &Telegram{
		token:  token,
		chatID: chatID,
		apiURL: DefaultTelegramAPI,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Name implements interfaces.Notifier
func (t *Telegram) Name() string { return "telegram" }

type sendMessageRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Notify implements interfaces.Notifier
func (t *Telegram) Notify(ctx context.Context, event interfaces.Event) error {
	body, err := json.Marshal(sendMessageRequest{ChatID: t.chatID, Text: Message(event)})
	if err != nil {
		return fmt.Errorf("failed to encode telegram message: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		// The request URL carries the bot token.
		return fmt.Errorf("telegram request failed: %s", redactToken(err.Error(), t.token))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return fmt.Errorf("failed to read telegram response: %w", err)
	}
	var result sendMessageResponse
	if err := json.Unmarshal(data, &result); err != nil {
		return fmt.Errorf("telegram returned HTTP %d with an unreadable body", resp.StatusCode)
	}
	if resp.StatusCode >= http.StatusBadRequest || !result.OK {
		return fmt.Errorf("telegram rejected the message (HTTP %d): %s", resp.StatusCode, result.Description)
	}

	t.logger.Info("Telegram notification sent", "pnr", event.PNR)
	return nil
}

func redactToken(s, token string) string {
	return strings.ReplaceAll(s, token, "<redacted>")
}
