package alerting

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"card-price-sync/internal/storage"
)

// Notification carries the alerts raised by one detection pass.
type Notification struct {
	RunID         string
	Alerts        []storage.PriceAlert
	AdditionalMsg string
}

// Notifier delivers alerts to an outside channel.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier pushes messages through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram notifier.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify posts the rendered text via sendMessage.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	if len(note.Alerts) == 0 && note.AdditionalMsg == "" {
		return nil
	}

	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    RenderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram returned status %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	n.logger.Info().Str("run_id", note.RunID).
		Int("alerts", len(note.Alerts)).
		Msg("alerts delivered (telegram)")
	return nil
}

// RenderMessage formats a notification as plain text, one line per alert.
func RenderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString("[Card Price Alert]\n")
	for _, a := range note.Alerts {
		arrow := "▲"
		if a.Kind == storage.AlertDecrease {
			arrow = "▼"
		}
		builder.WriteString(fmt.Sprintf("%s %s (%s) owner %d: %s -> %s (%+.1f%%)\n",
			arrow,
			a.CardID,
			a.Finish,
			a.OwnerID,
			minorToMajor(a.PreviousMinor),
			minorToMajor(a.NewMinor),
			a.PercentChange,
		))
	}
	if note.RunID != "" {
		builder.WriteString(fmt.Sprintf("Run: %s\n", note.RunID))
	}
	if note.AdditionalMsg != "" {
		builder.WriteString(note.AdditionalMsg)
	}
	return builder.String()
}

func minorToMajor(v int64) string {
	return decimal.New(v, -2).StringFixed(2)
}

var _ Notifier = (*TelegramNotifier)(nil)
