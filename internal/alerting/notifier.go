package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Event kinds.
const (
	KindTradeExecuted = "TRADE_EXECUTED"
	KindKillSwitch    = "KILL_SWITCH"
)

// Event carries the notification context for one coordinator occurrence.
type Event struct {
	Kind     string
	SignalID string
	Symbol   string
	Side     string
	Size     decimal.Decimal
	Price    decimal.Decimal
	Message  string
	At       time.Time
}

// Notifier delivers coordinator events to an operator channel.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// TelegramNotifier pushes events through the Telegram Bot API.
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

// Notify posts the rendered event via the sendMessage API.
func (n *TelegramNotifier) Notify(ctx context.Context, event Event) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(event),
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
		return fmt.Errorf("telegram unexpected status: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	n.logger.Info().Str("kind", event.Kind).Str("symbol", event.Symbol).Msg("notification sent (Telegram)")
	return nil
}

func renderMessage(event Event) string {
	at := event.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("[DYZEN %s]\n", event.Kind))
	builder.WriteString(fmt.Sprintf("Time: %s UTC\n", at.UTC().Format(time.RFC3339)))
	if event.SignalID != "" {
		builder.WriteString(fmt.Sprintf("Signal: %s\n", event.SignalID))
	}
	if event.Symbol != "" {
		builder.WriteString(fmt.Sprintf("Symbol: %s %s\n", event.Symbol, event.Side))
	}
	if !event.Size.IsZero() {
		builder.WriteString(fmt.Sprintf("Size: %s @ %s\n", event.Size.String(), event.Price.String()))
	}
	if event.Message != "" {
		builder.WriteString(event.Message)
	}
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
