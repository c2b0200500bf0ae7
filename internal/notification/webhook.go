package notification

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"tradedash/internal/model"
)

// WebhookNotifier POSTs alerts as typed JSON documents. The payload that
// raised the alert is forwarded whole so receivers can route on it.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

type webhookPayload struct {
	Type    string             `json:"type"`
	Level   AlertLevel         `json:"level"`
	Service string             `json:"service"`
	Symbol  string             `json:"symbol,omitempty"`
	Title   string             `json:"title"`
	Text    string             `json:"text"`
	TS      time.Time          `json:"ts"`
	Notice  *model.Notice      `json:"notice,omitempty"`
	Order   *model.OrderResult `json:"order,omitempty"`
	Signal  *Signal            `json:"signal,omitempty"`
}

// NewWebhookNotifier creates a notifier posting to url.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *WebhookNotifier) Send(ctx context.Context, a Alert) error {
	at := a.At
	if at.IsZero() {
		at = time.Now()
	}
	p := webhookPayload{
		Type:    a.Type(),
		Level:   a.Level,
		Service: "tradedash",
		Symbol:  a.Symbol,
		Title:   a.Title(),
		Text:    a.Text(),
		TS:      at.UTC(),
		Notice:  a.Notice,
		Order:   a.Order,
		Signal:  a.Signal,
	}
	if err := postJSON(ctx, w.client, w.url, p); err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	log.Debug().Str("url", w.url).Str("alert", p.Type).Msg("webhook alert sent")
	return nil
}
