// Package notification turns stream errors, order results and momentum
// signals into alerts for the log, Telegram or a webhook.
package notification

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"tradedash/internal/model"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Signal is a momentum signal fired on a committed candle.
type Signal struct {
	Bucket int64   `json:"bucket_time"`
	Close  float64 `json:"close"`
	model.MomentumSignal
}

// Alert is one user-facing notification. Exactly one of Notice, Order and
// Signal is set; backends render each payload in their own format.
type Alert struct {
	Level  AlertLevel
	Symbol string
	At     time.Time

	Notice *model.Notice
	Order  *model.OrderResult
	Signal *Signal
}

// Type names the alert for routing, e.g. "stream_error", "order_rejected",
// "momentum_buy".
func (a Alert) Type() string {
	switch {
	case a.Notice != nil:
		return a.Notice.Source + "_error"
	case a.Order != nil:
		if a.Order.Error != "" {
			return "order_rejected"
		}
		return "order_filled"
	case a.Signal != nil:
		return "momentum_" + strings.ToLower(string(a.Signal.Action))
	}
	return "unknown"
}

// Title is a one-line headline.
func (a Alert) Title() string {
	switch {
	case a.Notice != nil:
		return strings.TrimSpace(fmt.Sprintf("%s error %s", a.Notice.Source, a.Symbol))
	case a.Order != nil:
		if a.Order.Error != "" {
			return orderMode(a.Order) + " order rejected"
		}
		return fmt.Sprintf("%s order %s", orderMode(a.Order), a.Order.Status)
	case a.Signal != nil:
		return fmt.Sprintf("%s momentum %s", a.Symbol, a.Signal.Action)
	}
	return ""
}

// Text is the plain-text body.
func (a Alert) Text() string {
	switch {
	case a.Notice != nil:
		return a.Notice.Message
	case a.Order != nil:
		o := a.Order
		if o.Error != "" {
			return fmt.Sprintf("%s %s %g: %s", o.Side, o.Symbol, o.Quantity, o.Error)
		}
		return fmt.Sprintf("%s %s %g @ %g (id %d)", o.Side, o.Symbol, o.ExecutedQty, o.AvgPrice, o.OrderID)
	case a.Signal != nil:
		s := a.Signal
		return fmt.Sprintf("strength %.2f, momentum %.2f%%, volume x%.2f, close %g",
			s.Strength, s.MomentumPct, s.VolumeRatio, s.Close)
	}
	return ""
}

func orderMode(o *model.OrderResult) string {
	if o.Paper {
		return "paper"
	}
	return "live"
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier writes alerts to the application log.
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(_ context.Context, a Alert) error {
	ev := log.Info()
	switch a.Level {
	case AlertWarning:
		ev = log.Warn()
	case AlertCritical:
		ev = log.Error()
	}
	ev = ev.Str("alert", a.Type()).Str("symbol", a.Symbol)
	switch {
	case a.Order != nil:
		ev = ev.Str("side", string(a.Order.Side)).Float64("qty", a.Order.Quantity).
			Str("status", a.Order.Status).Bool("paper", a.Order.Paper)
	case a.Notice != nil:
		ev = ev.Bool("recoverable", a.Notice.Recoverable)
	case a.Signal != nil:
		ev = ev.Float64("strength", a.Signal.Strength).Int64("bucket", a.Signal.Bucket)
	}
	ev.Msg(a.Text())
	return nil
}

// Multi sends each alert to every backend and joins their errors.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// postJSON POSTs v as JSON and expects a 2xx answer.
func postJSON(ctx context.Context, client *http.Client, url string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
