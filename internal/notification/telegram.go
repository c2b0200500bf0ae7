package notification

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const telegramAPI = "https://api.telegram.org"

// TelegramNotifier posts alerts to one chat through the Bot API, formatted
// as MarkdownV2.
type TelegramNotifier struct {
	baseURL  string
	botToken string
	chatID   string
	client   *http.Client
}

type sendMessage struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

// NewTelegramNotifier creates a notifier for the bot token and chat id.
func NewTelegramNotifier(botToken, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		baseURL:  telegramAPI,
		botToken: botToken,
		chatID:   chatID,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *TelegramNotifier) Send(ctx context.Context, a Alert) error {
	msg := sendMessage{
		ChatID:                t.chatID,
		Text:                  renderTelegram(a),
		ParseMode:             "MarkdownV2",
		DisableWebPagePreview: true,
	}
	url := t.baseURL + "/bot" + t.botToken + "/sendMessage"
	if err := postJSON(ctx, t.client, url, msg); err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	log.Debug().Str("alert", a.Type()).Msg("telegram alert sent")
	return nil
}

// renderTelegram lays out an alert per payload. Numbers go into code spans
// so they need no escaping.
func renderTelegram(a Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s *%s*\n", levelEmoji(a.Level), escapeMarkdown(a.Title()))

	switch {
	case a.Order != nil:
		o := a.Order
		if o.Error != "" {
			fmt.Fprintf(&b, "%s %s `%s`\n_%s_", o.Side, escapeMarkdown(o.Symbol), num(o.Quantity), escapeMarkdown(o.Error))
		} else {
			fmt.Fprintf(&b, "%s %s `%s` @ `%s`\norder `%d`", o.Side, escapeMarkdown(o.Symbol), num(o.ExecutedQty), num(o.AvgPrice), o.OrderID)
		}
	case a.Notice != nil:
		b.WriteString(escapeMarkdown(a.Notice.Message))
		if a.Notice.Recoverable {
			b.WriteString("\n_retrying_")
		}
	case a.Signal != nil:
		s := a.Signal
		fmt.Fprintf(&b, "strength `%.2f`\nmomentum `%.2f%%` volume `x%.2f`\nclose `%s`",
			s.Strength, s.MomentumPct, s.VolumeRatio, num(s.Close))
	}
	return b.String()
}

func levelEmoji(l AlertLevel) string {
	switch l {
	case AlertWarning:
		return "⚠️"
	case AlertCritical:
		return "🚨"
	}
	return "ℹ️"
}

func num(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

// escapeMarkdown escapes special characters for Telegram MarkdownV2.
func escapeMarkdown(s string) string {
	const specials = "_*[]()~`>#+-=|{}.!\\"
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if strings.ContainsRune(specials, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
