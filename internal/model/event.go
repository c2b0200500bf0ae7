package model

import (
	"time"

	json "github.com/goccy/go-json"
)

// EventKind identifies the payload carried by an Event.
type EventKind string

const (
	KindPrice      EventKind = "price"
	KindCandle     EventKind = "candle"
	KindNotice     EventKind = "notice"
	KindIndicators EventKind = "indicators"
	KindAccount    EventKind = "account"
	KindOrder      EventKind = "order"
	KindStatus     EventKind = "status"

	// KindCandleAmended carries a committed candle revised by a late tick.
	// Its bucket was already published once as KindCandle.
	KindCandleAmended EventKind = "candle_amended"
)

// Event is the single envelope type carried on the outbound event bus.
// Exactly one payload pointer is set, matching Kind. Payloads are copies;
// consumers may keep them but must not mutate them.
type Event struct {
	Kind   EventKind `json:"kind"`
	Symbol string    `json:"symbol"`
	TS     time.Time `json:"ts"`

	Price      *PriceUpdate     `json:"price,omitempty"`
	Candle     *CommittedCandle `json:"candle,omitempty"`
	Notice     *Notice          `json:"notice,omitempty"`
	Indicators *IndicatorUpdate `json:"indicators,omitempty"`
	Account    *AccountUpdate   `json:"account,omitempty"`
	Order      *OrderResult     `json:"order,omitempty"`
	Status     *StatusUpdate    `json:"status,omitempty"`
}

// JSON returns the JSON-encoded event.
func (e *Event) JSON() []byte {
	b, _ := json.Marshal(e)
	return b
}

// PriceUpdate is emitted for every accepted tick.
type PriceUpdate struct {
	Symbol        string  `json:"symbol"`
	Price         float64 `json:"price"`
	PercentChange float64 `json:"percent_change"`
}

// NoticeLevel is the severity of a Notice.
type NoticeLevel string

const (
	NoticeInfo    NoticeLevel = "info"
	NoticeWarning NoticeLevel = "warning"
	NoticeError   NoticeLevel = "error"
)

// Notice is an informational or error notification for the user.
// Recoverable notices describe conditions the system retries on its own.
type Notice struct {
	Level       NoticeLevel `json:"level"`
	Source      string      `json:"source"`
	Message     string      `json:"message"`
	Recoverable bool        `json:"recoverable"`
}

// Point is one entry of a derived series, keyed by bucket start.
type Point struct {
	TS    int64   `json:"ts"`
	Value float64 `json:"value"`
}

// Bands is one Bollinger band reading.
type Bands struct {
	Upper float64 `json:"upper"`
	Mid   float64 `json:"mid"`
	Lower float64 `json:"lower"`
}

// SignalAction is the side suggested by a signal.
type SignalAction string

const (
	ActionNone SignalAction = "NONE"
	ActionBuy  SignalAction = "BUY"
	ActionSell SignalAction = "SELL"
)

// MomentumSignal is the outcome of the momentum/volume rule.
type MomentumSignal struct {
	Action      SignalAction `json:"action"`
	Strength    float64      `json:"strength"` // [0,1]
	MomentumPct float64      `json:"momentum_pct"`
	VolumeRatio float64      `json:"volume_ratio"`
}

// IndicatorUpdate is the consolidated result recomputed on each commit.
// Only indicators enabled at the time of emission are populated.
type IndicatorUpdate struct {
	Bucket     int64              `json:"bucket_time"`
	Close      float64            `json:"close"`
	Series     map[string][]Point `json:"series,omitempty"`
	Bands      *Bands             `json:"bands,omitempty"`
	Momentum   *MomentumSignal    `json:"momentum,omitempty"`
	Prediction *Direction         `json:"prediction,omitempty"`
}

// Balance is one asset line from the account endpoint.
type Balance struct {
	Asset  string  `json:"asset"`
	Free   float64 `json:"free"`
	Locked float64 `json:"locked"`
}

// AccountUpdate carries the result of one account poll.
type AccountUpdate struct {
	Balances []Balance `json:"balances"`
}

// OrderResult describes a placed (or rejected) market order.
type OrderResult struct {
	OrderID       int64   `json:"order_id"`
	ClientOrderID string  `json:"client_order_id"`
	Symbol        string  `json:"symbol"`
	Side          Side    `json:"side"`
	Quantity      float64 `json:"quantity"`
	ExecutedQty   float64 `json:"executed_qty"`
	AvgPrice      float64 `json:"avg_price"`
	Status        string  `json:"status"`
	Paper         bool    `json:"paper"`
	Error         string  `json:"error,omitempty"`
}

// StatusUpdate reports a connection state transition.
type StatusUpdate struct {
	State   string `json:"state"`
	Attempt int    `json:"attempt"`
}
