package stream

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"tradedash/internal/model"
)

var validate = validator.New()

// envelope is the combined-stream wrapper ({"stream":..., "data":{...}}).
type envelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// tradeFrame is one Binance trade event. Numeric fields arrive as decimal
// strings and are parsed explicitly so a bad value is never read as zero.
//
//	{"e":"trade","E":1672515782136,"s":"BNBBTC","t":12345,"p":"0.001","q":"100","T":1672515782136,"m":true,"M":true}
type tradeFrame struct {
	EventType  string `json:"e" validate:"omitempty,eq=trade"`
	EventTime  int64  `json:"E" validate:"required,gt=0"`
	Symbol     string `json:"s" validate:"required,alphanum"`
	TradeID    int64  `json:"t"`
	Price      string `json:"p" validate:"required,numeric"`
	Quantity   string `json:"q" validate:"required,numeric"`
	TradeTime  int64  `json:"T" validate:"gte=0"`
	BuyerMaker bool   `json:"m"`
	Ignore     bool   `json:"M"`
}

// DecodeTrade parses a raw or combined-stream trade frame. Every failure
// wraps model.ErrMalformed; the caller decides whether to skip or abort.
func DecodeTrade(raw []byte) (model.Tick, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return model.Tick{}, fmt.Errorf("%w: %v", model.ErrMalformed, err)
	}
	payload := raw
	if env.Stream != "" && len(env.Data) > 0 {
		payload = env.Data
	}

	var f tradeFrame
	if err := json.Unmarshal(payload, &f); err != nil {
		return model.Tick{}, fmt.Errorf("%w: %v", model.ErrMalformed, err)
	}
	if err := validate.Struct(&f); err != nil {
		return model.Tick{}, fmt.Errorf("%w: %v", model.ErrMalformed, err)
	}

	price, err := decimal.NewFromString(f.Price)
	if err != nil || !price.IsPositive() {
		return model.Tick{}, fmt.Errorf("%w: price %q", model.ErrMalformed, f.Price)
	}
	qty, err := decimal.NewFromString(f.Quantity)
	if err != nil || qty.IsNegative() {
		return model.Tick{}, fmt.Errorf("%w: quantity %q", model.ErrMalformed, f.Quantity)
	}

	return model.Tick{
		Symbol:     strings.ToUpper(f.Symbol),
		Price:      price.InexactFloat64(),
		Quantity:   qty.InexactFloat64(),
		EventTime:  f.EventTime,
		TradeTime:  f.TradeTime,
		BuyerMaker: f.BuyerMaker,
	}, nil
}

// TopicURL returns the single-stream trade URL for symbol.
func TopicURL(baseURL, symbol string) string {
	return strings.TrimRight(baseURL, "/") + "/ws/" + strings.ToLower(symbol) + "@trade"
}
