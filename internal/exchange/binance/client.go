// Package binance is the REST adapter for the Binance spot API: kline
// backfill, signed market orders and account balances.
package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	gobinance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"tradedash/internal/model"
)

const defaultBaseURL = "https://api.binance.com"

// Config holds the adapter settings. Key and secret are optional; without
// them only public endpoints work.
type Config struct {
	APIKey    string
	SecretKey string
	BaseURL   string
	Timeout   time.Duration
}

// Client wraps the go-binance spot client.
type Client struct {
	api        *gobinance.Client
	hasSecrets bool
}

// New creates the adapter. BaseURL may point at a testnet or a local stub.
func New(cfg Config) *Client {
	api := gobinance.NewClient(cfg.APIKey, cfg.SecretKey)
	api.BaseURL = defaultBaseURL
	if cfg.BaseURL != "" {
		api.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	api.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	c := &Client{api: api, hasSecrets: cfg.APIKey != "" && cfg.SecretKey != ""}
	if !c.hasSecrets {
		log.Warn().Str("base_url", api.BaseURL).Msg("binance credentials not set, signed endpoints disabled")
	}
	return c
}

// HasCredentials reports whether signed endpoints can be called.
func (c *Client) HasCredentials() bool { return c.hasSecrets }

// Klines returns up to limit recent candles, oldest first. Rows that fail
// to parse or are not valid OHLCV are logged and skipped.
func (c *Client) Klines(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error) {
	const op = "klines"
	rows, err := c.api.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, c.handleError(err, op, nil)
	}

	out := make([]model.Candle, 0, len(rows))
	for i, row := range rows {
		candle, err := translateKline(row)
		if err != nil {
			log.Warn().Err(err).Str("symbol", symbol).Int("row", i).Msg("skipping malformed kline")
			continue
		}
		out = append(out, candle)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s %s %s: %w", op, symbol, interval, model.ErrNoUsableCandles)
	}
	return out, nil
}

// MarketOrder places a signed market order. Exchange rejections are
// returned as ErrOrderRejected carrying the exchange message; the call is
// never retried.
func (c *Client) MarketOrder(ctx context.Context, symbol string, side model.Side, qty decimal.Decimal) (model.OrderResult, error) {
	const op = "market order"
	res := model.OrderResult{
		ClientOrderID: uuid.NewString(),
		Symbol:        symbol,
		Side:          side,
		Quantity:      qty.InexactFloat64(),
	}
	if !c.hasSecrets {
		return res, fmt.Errorf("%s: %w", op, model.ErrCredentialsMissing)
	}

	resp, err := c.api.NewCreateOrderService().
		Symbol(symbol).
		Side(gobinance.SideType(side)).
		Type(gobinance.OrderTypeMarket).
		Quantity(qty.String()).
		NewClientOrderID(res.ClientOrderID).
		NewOrderRespType(gobinance.NewOrderRespTypeRESULT).
		Do(ctx)
	if err != nil {
		err = c.handleError(err, op, model.ErrOrderRejected)
		res.Status = "REJECTED"
		res.Error = err.Error()
		return res, err
	}

	res.OrderID = resp.OrderID
	res.Status = string(resp.Status)
	executed, cumQuote, err := parseFill(resp.ExecutedQuantity, resp.CummulativeQuoteQuantity)
	if err != nil {
		// The order is live on the exchange; report it with what we have.
		log.Warn().Err(err).Int64("order_id", resp.OrderID).Msg("unparseable fill amounts")
		return res, nil
	}
	res.ExecutedQty = executed.InexactFloat64()
	if executed.IsPositive() {
		res.AvgPrice = cumQuote.Div(executed).InexactFloat64()
	}

	log.Info().Str("symbol", symbol).Str("side", string(side)).Str("quantity", qty.String()).
		Int64("order_id", res.OrderID).Float64("avg_price", res.AvgPrice).Msg("market order placed")
	return res, nil
}

// Balances returns the non-zero asset balances of the account.
func (c *Client) Balances(ctx context.Context) ([]model.Balance, error) {
	const op = "account"
	if !c.hasSecrets {
		return nil, fmt.Errorf("%s: %w", op, model.ErrCredentialsMissing)
	}
	acct, err := c.api.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, c.handleError(err, op, nil)
	}

	out := make([]model.Balance, 0, len(acct.Balances))
	for _, b := range acct.Balances {
		free, err1 := strconv.ParseFloat(b.Free, 64)
		locked, err2 := strconv.ParseFloat(b.Locked, 64)
		if err := errors.Join(err1, err2); err != nil {
			log.Warn().Err(err).Str("asset", b.Asset).Msg("skipping malformed balance")
			continue
		}
		if free == 0 && locked == 0 {
			continue
		}
		out = append(out, model.Balance{Asset: b.Asset, Free: free, Locked: locked})
	}
	return out, nil
}

// handleError maps go-binance errors onto the model error taxonomy. When
// base is set it is always wrapped, with the exchange message kept verbatim.
func (c *Client) handleError(err error, op string, base error) error {
	var apiErr *common.APIError
	if !errors.As(err, &apiErr) {
		if base == nil {
			base = model.ErrExchange
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%s: %w", op, err)
		}
		log.Error().Err(err).Str("operation", op).Msg("binance request failed")
		return fmt.Errorf("%s: %w: %w", op, base, err)
	}

	var mapped error
	switch apiErr.Code {
	case -1003, -1015: // too many requests / orders
		mapped = model.ErrRateLimited
	case -1022, -2014, -2015: // bad signature, key format, key permissions
		mapped = model.ErrAuthFailed
	case -1121: // invalid symbol
		mapped = model.ErrUnknownSymbol
	case -2010, -1013, -1111, -1100, -1102, -1106: // new order rejected / bad params
		mapped = model.ErrOrderRejected
	default:
		mapped = model.ErrExchange
	}
	log.Error().Str("operation", op).Int64("api_code", apiErr.Code).Str("api_message", apiErr.Message).
		Msg("binance api error")

	if base != nil && base != mapped {
		return fmt.Errorf("%s: %w: %w: %s", op, base, mapped, apiErr.Message)
	}
	return fmt.Errorf("%s: %w: %s", op, mapped, apiErr.Message)
}

func parseFill(executedQty, cumQuote string) (decimal.Decimal, decimal.Decimal, error) {
	executed, err := decimal.NewFromString(executedQty)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("executed qty %q: %w", executedQty, err)
	}
	quote, err := decimal.NewFromString(cumQuote)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("cumulative quote %q: %w", cumQuote, err)
	}
	return executed, quote, nil
}

func translateKline(k *gobinance.Kline) (model.Candle, error) {
	if k == nil {
		return model.Candle{}, fmt.Errorf("nil kline: %w", model.ErrMalformed)
	}
	var vals [5]float64
	for i, s := range [...]string{k.Open, k.High, k.Low, k.Close, k.Volume} {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return model.Candle{}, fmt.Errorf("kline %d field %d %q: %w", k.OpenTime, i, s, model.ErrMalformed)
		}
		vals[i] = v
	}
	c := model.Candle{
		TS:     k.OpenTime,
		Open:   vals[0],
		High:   vals[1],
		Low:    vals[2],
		Close:  vals[3],
		Volume: vals[4],
		Trades: int(k.TradeNum),
	}
	if !c.Valid() {
		return model.Candle{}, fmt.Errorf("kline %d invalid ohlcv: %w", k.OpenTime, model.ErrMalformed)
	}
	return c, nil
}
