package model

import "errors"

// Error taxonomy shared by the pipeline. Adapters wrap underlying errors
// with one of these so callers can branch with errors.Is.
var (
	// ErrMalformed marks unparseable ticks, frames or candle rows.
	ErrMalformed = errors.New("malformed market data")

	// ErrNoUsableCandles is returned when a backfill response yields zero
	// candles after malformed rows are skipped.
	ErrNoUsableCandles = errors.New("backfill returned no usable candles")

	// ErrCredentialsMissing disables the authenticated subsystem only.
	ErrCredentialsMissing = errors.New("exchange API key or secret not configured")

	// ErrOrderRejected wraps a non-2xx response from the order endpoint.
	ErrOrderRejected = errors.New("order rejected by exchange")

	// ErrTradingDisarmed is returned when an order is attempted before the
	// trading guard was armed.
	ErrTradingDisarmed = errors.New("trading is not armed")

	// ErrRiskLimit is returned when an order would exceed configured limits.
	ErrRiskLimit = errors.New("order exceeds risk limits")

	// ErrUnknownSymbol is returned for empty or invalid symbols.
	ErrUnknownSymbol = errors.New("unknown or invalid symbol")

	// ErrAuthFailed is returned when the exchange rejects the API key or
	// request signature.
	ErrAuthFailed = errors.New("exchange authentication failed")

	// ErrRateLimited is returned when the exchange throttles requests.
	ErrRateLimited = errors.New("exchange rate limit exceeded")

	// ErrExchange is the fallback for exchange errors with no closer match.
	ErrExchange = errors.New("exchange request failed")
)
