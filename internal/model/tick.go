package model

// Tick is a single trade from the exchange feed. It is consumed by the
// aggregator immediately and never stored.
type Tick struct {
	Symbol     string  `json:"symbol"`
	Price      float64 `json:"price"`
	Quantity   float64 `json:"quantity"`
	EventTime  int64   `json:"event_time"` // unix ms
	TradeTime  int64   `json:"trade_time"` // unix ms
	BuyerMaker bool    `json:"buyer_maker"`
}

// Direction is the realized or predicted move of the close price.
type Direction int

const (
	Down Direction = iota
	Up
)

func (d Direction) String() string {
	if d == Up {
		return "up"
	}
	return "down"
}

// MarshalText lets Direction serialize as "up"/"down".
func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Side is an order side.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)
