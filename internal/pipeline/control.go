package pipeline

import "context"

// SymbolSwitcher requests a resubscription of the exchange stream. The
// stream manager implements it.
type SymbolSwitcher interface {
	RequestSwitch(ctx context.Context, symbol string) error
}

// Control is the user-facing control surface shared by the REST API and
// the websocket gateway.
type Control struct {
	orch   *Orchestrator
	stream SymbolSwitcher
}

// NewControl binds the orchestrator and the stream manager.
func NewControl(orch *Orchestrator, stream SymbolSwitcher) *Control {
	return &Control{orch: orch, stream: stream}
}

// SwitchSymbol resubscribes to symbol. The orchestrator rebuilds its
// state when the stream reports the switch.
func (c *Control) SwitchSymbol(ctx context.Context, symbol string) error {
	return c.stream.RequestSwitch(ctx, symbol)
}

// SwitchInterval changes the candle timeframe.
func (c *Control) SwitchInterval(ctx context.Context, interval string) error {
	return c.orch.Submit(ctx, SwitchInterval{Interval: interval})
}

// ToggleIndicator enables or disables forwarding of one indicator.
func (c *Control) ToggleIndicator(ctx context.Context, name string, on bool) error {
	return c.orch.Submit(ctx, ToggleIndicator{Name: name, On: on})
}

// Snapshot returns the latest orchestrator snapshot.
func (c *Control) Snapshot() *Snapshot {
	return c.orch.Snapshot()
}
