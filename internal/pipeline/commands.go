package pipeline

import (
	"errors"
	"fmt"
	"slices"

	"tradedash/internal/model"
)

// Indicator names accepted by ToggleIndicator.
const (
	IndMAShort   = "ma_short"
	IndMALong    = "ma_long"
	IndRSI       = "rsi"
	IndBollinger = "bollinger"
	IndMomentum  = "momentum"
	IndKNN       = "knn"
)

// Indicators lists every toggleable indicator.
var Indicators = []string{IndMAShort, IndMALong, IndRSI, IndBollinger, IndMomentum, IndKNN}

// ErrUnknownIndicator is returned for toggles naming no known indicator.
var ErrUnknownIndicator = errors.New("unknown indicator")

// Command is a control message consumed by the orchestrator loop.
type Command interface {
	validate() error
}

// ToggleIndicator enables or disables forwarding of one indicator.
// Computation is unaffected.
type ToggleIndicator struct {
	Name string
	On   bool
}

func (c ToggleIndicator) validate() error {
	if !slices.Contains(Indicators, c.Name) {
		return fmt.Errorf("%w: %q", ErrUnknownIndicator, c.Name)
	}
	return nil
}

// SwitchInterval changes the candle timeframe. History, series and
// predictor state are discarded and rebuilt from backfill.
type SwitchInterval struct {
	Interval string
}

func (c SwitchInterval) validate() error {
	_, err := model.IntervalMillis(c.Interval)
	return err
}
