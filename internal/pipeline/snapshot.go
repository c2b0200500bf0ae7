package pipeline

import (
	"time"

	"tradedash/internal/model"
)

// Snapshot is a read-only view of orchestrator state for the REST API and
// newly connected UI clients. Every slice and map in it is owned by the
// snapshot; callers must not mutate them.
type Snapshot struct {
	Symbol          string                 `json:"symbol"`
	Interval        string                 `json:"interval"`
	State           string                 `json:"state"`
	LastPrice       float64                `json:"last_price"`
	PercentChange   float64                `json:"percent_change"`
	Current         *model.Candle          `json:"current,omitempty"`
	History         []model.Candle         `json:"history"`
	Indicators      *model.IndicatorUpdate `json:"indicators,omitempty"`
	Live            map[string]float64     `json:"live,omitempty"`
	Enabled         map[string]bool        `json:"enabled"`
	TrainingSamples int                    `json:"training_samples"`
	HistoryEvicted  uint64                 `json:"history_evicted"`
	UpdatedAt       time.Time              `json:"updated_at"`
}

// clone returns a shallow copy. Shared slices and maps are immutable once
// published, so only fields being replaced need fresh values.
func (s *Snapshot) clone() *Snapshot {
	c := *s
	return &c
}
