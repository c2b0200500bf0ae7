package indicator

import (
	"slices"

	"tradedash/internal/model"
)

// Series is a derived scalar keyed by the same bucket keys as the candle
// history, ascending. Keys for which the indicator is undefined are absent.
type Series struct {
	points []model.Point
}

// Get returns the value at bucket key ts.
func (s Series) Get(ts int64) (float64, bool) {
	i, ok := slices.BinarySearchFunc(s.points, ts, func(p model.Point, t int64) int {
		switch {
		case p.TS < t:
			return -1
		case p.TS > t:
			return 1
		}
		return 0
	})
	if !ok {
		return 0, false
	}
	return s.points[i].Value, true
}

// Last returns the newest point.
func (s Series) Last() (model.Point, bool) {
	if len(s.points) == 0 {
		return model.Point{}, false
	}
	return s.points[len(s.points)-1], true
}

func (s Series) Len() int { return len(s.points) }

// Values returns the values in key order.
func (s Series) Values() []float64 {
	out := make([]float64, len(s.points))
	for i, p := range s.points {
		out[i] = p.Value
	}
	return out
}

// Points returns a copy of the underlying points.
func (s Series) Points() []model.Point {
	return slices.Clone(s.points)
}
