package indicator

import (
	"math"
	"slices"

	"tradedash/internal/model"
	"tradedash/internal/ringbuf"
)

// FeatureVector is the KNN input:
//
//	[ma_short/ma_long - 1, rsi/100, recent_volume/avg_volume, last_change_pct/100]
type FeatureVector [4]float64

func (f FeatureVector) distance(o FeatureVector) float64 {
	var sum float64
	for i := range f {
		d := f[i] - o[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

type sample struct {
	features FeatureVector
	label    model.Direction
}

// Predictor is a k-nearest-neighbour direction classifier over a bounded
// FIFO training buffer. Features and labels are stored as pairs so the two
// can never drift out of lock-step.
//
// A Predictor is owned by one goroutine.
type Predictor struct {
	k         int
	window    int
	shortMA   int
	longMA    int
	rsiPeriod int

	buf *ringbuf.Ring[sample]
}

// NewPredictor creates a predictor voting over k neighbours, keeping at most
// capacity training samples. Feature extraction looks at the last window
// candles.
func NewPredictor(k, capacity, window, shortMA, longMA, rsiPeriod int) *Predictor {
	return &Predictor{
		k:         max(k, 1),
		window:    window,
		shortMA:   shortMA,
		longMA:    longMA,
		rsiPeriod: rsiPeriod,
		buf:       ringbuf.New[sample](capacity),
	}
}

// ExtractFeatures builds the feature vector from the newest candles.
// ok is false when fewer than window candles are available or the window is
// too short for the configured MA/RSI periods.
func (p *Predictor) ExtractFeatures(candles []model.Candle) (FeatureVector, bool) {
	if len(candles) < p.window || len(candles) < 2 {
		return FeatureVector{}, false
	}
	win := candles[len(candles)-p.window:]

	maShort, ok1 := MovingAverage(win, p.shortMA).Last()
	maLong, ok2 := MovingAverage(win, p.longMA).Last()
	rsi, ok3 := RSISeries(win, p.rsiPeriod).Last()
	if !ok1 || !ok2 || !ok3 || maLong.Value == 0 {
		return FeatureVector{}, false
	}

	var vsum float64
	for _, c := range win {
		vsum += c.Volume
	}
	last := win[len(win)-1]
	var volRatio float64
	if avg := vsum / float64(len(win)); avg > 0 {
		volRatio = last.Volume / avg
	}

	prev := candles[len(candles)-2].Close
	if prev == 0 {
		return FeatureVector{}, false
	}
	changePct := (last.Close - prev) / prev * 100

	return FeatureVector{
		maShort.Value/maLong.Value - 1,
		rsi.Value / 100,
		volRatio,
		changePct / 100,
	}, true
}

// Predict votes among the k nearest training samples (Euclidean distance,
// equal distances keep buffer order). Up wins only when more than half of k
// voted up, so a buffer holding fewer than k samples can fall short of a
// majority and yield Down. ok is false when the buffer is empty.
func (p *Predictor) Predict(f FeatureVector) (model.Direction, bool) {
	n := p.buf.Len()
	if n == 0 {
		return model.Down, false
	}

	type neighbour struct {
		dist  float64
		label model.Direction
	}
	ns := make([]neighbour, 0, n)
	for _, s := range p.buf.All() {
		ns = append(ns, neighbour{dist: f.distance(s.features), label: s.label})
	}
	slices.SortStableFunc(ns, func(a, b neighbour) int {
		switch {
		case a.dist < b.dist:
			return -1
		case a.dist > b.dist:
			return 1
		}
		return 0
	})

	up := 0
	for _, nb := range ns[:min(p.k, n)] {
		if nb.label == model.Up {
			up++
		}
	}
	if up*2 > p.k {
		return model.Up, true
	}
	return model.Down, true
}

// Train appends a labelled sample, evicting the oldest once full.
func (p *Predictor) Train(f FeatureVector, label model.Direction) {
	p.buf.Push(sample{features: f, label: label})
}

// Reset drops all training samples.
func (p *Predictor) Reset() { p.buf.Reset() }

// Len returns the number of buffered training samples.
func (p *Predictor) Len() int { return p.buf.Len() }

// Cap returns the training buffer capacity.
func (p *Predictor) Cap() int { return p.buf.Cap() }
