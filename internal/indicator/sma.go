package indicator

import "tradedash/internal/model"

// SMA calculates Simple Moving Average over a rolling window.
// Uses a preallocated circular buffer for zero-allocation hot path.
type SMA struct {
	period  int
	buf     []float64 // preallocated circular buffer
	idx     int       // current write position
	count   int       // total values received
	sum     float64
	current float64
}

// NewSMA creates a new SMA indicator with the given period.
func NewSMA(period int) *SMA {
	if period < 1 {
		period = 1
	}
	return &SMA{
		period: period,
		buf:    make([]float64, period),
	}
}

func (s *SMA) Name() string { return "SMA" }

func (s *SMA) Update(candle model.Candle) {
	if s.count >= s.period {
		s.sum -= s.buf[s.idx]
	}

	s.buf[s.idx] = candle.Close
	s.sum += candle.Close
	s.idx = (s.idx + 1) % s.period
	s.count++

	if s.count >= s.period {
		// Recompute from the window so the running sum cannot drift.
		if s.count%(s.period*64) == 0 {
			s.sum = 0
			for _, v := range s.buf {
				s.sum += v
			}
		}
		s.current = s.sum / float64(s.period)
	}
}

func (s *SMA) Value() float64 { return s.current }
func (s *SMA) Ready() bool    { return s.count >= s.period }

// Peek computes what Value() would be with an additional candle without mutating state.
func (s *SMA) Peek(close float64) float64 {
	if s.count < s.period {
		return (s.sum + close) / float64(s.count+1)
	}
	return (s.sum - s.buf[s.idx] + close) / float64(s.period)
}

// Reset clears the SMA state for reuse.
func (s *SMA) Reset() {
	s.idx = 0
	s.count = 0
	s.sum = 0
	s.current = 0
	clear(s.buf)
}

// MovingAverage returns the simple moving average of close over the trailing
// period candles. Keys before index period-1 are absent.
func MovingAverage(candles []model.Candle, period int) Series {
	if period < 1 {
		return Series{}
	}
	return feed(NewSMA(period), candles)
}
