package indicator

import (
	"math"
	"testing"

	"tradedash/internal/model"
)

// ────────────────────────────────────────────────────────────
// Helpers
// ────────────────────────────────────────────────────────────

func candle(close float64) model.Candle {
	return model.Candle{Open: close, High: close + 0.5, Low: close - 0.5, Close: close, Volume: 1}
}

// series builds candles one minute apart from closes.
func series(closes ...float64) []model.Candle {
	out := make([]model.Candle, len(closes))
	for i, c := range closes {
		out[i] = candle(c)
		out[i].TS = int64(i) * 60_000
	}
	return out
}

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f (tol=%.6f, diff=%.6f)", label, got, want, tol, math.Abs(got-want))
	}
}

// ────────────────────────────────────────────────────────────
// SMA / MovingAverage
// ────────────────────────────────────────────────────────────

func TestMovingAverage_Period3(t *testing.T) {
	cs := series(10, 20, 30, 40, 50)
	ma := MovingAverage(cs, 3)

	if ma.Len() != 3 {
		t.Fatalf("expected 3 points, got %d", ma.Len())
	}
	for i := 0; i < 2; i++ {
		if _, ok := ma.Get(cs[i].TS); ok {
			t.Errorf("index %d should be absent", i)
		}
	}
	want := []float64{20, 30, 40}
	for i, w := range want {
		v, ok := ma.Get(cs[i+2].TS)
		if !ok {
			t.Fatalf("index %d missing", i+2)
		}
		assertClose(t, "MA(3)", v, w, 1e-9)
	}
}

func TestMovingAverage_ShortHistory(t *testing.T) {
	if got := MovingAverage(series(1, 2), 3).Len(); got != 0 {
		t.Errorf("expected empty series, got %d points", got)
	}
	if got := MovingAverage(series(1, 2), 0).Len(); got != 0 {
		t.Errorf("expected empty series for period 0, got %d points", got)
	}
}

func TestSMA_Correctness_Period5(t *testing.T) {
	sma := NewSMA(5)
	prices := []float64{10, 11, 12, 13, 14, 15, 16}
	expected := []float64{0, 0, 0, 0, 12.0, 13.0, 14.0}
	ready := []bool{false, false, false, false, true, true, true}

	for i, p := range prices {
		sma.Update(candle(p))
		if sma.Ready() != ready[i] {
			t.Errorf("candle %d: Ready()=%v, want %v", i, sma.Ready(), ready[i])
		}
		if ready[i] {
			assertClose(t, "SMA(5)", sma.Value(), expected[i], 0.0001)
		}
	}
}

func TestSMA_LongRunNoDrift(t *testing.T) {
	sma := NewSMA(3)
	for i := 0; i < 10_000; i++ {
		sma.Update(candle(0.1 * float64(i%7)))
	}
	// last three closes: i=9997,9998,9999 → i%7 = 1,2,3
	assertClose(t, "SMA(3) long run", sma.Value(), 0.2, 1e-9)
}

func TestSMA_Peek_DoesNotMutate(t *testing.T) {
	sma := NewSMA(3)
	for _, p := range []float64{100, 102, 104} {
		sma.Update(candle(p))
	}
	before := sma.Value()

	peek := sma.Peek(110)
	assertClose(t, "SMA Peek", peek, (102+104+110)/3.0, 1e-9)
	assertClose(t, "SMA after Peek", sma.Value(), before, 1e-9)
}

// ────────────────────────────────────────────────────────────
// RSI
// ────────────────────────────────────────────────────────────

func TestRSI_Correctness_Period5(t *testing.T) {
	// Prices: 44, 44.34, 44.09, 43.61, 44.33, 44.83, 45.10, 45.42, 45.84
	//
	// First RSI after 6 candles:
	//   avgGain = (0.34+0.72+0.50)/5 = 0.312
	//   avgLoss = (0.25+0.48)/5      = 0.146
	//   RSI = 100 - 100/(1+2.13699) = 68.112
	// Then Wilder smoothing: 72.219, 76.658, 81.509
	prices := []float64{44, 44.34, 44.09, 43.61, 44.33, 44.83, 45.10, 45.42, 45.84}
	want := []float64{68.112, 72.219, 76.658, 81.509}

	rsi := NewRSI(5)
	for i := 0; i <= 5; i++ {
		rsi.Update(candle(prices[i]))
	}
	assertClose(t, "RSI(5) candle 6", rsi.Value(), want[0], 0.05)
	for i := 6; i < len(prices); i++ {
		rsi.Update(candle(prices[i]))
		assertClose(t, "RSI(5)", rsi.Value(), want[i-5], 0.05)
	}
}

func TestRSISeries_FirstPeriodAbsent(t *testing.T) {
	cs := series(44, 44.34, 44.09, 43.61, 44.33, 44.83, 45.10)
	s := RSISeries(cs, 5)

	if s.Len() != 2 {
		t.Fatalf("expected 2 RSI points, got %d", s.Len())
	}
	for i := 0; i <= 4; i++ {
		if _, ok := s.Get(cs[i].TS); ok {
			t.Errorf("RSI at index %d should be absent", i)
		}
	}
	v, ok := s.Get(cs[5].TS)
	if !ok {
		t.Fatal("RSI at index 5 should be present")
	}
	assertClose(t, "RSI(5) index 5", v, 68.112, 0.05)
}

func TestRSI_AllUp_Is100(t *testing.T) {
	closes := make([]float64, 10)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	last, ok := RSISeries(series(closes...), 5).Last()
	if !ok {
		t.Fatal("expected RSI value")
	}
	assertClose(t, "RSI all up", last.Value, 100.0, 0)
}

func TestRSI_AllDown_Is0(t *testing.T) {
	rsi := NewRSI(5)
	for i := 0; i < 10; i++ {
		rsi.Update(candle(200 - float64(i)))
	}
	assertClose(t, "RSI all down", rsi.Value(), 0.0, 0.001)
}

func TestRSI_Flat_Is100(t *testing.T) {
	// avgLoss == 0 → 100 regardless of avgGain
	rsi := NewRSI(5)
	for i := 0; i < 10; i++ {
		rsi.Update(candle(100))
	}
	assertClose(t, "RSI flat", rsi.Value(), 100.0, 0.001)
}

func TestRSI_Peek_DoesNotMutate(t *testing.T) {
	rsi := NewRSI(5)
	for i := 0; i < 10; i++ {
		rsi.Update(candle(100 + float64(i)))
	}
	before := rsi.Value()

	peekDown := rsi.Peek(80)
	if peekDown >= before {
		t.Errorf("RSI Peek with lower price should decrease: peek=%.2f, current=%.2f", peekDown, before)
	}
	assertClose(t, "RSI after Peek", rsi.Value(), before, 0.0001)
}

func TestRSI_Reset(t *testing.T) {
	rsi := NewRSI(3)
	for i := 0; i < 6; i++ {
		rsi.Update(candle(100 + float64(i)))
	}
	rsi.Reset()
	if rsi.Ready() || rsi.Value() != 0 {
		t.Fatalf("expected cleared RSI, ready=%v value=%f", rsi.Ready(), rsi.Value())
	}
}

// ────────────────────────────────────────────────────────────
// Cross-indicator: same data → correct ordering
// ────────────────────────────────────────────────────────────

func TestIndicators_TrendingUp_Ordering(t *testing.T) {
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	cs := series(closes...)
	fast, _ := MovingAverage(cs, 5).Last()
	slow, _ := MovingAverage(cs, 20).Last()

	if fast.Value <= slow.Value {
		t.Errorf("SMA(5) should be > SMA(20) in uptrend: SMA5=%.2f, SMA20=%.2f", fast.Value, slow.Value)
	}
}

func TestIndicators_TrendingDown_Ordering(t *testing.T) {
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 200 - float64(i)
	}
	cs := series(closes...)
	fast, _ := MovingAverage(cs, 5).Last()
	slow, _ := MovingAverage(cs, 20).Last()

	if fast.Value >= slow.Value {
		t.Errorf("SMA(5) should be < SMA(20) in downtrend: SMA5=%.2f, SMA20=%.2f", fast.Value, slow.Value)
	}
}
