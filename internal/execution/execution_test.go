package execution

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradedash/internal/model"
)

const testSecret = "JBSWY3DPEHPK3PXP"

type recorder struct {
	mu     sync.Mutex
	events []model.Event
}

func (r *recorder) Publish(_ context.Context, ev model.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) kinds() []model.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.EventKind, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind
	}
	return out
}

func (r *recorder) last() model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

type fakeExchange struct {
	calls int
	err   error
}

func (f *fakeExchange) MarketOrder(_ context.Context, symbol string, side model.Side, qty decimal.Decimal) (model.OrderResult, error) {
	f.calls++
	res := model.OrderResult{Symbol: symbol, Side: side, Quantity: qty.InexactFloat64()}
	if f.err != nil {
		res.Status = "REJECTED"
		return res, f.err
	}
	res.OrderID = 7
	res.Status = "FILLED"
	res.ExecutedQty = res.Quantity
	res.AvgPrice = 100
	return res, nil
}

func qty(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestGuard(t *testing.T) {
	g := NewGuard(testSecret)
	assert.True(t, g.RequiresCode())
	assert.False(t, g.Armed())

	require.ErrorIs(t, g.Arm("000000x"), model.ErrTradingDisarmed)
	assert.False(t, g.Armed())

	code, err := totp.GenerateCode(testSecret, time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, g.Arm(code))
	assert.True(t, g.Armed())

	g.Disarm()
	assert.False(t, g.Armed())
}

func TestGuard_NoSecret(t *testing.T) {
	g := NewGuard("")
	assert.False(t, g.RequiresCode())
	assert.False(t, g.Armed())
	require.NoError(t, g.Arm(""))
	assert.True(t, g.Armed())
}

func TestRiskManager(t *testing.T) {
	rm := NewRiskManager(RiskLimits{MaxOrderQty: qty("0.5"), MaxOrdersPerDay: 2})
	day1 := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	require.ErrorIs(t, rm.Check(qty("0.6"), day1), model.ErrRiskLimit)
	require.NoError(t, rm.Check(qty("0.5"), day1))

	rm.Record(day1)
	rm.Record(day1)
	require.ErrorIs(t, rm.Check(qty("0.1"), day1), model.ErrRiskLimit)

	// the counter resets at the next UTC day
	require.NoError(t, rm.Check(qty("0.1"), day1.Add(24*time.Hour)))
	assert.Equal(t, 0, rm.Status(day1.Add(24*time.Hour))["orders_today"])
}

func TestPaperExecutor(t *testing.T) {
	prices := func(symbol string) (float64, bool) {
		if symbol == "BTCUSDT" {
			return 20000, true
		}
		return 0, false
	}
	p := NewPaperExecutor(prices, 5)

	buy, err := p.Place(context.Background(), OrderRequest{Symbol: "BTCUSDT", Side: model.Buy, Quantity: qty("0.01")})
	require.NoError(t, err)
	assert.True(t, buy.Paper)
	assert.Equal(t, "FILLED", buy.Status)
	assert.Equal(t, int64(1), buy.OrderID)
	assert.InDelta(t, 20010, buy.AvgPrice, 1e-9)
	assert.InDelta(t, 0.01, buy.ExecutedQty, 1e-12)

	sell, err := p.Place(context.Background(), OrderRequest{Symbol: "BTCUSDT", Side: model.Sell, Quantity: qty("0.01")})
	require.NoError(t, err)
	assert.InDelta(t, 19990, sell.AvgPrice, 1e-9)
	assert.Equal(t, int64(2), sell.OrderID)
	assert.Len(t, p.Fills(), 2)

	_, err = p.Place(context.Background(), OrderRequest{Symbol: "ETHUSDT", Side: model.Buy, Quantity: qty("1")})
	require.ErrorIs(t, err, model.ErrOrderRejected)
}

func TestJournal_RecordRecent(t *testing.T) {
	j, err := NewJournal(filepath.Join(t.TempDir(), "sub", "journal.db"))
	require.NoError(t, err)
	defer j.Close()

	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, j.Record(model.OrderResult{OrderID: 1, ClientOrderID: "a", Symbol: "BTCUSDT", Side: model.Buy,
		Quantity: 0.01, ExecutedQty: 0.01, AvgPrice: 100, Status: "FILLED", Paper: true}, at))
	require.NoError(t, j.Record(model.OrderResult{ClientOrderID: "b", Symbol: "BTCUSDT", Side: model.Sell,
		Quantity: 5, Status: "REJECTED", Error: "too big"}, at.Add(time.Second)))

	recs, err := j.Recent(10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "b", recs[0].ClientOrderID)
	assert.Equal(t, "too big", recs[0].Error)
	assert.Equal(t, model.Sell, recs[0].Side)
	assert.Equal(t, "a", recs[1].ClientOrderID)
	assert.True(t, recs[1].Paper)
	assert.Equal(t, 100.0, recs[1].AvgPrice)

	recs, err = j.Recent(1)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestTrader_DisarmedThenArmed(t *testing.T) {
	ex := &fakeExchange{}
	pub := &recorder{}
	j, err := NewJournal(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer j.Close()

	tr := NewTrader(NewExecutor(ex), NewGuard(""), NewRiskManager(RiskLimits{MaxOrderQty: qty("1")}), j, pub)
	req := OrderRequest{Symbol: "BTCUSDT", Side: model.Buy, Quantity: qty("0.1")}

	res, err := tr.Submit(context.Background(), req)
	require.ErrorIs(t, err, model.ErrTradingDisarmed)
	assert.Equal(t, "REJECTED", res.Status)
	assert.Zero(t, ex.calls)

	require.NoError(t, tr.Guard().Arm(""))
	res, err = tr.Submit(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int64(7), res.OrderID)
	assert.False(t, res.Paper)
	assert.Equal(t, 1, ex.calls)

	assert.Equal(t, []model.EventKind{model.KindOrder, model.KindOrder}, pub.kinds())
	assert.Equal(t, "FILLED", pub.last().Order.Status)

	recs, err := tr.Journal().Recent(10)
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestTrader_RiskAndExchangeRejections(t *testing.T) {
	ex := &fakeExchange{}
	pub := &recorder{}
	tr := NewTrader(NewExecutor(ex), NewGuard(""), NewRiskManager(RiskLimits{MaxOrderQty: qty("1"), MaxOrdersPerDay: 1}), nil, pub)
	require.NoError(t, tr.Guard().Arm(""))

	_, err := tr.Submit(context.Background(), OrderRequest{Symbol: "BTCUSDT", Side: model.Buy, Quantity: qty("2")})
	require.ErrorIs(t, err, model.ErrRiskLimit)
	_, err = tr.Submit(context.Background(), OrderRequest{Symbol: "BTCUSDT", Side: "HOLD", Quantity: qty("1")})
	require.Error(t, err)
	_, err = tr.Submit(context.Background(), OrderRequest{Symbol: "BTCUSDT", Side: model.Buy, Quantity: qty("0")})
	require.ErrorIs(t, err, model.ErrRiskLimit)
	assert.Zero(t, ex.calls)

	ex.err = errors.Join(model.ErrOrderRejected, errors.New("insufficient balance"))
	res, err := tr.Submit(context.Background(), OrderRequest{Symbol: "BTCUSDT", Side: model.Sell, Quantity: qty("0.5")})
	require.ErrorIs(t, err, model.ErrOrderRejected)
	assert.Contains(t, res.Error, "insufficient balance")
	assert.Equal(t, 1, ex.calls)

	// a rejected order does not count against the daily limit
	ex.err = nil
	_, err = tr.Submit(context.Background(), OrderRequest{Symbol: "BTCUSDT", Side: model.Sell, Quantity: qty("0.5")})
	require.NoError(t, err)
	_, err = tr.Submit(context.Background(), OrderRequest{Symbol: "BTCUSDT", Side: model.Sell, Quantity: qty("0.5")})
	require.ErrorIs(t, err, model.ErrRiskLimit)

	assert.Len(t, pub.kinds(), 6)
}

type fakeBalances struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (f *fakeBalances) Balances(context.Context) ([]model.Balance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return []model.Balance{{Asset: "USDT", Free: 10}}, nil
}

func TestAccountPoller_KeepsPollingAfterError(t *testing.T) {
	src := &fakeBalances{errs: []error{errors.New("timeout")}}
	pub := &recorder{}
	p := NewAccountPoller(src, pub, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool {
		kinds := pub.kinds()
		return len(kinds) >= 2 && kinds[0] == model.KindNotice && kinds[1] == model.KindAccount
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	pub.mu.Lock()
	defer pub.mu.Unlock()
	assert.True(t, pub.events[0].Notice.Recoverable)
	assert.Equal(t, "USDT", pub.events[1].Account.Balances[0].Asset)
}

func TestAccountPoller_StopsWithoutCredentials(t *testing.T) {
	src := &fakeBalances{errs: []error{model.ErrCredentialsMissing}}
	pub := &recorder{}
	p := NewAccountPoller(src, pub, time.Millisecond)

	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, []model.EventKind{model.KindNotice}, pub.kinds())
	assert.Equal(t, model.NoticeError, pub.last().Notice.Level)
	assert.Equal(t, 1, src.calls)
}

func TestPnLTracker(t *testing.T) {
	p := NewPnLTracker()
	fill := func(side model.Side, qty, price float64) model.OrderResult {
		return model.OrderResult{Symbol: "BTCUSDT", Side: side, ExecutedQty: qty, AvgPrice: price, Status: "FILLED"}
	}

	assert.True(t, p.Record(fill(model.Buy, 1, 100)).IsZero())
	assert.True(t, p.Record(fill(model.Buy, 1, 200)).IsZero())

	// average cost 150; selling 1 at 180 realizes 30
	realized := p.Record(fill(model.Sell, 1, 180))
	assert.Equal(t, "30", realized.String())

	// rejected orders carry no executed quantity
	assert.True(t, p.Record(model.OrderResult{Symbol: "BTCUSDT", Side: model.Sell, Status: "REJECTED"}).IsZero())

	sum := p.Summary(func(string) (float64, bool) { return 160, true })
	assert.Equal(t, 3, sum.Fills)
	assert.InDelta(t, 30, sum.RealizedPnL, 1e-9)
	assert.InDelta(t, 10, sum.UnrealizedPnL, 1e-9)
	assert.InDelta(t, 40, sum.TotalPnL, 1e-9)
	require.Len(t, sum.Positions, 1)
	assert.InDelta(t, 150, sum.Positions[0].AvgPrice, 1e-9)

	// oversell is clipped to the open quantity and closes the position
	assert.Equal(t, "50", p.Record(fill(model.Sell, 5, 200)).String())
	sum = p.Summary(func(string) (float64, bool) { return 0, false })
	assert.Empty(t, sum.Positions)
	assert.InDelta(t, 80, sum.RealizedPnL, 1e-9)
}
