// Package pipeline hosts the signal orchestrator: the single goroutine that
// owns the candle aggregator, the rolling history and every indicator. It
// turns stream messages into outbound events and is the only writer of
// market state; everyone else reads immutable snapshots.
package pipeline

import (
	"context"
	"fmt"
	"maps"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"tradedash/internal/history"
	"tradedash/internal/indicator"
	"tradedash/internal/logger"
	"tradedash/internal/marketdata/agg"
	"tradedash/internal/marketdata/stream"
	"tradedash/internal/model"
)

// Backfiller loads recent candles from the exchange REST API, oldest first.
type Backfiller interface {
	Klines(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error)
}

// Publisher accepts outbound events. The event bus implements it.
type Publisher interface {
	Publish(ctx context.Context, ev model.Event) error
}

// Config holds orchestrator parameters.
type Config struct {
	Symbol        string
	Interval      string
	HistorySize   int
	BackfillLimit int

	MAShortPeriod   int
	MALongPeriod    int
	RSIPeriod       int
	BollingerWindow int
	BollingerStdDev float64
	MomentumPeriod  int
	KNNNeighbours   int
	KNNCapacity     int
	KNNWindow       int

	// SeriesLimit caps the points per series in an indicator update.
	// Defaults to HistorySize.
	SeriesLimit int
}

// Orchestrator runs the aggregation and indicator loop.
type Orchestrator struct {
	cfg        Config
	pub        Publisher
	backfiller Backfiller
	cmds       chan Command

	// Owned by the Run goroutine.
	symbol     string
	interval   string
	hist       *history.Store
	agg        *agg.Aggregator
	predictor  *indicator.Predictor
	live       map[string]indicator.Indicator
	enabled    map[string]bool
	features   *indicator.FeatureVector // extracted at the previous commit
	computed   *model.IndicatorUpdate   // unfiltered, last commit
	refPrice   float64
	amended    []model.CommittedCandle
	historyCpy []model.Candle

	snap atomic.Pointer[Snapshot]

	// Metrics hooks (optional, set externally before Run)
	OnCommit      func(model.CommittedCandle)
	OnDroppedTick func(reason agg.DropReason)
	OnCompute     func(time.Duration)
}

// New creates an Orchestrator. backfiller may be nil.
func New(cfg Config, pub Publisher, backfiller Backfiller) (*Orchestrator, error) {
	intervalMs, err := model.IntervalMillis(cfg.Interval)
	if err != nil {
		return nil, err
	}
	if cfg.SeriesLimit <= 0 {
		cfg.SeriesLimit = cfg.HistorySize
	}

	o := &Orchestrator{
		cfg:        cfg,
		pub:        pub,
		backfiller: backfiller,
		cmds:       make(chan Command, 16),
		symbol:     cfg.Symbol,
		interval:   cfg.Interval,
		hist:       history.New(cfg.HistorySize),
		predictor: indicator.NewPredictor(cfg.KNNNeighbours, cfg.KNNCapacity, cfg.KNNWindow,
			cfg.MAShortPeriod, cfg.MALongPeriod, cfg.RSIPeriod),
		enabled: make(map[string]bool, len(Indicators)),
	}
	for _, name := range Indicators {
		o.enabled[name] = true
	}
	o.agg = agg.New(cfg.Symbol, intervalMs, o.hist)
	o.agg.OnAmended = func(c model.CommittedCandle) { o.amended = append(o.amended, c) }
	o.agg.OnDroppedTick = func(r agg.DropReason) {
		if o.OnDroppedTick != nil {
			o.OnDroppedTick(r)
		}
	}
	o.resetLive()
	o.publishSnapshot(func(s *Snapshot) { s.State = stream.Disconnected.String() })
	return o, nil
}

// Submit validates cmd and queues it for the Run loop.
func (o *Orchestrator) Submit(ctx context.Context, cmd Command) error {
	if err := cmd.validate(); err != nil {
		return err
	}
	select {
	case o.cmds <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns the latest published state. Never nil.
func (o *Orchestrator) Snapshot() *Snapshot {
	return o.snap.Load()
}

// Run consumes stream messages and commands until ctx is cancelled or in is
// closed. The initial backfill happens before the first message is read.
func (o *Orchestrator) Run(ctx context.Context, in <-chan stream.Message) error {
	o.backfill(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil

		case cmd := <-o.cmds:
			o.apply(ctx, cmd)

		case msg, ok := <-in:
			if !ok {
				return nil
			}
			o.handle(ctx, msg)
		}
	}
}

func (o *Orchestrator) handle(ctx context.Context, msg stream.Message) {
	switch msg.Kind {
	case stream.MsgTick:
		o.onTick(ctx, msg.Tick)

	case stream.MsgSwitched:
		if msg.Symbol == o.symbol {
			return
		}
		log.Info().Str("from", o.symbol).Str("to", msg.Symbol).Msg("symbol switched, rebuilding context")
		o.symbol = msg.Symbol
		o.rebuild(ctx)
		o.notice(ctx, model.NoticeInfo, "stream", "switched to "+msg.Symbol, false)

	case stream.MsgError:
		o.notice(ctx, model.NoticeError, "stream", msg.Err.Error(), true)

	case stream.MsgState:
		o.emit(ctx, model.Event{Kind: model.KindStatus, Symbol: o.symbol,
			Status: &model.StatusUpdate{State: msg.State.String(), Attempt: msg.Attempt}})
		o.publishSnapshot(func(s *Snapshot) { s.State = msg.State.String() })
	}
}

func (o *Orchestrator) apply(ctx context.Context, cmd Command) {
	switch c := cmd.(type) {
	case ToggleIndicator:
		o.enabled[c.Name] = c.On
		log.Info().Str("indicator", c.Name).Bool("enabled", c.On).Msg("indicator toggled")
		if o.computed != nil {
			o.emitIndicators(ctx)
		}
		o.publishSnapshot(nil)

	case SwitchInterval:
		if c.Interval == o.interval {
			return
		}
		log.Info().Str("from", o.interval).Str("to", c.Interval).Msg("interval switched, rebuilding context")
		o.interval = c.Interval
		o.rebuild(ctx)
		o.notice(ctx, model.NoticeInfo, "pipeline", "interval set to "+c.Interval, false)
	}
}

func (o *Orchestrator) onTick(ctx context.Context, t model.Tick) {
	committed, ok := o.agg.Ingest(t)
	if t.Symbol != o.symbol || t.Price <= 0 {
		return
	}
	if o.refPrice == 0 {
		o.refPrice = t.Price
	}
	pct := (t.Price - o.refPrice) / o.refPrice * 100

	o.emit(ctx, model.Event{Kind: model.KindPrice, Symbol: o.symbol,
		Price: &model.PriceUpdate{Symbol: o.symbol, Price: t.Price, PercentChange: pct}})

	for _, c := range o.amended {
		o.emit(ctx, model.Event{Kind: model.KindCandleAmended, Symbol: o.symbol, Candle: &c})
	}
	amended := len(o.amended) > 0
	o.amended = o.amended[:0]

	if ok {
		o.onCommit(ctx, committed)
	} else if amended {
		o.onAmend(ctx)
	}

	live := o.liveValues(t.Price)
	cur, hasCur := o.agg.Current()
	o.publishSnapshot(func(s *Snapshot) {
		s.LastPrice = t.Price
		s.PercentChange = pct
		s.Live = live
		s.Current = nil
		if hasCur {
			s.Current = &cur
		}
	})
}

func (o *Orchestrator) onCommit(ctx context.Context, c model.CommittedCandle) {
	ctx = logger.WithTraceID(ctx, logger.GenerateTraceID(o.symbol, time.UnixMilli(c.Candle.TS)))
	if o.OnCommit != nil {
		o.OnCommit(c)
	}
	o.emit(ctx, model.Event{Kind: model.KindCandle, Symbol: o.symbol, Candle: &c})

	for _, ind := range o.live {
		ind.Update(c.Candle)
	}
	o.historyCpy = o.hist.Candles()
	o.train(o.historyCpy)
	o.recompute(ctx)
}

// onAmend refreshes everything derived from history after a late tick
// revised a committed candle. Training labels already assigned stay as they
// are; the pending feature vector is re-extracted.
func (o *Orchestrator) onAmend(ctx context.Context) {
	o.historyCpy = o.hist.Candles()
	o.resetLive()
	for _, c := range o.historyCpy {
		for _, ind := range o.live {
			ind.Update(c)
		}
	}
	o.features = nil
	if f, ok := o.predictor.ExtractFeatures(o.historyCpy); ok {
		o.features = &f
	}
	o.recompute(ctx)
}

// train labels the features extracted at the previous commit with the
// realized direction, then extracts features for the next round.
func (o *Orchestrator) train(candles []model.Candle) {
	n := len(candles)
	if o.features != nil && n >= 2 {
		label := model.Down
		if candles[n-1].Close > candles[n-2].Close {
			label = model.Up
		}
		o.predictor.Train(*o.features, label)
	}
	o.features = nil
	if f, ok := o.predictor.ExtractFeatures(candles); ok {
		o.features = &f
	}
}

// recompute derives every indicator over the current history and emits the
// filtered update.
func (o *Orchestrator) recompute(ctx context.Context) {
	start := time.Now()
	candles := o.historyCpy
	if len(candles) == 0 {
		return
	}
	last := candles[len(candles)-1]

	u := &model.IndicatorUpdate{
		Bucket: last.TS,
		Close:  last.Close,
		Series: map[string][]model.Point{
			IndMAShort: o.tail(indicator.MovingAverage(candles, o.cfg.MAShortPeriod)),
			IndMALong:  o.tail(indicator.MovingAverage(candles, o.cfg.MALongPeriod)),
			IndRSI:     o.tail(indicator.RSISeries(candles, o.cfg.RSIPeriod)),
		},
	}
	if b, ok := indicator.CalculateBands(candles, o.cfg.BollingerWindow, o.cfg.BollingerStdDev); ok {
		u.Bands = &b
	}
	if m, ok := indicator.Momentum(candles, o.cfg.MomentumPeriod); ok {
		u.Momentum = &m
	}
	if o.features != nil {
		if dir, ok := o.predictor.Predict(*o.features); ok {
			u.Prediction = &dir
		}
	}
	o.computed = u
	took := time.Since(start)
	if o.OnCompute != nil {
		o.OnCompute(took)
	}
	logger.Ctx(ctx).Debug().Int64("bucket", last.TS).Int("candles", len(candles)).
		Dur("took", took).Msg("indicators recomputed")
	o.emitIndicators(ctx)
	o.publishSnapshot(nil)
}

func (o *Orchestrator) tail(s indicator.Series) []model.Point {
	pts := s.Points()
	if len(pts) > o.cfg.SeriesLimit {
		pts = pts[len(pts)-o.cfg.SeriesLimit:]
	}
	return pts
}

// filtered applies the toggles to the last computed update.
func (o *Orchestrator) filtered() *model.IndicatorUpdate {
	if o.computed == nil {
		return nil
	}
	u := &model.IndicatorUpdate{
		Bucket: o.computed.Bucket,
		Close:  o.computed.Close,
		Series: make(map[string][]model.Point, 3),
	}
	for name, pts := range o.computed.Series {
		if o.enabled[name] && len(pts) > 0 {
			u.Series[name] = pts
		}
	}
	if o.enabled[IndBollinger] {
		u.Bands = o.computed.Bands
	}
	if o.enabled[IndMomentum] {
		u.Momentum = o.computed.Momentum
	}
	if o.enabled[IndKNN] {
		u.Prediction = o.computed.Prediction
	}
	return u
}

func (o *Orchestrator) emitIndicators(ctx context.Context) {
	o.emit(ctx, model.Event{Kind: model.KindIndicators, Symbol: o.symbol, Indicators: o.filtered()})
}

// rebuild discards all symbol/interval state and reloads from backfill.
func (o *Orchestrator) rebuild(ctx context.Context) {
	intervalMs, _ := model.IntervalMillis(o.interval)
	o.hist.Reset()
	o.agg.Reset(o.symbol, intervalMs)
	o.predictor.Reset()
	o.resetLive()
	o.features = nil
	o.computed = nil
	o.refPrice = 0
	o.amended = o.amended[:0]
	o.historyCpy = nil
	o.publishSnapshot(func(s *Snapshot) {
		s.LastPrice, s.PercentChange = 0, 0
		s.Current, s.Live = nil, nil
	})
	o.backfill(ctx)
}

// backfill seeds history from the REST API. Failures are reported as a
// notice; live data still flows.
func (o *Orchestrator) backfill(ctx context.Context) {
	if o.backfiller == nil {
		return
	}
	candles, err := o.backfiller.Klines(ctx, o.symbol, o.interval, o.cfg.BackfillLimit)
	if err != nil {
		if ctx.Err() == nil {
			log.Warn().Err(err).Str("symbol", o.symbol).Str("interval", o.interval).Msg("backfill failed")
			o.notice(ctx, model.NoticeWarning, "backfill", fmt.Sprintf("backfill %s %s: %v", o.symbol, o.interval, err), true)
		}
		return
	}

	o.agg.Seed(candles)
	o.historyCpy = o.hist.Candles()
	if len(candles) > 0 && o.refPrice == 0 {
		o.refPrice = candles[0].Open
	}

	// Warm up the predictor and live indicators on the seeded history.
	o.features = nil
	for i := range o.historyCpy {
		o.train(o.historyCpy[:i+1])
		for _, ind := range o.live {
			ind.Update(o.historyCpy[i])
		}
	}
	log.Info().Str("symbol", o.symbol).Str("interval", o.interval).
		Int("candles", len(candles)).Int("training_samples", o.predictor.Len()).Msg("backfill loaded")

	o.recompute(ctx)
	cur, hasCur := o.agg.Current()
	o.publishSnapshot(func(s *Snapshot) {
		if hasCur {
			s.Current = &cur
			s.LastPrice = cur.Close
		}
	})
}

func (o *Orchestrator) resetLive() {
	o.live = map[string]indicator.Indicator{
		IndMAShort: indicator.NewSMA(o.cfg.MAShortPeriod),
		IndMALong:  indicator.NewSMA(o.cfg.MALongPeriod),
		IndRSI:     indicator.NewRSI(o.cfg.RSIPeriod),
	}
}

// liveValues previews the streaming indicators as if the in-progress
// candle closed at price.
func (o *Orchestrator) liveValues(price float64) map[string]float64 {
	out := make(map[string]float64, len(o.live))
	for name, ind := range o.live {
		if ind.Ready() && o.enabled[name] {
			out[name] = ind.Peek(price)
		}
	}
	return out
}

func (o *Orchestrator) notice(ctx context.Context, level model.NoticeLevel, source, msg string, recoverable bool) {
	o.emit(ctx, model.Event{Kind: model.KindNotice, Symbol: o.symbol, Notice: &model.Notice{
		Level: level, Source: source, Message: msg, Recoverable: recoverable,
	}})
}

func (o *Orchestrator) emit(ctx context.Context, ev model.Event) {
	if err := o.pub.Publish(ctx, ev); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Str("kind", string(ev.Kind)).Msg("publish failed")
	}
}

// publishSnapshot stores a new snapshot built from the previous one.
func (o *Orchestrator) publishSnapshot(mutate func(*Snapshot)) {
	var s *Snapshot
	if prev := o.snap.Load(); prev != nil {
		s = prev.clone()
	} else {
		s = &Snapshot{}
	}
	s.Symbol = o.symbol
	s.Interval = o.interval
	s.History = o.historyCpy
	s.Indicators = o.filtered()
	s.Enabled = maps.Clone(o.enabled)
	s.TrainingSamples = o.predictor.Len()
	s.HistoryEvicted = o.hist.Evicted()
	s.UpdatedAt = time.Now().UTC()
	if mutate != nil {
		mutate(s)
	}
	o.snap.Store(s)
}
