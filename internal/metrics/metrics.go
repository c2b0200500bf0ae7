// Package metrics exposes Prometheus metrics and the /healthz endpoint.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"tradedash/internal/marketdata/bus"
	"tradedash/internal/model"
)

// Metrics holds all Prometheus metrics for the dashboard backend.
type Metrics struct {
	Registry *prometheus.Registry

	TicksTotal      prometheus.Counter
	CandlesTotal    prometheus.Counter
	CandlesAmended  prometheus.Counter
	DroppedTicks    *prometheus.CounterVec // labels: reason
	MalformedFrames prometheus.Counter
	WSReconnects    prometheus.Counter
	StreamState     prometheus.Gauge // 0=disconnected 1=connecting 2=connected 3=resubscribing
	CandleLag       prometheus.Gauge
	HistoryEvicted  prometheus.Gauge

	IndicatorComputeDur prometheus.Histogram
	TrainingSamples     prometheus.Gauge

	// Backpressure
	FanoutBlockedTotal   *prometheus.CounterVec // labels: subscriber
	FanoutBlockedDur     prometheus.Histogram
	ChannelSaturationPct *prometheus.GaugeVec // labels: channel_name

	// Redis mirror circuit breaker
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	RedisBufferedWrites      prometheus.Counter
	RedisMirrorPending       prometheus.Gauge

	OrdersTotal    *prometheus.CounterVec // labels: status, mode
	NoticesTotal   *prometheus.CounterVec // labels: level, source
	GatewayClients prometheus.Gauge
}

// NewMetrics creates all metrics on a fresh registry that also carries the
// Go runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),

		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradedash_ticks_total",
			Help: "Trades accepted from the exchange stream",
		}),
		CandlesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradedash_candles_total",
			Help: "Candles committed",
		}),
		CandlesAmended: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradedash_candles_amended_total",
			Help: "Committed candles revised by late ticks",
		}),
		DroppedTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradedash_dropped_ticks_total",
			Help: "Ticks dropped by the aggregator",
		}, []string{"reason"}),
		MalformedFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradedash_malformed_frames_total",
			Help: "Stream frames that failed to decode",
		}),
		WSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradedash_ws_reconnects_total",
			Help: "Exchange stream reconnection attempts",
		}),
		StreamState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tradedash_stream_state",
			Help: "Connection state (0=disconnected, 1=connecting, 2=connected, 3=resubscribing)",
		}),
		CandleLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tradedash_candle_lag_seconds",
			Help: "Wall clock minus bucket start of the last committed candle",
		}),
		HistoryEvicted: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tradedash_history_evicted",
			Help: "Candles evicted from the rolling history for capacity",
		}),

		IndicatorComputeDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tradedash_indicator_compute_duration_seconds",
			Help:    "Indicator recompute latency per committed candle",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		}),
		TrainingSamples: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tradedash_knn_training_samples",
			Help: "Samples held by the KNN predictor",
		}),

		FanoutBlockedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradedash_fanout_blocked_total",
			Help: "Fan-out sends that waited on a full subscriber",
		}, []string{"subscriber"}),
		FanoutBlockedDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tradedash_fanout_blocked_duration_seconds",
			Help:    "Time the fan-out waited on a full subscriber",
			Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 1, 5},
		}),
		ChannelSaturationPct: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tradedash_channel_saturation_pct",
			Help: "Channel fill percentage (len/cap * 100)",
		}, []string{"channel_name"}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tradedash_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradedash_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		RedisBufferedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradedash_redis_buffered_writes_total",
			Help: "Candles buffered locally while the Redis circuit was open",
		}),
		RedisMirrorPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tradedash_redis_mirror_pending",
			Help: "Candles waiting in the mirror buffer",
		}),

		OrdersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradedash_orders_total",
			Help: "Order attempts by outcome",
		}, []string{"status", "mode"}),
		NoticesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradedash_notices_total",
			Help: "Notices published to users",
		}, []string{"level", "source"}),
		GatewayClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tradedash_gateway_clients",
			Help: "Connected websocket UI clients",
		}),
	}

	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.TicksTotal,
		m.CandlesTotal,
		m.CandlesAmended,
		m.DroppedTicks,
		m.MalformedFrames,
		m.WSReconnects,
		m.StreamState,
		m.CandleLag,
		m.HistoryEvicted,
		m.IndicatorComputeDur,
		m.TrainingSamples,
		m.FanoutBlockedTotal,
		m.FanoutBlockedDur,
		m.ChannelSaturationPct,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.RedisBufferedWrites,
		m.RedisMirrorPending,
		m.OrdersTotal,
		m.NoticesTotal,
		m.GatewayClients,
	)

	return m
}

var streamStates = map[string]float64{
	"disconnected":  0,
	"connecting":    1,
	"connected":     2,
	"resubscribing": 3,
}

// Observe updates metrics and health from one bus event.
func (m *Metrics) Observe(ev model.Event, health *HealthStatus) {
	switch ev.Kind {
	case model.KindPrice:
		m.TicksTotal.Inc()
		if health != nil {
			health.SetLastTickTime(ev.TS)
		}
	case model.KindCandle:
		m.CandlesTotal.Inc()
		if ev.Candle != nil {
			m.CandleLag.Set(time.Since(time.UnixMilli(ev.Candle.Bucket)).Seconds())
		}
	case model.KindCandleAmended:
		m.CandlesAmended.Inc()
	case model.KindStatus:
		if ev.Status == nil {
			return
		}
		m.StreamState.Set(streamStates[ev.Status.State])
		if health != nil {
			health.SetWSConnected(ev.Status.State == "connected")
		}
	case model.KindOrder:
		if ev.Order == nil {
			return
		}
		mode := "live"
		if ev.Order.Paper {
			mode = "paper"
		}
		m.OrdersTotal.WithLabelValues(ev.Order.Status, mode).Inc()
	case model.KindNotice:
		if ev.Notice != nil {
			m.NoticesTotal.WithLabelValues(string(ev.Notice.Level), ev.Notice.Source).Inc()
		}
	}
}

// Run observes events from in until ctx is cancelled or in is closed.
func (m *Metrics) Run(ctx context.Context, in <-chan model.Event, health *HealthStatus) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-in:
			if !ok {
				return
			}
			m.Observe(ev, health)
		}
	}
}

// WatchChannels samples fan-out channel saturation every interval.
func (m *Metrics) WatchChannels(ctx context.Context, stats func() []bus.ChannelStat, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sampleChannels(stats())
		}
	}
}

func (m *Metrics) sampleChannels(stats []bus.ChannelStat) {
	for _, s := range stats {
		if s.Cap == 0 {
			continue
		}
		m.ChannelSaturationPct.WithLabelValues(s.Name).Set(float64(s.Len) / float64(s.Cap) * 100)
	}
}
