// cmd/dashboard — market data and signal backend for the trading dashboard.
//
// Streams trades for one symbol from Binance, aggregates them into candles,
// recomputes indicators on every committed candle and pushes everything to
// browser clients over /ws. Optional sinks: Redis mirror, order journal,
// Telegram and webhook alerts. All settings come from the environment (see
// config.Load).
package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"tradedash/config"
	"tradedash/internal/api"
	"tradedash/internal/exchange/binance"
	"tradedash/internal/execution"
	"tradedash/internal/gateway"
	"tradedash/internal/logger"
	"tradedash/internal/marketdata/agg"
	"tradedash/internal/marketdata/bus"
	"tradedash/internal/marketdata/stream"
	"tradedash/internal/metrics"
	"tradedash/internal/model"
	"tradedash/internal/notification"
	"tradedash/internal/pipeline"
	redisstore "tradedash/internal/store/redis"
)

const (
	replaySize        = 2000
	alertCooldown     = time.Minute
	paperSlippageBps  = 5
	redisBufferSize   = 10000
	livenessInterval  = 10 * time.Second
	channelSampleRate = 5 * time.Second
	statsInterval     = 5 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Init("tradedash", logger.ParseLevel("INFO"))
		log.Fatal().Err(err).Msg("config load failed")
	}
	logger.Init("tradedash", cfg.LogLevel)
	log.Info().Str("symbol", cfg.Symbol).Str("interval", cfg.Interval).
		Bool("paper", cfg.PaperTrading).Bool("credentials", cfg.HasCredentials()).Msg("starting dashboard backend")

	// ---- Setup context for graceful shutdown ----
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, prom, health)
	metricsSrv.Start()

	// ---- Event bus ----
	events := bus.New(cfg.EventBufferSize)
	events.OnBlocked = func(name string, waited time.Duration) {
		prom.FanoutBlockedTotal.WithLabelValues(name).Inc()
		prom.FanoutBlockedDur.Observe(waited.Seconds())
	}
	gatewayCh := events.Subscribe("gateway")
	notifyCh := events.Subscribe("notify")
	metricsCh := events.Subscribe("metrics")
	var redisCh <-chan model.Event
	if cfg.RedisAddr != "" {
		redisCh = events.Subscribe("redis")
	}

	// ---- Exchange ----
	exchange := binance.New(binance.Config{
		APIKey:    cfg.BinanceAPIKey,
		SecretKey: cfg.BinanceAPISecret,
		BaseURL:   cfg.RESTBaseURL,
	})

	manager, err := stream.New(stream.Config{
		BaseURL: cfg.StreamBaseURL,
		Symbol:  cfg.Symbol,
		Backoff: cfg.ReconnectDelay,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("stream manager init failed")
	}
	manager.OnReconnect = prom.WSReconnects.Inc
	manager.OnMalformed = prom.MalformedFrames.Inc

	// ---- Orchestrator ----
	orch, err := pipeline.New(pipeline.Config{
		Symbol:          cfg.Symbol,
		Interval:        cfg.Interval,
		HistorySize:     cfg.HistorySize,
		BackfillLimit:   cfg.BackfillLimit,
		MAShortPeriod:   cfg.MAShortPeriod,
		MALongPeriod:    cfg.MALongPeriod,
		RSIPeriod:       cfg.RSIPeriod,
		BollingerWindow: cfg.BollingerWindow,
		BollingerStdDev: cfg.BollingerStdDev,
		MomentumPeriod:  cfg.MomentumPeriod,
		KNNNeighbours:   cfg.KNNNeighbours,
		KNNCapacity:     cfg.KNNCapacity,
		KNNWindow:       cfg.KNNWindow,
	}, events, exchange)
	if err != nil {
		log.Fatal().Err(err).Msg("orchestrator init failed")
	}
	orch.OnDroppedTick = func(r agg.DropReason) {
		prom.DroppedTicks.WithLabelValues(string(r)).Inc()
	}
	orch.OnCompute = func(d time.Duration) {
		prom.IndicatorComputeDur.Observe(d.Seconds())
		snap := orch.Snapshot()
		prom.TrainingSamples.Set(float64(snap.TrainingSamples))
		prom.HistoryEvicted.Set(float64(snap.HistoryEvicted))
	}
	control := pipeline.NewControl(orch, manager)

	// ---- Execution ----
	var placer execution.OrderPlacer
	if cfg.PaperTrading {
		placer = execution.NewPaperExecutor(func(symbol string) (float64, bool) {
			s := orch.Snapshot()
			return s.LastPrice, s.Symbol == symbol && s.LastPrice > 0
		}, paperSlippageBps)
	} else {
		placer = execution.NewExecutor(exchange)
	}
	guard := execution.NewGuard(cfg.TradingTOTPSecret)
	risk := execution.NewRiskManager(execution.RiskLimits{
		MaxOrderQty:     decimal.NewFromFloat(cfg.MaxOrderQty),
		MaxOrdersPerDay: cfg.MaxOrdersPerDay,
	})
	journal, err := execution.NewJournal(cfg.JournalPath)
	if err != nil {
		log.Warn().Err(err).Msg("order journal unavailable, continuing without it")
		journal = nil
	}
	trader := execution.NewTrader(placer, guard, risk, journal, events)
	poller := execution.NewAccountPoller(exchange, events, cfg.AccountPollInterval)

	// ---- Outbound consumers ----
	hub := gateway.NewHub(control, replaySize)
	hub.OnClientCount = func(n int) { prom.GatewayClients.Set(float64(n)) }

	alerts := notification.Multi{notification.NewLogNotifier()}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		alerts = append(alerts, notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
	}
	if cfg.AlertWebhookURL != "" {
		alerts = append(alerts, notification.NewWebhookNotifier(cfg.AlertWebhookURL))
	}
	dispatcher := notification.NewDispatcher(alerts, alertCooldown)

	var redisWriter *redisstore.Writer
	var mirror *redisstore.BufferedWriter
	if redisCh != nil {
		redisWriter, err = redisstore.New(redisstore.WriterConfig{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err != nil {
			log.Warn().Err(err).Msg("redis init failed, mirror will retry through the circuit breaker")
			redisWriter = redisstore.NewUnchecked(redisstore.WriterConfig{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		}
		breaker := redisstore.NewCircuitBreaker(redisstore.BreakerConfig{MaxFailures: 5, Cooldown: 10 * time.Second})
		breaker.OnStateChange = func(from, to redisstore.State) {
			prom.RedisCircuitBreakerState.Set(float64(to))
			if to == redisstore.StateOpen {
				prom.RedisCircuitBreakerTrips.Inc()
			}
		}
		mirror = redisstore.NewBufferedWriter(ctx, redisWriter, breaker, redisBufferSize)
		mirror.OnBuffer = func(pending int) {
			prom.RedisBufferedWrites.Inc()
			prom.RedisMirrorPending.Set(float64(pending))
		}
		mirror.OnFlush = func(_, pending int) { prom.RedisMirrorPending.Set(float64(pending)) }
		health.SetMirrorStatus(mirror.Status)
	}

	// ---- Liveness checks ----
	health.StartLivenessChecker(ctx, redisClient(redisWriter), journalDB(journal), livenessInterval)

	// ---- Start goroutines ----
	var wg sync.WaitGroup
	run := func(name string, fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
			log.Debug().Str("component", name).Msg("stopped")
		}()
	}

	streamMsgs := make(chan stream.Message, cfg.EventBufferSize)
	run("bus", func() { events.Run(ctx) })
	run("stream", func() {
		if err := manager.Run(ctx, streamMsgs); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("stream manager stopped")
		}
	})
	run("orchestrator", func() {
		if err := orch.Run(ctx, streamMsgs); err != nil {
			log.Error().Err(err).Msg("orchestrator stopped")
		}
	})
	run("account", func() {
		if err := poller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("account poller stopped")
		}
	})
	run("gateway", func() { hub.Run(ctx, gatewayCh) })
	run("gateway-stats", func() { hub.StartStatsBroadcast(ctx, statsInterval) })
	run("notify", func() { dispatcher.Run(ctx, notifyCh) })
	run("metrics", func() { prom.Run(ctx, metricsCh, health) })
	run("channel-stats", func() { prom.WatchChannels(ctx, events.ChannelStats, channelSampleRate) })
	if mirror != nil {
		run("redis", func() { mirror.Run(ctx, redisCh) })
	}

	// ---- HTTP API ----
	deps := api.Deps{
		Control: control,
		Trader:  trader,
		Guard:   guard,
		Risk:    risk,
		PnL:     trader.PnL(),
		Health:  health,
		WS:      hub.ServeWS,
	}
	if journal != nil {
		deps.Orders = journal
	}
	apiSrv := api.NewHandler(deps).NewServer(cfg.HTTPAddr)
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("api server listening")
		if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("api server error")
			cancel()
		}
	}()

	// ---- Wait for shutdown signal ----
	<-ctx.Done()
	log.Info().Msg("shutdown signal received, cleaning up")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := apiSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("api server shutdown")
	}
	metricsSrv.Stop(shutdownCtx)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		log.Warn().Msg("timed out waiting for components")
	}

	if mirror != nil {
		log.Info().Int("pending", mirror.PendingCount()).Msg("redis mirror stopped")
	}
	if redisWriter != nil {
		redisWriter.Close()
	}
	if journal != nil {
		journal.Close()
	}
	log.Info().Msg("shutdown complete")
}

func redisClient(w *redisstore.Writer) *goredis.Client {
	if w == nil {
		return nil
	}
	return w.Client()
}

func journalDB(j *execution.Journal) *sql.DB {
	if j == nil {
		return nil
	}
	return j.DB()
}
