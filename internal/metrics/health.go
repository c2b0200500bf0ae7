package metrics

import (
	"context"
	"database/sql"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	redisstore "tradedash/internal/store/redis"
)

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	WSConnected    bool
	LastTickTime   time.Time
	RedisEnabled   bool
	RedisConnected bool
	JournalEnabled bool
	JournalOK      bool

	// Liveness check results
	RedisLatencyMs   float64
	JournalLatencyMs float64
	LastCheckAt      time.Time
	StartedAt        time.Time

	mirror func() redisstore.MirrorStatus
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetWSConnected(v bool) {
	h.mu.Lock()
	h.WSConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastTickTime(t time.Time) {
	h.mu.Lock()
	h.LastTickTime = t
	h.mu.Unlock()
}

// SetMirrorStatus registers the Redis mirror's status source.
func (h *HealthStatus) SetMirrorStatus(fn func() redisstore.MirrorStatus) {
	h.mu.Lock()
	h.mirror = fn
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisEnabled = true
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckJournal pings the order journal database.
func (h *HealthStatus) CheckJournal(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.JournalEnabled = true
	h.JournalOK = err == nil
	h.JournalLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks. Either handle may
// be nil when that dependency is disabled.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, db *sql.DB, interval time.Duration) {
	check := func() {
		checkCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if rdb != nil {
			h.CheckRedis(checkCtx, rdb)
		}
		if db != nil {
			h.CheckJournal(checkCtx, db)
		}
	}
	go func() {
		check()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				check()
			}
		}
	}()
}

// HealthReport is the /healthz response body.
type HealthReport struct {
	Status           string  `json:"status"`
	Uptime           string  `json:"uptime"`
	WSConnected      bool    `json:"ws_connected"`
	LastTickTime     string  `json:"last_tick_time,omitempty"`
	TickAge          string  `json:"tick_age,omitempty"`
	RedisConnected   *bool   `json:"redis_connected,omitempty"`
	RedisLatencyMs   float64 `json:"redis_latency_ms,omitempty"`
	JournalOK        *bool   `json:"journal_ok,omitempty"`
	JournalLatencyMs float64 `json:"journal_latency_ms,omitempty"`
	LastCheckAt      string  `json:"last_check_at,omitempty"`

	RedisMirror *redisstore.MirrorStatus `json:"redis_mirror,omitempty"`
}

// Report summarizes health. The exchange stream is the only hard
// dependency; optional sinks only degrade the status.
func (h *HealthStatus) Report() (HealthReport, int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	r := HealthReport{
		Status:      "healthy",
		Uptime:      time.Since(h.StartedAt).Round(time.Second).String(),
		WSConnected: h.WSConnected,
	}
	code := http.StatusOK

	if !h.LastTickTime.IsZero() {
		r.LastTickTime = h.LastTickTime.Format(time.RFC3339)
		r.TickAge = time.Since(h.LastTickTime).Round(time.Millisecond).String()
	}
	if !h.LastCheckAt.IsZero() {
		r.LastCheckAt = h.LastCheckAt.Format(time.RFC3339)
	}
	if h.RedisEnabled {
		ok := h.RedisConnected
		r.RedisConnected = &ok
		r.RedisLatencyMs = h.RedisLatencyMs
		if !ok {
			r.Status = "degraded"
		}
	}
	if h.JournalEnabled {
		ok := h.JournalOK
		r.JournalOK = &ok
		r.JournalLatencyMs = h.JournalLatencyMs
		if !ok {
			r.Status = "degraded"
		}
	}
	if h.mirror != nil {
		st := h.mirror()
		r.RedisMirror = &st
		if st.Breaker.State != redisstore.StateClosed.String() {
			r.Status = "degraded"
		}
	}
	if !h.WSConnected {
		r.Status = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	return r, code
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	report, code := h.Report()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(report)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	addr string
	srv  *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, m *Metrics, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry}))
	mux.Handle("/healthz", health)

	return &Server{
		addr: addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Handler returns the server's mux.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Info().Str("addr", s.addr).Msg("metrics server listening")
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server error")
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
