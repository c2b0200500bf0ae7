package redis

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrCircuitOpen is returned while the mirror is not sending writes to Redis.
var ErrCircuitOpen = errors.New("redis mirror circuit is open")

// State is the mirror's circuit state. The numeric value is exported as the
// tradedash_redis_circuit_breaker_state gauge.
type State int

const (
	StateClosed   State = iota // writes go to Redis
	StateOpen                  // writes are rejected until the cooldown ends
	StateHalfOpen              // one trial write is in flight
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// BreakerConfig sets when the mirror gives up on Redis and when it tries again.
type BreakerConfig struct {
	MaxFailures int           // consecutive failed writes before opening
	Cooldown    time.Duration // time spent open before a trial write
}

// BreakerStats is the breaker's part of the mirror health report.
type BreakerStats struct {
	State     string `json:"state"`
	Failures  int    `json:"consecutive_failures"`
	Trips     uint64 `json:"trips"`
	LastError string `json:"last_error,omitempty"`
	RetryAt   string `json:"retry_at,omitempty"`
}

// CircuitBreaker stops the mirror from hammering an unreachable Redis.
// After MaxFailures consecutive write errors it opens; once Cooldown has
// passed exactly one trial write is let through, and its outcome closes or
// reopens the circuit. Other writes arriving during the trial are rejected.
type CircuitBreaker struct {
	cfg BreakerConfig
	now func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	trips    uint64
	lastErr  error
	openedAt time.Time

	// OnStateChange is called after each transition, outside the lock.
	OnStateChange func(from, to State)
}

// NewCircuitBreaker creates a closed breaker. Zero config fields fall back
// to 5 failures and a 10s cooldown.
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 10 * time.Second
	}
	return &CircuitBreaker{cfg: cfg, now: time.Now}
}

// Execute runs write unless the circuit rejects it.
func (cb *CircuitBreaker) Execute(write func() error) error {
	if err := cb.allow(); err != nil {
		return err
	}
	err := write()
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) allow() error {
	cb.mu.Lock()
	switch cb.state {
	case StateHalfOpen:
		cb.mu.Unlock()
		return ErrCircuitOpen
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.cfg.Cooldown {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.mu.Unlock()
		cb.notify(StateOpen, StateHalfOpen)
		return nil
	}
	cb.mu.Unlock()
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	from := cb.state
	if err == nil {
		cb.failures = 0
		cb.state = StateClosed
	} else {
		cb.failures++
		cb.lastErr = err
		if from == StateHalfOpen || cb.failures >= cb.cfg.MaxFailures {
			cb.state = StateOpen
			cb.openedAt = cb.now()
			if from != StateOpen {
				cb.trips++
			}
		}
	}
	to, failures := cb.state, cb.failures
	cb.mu.Unlock()

	if from != to {
		if to == StateOpen {
			log.Warn().Err(err).Int("failures", failures).Dur("cooldown", cb.cfg.Cooldown).Msg("redis mirror paused")
		}
		cb.notify(from, to)
	}
}

func (cb *CircuitBreaker) notify(from, to State) {
	log.Info().Str("from", from.String()).Str("to", to.String()).Msg("redis circuit breaker")
	if cb.OnStateChange != nil {
		cb.OnStateChange(from, to)
	}
}

// CurrentState returns the current circuit state.
func (cb *CircuitBreaker) CurrentState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats returns the counters reported on /healthz.
func (cb *CircuitBreaker) Stats() BreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	s := BreakerStats{State: cb.state.String(), Failures: cb.failures, Trips: cb.trips}
	if cb.lastErr != nil {
		s.LastError = cb.lastErr.Error()
	}
	if cb.state == StateOpen {
		s.RetryAt = cb.openedAt.Add(cb.cfg.Cooldown).UTC().Format(time.RFC3339)
	}
	return s
}
