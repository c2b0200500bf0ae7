package notification

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"tradedash/internal/model"
)

// Dispatcher turns bus events into alerts: error notices, order results and
// momentum signals. Identical alerts inside Cooldown are suppressed so a
// reconnect loop does not flood the channel.
type Dispatcher struct {
	notifier Notifier
	cooldown time.Duration
	now      func() time.Time

	mu       sync.Mutex
	lastSent map[string]time.Time
	// last bucket a momentum alert was sent for, per symbol
	signalled map[string]int64
}

// NewDispatcher creates a dispatcher. cooldown <= 0 disables suppression.
func NewDispatcher(n Notifier, cooldown time.Duration) *Dispatcher {
	return &Dispatcher{
		notifier:  n,
		cooldown:  cooldown,
		now:       time.Now,
		lastSent:  make(map[string]time.Time),
		signalled: make(map[string]int64),
	}
}

// Run consumes events until ctx is cancelled or in is closed.
func (d *Dispatcher) Run(ctx context.Context, in <-chan model.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-in:
			if !ok {
				return
			}
			d.Handle(ctx, ev)
		}
	}
}

// Handle sends the alert for ev, if any.
func (d *Dispatcher) Handle(ctx context.Context, ev model.Event) {
	alert, ok := d.alertFor(ev)
	if !ok || d.suppressed(alert) {
		return
	}
	if err := d.notifier.Send(ctx, alert); err != nil {
		log.Warn().Err(err).Str("alert", alert.Type()).Msg("alert delivery failed")
	}
}

func (d *Dispatcher) alertFor(ev model.Event) (Alert, bool) {
	a := Alert{Symbol: ev.Symbol, At: ev.TS}
	if a.At.IsZero() {
		a.At = d.now()
	}

	switch ev.Kind {
	case model.KindNotice:
		if ev.Notice == nil || ev.Notice.Level != model.NoticeError {
			return Alert{}, false
		}
		a.Notice = ev.Notice
		a.Level = AlertCritical
		if ev.Notice.Recoverable {
			a.Level = AlertWarning
		}
		return a, true

	case model.KindOrder:
		if ev.Order == nil {
			return Alert{}, false
		}
		a.Order = ev.Order
		a.Level = AlertInfo
		if ev.Order.Error != "" {
			a.Level = AlertWarning
		}
		return a, true

	case model.KindIndicators:
		u := ev.Indicators
		if u == nil || u.Momentum == nil || u.Momentum.Action == model.ActionNone {
			return Alert{}, false
		}
		d.mu.Lock()
		last, seen := d.signalled[ev.Symbol]
		if seen && last == u.Bucket {
			d.mu.Unlock()
			return Alert{}, false
		}
		d.signalled[ev.Symbol] = u.Bucket
		d.mu.Unlock()
		a.Level = AlertInfo
		a.Signal = &Signal{Bucket: u.Bucket, Close: u.Close, MomentumSignal: *u.Momentum}
		return a, true
	}
	return Alert{}, false
}

func (d *Dispatcher) suppressed(a Alert) bool {
	if d.cooldown <= 0 {
		return false
	}
	key := a.Title() + "\x00" + a.Text()
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()
	if at, ok := d.lastSent[key]; ok && now.Sub(at) < d.cooldown {
		return true
	}
	d.lastSent[key] = now
	for k, at := range d.lastSent {
		if now.Sub(at) >= d.cooldown {
			delete(d.lastSent, k)
		}
	}
	return false
}
