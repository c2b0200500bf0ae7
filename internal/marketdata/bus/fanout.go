// Package bus is the outbound event channel: many producers publish into a
// single bounded input, one goroutine fans each event out to every
// subscriber in order.
package bus

import (
	"context"
	"sync"
	"time"

	"tradedash/internal/model"
)

type subscriber struct {
	name string
	ch   chan model.Event
}

// FanOut broadcasts events from its input channel to N subscriber channels.
// A full subscriber channel blocks the fan-out (back-pressure); events are
// never dropped. Cancelling the Run context is the only way out of a stall.
type FanOut struct {
	mu      sync.RWMutex
	subs    []subscriber
	bufSize int
	in      chan model.Event

	// OnBlocked is called when a subscriber is full and the fan-out has to
	// wait for it. waited is how long the send took.
	OnBlocked func(name string, waited time.Duration)
}

// New creates a FanOut with the given buffer size for the input and for
// each subscriber channel.
func New(bufferSize int) *FanOut {
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &FanOut{
		bufSize: bufferSize,
		in:      make(chan model.Event, bufferSize),
	}
}

// Subscribe creates and returns a new output channel. The channel is closed
// when Run returns.
func (f *FanOut) Subscribe(name string) <-chan model.Event {
	ch := make(chan model.Event, f.bufSize)
	f.mu.Lock()
	f.subs = append(f.subs, subscriber{name: name, ch: ch})
	f.mu.Unlock()
	return ch
}

// Publish queues ev for fan-out, blocking while the input is full.
func (f *FanOut) Publish(ctx context.Context, ev model.Event) error {
	if ev.TS.IsZero() {
		ev.TS = time.Now().UTC()
	}
	select {
	case f.in <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run fans out events until ctx is cancelled.
func (f *FanOut) Run(ctx context.Context) {
	defer func() {
		f.mu.RLock()
		for _, s := range f.subs {
			close(s.ch)
		}
		f.mu.RUnlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-f.in:
			f.mu.RLock()
			subs := f.subs
			f.mu.RUnlock()
			for _, s := range subs {
				if !f.deliver(ctx, s, ev) {
					return
				}
			}
		}
	}
}

func (f *FanOut) deliver(ctx context.Context, s subscriber, ev model.Event) bool {
	select {
	case s.ch <- ev:
		return true
	default:
	}

	start := time.Now()
	select {
	case s.ch <- ev:
		if f.OnBlocked != nil {
			f.OnBlocked(s.name, time.Since(start))
		}
		return true
	case <-ctx.Done():
		return false
	}
}

// ChannelStat is the fill level of one subscriber channel.
type ChannelStat struct {
	Name string
	Len  int
	Cap  int
}

// ChannelStats returns (length, capacity) for the input and each subscriber
// channel. Used for reporting channel saturation percentage.
func (f *FanOut) ChannelStats() []ChannelStat {
	f.mu.RLock()
	defer f.mu.RUnlock()
	stats := make([]ChannelStat, 0, len(f.subs)+1)
	stats = append(stats, ChannelStat{Name: "input", Len: len(f.in), Cap: cap(f.in)})
	for _, s := range f.subs {
		stats = append(stats, ChannelStat{Name: s.name, Len: len(s.ch), Cap: cap(s.ch)})
	}
	return stats
}
