package redis

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"tradedash/internal/model"
	"tradedash/internal/ringbuf"
)

// BufferedWriter wraps a Writer with a circuit breaker. While the circuit
// is open committed and amended candles are buffered locally (bounded,
// oldest dropped) and replayed in order when the circuit closes again.
// Prices, indicators and the rest are superseded by the next event and
// are skipped.
type BufferedWriter struct {
	writer *Writer
	cb     *CircuitBreaker
	ctx    context.Context

	mu     sync.Mutex
	buffer *ringbuf.Ring[model.Event]

	flushed uint64
	dropped uint64

	// Callbacks, called without locks held
	OnBuffer func(pending int)          // a candle was buffered
	OnFlush  func(flushed, pending int) // a replay finished
}

// MirrorStatus is the mirror's entry in the health report.
type MirrorStatus struct {
	Breaker BreakerStats `json:"breaker"`
	Pending int          `json:"pending"`
	Flushed uint64       `json:"flushed"`
	Dropped uint64       `json:"dropped"`
}

// NewBufferedWriter creates a BufferedWriter wrapping the given Writer.
func NewBufferedWriter(ctx context.Context, w *Writer, cb *CircuitBreaker, maxBufferSize int) *BufferedWriter {
	if maxBufferSize <= 0 {
		maxBufferSize = 10000
	}
	bw := &BufferedWriter{
		writer: w,
		cb:     cb,
		ctx:    ctx,
		buffer: ringbuf.New[model.Event](maxBufferSize),
	}

	// Register flush on circuit close
	prevCallback := cb.OnStateChange
	cb.OnStateChange = func(from, to State) {
		if prevCallback != nil {
			prevCallback(from, to)
		}
		if to == StateClosed {
			go bw.flush()
		}
	}

	return bw
}

// Run mirrors events from in until ctx is cancelled or in is closed.
func (bw *BufferedWriter) Run(ctx context.Context, in <-chan model.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-in:
			if !ok {
				return
			}
			if err := bw.Write(ev); err != nil {
				log.Debug().Err(err).Str("kind", string(ev.Kind)).Msg("redis mirror write failed")
			}
		}
	}
}

// Write sends ev through the circuit breaker. If the circuit is open a
// candle is buffered and nil returned.
func (bw *BufferedWriter) Write(ev model.Event) error {
	err := bw.cb.Execute(func() error {
		return bw.writer.write(bw.ctx, ev)
	})
	if errors.Is(err, ErrCircuitOpen) && replayable(ev.Kind) {
		bw.bufferWrite(ev)
		return nil
	}
	return err
}

func replayable(k model.EventKind) bool {
	return k == model.KindCandle || k == model.KindCandleAmended
}

func (bw *BufferedWriter) bufferWrite(ev model.Event) {
	bw.mu.Lock()
	if _, dropped := bw.buffer.Push(ev); dropped {
		bw.dropped++
		log.Warn().Str("symbol", ev.Symbol).Msg("redis buffer full, dropped oldest candle")
	}
	pending := bw.buffer.Len()
	bw.mu.Unlock()

	if bw.OnBuffer != nil {
		bw.OnBuffer(pending)
	}
}

// flush replays all buffered writes through the underlying writer.
func (bw *BufferedWriter) flush() {
	bw.mu.Lock()
	if bw.buffer.Len() == 0 {
		bw.mu.Unlock()
		return
	}
	// Take ownership of the buffer
	toFlush := bw.buffer.Slice()
	bw.buffer.Reset()
	bw.mu.Unlock()

	flushed := 0
	for _, ev := range toFlush {
		if err := bw.writer.write(bw.ctx, ev); err != nil {
			log.Warn().Err(err).Msg("redis flush write failed")
			continue
		}
		flushed++
	}

	bw.mu.Lock()
	bw.flushed += uint64(flushed)
	pending := bw.buffer.Len()
	bw.mu.Unlock()

	log.Info().Int("flushed", flushed).Int("buffered", len(toFlush)).Msg("redis buffer flushed")
	if bw.OnFlush != nil {
		bw.OnFlush(flushed, pending)
	}
}

// PendingCount returns the number of buffered writes waiting to be flushed.
func (bw *BufferedWriter) PendingCount() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return bw.buffer.Len()
}

// Status reports breaker state and buffer counters.
func (bw *BufferedWriter) Status() MirrorStatus {
	bw.mu.Lock()
	st := MirrorStatus{Pending: bw.buffer.Len(), Flushed: bw.flushed, Dropped: bw.dropped}
	bw.mu.Unlock()
	st.Breaker = bw.cb.Stats()
	return st
}
