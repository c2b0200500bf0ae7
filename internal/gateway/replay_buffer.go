package gateway

import (
	"sort"
	"sync"

	"tradedash/internal/ringbuf"
)

// ReplayEntry is one broadcast envelope kept for reconnect backfill.
type ReplayEntry struct {
	Seq  int64
	Data []byte
}

// ReplayBuffer keeps the most recent envelopes in seq order. Safe for
// concurrent use.
type ReplayBuffer struct {
	mu   sync.RWMutex
	ring *ringbuf.Ring[ReplayEntry]
}

// NewReplayBuffer creates a replay buffer with the given capacity.
func NewReplayBuffer(capacity int) *ReplayBuffer {
	if capacity <= 0 {
		capacity = 500
	}
	return &ReplayBuffer{ring: ringbuf.New[ReplayEntry](capacity)}
}

// Push appends an envelope, evicting the oldest one when full. data is
// copied.
func (rb *ReplayBuffer) Push(seq int64, data []byte) {
	cp := append([]byte(nil), data...)
	rb.mu.Lock()
	rb.ring.Push(ReplayEntry{Seq: seq, Data: cp})
	rb.mu.Unlock()
}

// Range returns entries with seq in [fromSeq, toSeq], oldest first.
func (rb *ReplayBuffer) Range(fromSeq, toSeq int64) []ReplayEntry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	n := rb.ring.Len()
	// seqs are pushed in increasing order
	start := sort.Search(n, func(i int) bool { return rb.ring.At(i).Seq >= fromSeq })
	var out []ReplayEntry
	for i := start; i < n; i++ {
		e := rb.ring.At(i)
		if e.Seq > toSeq {
			break
		}
		out = append(out, e)
	}
	return out
}

// Len returns the number of entries currently held.
func (rb *ReplayBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.ring.Len()
}
