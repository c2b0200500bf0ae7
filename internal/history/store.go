// Package history holds the bounded, key-ordered candle window that the
// aggregator commits into and the indicators read from.
//
// A Store is owned by a single goroutine (the orchestrator). Readers on other
// goroutines receive copies via Candles.
package history

import (
	"iter"
	"slices"

	"tradedash/internal/model"
)

// Store maps bucket-start keys to candles, keeping at most Cap entries.
// Iteration is always ascending by key.
type Store struct {
	capacity int
	keys     []int64 // ascending
	byKey    map[int64]model.Candle

	evicted uint64
}

// New creates a store retaining the capacity most recent buckets.
// Minimum capacity is 1.
func New(capacity int) *Store {
	if capacity < 1 {
		capacity = 1
	}
	return &Store{
		capacity: capacity,
		keys:     make([]int64, 0, capacity+1),
		byKey:    make(map[int64]model.Candle, capacity+1),
	}
}

// Insert stores c under key, overwriting an existing entry. When the store
// grows past capacity the smallest key is evicted, which may be key itself.
// It reports whether key is retained.
func (s *Store) Insert(key int64, c model.Candle) bool {
	c.TS = key
	if _, ok := s.byKey[key]; ok {
		s.byKey[key] = c
		return true
	}

	// Fast path: keys almost always arrive in order.
	if n := len(s.keys); n == 0 || key > s.keys[n-1] {
		s.keys = append(s.keys, key)
	} else {
		i, _ := slices.BinarySearch(s.keys, key)
		s.keys = slices.Insert(s.keys, i, key)
	}
	s.byKey[key] = c

	for len(s.keys) > s.capacity {
		delete(s.byKey, s.keys[0])
		s.keys = slices.Delete(s.keys, 0, 1)
		s.evicted++
	}
	_, kept := s.byKey[key]
	return kept
}

// Get returns the candle stored under key.
func (s *Store) Get(key int64) (model.Candle, bool) {
	c, ok := s.byKey[key]
	return c, ok
}

// Latest returns the newest entry.
func (s *Store) Latest() (int64, model.Candle, bool) {
	if len(s.keys) == 0 {
		return 0, model.Candle{}, false
	}
	k := s.keys[len(s.keys)-1]
	return k, s.byKey[k], true
}

// Range yields entries with from <= key <= to in ascending order.
// The sequence is lazy; mutating the store while ranging is not supported.
func (s *Store) Range(from, to int64) iter.Seq2[int64, model.Candle] {
	return func(yield func(int64, model.Candle) bool) {
		if from > to {
			return
		}
		i, _ := slices.BinarySearch(s.keys, from)
		for ; i < len(s.keys) && s.keys[i] <= to; i++ {
			k := s.keys[i]
			if !yield(k, s.byKey[k]) {
				return
			}
		}
	}
}

// LatestN yields the n most recent entries in ascending order.
func (s *Store) LatestN(n int) iter.Seq2[int64, model.Candle] {
	return func(yield func(int64, model.Candle) bool) {
		if n <= 0 {
			return
		}
		start := max(len(s.keys)-n, 0)
		for _, k := range s.keys[start:] {
			if !yield(k, s.byKey[k]) {
				return
			}
		}
	}
}

// All yields every entry in ascending order.
func (s *Store) All() iter.Seq2[int64, model.Candle] {
	return s.LatestN(len(s.keys))
}

// Keys returns a copy of the retained keys, ascending.
func (s *Store) Keys() []int64 {
	return slices.Clone(s.keys)
}

// Candles returns a copy of the retained candles, ascending by key.
func (s *Store) Candles() []model.Candle {
	out := make([]model.Candle, 0, len(s.keys))
	for _, k := range s.keys {
		out = append(out, s.byKey[k])
	}
	return out
}

// Reset drops every entry. Capacity is unchanged.
func (s *Store) Reset() {
	s.keys = s.keys[:0]
	clear(s.byKey)
}

// Len returns the number of retained entries.
func (s *Store) Len() int { return len(s.keys) }

// Cap returns the maximum number of retained entries.
func (s *Store) Cap() int { return s.capacity }

// Evicted returns how many entries were dropped for capacity since creation.
func (s *Store) Evicted() uint64 { return s.evicted }
