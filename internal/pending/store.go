// Package pending holds per-user, single-slot, TTL-bounded staging areas: the
// confirmation slot for dangerous tool calls and the continuation cursor for
// paginated read results.
//
// Everything is in memory and scoped to the process. Each read-modify-write
// happens under one lock acquisition with no I/O inside.
package pending

import (
	"context"
	"sync"
	"time"
)

// Entry is a stored value with its creation time.
type Entry[T any] struct {
	Value     T
	CreatedAt time.Time
}

// Store is a per-user single-slot map with a fixed TTL.
type Store[T any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]Entry[T]
	now     func() time.Time
}

// NewStore creates a store whose entries expire after ttl.
func NewStore[T any](ttl time.Duration) *Store[T] {
	return &Store[T]{
		ttl:     ttl,
		entries: make(map[string]Entry[T]),
		now:     time.Now,
	}
}

// TTL returns the configured time-to-live.
func (s *Store[T]) TTL() time.Duration { return s.ttl }

// Set stores v for userID, replacing any previous entry.
func (s *Store[T]) Set(userID string, v T) Entry[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := Entry[T]{Value: v, CreatedAt: s.now()}
	s.entries[userID] = e
	return e
}

// Get returns the entry for userID even if it has expired; callers that care
// use Expired.
func (s *Store[T]) Get(userID string) (Entry[T], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[userID]
	return e, ok
}

// Delete removes the entry for userID and reports whether one existed.
func (s *Store[T]) Delete(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[userID]
	delete(s.entries, userID)
	return ok
}

// Expired reports whether e is older than the TTL.
func (s *Store[T]) Expired(e Entry[T]) bool {
	return s.now().Sub(e.CreatedAt) > s.ttl
}

// Action tells Update what to do with the slot after inspecting it.
type Action int

const (
	// Keep leaves the slot untouched, creation time included.
	Keep Action = iota
	// Replace stores the returned value with a fresh creation time.
	Replace
	// Remove deletes the slot.
	Remove
)

// Update runs fn on the current entry for userID under the store lock and
// applies the returned action.
func (s *Store[T]) Update(userID string, fn func(e Entry[T], ok bool, expired bool) (next T, action Action)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[userID]
	expired := ok && s.now().Sub(e.CreatedAt) > s.ttl
	next, action := fn(e, ok, expired)
	switch action {
	case Remove:
		delete(s.entries, userID)
	case Replace:
		s.entries[userID] = Entry[T]{Value: next, CreatedAt: s.now()}
	}
}

// Sweep deletes all expired entries and returns how many were removed.
func (s *Store[T]) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	removed := 0
	for id, e := range s.entries {
		if now.Sub(e.CreatedAt) > s.ttl {
			delete(s.entries, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, expired or not.
func (s *Store[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// RunJanitor sweeps expired entries at the given interval until ctx is done.
func (s *Store[T]) RunJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = s.ttl
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}
