package audit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps events in process memory. It backs tests and
// single-process deployments; the PostgreSQL store is the durable path.
type MemoryStore struct {
	mu     sync.RWMutex
	events []Event
}

// NewMemoryStore returns an empty in-memory event store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Append stores a copy of the event.
func (s *MemoryStore) Append(_ context.Context, ev *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *ev)
	return nil
}

// CountFailuresByIP counts login_failed events from ip at or after since.
func (s *MemoryStore) CountFailuresByIP(_ context.Context, ip string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for i := range s.events {
		ev := &s.events[i]
		if ev.Type == TypeLoginFailed && ev.IPAddress == ip && !ev.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

// CountFailuresByUsername counts login_failed events for username at or
// after since.
func (s *MemoryStore) CountFailuresByUsername(_ context.Context, username string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for i := range s.events {
		ev := &s.events[i]
		if ev.Type == TypeLoginFailed && ev.Username == username && !ev.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

// RecentByUsername returns up to limit events for username, newest first.
func (s *MemoryStore) RecentByUsername(_ context.Context, username string, limit int) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 50
	}
	var out []Event
	for i := len(s.events) - 1; i >= 0 && len(out) < limit; i-- {
		if s.events[i].Username == username {
			out = append(out, s.events[i])
		}
	}
	return out, nil
}

// PurgeOlderThan drops events created before cutoff and reports how many
// were removed.
func (s *MemoryStore) PurgeOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.events[:0]
	var removed int64
	for i := range s.events {
		if s.events[i].CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, s.events[i])
	}
	s.events = kept
	return removed, nil
}

// Events returns a snapshot of everything stored, oldest first.
func (s *MemoryStore) Events() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}
