package guard

import (
	"context"
	"sync"
	"time"
)

// MemoryCounters is the single-process counter store: a mutex-guarded map
// with per-key expiry. Suitable behind a single instance only, since the
// counters do not survive restarts and are invisible to other instances.
type MemoryCounters struct {
	mu      sync.Mutex
	entries map[string]*memoryCounter
	now     func() time.Time
}

type memoryCounter struct {
	count     int
	expiresAt time.Time
}

// NewMemoryCounters returns an empty in-memory counter store.
func NewMemoryCounters() *MemoryCounters {
	return &MemoryCounters{
		entries: make(map[string]*memoryCounter),
		now:     time.Now,
	}
}

// StartJanitor sweeps expired entries on the given interval until ctx is
// cancelled, so abandoned scopes do not accumulate.
func (s *MemoryCounters) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweep()
			}
		}
	}()
}

func (s *MemoryCounters) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for key, e := range s.entries {
		if now.After(e.expiresAt) {
			delete(s.entries, key)
		}
	}
}

// Increment adds one to the key's counter, starting a fresh fixed window
// when the key is new or expired. The count after the increment is returned.
func (s *MemoryCounters) Increment(_ context.Context, key string, window time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	e, ok := s.entries[key]
	if !ok || now.After(e.expiresAt) {
		s.entries[key] = &memoryCounter{count: 1, expiresAt: now.Add(window)}
		return 1, nil
	}
	e.count++
	return e.count, nil
}

// Get returns the current count, zero for missing or expired keys.
func (s *MemoryCounters) Get(_ context.Context, key string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || s.now().After(e.expiresAt) {
		return 0, nil
	}
	return e.count, nil
}

// TTL reports the time left before the key expires, zero for missing or
// expired keys.
func (s *MemoryCounters) TTL(_ context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return 0, nil
	}
	if remaining := e.expiresAt.Sub(s.now()); remaining > 0 {
		return remaining, nil
	}
	return 0, nil
}

// Reset removes the key.
func (s *MemoryCounters) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}
