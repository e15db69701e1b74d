// Package stream fans out security activity to live monitoring subscribers.
package stream

import (
	"context"
	"sync"
	"time"

	"payvault.org/internal/audit"
)

// Activity is one security event as shown on the monitoring feed. It is a
// trimmed projection of an audit event: no account numbers, no user agents.
type Activity struct {
	Type      string    `json:"type"`
	Username  string    `json:"username,omitempty"`
	IPAddress string    `json:"ip_address,omitempty"`
	Severity  string    `json:"severity"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// FromAudit projects an audit event onto the feed shape.
func FromAudit(ev audit.Event) Activity {
	return Activity{
		Type:      string(ev.Type),
		Username:  ev.Username,
		IPAddress: ev.IPAddress,
		Severity:  string(ev.Severity),
		Message:   ev.Message,
		Timestamp: ev.CreatedAt,
	}
}

// Stream fan-outs activity to all active subscribers (SSE clients).
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan Activity
	next int
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]chan Activity)}
}

// Subscribe registers a subscriber and returns a channel which will receive
// events. The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan Activity {
	ch := make(chan Activity, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to all subscribers.
func (s *Stream) Publish(act Activity) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- act:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}

// Subscribers reports the current subscriber count.
func (s *Stream) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}
