// Package audit is the append-only security event log. Every authentication
// attempt produces exactly one event; the write path never fails outward,
// so a broken store can degrade forensics but can never block a login.
// The read side feeds the abuse heuristics with failure counts per IP and
// per username.
package audit

import (
	"context"
	"time"

	"payvault.org/internal/ids"
	"payvault.org/internal/obs"
)

// RetentionWindow is how long events are kept before they are eligible for
// automatic purge.
const RetentionWindow = 90 * 24 * time.Hour

// Store persists events. Append must be durable for the production store;
// the aggregate queries drive suspicion detection.
type Store interface {
	Append(ctx context.Context, ev *Event) error
	CountFailuresByIP(ctx context.Context, ip string, since time.Time) (int, error)
	CountFailuresByUsername(ctx context.Context, username string, since time.Time) (int, error)
	RecentByUsername(ctx context.Context, username string, limit int) ([]Event, error)
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Recorder owns the write path and the aggregation queries.
type Recorder struct {
	store Store
	now   func() time.Time
	sink  func(Event)
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithClock injects the time source.
func WithClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) {
		if now != nil {
			r.now = now
		}
	}
}

// WithSink attaches a fan-out callback invoked once per recorded event,
// after the store write. The callback must not block.
func WithSink(sink func(Event)) RecorderOption {
	return func(r *Recorder) {
		r.sink = sink
	}
}

// NewRecorder builds a Recorder over the given store.
func NewRecorder(store Store, opts ...RecorderOption) *Recorder {
	r := &Recorder{store: store, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record fills in the event's id, timestamp and derived severity, appends it
// and mirrors it onto the structured log. A store failure is logged and
// swallowed. Returns the completed event.
func (r *Recorder) Record(ctx context.Context, ev Event) Event {
	if ev.ID == "" {
		ev.ID = ids.New()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = r.now().UTC()
	}
	if ev.Severity == "" {
		ev.Severity = DeriveSeverity(ev.Type)
	}
	if err := r.store.Append(ctx, &ev); err != nil {
		obs.LogError("audit", err, map[string]any{"event": string(ev.Type)})
	}
	r.mirror(ctx, ev)
	obs.ObserveAuditEvent(string(ev.Type), string(ev.Severity))
	if r.sink != nil {
		r.sink(ev)
	}
	return ev
}

// FailedAttemptsByIP counts login failures from ip inside the window.
func (r *Recorder) FailedAttemptsByIP(ctx context.Context, ip string, window time.Duration) (int, error) {
	return r.store.CountFailuresByIP(ctx, ip, r.now().UTC().Add(-window))
}

// FailedAttemptsByUsername counts login failures for username inside the
// window.
func (r *Recorder) FailedAttemptsByUsername(ctx context.Context, username string, window time.Duration) (int, error) {
	return r.store.CountFailuresByUsername(ctx, username, r.now().UTC().Add(-window))
}

// IsSuspicious reports whether ip accumulated at least threshold login
// failures inside the window. A store error reads as not suspicious and is
// logged.
func (r *Recorder) IsSuspicious(ctx context.Context, ip string, threshold int, window time.Duration) bool {
	n, err := r.store.CountFailuresByIP(ctx, ip, r.now().UTC().Add(-window))
	if err != nil {
		obs.LogError("audit", err, map[string]any{"query": "is_suspicious", "ip": ip})
		return false
	}
	return threshold > 0 && n >= threshold
}

// RecentByUsername returns the latest events for a username, newest first.
func (r *Recorder) RecentByUsername(ctx context.Context, username string, limit int) ([]Event, error) {
	return r.store.RecentByUsername(ctx, username, limit)
}

// StartRetentionLoop purges events older than RetentionWindow on the given
// interval until ctx is cancelled. Meant for stores without native TTL
// semantics.
func (r *Recorder) StartRetentionLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cutoff := r.now().UTC().Add(-RetentionWindow)
				n, err := r.store.PurgeOlderThan(ctx, cutoff)
				if err != nil {
					obs.LogError("audit", err, map[string]any{"query": "purge"})
					continue
				}
				if n > 0 {
					obs.LogRequest(map[string]any{
						"ts":     r.now().UTC().Format(time.RFC3339Nano),
						"type":   "audit_retention",
						"purged": n,
					})
				}
			}
		}
	}()
}
