package audit

import (
	"context"
	"errors"
	"testing"
	"time"
)

type failingStore struct{}

func (failingStore) Append(context.Context, *Event) error { return errors.New("store down") }
func (failingStore) CountFailuresByIP(context.Context, string, time.Time) (int, error) {
	return 0, errors.New("store down")
}
func (failingStore) CountFailuresByUsername(context.Context, string, time.Time) (int, error) {
	return 0, errors.New("store down")
}
func (failingStore) RecentByUsername(context.Context, string, int) ([]Event, error) {
	return nil, errors.New("store down")
}
func (failingStore) PurgeOlderThan(context.Context, time.Time) (int64, error) {
	return 0, errors.New("store down")
}

func TestSeverityDerivation(t *testing.T) {
	cases := map[EventType]Severity{
		TypeLoginFailed:         SeverityWarning,
		TypeLoginSuccess:        SeverityInfo,
		TypeRegistrationSuccess: SeverityInfo,
		TypeAccountLocked:       SeverityCritical,
		TypeSuspiciousActivity:  SeverityCritical,
		TypePasswordReset:       SeverityInfo,
		TypeUnauthorizedAccess:  SeverityWarning,
	}
	for eventType, want := range cases {
		if got := DeriveSeverity(eventType); got != want {
			t.Fatalf("DeriveSeverity(%s)=%s, want %s", eventType, got, want)
		}
	}
}

func TestRecordFillsAndStores(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	store := NewMemoryStore()
	rec := NewRecorder(store, WithClock(func() time.Time { return now }))

	ev := rec.Record(context.Background(), Event{
		Type:     TypeLoginSuccess,
		Username: "jane_doe",
	})
	if ev.ID == "" {
		t.Fatal("event id not assigned")
	}
	if !ev.CreatedAt.Equal(now) {
		t.Fatalf("timestamp %v, want %v", ev.CreatedAt, now)
	}
	if ev.Severity != SeverityInfo {
		t.Fatalf("severity %s, want info", ev.Severity)
	}

	stored := store.Events()
	if len(stored) != 1 {
		t.Fatalf("store holds %d events, want exactly 1", len(stored))
	}
	if stored[0].ID != ev.ID {
		t.Fatalf("stored id %s, want %s", stored[0].ID, ev.ID)
	}
}

func TestRecordSurvivesStoreFailure(t *testing.T) {
	var sunk []Event
	rec := NewRecorder(failingStore{}, WithSink(func(ev Event) { sunk = append(sunk, ev) }))

	ev := rec.Record(context.Background(), Event{Type: TypeLoginFailed, Username: "jane_doe"})
	if ev.ID == "" {
		t.Fatal("event not completed despite store failure")
	}
	if len(sunk) != 1 {
		t.Fatalf("sink saw %d events, want 1", len(sunk))
	}
}

func TestFailureAggregationWindows(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	current := now
	store := NewMemoryStore()
	rec := NewRecorder(store, WithClock(func() time.Time { return current }))
	ctx := context.Background()

	// Two stale failures outside any 15 minute window.
	current = now.Add(-time.Hour)
	for i := 0; i < 2; i++ {
		rec.Record(ctx, Event{Type: TypeLoginFailed, Username: "jane_doe", IPAddress: "203.0.113.9"})
	}
	// Three fresh failures.
	current = now
	for i := 0; i < 3; i++ {
		rec.Record(ctx, Event{Type: TypeLoginFailed, Username: "jane_doe", IPAddress: "203.0.113.9"})
	}
	// Noise: other ip, other user, success events.
	rec.Record(ctx, Event{Type: TypeLoginFailed, Username: "sam_clerk", IPAddress: "198.51.100.3"})
	rec.Record(ctx, Event{Type: TypeLoginSuccess, Username: "jane_doe", IPAddress: "203.0.113.9"})

	n, err := rec.FailedAttemptsByIP(ctx, "203.0.113.9", 15*time.Minute)
	if err != nil || n != 3 {
		t.Fatalf("FailedAttemptsByIP=%d err=%v, want 3", n, err)
	}
	n, err = rec.FailedAttemptsByUsername(ctx, "jane_doe", 15*time.Minute)
	if err != nil || n != 3 {
		t.Fatalf("FailedAttemptsByUsername=%d err=%v, want 3", n, err)
	}
	n, err = rec.FailedAttemptsByIP(ctx, "203.0.113.9", 2*time.Hour)
	if err != nil || n != 5 {
		t.Fatalf("FailedAttemptsByIP over 2h=%d err=%v, want 5", n, err)
	}

	if !rec.IsSuspicious(ctx, "203.0.113.9", 3, 15*time.Minute) {
		t.Fatal("three failures at threshold 3 not flagged")
	}
	if rec.IsSuspicious(ctx, "203.0.113.9", 4, 15*time.Minute) {
		t.Fatal("three failures flagged at threshold 4")
	}
	if rec.IsSuspicious(ctx, "198.51.100.3", 3, 15*time.Minute) {
		t.Fatal("single failure flagged as suspicious")
	}

	// A store error reads as not suspicious, never as a panic.
	broken := NewRecorder(failingStore{})
	if broken.IsSuspicious(ctx, "203.0.113.9", 1, 15*time.Minute) {
		t.Fatal("broken store reported suspicion")
	}
}

func TestRecentByUsername(t *testing.T) {
	store := NewMemoryStore()
	rec := NewRecorder(store)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		rec.Record(ctx, Event{Type: TypeLoginFailed, Username: "jane_doe", FailureReason: "wrong password"})
	}
	rec.Record(ctx, Event{Type: TypeLoginSuccess, Username: "jane_doe"})
	rec.Record(ctx, Event{Type: TypeLoginSuccess, Username: "sam_clerk"})

	events, err := rec.RecentByUsername(ctx, "jane_doe", 3)
	if err != nil {
		t.Fatalf("RecentByUsername: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	if events[0].Type != TypeLoginSuccess {
		t.Fatalf("newest event first, got %s", events[0].Type)
	}
	for _, ev := range events {
		if ev.Username != "jane_doe" {
			t.Fatalf("foreign event in result: %+v", ev)
		}
	}
}

func TestPurgeOlderThan(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	current := now.Add(-RetentionWindow - 24*time.Hour)
	store := NewMemoryStore()
	rec := NewRecorder(store, WithClock(func() time.Time { return current }))
	ctx := context.Background()

	rec.Record(ctx, Event{Type: TypeLoginFailed, Username: "old_user"})
	rec.Record(ctx, Event{Type: TypeLoginFailed, Username: "old_user"})
	current = now
	rec.Record(ctx, Event{Type: TypeLoginSuccess, Username: "fresh_user"})

	removed, err := store.PurgeOlderThan(ctx, now.Add(-RetentionWindow))
	if err != nil {
		t.Fatalf("PurgeOlderThan: %v", err)
	}
	if removed != 2 {
		t.Fatalf("removed %d, want 2", removed)
	}
	remaining := store.Events()
	if len(remaining) != 1 || remaining[0].Username != "fresh_user" {
		t.Fatalf("unexpected remainder: %+v", remaining)
	}
}
