package pg

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"payvault.org/internal/audit"
)

func TestEventsAppend(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectExec("insert into audit_events").
		WithArgs("01JEVENT0000000000000000AA", "login_failed", "customer", "jane_doe", nil,
			"203.0.113.9", nil, "authentication failed", "password_mismatch", "warning", now).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = NewStore(db).Events().Append(context.Background(), &audit.Event{
		ID:            "01JEVENT0000000000000000AA",
		Type:          audit.TypeLoginFailed,
		IdentityType:  "customer",
		Username:      "jane_doe",
		IPAddress:     "203.0.113.9",
		Message:       "authentication failed",
		FailureReason: "password_mismatch",
		Severity:      audit.SeverityWarning,
		CreatedAt:     now,
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestEventsFailureCounts(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	store := NewStore(db)

	since := time.Now().Add(-15 * time.Minute)
	mock.ExpectQuery("and ip_address = .1 and created_at").
		WithArgs("203.0.113.9", since).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))
	n, err := store.Events().CountFailuresByIP(context.Background(), "203.0.113.9", since)
	if err != nil {
		t.Fatalf("CountFailuresByIP: %v", err)
	}
	if n != 4 {
		t.Fatalf("count = %d, want 4", n)
	}

	mock.ExpectQuery("and username = .1 and created_at").
		WithArgs("jane_doe", since).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	n, err = store.Events().CountFailuresByUsername(context.Background(), "jane_doe", since)
	if err != nil {
		t.Fatalf("CountFailuresByUsername: %v", err)
	}
	if n != 2 {
		t.Fatalf("count = %d, want 2", n)
	}
}

func TestEventsRecentByUsername(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	cols := []string{"id", "type", "identity_type", "username", "account_number", "ip_address", "user_agent", "message", "failure_reason", "severity", "created_at"}
	now := time.Now().UTC()
	rows := sqlmock.NewRows(cols).
		AddRow("01JEVENT0000000000000000AB", "login_success", "customer", "jane_doe", "", "203.0.113.9", "", "", "", "info", now).
		AddRow("01JEVENT0000000000000000AA", "login_failed", "customer", "jane_doe", "", "203.0.113.9", "", "", "password_mismatch", "warning", now.Add(-time.Minute))
	mock.ExpectQuery("from audit_events where username").
		WithArgs("jane_doe", 50).
		WillReturnRows(rows)

	events, err := NewStore(db).Events().RecentByUsername(context.Background(), "jane_doe", 0)
	if err != nil {
		t.Fatalf("RecentByUsername: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Type != audit.TypeLoginSuccess || events[1].FailureReason != "password_mismatch" {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestEventsPurgeOlderThan(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("delete from audit_events").
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 37))
	n, err := NewStore(db).Events().PurgeOlderThan(context.Background(), time.Now().Add(-audit.RetentionWindow))
	if err != nil {
		t.Fatalf("PurgeOlderThan: %v", err)
	}
	if n != 37 {
		t.Fatalf("purged = %d, want 37", n)
	}
}
