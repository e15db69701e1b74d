package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"payvault.org/internal/obs"
)

func TestRecordMirrorsToLog(t *testing.T) {
	logger := obs.Logger()
	original := logger.Writer()
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(original)

	rec := NewRecorder(NewMemoryStore())
	ctx := WithRequestID(context.Background(), "req-123")
	rec.Record(ctx, Event{
		Type:          TypeLoginFailed,
		IdentityType:  "customer",
		Username:      "jane_doe",
		IPAddress:     "203.0.113.9",
		FailureReason: "wrong password",
	})

	line := buf.String()
	if line == "" {
		t.Fatal("expected log output")
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["type"] != "audit" {
		t.Fatalf("unexpected type: %v", entry["type"])
	}
	if entry["event"] != "login_failed" {
		t.Fatalf("unexpected event: %v", entry["event"])
	}
	if entry["severity"] != "warning" {
		t.Fatalf("unexpected severity: %v", entry["severity"])
	}
	if entry["request_id"] != "req-123" {
		t.Fatalf("unexpected request id: %v", entry["request_id"])
	}
	fields, ok := entry["fields"].(map[string]any)
	if !ok || fields["username"] != "jane_doe" || fields["failure_reason"] != "wrong password" {
		t.Fatalf("fields missing or incorrect: %v", entry["fields"])
	}
}
