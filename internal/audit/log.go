package audit

import (
	"context"
	"strings"
	"time"

	"payvault.org/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context so recorded
// events can be correlated with request logs.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// requestIDFromContext extracts the audit request id from context if present.
func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// mirror writes the event as one JSON line on the shared logger, enriched
// with the request id when the context carries one.
func (r *Recorder) mirror(ctx context.Context, ev Event) {
	entry := map[string]any{
		"ts":       ev.CreatedAt.Format(time.RFC3339Nano),
		"type":     "audit",
		"event":    string(ev.Type),
		"severity": string(ev.Severity),
	}
	if rid := requestIDFromContext(ctx); rid != "" {
		entry["request_id"] = rid
	}
	fields := map[string]any{}
	if ev.IdentityType != "" {
		fields["identity_type"] = ev.IdentityType
	}
	if ev.Username != "" {
		fields["username"] = ev.Username
	}
	if ev.IPAddress != "" {
		fields["ip"] = ev.IPAddress
	}
	if ev.FailureReason != "" {
		fields["failure_reason"] = ev.FailureReason
	}
	if ev.Message != "" {
		fields["message"] = ev.Message
	}
	entry["fields"] = fields
	obs.LogRequest(entry)
}
