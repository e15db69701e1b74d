package audit

import "time"

// EventType classifies an audit event.
type EventType string

const (
	TypeLoginFailed         EventType = "login_failed"
	TypeLoginSuccess        EventType = "login_success"
	TypeRegistrationSuccess EventType = "registration_success"
	TypeAccountLocked       EventType = "account_locked"
	TypeSuspiciousActivity  EventType = "suspicious_activity"
	TypePasswordReset       EventType = "password_reset"
	TypeUnauthorizedAccess  EventType = "unauthorized_access"
)

// Severity grades an audit event.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// DeriveSeverity maps an event type to its default severity. Lockouts and
// suspicious activity are critical; failed logins and unauthorized access
// are warnings; the rest is informational.
func DeriveSeverity(t EventType) Severity {
	switch t {
	case TypeAccountLocked, TypeSuspiciousActivity:
		return SeverityCritical
	case TypeLoginFailed, TypeUnauthorizedAccess:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// Event is one immutable audit record. Events are appended by every
// authentication attempt and never mutated; they age out after
// RetentionWindow.
type Event struct {
	ID            string    `json:"id"`
	Type          EventType `json:"type"`
	IdentityType  string    `json:"identity_type,omitempty"`
	Username      string    `json:"username,omitempty"`
	AccountNumber string    `json:"account_number,omitempty"`
	IPAddress     string    `json:"ip_address,omitempty"`
	UserAgent     string    `json:"user_agent,omitempty"`
	Message       string    `json:"message,omitempty"`
	FailureReason string    `json:"failure_reason,omitempty"`
	Severity      Severity  `json:"severity"`
	CreatedAt     time.Time `json:"created_at"`
}
