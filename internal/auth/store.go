package auth

import (
	"context"
	"time"
)

// IdentityStore persists credentialed accounts.
type IdentityStore interface {
	FindCustomer(ctx context.Context, username, accountNumber string) (*Identity, error)
	FindEmployee(ctx context.Context, username string) (*Identity, error)
	Create(ctx context.Context, identity *Identity) error
	UpdateCredential(ctx context.Context, id, encoded string) error
}

// ResetToken is a pending password reset. Only the SHA-256 of the issued
// token is stored; the raw token exists only in transit.
type ResetToken struct {
	TokenHash    string
	IdentityID   string
	IdentityType string
	Username     string
	ExpiresAt    time.Time
	Consumed     bool
}

// ResetTokenStore persists password reset tokens.
type ResetTokenStore interface {
	Save(ctx context.Context, tok ResetToken) error
	Find(ctx context.Context, tokenHash string) (*ResetToken, error)
	Consume(ctx context.Context, tokenHash string) error
	DeleteExpired(ctx context.Context, cutoff time.Time) (int, error)
}
