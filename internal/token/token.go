// Package token mints and verifies the stateless session tokens presented
// on every protected request. Tokens are HS256-signed JWTs with a fixed
// lifetime; there is no server-side revocation, logout is a client-side
// discard and a stolen token stays valid until natural expiry.
package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// DefaultTTL is the fixed session lifetime: expiry is always
	// issued-at plus this value.
	DefaultTTL = 2 * time.Hour

	DefaultIssuer   = "payvault"
	DefaultAudience = "payvault-web"

	// clockSkew tolerated when validating issued-at.
	clockSkew = 5 * time.Second
)

// Role tags carried in session claims.
const (
	RoleCustomer = "customer"
	RoleEmployee = "employee"
)

// ValidRole reports whether tag is one of the two known role tags.
func ValidRole(tag string) bool {
	return tag == RoleCustomer || tag == RoleEmployee
}

// Claims is the verified content of a session token.
type Claims struct {
	DisplayName string `json:"name"`
	Role        string `json:"role"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies session tokens with a shared symmetric secret.
type Issuer struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
	now      func() time.Time
}

// Option configures an Issuer.
type Option func(*Issuer)

// WithTTL overrides the session lifetime. Non-positive values are ignored.
func WithTTL(ttl time.Duration) Option {
	return func(i *Issuer) {
		if ttl > 0 {
			i.ttl = ttl
		}
	}
}

// WithIssuerName overrides the iss claim.
func WithIssuerName(name string) Option {
	return func(i *Issuer) {
		if name = strings.TrimSpace(name); name != "" {
			i.issuer = name
		}
	}
}

// WithAudience overrides the aud claim.
func WithAudience(aud string) Option {
	return func(i *Issuer) {
		if aud = strings.TrimSpace(aud); aud != "" {
			i.audience = aud
		}
	}
}

// WithClock injects the time source used for minting and validation.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) {
		if now != nil {
			i.now = now
		}
	}
}

// NewIssuer builds an Issuer around the signing secret.
func NewIssuer(secret []byte, opts ...Option) (*Issuer, error) {
	if len(strings.TrimSpace(string(secret))) == 0 {
		return nil, errors.New("token: signing secret is required")
	}
	i := &Issuer{
		secret:   secret,
		issuer:   DefaultIssuer,
		audience: DefaultAudience,
		ttl:      DefaultTTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// Issue mints a signed token for the subject and returns it with its expiry.
func (i *Issuer) Issue(subjectID, displayName, role string) (string, time.Time, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return "", time.Time{}, errors.New("token: subject is required")
	}
	if !ValidRole(role) {
		return "", time.Time{}, fmt.Errorf("token: unknown role tag %q", role)
	}
	now := i.now().UTC()
	expiresAt := now.Add(i.ttl)
	claims := Claims{
		DisplayName: displayName,
		Role:        role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   subjectID,
			Audience:  jwt.ClaimStrings{i.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("token: sign: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify parses raw and checks signature, issuer, audience, expiry and role
// atomically. Any failure yields nil; a nil result carries no hint of which
// check failed.
func (i *Issuer) Verify(raw string) *Claims {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parser := jwt.NewParser(jwt.WithTimeFunc(i.now))
	parsed, err := parser.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return i.secret, nil
	})
	if err != nil {
		return nil
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil
	}
	if err := i.validateClaims(claims); err != nil {
		return nil
	}
	return claims
}

func (i *Issuer) validateClaims(claims *Claims) error {
	if claims.Issuer != i.issuer {
		return fmt.Errorf("unexpected issuer: %s", claims.Issuer)
	}
	var audOK bool
	for _, aud := range claims.Audience {
		if aud == i.audience {
			audOK = true
			break
		}
	}
	if !audOK {
		return errors.New("audience mismatch")
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return errors.New("subject missing")
	}
	if !ValidRole(claims.Role) {
		return fmt.Errorf("unknown role tag: %s", claims.Role)
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return errors.New("timestamps missing")
	}
	now := i.now().UTC()
	if now.After(claims.ExpiresAt.Time) {
		return errors.New("token expired")
	}
	if claims.IssuedAt.Time.After(now.Add(clockSkew)) {
		return errors.New("token issued in the future")
	}
	if claims.ExpiresAt.Time.Before(claims.IssuedAt.Time) {
		return errors.New("token expiry precedes issued-at")
	}
	return nil
}

// ExtractBearer returns the token from an Authorization header value,
// accepting only the exact "Bearer <token>" shape: case-sensitive prefix,
// single space, no embedded whitespace. Anything else yields "".
func ExtractBearer(header string) string {
	tok, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return ""
	}
	if tok == "" || strings.ContainsAny(tok, " \t") {
		return ""
	}
	return tok
}
