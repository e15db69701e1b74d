// Package credential owns password hashing and one-time token generation.
// Two hashing strategies are available behind one interface; the active one
// is chosen by configuration. Both strategies pre-MAC the password with a
// server-side pepper, so a leaked credential store alone is not crackable
// offline without the deployment secret.
package credential

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Strategy names accepted in configuration.
const (
	StrategyBcrypt   = "bcrypt"
	StrategyArgon2id = "argon2id"
)

// SecureTokenBytes is the default entropy for one-time tokens.
const SecureTokenBytes = 32

// SecureTokenTTL is the default validity window for one-time tokens. Expiry
// is tracked by the caller that stores the token.
const SecureTokenTTL = time.Hour

// Hasher hashes and verifies passwords. Verify reports only success or
// failure: malformed input, a foreign encoding and an internal error all
// read as a plain mismatch, so the caller can never be used as an oracle.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(password, encoded string) bool
	NeedsRehash(encoded string) bool
	Name() string
}

// Config selects and parameterizes the hashing strategy.
type Config struct {
	Strategy   string
	Pepper     []byte
	BcryptCost int
	Argon2     Argon2idParams
}

// New builds the configured Hasher. An empty strategy selects argon2id.
// The returned hasher produces hashes with the configured strategy but
// verifies encodings from either one, so switching strategies migrates
// stored credentials on the next successful login instead of invalidating
// them.
func New(cfg Config) (Hasher, error) {
	switch cfg.Strategy {
	case StrategyBcrypt:
		return &multiHasher{
			primary:  NewBcryptHasher(cfg.Pepper, cfg.BcryptCost),
			fallback: NewArgon2idHasher(cfg.Pepper, cfg.Argon2),
		}, nil
	case StrategyArgon2id, "":
		return &multiHasher{
			primary:  NewArgon2idHasher(cfg.Pepper, cfg.Argon2),
			fallback: NewBcryptHasher(cfg.Pepper, cfg.BcryptCost),
		}, nil
	default:
		return nil, fmt.Errorf("credential: unknown strategy %q", cfg.Strategy)
	}
}

// multiHasher dispatches verification on the stored encoding's format while
// hashing with the primary strategy only.
type multiHasher struct {
	primary  Hasher
	fallback Hasher
}

func (m *multiHasher) Hash(password string) (string, error) {
	return m.primary.Hash(password)
}

func (m *multiHasher) Verify(password, encoded string) bool {
	if strategyOf(encoded) == m.fallback.Name() {
		return m.fallback.Verify(password, encoded)
	}
	return m.primary.Verify(password, encoded)
}

func (m *multiHasher) NeedsRehash(encoded string) bool {
	if strategyOf(encoded) != m.primary.Name() {
		return true
	}
	return m.primary.NeedsRehash(encoded)
}

func (m *multiHasher) Name() string { return m.primary.Name() }

func strategyOf(encoded string) string {
	switch {
	case strings.HasPrefix(encoded, "$argon2id$"):
		return StrategyArgon2id
	case strings.HasPrefix(encoded, "$2a$"), strings.HasPrefix(encoded, "$2b$"), strings.HasPrefix(encoded, "$2y$"):
		return StrategyBcrypt
	default:
		return ""
	}
}

// pepperMAC folds the deployment pepper into the password before the cost
// function runs. The MAC is base64-encoded so downstream algorithms see
// printable bytes; this also keeps long passwords inside bcrypt's 72-byte
// input limit.
func pepperMAC(pepper []byte, password string) []byte {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(password))
	sum := mac.Sum(nil)
	out := make([]byte, base64.RawStdEncoding.EncodedLen(len(sum)))
	base64.RawStdEncoding.Encode(out, sum)
	return out
}

// GenerateSecureToken returns lengthBytes of CSPRNG output, hex encoded.
// Zero or negative lengths fall back to SecureTokenBytes.
func GenerateSecureToken(lengthBytes int) (string, error) {
	if lengthBytes <= 0 {
		lengthBytes = SecureTokenBytes
	}
	buf := make([]byte, lengthBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("credential: random source: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// HashToken returns the hex sha256 digest under which one-time tokens are
// stored. The plaintext token is only ever held by the requester.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// CompareTokenHash reports whether token matches the stored digest, in
// constant time.
func CompareTokenHash(storedHash, token string) bool {
	sum := sha256.Sum256([]byte(token))
	actual := hex.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(storedHash), []byte(actual)) == 1
}
