package credential

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost is deliberately above the library default; login latency
// at this cost is still well under interactive limits on current hardware.
const DefaultBcryptCost = 12

// BcryptHasher is the adaptive-cost strategy. Salt and cost ride inside the
// encoded hash, so no extra storage columns are needed.
type BcryptHasher struct {
	pepper []byte
	cost   int
}

// NewBcryptHasher builds the strategy with the given cost; out-of-range
// costs fall back to DefaultBcryptCost.
func NewBcryptHasher(pepper []byte, cost int) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultBcryptCost
	}
	return &BcryptHasher{pepper: pepper, cost: cost}
}

// Hash returns the bcrypt encoding of the peppered password.
func (h *BcryptHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", errors.New("credential: password is empty")
	}
	hash, err := bcrypt.GenerateFromPassword(pepperMAC(h.pepper, password), h.cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Verify reports whether password matches encoded. Malformed encodings read
// as a mismatch.
func (h *BcryptHasher) Verify(password, encoded string) bool {
	if password == "" || encoded == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(encoded), pepperMAC(h.pepper, password)) == nil
}

// NeedsRehash reports whether encoded was produced with parameters other
// than the configured ones. Foreign or unreadable encodings count as stale.
func (h *BcryptHasher) NeedsRehash(encoded string) bool {
	cost, err := bcrypt.Cost([]byte(encoded))
	if err != nil {
		return true
	}
	return cost != h.cost
}

// Name returns the strategy identifier used in configuration.
func (h *BcryptHasher) Name() string { return StrategyBcrypt }
