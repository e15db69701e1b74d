package credential

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2idParams are the tunable costs of the memory-hard strategy.
// Memory is in KiB.
type Argon2idParams struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultArgon2idParams: 64 MiB, 3 passes, 2 lanes, 256-bit salt and key.
var DefaultArgon2idParams = Argon2idParams{
	Memory:      64 * 1024,
	Time:        3,
	Parallelism: 2,
	SaltLength:  32,
	KeyLength:   32,
}

// Argon2idHasher is the memory-hard strategy. Hashes are stored in PHC form
//
//	$argon2id$v=19$m=65536,t=3,p=2$<salt>$<key>
//
// so the parameters travel with the credential and NeedsRehash can detect
// stale ones later.
type Argon2idHasher struct {
	pepper []byte
	params Argon2idParams
}

// NewArgon2idHasher builds the strategy; zero-valued fields fall back to
// DefaultArgon2idParams.
func NewArgon2idHasher(pepper []byte, params Argon2idParams) *Argon2idHasher {
	def := DefaultArgon2idParams
	if params.Memory == 0 {
		params.Memory = def.Memory
	}
	if params.Time == 0 {
		params.Time = def.Time
	}
	if params.Parallelism == 0 {
		params.Parallelism = def.Parallelism
	}
	if params.SaltLength < 16 {
		params.SaltLength = def.SaltLength
	}
	if params.KeyLength < 16 {
		params.KeyLength = def.KeyLength
	}
	return &Argon2idHasher{pepper: pepper, params: params}
}

// Hash derives a fresh salt and returns the PHC encoding of the peppered
// password.
func (h *Argon2idHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", errors.New("credential: password is empty")
	}
	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("credential: random source: %w", err)
	}
	key := argon2.IDKey(pepperMAC(h.pepper, password), salt,
		h.params.Time, h.params.Memory, h.params.Parallelism, h.params.KeyLength)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, h.params.Memory, h.params.Time, h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key)), nil
}

// Verify recomputes the key with the parameters embedded in encoded and
// compares in constant time. Any decode failure reads as a mismatch.
func (h *Argon2idHasher) Verify(password, encoded string) bool {
	if password == "" {
		return false
	}
	params, salt, key, err := decodeArgon2id(encoded)
	if err != nil {
		return false
	}
	derived := argon2.IDKey(pepperMAC(h.pepper, password), salt,
		params.Time, params.Memory, params.Parallelism, params.KeyLength)
	return subtle.ConstantTimeCompare(derived, key) == 1
}

// NeedsRehash reports whether encoded carries parameters other than the
// configured ones. Foreign encodings count as stale.
func (h *Argon2idHasher) NeedsRehash(encoded string) bool {
	params, salt, _, err := decodeArgon2id(encoded)
	if err != nil {
		return true
	}
	return params.Memory != h.params.Memory ||
		params.Time != h.params.Time ||
		params.Parallelism != h.params.Parallelism ||
		params.KeyLength != h.params.KeyLength ||
		uint32(len(salt)) != h.params.SaltLength
}

// Name returns the strategy identifier used in configuration.
func (h *Argon2idHasher) Name() string { return StrategyArgon2id }

func decodeArgon2id(encoded string) (Argon2idParams, []byte, []byte, error) {
	var params Argon2idParams
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return params, nil, nil, errors.New("credential: not an argon2id encoding")
	}
	var version int
	if n, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || n != 1 {
		return params, nil, nil, errors.New("credential: bad version segment")
	}
	if version != argon2.Version {
		return params, nil, nil, fmt.Errorf("credential: unsupported argon2 version %d", version)
	}
	if n, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d",
		&params.Memory, &params.Time, &params.Parallelism); err != nil || n != 3 {
		return params, nil, nil, errors.New("credential: bad parameter segment")
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return params, nil, nil, fmt.Errorf("credential: bad salt segment: %w", err)
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return params, nil, nil, fmt.Errorf("credential: bad key segment: %w", err)
	}
	params.SaltLength = uint32(len(salt))
	params.KeyLength = uint32(len(key))
	return params, salt, key, nil
}
