package auth

import (
	"context"
	"sync"
	"time"
)

// MemoryIdentities is a mutex-guarded IdentityStore for tests and single
// node deployments.
type MemoryIdentities struct {
	mu   sync.RWMutex
	byID map[string]*Identity
}

// NewMemoryIdentities builds an empty in-memory identity store.
func NewMemoryIdentities() *MemoryIdentities {
	return &MemoryIdentities{byID: make(map[string]*Identity)}
}

func (s *MemoryIdentities) FindCustomer(ctx context.Context, username, accountNumber string) (*Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range s.byID {
		if id.Type == TypeCustomer && id.Username == username && id.AccountNumber == accountNumber {
			cp := *id
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryIdentities) FindEmployee(ctx context.Context, username string) (*Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range s.byID {
		if id.Type == TypeEmployee && id.Username == username {
			cp := *id
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryIdentities) Create(ctx context.Context, identity *Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.byID {
		if existing.Username == identity.Username {
			return ErrAlreadyExists
		}
	}
	cp := *identity
	s.byID[identity.ID] = &cp
	return nil
}

func (s *MemoryIdentities) UpdateCredential(ctx context.Context, id, encoded string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	identity.Credential = encoded
	identity.UpdatedAt = time.Now().UTC()
	return nil
}

// MemoryResetTokens is a mutex-guarded ResetTokenStore keyed by token hash.
type MemoryResetTokens struct {
	mu     sync.Mutex
	byHash map[string]*ResetToken
}

// NewMemoryResetTokens builds an empty in-memory reset token store.
func NewMemoryResetTokens() *MemoryResetTokens {
	return &MemoryResetTokens{byHash: make(map[string]*ResetToken)}
}

func (s *MemoryResetTokens) Save(ctx context.Context, tok ResetToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := tok
	s.byHash[tok.TokenHash] = &cp
	return nil
}

func (s *MemoryResetTokens) Find(ctx context.Context, tokenHash string) (*ResetToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.byHash[tokenHash]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *tok
	return &cp, nil
}

func (s *MemoryResetTokens) Consume(ctx context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.byHash[tokenHash]
	if !ok {
		return ErrNotFound
	}
	if tok.Consumed {
		return ErrInvalidResetToken
	}
	tok.Consumed = true
	return nil
}

func (s *MemoryResetTokens) DeleteExpired(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for hash, tok := range s.byHash {
		if tok.ExpiresAt.Before(cutoff) {
			delete(s.byHash, hash)
			removed++
		}
	}
	return removed, nil
}
