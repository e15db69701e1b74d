package payment

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"payvault.org/internal/ids"
	"payvault.org/internal/validate"
)

// Service defines the payment workflow operations.
type Service interface {
	Create(ctx context.Context, draft Draft) (Payment, error)
	Get(ctx context.Context, id string) (Payment, error)
	ListByCustomer(ctx context.Context, customerID string, limit int) ([]Payment, error)
	ListPending(ctx context.Context, limit int) ([]Payment, error)
	Verify(ctx context.Context, id, employeeID string) (Payment, error)
	Submit(ctx context.Context, id, employeeID string) (Payment, error)
}

// InMemory implements Service with in-process concurrency safety.
type InMemory struct {
	mu       sync.RWMutex
	payments map[string]*Payment
	idem     map[string]string // customer id + idempotency key -> payment id
	now      func() time.Time
}

// NewInMemory creates an empty payment store.
func NewInMemory() *InMemory {
	return &InMemory{
		payments: make(map[string]*Payment),
		idem:     make(map[string]string),
		now:      time.Now,
	}
}

// ValidateDraft runs every field through the whitelist validators before
// anything is stored.
func ValidateDraft(draft Draft) error {
	switch {
	case !ids.Valid(draft.CustomerID):
		return fmt.Errorf("%w: customer_id", ErrInvalidInput)
	case !validate.Amount(draft.Amount):
		return fmt.Errorf("%w: amount", ErrInvalidInput)
	case !validate.Currency(draft.Currency):
		return fmt.Errorf("%w: currency", ErrInvalidInput)
	case !validate.ProviderName(draft.Provider):
		return fmt.Errorf("%w: provider", ErrInvalidInput)
	case !validate.AccountNumber(draft.PayeeAccountNumber):
		return fmt.Errorf("%w: payee_account_number", ErrInvalidInput)
	case !validate.FullName(draft.PayeeName):
		return fmt.Errorf("%w: payee_name", ErrInvalidInput)
	case !validate.SwiftCode(draft.SwiftCode):
		return fmt.Errorf("%w: swift_code", ErrInvalidInput)
	case draft.Reference != "" && !validate.ReferenceID(draft.Reference):
		return fmt.Errorf("%w: reference", ErrInvalidInput)
	}
	return nil
}

func (s *InMemory) Create(ctx context.Context, draft Draft) (Payment, error) {
	if err := ValidateDraft(draft); err != nil {
		return Payment{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Idempotent replay returns the original payment. Keys are scoped to the
	// creating customer; a replay never matches another customer's row.
	if draft.IdempotencyKey != "" {
		if id, ok := s.idem[idemKey(draft.CustomerID, draft.IdempotencyKey)]; ok {
			return *s.payments[id], nil
		}
	}

	p := &Payment{
		ID:                 ids.New(),
		CustomerID:         draft.CustomerID,
		AmountMinor:        MinorUnits(draft.Amount),
		Currency:           draft.Currency,
		Provider:           draft.Provider,
		PayeeAccountNumber: draft.PayeeAccountNumber,
		PayeeName:          draft.PayeeName,
		SwiftCode:          draft.SwiftCode,
		Reference:          draft.Reference,
		Status:             StatusPending,
		CreatedAt:          s.now().UTC(),
		IdempotencyKey:     draft.IdempotencyKey,
	}
	s.payments[p.ID] = p
	if draft.IdempotencyKey != "" {
		s.idem[idemKey(draft.CustomerID, draft.IdempotencyKey)] = p.ID
	}
	return *p, nil
}

func idemKey(customerID, key string) string { return customerID + "|" + key }

func (s *InMemory) Get(ctx context.Context, id string) (Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.payments[id]
	if !ok {
		return Payment{}, ErrNotFound
	}
	return *p, nil
}

func (s *InMemory) ListByCustomer(ctx context.Context, customerID string, limit int) ([]Payment, error) {
	limit = clampLimit(limit)
	s.mu.RLock()
	defer s.mu.RUnlock()

	var res []Payment
	for _, p := range s.payments {
		if p.CustomerID == customerID {
			res = append(res, *p)
		}
	}
	// Newest first. ULIDs sort lexicographically by creation time.
	sort.Slice(res, func(i, j int) bool { return res[i].ID > res[j].ID })
	if len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (s *InMemory) ListPending(ctx context.Context, limit int) ([]Payment, error) {
	limit = clampLimit(limit)
	s.mu.RLock()
	defer s.mu.RUnlock()

	var res []Payment
	for _, p := range s.payments {
		if p.Status == StatusPending {
			res = append(res, *p)
		}
	}
	// Oldest first: the verification queue is worked in arrival order.
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	if len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (s *InMemory) Verify(ctx context.Context, id, employeeID string) (Payment, error) {
	if employeeID == "" {
		return Payment{}, fmt.Errorf("%w: employee_id", ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[id]
	if !ok {
		return Payment{}, ErrNotFound
	}
	if p.Status != StatusPending {
		return Payment{}, fmt.Errorf("%w: %s payment cannot be verified", ErrInvalidTransition, p.Status)
	}
	at := s.now().UTC()
	p.Status = StatusVerified
	p.VerifiedAt = &at
	p.VerifiedBy = employeeID
	return *p, nil
}

func (s *InMemory) Submit(ctx context.Context, id, employeeID string) (Payment, error) {
	if employeeID == "" {
		return Payment{}, fmt.Errorf("%w: employee_id", ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[id]
	if !ok {
		return Payment{}, ErrNotFound
	}
	if p.Status != StatusVerified {
		return Payment{}, fmt.Errorf("%w: %s payment cannot be submitted", ErrInvalidTransition, p.Status)
	}
	at := s.now().UTC()
	p.Status = StatusSubmitted
	p.SubmittedAt = &at
	p.SubmittedBy = employeeID
	return *p, nil
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 100
	}
	return limit
}
