package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"payvault.org/internal/ids"
	"payvault.org/internal/payment"
)

// Payments persists international payment instructions.
type Payments struct {
	db *sql.DB
}

var _ payment.Service = (*Payments)(nil)

const paymentColumns = `id, customer_id, amount_minor, currency, provider, payee_account_number, payee_name, swift_code, coalesce(reference,''), status, created_at, verified_at, coalesce(verified_by,''), submitted_at, coalesce(submitted_by,''), coalesce(idempotency_key,'')`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row rowScanner) (payment.Payment, error) {
	var p payment.Payment
	err := row.Scan(&p.ID, &p.CustomerID, &p.AmountMinor, &p.Currency, &p.Provider,
		&p.PayeeAccountNumber, &p.PayeeName, &p.SwiftCode, &p.Reference, &p.Status,
		&p.CreatedAt, &p.VerifiedAt, &p.VerifiedBy, &p.SubmittedAt, &p.SubmittedBy, &p.IdempotencyKey)
	if errors.Is(err, sql.ErrNoRows) {
		return payment.Payment{}, payment.ErrNotFound
	}
	if err != nil {
		return payment.Payment{}, err
	}
	return p, nil
}

// Create validates the draft and inserts a pending payment. Idempotency keys
// are scoped per customer: a replayed key returns the caller's original row
// untouched and never surfaces another customer's payment.
func (s *Payments) Create(ctx context.Context, draft payment.Draft) (payment.Payment, error) {
	if err := payment.ValidateDraft(draft); err != nil {
		return payment.Payment{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return payment.Payment{}, err
	}
	defer func() { _ = tx.Rollback() }()

	// Idempotency: return existing payment if the key is already recorded
	if draft.IdempotencyKey != "" {
		p, err := scanPayment(tx.QueryRowContext(ctx, `
			select `+paymentColumns+`
			from payments where customer_id = $1 and idempotency_key = $2
		`, draft.CustomerID, draft.IdempotencyKey))
		if err == nil {
			return p, tx.Commit()
		}
		if !errors.Is(err, payment.ErrNotFound) {
			return payment.Payment{}, err
		}
	}

	p, err := scanPayment(tx.QueryRowContext(ctx, `
		insert into payments (id, customer_id, amount_minor, currency, provider, payee_account_number, payee_name, swift_code, reference, status, idempotency_key)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'pending', nullif($10, ''))
		returning `+paymentColumns+`
	`, ids.New(), draft.CustomerID, payment.MinorUnits(draft.Amount), draft.Currency, draft.Provider,
		draft.PayeeAccountNumber, draft.PayeeName, draft.SwiftCode, nullIfEmpty(draft.Reference), draft.IdempotencyKey))
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				// Lost the race on the idempotency key; the winner's row is the answer.
				return scanPayment(s.db.QueryRowContext(ctx, `
					select `+paymentColumns+`
					from payments where customer_id = $1 and idempotency_key = $2
				`, draft.CustomerID, draft.IdempotencyKey))
			case pgErrForeignKeyViolation:
				return payment.Payment{}, fmt.Errorf("%w: customer_id", payment.ErrInvalidInput)
			}
		}
		return payment.Payment{}, err
	}
	return p, tx.Commit()
}

func (s *Payments) Get(ctx context.Context, id string) (payment.Payment, error) {
	return scanPayment(s.db.QueryRowContext(ctx, `
		select `+paymentColumns+`
		from payments where id = $1
	`, id))
}

func (s *Payments) ListByCustomer(ctx context.Context, customerID string, limit int) ([]payment.Payment, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+paymentColumns+`
		from payments
		where customer_id = $1
		order by id desc
		limit $2
	`, customerID, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	return collectPayments(rows)
}

func (s *Payments) ListPending(ctx context.Context, limit int) ([]payment.Payment, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+paymentColumns+`
		from payments
		where status = 'pending'
		order by id asc
		limit $1
	`, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	return collectPayments(rows)
}

// Verify moves a pending payment to verified. The status predicate makes the
// transition atomic under concurrent verifiers.
func (s *Payments) Verify(ctx context.Context, id, employeeID string) (payment.Payment, error) {
	p, err := scanPayment(s.db.QueryRowContext(ctx, `
		update payments
		set status = 'verified', verified_at = now(), verified_by = $2
		where id = $1 and status = 'pending'
		returning `+paymentColumns+`
	`, id, employeeID))
	if errors.Is(err, payment.ErrNotFound) {
		return payment.Payment{}, s.transitionError(ctx, id, "verified")
	}
	return p, err
}

// Submit moves a verified payment to submitted.
func (s *Payments) Submit(ctx context.Context, id, employeeID string) (payment.Payment, error) {
	p, err := scanPayment(s.db.QueryRowContext(ctx, `
		update payments
		set status = 'submitted', submitted_at = now(), submitted_by = $2
		where id = $1 and status = 'verified'
		returning `+paymentColumns+`
	`, id, employeeID))
	if errors.Is(err, payment.ErrNotFound) {
		return payment.Payment{}, s.transitionError(ctx, id, "submitted")
	}
	return p, err
}

// transitionError distinguishes a missing payment from one in the wrong
// state after a guarded update matched no row.
func (s *Payments) transitionError(ctx context.Context, id, target string) error {
	var status string
	err := s.db.QueryRowContext(ctx, `select status from payments where id = $1`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return payment.ErrNotFound
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s payment cannot be %s", payment.ErrInvalidTransition, status, target)
}

func collectPayments(rows *sql.Rows) ([]payment.Payment, error) {
	defer rows.Close()
	var result []payment.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 100
	}
	return limit
}
