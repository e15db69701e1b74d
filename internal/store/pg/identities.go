package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"payvault.org/internal/auth"
)

// Identities persists credentialed accounts.
type Identities struct {
	db *sql.DB
}

var _ auth.IdentityStore = (*Identities)(nil)

const identityColumns = `id, type, username, full_name, national_id, account_number, email, credential, status, created_at, updated_at`

func scanIdentity(row *sql.Row) (*auth.Identity, error) {
	var (
		id         auth.Identity
		nationalID sql.NullString
		accountNum sql.NullString
		email      sql.NullString
	)
	err := row.Scan(&id.ID, &id.Type, &id.Username, &id.FullName, &nationalID, &accountNum, &email, &id.Credential, &id.Status, &id.CreatedAt, &id.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if nationalID.Valid {
		id.NationalID = nationalID.String
	}
	if accountNum.Valid {
		id.AccountNumber = accountNum.String
	}
	if email.Valid {
		id.Email = email.String
	}
	return &id, nil
}

func (s *Identities) FindCustomer(ctx context.Context, username, accountNumber string) (*auth.Identity, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+identityColumns+`
		from identities
		where type = 'customer' and username = $1 and account_number = $2
	`, username, accountNumber)
	return scanIdentity(row)
}

func (s *Identities) FindEmployee(ctx context.Context, username string) (*auth.Identity, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+identityColumns+`
		from identities
		where type = 'employee' and username = $1
	`, username)
	return scanIdentity(row)
}

func (s *Identities) Create(ctx context.Context, identity *auth.Identity) error {
	err := s.db.QueryRowContext(ctx, `
		insert into identities (id, type, username, full_name, national_id, account_number, email, credential, status)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		returning created_at, updated_at
	`, identity.ID, identity.Type, identity.Username, identity.FullName,
		nullIfEmpty(identity.NationalID), nullIfEmpty(identity.AccountNumber), nullIfEmpty(identity.Email),
		identity.Credential, identity.Status,
	).Scan(&identity.CreatedAt, &identity.UpdatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return auth.ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (s *Identities) UpdateCredential(ctx context.Context, id, encoded string) error {
	res, err := s.db.ExecContext(ctx, `
		update identities set credential = $2, updated_at = now() where id = $1
	`, id, encoded)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return auth.ErrNotFound
	}
	return nil
}

// ResetTokens persists password reset tokens keyed by token hash.
type ResetTokens struct {
	db *sql.DB
}

var _ auth.ResetTokenStore = (*ResetTokens)(nil)

func (s *ResetTokens) Save(ctx context.Context, tok auth.ResetToken) error {
	_, err := s.db.ExecContext(ctx, `
		insert into reset_tokens (token_hash, identity_id, identity_type, username, expires_at, consumed)
		values ($1, $2, $3, $4, $5, false)
	`, tok.TokenHash, tok.IdentityID, tok.IdentityType, tok.Username, tok.ExpiresAt)
	return err
}

func (s *ResetTokens) Find(ctx context.Context, tokenHash string) (*auth.ResetToken, error) {
	var tok auth.ResetToken
	err := s.db.QueryRowContext(ctx, `
		select token_hash, identity_id, identity_type, username, expires_at, consumed
		from reset_tokens
		where token_hash = $1
	`, tokenHash).Scan(&tok.TokenHash, &tok.IdentityID, &tok.IdentityType, &tok.Username, &tok.ExpiresAt, &tok.Consumed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tok, nil
}

// Consume marks the token used. The consumed = false predicate makes the
// update atomic: of two racing submits only one sees an unconsumed row.
func (s *ResetTokens) Consume(ctx context.Context, tokenHash string) error {
	res, err := s.db.ExecContext(ctx, `
		update reset_tokens set consumed = true where token_hash = $1 and consumed = false
	`, tokenHash)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		var consumed bool
		err := s.db.QueryRowContext(ctx, `select consumed from reset_tokens where token_hash = $1`, tokenHash).Scan(&consumed)
		if errors.Is(err, sql.ErrNoRows) {
			return auth.ErrNotFound
		}
		if err != nil {
			return err
		}
		return auth.ErrInvalidResetToken
	}
	return nil
}

func (s *ResetTokens) DeleteExpired(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `delete from reset_tokens where expires_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(aff), nil
}
