package pg

import (
	"context"
	"database/sql"
	"time"

	"payvault.org/internal/audit"
)

// Events is the append-only audit event table. Rows are never updated;
// retention is a periodic delete of expired history.
type Events struct {
	db *sql.DB
}

var _ audit.Store = (*Events)(nil)

func (s *Events) Append(ctx context.Context, ev *audit.Event) error {
	_, err := s.db.ExecContext(ctx, `
		insert into audit_events (id, type, identity_type, username, account_number, ip_address, user_agent, message, failure_reason, severity, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, ev.ID, ev.Type, nullIfEmpty(ev.IdentityType), nullIfEmpty(ev.Username), nullIfEmpty(ev.AccountNumber),
		nullIfEmpty(ev.IPAddress), nullIfEmpty(ev.UserAgent), nullIfEmpty(ev.Message), nullIfEmpty(ev.FailureReason),
		ev.Severity, ev.CreatedAt)
	return err
}

func (s *Events) CountFailuresByIP(ctx context.Context, ip string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		select count(*) from audit_events
		where type = 'login_failed' and ip_address = $1 and created_at >= $2
	`, ip, since).Scan(&n)
	return n, err
}

func (s *Events) CountFailuresByUsername(ctx context.Context, username string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		select count(*) from audit_events
		where type = 'login_failed' and username = $1 and created_at >= $2
	`, username, since).Scan(&n)
	return n, err
}

func (s *Events) RecentByUsername(ctx context.Context, username string, limit int) ([]audit.Event, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, type, coalesce(identity_type,''), coalesce(username,''), coalesce(account_number,''), coalesce(ip_address,''), coalesce(user_agent,''), coalesce(message,''), coalesce(failure_reason,''), severity, created_at
		from audit_events
		where username = $1
		order by created_at desc, id desc
		limit $2
	`, username, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var ev audit.Event
		if err := rows.Scan(&ev.ID, &ev.Type, &ev.IdentityType, &ev.Username, &ev.AccountNumber,
			&ev.IPAddress, &ev.UserAgent, &ev.Message, &ev.FailureReason, &ev.Severity, &ev.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func (s *Events) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from audit_events where created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
