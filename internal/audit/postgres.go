package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

var _ Store = (*PGStore)(nil)

// PGStore persists audit rows in audit_logs and failed_login_attempts.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) InsertEvent(ctx context.Context, rec Record) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	meta, err := json.Marshal(rec.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into audit_logs (id, action, user_id, email, ip_address, user_agent, resource_type, resource_id, metadata, severity, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rec.ID, string(rec.Action), nullIfEmpty(rec.UserID), nullIfEmpty(rec.Email), nullIfEmpty(rec.IPAddress),
		nullIfEmpty(rec.UserAgent), rec.ResourceType, nullIfEmpty(rec.ResourceID), meta, string(rec.Severity), rec.CreatedAt)
	return err
}

func (s *PGStore) InsertFailedLogin(ctx context.Context, f FailedLogin) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	_, err := s.db.ExecContext(ctx, `
		insert into failed_login_attempts (id, email, ip_address, user_agent, attempted_at)
		values ($1, $2, $3, $4, $5)`,
		f.ID, f.Email, f.IPAddress, nullIfEmpty(f.UserAgent), f.AttemptedAt)
	return err
}

func (s *PGStore) CountFailedLogins(ctx context.Context, email, ip string, after, until time.Time) (int, error) {
	if s.db == nil {
		return 0, errors.New("database connection unavailable")
	}
	var n int
	err := s.db.QueryRowContext(ctx, `
		select count(*) from failed_login_attempts
		where email = $1 and ip_address = $2 and attempted_at > $3 and attempted_at <= $4`,
		email, ip, after, until).Scan(&n)
	return n, err
}

// Recent returns the newest audit rows, newest first.
func (s *PGStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, action, coalesce(user_id::text, ''), coalesce(email, ''), coalesce(ip_address, ''),
		       coalesce(user_agent, ''), resource_type, coalesce(resource_id, ''), metadata, severity, created_at
		from audit_logs order by created_at desc limit $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec    Record
			action string
			sev    string
			meta   []byte
		)
		if err := rows.Scan(&rec.ID, &action, &rec.UserID, &rec.Email, &rec.IPAddress, &rec.UserAgent,
			&rec.ResourceType, &rec.ResourceID, &meta, &sev, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Action, rec.Severity = Action(action), Severity(sev)
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &rec.Metadata); err != nil {
				return nil, err
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
