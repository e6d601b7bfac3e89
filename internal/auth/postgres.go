package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
	pgErrCheckViolation      = "23514"
)

var _ ProfileStore = (*PGProfileStore)(nil)

// PGProfileStore implements ProfileStore on the profiles table.
type PGProfileStore struct {
	db *sql.DB
}

func NewPGProfileStore(db *sql.DB) *PGProfileStore {
	return &PGProfileStore{db: db}
}

const profileColumns = `id, role, full_name, company, phone, created_at, updated_at`

func (s *PGProfileStore) Create(ctx context.Context, p Profile) (Profile, error) {
	if s.db == nil {
		return Profile{}, errors.New("database connection unavailable")
	}
	if err := checkUserID(p.UserID); err != nil {
		return Profile{}, err
	}
	if p.Role == "" {
		p.Role = RoleUser
	}
	row := s.db.QueryRowContext(ctx, `
		insert into profiles (id, role, full_name, company, phone)
		values ($1, $2, $3, $4, $5)
		returning `+profileColumns,
		p.UserID, string(p.Role), p.FullName, nullable(p.Company), nullable(p.Phone))
	out, err := scanProfile(row)
	if err != nil {
		return Profile{}, mapPgError(err)
	}
	return out, nil
}

func (s *PGProfileStore) Find(ctx context.Context, userID string) (Profile, error) {
	if s.db == nil {
		return Profile{}, errors.New("database connection unavailable")
	}
	if err := checkUserID(userID); err != nil {
		return Profile{}, err
	}
	row := s.db.QueryRowContext(ctx, `select `+profileColumns+` from profiles where id = $1`, userID)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Profile{}, ErrNotFound
	}
	return p, err
}

func (s *PGProfileStore) List(ctx context.Context) ([]Profile, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `select `+profileColumns+` from profiles order by created_at asc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Profile
	for rows.Next() {
		p, err := scanProfile(rows)
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

func (s *PGProfileStore) Update(ctx context.Context, userID string, upd ProfileUpdate) (Profile, error) {
	if s.db == nil {
		return Profile{}, errors.New("database connection unavailable")
	}
	if err := checkUserID(userID); err != nil {
		return Profile{}, err
	}
	var (
		setClauses []string
		args       []any
		idx        = 1
	)
	if upd.FullName != nil {
		setClauses = append(setClauses, fmt.Sprintf("full_name = $%d", idx))
		args = append(args, *upd.FullName)
		idx++
	}
	if upd.Company != nil {
		setClauses = append(setClauses, fmt.Sprintf("company = $%d", idx))
		args = append(args, nullable(upd.Company))
		idx++
	}
	if upd.Phone != nil {
		setClauses = append(setClauses, fmt.Sprintf("phone = $%d", idx))
		args = append(args, nullable(upd.Phone))
		idx++
	}
	if len(setClauses) == 0 {
		return s.Find(ctx, userID)
	}
	setClauses = append(setClauses, "updated_at = now()")
	query := fmt.Sprintf(`update profiles set %s where id = $%d returning %s`, strings.Join(setClauses, ", "), idx, profileColumns)
	args = append(args, userID)
	p, err := scanProfile(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return Profile{}, ErrNotFound
	}
	if err != nil {
		return Profile{}, mapPgError(err)
	}
	return p, nil
}

func (s *PGProfileStore) SetRole(ctx context.Context, userID string, role Role) (Profile, error) {
	if s.db == nil {
		return Profile{}, errors.New("database connection unavailable")
	}
	if err := checkUserID(userID); err != nil {
		return Profile{}, err
	}
	if !role.Valid() {
		return Profile{}, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	row := s.db.QueryRowContext(ctx, `
		update profiles set role = $1, updated_at = now()
		where id = $2
		returning `+profileColumns, string(role), userID)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Profile{}, ErrNotFound
	}
	if err != nil {
		return Profile{}, mapPgError(err)
	}
	return p, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (Profile, error) {
	var (
		p       Profile
		role    string
		company sql.NullString
		phone   sql.NullString
	)
	if err := row.Scan(&p.UserID, &role, &p.FullName, &company, &phone, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return Profile{}, err
	}
	parsed, err := ParseRole(role)
	if err != nil {
		return Profile{}, err
	}
	p.Role = parsed
	if company.Valid {
		p.Company = &company.String
	}
	if phone.Valid {
		p.Phone = &phone.String
	}
	return p, nil
}

func checkUserID(id string) error {
	if _, err := uuid.Parse(strings.TrimSpace(id)); err != nil {
		return fmt.Errorf("%w: user id must be a uuid", ErrInvalidInput)
	}
	return nil
}

func nullable(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}

func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgErrUniqueViolation:
		return ErrConflict
	case pgErrForeignKeyViolation:
		return ErrNotFound
	case pgErrCheckViolation:
		return ErrInvalidRole
	default:
		return err
	}
}
