package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/cyberguard/internal/model"
)

type OfficerStore struct {
	db  *DB
	now func() time.Time
}

func NewOfficerStore(db *DB) *OfficerStore {
	return &OfficerStore{db: db, now: time.Now}
}

func (s *OfficerStore) CountAll(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM officers`).Scan(&n)
	return n, err
}

func (s *OfficerStore) Create(ctx context.Context, id, email, name, passwordHash string, role model.Role) error {
	_, err := s.db.ExecContext(ctx,
		s.db.rebind(`INSERT INTO officers (id, email, name, password_hash, role, status, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`),
		id, normalizeEmail(email), name, passwordHash, string(role), string(model.StatusActive), s.now().Unix(),
	)
	return err
}

const officerColumns = `id, email, name, role, status, created_at, last_login_at`

// GetByEmail returns the officer and their password hash.
func (s *OfficerStore) GetByEmail(ctx context.Context, email string) (*model.Officer, string, error) {
	var hash string
	o, err := scanOfficer(s.db.QueryRowContext(ctx,
		s.db.rebind(`SELECT `+officerColumns+`, password_hash FROM officers WHERE email = ?`),
		normalizeEmail(email),
	), &hash)
	if err != nil {
		return nil, "", err
	}
	return o, hash, nil
}

func (s *OfficerStore) GetByID(ctx context.Context, id string) (*model.Officer, error) {
	return scanOfficer(s.db.QueryRowContext(ctx,
		s.db.rebind(`SELECT `+officerColumns+` FROM officers WHERE id = ?`), id,
	))
}

func (s *OfficerStore) UpdateLastLogin(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		s.db.rebind(`UPDATE officers SET last_login_at = ? WHERE id = ?`),
		s.now().Unix(), id,
	)
	return err
}

func scanOfficer(row *sql.Row, extra ...any) (*model.Officer, error) {
	var (
		o         model.Officer
		role      string
		status    string
		createdAt int64
		lastLogin sql.NullInt64
	)
	dest := append([]any{&o.ID, &o.Email, &o.Name, &role, &status, &createdAt, &lastLogin}, extra...)
	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	o.Role = model.Role(role)
	o.Status = model.Status(status)
	o.CreatedAt = time.Unix(createdAt, 0).UTC()
	if lastLogin.Valid {
		t := time.Unix(lastLogin.Int64, 0).UTC()
		o.LastLoginAt = &t
	}
	return &o, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
