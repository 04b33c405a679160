package store

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/cyberguard/internal/auth"
)

const DefaultSessionTTL = 4 * time.Hour

// SessionStore holds officer login sessions.
type SessionStore struct {
	db  *DB
	ttl time.Duration
	now func() time.Time
}

func NewSessionStore(db *DB, ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionStore{db: db, ttl: ttl, now: time.Now}
}

func (s *SessionStore) TTL() time.Duration { return s.ttl }

// Create inserts a new session and returns its ID.
func (s *SessionStore) Create(ctx context.Context, officerID string) (string, error) {
	id := auth.GenerateToken()
	expiresAt := s.now().Add(s.ttl)
	slog.Debug("creating officer session", "officer_id", officerID, "expires_at", expiresAt.UTC().Format(time.RFC3339))
	_, err := s.db.ExecContext(ctx,
		s.db.rebind(`INSERT INTO officer_sessions (id, officer_id, expires_at) VALUES (?, ?, ?)`),
		id, officerID, expiresAt.Unix(),
	)
	return id, err
}

// GetOfficerID returns the officer behind a live session, or ErrNotFound.
func (s *SessionStore) GetOfficerID(ctx context.Context, sessionID string) (string, error) {
	var officerID string
	err := s.db.QueryRowContext(ctx,
		s.db.rebind(`SELECT officer_id FROM officer_sessions WHERE id = ? AND expires_at > ?`),
		sessionID, s.now().Unix(),
	).Scan(&officerID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return officerID, err
}

// DeleteAllByOfficerID ends every session of an officer.
func (s *SessionStore) DeleteAllByOfficerID(ctx context.Context, officerID string) error {
	_, err := s.db.ExecContext(ctx,
		s.db.rebind(`DELETE FROM officer_sessions WHERE officer_id = ?`), officerID,
	)
	return err
}

// DeleteExpired removes expired sessions.
func (s *SessionStore) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		s.db.rebind(`DELETE FROM officer_sessions WHERE expires_at <= ?`), s.now().Unix(),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
