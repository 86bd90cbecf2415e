package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/keyxmakerx/trakit/internal/apperror"
)

// SessionRepository persists sessions. Every operation is a single-row
// statement (or a single DELETE by user), so no transactions are needed.
type SessionRepository interface {
	Create(ctx context.Context, session *Session) error

	// FindWithUser loads a session and its owning user in one query.
	// Returns apperror.NotFound if the session does not exist.
	FindWithUser(ctx context.Context, id string) (*Session, *User, error)

	// Extend moves the expiry.
	Extend(ctx context.Context, id string, expiresAt time.Time) error

	Delete(ctx context.Context, id string) error
	DeleteByUser(ctx context.Context, userID string) error

	// DeleteExpired removes sessions whose expiry is at or before now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type sessionRepository struct {
	db *sql.DB
}

// NewSessionRepository creates a session repository backed by MariaDB.
func NewSessionRepository(db *sql.DB) SessionRepository {
	return &sessionRepository{db: db}
}

func (r *sessionRepository) Create(ctx context.Context, s *Session) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, expires_at, csrf_token) VALUES (?, ?, ?, ?)`,
		s.ID, s.UserID, s.ExpiresAt.UTC(), s.CSRFToken,
	)
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

func (r *sessionRepository) FindWithUser(ctx context.Context, id string) (*Session, *User, error) {
	query := `SELECT s.id, s.user_id, s.expires_at, s.csrf_token,
	                 u.id, u.email, u.email_verified, u.password_hash, u.display_name,
	                 u.timezone, u.week_start, u.created_at
	          FROM sessions s
	          INNER JOIN users u ON u.id = s.user_id
	          WHERE s.id = ?`

	s := &Session{}
	u := &User{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&s.ID, &s.UserID, &s.ExpiresAt, &s.CSRFToken,
		&u.ID, &u.Email, &u.EmailVerified, &u.PasswordHash, &u.DisplayName,
		&u.Timezone, &u.WeekStart, &u.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, apperror.NewNotFound("session not found")
	}
	if err != nil {
		return nil, nil, fmt.Errorf("querying session: %w", err)
	}
	return s, u, nil
}

func (r *sessionRepository) Extend(ctx context.Context, id string, expiresAt time.Time) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET expires_at = ? WHERE id = ?`,
		expiresAt.UTC(), id); err != nil {
		return fmt.Errorf("extending session: %w", err)
	}
	return nil
}

func (r *sessionRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

func (r *sessionRepository) DeleteByUser(ctx context.Context, userID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("deleting user sessions: %w", err)
	}
	return nil
}

func (r *sessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("deleting expired sessions: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}
