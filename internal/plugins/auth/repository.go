package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/keyxmakerx/trakit/internal/apperror"
)

// UserRepository defines the data access contract for accounts and their
// verification codes. All SQL lives in the concrete implementation.
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	FindByID(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	EmailExists(ctx context.Context, email string) (bool, error)
	MarkEmailVerified(ctx context.Context, id string) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	UpdateProfile(ctx context.Context, id, displayName, timezone, weekStart string) error

	// Verification codes.
	CreateVerificationCode(ctx context.Context, code *VerificationCode) error
	LatestVerificationCode(ctx context.Context, userID string) (*VerificationCode, error)
	DeleteVerificationCodes(ctx context.Context, userID string) error
}

// userRepository implements UserRepository with hand-written MariaDB queries.
type userRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new user repository backed by the given DB pool.
func NewUserRepository(db *sql.DB) UserRepository {
	return &userRepository{db: db}
}

const userColumns = `id, email, email_verified, password_hash, display_name,
	timezone, week_start, created_at`

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	u := &User{}
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.EmailVerified,
		&u.PasswordHash,
		&u.DisplayName,
		&u.Timezone,
		&u.WeekStart,
		&u.CreatedAt,
	)
	return u, err
}

// Create inserts a new user row.
func (r *userRepository) Create(ctx context.Context, user *User) error {
	query := `INSERT INTO users (id, email, email_verified, password_hash, display_name,
	                             timezone, week_start, created_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		user.ID,
		user.Email,
		user.EmailVerified,
		user.PasswordHash,
		user.DisplayName,
		user.Timezone,
		user.WeekStart,
		user.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

// FindByID retrieves a user by UUID. Returns apperror.NotFound if missing.
func (r *userRepository) FindByID(ctx context.Context, id string) (*User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NewNotFound("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("querying user by id: %w", err)
	}
	return u, nil
}

// FindByEmail retrieves a user by normalized email. Returns
// apperror.NotFound if missing.
func (r *userRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ?`, email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NewNotFound("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("querying user by email: %w", err)
	}
	return u, nil
}

// EmailExists returns true if a user with the given email already exists.
func (r *userRepository) EmailExists(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE email = ?)`, email).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking email existence: %w", err)
	}
	return exists, nil
}

// MarkEmailVerified flips email_verified to true.
func (r *userRepository) MarkEmailVerified(ctx context.Context, id string) error {
	return r.execOne(ctx, "marking email verified",
		`UPDATE users SET email_verified = TRUE WHERE id = ?`, id)
}

// UpdatePassword replaces the stored hash.
func (r *userRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	return r.execOne(ctx, "updating password",
		`UPDATE users SET password_hash = ? WHERE id = ?`, passwordHash, id)
}

// UpdateProfile writes the profile fields.
func (r *userRepository) UpdateProfile(ctx context.Context, id, displayName, timezone, weekStart string) error {
	return r.execOne(ctx, "updating profile",
		`UPDATE users SET display_name = ?, timezone = ?, week_start = ? WHERE id = ?`,
		displayName, timezone, weekStart, id)
}

// execOne runs an UPDATE that must hit exactly one existing row. MariaDB
// reports 0 affected rows for no-op updates, so a follow-up existence check
// distinguishes "unchanged" from "missing".
func (r *userRepository) execOne(ctx context.Context, op, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n, _ := result.RowsAffected(); n > 0 {
		return nil
	}

	var exists bool
	id := args[len(args)-1]
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = ?)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !exists {
		return apperror.NewNotFound("user not found")
	}
	return nil
}

// --- Verification codes ---

// CreateVerificationCode stores a new code for the user.
func (r *userRepository) CreateVerificationCode(ctx context.Context, code *VerificationCode) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO email_verification_codes (id, user_id, code, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		code.ID, code.UserID, code.Code, code.ExpiresAt, code.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting verification code: %w", err)
	}
	return nil
}

// LatestVerificationCode returns the user's newest code, expired or not.
// Returns apperror.NotFound if the user has none.
func (r *userRepository) LatestVerificationCode(ctx context.Context, userID string) (*VerificationCode, error) {
	vc := &VerificationCode{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, code, expires_at, created_at
		 FROM email_verification_codes
		 WHERE user_id = ?
		 ORDER BY created_at DESC LIMIT 1`, userID,
	).Scan(&vc.ID, &vc.UserID, &vc.Code, &vc.ExpiresAt, &vc.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NewNotFound("verification code not found")
	}
	if err != nil {
		return nil, fmt.Errorf("querying verification code: %w", err)
	}
	return vc, nil
}

// DeleteVerificationCodes removes every code for the user.
func (r *userRepository) DeleteVerificationCodes(ctx context.Context, userID string) error {
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM email_verification_codes WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("deleting verification codes: %w", err)
	}
	return nil
}
