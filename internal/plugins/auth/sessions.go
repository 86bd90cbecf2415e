package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/keyxmakerx/trakit/internal/apperror"
	"github.com/keyxmakerx/trakit/internal/middleware"
)

const (
	// SessionLifetime is how long a new or refreshed session lives.
	SessionLifetime = 30 * 24 * time.Hour

	// RefreshThreshold is the remaining lifetime below which validation
	// extends the session.
	RefreshThreshold = 15 * 24 * time.Hour

	// tokenBytes is the entropy of session and CSRF tokens (160 bits).
	tokenBytes = 20
)

// ErrInvalidSession is returned by ValidateSession when the token matches no
// live session. It is an expected outcome, not a failure.
var ErrInvalidSession = errors.New("session invalid or expired")

// tokenEncoding is lowercase-able base32 without padding, which is URL and
// cookie safe.
var tokenEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// SessionManager issues, validates, refreshes and revokes sessions.
type SessionManager struct {
	repo SessionRepository
	now  func() time.Time
	log  *slog.Logger
}

// SessionOption configures a SessionManager.
type SessionOption func(*SessionManager)

// WithSessionClock overrides the time source.
func WithSessionClock(now func() time.Time) SessionOption {
	return func(m *SessionManager) { m.now = now }
}

// NewSessionManager creates a session manager over repo.
func NewSessionManager(repo SessionRepository, log *slog.Logger, opts ...SessionOption) *SessionManager {
	m := &SessionManager{
		repo: repo,
		now:  time.Now,
		log:  log.With(slog.String("component", "sessions")),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateSession starts a new session for userID and returns the raw token
// for the cookie. Only the token's hash is persisted.
func (m *SessionManager) CreateSession(ctx context.Context, userID string) (string, *Session, error) {
	token, err := generateToken()
	if err != nil {
		return "", nil, fmt.Errorf("generating session token: %w", err)
	}
	csrf, err := generateToken()
	if err != nil {
		return "", nil, fmt.Errorf("generating csrf token: %w", err)
	}

	session := &Session{
		ID:        HashToken(token),
		UserID:    userID,
		ExpiresAt: m.now().Add(SessionLifetime),
		CSRFToken: csrf,
	}
	if err := m.repo.Create(ctx, session); err != nil {
		return "", nil, err
	}
	return token, session, nil
}

// ValidateSession resolves a cookie token to its session and user.
//
// An expired session is deleted and reported as ErrInvalidSession. A session
// inside the refresh threshold gets a new expiry and the result is marked
// Fresh. The CSRF token survives the refresh, so the refreshing request and
// any others in flight still carry a valid token.
func (m *SessionManager) ValidateSession(ctx context.Context, token string) (*SessionResult, error) {
	if token == "" {
		return nil, ErrInvalidSession
	}

	id := HashToken(token)
	session, user, err := m.repo.FindWithUser(ctx, id)
	if err != nil {
		if apperror.Is(err, 404) {
			return nil, ErrInvalidSession
		}
		return nil, err
	}

	now := m.now()
	if !now.Before(session.ExpiresAt) {
		if err := m.repo.Delete(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrInvalidSession
	}

	fresh := false
	if !now.Before(session.ExpiresAt.Add(-RefreshThreshold)) {
		expiresAt := now.Add(SessionLifetime)
		if err := m.repo.Extend(ctx, id, expiresAt); err != nil {
			return nil, err
		}
		session.ExpiresAt = expiresAt
		fresh = true
	}

	return &SessionResult{Session: session, User: user, Fresh: fresh}, nil
}

// InvalidateSession deletes one session by id.
func (m *SessionManager) InvalidateSession(ctx context.Context, sessionID string) error {
	return m.repo.Delete(ctx, sessionID)
}

// InvalidateAllSessionsForUser deletes every session of userID. Callers that
// want to keep the acting device signed in must create a new session.
func (m *SessionManager) InvalidateAllSessionsForUser(ctx context.Context, userID string) error {
	return m.repo.DeleteByUser(ctx, userID)
}

// StartSweeper deletes expired sessions every interval until ctx is done.
// Validation already expires sessions lazily; this only keeps the table
// small.
func (m *SessionManager) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := m.repo.DeleteExpired(ctx, m.now())
				if err != nil {
					m.log.Error("sweeping expired sessions", slog.Any("error", err))
					continue
				}
				if n > 0 {
					m.log.Info("expired sessions swept", slog.Int64("removed", n))
				}
			}
		}
	}()
}

// ValidateCSRFToken compares the session's CSRF token with the submitted
// one in constant time. Tokens of different length never match, and an
// empty token never matches, not even another empty one.
func ValidateCSRFToken(sessionToken, requestToken string) bool {
	return middleware.TokensEqual(sessionToken, requestToken)
}

// HashToken derives the session id from a token: hex(sha256(token)).
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// generateToken returns 160 random bits as lowercase base32.
func generateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return strings.ToLower(tokenEncoding.EncodeToString(b)), nil
}
