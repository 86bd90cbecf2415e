package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/keyxmakerx/trakit/internal/apperror"
	"github.com/keyxmakerx/trakit/internal/mail"
	"github.com/keyxmakerx/trakit/internal/metrics"
	"github.com/keyxmakerx/trakit/internal/ratelimit"
	"github.com/keyxmakerx/trakit/internal/sanitize"
	"github.com/keyxmakerx/trakit/internal/validate"
)

// verificationCodeTTL is how long an emailed verification code is valid.
const verificationCodeTTL = 15 * time.Minute

const invalidCredentials = "Invalid email or password"

// AuthService defines the business logic contract for authentication.
// Handlers call these methods -- they never touch the repositories directly.
type AuthService interface {
	Signup(ctx context.Context, req SignupRequest, client ClientInfo) (*AuthResult, error)
	Login(ctx context.Context, req LoginRequest, client ClientInfo) (*AuthResult, error)
	Logout(ctx context.Context, sessionID string) error
	ChangePassword(ctx context.Context, user *User, req ChangePasswordRequest) (*AuthResult, error)
	UpdateProfile(ctx context.Context, user *User, req ProfileRequest) (*User, error)
	ValidateSession(ctx context.Context, token string) (*SessionResult, error)
}

// Limiters are the fixed-window limiters guarding the credential flows.
type Limiters struct {
	Login        *ratelimit.Limiter
	Signup       *ratelimit.Limiter
	Verification *ratelimit.Limiter
}

// Options are the signup and verification toggles.
type Options struct {
	AllowRegistration         bool
	EmailVerificationRequired bool
}

// Deps bundles what the auth service needs. Mailer may be nil when SMTP is
// not configured.
type Deps struct {
	Users    UserRepository
	Sessions *SessionManager
	Limiters Limiters
	Mailer   mail.Sender
	Events   EventRecorder
	Options  Options
	Logger   *slog.Logger
}

type authService struct {
	users    UserRepository
	sessions *SessionManager
	limiters Limiters
	mailer   mail.Sender
	events   EventRecorder
	opts     Options
	log      *slog.Logger
	now      func() time.Time
}

// NewAuthService creates the auth service.
func NewAuthService(d Deps) AuthService {
	return &authService{
		users:    d.Users,
		sessions: d.Sessions,
		limiters: d.Limiters,
		mailer:   d.Mailer,
		events:   d.Events,
		opts:     d.Options,
		log:      d.Logger.With(slog.String("component", "auth")),
		now:      time.Now,
	}
}

// Signup creates an account. With verification required the account is
// created unverified, a code is mailed, and no session is issued.
func (s *authService) Signup(ctx context.Context, req SignupRequest, client ClientInfo) (*AuthResult, error) {
	if err := s.checkLimit(ctx, s.limiters.Signup, client.IP, EventSignupRateLimited, client, nil,
		"Too many signup attempts. Please try again later."); err != nil {
		return nil, err
	}

	if !s.opts.AllowRegistration {
		return nil, apperror.NewForbidden("Registration is currently disabled")
	}

	req.Email = normalizeEmail(req.Email)
	if err := validate.Struct(req); err != nil {
		s.recordAttempt(ctx, s.limiters.Signup, client.IP)
		s.record(ctx, EventSignupFailed, client, "", req.Email, map[string]any{"reason": "invalid input"})
		return nil, apperror.NewValidation(validate.Message(err))
	}

	exists, err := s.users.EmailExists(ctx, req.Email)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("checking email: %w", err))
	}
	if exists {
		s.recordAttempt(ctx, s.limiters.Signup, client.IP)
		s.record(ctx, EventSignupFailed, client, "", req.Email, map[string]any{"reason": "email already registered"})
		return nil, apperror.NewBadRequest("Unable to create account")
	}

	hash, err := hashPassword(req.Password)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("hashing password: %w", err))
	}

	displayName := sanitize.SingleLine(req.DisplayName)
	if displayName == "" {
		displayName = strings.SplitN(req.Email, "@", 2)[0]
	}

	user := &User{
		ID:            uuid.NewString(),
		Email:         req.Email,
		EmailVerified: !s.opts.EmailVerificationRequired,
		PasswordHash:  hash,
		DisplayName:   displayName,
		Timezone:      "UTC",
		WeekStart:     "monday",
		CreatedAt:     s.now().UTC(),
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("creating user: %w", err))
	}

	s.record(ctx, EventSignupSuccess, client, user.ID, user.Email, nil)
	s.resetLimit(ctx, s.limiters.Signup, client.IP)

	if s.opts.EmailVerificationRequired {
		if err := s.issueVerificationCode(ctx, user); err != nil {
			return nil, apperror.NewInternal(err)
		}
		return &AuthResult{User: user, VerificationRequired: true}, nil
	}

	token, session, err := s.sessions.CreateSession(ctx, user.ID)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("creating session: %w", err))
	}
	return &AuthResult{User: user, Session: session, Token: token}, nil
}

// Login authenticates by email and password, completing email verification
// when the account still needs it.
func (s *authService) Login(ctx context.Context, req LoginRequest, client ClientInfo) (*AuthResult, error) {
	if err := s.checkLimit(ctx, s.limiters.Login, client.IP, EventLoginRateLimited, client, nil,
		"Too many login attempts. Please try again later."); err != nil {
		return nil, err
	}

	req.Email = normalizeEmail(req.Email)
	if err := validate.Struct(req); err != nil {
		s.recordAttempt(ctx, s.limiters.Login, client.IP)
		return nil, apperror.NewValidation(validate.Message(err))
	}

	user, err := s.users.FindByEmail(ctx, req.Email)
	if err != nil {
		if !apperror.Is(err, 404) {
			return nil, apperror.NewInternal(fmt.Errorf("finding user: %w", err))
		}
		// Same work as a real check so timing does not reveal the account.
		verifyPassword(req.Password, dummyHash)
		s.recordAttempt(ctx, s.limiters.Login, client.IP)
		s.record(ctx, EventLoginFailed, client, "", req.Email, map[string]any{"reason": "user not found"})
		return nil, apperror.NewUnauthorized(invalidCredentials)
	}

	if !verifyPassword(req.Password, user.PasswordHash) {
		s.recordAttempt(ctx, s.limiters.Login, client.IP)
		s.record(ctx, EventLoginFailed, client, user.ID, user.Email, map[string]any{"reason": "invalid password"})
		return nil, apperror.NewUnauthorized(invalidCredentials)
	}

	if s.opts.EmailVerificationRequired && !user.EmailVerified {
		if req.VerificationCode == "" {
			return &AuthResult{User: user, VerificationRequired: true}, nil
		}
		if err := s.verifyEmail(ctx, user, req.VerificationCode, client); err != nil {
			return nil, err
		}
	}

	token, session, err := s.sessions.CreateSession(ctx, user.ID)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("creating session: %w", err))
	}

	s.resetLimit(ctx, s.limiters.Login, client.IP)
	s.record(ctx, EventLoginSuccess, client, user.ID, user.Email, nil)

	return &AuthResult{User: user, Session: session, Token: token}, nil
}

// verifyEmail checks code against the user's newest verification code and
// marks the user verified on success.
func (s *authService) verifyEmail(ctx context.Context, user *User, code string, client ClientInfo) error {
	key := client.IP + ":" + user.ID
	if err := s.checkLimit(ctx, s.limiters.Verification, key, EventVerificationRateLimited, client, user,
		"Too many verification attempts. Please try again later."); err != nil {
		return err
	}

	stored, err := s.users.LatestVerificationCode(ctx, user.ID)
	if err != nil {
		if !apperror.Is(err, 404) {
			return apperror.NewInternal(fmt.Errorf("loading verification code: %w", err))
		}
		s.recordAttempt(ctx, s.limiters.Verification, key)
		return apperror.NewBadRequest("No verification code found. Please sign up again.")
	}

	if !s.now().Before(stored.ExpiresAt) {
		s.recordAttempt(ctx, s.limiters.Verification, key)
		s.record(ctx, EventVerificationFailed, client, user.ID, user.Email, map[string]any{"reason": "expired"})
		return apperror.NewBadRequest("Verification code expired. Please sign up again.")
	}

	if subtle.ConstantTimeCompare([]byte(stored.Code), []byte(code)) != 1 {
		s.recordAttempt(ctx, s.limiters.Verification, key)
		s.record(ctx, EventVerificationFailed, client, user.ID, user.Email, map[string]any{"reason": "invalid code"})
		return apperror.NewBadRequest("Invalid verification code")
	}

	if err := s.users.MarkEmailVerified(ctx, user.ID); err != nil {
		return apperror.NewInternal(fmt.Errorf("marking email verified: %w", err))
	}
	if err := s.users.DeleteVerificationCodes(ctx, user.ID); err != nil {
		s.log.Warn("deleting used verification codes", slog.String("user_id", user.ID), slog.Any("error", err))
	}
	s.resetLimit(ctx, s.limiters.Verification, key)
	user.EmailVerified = true
	return nil
}

// issueVerificationCode stores a fresh six-digit code and mails it. A mail
// failure is logged; the code stays valid so it can be resent by an
// operator.
func (s *authService) issueVerificationCode(ctx context.Context, user *User) error {
	code, err := generateVerificationCode()
	if err != nil {
		return fmt.Errorf("generating verification code: %w", err)
	}

	now := s.now().UTC()
	vc := &VerificationCode{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		Code:      code,
		ExpiresAt: now.Add(verificationCodeTTL),
		CreatedAt: now,
	}
	if err := s.users.CreateVerificationCode(ctx, vc); err != nil {
		return fmt.Errorf("storing verification code: %w", err)
	}

	if s.mailer == nil {
		s.log.Warn("verification code not mailed: smtp not configured", slog.String("user_id", user.ID))
		return nil
	}
	body := fmt.Sprintf("Your verification code is: %s\n\nThis code expires in 15 minutes.", code)
	if err := s.mailer.Send(ctx, user.Email, "Verify your Trakit account", body); err != nil {
		s.log.Error("mailing verification code", slog.String("user_id", user.ID), slog.Any("error", err))
	}
	return nil
}

// Logout invalidates one session.
func (s *authService) Logout(ctx context.Context, sessionID string) error {
	if err := s.sessions.InvalidateSession(ctx, sessionID); err != nil {
		return apperror.NewInternal(fmt.Errorf("invalidating session: %w", err))
	}
	return nil
}

// ChangePassword replaces the password, signs the user out everywhere, and
// opens a new session for the acting device.
func (s *authService) ChangePassword(ctx context.Context, user *User, req ChangePasswordRequest) (*AuthResult, error) {
	if err := validate.Struct(req); err != nil {
		return nil, apperror.NewValidation(validate.Message(err))
	}
	if !verifyPassword(req.CurrentPassword, user.PasswordHash) {
		return nil, apperror.NewBadRequest("Current password is incorrect")
	}

	hash, err := hashPassword(req.NewPassword)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("hashing password: %w", err))
	}
	if err := s.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("updating password: %w", err))
	}
	if err := s.sessions.InvalidateAllSessionsForUser(ctx, user.ID); err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("invalidating sessions: %w", err))
	}

	token, session, err := s.sessions.CreateSession(ctx, user.ID)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("creating session: %w", err))
	}

	s.log.Info("password changed", slog.String("user_id", user.ID))
	user.PasswordHash = hash
	return &AuthResult{User: user, Session: session, Token: token}, nil
}

// UpdateProfile applies the non-nil fields of req.
func (s *authService) UpdateProfile(ctx context.Context, user *User, req ProfileRequest) (*User, error) {
	if err := validate.Struct(req); err != nil {
		return nil, apperror.NewValidation(validate.Message(err))
	}

	updated := *user
	if req.DisplayName != nil {
		updated.DisplayName = sanitize.SingleLine(*req.DisplayName)
	}
	if req.Timezone != nil {
		updated.Timezone = *req.Timezone
	}
	if req.WeekStart != nil {
		updated.WeekStart = *req.WeekStart
	}

	if err := s.users.UpdateProfile(ctx, user.ID, updated.DisplayName, updated.Timezone, updated.WeekStart); err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("updating profile: %w", err))
	}
	return &updated, nil
}

// ValidateSession resolves a session token. ErrInvalidSession means the
// caller is anonymous.
func (s *authService) ValidateSession(ctx context.Context, token string) (*SessionResult, error) {
	return s.sessions.ValidateSession(ctx, token)
}

// --- Rate limiting and events ---

// checkLimit rejects the request when key is over limiter's budget. A store
// failure is logged and lets the request through.
func (s *authService) checkLimit(ctx context.Context, limiter *ratelimit.Limiter, key string,
	event EventType, client ClientInfo, user *User, message string) error {
	limited, err := limiter.IsRateLimited(ctx, key)
	if err != nil {
		s.log.Error("rate limit check failed", slog.String("limiter", limiter.Name()), slog.Any("error", err))
		return nil
	}
	if !limited {
		return nil
	}

	retryAfter, err := limiter.RetryAfter(ctx, key)
	if err != nil {
		s.log.Error("reading retry-after", slog.String("limiter", limiter.Name()), slog.Any("error", err))
	}

	metrics.RateLimitExceeded.WithLabelValues(limiter.Name()).Inc()
	var userID, email string
	if user != nil {
		userID, email = user.ID, user.Email
	}
	s.record(ctx, event, client, userID, email, map[string]any{
		"retry_after_seconds": int(retryAfter / time.Second),
	})
	return apperror.NewTooManyRequests(message, retryAfter)
}

func (s *authService) recordAttempt(ctx context.Context, limiter *ratelimit.Limiter, key string) {
	if err := limiter.RecordAttempt(ctx, key); err != nil {
		s.log.Error("recording rate limit attempt", slog.String("limiter", limiter.Name()), slog.Any("error", err))
	}
}

func (s *authService) resetLimit(ctx context.Context, limiter *ratelimit.Limiter, key string) {
	if err := limiter.Reset(ctx, key); err != nil {
		s.log.Error("resetting rate limit", slog.String("limiter", limiter.Name()), slog.Any("error", err))
	}
}

func (s *authService) record(ctx context.Context, t EventType, client ClientInfo, userID, email string, details map[string]any) {
	if s.events == nil {
		return
	}
	s.events.Record(ctx, SecurityEvent{
		Type:      t,
		UserID:    userID,
		Email:     email,
		IP:        client.IP,
		UserAgent: client.UserAgent,
		Details:   details,
	})
}

// --- Helpers ---

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// generateVerificationCode returns a uniformly random six-digit code.
func generateVerificationCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

// IsInvalidSession reports whether err means "no live session".
func IsInvalidSession(err error) bool {
	return errors.Is(err, ErrInvalidSession)
}
