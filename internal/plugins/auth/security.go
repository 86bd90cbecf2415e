package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/keyxmakerx/trakit/internal/metrics"
)

// EventType classifies a security event.
type EventType string

// Security event types.
const (
	EventLoginSuccess            EventType = "login_success"
	EventLoginFailed             EventType = "login_failed"
	EventLoginRateLimited        EventType = "login_rate_limited"
	EventSignupSuccess           EventType = "signup_success"
	EventSignupFailed            EventType = "signup_failed"
	EventSignupRateLimited       EventType = "signup_rate_limited"
	EventVerificationFailed      EventType = "verification_failed"
	EventVerificationRateLimited EventType = "verification_rate_limited"
	EventUnauthorizedAccess      EventType = "unauthorized_access"
	EventCSRFMismatch            EventType = "csrf_mismatch"
)

// failure reports whether the event should be logged at WARN.
func (t EventType) failure() bool {
	switch t {
	case EventLoginSuccess, EventSignupSuccess:
		return false
	}
	return true
}

// SecurityEvent is one entry in the security trail.
type SecurityEvent struct {
	ID        int64
	Type      EventType
	UserID    string
	Email     string
	IP        string
	UserAgent string
	Details   map[string]any
	CreatedAt time.Time
}

// SecurityEventRepository persists security events.
type SecurityEventRepository interface {
	Log(ctx context.Context, event *SecurityEvent) error
}

type securityEventRepository struct {
	db *sql.DB
}

// NewSecurityEventRepository creates a security event repository backed by
// MariaDB.
func NewSecurityEventRepository(db *sql.DB) SecurityEventRepository {
	return &securityEventRepository{db: db}
}

// Log inserts an event. Details are stored as JSON; empty user id and email
// are stored as NULL.
func (r *securityEventRepository) Log(ctx context.Context, event *SecurityEvent) error {
	var details []byte
	if len(event.Details) > 0 {
		var err error
		details, err = json.Marshal(event.Details)
		if err != nil {
			return fmt.Errorf("marshaling security event details: %w", err)
		}
	}

	var userID, email any
	if event.UserID != "" {
		userID = event.UserID
	}
	if event.Email != "" {
		email = event.Email
	}

	result, err := r.db.ExecContext(ctx,
		`INSERT INTO security_events (event_type, user_id, email, ip_address, user_agent, details, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(event.Type), userID, email, event.IP, truncate(event.UserAgent, 512), details, event.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("inserting security event: %w", err)
	}
	event.ID, _ = result.LastInsertId()
	return nil
}

// EventRecorder records security events. Recording never fails from the
// caller's point of view.
type EventRecorder interface {
	Record(ctx context.Context, event SecurityEvent)
}

// SecurityLogger writes each event to the log, counts it, and persists it
// best effort.
type SecurityLogger struct {
	repo SecurityEventRepository
	log  *slog.Logger
	now  func() time.Time
}

// NewSecurityLogger creates a recorder. repo may be nil, in which case
// events are only logged and counted.
func NewSecurityLogger(repo SecurityEventRepository, log *slog.Logger) *SecurityLogger {
	return &SecurityLogger{
		repo: repo,
		log:  log.With(slog.String("component", "security")),
		now:  time.Now,
	}
}

// Record implements EventRecorder.
func (s *SecurityLogger) Record(ctx context.Context, event SecurityEvent) {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.now()
	}

	level := slog.LevelInfo
	if event.Type.failure() {
		level = slog.LevelWarn
	}
	attrs := []slog.Attr{
		slog.String("event", string(event.Type)),
		slog.String("ip", event.IP),
	}
	if event.UserID != "" {
		attrs = append(attrs, slog.String("user_id", event.UserID))
	}
	if event.Email != "" {
		attrs = append(attrs, slog.String("email", event.Email))
	}
	for k, v := range event.Details {
		attrs = append(attrs, slog.Any(k, v))
	}
	s.log.LogAttrs(ctx, level, "security event", attrs...)

	metrics.SecurityEvents.WithLabelValues(string(event.Type)).Inc()

	if s.repo == nil {
		return
	}
	// Persistence outlives a cancelled request.
	if err := s.repo.Log(context.WithoutCancel(ctx), &event); err != nil {
		s.log.Error("persisting security event",
			slog.String("event", string(event.Type)),
			slog.Any("error", err),
		)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
