package notifications

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/keyxmakerx/trakit/internal/apperror"
)

// PreferenceRepository reads and writes the notification columns of the
// users table. Every write is a single-row UPDATE.
type PreferenceRepository interface {
	GetPreferences(ctx context.Context, userID string) (*Preferences, error)
	SetPushSubscription(ctx context.Context, userID string, sub PushSubscription) error
	ClearPushSubscription(ctx context.Context, userID string) error
	UpdatePreferences(ctx context.Context, userID string, update PreferencesUpdate) error
	DisableReminders(ctx context.Context, userID string) error
}

type preferenceRepository struct {
	db *sql.DB
}

// NewPreferenceRepository creates a preference repository backed by MariaDB.
func NewPreferenceRepository(db *sql.DB) PreferenceRepository {
	return &preferenceRepository{db: db}
}

// PreferenceColumns is the column list ScanPreferences expects, prefixed
// with the users table alias "u".
const PreferenceColumns = `u.id, u.reminder_enabled, u.reminder_service, u.reminder_time, u.timezone,
	u.push_subscription, u.ntfy_url_encrypted, u.ntfy_encryption_iv`

// ScanPreferences scans a row selected with PreferenceColumns. A malformed
// stored subscription is treated as absent.
func ScanPreferences(row interface{ Scan(...any) error }) (*Preferences, error) {
	var (
		p                                     Preferences
		service, reminderTime, relay, relayIV sql.NullString
		subscription                          []byte
	)
	if err := row.Scan(
		&p.UserID,
		&p.Enabled,
		&service,
		&reminderTime,
		&p.Timezone,
		&subscription,
		&relay,
		&relayIV,
	); err != nil {
		return nil, err
	}

	p.Service = Service(service.String)
	p.ReminderTime = reminderTime.String
	p.RelayURLEncrypted = relay.String
	p.RelayIV = relayIV.String

	if len(subscription) > 0 {
		var sub PushSubscription
		if err := json.Unmarshal(subscription, &sub); err == nil && sub.Endpoint != "" {
			p.Subscription = &sub
		}
	}
	return &p, nil
}

func (r *preferenceRepository) GetPreferences(ctx context.Context, userID string) (*Preferences, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+PreferenceColumns+` FROM users u WHERE u.id = ?`, userID)
	p, err := ScanPreferences(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NewNotFound("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("querying notification preferences: %w", err)
	}
	return p, nil
}

func (r *preferenceRepository) SetPushSubscription(ctx context.Context, userID string, sub PushSubscription) error {
	data, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("encoding push subscription: %w", err)
	}
	return r.exec(ctx, "storing push subscription",
		`UPDATE users SET push_subscription = ? WHERE id = ?`, data, userID)
}

func (r *preferenceRepository) ClearPushSubscription(ctx context.Context, userID string) error {
	return r.exec(ctx, "clearing push subscription",
		`UPDATE users SET push_subscription = NULL WHERE id = ?`, userID)
}

// UpdatePreferences writes the enabled flag, service, time, and sealed
// relay URL. Empty relay fields are stored as NULL.
func (r *preferenceRepository) UpdatePreferences(ctx context.Context, userID string, u PreferencesUpdate) error {
	return r.exec(ctx, "updating notification preferences",
		`UPDATE users
		 SET reminder_enabled = ?, reminder_service = ?, reminder_time = ?,
		     ntfy_url_encrypted = ?, ntfy_encryption_iv = ?
		 WHERE id = ?`,
		u.Enabled, nullable(string(u.Service)), nullable(u.ReminderTime),
		nullable(u.RelayURLEncrypted), nullable(u.RelayIV), userID)
}

func (r *preferenceRepository) DisableReminders(ctx context.Context, userID string) error {
	return r.exec(ctx, "disabling reminders",
		`UPDATE users SET reminder_enabled = FALSE WHERE id = ?`, userID)
}

func (r *preferenceRepository) exec(ctx context.Context, op, query string, args ...any) error {
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
