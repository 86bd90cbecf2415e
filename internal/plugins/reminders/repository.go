package reminders

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/keyxmakerx/trakit/internal/plugins/notifications"
)

// Repository is the data the scheduler reads each tick. Nothing is cached
// between ticks, so preference changes apply at the next minute.
type Repository interface {
	// ListRecipients returns every user with reminders enabled, a time set
	// and a delivery service chosen.
	ListRecipients(ctx context.Context) ([]notifications.Preferences, error)

	// IncompleteHabits returns the names of the user's habits without a
	// completed stamp on day (YYYY-MM-DD), in display order.
	IncompleteHabits(ctx context.Context, userID, day string) ([]string, error)

	// ClearPushSubscription drops a subscription the push service rejected.
	ClearPushSubscription(ctx context.Context, userID string) error
}

// listRecipientsQuery skips users with no delivery service chosen.
const listRecipientsQuery = `SELECT ` + notifications.PreferenceColumns + `
	FROM users u
	WHERE u.reminder_enabled = TRUE
	  AND u.reminder_time IS NOT NULL
	  AND u.reminder_service IS NOT NULL`

type repository struct {
	db    *sql.DB
	prefs notifications.PreferenceRepository
}

// NewRepository creates the scheduler's MariaDB repository. Subscription
// writes go through the notification preference repository.
func NewRepository(db *sql.DB, prefs notifications.PreferenceRepository) Repository {
	return &repository{db: db, prefs: prefs}
}

func (r *repository) ListRecipients(ctx context.Context) ([]notifications.Preferences, error) {
	rows, err := r.db.QueryContext(ctx, listRecipientsQuery)
	if err != nil {
		return nil, fmt.Errorf("listing reminder recipients: %w", err)
	}
	defer rows.Close()

	var out []notifications.Preferences
	for rows.Next() {
		p, err := notifications.ScanPreferences(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning reminder recipient: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (r *repository) IncompleteHabits(ctx context.Context, userID, day string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT h.name
		 FROM habits h
		 WHERE h.user_id = ?
		   AND NOT EXISTS (
		       SELECT 1 FROM habit_stamps s
		       WHERE s.habit_id = h.id AND s.day = ? AND s.value = 1
		   )
		 ORDER BY h.sort_order, h.created_at`, userID, day)
	if err != nil {
		return nil, fmt.Errorf("listing incomplete habits: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning habit name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (r *repository) ClearPushSubscription(ctx context.Context, userID string) error {
	return r.prefs.ClearPushSubscription(ctx, userID)
}
