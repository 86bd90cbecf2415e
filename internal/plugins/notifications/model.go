// Package notifications delivers reminder messages through web push or a
// self-hosted ntfy-style relay, and owns the notification preferences
// stored on the user row.
package notifications

import (
	"errors"
)

// Service selects the delivery backend.
type Service string

// Delivery backends. The relay value is stored as "ntfy".
const (
	ServicePush  Service = "push"
	ServiceRelay Service = "ntfy"
)

// Valid reports whether s names a known backend.
func (s Service) Valid() bool {
	return s == ServicePush || s == ServiceRelay
}

var (
	// ErrSubscriptionExpired means the push service no longer accepts the
	// subscription (HTTP 404 or 410). The caller should clear it.
	ErrSubscriptionExpired = errors.New("subscription_expired")

	// ErrNotConfigured means the backend lacks server configuration.
	ErrNotConfigured = errors.New("web push not configured")

	// ErrInvalidRelayConfig means the stored relay URL cannot be decrypted
	// or parsed.
	ErrInvalidRelayConfig = errors.New("invalid relay configuration")

	// ErrMissingTarget means the user has no delivery target for the
	// selected backend.
	ErrMissingTarget = errors.New("delivery target missing")
)

// PushKeys are the client keys of a push subscription.
type PushKeys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// PushSubscription is the browser's PushSubscription as JSON.
type PushSubscription struct {
	Endpoint string   `json:"endpoint"`
	Keys     PushKeys `json:"keys"`
}

// Payload is a notification message. Icon, Badge and Tag get defaults from
// the push backend when empty.
type Payload struct {
	Title string         `json:"title"`
	Body  string         `json:"body"`
	Icon  string         `json:"icon,omitempty"`
	Badge string         `json:"badge,omitempty"`
	Tag   string         `json:"tag,omitempty"`
	Data  map[string]any `json:"data,omitempty"`
}

// Target is where a user's notifications go.
type Target struct {
	UserID       string
	Service      Service
	Subscription *PushSubscription

	// RelayURLEncrypted and RelayIV are the sealed relay URL.
	RelayURLEncrypted string
	RelayIV           string
}

// HasRelay reports whether both sealed relay fields are present.
func (t Target) HasRelay() bool {
	return t.RelayURLEncrypted != "" && t.RelayIV != ""
}

// Preferences are a user's reminder settings together with the delivery
// targets.
type Preferences struct {
	Target
	Enabled      bool
	ReminderTime string
	Timezone     string
}

// PreferencesUpdate is written by UpdatePreferences.
type PreferencesUpdate struct {
	Enabled           bool
	Service           Service
	ReminderTime      string
	RelayURLEncrypted string
	RelayIV           string
}

// --- Request DTOs ---

// SubscribeRequest carries a browser push subscription.
type SubscribeRequest struct {
	Subscription PushSubscription `json:"subscription"`
}

// PreferencesRequest is the body of PATCH /api/notifications/preferences.
type PreferencesRequest struct {
	ReminderEnabled *bool  `json:"reminderEnabled" validate:"required"`
	ReminderService string `json:"reminderService" validate:"omitempty,oneof=push ntfy"`
	ReminderTime    string `json:"reminderTime" validate:"omitempty,hhmm"`
	RelayURL        string `json:"ntfyUrl" validate:"omitempty,max=2048"`
}

// PreferencesResponse is the JSON view of a user's reminder settings.
type PreferencesResponse struct {
	ReminderEnabled bool    `json:"reminderEnabled"`
	ReminderService *string `json:"reminderService"`
	ReminderTime    *string `json:"reminderTime"`
	HasSubscription bool    `json:"hasPushSubscription"`
	HasRelayURL     bool    `json:"hasNtfyUrl"`
	VAPIDPublicKey  string  `json:"vapidPublicKey,omitempty"`
}
