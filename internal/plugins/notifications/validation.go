package notifications

import (
	"net/url"
	"strings"

	"github.com/keyxmakerx/trakit/internal/apperror"
)

const (
	maxRelayURLLength = 2048
	maxEndpointLength = 2048
)

// ValidateRelayURL checks a relay URL and returns it trimmed. It must be
// an absolute http or https URL with a host. Credentials in the user-info
// part are allowed.
func ValidateRelayURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", apperror.NewBadRequest("Ntfy URL is required")
	}
	if len(raw) > maxRelayURLLength {
		return "", apperror.NewBadRequest("Ntfy URL is too long")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", apperror.NewBadRequest("Invalid Ntfy URL format")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", apperror.NewBadRequest("Ntfy URL must use http or https")
	}
	if u.Hostname() == "" {
		return "", apperror.NewBadRequest("Ntfy URL must include a host")
	}
	return raw, nil
}

// ValidateSubscription checks the shape of a push subscription: an https
// endpoint with a host and both client keys present.
func ValidateSubscription(sub PushSubscription) error {
	invalid := apperror.NewBadRequest("Invalid push subscription format")

	if sub.Endpoint == "" || len(sub.Endpoint) > maxEndpointLength {
		return invalid
	}
	u, err := url.Parse(sub.Endpoint)
	if err != nil || u.Scheme != "https" || u.Hostname() == "" {
		return invalid
	}
	if strings.TrimSpace(sub.Keys.P256dh) == "" || strings.TrimSpace(sub.Keys.Auth) == "" {
		return invalid
	}
	return nil
}
