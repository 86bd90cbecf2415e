package notifications

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/trakit/internal/apperror"
	"github.com/keyxmakerx/trakit/internal/plugins/auth"
)

// Handler serves the notification settings API.
type Handler struct {
	service NotificationService
}

// NewHandler creates a notifications handler.
func NewHandler(service NotificationService) *Handler {
	return &Handler{service: service}
}

// Subscribe stores a push subscription (POST /api/notifications/subscribe).
// Both the wrapped {"subscription": {...}} form and a bare subscription
// object are accepted.
func (h *Handler) Subscribe(c echo.Context) error {
	var req struct {
		SubscribeRequest
		PushSubscription
	}
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request")
	}
	sub := req.SubscribeRequest.Subscription
	if sub.Endpoint == "" {
		sub = req.PushSubscription
	}

	if err := h.service.Subscribe(c.Request().Context(), auth.GetUserID(c), sub); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}

// Preferences returns the reminder settings (GET /api/notifications/preferences).
func (h *Handler) Preferences(c echo.Context) error {
	resp, err := h.service.GetPreferences(c.Request().Context(), auth.GetUserID(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

// UpdatePreferences changes the reminder settings
// (PATCH /api/notifications/preferences).
func (h *Handler) UpdatePreferences(c echo.Context) error {
	var req PreferencesRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request")
	}

	resp, err := h.service.UpdatePreferences(c.Request().Context(), auth.GetUserID(c), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

// RelayURL returns the decrypted relay URL (GET /api/notifications/ntfy-url).
func (h *Handler) RelayURL(c echo.Context) error {
	relayURL, err := h.service.RelayURL(c.Request().Context(), auth.GetUserID(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"ntfyUrl": relayURL})
}

// SendTest sends a test notification (POST /api/notifications/test).
func (h *Handler) SendTest(c echo.Context) error {
	if err := h.service.SendTest(c.Request().Context(), auth.GetUserID(c)); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"message": "Test notification sent",
	})
}
