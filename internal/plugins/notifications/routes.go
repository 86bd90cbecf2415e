package notifications

import (
	"time"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/trakit/internal/middleware"
	"github.com/keyxmakerx/trakit/internal/plugins/auth"
)

// Test sends are limited per user to one every 10 seconds with a burst of 3.
const (
	testInterval = 10 * time.Second
	testBurst    = 3
)

// NewTestLimiter creates the per-user bucket guarding test sends. The
// caller owns its sweeper.
func NewTestLimiter() *middleware.TokenBucket {
	return middleware.NewTokenBucket("test_notification", testInterval, testBurst)
}

// RegisterRoutes mounts the notification API. Every route needs a session
// and its CSRF token.
func RegisterRoutes(e *echo.Echo, h *Handler, events auth.EventRecorder, testLimiter *middleware.TokenBucket) {
	protected := []echo.MiddlewareFunc{auth.RequireAuth(events), auth.RequireCSRF(events)}

	e.POST("/api/notifications/subscribe", h.Subscribe, protected...)
	e.GET("/api/notifications/preferences", h.Preferences, protected...)
	e.PATCH("/api/notifications/preferences", h.UpdatePreferences, protected...)
	e.GET("/api/notifications/ntfy-url", h.RelayURL, protected...)
	e.POST("/api/notifications/test", h.SendTest,
		append(protected, middleware.RateLimit(testLimiter, auth.GetUserID))...)
}
