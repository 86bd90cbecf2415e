package auth

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes sets up the auth routes. LoadSession must already be
// installed globally. Signup and login are public and rate limited inside
// the service; everything else needs a session, and mutations need the
// session's CSRF token.
func RegisterRoutes(e *echo.Echo, h *Handler, events EventRecorder) {
	e.POST("/signup", h.Signup)
	e.POST("/login", h.Login)

	protected := []echo.MiddlewareFunc{RequireAuth(events), RequireCSRF(events)}
	e.POST("/logout", h.Logout, protected...)
	e.GET("/api/session", h.Session, protected...)
	e.POST("/api/account/password", h.ChangePassword, protected...)
	e.PATCH("/api/account/profile", h.UpdateProfile, protected...)
}
