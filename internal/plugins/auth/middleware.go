package auth

import (
	"log/slog"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/trakit/internal/apperror"
	"github.com/keyxmakerx/trakit/internal/middleware"
)

// Context keys for storing session data in Echo context. Other plugins
// use these keys (via the exported getter functions below) to access
// the authenticated user.
const (
	contextKeySession = "auth_session"
	contextKeyUser    = "auth_user"
)

// LoadSession resolves the session cookie on every request. A live session
// is stored in the context; a refreshed one gets both cookies re-issued; an
// invalid one gets them cleared. Anonymous requests pass through.
func LoadSession(service AuthService, secure bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := sessionToken(c)
			if token == "" {
				return next(c)
			}

			result, err := service.ValidateSession(c.Request().Context(), token)
			if err != nil {
				if !IsInvalidSession(err) {
					slog.Error("validating session", slog.Any("error", err))
					return apperror.NewInternal(err)
				}
				ClearSessionCookies(c, secure)
				return next(c)
			}

			if result.Fresh {
				SetSessionCookies(c, token, result.Session, secure)
			}
			c.Set(contextKeySession, result.Session)
			c.Set(contextKeyUser, result.User)
			return next(c)
		}
	}
}

// RequireAuth rejects requests without a session loaded by LoadSession.
func RequireAuth(events EventRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if GetSession(c) == nil {
				if events != nil {
					events.Record(c.Request().Context(), SecurityEvent{
						Type:      EventUnauthorizedAccess,
						IP:        c.RealIP(),
						UserAgent: c.Request().UserAgent(),
						Details: map[string]any{
							"method": c.Request().Method,
							"path":   c.Request().URL.Path,
						},
					})
				}
				return apperror.NewUnauthorized("Authentication required")
			}
			return next(c)
		}
	}
}

// RequireCSRF rejects mutating requests whose CSRF token does not match the
// one bound to the session. Must run after LoadSession.
func RequireCSRF(events EventRecorder) echo.MiddlewareFunc {
	return middleware.CSRF(middleware.CSRFConfig{
		Expected: func(c echo.Context) string {
			if session := GetSession(c); session != nil {
				return session.CSRFToken
			}
			return ""
		},
		OnMismatch: func(c echo.Context) {
			if events == nil {
				return
			}
			var userID string
			if user := GetUser(c); user != nil {
				userID = user.ID
			}
			events.Record(c.Request().Context(), SecurityEvent{
				Type:      EventCSRFMismatch,
				UserID:    userID,
				IP:        c.RealIP(),
				UserAgent: c.Request().UserAgent(),
				Details: map[string]any{
					"method": c.Request().Method,
					"path":   c.Request().URL.Path,
				},
			})
		},
	})
}

// --- Exported getters for other plugins ---

// GetSession retrieves the authenticated session from the Echo context.
// Returns nil if the request is anonymous.
func GetSession(c echo.Context) *Session {
	session, ok := c.Get(contextKeySession).(*Session)
	if !ok {
		return nil
	}
	return session
}

// GetUser retrieves the authenticated user from the Echo context.
func GetUser(c echo.Context) *User {
	user, ok := c.Get(contextKeyUser).(*User)
	if !ok {
		return nil
	}
	return user
}

// GetUserID returns the authenticated user's ID, or "".
func GetUserID(c echo.Context) string {
	if user := GetUser(c); user != nil {
		return user.ID
	}
	return ""
}

// clientInfo extracts the caller identity used for limits and events.
func clientInfo(c echo.Context) ClientInfo {
	return ClientInfo{
		IP:        c.RealIP(),
		UserAgent: c.Request().UserAgent(),
	}
}
