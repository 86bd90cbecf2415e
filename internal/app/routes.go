package app

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/trakit/internal/metrics"
	"github.com/keyxmakerx/trakit/internal/middleware"
	"github.com/keyxmakerx/trakit/internal/plugins/auth"
	"github.com/keyxmakerx/trakit/internal/plugins/notifications"
	"github.com/keyxmakerx/trakit/internal/templates/layouts"
	"github.com/keyxmakerx/trakit/internal/templates/pages"
)

const healthTimeout = 2 * time.Second

// RegisterRoutes sets up all application routes. This is the single place
// where plugin routes are aggregated.
func (a *App) RegisterRoutes() {
	e := a.Echo

	e.GET("/", func(c echo.Context) error {
		return middleware.Render(c, http.StatusOK, pages.Landing())
	})
	e.GET("/healthz", a.health)
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	auth.RegisterRoutes(e, auth.NewHandler(a.authService, a.Config.SecureCookies()), a.events)
	notifications.RegisterRoutes(e, notifications.NewHandler(a.notifications), a.events, a.testLimiter)
}

// health pings MariaDB and, when configured, Redis.
func (a *App) health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
	defer cancel()

	status := map[string]string{"status": "ok", "database": "ok"}
	code := http.StatusOK

	if err := a.DB.PingContext(ctx); err != nil {
		status["status"], status["database"] = "unavailable", "down"
		code = http.StatusServiceUnavailable
	}
	if a.Redis != nil {
		status["redis"] = "ok"
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			status["status"], status["redis"] = "unavailable", "down"
			code = http.StatusServiceUnavailable
		}
	}
	return c.JSON(code, status)
}

// injectLayout copies the session's display data into the request context
// for server-rendered pages.
func injectLayout(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		user := auth.GetUser(c)
		if user == nil {
			return next(c)
		}

		ctx := layouts.SetIsAuthenticated(c.Request().Context(), true)
		ctx = layouts.SetUserName(ctx, displayName(user))
		if session := auth.GetSession(c); session != nil {
			ctx = layouts.SetCSRFToken(ctx, session.CSRFToken)
		}
		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}

func displayName(u *auth.User) string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Email
}
