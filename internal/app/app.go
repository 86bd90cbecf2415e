// Package app is the application bootstrap and dependency injection root.
// It owns the shared infrastructure (DB pool, optional Redis client, Echo
// instance), builds every plugin, and runs the background jobs.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/keyxmakerx/trakit/internal/apperror"
	"github.com/keyxmakerx/trakit/internal/config"
	"github.com/keyxmakerx/trakit/internal/encryption"
	"github.com/keyxmakerx/trakit/internal/mail"
	"github.com/keyxmakerx/trakit/internal/middleware"
	"github.com/keyxmakerx/trakit/internal/plugins/auth"
	"github.com/keyxmakerx/trakit/internal/plugins/notifications"
	"github.com/keyxmakerx/trakit/internal/plugins/reminders"
	"github.com/keyxmakerx/trakit/internal/ratelimit"
	"github.com/keyxmakerx/trakit/internal/templates/pages"
)

// Background job intervals.
const (
	sessionSweepInterval = time.Hour
	limiterSweepInterval = 5 * time.Minute
	bucketIdleTimeout    = 10 * time.Minute
)

// App holds all shared dependencies and the Echo HTTP server instance.
// Created once at startup in main.go.
type App struct {
	Config *config.Config
	DB     *sql.DB

	// Redis is nil when REDIS_URL is unset.
	Redis *redis.Client

	Echo *echo.Echo
	Log  *slog.Logger

	events      *auth.SecurityLogger
	sessions    *auth.SessionManager
	authService auth.AuthService
	memoryStore *ratelimit.MemoryStore
	testLimiter *middleware.TokenBucket

	notifications notifications.NotificationService
	scheduler     *reminders.Scheduler
}

// New creates the App, wires every plugin, and installs global middleware
// and the error handler. Routes are added by RegisterRoutes.
func New(cfg *config.Config, db *sql.DB, rdb *redis.Client, log *slog.Logger) (*App, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// c.RealIP() keys rate limits and security events, so forwarded headers
	// are only honored from known proxies.
	if err := middleware.TrustedProxies(e, cfg.TrustedProxies); err != nil {
		return nil, fmt.Errorf("configuring trusted proxies: %w", err)
	}

	a := &App{
		Config: cfg,
		DB:     db,
		Redis:  rdb,
		Echo:   e,
		Log:    log,
	}
	if err := a.wire(); err != nil {
		return nil, err
	}

	a.setupMiddleware()
	e.HTTPErrorHandler = a.errorHandler
	return a, nil
}

// wire builds the plugins bottom-up: stores, limiters, auth, delivery,
// then the scheduler.
func (a *App) wire() error {
	var store ratelimit.Store
	if a.Redis != nil {
		store = ratelimit.NewRedisStore(a.Redis)
	} else {
		a.memoryStore = ratelimit.NewMemoryStore()
		store = a.memoryStore
	}

	// A nil mailer makes signup log instead of mailing codes.
	var mailer mail.Sender
	if a.Config.SMTP.Configured() {
		mailer = mail.NewSMTPSender(a.Config.SMTP, a.Log)
	}

	a.events = auth.NewSecurityLogger(auth.NewSecurityEventRepository(a.DB), a.Log)
	a.sessions = auth.NewSessionManager(auth.NewSessionRepository(a.DB), a.Log)
	a.authService = auth.NewAuthService(auth.Deps{
		Users:    auth.NewUserRepository(a.DB),
		Sessions: a.sessions,
		Limiters: auth.Limiters{
			Login:        ratelimit.New("login", 5, 15*time.Minute, store),
			Signup:       ratelimit.New("signup", 3, time.Hour, store),
			Verification: ratelimit.New("verification", 10, time.Hour, store),
		},
		Mailer: mailer,
		Events: a.events,
		Options: auth.Options{
			AllowRegistration:         a.Config.Auth.AllowRegistration,
			EmailVerificationRequired: a.Config.Auth.EmailVerificationRequired,
		},
		Logger: a.Log,
	})

	crypt := encryption.New(a.Config.Notifications.EncryptionKey, a.Log)
	push := notifications.NewPushSender(a.Config.Notifications, a.Log)
	dispatcher := notifications.NewDispatcher(push, notifications.NewRelaySender(crypt, a.Log))
	prefs := notifications.NewPreferenceRepository(a.DB)

	a.notifications = notifications.NewNotificationService(prefs, dispatcher, crypt, push.PublicKey(), a.Log)
	a.testLimiter = notifications.NewTestLimiter()

	scheduler, err := reminders.NewScheduler(
		reminders.NewRepository(a.DB, prefs),
		dispatcher,
		a.Config.Notifications.Schedule,
		a.Log,
	)
	if err != nil {
		return err
	}
	a.scheduler = scheduler
	return nil
}

// setupMiddleware registers global middleware. The request logger is
// outermost so it sees the status written for recovered panics.
func (a *App) setupMiddleware() {
	a.Echo.Use(middleware.RequestLogger("/healthz", "/metrics"))
	a.Echo.Use(middleware.Recovery())
	a.Echo.Use(middleware.SecurityHeaders(a.Config.SecureCookies()))
	a.Echo.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins:   []string{a.Config.BaseURL},
		AllowCredentials: true,
	}))
	a.Echo.Use(auth.LoadSession(a.authService, a.Config.SecureCookies()))
	a.Echo.Use(injectLayout)
}

// StartBackground launches the sweepers and the reminder scheduler. They
// stop when ctx is cancelled; the scheduler also needs Shutdown.
func (a *App) StartBackground(ctx context.Context) {
	a.sessions.StartSweeper(ctx, sessionSweepInterval)
	a.testLimiter.StartSweeper(ctx, limiterSweepInterval, bucketIdleTimeout)
	if a.memoryStore != nil {
		a.memoryStore.StartSweeper(ctx, limiterSweepInterval, a.Log)
	}
	a.scheduler.Start()
}

// Start begins listening for HTTP requests on the configured port.
func (a *App) Start() error {
	addr := fmt.Sprintf(":%d", a.Config.Port)
	a.Log.Info("starting Trakit server",
		slog.String("addr", addr),
		slog.String("env", a.Config.Env),
	)
	return a.Echo.Start(addr)
}

// Shutdown drains HTTP connections, then waits for in-flight reminder
// dispatches.
func (a *App) Shutdown(ctx context.Context) error {
	httpErr := a.Echo.Shutdown(ctx)
	schedErr := a.scheduler.Stop(ctx)
	return errors.Join(httpErr, schedErr)
}

// errorHandler maps errors to responses: JSON for API and JSON-accepting
// clients, an HTML error page otherwise.
func (a *App) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	message := defaultErrorMessage(code)

	var appErr *apperror.AppError
	var echoErr *echo.HTTPError
	switch {
	case errors.As(err, &appErr):
		code = appErr.Code
		message = appErr.Message
		if appErr.Internal != nil {
			a.Log.Error("internal error",
				slog.String("type", appErr.Type),
				slog.String("message", appErr.Message),
				slog.Any("internal", appErr.Internal),
				slog.String("path", c.Request().URL.Path),
			)
		}
		if appErr.RetryAfter > 0 {
			secs := int(math.Ceil(appErr.RetryAfter.Seconds()))
			c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
		}
	case errors.As(err, &echoErr):
		code = echoErr.Code
		if msg, ok := echoErr.Message.(string); ok {
			message = msg
		} else {
			message = defaultErrorMessage(code)
		}
	default:
		a.Log.Error("unhandled error",
			slog.Any("error", err),
			slog.String("path", c.Request().URL.Path),
		)
	}

	var writeErr error
	switch {
	case c.Request().Method == http.MethodHead:
		writeErr = c.NoContent(code)
	case middleware.WantsJSON(c):
		writeErr = c.JSON(code, map[string]string{
			"error":   http.StatusText(code),
			"message": message,
		})
	default:
		writeErr = middleware.Render(c, code, pages.ErrorPage(code, message))
	}
	if writeErr != nil {
		a.Log.Error("writing error response", slog.Any("error", writeErr))
	}
}

// defaultErrorMessage returns a user-friendly message for status codes
// raised without one.
func defaultErrorMessage(code int) string {
	switch code {
	case http.StatusBadRequest:
		return "The request was invalid or cannot be processed."
	case http.StatusUnauthorized:
		return "You need to log in to do that."
	case http.StatusForbidden:
		return "You don't have permission to do that."
	case http.StatusNotFound:
		return "The page you're looking for doesn't exist."
	case http.StatusMethodNotAllowed:
		return "This action is not allowed."
	case http.StatusTooManyRequests:
		return "You're making too many requests. Please slow down."
	case http.StatusServiceUnavailable:
		return "The service is temporarily unavailable. Please try again later."
	default:
		return "An unexpected error occurred. Please try again."
	}
}
