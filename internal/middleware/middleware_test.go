package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyxmakerx/trakit/internal/apperror"
	"github.com/keyxmakerx/trakit/internal/testutil"
)

func ok(c echo.Context) error { return c.NoContent(http.StatusOK) }

func newContext(req *http.Request) (echo.Context, *httptest.ResponseRecorder) {
	rec := httptest.NewRecorder()
	return echo.New().NewContext(req, rec), rec
}

func requireAppError(t *testing.T, err error, code int) *apperror.AppError {
	t.Helper()
	var appErr *apperror.AppError
	require.True(t, errors.As(err, &appErr), "expected AppError, got %v", err)
	assert.Equal(t, code, appErr.Code)
	return appErr
}

func TestCSRF(t *testing.T) {
	mw := CSRF(CSRFConfig{Expected: func(echo.Context) string { return "token-123" }})

	c, _ := newContext(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NoError(t, mw(ok)(c), "safe methods pass")

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set(CSRFHeaderName, "token-123")
	c, _ = newContext(req)
	assert.NoError(t, mw(ok)(c))

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader("csrf_token=token-123"))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	c, _ = newContext(req)
	assert.NoError(t, mw(ok)(c), "form field accepted")

	mismatches := 0
	mw = CSRF(CSRFConfig{
		Expected:   func(echo.Context) string { return "token-123" },
		OnMismatch: func(echo.Context) { mismatches++ },
	})
	req = httptest.NewRequest(http.MethodPatch, "/", nil)
	req.Header.Set(CSRFHeaderName, "token-124")
	c, _ = newContext(req)
	requireAppError(t, mw(ok)(c), http.StatusForbidden)
	assert.Equal(t, 1, mismatches)
}

func TestCSRF_EmptyExpectedRejects(t *testing.T) {
	mw := CSRF(CSRFConfig{Expected: func(echo.Context) string { return "" }})
	c, _ := newContext(httptest.NewRequest(http.MethodPost, "/", nil))
	requireAppError(t, mw(ok)(c), http.StatusForbidden)
}

func TestTokensEqual(t *testing.T) {
	assert.True(t, TokensEqual("abc", "abc"))
	assert.False(t, TokensEqual("abc", "abd"))
	assert.False(t, TokensEqual("abc", "abcd"))
	assert.False(t, TokensEqual("", ""))
}

func TestTokenBucket_BurstThenRefill(t *testing.T) {
	clock := testutil.NewClock(time.Time{})
	tb := NewTokenBucket("test", 10*time.Second, 3)
	tb.now = clock.NowFunc()

	for i := 0; i < 3; i++ {
		allowed, _ := tb.Allow("user-1")
		assert.True(t, allowed, "burst request %d", i+1)
	}
	allowed, wait := tb.Allow("user-1")
	assert.False(t, allowed)
	assert.InDelta(t, (10 * time.Second).Seconds(), wait.Seconds(), 0.01)

	other, _ := tb.Allow("user-2")
	assert.True(t, other, "keys are independent")

	clock.Advance(10 * time.Second)
	allowed, _ = tb.Allow("user-1")
	assert.True(t, allowed, "one token refilled")
	allowed, _ = tb.Allow("user-1")
	assert.False(t, allowed)
}

func TestTokenBucket_Sweep(t *testing.T) {
	clock := testutil.NewClock(time.Time{})
	tb := NewTokenBucket("test", time.Second, 1)
	tb.now = clock.NowFunc()

	tb.Allow("a")
	clock.Advance(time.Minute)
	tb.Allow("b")

	assert.Equal(t, 1, tb.Sweep(30*time.Second))
	assert.Len(t, tb.buckets, 1)
}

func TestRateLimitMiddleware(t *testing.T) {
	clock := testutil.NewClock(time.Time{})
	tb := NewTokenBucket("test", time.Minute, 1)
	tb.now = clock.NowFunc()
	mw := RateLimit(tb, func(c echo.Context) string { return c.Request().Header.Get("X-User") })

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("X-User", "u1")
	c, _ := newContext(req)
	require.NoError(t, mw(ok)(c))

	c, _ = newContext(req)
	appErr := requireAppError(t, mw(ok)(c), http.StatusTooManyRequests)
	assert.Equal(t, time.Minute, appErr.RetryAfter)

	c, _ = newContext(httptest.NewRequest(http.MethodPost, "/", nil))
	assert.NoError(t, mw(ok)(c), "empty key is not limited")
}

func TestRecovery(t *testing.T) {
	c, _ := newContext(httptest.NewRequest(http.MethodGet, "/", nil))
	err := Recovery()(func(echo.Context) error { panic("boom") })(c)
	requireAppError(t, err, http.StatusInternalServerError)
}

func TestTrustedProxies(t *testing.T) {
	extract, err := buildIPExtractor([]string{"10.0.0.0/8"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.1.2.3:5000"
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.1.2.3")
	assert.Equal(t, "203.0.113.9", extract(req))

	req.Header.Set("X-Real-IP", "198.51.100.4")
	assert.Equal(t, "198.51.100.4", extract(req))

	req.RemoteAddr = "192.0.2.1:5000"
	assert.Equal(t, "192.0.2.1", extract(req), "headers from untrusted peers are ignored")

	_, err = buildIPExtractor([]string{"not-a-cidr"})
	assert.Error(t, err)
}

func TestCORS(t *testing.T) {
	mw := CORS(CORSConfig{AllowedOrigins: []string{"https://app.example.com"}, AllowCredentials: true})

	req := httptest.NewRequest(http.MethodOptions, "/api/session", nil)
	req.Header.Set("Origin", "https://app.example.com")
	c, rec := newContext(req)
	require.NoError(t, mw(ok)(c))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), CSRFHeaderName)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	c, rec = newContext(req)
	require.NoError(t, mw(ok)(c))
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestSecurityHeaders(t *testing.T) {
	c, rec := newContext(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, SecurityHeaders(false)(ok)(c))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Empty(t, rec.Header().Get("Strict-Transport-Security"))

	c, rec = newContext(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, SecurityHeaders(true)(ok)(c))
	assert.NotEmpty(t, rec.Header().Get("Strict-Transport-Security"))
}

func TestWantsJSON(t *testing.T) {
	c, _ := newContext(httptest.NewRequest(http.MethodGet, "/api/session", nil))
	assert.True(t, WantsJSON(c))

	req := httptest.NewRequest(http.MethodPost, "/login", nil)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c, _ = newContext(req)
	assert.True(t, WantsJSON(c))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(echo.HeaderAccept, "text/html,application/xhtml+xml")
	c, _ = newContext(req)
	assert.False(t, WantsJSON(c))
}
