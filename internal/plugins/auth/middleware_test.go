package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func newRequestContext(method, target string, cookies ...*http.Cookie) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(method, target, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func okHandler(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func findCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestLoadSession_Anonymous(t *testing.T) {
	env := newTestAuthService(t, &mockUserRepo{}, Options{})
	c, rec := newRequestContext(http.MethodGet, "/")

	var seen *Session
	err := LoadSession(env.svc, false)(func(c echo.Context) error {
		seen = GetSession(c)
		return okHandler(c)
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen != nil {
		t.Error("anonymous request should carry no session")
	}
	if len(rec.Result().Cookies()) != 0 {
		t.Error("anonymous request should not set cookies")
	}
}

func TestLoadSession_ValidSession(t *testing.T) {
	env := newTestAuthService(t, &mockUserRepo{}, Options{})
	env.sessions.users[alice.ID] = alice
	token, _, _ := env.svc.sessions.CreateSession(context.Background(), alice.ID)

	c, rec := newRequestContext(http.MethodGet, "/", &http.Cookie{Name: SessionCookieName, Value: token})
	var user *User
	err := LoadSession(env.svc, false)(func(c echo.Context) error {
		user = GetUser(c)
		return okHandler(c)
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user == nil || user.ID != alice.ID {
		t.Fatalf("expected alice in context, got %+v", user)
	}
	if findCookie(rec, SessionCookieName) != nil {
		t.Error("cookies should only be re-issued on refresh")
	}
}

func TestLoadSession_RefreshReissuesCookies(t *testing.T) {
	env := newTestAuthService(t, &mockUserRepo{}, Options{})
	env.sessions.users[alice.ID] = alice
	token, created, _ := env.svc.sessions.CreateSession(context.Background(), alice.ID)
	env.clock.Advance(20 * 24 * time.Hour)

	c, rec := newRequestContext(http.MethodGet, "/", &http.Cookie{Name: SessionCookieName, Value: token})
	if err := LoadSession(env.svc, true)(okHandler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sess := findCookie(rec, SessionCookieName)
	csrf := findCookie(rec, CSRFCookieName)
	if sess == nil || csrf == nil {
		t.Fatal("both cookies should be re-issued")
	}
	if sess.Value != token {
		t.Error("session token should not change on refresh")
	}
	if !sess.HttpOnly || !sess.Secure || sess.SameSite != http.SameSiteLaxMode {
		t.Errorf("unexpected session cookie attributes: %+v", sess)
	}
	if csrf.HttpOnly || csrf.SameSite != http.SameSiteStrictMode {
		t.Errorf("unexpected csrf cookie attributes: %+v", csrf)
	}
	if csrf.Value != created.CSRFToken {
		t.Error("csrf cookie should carry the unchanged token")
	}
	if !csrf.Expires.Equal(sess.Expires) {
		t.Error("both cookies should carry the extended expiry")
	}
}

func TestRefreshedSessionAcceptsMutationWithExistingToken(t *testing.T) {
	env := newTestAuthService(t, &mockUserRepo{}, Options{})
	env.sessions.users[alice.ID] = alice
	token, created, _ := env.svc.sessions.CreateSession(context.Background(), alice.ID)
	env.clock.Advance(16 * 24 * time.Hour)

	events := &eventLog{}
	chain := LoadSession(env.svc, true)(RequireAuth(events)(RequireCSRF(events)(okHandler)))

	// The request that triggers the refresh and a second one right after
	// both still hold the token issued at login.
	for i := 0; i < 2; i++ {
		c, rec := newRequestContext(http.MethodPost, "/api/account/profile",
			&http.Cookie{Name: SessionCookieName, Value: token})
		c.Request().Header.Set("X-CSRF-Token", created.CSRFToken)

		if err := chain(c); err != nil {
			t.Fatalf("request %d: unexpected error: %v", i+1, err)
		}
		if rec.Code != http.StatusOK {
			t.Errorf("request %d: expected 200, got %d", i+1, rec.Code)
		}
	}
	if len(events.types()) != 0 {
		t.Errorf("expected no security events, got %v", events.types())
	}
}

func TestLoadSession_InvalidClearsCookies(t *testing.T) {
	env := newTestAuthService(t, &mockUserRepo{}, Options{})
	c, rec := newRequestContext(http.MethodGet, "/", &http.Cookie{Name: SessionCookieName, Value: "stale"})

	if err := LoadSession(env.svc, false)(okHandler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, name := range []string{SessionCookieName, CSRFCookieName} {
		cookie := findCookie(rec, name)
		if cookie == nil || cookie.MaxAge >= 0 {
			t.Errorf("cookie %s should be cleared, got %+v", name, cookie)
		}
	}
}

func TestRequireAuth_RejectsAnonymous(t *testing.T) {
	events := &eventLog{}
	c, _ := newRequestContext(http.MethodGet, "/api/session")

	err := RequireAuth(events)(okHandler)(c)
	assertAppError(t, err, 401)
	if !events.has(EventUnauthorizedAccess) {
		t.Errorf("expected unauthorized_access, got %v", events.types())
	}
}

func TestRequireCSRF(t *testing.T) {
	session := &Session{ID: "s", UserID: alice.ID, CSRFToken: "csrf-value"}

	tests := []struct {
		name   string
		method string
		header string
		form   string
		want   int
	}{
		{"get passes", http.MethodGet, "", "", http.StatusOK},
		{"post with header", http.MethodPost, "csrf-value", "", http.StatusOK},
		{"post with form field", http.MethodPost, "", "csrf-value", http.StatusOK},
		{"post without token", http.MethodPost, "", "", http.StatusForbidden},
		{"post with wrong token", http.MethodPost, "csrf-other", "", http.StatusForbidden},
		{"delete without token", http.MethodDelete, "", "", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			var body *strings.Reader
			if tt.form != "" {
				body = strings.NewReader("csrf_token=" + tt.form)
			} else {
				body = strings.NewReader("")
			}
			req := httptest.NewRequest(tt.method, "/api/account/profile", body)
			if tt.form != "" {
				req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
			}
			if tt.header != "" {
				req.Header.Set("X-CSRF-Token", tt.header)
			}
			c := e.NewContext(req, httptest.NewRecorder())
			c.Set(contextKeySession, session)
			c.Set(contextKeyUser, &alice)

			events := &eventLog{}
			err := RequireCSRF(events)(okHandler)(c)
			if tt.want == http.StatusOK {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			assertAppError(t, err, tt.want)
			if !events.has(EventCSRFMismatch) {
				t.Errorf("expected csrf_mismatch, got %v", events.types())
			}
		})
	}
}

func TestRequireCSRF_NoSessionRejects(t *testing.T) {
	c, _ := newRequestContext(http.MethodPost, "/logout")
	c.Request().Header.Set("X-CSRF-Token", "")

	err := RequireCSRF(nil)(okHandler)(c)
	assertAppError(t, err, 403)
}
