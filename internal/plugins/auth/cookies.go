package auth

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

const (
	// SessionCookieName carries the session token. HttpOnly.
	SessionCookieName = "auth_session"

	// CSRFCookieName carries the session-bound CSRF token. Readable by
	// scripts so they can echo it in the X-CSRF-Token header.
	CSRFCookieName = "csrf_token"
)

// SetSessionCookies writes the session and CSRF cookies for session.
// Secure is set outside development.
func SetSessionCookies(c echo.Context, token string, session *Session, secure bool) {
	c.SetCookie(&http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
	c.SetCookie(&http.Cookie{
		Name:     CSRFCookieName,
		Value:    session.CSRFToken,
		Path:     "/",
		Expires:  session.ExpiresAt,
		HttpOnly: false,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// ClearSessionCookies expires both cookies.
func ClearSessionCookies(c echo.Context, secure bool) {
	for _, cookie := range []*http.Cookie{
		{Name: SessionCookieName, HttpOnly: true, SameSite: http.SameSiteLaxMode},
		{Name: CSRFCookieName, SameSite: http.SameSiteStrictMode},
	} {
		cookie.Path = "/"
		cookie.MaxAge = -1
		cookie.Expires = time.Unix(0, 0)
		cookie.Secure = secure
		c.SetCookie(cookie)
	}
}

// sessionToken reads the session cookie, or "" when absent.
func sessionToken(c echo.Context) string {
	cookie, err := c.Cookie(SessionCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}
