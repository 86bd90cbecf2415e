package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/trakit/internal/apperror"
)

// CSRFHeaderName is the header scripts send the CSRF token in.
const CSRFHeaderName = "X-CSRF-Token"

// CSRFFormField is the form field name for plain form submissions.
const CSRFFormField = "csrf_token"

// CSRFConfig binds the CSRF check to a token source.
type CSRFConfig struct {
	// Expected returns the token the request must echo. An empty string
	// rejects every mutating request.
	Expected func(c echo.Context) string

	// OnMismatch runs before a request is rejected. Optional.
	OnMismatch func(c echo.Context)
}

// CSRF returns middleware that rejects state-changing requests (POST, PUT,
// PATCH, DELETE) whose submitted token does not equal cfg.Expected.
//
// The token is read from the X-CSRF-Token header first, then from the
// csrf_token form field.
func CSRF(cfg CSRFConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if IsSafeMethod(c.Request().Method) {
				return next(c)
			}

			if !TokensEqual(cfg.Expected(c), SubmittedCSRFToken(c)) {
				if cfg.OnMismatch != nil {
					cfg.OnMismatch(c)
				}
				return apperror.NewForbidden("Invalid or missing CSRF token")
			}
			return next(c)
		}
	}
}

// SubmittedCSRFToken returns the token the client sent, or "".
func SubmittedCSRFToken(c echo.Context) string {
	if token := c.Request().Header.Get(CSRFHeaderName); token != "" {
		return token
	}
	return c.FormValue(CSRFFormField)
}

// TokensEqual compares two secrets in constant time. Empty or differently
// sized values never match.
func TokensEqual(expected, submitted string) bool {
	if expected == "" || len(expected) != len(submitted) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(submitted)) == 1
}

// IsSafeMethod returns true for HTTP methods that should not change state.
func IsSafeMethod(method string) bool {
	return method == http.MethodGet ||
		method == http.MethodHead ||
		method == http.MethodOptions
}
