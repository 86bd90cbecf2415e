package auth

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/trakit/internal/apperror"
)

// Handler handles HTTP requests for authentication. Handlers are thin: they
// bind the request, call the service, set cookies, and respond with JSON.
type Handler struct {
	service AuthService
	secure  bool
}

// NewHandler creates a new auth handler. secure controls the cookie Secure
// flag.
func NewHandler(service AuthService, secure bool) *Handler {
	return &Handler{service: service, secure: secure}
}

// sessionResponse is the JSON view of an authenticated session.
type sessionResponse struct {
	User      *User  `json:"user"`
	CSRFToken string `json:"csrf_token"`
}

// Signup creates an account (POST /signup).
func (h *Handler) Signup(c echo.Context) error {
	var req SignupRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request")
	}

	result, err := h.service.Signup(c.Request().Context(), req, clientInfo(c))
	if err != nil {
		return err
	}
	if result.VerificationRequired {
		return c.JSON(http.StatusAccepted, map[string]any{
			"verification_required": true,
			"message":               "Check your email for a verification code, then log in with it.",
		})
	}

	SetSessionCookies(c, result.Token, result.Session, h.secure)
	return c.JSON(http.StatusCreated, sessionResponse{User: result.User, CSRFToken: result.Session.CSRFToken})
}

// Login authenticates (POST /login).
func (h *Handler) Login(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request")
	}

	result, err := h.service.Login(c.Request().Context(), req, clientInfo(c))
	if err != nil {
		return err
	}
	if result.VerificationRequired {
		return c.JSON(http.StatusAccepted, map[string]any{
			"verification_required": true,
			"message":               "Email verification required. Please enter your verification code.",
		})
	}

	SetSessionCookies(c, result.Token, result.Session, h.secure)
	return c.JSON(http.StatusOK, sessionResponse{User: result.User, CSRFToken: result.Session.CSRFToken})
}

// Logout ends the current session and clears the cookies (POST /logout).
func (h *Handler) Logout(c echo.Context) error {
	if session := GetSession(c); session != nil {
		if err := h.service.Logout(c.Request().Context(), session.ID); err != nil {
			return err
		}
	}
	ClearSessionCookies(c, h.secure)
	return c.NoContent(http.StatusNoContent)
}

// Session returns the current user and CSRF token (GET /api/session).
func (h *Handler) Session(c echo.Context) error {
	return c.JSON(http.StatusOK, sessionResponse{
		User:      GetUser(c),
		CSRFToken: GetSession(c).CSRFToken,
	})
}

// ChangePassword replaces the password and re-issues the session
// (POST /api/account/password).
func (h *Handler) ChangePassword(c echo.Context) error {
	var req ChangePasswordRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request")
	}

	result, err := h.service.ChangePassword(c.Request().Context(), GetUser(c), req)
	if err != nil {
		return err
	}

	SetSessionCookies(c, result.Token, result.Session, h.secure)
	return c.JSON(http.StatusOK, sessionResponse{User: result.User, CSRFToken: result.Session.CSRFToken})
}

// UpdateProfile applies a partial profile update (PATCH /api/account/profile).
func (h *Handler) UpdateProfile(c echo.Context) error {
	var req ProfileRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request")
	}

	user, err := h.service.UpdateProfile(c.Request().Context(), GetUser(c), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"user": user})
}
