// Package auth handles accounts, sessions and request authentication for
// Trakit: signup with optional email verification, login, logout, password
// and profile changes, the session manager with its bound CSRF token, the
// cookies that carry both, and the security event trail.
//
// This is a CORE plugin -- always enabled, cannot be disabled.
package auth

import (
	"time"
)

// User is the identity and profile part of a user record. Notification
// preferences live on the same row but are owned by the notifications
// plugin.
type User struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	EmailVerified bool      `json:"email_verified"`
	PasswordHash  string    `json:"-"` // Never expose in JSON responses.
	DisplayName   string    `json:"display_name"`
	Timezone      string    `json:"timezone"`
	WeekStart     string    `json:"week_start"`
	CreatedAt     time.Time `json:"created_at"`
}

// Session is the persisted half of an authenticated session. ID is the
// SHA-256 of the token handed to the browser; the token itself is never
// stored.
type Session struct {
	ID        string    `json:"-"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
	CSRFToken string    `json:"-"`
}

// SessionResult is what ValidateSession returns for a live session.
// Fresh is true when the expiry was extended, telling the caller to
// re-issue both cookies with the new expiry.
type SessionResult struct {
	Session *Session
	User    *User
	Fresh   bool
}

// VerificationCode is a pending email verification code.
type VerificationCode struct {
	ID        string
	UserID    string
	Code      string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// --- Request DTOs (bound from HTTP requests) ---

// SignupRequest holds the data submitted by the signup form.
type SignupRequest struct {
	Email       string `json:"email" form:"email" validate:"required,email,max=254"`
	Password    string `json:"password" form:"password" validate:"required,min=8,max=128"`
	DisplayName string `json:"display_name" form:"display_name" validate:"max=100"`
}

// LoginRequest holds the data submitted by the login form. The code is only
// sent on the second step for unverified accounts.
type LoginRequest struct {
	Email            string `json:"email" form:"email" validate:"required,max=254"`
	Password         string `json:"password" form:"password" validate:"required,max=128"`
	VerificationCode string `json:"verification_code" form:"verification_code" validate:"omitempty,len=6,numeric"`
}

// ChangePasswordRequest holds the password change form.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" form:"current_password" validate:"required,max=128"`
	NewPassword     string `json:"new_password" form:"new_password" validate:"required,min=8,max=128"`
}

// ProfileRequest holds a partial profile update. Nil fields are unchanged.
type ProfileRequest struct {
	DisplayName *string `json:"display_name" form:"display_name" validate:"omitempty,max=100"`
	Timezone    *string `json:"timezone" form:"timezone" validate:"omitempty,timezone"`
	WeekStart   *string `json:"week_start" form:"week_start" validate:"omitempty,weekday"`
}

// ClientInfo identifies the caller for rate limiting and security events.
type ClientInfo struct {
	IP        string
	UserAgent string
}

// AuthResult is returned by the flows that may end in a new session.
// Token is empty when VerificationRequired is true.
type AuthResult struct {
	User                 *User
	Session              *Session
	Token                string
	VerificationRequired bool
}
