package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"
)

func TestSafeMessage_HidesInternalErrors(t *testing.T) {
	internal := NewInternal(errors.New("dial tcp 10.0.0.5:3306: connection refused"))
	if got := SafeMessage(internal); got != "An unexpected error occurred. Please try again." {
		t.Errorf("SafeMessage() = %q", got)
	}
	if got := SafeMessage(errors.New("raw")); got != "an unexpected error occurred" {
		t.Errorf("SafeMessage(raw) = %q", got)
	}
}

func TestSafeCode_UnwrapsWrappedAppErrors(t *testing.T) {
	wrapped := fmt.Errorf("handler: %w", NewConflict("taken"))
	if got := SafeCode(wrapped); got != http.StatusConflict {
		t.Errorf("SafeCode() = %d, want %d", got, http.StatusConflict)
	}
	if !Is(wrapped, http.StatusConflict) {
		t.Error("Is() = false for wrapped conflict")
	}
}

func TestNewTooManyRequests(t *testing.T) {
	err := NewTooManyRequests("slow down", 90*time.Second)
	if err.Code != http.StatusTooManyRequests {
		t.Errorf("Code = %d", err.Code)
	}
	if err.RetryAfter != 90*time.Second {
		t.Errorf("RetryAfter = %v", err.RetryAfter)
	}
}
