package notifications

import (
	"net/http"
	"strings"
	"testing"
)

func TestValidateRelayURL(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"https", "https://ntfy.sh/my-habits", "https://ntfy.sh/my-habits", false},
		{"http with credentials", "http://user:pw@relay.local:8080/t", "http://user:pw@relay.local:8080/t", false},
		{"trimmed", "  https://ntfy.sh/t  ", "https://ntfy.sh/t", false},
		{"empty", "   ", "", true},
		{"ftp", "ftp://ntfy.sh/t", "", true},
		{"javascript", "javascript:alert(1)", "", true},
		{"no host", "https:///path", "", true},
		{"relative", "/topic", "", true},
		{"too long", "https://ntfy.sh/" + strings.Repeat("a", 2048), "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateRelayURL(tt.in)
			if tt.wantErr {
				assertAppError(t, err, http.StatusBadRequest)
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidateSubscription(t *testing.T) {
	valid := PushSubscription{
		Endpoint: "https://fcm.googleapis.com/fcm/send/abc",
		Keys:     PushKeys{P256dh: "BNc...", Auth: "tBH..."},
	}
	if err := ValidateSubscription(valid); err != nil {
		t.Fatalf("valid subscription rejected: %v", err)
	}

	cases := map[string]func(*PushSubscription){
		"http endpoint":  func(s *PushSubscription) { s.Endpoint = "http://push.example.com/x" },
		"empty endpoint": func(s *PushSubscription) { s.Endpoint = "" },
		"no host":        func(s *PushSubscription) { s.Endpoint = "https://" },
		"missing p256dh": func(s *PushSubscription) { s.Keys.P256dh = "" },
		"blank auth":     func(s *PushSubscription) { s.Keys.Auth = "  " },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			sub := valid
			mutate(&sub)
			assertAppError(t, ValidateSubscription(sub), http.StatusBadRequest)
		})
	}
}
