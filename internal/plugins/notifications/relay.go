package notifications

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode"
)

const relayTimeout = 10 * time.Second

// Decrypter opens a sealed relay URL.
type Decrypter interface {
	Decrypt(ciphertextHex, ivHex string) (string, error)
}

// RelaySender posts plain-text notifications to a per-user ntfy-style
// relay. The relay URL is stored encrypted and may carry basic-auth
// credentials.
type RelaySender struct {
	dec    Decrypter
	client *http.Client
	log    *slog.Logger
}

// NewRelaySender creates a relay backend.
func NewRelaySender(dec Decrypter, log *slog.Logger) *RelaySender {
	return &RelaySender{
		dec:    dec,
		client: &http.Client{Timeout: relayTimeout},
		log:    log.With(slog.String("component", "relay")),
	}
}

// Send decrypts the relay URL and posts payload to it. Credentials in the
// URL become an Authorization header and never appear in the request URL.
func (r *RelaySender) Send(ctx context.Context, encryptedURL, iv string, payload Payload) error {
	plain, err := r.dec.Decrypt(encryptedURL, iv)
	if err != nil {
		r.log.Error("decrypting relay url", slog.Any("error", err))
		return ErrInvalidRelayConfig
	}

	req, err := buildRelayRequest(ctx, plain, payload)
	if err != nil {
		return err
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting to relay: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("relay responded with status %d", resp.StatusCode)
	}
	return nil
}

// buildRelayRequest turns a relay URL and payload into the POST request.
func buildRelayRequest(ctx context.Context, rawURL string, payload Payload) (*http.Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, ErrInvalidRelayConfig
	}

	var user, pass string
	hasAuth := false
	if u.User != nil {
		user = u.User.Username()
		pass, _ = u.User.Password()
		hasAuth = user != "" || pass != ""
		u.User = nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(),
		strings.NewReader(stripUnsafeRunes(payload.Body)))
	if err != nil {
		return nil, fmt.Errorf("building relay request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	req.Header.Set("Title", strings.Join(strings.Fields(stripUnsafeRunes(payload.Title)), " "))
	req.Header.Set("Priority", "default")
	req.Header.Set("Tags", "calendar,reminder")
	if hasAuth {
		req.SetBasicAuth(user, pass)
	}
	return req, nil
}

// stripUnsafeRunes removes characters outside the Basic Multilingual
// Plane, the misc symbols and dingbats blocks (U+2600..U+27BF), and
// control characters other than newline and tab, then trims. Relays
// mishandle 4-byte UTF-8 in headers and some bodies.
func stripUnsafeRunes(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r > 0xFFFF:
		case r >= 0x2600 && r <= 0x27BF:
		case r == 0xFE0F || r == 0x200D:
			// Emoji presentation selector and joiner left behind by the above.
		case unicode.IsControl(r) && r != '\n' && r != '\t':
		default:
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}
