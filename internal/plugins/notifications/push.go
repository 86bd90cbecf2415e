package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/keyxmakerx/trakit/internal/config"
)

const (
	pushTTL      = 24 * time.Hour
	pushTimeout  = 10 * time.Second
	defaultIcon  = "/icon-192.png"
	defaultTag   = "habit-reminder"
	maxErrorBody = 512
)

// PushSender delivers payloads with the Web Push protocol, signing each
// request with the server's VAPID keypair.
type PushSender struct {
	publicKey  string
	privateKey string
	subscriber string
	client     *http.Client
	log        *slog.Logger
}

// NewPushSender creates a push backend. A missing keypair or contact is
// logged once here; Send then returns ErrNotConfigured.
func NewPushSender(cfg config.NotificationConfig, log *slog.Logger) *PushSender {
	log = log.With(slog.String("component", "push"))
	if !cfg.PushConfigured() {
		log.Warn("VAPID keys not configured; web push disabled")
	}
	return &PushSender{
		publicKey:  cfg.VAPIDPublicKey,
		privateKey: cfg.VAPIDPrivateKey,
		// webpush-go adds the mailto: scheme itself.
		subscriber: strings.TrimPrefix(cfg.VAPIDSubject, "mailto:"),
		client:     &http.Client{Timeout: pushTimeout},
		log:        log,
	}
}

// Configured reports whether the VAPID keypair and contact are present.
func (p *PushSender) Configured() bool {
	return p.publicKey != "" && p.privateKey != "" && p.subscriber != ""
}

// PublicKey is the VAPID public key browsers subscribe with.
func (p *PushSender) PublicKey() string {
	return p.publicKey
}

// Send encrypts payload for sub and posts it to the push service.
func (p *PushSender) Send(ctx context.Context, sub *PushSubscription, payload Payload) error {
	if !p.Configured() {
		return ErrNotConfigured
	}
	if sub == nil || sub.Endpoint == "" {
		return ErrMissingTarget
	}

	body, err := json.Marshal(pushMessage(payload))
	if err != nil {
		return fmt.Errorf("encoding push payload: %w", err)
	}

	resp, err := webpush.SendNotificationWithContext(ctx, body, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.Keys.P256dh,
			Auth:   sub.Keys.Auth,
		},
	}, &webpush.Options{
		HTTPClient:      p.client,
		Subscriber:      p.subscriber,
		TTL:             int(pushTTL / time.Second),
		Urgency:         webpush.UrgencyNormal,
		VAPIDPublicKey:  p.publicKey,
		VAPIDPrivateKey: p.privateKey,
	})
	if err != nil {
		return fmt.Errorf("sending push notification: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		p.log.Info("push subscription expired", slog.Int("status", resp.StatusCode))
		return ErrSubscriptionExpired
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("push service responded with status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}

// pushMessage fills the display defaults the service worker expects.
func pushMessage(p Payload) Payload {
	if p.Icon == "" {
		p.Icon = defaultIcon
	}
	if p.Badge == "" {
		p.Badge = defaultIcon
	}
	if p.Tag == "" {
		p.Tag = defaultTag
	}
	if p.Data == nil {
		p.Data = map[string]any{}
	}
	return p
}
