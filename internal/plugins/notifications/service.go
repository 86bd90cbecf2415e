package notifications

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/keyxmakerx/trakit/internal/apperror"
	"github.com/keyxmakerx/trakit/internal/encryption"
	"github.com/keyxmakerx/trakit/internal/validate"
)

// Encrypter seals and opens relay URLs. *encryption.Service implements it.
type Encrypter interface {
	Encrypt(plaintext string) (encryption.Sealed, error)
	Decrypter
}

// NotificationService manages a user's reminder settings and test sends.
type NotificationService interface {
	Subscribe(ctx context.Context, userID string, sub PushSubscription) error
	GetPreferences(ctx context.Context, userID string) (*PreferencesResponse, error)
	UpdatePreferences(ctx context.Context, userID string, req PreferencesRequest) (*PreferencesResponse, error)
	RelayURL(ctx context.Context, userID string) (string, error)
	SendTest(ctx context.Context, userID string) error
}

type notificationService struct {
	repo      PreferenceRepository
	sender    Sender
	crypt     Encrypter
	publicKey string
	log       *slog.Logger
}

// NewNotificationService creates the notification service. publicKey is
// echoed to clients so they can subscribe; it is empty when push is off.
func NewNotificationService(repo PreferenceRepository, sender Sender, crypt Encrypter, publicKey string, log *slog.Logger) NotificationService {
	return &notificationService{
		repo:      repo,
		sender:    sender,
		crypt:     crypt,
		publicKey: publicKey,
		log:       log.With(slog.String("component", "notifications")),
	}
}

// Subscribe stores the browser's push subscription, replacing any earlier
// one.
func (s *notificationService) Subscribe(ctx context.Context, userID string, sub PushSubscription) error {
	if err := ValidateSubscription(sub); err != nil {
		return err
	}
	if err := s.repo.SetPushSubscription(ctx, userID, sub); err != nil {
		return apperror.NewInternal(err)
	}
	s.log.Info("push subscription stored", slog.String("user_id", userID))
	return nil
}

func (s *notificationService) GetPreferences(ctx context.Context, userID string) (*PreferencesResponse, error) {
	prefs, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.response(prefs), nil
}

// UpdatePreferences applies a preferences change. Disabling only flips the
// flag so the stored service, time and targets survive a later re-enable.
// Choosing push keeps any stored relay URL.
func (s *notificationService) UpdatePreferences(ctx context.Context, userID string, req PreferencesRequest) (*PreferencesResponse, error) {
	if err := validate.Struct(req); err != nil {
		return nil, apperror.NewValidation(validate.Message(err))
	}

	prefs, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}

	if !*req.ReminderEnabled {
		if err := s.repo.DisableReminders(ctx, userID); err != nil {
			return nil, apperror.NewInternal(err)
		}
		prefs.Enabled = false
		return s.response(prefs), nil
	}

	if req.ReminderService == "" || req.ReminderTime == "" {
		return nil, apperror.NewBadRequest("Reminder service and time are required when enabling reminders")
	}

	update := PreferencesUpdate{
		Enabled:           true,
		Service:           Service(req.ReminderService),
		ReminderTime:      req.ReminderTime,
		RelayURLEncrypted: prefs.RelayURLEncrypted,
		RelayIV:           prefs.RelayIV,
	}

	switch update.Service {
	case ServicePush:
		if prefs.Subscription == nil {
			return nil, apperror.NewBadRequest("Enable browser notifications before choosing push reminders")
		}
	case ServiceRelay:
		if req.RelayURL != "" {
			relayURL, err := ValidateRelayURL(req.RelayURL)
			if err != nil {
				return nil, err
			}
			sealed, err := s.crypt.Encrypt(relayURL)
			if err != nil {
				s.log.Error("encrypting relay url", slog.String("user_id", userID), slog.Any("error", err))
				return nil, apperror.NewInternal(fmt.Errorf("encrypting relay url: %w", err))
			}
			update.RelayURLEncrypted = sealed.Ciphertext
			update.RelayIV = sealed.IV
		} else if !prefs.HasRelay() {
			return nil, apperror.NewBadRequest("Ntfy URL is required")
		}
	}

	if err := s.repo.UpdatePreferences(ctx, userID, update); err != nil {
		return nil, apperror.NewInternal(err)
	}

	prefs.Enabled = true
	prefs.Service = update.Service
	prefs.ReminderTime = update.ReminderTime
	prefs.RelayURLEncrypted = update.RelayURLEncrypted
	prefs.RelayIV = update.RelayIV
	return s.response(prefs), nil
}

// RelayURL returns the decrypted relay URL, or "" when none is stored.
func (s *notificationService) RelayURL(ctx context.Context, userID string) (string, error) {
	prefs, err := s.load(ctx, userID)
	if err != nil {
		return "", err
	}
	if !prefs.HasRelay() {
		return "", nil
	}
	plain, err := s.crypt.Decrypt(prefs.RelayURLEncrypted, prefs.RelayIV)
	if err != nil {
		s.log.Error("decrypting relay url", slog.String("user_id", userID), slog.Any("error", err))
		return "", apperror.NewInternal(ErrInvalidRelayConfig)
	}
	return plain, nil
}

// SendTest delivers TestMessage through the user's selected service.
func (s *notificationService) SendTest(ctx context.Context, userID string) error {
	prefs, err := s.load(ctx, userID)
	if err != nil {
		return err
	}

	switch prefs.Service {
	case ServicePush:
		if prefs.Subscription == nil {
			return apperror.NewBadRequest("No push subscription found. Please enable browser notifications.")
		}
	case ServiceRelay:
		if !prefs.HasRelay() {
			return apperror.NewBadRequest("Ntfy URL not configured")
		}
	default:
		return apperror.NewBadRequest("No reminder service configured")
	}

	err = s.sender.Send(ctx, prefs.Target, TestMessage())
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrSubscriptionExpired):
		if clearErr := s.repo.ClearPushSubscription(ctx, userID); clearErr != nil {
			s.log.Error("clearing expired subscription", slog.String("user_id", userID), slog.Any("error", clearErr))
		}
		return apperror.NewBadRequest("Push subscription expired. Please re-enable notifications in your browser.")
	case errors.Is(err, ErrNotConfigured):
		return apperror.NewBadRequest("Web push is not configured on this server")
	case errors.Is(err, ErrInvalidRelayConfig):
		return apperror.NewBadRequest("Invalid relay configuration. Please save your ntfy URL again.")
	default:
		s.log.Warn("test notification failed",
			slog.String("user_id", userID),
			slog.String("service", string(prefs.Service)),
			slog.Any("error", err),
		)
		return apperror.NewInternal(fmt.Errorf("sending test notification: %w", err))
	}
}

func (s *notificationService) load(ctx context.Context, userID string) (*Preferences, error) {
	prefs, err := s.repo.GetPreferences(ctx, userID)
	if err != nil {
		var appErr *apperror.AppError
		if errors.As(err, &appErr) {
			return nil, err
		}
		return nil, apperror.NewInternal(err)
	}
	return prefs, nil
}

func (s *notificationService) response(p *Preferences) *PreferencesResponse {
	resp := &PreferencesResponse{
		ReminderEnabled: p.Enabled,
		HasSubscription: p.Subscription != nil,
		HasRelayURL:     p.HasRelay(),
		VAPIDPublicKey:  s.publicKey,
	}
	if p.Service != "" {
		svc := string(p.Service)
		resp.ReminderService = &svc
	}
	if p.ReminderTime != "" {
		t := p.ReminderTime
		resp.ReminderTime = &t
	}
	return resp
}
