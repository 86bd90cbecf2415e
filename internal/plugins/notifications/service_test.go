package notifications

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/keyxmakerx/trakit/internal/apperror"
)

// --- Mocks ---

// mockPreferenceRepo serves a single user's preferences from memory and
// records writes.
type mockPreferenceRepo struct {
	prefs    *Preferences
	getErr   error
	updated  *PreferencesUpdate
	disabled bool
	cleared  bool
	stored   *PushSubscription
}

func (m *mockPreferenceRepo) GetPreferences(_ context.Context, userID string) (*Preferences, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	if m.prefs == nil {
		return nil, apperror.NewNotFound("user not found")
	}
	p := *m.prefs
	p.UserID = userID
	return &p, nil
}

func (m *mockPreferenceRepo) SetPushSubscription(_ context.Context, _ string, sub PushSubscription) error {
	m.stored = &sub
	return nil
}

func (m *mockPreferenceRepo) ClearPushSubscription(context.Context, string) error {
	m.cleared = true
	return nil
}

func (m *mockPreferenceRepo) UpdatePreferences(_ context.Context, _ string, u PreferencesUpdate) error {
	m.updated = &u
	return nil
}

func (m *mockPreferenceRepo) DisableReminders(context.Context, string) error {
	m.disabled = true
	return nil
}

type mockSender struct {
	err     error
	sent    []Payload
	targets []Target
}

func (m *mockSender) Send(_ context.Context, target Target, payload Payload) error {
	m.targets = append(m.targets, target)
	m.sent = append(m.sent, payload)
	return m.err
}

// --- Helpers ---

func assertAppError(t *testing.T, err error, expectedCode int) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error with code %d, got nil", expectedCode)
	}
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *apperror.AppError, got %T: %v", err, err)
	}
	if appErr.Code != expectedCode {
		t.Errorf("expected status code %d, got %d (message: %s)", expectedCode, appErr.Code, appErr.Message)
	}
}

func boolPtr(b bool) *bool { return &b }

var testSubscription = &PushSubscription{
	Endpoint: "https://push.example.com/sub/1",
	Keys:     PushKeys{P256dh: "key", Auth: "auth"},
}

func newTestService(repo *mockPreferenceRepo, sender *mockSender, crypt Encrypter) NotificationService {
	if sender == nil {
		sender = &mockSender{}
	}
	if crypt == nil {
		crypt = plainCrypt{}
	}
	return NewNotificationService(repo, sender, crypt, "vapid-pub", discardLogger())
}

// --- Subscribe ---

func TestSubscribe_StoresValidSubscription(t *testing.T) {
	repo := &mockPreferenceRepo{prefs: &Preferences{}}
	svc := newTestService(repo, nil, nil)

	if err := svc.Subscribe(context.Background(), "u1", *testSubscription); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if repo.stored == nil || repo.stored.Endpoint != testSubscription.Endpoint {
		t.Errorf("subscription not stored: %+v", repo.stored)
	}
}

func TestSubscribe_RejectsInvalid(t *testing.T) {
	repo := &mockPreferenceRepo{prefs: &Preferences{}}
	svc := newTestService(repo, nil, nil)

	err := svc.Subscribe(context.Background(), "u1", PushSubscription{Endpoint: "http://insecure.example.com"})
	assertAppError(t, err, http.StatusBadRequest)
	if repo.stored != nil {
		t.Error("invalid subscription was stored")
	}
}

// --- UpdatePreferences ---

func TestUpdatePreferences_Disable(t *testing.T) {
	repo := &mockPreferenceRepo{prefs: &Preferences{
		Target:       Target{Service: ServicePush, Subscription: testSubscription},
		Enabled:      true,
		ReminderTime: "09:00",
	}}
	svc := newTestService(repo, nil, nil)

	resp, err := svc.UpdatePreferences(context.Background(), "u1", PreferencesRequest{ReminderEnabled: boolPtr(false)})
	if err != nil {
		t.Fatalf("UpdatePreferences: %v", err)
	}
	if !repo.disabled || repo.updated != nil {
		t.Errorf("disable should only flip the flag (disabled=%v updated=%v)", repo.disabled, repo.updated)
	}
	if resp.ReminderEnabled {
		t.Error("response still enabled")
	}
	if resp.ReminderTime == nil || *resp.ReminderTime != "09:00" {
		t.Errorf("stored time lost: %v", resp.ReminderTime)
	}
}

func TestUpdatePreferences_EnableRequiresServiceAndTime(t *testing.T) {
	svc := newTestService(&mockPreferenceRepo{prefs: &Preferences{}}, nil, nil)

	_, err := svc.UpdatePreferences(context.Background(), "u1", PreferencesRequest{
		ReminderEnabled: boolPtr(true),
		ReminderService: "push",
	})
	assertAppError(t, err, http.StatusBadRequest)
}

func TestUpdatePreferences_RejectsBadTime(t *testing.T) {
	svc := newTestService(&mockPreferenceRepo{prefs: &Preferences{}}, nil, nil)

	_, err := svc.UpdatePreferences(context.Background(), "u1", PreferencesRequest{
		ReminderEnabled: boolPtr(true),
		ReminderService: "push",
		ReminderTime:    "24:00",
	})
	assertAppError(t, err, http.StatusUnprocessableEntity)
}

func TestUpdatePreferences_PushNeedsSubscription(t *testing.T) {
	repo := &mockPreferenceRepo{prefs: &Preferences{}}
	svc := newTestService(repo, nil, nil)

	_, err := svc.UpdatePreferences(context.Background(), "u1", PreferencesRequest{
		ReminderEnabled: boolPtr(true),
		ReminderService: "push",
		ReminderTime:    "08:30",
	})
	assertAppError(t, err, http.StatusBadRequest)
	if repo.updated != nil {
		t.Error("preferences written without a subscription")
	}
}

func TestUpdatePreferences_PushKeepsRelayURL(t *testing.T) {
	repo := &mockPreferenceRepo{prefs: &Preferences{Target: Target{
		Subscription:      testSubscription,
		RelayURLEncrypted: "sealed:https://ntfy.sh/t",
		RelayIV:           "iv",
	}}}
	svc := newTestService(repo, nil, nil)

	resp, err := svc.UpdatePreferences(context.Background(), "u1", PreferencesRequest{
		ReminderEnabled: boolPtr(true),
		ReminderService: "push",
		ReminderTime:    "08:30",
	})
	if err != nil {
		t.Fatalf("UpdatePreferences: %v", err)
	}
	if repo.updated.RelayURLEncrypted != "sealed:https://ntfy.sh/t" {
		t.Errorf("relay URL dropped: %+v", repo.updated)
	}
	if *resp.ReminderService != "push" || !resp.HasSubscription || !resp.HasRelayURL {
		t.Errorf("unexpected response %+v", resp)
	}
	if resp.VAPIDPublicKey != "vapid-pub" {
		t.Errorf("public key = %q", resp.VAPIDPublicKey)
	}
}

func TestUpdatePreferences_RelayEncryptsURL(t *testing.T) {
	repo := &mockPreferenceRepo{prefs: &Preferences{}}
	svc := newTestService(repo, nil, nil)

	_, err := svc.UpdatePreferences(context.Background(), "u1", PreferencesRequest{
		ReminderEnabled: boolPtr(true),
		ReminderService: "ntfy",
		ReminderTime:    "21:15",
		RelayURL:        " https://user:pw@ntfy.example.com/habits ",
	})
	if err != nil {
		t.Fatalf("UpdatePreferences: %v", err)
	}
	u := repo.updated
	if u == nil || !u.Enabled || u.Service != ServiceRelay || u.ReminderTime != "21:15" {
		t.Fatalf("unexpected update %+v", u)
	}
	if u.RelayURLEncrypted != "sealed:https://user:pw@ntfy.example.com/habits" || u.RelayIV != "iv" {
		t.Errorf("relay URL not sealed as expected: %+v", u)
	}
}

func TestUpdatePreferences_RelayReusesStoredURL(t *testing.T) {
	repo := &mockPreferenceRepo{prefs: &Preferences{Target: Target{
		RelayURLEncrypted: "sealed:https://ntfy.sh/old",
		RelayIV:           "iv",
	}}}
	svc := newTestService(repo, nil, nil)

	_, err := svc.UpdatePreferences(context.Background(), "u1", PreferencesRequest{
		ReminderEnabled: boolPtr(true),
		ReminderService: "ntfy",
		ReminderTime:    "07:00",
	})
	if err != nil {
		t.Fatalf("UpdatePreferences: %v", err)
	}
	if repo.updated.RelayURLEncrypted != "sealed:https://ntfy.sh/old" {
		t.Errorf("stored URL not reused: %+v", repo.updated)
	}
}

func TestUpdatePreferences_RelayRequiresURL(t *testing.T) {
	svc := newTestService(&mockPreferenceRepo{prefs: &Preferences{}}, nil, nil)

	_, err := svc.UpdatePreferences(context.Background(), "u1", PreferencesRequest{
		ReminderEnabled: boolPtr(true),
		ReminderService: "ntfy",
		ReminderTime:    "07:00",
	})
	assertAppError(t, err, http.StatusBadRequest)
}

func TestUpdatePreferences_RelayRejectsBadScheme(t *testing.T) {
	svc := newTestService(&mockPreferenceRepo{prefs: &Preferences{}}, nil, nil)

	_, err := svc.UpdatePreferences(context.Background(), "u1", PreferencesRequest{
		ReminderEnabled: boolPtr(true),
		ReminderService: "ntfy",
		ReminderTime:    "07:00",
		RelayURL:        "file:///etc/passwd",
	})
	assertAppError(t, err, http.StatusBadRequest)
}

func TestUpdatePreferences_EncryptionFailureIsInternal(t *testing.T) {
	repo := &mockPreferenceRepo{prefs: &Preferences{}}
	svc := newTestService(repo, nil, plainCrypt{encryptErr: errors.New("no key")})

	_, err := svc.UpdatePreferences(context.Background(), "u1", PreferencesRequest{
		ReminderEnabled: boolPtr(true),
		ReminderService: "ntfy",
		ReminderTime:    "07:00",
		RelayURL:        "https://ntfy.sh/t",
	})
	assertAppError(t, err, http.StatusInternalServerError)
	if repo.updated != nil {
		t.Error("preferences written despite encryption failure")
	}
}

// --- RelayURL ---

func TestRelayURL(t *testing.T) {
	repo := &mockPreferenceRepo{prefs: &Preferences{}}
	svc := newTestService(repo, nil, nil)

	got, err := svc.RelayURL(context.Background(), "u1")
	if err != nil || got != "" {
		t.Fatalf("RelayURL with none stored = %q, %v", got, err)
	}

	repo.prefs.RelayURLEncrypted = "sealed:https://ntfy.sh/t"
	repo.prefs.RelayIV = "iv"
	got, err = svc.RelayURL(context.Background(), "u1")
	if err != nil || got != "https://ntfy.sh/t" {
		t.Fatalf("RelayURL = %q, %v", got, err)
	}

	repo.prefs.RelayIV = "tampered"
	_, err = svc.RelayURL(context.Background(), "u1")
	assertAppError(t, err, http.StatusInternalServerError)
}

// --- SendTest ---

func TestSendTest_Delivers(t *testing.T) {
	sender := &mockSender{}
	repo := &mockPreferenceRepo{prefs: &Preferences{Target: Target{Service: ServicePush, Subscription: testSubscription}}}
	svc := newTestService(repo, sender, nil)

	if err := svc.SendTest(context.Background(), "u1"); err != nil {
		t.Fatalf("SendTest: %v", err)
	}
	if len(sender.sent) != 1 || sender.sent[0].Title != "Test Notification" || sender.sent[0].Tag != TagTest {
		t.Errorf("unexpected payloads %+v", sender.sent)
	}
	if sender.targets[0].UserID != "u1" {
		t.Errorf("target user = %q", sender.targets[0].UserID)
	}
}

func TestSendTest_NoService(t *testing.T) {
	sender := &mockSender{}
	svc := newTestService(&mockPreferenceRepo{prefs: &Preferences{}}, sender, nil)

	assertAppError(t, svc.SendTest(context.Background(), "u1"), http.StatusBadRequest)
	if len(sender.sent) != 0 {
		t.Error("sent without a service")
	}
}

func TestSendTest_ExpiredSubscriptionCleared(t *testing.T) {
	repo := &mockPreferenceRepo{prefs: &Preferences{Target: Target{Service: ServicePush, Subscription: testSubscription}}}
	svc := newTestService(repo, &mockSender{err: ErrSubscriptionExpired}, nil)

	err := svc.SendTest(context.Background(), "u1")
	assertAppError(t, err, http.StatusBadRequest)
	if !repo.cleared {
		t.Error("expired subscription not cleared")
	}
}

func TestSendTest_DeliveryFailure(t *testing.T) {
	repo := &mockPreferenceRepo{prefs: &Preferences{Target: Target{
		Service:           ServiceRelay,
		RelayURLEncrypted: "sealed:https://ntfy.sh/t",
		RelayIV:           "iv",
	}}}
	svc := newTestService(repo, &mockSender{err: errors.New("relay responded with status 502")}, nil)

	assertAppError(t, svc.SendTest(context.Background(), "u1"), http.StatusInternalServerError)
	if repo.cleared {
		t.Error("relay failure must not touch the push subscription")
	}
}

func TestSendTest_UnknownUser(t *testing.T) {
	svc := newTestService(&mockPreferenceRepo{}, nil, nil)
	assertAppError(t, svc.SendTest(context.Background(), "ghost"), http.StatusNotFound)
}
