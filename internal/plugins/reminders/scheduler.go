// Package reminders runs the daily reminder scheduler. A cron tick lists
// users with reminders enabled, matches each user's local wall-clock time
// against their reminder time, and dispatches the incomplete-habit summary
// in a goroutine per matched user.
//
// Matching is an exact "HH:MM" comparison with no catch-up: a tick that
// misses a user's minute (downtime, a slow previous tick) skips that day.
package reminders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/keyxmakerx/trakit/internal/metrics"
	"github.com/keyxmakerx/trakit/internal/plugins/notifications"
)

const (
	// DefaultSchedule fires at the top of every minute.
	DefaultSchedule = "* * * * *"

	listTimeout     = 20 * time.Second
	dispatchTimeout = 30 * time.Second
)

// Scheduler owns the cron loop and the in-flight dispatches.
type Scheduler struct {
	repo   Repository
	sender notifications.Sender
	log    *slog.Logger
	now    func() time.Time

	cron *cron.Cron
	wg   sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces time.Now for the cron-driven ticks.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// NewScheduler registers the tick on schedule. An empty schedule means
// DefaultSchedule. The scheduler does nothing until Start.
func NewScheduler(repo Repository, sender notifications.Sender, schedule string, log *slog.Logger, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		repo:   repo,
		sender: sender,
		log:    log.With(slog.String("component", "reminders")),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if schedule == "" {
		schedule = DefaultSchedule
	}

	logger := cronLogger{log: s.log}
	s.cron = cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(logger),
		// One matching pass at a time; dispatches still overlap freely.
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := s.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), listTimeout)
		defer cancel()
		s.Tick(ctx, s.now())
	}); err != nil {
		return nil, fmt.Errorf("parsing reminder schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins ticking in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("reminder scheduler started")
}

// Stop halts future ticks and waits for the running tick and in-flight
// dispatches, or until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	<-s.cron.Stop().Done()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("reminder scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for reminder dispatches: %w", ctx.Err())
	}
}

// Wait blocks until every dispatch started so far has finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Tick runs one matching pass at instant now and launches a dispatch for
// each matched user. It returns the number of users matched. Dispatches
// run detached from ctx with their own timeout.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) int {
	metrics.ReminderTicks.Inc()

	recipients, err := s.repo.ListRecipients(ctx)
	if err != nil {
		s.log.Error("listing reminder recipients", slog.Any("error", err))
		return 0
	}

	matched := 0
	for _, r := range recipients {
		local := now.In(s.location(r))
		if local.Format("15:04") != r.ReminderTime {
			continue
		}
		matched++

		s.wg.Add(1)
		go s.dispatch(r, local.Format(time.DateOnly), now)
	}

	if matched > 0 {
		s.log.Debug("reminder tick", slog.Int("recipients", len(recipients)), slog.Int("matched", matched))
	}
	return matched
}

// location resolves the user's zone, falling back to UTC.
func (s *Scheduler) location(p notifications.Preferences) *time.Location {
	if p.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		s.log.Warn("invalid timezone, using UTC",
			slog.String("user_id", p.UserID),
			slog.String("timezone", p.Timezone),
		)
		return time.UTC
	}
	return loc
}

// dispatch sends one user's reminder. Nothing it does may escape: errors
// and panics are logged and counted.
func (s *Scheduler) dispatch(p notifications.Preferences, day string, now time.Time) {
	defer s.wg.Done()

	log := s.log.With(slog.String("user_id", p.UserID), slog.String("service", string(p.Service)))
	defer func() {
		if r := recover(); r != nil {
			log.Error("reminder dispatch panicked", slog.Any("panic", r))
			s.count(p.Service, metrics.OutcomeFailed)
		}
	}()

	if reason := missingTarget(p.Target); reason != "" {
		log.Warn("skipping reminder", slog.String("reason", reason))
		s.count(p.Service, metrics.OutcomeSkipped)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()

	habits, err := s.repo.IncompleteHabits(ctx, p.UserID, day)
	if err != nil {
		log.Error("loading incomplete habits", slog.Any("error", err))
		s.count(p.Service, metrics.OutcomeFailed)
		return
	}

	err = s.sender.Send(ctx, p.Target, notifications.ComposeReminder(habits, now))
	switch {
	case err == nil:
		log.Info("reminder sent", slog.Int("incomplete", len(habits)))
		s.count(p.Service, metrics.OutcomeSent)
	case errors.Is(err, notifications.ErrSubscriptionExpired):
		log.Info("push subscription expired, clearing")
		if clearErr := s.repo.ClearPushSubscription(ctx, p.UserID); clearErr != nil {
			log.Error("clearing expired subscription", slog.Any("error", clearErr))
		}
		s.count(p.Service, metrics.OutcomeExpired)
	case errors.Is(err, notifications.ErrNotConfigured), errors.Is(err, notifications.ErrMissingTarget):
		log.Warn("skipping reminder", slog.Any("error", err))
		s.count(p.Service, metrics.OutcomeSkipped)
	default:
		log.Error("sending reminder", slog.Any("error", err))
		s.count(p.Service, metrics.OutcomeFailed)
	}
}

// missingTarget explains why t cannot be delivered to, or returns "".
func missingTarget(t notifications.Target) string {
	switch t.Service {
	case notifications.ServicePush:
		if t.Subscription == nil {
			return "no push subscription"
		}
	case notifications.ServiceRelay:
		if !t.HasRelay() {
			return "no relay url"
		}
	default:
		return "no reminder service"
	}
	return ""
}

func (s *Scheduler) count(service notifications.Service, outcome string) {
	label := string(service)
	if !service.Valid() {
		label = "unknown"
	}
	metrics.Reminders.WithLabelValues(label, outcome).Inc()
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
