// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Reminder outcomes.
const (
	OutcomeSent    = "sent"
	OutcomeFailed  = "failed"
	OutcomeExpired = "expired"
	OutcomeSkipped = "skipped"
)

var (
	// ReminderTicks counts scheduler ticks.
	ReminderTicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trakit_reminder_ticks_total",
		Help: "Number of reminder scheduler ticks.",
	})

	// Reminders counts reminder dispatches by service and outcome.
	Reminders = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trakit_reminders_total",
		Help: "Reminder dispatches by delivery service and outcome.",
	}, []string{"service", "outcome"})

	// RateLimitExceeded counts requests rejected by a named limiter.
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trakit_rate_limit_exceeded_total",
		Help: "Requests rejected by a rate limiter.",
	}, []string{"limiter"})

	// SecurityEvents counts recorded security events by type.
	SecurityEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trakit_security_events_total",
		Help: "Security events by type.",
	}, []string{"type"})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
