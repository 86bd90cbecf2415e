package notifications

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/keyxmakerx/trakit/internal/sanitize"
)

// Reminder tags, used by the service worker to replace older notifications.
const (
	TagReminder         = "habit-reminder"
	TagReminderComplete = "habit-reminder-complete"
	TagTest             = "test-notification"
)

// motivationalPhrases open a reminder body. One is picked at random per
// message.
var motivationalPhrases = []string{
	"You've got this!",
	"Small steps lead to big changes!",
	"Keep building your streak!",
	"Progress, not perfection!",
	"You're doing great!",
	"Make today count!",
}

// ComposeReminder builds the reminder for a user's incomplete habits. An
// empty list yields the congratulation message.
func ComposeReminder(habitNames []string, now time.Time) Payload {
	if len(habitNames) == 0 {
		return Payload{
			Title: "All habits completed!",
			Body:  "Great job! You've completed all your habits for today. Keep up the momentum!",
			Tag:   TagReminderComplete,
		}
	}

	lines := make([]string, 0, len(habitNames))
	for _, name := range habitNames {
		lines = append(lines, "• "+sanitize.SingleLine(name))
	}

	title := "1 habit waiting for you"
	if n := len(habitNames); n != 1 {
		title = fmt.Sprintf("%d habits waiting for you", n)
	}

	phrase := motivationalPhrases[rand.IntN(len(motivationalPhrases))]

	return Payload{
		Title: title,
		Body:  phrase + "\n\n" + strings.Join(lines, "\n"),
		Tag:   TagReminder,
		Data: map[string]any{
			"type":       "reminder",
			"habitCount": len(habitNames),
			"timestamp":  now.UTC().Format(time.RFC3339),
		},
	}
}

// TestMessage is sent by the "send test notification" action.
func TestMessage() Payload {
	return Payload{
		Title: "Test Notification",
		Body:  "Your Trakit reminders are working! You'll receive daily reminders at your scheduled time.",
		Tag:   TagTest,
	}
}
