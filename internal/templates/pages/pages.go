// Package pages holds the few server-rendered pages. Everything else is
// served as JSON to the front-end.
package pages

import (
	"context"
	"io"
	"strconv"

	"github.com/a-h/templ"

	"github.com/keyxmakerx/trakit/internal/templates/layouts"
)

// Landing is the home page.
func Landing() templ.Component {
	return layouts.Base("Daily habits", templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var body string
		if layouts.IsAuthenticated(ctx) {
			body = `<h1>Welcome back</h1><p>Your habits are waiting.</p>`
		} else {
			body = `<h1>Build habits one day at a time</h1>` +
				`<p>Track daily habits and get a reminder when something is left undone.</p>`
		}
		_, err := io.WriteString(w, body)
		return err
	}))
}

// ErrorPage renders a status code and a client-safe message.
func ErrorPage(code int, message string) templ.Component {
	return layouts.Base("Error", templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		_, err := io.WriteString(w, `<section class="error"><h1>`+strconv.Itoa(code)+`</h1><p>`+
			templ.EscapeString(message)+`</p><p><a href="/">Back to home</a></p></section>`)
		return err
	}))
}
