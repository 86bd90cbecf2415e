package layouts

import (
	"context"
	"io"

	"github.com/a-h/templ"
)

// Base wraps body in the HTML document shell. The CSRF token is exposed in
// a meta tag for the front-end's fetch calls.
func Base(title string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := io.WriteString(w, `<!DOCTYPE html><html lang="en"><head><meta charset="utf-8">`+
			`<meta name="viewport" content="width=device-width, initial-scale=1">`+
			`<link rel="manifest" href="/manifest.json"><link rel="icon" href="/icon-192.png">`+
			`<title>`+templ.EscapeString(title)+` · Trakit</title>`); err != nil {
			return err
		}
		if token := GetCSRFToken(ctx); token != "" {
			if _, err := io.WriteString(w, `<meta name="csrf-token" content="`+templ.EscapeString(token)+`">`); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(w, `</head><body><header><a href="/">Trakit</a>`); err != nil {
			return err
		}
		if IsAuthenticated(ctx) {
			if _, err := io.WriteString(w, `<span class="user">`+templ.EscapeString(GetUserName(ctx))+`</span>`); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(w, `</header><main>`); err != nil {
			return err
		}
		if err := body.Render(ctx, w); err != nil {
			return err
		}
		_, err := io.WriteString(w, `</main></body></html>`)
		return err
	})
}
