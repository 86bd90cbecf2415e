// Package sanitize cleans user-supplied text before it leaves the server in
// a context that is not HTML-escaped for us: push payloads, relay headers,
// and display names echoed into notifications.
package sanitize

import (
	"html"
	"strings"
	"sync"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

var (
	strict     *bluemonday.Policy
	strictOnce sync.Once
)

// strictPolicy returns the shared tag-stripping policy.
func strictPolicy() *bluemonday.Policy {
	strictOnce.Do(func() {
		strict = bluemonday.StrictPolicy()
	})
	return strict
}

// PlainText strips all markup from input and returns the readable text.
// bluemonday escapes entities in its output; they are decoded again since
// the result is plain text, not HTML.
func PlainText(input string) string {
	if input == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(strictPolicy().Sanitize(input)))
}

// SingleLine is PlainText with control characters removed and runs of
// whitespace collapsed to one space. Used for names and header values.
func SingleLine(input string) string {
	text := PlainText(input)
	text = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, text)
	return strings.Join(strings.Fields(text), " ")
}
