package sanitize

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

var htmlPolicy = bluemonday.StrictPolicy()

// DisplayText cleans untrusted text (customer names, free-form fields from
// the server) before it is shown in a toast: control characters are dropped,
// HTML is stripped, entities are decoded and the result is cut to maxLen
// runes.
func DisplayText(s string, maxLen int) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	s = html.UnescapeString(htmlPolicy.Sanitize(s))
	s = strings.TrimSpace(s)

	if r := []rune(s); len(r) > maxLen {
		s = strings.TrimSpace(string(r[:maxLen]))
	}
	return s
}
