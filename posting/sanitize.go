package posting

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// SanitizeTitle normalizes a page title and strips control characters, which the entry encoder refuses to write.
func SanitizeTitle(title string) string {
	t := transform.Chain(norm.NFC, runes.Remove(runes.In(unicode.Cc)))
	out, _, err := transform.String(t, title)
	if err != nil {
		// fall back to dropping the offending runes one by one
		return strings.Map(func(r rune) rune {
			if unicode.Is(unicode.Cc, r) {
				return -1
			}
			return r
		}, title)
	}
	return strings.TrimSpace(out)
}
