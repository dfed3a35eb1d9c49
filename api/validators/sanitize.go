package validators

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// SanitizeString cleans a query value from a storefront link or a MonCash
// return redirect. Control characters and invalid UTF-8 are dropped so they
// cannot reach log lines, and the result is capped at maxLen runes without
// splitting an accented character.
func SanitizeString(input string, maxLen int) string {
	cleaned := strings.Map(func(r rune) rune {
		if r == utf8.RuneError || unicode.IsControl(r) {
			return -1
		}
		return r
	}, input)
	cleaned = strings.TrimSpace(cleaned)
	if maxLen > 0 && utf8.RuneCountInString(cleaned) > maxLen {
		cleaned = strings.TrimSpace(string([]rune(cleaned)[:maxLen]))
	}
	return cleaned
}
