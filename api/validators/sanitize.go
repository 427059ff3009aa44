package validators

import (
	"strings"
	"unicode"
)

// SanitizeString trims input, drops control characters other than newlines and
// tabs, and caps the result at maxLen runes.
func SanitizeString(input string, maxLen int) string {
	cleaned := strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, strings.TrimSpace(input))

	runes := []rune(cleaned)
	if maxLen > 0 && len(runes) > maxLen {
		return strings.TrimSpace(string(runes[:maxLen]))
	}
	return cleaned
}
