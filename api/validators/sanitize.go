package validators

import "strings"

// SanitizeString trims surrounding whitespace from free-text fields such
// as listing titles and addresses. When maxLen is positive the result is
// truncated on a rune boundary so multi-byte characters stay intact.
func SanitizeString(input string, maxLen int) string {
	trimmed := strings.TrimSpace(input)
	if maxLen <= 0 {
		return trimmed
	}
	runes := []rune(trimmed)
	if len(runes) > maxLen {
		return string(runes[:maxLen])
	}
	return trimmed
}
