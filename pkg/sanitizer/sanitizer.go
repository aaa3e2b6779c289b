// Package sanitizer normalizes free-text fields before validation and
// storage: collapsed whitespace, stripped control characters, bounded
// length. It never rejects input; validation does that.
package sanitizer

import (
	"strings"
	"unicode"
)

func TrimAndNormalize(s string) string {
	s = strings.TrimSpace(s)

	if s == "" {
		return ""
	}

	var result strings.Builder
	var lastWasSpace bool

	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			if !lastWasSpace {
				result.WriteRune(' ')
				lastWasSpace = true
			}
		case unicode.IsControl(r):
			// dropped
		default:
			result.WriteRune(r)
			lastWasSpace = false
		}
	}

	return result.String()
}

// SanitizeName normalizes a person or pet name.
func SanitizeName(name string) string {
	return TrimAndNormalize(name)
}

// SanitizeNote normalizes a free-text note, capping it at maxLen runes.
func SanitizeNote(note string, maxLen int) string {
	normalized := TrimAndNormalize(note)
	if maxLen > 0 {
		runes := []rune(normalized)
		if len(runes) > maxLen {
			return string(runes[:maxLen])
		}
	}
	return normalized
}
