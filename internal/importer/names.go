package importer

import (
	"strings"
	"unicode"
)

// nameSuffixes are dropped when picking a surname.
var nameSuffixes = map[string]bool{
	"jr":   true,
	"jr.":  true,
	"sr":   true,
	"sr.":  true,
	"ii":   true,
	"iii":  true,
	"iv":   true,
	"phd":  true,
	"ph.d": true,
}

// surname returns the family name of "First Last" or "Last, First".
//
// Known limitations:
// - Multi-part surnames (von Neumann, van der Waals) keep only the last word
func surname(name string) string {
	name = strings.TrimSpace(name)
	if last, _, ok := strings.Cut(name, ","); ok {
		return strings.TrimSpace(last)
	}

	parts := strings.Fields(name)
	if len(parts) == 0 {
		return ""
	}
	if len(parts) > 2 && nameSuffixes[strings.ToLower(parts[len(parts)-1])] {
		parts = parts[:len(parts)-1]
	}
	return parts[len(parts)-1]
}

// sanitizeForCiteKey removes non-alphanumeric characters.
func sanitizeForCiteKey(s string) string {
	var result strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}
