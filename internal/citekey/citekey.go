// Package citekey derives citation keys for bibliography entries.
package citekey

import (
	"regexp"
	"strings"
)

// MaxSlugLen bounds the length of a title slug.
const MaxSlugLen = 80

var (
	// Match entry start: @type{key
	entryKeyRegex = regexp.MustCompile(`@\w+\{([^,]+)`)

	disallowed = regexp.MustCompile(`[^a-z0-9\-\s]`)
	whitespace = regexp.MustCompile(`\s+`)
	hyphens    = regexp.MustCompile(`-+`)
)

// Parse extracts the citation key from a BibTeX entry.
func Parse(bibtex string) (string, bool) {
	m := entryKeyRegex.FindStringSubmatch(bibtex)
	if len(m) < 2 {
		return "", false
	}
	return m[1], true
}

// Slugify turns a title into a lower-case, hyphen-separated key fragment.
//
//	"A Study: Of  THINGS!!" -> "a-study-of-things"
func Slugify(text string) string {
	s := strings.ToLower(strings.TrimSpace(text))
	s = disallowed.ReplaceAllString(s, "")
	s = whitespace.ReplaceAllString(s, "-")
	s = hyphens.ReplaceAllString(s, "-")
	if len(s) > MaxSlugLen {
		s = s[:MaxSlugLen]
	}
	return s
}

// Synthesize builds a key from a title and an optional year.
func Synthesize(title, year string) string {
	base := Slugify(title)
	if year != "" {
		base = base + "-" + year
	}
	return base
}

// Assign returns the key of bibtex, or a key synthesized from title and year
// when the entry has none.
func Assign(bibtex, title, year string) string {
	if key, ok := Parse(bibtex); ok {
		return key
	}
	return Synthesize(title, year)
}
