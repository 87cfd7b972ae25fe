// Package bibfile reads, rewrites, and orders BibTeX bibliography files.
package bibfile

import (
	"strings"
)

// Known field names.
const (
	FieldTitle     = "title"
	FieldAuthor    = "author"
	FieldYear      = "year"
	FieldPubYear   = "pub_year"
	FieldURL       = "url"
	FieldDOI       = "doi"
	FieldJournal   = "journal"
	FieldVenue     = "venue"
	FieldBooktitle = "booktitle"
	FieldPreview   = "preview"
)

// Fields maps lower-case field names to their raw BibTeX values, delimiters,
// macros and # concatenations included, exactly as they are written back.
// Entries carry arbitrary fields; the accessors cover the ones the tools read.
type Fields map[string]string

// Get returns the trimmed text of a field with its delimiters removed.
// Macro names are returned as written.
func (f Fields) Get(name string) string {
	return strings.TrimSpace(decode(f[strings.ToLower(name)]))
}

// Raw returns a field's value as written in the file.
func (f Fields) Raw(name string) string {
	return f[strings.ToLower(name)]
}

// Set stores a plain text value, braced, under its lower-case name.
func (f Fields) Set(name, value string) {
	f[strings.ToLower(name)] = Quote(value)
}

// SetRaw stores a value that is already valid BibTeX, such as {text}, "text", jan or a # b.
func (f Fields) SetRaw(name, raw string) {
	f[strings.ToLower(name)] = raw
}

// Quote braces a plain value. Braces that do not pair up are backslash-escaped
// so the value cannot close the field early.
func Quote(value string) string {
	if balanced(value) {
		return "{" + value + "}"
	}
	var b strings.Builder
	b.WriteByte('{')
	for i := 0; i < len(value); i++ {
		c := value[i]
		switch {
		case c == '\\' && i+1 < len(value):
			b.WriteByte(c)
			i++
			b.WriteByte(value[i])
			continue
		case c == '{' || c == '}' || c == '\\':
			b.WriteByte('\\')
		}
		b.WriteByte(c)
	}
	b.WriteByte('}')
	return b.String()
}

func balanced(s string) bool {
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			if i == len(s)-1 {
				return false
			}
			i++
		case '{':
			depth++
		case '}':
			if depth--; depth < 0 {
				return false
			}
		}
	}
	return depth == 0
}

// Has reports whether a field is present with a non-empty value.
func (f Fields) Has(name string) bool {
	return f.Get(name) != ""
}

func (f Fields) Title() string  { return f.Get(FieldTitle) }
func (f Fields) Author() string { return f.Get(FieldAuthor) }
func (f Fields) URL() string    { return f.Get(FieldURL) }
func (f Fields) DOI() string    { return f.Get(FieldDOI) }

// Year returns the year field, falling back to pub_year.
func (f Fields) Year() string {
	if y := f.Get(FieldYear); y != "" {
		return y
	}
	return f.Get(FieldPubYear)
}

// Venue returns journal, venue, or booktitle, whichever is set first.
func (f Fields) Venue() string {
	for _, name := range []string{FieldJournal, FieldVenue, FieldBooktitle} {
		if v := f.Get(name); v != "" {
			return v
		}
	}
	return ""
}

// Preview returns the relative thumbnail path, if any.
func (f Fields) Preview() string { return f.Get(FieldPreview) }

// SetPreview records the relative thumbnail path.
func (f Fields) SetPreview(path string) { f.Set(FieldPreview, path) }

// Entry is one bibliographic record.
type Entry struct {
	Type   string // article, inproceedings, misc, ...
	Key    string // citation key, unique within a file
	Fields Fields
}

// NewEntry creates an entry with an empty field set.
func NewEntry(typ, key string) *Entry {
	return &Entry{Type: strings.ToLower(typ), Key: key, Fields: Fields{}}
}

// Library is a parsed bibliography file.
type Library struct {
	// Front is the leading metadata block, markers included, kept byte-for-byte.
	Front string
	// Blocks holds @string, @preamble and @comment blocks verbatim, in file order.
	// They are written back ahead of the entries.
	Blocks []string
	// Entries in file order (or sorted order, once sorted).
	Entries []*Entry
}

// Get returns the entry with the given key.
func (l *Library) Get(key string) (*Entry, bool) {
	for _, e := range l.Entries {
		if e.Key == key {
			return e, true
		}
	}
	return nil, false
}

// Put inserts e, replacing an entry with the same key in place.
// It returns the replaced entry, or nil if the key was new.
func (l *Library) Put(e *Entry) *Entry {
	for i, existing := range l.Entries {
		if existing.Key == e.Key {
			l.Entries[i] = e
			return existing
		}
	}
	l.Entries = append(l.Entries, e)
	return nil
}

// Len returns the number of entries.
func (l *Library) Len() int { return len(l.Entries) }
