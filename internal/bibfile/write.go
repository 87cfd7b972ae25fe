package bibfile

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Indent prefixes every field line.
const Indent = "  "

// leadingFields are written first, in this order; the rest follow alphabetically.
var leadingFields = []string{FieldAuthor, FieldTitle}

// FormatEntry renders one entry as BibTeX. Field values are written as stored.
func FormatEntry(e *Entry) string {
	var b strings.Builder

	typ := e.Type
	if typ == "" {
		typ = "misc"
	}
	b.WriteString(fmt.Sprintf("@%s{%s,\n", typ, e.Key))

	names := fieldOrder(e.Fields)
	for i, name := range names {
		raw := e.Fields[name]
		if raw == "" {
			raw = "{}"
		}
		b.WriteString(fmt.Sprintf("%s%s = %s", Indent, name, raw))
		if i < len(names)-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}

	b.WriteString("}\n")
	return b.String()
}

// fieldOrder returns the field names in output order.
func fieldOrder(f Fields) []string {
	seen := make(map[string]bool, len(f))
	names := make([]string, 0, len(f))
	for _, name := range leadingFields {
		if _, ok := f[name]; ok {
			names = append(names, name)
			seen[name] = true
		}
	}

	var rest []string
	for name := range f {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	return append(names, rest...)
}

// String renders the whole library: metadata block, verbatim blocks, then entries.
func (l *Library) String() string {
	var b strings.Builder
	if l.Front != "" {
		b.WriteString(l.Front)
		b.WriteString("\n\n")
	}
	chunks := make([]string, 0, len(l.Blocks)+len(l.Entries))
	for _, block := range l.Blocks {
		chunks = append(chunks, block+"\n")
	}
	for _, e := range l.Entries {
		chunks = append(chunks, FormatEntry(e))
	}
	b.WriteString(strings.Join(chunks, "\n"))
	return b.String()
}

// WriteTo writes the rendered library to w.
func (l *Library) WriteTo(w io.Writer) (int64, error) {
	n, err := io.WriteString(w, l.String())
	return int64(n), err
}

// WriteFile writes the rendered library to path, creating parent directories.
func (l *Library) WriteFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", path, err)
	}
	if err := os.WriteFile(path, []byte(l.String()), 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
