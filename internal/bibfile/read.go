package bibfile

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// FrontMarker delimits the metadata block at the top of a bibliography file.
const FrontMarker = "---"

// SplitFront separates a leading metadata block from the BibTeX body.
// The block starts with a FrontMarker line and runs through the next FrontMarker line.
// If the closing marker is missing, the first two lines are taken as the block.
// Without a leading marker, front is empty and body is the whole text.
func SplitFront(text string) (front, body string) {
	lines := strings.Split(text, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != FrontMarker {
		return "", text
	}

	end := 1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == FrontMarker {
			end = i
			break
		}
	}
	if end >= len(lines) {
		return strings.Join(lines, "\n"), ""
	}
	return strings.Join(lines[:end+1], "\n"), strings.Join(lines[end+1:], "\n")
}

// Parse reads BibTeX entries from r. The input must not contain a metadata block;
// use ParseText or ReadFile for whole files.
//
// Text outside entries is ignored. Entries may use braces or parentheses.
// Field values are kept as written, so braces, quotes, macros and
// concatenations survive a rewrite. @string, @preamble and @comment blocks
// are kept verbatim in Library.Blocks.
func Parse(r io.Reader) (*Library, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading bibtex: %w", err)
	}
	lib, err := parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("parsing bibtex: %w", err)
	}
	return lib, nil
}

func parse(s string) (*Library, error) {
	sc := &scanner{s: s}
	lib := &Library{}
	for {
		at := strings.IndexByte(s[sc.i:], '@')
		if at < 0 {
			return lib, nil
		}
		start := sc.i + at
		sc.i = start + 1

		typ := sc.name()
		sc.skipSpace()
		if typ == "" || sc.eof() || (sc.peek() != '{' && sc.peek() != '(') {
			// An @ in surrounding prose.
			continue
		}

		switch strings.ToLower(typ) {
		case "string", "preamble", "comment":
			end := closing(s, sc.i)
			if end < 0 {
				return nil, sc.errorf(start, "unterminated @%s", typ)
			}
			lib.Blocks = append(lib.Blocks, s[start:end+1])
			sc.i = end + 1
			continue
		}

		e, err := sc.entry(typ)
		if err != nil {
			return nil, err
		}
		lib.Entries = append(lib.Entries, e)
	}
}

// scanner walks BibTeX source one byte at a time.
type scanner struct {
	s string
	i int
}

func (sc *scanner) eof() bool  { return sc.i >= len(sc.s) }
func (sc *scanner) peek() byte { return sc.s[sc.i] }

func (sc *scanner) errorf(at int, format string, args ...any) error {
	line := strings.Count(sc.s[:at], "\n") + 1
	return fmt.Errorf("line %d: %s", line, fmt.Sprintf(format, args...))
}

// skipSpace skips whitespace and % comment lines.
func (sc *scanner) skipSpace() {
	for !sc.eof() {
		switch sc.peek() {
		case '%':
			for !sc.eof() && sc.peek() != '\n' {
				sc.i++
			}
		case ' ', '\t', '\r', '\n':
			sc.i++
		default:
			return
		}
	}
}

// name reads an entry type or field name.
func (sc *scanner) name() string {
	start := sc.i
	for !sc.eof() && isNameByte(sc.peek()) {
		sc.i++
	}
	return sc.s[start:sc.i]
}

func isNameByte(c byte) bool {
	return 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' || '0' <= c && c <= '9' ||
		c == '_' || c == '-' || c == ':' || c == '.'
}

// entry reads a regular entry; sc is at its opening delimiter.
func (sc *scanner) entry(typ string) (*Entry, error) {
	start := sc.i
	end := byte('}')
	if sc.peek() == '(' {
		end = ')'
	}
	sc.i++
	sc.skipSpace()

	keyStart := sc.i
	for !sc.eof() && sc.peek() != ',' && sc.peek() != end {
		sc.i++
	}
	if sc.eof() {
		return nil, sc.errorf(start, "unterminated @%s", typ)
	}
	e := NewEntry(typ, strings.TrimSpace(sc.s[keyStart:sc.i]))

	for {
		sc.skipSpace()
		if sc.eof() {
			return nil, sc.errorf(start, "unterminated entry %s", e.Key)
		}
		switch sc.peek() {
		case ',':
			sc.i++
			continue
		case end:
			sc.i++
			return e, nil
		}

		at := sc.i
		name := sc.name()
		if name == "" {
			return nil, sc.errorf(at, "unexpected %q in entry %s", sc.peek(), e.Key)
		}
		sc.skipSpace()
		if sc.eof() || sc.peek() != '=' {
			return nil, sc.errorf(at, "missing = after %s in entry %s", name, e.Key)
		}
		sc.i++
		sc.skipSpace()

		raw, _, err := sc.value()
		if err != nil {
			return nil, fmt.Errorf("entry %s field %s: %w", e.Key, name, err)
		}
		e.Fields.SetRaw(name, raw)
	}
}

// value reads one field value: braced, quoted or bare pieces joined by #.
// It returns the source text and the pieces with their delimiters removed.
func (sc *scanner) value() (raw string, parts []string, err error) {
	start := sc.i
	for {
		if sc.eof() {
			return "", nil, sc.errorf(start, "missing value")
		}
		at := sc.i
		switch sc.peek() {
		case '{':
			end := matchBrace(sc.s, at)
			if end < 0 {
				return "", nil, sc.errorf(at, "unbalanced braces")
			}
			parts = append(parts, sc.s[at+1:end])
			sc.i = end + 1
		case '"':
			end := matchQuote(sc.s, at)
			if end < 0 {
				return "", nil, sc.errorf(at, "unterminated quote")
			}
			parts = append(parts, sc.s[at+1:end])
			sc.i = end + 1
		default:
			for !sc.eof() && isBareByte(sc.peek()) {
				sc.i++
			}
			if sc.i == at {
				return "", nil, sc.errorf(at, "missing value")
			}
			parts = append(parts, sc.s[at:sc.i])
		}

		end := sc.i
		sc.skipSpace()
		if sc.eof() || sc.peek() != '#' {
			return sc.s[start:end], parts, nil
		}
		sc.i++
		sc.skipSpace()
	}
}

func isBareByte(c byte) bool {
	return !strings.ContainsRune(" \t\r\n,#{}()\"=%", rune(c))
}

// matchBrace returns the index of the brace closing the one at i, or -1.
// Backslash-escaped characters do not count.
func matchBrace(s string, i int) int {
	depth := 0
	for j := i; j < len(s); j++ {
		switch s[j] {
		case '\\':
			j++
		case '{':
			depth++
		case '}':
			if depth--; depth == 0 {
				return j
			}
		}
	}
	return -1
}

// matchQuote returns the index of the quote closing the one at i, or -1.
// Quotes inside braces do not close the value.
func matchQuote(s string, i int) int {
	depth := 0
	for j := i + 1; j < len(s); j++ {
		switch s[j] {
		case '\\':
			j++
		case '{':
			depth++
		case '}':
			depth--
		case '"':
			if depth == 0 {
				return j
			}
		}
	}
	return -1
}

// closing returns the index of the delimiter closing the block opened at i.
func closing(s string, i int) int {
	if s[i] == '{' {
		return matchBrace(s, i)
	}
	for j := i + 1; j < len(s); j++ {
		switch s[j] {
		case '\\':
			j++
		case '{':
			if j = matchBrace(s, j); j < 0 {
				return -1
			}
		case ')':
			return j
		}
	}
	return -1
}

// decode strips delimiters from a raw value and joins its pieces.
// Text that does not scan as a value comes back unchanged.
func decode(raw string) string {
	if raw == "" {
		return ""
	}
	sc := &scanner{s: raw}
	sc.skipSpace()
	_, parts, err := sc.value()
	if err != nil {
		return raw
	}
	return strings.Join(parts, "")
}

// ParseText splits off the metadata block and parses the remainder.
func ParseText(text string) (*Library, error) {
	front, body := SplitFront(text)
	lib, err := Parse(strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	lib.Front = front
	return lib, nil
}

// ReadFile loads and parses a bibliography file.
func ReadFile(path string) (*Library, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	lib, err := ParseText(string(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return lib, nil
}
