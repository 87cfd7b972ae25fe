// Package importer converts fetched publications into bibliography entries.
package importer

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/matsen/pubpreview/internal/bibfile"
	"github.com/matsen/pubpreview/internal/citekey"
	"github.com/matsen/pubpreview/internal/scholar"
)

// Entry types.
const (
	TypeArticle       = "article"
	TypeInproceedings = "inproceedings"
	TypeIncollection  = "incollection"
	TypeBook          = "book"
)

var (
	nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

	// Words skipped when picking the title word of a key.
	stopWords = map[string]bool{
		"a": true, "an": true, "the": true, "on": true, "of": true, "in": true,
		"for": true, "and": true, "to": true, "with": true, "from": true, "at": true,
		"by": true, "is": true, "are": true, "via": true,
	}
)

// record is a generated entry: type, key and fields in output order.
type record struct {
	typ    string
	key    string
	fields [][2]string
}

// add appends a field unless value is blank.
func (r *record) add(name, value string) {
	if strings.TrimSpace(value) != "" {
		r.fields = append(r.fields, [2]string{name, value})
	}
}

// String renders the record as BibTeX, without a trailing newline.
func (r *record) String() string {
	lines := make([]string, len(r.fields))
	for i, f := range r.fields {
		lines[i] = fmt.Sprintf("  %s = {%s}", f[0], f[1])
	}
	return fmt.Sprintf("@%s{%s,\n%s\n}", r.typ, r.key, strings.Join(lines, ",\n"))
}

// entry builds the bibliography entry for the record under key.
func (r *record) entry(key string) *bibfile.Entry {
	e := bibfile.NewEntry(r.typ, key)
	for _, f := range r.fields {
		e.Fields.Set(f[0], f[1])
	}
	return e
}

// NativeBibTeX renders a filled publication the way Scholar exports it, keyed
// surname + year + first significant title word.
func NativeBibTeX(pub *scholar.Publication) (string, error) {
	rec, err := nativeRecord(pub)
	if err != nil {
		return "", err
	}
	return rec.String() + "\n", nil
}

func nativeRecord(pub *scholar.Publication) (*record, error) {
	bib := pub.Bib
	if !pub.Filled || strings.TrimSpace(bib.Author) == "" {
		return nil, fmt.Errorf("%w: %s", scholar.ErrNotFilled, bib.Title)
	}

	rec := &record{typ: determineEntryType(bib), key: nativeKey(bib)}
	add := func(name, value string) {
		rec.add(name, escapeLatex(strings.TrimSpace(value)))
	}

	add("title", bib.Title)
	add("author", bib.Author)
	switch rec.typ {
	case TypeInproceedings:
		add("booktitle", firstNonEmpty(bib.Conference, bib.Venue))
	case TypeIncollection:
		add("booktitle", bib.Book)
	case TypeArticle:
		add("journal", firstNonEmpty(bib.Journal, bib.Venue))
	}
	add("volume", bib.Volume)
	add("number", bib.Number)
	add("pages", strings.ReplaceAll(bib.Pages, "-", "--"))
	add("year", bib.PubYear)
	add("publisher", bib.Publisher)
	add("abstract", bib.Abstract)
	return rec, nil
}

// MinimalBibTeX renders whatever the publication list row carries as an
// @article. The key is the slugified "title-year", or key<unix> if that is empty.
func MinimalBibTeX(pub *scholar.Publication, now time.Time) string {
	return minimalRecord(pub, now).String()
}

func minimalRecord(pub *scholar.Publication, now time.Time) *record {
	title := pub.Bib.Title
	if title == "" {
		title = "untitled"
	}
	year := pub.Bib.PubYear

	key := citekey.Slugify(title + "-" + year)
	if key == "" {
		key = fmt.Sprintf("key%d", now.Unix())
	}

	rec := &record{typ: TypeArticle, key: key}
	rec.add("author", pub.Bib.Author)
	rec.add("title", title)
	rec.add("year", year)
	rec.add("journal", pub.Bib.Venue)
	return rec
}

// Convert renders pub as BibTeX, falling back to the minimal form when the
// native export is unavailable. It returns the text and the entry built from
// the same fields, keyed by citekey.Assign on the text.
func Convert(pub *scholar.Publication, now time.Time) (bibtex string, e *bibfile.Entry) {
	rec, err := nativeRecord(pub)
	if err != nil {
		rec = minimalRecord(pub, now)
	}
	bibtex = rec.String()
	return bibtex, rec.entry(citekey.Assign(bibtex, pub.Bib.Title, pub.Bib.PubYear))
}

// nativeKey builds e.g. lovelace2021phylogenetic.
func nativeKey(bib scholar.Bib) string {
	first, _, _ := strings.Cut(bib.Author, " and ")

	var word string
	for _, w := range strings.Fields(strings.ToLower(bib.Title)) {
		w = nonAlnum.ReplaceAllString(w, "")
		if w != "" && !stopWords[w] {
			word = w
			break
		}
	}

	key := strings.ToLower(sanitizeForCiteKey(surname(first))) + bib.PubYear + word
	if key == "" {
		return citekey.Synthesize(bib.Title, bib.PubYear)
	}
	return key
}

// determineEntryType returns the BibTeX entry type for a publication.
func determineEntryType(bib scholar.Bib) string {
	switch {
	case bib.Conference != "":
		return TypeInproceedings
	case bib.Journal != "":
		return TypeArticle
	case bib.Book != "":
		return TypeIncollection
	}

	venue := strings.ToLower(bib.Venue)

	// Preprints
	if strings.Contains(venue, "arxiv") ||
		strings.Contains(venue, "biorxiv") ||
		strings.Contains(venue, "medrxiv") {
		return TypeArticle
	}

	// Conference proceedings
	if strings.Contains(venue, "proceedings") ||
		strings.Contains(venue, "conference") ||
		strings.Contains(venue, "workshop") ||
		strings.Contains(venue, "symposium") {
		return TypeInproceedings
	}

	if venue == "" && bib.Publisher != "" {
		return TypeBook
	}
	return TypeArticle
}

// escapeLatex escapes special LaTeX characters.
func escapeLatex(s string) string {
	// Braces are left alone; bibfile.Quote escapes any that do not pair up.
	replacer := strings.NewReplacer(
		"&", `\&`,
		"%", `\%`,
		"$", `\$`,
		"#", `\#`,
		"_", `\_`,
	)
	return replacer.Replace(s)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
