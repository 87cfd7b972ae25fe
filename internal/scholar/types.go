// Package scholar reads a researcher's publication list from Google Scholar,
// either by scraping the public profile pages or through SerpAPI.
package scholar

// Author is a resolved profile with its (unfilled) publication list.
type Author struct {
	ID           string
	Name         string
	Affiliation  string
	Publications []Publication
}

// Bib holds the bibliographic part of a publication.
type Bib struct {
	Title string
	// Author is "A and B and C" once filled; list pages carry a truncated
	// comma-separated form.
	Author     string
	PubYear    string
	Venue      string
	Journal    string
	Conference string
	Book       string
	Volume     string
	Number     string
	Pages      string
	Publisher  string
	Abstract   string
}

// Publication is one item of an author's list.
type Publication struct {
	// ID is the author-publication id, USER:PUBID.
	ID        string
	Bib       Bib
	PubURL    string
	EprintURL string
	// Filled is set once the detail page has been read.
	Filled bool
}

// PageURL returns the landing page to search for a thumbnail.
func (p *Publication) PageURL() string {
	if p.PubURL != "" {
		return p.PubURL
	}
	return p.EprintURL
}
