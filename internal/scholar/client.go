package scholar

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/carlmjohnson/requests"
)

const (
	// BaseURL is the Google Scholar site root.
	BaseURL = "https://scholar.google.com"

	// PageSize is the number of rows requested per profile page; a shorter
	// page is the last one.
	PageSize = 100

	// MaxPages bounds profile paging at MaxPages*PageSize rows.
	MaxPages = 50

	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 30 * time.Second
)

var (
	yearPattern     = regexp.MustCompile(`\b(1[89]|20)\d{2}\b`)
	trailingYear    = regexp.MustCompile(`,\s*(\d{4})?\s*$`)
	captchaSelector = "#gs_captcha_ccl, #gs_captcha_f, #captcha-form"
)

// options are shared by both backends.
type options struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
}

// ClientOption configures a ScholarClient or SerpAPIClient.
type ClientOption func(*options)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(o *options) {
		o.httpClient = hc
	}
}

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(u string) ClientOption {
	return func(o *options) {
		if u != "" {
			o.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(ua string) ClientOption {
	return func(o *options) {
		o.userAgent = ua
	}
}

func newOptions(baseURL string, opts []ClientOption) options {
	o := options{
		httpClient: &http.Client{Timeout: DefaultTimeout},
		baseURL:    baseURL,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// ScholarClient scrapes public Google Scholar profile pages.
type ScholarClient struct {
	options
}

// NewScholarClient creates a scraping client.
func NewScholarClient(opts ...ClientOption) *ScholarClient {
	return &ScholarClient{options: newOptions(BaseURL, opts)}
}

// Author resolves a profile id and lists its publications, following the
// profile's pagination until a short page.
func (c *ScholarClient) Author(ctx context.Context, userID string) (*Author, error) {
	author := &Author{ID: userID}

	seen := seenSet{}
	for page := 0; page < MaxPages; page++ {
		start := page * PageSize
		doc, err := c.citations(ctx, url.Values{
			"user":     {userID},
			"hl":       {"en"},
			"cstart":   {strconv.Itoa(start)},
			"pagesize": {strconv.Itoa(PageSize)},
		})
		if err != nil {
			if IsAuthorNotFound(err) {
				return nil, fmt.Errorf("%w: %s", ErrAuthorNotFound, userID)
			}
			return nil, err
		}

		if start == 0 {
			author.Name = clean(doc.Find("#gsc_prf_in").Text())
			if author.Name == "" {
				return nil, fmt.Errorf("%w: %s", ErrAuthorNotFound, userID)
			}
			author.Affiliation = clean(doc.Find(".gsc_prf_il").First().Text())
		}

		rows := doc.Find(".gsc_a_tr")
		fresh := 0
		rows.Each(func(_ int, row *goquery.Selection) {
			if pub, ok := parseRow(row); ok && seen.add(pub) {
				author.Publications = append(author.Publications, pub)
				fresh++
			}
		})
		if rows.Length() < PageSize || fresh == 0 {
			break
		}
	}

	return author, nil
}

// seenSet collects publication IDs while paging. A page that adds nothing
// new means the server is repeating itself.
type seenSet map[string]bool

// add records pub and reports whether it was new.
func (s seenSet) add(pub Publication) bool {
	id := pub.ID
	if id == "" {
		id = "title:" + pub.Bib.Title
	}
	if s[id] {
		return false
	}
	s[id] = true
	return true
}

// parseRow reads one row of the profile's publication table.
func parseRow(row *goquery.Selection) (Publication, bool) {
	link := row.Find(".gsc_a_at").First()
	title := clean(link.Text())
	if title == "" {
		return Publication{}, false
	}

	var id string
	for _, attr := range []string{"href", "data-href"} {
		if href, ok := link.Attr(attr); ok {
			if id = citationID(href); id != "" {
				break
			}
		}
	}

	gray := row.Find(".gs_gray")
	year := clean(row.Find(".gsc_a_y span").Text())
	if year == "" {
		year = clean(row.Find(".gsc_a_h").Text())
	}

	return Publication{
		ID: id,
		Bib: Bib{
			Title:   title,
			Author:  clean(gray.Eq(0).Text()),
			Venue:   trailingYear.ReplaceAllString(clean(gray.Eq(1).Text()), ""),
			PubYear: year,
		},
	}, true
}

// citationID extracts USER:PUBID from a view_citation link.
func citationID(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return u.Query().Get("citation_for_view")
}

// Fill reads the publication's citation page and returns a filled copy.
func (c *ScholarClient) Fill(ctx context.Context, pub *Publication) (*Publication, error) {
	if pub.ID == "" {
		return nil, fmt.Errorf("%w: publication %q has no id", ErrInvalidResponse, pub.Bib.Title)
	}

	doc, err := c.citations(ctx, url.Values{
		"view_op":           {"view_citation"},
		"hl":                {"en"},
		"citation_for_view": {pub.ID},
	})
	if err != nil {
		return nil, err
	}

	title := clean(doc.Find("#gsc_oci_title").Text())
	if title == "" {
		return nil, fmt.Errorf("%w: no title on citation page for %s", ErrInvalidResponse, pub.ID)
	}

	filled := *pub
	filled.Bib.Title = title
	if href, ok := doc.Find("a.gsc_oci_title_link").First().Attr("href"); ok {
		filled.PubURL = strings.TrimSpace(href)
	}
	if href, ok := doc.Find(".gsc_oci_title_ggi a").First().Attr("href"); ok {
		filled.EprintURL = strings.TrimSpace(href)
	}

	doc.Find(".gsc_oci_field").Each(func(_ int, field *goquery.Selection) {
		value := clean(field.Next().Text())
		if value == "" {
			return
		}
		b := &filled.Bib
		switch strings.ToLower(clean(field.Text())) {
		case "authors", "inventors":
			b.Author = JoinAuthors(value)
		case "publication date":
			if y := yearPattern.FindString(value); y != "" {
				b.PubYear = y
			}
		case "journal":
			b.Journal = value
		case "conference":
			b.Conference = value
		case "book":
			b.Book = value
		case "source":
			b.Venue = value
		case "volume":
			b.Volume = value
		case "issue":
			b.Number = value
		case "pages":
			b.Pages = value
		case "publisher":
			b.Publisher = value
		case "description":
			b.Abstract = value
		}
	})

	filled.Bib.Venue = firstNonEmpty(filled.Bib.Journal, filled.Bib.Conference, filled.Bib.Book, filled.Bib.Venue)
	filled.Filled = true
	return &filled, nil
}

// citations GETs /citations with params and parses the page.
func (c *ScholarClient) citations(ctx context.Context, params url.Values) (*goquery.Document, error) {
	var buf bytes.Buffer
	rb := requests.
		URL(c.baseURL + "/citations").
		Client(c.httpClient).
		UserAgent(c.userAgent)
	for k, v := range params {
		rb.Param(k, v...)
	}

	err := rb.
		AddValidator(checkStatus).
		ToBytesBuffer(&buf).
		Fetch(ctx)
	if err != nil {
		return nil, classify(err)
	}

	doc, err := goquery.NewDocumentFromReader(&buf)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing page: %v", ErrInvalidResponse, err)
	}
	if doc.Find(captchaSelector).Length() > 0 {
		return nil, fmt.Errorf("%w: captcha page", ErrBlocked)
	}
	return doc, nil
}

// checkStatus maps HTTP statuses to source errors.
func checkStatus(res *http.Response) error {
	switch {
	case res.StatusCode == http.StatusOK:
		return nil
	case res.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d", ErrBlocked, res.StatusCode)
	default:
		return &APIError{StatusCode: res.StatusCode, Message: http.StatusText(res.StatusCode)}
	}
}

// classify wraps transport failures in ErrNetwork and passes source errors through.
func classify(err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) || errors.Is(err, ErrBlocked) || errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrNetwork, err)
}

// JoinAuthors turns "A, B, C" into "A and B and C".
func JoinAuthors(s string) string {
	var names []string
	for _, name := range strings.Split(s, ",") {
		if name = strings.TrimSpace(name); name != "" && name != "..." {
			names = append(names, name)
		}
	}
	return strings.Join(names, " and ")
}

// clean collapses runs of whitespace.
func clean(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
