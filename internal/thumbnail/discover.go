// Package thumbnail finds preview images on publication landing pages and
// stores them next to the bibliography.
package thumbnail

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/carlmjohnson/requests"
	"github.com/charmbracelet/log"

	"github.com/matsen/pubpreview/internal/config"
	"github.com/matsen/pubpreview/internal/pdf"
)

// DOIResolver turns a bare DOI into a landing page URL.
const DOIResolver = "https://doi.org/"

// MaxPageBytes is the default limit on how much of a landing page is read.
// Meta tags sit in the head, so a truncated page still yields its image.
const MaxPageBytes = 10 << 20

// ErrNoThumbnail is returned when a page has no usable preview image.
var ErrNoThumbnail = errors.New("no thumbnail found")

// Meta tags consulted, in priority order.
var (
	propertySelectors = []string{
		`meta[property="og:image"]`,
		`meta[property="twitter:image"]`,
		`meta[property="og:image:url"]`,
	}
	nameSelectors = []string{
		`meta[name="twitter:image"]`,
		`meta[name="image"]`,
	}
)

// Discoverer extracts preview image URLs from landing pages.
type Discoverer struct {
	Client    *http.Client
	UserAgent string
	Timeout   time.Duration
	// PropertyOnly skips the name="..." fallbacks.
	PropertyOnly bool
	// Resolver prefixes DOIs found in PDF landing pages.
	Resolver string
	// MaxBytes caps the bytes read per page; zero means MaxPageBytes.
	MaxBytes int64
	Log      *log.Logger
}

// NewDiscoverer returns a Discoverer with the configured user agent and page timeout.
func NewDiscoverer(cfg *config.Config, logger *log.Logger) *Discoverer {
	return &Discoverer{
		Client:    &http.Client{Timeout: cfg.PageTimeout},
		UserAgent: cfg.UserAgent,
		Timeout:   cfg.PageTimeout,
		Resolver:  DOIResolver,
		Log:       orDiscard(logger),
	}
}

// Discover fetches pageURL and returns the first preview image it advertises.
// Any failure, from transport errors to a page without meta tags, comes back
// as an error for logging; callers treat it as "no thumbnail".
func (d *Discoverer) Discover(ctx context.Context, pageURL string) (string, error) {
	return d.discover(ctx, pageURL, true)
}

func (d *Discoverer) discover(ctx context.Context, pageURL string, followPDF bool) (string, error) {
	body, contentType, err := d.fetch(ctx, pageURL)
	if err != nil {
		d.logger().Warnf("failed to fetch %s: %v", pageURL, err)
		return "", err
	}

	if pdf.IsPDF(contentType, body) {
		if !followPDF {
			return "", ErrNoThumbnail
		}
		return d.discoverFromPDF(ctx, pageURL, body)
	}

	thumb := ExtractImage(body, d.PropertyOnly)
	if thumb == "" {
		return "", ErrNoThumbnail
	}
	return thumb, nil
}

// discoverFromPDF looks for a DOI inside a PDF served as the landing page and
// tries the DOI's own landing page instead.
func (d *Discoverer) discoverFromPDF(ctx context.Context, pageURL string, body []byte) (string, error) {
	doi, err := pdf.ExtractDOI(body)
	if err != nil {
		d.logger().Debugf("reading pdf %s: %v", pageURL, err)
		return "", ErrNoThumbnail
	}
	if doi == "" {
		return "", ErrNoThumbnail
	}

	resolver := d.Resolver
	if resolver == "" {
		resolver = DOIResolver
	}
	d.logger().Debugf("%s is a pdf, trying doi %s", pageURL, doi)
	return d.discover(ctx, resolver+doi, false)
}

func (d *Discoverer) fetch(ctx context.Context, pageURL string) ([]byte, string, error) {
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	var buf bytes.Buffer
	var contentType string
	err := requests.
		URL(pageURL).
		Client(orDefaultClient(d.Client)).
		UserAgent(d.UserAgent).
		CheckStatus(http.StatusOK).
		AddValidator(func(res *http.Response) error {
			contentType = res.Header.Get("Content-Type")
			return nil
		}).
		Handle(func(res *http.Response) error {
			_, err := io.Copy(&buf, io.LimitReader(res.Body, d.maxBytes()))
			return err
		}).
		Fetch(ctx)
	if err != nil {
		return nil, "", err
	}
	return buf.Bytes(), contentType, nil
}

func (d *Discoverer) maxBytes() int64 {
	if d.MaxBytes > 0 {
		return d.MaxBytes
	}
	return MaxPageBytes
}

// ExtractImage returns the preview image advertised by an HTML document, or ""
// if none. og:image wins over twitter:image, which wins over og:image:url;
// unless propertyOnly is set, name="twitter:image" and name="image" follow.
func ExtractImage(html []byte, propertyOnly bool) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return ""
	}

	selectors := propertySelectors
	if !propertyOnly {
		selectors = append(append([]string{}, propertySelectors...), nameSelectors...)
	}

	for _, sel := range selectors {
		content, ok := doc.Find(sel).First().Attr("content")
		if !ok {
			continue
		}
		if content = strings.TrimSpace(content); content != "" {
			return content
		}
	}
	return ""
}

func (d *Discoverer) logger() *log.Logger { return orDiscard(d.Log) }

func orDefaultClient(c *http.Client) *http.Client {
	if c == nil {
		return http.DefaultClient
	}
	return c
}

func orDiscard(l *log.Logger) *log.Logger {
	if l == nil {
		return log.New(io.Discard)
	}
	return l
}
