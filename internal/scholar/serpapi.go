package scholar

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/carlmjohnson/requests"
	"github.com/tidwall/gjson"
)

const (
	// SerpAPIURL is the SerpAPI search endpoint.
	SerpAPIURL = "https://serpapi.com/search.json"

	// SerpAPIEngine is the engine serving Scholar author profiles.
	SerpAPIEngine = "google_scholar_author"
)

// SerpAPIClient reads Scholar profiles through SerpAPI.
type SerpAPIClient struct {
	options
	apiKey string
}

// NewSerpAPIClient creates a SerpAPI client authenticated with apiKey.
func NewSerpAPIClient(apiKey string, opts ...ClientOption) *SerpAPIClient {
	return &SerpAPIClient{
		options: newOptions(SerpAPIURL, opts),
		apiKey:  apiKey,
	}
}

// Author resolves a profile id and lists its publications.
func (c *SerpAPIClient) Author(ctx context.Context, userID string) (*Author, error) {
	author := &Author{ID: userID}

	seen := seenSet{}
	for page := 0; page < MaxPages; page++ {
		start := page * PageSize
		res, err := c.search(ctx, url.Values{
			"author_id": {userID},
			"hl":        {"en"},
			"start":     {strconv.Itoa(start)},
			"num":       {strconv.Itoa(PageSize)},
		})
		if err != nil {
			var apiErr *APIError
			// SerpAPI answers an unknown profile with an error payload.
			if start == 0 && errors.As(err, &apiErr) &&
				(apiErr.StatusCode == http.StatusOK || apiErr.StatusCode == http.StatusNotFound) {
				return nil, fmt.Errorf("%w: %s: %v", ErrAuthorNotFound, userID, err)
			}
			return nil, err
		}

		if start == 0 {
			author.Name = res.Get("author.name").String()
			if author.Name == "" {
				return nil, fmt.Errorf("%w: %s", ErrAuthorNotFound, userID)
			}
			author.Affiliation = res.Get("author.affiliations").String()
		}

		articles := res.Get("articles").Array()
		fresh := 0
		for _, a := range articles {
			title := a.Get("title").String()
			if title == "" {
				continue
			}
			pub := Publication{
				ID: a.Get("citation_id").String(),
				Bib: Bib{
					Title:   title,
					Author:  a.Get("authors").String(),
					Venue:   trailingYear.ReplaceAllString(a.Get("publication").String(), ""),
					PubYear: a.Get("year").String(),
				},
			}
			if seen.add(pub) {
				author.Publications = append(author.Publications, pub)
				fresh++
			}
		}
		if len(articles) < PageSize || fresh == 0 {
			break
		}
	}

	return author, nil
}

// Fill reads the publication's citation view and returns a filled copy.
func (c *SerpAPIClient) Fill(ctx context.Context, pub *Publication) (*Publication, error) {
	if pub.ID == "" {
		return nil, fmt.Errorf("%w: publication %q has no id", ErrInvalidResponse, pub.Bib.Title)
	}

	res, err := c.search(ctx, url.Values{
		"view_op":     {"view_citation"},
		"citation_id": {pub.ID},
		"hl":          {"en"},
	})
	if err != nil {
		return nil, err
	}

	cit := res.Get("citation")
	if !cit.Exists() {
		return nil, fmt.Errorf("%w: no citation for %s", ErrInvalidResponse, pub.ID)
	}

	filled := *pub
	b := &filled.Bib
	set := func(dst *string, path string) {
		if v := cit.Get(path).String(); v != "" {
			*dst = v
		}
	}
	set(&b.Title, "title")
	set(&b.Journal, "journal")
	set(&b.Conference, "conference")
	set(&b.Book, "book")
	set(&b.Volume, "volume")
	set(&b.Number, "issue")
	set(&b.Pages, "pages")
	set(&b.Publisher, "publisher")
	set(&b.Abstract, "description")
	set(&filled.PubURL, "link")
	set(&filled.EprintURL, "resources.0.link")

	if authors := JoinAuthors(cit.Get("authors").String()); authors != "" {
		b.Author = authors
	}
	if y := yearPattern.FindString(cit.Get("publication_date").String()); y != "" {
		b.PubYear = y
	}
	b.Venue = firstNonEmpty(b.Journal, b.Conference, b.Book, b.Venue)
	filled.Filled = true
	return &filled, nil
}

// search runs one SerpAPI query. Error payloads come back as JSON with an
// "error" field, so the body is read whatever the status.
func (c *SerpAPIClient) search(ctx context.Context, params url.Values) (gjson.Result, error) {
	var buf bytes.Buffer
	var status int
	rb := requests.
		URL(c.baseURL).
		Client(c.httpClient).
		UserAgent(c.userAgent).
		Param("engine", SerpAPIEngine).
		Param("api_key", c.apiKey)
	for k, v := range params {
		rb.Param(k, v...)
	}

	err := rb.
		AddValidator(func(res *http.Response) error {
			status = res.StatusCode
			return nil
		}).
		ToBytesBuffer(&buf).
		Fetch(ctx)
	if err != nil {
		return gjson.Result{}, classify(err)
	}

	if !gjson.ValidBytes(buf.Bytes()) {
		if status != http.StatusOK {
			return gjson.Result{}, &APIError{StatusCode: status, Message: http.StatusText(status)}
		}
		return gjson.Result{}, fmt.Errorf("%w: body is not JSON", ErrInvalidResponse)
	}

	res := gjson.ParseBytes(buf.Bytes())
	if msg := res.Get("error").String(); msg != "" || status != http.StatusOK {
		if msg == "" {
			msg = http.StatusText(status)
		}
		if status == http.StatusTooManyRequests {
			return gjson.Result{}, fmt.Errorf("%w: %s", ErrBlocked, msg)
		}
		return gjson.Result{}, &APIError{StatusCode: status, Message: msg}
	}
	return res, nil
}
