package scholar

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/matsen/pubpreview/internal/config"
)

// Source is a backend that lists and fills an author's publications.
type Source interface {
	Author(ctx context.Context, userID string) (*Author, error)
	Fill(ctx context.Context, pub *Publication) (*Publication, error)
}

// NewSource returns the SerpAPI backend when serpAPIKey is set, otherwise
// the scraping backend.
func NewSource(cfg *config.Config, serpAPIKey string, opts ...ClientOption) Source {
	base := []ClientOption{
		WithHTTPClient(&http.Client{Timeout: cfg.PageTimeout}),
		WithUserAgent(cfg.UserAgent),
	}
	if serpAPIKey != "" {
		base = append(base, WithBaseURL(cfg.SerpAPIURL))
		return NewSerpAPIClient(serpAPIKey, append(base, opts...)...)
	}
	base = append(base, WithBaseURL(cfg.ScholarURL))
	return NewScholarClient(append(base, opts...)...)
}

// FetchOptions controls Fetch.
type FetchOptions struct {
	// Max limits how many publications are filled; 0 means all.
	Max int
	// Delay spaces out detail requests.
	Delay time.Duration
	Log   *log.Logger
}

// Fetch resolves userID and fills its publications in list order. A failure
// to resolve the author is returned; a publication that cannot be filled is
// logged and left out.
func Fetch(ctx context.Context, src Source, userID string, opts FetchOptions) ([]Publication, error) {
	logger := opts.Log
	if logger == nil {
		logger = log.New(io.Discard)
	}

	author, err := src.Author(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("fetching author %s: %w", userID, err)
	}
	logger.Debugf("author %s has %d publications", author.Name, len(author.Publications))

	pubs := author.Publications
	if opts.Max > 0 && len(pubs) > opts.Max {
		pubs = pubs[:opts.Max]
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.Delay > 0 {
		limiter = rate.NewLimiter(rate.Every(opts.Delay), 1)
	}

	filled := make([]Publication, 0, len(pubs))
	for i := range pubs {
		if err := limiter.Wait(ctx); err != nil {
			return nil, err
		}
		p, err := src.Fill(ctx, &pubs[i])
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.Warnf("failed to fill publication %s: %v", pubs[i].Bib.Title, err)
			continue
		}
		filled = append(filled, *p)
	}
	return filled, nil
}
