package thumbnail

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/carlmjohnson/requests"

	"github.com/matsen/pubpreview/internal/config"
)

// ChunkSize is the copy buffer size for image downloads.
const ChunkSize = 8192

// Fetcher downloads images to local files.
type Fetcher struct {
	Client    *http.Client
	UserAgent string
	Timeout   time.Duration
}

// NewFetcher returns a Fetcher with the configured user agent and image timeout.
func NewFetcher(cfg *config.Config) *Fetcher {
	return &Fetcher{
		Client:    &http.Client{Timeout: cfg.ImageTimeout},
		UserAgent: cfg.UserAgent,
		Timeout:   cfg.ImageTimeout,
	}
}

// Download streams imageURL into dest, replacing any existing file.
// The body is written to a temporary file in dest's directory and renamed
// into place only once complete, so a failure never leaves a partial image.
// The bytes are not checked to be an image.
func (f *Fetcher) Download(ctx context.Context, imageURL, dest string) error {
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}

	return requests.
		URL(imageURL).
		Client(orDefaultClient(f.Client)).
		UserAgent(f.UserAgent).
		CheckStatus(http.StatusOK).
		Handle(func(res *http.Response) error {
			return writeFileAtomic(dest, res.Body)
		}).
		Fetch(ctx)
}

// writeFileAtomic copies r into path via a temp file and rename.
func writeFileAtomic(path string, r io.Reader) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := io.CopyBuffer(tmp, r, make([]byte, ChunkSize)); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing %s: %w", tmpName, err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("setting mode on %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}
