package thumbnail

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/matsen/pubpreview/internal/bibfile"
)

// ErrDownload marks a thumbnail that was found but could not be stored.
var ErrDownload = errors.New("could not download")

// Finder locates a preview image for a landing page.
type Finder interface {
	Discover(ctx context.Context, pageURL string) (string, error)
}

// Downloader stores an image at a local path.
type Downloader interface {
	Download(ctx context.Context, imageURL, dest string) error
}

// Attacher discovers, downloads, and records thumbnails for entries.
type Attacher struct {
	Finder     Finder
	Downloader Downloader
	// AssetsDir receives one image per entry, named after its key.
	AssetsDir string
	// Prefix is joined with the file name to form the preview field.
	Prefix string
	// Ext picks the file extension from the image URL.
	Ext func(imageURL string) string
	Log *log.Logger
}

// EnsureAssetsDir creates the thumbnail directory.
func (a *Attacher) EnsureAssetsDir() error {
	if err := os.MkdirAll(a.AssetsDir, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", a.AssetsDir, err)
	}
	return nil
}

// Attach stores a thumbnail for pageURL as <AssetsDir>/<key><ext> and returns
// the preview path to record. Discovery failures are returned as is; storage
// failures wrap ErrDownload.
func (a *Attacher) Attach(ctx context.Context, key, pageURL string) (preview, dest string, err error) {
	thumb, err := a.Finder.Discover(ctx, pageURL)
	if err != nil {
		return "", "", err
	}

	ext := GuessExt
	if a.Ext != nil {
		ext = a.Ext
	}
	name := key + ext(thumb)
	dest = filepath.Join(a.AssetsDir, name)

	if err := a.Downloader.Download(ctx, thumb, dest); err != nil {
		return "", "", fmt.Errorf("%w %s: %v", ErrDownload, thumb, err)
	}
	return path.Join(filepath.ToSlash(a.Prefix), name), dest, nil
}

// Stats counts what Enrich did.
type Stats struct {
	Added   int
	Skipped int
	Failed  int
}

// Enrich adds a preview field to every entry of lib that has a url or doi and
// no preview yet. Failures are logged per entry and never stop the run.
func (a *Attacher) Enrich(ctx context.Context, lib *bibfile.Library) Stats {
	logger := orDiscard(a.Log)
	var stats Stats

	for _, e := range lib.Entries {
		key := e.Key
		if key == "" {
			key = "unknown"
		}
		elog := logger.WithPrefix(key)

		pageURL := e.Fields.URL()
		if pageURL == "" {
			pageURL = e.Fields.DOI()
		}
		if pageURL == "" {
			elog.Info("[skip] no url/doi")
			stats.Skipped++
			continue
		}
		if e.Fields.Preview() != "" {
			elog.Info("[skip] already has preview")
			stats.Skipped++
			continue
		}
		pageURL = NormalizeDOI(pageURL)

		elog.Infof("[process] %s", pageURL)
		preview, dest, err := a.Attach(ctx, key, pageURL)
		switch {
		case errors.Is(err, ErrDownload):
			elog.Warnf("[fail] %v", err)
			stats.Failed++
		case err != nil:
			elog.Info("[skip] no thumbnail found")
			stats.Skipped++
		default:
			e.Fields.SetPreview(preview)
			elog.Infof("[ok] saved to %s, added preview=%s", dest, preview)
			stats.Added++
		}
	}
	return stats
}

// NormalizeDOI turns a bare DOI into a doi.org URL and leaves anything else alone.
func NormalizeDOI(s string) string {
	if strings.HasPrefix(s, "10.") {
		return DOIResolver + s
	}
	return s
}
