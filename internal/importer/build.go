package importer

import (
	"context"
	"io"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matsen/pubpreview/internal/bibfile"
	"github.com/matsen/pubpreview/internal/scholar"
	"github.com/matsen/pubpreview/internal/thumbnail"
)

// Options controls Build.
type Options struct {
	// Attacher, when set, stores a thumbnail for each publication with a page URL.
	Attacher *thumbnail.Attacher
	Log      *log.Logger
	// Now stamps fallback keys; defaults to time.Now.
	Now func() time.Time
}

// Build converts publications into a library sorted by year, newest first.
// Publications that share a key collapse to the last one, with a warning.
func Build(ctx context.Context, pubs []scholar.Publication, opts Options) *bibfile.Library {
	logger := opts.Log
	if logger == nil {
		logger = log.New(io.Discard)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	lib := &bibfile.Library{}
	for i := range pubs {
		pub := &pubs[i]
		_, e := Convert(pub, now())

		if opts.Attacher != nil {
			attachPreview(ctx, opts.Attacher, logger, e, pub.PageURL())
		}

		if old := lib.Put(e); old != nil {
			logger.Warnf("duplicate key %s: %q replaces %q", e.Key, e.Fields.Title(), old.Fields.Title())
		}
	}

	bibfile.SortByYear(lib.Entries)
	return lib
}

func attachPreview(ctx context.Context, a *thumbnail.Attacher, logger *log.Logger, e *bibfile.Entry, pageURL string) {
	elog := logger.WithPrefix(e.Key)
	if pageURL == "" {
		elog.Debug("no page url")
		return
	}

	preview, dest, err := a.Attach(ctx, e.Key, pageURL)
	if err != nil {
		elog.Debugf("no thumbnail: %v", err)
		return
	}
	e.Fields.SetPreview(preview)
	elog.Infof("saved %s", dest)
}
