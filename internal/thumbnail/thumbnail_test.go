package thumbnail

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/matsen/pubpreview/internal/bibfile"
	"github.com/matsen/pubpreview/internal/config"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\nfake-image-data")

// newSite serves landing pages and images, counting every request.
func newSite(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	mux := http.NewServeMux()
	page := func(path, head string) {
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			fmt.Fprintf(w, "<!doctype html><html><head>%s</head><body>hi</body></html>", head)
		})
	}

	page("/both", `<meta property="twitter:image" content="https://cdn.example.com/tw.jpg">
		<meta property="og:image" content="  https://cdn.example.com/og.png  ">`)
	page("/name-only", `<meta name="image" content="https://cdn.example.com/name.gif">`)
	page("/twitter-name", `<meta name="twitter:image" content="https://cdn.example.com/tn.jpg">
		<meta name="image" content="https://cdn.example.com/name.gif">`)
	page("/empty-og", `<meta property="og:image" content="   ">
		<meta property="og:image:url" content="https://cdn.example.com/url.jpg">`)
	page("/none", `<title>nothing</title>`)
	mux.HandleFunc("/gone", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	})
	mux.HandleFunc("/redirected", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/both", http.StatusFound)
	})
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	})
	mux.HandleFunc("/paper.pdf", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.Write([]byte("%PDF-1.4 truncated"))
	})
	mux.HandleFunc("/img.png", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(pngBytes)
	})
	mux.HandleFunc("/missing.png", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if ua := r.Header.Get("User-Agent"); ua != config.UserAgent {
			http.Error(w, "bad agent "+ua, http.StatusForbidden)
			return
		}
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.PageTimeout = time.Second
	cfg.ImageTimeout = time.Second
	return cfg
}

func TestDiscover(t *testing.T) {
	srv, _ := newSite(t)
	d := NewDiscoverer(testConfig(), nil)

	tests := []struct {
		path    string
		want    string
		wantErr bool
	}{
		{"/both", "https://cdn.example.com/og.png", false},
		{"/name-only", "https://cdn.example.com/name.gif", false},
		{"/twitter-name", "https://cdn.example.com/tn.jpg", false},
		{"/empty-og", "https://cdn.example.com/url.jpg", false},
		{"/redirected", "https://cdn.example.com/og.png", false},
		{"/none", "", true},
		{"/gone", "", true},
		{"/slow", "", true},
		{"/paper.pdf", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := d.Discover(context.Background(), srv.URL+tt.path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Discover() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Discover() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDiscover_PropertyOnly(t *testing.T) {
	srv, _ := newSite(t)
	d := NewDiscoverer(testConfig(), nil)
	d.PropertyOnly = true

	if got, err := d.Discover(context.Background(), srv.URL+"/name-only"); !errors.Is(err, ErrNoThumbnail) || got != "" {
		t.Errorf("Discover(name-only) = %q, %v; want ErrNoThumbnail", got, err)
	}
	if got, _ := d.Discover(context.Background(), srv.URL+"/both"); got != "https://cdn.example.com/og.png" {
		t.Errorf("Discover(both) = %q", got)
	}
}

func TestDiscover_BodyLimit(t *testing.T) {
	filler := strings.Repeat("<!-- padding -->", 1024)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		switch r.URL.Path {
		case "/early":
			fmt.Fprintf(w, `<html><head><meta property="og:image" content="https://cdn.example.com/early.png">%s</head></html>`, filler)
		case "/late":
			fmt.Fprintf(w, `<html><head>%s<meta property="og:image" content="https://cdn.example.com/late.png"></head></html>`, filler)
		}
	}))
	defer srv.Close()

	d := NewDiscoverer(testConfig(), nil)
	d.MaxBytes = 1024

	if got, err := d.Discover(context.Background(), srv.URL+"/early"); err != nil || got != "https://cdn.example.com/early.png" {
		t.Errorf("Discover(early) = %q, %v", got, err)
	}
	if got, err := d.Discover(context.Background(), srv.URL+"/late"); !errors.Is(err, ErrNoThumbnail) {
		t.Errorf("Discover(late) = %q, %v; want the tag past the limit ignored", got, err)
	}

	d.MaxBytes = 0
	if got, _ := d.Discover(context.Background(), srv.URL+"/late"); got != "https://cdn.example.com/late.png" {
		t.Errorf("Discover(late) with default limit = %q", got)
	}
}

func TestDiscover_Unreachable(t *testing.T) {
	d := NewDiscoverer(testConfig(), nil)
	if _, err := d.Discover(context.Background(), "http://127.0.0.1:1/nothing"); err == nil {
		t.Error("Discover(unreachable) expected error")
	}
	if _, err := d.Discover(context.Background(), "::not a url"); err == nil {
		t.Error("Discover(malformed) expected error")
	}
}

func TestExtractImage(t *testing.T) {
	html := []byte(`<html><head>
		<meta property="twitter:image" content="b">
		<meta property="og:image" content="a">
	</head></html>`)
	if got := ExtractImage(html, false); got != "a" {
		t.Errorf("ExtractImage() = %q, want og:image value", got)
	}
	if got := ExtractImage([]byte("plain text"), false); got != "" {
		t.Errorf("ExtractImage(text) = %q, want empty", got)
	}
}

func TestDownload(t *testing.T) {
	srv, _ := newSite(t)
	f := NewFetcher(testConfig())
	dir := t.TempDir()

	dest := filepath.Join(dir, "k.png")
	if err := os.WriteFile(dest, []byte("old"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := f.Download(context.Background(), srv.URL+"/img.png", dest); err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(pngBytes) {
		t.Errorf("downloaded %q, want %q", got, pngBytes)
	}

	missing := filepath.Join(dir, "m.png")
	if err := f.Download(context.Background(), srv.URL+"/missing.png", missing); err == nil {
		t.Error("Download(404) expected error")
	}
	if _, err := os.Stat(missing); !os.IsNotExist(err) {
		t.Errorf("failed download left a file: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestExt(t *testing.T) {
	tests := []struct {
		url       string
		wantGuess string
		wantPath  string
	}{
		{"https://x.org/a/thumb.PNG", ".png", ".PNG"},
		{"https://x.org/a/anim.gif?w=200", ".gif", ".gif"},
		{"https://x.org/a/photo.jpeg", ".jpg", ".jpeg"},
		{"https://x.org/render?fmt=.png", ".png", ".jpg"},
		{"https://x.org/a/b/noext", ".jpg", ".jpg"},
		{"https://x.org/img.webp?v=2", ".jpg", ".webp"},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			if got := GuessExt(tt.url); got != tt.wantGuess {
				t.Errorf("GuessExt() = %q, want %q", got, tt.wantGuess)
			}
			if got := PathExt(tt.url); got != tt.wantPath {
				t.Errorf("PathExt() = %q, want %q", got, tt.wantPath)
			}
		})
	}
}

func TestNormalizeDOI(t *testing.T) {
	if got := NormalizeDOI("10.1000/xyz"); got != "https://doi.org/10.1000/xyz" {
		t.Errorf("NormalizeDOI(doi) = %q", got)
	}
	if got := NormalizeDOI("https://example.com"); got != "https://example.com" {
		t.Errorf("NormalizeDOI(url) = %q", got)
	}
}

// imageSite serves a landing page whose og:image points back at itself.
func imageSite(t *testing.T, imagePath string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch {
		case strings.HasPrefix(r.URL.Path, "/page"):
			fmt.Fprintf(w, `<html><head><meta property="og:image" content="%s%s"></head></html>`, srv.URL, imagePath)
		case r.URL.Path == "/ok.png":
			w.Write(pngBytes)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func newAttacher(t *testing.T) *Attacher {
	t.Helper()
	cfg := testConfig()
	a := &Attacher{
		Finder:     NewDiscoverer(cfg, nil),
		Downloader: NewFetcher(cfg),
		AssetsDir:  filepath.Join(t.TempDir(), "assets", "img", "pub_preview"),
		Prefix:     "pub_preview",
		Ext:        GuessExt,
	}
	if err := a.EnsureAssetsDir(); err != nil {
		t.Fatal(err)
	}
	return a
}

func TestEnrich(t *testing.T) {
	srv, hits := imageSite(t, "/ok.png")
	a := newAttacher(t)

	lib := &bibfile.Library{}
	noLink := bibfile.NewEntry("article", "nolink")
	noLink.Fields.Set("title", "No link")
	has := bibfile.NewEntry("article", "has")
	has.Fields.Set("url", srv.URL+"/page/has")
	has.Fields.SetPreview("pub_preview/custom.jpg")
	fresh := bibfile.NewEntry("article", "fresh")
	fresh.Fields.Set("url", srv.URL+"/page/fresh")
	lib.Entries = []*bibfile.Entry{noLink, has, fresh}

	stats := a.Enrich(context.Background(), lib)

	if stats.Added != 1 || stats.Skipped != 2 || stats.Failed != 0 {
		t.Errorf("Enrich() stats = %+v", stats)
	}
	if len(noLink.Fields) != 1 || noLink.Fields.Preview() != "" {
		t.Errorf("entry without link modified: %v", noLink.Fields)
	}
	if got := has.Fields.Preview(); got != "pub_preview/custom.jpg" {
		t.Errorf("existing preview changed to %q", got)
	}
	if got := fresh.Fields.Preview(); got != "pub_preview/fresh.png" {
		t.Errorf("fresh preview = %q, want pub_preview/fresh.png", got)
	}
	if _, err := os.Stat(filepath.Join(a.AssetsDir, "fresh.png")); err != nil {
		t.Errorf("thumbnail not stored: %v", err)
	}
	// One page fetch plus one image fetch, all for the fresh entry.
	if n := hits.Load(); n != 2 {
		t.Errorf("server saw %d requests, want 2", n)
	}
}

func TestEnrich_FailedDownloadContinues(t *testing.T) {
	srv, _ := imageSite(t, "/broken.png")
	a := newAttacher(t)

	first := bibfile.NewEntry("article", "first")
	first.Fields.Set("url", srv.URL+"/page/first")
	second := bibfile.NewEntry("article", "second")
	second.Fields.Set("url", srv.URL+"/page/second")
	lib := &bibfile.Library{Entries: []*bibfile.Entry{first, second}}

	stats := a.Enrich(context.Background(), lib)
	if stats.Failed != 2 {
		t.Errorf("Failed = %d, want 2", stats.Failed)
	}
	for _, e := range lib.Entries {
		if e.Fields.Preview() != "" {
			t.Errorf("%s: preview set after failed download", e.Key)
		}
	}
	if _, err := os.Stat(filepath.Join(a.AssetsDir, "first.png")); !os.IsNotExist(err) {
		t.Errorf("failed download left a file: %v", err)
	}
}

type stubFinder struct{ thumb string }

func (s stubFinder) Discover(ctx context.Context, pageURL string) (string, error) {
	return s.thumb, nil
}

type recordingDownloader struct{ urls, dests []string }

func (r *recordingDownloader) Download(ctx context.Context, imageURL, dest string) error {
	r.urls = append(r.urls, imageURL)
	r.dests = append(r.dests, dest)
	return nil
}

func TestEnrich_DOIBecomesURL(t *testing.T) {
	var pages []string
	finder := finderFunc(func(ctx context.Context, pageURL string) (string, error) {
		pages = append(pages, pageURL)
		return "https://cdn.example.com/t.gif", nil
	})
	dl := &recordingDownloader{}
	a := &Attacher{Finder: finder, Downloader: dl, AssetsDir: "assets", Prefix: "pub_preview"}

	e := bibfile.NewEntry("article", "d1")
	e.Fields.Set("doi", "10.1234/abcd")
	a.Enrich(context.Background(), &bibfile.Library{Entries: []*bibfile.Entry{e}})

	if len(pages) != 1 || pages[0] != "https://doi.org/10.1234/abcd" {
		t.Errorf("discovered pages = %v", pages)
	}
	if len(dl.dests) != 1 || dl.dests[0] != filepath.Join("assets", "d1.gif") {
		t.Errorf("download dests = %v", dl.dests)
	}
	if got := e.Fields.Preview(); got != "pub_preview/d1.gif" {
		t.Errorf("preview = %q", got)
	}
}

func TestAttach_PathExtAndPrefix(t *testing.T) {
	dl := &recordingDownloader{}
	a := &Attacher{
		Finder:     stubFinder{thumb: "https://cdn.example.com/a/b.webp?x=1"},
		Downloader: dl,
		AssetsDir:  filepath.Join("assets", "img", "pub_preview"),
		Prefix:     "assets/img/pub_preview",
		Ext:        PathExt,
	}
	preview, _, err := a.Attach(context.Background(), "key1", "https://example.com")
	if err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	if preview != "assets/img/pub_preview/key1.webp" {
		t.Errorf("preview = %q", preview)
	}
	if dl.urls[0] != "https://cdn.example.com/a/b.webp?x=1" {
		t.Errorf("downloaded %q", dl.urls[0])
	}
}

type finderFunc func(ctx context.Context, pageURL string) (string, error)

func (f finderFunc) Discover(ctx context.Context, pageURL string) (string, error) {
	return f(ctx, pageURL)
}
