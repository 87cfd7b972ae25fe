// Package main provides the fetch-scholar CLI entry point.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/matsen/pubpreview/internal/bibfile"
	"github.com/matsen/pubpreview/internal/config"
	"github.com/matsen/pubpreview/internal/importer"
	"github.com/matsen/pubpreview/internal/scholar"
	"github.com/matsen/pubpreview/internal/thumbnail"
)

// Version is set at build time via ldflags
var Version = "dev"

// DiscoverTimeout bounds each landing page fetch when looking for thumbnails.
const DiscoverTimeout = 15 * time.Second

var (
	userID     string
	maxPubs    int
	thumbnails bool
	serpAPIKey string
	bibPath    string
	assetsDir  string
	timeout    time.Duration
	configPath string
	verbose    bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		// Print the error since we have SilenceErrors: true
		// This ensures Cobra errors (like missing required flags) are visible
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		stop()
		os.Exit(exitCode(err))
	}
}

var rootCmd = &cobra.Command{
	Use:   "fetch-scholar",
	Short: "Regenerate the bibliography from a Google Scholar profile",
	Long: `fetch-scholar reads a researcher's Google Scholar publication list,
converts every publication to BibTeX, and rewrites the bibliography file
newest first. The previous file is kept as papers.bak.<timestamp>.bib.

With a SerpAPI key the profile is read through SerpAPI; otherwise the public
profile pages are scraped, which Scholar may rate limit.

Environment Variables:
  SERPAPI_API_KEY  SerpAPI key (optional, also read from .env)`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runFetchScholar,
}

func init() {
	// Load .env file if present (for SERPAPI_API_KEY)
	_ = godotenv.Load()

	d := config.Default()
	rootCmd.Flags().StringVar(&userID, "user", "", "Google Scholar user id, e.g. mo4TKqkAAAAJ")
	rootCmd.Flags().IntVar(&maxPubs, "max", 0, "Max publications to fetch (0 for all)")
	rootCmd.Flags().BoolVar(&thumbnails, "thumbnails", false, "Fetch preview images and save them locally")
	rootCmd.Flags().StringVar(&serpAPIKey, "serpapi-key", "", "SerpAPI key (default $"+config.SerpAPIKeyEnv+")")
	rootCmd.Flags().StringVar(&bibPath, "bib", d.BibPath, "Bibliography file to write")
	rootCmd.Flags().StringVar(&assetsDir, "assets", d.AssetsDir, "Directory to store thumbnails in")
	rootCmd.Flags().DurationVar(&timeout, "timeout", DiscoverTimeout, "Timeout for each thumbnail page request")
	rootCmd.Flags().StringVar(&configPath, "config", "", "Config file (default ./"+config.LocalConfigFile+" or the global config)")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log debug output")
	_ = rootCmd.MarkFlagRequired("user")
	rootCmd.Version = Version
}

func runFetchScholar(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return withCode(ExitConfigError, err)
	}
	if maxPubs < 0 {
		return withCode(ExitConfigError, fmt.Errorf("--max must not be negative, got %d", maxPubs))
	}
	logger := newLogger(cmd.OutOrStdout(), verbose)
	ctx := cmd.Context()

	for _, dir := range []string{cfg.AssetsDir, filepath.Dir(cfg.BibPath)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	key := cfg.ResolveSerpAPIKey(serpAPIKey)
	src := scholar.NewSource(cfg, key)
	if key != "" {
		logger.Info("Using SerpAPI")
	}

	backup, err := bibfile.Backup(cfg.BibPath, time.Now())
	if err != nil {
		return err
	}
	if backup != "" {
		logger.Infof("Backed up existing bib to: %s", backup)
	}

	logger.Info("Fetching author and publications...")
	pubs, err := scholar.Fetch(ctx, src, userID, scholar.FetchOptions{
		Max:   maxPubs,
		Delay: cfg.PoliteDelay,
		Log:   logger,
	})
	if err != nil {
		return withCode(ExitSourceError, err)
	}
	logger.Infof("Fetched %d publications.", len(pubs))

	opts := importer.Options{Log: logger}
	if thumbnails {
		opts.Attacher = newAttacher(cfg, logger)
	}
	lib := importer.Build(ctx, pubs, opts)

	if err := lib.WriteFile(cfg.BibPath); err != nil {
		return err
	}
	logger.Infof("Wrote %d entries to %s", lib.Len(), cfg.BibPath)
	return nil
}

// newAttacher stores thumbnails under the assets directory and records
// that same path in the preview field. Only property meta tags are read.
func newAttacher(cfg *config.Config, logger *log.Logger) *thumbnail.Attacher {
	pageCfg := *cfg
	pageCfg.PageTimeout = timeout

	finder := thumbnail.NewDiscoverer(&pageCfg, logger)
	finder.PropertyOnly = true

	return &thumbnail.Attacher{
		Finder:     finder,
		Downloader: thumbnail.NewFetcher(cfg),
		AssetsDir:  cfg.AssetsDir,
		Prefix:     filepath.ToSlash(cfg.AssetsDir),
		Ext:        thumbnail.PathExt,
		Log:        logger,
	}
}

// loadConfig reads the config file and overlays the flags that were set.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(config.ExpandTilde(configPath))
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("bib") {
		cfg.BibPath = config.ExpandTilde(bibPath)
	}
	if flags.Changed("assets") {
		cfg.AssetsDir = config.ExpandTilde(assetsDir)
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("--timeout must be positive, got %s", timeout)
	}
	return cfg, nil
}

func newLogger(w io.Writer, verbose bool) *log.Logger {
	level := log.InfoLevel
	if verbose {
		level = log.DebugLevel
	}
	return log.NewWithOptions(w, log.Options{Level: level})
}
