// Package main provides the add-previews CLI entry point.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/matsen/pubpreview/internal/bibfile"
	"github.com/matsen/pubpreview/internal/config"
	"github.com/matsen/pubpreview/internal/thumbnail"
)

// Version is set at build time via ldflags
var Version = "dev"

var (
	bibPath    string
	assetsDir  string
	prefix     string
	timeout    time.Duration
	configPath string
	verbose    bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		// Print the error since we have SilenceErrors: true
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		stop()
		os.Exit(exitCode(err))
	}
}

var rootCmd = &cobra.Command{
	Use:   "add-previews",
	Short: "Add preview thumbnails to bibliography entries",
	Long: `add-previews walks a BibTeX bibliography and, for every entry with a url
or doi but no preview field, fetches the landing page, downloads the image
it advertises (og:image, twitter:image, ...) and records its path in a
preview field.

The metadata block between --- lines at the top of the file is kept as is.
Entries that already have a preview are never re-fetched.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runAddPreviews,
}

func init() {
	d := config.Default()
	rootCmd.Flags().StringVar(&bibPath, "bib", d.BibPath, "Bibliography file to update")
	rootCmd.Flags().StringVar(&assetsDir, "assets", d.AssetsDir, "Directory to store thumbnails in")
	rootCmd.Flags().StringVar(&prefix, "prefix", d.PreviewPrefix, "Prefix of the preview field value")
	rootCmd.Flags().DurationVar(&timeout, "timeout", d.PageTimeout, "Timeout for each page and image request")
	rootCmd.Flags().StringVar(&configPath, "config", "", "Config file (default ./"+config.LocalConfigFile+" or the global config)")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log debug output")
	rootCmd.Version = Version
}

func runAddPreviews(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return withCode(ExitConfigError, err)
	}
	logger := newLogger(cmd.OutOrStdout(), verbose)

	a := &thumbnail.Attacher{
		Finder:     thumbnail.NewDiscoverer(cfg, logger),
		Downloader: thumbnail.NewFetcher(cfg),
		AssetsDir:  cfg.AssetsDir,
		Prefix:     cfg.PreviewPrefix,
		Ext:        thumbnail.GuessExt,
		Log:        logger,
	}
	if err := a.EnsureAssetsDir(); err != nil {
		return err
	}

	lib, err := bibfile.ReadFile(cfg.BibPath)
	if err != nil {
		return err
	}
	logger.Infof("Found %d entries", lib.Len())

	stats := a.Enrich(cmd.Context(), lib)
	logger.Debugf("%d added, %d skipped, %d failed", stats.Added, stats.Skipped, stats.Failed)

	if err := lib.WriteFile(cfg.BibPath); err != nil {
		return err
	}
	logger.Infof("Updated %s", cfg.BibPath)
	return nil
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
	if flags.Changed("prefix") {
		cfg.PreviewPrefix = prefix
	}
	if flags.Changed("timeout") {
		if timeout <= 0 {
			return nil, fmt.Errorf("--timeout must be positive, got %s", timeout)
		}
		cfg.PageTimeout = timeout
		cfg.ImageTimeout = timeout
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
