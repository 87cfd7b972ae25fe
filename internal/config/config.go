// Package config holds the paths, timeouts, and credentials shared by both tools.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// UserAgent identifies every outbound request as a desktop browser.
const UserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119 Safari/537.36"

// SerpAPIKeyEnv names the environment variable holding the SerpAPI key.
const SerpAPIKeyEnv = "SERPAPI_API_KEY"

const (
	// LocalConfigFile is looked up in the working directory.
	LocalConfigFile = ".pubpreview.yml"
	// GlobalConfigDir is the directory name under XDG_CONFIG_HOME.
	GlobalConfigDir = "pubpreview"
	// GlobalConfigFile is the config file name.
	GlobalConfigFile = "config.yml"
)

// Config collects the settings of a run. Zero-valued fields in a config file
// leave the defaults in place.
type Config struct {
	// BibPath is the bibliography file to rewrite.
	BibPath string `yaml:"bib_path,omitempty"`
	// AssetsDir is where thumbnails are stored.
	AssetsDir string `yaml:"assets_dir,omitempty"`
	// PreviewPrefix prefixes the preview field written by add-previews.
	PreviewPrefix string `yaml:"preview_prefix,omitempty"`
	UserAgent     string `yaml:"user_agent,omitempty"`

	PageTimeout  time.Duration `yaml:"page_timeout,omitempty"`
	ImageTimeout time.Duration `yaml:"image_timeout,omitempty"`
	// PoliteDelay spaces out publication detail requests.
	PoliteDelay time.Duration `yaml:"polite_delay,omitempty"`

	// SerpAPIKey selects the SerpAPI backend when set.
	SerpAPIKey string `yaml:"serpapi_key,omitempty"`
	ScholarURL string `yaml:"scholar_url,omitempty"`
	SerpAPIURL string `yaml:"serpapi_url,omitempty"`
}

// Default returns the settings used when nothing is configured.
func Default() *Config {
	return &Config{
		BibPath:       filepath.Join("_bibliography", "papers.bib"),
		AssetsDir:     filepath.Join("assets", "img", "pub_preview"),
		PreviewPrefix: "pub_preview",
		UserAgent:     UserAgent,
		PageTimeout:   20 * time.Second,
		ImageTimeout:  20 * time.Second,
		PoliteDelay:   500 * time.Millisecond,
		ScholarURL:    "https://scholar.google.com",
		SerpAPIURL:    "https://serpapi.com/search.json",
	}
}

// Load returns the defaults overlaid with the first config file found.
// An explicit path must exist; otherwise ./.pubpreview.yml and then the
// global config are tried, and a missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	candidates := []string{path}
	if path == "" {
		candidates = []string{LocalConfigFile, GlobalConfigPath()}
	}

	for _, p := range candidates {
		if p == "" {
			continue
		}
		err := cfg.merge(p)
		if err == nil {
			return cfg, nil
		}
		if errors.Is(err, os.ErrNotExist) && path == "" {
			continue
		}
		return nil, err
	}
	return cfg, nil
}

// merge overlays the YAML file at path onto c.
func (c *Config) merge(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}

	var file Config
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}

	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	setDur := func(dst *time.Duration, v time.Duration) {
		if v > 0 {
			*dst = v
		}
	}
	set(&c.BibPath, ExpandTilde(file.BibPath))
	set(&c.AssetsDir, ExpandTilde(file.AssetsDir))
	set(&c.PreviewPrefix, file.PreviewPrefix)
	set(&c.UserAgent, file.UserAgent)
	set(&c.SerpAPIKey, file.SerpAPIKey)
	set(&c.ScholarURL, strings.TrimRight(file.ScholarURL, "/"))
	set(&c.SerpAPIURL, file.SerpAPIURL)
	setDur(&c.PageTimeout, file.PageTimeout)
	setDur(&c.ImageTimeout, file.ImageTimeout)
	setDur(&c.PoliteDelay, file.PoliteDelay)
	return nil
}

// ResolveSerpAPIKey picks the SerpAPI key: an explicit flag value, then the
// environment, then the config file.
func (c *Config) ResolveSerpAPIKey(flag string) string {
	if k := strings.TrimSpace(flag); k != "" {
		return k
	}
	if k := strings.TrimSpace(os.Getenv(SerpAPIKeyEnv)); k != "" {
		return k
	}
	return strings.TrimSpace(c.SerpAPIKey)
}

// ExpandTilde replaces a leading ~ with the user's home directory.
func ExpandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
