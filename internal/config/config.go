// Package config loads and validates converter configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/JakeFAU/docs2pdf/internal/convert"
	"github.com/JakeFAU/docs2pdf/internal/storage"
)

// EnvPrefix prefixes environment overrides, e.g. DOCS2PDF_CONCURRENCY.
const EnvPrefix = "DOCS2PDF"

// CheckpointFile is the default checkpoint name inside the output directory.
const CheckpointFile = ".docs2pdf-checkpoint.json"

// Config captures all knobs loaded via Viper.
type Config struct {
	URL          string           `mapstructure:"url"`
	OutputDir    string           `mapstructure:"output_dir"`
	Concurrency  int              `mapstructure:"concurrency"`
	Retries      int              `mapstructure:"retries"`
	Delay        time.Duration    `mapstructure:"delay"`
	Backoff      time.Duration    `mapstructure:"backoff"`
	Timeout      time.Duration    `mapstructure:"timeout"`
	HideElements bool             `mapstructure:"hide_elements"`
	Format       string           `mapstructure:"format"`
	Quality      string           `mapstructure:"quality"`
	Resume       bool             `mapstructure:"resume"`
	Include      []string         `mapstructure:"include"`
	Exclude      []string         `mapstructure:"exclude"`
	Merge        MergeConfig      `mapstructure:"merge"`
	Checkpoint   CheckpointConfig `mapstructure:"checkpoint"`
	Sitemap      SitemapConfig    `mapstructure:"sitemap"`
	Render       RenderConfig     `mapstructure:"render"`
	Server       ServerConfig     `mapstructure:"server"`
	Logging      LoggingConfig    `mapstructure:"logging"`
}

// MergeConfig controls composite document assembly.
type MergeConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Order   string `mapstructure:"order"`
	Title   string `mapstructure:"title"`
}

// CheckpointConfig controls resume state persistence.
type CheckpointConfig struct {
	Path  string `mapstructure:"path"`
	Every int    `mapstructure:"every"`
}

// SitemapConfig governs sitemap discovery.
type SitemapConfig struct {
	MaxDepth      int    `mapstructure:"max_depth"`
	Concurrency   int    `mapstructure:"concurrency"`
	RespectRobots bool   `mapstructure:"respect_robots"`
	UserAgent     string `mapstructure:"user_agent"`
}

// RenderConfig configures the headless browser.
type RenderConfig struct {
	MaxParallel int           `mapstructure:"max_parallel"`
	RPS         float64       `mapstructure:"rps"`
	Burst       int           `mapstructure:"burst"`
	ChromePath  string        `mapstructure:"chrome_path"`
	UserAgent   string        `mapstructure:"user_agent"`
	Settle      time.Duration `mapstructure:"settle"`
}

// ServerConfig controls the optional status server.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// flagKeys maps CLI flag names to config keys.
var flagKeys = map[string]string{
	"url":           "url",
	"output-dir":    "output_dir",
	"concurrency":   "concurrency",
	"retries":       "retries",
	"delay":         "delay",
	"backoff":       "backoff",
	"timeout":       "timeout",
	"hide-elements": "hide_elements",
	"format":        "format",
	"quality":       "quality",
	"resume":        "resume",
	"include":       "include",
	"exclude":       "exclude",
	"merge":         "merge.enabled",
	"merge-order":   "merge.order",
	"checkpoint":    "checkpoint.path",
	"metrics-addr":  "server.addr",
	"dev":           "logging.development",
}

// RegisterFlags defines the conversion flags on fs with the same defaults
// Load applies.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("url", "", "sitemap URL of the documentation site (required)")
	fs.String("output-dir", "./output", "directory or gs://bucket/prefix for artifacts")
	fs.Int("concurrency", 3, "number of pages rendered in parallel")
	fs.Int("retries", 3, "retries per page after the first attempt")
	fs.Duration("delay", time.Second, "pause each worker takes between pages")
	fs.Duration("backoff", time.Second, "base retry delay, multiplied by the attempt number")
	fs.Duration("timeout", 30*time.Second, "per-page render timeout")
	fs.Bool("hide-elements", true, "hide navigation, headers, footers and sidebars")
	fs.String("format", string(convert.FormatA4), "paper format: A4, A3 or Letter")
	fs.String("quality", string(convert.QualityHigh), "render quality: low, medium or high")
	fs.Bool("resume", false, "skip pages recorded in the checkpoint; with --merge, skipped pages are left out of the merged document")
	fs.StringSlice("include", nil, "only convert URLs matching one of these regexes")
	fs.StringSlice("exclude", nil, "skip URLs matching any of these regexes")
	fs.Bool("merge", false, "merge all pages into one document")
	fs.String("merge-order", string(convert.OrderCompletion), "merged page order: completion or sitemap")
	fs.String("checkpoint", "", "checkpoint file (default <output-dir>/"+CheckpointFile+")")
	fs.String("metrics-addr", "", "serve /healthz, /metrics and /v1/progress on this address")
	fs.Bool("dev", false, "human-friendly development logging")
}

// Load builds a Config from defaults, an optional file, the environment and
// any flags in fs that were bound.
func Load(path string, fs *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if fs != nil {
		for name, key := range flagKeys {
			flag := fs.Lookup(name)
			if flag == nil {
				continue
			}
			if err := v.BindPFlag(key, flag); err != nil {
				return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("url", "")
	v.SetDefault("output_dir", "./output")
	v.SetDefault("concurrency", 3)
	v.SetDefault("retries", 3)
	v.SetDefault("delay", time.Second)
	v.SetDefault("backoff", time.Second)
	v.SetDefault("timeout", 30*time.Second)
	v.SetDefault("hide_elements", true)
	v.SetDefault("format", string(convert.FormatA4))
	v.SetDefault("quality", string(convert.QualityHigh))
	v.SetDefault("resume", false)
	v.SetDefault("include", []string{})
	v.SetDefault("exclude", []string{})
	v.SetDefault("merge.enabled", false)
	v.SetDefault("merge.order", string(convert.OrderCompletion))
	v.SetDefault("merge.title", "Documentation")
	v.SetDefault("checkpoint.path", "")
	v.SetDefault("checkpoint.every", 10)
	v.SetDefault("sitemap.max_depth", 5)
	v.SetDefault("sitemap.concurrency", 4)
	v.SetDefault("sitemap.respect_robots", false)
	v.SetDefault("sitemap.user_agent", "docs2pdf/0.1")
	v.SetDefault("render.max_parallel", 0)
	v.SetDefault("render.chrome_path", "")
	v.SetDefault("render.user_agent", "")
	v.SetDefault("render.rps", 0)
	v.SetDefault("render.burst", 1)
	v.SetDefault("render.settle", 300*time.Millisecond)
	v.SetDefault("server.addr", "")
	v.SetDefault("logging.development", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.URL == "" {
		return errors.New("url is required")
	}
	u, err := url.Parse(c.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("url must be an absolute http(s) URL, got %q", c.URL)
	}
	if c.OutputDir == "" {
		return errors.New("output_dir is required")
	}
	if c.Concurrency <= 0 {
		return errors.New("concurrency must be > 0")
	}
	if c.Retries < 0 {
		return errors.New("retries must be >= 0")
	}
	if c.Delay < 0 {
		return errors.New("delay must be >= 0")
	}
	if c.Backoff < 0 {
		return errors.New("backoff must be >= 0")
	}
	if c.Timeout <= 0 {
		return errors.New("timeout must be > 0")
	}
	if _, err := convert.ParsePaperFormat(c.Format); err != nil {
		return fmt.Errorf("format: %w", err)
	}
	if _, err := convert.ParseQuality(c.Quality); err != nil {
		return fmt.Errorf("quality: %w", err)
	}
	if _, err := convert.ParseMergeOrder(c.Merge.Order); err != nil {
		return fmt.Errorf("merge.order: %w", err)
	}
	if c.Checkpoint.Every <= 0 {
		return errors.New("checkpoint.every must be > 0")
	}
	if c.Sitemap.MaxDepth <= 0 {
		return errors.New("sitemap.max_depth must be > 0")
	}
	if c.Sitemap.Concurrency <= 0 {
		return errors.New("sitemap.concurrency must be > 0")
	}
	if c.Render.MaxParallel < 0 {
		return errors.New("render.max_parallel must be >= 0")
	}
	if _, err := convert.CompileFilterRules(c.Include, c.Exclude); err != nil {
		return fmt.Errorf("filters: %w", err)
	}
	return nil
}

// CheckpointPath returns the configured checkpoint location, defaulting to a
// file inside a local output directory or the working directory for remote
// outputs.
func (c Config) CheckpointPath() string {
	if c.Checkpoint.Path != "" {
		return c.Checkpoint.Path
	}
	if storage.IsRemote(c.OutputDir) {
		return CheckpointFile
	}
	return filepath.Join(c.OutputDir, CheckpointFile)
}

// Conversion produces the immutable run configuration.
func (c Config) Conversion() (convert.Config, error) {
	format, err := convert.ParsePaperFormat(c.Format)
	if err != nil {
		return convert.Config{}, fmt.Errorf("format: %w", err)
	}
	quality, err := convert.ParseQuality(c.Quality)
	if err != nil {
		return convert.Config{}, fmt.Errorf("quality: %w", err)
	}
	order, err := convert.ParseMergeOrder(c.Merge.Order)
	if err != nil {
		return convert.Config{}, fmt.Errorf("merge.order: %w", err)
	}
	filters, err := convert.CompileFilterRules(c.Include, c.Exclude)
	if err != nil {
		return convert.Config{}, fmt.Errorf("filters: %w", err)
	}
	return convert.Config{
		SitemapURL:      c.URL,
		OutputRoot:      c.OutputDir,
		Concurrency:     c.Concurrency,
		MaxRetries:      c.Retries,
		InterTaskDelay:  c.Delay,
		BackoffBase:     c.Backoff,
		Timeout:         c.Timeout,
		HideNavigation:  c.HideElements,
		Format:          format,
		Quality:         quality,
		Resume:          c.Resume,
		Merge:           c.Merge.Enabled,
		MergeOrder:      order,
		Filters:         filters,
		CheckpointPath:  c.CheckpointPath(),
		CheckpointEvery: c.Checkpoint.Every,
	}, nil
}
