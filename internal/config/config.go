// Package config loads and validates archiver configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/fictionarchiver/internal/archive"
	"github.com/JakeFAU/fictionarchiver/internal/extract"
	collyfetcher "github.com/JakeFAU/fictionarchiver/internal/fetcher/colly"
	"github.com/JakeFAU/fictionarchiver/internal/relay"
	"github.com/JakeFAU/fictionarchiver/internal/walker"
)

// EnvPrefix is prepended to every environment override, e.g. ARCHIVER_ARCHIVE_OUTPUT_DIR.
const EnvPrefix = "ARCHIVER"

// Config captures all archiver configuration knobs loaded via Viper.
type Config struct {
	Crawler CrawlerConfig `mapstructure:"crawler"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Extract ExtractConfig `mapstructure:"extract"`
	Relay   RelayConfig   `mapstructure:"relay"`
	Archive ArchiveConfig `mapstructure:"archive"`
	Storage StorageConfig `mapstructure:"storage"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
	Runs    RunsConfig    `mapstructure:"runs"`
}

// CrawlerConfig governs how pages are requested.
type CrawlerConfig struct {
	UserAgent     string `mapstructure:"user_agent"`
	RespectRobots bool   `mapstructure:"respect_robots"`
}

// HTTPConfig configures the HTTP client.
type HTTPConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	// MaxBodyBytes caps a response body; 0 reads bodies in full.
	MaxBodyBytes   int `mapstructure:"max_body_bytes"`
}

// ExtractConfig holds the selectors and the next-button phrase.
type ExtractConfig struct {
	ContentSelector string `mapstructure:"content_selector"`
	NavSelector     string `mapstructure:"nav_selector"`
	NextText        string `mapstructure:"next_text"`
}

// RelayConfig sizes the walker-to-writer relay.
type RelayConfig struct {
	Capacity int    `mapstructure:"capacity"`
	Policy   string `mapstructure:"policy"`
}

// ArchiveConfig controls the output files.
type ArchiveConfig struct {
	OutputDir   string `mapstructure:"output_dir"`
	Compression string `mapstructure:"compression"`
	Level       int    `mapstructure:"level"`
	Mode        int64  `mapstructure:"mode"`
	Ordered     bool   `mapstructure:"ordered"`
}

// StorageConfig selects where finished archives are published.
type StorageConfig struct {
	// Provider is one of none, local or gcs.
	Provider  string `mapstructure:"provider"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// MetricsConfig enables the Prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// RunsConfig lists the chapters to start from when no URL is passed on the command line.
type RunsConfig struct {
	InitialChapters []string `mapstructure:"initial_chapters"`
}

// Storage provider names.
const (
	ProviderNone  = "none"
	ProviderLocal = "local"
	ProviderGCS   = "gcs"
)

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	return LoadWith(viper.New(), path)
}

// LoadWith is Load over a caller-supplied Viper instance, so command-line
// flags bound to v take precedence over file and environment values.
func LoadWith(v *viper.Viper, path string) (Config, error) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

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
	v.SetDefault("crawler.user_agent", collyfetcher.DefaultUserAgent)
	v.SetDefault("crawler.respect_robots", false)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.max_body_bytes", 0)
	v.SetDefault("extract.content_selector", extract.DefaultContentSelector)
	v.SetDefault("extract.nav_selector", extract.DefaultNavSelector)
	v.SetDefault("extract.next_text", walker.DefaultNextText)
	v.SetDefault("relay.capacity", relay.DefaultCapacity)
	v.SetDefault("relay.policy", string(relay.PolicyDropOldest))
	v.SetDefault("archive.output_dir", ".")
	v.SetDefault("archive.compression", string(archive.Brotli))
	v.SetDefault("archive.level", 0)
	v.SetDefault("archive.mode", archive.DefaultMode)
	v.SetDefault("archive.ordered", false)
	v.SetDefault("storage.provider", ProviderNone)
	v.SetDefault("storage.prefix", "archives")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("runs.initial_chapters", []string{})
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Crawler.UserAgent) == "" {
		return fmt.Errorf("crawler.user_agent must be set")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxBodyBytes < 0 {
		return fmt.Errorf("http.max_body_bytes must be >= 0")
	}
	if c.Relay.Capacity <= 0 {
		return fmt.Errorf("relay.capacity must be > 0")
	}
	if _, err := relay.ParsePolicy(c.Relay.Policy); err != nil {
		return fmt.Errorf("relay.policy: %w", err)
	}
	if strings.TrimSpace(c.Archive.OutputDir) == "" {
		return fmt.Errorf("archive.output_dir must be set")
	}
	if _, err := archive.ParseCompression(c.Archive.Compression); err != nil {
		return fmt.Errorf("archive.compression: %w", err)
	}
	if c.Archive.Mode < 0 || c.Archive.Mode > 0o7777 {
		return fmt.Errorf("archive.mode must be between 0 and 07777")
	}
	switch c.Storage.Provider {
	case "", ProviderNone:
	case ProviderLocal:
		if strings.TrimSpace(c.Storage.BaseDir) == "" {
			return fmt.Errorf("storage.base_dir must be set for the local provider")
		}
	case ProviderGCS:
		if strings.TrimSpace(c.Storage.GCSBucket) == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs provider")
		}
	default:
		return fmt.Errorf("storage.provider %q is not one of none, local, gcs", c.Storage.Provider)
	}
	return nil
}

// Timeout converts the HTTP timeout into a duration.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// ArchiveWriterConfig translates the archive section for archive.NewWriter.
// Validate must have succeeded first.
func (c Config) ArchiveWriterConfig() archive.Config {
	compression, _ := archive.ParseCompression(c.Archive.Compression)
	return archive.Config{
		Compression: compression,
		Level:       c.Archive.Level,
		Mode:        c.Archive.Mode,
		Ordered:     c.Archive.Ordered,
	}
}

// RelayPolicy returns the parsed relay policy. Validate must have succeeded first.
func (c Config) RelayPolicy() relay.Policy {
	policy, _ := relay.ParsePolicy(c.Relay.Policy)
	return policy
}
