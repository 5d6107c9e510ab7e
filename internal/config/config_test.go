package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/fictionarchiver/internal/archive"
	"github.com/JakeFAU/fictionarchiver/internal/relay"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Relay.Capacity != relay.DefaultCapacity {
		t.Fatalf("expected default relay capacity %d, got %d", relay.DefaultCapacity, cfg.Relay.Capacity)
	}
	if cfg.RelayPolicy() != relay.PolicyDropOldest {
		t.Fatalf("expected drop-oldest policy, got %s", cfg.RelayPolicy())
	}
	if cfg.Archive.OutputDir != "." {
		t.Fatalf("expected output dir '.', got %q", cfg.Archive.OutputDir)
	}
	wcfg := cfg.ArchiveWriterConfig()
	if wcfg.Compression != archive.Brotli || wcfg.Mode != archive.DefaultMode || wcfg.Ordered {
		t.Fatalf("unexpected archive defaults: %+v", wcfg)
	}
	if cfg.Storage.Provider != ProviderNone {
		t.Fatalf("expected storage provider none, got %q", cfg.Storage.Provider)
	}
	if cfg.Extract.NextText != "next chapter" {
		t.Fatalf("unexpected next text %q", cfg.Extract.NextText)
	}
	if got := cfg.Timeout(); got != 30*time.Second {
		t.Fatalf("expected 30s timeout, got %v", got)
	}
	if cfg.HTTP.MaxBodyBytes != 0 {
		t.Fatalf("expected unlimited body size, got %d", cfg.HTTP.MaxBodyBytes)
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
crawler:
  user_agent: archiver-test/1.0
  respect_robots: true
http:
  timeout_seconds: 45
extract:
  next_text: "Next"
relay:
  capacity: 16
  policy: block
archive:
  output_dir: /srv/archives
  compression: zstd
  level: 3
  mode: 420
  ordered: true
storage:
  provider: gcs
  gcs_bucket: fiction-archives
  prefix: nightly
metrics:
  addr: ":9090"
logging:
  development: false
  level: debug
runs:
  initial_chapters:
    - https://www.royalroad.com/fiction/21220/mother-of-learning/chapter/301778/1-good-morning-brother
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Crawler.UserAgent != "archiver-test/1.0" || !cfg.Crawler.RespectRobots {
		t.Fatalf("expected crawler overrides to apply: %+v", cfg.Crawler)
	}
	if cfg.RelayPolicy() != relay.PolicyBlock || cfg.Relay.Capacity != 16 {
		t.Fatalf("expected relay overrides to apply: %+v", cfg.Relay)
	}
	wcfg := cfg.ArchiveWriterConfig()
	if wcfg.Compression != archive.Zstd || wcfg.Level != 3 || wcfg.Mode != 0o644 || !wcfg.Ordered {
		t.Fatalf("expected archive overrides to apply: %+v", wcfg)
	}
	if cfg.Storage.Provider != ProviderGCS || cfg.Storage.GCSBucket != "fiction-archives" || cfg.Storage.Prefix != "nightly" {
		t.Fatalf("expected storage overrides to apply: %+v", cfg.Storage)
	}
	if cfg.Metrics.Addr != ":9090" || cfg.Logging.Development || cfg.Logging.Level != "debug" {
		t.Fatalf("expected ambient overrides to apply: %+v %+v", cfg.Metrics, cfg.Logging)
	}
	if len(cfg.Runs.InitialChapters) != 1 {
		t.Fatalf("expected one initial chapter, got %v", cfg.Runs.InitialChapters)
	}
	if got := cfg.Timeout(); got != 45*time.Second {
		t.Fatalf("expected 45s timeout, got %v", got)
	}
}

func TestLoadWithFlagsOverrideDefaults(t *testing.T) {
	t.Parallel()

	v := viper.New()
	v.Set("archive.output_dir", "/tmp/out")
	v.Set("archive.compression", "gzip")

	cfg, err := LoadWith(v, "")
	if err != nil {
		t.Fatalf("LoadWith() error = %v", err)
	}
	if cfg.Archive.OutputDir != "/tmp/out" || cfg.ArchiveWriterConfig().Compression != archive.Gzip {
		t.Fatalf("expected explicit values to win: %+v", cfg.Archive)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "empty user agent", mutate: func(c *Config) { c.Crawler.UserAgent = " " }, want: "crawler.user_agent"},
		{name: "invalid timeout", mutate: func(c *Config) { c.HTTP.TimeoutSeconds = 0 }, want: "http.timeout_seconds"},
		{name: "negative body cap", mutate: func(c *Config) { c.HTTP.MaxBodyBytes = -1 }, want: "http.max_body_bytes"},
		{name: "invalid capacity", mutate: func(c *Config) { c.Relay.Capacity = 0 }, want: "relay.capacity"},
		{name: "unknown policy", mutate: func(c *Config) { c.Relay.Policy = "spill" }, want: "relay.policy"},
		{name: "empty output dir", mutate: func(c *Config) { c.Archive.OutputDir = "" }, want: "archive.output_dir"},
		{name: "unknown compression", mutate: func(c *Config) { c.Archive.Compression = "lzma" }, want: "archive.compression"},
		{name: "invalid mode", mutate: func(c *Config) { c.Archive.Mode = 0o10000 }, want: "archive.mode"},
		{name: "local without dir", mutate: func(c *Config) { c.Storage.Provider = ProviderLocal }, want: "storage.base_dir"},
		{name: "gcs without bucket", mutate: func(c *Config) { c.Storage.Provider = ProviderGCS }, want: "storage.gcs_bucket"},
		{name: "unknown provider", mutate: func(c *Config) { c.Storage.Provider = "s3" }, want: "storage.provider"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
