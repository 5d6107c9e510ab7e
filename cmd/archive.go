package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/fictionarchiver/internal/archive"
	"github.com/JakeFAU/fictionarchiver/internal/config"
	"github.com/JakeFAU/fictionarchiver/internal/extract"
	collyfetcher "github.com/JakeFAU/fictionarchiver/internal/fetcher/colly"
	"github.com/JakeFAU/fictionarchiver/internal/id/uuid"
	"github.com/JakeFAU/fictionarchiver/internal/logging"
	"github.com/JakeFAU/fictionarchiver/internal/metrics"
	"github.com/JakeFAU/fictionarchiver/internal/relay"
	"github.com/JakeFAU/fictionarchiver/internal/run"
	"github.com/JakeFAU/fictionarchiver/internal/storage"
	"github.com/JakeFAU/fictionarchiver/internal/storage/gcs"
	"github.com/JakeFAU/fictionarchiver/internal/storage/local"
	"github.com/JakeFAU/fictionarchiver/internal/walker"
)

// errNoInitialChapters is returned when neither flags, arguments nor config name a chapter.
var errNoInitialChapters = errors.New("no initial chapter URLs given")

// newArchiveCmd creates and configures the 'archive' subcommand.
func newArchiveCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive [chapter-url...]",
		Short: "Archives one fiction per initial chapter URL",
		Long: `Starting from each initial chapter URL, follows the fiction's "Next Chapter"
button until the last chapter and writes every chapter as a .txt entry of
<output-dir>/<fiction-slug>.tar.br (or .tar.zst / .tar.gz).

Each URL is an independent run. A failed run does not stop the others, but
the command exits with an error if any run failed.`,
		Example: `  fictionarchiver archive -i https://www.royalroad.com/fiction/21220/mother-of-learning/chapter/301778/1-good-morning-brother
  fictionarchiver archive --output-dir ./archives --compression zstd URL1 URL2`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runArchiveCommand(cmd.Context(), opts, args)
		},
	}

	f := cmd.Flags()
	f.StringSliceP("initial-chapter", "i", nil, "initial chapter URL (repeatable)")
	f.String("user-agent", "", "User-Agent header sent with every request")
	f.String("output-dir", "", "directory receiving the archives")
	f.String("compression", "", "archive compression: brotli, zstd or gzip")
	f.Int("level", 0, "compression level; 0 selects the codec default")
	f.Bool("ordered", false, "write chapters in fetch order instead of arrival order")
	f.Int("relay-capacity", 0, "chapters buffered between walker and writer")
	f.String("relay-policy", "", "relay overflow policy: drop-oldest or block")
	f.String("metrics-addr", "", "serve /metrics and /healthz on this address while running")
	f.String("storage", "", "publish finished archives to: none, local or gcs")

	bindFlags(opts.v, f, map[string]string{
		"runs.initial_chapters": "initial-chapter",
		"crawler.user_agent":    "user-agent",
		"archive.output_dir":    "output-dir",
		"archive.compression":   "compression",
		"archive.level":         "level",
		"archive.ordered":       "ordered",
		"relay.capacity":        "relay-capacity",
		"relay.policy":          "relay-policy",
		"metrics.addr":          "metrics-addr",
		"storage.provider":      "storage",
	})
	return cmd
}

func runArchiveCommand(ctx context.Context, opts *rootOptions, args []string) error {
	cfg, err := config.LoadWith(opts.v, opts.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	urls := append(append([]string{}, args...), cfg.Runs.InitialChapters...)
	if len(urls) == 0 {
		return errNoInitialChapters
	}

	logger, err := logging.New(cfg.Logging.Development, logging.WithLevel(cfg.Logging.Level))
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil && !isTerminalSyncErr(syncErr) {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	metrics.Init()
	stopMetrics := startMetricsServer(ctx, cfg.Metrics.Addr, logger.Named("metrics"))
	defer stopMetrics()

	coordinator, closeStore, err := buildCoordinator(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	return coordinator.RunAll(ctx, urls)
}

// buildCoordinator wires fetcher, extractor, walker, writer and publisher.
func buildCoordinator(ctx context.Context, cfg config.Config, logger *zap.Logger) (*run.Coordinator, func(), error) {
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.Crawler.UserAgent,
		RespectRobots: cfg.Crawler.RespectRobots,
		Timeout:       cfg.Timeout(),
		MaxBodySize:   cfg.HTTP.MaxBodyBytes,
	})
	extractor, err := extract.New(extract.Config{
		ContentSelector: cfg.Extract.ContentSelector,
		NavSelector:     cfg.Extract.NavSelector,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("init extractor: %w", err)
	}
	chapterWalker := walker.New(fetcher, extractor, walker.Config{
		NextText:           cfg.Extract.NextText,
		MaxPendingHandoffs: maxPendingHandoffs(cfg.RelayPolicy()),
	}, logger.Named("walker"))
	writer := archive.NewWriter(cfg.ArchiveWriterConfig(), logger.Named("archive"))

	publisher, closeStore, err := buildPublisher(ctx, cfg.Storage, logger.Named("storage"))
	if err != nil {
		return nil, nil, err
	}

	coordinator := run.New(
		chapterWalker,
		writer,
		uuid.New(),
		publisher,
		run.Config{
			OutputDir:     cfg.Archive.OutputDir,
			RelayCapacity: cfg.Relay.Capacity,
			RelayPolicy:   cfg.RelayPolicy(),
		},
		logger.Named("run"),
	)
	return coordinator, closeStore, nil
}

// maxPendingHandoffs keeps at most one chapter parked on a blocking relay so
// a slow writer also stalls the walker.
func maxPendingHandoffs(policy relay.Policy) int {
	if policy == relay.PolicyBlock {
		return 1
	}
	return 0
}

// buildPublisher returns a nil Publisher when publishing is disabled.
func buildPublisher(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (run.Publisher, func(), error) {
	noop := func() {}
	switch cfg.Provider {
	case config.ProviderLocal:
		store, err := local.New(local.Config{BaseDir: cfg.BaseDir})
		if err != nil {
			return nil, noop, fmt.Errorf("init local storage: %w", err)
		}
		logger.Info("publishing archives to local directory", zap.String("base_dir", cfg.BaseDir))
		return storage.NewPublisher(store, cfg.Prefix, logger), noop, nil
	case config.ProviderGCS:
		store, err := gcs.Open(ctx, gcs.Config{Bucket: cfg.GCSBucket})
		if err != nil {
			return nil, noop, fmt.Errorf("init gcs storage: %w", err)
		}
		logger.Info("publishing archives to gcs", zap.String("bucket", cfg.GCSBucket))
		closeStore := func() {
			if err := store.Close(); err != nil {
				logger.Warn("failed to close gcs client", zap.Error(err))
			}
		}
		return storage.NewPublisher(store, cfg.Prefix, logger), closeStore, nil
	default:
		return nil, noop, nil
	}
}

// startMetricsServer serves metrics until the returned stop function is called.
func startMetricsServer(ctx context.Context, addr string, logger *zap.Logger) func() {
	if addr == "" {
		return func() {}
	}
	srvCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := metrics.Serve(srvCtx, addr, logger); err != nil {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		mustBind(v, key, flags.Lookup(name))
	}
}

func mustBind(v *viper.Viper, key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", key, err))
	}
}

// isTerminalSyncErr reports the error fsync returns for console outputs.
func isTerminalSyncErr(err error) bool {
	return errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOTTY)
}
