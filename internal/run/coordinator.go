// Package run coordinates one archive run per initial chapter URL: it wires a
// fresh relay between the walker and the archive writer, waits for both, and
// decides the run's outcome.
package run

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/fictionarchiver/internal/archive"
	"github.com/JakeFAU/fictionarchiver/internal/crawler"
	"github.com/JakeFAU/fictionarchiver/internal/metrics"
	"github.com/JakeFAU/fictionarchiver/internal/relay"
	"github.com/JakeFAU/fictionarchiver/internal/walker"
)

// Run outcome labels reported to metrics.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusInvalid   = "invalid"
)

// Walker follows a chapter chain and hands every page to out.
type Walker interface {
	Walk(ctx context.Context, start *url.URL, out walker.Sender) error
}

// Writer drains a relay receiver into an archive file.
type Writer interface {
	Drain(ctx context.Context, rx archive.Receiver, path string) (archive.Summary, error)
	Extension() string
}

// Publisher copies a finished archive somewhere durable.
type Publisher interface {
	Publish(ctx context.Context, localPath string) (string, error)
}

// Config controls where archives land and how the relay is sized.
type Config struct {
	OutputDir     string
	RelayCapacity int
	RelayPolicy   relay.Policy
}

// Result describes one finished run.
type Result struct {
	RunID   string
	Target  crawler.RunTarget
	Archive archive.Summary
	// URI is set when the archive was published.
	URI string
}

// Coordinator executes runs.
type Coordinator struct {
	walker    Walker
	writer    Writer
	ids       crawler.IDGenerator
	publisher Publisher
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Coordinator. publisher may be nil to skip publishing.
func New(w Walker, writer Writer, ids crawler.IDGenerator, publisher Publisher, cfg Config, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "."
	}
	if cfg.RelayCapacity <= 0 {
		cfg.RelayCapacity = relay.DefaultCapacity
	}
	if cfg.RelayPolicy == "" {
		cfg.RelayPolicy = relay.PolicyDropOldest
	}
	return &Coordinator{
		walker:    w,
		writer:    writer,
		ids:       ids,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run archives the fiction that initialURL belongs to. The output file is
// <output dir>/<slug><extension>. Nothing is fetched when the URL does not
// identify a fiction. If both the walker and the writer fail, the walker's
// error comes first in the joined result. A failed run leaves its partial
// archive on disk.
func (c *Coordinator) Run(ctx context.Context, initialURL string) (Result, error) {
	var res Result

	target, err := crawler.ParseRunTarget(initialURL)
	if err != nil {
		metrics.ObserveRun(StatusInvalid)
		return res, err
	}
	res.Target = target
	start, err := url.Parse(initialURL)
	if err != nil {
		metrics.ObserveRun(StatusInvalid)
		return res, fmt.Errorf("%w: %v", crawler.ErrInvalidRunTarget, err)
	}

	runID, err := c.ids.NewID()
	if err != nil {
		metrics.ObserveRun(StatusFailed)
		return res, fmt.Errorf("run id: %w", err)
	}
	res.RunID = runID
	logger := c.logger.With(
		zap.String("run_id", runID),
		zap.String("fiction", target.Slug),
		zap.String("fiction_id", target.ID),
	)

	if err := os.MkdirAll(c.cfg.OutputDir, 0o750); err != nil {
		metrics.ObserveRun(StatusFailed)
		return res, &crawler.ArchiveError{Stage: "mkdir", Path: c.cfg.OutputDir, Err: err}
	}
	path := filepath.Join(c.cfg.OutputDir, target.Slug+c.writer.Extension())

	chapters := relay.New[crawler.Chapter](c.cfg.RelayCapacity, c.cfg.RelayPolicy)
	// Subscribe before the walker starts so no handoff finds the relay empty of receivers.
	rx := chapters.Subscribe()

	logger.Info("run started",
		zap.String("url", initialURL),
		zap.String("path", path),
		zap.Int("relay_capacity", chapters.Capacity()),
		zap.String("relay_policy", string(chapters.Policy())),
		zap.Int("relay_receivers", chapters.ReceiverCount()),
	)

	var (
		g        errgroup.Group
		walkErr  error
		drainErr error
	)
	g.Go(func() error {
		walkErr = c.walker.Walk(ctx, start, chapters)
		return walkErr
	})
	g.Go(func() error {
		res.Archive, drainErr = c.writer.Drain(ctx, rx, path)
		return drainErr
	})
	_ = g.Wait()

	if err := joinRunErrors(walkErr, drainErr); err != nil {
		metrics.ObserveRun(StatusFailed)
		logger.Error("run failed",
			zap.String("path", path),
			zap.Int("relay_backlog", chapters.Len()),
			zap.Error(err),
		)
		return res, err
	}

	if c.publisher != nil {
		uri, err := c.publisher.Publish(ctx, path)
		if err != nil {
			metrics.ObserveRun(StatusFailed)
			logger.Error("run failed", zap.String("path", path), zap.Error(err))
			return res, err
		}
		res.URI = uri
	}

	metrics.ObserveRun(StatusSucceeded)
	logger.Info("run finished",
		zap.String("path", path),
		zap.Int("chapters", res.Archive.Chapters),
		zap.Uint64("skipped", res.Archive.Skipped),
		zap.String("sha256", res.Archive.SHA256),
		zap.Int("relay_backlog", chapters.Len()),
	)
	return res, nil
}

// RunAll executes one run per URL in order. A failed run does not stop the
// ones after it; every failure is returned joined. Cancellation of ctx stops
// the sequence.
func (c *Coordinator) RunAll(ctx context.Context, urls []string) error {
	var errs []error
	succeeded := 0
	for _, u := range urls {
		if err := ctx.Err(); err != nil {
			errs = append(errs, fmt.Errorf("runs canceled before %s: %w", u, err))
			break
		}
		if _, err := c.Run(ctx, u); err != nil {
			errs = append(errs, fmt.Errorf("run %s: %w", u, err))
			continue
		}
		succeeded++
	}
	c.logger.Info("all runs finished",
		zap.Int("requested", len(urls)),
		zap.Int("succeeded", succeeded),
		zap.Int("failed", len(urls)-succeeded),
	)
	return errors.Join(errs...)
}

// joinRunErrors keeps the walker's failure ahead of the writer's.
func joinRunErrors(walkErr, drainErr error) error {
	switch {
	case walkErr != nil && drainErr != nil:
		return errors.Join(walkErr, drainErr)
	case walkErr != nil:
		return walkErr
	default:
		return drainErr
	}
}
