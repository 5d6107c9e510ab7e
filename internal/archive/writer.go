// Package archive drains chapters from the relay into a compressed tar file.
//
// The output stack is file -> bufio.Writer -> compressor -> tar.Writer. Entries
// are appended as they arrive, so the total chapter count never has to be
// known. Shutdown always runs, innermost layer first, because each layer may
// hold bytes the layer below has not seen yet.
package archive

import (
	"archive/tar"
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/fictionarchiver/internal/clock/system"
	"github.com/JakeFAU/fictionarchiver/internal/crawler"
	"github.com/JakeFAU/fictionarchiver/internal/hash/sha256"
	"github.com/JakeFAU/fictionarchiver/internal/metrics"
	"github.com/JakeFAU/fictionarchiver/internal/relay"
)

// DefaultMode is the permission recorded on every entry.
const DefaultMode int64 = 0o777

const bufferSize = 64 * 1024

// Receiver is the consumer side of the relay.
type Receiver interface {
	Recv(ctx context.Context) (crawler.Chapter, error)
	Close()
}

// Config controls the archive layout.
type Config struct {
	Compression Compression
	// Level is passed to the compressor; 0 selects the codec default.
	Level int
	// Mode is the permission recorded in each entry header.
	Mode int64
	// Ordered buffers chapters and appends them in fetch order.
	Ordered bool
}

// Summary describes a finished drain.
type Summary struct {
	Path         string
	Chapters     int
	ContentBytes int64
	Skipped      uint64
	// SHA256 is the hex digest of the finished file; empty after a failure.
	SHA256       string
}

// Writer is the sole consumer of a run's relay.
type Writer struct {
	cfg    Config
	logger *zap.Logger
	clock  crawler.Clock
}

// NewWriter constructs a Writer.
func NewWriter(cfg Config, logger *zap.Logger) *Writer {
	if cfg.Compression == "" {
		cfg.Compression = Brotli
	}
	if cfg.Mode == 0 {
		cfg.Mode = DefaultMode
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{cfg: cfg, logger: logger, clock: system.New()}
}

// Extension returns the file suffix of the archives this Writer produces.
func (w *Writer) Extension() string {
	return w.cfg.Compression.Extension()
}

// Drain reads chapters from rx until the relay is closed and writes each one
// to a new archive at path. Lag notifications are logged and skipped. On any
// error the partially written file is left in place. rx is closed on return.
func (w *Writer) Drain(ctx context.Context, rx Receiver, path string) (summary Summary, err error) {
	defer rx.Close()
	summary.Path = path

	enc, err := w.open(path)
	if err != nil {
		return summary, err
	}
	defer func() {
		if cerr := enc.close(); cerr != nil {
			err = errors.Join(err, cerr)
			return
		}
		if err == nil {
			summary.SHA256 = enc.digest.Sum()
			w.logger.Info("archive finalized",
				zap.String("path", path),
				zap.String("sha256", summary.SHA256),
				zap.Int("chapters", summary.Chapters),
				zap.Int64("content_bytes", summary.ContentBytes),
				zap.Uint64("skipped", summary.Skipped),
			)
		}
	}()

	var reorder *reorderBuffer
	if w.cfg.Ordered {
		reorder = newReorderBuffer()
	}
	appendAll := func(chapters []crawler.Chapter) error {
		for _, ch := range chapters {
			if err := enc.append(ch); err != nil {
				return err
			}
			summary.Chapters++
			summary.ContentBytes += ch.Size()
			metrics.ObserveArchived(ch.Size())
			w.logger.Info("added chapter to archive", zap.String("chapter", ch.Name))
		}
		return nil
	}

	for {
		ch, recvErr := rx.Recv(ctx)
		var lagged *relay.LaggedError
		switch {
		case recvErr == nil:
			ready := []crawler.Chapter{ch}
			if reorder != nil {
				ready = reorder.push(ch)
			}
			if err := appendAll(ready); err != nil {
				return summary, err
			}
		case errors.As(recvErr, &lagged):
			summary.Skipped += lagged.Skipped
			metrics.ObserveLag(lagged.Skipped)
			w.logger.Warn("archive writer lagged; chapters dropped",
				zap.String("path", path),
				zap.Uint64("skipped", lagged.Skipped),
			)
			if reorder != nil {
				if err := appendAll(reorder.skip()); err != nil {
					return summary, err
				}
			}
		case errors.Is(recvErr, relay.ErrClosed):
			if reorder != nil {
				if err := appendAll(reorder.flush()); err != nil {
					return summary, err
				}
			}
			return summary, nil
		default:
			return summary, &crawler.ArchiveError{Stage: "receive", Path: path, Err: recvErr}
		}
	}
}

// encoder owns the layered output stream of one archive.
type encoder struct {
	path    string
	mode    int64
	modTime time.Time
	file    *os.File
	digest  *sha256.Digest
	buf     *bufio.Writer
	comp    io.WriteCloser
	tw      *tar.Writer
}

func (w *Writer) open(path string) (*encoder, error) {
	// #nosec G304 -- path is derived from configuration and the run target.
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, &crawler.ArchiveError{Stage: "create", Path: path, Err: err}
	}
	digest := sha256.New()
	buf := bufio.NewWriterSize(io.MultiWriter(file, digest), bufferSize)
	comp, err := NewCompressor(w.cfg.Compression, w.cfg.Level, buf)
	if err != nil {
		_ = file.Close()
		return nil, &crawler.ArchiveError{Stage: "create", Path: path, Err: err}
	}
	return &encoder{
		path:    path,
		mode:    w.cfg.Mode,
		modTime: w.clock.Now(),
		file:    file,
		digest:  digest,
		buf:     buf,
		comp:    comp,
		tw:      tar.NewWriter(comp),
	}, nil
}

func (e *encoder) append(ch crawler.Chapter) error {
	hdr := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     ch.Name,
		Size:     ch.Size(),
		Mode:     e.mode,
		ModTime:  e.modTime,
		Format:   tar.FormatGNU,
	}
	if err := e.tw.WriteHeader(hdr); err != nil {
		return &crawler.ArchiveError{Stage: "append", Path: e.path, Err: fmt.Errorf("header %s: %w", ch.Name, err)}
	}
	if _, err := e.tw.Write(ch.Content); err != nil {
		return &crawler.ArchiveError{Stage: "append", Path: e.path, Err: fmt.Errorf("content %s: %w", ch.Name, err)}
	}
	return nil
}

// close finalizes every layer in order: tar trailer, compressor, buffer,
// fsync. The file handle is released even when an earlier step fails.
func (e *encoder) close() error {
	steps := []struct {
		stage string
		fn    func() error
	}{
		{"close tar", e.tw.Close},
		{"close compressor", e.comp.Close},
		{"flush", e.buf.Flush},
		{"sync", e.file.Sync},
	}
	var err error
	for _, step := range steps {
		if stepErr := step.fn(); stepErr != nil {
			err = &crawler.ArchiveError{Stage: step.stage, Path: e.path, Err: stepErr}
			break
		}
	}
	if closeErr := e.file.Close(); closeErr != nil {
		err = errors.Join(err, &crawler.ArchiveError{Stage: "close file", Path: e.path, Err: closeErr})
	}
	return err
}
