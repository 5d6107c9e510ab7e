// Package storage defines where finished archives are published after a run.
// The abstraction keeps the coordinator independent of the backing store
// (local filesystem, Google Cloud Storage, or memory in tests).
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// ArchiveContentType is recorded for every published archive.
const ArchiveContentType = "application/octet-stream"

// BlobStore writes an object and returns its URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher copies finished archive files into a BlobStore.
type Publisher struct {
	store  BlobStore
	prefix string
	logger *zap.Logger
}

// NewPublisher builds a Publisher that stores archives under prefix.
func NewPublisher(store BlobStore, prefix string, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		store:  store,
		prefix: strings.Trim(prefix, "/"),
		logger: logger,
	}
}

// ObjectPath returns the object key used for a local archive file.
func (p *Publisher) ObjectPath(localPath string) string {
	base := filepath.Base(localPath)
	if p.prefix == "" {
		return base
	}
	return path.Join(p.prefix, base)
}

// Publish streams the archive at localPath into the store.
func (p *Publisher) Publish(ctx context.Context, localPath string) (string, error) {
	// #nosec G304 -- localPath is an archive this process just wrote.
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open archive %s: %w", localPath, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			p.logger.Warn("failed to close archive after publish", zap.String("path", localPath), zap.Error(cerr))
		}
	}()

	uri, err := p.store.PutObject(ctx, p.ObjectPath(localPath), ArchiveContentType, f)
	if err != nil {
		return "", fmt.Errorf("publish archive %s: %w", localPath, err)
	}
	p.logger.Info("archive published", zap.String("path", localPath), zap.String("uri", uri))
	return uri, nil
}
