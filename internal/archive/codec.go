package archive

import (
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Compression names a streaming compressor wrapped around the tar stream.
type Compression string

// Supported compressors.
const (
	Brotli Compression = "brotli"
	Zstd   Compression = "zstd"
	Gzip   Compression = "gzip"
)

// ParseCompression validates a compressor name from configuration.
func ParseCompression(name string) (Compression, error) {
	switch c := Compression(strings.ToLower(strings.TrimSpace(name))); c {
	case "":
		return Brotli, nil
	case Brotli, Zstd, Gzip:
		return c, nil
	default:
		return "", fmt.Errorf("unknown compression %q", name)
	}
}

// Extension returns the output file suffix, e.g. ".tar.br".
func (c Compression) Extension() string {
	switch c {
	case Zstd:
		return ".tar.zst"
	case Gzip:
		return ".tar.gz"
	default:
		return ".tar.br"
	}
}

// DetectCompression infers the compressor from an archive file name.
func DetectCompression(path string) (Compression, error) {
	for _, c := range []Compression{Brotli, Zstd, Gzip} {
		if strings.HasSuffix(path, c.Extension()) {
			return c, nil
		}
	}
	return "", fmt.Errorf("cannot infer compression from %q", path)
}

// NewCompressor wraps w. A level of 0 selects the codec's default. Closing the
// returned writer flushes the compressor's trailer but does not close w.
func NewCompressor(c Compression, level int, w io.Writer) (io.WriteCloser, error) {
	switch c {
	case Brotli, "":
		if level == 0 {
			level = brotli.DefaultCompression
		}
		return brotli.NewWriterLevel(w, level), nil
	case Zstd:
		opts := []zstd.EOption{}
		if level != 0 {
			opts = append(opts, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
		}
		enc, err := zstd.NewWriter(w, opts...)
		if err != nil {
			return nil, fmt.Errorf("zstd writer: %w", err)
		}
		return enc, nil
	case Gzip:
		if level == 0 {
			level = gzip.DefaultCompression
		}
		gz, err := gzip.NewWriterLevel(w, level)
		if err != nil {
			return nil, fmt.Errorf("gzip writer: %w", err)
		}
		return gz, nil
	default:
		return nil, fmt.Errorf("unknown compression %q", c)
	}
}

// NewDecompressor is the reading counterpart of NewCompressor.
func NewDecompressor(c Compression, r io.Reader) (io.ReadCloser, error) {
	switch c {
	case Brotli, "":
		return io.NopCloser(brotli.NewReader(r)), nil
	case Zstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("zstd reader: %w", err)
		}
		return dec.IOReadCloser(), nil
	case Gzip:
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("gzip reader: %w", err)
		}
		return gz, nil
	default:
		return nil, fmt.Errorf("unknown compression %q", c)
	}
}
