package archive

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// Entry describes one chapter stored in an archive.
type Entry struct {
	Name    string
	Size    int64
	Mode    int64
	ModTime time.Time
}

// List reads the entry headers of the archive at path. The compressor is
// inferred from the file extension.
func List(path string) ([]Entry, error) {
	c, err := DetectCompression(path)
	if err != nil {
		return nil, err
	}
	// #nosec G304 -- path is supplied by the operator.
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer func() { _ = f.Close() }()

	return ReadEntries(c, f)
}

// ReadEntries decompresses r and returns every tar header in order.
func ReadEntries(c Compression, r io.Reader) ([]Entry, error) {
	dec, err := NewDecompressor(c, r)
	if err != nil {
		return nil, err
	}
	defer func() { _ = dec.Close() }()

	var entries []Entry
	tr := tar.NewReader(dec)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return entries, nil
		}
		if err != nil {
			return entries, fmt.Errorf("read entry %d: %w", len(entries), err)
		}
		entries = append(entries, Entry{
			Name:    hdr.Name,
			Size:    hdr.Size,
			Mode:    hdr.Mode,
			ModTime: hdr.ModTime,
		})
	}
}
