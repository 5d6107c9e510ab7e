package crawler

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRunTarget means the fiction slug could not be derived from the initial URL.
	ErrInvalidRunTarget = errors.New("could not derive fiction name from initial chapter url")
	// ErrMissingChapterName means a page URL has no final path segment.
	ErrMissingChapterName = errors.New("chapter does not have a name")
)

// FetchError wraps a transport or HTTP failure for a chapter page.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// ExtractionError wraps a failure to parse or resolve a page's markup.
type ExtractionError struct {
	URL string
	Err error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.URL, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// HandoffError reports a chapter the relay refused to accept.
type HandoffError struct {
	Chapter string
	Err     error
}

func (e *HandoffError) Error() string {
	return fmt.Sprintf("hand off chapter %s: %v", e.Chapter, e.Err)
}

func (e *HandoffError) Unwrap() error {
	return e.Err
}

// ArchiveError wraps an I/O failure while writing or finalizing an archive.
type ArchiveError struct {
	// Stage names the layer that failed, e.g. "append", "close tar", "sync".
	Stage string
	Path  string
	Err   error
}

func (e *ArchiveError) Error() string {
	return fmt.Sprintf("archive %s (%s): %v", e.Path, e.Stage, e.Err)
}

func (e *ArchiveError) Unwrap() error {
	return e.Err
}
