package crawler

import (
	"net/http"
	"time"
)

// ChapterSuffix is appended to the final URL path segment to name an archive entry.
const ChapterSuffix = ".txt"

// Chapter is a single extracted page on its way from the walker to the archive.
type Chapter struct {
	// Seq is the zero-based fetch index of the page within its run.
	Seq uint64
	// Name is the archive entry name, e.g. "chapter-one.txt".
	Name string
	// Content is the page's text blocks joined by a blank line.
	Content []byte
}

// Size returns the byte length recorded in the archive entry header.
func (c Chapter) Size() int64 {
	return int64(len(c.Content))
}

// FetchRequest captures everything needed to fetch a chapter page.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// Candidate is a navigation element found on a chapter page.
type Candidate struct {
	// Text is the raw text of the element, untrimmed.
	Text string
	// Href is the raw target reference, relative or absolute.
	Href string
	// HasHref reports whether the element carried a target attribute at all.
	HasHref bool
}

// Extraction is what an Extractor pulls out of one page.
type Extraction struct {
	// Blocks are the text blocks matching the content selector, in document order.
	Blocks []string
	// Candidates are the navigation elements, in document order.
	Candidates []Candidate
}
