package crawler

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var runTargetPattern = regexp.MustCompile(`/fiction/(\d+)/([\w-]+)`)

// RunTarget identifies the fiction archived by one run.
type RunTarget struct {
	ID   string
	Slug string
}

// ParseRunTarget extracts the fiction id and slug from an initial chapter URL
// of the form .../fiction/<id>/<slug>/....
func ParseRunTarget(rawURL string) (RunTarget, error) {
	m := runTargetPattern.FindStringSubmatch(rawURL)
	if m == nil {
		return RunTarget{}, fmt.Errorf("%w: %q", ErrInvalidRunTarget, rawURL)
	}
	return RunTarget{ID: m[1], Slug: m[2]}, nil
}

// ChapterName derives the archive entry name from the final path segment of u.
// The segment is kept in its escaped form, so an encoded slash stays part of
// the name instead of splitting it.
func ChapterName(u *url.URL) (string, error) {
	if u == nil {
		return "", ErrMissingChapterName
	}
	segments := strings.Split(u.EscapedPath(), "/")
	last := segments[len(segments)-1]
	if last == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingChapterName, u.String())
	}
	return last + ChapterSuffix, nil
}

// ResolveNext resolves a relative next-page reference against the current page URL.
func ResolveNext(current *url.URL, href string) (*url.URL, error) {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return nil, fmt.Errorf("parse next link %q: %w", href, err)
	}
	next := current.ResolveReference(ref)
	next.Fragment = ""
	return next, nil
}
