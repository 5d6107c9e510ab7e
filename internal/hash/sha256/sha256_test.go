// Package sha256 includes tests for the streaming digest.
package sha256

import (
	"io"
	"strings"
	"testing"
)

// TestDigestStreaming ensures chunked writes yield the one-shot digest.
func TestDigestStreaming(t *testing.T) {
	t.Parallel()

	d := New()
	if _, err := io.Copy(d, strings.NewReader("hello world")); err != nil {
		t.Fatalf("copy error = %v", err)
	}
	want := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	if got := d.Sum(); got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
	if again := d.Sum(); again != want {
		t.Fatalf("expected Sum to be repeatable, got %s", again)
	}
}

func TestDigestEmpty(t *testing.T) {
	t.Parallel()

	want := "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if got := New().Sum(); got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}
