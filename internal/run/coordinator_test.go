package run

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/fictionarchiver/internal/archive"
	"github.com/JakeFAU/fictionarchiver/internal/crawler"
	"github.com/JakeFAU/fictionarchiver/internal/extract"
	"github.com/JakeFAU/fictionarchiver/internal/id/uuid"
	"github.com/JakeFAU/fictionarchiver/internal/relay"
	"github.com/JakeFAU/fictionarchiver/internal/storage"
	"github.com/JakeFAU/fictionarchiver/internal/storage/memory"
	"github.com/JakeFAU/fictionarchiver/internal/walker"
)

const fictionBase = "https://www.royalroad.com/fiction/21220/mother-of-learning/chapter"

// siteFetcher serves a linear chain of chapter pages.
type siteFetcher struct {
	mu    sync.Mutex
	pages map[string]string
	fail  map[string]error
	calls []string
}

func newChain(n int) (*siteFetcher, string) {
	f := &siteFetcher{pages: map[string]string{}, fail: map[string]error{}}
	for k := 1; k <= n; k++ {
		nav := `<a class="btn btn-primary col-xs-12" href="/fiction/21220/mother-of-learning/chapter/999/index">Fiction Page</a>`
		if k < n {
			nav += fmt.Sprintf(`<a class="btn btn-primary col-xs-12" href="../%d/part-%d">Next Chapter</a>`, 100+k+1, k+1)
		}
		f.pages[chapterURL(k)] = fmt.Sprintf(`<html><body>
<div class="chapter-inner chapter-content"><p>Chapter %d opens.</p><p>Chapter %d ends.</p></div>
%s
</body></html>`, k, k, nav)
	}
	return f, chapterURL(1)
}

func chapterURL(k int) string {
	return fmt.Sprintf("%s/%d/part-%d", fictionBase, 100+k, k)
}

func (f *siteFetcher) Fetch(_ context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req.URL)
	if err := f.fail[req.URL]; err != nil {
		return crawler.FetchResponse{}, err
	}
	page, ok := f.pages[req.URL]
	if !ok {
		return crawler.FetchResponse{}, fmt.Errorf("status 404: no page at %s", req.URL)
	}
	return crawler.FetchResponse{URL: req.URL, StatusCode: 200, Body: []byte(page)}, nil
}

func (f *siteFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newCoordinator(t *testing.T, fetcher crawler.Fetcher, outDir string, ordered bool, publisher Publisher) *Coordinator {
	t.Helper()
	ex, err := extract.New(extract.Config{})
	require.NoError(t, err)
	w := walker.New(fetcher, ex, walker.Config{}, nil)
	writer := archive.NewWriter(archive.Config{Compression: archive.Brotli, Ordered: ordered}, nil)
	return New(w, writer, uuid.New(), publisher, Config{OutputDir: outDir, RelayCapacity: 64, RelayPolicy: relay.PolicyDropOldest}, nil)
}

type entry struct {
	name string
	size int64
	body string
}

func readEntries(t *testing.T, path string) []entry {
	t.Helper()
	// #nosec G304 -- test reads from the controlled temp directory.
	f, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	comp, err := archive.DetectCompression(path)
	require.NoError(t, err)
	dec, err := archive.NewDecompressor(comp, f)
	require.NoError(t, err)
	defer func() { _ = dec.Close() }()

	var out []entry
	tr := tar.NewReader(dec)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		body, err := io.ReadAll(tr)
		require.NoError(t, err)
		out = append(out, entry{name: hdr.Name, size: hdr.Size, body: string(body)})
	}
}

func TestRunArchivesWholeChain(t *testing.T) {
	t.Parallel()

	fetcher, start := newChain(4)
	outDir := filepath.Join(t.TempDir(), "out")
	c := newCoordinator(t, fetcher, outDir, true, nil)

	res, err := c.Run(context.Background(), start)
	require.NoError(t, err)
	assert.Equal(t, "mother-of-learning", res.Target.Slug)
	assert.Equal(t, "21220", res.Target.ID)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, filepath.Join(outDir, "mother-of-learning.tar.br"), res.Archive.Path)
	assert.Equal(t, 4, res.Archive.Chapters)
	assert.Empty(t, res.URI)
	assert.Equal(t, 4, fetcher.callCount())

	entries := readEntries(t, res.Archive.Path)
	require.Len(t, entries, 4)
	for i, e := range entries {
		k := i + 1
		assert.Equal(t, fmt.Sprintf("part-%d.txt", k), e.name)
		want := fmt.Sprintf("Chapter %d opens.\n\nChapter %d ends.", k, k)
		assert.Equal(t, want, e.body)
		assert.Equal(t, int64(len(want)), e.size)
	}
}

func TestRunLogsTargetAndRelayState(t *testing.T) {
	t.Parallel()

	fetcher, start := newChain(3)
	ex, err := extract.New(extract.Config{})
	require.NoError(t, err)
	core, logs := observer.New(zapcore.InfoLevel)
	w := walker.New(fetcher, ex, walker.Config{}, nil)
	writer := archive.NewWriter(archive.Config{Compression: archive.Gzip}, nil)
	c := New(w, writer, uuid.New(), nil, Config{OutputDir: t.TempDir(), RelayCapacity: 8, RelayPolicy: relay.PolicyBlock}, zap.New(core))

	_, err = c.Run(context.Background(), start)
	require.NoError(t, err)

	started := logs.FilterMessage("run started").All()
	require.Len(t, started, 1)
	fields := started[0].ContextMap()
	assert.Equal(t, "21220", fields["fiction_id"])
	assert.Equal(t, int64(8), fields["relay_capacity"])
	assert.Equal(t, "block", fields["relay_policy"])
	assert.Equal(t, int64(1), fields["relay_receivers"])

	finished := logs.FilterMessage("run finished").All()
	require.Len(t, finished, 1)
	assert.Equal(t, int64(0), finished[0].ContextMap()["relay_backlog"])
	assert.Equal(t, int64(3), finished[0].ContextMap()["chapters"])
}

func TestRunInvalidTargetFetchesNothing(t *testing.T) {
	t.Parallel()

	fetcher, _ := newChain(2)
	outDir := t.TempDir()
	c := newCoordinator(t, fetcher, outDir, false, nil)

	_, err := c.Run(context.Background(), "https://www.royalroad.com/profile/12345")
	require.ErrorIs(t, err, crawler.ErrInvalidRunTarget)
	assert.Zero(t, fetcher.callCount())

	files, err := os.ReadDir(outDir)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestRunFetchFailureMidChain(t *testing.T) {
	t.Parallel()

	fetcher, start := newChain(5)
	boom := errors.New("connection reset")
	fetcher.fail[chapterURL(3)] = boom
	outDir := t.TempDir()
	c := newCoordinator(t, fetcher, outDir, true, nil)

	res, err := c.Run(context.Background(), start)
	require.Error(t, err)
	require.ErrorIs(t, err, boom)
	var fetchErr *crawler.FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, chapterURL(3), fetchErr.URL)
	assert.Equal(t, 3, fetcher.callCount())

	// The partial archive stays on disk and holds only the chapters handed off before the failure.
	entries := readEntries(t, filepath.Join(outDir, "mother-of-learning.tar.br"))
	assert.LessOrEqual(t, len(entries), 2)
	assert.Equal(t, len(entries), res.Archive.Chapters)
	for _, e := range entries {
		assert.Contains(t, []string{"part-1.txt", "part-2.txt"}, e.name)
	}
}

func TestRunWriterFailure(t *testing.T) {
	t.Parallel()

	fetcher, start := newChain(3)
	outDir := t.TempDir()
	// A directory where the archive file should go makes the create step fail.
	require.NoError(t, os.Mkdir(filepath.Join(outDir, "mother-of-learning.tar.br"), 0o750))
	c := newCoordinator(t, fetcher, outDir, false, nil)

	_, err := c.Run(context.Background(), start)
	var archiveErr *crawler.ArchiveError
	require.ErrorAs(t, err, &archiveErr)
	assert.Equal(t, "create", archiveErr.Stage)
}

func TestRunPublishesArchive(t *testing.T) {
	t.Parallel()

	fetcher, start := newChain(2)
	store := memory.NewBlobStore()
	c := newCoordinator(t, fetcher, t.TempDir(), false, storage.NewPublisher(store, "nightly", nil))

	res, err := c.Run(context.Background(), start)
	require.NoError(t, err)
	assert.Equal(t, "memory://nightly/mother-of-learning.tar.br", res.URI)

	published, ok := store.Get("nightly/mother-of-learning.tar.br")
	require.True(t, ok)
	// #nosec G304 -- test reads from the controlled temp directory.
	local, err := os.ReadFile(res.Archive.Path)
	require.NoError(t, err)
	assert.Equal(t, local, published)
}

type failingPublisher struct{ err error }

func (p failingPublisher) Publish(context.Context, string) (string, error) { return "", p.err }

func TestRunPublishFailureFailsRun(t *testing.T) {
	t.Parallel()

	fetcher, start := newChain(1)
	boom := errors.New("bucket unavailable")
	c := newCoordinator(t, fetcher, t.TempDir(), false, failingPublisher{err: boom})

	_, err := c.Run(context.Background(), start)
	require.ErrorIs(t, err, boom)
}

func TestRunAllContinuesPastFailures(t *testing.T) {
	t.Parallel()

	fetcher, start := newChain(2)
	outDir := t.TempDir()
	c := newCoordinator(t, fetcher, outDir, false, nil)

	err := c.RunAll(context.Background(), []string{
		"https://www.royalroad.com/forums",
		start,
	})
	require.Error(t, err)
	require.ErrorIs(t, err, crawler.ErrInvalidRunTarget)
	assert.Contains(t, err.Error(), "https://www.royalroad.com/forums")

	entries := readEntries(t, filepath.Join(outDir, "mother-of-learning.tar.br"))
	assert.Len(t, entries, 2)
}

func TestRunAllSucceeds(t *testing.T) {
	t.Parallel()

	fetcher, start := newChain(1)
	c := newCoordinator(t, fetcher, t.TempDir(), false, nil)
	require.NoError(t, c.RunAll(context.Background(), []string{start}))
	require.NoError(t, c.RunAll(context.Background(), nil))
}

func TestRunAllStopsWhenCanceled(t *testing.T) {
	t.Parallel()

	fetcher, start := newChain(1)
	c := newCoordinator(t, fetcher, t.TempDir(), false, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.RunAll(ctx, []string{start, start})
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, fetcher.callCount())
}

func TestJoinRunErrorsOrdersWalkerFirst(t *testing.T) {
	t.Parallel()

	walkErr := errors.New("walker failed")
	drainErr := errors.New("writer failed")

	assert.NoError(t, joinRunErrors(nil, nil))
	assert.Same(t, walkErr, joinRunErrors(walkErr, nil))
	assert.Same(t, drainErr, joinRunErrors(nil, drainErr))

	both := joinRunErrors(walkErr, drainErr)
	require.ErrorIs(t, both, walkErr)
	require.ErrorIs(t, both, drainErr)
	assert.True(t, strings.HasPrefix(both.Error(), "walker failed"))
}
