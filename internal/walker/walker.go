// Package walker follows a chapter pagination chain one fetch at a time and
// hands every extracted chapter to the archive relay without waiting for it
// to be accepted.
package walker

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/fictionarchiver/internal/crawler"
	"github.com/JakeFAU/fictionarchiver/internal/metrics"
)

// DefaultNextText is the normalized text of the button that links to the next chapter.
const DefaultNextText = "next chapter"

// blockSeparator joins the text blocks of one page.
const blockSeparator = "\n\n"

// Sender is the producer side of the relay.
type Sender interface {
	Send(ctx context.Context, chapter crawler.Chapter) error
	Close()
}

// Config controls the walker.
type Config struct {
	// NextText is compared against each navigation candidate after trimming
	// and lower-casing. Only an exact match counts.
	NextText string
	// MaxPendingHandoffs bounds how many chapters may wait on the relay at
	// once. When the bound is reached the walker waits before fetching on.
	// 0 leaves it unbounded, which suits a relay that never blocks.
	MaxPendingHandoffs int
}

// Walker drives fetch, extract and advance over one pagination chain.
type Walker struct {
	fetcher    crawler.Fetcher
	extractor  crawler.Extractor
	nextText   string
	maxPending int
	logger     *zap.Logger
}

// New constructs a Walker.
func New(fetcher crawler.Fetcher, extractor crawler.Extractor, cfg Config, logger *zap.Logger) *Walker {
	if logger == nil {
		logger = zap.NewNop()
	}
	nextText := normalize(cfg.NextText)
	if nextText == "" {
		nextText = DefaultNextText
	}
	return &Walker{
		fetcher:    fetcher,
		extractor:  extractor,
		nextText:   nextText,
		maxPending: max(cfg.MaxPendingHandoffs, 0),
		logger:     logger,
	}
}

// Walk follows the chain starting at start until a page has no next-chapter
// link, handing every page to out. It closes out once every dispatched
// handoff has finished, whether the walk succeeded or not. The first fetch,
// extraction, naming or handoff error aborts the walk and is returned.
func (w *Walker) Walk(ctx context.Context, start *url.URL, out Sender) error {
	defer out.Close()

	var slots chan struct{}
	if w.maxPending > 0 {
		slots = make(chan struct{}, w.maxPending)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return w.walk(gctx, g, slots, start, out)
	})
	return g.Wait()
}

func (w *Walker) walk(ctx context.Context, g *errgroup.Group, slots chan struct{}, cursor *url.URL, out Sender) error {
	var referer *url.URL
	for seq := uint64(0); ; seq++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("walk canceled before %s: %w", cursor, err)
		}

		chapter, next, err := w.visit(ctx, seq, cursor, referer)
		if err != nil {
			return err
		}
		if err := w.handoff(ctx, g, slots, out, chapter); err != nil {
			return err
		}

		if next == nil {
			w.logger.Info("reached end of chapter chain",
				zap.String("url", cursor.String()),
				zap.Uint64("pages", seq+1),
			)
			return nil
		}
		referer, cursor = cursor, next
	}
}

// visit fetches and extracts one page. next is nil when the chain ends here.
// Pages reached through a next link carry the linking page as Referer.
func (w *Walker) visit(
	ctx context.Context,
	seq uint64,
	pageURL, referer *url.URL,
) (crawler.Chapter, *url.URL, error) {
	name, err := crawler.ChapterName(pageURL)
	if err != nil {
		return crawler.Chapter{}, nil, err
	}

	request := crawler.FetchRequest{URL: pageURL.String()}
	if referer != nil {
		request.Headers = http.Header{"Referer": {referer.String()}}
	}
	resp, err := w.fetcher.Fetch(ctx, request)
	if err != nil {
		return crawler.Chapter{}, nil, &crawler.FetchError{URL: pageURL.String(), Err: err}
	}

	extraction, err := w.extractor.Extract(resp.Body)
	if err != nil {
		return crawler.Chapter{}, nil, &crawler.ExtractionError{URL: pageURL.String(), Err: err}
	}
	chapter := crawler.Chapter{
		Seq:     seq,
		Name:    name,
		Content: []byte(strings.Join(extraction.Blocks, blockSeparator)),
	}
	w.logger.Info("parsed chapter",
		zap.String("chapter", name),
		zap.Int("blocks", len(extraction.Blocks)),
	)

	href, ok := w.nextLink(extraction.Candidates)
	if !ok {
		return chapter, nil, nil
	}
	next, err := crawler.ResolveNext(pageURL, href)
	if err != nil {
		return crawler.Chapter{}, nil, &crawler.ExtractionError{URL: pageURL.String(), Err: err}
	}
	return chapter, next, nil
}

// nextLink returns the target of the first candidate whose normalized text is
// exactly the next-chapter phrase. Later candidates are ignored even when the
// first match has no usable target.
func (w *Walker) nextLink(candidates []crawler.Candidate) (string, bool) {
	for _, c := range candidates {
		if normalize(c.Text) != w.nextText {
			continue
		}
		if !c.HasHref || strings.TrimSpace(c.Href) == "" {
			return "", false
		}
		return c.Href, true
	}
	return "", false
}

// handoff sends the chapter on its own goroutine so the next fetch can start
// right away. With bounded slots it first waits for a free one.
func (w *Walker) handoff(
	ctx context.Context,
	g *errgroup.Group,
	slots chan struct{},
	out Sender,
	chapter crawler.Chapter,
) error {
	if slots != nil {
		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
			return fmt.Errorf("handoff of %s canceled: %w", chapter.Name, ctx.Err())
		}
	}
	g.Go(func() error {
		if slots != nil {
			defer func() { <-slots }()
		}
		if err := out.Send(ctx, chapter); err != nil {
			w.logger.Error("chapter handoff failed", zap.String("chapter", chapter.Name), zap.Error(err))
			return &crawler.HandoffError{Chapter: chapter.Name, Err: err}
		}
		metrics.ObserveHandoff()
		w.logger.Info("handed off chapter",
			zap.String("chapter", chapter.Name),
			zap.Uint64("seq", chapter.Seq),
		)
		return nil
	})
	return nil
}

func normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}
