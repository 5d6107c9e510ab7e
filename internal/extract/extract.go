// Package extract pulls chapter text and navigation buttons out of page markup
// using goquery. The selectors are configuration so a different page layout
// needs no change to the walker.
package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"

	"github.com/JakeFAU/fictionarchiver/internal/crawler"
)

// Default selectors match the Royal Road chapter layout.
const (
	DefaultContentSelector = "div.chapter-inner.chapter-content > p"
	DefaultNavSelector     = "a.btn.btn-primary.col-xs-12"
)

// Config holds the CSS selectors used by the Extractor.
type Config struct {
	ContentSelector string `mapstructure:"content_selector"`
	NavSelector     string `mapstructure:"nav_selector"`
}

// Extractor implements crawler.Extractor.
type Extractor struct {
	content cascadia.Selector
	nav     cascadia.Selector
}

// New compiles the configured selectors, falling back to the defaults for empty values.
func New(cfg Config) (*Extractor, error) {
	contentSel := strings.TrimSpace(cfg.ContentSelector)
	if contentSel == "" {
		contentSel = DefaultContentSelector
	}
	navSel := strings.TrimSpace(cfg.NavSelector)
	if navSel == "" {
		navSel = DefaultNavSelector
	}
	content, err := cascadia.Compile(contentSel)
	if err != nil {
		return nil, fmt.Errorf("compile content selector %q: %w", contentSel, err)
	}
	nav, err := cascadia.Compile(navSel)
	if err != nil {
		return nil, fmt.Errorf("compile nav selector %q: %w", navSel, err)
	}
	return &Extractor{content: content, nav: nav}, nil
}

// Extract returns the text of every content block and every navigation
// candidate, both in document order.
func (e *Extractor) Extract(body []byte) (crawler.Extraction, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return crawler.Extraction{}, fmt.Errorf("parse markup: %w", err)
	}

	var out crawler.Extraction
	doc.FindMatcher(e.content).Each(func(_ int, s *goquery.Selection) {
		out.Blocks = append(out.Blocks, s.Text())
	})
	doc.FindMatcher(e.nav).Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		out.Candidates = append(out.Candidates, crawler.Candidate{
			Text:    s.Text(),
			Href:    href,
			HasHref: ok,
		})
	})
	return out, nil
}
