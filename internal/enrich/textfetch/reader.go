// Package textfetch downloads a page and extracts its readable title and text.
package textfetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	readability "github.com/go-shiori/go-readability"

	"github.com/JakeFAU/newswatch/internal/crawler"
)

// Waiter delays requests per host.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Reader implements crawler.TextFetcher on top of a crawler.Fetcher.
type Reader struct {
	fetcher crawler.Fetcher
	limiter Waiter
}

// New creates a Reader. limiter may be nil.
func New(fetcher crawler.Fetcher, limiter Waiter) *Reader {
	return &Reader{fetcher: fetcher, limiter: limiter}
}

// FetchText fetches rawURL and runs readability extraction on the body.
func (r *Reader) FetchText(ctx context.Context, rawURL string) (crawler.Document, error) {
	pageURL, err := url.Parse(rawURL)
	if err != nil {
		return crawler.Document{}, fmt.Errorf("parse url: %w", err)
	}
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx, rawURL); err != nil {
			return crawler.Document{}, err
		}
	}
	resp, err := r.fetcher.Fetch(ctx, crawler.FetchRequest{URL: rawURL})
	if err != nil {
		return crawler.Document{}, fmt.Errorf("%w: %w", crawler.ErrTransientFetch, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return crawler.Document{}, fmt.Errorf("%w: status %d", crawler.ErrTransientFetch, resp.StatusCode)
	}
	if len(bytes.TrimSpace(resp.Body)) == 0 {
		return crawler.Document{}, errors.New("empty body")
	}

	article, err := readability.FromReader(bytes.NewReader(resp.Body), pageURL)
	if err != nil {
		return crawler.Document{}, fmt.Errorf("extract readable text: %w", err)
	}
	doc := crawler.Document{
		URL:   rawURL,
		Title: strings.TrimSpace(article.Title),
		Text:  strings.TrimSpace(article.TextContent),
	}
	if doc.Text == "" {
		return crawler.Document{}, errors.New("no readable text")
	}
	return doc, nil
}
