package enrich

import (
	"context"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/JakeFAU/newswatch/internal/crawler"
)

// FetchFilter decides which candidate links the text fetcher reads.
type FetchFilter interface {
	AllowFetch(rawURL string) bool
}

// Completer fills candidate title and text from the candidate pages.
type Completer struct {
	fetcher crawler.TextFetcher
	filter  FetchFilter
	logger  *zap.Logger
}

// NewCompleter creates the completion stage. filter may be nil.
func NewCompleter(fetcher crawler.TextFetcher, filter FetchFilter, logger *zap.Logger) *Completer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Completer{fetcher: fetcher, filter: filter, logger: logger}
}

// Task implements Stage.
func (c *Completer) Task() crawler.TaskName { return crawler.TaskComplete }

// Input implements Stage.
func (c *Completer) Input() crawler.ProcessingState { return crawler.StateSearched }

// Success implements Stage.
func (c *Completer) Success() crawler.ProcessingState { return crawler.StateCompleted }

// Failure implements Stage.
func (c *Completer) Failure() crawler.ProcessingState { return crawler.StateCompletionFailed }

// Process fetches every readable candidate. The entry fails when none could be read.
func (c *Completer) Process(ctx context.Context, entry crawler.Entry) (crawler.EntryPatch, error) {
	candidates := slices.Clone(entry.Candidates)
	completed := 0
	for i := range candidates {
		if err := ctx.Err(); err != nil {
			return crawler.EntryPatch{}, err
		}
		cand := &candidates[i]
		if c.filter != nil && !c.filter.AllowFetch(cand.URL) {
			continue
		}
		doc, err := c.fetcher.FetchText(ctx, cand.URL)
		if err != nil {
			c.logger.Debug("candidate fetch failed",
				zap.String("link", entry.Link),
				zap.String("candidate", cand.URL),
				zap.Error(err),
			)
			continue
		}
		if doc.Title != "" {
			cand.Title = doc.Title
		}
		cand.Text = truncateWords(cleanText(doc.Text), MaxCandidateWords)
		completed++
	}
	patch := crawler.EntryPatch{Candidates: candidates}
	if completed == 0 {
		return patch, fmt.Errorf("%w: no candidate of %d could be read", crawler.ErrEnrichment, len(candidates))
	}
	return patch, nil
}
