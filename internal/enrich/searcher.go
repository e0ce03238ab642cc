package enrich

import (
	"context"
	"fmt"

	"github.com/JakeFAU/newswatch/internal/crawler"
	"github.com/JakeFAU/newswatch/internal/enrich/keywords"
)

const maxContentKeywords = 20

// CandidateFilter decides which search hits may become candidates.
type CandidateFilter interface {
	AllowCandidate(rawURL string) bool
}

// Searcher extracts keywords and attaches similar articles found by a search backend.
type Searcher struct {
	search crawler.Searcher
	filter CandidateFilter
	limit  int
}

// NewSearcher creates the search stage. filter may be nil.
func NewSearcher(search crawler.Searcher, filter CandidateFilter, limit int) *Searcher {
	return &Searcher{search: search, filter: filter, limit: limit}
}

// Task implements Stage.
func (s *Searcher) Task() crawler.TaskName { return crawler.TaskSearch }

// Input implements Stage.
func (s *Searcher) Input() crawler.ProcessingState { return crawler.StateIngested }

// Success implements Stage.
func (s *Searcher) Success() crawler.ProcessingState { return crawler.StateSearched }

// Failure implements Stage.
func (s *Searcher) Failure() crawler.ProcessingState { return crawler.StateSearchFailed }

// Process queries with the title keywords and keeps hits other than the entry itself.
func (s *Searcher) Process(ctx context.Context, entry crawler.Entry) (crawler.EntryPatch, error) {
	titleKeywords := keywords.Extract(entry.Title, 0)
	contentKeywords := keywords.Extract(entry.Content, maxContentKeywords)
	patch := crawler.EntryPatch{
		Keywords:   keywords.Merge(titleKeywords, contentKeywords),
		Candidates: []crawler.Candidate{},
	}
	if len(titleKeywords) == 0 {
		return patch, fmt.Errorf("%w: no title keywords", crawler.ErrEnrichment)
	}

	hits, err := s.search.Search(ctx, crawler.SearchQuery{
		Keywords: titleKeywords,
		Exclude:  []string{entry.Link},
		Limit:    s.limit,
	})
	if err != nil {
		return patch, fmt.Errorf("%w: search: %w", crawler.ErrEnrichment, err)
	}
	for _, hit := range hits {
		if hit.URL == "" || hit.URL == entry.Link {
			continue
		}
		if s.filter != nil && !s.filter.AllowCandidate(hit.URL) {
			continue
		}
		patch.Candidates = append(patch.Candidates, hit)
	}
	if len(patch.Candidates) == 0 {
		return patch, fmt.Errorf("%w: no candidates found", crawler.ErrEnrichment)
	}
	return patch, nil
}
