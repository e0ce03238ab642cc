package enrich

import (
	"context"
	"fmt"
	"slices"

	"github.com/JakeFAU/newswatch/internal/crawler"
)

// DefaultThreshold is the similarity above which a candidate counts as similar.
const DefaultThreshold = 0.5

// Scorer compares the entry with each candidate by title and by content.
type Scorer struct {
	similarity crawler.Similarity
	threshold  float64
}

// NewScorer creates the scoring stage. A non-positive threshold selects DefaultThreshold.
func NewScorer(similarity crawler.Similarity, threshold float64) *Scorer {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Scorer{similarity: similarity, threshold: threshold}
}

// Task implements Stage.
func (s *Scorer) Task() crawler.TaskName { return crawler.TaskScore }

// Input implements Stage.
func (s *Scorer) Input() crawler.ProcessingState { return crawler.StateCompleted }

// Success implements Stage.
func (s *Scorer) Success() crawler.ProcessingState { return crawler.StateScored }

// Failure implements Stage.
func (s *Scorer) Failure() crawler.ProcessingState { return crawler.StateScoringFailed }

// Process scores every candidate; any scoring error fails the entry.
func (s *Scorer) Process(ctx context.Context, entry crawler.Entry) (crawler.EntryPatch, error) {
	if len(entry.Candidates) == 0 {
		return crawler.EntryPatch{}, fmt.Errorf("%w: no candidates to score", crawler.ErrEnrichment)
	}
	candidates := slices.Clone(entry.Candidates)
	for i := range candidates {
		cand := &candidates[i]
		titleScore, err := s.similarity.Compare(ctx, entry.Title, cand.Title)
		if err != nil {
			return crawler.EntryPatch{}, fmt.Errorf("%w: title similarity for %s: %w", crawler.ErrEnrichment, cand.URL, err)
		}
		contentScore, err := s.similarity.Compare(ctx, entry.Content, cand.Text)
		if err != nil {
			return crawler.EntryPatch{}, fmt.Errorf("%w: content similarity for %s: %w", crawler.ErrEnrichment, cand.URL, err)
		}
		cand.TitleSimilarity = titleScore
		cand.ContentSimilarity = contentScore
		cand.SimilarTitle = titleScore > s.threshold
		cand.SimilarContent = contentScore > s.threshold
	}
	return crawler.EntryPatch{Candidates: candidates}, nil
}
