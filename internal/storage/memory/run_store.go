package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/JakeFAU/newswatch/internal/crawler"
)

// RunStore keeps job-run history in memory.
type RunStore struct {
	mu   sync.RWMutex
	runs map[string]crawler.JobRun
}

// NewRunStore constructs a RunStore.
func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[string]crawler.JobRun)}
}

// StartRun records a run that has been admitted. A redelivered id restarts the run.
func (s *RunStore) StartRun(_ context.Context, run crawler.JobRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run
	return nil
}

// FinishRun stores the final status of a run, inserting runs that never started.
func (s *RunStore) FinishRun(_ context.Context, run crawler.JobRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.runs[run.ID]
	if !ok {
		s.runs[run.ID] = run
		return nil
	}
	prev.Status = run.Status
	prev.FinishedAt = run.FinishedAt
	prev.ErrorMessage = run.ErrorMessage
	prev.Processed = run.Processed
	s.runs[run.ID] = prev
	return nil
}

// ListRuns returns runs newest first, optionally filtered by status.
func (s *RunStore) ListRuns(
	_ context.Context,
	status *crawler.JobStatus,
	limit, offset int,
) ([]crawler.JobRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []crawler.JobRun
	for _, r := range s.runs {
		if status != nil && r.Status != *status {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if offset >= len(out) {
		return []crawler.JobRun{}, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
