package memory

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/JakeFAU/newswatch/internal/crawler"
)

// EntryStore keeps entries in a map keyed by link.
type EntryStore struct {
	mu      sync.RWMutex
	entries map[string]crawler.Entry
	clock   crawler.Clock
}

// NewEntryStore constructs an EntryStore. clock stamps UpdatedAt on state changes.
func NewEntryStore(clock crawler.Clock) *EntryStore {
	return &EntryStore{
		entries: make(map[string]crawler.Entry),
		clock:   clock,
	}
}

// FindLatest returns the newest entry of the target by publish date.
func (s *EntryStore) FindLatest(_ context.Context, target crawler.CrawlTarget) (crawler.Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		latest crawler.Entry
		found  bool
	)
	for _, e := range s.entries {
		if e.Site != target.SiteURL || e.Section != target.SectionPath {
			continue
		}
		if !found || e.PublishDate.After(latest.PublishDate) {
			latest, found = e, true
		}
	}
	return cloneEntry(latest), found, nil
}

// UpsertMany inserts entries whose link is not stored yet and returns how many were new.
func (s *EntryStore) UpsertMany(_ context.Context, entries []crawler.Entry) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inserted := 0
	for _, e := range entries {
		if _, exists := s.entries[e.Link]; exists {
			continue
		}
		s.entries[e.Link] = cloneEntry(e)
		inserted++
	}
	return inserted, nil
}

// FindByState returns up to limit entries in state, oldest publish date first.
func (s *EntryStore) FindByState(
	_ context.Context,
	state crawler.ProcessingState,
	limit int,
) ([]crawler.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []crawler.Entry
	for _, e := range s.entries {
		if e.State == state {
			out = append(out, cloneEntry(e))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PublishDate.Equal(out[j].PublishDate) {
			return out[i].Link < out[j].Link
		}
		return out[i].PublishDate.Before(out[j].PublishDate)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// UpdateState moves an entry from one state to the next and applies patch.
func (s *EntryStore) UpdateState(
	_ context.Context,
	link string,
	from, to crawler.ProcessingState,
	patch crawler.EntryPatch,
) error {
	if err := crawler.ValidateTransition(from, to); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[link]
	if !ok {
		return crawler.ErrNotFound
	}
	if e.State != from {
		return crawler.ErrStateConflict
	}
	e.State = to
	if patch.Keywords != nil {
		e.Keywords = slices.Clone(patch.Keywords)
	}
	if patch.Candidates != nil {
		e.Candidates = slices.Clone(patch.Candidates)
	}
	if s.clock != nil {
		e.UpdatedAt = s.clock.Now()
	}
	s.entries[link] = e
	return nil
}

// Get returns the stored entry for link.
func (s *EntryStore) Get(link string) (crawler.Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[link]
	return cloneEntry(e), ok
}

// Len returns the number of stored entries.
func (s *EntryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func cloneEntry(e crawler.Entry) crawler.Entry {
	e.Keywords = slices.Clone(e.Keywords)
	e.Candidates = slices.Clone(e.Candidates)
	return e
}
