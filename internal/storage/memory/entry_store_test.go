package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/newswatch/internal/crawler"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func entry(link string, day int, state crawler.ProcessingState) crawler.Entry {
	return crawler.Entry{
		Site:        "https://site.ro",
		Section:     "/stiri",
		Link:        link,
		PublishDate: time.Date(2024, 3, day, 0, 0, 0, 0, time.UTC),
		State:       state,
	}
}

func TestEntryStoreUpsertIsIdempotent(t *testing.T) {
	t.Parallel()

	store := NewEntryStore(nil)
	ctx := context.Background()
	batch := []crawler.Entry{entry("a", 1, crawler.StateIngested), entry("b", 2, crawler.StateIngested)}

	n, err := store.UpsertMany(ctx, batch)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	batch[0].Title = "changed"
	n, err = store.UpsertMany(ctx, batch)
	require.NoError(t, err)
	require.Zero(t, n)
	got, _ := store.Get("a")
	require.Empty(t, got.Title, "existing rows are never overwritten")
}

func TestEntryStoreFindLatest(t *testing.T) {
	t.Parallel()

	store := NewEntryStore(nil)
	ctx := context.Background()
	target := crawler.CrawlTarget{SiteURL: "https://site.ro", SectionPath: "/stiri"}

	_, found, err := store.FindLatest(ctx, target)
	require.NoError(t, err)
	require.False(t, found)

	other := entry("z", 28, crawler.StateIngested)
	other.Section = "/sport"
	_, err = store.UpsertMany(ctx, []crawler.Entry{entry("a", 3, 0), entry("b", 9, 0), other})
	require.NoError(t, err)

	latest, found, err := store.FindLatest(ctx, target)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "b", latest.Link)
}

func TestEntryStoreFindByStateOrdersByDate(t *testing.T) {
	t.Parallel()

	store := NewEntryStore(nil)
	ctx := context.Background()
	_, err := store.UpsertMany(ctx, []crawler.Entry{
		entry("late", 20, crawler.StateIngested),
		entry("early", 1, crawler.StateIngested),
		entry("mid", 10, crawler.StateIngested),
		entry("done", 5, crawler.StateSearched),
	})
	require.NoError(t, err)

	got, err := store.FindByState(ctx, crawler.StateIngested, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "early", got[0].Link)
	require.Equal(t, "mid", got[1].Link)
}

func TestEntryStoreUpdateStateGuards(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	store := NewEntryStore(fixedClock{now: now})
	ctx := context.Background()
	_, err := store.UpsertMany(ctx, []crawler.Entry{entry("a", 1, crawler.StateIngested)})
	require.NoError(t, err)

	patch := crawler.EntryPatch{
		Keywords:   []string{"guvern"},
		Candidates: []crawler.Candidate{{URL: "https://other.ro/x"}},
	}
	require.NoError(t, store.UpdateState(ctx, "a", crawler.StateIngested, crawler.StateSearched, patch))
	got, _ := store.Get("a")
	require.Equal(t, crawler.StateSearched, got.State)
	require.Equal(t, []string{"guvern"}, got.Keywords)
	require.Len(t, got.Candidates, 1)
	require.Equal(t, now, got.UpdatedAt)

	err = store.UpdateState(ctx, "a", crawler.StateIngested, crawler.StateSearched, crawler.EntryPatch{})
	require.ErrorIs(t, err, crawler.ErrStateConflict)

	err = store.UpdateState(ctx, "a", crawler.StateSearched, crawler.StateIngested, crawler.EntryPatch{})
	require.ErrorIs(t, err, crawler.ErrInvalidTransition)

	err = store.UpdateState(ctx, "missing", crawler.StateIngested, crawler.StateSearched, crawler.EntryPatch{})
	require.ErrorIs(t, err, crawler.ErrNotFound)

	require.NoError(t, store.UpdateState(ctx, "a", crawler.StateSearched, crawler.StateCompletionFailed, crawler.EntryPatch{}))
	got, _ = store.Get("a")
	require.Equal(t, []string{"guvern"}, got.Keywords, "nil patch fields keep stored values")
}

func TestRunStoreLifecycle(t *testing.T) {
	t.Parallel()

	store := NewRunStore()
	ctx := context.Background()
	base := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.StartRun(ctx, crawler.JobRun{ID: "1", Task: crawler.TaskCrawl, Status: crawler.JobStatusDispatched, StartedAt: base}))
	require.NoError(t, store.StartRun(ctx, crawler.JobRun{ID: "2", Task: crawler.TaskSearch, Status: crawler.JobStatusDispatched, StartedAt: base.Add(time.Minute)}))

	finished := base.Add(2 * time.Minute)
	require.NoError(t, store.FinishRun(ctx, crawler.JobRun{ID: "1", Status: crawler.JobStatusRejected, FinishedAt: &finished}))
	expired := crawler.JobRun{ID: "3", Task: crawler.TaskScore, Status: crawler.JobStatusExpired, StartedAt: base.Add(-time.Hour)}
	require.NoError(t, store.FinishRun(ctx, expired))

	all, err := store.ListRuns(ctx, nil, 10, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "2", all[0].ID)
	require.Equal(t, "3", all[2].ID)

	rejected := crawler.JobStatusRejected
	only, err := store.ListRuns(ctx, &rejected, 10, 0)
	require.NoError(t, err)
	require.Len(t, only, 1)
	require.Equal(t, crawler.TaskCrawl, only[0].Task)

	empty, err := store.ListRuns(ctx, nil, 10, 5)
	require.NoError(t, err)
	require.Empty(t, empty)
}
