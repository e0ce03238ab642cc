package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/newswatch/internal/crawl"
	"github.com/JakeFAU/newswatch/internal/crawler"
	"github.com/JakeFAU/newswatch/internal/enrich"
	"github.com/JakeFAU/newswatch/internal/storage/memory"
)

const targetKey = "https://news.example.ro/politica"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

type fakeQueue struct {
	mu    sync.Mutex
	items []crawler.JobMessage
}

func (q *fakeQueue) Enqueue(_ context.Context, msg crawler.JobMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, msg)
	return nil
}

func (q *fakeQueue) Dequeue(context.Context) (crawler.JobMessage, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return crawler.JobMessage{}, crawler.ErrQueueClosed
	}
	msg := q.items[0]
	q.items = q.items[1:]
	return msg, nil
}

type fakeTargets struct{}

func (fakeTargets) Lookup(key string) (crawler.CrawlTarget, error) {
	if key != targetKey {
		return crawler.CrawlTarget{}, crawler.ErrUnknownTarget
	}
	return crawler.CrawlTarget{SiteURL: "https://news.example.ro", SectionPath: "/politica"}, nil
}

type fakeCrawls struct {
	mu       sync.Mutex
	calls    []crawler.CrawlTarget
	soft     time.Time
	hasSoft  bool
	err      error
	block    bool
	inserted int
}

func (f *fakeCrawls) Run(ctx context.Context, target crawler.CrawlTarget) (crawl.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, target)
	f.soft, f.hasSoft = crawler.SoftDeadline(ctx)
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return crawl.Result{}, ctx.Err()
	}
	return crawl.Result{Target: target.Key(), Inserted: f.inserted, Visited: []int{2, 1}}, f.err
}

type fakeEnrich struct {
	tasks []crawler.TaskName
	res   enrich.Result
	err   error
}

func (f *fakeEnrich) Run(_ context.Context, task crawler.TaskName) (enrich.Result, error) {
	f.tasks = append(f.tasks, task)
	return f.res, f.err
}

type fixture struct {
	clock  *fakeClock
	runs   *memory.RunStore
	crawls *fakeCrawls
	enrich *fakeEnrich
	worker *Worker
	queue  *fakeQueue
}

var testPolicies = map[crawler.TaskName]crawler.TaskPolicy{
	crawler.TaskCrawl:  {Soft: 600 * time.Second, Hard: 660 * time.Second, Lease: 720 * time.Second},
	crawler.TaskSearch: {Soft: 3000 * time.Second, Hard: 3300 * time.Second, Lease: 3600 * time.Second},
	crawler.TaskScore:  {Soft: 6000 * time.Second, Hard: 6600 * time.Second, Lease: 7200 * time.Second},
}

func newFixture(policies map[crawler.TaskName]crawler.TaskPolicy) *fixture {
	f := &fixture{
		clock:  &fakeClock{now: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)},
		runs:   memory.NewRunStore(),
		crawls: &fakeCrawls{inserted: 6},
		enrich: &fakeEnrich{},
		queue:  &fakeQueue{},
	}
	f.worker = New(f.queue, f.runs, fakeTargets{}, f.crawls, f.enrich, f.clock,
		Config{Policies: policies}, zap.NewNop())
	return f
}

func (f *fixture) message(task crawler.TaskName, target string) crawler.JobMessage {
	now := f.clock.Now()
	return crawler.JobMessage{
		ID:         "job-" + string(task),
		TaskName:   task,
		TargetKey:  target,
		EnqueuedAt: now,
		ExpiresAt:  now.Add(time.Hour),
	}
}

func (f *fixture) storedRun(t *testing.T, id string) crawler.JobRun {
	t.Helper()
	runs, err := f.runs.ListRuns(context.Background(), nil, 100, 0)
	require.NoError(t, err)
	for _, r := range runs {
		if r.ID == id {
			return r
		}
	}
	t.Fatalf("run %s not recorded", id)
	return crawler.JobRun{}
}

func TestExecuteCrawlSucceeds(t *testing.T) {
	t.Parallel()

	f := newFixture(testPolicies)
	run := f.worker.Execute(context.Background(), f.message(crawler.TaskCrawl, targetKey))

	require.Equal(t, crawler.JobStatusSucceeded, run.Status)
	require.Equal(t, 6, run.Processed)
	require.Nil(t, run.ErrorMessage)
	require.Len(t, f.crawls.calls, 1)
	require.Equal(t, targetKey, f.crawls.calls[0].Key())

	stored := f.storedRun(t, run.ID)
	require.Equal(t, crawler.JobStatusSucceeded, stored.Status)
	require.NotNil(t, stored.FinishedAt)
}

func TestExecuteAttachesSoftDeadline(t *testing.T) {
	t.Parallel()

	f := newFixture(testPolicies)
	f.worker.Execute(context.Background(), f.message(crawler.TaskCrawl, targetKey))

	require.True(t, f.crawls.hasSoft)
	require.Equal(t, f.clock.Now().Add(600*time.Second), f.crawls.soft)
}

func TestExecuteLockContentionIsRejected(t *testing.T) {
	t.Parallel()

	f := newFixture(testPolicies)
	f.crawls.err = crawler.ErrLockContention
	run := f.worker.Execute(context.Background(), f.message(crawler.TaskCrawl, targetKey))

	require.Equal(t, crawler.JobStatusRejected, run.Status)
	require.Nil(t, run.ErrorMessage, "rejection is not a failure")
	require.Equal(t, crawler.JobStatusRejected, f.storedRun(t, run.ID).Status)
}

func TestExecuteDropsExpiredMessages(t *testing.T) {
	t.Parallel()

	f := newFixture(testPolicies)
	msg := f.message(crawler.TaskCrawl, targetKey)
	msg.ExpiresAt = f.clock.Now()

	run := f.worker.Execute(context.Background(), msg)
	require.Equal(t, crawler.JobStatusExpired, run.Status)
	require.Empty(t, f.crawls.calls)
	require.Equal(t, crawler.JobStatusExpired, f.storedRun(t, run.ID).Status)
}

func TestExecuteFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		msg     func(f *fixture) crawler.JobMessage
		setup   func(f *fixture)
		wantErr string
	}{
		{
			name:    "unknown target",
			msg:     func(f *fixture) crawler.JobMessage { return f.message(crawler.TaskCrawl, "https://other.example.ro/x") },
			wantErr: crawler.ErrUnknownTarget.Error(),
		},
		{
			name:    "task without policy",
			msg:     func(f *fixture) crawler.JobMessage { return f.message(crawler.TaskComplete, "") },
			wantErr: crawler.ErrUnknownTask.Error(),
		},
		{
			name:    "archive unreachable",
			msg:     func(f *fixture) crawler.JobMessage { return f.message(crawler.TaskCrawl, targetKey) },
			setup:   func(f *fixture) { f.crawls.err = crawler.ErrArchiveUnreachable },
			wantErr: crawler.ErrArchiveUnreachable.Error(),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(testPolicies)
			if tt.setup != nil {
				tt.setup(f)
			}
			run := f.worker.Execute(context.Background(), tt.msg(f))
			require.Equal(t, crawler.JobStatusFailed, run.Status)
			require.NotNil(t, run.ErrorMessage)
			assert.Contains(t, *run.ErrorMessage, tt.wantErr)
		})
	}
}

func TestExecuteHardTimeoutCancelsJob(t *testing.T) {
	t.Parallel()

	policies := map[crawler.TaskName]crawler.TaskPolicy{
		crawler.TaskCrawl: {Soft: 10 * time.Millisecond, Hard: 30 * time.Millisecond, Lease: time.Second},
	}
	f := newFixture(policies)
	f.crawls.block = true

	done := make(chan crawler.JobRun, 1)
	go func() { done <- f.worker.Execute(context.Background(), f.message(crawler.TaskCrawl, targetKey)) }()

	select {
	case run := <-done:
		require.Equal(t, crawler.JobStatusFailed, run.Status)
		require.NotNil(t, run.ErrorMessage)
		assert.Contains(t, *run.ErrorMessage, "hard timeout")
	case <-time.After(5 * time.Second):
		t.Fatal("hard timeout did not cancel the job")
	}
}

func TestExecuteEnrichmentTask(t *testing.T) {
	t.Parallel()

	f := newFixture(testPolicies)
	f.enrich.res = enrich.Result{Task: crawler.TaskSearch, Scanned: 5, Succeeded: 3, Failed: 1, Conflicts: 1}
	run := f.worker.Execute(context.Background(), f.message(crawler.TaskSearch, ""))

	require.Equal(t, crawler.JobStatusSucceeded, run.Status)
	require.Equal(t, 4, run.Processed)
	require.Equal(t, []crawler.TaskName{crawler.TaskSearch}, f.enrich.tasks)
	require.Empty(t, f.crawls.calls)
}

func TestExecuteEnrichmentPersistenceFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(testPolicies)
	f.enrich.err = errors.Join(crawler.ErrPersistence, errors.New("connection reset"))
	run := f.worker.Execute(context.Background(), f.message(crawler.TaskScore, ""))

	require.Equal(t, crawler.JobStatusFailed, run.Status)
	require.Contains(t, *run.ErrorMessage, "connection reset")
}

func TestRunDrainsQueueUntilClosed(t *testing.T) {
	t.Parallel()

	f := newFixture(testPolicies)
	require.NoError(t, f.queue.Enqueue(context.Background(), f.message(crawler.TaskCrawl, targetKey)))
	require.NoError(t, f.queue.Enqueue(context.Background(), f.message(crawler.TaskSearch, "")))

	done := make(chan struct{})
	go func() {
		f.worker.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop on closed queue")
	}

	runs, err := f.runs.ListRuns(context.Background(), nil, 10, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
}
