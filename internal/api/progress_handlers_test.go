package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/newswatch/internal/config"
	"github.com/JakeFAU/newswatch/internal/crawler"
	"github.com/JakeFAU/newswatch/internal/storage/memory"
)

func TestProgressHandlerListRuns(t *testing.T) {
	t.Parallel()

	runs := memory.NewRunStore()
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, runs.StartRun(ctx, crawler.JobRun{
		ID: "a", Task: crawler.TaskCrawl, Status: crawler.JobStatusSucceeded, StartedAt: base,
	}))
	require.NoError(t, runs.StartRun(ctx, crawler.JobRun{
		ID: "b", Task: crawler.TaskSearch, Status: crawler.JobStatusFailed, StartedAt: base.Add(time.Minute),
	}))
	require.NoError(t, runs.StartRun(ctx, crawler.JobRun{
		ID: "c", Task: crawler.TaskCrawl, Status: crawler.JobStatusSucceeded, StartedAt: base.Add(2 * time.Minute),
	}))
	handler := NewProgressHandler(runs, nil, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/v1/runs?status=success&limit=10", nil)
	rec := httptest.NewRecorder()

	handler.ListRuns(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Runs []crawler.JobRun `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Runs, 2)
	require.Equal(t, "c", body.Runs[0].ID)
	require.Equal(t, "a", body.Runs[1].ID)
}

func TestProgressHandlerListRunsBadQuery(t *testing.T) {
	t.Parallel()

	handler := NewProgressHandler(memory.NewRunStore(), nil, zap.NewNop())
	for _, query := range []string{"?limit=-1", "?offset=x", "?status=paused"} {
		rec := httptest.NewRecorder()
		handler.ListRuns(rec, httptest.NewRequest(http.MethodGet, "/v1/runs"+query, nil))
		require.Equal(t, http.StatusBadRequest, rec.Code, query)
	}
}

func TestProgressHandlerListRunsStoreError(t *testing.T) {
	t.Parallel()

	handler := NewProgressHandler(failingRuns{}, nil, zap.NewNop())
	rec := httptest.NewRecorder()
	handler.ListRuns(rec, httptest.NewRequest(http.MethodGet, "/v1/runs", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestProgressHandlerListEntriesByState(t *testing.T) {
	t.Parallel()

	entries := memory.NewEntryStore(&fakeClock{now: testNow})
	_, err := entries.UpsertMany(context.Background(), []crawler.Entry{
		{Link: "https://news.example.ro/a", State: crawler.StateSearchFailed, PublishDate: testNow},
		{Link: "https://news.example.ro/b", State: crawler.StateIngested, PublishDate: testNow},
	})
	require.NoError(t, err)
	handler := NewProgressHandler(nil, entries, zap.NewNop())

	rec := httptest.NewRecorder()
	handler.ListEntries(rec, httptest.NewRequest(http.MethodGet, "/v1/entries?state=-1&limit=50", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		State   string          `json:"state"`
		Entries []crawler.Entry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "search_failed", body.State)
	require.Len(t, body.Entries, 1)
	require.Equal(t, "https://news.example.ro/a", body.Entries[0].Link)
}

func TestProgressHandlerListEntriesBadState(t *testing.T) {
	t.Parallel()

	handler := NewProgressHandler(nil, memory.NewEntryStore(&fakeClock{now: testNow}), zap.NewNop())
	for _, query := range []string{"", "?state=abc", "?state=9", "?state=1&limit=0"} {
		rec := httptest.NewRecorder()
		handler.ListEntries(rec, httptest.NewRequest(http.MethodGet, "/v1/entries"+query, nil))
		require.Equal(t, http.StatusBadRequest, rec.Code, query)
	}
}

func TestProgressHandlerUnavailable(t *testing.T) {
	t.Parallel()

	handler := NewProgressHandler(nil, nil, zap.NewNop())

	rec := httptest.NewRecorder()
	handler.ListRuns(rec, httptest.NewRequest(http.MethodGet, "/v1/runs", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	handler.ListEntries(rec, httptest.NewRequest(http.MethodGet, "/v1/entries?state=0", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestProgressRoutesMounted(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: testNow}
	progress := NewProgressHandler(memory.NewRunStore(), memory.NewEntryStore(clock), zap.NewNop())
	server := NewServer(testTargets(), nil, progress, nil, clock, config.Config{}, zap.NewNop())

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"runs":[]}`, rec.Body.String())

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/entries?state=0", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

type failingRuns struct{}

func (failingRuns) StartRun(context.Context, crawler.JobRun) error  { return nil }
func (failingRuns) FinishRun(context.Context, crawler.JobRun) error { return nil }
func (failingRuns) ListRuns(context.Context, *crawler.JobStatus, int, int) ([]crawler.JobRun, error) {
	return nil, errors.New("db down")
}
