package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/newswatch/internal/config"
	"github.com/JakeFAU/newswatch/internal/crawler"
	"github.com/JakeFAU/newswatch/internal/dispatcher"
	queueMemory "github.com/JakeFAU/newswatch/internal/queue/memory"
)

func TestServer_SubmitCrawlJob_Succeeds(t *testing.T) {
	t.Parallel()

	q := queueMemory.NewQueue(10)
	server := newTestServerWithQueue(q, config.Config{})

	body := `{"task":"crawl","target_key":"https://news.example.ro/politica"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Contains(t, rec.Body.String(), "job-1")
	msg, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "job-1", msg.ID)
	require.Equal(t, crawler.TaskCrawl, msg.TaskName)
	require.Equal(t, "https://news.example.ro/politica", msg.TargetKey)
	require.Equal(t, "crawl", msg.QueueName)
	require.True(t, msg.ExpiresAt.IsZero())
}

func TestServer_SubmitEnrichmentJob_WithExpiry(t *testing.T) {
	t.Parallel()

	q := queueMemory.NewQueue(10)
	server := newTestServerWithQueue(q, config.Config{})

	body := `{"task":"score","expires_in_seconds":600}`
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	msg, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, crawler.TaskScore, msg.TaskName)
	require.Empty(t, msg.TargetKey)
	require.Equal(t, testNow, msg.EnqueuedAt)
	require.Equal(t, testNow.Add(10*time.Minute), msg.ExpiresAt)
}

func TestServer_SubmitJob_Rejects(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		body   string
		status int
		msg    string
	}{
		{name: "invalid JSON", body: "{invalid", status: http.StatusBadRequest, msg: "invalid JSON"},
		{name: "unknown task", body: `{"task":"publish"}`, status: http.StatusBadRequest, msg: "unknown task"},
		{name: "crawl without target", body: `{"task":"crawl"}`, status: http.StatusBadRequest, msg: "target_key required"},
		{
			name:   "unknown target",
			body:   `{"task":"crawl","target_key":"https://other.example/x"}`,
			status: http.StatusNotFound,
			msg:    "unknown crawl target",
		},
		{
			name:   "enrichment with target",
			body:   `{"task":"search","target_key":"https://news.example.ro/politica"}`,
			status: http.StatusBadRequest,
			msg:    "does not take a target",
		},
		{
			name:   "non-positive expiry",
			body:   `{"task":"search","expires_in_seconds":0}`,
			status: http.StatusBadRequest,
			msg:    "expires_in_seconds",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			q := queueMemory.NewQueue(1)
			server := newTestServerWithQueue(q, config.Config{})
			req := httptest.NewRequest(http.MethodPost, "/v1/jobs", bytes.NewBufferString(tc.body))
			rec := httptest.NewRecorder()

			server.Handler().ServeHTTP(rec, req)

			require.Equal(t, tc.status, rec.Code)
			require.Contains(t, rec.Body.String(), tc.msg)
			require.Zero(t, q.Depth())
		})
	}
}

func TestServer_SubmitJob_EnqueueError(t *testing.T) {
	t.Parallel()

	server := NewServer(
		testTargets(),
		failingEnqueuer{err: errors.New("broker down")},
		nil,
		nil,
		&fakeClock{now: testNow},
		config.Config{},
		zap.NewNop(),
	)
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", bytes.NewBufferString(`{"task":"search"}`))
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotContains(t, rec.Body.String(), "broker down")
}

func TestServer_ListTargets(t *testing.T) {
	t.Parallel()

	server := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/v1/targets", nil)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Targets []targetDTO `json:"targets"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, []targetDTO{
		{
			Key:         "https://news.example.ro/politica",
			SiteURL:     "https://news.example.ro",
			SectionPath: "/politica",
			URL:         "https://news.example.ro/politica",
		},
	}, body.Targets)
}

func TestServer_Readyz(t *testing.T) {
	t.Parallel()

	checks := map[string]ReadyCheck{
		"entries": func(context.Context) error { return nil },
	}
	server := NewServer(testTargets(), nil, nil, checks, &fakeClock{now: testNow}, config.Config{}, zap.NewNop())
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	checks["redis"] = func(context.Context) error { return errors.New("connection refused") }
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "connection refused")
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	newTestServer().Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	cfg := config.Config{
		Auth: config.AuthConfig{
			Enabled: true,
			APIKey:  "secret",
		},
	}
	server := newTestServerWithQueue(queueMemory.NewQueue(1), cfg)

	req := httptest.NewRequest(http.MethodGet, "/v1/targets", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/targets", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_ProgressRoutesAbsentWithoutHandler(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	newTestServer().Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	newTestServer().Handler().ServeHTTP(rec, req)

	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	h := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	if _, _, err := rw.Hijack(); err == nil || err.Error() != "hijacker not supported" {
		t.Fatalf("expected unsupported hijacker error, got %v", err)
	}

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	if err != nil {
		t.Fatalf("expected successful hijack, got %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("close hijacked conn: %v", err)
	}
	if err := h.CloseClient(); err != nil {
		t.Fatalf("close hijacked client: %v", err)
	}
	if buf == nil {
		t.Fatal("expected buf to be non-nil")
	}
}

// --- helpers/fakes ---

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeIDGen struct {
	mu   sync.Mutex
	next int
}

func (f *fakeIDGen) NewID() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	return fmt.Sprintf("job-%d", f.next), nil
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

type fakeTargets struct {
	targets []crawler.CrawlTarget
}

func (f fakeTargets) Targets() []crawler.CrawlTarget {
	return f.targets
}

func (f fakeTargets) Lookup(key string) (crawler.CrawlTarget, error) {
	for _, t := range f.targets {
		if t.Key() == key {
			return t, nil
		}
	}
	return crawler.CrawlTarget{}, fmt.Errorf("%w: %s", crawler.ErrUnknownTarget, key)
}

func testTargets() fakeTargets {
	return fakeTargets{targets: []crawler.CrawlTarget{
		{SiteURL: "https://news.example.ro", SectionPath: "/politica"},
	}}
}

type failingEnqueuer struct {
	err error
}

func (f failingEnqueuer) Enqueue(context.Context, crawler.JobMessage) (crawler.JobMessage, error) {
	return crawler.JobMessage{}, f.err
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}

func newTestServer() *Server {
	return newTestServerWithQueue(queueMemory.NewQueue(10), config.Config{})
}

func newTestServerWithQueue(q *queueMemory.Queue, cfg config.Config) *Server {
	clock := &fakeClock{now: testNow}
	dispatch := dispatcher.New(q, nil, &fakeIDGen{}, clock)
	return NewServer(testTargets(), dispatch, nil, nil, clock, cfg, zap.NewNop())
}
