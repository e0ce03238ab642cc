package crawler

import (
	"context"
	"io"
	"time"
)

// PageReader reads one target's paginated archive. Page 1 is the newest.
type PageReader interface {
	PageCount(ctx context.Context) (int, error)
	FetchPage(ctx context.Context, page int) ([]ArticleStub, error)
	FetchArticle(ctx context.Context, stub ArticleStub) (Article, error)
}

// Session is a PageReader owned by a single job.
type Session interface {
	PageReader
	Close() error
}

// SiteOpener opens a per-job session for a target.
type SiteOpener interface {
	Open(ctx context.Context, target CrawlTarget) (Session, error)
}

// EntryStore persists ingested entries.
type EntryStore interface {
	FindLatest(ctx context.Context, target CrawlTarget) (Entry, bool, error)
	UpsertMany(ctx context.Context, entries []Entry) (int, error)
	FindByState(ctx context.Context, state ProcessingState, limit int) ([]Entry, error)
	UpdateState(ctx context.Context, link string, from, to ProcessingState, patch EntryPatch) error
}

// RunStore records job-run history.
type RunStore interface {
	StartRun(ctx context.Context, run JobRun) error
	FinishRun(ctx context.Context, run JobRun) error
	ListRuns(ctx context.Context, status *JobStatus, limit, offset int) ([]JobRun, error)
}

// Lease is a held lock. Release is idempotent and never removes a lock
// re-acquired by another holder after expiry.
type Lease interface {
	Key() string
	Release(ctx context.Context) error
}

// Locker grants non-blocking, lease-bounded mutual exclusion by key.
type Locker interface {
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (Lease, bool, error)
}

// Queue provides enqueue/dequeue semantics for job messages.
type Queue interface {
	Enqueue(ctx context.Context, msg JobMessage) error
	Dequeue(ctx context.Context) (JobMessage, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Searcher finds articles similar to an entry.
type Searcher interface {
	Search(ctx context.Context, query SearchQuery) ([]Candidate, error)
}

// TextFetcher extracts the readable title and text of a page.
type TextFetcher interface {
	FetchText(ctx context.Context, url string) (Document, error)
}

// Similarity scores two texts in [0, 1].
type Similarity interface {
	Compare(ctx context.Context, a, b string) (float64, error)
}

// Hasher computes digests for deduplication/integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs and lock tokens.
type IDGenerator interface {
	NewID() (string, error)
}
