package crawler

import (
	"net/http"
	"strings"
	"time"
)

// CrawlTarget identifies one site section. It is the unit of scheduling and locking.
type CrawlTarget struct {
	SiteURL     string `json:"site_url" mapstructure:"site_url"`
	SectionPath string `json:"section_path" mapstructure:"section_path"`
}

// Key returns the lock and queue key for the target.
func (t CrawlTarget) Key() string {
	return t.SiteURL + t.SectionPath
}

// URL returns the absolute URL of the section listing.
func (t CrawlTarget) URL() string {
	if t.SectionPath == "" {
		return t.SiteURL
	}
	return strings.TrimRight(t.SiteURL, "/") + "/" + strings.TrimLeft(t.SectionPath, "/")
}

// ArticleStub is one listing row produced by a page read.
type ArticleStub struct {
	Link        string    `json:"link"`
	PublishDate time.Time `json:"publish_date"`
}

// Article is the full content of a stub.
type Article struct {
	Link        string
	Title       string
	Content     string
	PublishDate time.Time
	HTML        []byte
}

// Candidate is a similar article attached to an entry by the search stage.
type Candidate struct {
	URL               string  `json:"url"`
	Slug              string  `json:"slug,omitempty"`
	Meta              string  `json:"meta,omitempty"`
	Title             string  `json:"title,omitempty"`
	Text              string  `json:"text,omitempty"`
	TitleSimilarity   float64 `json:"similarity_title"`
	ContentSimilarity float64 `json:"similarity_content"`
	SimilarTitle      bool    `json:"has_similar_title"`
	SimilarContent    bool    `json:"has_similar_content"`
}

// Entry is a persisted article. Link is unique.
type Entry struct {
	Site        string          `json:"site"`
	Section     string          `json:"section"`
	Link        string          `json:"link"`
	Title       string          `json:"title"`
	Content     string          `json:"content"`
	PublishDate time.Time       `json:"publish_date"`
	State       ProcessingState `json:"processing_state"`
	Keywords    []string        `json:"keywords,omitempty"`
	Candidates  []Candidate     `json:"candidates,omitempty"`
	SnapshotURI string          `json:"snapshot_uri,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// EntryPatch carries the fields an enrichment stage writes alongside a state change.
// Nil slices leave the stored value untouched.
type EntryPatch struct {
	Keywords   []string
	Candidates []Candidate
}

// JobStatus is the admission state of a dequeued job.
type JobStatus string

// Job status values recorded for each job run.
const (
	JobStatusIdle       JobStatus = "idle"
	JobStatusDispatched JobStatus = "dispatched"
	JobStatusRunning    JobStatus = "running"
	JobStatusRejected   JobStatus = "rejected"
	JobStatusSucceeded  JobStatus = "succeeded"
	JobStatusFailed     JobStatus = "failed"
	JobStatusExpired    JobStatus = "expired"
)

// JobRun is the operator-facing history row for one job execution.
type JobRun struct {
	ID           string     `json:"id"`
	Task         TaskName   `json:"task"`
	TargetKey    string     `json:"target_key,omitempty"`
	Status       JobStatus  `json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	ErrorMessage *string    `json:"error,omitempty"`
	Processed    int        `json:"processed"`
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// SearchQuery asks the search collaborator for articles similar to an entry.
type SearchQuery struct {
	Keywords []string
	Exclude  []string
	Limit    int
}

// Document is the readable text of a candidate page.
type Document struct {
	URL   string
	Title string
	Text  string
}
