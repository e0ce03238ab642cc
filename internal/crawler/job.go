package crawler

import (
	"context"
	"fmt"
	"time"
)

// TaskName identifies a job type on the queue.
type TaskName string

// Registered tasks.
const (
	TaskCrawl    TaskName = "crawl"
	TaskSearch   TaskName = "search"
	TaskComplete TaskName = "complete"
	TaskScore    TaskName = "score"
)

// EnrichmentTasks lists the enrichment stages in pipeline order.
var EnrichmentTasks = []TaskName{TaskSearch, TaskComplete, TaskScore}

// ParseTaskName validates a task name received from the API or the CLI.
func ParseTaskName(raw string) (TaskName, error) {
	switch t := TaskName(raw); t {
	case TaskCrawl, TaskSearch, TaskComplete, TaskScore:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownTask, raw)
	}
}

// TaskPolicy is the fixed timeout triple of a task type.
type TaskPolicy struct {
	Soft  time.Duration
	Hard  time.Duration
	Lease time.Duration
}

// Validate enforces soft <= hard < lease.
func (p TaskPolicy) Validate() error {
	if p.Soft <= 0 || p.Hard <= 0 || p.Lease <= 0 {
		return fmt.Errorf("timeouts must be > 0 (soft=%s hard=%s lease=%s)", p.Soft, p.Hard, p.Lease)
	}
	if p.Soft > p.Hard {
		return fmt.Errorf("soft timeout %s exceeds hard timeout %s", p.Soft, p.Hard)
	}
	if p.Lease <= p.Hard {
		return fmt.Errorf("lock lease %s must exceed hard timeout %s", p.Lease, p.Hard)
	}
	return nil
}

// JobMessage is the queue payload. It is JSON-encoded on the wire.
type JobMessage struct {
	ID         string            `json:"id"`
	TaskName   TaskName          `json:"task_name"`
	TargetKey  string            `json:"target_key,omitempty"`
	Kwargs     map[string]string `json:"kwargs,omitempty"`
	QueueName  string            `json:"queue_name"`
	EnqueuedAt time.Time         `json:"enqueued_at"`
	ExpiresAt  time.Time         `json:"expires_at"`
	// Trace carries the enqueuer's trace context across the queue.
	Trace map[string]string `json:"trace,omitempty"`
}

// Expired reports whether the message should be dropped instead of run.
func (m JobMessage) Expired(now time.Time) bool {
	return !m.ExpiresAt.IsZero() && !now.Before(m.ExpiresAt)
}

type softDeadlineKey struct{}

// WithSoftDeadline attaches the advisory deadline of a job to ctx.
func WithSoftDeadline(ctx context.Context, deadline time.Time) context.Context {
	return context.WithValue(ctx, softDeadlineKey{}, deadline)
}

// SoftDeadline returns the advisory deadline attached to ctx, if any.
func SoftDeadline(ctx context.Context) (time.Time, bool) {
	deadline, ok := ctx.Value(softDeadlineKey{}).(time.Time)
	return deadline, ok
}

// SoftExpired reports whether the advisory deadline on ctx has passed at now.
func SoftExpired(ctx context.Context, now time.Time) bool {
	deadline, ok := SoftDeadline(ctx)
	return ok && !now.Before(deadline)
}
