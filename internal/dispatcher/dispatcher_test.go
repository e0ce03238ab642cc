// Package dispatcher contains tests for worker coordination.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/newswatch/internal/crawler"
	"github.com/JakeFAU/newswatch/internal/queue/memory"
	"github.com/JakeFAU/newswatch/internal/worker"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type sequenceIDs struct{ n int }

func (s *sequenceIDs) NewID() (string, error) {
	s.n++
	return fmt.Sprintf("job-%d", s.n), nil
}

type failingIDs struct{}

func (failingIDs) NewID() (string, error) { return "", errors.New("entropy exhausted") }

// TestDispatcherRunStartsWorkers ensures workers begin processing and stop on cancel.
func TestDispatcherRunStartsWorkers(t *testing.T) {
	t.Parallel()

	queue := &blockingQueue{started: make(chan struct{}, 1)}
	w := worker.New(queue, nil, nil, nil, nil, fixedClock{}, worker.Config{}, zap.NewNop())
	dispatch := New(queue, []*worker.Worker{w}, &sequenceIDs{}, fixedClock{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		dispatch.Run(ctx)
		close(done)
	}()

	select {
	case <-queue.started:
	case <-time.After(time.Second):
		t.Fatal("worker did not begin dequeuing")
	}

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
}

func TestDispatcherEnqueueStampsMessage(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	q := memory.NewQueue(4)
	dispatch := New(q, nil, &sequenceIDs{}, fixedClock{now: now})

	sent, err := dispatch.Enqueue(context.Background(), crawler.JobMessage{
		TaskName:  crawler.TaskCrawl,
		TargetKey: "https://news.example.ro/politica",
		ExpiresAt: now.Add(2 * time.Hour),
	})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if sent.ID != "job-1" || !sent.EnqueuedAt.Equal(now) || sent.QueueName != "crawl" {
		t.Fatalf("unexpected stamped message %+v", sent)
	}

	got, err := q.Dequeue(context.Background())
	if err != nil {
		t.Fatalf("Dequeue() error = %v", err)
	}
	if got.ID != sent.ID || got.TargetKey != sent.TargetKey {
		t.Fatalf("queued %+v, want %+v", got, sent)
	}
}

func TestDispatcherEnqueueKeepsExplicitFields(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(1)
	dispatch := New(q, nil, failingIDs{}, fixedClock{now: time.Now()})
	enqueued := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	sent, err := dispatch.Enqueue(context.Background(), crawler.JobMessage{
		ID: "manual-1", TaskName: crawler.TaskScore, QueueName: "enrichment", EnqueuedAt: enqueued,
	})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if sent.ID != "manual-1" || sent.QueueName != "enrichment" || !sent.EnqueuedAt.Equal(enqueued) {
		t.Fatalf("explicit fields overwritten: %+v", sent)
	}
}

// TestDispatcherEnqueueForwardsErrors verifies queue errors are wrapped for callers.
func TestDispatcherEnqueueForwardsErrors(t *testing.T) {
	t.Parallel()

	queue := &errorQueue{err: errors.New("boom")}
	dispatch := New(queue, nil, &sequenceIDs{}, fixedClock{})

	_, err := dispatch.Enqueue(context.Background(), crawler.JobMessage{TaskName: crawler.TaskSearch})
	if err == nil || err.Error() != "queue enqueue: boom" {
		t.Fatalf("expected wrapped error, got %v", err)
	}

	_, err = New(queue, nil, failingIDs{}, fixedClock{}).Enqueue(context.Background(), crawler.JobMessage{})
	if err == nil {
		t.Fatal("expected id generation failure")
	}
}

type blockingQueue struct {
	started chan struct{}
}

func (q *blockingQueue) Enqueue(_ context.Context, _ crawler.JobMessage) error {
	select {
	case q.started <- struct{}{}:
	default:
	}
	return nil
}

func (q *blockingQueue) Dequeue(ctx context.Context) (crawler.JobMessage, error) {
	select {
	case q.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return crawler.JobMessage{}, fmt.Errorf("blocking dequeue canceled: %w", ctx.Err())
}

type errorQueue struct {
	err error
}

func (q *errorQueue) Enqueue(context.Context, crawler.JobMessage) error {
	return q.err
}

func (q *errorQueue) Dequeue(context.Context) (crawler.JobMessage, error) {
	return crawler.JobMessage{}, nil
}
