// Package dispatcher manages worker fan-out over the job queue and stamps
// outgoing job messages.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/newswatch/internal/crawler"
	"github.com/JakeFAU/newswatch/internal/metrics"
	"github.com/JakeFAU/newswatch/internal/telemetry"
	"github.com/JakeFAU/newswatch/internal/worker"
)

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue   crawler.Queue
	workers []*worker.Worker
	ids     crawler.IDGenerator
	clock   crawler.Clock
}

// New creates a Dispatcher. workers may be empty for enqueue-only processes.
func New(queue crawler.Queue, workers []*worker.Worker, ids crawler.IDGenerator, clock crawler.Clock) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		workers: workers,
		ids:     ids,
		clock:   clock,
	}
}

// Run starts all workers and blocks until every worker has stopped.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	wg.Wait()
}

// Enqueue fills the message id, enqueue time, queue name and trace context
// when unset, then hands the message to the queue.
func (d *Dispatcher) Enqueue(ctx context.Context, msg crawler.JobMessage) (crawler.JobMessage, error) {
	if msg.ID == "" {
		id, err := d.ids.NewID()
		if err != nil {
			return msg, fmt.Errorf("generate job id: %w", err)
		}
		msg.ID = id
	}
	if msg.EnqueuedAt.IsZero() {
		msg.EnqueuedAt = d.clock.Now()
	}
	if msg.QueueName == "" {
		msg.QueueName = string(msg.TaskName)
	}
	if len(msg.Trace) == 0 {
		telemetry.InjectJob(ctx, &msg)
	}
	if err := d.queue.Enqueue(ctx, msg); err != nil {
		return msg, fmt.Errorf("queue enqueue: %w", err)
	}
	metrics.ObserveQueueMessage("enqueue", string(msg.TaskName))
	return msg, nil
}
