// Package worker executes queued jobs: it applies the task's timeout policy,
// dispatches to the crawl coordinator or the enrichment runner and records
// the outcome as a job run.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/newswatch/internal/crawl"
	"github.com/JakeFAU/newswatch/internal/crawler"
	"github.com/JakeFAU/newswatch/internal/enrich"
	"github.com/JakeFAU/newswatch/internal/metrics"
	"github.com/JakeFAU/newswatch/internal/telemetry"
)

// runWriteTimeout bounds the job-run bookkeeping after a job ends.
const runWriteTimeout = 10 * time.Second

// CrawlRunner runs one crawl cycle.
type CrawlRunner interface {
	Run(ctx context.Context, target crawler.CrawlTarget) (crawl.Result, error)
}

// EnrichRunner runs one enrichment stage batch.
type EnrichRunner interface {
	Run(ctx context.Context, task crawler.TaskName) (enrich.Result, error)
}

// TargetResolver maps a target key to its configured crawl target.
type TargetResolver interface {
	Lookup(key string) (crawler.CrawlTarget, error)
}

// Config controls Worker behavior.
type Config struct {
	Policies map[crawler.TaskName]crawler.TaskPolicy
}

// Worker consumes queue messages and executes them one at a time.
type Worker struct {
	queue   crawler.Queue
	runs    crawler.RunStore
	targets TargetResolver
	crawls  CrawlRunner
	enrich  EnrichRunner
	clock   crawler.Clock
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Worker. runs may be nil when run history is not kept.
func New(
	queue crawler.Queue,
	runs crawler.RunStore,
	targets TargetResolver,
	crawls CrawlRunner,
	enrichRunner EnrichRunner,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:   queue,
		runs:    runs,
		targets: targets,
		crawls:  crawls,
		enrich:  enrichRunner,
		clock:   clock,
		cfg:     cfg,
		logger:  logger,
	}
}

// Run blocks, consuming messages until the context finishes or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		msg, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, crawler.ErrQueueClosed) {
				w.logger.Info("queue closed, worker stopping")
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		metrics.ObserveQueueMessage("dequeue", string(msg.TaskName))
		w.logger.Debug("dequeued job", zap.String("job_id", msg.ID), zap.String("task", string(msg.TaskName)))

		metrics.IncActiveWorkers()
		w.Execute(ctx, msg)
		metrics.DecActiveWorkers()
	}
}

// Execute runs msg to completion and returns the recorded run.
func (w *Worker) Execute(ctx context.Context, msg crawler.JobMessage) crawler.JobRun {
	started := w.clock.Now()
	run := crawler.JobRun{
		ID:        msg.ID,
		Task:      msg.TaskName,
		TargetKey: msg.TargetKey,
		Status:    crawler.JobStatusDispatched,
		StartedAt: started,
	}
	logger := w.logger.With(
		zap.String("job_id", msg.ID),
		zap.String("task", string(msg.TaskName)),
		zap.String("target", msg.TargetKey),
	)

	if msg.Expired(started) {
		logger.Warn("dropping expired job", zap.Time("expires_at", msg.ExpiresAt))
		return w.finish(ctx, run, crawler.JobStatusExpired, crawler.ErrJobExpired, logger)
	}
	policy, ok := w.cfg.Policies[msg.TaskName]
	if !ok {
		logger.Error("no timeout policy for task")
		return w.finish(ctx, run, crawler.JobStatusFailed,
			fmt.Errorf("%w: %s", crawler.ErrUnknownTask, msg.TaskName), logger)
	}

	ctx, span := telemetry.StartJobSpan(ctx, msg)
	defer span.End()

	run.Status = crawler.JobStatusRunning
	if w.runs != nil {
		if err := w.runs.StartRun(ctx, run); err != nil {
			logger.Error("record job start failed", zap.Error(err))
		}
	}

	jobCtx, cancel := context.WithTimeout(ctx, policy.Hard)
	defer cancel()
	jobCtx = crawler.WithSoftDeadline(jobCtx, started.Add(policy.Soft))

	processed, err := w.dispatch(jobCtx, msg, logger)
	run.Processed = processed

	status := crawler.JobStatusSucceeded
	switch {
	case err == nil:
	case errors.Is(err, crawler.ErrLockContention):
		status = crawler.JobStatusRejected
		metrics.ObserveLockContention(string(msg.TaskName))
		logger.Info("job rejected, lock held elsewhere")
	case errors.Is(jobCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		status = crawler.JobStatusFailed
		err = fmt.Errorf("hard timeout %s exceeded: %w", policy.Hard, err)
	default:
		status = crawler.JobStatusFailed
	}
	if status == crawler.JobStatusFailed {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("job failed", zap.Error(err))
	}
	if status == crawler.JobStatusRejected {
		err = nil
	}
	return w.finish(ctx, run, status, err, logger)
}

func (w *Worker) dispatch(ctx context.Context, msg crawler.JobMessage, logger *zap.Logger) (int, error) {
	switch msg.TaskName {
	case crawler.TaskCrawl:
		if w.crawls == nil || w.targets == nil {
			return 0, fmt.Errorf("crawl runner not configured")
		}
		target, err := w.targets.Lookup(msg.TargetKey)
		if err != nil {
			return 0, err
		}
		res, err := w.crawls.Run(ctx, target)
		if err != nil {
			return res.Inserted, err
		}
		logger.Info("crawl finished",
			zap.Int("start_page", res.StartPage),
			zap.Int("pages_visited", len(res.Visited)),
			zap.Int("inserted", res.Inserted),
			zap.Bool("truncated", res.Truncated),
		)
		return res.Inserted, nil
	case crawler.TaskSearch, crawler.TaskComplete, crawler.TaskScore:
		if w.enrich == nil {
			return 0, fmt.Errorf("enrichment runner not configured")
		}
		res, err := w.enrich.Run(ctx, msg.TaskName)
		return res.Succeeded + res.Failed, err
	default:
		return 0, fmt.Errorf("%w: %s", crawler.ErrUnknownTask, msg.TaskName)
	}
}

func (w *Worker) finish(
	ctx context.Context,
	run crawler.JobRun,
	status crawler.JobStatus,
	jobErr error,
	logger *zap.Logger,
) crawler.JobRun {
	finished := w.clock.Now()
	run.Status = status
	run.FinishedAt = &finished
	if jobErr != nil {
		msg := jobErr.Error()
		run.ErrorMessage = &msg
	}
	metrics.ObserveJob(string(run.Task), string(status), finished.Sub(run.StartedAt))

	if w.runs != nil {
		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), runWriteTimeout)
		defer cancel()
		if err := w.runs.FinishRun(writeCtx, run); err != nil {
			logger.Error("record job finish failed", zap.Error(err))
		}
	}
	logger.Debug("job finished", zap.String("status", string(status)), zap.Int("processed", run.Processed))
	return run
}
