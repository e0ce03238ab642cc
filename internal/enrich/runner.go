package enrich

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/newswatch/internal/crawler"
	"github.com/JakeFAU/newswatch/internal/lock"
	"github.com/JakeFAU/newswatch/internal/metrics"
)

// DefaultBatchSize bounds how many entries one stage run handles.
const DefaultBatchSize = 100

// Stage transforms one entry. A non-nil error moves the entry to the stage's
// failure state; the returned patch is stored either way.
type Stage interface {
	Task() crawler.TaskName
	Input() crawler.ProcessingState
	Success() crawler.ProcessingState
	Failure() crawler.ProcessingState
	Process(ctx context.Context, entry crawler.Entry) (crawler.EntryPatch, error)
}

// Config controls Runner behavior.
type Config struct {
	BatchSize int
	// Leases maps each stage to its lock lease.
	Leases map[crawler.TaskName]time.Duration
}

// Result summarizes one stage run.
type Result struct {
	Task      crawler.TaskName
	Scanned   int
	Succeeded int
	Failed    int
	Conflicts int
	Truncated bool
}

// Runner executes enrichment stages.
type Runner struct {
	locker crawler.Locker
	store  crawler.EntryStore
	clock  crawler.Clock
	stages map[crawler.TaskName]Stage
	cfg    Config
	logger *zap.Logger
}

// NewRunner registers stages by task name.
func NewRunner(
	locker crawler.Locker,
	store crawler.EntryStore,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
	stages ...Stage,
) *Runner {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	byTask := make(map[crawler.TaskName]Stage, len(stages))
	for _, s := range stages {
		byTask[s.Task()] = s
	}
	return &Runner{
		locker: locker,
		store:  store,
		clock:  clock,
		stages: byTask,
		cfg:    cfg,
		logger: logger,
	}
}

// Run processes one batch for task. It returns crawler.ErrLockContention when
// another worker is running the same stage.
func (r *Runner) Run(ctx context.Context, task crawler.TaskName) (Result, error) {
	res := Result{Task: task}
	stage, ok := r.stages[task]
	if !ok {
		return res, fmt.Errorf("%w: %s", crawler.ErrUnknownTask, task)
	}
	logger := r.logger.With(zap.String("stage", string(task)))

	lease, acquired, err := r.locker.TryAcquire(ctx, lock.StageKey(task), r.lease(task))
	if err != nil {
		return res, fmt.Errorf("acquire stage lock: %w", err)
	}
	if !acquired {
		return res, crawler.ErrLockContention
	}
	defer lock.ReleaseQuietly(ctx, lease, logger)

	entries, err := r.store.FindByState(ctx, stage.Input(), r.cfg.BatchSize)
	if err != nil {
		return res, fmt.Errorf("%w: find %s entries: %w", crawler.ErrPersistence, stage.Input(), err)
	}
	res.Scanned = len(entries)

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("stage %s canceled: %w", task, err)
		}
		if crawler.SoftExpired(ctx, r.clock.Now()) {
			logger.Warn("soft timeout reached, leaving remaining entries for the next run",
				zap.Int("remaining", res.Scanned-res.Succeeded-res.Failed-res.Conflicts))
			res.Truncated = true
			break
		}
		if err := r.advance(ctx, stage, entry, &res, logger); err != nil {
			return res, err
		}
	}
	logger.Info("stage run finished",
		zap.Int("scanned", res.Scanned),
		zap.Int("succeeded", res.Succeeded),
		zap.Int("failed", res.Failed),
		zap.Int("conflicts", res.Conflicts),
	)
	return res, nil
}

func (r *Runner) advance(
	ctx context.Context,
	stage Stage,
	entry crawler.Entry,
	res *Result,
	logger *zap.Logger,
) error {
	patch, procErr := stage.Process(ctx, entry)
	if procErr != nil && ctx.Err() != nil {
		// A canceled job leaves the entry in its input state.
		return fmt.Errorf("stage %s canceled: %w", stage.Task(), ctx.Err())
	}
	next := stage.Success()
	if procErr != nil {
		next = stage.Failure()
		logger.Info("entry enrichment failed",
			zap.String("link", entry.Link),
			zap.Error(procErr),
		)
	}

	err := r.store.UpdateState(ctx, entry.Link, stage.Input(), next, patch)
	switch {
	case errors.Is(err, crawler.ErrStateConflict), errors.Is(err, crawler.ErrNotFound):
		res.Conflicts++
		logger.Warn("entry changed concurrently, skipping", zap.String("link", entry.Link), zap.Error(err))
		return nil
	case err != nil:
		return fmt.Errorf("%w: update %s: %w", crawler.ErrPersistence, entry.Link, err)
	}

	metrics.ObserveTransition(string(stage.Task()), next.String())
	if procErr != nil {
		res.Failed++
	} else {
		res.Succeeded++
	}
	return nil
}

func (r *Runner) lease(task crawler.TaskName) time.Duration {
	if d, ok := r.cfg.Leases[task]; ok && d > 0 {
		return d
	}
	return time.Hour
}
