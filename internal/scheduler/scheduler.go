// Package scheduler periodically enqueues one crawl job per target and the
// enrichment stage jobs. Each message expires after its interval times a
// multiplier, so a backlog never runs stale work.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/newswatch/internal/crawler"
)

// DefaultExpiresMultiplier scales the schedule interval into a message lifetime.
const DefaultExpiresMultiplier = 2.0

// Enqueuer accepts job messages.
type Enqueuer interface {
	Enqueue(ctx context.Context, msg crawler.JobMessage) (crawler.JobMessage, error)
}

// Config holds cron specs. Both standard five-field specs and descriptors
// such as "@every 15m" are accepted.
type Config struct {
	CrawlSchedule     string
	EnrichSchedule    string
	ExpiresMultiplier float64
}

// Scheduler drives the periodic producers.
type Scheduler struct {
	cron           *cron.Cron
	enqueuer       Enqueuer
	targets        []crawler.CrawlTarget
	clock          crawler.Clock
	crawlInterval  time.Duration
	enrichInterval time.Duration
	multiplier     float64
	logger         *zap.Logger
}

// New parses the schedules and registers the producers. Call Start to begin.
func New(
	enqueuer Enqueuer,
	targets []crawler.CrawlTarget,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ExpiresMultiplier <= 0 {
		cfg.ExpiresMultiplier = DefaultExpiresMultiplier
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	cronLogger := zapCronLogger{logger: logger.Sugar()}
	s := &Scheduler{
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		enqueuer:   enqueuer,
		targets:    targets,
		clock:      clock,
		multiplier: cfg.ExpiresMultiplier,
		logger:     logger,
	}

	var err error
	if s.crawlInterval, err = s.register(parser, cfg.CrawlSchedule, "crawl", s.crawlTick); err != nil {
		return nil, err
	}
	if s.enrichInterval, err = s.register(parser, cfg.EnrichSchedule, "enrichment", s.enrichTick); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scheduler) register(parser cron.Parser, spec, name string, tick func()) (time.Duration, error) {
	if spec == "" {
		return 0, fmt.Errorf("%s schedule is required", name)
	}
	schedule, err := parser.Parse(spec)
	if err != nil {
		return 0, fmt.Errorf("parse %s schedule %q: %w", name, spec, err)
	}
	s.cron.Schedule(schedule, cron.FuncJob(tick))
	return interval(schedule, s.clock.Now()), nil
}

// interval is the gap between the next two activations after now.
func interval(schedule cron.Schedule, now time.Time) time.Duration {
	if every, ok := schedule.(cron.ConstantDelaySchedule); ok {
		return every.Delay
	}
	next := schedule.Next(now)
	return schedule.Next(next).Sub(next)
}

// Start runs the cron loop in the background.
func (s *Scheduler) Start() {
	s.logger.Info("scheduler started",
		zap.Int("targets", len(s.targets)),
		zap.Duration("crawl_interval", s.crawlInterval),
		zap.Duration("enrich_interval", s.enrichInterval),
	)
	s.cron.Start()
}

// Stop halts the cron loop and waits for a running tick, or ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

// EnqueueCrawls enqueues one crawl job per target. A failed enqueue does not
// stop the remaining targets.
func (s *Scheduler) EnqueueCrawls(ctx context.Context) (int, error) {
	var (
		sent int
		errs []error
	)
	for _, target := range s.targets {
		if err := s.enqueue(ctx, crawler.TaskCrawl, target.Key(), s.crawlInterval); err != nil {
			errs = append(errs, err)
			continue
		}
		sent++
	}
	return sent, errors.Join(errs...)
}

// EnqueueEnrichment enqueues one job per enrichment stage.
func (s *Scheduler) EnqueueEnrichment(ctx context.Context) (int, error) {
	var (
		sent int
		errs []error
	)
	for _, task := range crawler.EnrichmentTasks {
		if err := s.enqueue(ctx, task, "", s.enrichInterval); err != nil {
			errs = append(errs, err)
			continue
		}
		sent++
	}
	return sent, errors.Join(errs...)
}

func (s *Scheduler) enqueue(ctx context.Context, task crawler.TaskName, targetKey string, every time.Duration) error {
	now := s.clock.Now()
	msg := crawler.JobMessage{
		TaskName:   task,
		TargetKey:  targetKey,
		QueueName:  string(task),
		EnqueuedAt: now,
		ExpiresAt:  now.Add(time.Duration(float64(every) * s.multiplier)),
	}
	sent, err := s.enqueuer.Enqueue(ctx, msg)
	if err != nil {
		s.logger.Error("enqueue scheduled job failed",
			zap.String("task", string(task)), zap.String("target", targetKey), zap.Error(err))
		return fmt.Errorf("enqueue %s %s: %w", task, targetKey, err)
	}
	s.logger.Debug("scheduled job enqueued",
		zap.String("job_id", sent.ID), zap.String("task", string(task)), zap.String("target", targetKey))
	return nil
}

func (s *Scheduler) crawlTick() {
	if _, err := s.EnqueueCrawls(context.Background()); err != nil {
		s.logger.Warn("crawl tick incomplete", zap.Error(err))
	}
}

func (s *Scheduler) enrichTick() {
	if _, err := s.EnqueueEnrichment(context.Background()); err != nil {
		s.logger.Warn("enrichment tick incomplete", zap.Error(err))
	}
}

// zapCronLogger adapts zap to cron.Logger.
type zapCronLogger struct {
	logger *zap.SugaredLogger
}

func (l zapCronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l zapCronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
