// Package server provides the core application server and dependency injection.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/newswatch/internal/api"
	"github.com/JakeFAU/newswatch/internal/clock/system"
	"github.com/JakeFAU/newswatch/internal/config"
	"github.com/JakeFAU/newswatch/internal/crawl"
	"github.com/JakeFAU/newswatch/internal/crawler"
	"github.com/JakeFAU/newswatch/internal/dispatcher"
	"github.com/JakeFAU/newswatch/internal/enrich"
	"github.com/JakeFAU/newswatch/internal/enrich/search"
	"github.com/JakeFAU/newswatch/internal/enrich/similarity"
	"github.com/JakeFAU/newswatch/internal/enrich/textfetch"
	collyfetcher "github.com/JakeFAU/newswatch/internal/fetcher/colly"
	"github.com/JakeFAU/newswatch/internal/fetcher/headless"
	"github.com/JakeFAU/newswatch/internal/hash/sha256"
	"github.com/JakeFAU/newswatch/internal/id/uuid"
	memorylock "github.com/JakeFAU/newswatch/internal/lock/memory"
	redislock "github.com/JakeFAU/newswatch/internal/lock/redis"
	"github.com/JakeFAU/newswatch/internal/logging"
	"github.com/JakeFAU/newswatch/internal/policy/links"
	"github.com/JakeFAU/newswatch/internal/policy/ratelimit"
	queueMemory "github.com/JakeFAU/newswatch/internal/queue/memory"
	queuePubSub "github.com/JakeFAU/newswatch/internal/queue/pubsub"
	"github.com/JakeFAU/newswatch/internal/scheduler"
	"github.com/JakeFAU/newswatch/internal/site"
	gcsstorage "github.com/JakeFAU/newswatch/internal/storage/gcs"
	localstorage "github.com/JakeFAU/newswatch/internal/storage/local"
	memoryStorage "github.com/JakeFAU/newswatch/internal/storage/memory"
	pgstore "github.com/JakeFAU/newswatch/internal/storage/postgres"
	"github.com/JakeFAU/newswatch/internal/telemetry"
	"github.com/JakeFAU/newswatch/internal/worker"
)

// Mode selects which long-running components Run starts.
type Mode struct {
	HTTP      bool
	Workers   bool
	Scheduler bool
}

// queue is a job queue that must be closed on shutdown.
type queue interface {
	crawler.Queue
	Close() error
}

type closer struct {
	name string
	fn   func(ctx context.Context) error
}

// App contains the application's dependencies.
type App struct {
	cfg         config.Config
	logger      *zap.Logger
	clock       crawler.Clock
	ids         crawler.IDGenerator
	policies    map[crawler.TaskName]crawler.TaskPolicy
	registry    *site.Registry
	locker      crawler.Locker
	entries     crawler.EntryStore
	runs        crawler.RunStore
	blobs       crawler.BlobStore
	queue       queue
	coordinator *crawl.Coordinator
	enrich      *enrich.Runner
	dispatch    *dispatcher.Dispatcher
	checks      map[string]api.ReadyCheck
	closers     []closer
}

// NewApp creates a new App with the given configuration.
func NewApp(cfg config.Config, logger *zap.Logger) (*App, error) {
	policies, err := cfg.Policies()
	if err != nil {
		return nil, fmt.Errorf("task policies: %w", err)
	}
	// Define a struct for logging only non-sensitive config fields
	type SanitizedConfig struct {
		ServerPort int    `json:"server_port"`
		Lock       string `json:"lock"`
		Database   string `json:"database"`
		Queue      string `json:"queue"`
		Storage    string `json:"storage"`
		Sites      int    `json:"sites"`
	}
	safeCfg := SanitizedConfig{
		ServerPort: cfg.Server.Port,
		Lock:       cfg.Lock.Backend,
		Database:   cfg.Database.Backend,
		Queue:      cfg.Queue.Backend,
		Storage:    cfg.Storage.Backend,
		Sites:      len(cfg.Sites),
	}
	logger.Info("Creating application", zap.Any("config", safeCfg))
	return &App{
		cfg:      cfg,
		logger:   logger,
		clock:    system.New(),
		ids:      uuid.New(),
		policies: policies,
		checks:   map[string]api.ReadyCheck{},
	}, nil
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Run starts the components selected by mode and blocks until the context is
// canceled or a termination signal arrives.
func (a *App) Run(ctx context.Context, mode Mode) error {
	a.logger.Info("application started",
		zap.Bool("http", mode.HTTP),
		zap.Bool("workers", mode.Workers),
		zap.Bool("scheduler", mode.Scheduler),
	)
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if mode.Workers && !mode.Scheduler && a.cfg.Queue.Backend == "memory" {
		a.logger.Warn("workers started without a scheduler on the in-memory queue; only API submissions will run")
	}

	var wg sync.WaitGroup
	if mode.Workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.logger.Info("dispatcher started", zap.Int("workers", a.cfg.Worker.Concurrency))
			a.dispatch.Run(ctx)
		}()
	}

	var sched *scheduler.Scheduler
	if mode.Scheduler {
		var err error
		sched, err = a.newScheduler()
		if err != nil {
			stop()
			wg.Wait()
			return errors.Join(err, a.Close(context.Background()))
		}
		sched.Start()
	}

	var srv *http.Server
	if mode.HTTP {
		srv = &http.Server{
			Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
			Handler:           a.apiServer().Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("http server error", zap.Error(err))
				stop()
			}
		}()
	}

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if sched != nil {
		if err := sched.Stop(shutdownCtx); err != nil {
			a.logger.Warn("scheduler stop failed", zap.Error(err))
		}
	}
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown error", zap.Error(err))
		}
	}
	wg.Wait()

	return a.Close(shutdownCtx)
}

// RunOnce executes a single job in-process, bypassing the queue. It is used by
// the one-shot CLI commands.
func (a *App) RunOnce(ctx context.Context, task crawler.TaskName, targetKey string) (crawler.JobRun, error) {
	id, err := a.ids.NewID()
	if err != nil {
		return crawler.JobRun{}, fmt.Errorf("generate job id: %w", err)
	}
	msg := crawler.JobMessage{
		ID:         id,
		TaskName:   task,
		TargetKey:  targetKey,
		QueueName:  string(task),
		EnqueuedAt: a.clock.Now().UTC(),
	}
	telemetry.InjectJob(ctx, &msg)
	run := a.newWorker(0).Execute(ctx, msg)
	if run.Status != crawler.JobStatusSucceeded {
		reason := string(run.Status)
		if run.ErrorMessage != nil {
			reason = *run.ErrorMessage
		}
		return run, fmt.Errorf("job %s %s: %s", task, run.Status, reason)
	}
	return run, nil
}

// Close gracefully shuts down the application in reverse build order.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(ctx); err != nil {
			a.logger.Warn("close failed", zap.String("component", c.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	a.closers = nil
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}

func (a *App) onClose(name string, fn func(ctx context.Context) error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(logging.Options{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	app, err := NewApp(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("app init failed: %w", err)
	}
	if err := app.build(ctx); err != nil {
		return nil, errors.Join(err, app.Close(context.Background()))
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
		ServiceName: a.cfg.Telemetry.ServiceName,
		SampleRatio: a.cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("tracer init failed: %w", err)
	}
	a.onClose("tracer", tp.Shutdown)

	a.logger.Info("building application dependencies")
	a.registry, err = site.NewRegistry(a.cfg.Definitions())
	if err != nil {
		return fmt.Errorf("site registry init failed: %w", err)
	}
	if err := a.setupLock(); err != nil {
		return err
	}
	if err := a.setupDatabase(ctx); err != nil {
		return err
	}
	if err := a.setupStorage(ctx); err != nil {
		return err
	}
	if err := a.setupQueue(ctx); err != nil {
		return err
	}
	return a.setupPipeline()
}

func (a *App) setupLock() error {
	switch a.cfg.Lock.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		})
		a.onClose("redis", func(context.Context) error { return client.Close() })
		locker, err := redislock.New(client, a.ids, redislock.Config{Prefix: a.cfg.Lock.Prefix})
		if err != nil {
			return fmt.Errorf("redis locker init failed: %w", err)
		}
		a.locker = locker
		a.checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
		a.logger.Info("using redis lock backend", zap.String("addr", a.cfg.Redis.Addr))
	default:
		a.locker = memorylock.New(a.clock)
		a.logger.Info("using in-memory lock backend")
	}
	return nil
}

func (a *App) setupDatabase(ctx context.Context) error {
	if a.cfg.Database.Backend != "postgres" {
		a.logger.Warn("using in-memory entry and run stores; data is lost on restart")
		a.entries = memoryStorage.NewEntryStore(a.clock)
		a.runs = memoryStorage.NewRunStore()
		return nil
	}
	pool, err := pgstore.Connect(ctx, pgstore.Config{
		DSN:             a.cfg.Database.DSN,
		MaxConns:        a.cfg.Database.MaxConns,
		MinConns:        a.cfg.Database.MinConns,
		MaxConnLifetime: a.cfg.ConnLifetime(),
	})
	if err != nil {
		return fmt.Errorf("postgres init failed: %w", err)
	}
	a.onClose("postgres", func(context.Context) error {
		pool.Close()
		return nil
	})
	if a.cfg.Database.Migrate {
		if err := pgstore.Migrate(ctx, pool, a.logger.Named("migrate")); err != nil {
			return fmt.Errorf("postgres migrate failed: %w", err)
		}
	}
	entries, err := pgstore.NewEntryStore(pool, a.cfg.Database.EntriesTable)
	if err != nil {
		return fmt.Errorf("entry store init failed: %w", err)
	}
	runs, err := pgstore.NewRunStore(pool)
	if err != nil {
		return fmt.Errorf("run store init failed: %w", err)
	}
	a.entries, a.runs = entries, runs
	a.checks["postgres"] = pool.Ping
	a.logger.Info("postgres stores initialized", zap.String("table", a.cfg.Database.EntriesTable))
	return nil
}

func (a *App) setupStorage(ctx context.Context) error {
	switch a.cfg.Storage.Backend {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		a.onClose("gcs", func(context.Context) error { return client.Close() })
		blobs, err := gcsstorage.New(client, gcsstorage.Config{Bucket: a.cfg.Storage.Bucket})
		if err != nil {
			return fmt.Errorf("gcs blob store init failed: %w", err)
		}
		if err := blobs.CheckBucket(ctx); err != nil {
			return fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.blobs = blobs
		a.checks["gcs"] = blobs.CheckBucket
		a.logger.Info("using GCS storage backend", zap.String("bucket", a.cfg.Storage.Bucket))
	case "local":
		blobs, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.BaseDir})
		if err != nil {
			return fmt.Errorf("local blob store init failed: %w", err)
		}
		a.blobs = blobs
		a.logger.Info("using local storage backend", zap.String("path", a.cfg.Storage.BaseDir))
	default:
		a.blobs = memoryStorage.NewBlobStore()
		a.logger.Info("using in-memory storage backend")
	}
	return nil
}

func (a *App) setupQueue(ctx context.Context) error {
	if a.cfg.Queue.Backend != "pubsub" {
		a.queue = queueMemory.NewQueue(a.cfg.Queue.Depth)
		a.onClose("queue", func(context.Context) error { return a.queue.Close() })
		a.logger.Info("using in-memory queue", zap.Int("depth", a.cfg.Queue.Depth))
		return nil
	}
	ps := a.cfg.Queue.PubSub
	client, err := pubsub.NewClient(ctx, ps.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.onClose("pubsub", func(context.Context) error { return client.Close() })
	q, err := queuePubSub.New(ctx, client, queuePubSub.Config{
		Topic:          ps.Topic,
		Subscription:   ps.Subscription,
		MaxOutstanding: ps.MaxOutstanding,
	}, a.logger.Named("queue"))
	if err != nil {
		return fmt.Errorf("pubsub queue init failed: %w", err)
	}
	a.queue = q
	a.onClose("queue", func(context.Context) error { return q.Close() })
	a.logger.Info("Pub/Sub queue initialized",
		zap.String("project", ps.ProjectID),
		zap.String("topic", ps.Topic),
		zap.String("subscription", ps.Subscription),
	)
	return nil
}

func (a *App) setupPipeline() error {
	httpFetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:     a.cfg.Worker.UserAgent,
		RespectRobots: a.cfg.Worker.RespectRobots,
		Timeout:       a.cfg.RequestTimeout(),
	})
	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   a.cfg.RateLimit.RPS,
		DefaultBurst: a.cfg.RateLimit.Burst,
		Domains:      a.cfg.RateLimit.Domains,
	})
	a.logger.Info("rate limiter configured",
		zap.Float64("rps", a.cfg.RateLimit.RPS),
		zap.Int("burst", a.cfg.RateLimit.Burst),
	)

	opts := []site.OpenerOption{site.WithLimiter(limiter)}
	if a.cfg.Headless.Enabled {
		opts = append(opts, site.WithBrowsers(site.HeadlessBrowsers(headless.Config{
			UserAgent:         a.cfg.Worker.UserAgent,
			NavigationTimeout: a.cfg.NavTimeout(),
			WaitSelector:      a.cfg.Headless.WaitSelector,
			RemoteURL:         a.cfg.Headless.RemoteURL,
			ExecPath:          a.cfg.Headless.ExecPath,
		})))
		a.logger.Info("headless browser enabled", zap.Duration("nav_timeout", a.cfg.NavTimeout()))
	}
	opener := site.NewOpener(a.registry, httpFetcher, a.logger.Named("site"), opts...)

	a.coordinator = crawl.New(
		a.locker,
		a.entries,
		opener,
		a.blobs,
		sha256.New(),
		a.clock,
		crawl.Config{
			Lease:          a.policies[crawler.TaskCrawl].Lease,
			SnapshotPrefix: a.cfg.Storage.Prefix,
			ContentType:    a.cfg.Storage.ContentType,
		},
		a.logger.Named("crawl"),
	)

	esClient, err := search.NewClient(search.Config{
		Addresses: a.cfg.Search.Addresses,
		Username:  a.cfg.Search.Username,
		Password:  a.cfg.Search.Password,
	})
	if err != nil {
		return fmt.Errorf("search client init failed: %w", err)
	}
	searchBackend, err := search.New(esClient, a.cfg.Search.Index, a.cfg.Enrichment.SearchLimit, a.logger.Named("search"))
	if err != nil {
		return fmt.Errorf("search backend init failed: %w", err)
	}
	a.checks["search"] = func(ctx context.Context) error {
		res, err := esClient.Ping(esClient.Ping.WithContext(ctx))
		if err != nil {
			return fmt.Errorf("elasticsearch ping: %w", err)
		}
		defer func() { _ = res.Body.Close() }()
		if res.IsError() {
			return fmt.Errorf("elasticsearch ping: %s", res.Status())
		}
		return nil
	}

	filter := links.New(a.cfg.Enrichment.BlockedHosts, a.cfg.Enrichment.SkippedExtensions)
	a.enrich = enrich.NewRunner(
		a.locker,
		a.entries,
		a.clock,
		enrich.Config{
			BatchSize: a.cfg.Enrichment.BatchSize,
			Leases:    a.cfg.Leases(),
		},
		a.logger.Named("enrich"),
		enrich.NewSearcher(searchBackend, filter, a.cfg.Enrichment.SearchLimit),
		enrich.NewCompleter(textfetch.New(httpFetcher, limiter), filter, a.logger.Named("complete")),
		enrich.NewScorer(similarity.NewCosine(), a.cfg.Enrichment.SimilarityThreshold),
	)

	workers := make([]*worker.Worker, 0, a.cfg.Worker.Concurrency)
	for i := 0; i < a.cfg.Worker.Concurrency; i++ {
		workers = append(workers, a.newWorker(i))
	}
	a.dispatch = dispatcher.New(a.queue, workers, a.ids, a.clock)
	a.logger.Info("pipeline ready",
		zap.Int("targets", len(a.registry.Targets())),
		zap.Int("workers", len(workers)),
	)
	return nil
}

func (a *App) newWorker(index int) *worker.Worker {
	return worker.New(
		a.queue,
		a.runs,
		a.registry,
		a.coordinator,
		a.enrich,
		a.clock,
		worker.Config{Policies: a.policies},
		a.logger.Named("worker").With(zap.Int("index", index)),
	)
}

func (a *App) newScheduler() (*scheduler.Scheduler, error) {
	sched, err := scheduler.New(
		a.dispatch,
		a.registry.Targets(),
		a.clock,
		scheduler.Config{
			CrawlSchedule:     a.cfg.Scheduler.CrawlSchedule,
			EnrichSchedule:    a.cfg.Scheduler.EnrichSchedule,
			ExpiresMultiplier: a.cfg.Scheduler.ExpiresMultiplier,
		},
		a.logger.Named("scheduler"),
	)
	if err != nil {
		return nil, fmt.Errorf("scheduler init failed: %w", err)
	}
	return sched, nil
}

func (a *App) apiServer() *api.Server {
	return api.NewServer(
		a.registry,
		a.dispatch,
		api.NewProgressHandler(a.runs, a.entries, a.logger.Named("progress")),
		a.checks,
		a.clock,
		a.cfg,
		a.logger.Named("api"),
	)
}
