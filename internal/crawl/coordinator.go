// Package crawl runs one synchronization cycle for a crawl target: it locks
// the target, resolves the resume page, walks the archive from that page
// back to page 1 and persists new entries page by page.
package crawl

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/newswatch/internal/crawler"
	"github.com/JakeFAU/newswatch/internal/lock"
	"github.com/JakeFAU/newswatch/internal/metrics"
	"github.com/JakeFAU/newswatch/internal/resume"
)

// Config controls Coordinator behavior.
type Config struct {
	// Lease is the crawl lock lease; it must exceed the crawl hard timeout.
	Lease          time.Duration
	SnapshotPrefix string
	ContentType    string
}

// Result summarizes one crawl cycle.
type Result struct {
	Target      string
	PageCount   int
	StartPage   int
	Resumed     bool
	Visited     []int
	FailedPages []int
	Staged      int
	Inserted    int
	Truncated   bool
}

// Coordinator executes crawl cycles.
type Coordinator struct {
	locker crawler.Locker
	store  crawler.EntryStore
	opener crawler.SiteOpener
	blobs  crawler.BlobStore
	hasher crawler.Hasher
	clock  crawler.Clock
	cfg    Config
	logger *zap.Logger
}

// New constructs a Coordinator. blobs and hasher may be nil to skip snapshots.
func New(
	locker crawler.Locker,
	store crawler.EntryStore,
	opener crawler.SiteOpener,
	blobs crawler.BlobStore,
	hasher crawler.Hasher,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "text/html; charset=utf-8"
	}
	if cfg.SnapshotPrefix == "" {
		cfg.SnapshotPrefix = "snapshots"
	}
	return &Coordinator{
		locker: locker,
		store:  store,
		opener: opener,
		blobs:  blobs,
		hasher: hasher,
		clock:  clock,
		cfg:    cfg,
		logger: logger,
	}
}

// Run executes one cycle for target. It returns crawler.ErrLockContention
// when another worker holds the target.
func (c *Coordinator) Run(ctx context.Context, target crawler.CrawlTarget) (Result, error) {
	res := Result{Target: target.Key()}
	logger := c.logger.With(zap.String("target", target.Key()))

	lease, ok, err := c.locker.TryAcquire(ctx, target.Key(), c.cfg.Lease)
	if err != nil {
		return res, fmt.Errorf("acquire crawl lock: %w", err)
	}
	if !ok {
		return res, crawler.ErrLockContention
	}
	defer lock.ReleaseQuietly(ctx, lease, logger)

	session, err := c.opener.Open(ctx, target)
	if err != nil {
		return res, fmt.Errorf("open site session: %w", err)
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			logger.Warn("site session close failed", zap.Error(cerr))
		}
	}()

	latest, found, err := c.store.FindLatest(ctx, target)
	if err != nil {
		return res, fmt.Errorf("%w: find latest entry: %w", crawler.ErrPersistence, err)
	}

	pageCount, err := session.PageCount(ctx)
	if err != nil {
		return res, fmt.Errorf("%w: page count: %w", crawler.ErrArchiveUnreachable, err)
	}
	if pageCount < 1 {
		return res, fmt.Errorf("%w: page count %d", crawler.ErrArchiveUnreachable, pageCount)
	}
	res.PageCount = pageCount

	w := &walk{
		Coordinator: c,
		target:      target,
		session:     session,
		pages:       make(map[int][]crawler.ArticleStub),
		seen:        make(map[string]struct{}),
		hasBoundary: found,
		boundary:    latest.PublishDate,
		logger:      logger,
		res:         &res,
	}
	res.StartPage = pageCount
	if found {
		res.StartPage, res.Resumed = w.resumePage(ctx, pageCount)
	}
	logger.Info("crawl walk starting",
		zap.Int("page_count", pageCount),
		zap.Int("start_page", res.StartPage),
		zap.Bool("resumed", res.Resumed),
		zap.Time("boundary", latest.PublishDate),
	)

	if err := w.run(ctx, res.StartPage); err != nil {
		return res, err
	}
	logger.Info("crawl walk finished",
		zap.Int("visited", len(res.Visited)),
		zap.Int("failed_pages", len(res.FailedPages)),
		zap.Int("staged", res.Staged),
		zap.Int("inserted", res.Inserted),
		zap.Bool("truncated", res.Truncated),
	)
	return res, nil
}

// walk holds the per-cycle state. Listing pages read by the resume search are
// reused by the walk.
type walk struct {
	*Coordinator
	target      crawler.CrawlTarget
	session     crawler.Session
	pages       map[int][]crawler.ArticleStub
	seen        map[string]struct{}
	hasBoundary bool
	boundary    time.Time
	logger      *zap.Logger
	res         *Result
}

func (w *walk) resumePage(ctx context.Context, pageCount int) (int, bool) {
	locator := resume.New(w.pageDates, w.logger.Named("resume"))
	found, err := locator.Locate(ctx, pageCount, w.boundary)
	metrics.ObserveResumeSteps(found.Steps)
	switch {
	case err != nil:
		w.logger.Warn("resume search failed, scanning full archive", zap.Error(err))
		return pageCount, false
	case found.Page == resume.NotFound:
		w.logger.Warn("resume page not found, scanning full archive", zap.Int("steps", found.Steps))
		return pageCount, false
	default:
		return found.Page, true
	}
}

func (w *walk) pageDates(ctx context.Context, page int) ([]time.Time, error) {
	stubs, err := w.fetchPage(ctx, page)
	if err != nil {
		return nil, err
	}
	dates := make([]time.Time, 0, len(stubs))
	for _, s := range stubs {
		dates = append(dates, s.PublishDate)
	}
	return dates, nil
}

func (w *walk) fetchPage(ctx context.Context, page int) ([]crawler.ArticleStub, error) {
	if stubs, ok := w.pages[page]; ok {
		return stubs, nil
	}
	stubs, err := w.session.FetchPage(ctx, page)
	if err != nil {
		return nil, fmt.Errorf("fetch page %d: %w", page, err)
	}
	w.pages[page] = stubs
	return stubs, nil
}

func (w *walk) run(ctx context.Context, start int) error {
	for page := start; page >= 1; page-- {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("crawl canceled at page %d: %w", page, err)
		}
		if crawler.SoftExpired(ctx, w.clock.Now()) {
			w.logger.Warn("soft timeout reached, stopping walk", zap.Int("next_page", page))
			w.res.Truncated = true
			return nil
		}
		w.res.Visited = append(w.res.Visited, page)
		var stubs []crawler.ArticleStub
		err := crawler.PageRetry.Do(ctx, func(ctx context.Context) error {
			var err error
			stubs, err = w.fetchPage(ctx, page)
			return err
		}, func(attempt int, err error) {
			w.logger.Debug("page read failed", zap.Int("page", page), zap.Int("attempt", attempt), zap.Error(err))
		})
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("crawl canceled at page %d: %w", page, ctx.Err())
			}
			w.logger.Warn("page skipped", zap.Int("page", page), zap.Error(err))
			w.res.FailedPages = append(w.res.FailedPages, page)
			continue
		}
		staged := w.stage(ctx, page, stubs)
		if len(staged) == 0 {
			continue
		}
		inserted, err := w.store.UpsertMany(ctx, staged)
		if err != nil {
			return fmt.Errorf("%w: upsert page %d: %w", crawler.ErrPersistence, page, err)
		}
		w.res.Staged += len(staged)
		w.res.Inserted += inserted
		metrics.ObserveIngested(w.target.SiteURL, inserted)
		w.logger.Debug("page persisted",
			zap.Int("page", page),
			zap.Int("staged", len(staged)),
			zap.Int("inserted", inserted),
		)
	}
	return nil
}

func (w *walk) stage(ctx context.Context, page int, stubs []crawler.ArticleStub) []crawler.Entry {
	var staged []crawler.Entry
	for _, stub := range stubs {
		if w.hasBoundary && !stub.PublishDate.After(w.boundary) {
			continue
		}
		if _, dup := w.seen[stub.Link]; dup {
			continue
		}
		w.seen[stub.Link] = struct{}{}

		article, err := w.session.FetchArticle(ctx, stub)
		if err != nil {
			w.logger.Warn("article skipped",
				zap.Int("page", page),
				zap.String("link", stub.Link),
				zap.Error(err),
			)
			continue
		}
		now := w.clock.Now()
		published := stub.PublishDate
		if published.IsZero() {
			published = article.PublishDate
		}
		staged = append(staged, crawler.Entry{
			Site:        w.target.SiteURL,
			Section:     w.target.SectionPath,
			Link:        stub.Link,
			Title:       article.Title,
			Content:     article.Content,
			PublishDate: published,
			State:       crawler.StateIngested,
			SnapshotURI: w.snapshot(ctx, stub.Link, article.HTML),
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}
	return staged
}

func (w *walk) snapshot(ctx context.Context, link string, html []byte) string {
	if w.blobs == nil || w.hasher == nil || len(html) == 0 {
		return ""
	}
	hash, err := w.hasher.Hash(html)
	if err != nil {
		w.logger.Warn("snapshot hash failed", zap.String("link", link), zap.Error(err))
		return ""
	}
	path := snapshotPath(w.cfg.SnapshotPrefix, metrics.SanitizeSite(link), hash)
	uri, err := w.blobs.PutObject(ctx, path, w.cfg.ContentType, bytes.NewReader(html))
	if err != nil {
		w.logger.Warn("snapshot upload failed", zap.String("link", link), zap.Error(err))
		return ""
	}
	return uri
}

func snapshotPath(prefix, host, hash string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s.html", host, hash)
	}
	return fmt.Sprintf("%s/%s/%s.html", prefix, host, hash)
}

// IsRejected reports whether err means the cycle was skipped on a held lock.
func IsRejected(err error) bool {
	return errors.Is(err, crawler.ErrLockContention)
}
