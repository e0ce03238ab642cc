// Package resume locates the archive page that brackets the newest stored
// article, so a crawl can restart there instead of walking the whole archive.
package resume

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/newswatch/internal/crawler"
)

// NotFound is returned when the search window empties without a bracket.
const NotFound = -1

// PageDates reads the publish dates listed on one archive page.
type PageDates func(ctx context.Context, page int) ([]time.Time, error)

// Locator binary-searches a newest-first archive.
type Locator struct {
	readDates PageDates
	retry     crawler.RetryPolicy
	logger    *zap.Logger
}

// Result is the outcome of one search. Steps counts page reads, retries included.
type Result struct {
	Page  int
	Steps int
}

type search struct {
	*Locator
	steps int
	cache map[int]bracket
}

type bracket struct {
	min, max time.Time
	empty    bool
}

// New creates a Locator reading pages through readDates.
func New(readDates PageDates, logger *zap.Logger) *Locator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Locator{readDates: readDates, retry: crawler.PageRetry, logger: logger}
}

// Locate finds the page p in [1, pageCount] whose date range contains
// boundary. Result.Page is NotFound when no page does, or an error wrapping
// crawler.ErrTransientFetch when a page read failed twice.
func (l *Locator) Locate(ctx context.Context, pageCount int, boundary time.Time) (Result, error) {
	s := &search{Locator: l, cache: make(map[int]bracket)}
	page, err := s.run(ctx, pageCount, boundary)
	return Result{Page: page, Steps: s.steps}, err
}

func (l *search) run(ctx context.Context, pageCount int, boundary time.Time) (int, error) {
	if pageCount < 1 {
		return NotFound, nil
	}

	first, err := l.read(ctx, 1)
	if err != nil {
		return NotFound, err
	}
	// Nothing on later pages can be newer than page 1, so a boundary at or
	// past page 1's newest date resumes at page 1 as well.
	if !first.empty && !boundary.Before(first.min) {
		return 1, nil
	}

	lo, hi := 1, pageCount
	for lo <= hi {
		if err := ctx.Err(); err != nil {
			return NotFound, fmt.Errorf("resume search canceled: %w", err)
		}
		mid := (lo + hi) / 2
		b, err := l.read(ctx, mid)
		if err != nil {
			return NotFound, err
		}
		switch {
		case b.empty:
			// Trailing pages past the archive end list nothing.
			hi = mid - 1
		case b.contains(boundary):
			l.logger.Debug("resume page found", zap.Int("page", mid), zap.Int("steps", l.steps))
			return mid, nil
		case b.min.After(boundary):
			lo = mid + 1
		default:
			hi = mid - 1
		}
	}
	return NotFound, nil
}

func (l *search) read(ctx context.Context, page int) (bracket, error) {
	if b, ok := l.cache[page]; ok {
		return b, nil
	}
	var dates []time.Time
	err := l.retry.Do(ctx, func(ctx context.Context) error {
		l.steps++
		var err error
		dates, err = l.readDates(ctx, page)
		return err
	}, func(attempt int, err error) {
		l.logger.Warn("resume page read failed",
			zap.Int("page", page),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	})
	if err != nil {
		return bracket{}, fmt.Errorf("read page %d: %w: %w", page, crawler.ErrTransientFetch, err)
	}
	b := newBracket(dates)
	l.cache[page] = b
	return b, nil
}

func newBracket(dates []time.Time) bracket {
	if len(dates) == 0 {
		return bracket{empty: true}
	}
	b := bracket{min: dates[0], max: dates[0]}
	for _, d := range dates[1:] {
		if d.Before(b.min) {
			b.min = d
		}
		if d.After(b.max) {
			b.max = d
		}
	}
	return b
}

func (b bracket) contains(t time.Time) bool {
	return !t.Before(b.min) && !t.After(b.max)
}
