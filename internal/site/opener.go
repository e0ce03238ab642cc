package site

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/newswatch/internal/crawler"
	"github.com/JakeFAU/newswatch/internal/fetcher/headless"
)

// Waiter delays requests per host.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// BrowserFactory starts a headless browser for one session.
type BrowserFactory func() (crawler.Fetcher, func() error)

// HeadlessBrowsers returns a BrowserFactory that launches chromedp with cfg.
func HeadlessBrowsers(cfg headless.Config) BrowserFactory {
	return func() (crawler.Fetcher, func() error) {
		b := headless.Open(cfg)
		return b, b.Close
	}
}

// Opener implements crawler.SiteOpener over a Registry.
type Opener struct {
	registry *Registry
	http     crawler.Fetcher
	browsers BrowserFactory
	limiter  Waiter
	headers  http.Header
	logger   *zap.Logger
}

// OpenerOption customises an Opener.
type OpenerOption func(*Opener)

// WithBrowsers enables the headless adapter.
func WithBrowsers(f BrowserFactory) OpenerOption {
	return func(o *Opener) { o.browsers = f }
}

// WithLimiter applies per-host politeness to every page fetch.
func WithLimiter(w Waiter) OpenerOption {
	return func(o *Opener) { o.limiter = w }
}

// WithHeaders sets headers sent with every request.
func WithHeaders(h http.Header) OpenerOption {
	return func(o *Opener) { o.headers = h.Clone() }
}

// NewOpener creates an Opener. httpFetcher serves selector sites.
func NewOpener(registry *Registry, httpFetcher crawler.Fetcher, logger *zap.Logger, opts ...OpenerOption) *Opener {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Opener{registry: registry, http: httpFetcher, logger: logger}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Open starts a session for target. Headless sessions own a browser that
// Close releases. RSS sessions read the section feed as their only page.
func (o *Opener) Open(_ context.Context, target crawler.CrawlTarget) (crawler.Session, error) {
	def, err := o.registry.definition(target)
	if err != nil {
		return nil, err
	}
	dates, err := NewDateParser(def.DateLayouts, def.Locale, def.Timezone)
	if err != nil {
		return nil, err
	}
	logger := o.logger.With(zap.String("target", target.Key()), zap.String("adapter", string(def.Adapter)))
	s := &session{
		target:  target,
		def:     def,
		limiter: o.limiter,
		headers: o.headers,
		parser:  &parser{sel: def.Selectors, dates: dates, logger: logger},
		logger:  logger,
		closeFn: func() error { return nil },
	}
	switch def.Adapter {
	case AdapterHeadless:
		if o.browsers == nil {
			return nil, errors.New("headless adapter requested but headless browsing is disabled")
		}
		s.fetcher, s.closeFn = o.browsers()
	case AdapterRSS:
		if o.http == nil {
			return nil, fmt.Errorf("no http fetcher for %s", target.Key())
		}
		s.fetcher = o.http
		s.feed = &feedReader{dates: dates, logger: logger}
	default:
		if o.http == nil {
			return nil, fmt.Errorf("no http fetcher for %s", target.Key())
		}
		s.fetcher = o.http
	}
	return s, nil
}
