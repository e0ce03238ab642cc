package site

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/newswatch/internal/crawler"
)

type session struct {
	target  crawler.CrawlTarget
	def     Definition
	fetcher crawler.Fetcher
	limiter Waiter
	headers http.Header
	parser  *parser
	feed    *feedReader
	logger  *zap.Logger

	// first holds page 1 as read by PageCount until FetchPage(1) takes it.
	first    []crawler.ArticleStub
	hasFirst bool
	items    map[string]feedItem

	closeOnce sync.Once
	closeFn   func() error
	closeErr  error
}

func (s *session) PageCount(ctx context.Context) (int, error) {
	pageURL := s.def.pageURL(s.target, 1)
	body, err := s.get(ctx, pageURL)
	if err != nil {
		return 0, err
	}
	count := 1
	if s.feed == nil {
		if count, err = s.parser.lastPage(body); err != nil {
			return 0, err
		}
	}
	stubs, err := s.listing(body, pageURL)
	if err != nil {
		return 0, err
	}
	s.first, s.hasFirst = stubs, true
	return count, nil
}

func (s *session) FetchPage(ctx context.Context, page int) ([]crawler.ArticleStub, error) {
	if page == 1 && s.hasFirst {
		stubs := s.first
		s.first, s.hasFirst = nil, false
		return stubs, nil
	}
	pageURL := s.def.pageURL(s.target, page)
	body, err := s.get(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	stubs, err := s.listing(body, pageURL)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("listing page read", zap.Int("page", page), zap.Int("articles", len(stubs)))
	return stubs, nil
}

func (s *session) FetchArticle(ctx context.Context, stub crawler.ArticleStub) (crawler.Article, error) {
	if item, ok := s.items[stub.Link]; ok {
		if article, ok := item.article(stub); ok {
			return article, nil
		}
	}
	body, err := s.get(ctx, stub.Link)
	if err != nil {
		return crawler.Article{}, err
	}
	return s.parser.article(body, stub)
}

func (s *session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.closeFn()
	})
	return s.closeErr
}

func (s *session) listing(body []byte, pageURL string) ([]crawler.ArticleStub, error) {
	if s.feed == nil {
		return s.parser.listing(body, pageURL)
	}
	stubs, items, err := s.feed.listing(body, pageURL)
	if err != nil {
		return nil, err
	}
	s.items = items
	return stubs, nil
}

func (s *session) get(ctx context.Context, rawURL string) ([]byte, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx, rawURL); err != nil {
			return nil, err
		}
	}
	resp, err := s.fetcher.Fetch(ctx, crawler.FetchRequest{URL: rawURL, Headers: s.headers})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", crawler.ErrTransientFetch, rawURL, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s: status %d", crawler.ErrTransientFetch, rawURL, resp.StatusCode)
	}
	return resp.Body, nil
}
