package site

import (
	"bytes"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"

	"github.com/JakeFAU/newswatch/internal/crawler"
)

// feedItem keeps the parts of a feed entry FetchArticle can reuse.
type feedItem struct {
	title   string
	content string
}

// feedReader turns RSS and Atom documents into listing rows.
type feedReader struct {
	dates  *DateParser
	logger *zap.Logger
}

// listing returns the feed's entries newest first, plus the inline content
// of each entry keyed by link.
func (f *feedReader) listing(body []byte, feedURL string) ([]crawler.ArticleStub, map[string]feedItem, error) {
	parsed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("parse feed: %w", err)
	}
	base, err := url.Parse(feedURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse feed url: %w", err)
	}

	stubs := make([]crawler.ArticleStub, 0, len(parsed.Items))
	items := make(map[string]feedItem, len(parsed.Items))
	for _, entry := range parsed.Items {
		raw := itemLink(entry)
		if raw == "" {
			continue
		}
		link, err := base.Parse(raw)
		if err != nil {
			continue
		}
		link.Fragment = ""
		published, ok := f.published(entry)
		if !ok {
			f.logger.Debug("feed item without a usable date", zap.String("link", link.String()))
			continue
		}
		content := entry.Content
		if content == "" {
			content = entry.Description
		}
		stubs = append(stubs, crawler.ArticleStub{Link: link.String(), PublishDate: published})
		items[link.String()] = feedItem{title: strings.TrimSpace(entry.Title), content: content}
	}
	slices.SortStableFunc(stubs, func(a, b crawler.ArticleStub) int {
		return b.PublishDate.Compare(a.PublishDate)
	})
	return stubs, items, nil
}

// published prefers the date gofeed parsed and falls back to the site's layouts.
func (f *feedReader) published(entry *gofeed.Item) (time.Time, bool) {
	if entry.PublishedParsed != nil {
		return entry.PublishedParsed.UTC(), true
	}
	for _, raw := range []string{entry.Published, entry.Updated} {
		if t, err := f.dates.Parse(raw); err == nil {
			return t, true
		}
	}
	if entry.UpdatedParsed != nil {
		return entry.UpdatedParsed.UTC(), true
	}
	return time.Time{}, false
}

// itemLink prefers the entry link and falls back to a URL-shaped GUID.
func itemLink(entry *gofeed.Item) string {
	if link := strings.TrimSpace(entry.Link); link != "" {
		return link
	}
	if guid := strings.TrimSpace(entry.GUID); strings.HasPrefix(guid, "http") {
		return guid
	}
	return ""
}

// article builds an article from inline feed content. ok is false when the
// entry carries no text and the page has to be fetched.
func (it feedItem) article(stub crawler.ArticleStub) (crawler.Article, bool) {
	if it.content == "" {
		return crawler.Article{}, false
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(it.content))
	if err != nil {
		return crawler.Article{}, false
	}
	var paragraphs []string
	doc.Find("p").Each(func(_ int, s *goquery.Selection) {
		if text := strings.Join(strings.Fields(s.Text()), " "); text != "" {
			paragraphs = append(paragraphs, text)
		}
	})
	if len(paragraphs) == 0 {
		if text := strings.Join(strings.Fields(doc.Text()), " "); text != "" {
			paragraphs = append(paragraphs, text)
		}
	}
	if len(paragraphs) == 0 {
		return crawler.Article{}, false
	}
	return crawler.Article{
		Link:        stub.Link,
		Title:       it.title,
		Content:     strings.Join(paragraphs, "\n"),
		PublishDate: stub.PublishDate,
		HTML:        []byte(it.content),
	}, true
}
