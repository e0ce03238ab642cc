package site

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/newswatch/internal/crawler"
)

var digits = regexp.MustCompile(`\d+`)

// parser extracts listing rows and article bodies with goquery.
type parser struct {
	sel    Selectors
	dates  *DateParser
	logger *zap.Logger
}

func (p *parser) listing(body []byte, pageURL string) ([]crawler.ArticleStub, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse listing: %w", err)
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}

	var stubs []crawler.ArticleStub
	doc.Find(p.sel.Item).Each(func(_ int, item *goquery.Selection) {
		href, ok := item.Find(p.sel.Link).First().Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return
		}
		link, err := base.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		dateNode := item.Find(p.sel.Date).First()
		raw, ok := dateNode.Attr("datetime")
		if !ok {
			raw = dateNode.Text()
		}
		published, err := p.dates.Parse(raw)
		if err != nil {
			p.logger.Debug("listing row without a usable date",
				zap.String("link", link.String()),
				zap.Error(err),
			)
			return
		}
		link.Fragment = ""
		stubs = append(stubs, crawler.ArticleStub{Link: link.String(), PublishDate: published})
	})
	return stubs, nil
}

// lastPage reads the highest page number from the pagination links. Pages
// without pagination have a single page.
func (p *parser) lastPage(body []byte) (int, error) {
	if p.sel.LastPage == "" {
		return 1, nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("parse listing: %w", err)
	}
	last := 1
	doc.Find(p.sel.LastPage).Each(func(_ int, s *goquery.Selection) {
		if n := lastNumber(strings.TrimSpace(s.Text())); n > last {
			last = n
		}
		if href, ok := s.Attr("href"); ok {
			if n := lastNumber(href); n > last {
				last = n
			}
		}
	})
	return last, nil
}

func (p *parser) article(body []byte, stub crawler.ArticleStub) (crawler.Article, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return crawler.Article{}, fmt.Errorf("parse article: %w", err)
	}
	title := strings.TrimSpace(selectText(doc, p.sel.Title, "h1"))
	if title == "" {
		title = strings.TrimSpace(doc.Find("title").First().Text())
	}

	var paragraphs []string
	contentSel := p.sel.Content
	if contentSel == "" {
		contentSel = "article p"
	}
	doc.Find(contentSel).Each(func(_ int, s *goquery.Selection) {
		if text := strings.Join(strings.Fields(s.Text()), " "); text != "" {
			paragraphs = append(paragraphs, text)
		}
	})
	if title == "" && len(paragraphs) == 0 {
		return crawler.Article{}, fmt.Errorf("no title or content at %s", stub.Link)
	}
	return crawler.Article{
		Link:        stub.Link,
		Title:       title,
		Content:     strings.Join(paragraphs, "\n"),
		PublishDate: stub.PublishDate,
		HTML:        body,
	}, nil
}

func selectText(doc *goquery.Document, selector, fallback string) string {
	if selector != "" {
		if s := doc.Find(selector).First(); s.Length() > 0 {
			return s.Text()
		}
	}
	return doc.Find(fallback).First().Text()
}

func lastNumber(s string) int {
	matches := digits.FindAllString(s, -1)
	if len(matches) == 0 {
		return 0
	}
	n, err := strconv.Atoi(matches[len(matches)-1])
	if err != nil {
		return 0
	}
	return n
}
