// Package search finds articles similar to an entry in an Elasticsearch news index.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	es "github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"go.uber.org/zap"

	"github.com/JakeFAU/newswatch/internal/crawler"
)

const defaultLimit = 10

// Config selects the cluster and index.
type Config struct {
	Addresses []string
	Username  string
	Password  string
	Index     string
	Limit     int
}

// Elastic implements crawler.Searcher with a multi_match query.
type Elastic struct {
	client *es.Client
	index  string
	limit  int
	logger *zap.Logger
}

// NewClient builds an Elasticsearch client from cfg.
func NewClient(cfg Config) (*es.Client, error) {
	client, err := es.NewClient(es.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}
	return client, nil
}

// New wraps client. index is required.
func New(client *es.Client, index string, limit int, logger *zap.Logger) (*Elastic, error) {
	if client == nil {
		return nil, errors.New("elasticsearch client is required")
	}
	if index == "" {
		return nil, errors.New("search index is required")
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Elastic{client: client, index: index, limit: limit, logger: logger}, nil
}

type hit struct {
	Source struct {
		URL     string `json:"url"`
		Slug    string `json:"slug"`
		Title   string `json:"title"`
		Summary string `json:"summary"`
	} `json:"_source"`
}

type response struct {
	Hits struct {
		Hits []hit `json:"hits"`
	} `json:"hits"`
}

// Search returns the top hits for query.Keywords, skipping excluded URLs.
func (e *Elastic) Search(ctx context.Context, query crawler.SearchQuery) ([]crawler.Candidate, error) {
	if len(query.Keywords) == 0 {
		return nil, nil
	}
	limit := query.Limit
	if limit <= 0 {
		limit = e.limit
	}

	body := map[string]any{
		"size": limit + len(query.Exclude),
		"query": map[string]any{
			"multi_match": map[string]any{
				"query":  strings.Join(query.Keywords, " "),
				"fields": []string{"title^2", "summary", "body"},
			},
		},
		"_source": []string{"url", "slug", "title", "summary"},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, fmt.Errorf("encode search query: %w", err)
	}

	res, err := e.client.Search(
		e.client.Search.WithContext(ctx),
		e.client.Search.WithIndex(e.index),
		e.client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch search failed: %w", err)
	}
	defer func() {
		_ = res.Body.Close()
	}()
	if res.IsError() {
		return nil, errorResponse(res)
	}

	var parsed response
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	excluded := make(map[string]struct{}, len(query.Exclude))
	for _, u := range query.Exclude {
		excluded[u] = struct{}{}
	}
	out := make([]crawler.Candidate, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		if h.Source.URL == "" {
			continue
		}
		if _, skip := excluded[h.Source.URL]; skip {
			continue
		}
		out = append(out, crawler.Candidate{
			URL:   h.Source.URL,
			Slug:  h.Source.Slug,
			Title: h.Source.Title,
			Meta:  h.Source.Summary,
		})
		if len(out) == limit {
			break
		}
	}
	e.logger.Debug("search completed",
		zap.Strings("keywords", query.Keywords),
		zap.Int("hits", len(parsed.Hits.Hits)),
		zap.Int("candidates", len(out)),
	)
	return out, nil
}

func errorResponse(res *esapi.Response) error {
	body, _ := io.ReadAll(res.Body)
	return fmt.Errorf("elasticsearch returned error [%d]: %s", res.StatusCode, string(body))
}
