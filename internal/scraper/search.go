package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maltedev/amazon-review-scraper/internal/browser"
	"github.com/maltedev/amazon-review-scraper/internal/cache"
	"github.com/maltedev/amazon-review-scraper/internal/metrics"
	"github.com/maltedev/amazon-review-scraper/internal/models"
	"github.com/maltedev/amazon-review-scraper/internal/parser"
	"github.com/maltedev/amazon-review-scraper/internal/ratelimit"
)

const (
	DefaultTopN = 3

	// searchWorkerID keeps search navigation on its own limiter slot.
	searchWorkerID = 0
)

// Searcher resolves a keyword to ranked products. The cached value is the
// full de-duplicated result list, so any topN can be served from it.
type Searcher struct {
	baseURL   string
	extractor parser.Extractor
	cache     cache.Store
	limiter   ratelimit.Limiter
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

func NewSearcher(baseURL string, extractor parser.Extractor, store cache.Store, limiter ratelimit.Limiter, m *metrics.Metrics, logger *slog.Logger) *Searcher {
	if store == nil {
		store = cache.Disabled{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Searcher{
		baseURL:   baseURL,
		extractor: extractor,
		cache:     store,
		limiter:   limiter,
		metrics:   m,
		logger:    logger.With("component", "search"),
	}
}

// Cached returns the top products for keyword if a fresh entry exists.
// withStore returns a copy of s that reads and writes store instead.
func (s *Searcher) withStore(store cache.Store) *Searcher {
	cp := *s
	cp.cache = store
	return &cp
}

func (s *Searcher) Cached(ctx context.Context, keyword string, topN int) ([]models.Product, bool) {
	key := cache.SearchKey(keyword)

	entry, ok := s.cache.Get(ctx, key)
	s.metrics.ObserveCache("search", ok)
	if !ok {
		return nil, false
	}

	var products []models.Product
	if err := json.Unmarshal(entry.Payload, &products); err != nil {
		s.logger.Warn("ignoring undecodable search entry", "key", key, "error", fmt.Errorf("%w: %v", ErrCacheCorruption, err))
		return nil, false
	}

	s.logger.Info("search served from cache", "keyword", keyword, "cached", len(products))
	return rankProducts(products, topN), true
}

// Fetch loads the search results page with session and caches the result.
func (s *Searcher) Fetch(ctx context.Context, session browser.Session, keyword string, topN int) ([]models.Product, error) {
	if s.limiter != nil {
		if err := s.limiter.Acquire(ctx, searchWorkerID); err != nil {
			return nil, err
		}
	}

	target := SearchURL(s.baseURL, keyword)
	s.logger.Info("searching products", "keyword", keyword, "url", target)

	start := time.Now()
	page, err := session.Open(ctx, target, parser.SearchResultSelector)
	s.metrics.ObservePage("search", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to load search results: %w", err)
	}

	products, err := s.extractor.ExtractProducts(page)
	if err != nil {
		if !errors.Is(err, ErrExtraction) {
			return nil, fmt.Errorf("failed to extract search results: %w", err)
		}
		// an unreadable results page is zero results, not a failed run
		s.logger.Warn("failed to extract search results", "keyword", keyword, "error", err)
		return []models.Product{}, nil
	}

	all := rankProducts(products, 0)
	if len(all) > 0 {
		payload, err := json.Marshal(all)
		if err == nil {
			err = s.cache.Put(ctx, cache.SearchKey(keyword), payload)
		}
		if err != nil {
			s.logger.Warn("failed to cache search results", "keyword", keyword, "error", err)
		}
	}

	top := rankProducts(all, topN)
	s.logger.Info("search completed", "keyword", keyword, "found", len(all), "selected", len(top))
	return top, nil
}

// rankProducts drops entries without an ASIN and repeated ASINs, keeps page
// order and renumbers ranks from 1. topN <= 0 keeps everything.
func rankProducts(products []models.Product, topN int) []models.Product {
	seen := make(map[string]struct{}, len(products))
	out := make([]models.Product, 0, len(products))

	for _, p := range products {
		if p.ASIN == "" {
			continue
		}
		if _, dup := seen[p.ASIN]; dup {
			continue
		}
		seen[p.ASIN] = struct{}{}

		p.Rank = len(out) + 1
		out = append(out, p)

		if topN > 0 && len(out) == topN {
			break
		}
	}
	return out
}
