package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/amazon-review-scraper/internal/browser"
	"github.com/maltedev/amazon-review-scraper/internal/cache"
	"github.com/maltedev/amazon-review-scraper/internal/metrics"
	"github.com/maltedev/amazon-review-scraper/internal/models"
	"github.com/maltedev/amazon-review-scraper/internal/report"
)

const DefaultPages = 2

// Request describes one pipeline run.
type Request struct {
	Keyword     string              `json:"keyword"`
	Filter      models.ReviewFilter `json:"filter"`
	Pages       int                 `json:"pages"`
	Concurrency int                 `json:"concurrency"`
	TopN        int                 `json:"top_n"`

	// NoCache bypasses the cache for this run only. Nothing is read from
	// or written to it.
	NoCache bool `json:"no_cache"`
}

// Recorder persists finished runs. Failures are logged, never fatal.
type Recorder interface {
	SaveRun(ctx context.Context, r *report.Report) error
}

// Service runs search, review fan-out and aggregation for a keyword.
type Service struct {
	searcher *Searcher
	pool     *Pool
	provider SessionProvider
	recorder Recorder
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewService(searcher *Searcher, pool *Pool, provider SessionProvider, m *metrics.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		searcher: searcher,
		pool:     pool,
		provider: provider,
		metrics:  m,
		logger:   logger.With("component", "pipeline"),
	}
}

// WithRecorder enables persistence of finished runs.
func (s *Service) WithRecorder(r Recorder) *Service {
	s.recorder = r
	return s
}

func (s *Service) normalize(req Request) Request {
	req.Keyword = strings.TrimSpace(req.Keyword)
	if req.Pages == 0 {
		req.Pages = DefaultPages
	}
	if req.Concurrency == 0 {
		req.Concurrency = DefaultConcurrency
		if req.Concurrency > s.pool.MaxConcurrency() {
			req.Concurrency = s.pool.MaxConcurrency()
		}
	}
	if req.TopN == 0 {
		req.TopN = DefaultTopN
	}
	return req
}

func (s *Service) Validate(req Request) error {
	if req.Keyword == "" {
		return fmt.Errorf("%w: keyword is required", ErrInvalidInput)
	}
	if req.Pages < 1 {
		return fmt.Errorf("%w: pages must be at least 1, got %d", ErrInvalidInput, req.Pages)
	}
	if err := req.Filter.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if req.Concurrency < 1 || req.Concurrency > s.pool.MaxConcurrency() {
		return fmt.Errorf("%w: concurrency must be between 1 and %d, got %d", ErrInvalidInput, s.pool.MaxConcurrency(), req.Concurrency)
	}
	if req.TopN < 1 {
		return fmt.Errorf("%w: top must be at least 1, got %d", ErrInvalidInput, req.TopN)
	}
	return nil
}

// Run returns an error only for failures that prevent any job from being
// dispatched: invalid input, authentication, or search. Individual job
// failures are reported inside the report.
func (s *Service) Run(ctx context.Context, req Request) (*report.Report, error) {
	req = s.normalize(req)
	if err := s.Validate(req); err != nil {
		s.metrics.IncRun("invalid")
		return nil, err
	}

	runID := uuid.NewString()
	logger := s.logger.With("run_id", runID, "keyword", req.Keyword)
	started := time.Now()

	logger.Info("run started",
		"filter", req.Filter.String(),
		"pages", req.Pages,
		"concurrency", req.Concurrency,
		"top", req.TopN,
		"no_cache", req.NoCache)

	searcher, pool := s.searcher, s.pool
	if req.NoCache {
		searcher, pool = searcher.withStore(cache.Disabled{}), pool.withStore(cache.Disabled{})
	}

	products, session, err := s.search(ctx, searcher, req)
	if err != nil {
		s.metrics.IncRun("failed")
		logger.Error("search failed", "error", err)
		return nil, err
	}

	jobs := make([]models.ScrapeJob, len(products))
	for i, p := range products {
		jobs[i] = models.ScrapeJob{Product: p, Filter: req.Filter, MaxPages: req.Pages}
	}

	var seeds []browser.Session
	if session != nil {
		seeds = append(seeds, session)
	} else if len(jobs) > 0 && pool.NeedsSession(ctx, jobs) {
		// fail before dispatch instead of once per job
		preflight, err := s.provider.Acquire(ctx)
		if err != nil {
			s.metrics.IncRun("failed")
			logger.Error("session unavailable", "error", err)
			return nil, fmt.Errorf("failed to acquire session: %w", err)
		}
		seeds = append(seeds, preflight)
	}

	batch := pool.Run(ctx, jobs, req.Concurrency, seeds...)

	rep := report.Assemble(req.Keyword, req.Filter, products, batch)
	rep.RunID = runID
	rep.MaxPages = req.Pages
	rep.StartedAt = started
	rep.Summary.Elapsed = time.Since(started)

	logger.Info("run finished",
		"products", rep.Summary.Total,
		"completed", rep.Summary.Completed,
		"failed", rep.Summary.Failed,
		"from_cache", rep.Summary.FromCache,
		"reviews", rep.Summary.Reviews,
		"elapsed", rep.Summary.Elapsed.Round(time.Millisecond))

	if s.recorder != nil {
		if err := s.recorder.SaveRun(ctx, rep); err != nil {
			logger.Error("failed to persist run", "error", err)
		}
	}

	s.metrics.IncRun("ok")
	return rep, nil
}

// search returns the session it used so the pool can reuse it.
func (s *Service) search(ctx context.Context, searcher *Searcher, req Request) ([]models.Product, browser.Session, error) {
	if products, ok := searcher.Cached(ctx, req.Keyword, req.TopN); ok {
		return products, nil, nil
	}

	session, err := s.provider.Acquire(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to acquire session: %w", err)
	}

	products, err := searcher.Fetch(ctx, session, req.Keyword, req.TopN)
	if err != nil {
		session.Close()
		return nil, nil, err
	}
	return products, session, nil
}
