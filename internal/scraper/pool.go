package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/maltedev/amazon-review-scraper/internal/browser"
	"github.com/maltedev/amazon-review-scraper/internal/cache"
	"github.com/maltedev/amazon-review-scraper/internal/metrics"
	"github.com/maltedev/amazon-review-scraper/internal/models"
	"github.com/maltedev/amazon-review-scraper/internal/parser"
	"github.com/maltedev/amazon-review-scraper/internal/ratelimit"
)

const (
	DefaultConcurrency    = 3
	DefaultMaxConcurrency = 5
	DefaultRunDeadline    = 30 * time.Minute

	// a job is attempted at most this many times when its session is lost
	maxSessionAttempts = 2
)

type PoolConfig struct {
	BaseURL        string
	MaxConcurrency int
	RunDeadline    time.Duration
}

// Pool runs review jobs on a bounded set of workers. Each worker owns at
// most one browser session at a time and finishes a job before taking the
// next one.
type Pool struct {
	cfg       PoolConfig
	provider  SessionProvider
	extractor parser.Extractor
	cache     cache.Store
	limiter   ratelimit.Limiter
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

func NewPool(cfg PoolConfig, provider SessionProvider, extractor parser.Extractor, store cache.Store, limiter ratelimit.Limiter, m *metrics.Metrics, logger *slog.Logger) *Pool {
	if cfg.BaseURL == "" {
		cfg.BaseURL = browser.DefaultBaseURL
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	if store == nil {
		store = cache.Disabled{}
	}
	if limiter == nil {
		limiter = ratelimit.NewPerWorker(0, 0)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Pool{
		cfg:       cfg,
		provider:  provider,
		extractor: extractor,
		cache:     store,
		limiter:   limiter,
		metrics:   m,
		logger:    logger.With("component", "pool"),
	}
}

func (p *Pool) MaxConcurrency() int {
	return p.cfg.MaxConcurrency
}

// withStore returns a copy of p that reads and writes store instead.
func (p *Pool) withStore(store cache.Store) *Pool {
	cp := *p
	cp.cache = store
	return &cp
}

func (p *Pool) workerCount(concurrency, jobs int) int {
	if concurrency < 1 {
		concurrency = 1
	}
	if concurrency > p.cfg.MaxConcurrency {
		concurrency = p.cfg.MaxConcurrency
	}
	if concurrency > jobs {
		concurrency = jobs
	}
	return concurrency
}

// reviewsPayload is the cached form of a completed job.
type reviewsPayload struct {
	Reviews      []models.Review `json:"reviews"`
	PagesScraped int             `json:"pages_scraped"`
}

// Run executes jobs and returns once every job is terminal or the run
// deadline passes. It never fails: job errors are recorded as Failed
// outcomes. Seed sessions are handed to the first workers; the pool closes
// every session it was given or acquired.
func (p *Pool) Run(ctx context.Context, jobs []models.ScrapeJob, concurrency int, seed ...browser.Session) *models.BatchResult {
	products := make([]models.Product, len(jobs))
	for i, job := range jobs {
		products[i] = job.Product
	}
	result := models.NewBatchResult(products)

	seeds := make(chan browser.Session, len(seed))
	for _, s := range seed {
		if s != nil {
			seeds <- s
		}
	}
	close(seeds)

	if len(jobs) == 0 {
		closeSessions(seeds)
		result.FinishedAt = time.Now()
		return result
	}

	runCtx := ctx
	var cancel context.CancelFunc = func() {}
	if p.cfg.RunDeadline > 0 {
		runCtx, cancel = context.WithTimeout(ctx, p.cfg.RunDeadline)
	}
	defer cancel()

	workers := p.workerCount(concurrency, len(jobs))
	p.logger.Info("starting workers", "workers", workers, "jobs", len(jobs), "deadline", p.cfg.RunDeadline)

	queue := make(chan int, len(jobs))
	for i := range jobs {
		queue <- i
	}
	close(queue)

	var (
		mu       sync.Mutex
		sealed   bool
		outcomes = make([]*models.JobOutcome, len(jobs))
	)
	// record reports false once the deadline has sealed the result
	record := func(i int, outcome *models.JobOutcome) bool {
		mu.Lock()
		defer mu.Unlock()
		if sealed {
			p.logger.Debug("discarding result after deadline", "asin", jobs[i].Product.ASIN)
			return false
		}
		outcomes[i] = outcome
		return true
	}

	var wg sync.WaitGroup
	for id := 1; id <= workers; id++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.worker(runCtx, id, jobs, queue, seeds, record)
		}(id)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-runCtx.Done():
		select {
		case <-done:
		default:
			p.logger.Warn("run deadline reached, abandoning pending jobs", "error", runCtx.Err())
		}
	}

	mu.Lock()
	sealed = true
	for i, job := range jobs {
		outcome := outcomes[i]
		if outcome == nil {
			outcome = models.Failed(fmt.Errorf("%w: job for %s did not finish", ErrDeadlineExceeded, job.Product.ASIN))
			p.metrics.IncJob(string(models.JobStatusFailed))
		}
		result.Outcomes[job.Product.ASIN] = outcome
	}
	mu.Unlock()
	result.FinishedAt = time.Now()

	// workers still inside a browser call close their own sessions; seeds
	// nobody picked up are closed once every worker has exited
	go func() {
		<-done
		closeSessions(seeds)
	}()

	p.logger.Info("workers finished",
		"completed", result.Completed(),
		"failed", result.Failed(),
		"elapsed", result.Elapsed().Round(time.Millisecond))

	return result
}

func closeSessions(sessions <-chan browser.Session) {
	for s := range sessions {
		s.Close()
	}
}

func (p *Pool) worker(ctx context.Context, id int, jobs []models.ScrapeJob, queue <-chan int, seeds <-chan browser.Session, record func(int, *models.JobOutcome) bool) {
	logger := p.logger.With("worker", id)

	var session browser.Session
	if s, ok := <-seeds; ok {
		session = s
	}
	defer func() {
		if session != nil {
			if err := session.Close(); err != nil {
				logger.Debug("failed to close session", "error", err)
			}
		}
	}()

	for i := range queue {
		if ctx.Err() != nil {
			return
		}

		job := jobs[i]
		jobLogger := logger.With("asin", job.Product.ASIN, "rank", job.Product.Rank)

		p.metrics.WorkerStarted()
		start := time.Now()
		outcome := p.runJob(ctx, id, job, &session, jobLogger)
		outcome.WorkerID = id
		outcome.Duration = time.Since(start)
		p.metrics.WorkerFinished()

		if !record(i, outcome) {
			// already counted as failed when the run was sealed
			continue
		}
		p.metrics.IncJob(string(outcome.Status))

		if outcome.Succeeded() {
			jobLogger.Info("job completed",
				"reviews", len(outcome.Reviews),
				"pages", outcome.PagesScraped,
				"from_cache", outcome.FromCache,
				"duration", outcome.Duration.Round(time.Millisecond))
		} else {
			jobLogger.Warn("job failed", "error", outcome.Error)
		}
	}
}

func (p *Pool) runJob(ctx context.Context, workerID int, job models.ScrapeJob, session *browser.Session, logger *slog.Logger) *models.JobOutcome {
	key := cache.ReviewsKey(job.Product.ASIN, job.Filter, job.MaxPages)

	if cached, ok := p.cachedReviews(ctx, key, logger); ok {
		outcome := models.Completed(cached.Reviews, cached.PagesScraped)
		outcome.FromCache = true
		return outcome
	}

	var lastErr error
	for attempt := 1; attempt <= maxSessionAttempts; attempt++ {
		if *session == nil {
			s, err := p.provider.Acquire(ctx)
			if err != nil {
				return models.Failed(deadlineError(ctx, fmt.Errorf("failed to acquire session: %w", err)))
			}
			*session = s
		}

		reviews, pages, err := p.scrapeReviews(ctx, workerID, *session, job, logger)
		if err == nil {
			p.storeReviews(ctx, key, reviews, pages, logger)
			return models.Completed(reviews, pages)
		}

		lastErr = err
		if !errors.Is(err, ErrSessionLost) {
			break
		}

		logger.Warn("session lost, replacing it", "attempt", attempt, "session", (*session).ID(), "error", err)
		(*session).Close()
		*session = nil
		p.metrics.IncRecycle()
	}

	return models.Failed(deadlineError(ctx, lastErr))
}

// scrapeReviews walks review pages in order. An empty page ends pagination.
// A page that fails extraction counts as empty-but-continue; the job only
// fails on extraction when no page could be extracted.
func (p *Pool) scrapeReviews(ctx context.Context, workerID int, session browser.Session, job models.ScrapeJob, logger *slog.Logger) ([]models.Review, int, error) {
	reviews := []models.Review{}
	pages := 0
	extracted := 0
	var extractErr error

	for pageNum := 1; pageNum <= job.MaxPages; pageNum++ {
		if err := p.limiter.Acquire(ctx, workerID); err != nil {
			return nil, pages, err
		}

		target := ReviewsURL(p.cfg.BaseURL, job.Product.ASIN, job.Filter, pageNum)

		start := time.Now()
		page, err := session.Open(ctx, target, parser.ReviewSelector)
		p.metrics.ObservePage("reviews", time.Since(start), err)
		if err != nil {
			return nil, pages, fmt.Errorf("failed to load review page %d: %w", pageNum, err)
		}
		pages++

		found, err := p.extractor.ExtractReviews(page)
		if err != nil {
			logger.Warn("failed to extract reviews, skipping page", "page", pageNum, "error", err)
			extractErr = err
			continue
		}
		extracted++

		if len(found) == 0 {
			logger.Debug("no more reviews", "page", pageNum)
			break
		}

		kept := 0
		for _, r := range found {
			if job.Filter.Matches(r) {
				reviews = append(reviews, r)
				kept++
			}
		}
		logger.Debug("page scraped", "page", pageNum, "found", len(found), "kept", kept)
	}

	if extracted == 0 && extractErr != nil {
		return nil, pages, fmt.Errorf("no review page could be extracted: %w", extractErr)
	}

	p.metrics.AddReviews(len(reviews))
	return reviews, pages, nil
}

func (p *Pool) cachedReviews(ctx context.Context, key string, logger *slog.Logger) (*reviewsPayload, bool) {
	entry, ok := p.cache.Get(ctx, key)
	p.metrics.ObserveCache("reviews", ok)
	if !ok {
		return nil, false
	}

	var payload reviewsPayload
	if err := json.Unmarshal(entry.Payload, &payload); err != nil {
		logger.Warn("ignoring undecodable cache entry", "key", key, "error", fmt.Errorf("%w: %v", ErrCacheCorruption, err))
		return nil, false
	}
	return &payload, true
}

func (p *Pool) storeReviews(ctx context.Context, key string, reviews []models.Review, pages int, logger *slog.Logger) {
	payload, err := json.Marshal(reviewsPayload{Reviews: reviews, PagesScraped: pages})
	if err == nil {
		err = p.cache.Put(ctx, key, payload)
	}
	if err != nil {
		logger.Warn("failed to cache reviews", "key", key, "error", err)
	}
}

// NeedsSession reports whether any job would miss the cache. It does not
// affect cache statistics.
func (p *Pool) NeedsSession(ctx context.Context, jobs []models.ScrapeJob) bool {
	for _, job := range jobs {
		if !p.cache.Contains(ctx, cache.ReviewsKey(job.Product.ASIN, job.Filter, job.MaxPages)) {
			return true
		}
	}
	return false
}
