package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/maltedev/amazon-review-scraper/internal/cache"
	"github.com/maltedev/amazon-review-scraper/internal/database"
	"github.com/maltedev/amazon-review-scraper/internal/models"
	"github.com/maltedev/amazon-review-scraper/internal/report"
	"github.com/maltedev/amazon-review-scraper/internal/scraper"
)

// Runner executes one scrape pipeline run.
type Runner interface {
	Run(ctx context.Context, req scraper.Request) (*report.Report, error)
}

type RunLister interface {
	RecentRuns(ctx context.Context, limit int) ([]database.RunRecord, error)
}

type OutboxStats interface {
	PendingCount(ctx context.Context) (int64, error)
	DeadLetterCount(ctx context.Context) (int64, error)
}

const (
	pendingWarnThreshold    = 1000
	deadLetterFailThreshold = 100
)

type Handlers struct {
	runner Runner
	cache  cache.Store
	runs   RunLister
	outbox OutboxStats
	logger *slog.Logger

	// one run at a time: all runs share the browser and the rate limits
	busy chan struct{}
}

func NewHandlers(runner Runner, store cache.Store, logger *slog.Logger) *Handlers {
	if store == nil {
		store = cache.Disabled{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		runner: runner,
		cache:  store,
		logger: logger.With("component", "api"),
		busy:   make(chan struct{}, 1),
	}
}

// WithRuns enables GET /api/v1/runs.
func (h *Handlers) WithRuns(runs RunLister) *Handlers {
	h.runs = runs
	return h
}

// WithOutbox adds outbox backlog to the health check.
func (h *Handlers) WithOutbox(outbox OutboxStats) *Handlers {
	h.outbox = outbox
	return h
}

// ScrapeRequest is the body of POST /api/v1/scrape.
type ScrapeRequest struct {
	Keyword     string `json:"keyword"`
	Rating      int    `json:"rating"`
	Pages       int    `json:"pages"`
	Concurrency int    `json:"concurrency"`
	Top         int    `json:"top"`
	NoCache     bool   `json:"no_cache"`
}

func (h *Handlers) Scrape(w http.ResponseWriter, r *http.Request) {
	var req ScrapeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	select {
	case h.busy <- struct{}{}:
		defer func() { <-h.busy }()
	default:
		h.respondError(w, http.StatusConflict, "a scrape run is already in progress")
		return
	}

	rep, err := h.runner.Run(r.Context(), scraper.Request{
		Keyword:     req.Keyword,
		Filter:      models.NewReviewFilter(req.Rating),
		Pages:       req.Pages,
		Concurrency: req.Concurrency,
		TopN:        req.Top,
		NoCache:     req.NoCache,
	})
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("scrape run failed", "error", err, "keyword", req.Keyword)
		}
		h.respondError(w, status, err.Error())
		return
	}

	h.respondJSON(w, http.StatusOK, rep)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, scraper.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, scraper.ErrAuthenticationRequired):
		return http.StatusUnauthorized
	case errors.Is(err, scraper.ErrBlocked),
		errors.Is(err, scraper.ErrNavigationTimeout),
		errors.Is(err, scraper.ErrExtraction),
		errors.Is(err, scraper.ErrSessionLost):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handlers) CacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.cache.Stats(r.Context())
	if err != nil {
		h.logger.Error("failed to get cache stats", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to get cache stats")
		return
	}

	h.respondJSON(w, http.StatusOK, stats)
}

func (h *Handlers) ClearCache(w http.ResponseWriter, r *http.Request) {
	if err := h.cache.InvalidateAll(r.Context()); err != nil {
		h.logger.Error("failed to clear cache", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to clear cache")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) PruneCache(w http.ResponseWriter, r *http.Request) {
	removed, err := h.cache.Prune(r.Context())
	if err != nil {
		h.logger.Error("failed to prune cache", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to prune cache")
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		h.respondError(w, http.StatusNotFound, "run history is not enabled")
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			h.respondError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	runs, err := h.runs.RecentRuns(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list runs", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}

	h.respondJSON(w, http.StatusOK, runs)
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := map[string]any{"status": "ok"}
	status := http.StatusOK

	if h.outbox != nil {
		pending, pErr := h.outbox.PendingCount(r.Context())
		deadLetter, dErr := h.outbox.DeadLetterCount(r.Context())
		if err := errors.Join(pErr, dErr); err != nil {
			h.logger.Warn("failed to read outbox backlog", "error", err)
			health["status"] = "error"
			health["message"] = "outbox unavailable"
			h.respondJSON(w, http.StatusServiceUnavailable, health)
			return
		}

		health["outbox"] = map[string]int64{
			"pending":     pending,
			"dead_letter": deadLetter,
		}
		if pending > pendingWarnThreshold {
			health["status"] = "warning"
			health["message"] = "High number of pending outbox events"
		}
		if deadLetter > deadLetterFailThreshold {
			health["status"] = "error"
			health["message"] = "High number of dead letter events"
			status = http.StatusServiceUnavailable
		}
	}

	h.respondJSON(w, status, health)
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
