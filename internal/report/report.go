// Package report turns a batch of job outcomes into the per-run result and
// its JSON documents.
package report

import (
	"time"

	"github.com/maltedev/amazon-review-scraper/internal/models"
)

const NoOutcomeError = "no outcome recorded"

// Entry is one product's line in the report.
type Entry struct {
	Product      models.Product   `json:"product"`
	Status       models.JobStatus `json:"status"`
	Error        string           `json:"error,omitempty"`
	FromCache    bool             `json:"from_cache"`
	PagesScraped int              `json:"pages_scraped"`
	WorkerID     int              `json:"worker_id,omitempty"`
	Duration     time.Duration    `json:"duration"`
	Reviews      []models.Review  `json:"reviews"`
}

type Summary struct {
	Total     int           `json:"total"`
	Completed int           `json:"completed"`
	Failed    int           `json:"failed"`
	FromCache int           `json:"from_cache"`
	Reviews   int           `json:"reviews"`
	Elapsed   time.Duration `json:"elapsed"`
}

type Report struct {
	RunID      string              `json:"run_id,omitempty"`
	Keyword    string              `json:"keyword"`
	Filter     models.ReviewFilter `json:"filter"`
	MaxPages   int                 `json:"max_pages"`
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt time.Time           `json:"finished_at"`
	Entries    []Entry             `json:"entries"`
	Summary    Summary             `json:"summary"`
}

// Assemble pairs every product with its outcome, in the order products are
// given. A product without an outcome is reported as failed; none is
// dropped.
func Assemble(keyword string, filter models.ReviewFilter, products []models.Product, batch *models.BatchResult) *Report {
	r := &Report{
		Keyword: keyword,
		Filter:  filter,
		Entries: make([]Entry, 0, len(products)),
	}

	if batch != nil {
		r.StartedAt = batch.StartedAt
		r.FinishedAt = batch.FinishedAt
	}

	for _, p := range products {
		entry := Entry{Product: p}

		var outcome *models.JobOutcome
		if batch != nil {
			outcome, _ = batch.Outcome(p.ASIN)
		}

		switch {
		case outcome == nil:
			entry.Status = models.JobStatusFailed
			entry.Error = NoOutcomeError
			entry.Reviews = []models.Review{}
		case outcome.Succeeded():
			entry.Status = models.JobStatusCompleted
			entry.Reviews = outcome.Reviews
			entry.FromCache = outcome.FromCache
			entry.PagesScraped = outcome.PagesScraped
		default:
			entry.Status = models.JobStatusFailed
			entry.Error = outcome.Error
			if entry.Error == "" {
				entry.Error = "unknown error"
			}
			entry.Reviews = []models.Review{}
		}
		if entry.Reviews == nil {
			entry.Reviews = []models.Review{}
		}
		if outcome != nil {
			entry.WorkerID = outcome.WorkerID
			entry.Duration = outcome.Duration
		}

		r.Entries = append(r.Entries, entry)
	}

	r.Summary = r.summarize()
	return r
}

func (r *Report) summarize() Summary {
	s := Summary{Total: len(r.Entries)}
	for _, e := range r.Entries {
		if e.Status == models.JobStatusCompleted {
			s.Completed++
		} else {
			s.Failed++
		}
		if e.FromCache {
			s.FromCache++
		}
		s.Reviews += len(e.Reviews)
	}
	if !r.StartedAt.IsZero() && !r.FinishedAt.IsZero() {
		s.Elapsed = r.FinishedAt.Sub(r.StartedAt)
	}
	return s
}

func (r *Report) Products() []models.Product {
	products := make([]models.Product, len(r.Entries))
	for i, e := range r.Entries {
		products[i] = e.Product
	}
	return products
}
