package models

import (
	"time"
)

type JobStatus string

const (
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// ScrapeJob is one product's review scrape, owned by a single worker.
type ScrapeJob struct {
	Product  Product      `json:"product"`
	Filter   ReviewFilter `json:"filter"`
	MaxPages int          `json:"max_pages"`
}

// JobOutcome is the terminal state of a ScrapeJob.
type JobOutcome struct {
	Status       JobStatus     `json:"status"`
	Reviews      []Review      `json:"reviews"`
	PagesScraped int           `json:"pages_scraped"`
	FromCache    bool          `json:"from_cache"`
	Error        string        `json:"error,omitempty"`
	WorkerID     int           `json:"worker_id"`
	Duration     time.Duration `json:"duration"`
}

func Completed(reviews []Review, pages int) *JobOutcome {
	if reviews == nil {
		reviews = []Review{}
	}
	return &JobOutcome{
		Status:       JobStatusCompleted,
		Reviews:      reviews,
		PagesScraped: pages,
	}
}

func Failed(err error) *JobOutcome {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return &JobOutcome{
		Status:  JobStatusFailed,
		Reviews: []Review{},
		Error:   msg,
	}
}

func (o *JobOutcome) Succeeded() bool {
	return o != nil && o.Status == JobStatusCompleted
}

// BatchResult collects the outcome of every submitted job. Products keeps
// submission order, which is search rank order.
type BatchResult struct {
	Products   []Product              `json:"products"`
	Outcomes   map[string]*JobOutcome `json:"outcomes"`
	StartedAt  time.Time              `json:"started_at"`
	FinishedAt time.Time              `json:"finished_at"`
}

func NewBatchResult(products []Product) *BatchResult {
	return &BatchResult{
		Products:  products,
		Outcomes:  make(map[string]*JobOutcome, len(products)),
		StartedAt: time.Now(),
	}
}

func (b *BatchResult) Outcome(asin string) (*JobOutcome, bool) {
	o, ok := b.Outcomes[asin]
	return o, ok
}

func (b *BatchResult) Completed() int {
	n := 0
	for _, o := range b.Outcomes {
		if o.Succeeded() {
			n++
		}
	}
	return n
}

func (b *BatchResult) Failed() int {
	return len(b.Outcomes) - b.Completed()
}

func (b *BatchResult) Elapsed() time.Duration {
	if b.FinishedAt.IsZero() {
		return time.Since(b.StartedAt)
	}
	return b.FinishedAt.Sub(b.StartedAt)
}
