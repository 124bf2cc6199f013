package database

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/maltedev/amazon-review-scraper/internal/models"
	"github.com/maltedev/amazon-review-scraper/internal/report"
)

const (
	AggregateRun      = "scrape_run"
	EventRunCompleted = "SCRAPE_RUN_COMPLETED"
)

var reviewColumns = []string{"run_id", "asin", "position", "reviewer_nickname", "rating", "date_text", "content"}

// RunEvent is the payload published when a run has been stored.
type RunEvent struct {
	RunID        string    `json:"run_id"`
	Keyword      string    `json:"keyword"`
	FilterRating *int      `json:"filter_rating"`
	MaxPages     int       `json:"max_pages"`
	Total        int       `json:"total"`
	Completed    int       `json:"completed"`
	Failed       int       `json:"failed"`
	FromCache    int       `json:"from_cache"`
	Reviews      int       `json:"reviews"`
	ASINs        []string  `json:"asins"`
	FailedASINs  []string  `json:"failed_asins"`
	FinishedAt   time.Time `json:"finished_at"`
}

// RunRecord is a stored run as listed by RecentRuns.
type RunRecord struct {
	ID           uuid.UUID     `json:"id"`
	Keyword      string        `json:"keyword"`
	FilterRating *int          `json:"filter_rating"`
	MaxPages     int           `json:"max_pages"`
	Total        int           `json:"total"`
	Completed    int           `json:"completed"`
	Failed       int           `json:"failed"`
	FromCache    int           `json:"from_cache"`
	Reviews      int           `json:"reviews"`
	StartedAt    time.Time     `json:"started_at"`
	FinishedAt   time.Time     `json:"finished_at"`
	Elapsed      time.Duration `json:"elapsed"`
}

// RunRepository stores finished runs together with an outbox event, in one
// transaction.
type RunRepository struct {
	db     *DB
	outbox *OutboxRepository
	logger *slog.Logger
}

func NewRunRepository(db *DB, logger *slog.Logger) *RunRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &RunRepository{
		db:     db,
		outbox: NewOutboxRepository(db),
		logger: logger.With("component", "run_repository"),
	}
}

func runID(r *report.Report) uuid.UUID {
	if id, err := uuid.Parse(r.RunID); err == nil {
		return id
	}
	return uuid.New()
}

// SaveRun writes the run, one row per product outcome, every review and a
// SCRAPE_RUN_COMPLETED outbox event.
func (r *RunRepository) SaveRun(ctx context.Context, rep *report.Report) error {
	id := runID(rep)

	event, err := runCompletedEvent(id, rep)
	if err != nil {
		return err
	}

	err = r.db.Transaction(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO scrape_run (
				id, keyword, filter_rating, max_pages, total, completed,
				failed, from_cache, review_count, started_at, finished_at, elapsed_ms
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			id, rep.Keyword, rep.Filter.Rating(), rep.MaxPages,
			rep.Summary.Total, rep.Summary.Completed, rep.Summary.Failed,
			rep.Summary.FromCache, rep.Summary.Reviews,
			rep.StartedAt, rep.FinishedAt, rep.Summary.Elapsed.Milliseconds())
		if err != nil {
			return fmt.Errorf("failed to insert run: %w", err)
		}

		batch := &pgx.Batch{}
		for _, e := range rep.Entries {
			batch.Queue(`
				INSERT INTO product_outcome (
					run_id, asin, rank, title, url, status, error,
					from_cache, pages_scraped, worker_id, duration_ms
				) VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9, $10, $11)`,
				id, e.Product.ASIN, e.Product.Rank, e.Product.Title, e.Product.URL,
				string(e.Status), e.Error, e.FromCache, e.PagesScraped,
				e.WorkerID, e.Duration.Milliseconds())
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to insert product outcomes: %w", err)
		}

		rows := reviewRows(id, rep)
		if len(rows) > 0 {
			if _, err := tx.CopyFrom(ctx, pgx.Identifier{"review"}, reviewColumns, pgx.CopyFromRows(rows)); err != nil {
				return fmt.Errorf("failed to copy reviews: %w", err)
			}
		}

		return r.outbox.InsertWithTx(ctx, tx, event)
	})
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", id, err)
	}

	r.logger.Info("run saved",
		"run_id", id,
		"products", len(rep.Entries),
		"reviews", rep.Summary.Reviews)
	return nil
}

// reviewRows flattens every review of every completed entry, keeping each
// review's position within its product.
func reviewRows(id uuid.UUID, rep *report.Report) [][]any {
	var rows [][]any
	for _, e := range rep.Entries {
		if e.Status != models.JobStatusCompleted {
			continue
		}
		for i, rv := range e.Reviews {
			rows = append(rows, []any{
				id, e.Product.ASIN, i + 1, rv.ReviewerNickname,
				int16(rv.Rating), rv.Date, rv.Content,
			})
		}
	}
	return rows
}

func runCompletedEvent(id uuid.UUID, rep *report.Report) (*OutboxEvent, error) {
	payload := RunEvent{
		RunID:        id.String(),
		Keyword:      rep.Keyword,
		FilterRating: rep.Filter.Rating(),
		MaxPages:     rep.MaxPages,
		Total:        rep.Summary.Total,
		Completed:    rep.Summary.Completed,
		Failed:       rep.Summary.Failed,
		FromCache:    rep.Summary.FromCache,
		Reviews:      rep.Summary.Reviews,
		ASINs:        []string{},
		FailedASINs:  []string{},
		FinishedAt:   rep.FinishedAt,
	}
	for _, e := range rep.Entries {
		payload.ASINs = append(payload.ASINs, e.Product.ASIN)
		if e.Status != models.JobStatusCompleted {
			payload.FailedASINs = append(payload.FailedASINs, e.Product.ASIN)
		}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode run event: %w", err)
	}

	return &OutboxEvent{
		AggregateType: AggregateRun,
		AggregateID:   id.String(),
		EventType:     EventRunCompleted,
		Payload:       data,
		TargetStream:  DefaultStream,
	}, nil
}

// RecentRuns lists stored runs, newest first.
func (r *RunRepository) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := r.db.pool.Query(ctx, `
		SELECT id, keyword, filter_rating, max_pages, total, completed, failed,
			from_cache, review_count, started_at, finished_at, elapsed_ms
		FROM scrape_run
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	runs := []RunRecord{}
	for rows.Next() {
		var (
			rec       RunRecord
			rating    *int16
			elapsedMs int64
		)
		err := rows.Scan(&rec.ID, &rec.Keyword, &rating, &rec.MaxPages,
			&rec.Total, &rec.Completed, &rec.Failed, &rec.FromCache, &rec.Reviews,
			&rec.StartedAt, &rec.FinishedAt, &elapsedMs)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if rating != nil {
			v := int(*rating)
			rec.FilterRating = &v
		}
		rec.Elapsed = time.Duration(elapsedMs) * time.Millisecond
		runs = append(runs, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return runs, nil
}
