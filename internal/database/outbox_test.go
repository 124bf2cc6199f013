package database

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runEvent(id string) *OutboxEvent {
	return &OutboxEvent{
		AggregateType: AggregateRun,
		AggregateID:   id,
		EventType:     EventRunCompleted,
		Payload:       json.RawMessage(`{"run_id":"` + id + `"}`),
	}
}

func TestOutboxEvent_Validate(t *testing.T) {
	testCases := []struct {
		name  string
		event *OutboxEvent
	}{
		{
			name:  "missing aggregate type",
			event: &OutboxEvent{AggregateID: "run-1", EventType: EventRunCompleted, Payload: json.RawMessage(`{}`)},
		},
		{
			name:  "missing aggregate id",
			event: &OutboxEvent{AggregateType: AggregateRun, EventType: EventRunCompleted, Payload: json.RawMessage(`{}`)},
		},
		{
			name:  "missing event type",
			event: &OutboxEvent{AggregateType: AggregateRun, AggregateID: "run-1", Payload: json.RawMessage(`{}`)},
		},
		{
			name:  "missing payload",
			event: &OutboxEvent{AggregateType: AggregateRun, AggregateID: "run-1", EventType: EventRunCompleted},
		},
		{
			name:  "payload not json",
			event: &OutboxEvent{AggregateType: AggregateRun, AggregateID: "run-1", EventType: EventRunCompleted, Payload: json.RawMessage(`{oops`)},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, tc.event.Validate(), ErrInvalidEvent)
		})
	}

	assert.NoError(t, runEvent("run-1").Validate())
}

func TestOutboxEvent_Prepare(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	event := runEvent("run-1")

	require.NoError(t, event.prepare(now))
	assert.NotEqual(t, uuid.Nil, event.ID)
	assert.Equal(t, OutboxStatusPending, event.Status)
	assert.Equal(t, DefaultStream, event.TargetStream)
	assert.Equal(t, now, event.CreatedAt)
	require.NotNil(t, event.NextRetryAt)
	assert.Equal(t, now, *event.NextRetryAt)

	custom := runEvent("run-2")
	custom.TargetStream = "stream:other"
	require.NoError(t, custom.prepare(now))
	assert.Equal(t, "stream:other", custom.TargetStream)
}

func TestNextAttempt(t *testing.T) {
	now := time.Now()

	status, at := nextAttempt(1, now)
	assert.Equal(t, OutboxStatusFailed, status)
	assert.Equal(t, now.Add(2*time.Second), at)

	status, at = nextAttempt(4, now)
	assert.Equal(t, OutboxStatusFailed, status)
	assert.Equal(t, now.Add(16*time.Second), at)

	status, _ = nextAttempt(MaxRetryCount, now)
	assert.Equal(t, OutboxStatusDeadLetter, status)

	assert.Equal(t, 300*time.Second, backoff(9))
	assert.Equal(t, 300*time.Second, backoff(64))
	assert.Equal(t, time.Second, backoff(-1))
}

func TestOutboxRepository_InsertWithTx(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	defer db.Close()

	repo := NewOutboxRepository(db)

	t.Run("successful insert with transaction", func(t *testing.T) {
		event := runEvent(uuid.NewString())

		err := db.Transaction(ctx, func(tx pgx.Tx) error {
			return repo.InsertWithTx(ctx, tx, event)
		})

		require.NoError(t, err)
		assert.NotEqual(t, uuid.Nil, event.ID)
		assert.Equal(t, "pending", event.Status)
		assert.Equal(t, 0, event.RetryCount)
		assert.False(t, event.CreatedAt.IsZero())
	})

	t.Run("rollback on transaction failure", func(t *testing.T) {
		event := runEvent("rolled-back")

		err := db.Transaction(ctx, func(tx pgx.Tx) error {
			if err := repo.InsertWithTx(ctx, tx, event); err != nil {
				return err
			}
			return pgx.ErrTxClosed
		})
		assert.Error(t, err)

		events, err := repo.GetPending(ctx, 10)
		require.NoError(t, err)
		for _, e := range events {
			assert.NotEqual(t, "rolled-back", e.AggregateID)
		}
	})

	t.Run("invalid event is rejected", func(t *testing.T) {
		err := db.Transaction(ctx, func(tx pgx.Tx) error {
			return repo.InsertWithTx(ctx, tx, &OutboxEvent{AggregateType: AggregateRun})
		})
		assert.ErrorIs(t, err, ErrInvalidEvent)
	})
}

func TestOutboxRepository_GetPending(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	defer db.Close()

	repo := NewOutboxRepository(db)

	now := time.Now()
	statuses := map[string]string{
		"run-a": OutboxStatusPending,
		"run-b": OutboxStatusProcessed,
		"run-c": OutboxStatusPending,
		"run-d": OutboxStatusFailed,
	}
	for _, id := range []string{"run-a", "run-b", "run-c", "run-d"} {
		event := runEvent(id)
		event.Status = statuses[id]
		event.NextRetryAt = &now
		err := db.Transaction(ctx, func(tx pgx.Tx) error {
			return repo.InsertWithTx(ctx, tx, event)
		})
		require.NoError(t, err)
	}

	t.Run("get pending events with limit", func(t *testing.T) {
		pending, err := repo.GetPending(ctx, 2)
		require.NoError(t, err)
		assert.Len(t, pending, 2)

		for _, e := range pending {
			assert.Contains(t, []string{"pending", "failed"}, e.Status)
		}
	})

	t.Run("get pending events ordered by created_at", func(t *testing.T) {
		pending, err := repo.GetPending(ctx, 10)
		require.NoError(t, err)
		assert.Len(t, pending, 3)

		for i := 1; i < len(pending); i++ {
			assert.False(t, pending[i].CreatedAt.Before(pending[i-1].CreatedAt))
		}
	})

	t.Run("counts", func(t *testing.T) {
		n, err := repo.PendingCount(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)

		n, err = repo.DeadLetterCount(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)
	})

	t.Run("respects next_retry_at", func(t *testing.T) {
		future := time.Now().Add(time.Hour)
		_, err := db.Exec(ctx,
			"UPDATE outbox_event SET next_retry_at = $1 WHERE aggregate_id = $2",
			future, "run-d")
		require.NoError(t, err)

		pending, err := repo.GetPending(ctx, 10)
		require.NoError(t, err)
		for _, e := range pending {
			assert.NotEqual(t, "run-d", e.AggregateID)
		}
	})
}

func TestOutboxRepository_MarkProcessed(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	defer db.Close()

	repo := NewOutboxRepository(db)

	event := runEvent(uuid.NewString())
	err := db.Transaction(ctx, func(tx pgx.Tx) error {
		return repo.InsertWithTx(ctx, tx, event)
	})
	require.NoError(t, err)

	t.Run("mark as processed", func(t *testing.T) {
		require.NoError(t, repo.MarkProcessed(ctx, event.ID))

		var status string
		var processedAt *time.Time
		err := db.QueryRow(ctx,
			"SELECT status, processed_at FROM outbox_event WHERE id = $1",
			event.ID).Scan(&status, &processedAt)
		require.NoError(t, err)

		assert.Equal(t, "processed", status)
		require.NotNil(t, processedAt)
		assert.WithinDuration(t, time.Now(), *processedAt, 5*time.Second)
	})

	t.Run("mark non-existent event", func(t *testing.T) {
		assert.Error(t, repo.MarkProcessed(ctx, uuid.New()))
	})
}

func TestOutboxRepository_MarkFailed(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	defer db.Close()

	repo := NewOutboxRepository(db)

	t.Run("increment retry count and set backoff", func(t *testing.T) {
		event := runEvent(uuid.NewString())
		err := db.Transaction(ctx, func(tx pgx.Tx) error {
			return repo.InsertWithTx(ctx, tx, event)
		})
		require.NoError(t, err)

		require.NoError(t, repo.MarkFailed(ctx, event.ID, assert.AnError))

		var status string
		var retryCount int
		var errorMsg *string
		var nextRetry *time.Time
		err = db.QueryRow(ctx,
			"SELECT status, retry_count, error_message, next_retry_at FROM outbox_event WHERE id = $1",
			event.ID).Scan(&status, &retryCount, &errorMsg, &nextRetry)
		require.NoError(t, err)

		assert.Equal(t, "failed", status)
		assert.Equal(t, 1, retryCount)
		require.NotNil(t, errorMsg)
		assert.Contains(t, *errorMsg, "assert.AnError")
		require.NotNil(t, nextRetry)
		assert.True(t, nextRetry.After(time.Now()))
	})

	t.Run("move to dead letter after max retries", func(t *testing.T) {
		event := runEvent(uuid.NewString())
		event.RetryCount = MaxRetryCount - 1
		err := db.Transaction(ctx, func(tx pgx.Tx) error {
			return repo.InsertWithTx(ctx, tx, event)
		})
		require.NoError(t, err)

		require.NoError(t, repo.MarkFailed(ctx, event.ID, assert.AnError))

		var status string
		var retryCount int
		err = db.QueryRow(ctx,
			"SELECT status, retry_count FROM outbox_event WHERE id = $1",
			event.ID).Scan(&status, &retryCount)
		require.NoError(t, err)

		assert.Equal(t, "dead_letter", status)
		assert.Equal(t, MaxRetryCount, retryCount)
	})
}

// setupTestDB connects to DATABASE_URL, applies the schema and empties every
// table. Tests using it only run with INTEGRATION_TEST=true.
func setupTestDB(t *testing.T) *DB {
	t.Helper()
	if os.Getenv("INTEGRATION_TEST") != "true" {
		t.Skip("Skipping integration test. Set INTEGRATION_TEST=true to run")
	}
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}

	ctx := context.Background()
	db, err := New(ctx, Config{URL: url, MaxConns: 4})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(ctx))

	_, err = db.Exec(ctx, "TRUNCATE outbox_event, review, product_outcome, scrape_run")
	require.NoError(t, err)
	return db
}
