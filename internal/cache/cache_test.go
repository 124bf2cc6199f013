package cache

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/maltedev/amazon-review-scraper/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// localStores builds every in-process backend with the same options so the
// contract tests run against each of them.
func localStores(t *testing.T, opts Options) map[string]Store {
	t.Helper()

	fs, err := NewFileStore(t.TempDir(), opts, quietLogger())
	require.NoError(t, err)

	ms, err := NewMemoryStore(64, opts, quietLogger())
	require.NoError(t, err)

	return map[string]Store{"file": fs, "memory": ms}
}

func TestSearchKeyDeterministic(t *testing.T) {
	keywords := []string{"laptop", "Laptop", "  laptop  ", "gaming laptop", "usb-c hub", ""}
	for _, kw := range keywords {
		assert.Equal(t, SearchKey(kw), SearchKey(kw), "keyword %q", kw)
	}

	assert.Equal(t, SearchKey("laptop"), SearchKey("  LAPTOP "))
	assert.Equal(t, SearchKey("gaming laptop"), SearchKey("gaming   laptop"))
	assert.NotEqual(t, SearchKey("gaming laptop"), SearchKey("gaminglaptop"))
}

func TestReviewsKeyDistinct(t *testing.T) {
	asins := []string{"B000000001", "B000000002", "B0ABCDEF12"}
	filters := []models.ReviewFilter{{}, {StarRating: 1}, {StarRating: 2}, {StarRating: 3}, {StarRating: 4}, {StarRating: 5}}
	pages := []int{1, 2, 3, 10, 11}

	seen := make(map[string]string)
	for _, asin := range asins {
		for _, f := range filters {
			for _, p := range pages {
				key := ReviewsKey(asin, f, p)
				tuple := fmt.Sprintf("%s/%d/%d", asin, f.StarRating, p)
				if prev, dup := seen[key]; dup {
					t.Fatalf("key %q produced by %s and %s", key, prev, tuple)
				}
				seen[key] = tuple
				assert.Equal(t, key, ReviewsKey(asin, f, p))
			}
		}
	}

	assert.Equal(t, "reviews:B000000001:all:2", ReviewsKey("B000000001", models.ReviewFilter{}, 2))
	assert.Equal(t, "reviews:B000000001:5:2", ReviewsKey("B000000001", models.NewReviewFilter(5), 2))
	assert.NotEqual(t, SearchKey("B000000001"), ReviewsKey("B000000001", models.ReviewFilter{}, 1))
}

func TestStoreExpiry(t *testing.T) {
	const expiry = time.Hour

	clock := newFakeClock()
	for name, store := range localStores(t, Options{Expiry: expiry, Now: clock.Now}) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			start := clock.Now()
			defer func() { clock.now = start }()

			require.NoError(t, store.Put(ctx, "search:laptop", []byte(`[1,2,3]`)))

			clock.Advance(expiry - time.Second)
			entry, ok := store.Get(ctx, "search:laptop")
			require.True(t, ok, "entry should still be fresh")
			assert.Equal(t, []byte(`[1,2,3]`), entry.Payload)

			clock.Advance(2 * time.Second)
			_, ok = store.Get(ctx, "search:laptop")
			assert.False(t, ok, "entry should have expired")

			stats, err := store.Stats(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(1), stats.HitCount)
			assert.Equal(t, int64(1), stats.MissCount)
			// lazy expiry: the stale entry is still stored
			assert.Equal(t, 1, stats.EntryCount)
		})
	}
}

func TestStoreOverwriteAndInvalidate(t *testing.T) {
	for name, store := range localStores(t, Options{Expiry: time.Hour}) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, store.Put(ctx, "k1", []byte("old")))
			require.NoError(t, store.Put(ctx, "k1", []byte("new")))
			require.NoError(t, store.Put(ctx, "k2", []byte("other")))

			assert.True(t, store.Contains(ctx, "k2"))
			assert.False(t, store.Contains(ctx, "k3"))

			entry, ok := store.Get(ctx, "k1")
			require.True(t, ok)
			assert.Equal(t, "new", string(entry.Payload))

			stats, err := store.Stats(ctx)
			require.NoError(t, err)
			assert.Equal(t, 2, stats.EntryCount)
			assert.Positive(t, stats.TotalSizeBytes)

			require.NoError(t, store.InvalidateAll(ctx))
			require.NoError(t, store.InvalidateAll(ctx))

			_, ok = store.Get(ctx, "k1")
			assert.False(t, ok)

			stats, err = store.Stats(ctx)
			require.NoError(t, err)
			assert.Equal(t, 0, stats.EntryCount)
			assert.Equal(t, int64(1), stats.HitCount, "counters survive invalidation")
			assert.Equal(t, int64(1), stats.MissCount, "Contains does not count")
		})
	}
}

func TestStorePrune(t *testing.T) {
	clock := newFakeClock()
	for name, store := range localStores(t, Options{Expiry: time.Hour, Now: clock.Now}) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			start := clock.Now()
			defer func() { clock.now = start }()

			require.NoError(t, store.Put(ctx, "old", []byte("1")))
			clock.Advance(2 * time.Hour)
			require.NoError(t, store.Put(ctx, "fresh", []byte("2")))

			pruned, err := store.Prune(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, pruned)

			_, ok := store.Get(ctx, "fresh")
			assert.True(t, ok)
		})
	}
}

func TestFileStoreCorruptEntryIsMiss(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir(), Options{}, quietLogger())
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, "reviews:B1:all:2", []byte(`[]`)))
	require.NoError(t, os.WriteFile(store.path("reviews:B1:all:2"), []byte("{not json"), 0o644))

	_, ok := store.Get(ctx, "reviews:B1:all:2")
	assert.False(t, ok)

	// the next successful write replaces the corrupt file
	require.NoError(t, store.Put(ctx, "reviews:B1:all:2", []byte(`["ok"]`)))
	entry, ok := store.Get(ctx, "reviews:B1:all:2")
	require.True(t, ok)
	assert.Equal(t, `["ok"]`, string(entry.Payload))
}

func TestFileStoreRejectsForeignKey(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir(), Options{}, quietLogger())
	require.NoError(t, err)

	data, err := encodeEnvelope("other-key", []byte("x"), time.Now())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(store.path("my-key"), data, 0o644))

	_, ok := store.Get(ctx, "my-key")
	assert.False(t, ok)
}

func TestFileStoreLeavesNoTempFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := NewFileStore(dir, Options{}, quietLogger())
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Put(ctx, fmt.Sprintf("k%d", i), []byte("v")))
	}

	matches, err := filepath.Glob(filepath.Join(dir, ".tmp-*"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestFileStoreConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir(), Options{}, quietLogger())
	require.NoError(t, err)

	oldValue := []byte(`"old-value-old-value-old-value"`)
	newValue := []byte(`"new-value-new-value-new-value-new-value-new-value"`)
	require.NoError(t, store.Put(ctx, "shared", oldValue))

	var wg sync.WaitGroup
	errs := make(chan error, 64)

	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				if err := store.Put(ctx, fmt.Sprintf("worker-%d-%d", w, i), []byte("x")); err != nil {
					errs <- err
					return
				}
				payload := oldValue
				if i%2 == 0 {
					payload = newValue
				}
				if err := store.Put(ctx, "shared", payload); err != nil {
					errs <- err
					return
				}
			}
		}(w)

		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 40; i++ {
				entry, ok := store.Get(ctx, "shared")
				if !ok {
					errs <- fmt.Errorf("shared entry missing")
					return
				}
				got := string(entry.Payload)
				if got != string(oldValue) && got != string(newValue) {
					errs <- fmt.Errorf("partial read: %q", got)
					return
				}
			}
		}()
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 8*20+1, stats.EntryCount)
}

func TestDisabledStore(t *testing.T) {
	ctx := context.Background()
	var store Store = Disabled{}

	require.NoError(t, store.Put(ctx, "k", []byte("v")))
	_, ok := store.Get(ctx, "k")
	assert.False(t, ok)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)
}

func TestMemoryStoreCopiesPayload(t *testing.T) {
	ctx := context.Background()
	store, err := NewMemoryStore(4, Options{}, quietLogger())
	require.NoError(t, err)

	payload := []byte("abc")
	require.NoError(t, store.Put(ctx, "k", payload))
	payload[0] = 'z'

	entry, ok := store.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "abc", string(entry.Payload))
}
