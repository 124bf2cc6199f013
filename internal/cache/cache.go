// Package cache stores previously computed scrape results keyed by the work
// that produced them. Entries older than the expiry window read as misses.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"
)

var (
	ErrCorrupt = errors.New("cache entry corrupt")
)

const DefaultExpiry = 24 * time.Hour

type Entry struct {
	Key       string
	Payload   []byte
	CreatedAt time.Time
}

type Stats struct {
	EntryCount     int   `json:"entry_count"`
	HitCount       int64 `json:"hit_count"`
	MissCount      int64 `json:"miss_count"`
	TotalSizeBytes int64 `json:"total_size_bytes"`
}

// Store is shared by all workers. Get never fails: unreadable or stale
// entries are reported as misses. Contains answers the same question as Get
// without touching the hit and miss counters.
type Store interface {
	Get(ctx context.Context, key string) (*Entry, bool)
	Contains(ctx context.Context, key string) bool
	Put(ctx context.Context, key string, payload []byte) error
	InvalidateAll(ctx context.Context) error
	Stats(ctx context.Context) (Stats, error)
	Prune(ctx context.Context) (int, error)
}

type Options struct {
	Expiry time.Duration
	Now    func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Expiry <= 0 {
		o.Expiry = DefaultExpiry
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

func (o Options) expired(createdAt time.Time) bool {
	return o.Now().Sub(createdAt) > o.Expiry
}

// envelope is the serialized form used by the file and redis backends.
type envelope struct {
	Key       string    `json:"key"`
	CreatedAt time.Time `json:"created_at"`
	Payload   []byte    `json:"payload"`
}

func encodeEnvelope(key string, payload []byte, now time.Time) ([]byte, error) {
	return json.Marshal(envelope{Key: key, CreatedAt: now, Payload: payload})
}

func decodeEnvelope(key string, data []byte) (*Entry, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errors.Join(ErrCorrupt, err)
	}
	if env.Key != key || env.CreatedAt.IsZero() {
		return nil, ErrCorrupt
	}
	return &Entry{Key: env.Key, Payload: env.Payload, CreatedAt: env.CreatedAt}, nil
}

// counters are cumulative for the lifetime of the store instance.
type counters struct {
	hits   atomic.Int64
	misses atomic.Int64
}

func (c *counters) hit() {
	c.hits.Add(1)
}

func (c *counters) miss() {
	c.misses.Add(1)
}

func (c *counters) count(entry *Entry, ok bool) (*Entry, bool) {
	if ok {
		c.hit()
	} else {
		c.miss()
	}
	return entry, ok
}

func (c *counters) fill(s *Stats) {
	s.HitCount = c.hits.Load()
	s.MissCount = c.misses.Load()
}

// Disabled is used when caching is switched off: every lookup misses and
// writes are dropped.
type Disabled struct{}

func (Disabled) Get(context.Context, string) (*Entry, bool) { return nil, false }
func (Disabled) Contains(context.Context, string) bool { return false }
func (Disabled) Put(context.Context, string, []byte) error { return nil }
func (Disabled) InvalidateAll(context.Context) error { return nil }
func (Disabled) Stats(context.Context) (Stats, error) { return Stats{}, nil }
func (Disabled) Prune(context.Context) (int, error) { return 0, nil }
