package cache

import (
	"context"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"
)

const DefaultMemoryEntries = 1024

// MemoryStore is a bounded in-process store. Entries are immutable once
// inserted; Put replaces the pointer, so a concurrent reader never observes
// a partially written entry.
type MemoryStore struct {
	entries *lru.Cache[string, *Entry]
	opts    Options
	logger  *slog.Logger
	counters
}

func NewMemoryStore(size int, opts Options, logger *slog.Logger) (*MemoryStore, error) {
	if size <= 0 {
		size = DefaultMemoryEntries
	}
	if logger == nil {
		logger = slog.Default()
	}

	entries, err := lru.New[string, *Entry](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create lru cache: %w", err)
	}

	return &MemoryStore{
		entries: entries,
		opts:    opts.withDefaults(),
		logger:  logger.With("component", "cache", "backend", "memory"),
	}, nil
}

func (s *MemoryStore) Get(ctx context.Context, key string) (*Entry, bool) {
	entry, ok := s.entries.Get(key)
	if !ok || s.opts.expired(entry.CreatedAt) {
		return s.count(nil, false)
	}
	return s.count(entry, true)
}

func (s *MemoryStore) Contains(ctx context.Context, key string) bool {
	entry, ok := s.entries.Peek(key)
	return ok && !s.opts.expired(entry.CreatedAt)
}

func (s *MemoryStore) Put(ctx context.Context, key string, payload []byte) error {
	buf := make([]byte, len(payload))
	copy(buf, payload)

	if evicted := s.entries.Add(key, &Entry{Key: key, Payload: buf, CreatedAt: s.opts.Now()}); evicted {
		s.logger.Debug("evicted least recently used entry", "size", s.entries.Len())
	}
	return nil
}

func (s *MemoryStore) InvalidateAll(ctx context.Context) error {
	s.entries.Purge()
	return nil
}

func (s *MemoryStore) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	s.fill(&stats)

	for _, key := range s.entries.Keys() {
		if entry, ok := s.entries.Peek(key); ok {
			stats.EntryCount++
			stats.TotalSizeBytes += int64(len(entry.Payload))
		}
	}
	return stats, nil
}

func (s *MemoryStore) Prune(ctx context.Context) (int, error) {
	pruned := 0
	for _, key := range s.entries.Keys() {
		entry, ok := s.entries.Peek(key)
		if ok && s.opts.expired(entry.CreatedAt) {
			s.entries.Remove(key)
			pruned++
		}
	}
	return pruned, nil
}
