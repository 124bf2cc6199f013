package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

const (
	entrySuffix = ".json"
	tempPattern = ".tmp-*"
)

// FileStore keeps one file per entry, named by the SHA-256 of its key.
// Writes go to a temp file in the same directory and are renamed into
// place, so readers see either the old or the new entry.
type FileStore struct {
	dir    string
	opts   Options
	logger *slog.Logger
	counters
}

func NewFileStore(dir string, opts Options, logger *slog.Logger) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("cache directory is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	return &FileStore{
		dir:    dir,
		opts:   opts.withDefaults(),
		logger: logger.With("component", "cache", "backend", "file"),
	}, nil
}

func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) path(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(s.dir, hex.EncodeToString(sum[:])+entrySuffix)
}

func (s *FileStore) Get(ctx context.Context, key string) (*Entry, bool) {
	return s.count(s.load(key))
}

func (s *FileStore) Contains(ctx context.Context, key string) bool {
	_, ok := s.load(key)
	return ok
}

func (s *FileStore) load(key string) (*Entry, bool) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("failed to read cache entry", "key", key, "error", err)
		}
		return nil, false
	}

	entry, err := decodeEnvelope(key, data)
	if err != nil {
		s.logger.Warn("ignoring corrupt cache entry", "key", key, "error", err)
		return nil, false
	}

	if s.opts.expired(entry.CreatedAt) {
		s.logger.Debug("cache entry expired", "key", key, "created_at", entry.CreatedAt)
		return nil, false
	}

	return entry, true
}

func (s *FileStore) Put(ctx context.Context, key string, payload []byte) error {
	data, err := encodeEnvelope(key, payload, s.opts.Now())
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}

	if err := writeFileAtomic(s.path(key), data); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}

	s.logger.Debug("cache entry written", "key", key, "bytes", len(data))
	return nil
}

func (s *FileStore) InvalidateAll(ctx context.Context) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to list cache directory: %w", err)
	}

	removed := 0
	for _, e := range entries {
		if e.IsDir() || !isCacheFile(e.Name()) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove cache entry: %w", err)
		}
		removed++
	}

	s.logger.Info("cache cleared", "removed", removed)
	return nil
}

func (s *FileStore) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	s.fill(&stats)

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return stats, nil
		}
		return stats, fmt.Errorf("failed to list cache directory: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), entrySuffix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// removed between ReadDir and Info
			continue
		}
		stats.EntryCount++
		stats.TotalSizeBytes += info.Size()
	}

	return stats, nil
}

// Prune deletes expired and unreadable entries.
func (s *FileStore) Prune(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to list cache directory: %w", err)
	}

	pruned := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), entrySuffix) {
			continue
		}
		path := filepath.Join(s.dir, e.Name())

		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}

		var stale bool
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil || env.CreatedAt.IsZero() {
			stale = true
		} else {
			stale = s.opts.expired(env.CreatedAt)
		}

		if stale {
			if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
				return pruned, fmt.Errorf("failed to remove cache entry: %w", err)
			}
			pruned++
		}
	}

	s.logger.Info("cache pruned", "removed", pruned)
	return pruned, nil
}

func isCacheFile(name string) bool {
	return strings.HasSuffix(name, entrySuffix) || strings.HasPrefix(name, ".tmp-")
}

// writeFileAtomic writes data next to path and renames it into place.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, tempPattern)
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
