package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "https://www.amazon.com", cfg.Scraper.BaseURL)
	assert.Equal(t, 2*time.Second, cfg.Scraper.RateLimitMin)
	assert.Equal(t, 3*time.Second, cfg.Scraper.RateLimitJitter)
	assert.Equal(t, 3, cfg.Scraper.Concurrency)
	assert.Equal(t, 5, cfg.Scraper.MaxConcurrency)
	assert.Equal(t, 30*time.Minute, cfg.Scraper.RunDeadline)
	assert.Equal(t, CacheBackendFile, cfg.Cache.Backend)
	assert.Equal(t, 24*time.Hour, cfg.Cache.Expiry)
	assert.True(t, cfg.Cache.Enabled)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, 5*time.Minute, cfg.Browser.LoginTimeout)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("SCRAPER_MAX_CONCURRENCY", "8")
	t.Setenv("SCRAPER_CONCURRENCY", "6")
	t.Setenv("CACHE_BACKEND", "Memory")
	t.Setenv("CACHE_EXPIRY", "90m")
	t.Setenv("HEADLESS", "false")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("SCRAPER_PAGES", "not-a-number")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Scraper.MaxConcurrency)
	assert.Equal(t, 6, cfg.Scraper.Concurrency)
	assert.Equal(t, CacheBackendMemory, cfg.Cache.Backend)
	assert.Equal(t, 90*time.Minute, cfg.Cache.Expiry)
	assert.False(t, cfg.Browser.Headless)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	// unparsable values fall back to the default
	assert.Equal(t, 2, cfg.Scraper.Pages)
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("OUTPUT_DIR=from-file\nLOG_FORMAT=text\n"), 0o600))

	// variables already present win over the file
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("OUTPUT_DIR", "")
	os.Unsetenv("OUTPUT_DIR")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.Output.Dir)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadMissingEnvFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.NoError(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"concurrency above max", func(c *Config) { c.Scraper.Concurrency = 9 }},
		{"zero max concurrency", func(c *Config) { c.Scraper.MaxConcurrency = 0 }},
		{"negative rate limit", func(c *Config) { c.Scraper.RateLimitMin = -time.Second }},
		{"zero deadline", func(c *Config) { c.Scraper.RunDeadline = 0 }},
		{"zero pages", func(c *Config) { c.Scraper.Pages = 0 }},
		{"zero top", func(c *Config) { c.Scraper.TopN = 0 }},
		{"bad base url", func(c *Config) { c.Scraper.BaseURL = "amazon.com" }},
		{"unknown backend", func(c *Config) { c.Cache.Backend = "disk" }},
		{"redis without url", func(c *Config) { c.Cache.Backend = CacheBackendRedis; c.Redis.URL = "" }},
		{"zero expiry", func(c *Config) { c.Cache.Expiry = 0 }},
		{"zero login timeout", func(c *Config) { c.Browser.LoginTimeout = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)
			tt.modify(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	t.Run("redis with url", func(t *testing.T) {
		cfg, err := Load("")
		require.NoError(t, err)
		cfg.Cache.Backend = CacheBackendRedis
		cfg.Redis.URL = "redis://localhost:6379/0"
		assert.NoError(t, cfg.Validate())
	})
}
