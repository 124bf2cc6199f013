package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	CacheBackendFile   = "file"
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

type Config struct {
	Server   ServerConfig
	Scraper  ScraperConfig
	Browser  BrowserConfig
	Cache    CacheConfig
	Output   OutputConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	CORSOrigins     []string
}

type ScraperConfig struct {
	BaseURL         string
	RateLimitMin    time.Duration
	RateLimitJitter time.Duration
	Concurrency     int
	MaxConcurrency  int
	RunDeadline     time.Duration
	Pages           int
	TopN            int
}

type BrowserConfig struct {
	Headless          bool
	NavigationTimeout time.Duration
	SelectorTimeout   time.Duration
	CookiesFile       string
	RequireLogin      bool
	InteractiveLogin  bool
	LoginTimeout      time.Duration
}

type CacheConfig struct {
	Enabled    bool
	Backend    string
	Dir        string
	Expiry     time.Duration
	MemorySize int
}

type OutputConfig struct {
	Dir string
}

// DatabaseConfig is optional: an empty URL disables run persistence.
type DatabaseConfig struct {
	URL      string
	MaxConns int32
}

// RedisConfig is optional unless the redis cache backend is selected.
type RedisConfig struct {
	URL          string
	CachePrefix  string
	StreamMaxLen int64
	RelayEnabled bool
	RelayPoll    time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
}

// Load reads an optional .env file and then the environment. Variables
// already set in the environment win over the file.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file: %w", err)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Addr:            getEnvOrDefault("HTTP_ADDR", ":8080"),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 35*time.Minute),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			CORSOrigins:     getStringSliceOrDefault("CORS_ORIGINS", []string{"*"}),
		},
		Scraper: ScraperConfig{
			BaseURL:         getEnvOrDefault("BASE_URL", "https://www.amazon.com"),
			RateLimitMin:    getDurationOrDefault("SCRAPER_RATE_LIMIT_MIN", 2*time.Second),
			RateLimitJitter: getDurationOrDefault("SCRAPER_RATE_LIMIT_JITTER", 3*time.Second),
			Concurrency:     getIntOrDefault("SCRAPER_CONCURRENCY", 3),
			MaxConcurrency:  getIntOrDefault("SCRAPER_MAX_CONCURRENCY", 5),
			RunDeadline:     getDurationOrDefault("SCRAPER_RUN_DEADLINE", 30*time.Minute),
			Pages:           getIntOrDefault("SCRAPER_PAGES", 2),
			TopN:            getIntOrDefault("SCRAPER_TOP_N", 3),
		},
		Browser: BrowserConfig{
			Headless:          getBoolOrDefault("HEADLESS", true),
			NavigationTimeout: getDurationOrDefault("BROWSER_NAVIGATION_TIMEOUT", 30*time.Second),
			SelectorTimeout:   getDurationOrDefault("BROWSER_SELECTOR_TIMEOUT", 10*time.Second),
			CookiesFile:       getEnvOrDefault("COOKIES_FILE", "amazon_cookies.json"),
			RequireLogin:      getBoolOrDefault("REQUIRE_LOGIN", true),
			InteractiveLogin:  getBoolOrDefault("INTERACTIVE_LOGIN", true),
			LoginTimeout:      getDurationOrDefault("LOGIN_TIMEOUT", 5*time.Minute),
		},
		Cache: CacheConfig{
			Enabled:    getBoolOrDefault("CACHE_ENABLED", true),
			Backend:    strings.ToLower(getEnvOrDefault("CACHE_BACKEND", CacheBackendFile)),
			Dir:        getEnvOrDefault("CACHE_DIR", "cache"),
			Expiry:     getDurationOrDefault("CACHE_EXPIRY", 24*time.Hour),
			MemorySize: getIntOrDefault("CACHE_MEMORY_SIZE", 1024),
		},
		Output: OutputConfig{
			Dir: getEnvOrDefault("OUTPUT_DIR", "output"),
		},
		Database: DatabaseConfig{
			URL:      os.Getenv("DATABASE_URL"),
			MaxConns: int32(getIntOrDefault("DATABASE_MAX_CONNS", 4)),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			CachePrefix:  getEnvOrDefault("REDIS_CACHE_PREFIX", "scraper:cache:"),
			StreamMaxLen: int64(getIntOrDefault("REDIS_STREAM_MAXLEN", 10000)),
			RelayEnabled: getBoolOrDefault("RELAY_ENABLED", true),
			RelayPoll:    getDurationOrDefault("RELAY_POLL_INTERVAL", 5*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Scraper.MaxConcurrency < 1 {
		return fmt.Errorf("SCRAPER_MAX_CONCURRENCY must be at least 1")
	}

	if c.Scraper.Concurrency < 1 || c.Scraper.Concurrency > c.Scraper.MaxConcurrency {
		return fmt.Errorf("SCRAPER_CONCURRENCY must be between 1 and %d", c.Scraper.MaxConcurrency)
	}

	if c.Scraper.RateLimitMin < 0 || c.Scraper.RateLimitJitter < 0 {
		return fmt.Errorf("SCRAPER_RATE_LIMIT_MIN and SCRAPER_RATE_LIMIT_JITTER cannot be negative")
	}

	if c.Scraper.RunDeadline <= 0 {
		return fmt.Errorf("SCRAPER_RUN_DEADLINE must be positive")
	}

	if c.Scraper.Pages < 1 {
		return fmt.Errorf("SCRAPER_PAGES must be at least 1")
	}

	if c.Scraper.TopN < 1 {
		return fmt.Errorf("SCRAPER_TOP_N must be at least 1")
	}

	if !strings.HasPrefix(c.Scraper.BaseURL, "http://") && !strings.HasPrefix(c.Scraper.BaseURL, "https://") {
		return fmt.Errorf("BASE_URL must be an http(s) URL")
	}

	switch c.Cache.Backend {
	case CacheBackendFile, CacheBackendMemory:
	case CacheBackendRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("REDIS_URL is required when CACHE_BACKEND is redis")
		}
	default:
		return fmt.Errorf("CACHE_BACKEND must be one of file, memory, redis")
	}

	if c.Cache.Expiry <= 0 {
		return fmt.Errorf("CACHE_EXPIRY must be positive")
	}

	if c.Browser.LoginTimeout <= 0 {
		return fmt.Errorf("LOGIN_TIMEOUT must be positive")
	}

	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var out []string
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	}
	return defaultValue
}
