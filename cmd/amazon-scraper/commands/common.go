package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v3"

	"github.com/maltedev/amazon-review-scraper/internal/browser"
	"github.com/maltedev/amazon-review-scraper/internal/cache"
	"github.com/maltedev/amazon-review-scraper/internal/config"
	"github.com/maltedev/amazon-review-scraper/internal/database"
	"github.com/maltedev/amazon-review-scraper/internal/events"
	"github.com/maltedev/amazon-review-scraper/internal/logger"
	"github.com/maltedev/amazon-review-scraper/internal/metrics"
	"github.com/maltedev/amazon-review-scraper/internal/parser"
	"github.com/maltedev/amazon-review-scraper/internal/ratelimit"
	"github.com/maltedev/amazon-review-scraper/internal/scraper"
)

const redisPingTimeout = 5 * time.Second

// AppContext holds the components shared by all commands.
type AppContext struct {
	Config   *config.Config
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Cache    cache.Store
	Provider *browser.Provider
	Service  *scraper.Service

	// set by ConnectDatabase when DATABASE_URL is configured
	DB     *database.DB
	Runs   *database.RunRepository
	Outbox *database.OutboxRepository

	Redis *redis.Client
}

// NewAppContext loads the configuration named by --env, applies the flag
// overrides present on cmd and builds every component except the database.
// The browser is not started until the first session is acquired.
func NewAppContext(ctx context.Context, cmd *cli.Command) (*AppContext, error) {
	cfg, err := config.Load(cmd.String("env"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	applyOverrides(cfg, cmd)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	ac := &AppContext{
		Config:  cfg,
		Logger:  log,
		Metrics: metrics.New(),
	}

	if cfg.Redis.URL != "" {
		if ac.Redis, err = connectRedis(ctx, cfg.Redis.URL); err != nil {
			return nil, err
		}
	}

	ac.Cache, err = newCacheStore(cfg, ac.Redis, log)
	if err != nil {
		ac.Close()
		return nil, err
	}

	ac.Provider = browser.NewProvider(browser.ProviderConfig{
		BaseURL:          cfg.Scraper.BaseURL,
		CookiesFile:      cfg.Browser.CookiesFile,
		RequireLogin:     cfg.Browser.RequireLogin,
		InteractiveLogin: cfg.Browser.InteractiveLogin,
		LoginTimeout:     cfg.Browser.LoginTimeout,
		Browser:          browserOptions(cfg),
	}, log)

	extractor := parser.NewAmazonExtractor()
	limiter := ratelimit.NewPerWorker(cfg.Scraper.RateLimitMin, cfg.Scraper.RateLimitJitter)
	minDelay, maxDelay := limiter.Bounds()
	log.Debug("rate limiter configured", "min_delay", minDelay, "max_delay", maxDelay)
	searcher := scraper.NewSearcher(cfg.Scraper.BaseURL, extractor, ac.Cache, limiter, ac.Metrics, log)
	pool := scraper.NewPool(scraper.PoolConfig{
		BaseURL:        cfg.Scraper.BaseURL,
		MaxConcurrency: cfg.Scraper.MaxConcurrency,
		RunDeadline:    cfg.Scraper.RunDeadline,
	}, ac.Provider, extractor, ac.Cache, limiter, ac.Metrics, log)
	ac.Service = scraper.NewService(searcher, pool, ac.Provider, ac.Metrics, log)

	return ac, nil
}

// ConnectDatabase opens the pool, applies the schema and enables run
// persistence. It does nothing without DATABASE_URL.
func (ac *AppContext) ConnectDatabase(ctx context.Context) error {
	if ac.Config.Database.URL == "" {
		ac.Logger.Debug("DATABASE_URL not set, run history disabled")
		return nil
	}

	db, err := database.New(ctx, database.Config{
		URL:      ac.Config.Database.URL,
		MaxConns: ac.Config.Database.MaxConns,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	ac.DB = db
	ac.Runs = database.NewRunRepository(db, ac.Logger)
	ac.Outbox = database.NewOutboxRepository(db)
	ac.Service.WithRecorder(ac.Runs)
	return nil
}

// Relay returns the outbox relay, or nil when either the database or Redis
// is missing or the relay is switched off.
func (ac *AppContext) Relay() *events.Relay {
	if ac.Outbox == nil || ac.Redis == nil || !ac.Config.Redis.RelayEnabled {
		return nil
	}
	return events.NewRelay(ac.Outbox, ac.Redis, ac.Logger, events.RelayConfig{
		PollInterval: ac.Config.Redis.RelayPoll,
		MaxStreamLen: ac.Config.Redis.StreamMaxLen,
	})
}

// Close releases the browser, the database pool and the Redis client.
func (ac *AppContext) Close() {
	if ac.Provider != nil {
		if err := ac.Provider.Close(); err != nil {
			ac.Logger.Warn("failed to close browser", "error", err)
		}
	}
	if ac.DB != nil {
		ac.DB.Close()
	}
	if ac.Redis != nil {
		if err := ac.Redis.Close(); err != nil {
			ac.Logger.Warn("failed to close redis client", "error", err)
		}
	}
}

func connectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

func newCacheStore(cfg *config.Config, client *redis.Client, log *slog.Logger) (cache.Store, error) {
	if !cfg.Cache.Enabled {
		return cache.Disabled{}, nil
	}

	opts := cache.Options{Expiry: cfg.Cache.Expiry}
	switch cfg.Cache.Backend {
	case config.CacheBackendMemory:
		store, err := cache.NewMemoryStore(cfg.Cache.MemorySize, opts, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create memory cache: %w", err)
		}
		return store, nil
	case config.CacheBackendRedis:
		if client == nil {
			return nil, errors.New("redis cache backend requires REDIS_URL")
		}
		return cache.NewRedisStore(client, cfg.Redis.CachePrefix, opts, log), nil
	default:
		store, err := cache.NewFileStore(cfg.Cache.Dir, opts, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create file cache: %w", err)
		}
		return store, nil
	}
}

func browserOptions(cfg *config.Config) *browser.Options {
	opts := browser.DefaultOptions()
	opts.Headless = cfg.Browser.Headless
	opts.NavigationTimeout = cfg.Browser.NavigationTimeout
	opts.SelectorTimeout = cfg.Browser.SelectorTimeout
	return opts
}

// applyOverrides copies explicitly set flags over the loaded configuration.
// Flags a command does not declare are never set.
func applyOverrides(cfg *config.Config, cmd *cli.Command) {
	if cmd.IsSet("headless") {
		cfg.Browser.Headless = cmd.Bool("headless")
	}
	if cmd.IsSet("no-cache") && cmd.Bool("no-cache") {
		cfg.Cache.Enabled = false
	}
	if cmd.IsSet("output") {
		cfg.Output.Dir = cmd.String("output")
	}
	if cmd.IsSet("addr") {
		cfg.Server.Addr = cmd.String("addr")
	}
	if cmd.IsSet("log-level") {
		cfg.Logging.Level = cmd.String("log-level")
	}
}

// EnvFlag is declared on every command that loads the configuration.
func EnvFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "env",
		Usage: "path to an optional .env file",
		Value: ".env",
	}
}

func logLevelFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "log-level",
		Usage: "debug, info, warn or error (overrides LOG_LEVEL)",
	}
}
