package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
)

func CacheStatsAction(ctx context.Context, cmd *cli.Command) error {
	ac, err := NewAppContext(ctx, cmd)
	if err != nil {
		return err
	}
	defer ac.Close()

	stats, err := ac.Cache.Stats(ctx)
	if err != nil {
		return fmt.Errorf("failed to read cache stats: %w", err)
	}

	fmt.Printf("Backend: %s\n", cacheBackendName(ac))
	printCacheStats(os.Stdout, stats)
	return nil
}

func CacheClearAction(ctx context.Context, cmd *cli.Command) error {
	ac, err := NewAppContext(ctx, cmd)
	if err != nil {
		return err
	}
	defer ac.Close()

	if err := ac.Cache.InvalidateAll(ctx); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}

	fmt.Println("Cache cleared")
	return nil
}

// CachePruneAction removes entries older than CACHE_EXPIRY.
func CachePruneAction(ctx context.Context, cmd *cli.Command) error {
	ac, err := NewAppContext(ctx, cmd)
	if err != nil {
		return err
	}
	defer ac.Close()

	removed, err := ac.Cache.Prune(ctx)
	if err != nil {
		return fmt.Errorf("failed to prune cache: %w", err)
	}

	fmt.Printf("Removed %d expired entries\n", removed)
	return nil
}

func cacheBackendName(ac *AppContext) string {
	if !ac.Config.Cache.Enabled {
		return "disabled"
	}
	return ac.Config.Cache.Backend
}
