package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/maltedev/amazon-review-scraper/cmd/amazon-scraper/commands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "amazon-scraper",
		Usage: "Scrape filtered customer reviews for the top Amazon search results",
		Commands: []*cli.Command{
			{
				Name:      "scrape",
				Usage:     "Search for a keyword and scrape reviews of the top results",
				ArgsUsage: "<keyword>",
				Flags:     commands.ScrapeFlags(),
				Action:    commands.ScrapeAction,
			},
			{
				Name:  "cache",
				Usage: "Inspect and maintain the result cache",
				Commands: []*cli.Command{
					{
						Name:   "stats",
						Usage:  "Show entry count, hits, misses and size",
						Flags:  []cli.Flag{commands.EnvFlag()},
						Action: commands.CacheStatsAction,
					},
					{
						Name:   "clear",
						Usage:  "Remove every cache entry",
						Flags:  []cli.Flag{commands.EnvFlag()},
						Action: commands.CacheClearAction,
					},
					{
						Name:   "prune",
						Usage:  "Remove entries older than CACHE_EXPIRY",
						Flags:  []cli.Flag{commands.EnvFlag()},
						Action: commands.CachePruneAction,
					},
				},
			},
			{
				Name:   "login",
				Usage:  "Sign in interactively and save the session cookies",
				Flags:  []cli.Flag{commands.EnvFlag()},
				Action: commands.LoginAction,
			},
			{
				Name:  "events",
				Usage: "Work with the run event stream",
				Commands: []*cli.Command{
					{
						Name:   "consume",
						Usage:  "Print completed runs as they are published",
						Flags:  commands.EventsConsumeFlags(),
						Action: commands.EventsConsumeAction,
					},
				},
			},
			{
				Name:   "serve",
				Usage:  "Run the HTTP API",
				Flags:  commands.ServeFlags(),
				Action: commands.ServeAction,
			},
		},
	}
}
