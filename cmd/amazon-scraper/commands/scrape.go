package commands

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/maltedev/amazon-review-scraper/internal/config"
	"github.com/maltedev/amazon-review-scraper/internal/models"
	"github.com/maltedev/amazon-review-scraper/internal/report"
	"github.com/maltedev/amazon-review-scraper/internal/scraper"
)

func ScrapeFlags() []cli.Flag {
	return []cli.Flag{
		EnvFlag(),
		logLevelFlag(),
		&cli.IntFlag{
			Name:  "rating",
			Usage: "keep only reviews with this star rating (1-5, 0 for all)",
		},
		&cli.IntFlag{
			Name:  "pages",
			Usage: "review pages per product (defaults to SCRAPER_PAGES)",
		},
		&cli.IntFlag{
			Name:  "concurrency",
			Usage: "parallel browser sessions (defaults to SCRAPER_CONCURRENCY)",
		},
		&cli.IntFlag{
			Name:  "top",
			Usage: "number of search results to scrape (defaults to SCRAPER_TOP_N)",
		},
		&cli.BoolFlag{
			Name:  "no-cache",
			Usage: "ignore and do not write the result cache",
		},
		&cli.BoolFlag{
			Name:  "headless",
			Usage: "run the browser without a window (overrides HEADLESS)",
			Value: true,
		},
		&cli.StringFlag{
			Name:  "output",
			Usage: "directory for the JSON documents (overrides OUTPUT_DIR)",
		},
	}
}

// ScrapeAction runs one pipeline for the keyword given as arguments. Failed
// products do not fail the command; they are listed in the summary.
func ScrapeAction(ctx context.Context, cmd *cli.Command) error {
	keyword := strings.Join(cmd.Args().Slice(), " ")

	ac, err := NewAppContext(ctx, cmd)
	if err != nil {
		return err
	}
	defer ac.Close()

	if err := ac.ConnectDatabase(ctx); err != nil {
		return err
	}

	rep, err := ac.Service.Run(ctx, buildRequest(ac.Config, cmd, keyword))
	if err != nil {
		return fmt.Errorf("scrape failed: %w", err)
	}

	writer, err := report.NewWriter(ac.Config.Output.Dir, ac.Logger)
	if err != nil {
		return err
	}
	paths, err := writer.Write(rep)
	if err != nil {
		return fmt.Errorf("failed to write results: %w", err)
	}

	if relay := ac.Relay(); relay != nil {
		if n, err := relay.ProcessOnce(ctx); err != nil {
			ac.Logger.Warn("failed to publish run events", "error", err)
		} else {
			ac.Logger.Debug("published run events", "count", n)
		}
	}

	printReport(os.Stdout, rep)
	fmt.Printf("Wrote %d files to %s\n", len(paths), ac.Config.Output.Dir)
	return nil
}

// buildRequest fills everything the flags leave unset from the configuration.
func buildRequest(cfg *config.Config, cmd *cli.Command, keyword string) scraper.Request {
	req := scraper.Request{
		Keyword:     keyword,
		Filter:      models.NewReviewFilter(int(cmd.Int("rating"))),
		Pages:       cfg.Scraper.Pages,
		Concurrency: cfg.Scraper.Concurrency,
		TopN:        cfg.Scraper.TopN,
	}
	if cmd.IsSet("pages") {
		req.Pages = int(cmd.Int("pages"))
	}
	if cmd.IsSet("concurrency") {
		req.Concurrency = int(cmd.Int("concurrency"))
	}
	if cmd.IsSet("top") {
		req.TopN = int(cmd.Int("top"))
	}
	return req
}
