package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/maltedev/amazon-review-scraper/internal/api"
)

// extra time a scrape request gets beyond the run deadline to assemble and
// encode the report
const scrapeResponseSlack = time.Minute

func ServeFlags() []cli.Flag {
	return []cli.Flag{
		EnvFlag(),
		logLevelFlag(),
		&cli.StringFlag{
			Name:  "addr",
			Usage: "listen address (overrides HTTP_ADDR)",
		},
		&cli.BoolFlag{
			Name:  "headless",
			Usage: "run the browser without a window (overrides HEADLESS)",
			Value: true,
		},
	}
}

func ServeAction(ctx context.Context, cmd *cli.Command) error {
	ac, err := NewAppContext(ctx, cmd)
	if err != nil {
		return err
	}
	defer ac.Close()

	if err := ac.ConnectDatabase(ctx); err != nil {
		return err
	}

	handlers := api.NewHandlers(ac.Service, ac.Cache, ac.Logger)
	if ac.Runs != nil {
		handlers.WithRuns(ac.Runs).WithOutbox(ac.Outbox)
	}

	cfg := ac.Config
	router := api.NewRouter(handlers, api.RouterConfig{
		CORSOrigins:   cfg.Server.CORSOrigins,
		ScrapeTimeout: cfg.Scraper.RunDeadline + scrapeResponseSlack,
		Registry:      ac.Metrics.Registry,
	})

	if relay := ac.Relay(); relay != nil {
		go func() {
			if err := relay.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				ac.Logger.Error("relay stopped with error", "error", err)
			}
		}()
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		ac.Logger.Info("starting server", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	ac.Logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	ac.Logger.Info("server exited")
	return nil
}
