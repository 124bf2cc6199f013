package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/maltedev/amazon-review-scraper/internal/database"
	"github.com/maltedev/amazon-review-scraper/internal/events"
)

func EventsConsumeFlags() []cli.Flag {
	return []cli.Flag{
		EnvFlag(),
		logLevelFlag(),
		&cli.StringFlag{
			Name:  "group",
			Usage: "consumer group name",
			Value: events.DefaultGroup,
		},
		&cli.StringFlag{
			Name:  "name",
			Usage: "consumer name within the group",
			Value: events.DefaultConsumerName,
		},
	}
}

// EventsConsumeAction prints every completed run published to the run
// stream until interrupted.
func EventsConsumeAction(ctx context.Context, cmd *cli.Command) error {
	ac, err := NewAppContext(ctx, cmd)
	if err != nil {
		return err
	}
	defer ac.Close()

	if ac.Redis == nil {
		return errors.New("REDIS_URL is required to consume run events")
	}

	consumer := events.NewConsumer(ac.Redis, func(_ context.Context, event database.RunEvent) error {
		printRunEvent(os.Stdout, event)
		return nil
	}, ac.Logger, events.ConsumerConfig{
		Group: cmd.String("group"),
		Name:  cmd.String("name"),
	})

	if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("consumer failed: %w", err)
	}
	return nil
}

func printRunEvent(w io.Writer, e database.RunEvent) {
	filter := "all"
	if e.FilterRating != nil {
		filter = fmt.Sprintf("%d", *e.FilterRating)
	}
	fmt.Fprintf(w, "%s  run %s  %q  filter=%s  completed=%d/%d  cached=%d  reviews=%d",
		e.FinishedAt.Format("2006-01-02 15:04:05"), e.RunID, e.Keyword, filter,
		e.Completed, e.Total, e.FromCache, e.Reviews)
	if len(e.FailedASINs) > 0 {
		fmt.Fprintf(w, "  failed=%v", e.FailedASINs)
	}
	fmt.Fprintln(w)
}
