package scraper

import (
	"context"
	"errors"
	"fmt"

	"github.com/maltedev/amazon-review-scraper/internal/browser"
	"github.com/maltedev/amazon-review-scraper/internal/cache"
	"github.com/maltedev/amazon-review-scraper/internal/parser"
)

// Job-local errors are recorded in JobOutcome.Error and never leave the pool.
var (
	ErrAuthenticationRequired = browser.ErrAuthenticationRequired
	ErrNavigationTimeout      = browser.ErrNavigationTimeout
	ErrSessionLost            = browser.ErrSessionLost
	ErrBlocked                = browser.ErrBlocked
	ErrExtraction             = parser.ErrExtraction
	ErrCacheCorruption        = cache.ErrCorrupt
	ErrDeadlineExceeded       = errors.New("run deadline exceeded")
	ErrInvalidInput           = errors.New("invalid input")
)

// deadlineError marks a job that ended because the run deadline passed.
func deadlineError(ctx context.Context, err error) error {
	if ctx.Err() == nil || errors.Is(err, ErrDeadlineExceeded) {
		return err
	}
	if err == nil {
		return fmt.Errorf("%w: %v", ErrDeadlineExceeded, ctx.Err())
	}
	return fmt.Errorf("%w: %v", ErrDeadlineExceeded, err)
}
