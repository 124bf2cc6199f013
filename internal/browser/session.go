package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
)

var (
	ErrAuthenticationRequired = errors.New("authentication required")
	ErrNavigationTimeout      = errors.New("navigation timeout")
	ErrSessionLost            = errors.New("browser session lost")
	ErrBlocked                = errors.New("blocked by robot check")
)

// Page is a loaded document.
type Page interface {
	URL() string
	Content() (string, error)
}

// Snapshot is a Page captured at a point in time.
type Snapshot struct {
	PageURL string
	Title   string
	HTML    string
}

func (s *Snapshot) URL() string {
	return s.PageURL
}

func (s *Snapshot) Content() (string, error) {
	return s.HTML, nil
}

// Session is one authenticated browser context. A session is used by a
// single worker at a time.
type Session interface {
	ID() string
	// Open navigates to url and waits up to the selector timeout for
	// waitFor to appear. A missing selector is not an error.
	Open(ctx context.Context, url, waitFor string) (Page, error)
	Close() error
}

type playwrightSession struct {
	id              string
	context         playwright.BrowserContext
	page            playwright.Page
	navTimeout      time.Duration
	selectorTimeout time.Duration
	logger          *slog.Logger
}

func (s *playwrightSession) ID() string {
	return s.id
}

func (s *playwrightSession) Open(ctx context.Context, url, waitFor string) (Page, error) {
	timeout, err := boundedTimeout(ctx, s.navTimeout)
	if err != nil {
		return nil, err
	}

	if _, err := s.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(timeout.Milliseconds())),
	}); err != nil {
		return nil, fmt.Errorf("failed to navigate to %s: %w", url, classifyError(err))
	}

	if waitFor != "" {
		wait, err := boundedTimeout(ctx, s.selectorTimeout)
		if err != nil {
			return nil, err
		}
		if _, err := s.page.WaitForSelector(waitFor, playwright.PageWaitForSelectorOptions{
			Timeout: playwright.Float(float64(wait.Milliseconds())),
		}); err != nil {
			if err := classifyError(err); errors.Is(err, ErrSessionLost) {
				return nil, fmt.Errorf("failed to wait for %s: %w", waitFor, err)
			}
			s.logger.Debug("selector did not appear", "selector", waitFor, "url", url)
		}
	}

	html, err := s.page.Content()
	if err != nil {
		return nil, fmt.Errorf("failed to get page content: %w", classifyError(err))
	}
	title, _ := s.page.Title()

	if IsRobotCheck(title, html) {
		return nil, fmt.Errorf("%w: %s", ErrBlocked, url)
	}

	return &Snapshot{PageURL: s.page.URL(), Title: title, HTML: html}, nil
}

func (s *playwrightSession) Close() error {
	if err := s.context.Close(); err != nil {
		if errors.Is(err, playwright.ErrTargetClosed) {
			return nil
		}
		return fmt.Errorf("failed to close session %s: %w", s.id, err)
	}
	return nil
}

// boundedTimeout shortens d so a single browser call never outlives ctx.
func boundedTimeout(ctx context.Context, d time.Duration) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return 0, context.DeadlineExceeded
		}
		if remaining < d {
			return remaining, nil
		}
	}
	return d, nil
}

func classifyError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, playwright.ErrTargetClosed):
		return fmt.Errorf("%w: %w", ErrSessionLost, err)
	case errors.Is(err, playwright.ErrTimeout):
		return fmt.Errorf("%w: %w", ErrNavigationTimeout, err)
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "has been closed") || strings.Contains(msg, "browser has disconnected") {
		return fmt.Errorf("%w: %w", ErrSessionLost, err)
	}
	return err
}
