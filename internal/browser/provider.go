package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/playwright-community/playwright-go"
)

const (
	DefaultBaseURL           = "https://www.amazon.com"
	DefaultLoginTimeout      = 5 * time.Minute
	DefaultLoginPollInterval = 2 * time.Second

	accountNavSelector = "#nav-link-accountList"
)

type ProviderConfig struct {
	BaseURL      string
	CookiesFile  string
	RequireLogin bool
	// InteractiveLogin opens a visible browser window for a manual sign-in
	// when the stored cookies are missing or rejected.
	InteractiveLogin  bool
	LoginTimeout      time.Duration
	LoginPollInterval time.Duration
	Browser           *Options
}

// Provider hands out sessions sharing one Chromium process and one set of
// credentials. Credentials are validated once, on the first Acquire.
type Provider struct {
	cfg    ProviderConfig
	logger *slog.Logger

	// launch starts the shared browser; replaced in tests
	launch func(*Options, *slog.Logger) (*Browser, error)

	mu            sync.Mutex
	browser       *Browser
	cookies       []playwright.OptionalCookie
	authenticated bool
}

func NewProvider(cfg ProviderConfig, logger *slog.Logger) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.LoginTimeout <= 0 {
		cfg.LoginTimeout = DefaultLoginTimeout
	}
	if cfg.LoginPollInterval <= 0 {
		cfg.LoginPollInterval = DefaultLoginPollInterval
	}
	if cfg.Browser == nil {
		cfg.Browser = DefaultOptions()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Provider{
		cfg:    cfg,
		logger: logger.With("component", "session_provider"),
		launch: New,
	}
}

// Acquire returns a new session. It fails with ErrAuthenticationRequired
// when login is required and no valid credentials can be obtained.
func (p *Provider) Acquire(ctx context.Context) (Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := p.ensureBrowser(); err != nil {
		return nil, err
	}

	if err := p.ensureAuthenticated(ctx); err != nil {
		return nil, err
	}

	return p.newSession(p.cookies)
}

// ensureBrowser launches the shared browser, or relaunches it when the
// previous process has died.
func (p *Provider) ensureBrowser() error {
	if p.browser != nil {
		if p.browser.Connected() {
			return nil
		}
		p.logger.Warn("browser disconnected, relaunching")
		if err := p.browser.Close(); err != nil {
			p.logger.Debug("failed to close disconnected browser", "error", err)
		}
		p.browser = nil
	}

	b, err := p.launch(p.cfg.Browser, p.logger)
	if err != nil {
		return err
	}
	p.browser = b
	return nil
}

func (p *Provider) newSession(cookies []playwright.OptionalCookie) (*playwrightSession, error) {
	bctx, page, err := p.browser.NewPage(cookies)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()[:8]
	return &playwrightSession{
		id:              id,
		context:         bctx,
		page:            page,
		navTimeout:      p.cfg.Browser.NavigationTimeout,
		selectorTimeout: p.cfg.Browser.SelectorTimeout,
		logger:          p.logger.With("session", id),
	}, nil
}

func (p *Provider) ensureAuthenticated(ctx context.Context) error {
	if p.authenticated {
		return nil
	}

	cookies, err := LoadCookies(p.cfg.CookiesFile)
	if err != nil {
		p.logger.Warn("ignoring unreadable cookies file", "path", p.cfg.CookiesFile, "error", err)
		cookies = nil
	}

	if !p.cfg.RequireLogin {
		p.cookies = cookies
		p.authenticated = true
		p.logger.Info("using anonymous sessions", "cookies", len(cookies))
		return nil
	}

	if len(cookies) > 0 {
		valid, err := p.validate(ctx, cookies)
		if err != nil {
			return err
		}
		if valid {
			p.cookies = cookies
			p.authenticated = true
			p.logger.Info("stored cookies accepted", "cookies", len(cookies))
			return nil
		}
		p.logger.Info("stored cookies rejected")
	} else {
		p.logger.Info("no stored cookies", "path", p.cfg.CookiesFile)
	}

	if !p.cfg.InteractiveLogin {
		return fmt.Errorf("%w: no valid cookies in %s", ErrAuthenticationRequired, p.cfg.CookiesFile)
	}

	fresh, err := p.interactiveLogin(ctx)
	if err != nil {
		return err
	}
	p.cookies = fresh
	p.authenticated = true
	return nil
}

// validate opens the storefront with the cookies and checks the account
// greeting.
func (p *Provider) validate(ctx context.Context, cookies []playwright.OptionalCookie) (bool, error) {
	session, err := p.newSession(cookies)
	if err != nil {
		return false, err
	}
	defer session.Close()

	page, err := session.Open(ctx, p.cfg.BaseURL, accountNavSelector)
	if err != nil {
		if errors.Is(err, ErrBlocked) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return false, err
		}
		p.logger.Warn("cookie validation navigation failed", "error", err)
		return false, nil
	}

	html, _ := page.Content()
	return LoggedIn(page.URL(), html), nil
}

// Login runs the interactive sign-in regardless of stored cookies.
func (p *Provider) Login(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	cookies, err := p.interactiveLogin(ctx)
	if err != nil {
		return err
	}
	p.cookies = cookies
	p.authenticated = true
	return nil
}

// interactiveLogin opens a visible window on the sign-in page and polls
// until the storefront shows a signed-in account or the timeout passes.
func (p *Provider) interactiveLogin(ctx context.Context) ([]playwright.OptionalCookie, error) {
	opts := *p.cfg.Browser
	opts.Headless = false

	visible, err := New(&opts, p.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open login window: %w", err)
	}
	defer visible.Close()

	bctx, page, err := visible.NewPage(nil)
	if err != nil {
		return nil, err
	}
	defer bctx.Close()

	if _, err := page.Goto(p.cfg.BaseURL+"/gp/sign-in.html", playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	}); err != nil {
		return nil, fmt.Errorf("failed to open sign-in page: %w", classifyError(err))
	}

	p.logger.Info("waiting for manual sign-in in the browser window", "timeout", p.cfg.LoginTimeout)

	loginCtx, cancel := context.WithTimeout(ctx, p.cfg.LoginTimeout)
	defer cancel()

	ticker := time.NewTicker(p.cfg.LoginPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-loginCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: sign-in not completed within %s", ErrAuthenticationRequired, p.cfg.LoginTimeout)
		case <-ticker.C:
		}

		if IsSignInURL(page.URL()) {
			continue
		}
		html, err := page.Content()
		if err != nil {
			if errors.Is(classifyError(err), ErrSessionLost) {
				return nil, fmt.Errorf("%w: login window closed", ErrAuthenticationRequired)
			}
			continue
		}
		if !LoggedIn(page.URL(), html) {
			continue
		}

		raw, err := bctx.Cookies()
		if err != nil {
			return nil, fmt.Errorf("failed to read cookies: %w", err)
		}
		if p.cfg.CookiesFile != "" {
			if err := SaveCookies(p.cfg.CookiesFile, raw); err != nil {
				return nil, err
			}
		}

		p.logger.Info("signed in", "cookies", len(raw), "saved_to", p.cfg.CookiesFile)
		return optionalCookies(raw), nil
	}
}

func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.browser == nil {
		return nil
	}
	err := p.browser.Close()
	p.browser = nil
	return err
}
