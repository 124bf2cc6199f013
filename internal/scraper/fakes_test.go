package scraper

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maltedev/amazon-review-scraper/internal/browser"
	"github.com/maltedev/amazon-review-scraper/internal/models"
	"github.com/maltedev/amazon-review-scraper/internal/parser"
)

const testBaseURL = "https://shop.test"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSite simulates the storefront: sessions record navigations and the
// extractor derives its answer from the requested URL.
type fakeSite struct {
	mu sync.Mutex

	products []models.Product
	pages    map[string][][]models.Review

	broken       map[string]bool
	blocked      map[string]bool
	loseSession  map[string]int
	searchBroken bool

	// openDelay is ignored by ctx when blockingOpen is set, like a browser
	// call that cannot be interrupted
	openDelay    time.Duration
	blockingOpen bool

	opens    int
	acquires int
	sessions []*fakeSession
	authErr  error
}

func newFakeSite() *fakeSite {
	return &fakeSite{
		pages:       make(map[string][][]models.Review),
		broken:      make(map[string]bool),
		blocked:     make(map[string]bool),
		loseSession: make(map[string]int),
	}
}

func (s *fakeSite) addProduct(asin string, pages ...[]models.Review) models.Product {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := models.Product{
		Rank:  len(s.products) + 1,
		Title: "Product " + asin,
		URL:   testBaseURL + "/dp/" + asin,
		ASIN:  asin,
	}
	s.products = append(s.products, p)
	s.pages[asin] = pages
	return p
}

func (s *fakeSite) openCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens
}

func (s *fakeSite) acquireCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acquires
}

func (s *fakeSite) allClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if !sess.closed {
			return false
		}
	}
	return true
}

// mixedReviews returns n reviews whose ratings cycle through 1..5.
func mixedReviews(asin string, page, n int) []models.Review {
	reviews := make([]models.Review, n)
	for i := range reviews {
		reviews[i] = models.Review{
			ReviewerNickname: fmt.Sprintf("%s-p%d-r%d", asin, page, i),
			Rating:           i%5 + 1,
			Date:             "March 1, 2025",
			Content:          "review body long enough to keep",
		}
	}
	return reviews
}

type fakeProvider struct {
	site *fakeSite
}

func (p *fakeProvider) Acquire(ctx context.Context) (browser.Session, error) {
	p.site.mu.Lock()
	defer p.site.mu.Unlock()

	if p.site.authErr != nil {
		return nil, p.site.authErr
	}
	p.site.acquires++
	sess := &fakeSession{site: p.site, id: fmt.Sprintf("s%d", p.site.acquires)}
	p.site.sessions = append(p.site.sessions, sess)
	return sess, nil
}

type fakeSession struct {
	site   *fakeSite
	id     string
	closed bool
}

func (f *fakeSession) ID() string {
	return f.id
}

func (f *fakeSession) Open(ctx context.Context, target, waitFor string) (browser.Page, error) {
	s := f.site

	s.mu.Lock()
	s.opens++
	delay, blocking := s.openDelay, s.blockingOpen
	asin := asinFromURL(target)
	lose := s.loseSession[asin] > 0
	if lose {
		s.loseSession[asin]--
	}
	blocked := s.blocked[asin]
	s.mu.Unlock()

	if delay > 0 {
		if blocking {
			time.Sleep(delay)
		} else {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	if lose {
		return nil, fmt.Errorf("%w: target closed", browser.ErrSessionLost)
	}
	if blocked {
		return nil, fmt.Errorf("%w: %s", browser.ErrBlocked, target)
	}
	return &browser.Snapshot{PageURL: target}, nil
}

func (f *fakeSession) Close() error {
	f.site.mu.Lock()
	defer f.site.mu.Unlock()
	f.closed = true
	return nil
}

type fakeExtractor struct {
	site *fakeSite
}

func (e *fakeExtractor) ExtractProducts(page browser.Page) ([]models.Product, error) {
	e.site.mu.Lock()
	defer e.site.mu.Unlock()

	if e.site.searchBroken {
		return nil, fmt.Errorf("%w: no result grid", parser.ErrExtraction)
	}
	out := make([]models.Product, len(e.site.products))
	copy(out, e.site.products)
	return out, nil
}

func (e *fakeExtractor) ExtractReviews(page browser.Page) ([]models.Review, error) {
	u, err := url.Parse(page.URL())
	if err != nil {
		return nil, err
	}
	asin := asinFromURL(page.URL())
	pageNum, _ := strconv.Atoi(u.Query().Get("pageNumber"))

	e.site.mu.Lock()
	defer e.site.mu.Unlock()

	if e.site.broken[asin] {
		return nil, fmt.Errorf("%w: unexpected layout", parser.ErrExtraction)
	}
	pages := e.site.pages[asin]
	if pageNum < 1 || pageNum > len(pages) {
		return []models.Review{}, nil
	}
	return pages[pageNum-1], nil
}

// countingLimiter never waits; it only counts Acquire calls.
type countingLimiter struct {
	calls atomic.Int64
}

func (l *countingLimiter) Acquire(ctx context.Context, workerID int) error {
	l.calls.Add(1)
	return ctx.Err()
}

func asinFromURL(target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return ""
	}
	if rest, ok := strings.CutPrefix(u.Path, "/product-reviews/"); ok {
		return rest
	}
	return ""
}
