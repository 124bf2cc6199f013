package scraper

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/maltedev/amazon-review-scraper/internal/browser"
	"github.com/maltedev/amazon-review-scraper/internal/models"
)

// SessionProvider hands out browser sessions. Implementations decide how
// credentials are obtained.
type SessionProvider interface {
	Acquire(ctx context.Context) (browser.Session, error)
}

var starFilterNames = map[int]string{
	1: "one_star",
	2: "two_star",
	3: "three_star",
	4: "four_star",
	5: "five_star",
}

func SearchURL(baseURL, keyword string) string {
	q := url.Values{}
	q.Set("k", strings.TrimSpace(keyword))
	return strings.TrimRight(baseURL, "/") + "/s?" + q.Encode()
}

// ReviewsURL builds the listing URL for one page of a product's reviews.
func ReviewsURL(baseURL, asin string, filter models.ReviewFilter, page int) string {
	q := url.Values{}
	if name, ok := starFilterNames[filter.StarRating]; ok {
		q.Set("filterByStar", name)
	}
	q.Set("pageNumber", strconv.Itoa(page))
	q.Set("reviewerType", "all_reviews")

	return fmt.Sprintf("%s/product-reviews/%s?%s", strings.TrimRight(baseURL, "/"), url.PathEscape(asin), q.Encode())
}
