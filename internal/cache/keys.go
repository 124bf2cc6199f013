package cache

import (
	"fmt"
	"strings"

	"github.com/maltedev/amazon-review-scraper/internal/models"
)

const (
	searchPrefix  = "search:"
	reviewsPrefix = "reviews:"
)

// NormalizeKeyword lowercases, trims and collapses inner whitespace so that
// "Laptop" and "  laptop " share a cache entry.
func NormalizeKeyword(keyword string) string {
	return strings.Join(strings.Fields(strings.ToLower(keyword)), " ")
}

func SearchKey(keyword string) string {
	return searchPrefix + NormalizeKeyword(keyword)
}

func ReviewsKey(asin string, filter models.ReviewFilter, maxPages int) string {
	return fmt.Sprintf("%s%s:%s:%d", reviewsPrefix, asin, filter, maxPages)
}
