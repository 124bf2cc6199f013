package parser

import (
	"errors"

	"github.com/maltedev/amazon-review-scraper/internal/browser"
	"github.com/maltedev/amazon-review-scraper/internal/models"
)

var ErrExtraction = errors.New("extraction failed")

// Extractor turns loaded pages into records. An empty result is valid; an
// error wrapping ErrExtraction means the page did not have the expected
// structure.
type Extractor interface {
	ExtractProducts(page browser.Page) ([]models.Product, error)
	ExtractReviews(page browser.Page) ([]models.Review, error)
}
