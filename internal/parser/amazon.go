package parser

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/amazon-review-scraper/internal/browser"
	"github.com/maltedev/amazon-review-scraper/internal/models"
)

const (
	SearchResultSelector = `[data-component-type="s-search-result"]`
	ReviewSelector       = `[data-hook="review"]`

	DefaultNickname = "Anonymous"
	DefaultDate     = "Unknown"

	// review bodies of this many characters or fewer are dropped
	minContentLength = 10
)

var (
	ratingSelectors = []string{
		`[data-hook="review-star-rating"]`,
		`[data-hook="cmps-review-star-rating"]`,
		`i.a-icon-star`,
		`[aria-label*="out of 5"]`,
		`.a-icon-alt`,
		`[class*="a-star-"]`,
	}

	sponsoredSelectors = []string{
		`[data-component-type="sp-sponsored-result"]`,
		`[data-component-sub-type="sp-ad-result"]`,
		`.s-sponsored-label`,
		`[class*="sponsored-label"]`,
		`.puis-sponsored-label-text`,
	}

	noReviewPhrases = []string{
		"no customer reviews",
		"there are 0 customer ratings",
		"no reviews yet",
	}

	noResultPhrases = []string{
		"no results for",
		"did not match any products",
	}
)

type AmazonExtractor struct {
	ratingPatterns []*regexp.Regexp
	asinPatterns   []*regexp.Regexp
	starClass      *regexp.Regexp
}

func NewAmazonExtractor() *AmazonExtractor {
	return &AmazonExtractor{
		ratingPatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)(\d+(?:[.,]\d+)?)\s*(?:out of|/|von)\s*5`),
			regexp.MustCompile(`^\s*(\d+(?:[.,]\d+)?)\s*(?:stars?)?\s*$`),
		},
		asinPatterns: []*regexp.Regexp{
			regexp.MustCompile(`/dp/([A-Z0-9]{10})`),
			regexp.MustCompile(`/gp/product/([A-Z0-9]{10})`),
			regexp.MustCompile(`/product/([A-Z0-9]{10})`),
			regexp.MustCompile(`/product-reviews/([A-Z0-9]{10})`),
		},
		starClass: regexp.MustCompile(`\ba-star-(?:mini-)?([1-5])\b`),
	}
}

func (e *AmazonExtractor) document(page browser.Page) (*goquery.Document, error) {
	html, err := page.Content()
	if err != nil {
		return nil, fmt.Errorf("failed to read page content: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse HTML: %v", ErrExtraction, err)
	}
	return doc, nil
}

// ExtractProducts returns organic search results in page order, ranked from
// 1. Sponsored results and results without an ASIN are skipped.
func (e *AmazonExtractor) ExtractProducts(page browser.Page) ([]models.Product, error) {
	doc, err := e.document(page)
	if err != nil {
		return nil, err
	}

	items := doc.Find(SearchResultSelector)
	if items.Length() == 0 {
		if containsAny(doc.Find("body").Text(), noResultPhrases) {
			return []models.Product{}, nil
		}
		return nil, fmt.Errorf("%w: no search result container on %s", ErrExtraction, page.URL())
	}

	base, _ := url.Parse(page.URL())
	products := make([]models.Product, 0, items.Length())

	items.Each(func(_ int, item *goquery.Selection) {
		if e.isSponsored(item) {
			return
		}

		href, title := e.productLink(item)
		productURL := resolveURL(base, href)

		asin := strings.TrimSpace(item.AttrOr("data-asin", ""))
		if asin == "" {
			asin = e.ExtractASIN(productURL)
		}
		if asin == "" {
			return
		}
		if productURL == "" {
			productURL = resolveURL(base, "/dp/"+asin)
		}

		if title == "" {
			title = cleanText(item.Find("h2").First().Text())
		}
		if title == "" {
			title = fmt.Sprintf("Product %d", len(products)+1)
		}

		products = append(products, models.Product{
			Rank:  len(products) + 1,
			Title: title,
			URL:   productURL,
			ASIN:  asin,
		})
	})

	return products, nil
}

func (e *AmazonExtractor) productLink(item *goquery.Selection) (string, string) {
	for _, sel := range []string{`h2 a`, `a[href*="/dp/"]`, `a[href*="/gp/product/"]`, `a.a-link-normal`} {
		link := item.Find(sel).First()
		if href, ok := link.Attr("href"); ok && href != "" {
			return href, cleanText(link.Text())
		}
	}
	return "", ""
}

func (e *AmazonExtractor) isSponsored(item *goquery.Selection) bool {
	componentType := strings.ToLower(item.AttrOr("data-component-type", ""))
	if strings.Contains(componentType, "sp-sponsored") {
		return true
	}
	subType := strings.ToLower(item.AttrOr("data-component-sub-type", ""))
	if strings.HasPrefix(subType, "sp") || strings.Contains(subType, "ad-") {
		return true
	}

	for _, sel := range sponsoredSelectors {
		if item.Find(sel).Length() > 0 {
			return true
		}
	}
	return false
}

// ExtractASIN finds the ten character product identifier in a product URL.
func (e *AmazonExtractor) ExtractASIN(productURL string) string {
	for _, pattern := range e.asinPatterns {
		if m := pattern.FindStringSubmatch(productURL); len(m) == 2 {
			return m[1]
		}
	}

	if u, err := url.Parse(productURL); err == nil {
		if asin := u.Query().Get("asin"); asin != "" {
			return asin
		}
	}
	return ""
}

// ExtractReviews returns the reviews shown on a review listing page. A page
// that states there are no reviews, or a listing past the last page, yields
// an empty slice.
func (e *AmazonExtractor) ExtractReviews(page browser.Page) ([]models.Review, error) {
	doc, err := e.document(page)
	if err != nil {
		return nil, err
	}

	elements := doc.Find(ReviewSelector)
	if elements.Length() == 0 {
		elements = doc.Find(`[id*="customer_review"]`)
	}

	if elements.Length() == 0 {
		if containsAny(doc.Find("body").Text(), noReviewPhrases) {
			return []models.Review{}, nil
		}
		if doc.Find(`#cm_cr-review_list, [data-hook="top-customer-reviews-widget"]`).Length() > 0 {
			return []models.Review{}, nil
		}
		return nil, fmt.Errorf("%w: no review list on %s", ErrExtraction, page.URL())
	}

	reviews := make([]models.Review, 0, elements.Length())
	elements.Each(func(_ int, el *goquery.Selection) {
		review := models.Review{
			ReviewerNickname: firstText(el, `[data-hook="review-author"]`, `.a-profile-name`),
			Rating:           e.extractRating(el),
			Date:             firstText(el, `[data-hook="review-date"]`),
			Content:          e.extractContent(el),
		}
		if review.ReviewerNickname == "" {
			review.ReviewerNickname = DefaultNickname
		}
		if review.Date == "" {
			review.Date = DefaultDate
		}

		if review.Content != "" || review.Rating > 0 {
			reviews = append(reviews, review)
		}
	})

	return reviews, nil
}

func (e *AmazonExtractor) extractRating(el *goquery.Selection) int {
	for _, sel := range ratingSelectors {
		found := el.Find(sel)
		for i := 0; i < found.Length(); i++ {
			node := found.Eq(i)

			for _, attr := range []string{"aria-label", "title"} {
				if rating := e.parseRating(node.AttrOr(attr, "")); rating > 0 {
					return rating
				}
			}
			if rating := e.parseRating(node.Text()); rating > 0 {
				return rating
			}
			if m := e.starClass.FindStringSubmatch(node.AttrOr("class", "")); len(m) == 2 {
				rating, _ := strconv.Atoi(m[1])
				return rating
			}
		}
	}
	return 0
}

func (e *AmazonExtractor) parseRating(text string) int {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}

	for _, pattern := range e.ratingPatterns {
		m := pattern.FindStringSubmatch(text)
		if len(m) != 2 {
			continue
		}
		value, err := strconv.ParseFloat(strings.Replace(m[1], ",", ".", 1), 64)
		if err != nil {
			continue
		}
		if value >= 1 && value <= 5 {
			return int(value)
		}
	}
	return 0
}

func (e *AmazonExtractor) extractContent(el *goquery.Selection) string {
	body := el.Find(`[data-hook="review-body"]`).First()
	text := cleanText(body.Find("span").First().Text())
	if text == "" {
		text = cleanText(body.Text())
	}

	if utf8.RuneCountInString(text) <= minContentLength {
		return ""
	}
	return text
}

func firstText(el *goquery.Selection, selectors ...string) string {
	for _, sel := range selectors {
		if text := cleanText(el.Find(sel).First().Text()); text != "" {
			return text
		}
	}
	return ""
}

// cleanText trims and collapses internal whitespace runs, keeping line
// breaks out of exported records.
func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func containsAny(text string, phrases []string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range phrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

func resolveURL(base *url.URL, href string) string {
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base == nil || ref.IsAbs() {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}
