package models

import (
	"fmt"
	"strings"
)

type SearchTarget struct {
	Keyword string `json:"keyword"`
}

type Product struct {
	Rank  int    `json:"rank"`
	Title string `json:"title"`
	URL   string `json:"url"`
	ASIN  string `json:"asin"`
}

type Review struct {
	ReviewerNickname string `json:"reviewer_nickname"`
	Rating           int    `json:"rating"`
	Date             string `json:"date"`
	Content          string `json:"content"`
}

// ReviewFilter restricts reviews to a single star rating. The zero value
// means all ratings.
type ReviewFilter struct {
	StarRating int `json:"star_rating,omitempty"`
}

func NewReviewFilter(stars int) ReviewFilter {
	return ReviewFilter{StarRating: stars}
}

func (f ReviewFilter) Validate() error {
	if f.StarRating != 0 && (f.StarRating < 1 || f.StarRating > 5) {
		return fmt.Errorf("star rating must be between 1 and 5, got %d", f.StarRating)
	}
	return nil
}

func (f ReviewFilter) Active() bool {
	return f.StarRating != 0
}

// Matches reports whether a review passes the filter.
func (f ReviewFilter) Matches(r Review) bool {
	return !f.Active() || r.Rating == f.StarRating
}

// String is used in cache keys, so it must stay stable.
func (f ReviewFilter) String() string {
	if !f.Active() {
		return "all"
	}
	return fmt.Sprintf("%d", f.StarRating)
}

// Rating returns the filter rating for export, nil when unfiltered.
func (f ReviewFilter) Rating() *int {
	if !f.Active() {
		return nil
	}
	r := f.StarRating
	return &r
}

func (p *Product) Validate() []string {
	var errors []string

	if p.ASIN == "" {
		errors = append(errors, "ASIN is required")
	}

	if p.Rank < 1 {
		errors = append(errors, "Rank must be at least 1")
	}

	if strings.TrimSpace(p.URL) == "" {
		errors = append(errors, "URL is required")
	}

	return errors
}
