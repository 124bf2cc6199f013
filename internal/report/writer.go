package report

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/maltedev/amazon-review-scraper/internal/models"
)

const (
	ProductsFile = "products.json"
	SummaryFile  = "summary.json"
)

type productsDocument struct {
	Keyword  string           `json:"keyword"`
	Products []models.Product `json:"products"`
}

// reviewsDocument carries no per-run fields so a cached rerun rewrites the
// same bytes.
type reviewsDocument struct {
	ASIN         string           `json:"asin"`
	ProductURL   string           `json:"product_url"`
	FilterRating *int             `json:"filter_rating"`
	Status       models.JobStatus `json:"status"`
	Error        string           `json:"error,omitempty"`
	PagesScraped int              `json:"pages_scraped"`
	Reviews      []models.Review  `json:"reviews"`
}

type summaryDocument struct {
	RunID        string `json:"run_id,omitempty"`
	Keyword      string `json:"keyword"`
	FilterRating *int   `json:"filter_rating"`
	MaxPages     int    `json:"max_pages"`
	Summary
	ElapsedText string `json:"elapsed_text"`
}

// Writer saves a report as JSON documents in one directory. Every file is
// written to a temp file and renamed into place.
type Writer struct {
	dir    string
	logger *slog.Logger
}

func NewWriter(dir string, logger *slog.Logger) (*Writer, error) {
	if dir == "" {
		dir = "."
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &Writer{dir: dir, logger: logger.With("component", "report_writer")}, nil
}

func ReviewsFile(asin string) string {
	if asin == "" {
		asin = "unknown"
	}
	return fmt.Sprintf("reviews_%s.json", asin)
}

// Write returns the paths it wrote, products first.
func (w *Writer) Write(r *Report) ([]string, error) {
	var written []string

	path, err := w.writeJSON(ProductsFile, productsDocument{Keyword: r.Keyword, Products: r.Products()})
	if err != nil {
		return written, err
	}
	written = append(written, path)

	for _, e := range r.Entries {
		doc := reviewsDocument{
			ASIN:         e.Product.ASIN,
			ProductURL:   e.Product.URL,
			FilterRating: r.Filter.Rating(),
			Status:       e.Status,
			Error:        e.Error,
			PagesScraped: e.PagesScraped,
			Reviews:      e.Reviews,
		}
		path, err := w.writeJSON(ReviewsFile(e.Product.ASIN), doc)
		if err != nil {
			return written, err
		}
		written = append(written, path)
	}

	path, err = w.writeJSON(SummaryFile, summaryDocument{
		RunID:        r.RunID,
		Keyword:      r.Keyword,
		FilterRating: r.Filter.Rating(),
		MaxPages:     r.MaxPages,
		Summary:      r.Summary,
		ElapsedText:  r.Summary.Elapsed.String(),
	})
	if err != nil {
		return written, err
	}
	written = append(written, path)

	w.logger.Info("documents written", "dir", w.dir, "files", len(written))
	return written, nil
}

func (w *Writer) writeJSON(name string, v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode %s: %w", name, err)
	}

	path := filepath.Join(w.dir, name)
	tmp, err := os.CreateTemp(w.dir, "."+name+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file for %s: %w", name, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to close %s: %w", name, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to save %s: %w", name, err)
	}

	w.logger.Debug("file saved", "path", path, "bytes", len(data))
	return path, nil
}
