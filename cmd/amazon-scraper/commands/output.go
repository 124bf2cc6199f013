package commands

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/maltedev/amazon-review-scraper/internal/cache"
	"github.com/maltedev/amazon-review-scraper/internal/report"
)

const maxTitleWidth = 50

func printReport(w io.Writer, rep *report.Report) {
	fmt.Fprintf(w, "Keyword: %s  Filter: %s  Pages: %d\n", rep.Keyword, rep.Filter, rep.MaxPages)

	table := tablewriter.NewWriter(w)
	table.Header("Rank", "ASIN", "Title", "Status", "Reviews", "Pages", "Cached", "Error")
	for _, e := range rep.Entries {
		table.Append(
			strconv.Itoa(e.Product.Rank),
			e.Product.ASIN,
			truncate(e.Product.Title, maxTitleWidth),
			string(e.Status),
			strconv.Itoa(len(e.Reviews)),
			strconv.Itoa(e.PagesScraped),
			yesNo(e.FromCache),
			e.Error,
		)
	}
	table.Render()

	s := rep.Summary
	fmt.Fprintf(w, "Completed %d/%d (failed %d, cached %d), %d reviews in %s\n",
		s.Completed, s.Total, s.Failed, s.FromCache, s.Reviews, s.Elapsed.Round(time.Millisecond))
}

func printCacheStats(w io.Writer, stats cache.Stats) {
	table := tablewriter.NewWriter(w)
	table.Header("Metric", "Value")
	table.Append("Entries", strconv.Itoa(stats.EntryCount))
	table.Append("Hits", strconv.FormatInt(stats.HitCount, 10))
	table.Append("Misses", strconv.FormatInt(stats.MissCount, 10))
	table.Append("Size", formatBytes(stats.TotalSizeBytes))
	table.Render()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
