package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// value reads a counter or gauge sample from the registry.
func value(t *testing.T, m *Metrics, name string, labels map[string]string) float64 {
	t.Helper()

	families, err := m.Registry.Gather()
	require.NoError(t, err)

	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	samples:
		for _, metric := range mf.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					continue samples
				}
			}
			if c := metric.GetCounter(); c != nil {
				return c.GetValue()
			}
			return metric.GetGauge().GetValue()
		}
	}
	return 0
}

func TestMetricsRecord(t *testing.T) {
	m := New()

	m.IncJob("completed")
	m.IncJob("completed")
	m.IncJob("failed")
	m.ObserveCache("reviews", true)
	m.ObserveCache("reviews", false)
	m.ObservePage("reviews", 2*time.Second, nil)
	m.ObservePage("reviews", time.Second, errors.New("timeout"))
	m.AddReviews(7)
	m.AddReviews(0)
	m.WorkerStarted()
	m.WorkerStarted()
	m.WorkerFinished()

	assert.Equal(t, 2.0, value(t, m, "scraper_jobs_total", map[string]string{"status": "completed"}))
	assert.Equal(t, 1.0, value(t, m, "scraper_jobs_total", map[string]string{"status": "failed"}))
	assert.Equal(t, 1.0, value(t, m, "scraper_cache_lookups_total", map[string]string{"kind": "reviews", "result": "hit"}))
	assert.Equal(t, 1.0, value(t, m, "scraper_page_fetches_total", map[string]string{"kind": "reviews", "outcome": "error"}))
	assert.Equal(t, 7.0, value(t, m, "scraper_reviews_scraped_total", nil))
	assert.Equal(t, 1.0, value(t, m, "scraper_active_workers", nil))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.IncJob("failed")
		m.ObserveCache("search", true)
		m.ObservePage("search", time.Second, nil)
		m.AddReviews(3)
		m.IncRecycle()
		m.WorkerStarted()
		m.WorkerFinished()
		m.IncRun("ok")
	})
}
