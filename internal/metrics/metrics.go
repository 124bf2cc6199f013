package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for scrape runs.
type Metrics struct {
	Registry        *prometheus.Registry
	JobsTotal       *prometheus.CounterVec
	CacheLookups    *prometheus.CounterVec
	PageFetches     *prometheus.CounterVec
	PageDuration    prometheus.Histogram
	ReviewsScraped  prometheus.Counter
	SessionRecycles prometheus.Counter
	ActiveWorkers   prometheus.Gauge
	RunsTotal       *prometheus.CounterVec
}

// New constructs and registers all collectors on a dedicated registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	jobs := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_jobs_total",
			Help: "Review jobs by terminal status.",
		},
		[]string{"status"},
	)
	cacheLookups := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_cache_lookups_total",
			Help: "Cache lookups by kind and result.",
		},
		[]string{"kind", "result"},
	)
	pageFetches := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_page_fetches_total",
			Help: "Browser page loads by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)
	pageDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scraper_page_fetch_duration_seconds",
			Help:    "Latency of a browser page load including selector wait.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		},
	)
	reviews := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_reviews_scraped_total",
			Help: "Reviews extracted from fetched pages.",
		},
	)
	recycles := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_session_recycles_total",
			Help: "Browser sessions replaced after being lost.",
		},
	)
	active := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scraper_active_workers",
			Help: "Workers currently processing a job.",
		},
	)
	runs := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_runs_total",
			Help: "Pipeline runs by result.",
		},
		[]string{"result"},
	)

	registry.MustRegister(jobs, cacheLookups, pageFetches, pageDuration, reviews, recycles, active, runs)

	return &Metrics{
		Registry:        registry,
		JobsTotal:       jobs,
		CacheLookups:    cacheLookups,
		PageFetches:     pageFetches,
		PageDuration:    pageDuration,
		ReviewsScraped:  reviews,
		SessionRecycles: recycles,
		ActiveWorkers:   active,
		RunsTotal:       runs,
	}
}

func (m *Metrics) IncJob(status string) {
	if m == nil {
		return
	}
	m.JobsTotal.WithLabelValues(status).Inc()
}

// ObserveCache records a lookup; kind is "search" or "reviews".
func (m *Metrics) ObserveCache(kind string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) ObservePage(kind string, d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.PageFetches.WithLabelValues(kind, outcome).Inc()
	m.PageDuration.Observe(d.Seconds())
}

func (m *Metrics) AddReviews(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ReviewsScraped.Add(float64(n))
}

func (m *Metrics) IncRecycle() {
	if m == nil {
		return
	}
	m.SessionRecycles.Inc()
}

func (m *Metrics) WorkerStarted() {
	if m == nil {
		return
	}
	m.ActiveWorkers.Inc()
}

func (m *Metrics) WorkerFinished() {
	if m == nil {
		return
	}
	m.ActiveWorkers.Dec()
}

func (m *Metrics) IncRun(result string) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(result).Inc()
}
