package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Job metrics
	JobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uworker_jobs_total",
			Help: "Total number of executed jobs by terminal status",
		},
		[]string{"status"},
	)

	JobDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "uworker_job_duration_seconds",
			Help:    "Job processing time in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		},
	)

	// Claim metrics
	ClaimConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "uworker_claim_conflicts_total",
			Help: "Total number of claims lost to another worker",
		},
	)

	// Fetch metrics
	FetchEmpty = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "uworker_fetch_empty_total",
			Help: "Total number of fetches that returned no job",
		},
	)
)

var registerOnce sync.Once

// Init registers all collectors with the default registry.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			JobsTotal,
			JobDuration,
			ClaimConflicts,
			FetchEmpty,
		)
	})
}

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve starts an HTTP server exposing /metrics on addr. It blocks.
func Serve(addr string) error {
	Init()
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	return http.ListenAndServe(addr, mux)
}
