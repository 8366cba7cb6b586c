// Package metrics exposes Prometheus counters for the job lifecycle.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ActiveJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sorabox_active_jobs",
		Help: "Jobs currently tracked as live (queued or in progress).",
	})

	JobsSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sorabox_jobs_submitted_total",
		Help: "Jobs accepted for creation, including remixes.",
	})

	JobsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sorabox_jobs_completed_total",
		Help: "Jobs that reached the completed state.",
	})

	JobsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sorabox_jobs_failed_total",
		Help: "Jobs that reached the failed state.",
	})

	PollTicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sorabox_poll_ticks_total",
		Help: "Polling cycles executed.",
	})

	Downloads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sorabox_downloads_total",
		Help: "Completed-video downloads persisted to blob storage.",
	})

	DownloadFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sorabox_download_failures_total",
		Help: "Downloads that failed after the job left the live set.",
	})
)

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
