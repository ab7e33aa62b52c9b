// SPDX-License-Identifier: MIT

// Package metrics exposes vpo's Prometheus instrumentation: job
// throughput, queue depth, executor runtimes, and scan activity.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsTotal counts finished jobs by kind and final status.
	JobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vpo_jobs_total",
		Help: "Total jobs processed by kind and final status",
	}, []string{"kind", "status"})

	// JobDuration tracks wall-clock job runtime by kind.
	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vpo_job_duration_seconds",
		Help:    "Job runtime from claim to release",
		Buckets: []float64{1, 5, 15, 60, 300, 900, 1800, 3600, 7200},
	}, []string{"kind"})

	// QueueDepth is the number of queued jobs waiting for a worker.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vpo_queue_depth",
		Help: "Jobs currently in queued state",
	})

	// WorkersBusy is the number of workers currently running a job.
	WorkersBusy = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vpo_workers_busy",
		Help: "Workers currently executing a job",
	})

	// StaleRecovered counts jobs requeued after their worker vanished.
	StaleRecovered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vpo_jobs_stale_recovered_total",
		Help: "Jobs requeued by stale-worker recovery",
	})

	// ExecuteDuration tracks executor runtime by strategy.
	ExecuteDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vpo_execute_duration_seconds",
		Help:    "Plan execution runtime by strategy",
		Buckets: []float64{0.5, 1, 5, 15, 60, 300, 900, 1800, 3600},
	}, []string{"strategy"})

	// BytesSaved accumulates size reduction from successful transcodes.
	BytesSaved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vpo_bytes_saved_total",
		Help: "Cumulative bytes saved by successful executions",
	})

	// ScansTotal counts scan passes by result.
	ScansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vpo_scans_total",
		Help: "Library scan passes by result",
	}, []string{"result"})

	// FilesCataloged is the current catalog size.
	FilesCataloged = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vpo_files_cataloged",
		Help: "Files currently in the catalog",
	})
)

// ObserveJob records one finished job.
func ObserveJob(kind, status string, d time.Duration) {
	JobsTotal.WithLabelValues(kind, status).Inc()
	JobDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// ObserveExecution records one executor run.
func ObserveExecution(strategy string, d time.Duration, savedBytes int64) {
	ExecuteDuration.WithLabelValues(strategy).Observe(d.Seconds())
	if savedBytes > 0 {
		BytesSaved.Add(float64(savedBytes))
	}
}
