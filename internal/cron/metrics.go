package cron

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricsOnce        sync.Once
	jobRunsTotal       *prometheus.CounterVec
	jobDurationSeconds *prometheus.HistogramVec
	jobLastSuccess     *prometheus.GaugeVec
)

func initMetrics() {
	metricsOnce.Do(func() {
		jobRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coredelegate",
			Subsystem: "cron",
			Name:      "job_runs_total",
			Help:      "Total cron job executions",
		}, []string{"job", "status"})

		jobDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "coredelegate",
			Subsystem: "cron",
			Name:      "job_duration_seconds",
			Help:      "Duration of cron job executions",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job"})

		jobLastSuccess = promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "coredelegate",
			Subsystem: "cron",
			Name:      "job_last_success_timestamp",
			Help:      "Unix timestamp of the last successful cron job execution",
		}, []string{"job"})
	})
}
