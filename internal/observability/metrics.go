package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce       sync.Once
	gradingJobsTotal   *prometheus.CounterVec
	gradingJobDuration *prometheus.HistogramVec
	gradingQueueDepth  *prometheus.GaugeVec
	rubricLookupsTotal *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors used by the grading worker.
func RegisterMetrics() {
	registerOnce.Do(func() {
		gradingJobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grading_jobs_total",
			Help: "Total number of grading jobs handled, by outcome.",
		}, []string{"outcome"})

		gradingJobDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "grading_job_duration_seconds",
			Help:    "Wall time spent on one delivery of a grading job.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 60, 120, 240},
		}, []string{"outcome"})

		gradingQueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "grading_queue_depth",
			Help: "Number of grading jobs waiting and in flight.",
		}, []string{"list"})

		rubricLookupsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grading_rubric_lookups_total",
			Help: "Rubric lookups by source (cache or content).",
		}, []string{"source"})

		prometheus.MustRegister(gradingJobsTotal, gradingJobDuration, gradingQueueDepth, rubricLookupsTotal)
	})
}

// GradingJobs exposes the counter for handled jobs.
func GradingJobs() *prometheus.CounterVec {
	RegisterMetrics()
	return gradingJobsTotal
}

// GradingJobDuration exposes the job latency histogram.
func GradingJobDuration() *prometheus.HistogramVec {
	RegisterMetrics()
	return gradingJobDuration
}

// GradingQueueDepth exposes the queue depth gauge.
func GradingQueueDepth() *prometheus.GaugeVec {
	RegisterMetrics()
	return gradingQueueDepth
}

// RubricLookups exposes the rubric lookup counter.
func RubricLookups() *prometheus.CounterVec {
	RegisterMetrics()
	return rubricLookupsTotal
}
