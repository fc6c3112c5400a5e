package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsPrefix = "descent_"

var jobsStartedCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: metricsPrefix + "jobs_started_total",
		Help: "Number of optimization jobs started",
	},
	[]string{"method"},
)

var jobsFinishedCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: metricsPrefix + "jobs_finished_total",
		Help: "Number of optimization jobs that ended, by final state",
	},
	[]string{"method", "state"},
)

var jobsRunningGauge = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: metricsPrefix + "jobs_running",
		Help: "Number of optimization jobs currently running",
	},
)

var stepsCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: metricsPrefix + "steps_total",
		Help: "Number of minimizer steps taken across all jobs",
	},
	[]string{"method"},
)

var jobDurationHist = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    metricsPrefix + "job_duration_seconds",
		Help:    "Wall time of finished optimization jobs",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300, 1800},
	},
	[]string{"method"},
)

func recordJobStarted(method string) {
	jobsStartedCounter.WithLabelValues(method).Inc()
	jobsRunningGauge.Inc()
}

func recordJobFinished(method string, state JobState, seconds float64) {
	jobsRunningGauge.Dec()
	jobsFinishedCounter.WithLabelValues(method, string(state)).Inc()
	jobDurationHist.WithLabelValues(method).Observe(seconds)
}

func recordStep(method string) {
	stepsCounter.WithLabelValues(method).Inc()
}
