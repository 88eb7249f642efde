package export

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	startedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "stravasync",
		Subsystem: "export",
		Name:      "jobs_started_total",
		Help:      "Number of export jobs started.",
	})

	completedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "stravasync",
		Subsystem: "export",
		Name:      "jobs_completed_total",
		Help:      "Number of export jobs that finished successfully.",
	})

	failedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "stravasync",
		Subsystem: "export",
		Name:      "jobs_failed_total",
		Help:      "Number of export jobs that ended in an error.",
	})

	durationHistogram = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "stravasync",
		Subsystem: "export",
		Name:      "job_duration_seconds",
		Help:      "Wall-clock duration of completed export jobs.",
		Buckets:   []float64{1, 5, 10, 20, 30, 45},
	})
)

func init() {
	prometheus.MustRegister(startedCounter, completedCounter, failedCounter, durationHistogram)
}

func recordStarted() {
	startedCounter.Inc()
}

func recordCompleted(elapsed time.Duration) {
	completedCounter.Inc()
	durationHistogram.Observe(elapsed.Seconds())
}

func recordFailed() {
	failedCounter.Inc()
}
