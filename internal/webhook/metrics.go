package webhook

import "github.com/prometheus/client_golang/prometheus"

const (
	reasonFiltered      = "filtered"
	reasonDuplicate     = "duplicate"
	reasonNoCredential  = "no_credential"
	reasonRefreshFailed = "refresh_failed"
)

var (
	processedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "stravasync",
		Subsystem: "webhook",
		Name:      "events_processed_total",
		Help:      "Number of webhook deliveries that reached action dispatch.",
	})

	skippedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stravasync",
		Subsystem: "webhook",
		Name:      "events_skipped_total",
		Help:      "Number of webhook deliveries discarded, by reason.",
	}, []string{"reason"})

	actionRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stravasync",
		Subsystem: "webhook",
		Name:      "actions_run_total",
		Help:      "Number of side-effect actions that completed.",
	}, []string{"action"})

	actionFailureCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stravasync",
		Subsystem: "webhook",
		Name:      "action_failures_total",
		Help:      "Number of side-effect actions that failed.",
	}, []string{"action"})
)

func init() {
	prometheus.MustRegister(processedCounter, skippedCounter, actionRunCounter, actionFailureCounter)
}

func recordProcessed() {
	processedCounter.Inc()
}

func recordSkipped(reason string) {
	skippedCounter.WithLabelValues(reason).Inc()
}

func recordActionRun(action string) {
	actionRunCounter.WithLabelValues(action).Inc()
}

func recordActionFailure(action string) {
	actionFailureCounter.WithLabelValues(action).Inc()
}
