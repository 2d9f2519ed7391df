package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tagstate",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tagstate",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	reconcileActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tagstate",
			Subsystem: "reconcile",
			Name:      "actions_total",
			Help:      "Retag actions by outcome.",
		},
		[]string{"outcome"},
	)
	reconcileActionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tagstate",
			Subsystem: "reconcile",
			Name:      "action_duration_seconds",
			Help:      "Pull and push duration per retag action.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"outcome"},
	)
	planSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "tagstate",
			Subsystem: "plan",
			Name:      "actions",
			Help:      "Actions in the most recent plan by kind.",
		},
		[]string{"kind"},
	)
	lastRun = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "tagstate",
			Subsystem: "reconcile",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time of the last completed run by result.",
		},
		[]string{"result"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpRequests, httpDuration, reconcileActions, reconcileActionDuration, planSize, lastRun)
	})
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

func RecordAction(outcome string, duration time.Duration) {
	RegisterMetrics()
	reconcileActions.WithLabelValues(outcome).Inc()
	if duration > 0 {
		reconcileActionDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	}
}

func RecordPlan(retags, noops int) {
	RegisterMetrics()
	planSize.WithLabelValues("retag").Set(float64(retags))
	planSize.WithLabelValues("noop").Set(float64(noops))
}

func RecordRun(success bool, at time.Time) {
	RegisterMetrics()
	result := "success"
	if !success {
		result = "failure"
	}
	lastRun.WithLabelValues(result).Set(float64(at.Unix()))
}

// WriteTextfile dumps the default registry in the node_exporter textfile format.
func WriteTextfile(path string) error {
	RegisterMetrics()
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}
