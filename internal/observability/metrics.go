package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	inferRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "policylink",
			Subsystem: "server",
			Name:      "infer_requests_total",
			Help:      "Inference requests by outcome.",
		},
		[]string{"model", "outcome"},
	)
	inferDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "policylink",
			Subsystem: "server",
			Name:      "infer_duration_seconds",
			Help:      "Wall time of one model inference.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"model"},
	)
	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "policylink",
			Subsystem: "server",
			Name:      "active_sessions",
			Help:      "Currently connected policy clients.",
		},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "policylink",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(inferRequests, inferDuration, activeSessions, httpRequests)
	})
}

func RecordInference(model, outcome string, duration time.Duration) {
	RegisterMetrics()
	inferRequests.WithLabelValues(model, outcome).Inc()
	if outcome == "ok" {
		inferDuration.WithLabelValues(model).Observe(duration.Seconds())
	}
}

func SessionOpened() {
	RegisterMetrics()
	activeSessions.Inc()
}

func SessionClosed() {
	RegisterMetrics()
	activeSessions.Dec()
}

func RecordHTTPRequest(method, path string, status int) {
	RegisterMetrics()
	httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
}
