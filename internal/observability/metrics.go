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
			Namespace: "aquasign",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests served by the status API.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "aquasign",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Status API request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	connectOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aquasign",
			Subsystem: "session",
			Name:      "connect_total",
			Help:      "Session connect attempts by outcome.",
		},
		[]string{"outcome", "reused"},
	)
	signRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aquasign",
			Subsystem: "session",
			Name:      "requests_total",
			Help:      "Wallet signing requests by method and outcome.",
		},
		[]string{"method", "outcome"},
	)
	signDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "aquasign",
			Subsystem: "session",
			Name:      "request_duration_seconds",
			Help:      "Wallet signing request round-trip in seconds.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"method"},
	)
	evictedPairings = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "aquasign",
			Subsystem: "session",
			Name:      "pairings_evicted_total",
			Help:      "Stale pairings deleted during login housekeeping.",
		},
	)
	relayMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aquasign",
			Subsystem: "relay",
			Name:      "messages_total",
			Help:      "Relay messages by direction.",
		},
		[]string{"direction"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			connectOutcomes,
			signRequests,
			signDuration,
			evictedPairings,
			relayMessages,
		)
	})
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

func RecordConnect(outcome string, reused bool) {
	RegisterMetrics()
	connectOutcomes.WithLabelValues(outcome, strconv.FormatBool(reused)).Inc()
}

func RecordSignRequest(method, outcome string, duration time.Duration) {
	RegisterMetrics()
	signRequests.WithLabelValues(method, outcome).Inc()
	signDuration.WithLabelValues(method).Observe(duration.Seconds())
}

func RecordEvictedPairings(n int) {
	RegisterMetrics()
	if n > 0 {
		evictedPairings.Add(float64(n))
	}
}

func RecordRelayMessage(direction string) {
	RegisterMetrics()
	relayMessages.WithLabelValues(direction).Inc()
}
