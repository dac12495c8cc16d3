// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once       sync.Once
	collectors []prometheus.Collector
)

func register(cs ...prometheus.Collector) {
	collectors = append(collectors, cs...)
}

// MustRegister registers all collectors with the default registry exactly once.
func MustRegister() {
	once.Do(func() {
		prometheus.MustRegister(collectors...)
	})
}

func init() {
	register(
		chatTurns,
		upstreamLatency,
		activeSessions,
		sessionsEvicted,
		historyErrors,
	)
}

var (
	chatTurns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatproxy_chat_turns_total",
			Help: "Chat turns by outcome (ok, fallback, invalid, upstream_error).",
		},
		[]string{"outcome"},
	)

	upstreamLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatproxy_upstream_latency_seconds",
			Help:    "Completion API call latency.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16, 32, 60},
		},
		[]string{"provider", "success"},
	)

	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatproxy_active_sessions",
			Help: "Sessions currently held in memory.",
		},
	)

	sessionsEvicted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatproxy_sessions_removed_total",
			Help: "Sessions removed from memory by reason (clear, idle).",
		},
		[]string{"reason"},
	)

	historyErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatproxy_history_errors_total",
			Help: "Message log failures by operation (append, list, delete).",
		},
		[]string{"op"},
	)
)

func ChatTurn(outcome string) {
	chatTurns.WithLabelValues(outcome).Inc()
}

func ObserveUpstream(provider string, d time.Duration, success bool) {
	upstreamLatency.WithLabelValues(provider, strconv.FormatBool(success)).Observe(d.Seconds())
}

func SetActiveSessions(n int) {
	activeSessions.Set(float64(n))
}

func SessionsRemoved(reason string, n int) {
	sessionsEvicted.WithLabelValues(reason).Add(float64(n))
}

func HistoryError(op string) {
	historyErrors.WithLabelValues(op).Inc()
}
