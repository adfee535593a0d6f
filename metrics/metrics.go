// Package metrics exposes Prometheus counters for the operation runtime.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	Namespace = "cardmw"

	LabelOperation = "operation"
	LabelResult    = "result"
	LabelCall      = "call"

	ResultOK    = "ok"
	ResultError = "error"
)

var (
	// OperationsTotal counts handler calls by operation and result.
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "operations_total",
			Help:      "Cryptographic operations by operation and result",
		},
		[]string{LabelOperation, LabelResult},
	)

	// ReauthRetriesTotal counts the retries after a cached PIN revalidation.
	ReauthRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "reauth_retries_total",
			Help:      "Operations retried after revalidating the cached PIN",
		},
		[]string{LabelOperation},
	)

	// DeviceCallDuration observes card commands.
	DeviceCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "device_call_duration_seconds",
			Help:      "Duration of card commands in seconds",
			Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{LabelCall},
	)

	// SessionsOpen tracks the open sessions of the module.
	SessionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "sessions_open",
			Help:      "Number of open sessions",
		},
	)
)

// RecordOperation counts one handler call.
func RecordOperation(operation string, err error) {
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	OperationsTotal.WithLabelValues(operation, result).Inc()
}

// RecordRetry counts one re-authentication retry.
func RecordRetry(operation string) {
	ReauthRetriesTotal.WithLabelValues(operation).Inc()
}

// ObserveCall records the duration of a card command started at start.
func ObserveCall(call string, start time.Time) {
	DeviceCallDuration.WithLabelValues(call).Observe(time.Since(start).Seconds())
}
