package observability

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Quaakee/paragon-escrow-sub001/escrow"
)

type transitionMetrics struct {
	attempts *prometheus.CounterVec
	errors   *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

var (
	transitionMetricsOnce sync.Once
	transitionRegistry    *transitionMetrics
)

// Transitions returns the lazily-initialised registry recording contract
// transitions attempted by this process.
func Transitions() *transitionMetrics {
	transitionMetricsOnce.Do(func() {
		transitionRegistry = &transitionMetrics{
			attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "escrow",
				Subsystem: "agent",
				Name:      "transitions_total",
				Help:      "Total contract transitions attempted segmented by method and outcome.",
			}, []string{"method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "escrow",
				Subsystem: "agent",
				Name:      "transition_errors_total",
				Help:      "Total failed transitions segmented by method and failure class.",
			}, []string{"method", "reason"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "escrow",
				Subsystem: "agent",
				Name:      "transition_duration_seconds",
				Help:      "Latency distribution for contract transitions covering signing and broadcast.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
		}
		prometheus.MustRegister(
			transitionRegistry.attempts,
			transitionRegistry.errors,
			transitionRegistry.latency,
		)
	})
	return transitionRegistry
}

// Observe records the outcome of a transition attempt. The reason label on
// failures comes from the protocol sentinels so dashboards can separate
// concurrency races from caller bugs.
func (m *transitionMetrics) Observe(method string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	label := labelMethod(method)
	outcome := "success"
	if err != nil {
		outcome = "error"
		m.errors.WithLabelValues(label, failureReason(err)).Inc()
	}
	m.attempts.WithLabelValues(label, outcome).Inc()
	m.latency.WithLabelValues(label).Observe(duration.Seconds())
}

func labelMethod(method string) string {
	trimmed := strings.TrimSpace(method)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}

func failureReason(err error) string {
	var rejection *escrow.BroadcastRejection
	switch {
	case errors.Is(err, escrow.ErrStaleState):
		return "stale_state"
	case errors.Is(err, escrow.ErrInvalidParameter):
		return "invalid_parameter"
	case errors.Is(err, escrow.ErrInvariantViolation):
		return "invariant_violation"
	case errors.Is(err, escrow.ErrDecode):
		return "decode"
	case errors.As(err, &rejection):
		return "broadcast_rejected"
	default:
		return "other"
	}
}
