package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type WatchMetrics struct {
	pollCycles     *prometheus.CounterVec
	pollDuration   prometheus.Histogram
	contracts      *prometheus.GaugeVec
	deadlineAlerts *prometheus.CounterVec
	notices        *prometheus.CounterVec
	reconnects     prometheus.Counter
	chainHeight    prometheus.Gauge
}

var (
	watchOnce     sync.Once
	watchRegistry *WatchMetrics
)

func Watch() *WatchMetrics {
	watchOnce.Do(func() {
		watchRegistry = &WatchMetrics{
			pollCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "escrow_watch_poll_cycles_total",
				Help: "Count of overlay poll cycles by outcome.",
			}, []string{"outcome"}),
			pollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Name:    "escrow_watch_poll_duration_seconds",
				Help:    "Latency distribution for full overlay poll cycles.",
				Buckets: prometheus.DefBuckets,
			}),
			contracts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "escrow_watch_contracts",
				Help: "Number of live escrow contracts per state as of the last poll.",
			}, []string{"state"}),
			deadlineAlerts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "escrow_watch_deadline_alerts_total",
				Help: "Count of deadline alerts raised by kind.",
			}, []string{"kind"}),
			notices: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "escrow_watch_notices_total",
				Help: "Count of stream notices consumed by topic.",
			}, []string{"topic"}),
			reconnects: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "escrow_watch_stream_reconnects_total",
				Help: "Number of times the notice stream was re-established.",
			}),
			chainHeight: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "escrow_watch_chain_height",
				Help: "Chain tip height observed during the last poll.",
			}),
		}
		prometheus.MustRegister(
			watchRegistry.pollCycles,
			watchRegistry.pollDuration,
			watchRegistry.contracts,
			watchRegistry.deadlineAlerts,
			watchRegistry.notices,
			watchRegistry.reconnects,
			watchRegistry.chainHeight,
		)
	})
	return watchRegistry
}

func (m *WatchMetrics) ObservePollCycle(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.pollCycles.WithLabelValues(outcome).Inc()
	m.pollDuration.Observe(duration.Seconds())
}

func (m *WatchMetrics) SetContracts(state string, count int) {
	if m == nil {
		return
	}
	if state == "" {
		state = "unknown"
	}
	m.contracts.WithLabelValues(state).Set(float64(count))
}

func (m *WatchMetrics) IncDeadlineAlert(kind string) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	m.deadlineAlerts.WithLabelValues(kind).Inc()
}

func (m *WatchMetrics) IncNotice(topic string) {
	if m == nil {
		return
	}
	if topic == "" {
		topic = "unknown"
	}
	m.notices.WithLabelValues(topic).Inc()
}

func (m *WatchMetrics) IncStreamReconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *WatchMetrics) SetChainHeight(height uint64) {
	if m == nil {
		return
	}
	m.chainHeight.Set(float64(height))
}

func (m *WatchMetrics) InitContractState(state string) {
	if m == nil {
		return
	}
	if state == "" {
		state = "unknown"
	}
	m.contracts.WithLabelValues(state).Set(0)
}

func (m *WatchMetrics) InitDeadlineKind(kind string) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	m.deadlineAlerts.WithLabelValues(kind).Add(0)
}

func (m *WatchMetrics) InitTopic(topic string) {
	if m == nil {
		return
	}
	if topic == "" {
		topic = "unknown"
	}
	m.notices.WithLabelValues(topic).Add(0)
}
