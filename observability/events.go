package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Quaakee/paragon-escrow-sub001/escrow"
)

type eventMetrics struct {
	events *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry counting protocol events, whether
// emitted by a local engine or replayed from the overlay stream.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			events: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "escrow",
				Subsystem: "protocol",
				Name:      "events_total",
				Help:      "Count of protocol events segmented by event type and resulting state.",
			}, []string{"event", "state"}),
		}
		prometheus.MustRegister(eventRegistry.events)
	})
	return eventRegistry
}

// RecordEvent increments the event counter. State may be empty for terminal
// transitions that leave no successor output.
func (m *eventMetrics) RecordEvent(event, state string) {
	if m == nil {
		return
	}
	if event = strings.TrimSpace(event); event == "" {
		event = "unknown"
	}
	if state = strings.TrimSpace(state); state == "" {
		state = "none"
	}
	m.events.WithLabelValues(event, state).Inc()
}

// MetricsEmitter forwards engine events into the Prometheus registry. Attach
// it with SetEmitter when a process wants its contract activity on /metrics.
type MetricsEmitter struct{}

func (MetricsEmitter) Emit(event *escrow.Event) {
	if event == nil {
		return
	}
	Events().RecordEvent(event.Type, event.Attributes["state"])
}
