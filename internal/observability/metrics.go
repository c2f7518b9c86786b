package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	messages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wlkit",
			Subsystem: "wire",
			Name:      "messages_total",
			Help:      "Protocol messages by role and direction.",
		},
		[]string{"role", "direction"},
	)
	protocolErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wlkit",
			Subsystem: "wire",
			Name:      "protocol_errors_total",
			Help:      "Fatal protocol violations by error class.",
		},
		[]string{"role", "class"},
	)
	dispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "wlkit",
			Subsystem: "dispatch",
			Name:      "handler_duration_seconds",
			Help:      "Time spent in object handlers.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"role", "interface"},
	)
	liveObjects = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "wlkit",
			Subsystem: "objects",
			Name:      "live",
			Help:      "Objects currently live per connection role.",
		},
		[]string{"role"},
	)
	connections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "wlkit",
			Subsystem: "server",
			Name:      "connections",
			Help:      "Client connections currently served.",
		},
		[]string{"socket"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(messages, protocolErrors, dispatchDuration, liveObjects, connections)
	})
}

func RecordMessage(role, direction string) {
	RegisterMetrics()
	messages.WithLabelValues(role, direction).Inc()
}

func RecordProtocolError(role, class string) {
	RegisterMetrics()
	protocolErrors.WithLabelValues(role, class).Inc()
}

func RecordDispatch(role, iface string, duration time.Duration) {
	RegisterMetrics()
	dispatchDuration.WithLabelValues(role, iface).Observe(duration.Seconds())
}

func ObjectCreated(role string) {
	RegisterMetrics()
	liveObjects.WithLabelValues(role).Inc()
}

func ObjectReleased(role string) {
	RegisterMetrics()
	liveObjects.WithLabelValues(role).Dec()
}

func ClientConnected(socket string) {
	RegisterMetrics()
	connections.WithLabelValues(socket).Inc()
}

func ClientDisconnected(socket string) {
	RegisterMetrics()
	connections.WithLabelValues(socket).Dec()
}
