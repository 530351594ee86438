package transport

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	// InboundConnections is the number of accepted connections.
	InboundConnections prometheus.Counter

	// OutboundConnections is the number of dialed connections.
	OutboundConnections prometheus.Counter

	// Requests is the number of handled inbound requests, labelled by
	// message type.
	Requests *prometheus.CounterVec

	// RequestErrors is the number of inbound requests that could not be
	// decoded or handled, labelled by message type.
	RequestErrors *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		InboundConnections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ringmesh",
			Subsystem: "transport",
			Name:      "inbound_connections_total",
			Help:      "Number of accepted connections.",
		}),
		OutboundConnections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ringmesh",
			Subsystem: "transport",
			Name:      "outbound_connections_total",
			Help:      "Number of dialed connections.",
		}),
		Requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ringmesh",
				Subsystem: "transport",
				Name:      "requests_total",
				Help:      "Number of handled inbound requests.",
			},
			[]string{"type"},
		),
		RequestErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ringmesh",
				Subsystem: "transport",
				Name:      "request_errors_total",
				Help:      "Number of inbound requests that failed.",
			},
			[]string{"type"},
		),
	}
}

func (m *Metrics) Register(registry *prometheus.Registry) {
	registry.MustRegister(
		m.InboundConnections,
		m.OutboundConnections,
		m.Requests,
		m.RequestErrors,
	)
}
