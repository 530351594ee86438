package gossip

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	// Rounds is the number of gossip rounds initiated.
	Rounds prometheus.Counter

	// RoundErrors is the number of peer exchanges that failed.
	RoundErrors prometheus.Counter

	// EntriesInbound is the number of entries merged from remote peers.
	EntriesInbound prometheus.Counter

	// EntriesOutbound is the number of entries pushed to remote peers.
	EntriesOutbound prometheus.Counter

	// StoreEntries is the number of entries in the local store, including
	// tombstones.
	StoreEntries prometheus.Gauge
}

func NewMetrics() *Metrics {
	return &Metrics{
		Rounds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ringmesh",
			Subsystem: "gossip",
			Name:      "rounds_total",
			Help:      "Number of gossip rounds initiated.",
		}),
		RoundErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ringmesh",
			Subsystem: "gossip",
			Name:      "round_errors_total",
			Help:      "Number of peer exchanges that failed.",
		}),
		EntriesInbound: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ringmesh",
			Subsystem: "gossip",
			Name:      "entries_inbound_total",
			Help:      "Number of entries merged from remote peers.",
		}),
		EntriesOutbound: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ringmesh",
			Subsystem: "gossip",
			Name:      "entries_outbound_total",
			Help:      "Number of entries pushed to remote peers.",
		}),
		StoreEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ringmesh",
			Subsystem: "gossip",
			Name:      "store_entries",
			Help:      "Number of entries in the local store, including tombstones.",
		}),
	}
}

func (m *Metrics) Register(registry *prometheus.Registry) {
	registry.MustRegister(
		m.Rounds,
		m.RoundErrors,
		m.EntriesInbound,
		m.EntriesOutbound,
		m.StoreEntries,
	)
}
