package nameservice

import "github.com/prometheus/client_golang/prometheus"

// Metrics mirrors the per-opcode counters the DOMAIN STACK table assigns to
// prometheus/client_golang, exposed by cmd/spawn0d's /metrics handler
// alongside the native mailbox protocol.
type Metrics struct {
	setpids    prometheus.Counter
	links      prometheus.Counter
	unlinks    prometheus.Counter
	lookups    prometheus.Counter
	heartbeats prometheus.Counter
	reaped     prometheus.Counter
}

func newMetrics() *Metrics {
	return &Metrics{
		setpids: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ncruntime", Subsystem: "nameservice", Name: "setpid_total",
			Help: "Total NAME_SETPID requests served.",
		}),
		links: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ncruntime", Subsystem: "nameservice", Name: "link_total",
			Help: "Total NAME_LINK requests served.",
		}),
		unlinks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ncruntime", Subsystem: "nameservice", Name: "unlink_total",
			Help: "Total NAME_UNLINK requests served.",
		}),
		lookups: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ncruntime", Subsystem: "nameservice", Name: "lookup_total",
			Help: "Total NAME_LOOKUP requests served.",
		}),
		heartbeats: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ncruntime", Subsystem: "nameservice", Name: "heartbeat_total",
			Help: "Total NAME_ALIVE requests served.",
		}),
		reaped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ncruntime", Subsystem: "nameservice", Name: "reaped_total",
			Help: "Total ProcRecords evicted by the heartbeat-TTL reaper.",
		}),
	}
}

// Collectors returns every metric for registration against a
// prometheus.Registry, the way cmd/spawn0d wires them into its chi
// /metrics route.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.setpids, m.links, m.unlinks, m.lookups, m.heartbeats, m.reaped}
}
