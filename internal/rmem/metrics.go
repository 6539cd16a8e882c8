package rmem

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes the same per-opcode counters stats.go tracks internally,
// as prometheus/client_golang collectors for cmd/spawn1d's /metrics route.
type Metrics struct {
	allocs prometheus.Counter
	frees  prometheus.Counter
	reads  prometheus.Counter
	writes prometheus.Counter
}

func newMetrics() *Metrics {
	return &Metrics{
		allocs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ncruntime", Subsystem: "rmem", Name: "alloc_total",
			Help: "Total RMEM_ALLOC requests served.",
		}),
		frees: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ncruntime", Subsystem: "rmem", Name: "free_total",
			Help: "Total RMEM_MEMFREE requests served.",
		}),
		reads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ncruntime", Subsystem: "rmem", Name: "read_total",
			Help: "Total RMEM_READ requests served.",
		}),
		writes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ncruntime", Subsystem: "rmem", Name: "write_total",
			Help: "Total RMEM_WRITE requests served.",
		}),
	}
}

func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.allocs, m.frees, m.reads, m.writes}
}
