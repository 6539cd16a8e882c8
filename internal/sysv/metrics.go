package sysv

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the unified SysV server's prometheus counters, one per
// opcode family plus a cross-cutting waitersWoken for the deferred-reply
// mechanism.
type Metrics struct {
	shmCreates, shmOpens, shmCloses, shmUnlinks, shmInvals prometheus.Counter
	msgGets, msgCloses, msgSends, msgReceives              prometheus.Counter
	semGets, semCloses, semOperates                        prometheus.Counter
	waitersWoken                                           prometheus.Counter
}

func newMetrics() *Metrics {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
	}
	return &Metrics{
		shmCreates:   counter("sysv_shm_creates_total", "SHM_CREATE requests handled"),
		shmOpens:     counter("sysv_shm_opens_total", "SHM_OPEN requests handled"),
		shmCloses:    counter("sysv_shm_closes_total", "SHM_CLOSE requests handled"),
		shmUnlinks:   counter("sysv_shm_unlinks_total", "SHM_UNLINK requests handled"),
		shmInvals:    counter("sysv_shm_invals_total", "SHM_INVAL broadcasts sent"),
		msgGets:      counter("sysv_msg_gets_total", "MSG_GET requests handled"),
		msgCloses:    counter("sysv_msg_closes_total", "MSG_CLOSE requests handled"),
		msgSends:     counter("sysv_msg_sends_total", "MSG_SEND requests handled"),
		msgReceives:  counter("sysv_msg_receives_total", "MSG_RECEIVE requests handled"),
		semGets:      counter("sysv_sem_gets_total", "SEM_GET requests handled"),
		semCloses:    counter("sysv_sem_closes_total", "SEM_CLOSE requests handled"),
		semOperates:  counter("sysv_sem_operates_total", "SEM_OPERATE requests handled"),
		waitersWoken: counter("sysv_waiters_woken_total", "deferred replies sent to parked semop/msgrecv waiters"),
	}
}

// Collectors lists every metric for registration with a prometheus.Registry.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.shmCreates, m.shmOpens, m.shmCloses, m.shmUnlinks, m.shmInvals,
		m.msgGets, m.msgCloses, m.msgSends, m.msgReceives,
		m.semGets, m.semCloses, m.semOperates,
		m.waitersWoken,
	}
}
