package nameservice

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	log "github.com/noc-os/ncruntime/pkg/minilog"
)

// Reaper resolves Design Note §9(iii) by choosing option (a): a periodic
// sweeper, scheduled with robfig/cron, evicts ProcRecords whose last
// heartbeat is older than heartbeatTTL and cascades NameRecord cleanup for
// any name that pointed at the evicted entry (resolving invariant (i)).
//
// Registry is otherwise only touched by the single server-loop goroutine
// (§5: "no server-side mutex required"); the reaper is the one exception,
// so it takes its own lock around each sweep.
type Reaper struct {
	registry *Registry
	metrics  *Metrics
	ttl      time.Duration

	startMu sync.Mutex
	cron    *cron.Cron
}

func NewReaper(registry *Registry, metrics *Metrics, ttl time.Duration) *Reaper {
	return &Reaper{registry: registry, metrics: metrics, ttl: ttl}
}

// Start schedules the sweep to run every ttl/3, matching the usual
// heartbeat-TTL-over-3 cadence so no record can go stale by more than a
// third of its grace period before being noticed.
func (r *Reaper) Start() {
	interval := r.ttl / 3
	if interval <= 0 {
		interval = time.Second
	}

	r.startMu.Lock()
	r.cron = cron.New()
	r.cron.Schedule(cron.Every(interval), cron.FuncJob(r.sweep))
	r.cron.Start()
	r.startMu.Unlock()
}

func (r *Reaper) Stop() {
	r.startMu.Lock()
	defer r.startMu.Unlock()
	if r.cron != nil {
		r.cron.Stop()
	}
}

func (r *Reaper) sweep() {
	now := time.Now()

	r.registry.mu.Lock()
	defer r.registry.mu.Unlock()

	for i := range r.registry.procs {
		pr := &r.registry.procs[i]
		if !pr.live || now.Sub(pr.LastHeartbeatTS) <= r.ttl {
			continue
		}

		log.Debug("nameservice: reaping stale ProcRecord pid=%v (last heartbeat %v ago)", pr.Pid, now.Sub(pr.LastHeartbeatTS))

		for j := range r.registry.names {
			nr := &r.registry.names[j]
			if nr.live && nr.ProcIndex == i {
				*nr = NameRecord{}
			}
		}

		*pr = ProcRecord{}
		r.metrics.reaped.Inc()
	}
}
