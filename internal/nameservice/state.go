package nameservice

import (
	"sync"
	"time"

	"github.com/noc-os/ncruntime/pkg/ncpid"
	"github.com/noc-os/ncruntime/pkg/ncproto"
)

// ProcRecord is the Name Service's record of a live process (§3). Records
// are never explicitly destroyed by a client operation; they disappear
// either when the server shuts down or, per Design Note §9(iii), when the
// reaper evicts a stale heartbeat.
type ProcRecord struct {
	NodeNum         ncproto.NodeNum
	Pid             ncpid.Pid
	Gid             ncpid.Gid
	LastHeartbeatTS time.Time
	LoadAvg1        float64
	MemFreeKB       uint64
	live            bool
}

// NameRecord binds a human-readable name to a ProcRecord (§3). Created by
// LINK, destroyed by UNLINK once its refcount reaches zero.
type NameRecord struct {
	Name      string
	OwnerPid  ncpid.Pid
	OwnerPort int32
	Refcount  int
	ProcIndex int
	live      bool
}

// Registry is the Name Service's entire state: two fixed-size tables plus
// the monotonic pid counter, localized per Design Note §9 ("Global state as
// process-wide") into an explicit context object instead of the source's
// file-scope globals.
type Registry struct {
	// mu guards every field below. The server loop is otherwise its own
	// critical section (§5), but the heartbeat reaper (reaper.go) runs on
	// an independent cron goroutine and is the one concurrent writer, so
	// both sides take this lock around each access.
	mu sync.Mutex

	procs      []ProcRecord
	names      []NameRecord
	pidCounter int32

	heartbeatTTL time.Duration
}

// NewRegistry allocates a Registry sized per §3's PNAME_MAX ceiling (shared
// here by both tables, matching the source's single PNAME_MAX-sized arena).
func NewRegistry(capacity int, heartbeatTTL time.Duration) *Registry {
	return &Registry{
		procs:        make([]ProcRecord, capacity),
		names:        make([]NameRecord, capacity),
		heartbeatTTL: heartbeatTTL,
	}
}

func (r *Registry) findFreeProc() int {
	for i := range r.procs {
		if !r.procs[i].live {
			return i
		}
	}
	return -1
}

func (r *Registry) findFreeName() int {
	for i := range r.names {
		if !r.names[i].live {
			return i
		}
	}
	return -1
}

func (r *Registry) findProcByPid(pid ncpid.Pid) int {
	for i := range r.procs {
		if r.procs[i].live && r.procs[i].Pid == pid {
			return i
		}
	}
	return -1
}

func (r *Registry) findNameByName(name string) int {
	for i := range r.names {
		if r.names[i].live && r.names[i].Name == name {
			return i
		}
	}
	return -1
}

// Snapshot reports how many ProcRecord/NameRecord slots are currently live,
// for cmd/spawn0d's /stats route.
func (r *Registry) Snapshot() (liveProcs, liveNames int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.procs {
		if r.procs[i].live {
			liveProcs++
		}
	}
	for i := range r.names {
		if r.names[i].live {
			liveNames++
		}
	}
	return
}

// HostStat is one live process's most recent heartbeat host snapshot, for
// cmd/spawn0d's /heartbeats admin route.
type HostStat struct {
	Pid             ncpid.Pid
	NodeNum         ncproto.NodeNum
	LastHeartbeatTS time.Time
	LoadAvg1        float64
	MemFreeKB       uint64
}

// HostSnapshot reports the load/mem snapshot attached to every live
// process's last heartbeat.
func (r *Registry) HostSnapshot() []HostStat {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := make([]HostStat, 0, len(r.procs))
	for i := range r.procs {
		if !r.procs[i].live {
			continue
		}
		stats = append(stats, HostStat{
			Pid:             r.procs[i].Pid,
			NodeNum:         r.procs[i].NodeNum,
			LastHeartbeatTS: r.procs[i].LastHeartbeatTS,
			LoadAvg1:        r.procs[i].LoadAvg1,
			MemFreeKB:       r.procs[i].MemFreeKB,
		})
	}
	return stats
}

// validateName implements §4.2's validation rule: non-empty, strictly
// shorter than PROC_NAME_MAX, and not an all-0x01 "overlong" probe buffer
// (the source uses 0x01-filled buffers to exercise the overlong path).
func validateName(name string) bool {
	if len(name) == 0 || len(name) >= ncproto.ProcNameMax {
		return false
	}
	allOnes := true
	for i := 0; i < len(name); i++ {
		if name[i] != 0x01 {
			allOnes = false
			break
		}
	}
	return !allOnes
}
