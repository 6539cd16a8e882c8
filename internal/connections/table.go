// Package connections implements the SysV connection table (§4.10): a
// reference-counted association between a client (pid, port) and a server,
// shared by the shared-memory, message-queue and semaphore services
// (§4.7-4.9 call the server "unified").
package connections

import (
	"sync"

	"github.com/noc-os/ncruntime/pkg/ncpid"
)

// Connection is one client's reference-counted attachment (§3).
type Connection struct {
	RemotePid  ncpid.Pid
	RemotePort int32
	Refcount   int
}

// Table is the linear array §9's Design Note calls "adequate at small N";
// a hash table keyed on (pid, port) would have identical semantics if N
// grows, which is why every method here is expressed purely in terms of
// Connect/Disconnect/Lookup/Snapshot rather than array indices leaking out.
type Table struct {
	mu    sync.Mutex
	conns []Connection
}

func NewTable() *Table {
	return &Table{}
}

func (t *Table) find(pid ncpid.Pid, port int32) int {
	for i := range t.conns {
		if t.conns[i].Refcount > 0 && t.conns[i].RemotePid == pid && t.conns[i].RemotePort == port {
			return i
		}
	}
	return -1
}

// Connect increments the refcount for (pid, port), inserting a new record
// if none exists yet.
func (t *Table) Connect(pid ncpid.Pid, port int32) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if i := t.find(pid, port); i >= 0 {
		t.conns[i].Refcount++
		return
	}

	for i := range t.conns {
		if t.conns[i].Refcount == 0 {
			t.conns[i] = Connection{RemotePid: pid, RemotePort: port, Refcount: 1}
			return
		}
	}
	t.conns = append(t.conns, Connection{RemotePid: pid, RemotePort: port, Refcount: 1})
}

// Disconnect decrements the refcount for (pid, port), clearing the record
// on reaching zero. A no-op if no matching connection exists.
func (t *Table) Disconnect(pid ncpid.Pid, port int32) {
	t.mu.Lock()
	defer t.mu.Unlock()

	i := t.find(pid, port)
	if i < 0 {
		return
	}
	t.conns[i].Refcount--
	if t.conns[i].Refcount <= 0 {
		t.conns[i] = Connection{}
	}
}

// Lookup returns the matching connection and true, or false if none exists.
func (t *Table) Lookup(pid ncpid.Pid, port int32) (Connection, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	i := t.find(pid, port)
	if i < 0 {
		return Connection{}, false
	}
	return t.conns[i], true
}

// Snapshot returns every live (refcount > 0) connection, driving SHM
// invalidation broadcasts (§4.7).
func (t *Table) Snapshot() []Connection {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Connection, 0, len(t.conns))
	for _, c := range t.conns {
		if c.Refcount > 0 {
			out = append(out, c)
		}
	}
	return out
}
