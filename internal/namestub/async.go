package namestub

import (
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/noc-os/ncruntime/internal/task"
	"github.com/noc-os/ncruntime/internal/transport"
	"github.com/noc-os/ncruntime/pkg/ncpid"
	"github.com/noc-os/ncruntime/pkg/ncproto"
)

// AsyncStub is the task-based async variant of Stub for lookup and
// heartbeat (§4.3). It keeps its own pair of persistent outbound mailbox
// handles so an in-flight async heartbeat can never collide with a
// synchronous call (which reuses its own persistent mailbox, see stub.go)
// or with an async lookup sharing this same Stub — the "three distinct
// outbound mailbox handles" the source requires.
//
// Design Note §9 replaces the source's mutable task struct + busy flag
// with a cooperative task graph (internal/task) whose terminal Future the
// caller may Wait on. Open Question (iv) is resolved here in favor of
// collapsing concurrent callers onto the one in-flight request via
// singleflight.Group, rather than failing them outright — a second caller
// for the same name gets the first caller's answer instead of an error.
// Lookups for different names are serialized by lookupMu, so at most one
// lookup request is on the wire at a time.
type AsyncStub struct {
	*Stub

	lookupMB    *transport.Mailbox
	heartbeatMB *transport.Mailbox

	lookupGroup    singleflight.Group
	heartbeatGroup singleflight.Group
	lookupMu       sync.Mutex
}

// NewAsync wraps stub with the two extra persistent mailbox handles the
// async path needs.
func NewAsync(stub *Stub) (*AsyncStub, error) {
	lookupMB, err := stub.sub.MailboxOpen(stub.node, stub.port)
	if err != nil {
		return nil, err
	}
	heartbeatMB, err := stub.sub.MailboxOpen(stub.node, stub.port)
	if err != nil {
		lookupMB.Close()
		return nil, err
	}

	return &AsyncStub{Stub: stub, lookupMB: lookupMB, heartbeatMB: heartbeatMB}, nil
}

// Close releases both persistent mailbox handles.
func (a *AsyncStub) Close() error {
	a.lookupMB.Close()
	a.heartbeatMB.Close()
	return nil
}

// LookupAsync dispatches a single-stage task graph for NAME_LOOKUP and
// returns a Future the caller may Wait on. The one stage writes the request
// and reads the reply; there are no separate read_reply or
// release_handles_and_clear_busy stages, since the mailbox stays open and
// there is no busy flag. A concurrent LookupAsync call for the same name
// gets its own Future but shares this call's in-flight request and result
// instead of being rejected.
func (a *AsyncStub) LookupAsync(name string) *task.Future {
	f := task.NewGraph(
		func() (interface{}, error) {
			result, err, _ := a.lookupGroup.Do(name, func() (interface{}, error) {
				return a.doLookup(name)
			})
			return result, err
		},
	).Dispatch()
	return f
}

func (a *AsyncStub) doLookup(name string) (ncproto.ProcInfo, error) {
	a.lookupMu.Lock()
	defer a.lookupMu.Unlock()

	req := &ncproto.Message{
		Header: ncproto.Header{Opcode: ncproto.NameLookup, SourcePid: a.pid, MailboxPort: a.lookupMB.LocalPort()},
		Body:   ncproto.LookupRequest{Name: name, Pid: ncpid.Null},
	}
	if err := a.lookupMB.Write(a.node, a.port, req); err != nil {
		return ncproto.ProcInfo{}, err
	}

	reply, err := a.lookupMB.Read(5 * time.Second)
	if err != nil {
		return ncproto.ProcInfo{}, err
	}

	ret := reply.Body.(ncproto.Ret)
	if !reply.Header.Opcode.Succeeded() {
		return ncproto.ProcInfo{}, ret.ErrCode.Err()
	}
	return ret.ProcInfo, nil
}

// HeartbeatAsync dispatches an async NAME_ALIVE. Since the opcode carries
// no reply, the task graph collapses to a single write_request stage, but
// still goes through the same singleflight-guarded in-flight ceiling so a
// burst of HeartbeatAsync calls sends one message on the wire rather than
// one per caller.
func (a *AsyncStub) HeartbeatAsync() *task.Future {
	f := task.NewGraph(
		func() (interface{}, error) {
			_, err, _ := a.heartbeatGroup.Do("heartbeat", func() (interface{}, error) {
				return nil, a.doHeartbeat()
			})
			return nil, err
		},
	).Dispatch()
	return f
}

func (a *AsyncStub) doHeartbeat() error {
	loadAvg1, memFreeKB := hostSnapshot()
	req := &ncproto.Message{
		Header: ncproto.Header{Opcode: ncproto.NameAlive, SourcePid: a.pid, MailboxPort: a.heartbeatMB.LocalPort()},
		Body:   ncproto.AliveRequest{Timestamp: time.Now().UnixNano(), LoadAvg1: loadAvg1, MemFreeKB: memFreeKB},
	}
	return a.heartbeatMB.Write(a.node, a.port, req)
}
