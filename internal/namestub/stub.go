// Package namestub is the Name Service client stub (§4.3): a synchronous
// API plus a task-graph async variant (async.go) for latency-sensitive
// lookup/heartbeat callers.
package namestub

import (
	"fmt"
	"sync"
	"time"

	"github.com/noc-os/ncruntime/internal/topology"
	"github.com/noc-os/ncruntime/internal/transport"
	"github.com/noc-os/ncruntime/pkg/ncpid"
	"github.com/noc-os/ncruntime/pkg/ncproto"
)

// Stub is one process's handle to the Name Service. It owns the pid
// assigned by Setpid, the transport substrate used to reach the server, and
// a single persistent outbound mailbox reused by every call.
type Stub struct {
	sub  *transport.Substrate
	node ncproto.NodeNum
	port int32
	pid  ncpid.Pid

	mu sync.Mutex
	mb *transport.Mailbox
}

// New opens the process's one persistent outbound mailbox to the Name
// Service and reuses it for every subsequent call, mirroring the source's
// __nanvix_name_setup(), which opens the client's Name-Service mailbox once
// and keeps it for the process's lifetime. A re-LINK or UNLINK must be
// issued from the same (pid, port) as the original LINK (§4.2's
// "the requester matches its (pid, port)"), which a fresh mailbox per call
// could never satisfy since every MailboxOpen hands out a new ephemeral
// port.
func New(sub *transport.Substrate) (*Stub, error) {
	mb, err := sub.MailboxOpen(topology.NameServiceNode, topology.NameServicePort)
	if err != nil {
		return nil, err
	}
	return &Stub{
		sub:  sub,
		node: topology.NameServiceNode,
		port: topology.NameServicePort,
		pid:  ncpid.Null,
		mb:   mb,
	}, nil
}

// Close releases the stub's persistent mailbox.
func (s *Stub) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mb.Close()
}

// roundTrip performs one mailbox request/reply against the Name Service
// over the stub's persistent mailbox, shared by every synchronous
// operation. The mutex serializes callers so a request's reply can never be
// read by a different goroutine's call. Failure policy per §4.3: any
// kernel-transport error returns unchanged to the caller; short I/O would
// surface the same way since Mailbox.Write/Read already return an error for
// it rather than a short count.
func (s *Stub) roundTrip(opcode ncproto.Opcode, body interface{}) (ncproto.Ret, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req := &ncproto.Message{
		Header: ncproto.Header{Opcode: opcode, SourcePid: s.pid, MailboxPort: s.mb.LocalPort()},
		Body:   body,
	}
	if err := s.mb.Write(s.node, s.port, req); err != nil {
		return ncproto.Ret{}, err
	}

	reply, err := s.mb.Read(5 * time.Second)
	if err != nil {
		return ncproto.Ret{}, err
	}

	ret, ok := reply.Body.(ncproto.Ret)
	if !ok {
		return ncproto.Ret{}, fmt.Errorf("namestub: unexpected reply body %T", reply.Body)
	}
	if !reply.Header.Opcode.Succeeded() {
		return ret, ret.ErrCode.Err()
	}
	return ret, nil
}

// Setpid registers the caller with the Name Service and remembers the
// assigned pid for every subsequent call.
func (s *Stub) Setpid() (ncpid.Pid, error) {
	ret, err := s.roundTrip(ncproto.NameSetpid, ncproto.SetpidRequest{})
	if err != nil {
		return ncpid.Null, err
	}
	s.pid = ret.ProcInfo.Pid
	return s.pid, nil
}

// Getpid returns the pid obtained by the most recent Setpid call, or
// ncpid.Null if none has been made yet.
func (s *Stub) Getpid() ncpid.Pid { return s.pid }

// Link registers name for the caller's pid (NAME_LINK).
func (s *Stub) Link(name string) error {
	_, err := s.roundTrip(ncproto.NameLink, ncproto.LinkRequest{Name: name, Pid: s.pid})
	return err
}

// Unlink drops one reference to name (NAME_UNLINK).
func (s *Stub) Unlink(name string) error {
	_, err := s.roundTrip(ncproto.NameUnlink, ncproto.UnlinkRequest{Name: name})
	return err
}

// Lookup resolves name to a (pid, nodenum) pair (NAME_LOOKUP by name).
func (s *Stub) Lookup(name string) (ncproto.ProcInfo, error) {
	ret, err := s.roundTrip(ncproto.NameLookup, ncproto.LookupRequest{Name: name, Pid: ncpid.Null})
	return ret.ProcInfo, err
}

// Lookup2 resolves a known pid to its (pid, nodenum) pair — the search-by-pid
// variant of NAME_LOOKUP the source names name_lookup2.
func (s *Stub) Lookup2(pid ncpid.Pid) (ncproto.ProcInfo, error) {
	ret, err := s.roundTrip(ncproto.NameLookup, ncproto.LookupRequest{Pid: pid})
	return ret.ProcInfo, err
}

// Heartbeat reports liveness (NAME_ALIVE). The opcode carries no reply per
// §4.2, so this sends without waiting for one.
func (s *Stub) Heartbeat() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	loadAvg1, memFreeKB := hostSnapshot()
	req := &ncproto.Message{
		Header: ncproto.Header{Opcode: ncproto.NameAlive, SourcePid: s.pid, MailboxPort: s.mb.LocalPort()},
		Body:   ncproto.AliveRequest{Timestamp: time.Now().UnixNano(), LoadAvg1: loadAvg1, MemFreeKB: memFreeKB},
	}
	return s.mb.Write(s.node, s.port, req)
}

// Setpgid assigns pid to group pgid (NAME_SETPGID).
func (s *Stub) Setpgid(pid ncpid.Pid, pgid ncpid.Gid) error {
	_, err := s.roundTrip(ncproto.NameSetpgid, ncproto.SetpgidRequest{Pid: pid, Pgid: pgid})
	return err
}

// Getpgid queries pid's current group (NAME_GETPGID).
func (s *Stub) Getpgid(pid ncpid.Pid) (ncpid.Gid, error) {
	ret, err := s.roundTrip(ncproto.NameGetpgid, ncproto.GetpgidRequest{Pid: pid})
	return ret.Gid, err
}

// GroupMembers enumerates every pid currently in gid (supplemented
// operation, SPEC_FULL §4.2-4.3).
func (s *Stub) GroupMembers(gid ncpid.Gid) ([]ncpid.Pid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req := &ncproto.Message{
		Header: ncproto.Header{Opcode: ncproto.NameGroupMembers, SourcePid: s.pid, MailboxPort: s.mb.LocalPort()},
		Body:   ncproto.GroupMembersRequest{Gid: gid},
	}
	if err := s.mb.Write(s.node, s.port, req); err != nil {
		return nil, err
	}

	reply, err := s.mb.Read(5 * time.Second)
	if err != nil {
		return nil, err
	}
	body, ok := reply.Body.(ncproto.GroupMembersReply)
	if !ok {
		return nil, fmt.Errorf("namestub: unexpected reply body %T", reply.Body)
	}
	return body.Members, body.ErrCode.Err()
}

// Shutdown sends NAME_EXIT, asking the server to break its loop.
func (s *Stub) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	req := &ncproto.Message{Header: ncproto.Header{Opcode: ncproto.NameExit, SourcePid: s.pid}}
	return s.mb.Write(s.node, s.port, req)
}
