// Package sysvstub is the System V IPC Service client stub (§4.7-4.9): a
// synchronous API over the unified daemon, mirroring internal/namestub's
// persistent-mailbox lifecycle.
package sysvstub

import (
	"fmt"
	"sync"
	"time"

	"github.com/noc-os/ncruntime/internal/topology"
	"github.com/noc-os/ncruntime/internal/transport"
	"github.com/noc-os/ncruntime/pkg/ncpid"
	"github.com/noc-os/ncruntime/pkg/ncproto"
)

// Stub is one process's handle to the unified SysV daemon. It keeps a
// single persistent outbound mailbox, reused for every call.
type Stub struct {
	sub  *transport.Substrate
	node ncproto.NodeNum
	port int32
	pid  ncpid.Pid

	mu sync.Mutex
	mb *transport.Mailbox
}

// New opens the caller's one persistent outbound mailbox to the unified
// SysV daemon. pid is the caller's Name Service pid, carried on every
// request's Header.SourcePid so the daemon's connection table and
// SHM-invalidation broadcasts can recover the caller's node.
//
// The mailbox is opened once and kept for the Stub's lifetime rather than
// reopened per call: internal/connections.Table keys each Connect/
// Disconnect pair on (SourcePid, MailboxPort), and ShmOpen/ShmClose
// (internal/sysv/shm.go) require that pair to match across the two calls,
// which a fresh mailbox per round trip could never guarantee since every
// MailboxOpen hands out a new ephemeral port.
func New(sub *transport.Substrate, pid ncpid.Pid) (*Stub, error) {
	mb, err := sub.MailboxOpen(topology.SysVNode, topology.SysVPort)
	if err != nil {
		return nil, err
	}
	return &Stub{
		sub:  sub,
		node: topology.SysVNode,
		port: topology.SysVPort,
		pid:  pid,
		mb:   mb,
	}, nil
}

// Close releases the stub's persistent mailbox.
func (s *Stub) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mb.Close()
}

func (s *Stub) roundTrip(opcode ncproto.Opcode, body interface{}, flags uint8) (ncproto.Ret, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req := &ncproto.Message{
		Header: ncproto.Header{Opcode: opcode, SourcePid: s.pid, MailboxPort: s.mb.LocalPort(), Flags: flags},
		Body:   body,
	}
	if err := s.mb.Write(s.node, s.port, req); err != nil {
		return ncproto.Ret{}, err
	}

	reply, err := s.mb.Read(10 * time.Second)
	if err != nil {
		return ncproto.Ret{}, err
	}

	ret, ok := reply.Body.(ncproto.Ret)
	if !ok {
		return ncproto.Ret{}, fmt.Errorf("sysvstub: unexpected reply body %T", reply.Body)
	}
	if !reply.Header.Opcode.Succeeded() {
		return ret, ret.ErrCode.Err()
	}
	return ret, nil
}

// ShmCreate creates a new named shared-memory region of sizeBlocks RMem
// blocks, returning its ipcid.
func (s *Stub) ShmCreate(name string, sizeBlocks int32) (int32, error) {
	ret, err := s.roundTrip(ncproto.SysvShmCreate, ncproto.ShmCreateRequest{Name: name, SizeBlocks: sizeBlocks}, ncproto.FlagNone)
	return ret.IpcId, err
}

// ShmOpen attaches to an existing named region, returning its ipcid.
func (s *Stub) ShmOpen(name string) (int32, error) {
	ret, err := s.roundTrip(ncproto.SysvShmOpen, ncproto.ShmOpenRequest{Name: name}, ncproto.FlagNone)
	return ret.IpcId, err
}

// ShmClose detaches from a region.
func (s *Stub) ShmClose(ipcId int32) error {
	_, err := s.roundTrip(ncproto.SysvShmClose, ncproto.ShmCloseRequest{IpcId: ipcId}, ncproto.FlagNone)
	return err
}

// ShmUnlink removes a region's name, preventing further ShmOpen calls.
func (s *Stub) ShmUnlink(name string) error {
	_, err := s.roundTrip(ncproto.SysvShmUnlink, ncproto.ShmUnlinkRequest{Name: name}, ncproto.FlagNone)
	return err
}

// ShmFtruncate resizes a region to size blocks.
func (s *Stub) ShmFtruncate(ipcId, size int32) error {
	_, err := s.roundTrip(ncproto.SysvShmFtruncate, ncproto.ShmFtruncateRequest{IpcId: ipcId, Size: size}, ncproto.FlagNone)
	return err
}

// ShmInval broadcasts an invalidation notice for page of region ipcId to
// every connected peer's snooper mailbox.
func (s *Stub) ShmInval(ipcId, page int32) error {
	_, err := s.roundTrip(ncproto.SysvShmInval, ncproto.ShmInvalRequest{IpcId: ipcId, Page: page}, ncproto.FlagNone)
	return err
}

// MsgGet gets or creates a message queue for key, returning its msgid.
func (s *Stub) MsgGet(key int32) (int32, error) {
	ret, err := s.roundTrip(ncproto.SysvMsgGet, ncproto.MsgGetRequest{Key: key}, ncproto.FlagNone)
	return ret.IpcId, err
}

// MsgClose releases the caller's reference to msgid.
func (s *Stub) MsgClose(msgId int32) error {
	_, err := s.roundTrip(ncproto.SysvMsgClose, ncproto.MsgCloseRequest{MsgId: msgId}, ncproto.FlagNone)
	return err
}

// MsgSend enqueues payload with the given type onto msgId, coordinating
// the one-shot portal transfer alongside the mailbox round trip over the
// stub's persistent mailbox.
func (s *Stub) MsgSend(msgId, typ int32, payload []byte, noWait bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	portalPort := s.mb.LocalPort()
	sender := s.sub.PortalOpen(s.node, portalPort)
	errCh := make(chan error, 1)
	go func() { errCh <- sender.Write(payload, 10*time.Second) }()

	var flags uint8
	if noWait {
		flags = ncproto.FlagNoWait
	}
	req := &ncproto.Message{
		Header: ncproto.Header{Opcode: ncproto.SysvMsgSend, SourcePid: s.pid, MailboxPort: s.mb.LocalPort(), PortalPort: portalPort, Flags: flags},
		Body:   ncproto.MsgSendRequest{MsgId: msgId, Type: typ, Size: int32(len(payload))},
	}
	if err := s.mb.Write(s.node, s.port, req); err != nil {
		return err
	}
	if err := <-errCh; err != nil {
		return err
	}

	reply, err := s.mb.Read(10 * time.Second)
	if err != nil {
		return err
	}
	if !reply.Header.Opcode.Succeeded() {
		return reply.Body.(ncproto.Ret).ErrCode.Err()
	}
	return nil
}

// MsgReceive dequeues a message matching msgtyp (§4.8's three-way rule) of
// exactly size bytes, preallocating its inbound portal before sending the
// request exactly like rmemstub.Stub.Read.
func (s *Stub) MsgReceive(msgId, size, msgtyp int32, noWait bool) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	portalPort := s.mb.LocalPort()
	recvPortal := s.sub.PortalAllow(s.node, portalPort)

	var flags uint8
	if noWait {
		flags = ncproto.FlagNoWait
	}
	req := &ncproto.Message{
		Header: ncproto.Header{Opcode: ncproto.SysvMsgReceive, SourcePid: s.pid, MailboxPort: s.mb.LocalPort(), PortalPort: portalPort, Flags: flags},
		Body:   ncproto.MsgReceiveRequest{MsgId: msgId, Size: size, Msgtyp: msgtyp},
	}
	if err := s.mb.Write(s.node, s.port, req); err != nil {
		return nil, err
	}

	payload, err := recvPortal.Read(10 * time.Second)
	if err != nil {
		return nil, err
	}

	reply, err := s.mb.Read(10 * time.Second)
	if err != nil {
		return nil, err
	}
	if !reply.Header.Opcode.Succeeded() {
		return nil, reply.Body.(ncproto.Ret).ErrCode.Err()
	}
	return payload, nil
}

// SemGet gets or creates a semaphore for key, returning its semid.
func (s *Stub) SemGet(key int32) (int32, error) {
	ret, err := s.roundTrip(ncproto.SysvSemGet, ncproto.SemGetRequest{Key: key}, ncproto.FlagNone)
	return ret.IpcId, err
}

// SemClose releases the caller's reference to semid.
func (s *Stub) SemClose(semId int32) error {
	_, err := s.roundTrip(ncproto.SysvSemClose, ncproto.SemCloseRequest{SemId: semId}, ncproto.FlagNone)
	return err
}

// SemOperate applies op to semId (§4.9's tri-state semop), blocking unless
// noWait is set.
func (s *Stub) SemOperate(semId int32, op ncproto.Sembuf, noWait bool) error {
	var flags uint8
	if noWait {
		flags = ncproto.FlagNoWait
	}
	_, err := s.roundTrip(ncproto.SysvSemOperate, ncproto.SemOperateRequest{SemId: semId, Op: op}, flags)
	return err
}

// Shutdown sends SYSV_EXIT, asking the daemon to wake every parked waiter
// and break its loop.
func (s *Stub) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	req := &ncproto.Message{Header: ncproto.Header{Opcode: ncproto.SysvExit, SourcePid: s.pid}}
	return s.mb.Write(s.node, s.port, req)
}
