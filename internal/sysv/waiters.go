// Package sysv implements the System V IPC Service (§4.7-4.9): shared
// memory regions backed by RMem blocks, message queues, and semaphores,
// behind one unified request loop and one shared connection table.
package sysv

import (
	"github.com/noc-os/ncruntime/internal/transport"
	log "github.com/noc-os/ncruntime/pkg/minilog"
	"github.com/noc-os/ncruntime/pkg/ncpid"
	"github.com/noc-os/ncruntime/pkg/ncproto"
)

// waiter identifies a caller parked on a deferred reply: the SEM_OPERATE
// blocking path (§4.9) and the blocking MSG_RECEIVE path (§4.8, generalizing
// the same mechanism per the Open Question (ii)/(iv) resolution) both park
// one of these instead of replying immediately.
type waiter struct {
	node ncproto.NodeNum
	port int32
	pid  ncpid.Pid
}

// deferredReply sends a reply to a parked waiter's saved mailbox address,
// using the server's own stdinbox handle. The waiter never learns its reply
// was delayed; from its kmailbox_read, this looks identical to a prompt one.
func (s *Server) deferredReply(mb *transport.Mailbox, w waiter, opcode ncproto.Opcode, ok bool, ret ncproto.Ret) {
	reply := &ncproto.Message{
		Header: ncproto.Header{Opcode: opcode.Reply(ok)},
		Body:   ret,
	}
	if err := mb.Write(w.node, w.port, reply); err != nil {
		log.Error("sysv: deferred reply to node %v port %v: %v", w.node, w.port, err)
	}
}

// wakeAllWaiters answers every still-blocked semaphore and message-queue
// waiter with -ESHUTDOWN (Open Question (i)'s resolution), so SYSV_EXIT
// never leaves a client stub parked on a mailbox read forever.
func (s *Server) wakeAllWaiters(mb *transport.Mailbox) {
	for _, sem := range s.semById {
		for _, sw := range sem.waiters {
			s.deferredReply(mb, sw.w, ncproto.SysvSemOperate, false, ncproto.Ret{ErrCode: ncproto.ESHUTDOWN})
		}
		sem.waiters = nil
	}
	for _, q := range s.msgById {
		for _, mw := range q.waiters {
			s.deferredReply(mb, mw.w, ncproto.SysvMsgReceive, false, ncproto.Ret{ErrCode: ncproto.ESHUTDOWN})
		}
		q.waiters = nil
	}
}
