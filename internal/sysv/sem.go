package sysv

import (
	"github.com/noc-os/ncruntime/internal/transport"
	"github.com/noc-os/ncruntime/pkg/ncproto"
)

// semWaiter is a SEM_OPERATE caller parked on an unsatisfiable op.
type semWaiter struct {
	w  waiter
	op ncproto.Sembuf
}

// semaphore is one SysV semaphore (§4.9): a single integer value plus a FIFO
// queue of blocked operations.
type semaphore struct {
	key     int32
	waiters []semWaiter
	value   int32
}

// semResult is the tri-state §4.9 describes: 0 = applied synchronously,
// 1 = caller must block, -1 = immediate failure.
type semResult int

const (
	semApplied semResult = 0
	semBlock   semResult = 1
	semFail    semResult = -1
)

// apply tries op against the semaphore's current value. It never mutates
// sem.value on semBlock or semFail.
func (sem *semaphore) apply(op ncproto.Sembuf, noWait bool) semResult {
	switch {
	case op.Op > 0:
		sem.value += op.Op
		return semApplied
	case op.Op == 0:
		if sem.value == 0 {
			return semApplied
		}
		if noWait {
			return semFail
		}
		return semBlock
	default: // op.Op < 0
		if sem.value+op.Op >= 0 {
			sem.value += op.Op
			return semApplied
		}
		if noWait {
			return semFail
		}
		return semBlock
	}
}

// satisfiable reports whether op could apply right now, without mutating
// sem.value — used to scan the wait queue without side effects until a
// waiter is actually chosen.
func (sem *semaphore) satisfiable(op ncproto.Sembuf) bool {
	switch {
	case op.Op > 0:
		return true
	case op.Op == 0:
		return sem.value == 0
	default:
		return sem.value+op.Op >= 0
	}
}

func (s *Server) handleSemGet(mb *transport.Mailbox, req *ncproto.Message) {
	body := req.Body.(ncproto.SemGetRequest)

	id, ok := s.semKeyToID[body.Key]
	if !ok {
		id = newHandle()
		s.semByKey[body.Key] = &semaphore{key: body.Key}
		s.semById[id] = s.semByKey[body.Key]
		s.semKeyToID[body.Key] = id
	}

	s.conns.Connect(req.Header.SourcePid, req.Header.MailboxPort)
	s.metrics.semGets.Inc()
	s.reply(mb, req, true, ncproto.Ret{ErrCode: ncproto.OK, IpcId: id})
}

func (s *Server) handleSemClose(mb *transport.Mailbox, req *ncproto.Message) {
	body := req.Body.(ncproto.SemCloseRequest)

	if _, ok := s.semById[body.SemId]; !ok {
		s.reply(mb, req, false, ncproto.Ret{ErrCode: ncproto.ENOENT})
		return
	}
	s.conns.Disconnect(req.Header.SourcePid, req.Header.MailboxPort)
	s.metrics.semCloses.Inc()
	s.reply(mb, req, true, ncproto.Ret{ErrCode: ncproto.OK})
}

// handleSemOperate implements §4.9's tri-state handler: reply now on
// semApplied/semFail, park the caller with no reply on semBlock.
func (s *Server) handleSemOperate(mb *transport.Mailbox, req *ncproto.Message) {
	body := req.Body.(ncproto.SemOperateRequest)

	sem, ok := s.semById[body.SemId]
	if !ok {
		s.reply(mb, req, false, ncproto.Ret{ErrCode: ncproto.EINVAL})
		return
	}

	noWait := req.Header.Flags&ncproto.FlagNoWait != 0
	s.metrics.semOperates.Inc()

	switch sem.apply(body.Op, noWait) {
	case semApplied:
		s.reply(mb, req, true, ncproto.Ret{ErrCode: ncproto.OK})
		s.wakeSemWaiters(mb, sem)
	case semFail:
		s.reply(mb, req, false, ncproto.Ret{ErrCode: ncproto.EAGAIN})
	case semBlock:
		sem.waiters = append(sem.waiters, semWaiter{
			w:  waiter{node: req.Header.SourceNode, port: req.Header.MailboxPort, pid: req.Header.SourcePid},
			op: body.Op,
		})
	}
}

// wakeSemWaiters services every waiter it can after sem.value changes,
// always preferring the earliest satisfiable entry in FIFO order (§4.9: "the
// next satisfiable waiter in FIFO order"), repeating until a full pass finds
// nothing more to wake.
func (s *Server) wakeSemWaiters(mb *transport.Mailbox, sem *semaphore) {
	for {
		woke := false
		for i, sw := range sem.waiters {
			if !sem.satisfiable(sw.op) {
				continue
			}
			sem.value += sw.op.Op
			sem.waiters = append(sem.waiters[:i:i], sem.waiters[i+1:]...)
			s.deferredReply(mb, sw.w, ncproto.SysvSemOperate, true, ncproto.Ret{ErrCode: ncproto.OK})
			s.metrics.waitersWoken.Inc()
			woke = true
			break
		}
		if !woke {
			return
		}
	}
}
