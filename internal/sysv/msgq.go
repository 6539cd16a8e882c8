package sysv

import (
	log "github.com/noc-os/ncruntime/pkg/minilog"

	"github.com/noc-os/ncruntime/internal/transport"
	"github.com/noc-os/ncruntime/pkg/ncproto"
)

// queuedMsg is one stored message (§4.8).
type queuedMsg struct {
	Type    int32
	Payload []byte
}

// msgWaiter is a blocking MSG_RECEIVE caller parked because no message in
// the queue satisfied its selection rule yet. portalPort is the port it is
// already reading from in the background, matching RMEM_READ's pattern.
type msgWaiter struct {
	w          waiter
	size       int32
	msgtyp     int32
	portalPort int32
}

// msgQueue is one SysV message queue.
type msgQueue struct {
	key     int32
	msgs    []queuedMsg
	waiters []msgWaiter
}

// selectMsg applies §4.8's selection rule: 0 picks the head, a positive
// msgtyp picks the first exact match, a negative msgtyp picks the first
// entry (in FIFO order) among those whose type is the lowest value <=
// |msgtyp|.
func selectMsg(msgs []queuedMsg, msgtyp int32) (int, bool) {
	if len(msgs) == 0 {
		return 0, false
	}
	switch {
	case msgtyp == 0:
		return 0, true
	case msgtyp > 0:
		for i, m := range msgs {
			if m.Type == msgtyp {
				return i, true
			}
		}
		return 0, false
	default:
		threshold := -msgtyp
		best := -1
		bestType := int32(0)
		for i, m := range msgs {
			if m.Type > threshold {
				continue
			}
			if best == -1 || m.Type < bestType {
				best, bestType = i, m.Type
			}
		}
		if best == -1 {
			return 0, false
		}
		return best, true
	}
}

func (s *Server) handleMsgGet(mb *transport.Mailbox, req *ncproto.Message) {
	body := req.Body.(ncproto.MsgGetRequest)

	id, ok := s.msgKeyToID[body.Key]
	if !ok {
		id = newHandle()
		s.msgByKey[body.Key] = &msgQueue{key: body.Key}
		s.msgById[id] = s.msgByKey[body.Key]
		s.msgKeyToID[body.Key] = id
	}

	s.conns.Connect(req.Header.SourcePid, req.Header.MailboxPort)
	s.metrics.msgGets.Inc()
	s.reply(mb, req, true, ncproto.Ret{ErrCode: ncproto.OK, IpcId: id})
}

func (s *Server) handleMsgClose(mb *transport.Mailbox, req *ncproto.Message) {
	body := req.Body.(ncproto.MsgCloseRequest)

	if _, ok := s.msgById[body.MsgId]; !ok {
		s.reply(mb, req, false, ncproto.Ret{ErrCode: ncproto.ENOENT})
		return
	}
	s.conns.Disconnect(req.Header.SourcePid, req.Header.MailboxPort)
	s.metrics.msgCloses.Inc()
	s.reply(mb, req, true, ncproto.Ret{ErrCode: ncproto.OK})
}

// handleMsgSend implements §4.8's two-phase MSG_SEND: allow the inbound
// portal, read exactly Size bytes, then either hand the message straight to
// a waiting MSG_RECEIVE caller or enqueue it. Open Question (ii)'s
// resolution: a failed or short portal read rolls back — the message is
// never enqueued, and the reply carries -EFAULT. The transport's own error
// is logged, not returned to the caller.
func (s *Server) handleMsgSend(mb *transport.Mailbox, req *ncproto.Message) {
	body := req.Body.(ncproto.MsgSendRequest)

	q, ok := s.msgById[body.MsgId]
	if !ok {
		s.reply(mb, req, false, ncproto.Ret{ErrCode: ncproto.ENOENT})
		return
	}

	portal := s.sub.PortalAllow(req.Header.SourceNode, req.Header.PortalPort)
	defer portal.Close()

	data, err := portal.Read(s.portalWait)
	if err != nil || int32(len(data)) != body.Size {
		log.Error("sysv: MSG_SEND portal read: %v", err)
		s.reply(mb, req, false, ncproto.Ret{ErrCode: ncproto.EFAULT})
		return
	}

	msg := queuedMsg{Type: body.Type, Payload: data}
	s.metrics.msgSends.Inc()

	if i, ok := s.findSatisfiedWaiter(q, msg); ok {
		mw := q.waiters[i]
		q.waiters = append(q.waiters[:i:i], q.waiters[i+1:]...)
		s.deliverToWaiter(mb, mw, msg)
	} else {
		q.msgs = append(q.msgs, msg)
	}
	s.reply(mb, req, true, ncproto.Ret{ErrCode: ncproto.OK})
}

// findSatisfiedWaiter looks for a parked MSG_RECEIVE that msg would satisfy:
// same selection rule as selectMsg, restricted to a single candidate
// message, plus an exact size match.
func (s *Server) findSatisfiedWaiter(q *msgQueue, msg queuedMsg) (int, bool) {
	if int32(len(msg.Payload)) == 0 {
		return 0, false
	}
	for i, mw := range q.waiters {
		if mw.size != int32(len(msg.Payload)) {
			continue
		}
		switch {
		case mw.msgtyp == 0:
			return i, true
		case mw.msgtyp > 0:
			if msg.Type == mw.msgtyp {
				return i, true
			}
		default:
			if msg.Type <= -mw.msgtyp {
				return i, true
			}
		}
	}
	return 0, false
}

// deliverToWaiter completes a blocked MSG_RECEIVE directly: portal-write the
// payload to the port it opened at request time, then send its deferred ACK.
func (s *Server) deliverToWaiter(mb *transport.Mailbox, mw msgWaiter, msg queuedMsg) {
	portal := s.sub.PortalOpen(mw.w.node, mw.portalPort)
	if err := portal.Write(msg.Payload, s.portalWait); err != nil {
		log.Error("sysv: delivering to parked MSG_RECEIVE: %v", err)
	}
	s.deferredReply(mb, mw.w, ncproto.SysvMsgReceive, true, ncproto.Ret{ErrCode: ncproto.OK})
	s.metrics.waitersWoken.Inc()
}

// handleMsgReceive implements §4.8's three-phase MSG_RECEIVE: (1) this
// request, (2) an ACK mailbox reply once a match is found, (3) the
// portal-write of the payload. The caller has already allowed its inbound
// portal on req.Header.PortalPort before sending the request (matching
// RMEM_READ's client-side pattern), so phases 2 and 3 can run in either
// order from the caller's perspective.
func (s *Server) handleMsgReceive(mb *transport.Mailbox, req *ncproto.Message) {
	body := req.Body.(ncproto.MsgReceiveRequest)

	q, ok := s.msgById[body.MsgId]
	if !ok {
		s.reply(mb, req, false, ncproto.Ret{ErrCode: ncproto.ENOENT})
		return
	}

	s.metrics.msgReceives.Inc()

	idx, found := selectMsg(q.msgs, body.Msgtyp)
	if found && int32(len(q.msgs[idx].Payload)) != body.Size {
		found = false
	}

	if found {
		msg := q.msgs[idx]
		q.msgs = append(q.msgs[:idx:idx], q.msgs[idx+1:]...)
		s.reply(mb, req, true, ncproto.Ret{ErrCode: ncproto.OK})
		portal := s.sub.PortalOpen(req.Header.SourceNode, req.Header.PortalPort)
		if err := portal.Write(msg.Payload, s.portalWait); err != nil {
			log.Error("sysv: MSG_RECEIVE portal write: %v", err)
		}
		return
	}

	if req.Header.Flags&ncproto.FlagNoWait != 0 {
		s.reply(mb, req, false, ncproto.Ret{ErrCode: ncproto.EAGAIN})
		return
	}

	q.waiters = append(q.waiters, msgWaiter{
		w:          waiter{node: req.Header.SourceNode, port: req.Header.MailboxPort, pid: req.Header.SourcePid},
		size:       body.Size,
		msgtyp:     body.Msgtyp,
		portalPort: req.Header.PortalPort,
	})
}
