package transport

import (
	"sync"
	"time"

	"github.com/noc-os/ncruntime/pkg/ncproto"
)

// Mailbox is a fixed-MTU, request/reply message channel bound to a local
// port (§6: mailbox_open/read/write/close, stdinbox_get). A Mailbox
// obtained via StdinboxGet receives from any peer that addresses its port;
// one obtained via MailboxOpen records the peer it was opened for, though
// Write sends to whatever destination it is given. The Name Service and
// SysV stubs keep one such handle open across calls; the RMem stub opens
// one per call.
type Mailbox struct {
	sub       *Substrate
	localPort int32
	peer      NodeNum
	bound     bool // true for a handle obtained via MailboxOpen
	inbox     chan *ncproto.Message

	closeOnce sync.Once
}

var ephemeralPort int32 = 1 << 20

func nextEphemeralPort() int32 {
	ephemeralPort++
	return ephemeralPort
}

// StdinboxGet registers the calling task's well-known inbound mailbox at
// port, matching the kernel primitive of the same name: a server's request
// loop reads from this handle forever.
func (s *Substrate) StdinboxGet(port int32) (*Mailbox, error) {
	mb := &Mailbox{sub: s, localPort: port, inbox: make(chan *ncproto.Message, 256)}
	s.mailboxLock.Lock()
	s.mailboxes[port] = mb
	s.mailboxLock.Unlock()
	return mb, nil
}

// MailboxOpen opens an outbound mailbox to (peer, peerPort). The returned
// handle also owns a fresh local ephemeral port so replies addressed back
// to it can be read with Read.
func (s *Substrate) MailboxOpen(peer NodeNum, peerPort int32) (*Mailbox, error) {
	local := nextEphemeralPort()
	mb := &Mailbox{sub: s, localPort: local, peer: peer, bound: true, inbox: make(chan *ncproto.Message, 8)}
	s.mailboxLock.Lock()
	s.mailboxes[local] = mb
	s.mailboxLock.Unlock()
	_ = peerPort // caller passes it again to each Write as destPort
	return mb, nil
}

// Write sends msg to (dest, destPort). destPort is purely a routing
// instruction: which local mailbox on dest should receive this frame. It is
// carried on the frame itself, not on msg.Header — msg.Header.MailboxPort is
// application-level data the caller sets (typically "reply to me here") and
// Write never touches it. Only SourceNode is stamped, with this substrate's
// identity.
func (m *Mailbox) Write(dest NodeNum, destPort int32, msg *ncproto.Message) error {
	msg.Header.SourceNode = m.sub.self

	f := &frame{
		Command:  cmdMSG,
		Source:   m.sub.self,
		Dest:     dest,
		DestPort: destPort,
		Seq:      m.sub.nextSeq(),
		Msg:      msg,
	}
	return m.sub.route(dest, f)
}

// Read blocks until a message arrives for this mailbox or timeout elapses.
func (m *Mailbox) Read(timeout time.Duration) (*ncproto.Message, error) {
	select {
	case msg, ok := <-m.inbox:
		if !ok {
			return nil, errClosed
		}
		return msg, nil
	case <-time.After(timeout):
		return nil, errTimeout
	}
}

// Close releases the mailbox's local port.
func (m *Mailbox) Close() error {
	m.closeOnce.Do(func() {
		m.sub.mailboxLock.Lock()
		delete(m.sub.mailboxes, m.localPort)
		close(m.inbox)
		m.sub.mailboxLock.Unlock()
	})
	return nil
}

// LocalPort reports the port this handle is reachable at, for stamping
// into an outgoing request's Header.MailboxPort so the server knows where
// to send the reply.
func (m *Mailbox) LocalPort() int32 { return m.localPort }
