package transport

import (
	"sync"
	"time"
)

type portalState int

const (
	portalWritable portalState = iota // opened by the sender, nothing sent yet
	portalAllowed                     // opened by the receiver, Allow has been issued
	portalClosed
)

// Portal is a one-shot, arbitrary-length bulk channel (§4.1/§9). The
// receiver must Allow before the sender's Write is accepted; each Portal
// value is good for exactly one transfer and then must be Closed. The
// typestate is enforced here so misuse (writing before the peer allowed,
// writing twice, reading without allowing) returns an error instead of
// corrupting the stream — the Go-level answer to Design Note §9's
// "typestate on the portal handle".
type Portal struct {
	sub   *Substrate
	peer  NodeNum
	port  int32
	state portalState

	mu   sync.Mutex
	data chan []byte
}

// PortalOpen returns a sender-side handle for a one-shot transfer to peer
// on port. Write blocks until the peer calls Allow for the same (us, port)
// pair, or until timeout elapses.
func (s *Substrate) PortalOpen(peer NodeNum, port int32) *Portal {
	return &Portal{sub: s, peer: peer, port: port, state: portalWritable}
}

// PortalAllow is the receiver-side call: it registers willingness to
// receive exactly one transfer from peer on port and notifies peer so a
// blocked Write can proceed.
func (s *Substrate) PortalAllow(peer NodeNum, port int32) *Portal {
	key := portalKey{peer: peer, port: port}
	ch := make(chan []byte, 1)

	s.portalLock.Lock()
	s.allowed[key] = ch
	s.portalLock.Unlock()

	f := &frame{Command: cmdPortalAllow, Source: s.self, Dest: peer, PortalPort: port, Seq: s.nextSeq()}
	s.route(peer, f)

	return &Portal{sub: s, peer: peer, port: port, state: portalAllowed, data: ch}
}

// Write performs the one allowed transfer. It is an error to call Write
// more than once, or on a Portal obtained from PortalAllow.
func (p *Portal) Write(buf []byte, timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != portalWritable {
		return errPortalMisuse
	}

	key := portalKey{peer: p.peer, port: p.port}
	if !p.waitForAllow(key, timeout) {
		return errPortalNotAllowed
	}

	f := &frame{Command: cmdPortalData, Source: p.sub.self, Dest: p.peer, PortalPort: p.port, Seq: p.sub.nextSeq(), PortalData: buf}
	if err := p.sub.route(p.peer, f); err != nil {
		return err
	}

	p.state = portalClosed
	return nil
}

func (p *Portal) waitForAllow(key portalKey, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		p.sub.portalLock.Lock()
		ch, ok := p.sub.pendingAck[key]
		p.sub.portalLock.Unlock()
		if ok {
			select {
			case <-ch:
				return true
			default:
			}
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(time.Millisecond)
	}
}

// Read performs the one allowed transfer on the receiving side. It is an
// error to call Read on a Portal obtained from PortalOpen.
func (p *Portal) Read(timeout time.Duration) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != portalAllowed {
		return nil, errPortalMisuse
	}

	select {
	case buf := <-p.data:
		p.state = portalClosed
		return buf, nil
	case <-time.After(timeout):
		return nil, errTimeout
	}
}

// Close releases any transport-level bookkeeping for this Portal. Safe to
// call after a completed or failed transfer; never required for
// correctness since Portal is single-use, but present for symmetry with
// the kernel's portal_close primitive.
func (p *Portal) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == portalAllowed {
		key := portalKey{peer: p.peer, port: p.port}
		p.sub.portalLock.Lock()
		delete(p.sub.allowed, key)
		p.sub.portalLock.Unlock()
	}
	p.state = portalClosed
	return nil
}

func (s *Substrate) handlePortalAllow(f *frame) {
	key := portalKey{peer: f.Source, port: f.PortalPort}
	s.portalLock.Lock()
	ch, ok := s.pendingAck[key]
	if !ok {
		ch = make(chan struct{}, 1)
		s.pendingAck[key] = ch
	}
	s.portalLock.Unlock()

	select {
	case ch <- struct{}{}:
	default:
	}
}

func (s *Substrate) handlePortalData(f *frame) {
	key := portalKey{peer: f.Source, port: f.PortalPort}
	s.portalLock.Lock()
	ch, ok := s.allowed[key]
	if ok {
		delete(s.allowed, key)
	}
	s.portalLock.Unlock()

	if !ok {
		return
	}

	select {
	case ch <- f.PortalData:
	default:
	}
}
