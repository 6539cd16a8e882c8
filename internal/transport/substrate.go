package transport

import (
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/noc-os/ncruntime/pkg/ncproto"
	log "github.com/noc-os/ncruntime/pkg/minilog"
)

// NodeNum is re-exported from ncproto so callers of this package don't also
// need to import ncproto just to name a node.
type NodeNum = ncproto.NodeNum

// Substrate is one node's view of the mesh: its direct links, the gossiped
// topology, and the mailbox/portal registries layered on top. Adapted from
// the teacher's meshage.Node; see doc.go.
type Substrate struct {
	self NodeNum

	// instance is a per-boot epoch id, bound to google/uuid per
	// SPEC_FULL's DOMAIN STACK table. It plays the role of meshage's
	// Node.instance counter but needs no coordination to avoid collisions
	// across restarts.
	instance string

	listener net.Listener

	linksLock sync.Mutex
	links     map[NodeNum]*link

	meshLock         sync.Mutex
	network          map[NodeNum][]NodeNum
	effectiveNetwork map[NodeNum][]NodeNum
	routes           map[NodeNum]NodeNum

	seqLock sync.Mutex
	seq     map[NodeNum]uint64

	sendSeqLock sync.Mutex
	sendSeq     uint64

	framePump chan *frame

	mailboxLock sync.Mutex
	mailboxes   map[int32]*Mailbox

	portalLock sync.Mutex
	allowed    map[portalKey]chan []byte
	pendingAck map[portalKey]chan struct{}

	timeout time.Duration
}

type portalKey struct {
	peer NodeNum
	port int32
}

// New creates a Substrate bound to self, which must be unique on the mesh.
func New(self NodeNum, timeout time.Duration) *Substrate {
	s := &Substrate{
		self:       self,
		instance:   uuid.NewString(),
		links:      make(map[NodeNum]*link),
		network:    map[NodeNum][]NodeNum{self: nil},
		routes:     make(map[NodeNum]NodeNum),
		seq:        make(map[NodeNum]uint64),
		framePump:  make(chan *frame, 1024),
		mailboxes:  make(map[int32]*Mailbox),
		allowed:    make(map[portalKey]chan []byte),
		pendingAck: make(map[portalKey]chan struct{}),
		timeout:    timeout,
	}
	s.recomputeRoutes()
	go s.frameHandler()
	return s
}

func (s *Substrate) Self() NodeNum { return s.self }

// ListenAddr reports the address Listen bound to, for peers that need to
// Dial in without the coordination being statically configured (tests,
// admin tooling).
func (s *Substrate) ListenAddr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Listen accepts incoming links on addr (host:port).
func (s *Substrate) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = ln

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				log.Error("transport accept: %v", err)
				return
			}
			go s.handshake(conn, false)
		}
	}()
	return nil
}

// Dial establishes a direct link to peer at addr.
func (s *Substrate) Dial(peer NodeNum, addr string) error {
	s.linksLock.Lock()
	if _, ok := s.links[peer]; ok {
		s.linksLock.Unlock()
		return errAlreadyLinked
	}
	s.linksLock.Unlock()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return err
	}
	return s.handshake(conn, true)
}

// handshake exchanges NodeNum identities so both ends agree on who's who
// before any frame is routed.
func (s *Substrate) handshake(conn net.Conn, dialer bool) error {
	l := newLink(-1, conn)

	if dialer {
		if err := l.enc.Encode(&frame{Source: s.self}); err != nil {
			conn.Close()
			return err
		}
		var hs frame
		if err := l.dec.Decode(&hs); err != nil {
			conn.Close()
			return err
		}
		l.peer = hs.Source
	} else {
		var hs frame
		if err := l.dec.Decode(&hs); err != nil {
			conn.Close()
			return err
		}
		l.peer = hs.Source
		if err := l.enc.Encode(&frame{Source: s.self}); err != nil {
			conn.Close()
			return err
		}
	}

	s.linksLock.Lock()
	s.links[l.peer] = l
	s.linksLock.Unlock()

	go s.linkHandler(l)
	return nil
}

func (s *Substrate) getLink(peer NodeNum) (*link, bool) {
	s.linksLock.Lock()
	defer s.linksLock.Unlock()
	l, ok := s.links[peer]
	return l, ok
}

func (s *Substrate) nextSeq() uint64 {
	s.sendSeqLock.Lock()
	defer s.sendSeqLock.Unlock()
	s.sendSeq++
	return s.sendSeq
}

// route sends f to dest, either directly or via the next hop computed by
// route.go's recomputeRoutes, mirroring meshage's single-hop forwarding.
func (s *Substrate) route(dest NodeNum, f *frame) error {
	if dest == s.self {
		s.framePump <- f
		return nil
	}

	s.meshLock.Lock()
	next, ok := s.routes[dest]
	s.meshLock.Unlock()
	if !ok {
		return errNoRoute
	}

	l, ok := s.getLink(next)
	if !ok {
		return errNoRoute
	}

	return s.send(l, f)
}

// announceTopology floods our adjacency list to every direct neighbor,
// analogous to meshage's MSA.
func (s *Substrate) announceTopology() {
	s.linksLock.Lock()
	neighbors := make([]NodeNum, 0, len(s.links))
	for peer := range s.links {
		neighbors = append(neighbors, peer)
	}
	s.linksLock.Unlock()

	s.meshLock.Lock()
	s.network[s.self] = neighbors
	topo := make(map[NodeNum][]NodeNum, len(s.network))
	for k, v := range s.network {
		topo[k] = append([]NodeNum(nil), v...)
	}
	s.meshLock.Unlock()

	id := s.nextSeq()
	if id%lollipopLength == 1 {
		// wrap: nothing else to do, peers reset their view on ID==1 too.
	}

	f := &frame{
		Command:      cmdTOPO,
		Source:       s.self,
		CurrentRoute: []NodeNum{s.self},
		Instance:     s.instance,
		Seq:          id,
		Topology:     topo,
	}

	s.flood(f, nil)
}

func (s *Substrate) flood(f *frame, from *NodeNum) {
	s.linksLock.Lock()
	defer s.linksLock.Unlock()

floodLoop:
	for peer, l := range s.links {
		if from != nil && peer == *from {
			continue
		}
		for _, hop := range f.CurrentRoute {
			if hop == peer {
				continue floodLoop
			}
		}
		go func(l *link, f *frame) {
			if err := s.send(l, f); err != nil {
				log.Debug("flood to %v: %v", l.peer, err)
			}
		}(l, f)
	}
}

// frameHandler drains framePump, the single point where inbound frames are
// interpreted — mirroring meshage's messageHandler.
func (s *Substrate) frameHandler() {
	for f := range s.framePump {
		switch f.Command {
		case cmdTOPO:
			s.handleTopo(f)
		case cmdMSG:
			s.handleMsg(f)
		case cmdPortalAllow:
			s.handlePortalAllow(f)
		case cmdPortalData:
			s.handlePortalData(f)
		}
	}
}

func (s *Substrate) handleTopo(f *frame) {
	s.seqLock.Lock()
	if f.Seq == 1 && s.seq[f.Source] > lollipopLength {
		s.seq[f.Source] = 0
	}
	if f.Seq <= s.seq[f.Source] {
		s.seqLock.Unlock()
		return
	}
	s.seq[f.Source] = f.Seq
	s.seqLock.Unlock()

	s.meshLock.Lock()
	for k, v := range f.Topology {
		s.network[k] = v
	}
	s.meshLock.Unlock()
	s.recomputeRoutes()

	route := append(append([]NodeNum(nil), f.CurrentRoute...), s.self)
	fwd := &frame{Command: cmdTOPO, Source: f.Source, CurrentRoute: route, Instance: f.Instance, Seq: f.Seq, Topology: f.Topology}
	s.flood(fwd, nil)
}

func (s *Substrate) handleMsg(f *frame) {
	if f.Dest != s.self {
		s.route(f.Dest, f)
		return
	}

	s.mailboxLock.Lock()
	defer s.mailboxLock.Unlock()

	mb, ok := s.mailboxes[f.DestPort]
	if !ok {
		log.Debug("dropping message for unregistered mailbox %v", f.DestPort)
		return
	}

	select {
	case mb.inbox <- f.Msg:
	default:
		log.Error("mailbox %v inbox full, dropping message", f.DestPort)
	}
}
