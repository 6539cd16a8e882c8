package sysv

import (
	"time"

	"github.com/noc-os/ncruntime/internal/connections"
	"github.com/noc-os/ncruntime/internal/rmemstub"
	"github.com/noc-os/ncruntime/internal/transport"
	log "github.com/noc-os/ncruntime/pkg/minilog"
	"github.com/noc-os/ncruntime/pkg/ncproto"
	"github.com/prometheus/client_golang/prometheus"
)

const idleReadTimeout = 24 * time.Hour

// Server is the unified System V IPC daemon (§4.7-4.9): one request loop
// dispatching SHM/MSG/SEM opcodes, backed by a single shared connection
// table and an RMem client stub for shared-memory block allocation.
type Server struct {
	sub  *transport.Substrate
	port int32

	rmem  *rmemstub.Stub
	conns *connections.Table

	shmByName map[string]*shmRegion
	shmById   map[int32]*shmRegion

	msgByKey   map[int32]*msgQueue
	msgById    map[int32]*msgQueue
	msgKeyToID map[int32]int32

	semByKey   map[int32]*semaphore
	semById    map[int32]*semaphore
	semKeyToID map[int32]int32

	metrics    *Metrics
	portalWait time.Duration
}

// NewServer binds a SysV daemon to sub's stdinbox at port. rmem is the
// client stub used to back shared-memory regions with RMem blocks.
func NewServer(sub *transport.Substrate, port int32, rmem *rmemstub.Stub) *Server {
	return &Server{
		sub:  sub,
		port: port,

		rmem:  rmem,
		conns: connections.NewTable(),

		shmByName: make(map[string]*shmRegion),
		shmById:   make(map[int32]*shmRegion),

		msgByKey:   make(map[int32]*msgQueue),
		msgById:    make(map[int32]*msgQueue),
		msgKeyToID: make(map[int32]int32),

		semByKey:   make(map[int32]*semaphore),
		semById:    make(map[int32]*semaphore),
		semKeyToID: make(map[int32]int32),

		metrics:    newMetrics(),
		portalWait: 10 * time.Second,
	}
}

// Collectors exposes the server's prometheus counters for cmd/spawn0d's
// /metrics route.
func (s *Server) Collectors() []prometheus.Collector {
	return s.metrics.Collectors()
}

// ResourceCounts reports how many SHM regions, message queues and
// semaphores are currently live, for cmd/spawn0d's /stats route.
func (s *Server) ResourceCounts() (shm, msgq, sem int) {
	return len(s.shmById), len(s.msgById), len(s.semById)
}

// Connections exposes the shared connection table for cmd/spawn0d's
// /connections route.
func (s *Server) Connections() *connections.Table {
	return s.conns
}

func (s *Server) Serve() error {
	mb, err := s.sub.StdinboxGet(s.port)
	if err != nil {
		return err
	}
	defer mb.Close()

	log.Info("sysv: serving on port %d", s.port)

	for {
		msg, err := mb.Read(idleReadTimeout)
		if err != nil {
			continue
		}

		if msg.Header.Opcode == ncproto.SysvExit {
			log.Info("sysv: SYSV_EXIT received, waking parked waiters and shutting down")
			s.wakeAllWaiters(mb)
			return nil
		}

		s.dispatch(mb, msg)
	}
}

func (s *Server) dispatch(mb *transport.Mailbox, msg *ncproto.Message) {
	switch msg.Header.Opcode {
	case ncproto.SysvShmCreate:
		s.handleShmCreate(mb, msg)
	case ncproto.SysvShmOpen:
		s.handleShmOpen(mb, msg)
	case ncproto.SysvShmClose:
		s.handleShmClose(mb, msg)
	case ncproto.SysvShmUnlink:
		s.handleShmUnlink(mb, msg)
	case ncproto.SysvShmFtruncate:
		s.handleShmFtruncate(mb, msg)
	case ncproto.SysvShmInval:
		s.handleShmInval(mb, msg)
	case ncproto.SysvMsgGet:
		s.handleMsgGet(mb, msg)
	case ncproto.SysvMsgClose:
		s.handleMsgClose(mb, msg)
	case ncproto.SysvMsgSend:
		s.handleMsgSend(mb, msg)
	case ncproto.SysvMsgReceive:
		s.handleMsgReceive(mb, msg)
	case ncproto.SysvSemGet:
		s.handleSemGet(mb, msg)
	case ncproto.SysvSemClose:
		s.handleSemClose(mb, msg)
	case ncproto.SysvSemOperate:
		s.handleSemOperate(mb, msg)
	default:
		log.Error("sysv: unexpected opcode %v", msg.Header.Opcode)
	}
}

func (s *Server) reply(mb *transport.Mailbox, req *ncproto.Message, ok bool, ret ncproto.Ret) {
	reply := &ncproto.Message{
		Header: ncproto.Header{Opcode: req.Header.Opcode.Reply(ok)},
		Body:   ret,
	}
	if err := mb.Write(req.Header.SourceNode, req.Header.MailboxPort, reply); err != nil {
		log.Error("sysv: reply to node %v port %v: %v", req.Header.SourceNode, req.Header.MailboxPort, err)
	}
}
