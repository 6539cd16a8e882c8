package rmem

import (
	"time"

	"github.com/noc-os/ncruntime/internal/transport"
	log "github.com/noc-os/ncruntime/pkg/minilog"
	"github.com/noc-os/ncruntime/pkg/ncproto"
	"github.com/prometheus/client_golang/prometheus"
)

const idleReadTimeout = 24 * time.Hour

// Server is the RMem daemon (§4.4): single-threaded request loop dispatching
// ALLOC/MEMFREE/WRITE/READ/STATS/EXIT, coordinating a one-shot portal
// transfer alongside the mailbox round trip for the bulk opcodes.
type Server struct {
	sub        *transport.Substrate
	port       int32
	pool       *Pool
	stats      *stats
	metrics    *Metrics
	persist    *PersistentStore // nil when persistence is disabled
	portalWait time.Duration
}

// NewServer binds an RMem daemon to sub's stdinbox at port, backed by a
// pool of numBlocks blocks of blockSize bytes. persist may be nil.
func NewServer(sub *transport.Substrate, port int32, numBlocks, blockSize int, persist *PersistentStore) *Server {
	pool := NewPool(numBlocks, blockSize)
	if persist != nil {
		if bitmap, blocks, ok := persist.Load(); ok {
			pool.Restore(bitmap, blocks)
			log.Info("rmem: restored pool snapshot from badger store")
		}
	}

	return &Server{
		sub:        sub,
		port:       port,
		pool:       pool,
		stats:      newStats(),
		metrics:    newMetrics(),
		persist:    persist,
		portalWait: 10 * time.Second,
	}
}

// Pool exposes the block pool so cmd/spawn1d can optionally layer a
// NineP tree over it (ninep.go), alongside the native mailbox protocol.
func (s *Server) Pool() *Pool {
	return s.pool
}

// Collectors exposes the server's prometheus counters for cmd/spawn1d's
// /metrics route.
func (s *Server) Collectors() []prometheus.Collector {
	return s.metrics.Collectors()
}

// StatsSnapshot reports the same counters RMEM_STATS replies with, for
// cmd/spawn1d's /stats route.
func (s *Server) StatsSnapshot() ncproto.Stats {
	return s.stats.snapshot(s.pool.Nblocks())
}

func (s *Server) Serve() error {
	mb, err := s.sub.StdinboxGet(s.port)
	if err != nil {
		return err
	}
	defer mb.Close()

	log.Info("rmem: serving on port %d", s.port)

	for {
		msg, err := mb.Read(idleReadTimeout)
		if err != nil {
			continue
		}

		if msg.Header.Opcode == ncproto.RmemExit {
			s.stats.recordShutdown()
			if s.persist != nil {
				bitmap, blocks := s.pool.Snapshot()
				if err := s.persist.Save(bitmap, blocks); err != nil {
					log.Error("rmem: snapshot on exit: %v", err)
				}
			}
			log.Info("rmem: RMEM_EXIT received, shutting down")
			return nil
		}

		s.dispatch(mb, msg)
	}
}

func (s *Server) dispatch(mb *transport.Mailbox, msg *ncproto.Message) {
	switch msg.Header.Opcode {
	case ncproto.RmemAlloc:
		s.handleAlloc(mb, msg)
	case ncproto.RmemFree:
		s.handleFree(mb, msg)
	case ncproto.RmemWrite:
		s.handleWrite(mb, msg)
	case ncproto.RmemRead:
		s.handleRead(mb, msg)
	case ncproto.RmemStats:
		s.handleStats(mb, msg)
	default:
		log.Error("rmem: unexpected opcode %v", msg.Header.Opcode)
	}
}

func (s *Server) reply(mb *transport.Mailbox, req *ncproto.Message, ok bool, ret ncproto.Ret) {
	reply := &ncproto.Message{
		Header: ncproto.Header{Opcode: req.Header.Opcode.Reply(ok)},
		Body:   ret,
	}
	if err := mb.Write(req.Header.SourceNode, req.Header.MailboxPort, reply); err != nil {
		log.Error("rmem: reply to node %v port %v: %v", req.Header.SourceNode, req.Header.MailboxPort, err)
	}
}

func (s *Server) handleAlloc(mb *transport.Mailbox, req *ncproto.Message) {
	start := time.Now()
	blknum, ok := s.pool.Alloc()
	s.stats.recordAlloc(time.Since(start))
	s.metrics.allocs.Inc()

	if !ok {
		s.reply(mb, req, false, ncproto.Ret{ErrCode: ncproto.ENOMEM, Page: 0})
		return
	}
	s.reply(mb, req, true, ncproto.Ret{ErrCode: ncproto.OK, Page: blknum})
}

func (s *Server) handleFree(mb *transport.Mailbox, req *ncproto.Message) {
	body := req.Body.(ncproto.FreeRequest)

	start := time.Now()
	errc := s.pool.Free(body.Blknum)
	s.stats.recordFree(time.Since(start))
	s.metrics.frees.Inc()

	s.reply(mb, req, errc == ncproto.OK, ncproto.Ret{ErrCode: errc})
}

// handleWrite implements §4.4's RMEM_WRITE: allow the inbound portal, read
// exactly RmemBlockSize bytes. The transfer always occurs, even against a
// bogus blknum, so the client's portal write never stalls; only the reply
// carries -EFAULT for an invalid target.
func (s *Server) handleWrite(mb *transport.Mailbox, req *ncproto.Message) {
	body := req.Body.(ncproto.WriteRequest)

	portal := s.sub.PortalAllow(req.Header.SourceNode, req.Header.PortalPort)
	defer portal.Close()

	start := time.Now()
	data, err := portal.Read(s.portalWait)
	if err != nil {
		log.Error("rmem: WRITE portal read: %v", err)
		s.reply(mb, req, false, ncproto.Ret{ErrCode: ncproto.EFAULT})
		return
	}

	valid := s.pool.Write(body.Blknum, data)
	s.stats.recordWrite(time.Since(start))
	s.metrics.writes.Inc()

	if !valid {
		s.reply(mb, req, false, ncproto.Ret{ErrCode: ncproto.EFAULT})
		return
	}
	s.reply(mb, req, true, ncproto.Ret{ErrCode: ncproto.OK})
}

// handleRead implements RMEM_READ: open a portal to the requester and write
// exactly RmemBlockSize bytes, substituting block 0 for a bogus blknum.
func (s *Server) handleRead(mb *transport.Mailbox, req *ncproto.Message) {
	body := req.Body.(ncproto.ReadRequest)

	start := time.Now()
	data, valid := s.pool.Read(body.Blknum)
	s.stats.recordRead(time.Since(start))
	s.metrics.reads.Inc()

	portal := s.sub.PortalOpen(req.Header.SourceNode, req.Header.PortalPort)
	if err := portal.Write(data, s.portalWait); err != nil {
		log.Error("rmem: READ portal write: %v", err)
	}

	if !valid {
		s.reply(mb, req, false, ncproto.Ret{ErrCode: ncproto.EFAULT})
		return
	}
	s.reply(mb, req, true, ncproto.Ret{ErrCode: ncproto.OK})
}

func (s *Server) handleStats(mb *transport.Mailbox, req *ncproto.Message) {
	st := s.stats.snapshot(s.pool.Nblocks())

	reply := &ncproto.Message{
		Header: ncproto.Header{Opcode: req.Header.Opcode.Reply(true)},
		Body:   st,
	}
	if err := mb.Write(req.Header.SourceNode, req.Header.MailboxPort, reply); err != nil {
		log.Error("rmem: stats reply: %v", err)
	}
}
