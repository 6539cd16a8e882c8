package sysv

import (
	log "github.com/noc-os/ncruntime/pkg/minilog"

	"github.com/noc-os/ncruntime/internal/topology"
	"github.com/noc-os/ncruntime/internal/transport"
	"github.com/noc-os/ncruntime/pkg/ncproto"
)

// shmRegion is a named region backed by contiguous RMem blocks (§4.7).
// Contiguity is best-effort: blocks are acquired by calling the RMem stub's
// Alloc sequentially, which yields a contiguous run on a pool with no prior
// fragmentation (the common case for a freshly booted system) but is not
// guaranteed once blocks have been freed and reallocated elsewhere.
type shmRegion struct {
	ipcId      int32
	name       string
	firstBlock int32
	sizeBlocks int32
	mode       int32
	refcount   int32
	unlinked   bool
}

func (s *Server) handleShmCreate(mb *transport.Mailbox, req *ncproto.Message) {
	body := req.Body.(ncproto.ShmCreateRequest)

	if _, exists := s.shmByName[body.Name]; exists {
		s.reply(mb, req, false, ncproto.Ret{ErrCode: ncproto.EINVAL})
		return
	}

	first, ok := s.allocContiguous(body.SizeBlocks)
	if !ok {
		s.reply(mb, req, false, ncproto.Ret{ErrCode: ncproto.ENOMEM})
		return
	}

	region := &shmRegion{
		ipcId:      newHandle(),
		name:       body.Name,
		firstBlock: first,
		sizeBlocks: body.SizeBlocks,
		mode:       body.Mode,
		refcount:   1,
	}
	s.shmByName[body.Name] = region
	s.shmById[region.ipcId] = region

	s.conns.Connect(req.Header.SourcePid, req.Header.MailboxPort)
	s.metrics.shmCreates.Inc()
	s.reply(mb, req, true, ncproto.Ret{ErrCode: ncproto.OK, IpcId: region.ipcId, Page: region.firstBlock})
}

// allocContiguous requests n blocks from RMem in sequence, rolling back
// every block it acquired if the pool runs out partway through.
func (s *Server) allocContiguous(n int32) (int32, bool) {
	blocks := make([]int32, 0, n)
	for i := int32(0); i < n; i++ {
		b, err := s.rmem.Alloc()
		if err != nil {
			for _, got := range blocks {
				s.rmem.Free(got)
			}
			return 0, false
		}
		blocks = append(blocks, b)
	}
	if len(blocks) == 0 {
		return 0, false
	}
	return blocks[0], true
}

func (s *Server) handleShmOpen(mb *transport.Mailbox, req *ncproto.Message) {
	body := req.Body.(ncproto.ShmOpenRequest)

	region, ok := s.shmByName[body.Name]
	if !ok {
		s.reply(mb, req, false, ncproto.Ret{ErrCode: ncproto.ENOENT})
		return
	}

	region.refcount++
	s.conns.Connect(req.Header.SourcePid, req.Header.MailboxPort)
	s.metrics.shmOpens.Inc()
	s.reply(mb, req, true, ncproto.Ret{ErrCode: ncproto.OK, IpcId: region.ipcId, Page: region.firstBlock})
}

func (s *Server) handleShmClose(mb *transport.Mailbox, req *ncproto.Message) {
	body := req.Body.(ncproto.ShmCloseRequest)

	region, ok := s.shmById[body.IpcId]
	if !ok {
		s.reply(mb, req, false, ncproto.Ret{ErrCode: ncproto.ENOENT})
		return
	}

	region.refcount--
	s.conns.Disconnect(req.Header.SourcePid, req.Header.MailboxPort)
	s.metrics.shmCloses.Inc()
	s.reply(mb, req, true, ncproto.Ret{ErrCode: ncproto.OK})

	if region.refcount <= 0 && region.unlinked {
		s.freeRegion(region)
	}
}

func (s *Server) handleShmUnlink(mb *transport.Mailbox, req *ncproto.Message) {
	body := req.Body.(ncproto.ShmUnlinkRequest)

	region, ok := s.shmByName[body.Name]
	if !ok {
		s.reply(mb, req, false, ncproto.Ret{ErrCode: ncproto.ENOENT})
		return
	}

	delete(s.shmByName, body.Name)
	region.unlinked = true
	s.metrics.shmUnlinks.Inc()
	s.reply(mb, req, true, ncproto.Ret{ErrCode: ncproto.OK})

	if region.refcount <= 0 {
		s.freeRegion(region)
	}
}

func (s *Server) freeRegion(region *shmRegion) {
	delete(s.shmById, region.ipcId)
	for b := region.firstBlock; b < region.firstBlock+region.sizeBlocks; b++ {
		if err := s.rmem.Free(b); err != nil {
			log.Error("sysv: freeing shm block %d: %v", b, err)
		}
	}
}

func (s *Server) handleShmFtruncate(mb *transport.Mailbox, req *ncproto.Message) {
	body := req.Body.(ncproto.ShmFtruncateRequest)

	region, ok := s.shmById[body.IpcId]
	if !ok {
		s.reply(mb, req, false, ncproto.Ret{ErrCode: ncproto.ENOENT})
		return
	}

	switch {
	case body.Size > region.sizeBlocks:
		for i := region.sizeBlocks; i < body.Size; i++ {
			if _, err := s.rmem.Alloc(); err != nil {
				s.reply(mb, req, false, ncproto.Ret{ErrCode: ncproto.ENOMEM})
				return
			}
		}
	case body.Size < region.sizeBlocks:
		for b := region.firstBlock + body.Size; b < region.firstBlock+region.sizeBlocks; b++ {
			s.rmem.Free(b)
		}
	}
	region.sizeBlocks = body.Size
	s.reply(mb, req, true, ncproto.Ret{ErrCode: ncproto.OK})
}

// handleShmInval implements §4.7's invalidation broadcast: iterate the
// shared connection table, open a mailbox to each live peer's well-known
// snooper port, write one notification, close. The peer's node is recovered
// from its packed pid, never from a separately stored field.
func (s *Server) handleShmInval(mb *transport.Mailbox, req *ncproto.Message) {
	body := req.Body.(ncproto.ShmInvalRequest)

	if _, ok := s.shmById[body.IpcId]; !ok {
		s.reply(mb, req, false, ncproto.Ret{ErrCode: ncproto.ENOENT})
		return
	}

	s.metrics.shmInvals.Inc()
	s.reply(mb, req, true, ncproto.Ret{ErrCode: ncproto.OK})

	notice := &ncproto.Message{
		Header: ncproto.Header{Opcode: ncproto.SysvShmInval},
		Body:   body,
	}
	for _, conn := range s.conns.Snapshot() {
		peer := ncproto.NodeNum(conn.RemotePid.Source())
		peerMB, err := s.sub.MailboxOpen(peer, topology.ShmSnooperPort)
		if err != nil {
			log.Error("sysv: opening snooper mailbox to node %v: %v", peer, err)
			continue
		}
		if err := peerMB.Write(peer, topology.ShmSnooperPort, notice); err != nil {
			log.Error("sysv: snoop notify to node %v: %v", peer, err)
		}
		peerMB.Close()
	}
}
