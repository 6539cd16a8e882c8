// Package rmemstub is the Remote Memory client stub (§4.5): encoded
// alloc/free/read/write calls that additionally coordinate the one-shot
// portal transfer the bulk opcodes require.
package rmemstub

import (
	"fmt"
	"time"

	"github.com/noc-os/ncruntime/internal/topology"
	"github.com/noc-os/ncruntime/internal/transport"
	"github.com/noc-os/ncruntime/pkg/ncproto"
)

type Stub struct {
	sub  *transport.Substrate
	node ncproto.NodeNum
	port int32

	portalPortCounter int32
}

func New(sub *transport.Substrate) *Stub {
	return &Stub{sub: sub, node: topology.RMemNode, port: topology.RMemPort, portalPortCounter: 1 << 24}
}

func (s *Stub) nextPortalPort() int32 {
	s.portalPortCounter++
	return s.portalPortCounter
}

func (s *Stub) roundTrip(opcode ncproto.Opcode, body interface{}, portalPort int32) (ncproto.Ret, error) {
	mb, err := s.sub.MailboxOpen(s.node, s.port)
	if err != nil {
		return ncproto.Ret{}, err
	}
	defer mb.Close()

	req := &ncproto.Message{
		Header: ncproto.Header{Opcode: opcode, MailboxPort: mb.LocalPort(), PortalPort: portalPort},
		Body:   body,
	}
	if err := mb.Write(s.node, s.port, req); err != nil {
		return ncproto.Ret{}, err
	}

	reply, err := mb.Read(10 * time.Second)
	if err != nil {
		return ncproto.Ret{}, err
	}

	ret, ok := reply.Body.(ncproto.Ret)
	if !ok {
		return ncproto.Ret{}, fmt.Errorf("rmemstub: unexpected reply body %T", reply.Body)
	}
	if !reply.Header.Opcode.Succeeded() {
		return ret, ret.ErrCode.Err()
	}
	return ret, nil
}

// Alloc requests a fresh block (RMEM_ALLOC).
func (s *Stub) Alloc() (int32, error) {
	ret, err := s.roundTrip(ncproto.RmemAlloc, ncproto.AllocRequest{}, 0)
	return ret.Page, err
}

// Free releases blknum (RMEM_MEMFREE).
func (s *Stub) Free(blknum int32) error {
	_, err := s.roundTrip(ncproto.RmemFree, ncproto.FreeRequest{Blknum: blknum}, 0)
	return err
}

// Write sends exactly len(buf) == RmemBlockSize bytes to blknum, driving
// the portal side of the protocol itself: the client is the portal sender,
// so it opens the portal before the mailbox request lands, matching the
// server's PortalAllow-then-read handler (§4.4).
func (s *Stub) Write(blknum int32, buf []byte) error {
	if len(buf) != ncproto.RmemBlockSize {
		return fmt.Errorf("rmemstub: write requires exactly %d bytes, got %d", ncproto.RmemBlockSize, len(buf))
	}

	port := s.nextPortalPort()
	portal := s.sub.PortalOpen(s.node, port)

	errCh := make(chan error, 1)
	go func() { errCh <- portal.Write(buf, 10*time.Second) }()

	_, err := s.roundTrip(ncproto.RmemWrite, ncproto.WriteRequest{Blknum: blknum}, port)
	if werr := <-errCh; werr != nil && err == nil {
		err = werr
	}
	return err
}

// Read fetches blknum's RmemBlockSize bytes. The client allows its inbound
// portal before sending the mailbox request, since the server is the
// portal sender for RMEM_READ.
func (s *Stub) Read(blknum int32) ([]byte, error) {
	port := s.nextPortalPort()
	portal := s.sub.PortalAllow(s.node, port)

	dataCh := make(chan []byte, 1)
	errCh := make(chan error, 1)
	go func() {
		data, err := portal.Read(10 * time.Second)
		dataCh <- data
		errCh <- err
	}()

	_, err := s.roundTrip(ncproto.RmemRead, ncproto.ReadRequest{Blknum: blknum}, port)
	data := <-dataCh
	if perr := <-errCh; perr != nil {
		if err == nil {
			err = perr
		}
		return nil, err
	}
	if len(data) != ncproto.RmemBlockSize {
		return nil, fmt.Errorf("rmemstub: short read: got %d bytes", len(data))
	}
	return data, err
}

// Stats fetches the server's current counters (RMEM_STATS).
func (s *Stub) Stats() (ncproto.Stats, error) {
	mb, err := s.sub.MailboxOpen(s.node, s.port)
	if err != nil {
		return ncproto.Stats{}, err
	}
	defer mb.Close()

	req := &ncproto.Message{
		Header: ncproto.Header{Opcode: ncproto.RmemStats, MailboxPort: mb.LocalPort()},
		Body:   ncproto.StatsRequest{},
	}
	if err := mb.Write(s.node, s.port, req); err != nil {
		return ncproto.Stats{}, err
	}

	reply, err := mb.Read(10 * time.Second)
	if err != nil {
		return ncproto.Stats{}, err
	}
	st, ok := reply.Body.(ncproto.Stats)
	if !ok {
		return ncproto.Stats{}, fmt.Errorf("rmemstub: unexpected reply body %T", reply.Body)
	}
	return st, nil
}

// Shutdown sends RMEM_EXIT.
func (s *Stub) Shutdown() error {
	mb, err := s.sub.MailboxOpen(s.node, s.port)
	if err != nil {
		return err
	}
	defer mb.Close()

	req := &ncproto.Message{Header: ncproto.Header{Opcode: ncproto.RmemExit}}
	return mb.Write(s.node, s.port, req)
}
