package sysv

import (
	"testing"
	"time"

	"github.com/noc-os/ncruntime/internal/rmem"
	"github.com/noc-os/ncruntime/internal/rmemstub"
	"github.com/noc-os/ncruntime/internal/transport"
	"github.com/noc-os/ncruntime/pkg/ncpid"
	"github.com/noc-os/ncruntime/pkg/ncproto"
)

// testClientPid is the pid every test client round trip is stamped with:
// source node 1, matching clientSub's node number, so Source() recovers a
// routable node for the connection table's SHM invalidation broadcast.
var testClientPid = ncpid.Pack(1, 1)

// startTestServer wires three substrates: an RMem daemon on node 4, a SysV
// daemon on node 0 (with its own rmemstub dialed to node 4), and a client on
// node 1 dialed to the SysV daemon — the same topology §6 describes.
func startTestServer(t *testing.T) (*transport.Substrate, *transport.Substrate) {
	t.Helper()

	rmemSub := transport.New(4, time.Second)
	if err := rmemSub.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("rmem listen: %v", err)
	}
	go rmem.NewServer(rmemSub, 2, 64, ncproto.RmemBlockSize, nil).Serve()

	sysvSub := transport.New(0, time.Second)
	if err := sysvSub.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("sysv listen: %v", err)
	}
	if err := sysvSub.Dial(4, rmemSub.ListenAddr()); err != nil {
		t.Fatalf("sysv dial rmem: %v", err)
	}
	srv := NewServer(sysvSub, 3, rmemstub.New(sysvSub))
	go srv.Serve()

	clientSub := transport.New(1, time.Second)
	if err := clientSub.Dial(0, sysvSub.ListenAddr()); err != nil {
		t.Fatalf("client dial sysv: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	return sysvSub, clientSub
}

func roundTrip(t *testing.T, client *transport.Substrate, body interface{}, opcode ncproto.Opcode) *ncproto.Message {
	t.Helper()
	return roundTripFlags(t, client, body, opcode, ncproto.FlagNone)
}

func roundTripFlags(t *testing.T, client *transport.Substrate, body interface{}, opcode ncproto.Opcode, flags uint8) *ncproto.Message {
	t.Helper()

	mb, err := client.MailboxOpen(0, 3)
	if err != nil {
		t.Fatalf("MailboxOpen: %v", err)
	}
	defer mb.Close()

	req := &ncproto.Message{
		Header: ncproto.Header{Opcode: opcode, SourcePid: testClientPid, MailboxPort: mb.LocalPort(), Flags: flags},
		Body:   body,
	}
	if err := mb.Write(0, 3, req); err != nil {
		t.Fatalf("Write: %v", err)
	}

	reply, err := mb.Read(2 * time.Second)
	if err != nil {
		t.Fatalf("Read reply: %v", err)
	}
	return reply
}
