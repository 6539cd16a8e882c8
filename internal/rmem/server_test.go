package rmem

import (
	"bytes"
	"testing"
	"time"

	"github.com/noc-os/ncruntime/internal/transport"
	"github.com/noc-os/ncruntime/pkg/ncproto"
)

func startTestServer(t *testing.T, numBlocks, blockSize int) (*transport.Substrate, *transport.Substrate) {
	t.Helper()

	serverSub := transport.New(4, time.Second)
	if err := serverSub.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := NewServer(serverSub, 2, numBlocks, blockSize, nil)
	go srv.Serve()

	clientSub := transport.New(1, time.Second)
	if err := clientSub.Dial(4, serverSub.ListenAddr()); err != nil {
		t.Fatalf("dial: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	return serverSub, clientSub
}

func TestPoolAllocNeverReturnsBlockZero(t *testing.T) {
	p := NewPool(8, 16)
	for i := 0; i < 7; i++ {
		blk, ok := p.Alloc()
		if !ok {
			t.Fatalf("alloc #%d failed", i)
		}
		if blk == 0 {
			t.Fatal("alloc returned block 0")
		}
	}
	if _, ok := p.Alloc(); ok {
		t.Fatal("expected pool-full alloc to fail")
	}
}

func TestPoolWriteReadRoundTrip(t *testing.T) {
	p := NewPool(8, 16)
	blk, _ := p.Alloc()

	data := bytes.Repeat([]byte{0x01}, 16)
	if valid := p.Write(blk, data); !valid {
		t.Fatal("write to allocated block should be valid")
	}

	got, valid := p.Read(blk)
	if !valid {
		t.Fatal("read of allocated block should be valid")
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("got %v, want %v", got, data)
	}
}

func TestPoolFreeRefusesLastBlock(t *testing.T) {
	p := NewPool(8, 16)
	blk, _ := p.Alloc()

	if errc := p.Free(blk); errc != ncproto.OK {
		t.Fatalf("free of a real block should succeed, got %v", errc)
	}
	// only block 0 remains allocated now
	if errc := p.Free(0); errc != ncproto.EINVAL {
		t.Fatalf("freeing block 0 should be -EINVAL, got %v", errc)
	}
}

func TestPoolWriteBogusBlockStillCompletesAgainstBlockZero(t *testing.T) {
	p := NewPool(8, 16)
	data := bytes.Repeat([]byte{0xAB}, 16)

	if valid := p.Write(99, data); valid {
		t.Fatal("write to out-of-range block should report invalid")
	}
	got, _ := p.Read(0)
	if !bytes.Equal(got, data) {
		t.Fatal("write to bogus block should still drain into block 0")
	}
}

func rmemRoundTrip(t *testing.T, client *transport.Substrate, body interface{}, opcode ncproto.Opcode) *ncproto.Message {
	t.Helper()

	mb, err := client.MailboxOpen(4, 2)
	if err != nil {
		t.Fatalf("MailboxOpen: %v", err)
	}
	defer mb.Close()

	req := &ncproto.Message{
		Header: ncproto.Header{Opcode: opcode, MailboxPort: mb.LocalPort()},
		Body:   body,
	}
	if err := mb.Write(4, 2, req); err != nil {
		t.Fatalf("Write: %v", err)
	}

	reply, err := mb.Read(2 * time.Second)
	if err != nil {
		t.Fatalf("Read reply: %v", err)
	}
	return reply
}

func TestServerAllocFreeRoundTrip(t *testing.T) {
	_, client := startTestServer(t, 8, 16)

	alloc := rmemRoundTrip(t, client, ncproto.AllocRequest{}, ncproto.RmemAlloc)
	if !alloc.Header.Opcode.Succeeded() {
		t.Fatalf("ALLOC failed: %v", alloc.Header.Opcode)
	}
	blk := alloc.Body.(ncproto.Ret).Page
	if blk == 0 {
		t.Fatal("ALLOC should never return block 0")
	}

	free := rmemRoundTrip(t, client, ncproto.FreeRequest{Blknum: blk}, ncproto.RmemFree)
	if !free.Header.Opcode.Succeeded() {
		t.Fatalf("MEMFREE failed: %v", free.Header.Opcode)
	}
}

func TestServerWriteReadPortalRoundTrip(t *testing.T) {
	serverSub, client := startTestServer(t, 8, 16)

	alloc := rmemRoundTrip(t, client, ncproto.AllocRequest{}, ncproto.RmemAlloc)
	blk := alloc.Body.(ncproto.Ret).Page

	payload := bytes.Repeat([]byte{0x42}, 16)

	// RMEM_WRITE: client is the portal sender, server the receiver.
	writeMB, err := client.MailboxOpen(4, 2)
	if err != nil {
		t.Fatalf("MailboxOpen: %v", err)
	}
	defer writeMB.Close()

	portalPort := int32(777)
	writeReq := &ncproto.Message{
		Header: ncproto.Header{Opcode: ncproto.RmemWrite, MailboxPort: writeMB.LocalPort(), PortalPort: portalPort},
		Body:   ncproto.WriteRequest{Blknum: blk},
	}

	sender := client.PortalOpen(4, portalPort)
	errCh := make(chan error, 1)
	go func() { errCh <- sender.Write(payload, 2*time.Second) }()

	if err := writeMB.Write(4, 2, writeReq); err != nil {
		t.Fatalf("Write request: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("portal write: %v", err)
	}

	writeReply, err := writeMB.Read(2 * time.Second)
	if err != nil {
		t.Fatalf("read WRITE reply: %v", err)
	}
	if !writeReply.Header.Opcode.Succeeded() {
		t.Fatalf("WRITE failed: %v", writeReply.Header.Opcode)
	}

	// RMEM_READ: server is the portal sender, client the receiver.
	readMB, err := client.MailboxOpen(4, 2)
	if err != nil {
		t.Fatalf("MailboxOpen: %v", err)
	}
	defer readMB.Close()

	readPortalPort := int32(778)
	readPortal := client.PortalAllow(4, readPortalPort)

	readReq := &ncproto.Message{
		Header: ncproto.Header{Opcode: ncproto.RmemRead, MailboxPort: readMB.LocalPort(), PortalPort: readPortalPort},
		Body:   ncproto.ReadRequest{Blknum: blk},
	}
	if err := readMB.Write(4, 2, readReq); err != nil {
		t.Fatalf("Write request: %v", err)
	}

	got, err := readPortal.Read(2 * time.Second)
	if err != nil {
		t.Fatalf("portal read: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("got %v, want %v", got, payload)
	}

	readReply, err := readMB.Read(2 * time.Second)
	if err != nil {
		t.Fatalf("read READ reply: %v", err)
	}
	if !readReply.Header.Opcode.Succeeded() {
		t.Fatalf("READ failed: %v", readReply.Header.Opcode)
	}

	_ = serverSub
}
