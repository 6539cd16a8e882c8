package sysvstub

import (
	"bytes"
	"testing"
	"time"

	"github.com/noc-os/ncruntime/internal/rmem"
	"github.com/noc-os/ncruntime/internal/rmemstub"
	"github.com/noc-os/ncruntime/internal/sysv"
	"github.com/noc-os/ncruntime/internal/transport"
	"github.com/noc-os/ncruntime/pkg/ncpid"
	"github.com/noc-os/ncruntime/pkg/ncproto"
)

// startServerAndStub wires the same three-node topology server_test.go
// exercises directly: an RMem daemon on node 4, a SysV daemon on node 0
// dialed out to it, and a client stub on node 1.
func startServerAndStub(t *testing.T) *Stub {
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
	go sysv.NewServer(sysvSub, 3, rmemstub.New(sysvSub)).Serve()

	clientSub := transport.New(1, time.Second)
	if err := clientSub.Dial(0, sysvSub.ListenAddr()); err != nil {
		t.Fatalf("client dial sysv: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	stub, err := New(clientSub, ncpid.Pack(1, 1))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return stub
}

func TestShmCreateOpenClose(t *testing.T) {
	stub := startServerAndStub(t)

	ipcid, err := stub.ShmCreate("region", 2)
	if err != nil {
		t.Fatalf("ShmCreate: %v", err)
	}
	if ipcid == 0 {
		t.Fatal("ShmCreate returned zero ipcid")
	}

	other, err := stub.ShmOpen("region")
	if err != nil {
		t.Fatalf("ShmOpen: %v", err)
	}
	if other != ipcid {
		t.Fatalf("ShmOpen returned %d, want %d", other, ipcid)
	}

	if err := stub.ShmClose(ipcid); err != nil {
		t.Fatalf("ShmClose: %v", err)
	}
	if err := stub.ShmClose(other); err != nil {
		t.Fatalf("ShmClose: %v", err)
	}
	if err := stub.ShmUnlink("region"); err != nil {
		t.Fatalf("ShmUnlink: %v", err)
	}
}

func TestMsgSendReceiveRoundTrip(t *testing.T) {
	stub := startServerAndStub(t)

	msgid, err := stub.MsgGet(42)
	if err != nil {
		t.Fatalf("MsgGet: %v", err)
	}

	payload := []byte("hello queue")
	if err := stub.MsgSend(msgid, 1, payload, false); err != nil {
		t.Fatalf("MsgSend: %v", err)
	}

	got, err := stub.MsgReceive(msgid, int32(len(payload)), 0, false)
	if err != nil {
		t.Fatalf("MsgReceive: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("round-tripped payload differs: %q", got)
	}

	if err := stub.MsgClose(msgid); err != nil {
		t.Fatalf("MsgClose: %v", err)
	}
}

func TestSemGetOperateClose(t *testing.T) {
	stub := startServerAndStub(t)

	semid, err := stub.SemGet(7)
	if err != nil {
		t.Fatalf("SemGet: %v", err)
	}

	if err := stub.SemOperate(semid, ncproto.Sembuf{Num: 0, Op: 1}, false); err != nil {
		t.Fatalf("SemOperate (incr): %v", err)
	}
	if err := stub.SemOperate(semid, ncproto.Sembuf{Num: 0, Op: -1}, false); err != nil {
		t.Fatalf("SemOperate (decr): %v", err)
	}

	if err := stub.SemClose(semid); err != nil {
		t.Fatalf("SemClose: %v", err)
	}
}
