package sysv

import (
	"testing"
	"time"

	"github.com/noc-os/ncruntime/pkg/ncproto"
)

func TestShmCreateOpenClose(t *testing.T) {
	_, client := startTestServer(t)

	create := roundTrip(t, client, ncproto.ShmCreateRequest{Name: "region-a", SizeBlocks: 2}, ncproto.SysvShmCreate)
	if !create.Header.Opcode.Succeeded() {
		t.Fatalf("CREATE failed: %v", create.Header.Opcode)
	}
	ret := create.Body.(ncproto.Ret)
	if ret.IpcId == 0 || ret.Page == 0 {
		t.Fatalf("expected nonzero ipcid/page, got %+v", ret)
	}

	dup := roundTrip(t, client, ncproto.ShmCreateRequest{Name: "region-a", SizeBlocks: 2}, ncproto.SysvShmCreate)
	if dup.Header.Opcode.Succeeded() {
		t.Fatal("CREATE of an existing name should fail")
	}

	open := roundTrip(t, client, ncproto.ShmOpenRequest{Name: "region-a"}, ncproto.SysvShmOpen)
	if !open.Header.Opcode.Succeeded() {
		t.Fatalf("OPEN failed: %v", open.Header.Opcode)
	}
	if open.Body.(ncproto.Ret).IpcId != ret.IpcId {
		t.Fatal("OPEN should return the same ipcid as CREATE")
	}

	closeReply := roundTrip(t, client, ncproto.ShmCloseRequest{IpcId: ret.IpcId}, ncproto.SysvShmClose)
	if !closeReply.Header.Opcode.Succeeded() {
		t.Fatalf("CLOSE failed: %v", closeReply.Header.Opcode)
	}
}

func TestShmUnlinkThenOpenFails(t *testing.T) {
	_, client := startTestServer(t)

	roundTrip(t, client, ncproto.ShmCreateRequest{Name: "region-b", SizeBlocks: 1}, ncproto.SysvShmCreate)

	unlink := roundTrip(t, client, ncproto.ShmUnlinkRequest{Name: "region-b"}, ncproto.SysvShmUnlink)
	if !unlink.Header.Opcode.Succeeded() {
		t.Fatalf("UNLINK failed: %v", unlink.Header.Opcode)
	}

	open := roundTrip(t, client, ncproto.ShmOpenRequest{Name: "region-b"}, ncproto.SysvShmOpen)
	if open.Header.Opcode.Succeeded() {
		t.Fatal("OPEN after UNLINK should fail")
	}
}

// TestShmInvalBroadcastsToConnectedPeers connects one client node to a
// region twice (CREATE, then OPEN), has that client call INVAL, and checks
// that an invalidation notice carrying the region's ipcid arrives on the
// node's snooper port.
func TestShmInvalBroadcastsToConnectedPeers(t *testing.T) {
	_, clientA := startTestServer(t)

	create := roundTrip(t, clientA, ncproto.ShmCreateRequest{Name: "shared", SizeBlocks: 1}, ncproto.SysvShmCreate)
	ipcId := create.Body.(ncproto.Ret).IpcId

	snoopMB, err := clientA.StdinboxGet(4) // topology.ShmSnooperPort
	if err != nil {
		t.Fatalf("StdinboxGet snooper: %v", err)
	}
	defer snoopMB.Close()

	// Register this client's pid (node 1) as connected, by opening the
	// region a second time — mirrors a real second process joining.
	roundTrip(t, clientA, ncproto.ShmOpenRequest{Name: "shared"}, ncproto.SysvShmOpen)

	inval := roundTrip(t, clientA, ncproto.ShmInvalRequest{IpcId: ipcId, Page: 0}, ncproto.SysvShmInval)
	if !inval.Header.Opcode.Succeeded() {
		t.Fatalf("INVAL failed: %v", inval.Header.Opcode)
	}

	notice, err := snoopMB.Read(2 * time.Second)
	if err != nil {
		t.Fatalf("expected a snoop notification: %v", err)
	}
	body, ok := notice.Body.(ncproto.ShmInvalRequest)
	if !ok || body.IpcId != ipcId {
		t.Fatalf("got %+v, want IpcId %d", notice.Body, ipcId)
	}
}
