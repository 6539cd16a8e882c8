package nameservice

import (
	"testing"
	"time"

	"github.com/noc-os/ncruntime/internal/transport"
	"github.com/noc-os/ncruntime/pkg/ncpid"
	"github.com/noc-os/ncruntime/pkg/ncproto"
)

func startTestServer(t *testing.T) (*transport.Substrate, *transport.Substrate) {
	t.Helper()

	serverSub := transport.New(0, time.Second)
	if err := serverSub.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("listen: %v", err)
	}

	srv := NewServer(serverSub, 2, 64, time.Hour)
	go srv.Serve()

	clientSub := transport.New(1, time.Second)
	if err := clientSub.Dial(0, serverSub.ListenAddr()); err != nil {
		t.Fatalf("dial: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	return serverSub, clientSub
}

func roundTrip(t *testing.T, client *transport.Substrate, pid ncpid.Pid, body interface{}, opcode ncproto.Opcode) *ncproto.Message {
	t.Helper()

	mb, err := client.MailboxOpen(0, 2)
	if err != nil {
		t.Fatalf("MailboxOpen: %v", err)
	}
	defer mb.Close()

	req := &ncproto.Message{
		Header: ncproto.Header{Opcode: opcode, SourcePid: pid, MailboxPort: mb.LocalPort()},
		Body:   body,
	}
	if err := mb.Write(0, 2, req); err != nil {
		t.Fatalf("Write: %v", err)
	}

	reply, err := mb.Read(2 * time.Second)
	if err != nil {
		t.Fatalf("Read reply: %v", err)
	}
	return reply
}

func TestNameLinkLookupUnlink(t *testing.T) {
	_, client := startTestServer(t)

	setpid := roundTrip(t, client, ncpid.Null, ncproto.SetpidRequest{}, ncproto.NameSetpid)
	if !setpid.Header.Opcode.Succeeded() {
		t.Fatalf("SETPID failed: %v", setpid.Header.Opcode)
	}
	pid := setpid.Body.(ncproto.Ret).ProcInfo.Pid

	link := roundTrip(t, client, pid, ncproto.LinkRequest{Name: "cool-name", Pid: pid}, ncproto.NameLink)
	if !link.Header.Opcode.Succeeded() {
		t.Fatalf("LINK failed: %v", link.Header.Opcode)
	}

	lookup := roundTrip(t, client, pid, ncproto.LookupRequest{Name: "cool-name", Pid: ncpid.Null}, ncproto.NameLookup)
	if !lookup.Header.Opcode.Succeeded() {
		t.Fatalf("LOOKUP failed: %v", lookup.Header.Opcode)
	}
	if got := lookup.Body.(ncproto.Ret).ProcInfo.NodeNum; got != 1 {
		t.Fatalf("got nodenum %v, want 1", got)
	}

	unlink := roundTrip(t, client, pid, ncproto.UnlinkRequest{Name: "cool-name"}, ncproto.NameUnlink)
	if !unlink.Header.Opcode.Succeeded() {
		t.Fatalf("UNLINK failed: %v", unlink.Header.Opcode)
	}

	lookup2 := roundTrip(t, client, pid, ncproto.LookupRequest{Name: "cool-name", Pid: ncpid.Null}, ncproto.NameLookup)
	if lookup2.Header.Opcode.Succeeded() {
		t.Fatal("expected LOOKUP after UNLINK to fail")
	}
	if got := lookup2.Body.(ncproto.Ret).ErrCode; got != ncproto.ENOENT {
		t.Fatalf("got errcode %v, want ENOENT", got)
	}
}

func TestNameDoubleLinkRefcount(t *testing.T) {
	_, client := startTestServer(t)

	setpid := roundTrip(t, client, ncpid.Null, ncproto.SetpidRequest{}, ncproto.NameSetpid)
	pid := setpid.Body.(ncproto.Ret).ProcInfo.Pid

	for i := 0; i < 2; i++ {
		link := roundTrip(t, client, pid, ncproto.LinkRequest{Name: "x", Pid: pid}, ncproto.NameLink)
		if !link.Header.Opcode.Succeeded() {
			t.Fatalf("LINK #%d failed", i)
		}
	}

	unlink1 := roundTrip(t, client, pid, ncproto.UnlinkRequest{Name: "x"}, ncproto.NameUnlink)
	if !unlink1.Header.Opcode.Succeeded() {
		t.Fatal("first UNLINK should succeed")
	}

	lookup := roundTrip(t, client, pid, ncproto.LookupRequest{Name: "x", Pid: ncpid.Null}, ncproto.NameLookup)
	if !lookup.Header.Opcode.Succeeded() {
		t.Fatal("name should still resolve after one of two UNLINKs")
	}

	unlink2 := roundTrip(t, client, pid, ncproto.UnlinkRequest{Name: "x"}, ncproto.NameUnlink)
	if !unlink2.Header.Opcode.Succeeded() {
		t.Fatal("second UNLINK should succeed")
	}

	lookup2 := roundTrip(t, client, pid, ncproto.LookupRequest{Name: "x", Pid: ncpid.Null}, ncproto.NameLookup)
	if lookup2.Header.Opcode.Succeeded() {
		t.Fatal("name should be gone after refcount reaches zero")
	}
}

func TestNameLinkRejectsOverlongName(t *testing.T) {
	_, client := startTestServer(t)

	setpid := roundTrip(t, client, ncpid.Null, ncproto.SetpidRequest{}, ncproto.NameSetpid)
	pid := setpid.Body.(ncproto.Ret).ProcInfo.Pid

	longName := make([]byte, ncproto.ProcNameMax)
	for i := range longName {
		longName[i] = 'a'
	}

	link := roundTrip(t, client, pid, ncproto.LinkRequest{Name: string(longName), Pid: pid}, ncproto.NameLink)
	if link.Header.Opcode.Succeeded() {
		t.Fatal("expected overlong name to be rejected")
	}
	if got := link.Body.(ncproto.Ret).ErrCode; got != ncproto.EINVAL {
		t.Fatalf("got errcode %v, want EINVAL", got)
	}
}

func TestNameSetpgidGetpgidAndGroupMembers(t *testing.T) {
	_, client := startTestServer(t)

	setpid1 := roundTrip(t, client, ncpid.Null, ncproto.SetpidRequest{}, ncproto.NameSetpid)
	pid1 := setpid1.Body.(ncproto.Ret).ProcInfo.Pid

	setpid2 := roundTrip(t, client, ncpid.Null, ncproto.SetpidRequest{}, ncproto.NameSetpid)
	pid2 := setpid2.Body.(ncproto.Ret).ProcInfo.Pid

	setpgid := roundTrip(t, client, pid1, ncproto.SetpgidRequest{Pid: pid1, Pgid: ncpid.Gid(pid1)}, ncproto.NameSetpgid)
	if !setpgid.Header.Opcode.Succeeded() {
		t.Fatalf("SETPGID (founder) failed: %v", setpgid.Header.Opcode)
	}

	join := roundTrip(t, client, pid2, ncproto.SetpgidRequest{Pid: pid2, Pgid: ncpid.Gid(pid1)}, ncproto.NameSetpgid)
	if !join.Header.Opcode.Succeeded() {
		t.Fatalf("SETPGID (join) failed: %v", join.Header.Opcode)
	}

	getpgid := roundTrip(t, client, pid2, ncproto.GetpgidRequest{Pid: pid2}, ncproto.NameGetpgid)
	if got := getpgid.Body.(ncproto.Ret).Gid; got != ncpid.Gid(pid1) {
		t.Fatalf("got gid %v, want %v", got, pid1)
	}

	members := roundTrip(t, client, pid1, ncproto.GroupMembersRequest{Gid: ncpid.Gid(pid1)}, ncproto.NameGroupMembers)
	reply := members.Body.(ncproto.GroupMembersReply)
	if len(reply.Members) != 2 {
		t.Fatalf("got %d members, want 2", len(reply.Members))
	}
}

func TestNameSetpgidUnknownPgidFails(t *testing.T) {
	_, client := startTestServer(t)

	setpid := roundTrip(t, client, ncpid.Null, ncproto.SetpidRequest{}, ncproto.NameSetpid)
	pid := setpid.Body.(ncproto.Ret).ProcInfo.Pid

	bogus := ncpid.Pack(9999, 7)
	setpgid := roundTrip(t, client, pid, ncproto.SetpgidRequest{Pid: pid, Pgid: ncpid.Gid(bogus)}, ncproto.NameSetpgid)
	if setpgid.Header.Opcode.Succeeded() {
		t.Fatal("expected SETPGID with unknown pgid to fail")
	}
	if got := setpgid.Body.(ncproto.Ret).ErrCode; got != ncproto.EPERM {
		t.Fatalf("got errcode %v, want EPERM", got)
	}
}
