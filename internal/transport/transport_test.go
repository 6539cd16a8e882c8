package transport

import (
	"encoding/gob"
	"testing"
	"time"

	"golang.org/x/net/nettest"

	"github.com/noc-os/ncruntime/pkg/ncproto"
)

func TestFrameRoundTripOverPipe(t *testing.T) {
	c1, c2 := nettest.Pipe()
	defer c1.Close()
	defer c2.Close()

	enc := gob.NewEncoder(c1)
	dec := gob.NewDecoder(c2)

	sent := &frame{Command: cmdTOPO, Source: 1, Seq: 7, Topology: map[NodeNum][]NodeNum{1: {2}}}
	go func() {
		if err := enc.Encode(sent); err != nil {
			t.Errorf("encode: %v", err)
		}
	}()

	var got frame
	if err := dec.Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Seq != sent.Seq || got.Source != sent.Source {
		t.Fatalf("got %+v, want %+v", got, sent)
	}
}

func twoLinkedSubstrates(t *testing.T) (*Substrate, *Substrate) {
	t.Helper()

	a := New(1, time.Second)
	b := New(2, time.Second)

	if err := a.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := a.listener.Addr().String()

	if err := b.Dial(1, addr); err != nil {
		t.Fatalf("dial: %v", err)
	}

	// allow the handshake + first topology announce to settle
	time.Sleep(50 * time.Millisecond)

	return a, b
}

func TestMailboxRoundTrip(t *testing.T) {
	a, b := twoLinkedSubstrates(t)

	serverMB, err := a.StdinboxGet(2)
	if err != nil {
		t.Fatalf("StdinboxGet: %v", err)
	}
	defer serverMB.Close()

	clientMB, err := b.MailboxOpen(1, 2)
	if err != nil {
		t.Fatalf("MailboxOpen: %v", err)
	}
	defer clientMB.Close()

	req := &ncproto.Message{
		Header: ncproto.Header{Opcode: ncproto.NameLookup, SourcePid: -1, MailboxPort: clientMB.LocalPort()},
		Body:   ncproto.LookupRequest{Name: "cool-name"},
	}
	if err := clientMB.Write(1, 2, req); err != nil {
		t.Fatalf("Write request: %v", err)
	}

	got, err := serverMB.Read(2 * time.Second)
	if err != nil {
		t.Fatalf("server Read: %v", err)
	}
	if got.Header.Opcode != ncproto.NameLookup {
		t.Fatalf("got opcode %v", got.Header.Opcode)
	}

	reply := &ncproto.Message{
		Header: ncproto.Header{Opcode: ncproto.NameLookup.Reply(true)},
		Body:   ncproto.Ret{ErrCode: ncproto.OK},
	}
	if err := serverMB.Write(got.Header.SourceNode, got.Header.MailboxPort, reply); err != nil {
		t.Fatalf("Write reply: %v", err)
	}

	got, err = clientMB.Read(2 * time.Second)
	if err != nil {
		t.Fatalf("client Read: %v", err)
	}
	if !got.Header.Opcode.Succeeded() {
		t.Fatalf("expected success reply, got %v", got.Header.Opcode)
	}
}

func TestPortalOneShot(t *testing.T) {
	a, b := twoLinkedSubstrates(t)

	portal := a.PortalAllow(2, 9)
	sender := b.PortalOpen(1, 9)

	payload := []byte("hello block")
	errCh := make(chan error, 1)
	go func() { errCh <- sender.Write(payload, 2*time.Second) }()

	got, err := portal.Read(2 * time.Second)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("Write: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("got %q, want %q", got, payload)
	}

	if err := sender.Write(payload, time.Second); err == nil {
		t.Fatal("second Write on a one-shot portal should fail")
	}
}
