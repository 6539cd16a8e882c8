package connections

import "testing"

func TestConnectDisconnectRoundTrip(t *testing.T) {
	tbl := NewTable()

	tbl.Connect(1, 2)
	tbl.Connect(1, 2)

	c, ok := tbl.Lookup(1, 2)
	if !ok || c.Refcount != 2 {
		t.Fatalf("got %+v, ok=%v, want refcount 2", c, ok)
	}

	tbl.Disconnect(1, 2)
	c, ok = tbl.Lookup(1, 2)
	if !ok || c.Refcount != 1 {
		t.Fatalf("got %+v, ok=%v, want refcount 1", c, ok)
	}

	tbl.Disconnect(1, 2)
	if _, ok := tbl.Lookup(1, 2); ok {
		t.Fatal("connection should be gone after matched connect/disconnect pairs")
	}
}

func TestSnapshotOnlyIncludesLiveConnections(t *testing.T) {
	tbl := NewTable()

	tbl.Connect(1, 2)
	tbl.Connect(3, 4)
	tbl.Disconnect(3, 4)

	snap := tbl.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("got %d live connections, want 1", len(snap))
	}
	if snap[0].RemotePid != 1 || snap[0].RemotePort != 2 {
		t.Fatalf("got %+v", snap[0])
	}
}

func TestReusesClearedSlot(t *testing.T) {
	tbl := NewTable()

	tbl.Connect(1, 2)
	tbl.Disconnect(1, 2)
	tbl.Connect(3, 4)

	if len(tbl.conns) != 1 {
		t.Fatalf("expected cleared slot to be reused, got %d entries", len(tbl.conns))
	}
}
