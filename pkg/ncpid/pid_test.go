package ncpid

import "testing"

func TestPackRoundTrip(t *testing.T) {
	cases := []struct {
		id, source int
	}{
		{0, 0},
		{1, 1},
		{MaxID, 63},
		{42, 7},
	}

	for _, c := range cases {
		p := Pack(c.id, c.source)
		if got := p.ID(); got != c.id {
			t.Errorf("Pack(%d,%d).ID() = %d, want %d", c.id, c.source, got, c.id)
		}
		if got := p.Source(); got != c.source {
			t.Errorf("Pack(%d,%d).Source() = %d, want %d", c.id, c.source, got, c.source)
		}
	}
}

func TestNullPid(t *testing.T) {
	if !Null.IsNull() {
		t.Fatal("Null.IsNull() = false")
	}
	if Null.ID() != -1 || Null.Source() != -1 {
		t.Fatal("Null fields should read as -1")
	}
	if Pack(1, 1).IsNull() {
		t.Fatal("a packed pid must never equal Null")
	}
}
