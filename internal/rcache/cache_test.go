package rcache

import (
	"bytes"
	"testing"
)

type fakeBacking struct {
	data map[int32][]byte
}

func newFakeBacking() *fakeBacking { return &fakeBacking{data: make(map[int32][]byte)} }

func (f *fakeBacking) Read(blknum int32) ([]byte, error) {
	d, ok := f.data[blknum]
	if !ok {
		d = make([]byte, 8)
	}
	return append([]byte(nil), d...), nil
}

func (f *fakeBacking) Write(blknum int32, data []byte) error {
	f.data[blknum] = append([]byte(nil), data...)
	return nil
}

func TestBypassNeverCaches(t *testing.T) {
	backing := newFakeBacking()
	c := New(backing, NewBypassPolicy())

	if err := c.Put(1, bytes.Repeat([]byte{9}, 8)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if c.Resident(1) {
		t.Fatal("bypass policy must never leave a line resident")
	}
	if !bytes.Equal(backing.data[1], bytes.Repeat([]byte{9}, 8)) {
		t.Fatal("bypass Put should write through immediately")
	}
}

func TestFIFOEvictsInInsertionOrder(t *testing.T) {
	backing := newFakeBacking()
	c := New(backing, NewFIFOPolicy(2))

	if _, err := c.Get(1); err != nil {
		t.Fatalf("Get(1): %v", err)
	}
	if _, err := c.Get(2); err != nil {
		t.Fatalf("Get(2): %v", err)
	}
	if _, err := c.Get(3); err != nil {
		t.Fatalf("Get(3): %v", err)
	}

	if c.Resident(1) {
		t.Fatal("block 1 should have been evicted first (FIFO)")
	}
	if !c.Resident(2) || !c.Resident(3) {
		t.Fatal("blocks 2 and 3 should remain resident")
	}
}

func TestLRUEvictsLeastRecentlyUsed(t *testing.T) {
	backing := newFakeBacking()
	c := New(backing, NewLRUPolicy(2))

	c.Get(1)
	c.Get(2)
	c.Get(1) // touch 1, making 2 the LRU victim
	c.Get(3)

	if c.Resident(2) {
		t.Fatal("block 2 should have been evicted (least recently used)")
	}
	if !c.Resident(1) || !c.Resident(3) {
		t.Fatal("blocks 1 and 3 should remain resident")
	}
}

func TestDirtyLineFlushesOnEviction(t *testing.T) {
	backing := newFakeBacking()
	c := New(backing, NewFIFOPolicy(1))

	c.Get(1)
	if err := c.Put(1, bytes.Repeat([]byte{0x55}, 8)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	// forces eviction of block 1
	if _, err := c.Get(2); err != nil {
		t.Fatalf("Get(2): %v", err)
	}

	if !bytes.Equal(backing.data[1], bytes.Repeat([]byte{0x55}, 8)) {
		t.Fatal("dirty line must be flushed to backing store on eviction")
	}
}

func TestFlushAllClearsDirtyBits(t *testing.T) {
	backing := newFakeBacking()
	c := New(backing, NewLRUPolicy(4))

	c.Get(1)
	c.Put(1, bytes.Repeat([]byte{1}, 8))
	c.Get(2)
	c.Put(2, bytes.Repeat([]byte{2}, 8))

	if err := c.FlushAll(); err != nil {
		t.Fatalf("FlushAll: %v", err)
	}

	line1, _ := c.Get(1)
	line2, _ := c.Get(2)
	if line1.Dirty || line2.Dirty {
		t.Fatal("no line should be dirty after FlushAll")
	}
}

func TestSelectPolicyPreservesResidentLines(t *testing.T) {
	backing := newFakeBacking()
	c := New(backing, NewFIFOPolicy(4))

	c.Get(1)
	c.Get(2)

	c.SelectPolicy(NewLRUPolicy(4))

	if !c.Resident(1) || !c.Resident(2) {
		t.Fatal("switching policy must not purge resident lines")
	}
}
