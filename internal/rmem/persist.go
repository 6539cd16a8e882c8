package rmem

import (
	"bytes"
	"encoding/gob"

	badger "github.com/dgraph-io/badger/v4"
)

// snapshotKey is the single badger key a PersistentStore reads/writes. The
// protocol is unchanged by persistence (SPEC_FULL §4.4-4.5): this is purely
// a supplemental write-behind snapshot of the block pool so a restarted
// server can recover allocated block contents, which the source does not
// attempt.
var snapshotKey = []byte("rmem/pool-snapshot")

type poolSnapshot struct {
	Bitmap []bool
	Blocks [][]byte
}

// PersistentStore wraps a badger KV store holding exactly one snapshot
// record.
type PersistentStore struct {
	db *badger.DB
}

// OpenPersistentStore opens (creating if absent) a badger database rooted
// at dir.
func OpenPersistentStore(dir string) (*PersistentStore, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &PersistentStore{db: db}, nil
}

func (p *PersistentStore) Close() error {
	return p.db.Close()
}

// Save writes the current {bitmap, block bytes} as the new snapshot,
// replacing any previous one.
func (p *PersistentStore) Save(bitmap []bool, blocks [][]byte) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(poolSnapshot{Bitmap: bitmap, Blocks: blocks}); err != nil {
		return err
	}

	return p.db.Update(func(txn *badger.Txn) error {
		return txn.Set(snapshotKey, buf.Bytes())
	})
}

// Load returns the most recent snapshot, or ok=false if none has been
// saved yet.
func (p *PersistentStore) Load() (bitmap []bool, blocks [][]byte, ok bool) {
	var raw []byte
	err := p.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(snapshotKey)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			raw = append([]byte(nil), val...)
			return nil
		})
	})
	if err != nil {
		return nil, nil, false
	}

	var snap poolSnapshot
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&snap); err != nil {
		return nil, nil, false
	}
	return snap.Bitmap, snap.Blocks, true
}
