package sysv

import "github.com/rs/xid"

// newHandle mints an ipcid/msgid/semid. xid's embedded counter is unique
// per process per millisecond-ish window, which is more than this service
// ever needs for a single unified server; Counter() gives us a compact int32
// without carrying the full 12-byte id around in every map key.
func newHandle() int32 {
	return int32(xid.New().Counter())
}
