package rmem

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"sync"

	"github.com/Harvey-OS/ninep/protocol"
)

// NineP exports the block pool as a minimal read/write 9P2000 tree so any
// 9P-aware client can read or write a block's bytes as /blocks/<n>, without
// speaking the mailbox/portal protocol (SPEC_FULL §4.4-4.5). This surface
// never bypasses the bitmap: touching an unallocated block returns an I/O
// error from the synthetic file — unlike the mailbox protocol, a 9P
// transfer has no portal-stall liveness hazard to guard against, so there
// is no need to silently redirect into block 0 here.
type NineP struct {
	pool *Pool

	mu   sync.Mutex
	fids map[protocol.FID]ninepPath
}

// ninepPath names a node in the synthetic tree: nil for the root, or
// {"blocks", "<n>"} for a block file.
type ninepPath []string

func NewNineP(pool *Pool) *NineP {
	return &NineP{pool: pool, fids: make(map[protocol.FID]ninepPath)}
}

// Serve listens on addr and runs the 9P server until the listener is
// closed.
func (n *NineP) Serve(addr string) error {
	srv, err := protocol.NewServer(n)
	if err != nil {
		return err
	}
	return srv.ListenAndServe()
}

func (n *NineP) Rversion(msize protocol.MaxSize, version string) (protocol.MaxSize, string, error) {
	return msize, "9P2000", nil
}

func (n *NineP) Rattach(fid, afid protocol.FID, uname, aname string) (protocol.QID, error) {
	n.mu.Lock()
	n.fids[fid] = ninepPath{}
	n.mu.Unlock()
	return n.qidFor(ninepPath{}), nil
}

func (n *NineP) Rwalk(fid, newfid protocol.FID, paths []string) ([]protocol.QID, error) {
	n.mu.Lock()
	base, ok := n.fids[fid]
	n.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("ninep: unknown fid %v", fid)
	}

	qids := make([]protocol.QID, 0, len(paths))
	cur := append(ninepPath(nil), base...)
	for _, p := range paths {
		next := append(append(ninepPath(nil), cur...), p)
		if !n.exists(next) {
			return qids, fmt.Errorf("ninep: no such file %v", next)
		}
		cur = next
		qids = append(qids, n.qidFor(cur))
	}

	n.mu.Lock()
	n.fids[newfid] = cur
	n.mu.Unlock()
	return qids, nil
}

// exists reports whether path names the root, the "blocks" directory, or a
// valid block number within the pool's range.
func (n *NineP) exists(path ninepPath) bool {
	switch len(path) {
	case 0:
		return true
	case 1:
		return path[0] == "blocks"
	case 2:
		if path[0] != "blocks" {
			return false
		}
		blk, err := strconv.Atoi(path[1])
		return err == nil && blk >= 0 && blk < len(n.pool.bitmap)
	default:
		return false
	}
}

func (n *NineP) isDir(path ninepPath) bool {
	return len(path) < 2
}

func (n *NineP) qidFor(path ninepPath) protocol.QID {
	var typ uint8
	if n.isDir(path) {
		typ = protocol.QTDIR
	}
	var pathID uint64
	for _, c := range path {
		for _, r := range c {
			pathID = pathID*131 + uint64(r)
		}
	}
	return protocol.QID{Type: typ, Path: pathID}
}

func (n *NineP) Ropen(fid protocol.FID, mode protocol.Mode) (protocol.QID, protocol.MaxSize, error) {
	n.mu.Lock()
	path, ok := n.fids[fid]
	n.mu.Unlock()
	if !ok {
		return protocol.QID{}, 0, fmt.Errorf("ninep: unknown fid %v", fid)
	}
	return n.qidFor(path), protocol.MaxSize(len(n.pool.blocks[0])), nil
}

func (n *NineP) Rcreate(fid protocol.FID, name string, perm protocol.Perm, mode protocol.Mode) (protocol.QID, protocol.MaxSize, error) {
	return protocol.QID{}, 0, fmt.Errorf("ninep: create not supported")
}

func (n *NineP) Rclunk(fid protocol.FID) error {
	n.mu.Lock()
	delete(n.fids, fid)
	n.mu.Unlock()
	return nil
}

func (n *NineP) Rremove(fid protocol.FID) error {
	return fmt.Errorf("ninep: remove not supported")
}

func (n *NineP) Rflush(tag protocol.Tag) error { return nil }

func (n *NineP) Rwstat(fid protocol.FID, data []byte) error {
	return fmt.Errorf("ninep: wstat not supported")
}

func (n *NineP) Rstat(fid protocol.FID) ([]byte, error) {
	n.mu.Lock()
	path, ok := n.fids[fid]
	n.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("ninep: unknown fid %v", fid)
	}

	name := "/"
	var length uint64
	mode := uint32(protocol.DMDIR | 0555)
	if len(path) > 0 {
		name = path[len(path)-1]
	}
	if !n.isDir(path) {
		mode = 0644
		length = uint64(len(n.pool.blocks[0]))
	}

	return marshalStat(n.qidFor(path), mode, name, length), nil
}

func (n *NineP) blockNum(path ninepPath) (int32, error) {
	if len(path) != 2 || path[0] != "blocks" {
		return 0, fmt.Errorf("ninep: not a block file")
	}
	v, err := strconv.Atoi(path[1])
	if err != nil {
		return 0, err
	}
	return int32(v), nil
}

func (n *NineP) Rread(fid protocol.FID, offset protocol.Offset, count protocol.Count) ([]byte, error) {
	n.mu.Lock()
	path, ok := n.fids[fid]
	n.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("ninep: unknown fid %v", fid)
	}

	blk, err := n.blockNum(path)
	if err != nil {
		return nil, err
	}

	data, valid := n.pool.Read(blk)
	if !valid {
		return nil, fmt.Errorf("ninep: block %d not allocated", blk)
	}

	if int(offset) >= len(data) {
		return nil, nil
	}
	end := int(offset) + int(count)
	if end > len(data) {
		end = len(data)
	}
	return data[offset:end], nil
}

func (n *NineP) Rwrite(fid protocol.FID, offset protocol.Offset, data []byte) (protocol.Count, error) {
	n.mu.Lock()
	path, ok := n.fids[fid]
	n.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("ninep: unknown fid %v", fid)
	}

	blk, err := n.blockNum(path)
	if err != nil {
		return 0, err
	}

	full, valid := n.pool.Read(blk)
	if !valid {
		return 0, fmt.Errorf("ninep: block %d not allocated", blk)
	}

	end := int(offset) + len(data)
	if end > len(full) {
		end = len(full)
		data = data[:end-int(offset)]
	}
	copy(full[offset:end], data)
	n.pool.Write(blk, full)

	return protocol.Count(len(data)), nil
}

// marshalStat encodes a 9P2000 stat record: a fixed header followed by
// four length-prefixed strings (name, uid, gid, muid), with the overall
// record itself length-prefixed per the wire format.
func marshalStat(qid protocol.QID, mode uint32, name string, length uint64) []byte {
	buf := make([]byte, 0, 64+len(name))
	buf = append(buf, 0, 0) // size placeholder
	buf = appendU16(buf, 0)
	buf = appendU32(buf, 0)
	buf = append(buf, qid.Type)
	buf = appendU32(buf, qid.Version)
	buf = appendU64(buf, qid.Path)
	buf = appendU32(buf, mode)
	buf = appendU32(buf, 0)
	buf = appendU32(buf, 0)
	buf = appendU64(buf, length)
	buf = appendString(buf, name)
	buf = appendString(buf, "nc")
	buf = appendString(buf, "nc")
	buf = appendString(buf, "")

	size := len(buf) - 2
	binary.LittleEndian.PutUint16(buf[0:2], uint16(size))
	return buf
}

func appendU16(b []byte, v uint16) []byte {
	return append(b, byte(v), byte(v>>8))
}

func appendU32(b []byte, v uint32) []byte {
	return append(b, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func appendU64(b []byte, v uint64) []byte {
	return append(b, byte(v), byte(v>>8), byte(v>>16), byte(v>>24), byte(v>>32), byte(v>>40), byte(v>>48), byte(v>>56))
}

func appendString(b []byte, s string) []byte {
	b = appendU16(b, uint16(len(s)))
	return append(b, s...)
}
