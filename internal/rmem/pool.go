// Package rmem implements the Remote Memory server (§4.4): a fixed pool of
// RMEM_NUM_BLOCKS blocks of RMEM_BLOCK_SIZE bytes each, served over the
// mailbox+portal protocol, grounded on the teacher's iomeshage transfer
// bookkeeping (internal/iomeshage/iomeshage.go) adapted from "file parts on
// disk" to "blocks in a fixed in-memory arena".
package rmem

import (
	"sync"

	"github.com/noc-os/ncruntime/pkg/ncproto"
)

// Pool owns the byte arena and the allocation bitmap (§3: "RMemBlock...
// pool is an array of RMEM_NUM_BLOCKS blocks plus a bitmap"). Block 0 is
// reserved from construction on: it is always marked allocated and is
// never returned by Alloc, serving as the NULL-block target for bogus
// reads/writes per §4.4.
type Pool struct {
	mu     sync.Mutex
	blocks [][]byte
	bitmap []bool

	nblocks int64 // count of allocated blocks, including block 0
}

// NewPool allocates the arena. numBlocks and blockSize are normally
// ncproto.RmemNumBlocks / ncproto.RmemBlockSize; parameterized here so
// tests can use a small pool.
func NewPool(numBlocks, blockSize int) *Pool {
	p := &Pool{
		blocks: make([][]byte, numBlocks),
		bitmap: make([]bool, numBlocks),
	}
	for i := range p.blocks {
		p.blocks[i] = make([]byte, blockSize)
	}
	p.bitmap[0] = true
	p.nblocks = 1
	return p
}

// Alloc finds the first clear bit, sets it, and returns its index. Returns
// (0, false) when the pool is full, matching §4.4's "reply RMEM_NULL and
// -ENOMEM" (block 0 doubles as RMEM_NULL on failure since it can never be
// legitimately returned by Alloc).
func (p *Pool) Alloc() (int32, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := 1; i < len(p.bitmap); i++ {
		if !p.bitmap[i] {
			p.bitmap[i] = true
			p.nblocks++
			return int32(i), true
		}
	}
	return 0, false
}

// Free clears blknum's bit and zeroes its contents. Per §4.4, block 0 is
// never freeable: it and any other out-of-range block number return
// -EINVAL. Freeing a block that is not allocated, or freeing when only one
// block is allocated ("remote memory is empty" when nblocks == 1), returns
// -EFAULT. Errors are ncproto.ErrCode values so the server handler can
// translate directly into a reply.
func (p *Pool) Free(blknum int32) ncproto.ErrCode {
	if blknum <= 0 || int(blknum) >= len(p.bitmap) {
		return ncproto.EINVAL
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.bitmap[blknum] {
		return ncproto.EFAULT
	}
	if p.nblocks <= 1 {
		return ncproto.EFAULT
	}

	for i := range p.blocks[blknum] {
		p.blocks[blknum][i] = 0
	}
	p.bitmap[blknum] = false
	p.nblocks--
	return ncproto.OK
}

// Write copies exactly len(data) bytes into blknum's block and reports
// whether blknum was a valid, allocated target. Per §4.4 the transfer must
// always occur — the server always calls Write, and on an invalid target
// writes into block 0 instead so the client's portal write can still
// drain and never stalls.
func (p *Pool) Write(blknum int32, data []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	valid := blknum > 0 && int(blknum) < len(p.bitmap) && p.bitmap[blknum]
	target := blknum
	if !valid {
		target = 0
	}
	copy(p.blocks[target], data)
	return valid
}

// Read returns a copy of blknum's bytes and whether blknum was valid. On an
// invalid target it returns block 0's bytes instead, mirroring Write's
// fault-tolerant target substitution.
func (p *Pool) Read(blknum int32) ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	valid := blknum > 0 && int(blknum) < len(p.bitmap) && p.bitmap[blknum]
	target := blknum
	if !valid {
		target = 0
	}
	out := make([]byte, len(p.blocks[target]))
	copy(out, p.blocks[target])
	return out, valid
}

// Nblocks reports the current popcount of the bitmap (invariant (ii)).
func (p *Pool) Nblocks() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nblocks
}

// Snapshot returns the bitmap and block bytes for persist.go to serialize.
// The caller must not mutate the returned slices.
func (p *Pool) Snapshot() (bitmap []bool, blocks [][]byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]bool(nil), p.bitmap...), p.blocks
}

// Restore replaces the pool's bitmap and block contents, used on startup to
// recover a previous badger-backed snapshot (persist.go).
func (p *Pool) Restore(bitmap []bool, blocks [][]byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	copy(p.bitmap, bitmap)
	p.nblocks = 0
	for i, set := range p.bitmap {
		if set {
			p.nblocks++
			if i < len(blocks) {
				copy(p.blocks[i], blocks[i])
			}
		}
	}
}
