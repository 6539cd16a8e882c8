package rmem

import (
	"sync"
	"time"

	"github.com/noc-os/ncruntime/pkg/ncproto"
)

// stats accumulates the per-opcode counters and timings §4.4 requires,
// separate from Pool because it is mutated by the single server-loop
// goroutine only (no lock needed there) but read by StatsSnapshot for the
// admin /stats route from a different goroutine, hence its own mutex.
type stats struct {
	mu sync.Mutex

	nallocs, nfrees, nreads, nwrites int64
	talloc, tfree, tread, twrite     time.Duration
	tstart, tshutdown                time.Time
}

func newStats() *stats {
	return &stats{tstart: time.Now()}
}

func (s *stats) recordAlloc(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nallocs++
	s.talloc += d
}

func (s *stats) recordFree(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nfrees++
	s.tfree += d
}

func (s *stats) recordRead(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nreads++
	s.tread += d
}

func (s *stats) recordWrite(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nwrites++
	s.twrite += d
}

func (s *stats) recordShutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tshutdown = time.Now()
}

func (s *stats) snapshot(nblocks int64) ncproto.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := ncproto.Stats{
		Nallocs: s.nallocs, Nfrees: s.nfrees, Nreads: s.nreads, Nwrites: s.nwrites,
		Talloc: s.talloc.Nanoseconds(), Tfree: s.tfree.Nanoseconds(),
		Tread: s.tread.Nanoseconds(), Twrite: s.twrite.Nanoseconds(),
		Tstart:  s.tstart.UnixNano(),
		Nblocks: nblocks,
	}
	if !s.tshutdown.IsZero() {
		out.Tshutdown = s.tshutdown.UnixNano()
	}
	return out
}
