package namestub

import proc "github.com/c9s/goprocinfo/linux"

// hostSnapshot collects the best-effort host load/mem pair attached to every
// NAME_ALIVE heartbeat, following the teacher's src/minimega/proc.go pattern
// of reading /proc directly through goprocinfo/linux rather than shelling
// out. Either read can fail off Linux or under a restricted /proc (e.g. a
// container without it mounted); callers get zero values rather than an
// error, since a heartbeat must never fail just because the snapshot did.
func hostSnapshot() (loadAvg1 float64, memFreeKB uint64) {
	if avg, err := proc.ReadLoadAvg("/proc/loadavg"); err == nil {
		loadAvg1 = avg.Last1Min
	}
	if mem, err := proc.ReadMemInfo("/proc/meminfo"); err == nil {
		memFreeKB = mem.MemFree
	}
	return
}
