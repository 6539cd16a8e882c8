// Command spawn0d is the "spawn0" server node (§6: "two spawner nodes (0
// and 4) host the servers under symbolic names spawn0, spawn1"): it
// colocates the Name Service daemon (§4.2, port 2) and the unified System V
// IPC daemon (§4.7-4.9, port 3) on one transport substrate, since both are
// bound to node 0 in the compile-time node/port map. The SysV daemon dials
// out to spawn1d for its RMem-backed shared-memory blocks.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/noc-os/ncruntime/internal/adminhttp"
	"github.com/noc-os/ncruntime/internal/nameservice"
	"github.com/noc-os/ncruntime/internal/rmemstub"
	"github.com/noc-os/ncruntime/internal/sysv"
	"github.com/noc-os/ncruntime/internal/topology"
	"github.com/noc-os/ncruntime/internal/transport"
	log "github.com/noc-os/ncruntime/pkg/minilog"
)

var (
	f_addr     = flag.String("addr", "127.0.0.1:9100", "address to listen on for the transport substrate")
	f_admin    = flag.String("admin", "127.0.0.1:9101", "address to listen on for the read-only HTTP admin surface")
	f_level    = flag.String("level", "info", "log level: debug, info, warn, error, fatal")
	f_capacity = flag.Int("capacity", 4096, "PNAME_MAX-sized registry capacity (procs and names)")
	f_ttl      = flag.Duration("heartbeat-ttl", 30*time.Second, "heartbeat TTL before the reaper evicts a ProcRecord")
	f_rmemAddr = flag.String("spawn1", "127.0.0.1:9200", "address of spawn1d, dialed for RMem-backed SHM blocks")
)

func usage() {
	fmt.Println("spawn0d: the Name Service and System V IPC daemons")
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	level, err := log.ParseLevel(*f_level)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log.AddLogger("stderr", os.Stderr, level, true)
	ring := log.AddRingLogger("ring", 256, level)

	sub := transport.New(topology.NameServiceNode, 5*time.Second)
	if err := sub.Listen(*f_addr); err != nil {
		log.Fatal("listen %s: %v", *f_addr, err)
	}
	if err := sub.Dial(topology.RMemNode, *f_rmemAddr); err != nil {
		log.Fatal("dial spawn1d at %s: %v", *f_rmemAddr, err)
	}

	nameSrv := nameservice.NewServer(sub, topology.NameServicePort, *f_capacity, *f_ttl)
	sysvSrv := sysv.NewServer(sub, topology.SysVPort, rmemstub.New(sub))

	admin := adminhttp.New("spawn0d", append(nameSrv.Collectors(), sysvSrv.Collectors()...), ring, func(r chi.Router) {
		r.Get("/stats", func(w http.ResponseWriter, req *http.Request) {
			procs, names := nameSrv.RegistrySnapshot()
			shm, msgq, sem := sysvSrv.ResourceCounts()
			adminhttp.WriteJSON(w, map[string]int{
				"live_procs": procs, "live_names": names,
				"shm_regions": shm, "msg_queues": msgq, "semaphores": sem,
			})
		})
		r.Get("/connections", func(w http.ResponseWriter, req *http.Request) {
			adminhttp.WriteJSON(w, sysvSrv.Connections().Snapshot())
		})
		r.Get("/heartbeats", func(w http.ResponseWriter, req *http.Request) {
			adminhttp.WriteJSON(w, nameSrv.HostSnapshot())
		})
	})

	go func() {
		log.Info("spawn0d: admin surface on %s", *f_admin)
		if err := http.ListenAndServe(*f_admin, admin); err != nil {
			log.Error("admin http: %v", err)
		}
	}()

	errCh := make(chan error, 2)
	go func() {
		log.Info("spawn0d: nameservice listening on %s (node %d, port %d)", sub.ListenAddr(), topology.NameServiceNode, topology.NameServicePort)
		errCh <- nameSrv.Serve()
	}()
	go func() {
		log.Info("spawn0d: sysv listening on %s (node %d, port %d)", sub.ListenAddr(), topology.SysVNode, topology.SysVPort)
		errCh <- sysvSrv.Serve()
	}()

	if err := <-errCh; err != nil {
		log.Fatal("spawn0d: %v", err)
	}
}
