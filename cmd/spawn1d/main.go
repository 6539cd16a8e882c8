// Command spawn1d is the "spawn1" server node (§6: "two spawner nodes (0
// and 4) host the servers under symbolic names spawn0, spawn1"): it runs
// the Remote Memory Service daemon (§4.4-4.5), a fixed pool of numbered
// blocks allocated and transferred over the mailbox/portal protocol.
// Persistence (badger-backed snapshotting) is opt-in via -persist, a
// supplemental feature the source has no equivalent of.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/noc-os/ncruntime/internal/adminhttp"
	"github.com/noc-os/ncruntime/internal/rmem"
	"github.com/noc-os/ncruntime/internal/topology"
	"github.com/noc-os/ncruntime/internal/transport"
	log "github.com/noc-os/ncruntime/pkg/minilog"
	"github.com/noc-os/ncruntime/pkg/ncproto"
)

var (
	f_addr      = flag.String("addr", "127.0.0.1:9200", "address to listen on for the transport substrate")
	f_admin     = flag.String("admin", "127.0.0.1:9201", "address to listen on for the read-only HTTP admin surface")
	f_level     = flag.String("level", "info", "log level: debug, info, warn, error, fatal")
	f_numBlocks = flag.Int("blocks", 1024, "RMEM_NUM_BLOCKS: number of blocks in the pool")
	f_persist   = flag.String("persist", "", "badger directory for write-behind pool persistence; empty disables it")
	f_ninep     = flag.String("ninep", "", "address to additionally export the block pool as a 9P tree; empty disables it")
)

func usage() {
	fmt.Println("spawn1d: the Remote Memory Service daemon")
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

	var persist *rmem.PersistentStore
	if *f_persist != "" {
		persist, err = rmem.OpenPersistentStore(*f_persist)
		if err != nil {
			log.Fatal("open badger store at %s: %v", *f_persist, err)
		}
		defer persist.Close()
	}

	sub := transport.New(topology.RMemNode, 5*time.Second)
	if err := sub.Listen(*f_addr); err != nil {
		log.Fatal("listen %s: %v", *f_addr, err)
	}

	srv := rmem.NewServer(sub, topology.RMemPort, *f_numBlocks, ncproto.RmemBlockSize, persist)

	if *f_ninep != "" {
		ninep := rmem.NewNineP(srv.Pool())
		go func() {
			log.Info("spawn1d: 9P tree on %s", *f_ninep)
			if err := ninep.Serve(*f_ninep); err != nil {
				log.Error("9P server: %v", err)
			}
		}()
	}

	admin := adminhttp.New("spawn1d", srv.Collectors(), ring, func(r chi.Router) {
		r.Get("/stats", func(w http.ResponseWriter, req *http.Request) {
			adminhttp.WriteJSON(w, srv.StatsSnapshot())
		})
	})

	go func() {
		log.Info("spawn1d: admin surface on %s", *f_admin)
		if err := http.ListenAndServe(*f_admin, admin); err != nil {
			log.Error("admin http: %v", err)
		}
	}()

	log.Info("spawn1d: listening on %s (node %d, port %d), %d blocks", sub.ListenAddr(), topology.RMemNode, topology.RMemPort, *f_numBlocks)
	if err := srv.Serve(); err != nil {
		log.Fatal("spawn1d: %v", err)
	}
}
