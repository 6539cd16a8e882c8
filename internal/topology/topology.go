// Package topology holds the compile-time node/port bindings described in
// §6: each server daemon is bound to a fixed NoC node and well-known port,
// and the two spawner nodes are given symbolic names.
package topology

import "github.com/noc-os/ncruntime/pkg/ncproto"

const (
	NameServiceNode ncproto.NodeNum = 0
	NameServicePort int32           = 2

	RMemNode ncproto.NodeNum = 4
	RMemPort int32           = 2

	SysVNode ncproto.NodeNum = 0
	SysVPort int32           = 3

	ShmNode ncproto.NodeNum = 4
	ShmPort int32           = 3

	// ShmSnooperPort is the well-known port every client listens on for
	// SHM invalidation broadcasts (§4.7).
	ShmSnooperPort int32 = 4
)

// Spawners names the two nodes that host the service daemons.
var Spawners = map[string]ncproto.NodeNum{
	"spawn0": NameServiceNode,
	"spawn1": RMemNode,
}
