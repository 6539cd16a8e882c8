package transport

import "github.com/noc-os/ncruntime/pkg/ncproto"

type command int

const (
	cmdACK command = iota
	cmdTOPO
	cmdMSG
	cmdPortalAllow
	cmdPortalData
)

// lollipopLength bounds the flood sequence space before it wraps, exactly
// as meshage's LOLLIPOP_LENGTH does for its MSA sequencing.
const lollipopLength = 16

// frame is the substrate-level envelope that rides over a link. It carries
// either topology gossip (cmdTOPO), a routed ncproto.Message (cmdMSG), or
// portal control/data (cmdPortalAllow/cmdPortalData). This is one layer
// below ncproto.Message: ncproto never sees routing concerns like
// CurrentRoute or the flood sequence id.
type frame struct {
	Command      command
	Source       NodeNum
	Dest         NodeNum
	DestPort     int32 // cmdMSG: local mailbox port at Dest to deliver into
	CurrentRoute []NodeNum
	Instance     string
	Seq          uint64
	AckSeq       uint64

	Topology map[NodeNum][]NodeNum // cmdTOPO body
	Msg      *ncproto.Message      // cmdMSG body

	PortalPort int32  // cmdPortalAllow/cmdPortalData
	PortalData []byte // cmdPortalData body
}
