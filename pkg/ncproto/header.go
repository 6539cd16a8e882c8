package ncproto

import (
	"unsafe"

	"github.com/noc-os/ncruntime/pkg/ncpid"
)

// NodeNum identifies a physical NoC endpoint, stable for a boot (§3).
type NodeNum int32

// Header is the fixed-layout envelope shared by every request and reply
// message (§4.1). Exact field order and padding must match across every
// client and server: this is the single canonical layout the spec calls
// for, replacing the source's platform-dependent struct layout.
type Header struct {
	Opcode      Opcode
	SourceNode  NodeNum
	SourcePid   ncpid.Pid
	MailboxPort int32
	PortalPort  int32
	Flags       uint8
}

// Flag bits carried in Header.Flags.
const (
	FlagNone    uint8 = 0
	FlagNoWait  uint8 = 1 << 0 // IPC_NOWAIT: never block, fail with EAGAIN instead
	FlagForward uint8 = 1 << 1 // message arrived via a multi-hop route, not a direct link
)

func init() {
	// Static assertion (§4.1): the header alone, let alone header+union,
	// must fit in a single mailbox MTU.
	if unsafe.Sizeof(Header{}) > MailboxMTU {
		panic("ncproto: Header exceeds MailboxMTU")
	}
}
