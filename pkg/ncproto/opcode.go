package ncproto

import "fmt"

// Opcode identifies the operation carried by a Message. Opcodes are
// partitioned per service so a server never has to guess which table to
// dispatch through; NAME_*, RMEM_* and SYSV_* never overlap.
type Opcode int32

const (
	// Name Service (§4.2)
	NameSetpid Opcode = 1 + iota
	NameLink
	NameUnlink
	NameLookup
	NameAlive
	NameGetpgid
	NameSetpgid
	NameGroupMembers
	NameExit
	nameOpcodeEnd
)

const (
	// Remote Memory Service (§4.4)
	RmemAlloc Opcode = 100 + iota
	RmemFree
	RmemWrite
	RmemRead
	RmemStats
	RmemExit
	rmemOpcodeEnd
)

const (
	// System V IPC Service (§4.7-4.9)
	SysvShmCreate Opcode = 200 + iota
	SysvShmOpen
	SysvShmClose
	SysvShmUnlink
	SysvShmFtruncate
	SysvShmInval
	SysvMsgGet
	SysvMsgClose
	SysvMsgSend
	SysvMsgReceive
	SysvSemGet
	SysvSemClose
	SysvSemOperate
	SysvExit
	sysvOpcodeEnd
)

// Every reply opcode is offset from its request opcode by one of these two
// sentinels, so a client can dispatch success/failure before it even parses
// the reply union (§4.1).
const replyBit Opcode = 1 << 16

const (
	flagSuccess Opcode = replyBit
	flagFail    Opcode = replyBit * 2
)

// Reply turns a request opcode into its success or failure reply opcode.
func (op Opcode) Reply(ok bool) Opcode {
	if ok {
		return op | flagSuccess
	}
	return op | flagFail
}

// IsReply reports whether op carries the success/fail reply tag.
func (op Opcode) IsReply() bool {
	return op&(flagSuccess|flagFail) != 0
}

// Succeeded reports whether a reply opcode is the success variant. Only
// meaningful when IsReply() is true.
func (op Opcode) Succeeded() bool {
	return op&flagSuccess != 0
}

// Request strips the reply tag, returning the original request opcode.
func (op Opcode) Request() Opcode {
	return op &^ (flagSuccess | flagFail)
}

func (op Opcode) String() string {
	base := op.Request()
	suffix := ""
	if op.IsReply() {
		if op.Succeeded() {
			suffix = "+SUCCESS"
		} else {
			suffix = "+FAIL"
		}
	}

	if name, ok := opcodeNames[base]; ok {
		return name + suffix
	}
	return fmt.Sprintf("Opcode(%d)%s", int32(base), suffix)
}

var opcodeNames = map[Opcode]string{
	NameSetpid:       "NAME_SETPID",
	NameLink:         "NAME_LINK",
	NameUnlink:       "NAME_UNLINK",
	NameLookup:       "NAME_LOOKUP",
	NameAlive:        "NAME_ALIVE",
	NameGetpgid:      "NAME_GETPGID",
	NameSetpgid:      "NAME_SETPGID",
	NameGroupMembers: "NAME_GROUPMEMBERS",
	NameExit:         "NAME_EXIT",

	RmemAlloc: "RMEM_ALLOC",
	RmemFree:  "RMEM_MEMFREE",
	RmemWrite: "RMEM_WRITE",
	RmemRead:  "RMEM_READ",
	RmemStats: "RMEM_STATS",
	RmemExit:  "RMEM_EXIT",

	SysvShmCreate:    "SYSV_SHM_CREATE",
	SysvShmOpen:      "SYSV_SHM_OPEN",
	SysvShmClose:     "SYSV_SHM_CLOSE",
	SysvShmUnlink:    "SYSV_SHM_UNLINK",
	SysvShmFtruncate: "SYSV_SHM_FTRUNCATE",
	SysvShmInval:     "SYSV_SHM_INVAL",
	SysvMsgGet:       "SYSV_MSG_GET",
	SysvMsgClose:     "SYSV_MSG_CLOSE",
	SysvMsgSend:      "SYSV_MSG_SEND",
	SysvMsgReceive:   "SYSV_MSG_RECEIVE",
	SysvSemGet:       "SYSV_SEM_GET",
	SysvSemClose:     "SYSV_SEM_CLOSE",
	SysvSemOperate:   "SYSV_SEM_OPERATE",
	SysvExit:         "SYSV_EXIT",
}
