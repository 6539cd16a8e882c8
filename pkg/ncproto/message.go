package ncproto

import "github.com/noc-os/ncruntime/pkg/ncpid"

// ProcInfo is the {nodenum, pid} pair returned by SETPID and LOOKUP.
type ProcInfo struct {
	Pid     ncpid.Pid
	NodeNum NodeNum
}

// Ret is the reply payload union of §6. Go has no union type, so — like
// every other struct in this package — all fields live side by side; only
// the fields relevant to the request's opcode are meaningful, mirroring
// the source's single fixed-size "ret" record.
type Ret struct {
	ErrCode  ErrCode
	ProcInfo ProcInfo
	IpcId    int32
	Page     int32
	Gid      ncpid.Gid
	Status   int32
}

// Message is a complete request or reply: the fixed Header plus an
// op-specific body. Body is gob-encoded by the transport layer exactly the
// way the teacher's meshage.Message encodes its Body field — the header is
// what must respect the mailbox MTU static assertion; Body additionally
// respects it for mailbox-only opcodes (bulk opcodes move their payload
// over a portal instead and leave Body nil or small).
type Message struct {
	Header Header
	Body   interface{}
}

// Name Service request bodies.

type SetpidRequest struct{}

type LinkRequest struct {
	Name string
	Pid  ncpid.Pid // NULL means "use requester's pid"
}

type UnlinkRequest struct {
	Name string
}

type LookupRequest struct {
	Name string
	Pid  ncpid.Pid // Null means "search by Name"
}

// AliveRequest is the NAME_ALIVE heartbeat payload. LoadAvg1/MemFreeKB are
// a best-effort host snapshot (zero when unavailable, e.g. a non-Linux
// node) the Name Service keeps alongside each process's last-seen time for
// admin/debug visibility; they never gate liveness, only LastHeartbeatTS
// does.
type AliveRequest struct {
	Timestamp int64
	LoadAvg1  float64
	MemFreeKB uint64
}

type GetpgidRequest struct {
	Pid ncpid.Pid
}

type SetpgidRequest struct {
	Pid  ncpid.Pid
	Pgid ncpid.Gid
}

type GroupMembersRequest struct {
	Gid ncpid.Gid
}

type GroupMembersReply struct {
	ErrCode ErrCode
	Members []ncpid.Pid
}

// RMem request bodies. Alloc/Free/Exit carry no bulk payload; Write/Read
// coordinate a one-shot portal transfer of exactly RmemBlockSize bytes
// alongside the mailbox round trip (§4.4/§4.5).
type AllocRequest struct{}

type FreeRequest struct {
	Blknum int32
}

type WriteRequest struct {
	Blknum int32
}

type ReadRequest struct {
	Blknum int32
}

type StatsRequest struct{}

type Stats struct {
	Nallocs, Nfrees, Nreads, Nwrites   int64
	Talloc, Tfree, Tread, Twrite       int64 // accumulated nanoseconds
	Tstart, Tshutdown                 int64 // unix nanoseconds, 0 if not yet shut down
	Nblocks                            int64
}

// SysV request bodies.

type ShmCreateRequest struct {
	Name       string
	Oflags     int32
	Mode       int32
	SizeBlocks int32
}

type ShmOpenRequest struct {
	Name   string
	Oflags int32
}

type ShmCloseRequest struct {
	IpcId int32
}

type ShmUnlinkRequest struct {
	Name string
}

type ShmFtruncateRequest struct {
	IpcId int32
	Size  int32
}

type ShmInvalRequest struct {
	IpcId int32
	Page  int32
}

type MsgGetRequest struct {
	Key    int32
	Oflags int32
}

type MsgCloseRequest struct {
	MsgId int32
}

type MsgSendRequest struct {
	MsgId int32
	Type  int32
	Size  int32
	Flags uint8
}

type MsgReceiveRequest struct {
	MsgId  int32
	Size   int32
	Msgtyp int32
	Flags  uint8
}

type SemGetRequest struct {
	Key    int32
	Oflags int32
}

type SemCloseRequest struct {
	SemId int32
}

// Sembuf mirrors SysV's sembuf: a single semaphore operation.
type Sembuf struct {
	Num int32
	Op  int32
	Flg uint8
}

type SemOperateRequest struct {
	SemId int32
	Op    Sembuf
}
