package ncproto

// Compile-time limits from §3/§6. A real NoC binding would pull these from
// per-platform topology headers; here they're Go constants, per §6 CLI/env
// ("configuration is by compile-time header").
const (
	// ProcNameMax bounds a NameRecord's name. Strings of this length are
	// rejected; ProcNameMax-1 is the longest accepted name.
	ProcNameMax = 64

	// PnameMax is the maximum number of live ProcRecords the Name Service
	// will track at once.
	PnameMax = 4096

	// RmemBlockSize is the fixed size, in bytes, of every remote memory
	// block.
	RmemBlockSize = 4096

	// RmemNumBlocks is the size of the RMem server's block pool. Block 0
	// is reserved and never allocated or freed.
	RmemNumBlocks = 16384

	// MailboxMTU bounds every mailbox request/reply message. Bulk data
	// above this size travels over a portal instead.
	MailboxMTU = 512
)
