package ncproto

import (
	"encoding/gob"
	"io"
)

// Encoder and Decoder wrap gob.Encoder/gob.Decoder bound to a single
// connection's lifetime, exactly the way the teacher's meshage client
// keeps one *gob.Encoder/*gob.Decoder per net.Conn rather than
// constructing one per message.
type Encoder struct{ enc *gob.Encoder }

type Decoder struct{ dec *gob.Decoder }

func NewEncoder(w io.Writer) *Encoder { return &Encoder{enc: gob.NewEncoder(w)} }
func NewDecoder(r io.Reader) *Decoder { return &Decoder{dec: gob.NewDecoder(r)} }

func (e *Encoder) Encode(m *Message) error { return e.enc.Encode(m) }
func (d *Decoder) Decode(m *Message) error { return d.dec.Decode(m) }

func init() {
	// Body holds one of several concrete types depending on Header.Opcode;
	// gob needs every concrete type registered once up front.
	gob.Register(SetpidRequest{})
	gob.Register(LinkRequest{})
	gob.Register(UnlinkRequest{})
	gob.Register(LookupRequest{})
	gob.Register(AliveRequest{})
	gob.Register(GetpgidRequest{})
	gob.Register(SetpgidRequest{})
	gob.Register(GroupMembersRequest{})
	gob.Register(GroupMembersReply{})

	gob.Register(AllocRequest{})
	gob.Register(FreeRequest{})
	gob.Register(WriteRequest{})
	gob.Register(ReadRequest{})
	gob.Register(StatsRequest{})
	gob.Register(Stats{})

	gob.Register(ShmCreateRequest{})
	gob.Register(ShmOpenRequest{})
	gob.Register(ShmCloseRequest{})
	gob.Register(ShmUnlinkRequest{})
	gob.Register(ShmFtruncateRequest{})
	gob.Register(ShmInvalRequest{})
	gob.Register(MsgGetRequest{})
	gob.Register(MsgCloseRequest{})
	gob.Register(MsgSendRequest{})
	gob.Register(MsgReceiveRequest{})
	gob.Register(SemGetRequest{})
	gob.Register(SemCloseRequest{})
	gob.Register(SemOperateRequest{})

	gob.Register(Ret{})
}
