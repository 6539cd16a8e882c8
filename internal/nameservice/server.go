package nameservice

import (
	"time"

	log "github.com/noc-os/ncruntime/pkg/minilog"
	"github.com/noc-os/ncruntime/pkg/ncpid"
	"github.com/noc-os/ncruntime/pkg/ncproto"
	"github.com/noc-os/ncruntime/internal/transport"
	"github.com/prometheus/client_golang/prometheus"
)

// Server is the Name Service daemon (§4.2): a single-threaded, event-driven
// request loop over a well-known mailbox, exactly the shape §5 describes.
// Registry carries its own mutex, which the loop takes for each request,
// because the reaper goroutine (reaper.go) and the admin snapshots also
// touch it concurrently.
type Server struct {
	sub      *transport.Substrate
	port     int32
	registry *Registry
	metrics  *Metrics
	reaper   *Reaper
}

// idleReadTimeout bounds each StdinboxGet read; the server loop is
// otherwise meant to block forever on mailbox_read per §5, this just keeps
// the read call finite the way Go's select-based Mailbox.Read requires.
const idleReadTimeout = 24 * time.Hour

// NewServer binds a Name Service daemon to sub's stdinbox at port.
func NewServer(sub *transport.Substrate, port int32, capacity int, heartbeatTTL time.Duration) *Server {
	s := &Server{
		sub:      sub,
		port:     port,
		registry: NewRegistry(capacity, heartbeatTTL),
		metrics:  newMetrics(),
	}
	s.reaper = NewReaper(s.registry, s.metrics, heartbeatTTL)
	return s
}

// Collectors exposes the server's prometheus counters for cmd/spawn0d's
// /metrics route.
func (s *Server) Collectors() []prometheus.Collector {
	return s.metrics.Collectors()
}

// RegistrySnapshot reports live proc/name counts for cmd/spawn0d's
// /stats route.
func (s *Server) RegistrySnapshot() (liveProcs, liveNames int) {
	return s.registry.Snapshot()
}

// HostSnapshot reports cmd/spawn0d's /heartbeats route: the load/mem
// snapshot attached to every live process's last heartbeat.
func (s *Server) HostSnapshot() []HostStat {
	return s.registry.HostSnapshot()
}

// Serve runs the request loop until a NAME_EXIT request is handled or sub is
// closed. Intended to run on its own goroutine, mirroring the teacher's
// server accept-loop pattern of one goroutine per long-lived listener.
func (s *Server) Serve() error {
	mb, err := s.sub.StdinboxGet(s.port)
	if err != nil {
		return err
	}
	defer mb.Close()

	s.reaper.Start()
	defer s.reaper.Stop()

	log.Info("nameservice: serving on port %d", s.port)

	for {
		msg, err := mb.Read(idleReadTimeout)
		if err != nil {
			continue
		}

		if msg.Header.Opcode == ncproto.NameExit {
			log.Info("nameservice: NAME_EXIT received, shutting down")
			return nil
		}

		s.dispatch(mb, msg)
	}
}

func (s *Server) dispatch(mb *transport.Mailbox, msg *ncproto.Message) {
	s.registry.mu.Lock()
	defer s.registry.mu.Unlock()

	switch msg.Header.Opcode {
	case ncproto.NameSetpid:
		s.handleSetpid(mb, msg)
	case ncproto.NameLink:
		s.handleLink(mb, msg)
	case ncproto.NameUnlink:
		s.handleUnlink(mb, msg)
	case ncproto.NameLookup:
		s.handleLookup(mb, msg)
	case ncproto.NameAlive:
		s.handleAlive(msg)
	case ncproto.NameGetpgid:
		s.handleGetpgid(mb, msg)
	case ncproto.NameSetpgid:
		s.handleSetpgid(mb, msg)
	case ncproto.NameGroupMembers:
		s.handleGroupMembers(mb, msg)
	default:
		log.Error("nameservice: unexpected opcode %v", msg.Header.Opcode)
	}
}

func (s *Server) reply(mb *transport.Mailbox, req *ncproto.Message, ok bool, ret ncproto.Ret) {
	reply := &ncproto.Message{
		Header: ncproto.Header{Opcode: req.Header.Opcode.Reply(ok)},
		Body:   ret,
	}
	if err := mb.Write(req.Header.SourceNode, req.Header.MailboxPort, reply); err != nil {
		log.Error("nameservice: reply to node %v port %v: %v", req.Header.SourceNode, req.Header.MailboxPort, err)
	}
}

func (s *Server) handleSetpid(mb *transport.Mailbox, req *ncproto.Message) {
	s.metrics.setpids.Inc()

	idx := s.registry.findFreeProc()
	if idx < 0 {
		s.reply(mb, req, false, ncproto.Ret{ErrCode: ncproto.EAGAIN})
		return
	}

	s.registry.pidCounter++
	pid := ncpid.Pack(int(s.registry.pidCounter), int(req.Header.SourceNode))

	s.registry.procs[idx] = ProcRecord{
		NodeNum:         req.Header.SourceNode,
		Pid:             pid,
		Gid:             ncpid.Null,
		LastHeartbeatTS: time.Now(),
		live:            true,
	}

	s.reply(mb, req, true, ncproto.Ret{
		ProcInfo: ncproto.ProcInfo{Pid: pid, NodeNum: req.Header.SourceNode},
	})
}

func (s *Server) handleLink(mb *transport.Mailbox, req *ncproto.Message) {
	body := req.Body.(ncproto.LinkRequest)
	s.metrics.links.Inc()

	if !validateName(body.Name) {
		s.reply(mb, req, false, ncproto.Ret{ErrCode: ncproto.EINVAL})
		return
	}

	pid := body.Pid
	if pid == ncpid.Null {
		pid = req.Header.SourcePid
	}

	if ni := s.registry.findNameByName(body.Name); ni >= 0 {
		nr := &s.registry.names[ni]
		if nr.OwnerPid != pid || nr.OwnerPort != req.Header.MailboxPort {
			s.reply(mb, req, false, ncproto.Ret{ErrCode: ncproto.EINVAL})
			return
		}
		nr.Refcount++
		s.reply(mb, req, true, ncproto.Ret{ErrCode: ncproto.OK})
		return
	}

	pi := s.registry.findProcByPid(pid)
	if pi < 0 {
		s.reply(mb, req, false, ncproto.Ret{ErrCode: ncproto.ESRCH})
		return
	}

	ni := s.registry.findFreeName()
	if ni < 0 {
		s.reply(mb, req, false, ncproto.Ret{ErrCode: ncproto.EAGAIN})
		return
	}

	s.registry.names[ni] = NameRecord{
		Name:      body.Name,
		OwnerPid:  pid,
		OwnerPort: req.Header.MailboxPort,
		Refcount:  1,
		ProcIndex: pi,
		live:      true,
	}

	s.reply(mb, req, true, ncproto.Ret{ErrCode: ncproto.OK})
}

func (s *Server) handleUnlink(mb *transport.Mailbox, req *ncproto.Message) {
	body := req.Body.(ncproto.UnlinkRequest)
	s.metrics.unlinks.Inc()

	ni := s.registry.findNameByName(body.Name)
	if ni < 0 {
		s.reply(mb, req, false, ncproto.Ret{ErrCode: ncproto.ENOENT})
		return
	}

	nr := &s.registry.names[ni]
	if nr.OwnerPort != req.Header.MailboxPort {
		s.reply(mb, req, false, ncproto.Ret{ErrCode: ncproto.EPERM})
		return
	}

	nr.Refcount--
	if nr.Refcount <= 0 {
		*nr = NameRecord{}
	}

	s.reply(mb, req, true, ncproto.Ret{ErrCode: ncproto.OK})
}

func (s *Server) handleLookup(mb *transport.Mailbox, req *ncproto.Message) {
	body := req.Body.(ncproto.LookupRequest)
	s.metrics.lookups.Inc()

	var pi int
	if body.Pid == ncpid.Null {
		if !validateName(body.Name) {
			s.reply(mb, req, false, ncproto.Ret{ErrCode: ncproto.EINVAL})
			return
		}
		ni := s.registry.findNameByName(body.Name)
		if ni < 0 {
			s.reply(mb, req, false, ncproto.Ret{ErrCode: ncproto.ENOENT})
			return
		}
		pi = s.registry.names[ni].ProcIndex
	} else {
		pi = s.registry.findProcByPid(body.Pid)
		if pi < 0 {
			s.reply(mb, req, false, ncproto.Ret{ErrCode: ncproto.ENOENT})
			return
		}
	}

	pr := s.registry.procs[pi]
	s.reply(mb, req, true, ncproto.Ret{
		ProcInfo: ncproto.ProcInfo{Pid: pr.Pid, NodeNum: pr.NodeNum},
	})
}

func (s *Server) handleAlive(req *ncproto.Message) {
	body := req.Body.(ncproto.AliveRequest)
	s.metrics.heartbeats.Inc()

	pi := s.registry.findProcByPid(req.Header.SourcePid)
	if pi < 0 {
		return
	}
	s.registry.procs[pi].LastHeartbeatTS = time.Unix(0, body.Timestamp)
	s.registry.procs[pi].LoadAvg1 = body.LoadAvg1
	s.registry.procs[pi].MemFreeKB = body.MemFreeKB
}

func (s *Server) handleGetpgid(mb *transport.Mailbox, req *ncproto.Message) {
	body := req.Body.(ncproto.GetpgidRequest)

	pi := s.registry.findProcByPid(body.Pid)
	if pi < 0 {
		s.reply(mb, req, false, ncproto.Ret{ErrCode: ncproto.ESRCH})
		return
	}

	s.reply(mb, req, true, ncproto.Ret{Gid: s.registry.procs[pi].Gid})
}

func (s *Server) handleSetpgid(mb *transport.Mailbox, req *ncproto.Message) {
	body := req.Body.(ncproto.SetpgidRequest)

	pi := s.registry.findProcByPid(body.Pid)
	if pi < 0 {
		s.reply(mb, req, false, ncproto.Ret{ErrCode: ncproto.ESRCH})
		return
	}

	if body.Pgid != ncpid.Gid(body.Pid) {
		found := false
		for i := range s.registry.procs {
			if s.registry.procs[i].live && s.registry.procs[i].Gid == body.Pgid {
				found = true
				break
			}
		}
		if !found {
			s.reply(mb, req, false, ncproto.Ret{ErrCode: ncproto.EPERM})
			return
		}
	}

	s.registry.procs[pi].Gid = body.Pgid
	s.reply(mb, req, true, ncproto.Ret{ErrCode: ncproto.OK})
}

// handleGroupMembers answers the supplemented GroupMembers(gid) query
// (SPEC_FULL §4.2-4.3: "a registry that tracks group ids but can't enumerate
// a group's members is of limited use").
func (s *Server) handleGroupMembers(mb *transport.Mailbox, req *ncproto.Message) {
	body := req.Body.(ncproto.GroupMembersRequest)

	var members []ncpid.Pid
	for i := range s.registry.procs {
		if s.registry.procs[i].live && s.registry.procs[i].Gid == body.Gid {
			members = append(members, s.registry.procs[i].Pid)
		}
	}

	reply := &ncproto.Message{
		Header: ncproto.Header{Opcode: req.Header.Opcode.Reply(true)},
		Body:   ncproto.GroupMembersReply{ErrCode: ncproto.OK, Members: members},
	}
	if err := mb.Write(req.Header.SourceNode, req.Header.MailboxPort, reply); err != nil {
		log.Error("nameservice: GroupMembers reply: %v", err)
	}
}
