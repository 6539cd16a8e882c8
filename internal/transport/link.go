package transport

import (
	"encoding/gob"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	log "github.com/noc-os/ncruntime/pkg/minilog"
)

const deadlineMultiplier = 2

// link is a single TCP connection to a directly-dialed neighbor, adapted
// from the teacher's meshage client: one gob encoder/decoder pair guarded
// by a send lock, with an ack channel used to make Send synchronous.
type link struct {
	peer NodeNum
	conn net.Conn
	enc  *gob.Encoder
	dec  *gob.Decoder
	ack  chan uint64
	lock sync.Mutex
}

func newLink(peer NodeNum, conn net.Conn) *link {
	return &link{
		peer: peer,
		conn: conn,
		enc:  gob.NewEncoder(conn),
		dec:  gob.NewDecoder(conn),
		ack:  make(chan uint64, 8),
	}
}

func (s *Substrate) send(l *link, f *frame) error {
	l.lock.Lock()
	defer l.lock.Unlock()

	if err := l.enc.Encode(f); err != nil {
		l.conn.Close()
		return err
	}

	if f.Command != cmdACK {
		for {
			select {
			case seq := <-l.ack:
				if seq == f.Seq {
					return nil
				}
			case <-time.After(s.timeout):
				l.conn.Close()
				return errTimeout
			}
		}
	}
	return nil
}

// linkHandler reads frames from a link until it closes, ACKing everything
// that isn't itself an ACK and pushing the rest onto the substrate's frame
// pump — mirrors meshage's clientHandler.
func (s *Substrate) linkHandler(l *link) {
	log.Debug("linkHandler: %v", l.peer)

	s.announceTopology()

	for {
		var f frame
		err := l.dec.Decode(&f)
		if err != nil {
			if err != io.EOF && !strings.Contains(err.Error(), "connection reset by peer") {
				log.Error("link %v decode: %v", l.peer, err)
			}
			break
		}

		if f.Command == cmdACK {
			select {
			case l.ack <- f.AckSeq:
			default:
			}
			continue
		}

		ack := &frame{Command: cmdACK, AckSeq: f.Seq}
		l.conn.SetWriteDeadline(time.Now().Add(deadlineMultiplier * s.timeout))
		l.lock.Lock()
		encErr := l.enc.Encode(ack)
		l.lock.Unlock()
		if encErr != nil {
			log.Error("link %v encode ACK: %v", l.peer, encErr)
			break
		}

		s.framePump <- &f
	}

	log.Info("link %v disconnected", l.peer)
	l.conn.Close()

	s.linksLock.Lock()
	delete(s.links, l.peer)
	s.linksLock.Unlock()

	s.announceTopology()
}
