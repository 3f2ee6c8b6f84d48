package tcp

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/danmuck/groupcomm/internal/mailbox"
	"github.com/danmuck/groupcomm/internal/protocol/frame"
	"github.com/danmuck/groupcomm/internal/protocol/schema"
	"github.com/danmuck/groupcomm/mpi/runtime"
)

// peer is the connection to one remote rank. Writes are serialized; reads
// belong to the runtime's read loop alone.
type peer struct {
	rank         int
	conn         net.Conn
	writeTimeout time.Duration
	limits       frame.Limits

	wmu sync.Mutex
	buf []byte
}

func newPeer(rank int, conn net.Conn, cfg Config) *peer {
	return &peer{
		rank:         rank,
		conn:         conn,
		writeTimeout: cfg.Session.WriteTimeout,
		limits:       cfg.Limits,
	}
}

func (p *peer) write(fr frame.Frame) error {
	p.wmu.Lock()
	defer p.wmu.Unlock()
	buf, err := frame.AppendFrame(p.buf[:0], fr, p.limits)
	if err != nil {
		return err
	}
	p.buf = buf
	if p.writeTimeout > 0 {
		_ = p.conn.SetWriteDeadline(time.Now().Add(p.writeTimeout))
	}
	_, err = p.conn.Write(buf)
	return err
}

// envelope validates an inbound data frame. The source is the connection's
// rank; the header's source field must agree with it.
func (p *peer) envelope(fr frame.Frame) (mailbox.Envelope, error) {
	h := fr.Header
	if h.MessageType != schema.MsgData {
		return mailbox.Envelope{}, fmt.Errorf("unexpected message type %d", h.MessageType)
	}
	if int(h.Source) != p.rank {
		return mailbox.Envelope{}, fmt.Errorf("frame claims source %d", h.Source)
	}
	dt := runtime.Datatype(h.Datatype)
	if !dt.Valid() {
		return mailbox.Envelope{}, fmt.Errorf("invalid datatype %d", h.Datatype)
	}
	if uint64(h.Count)*uint64(dt.Size()) != uint64(len(fr.Payload)) {
		return mailbox.Envelope{}, fmt.Errorf("payload of %d bytes for %d x %s", len(fr.Payload), h.Count, dt)
	}
	return mailbox.Envelope{
		Context:  h.Context,
		Source:   p.rank,
		Tag:      int(h.Tag),
		Datatype: dt,
		Count:    int(h.Count),
		Payload:  fr.Payload,
	}, nil
}
