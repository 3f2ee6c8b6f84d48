// Package mailbox matches inbound messages to blocking receives.
//
// Matching is by (context, source, tag) with wildcard source/tag. Messages are
// taken in arrival order, so two messages with the same context, source and
// tag are always received in the order they were delivered.
package mailbox

import (
	"errors"
	"sync"

	"github.com/danmuck/groupcomm/mpi/runtime"
)

var ErrClosed = errors.New("mailbox: closed")

// Envelope is one delivered message.
type Envelope struct {
	Context  uint32
	Source   int
	Tag      int
	Datatype runtime.Datatype
	Count    int
	Payload  []byte
}

// Matches reports whether e satisfies a receive for (ctx, src, tag).
func (e Envelope) Matches(ctx uint32, src, tag int) bool {
	if e.Context != ctx {
		return false
	}
	if src != runtime.AnySource && e.Source != src {
		return false
	}
	if tag != runtime.AnyTag && e.Tag != tag {
		return false
	}
	return true
}

// Mailbox is an unbounded queue of envelopes for one rank.
type Mailbox struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Envelope
	closed bool
	err    error
}

func New() *Mailbox {
	m := &Mailbox{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Deliver appends env and wakes blocked receivers. It never blocks.
func (m *Mailbox) Deliver(env Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.queue = append(m.queue, env)
	m.cond.Broadcast()
	return nil
}

// Take blocks until an envelope matching (ctx, src, tag) is queued and
// removes it. Queued matches are still returned after Close; once none are
// left Take reports the close reason.
func (m *Mailbox) Take(ctx uint32, src, tag int) (Envelope, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for {
		for i, env := range m.queue {
			if env.Matches(ctx, src, tag) {
				m.queue = append(m.queue[:i], m.queue[i+1:]...)
				return env, nil
			}
		}
		if m.closed {
			return Envelope{}, m.err
		}
		m.cond.Wait()
	}
}

// Close stops further deliveries and fails receives that have nothing left
// to match. A nil reason closes with ErrClosed.
func (m *Mailbox) Close(reason error) {
	if reason == nil {
		reason = ErrClosed
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.err = reason
	m.cond.Broadcast()
}

// Pending returns the number of queued, unreceived envelopes.
func (m *Mailbox) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Unpack copies the payload into a receive buffer of count dt elements.
// Fewer elements than count is allowed; the status reports the real count.
func (e Envelope) Unpack(buf []byte, count int, dt runtime.Datatype) (runtime.Status, error) {
	status := runtime.Status{Source: e.Source, Tag: e.Tag, Count: e.Count}
	if e.Datatype != dt {
		return status, runtime.Errorf(runtime.CodeType, "message from rank %d carries %s, receive expects %s", e.Source, e.Datatype, dt)
	}
	if e.Count > count {
		return status, runtime.Errorf(runtime.CodeTruncate, "message from rank %d has %d elements, buffer holds %d", e.Source, e.Count, count)
	}
	copy(buf, e.Payload)
	return status, nil
}
