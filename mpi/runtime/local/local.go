// Package local runs a process group inside one Go process: every rank is an
// Endpoint driven by its own goroutine and all ranks share in-memory mailboxes.
package local

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/danmuck/groupcomm/internal/coll"
	"github.com/danmuck/groupcomm/internal/mailbox"
	"github.com/danmuck/groupcomm/mpi/runtime"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var ErrInvalidSize = errors.New("local: group size must be positive")

const (
	stateUninitialized int32 = iota
	stateReady
	stateFinalized
)

// Group is a fixed set of in-process endpoints.
type Group struct {
	boxes     []*mailbox.Mailbox
	endpoints []*Endpoint
}

// NewGroup creates a group of n endpoints, ranks 0..n-1.
func NewGroup(n int) (*Group, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, n)
	}
	g := &Group{
		boxes:     make([]*mailbox.Mailbox, n),
		endpoints: make([]*Endpoint, n),
	}
	for r := 0; r < n; r++ {
		g.boxes[r] = mailbox.New()
		g.endpoints[r] = &Endpoint{group: g, rank: r}
	}
	return g, nil
}

// Self is a fresh group of size one.
func Self() *Endpoint {
	g, _ := NewGroup(1)
	return g.Endpoint(0)
}

func (g *Group) Size() int {
	return len(g.endpoints)
}

// Endpoint returns the runtime for rank r.
func (g *Group) Endpoint(r int) *Endpoint {
	return g.endpoints[r]
}

// Abort fails every blocked and future receive in the group with reason.
func (g *Group) Abort(reason error) {
	err := runtime.Errorf(runtime.CodeComm, "group aborted: %v", reason)
	for _, box := range g.boxes {
		box.Close(err)
	}
}

// Run executes fn once per rank, each on its own goroutine, and returns the
// first error. A failing rank aborts the group so peers blocked on it return
// instead of deadlocking.
func Run(n int, fn func(rt runtime.Runtime) error) error {
	g, err := NewGroup(n)
	if err != nil {
		return err
	}
	eg, ctx := errgroup.WithContext(context.Background())
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			g.Abort(context.Cause(ctx))
		case <-done:
		}
	}()
	for r := 0; r < n; r++ {
		ep := g.Endpoint(r)
		eg.Go(func() error {
			if err := fn(ep); err != nil {
				return fmt.Errorf("rank %d: %w", ep.rank, err)
			}
			return nil
		})
	}
	err = eg.Wait()
	close(done)
	return err
}

// Endpoint is one rank's view of a Group. It implements runtime.Runtime.
type Endpoint struct {
	group *Group
	rank  int
	state atomic.Int32
}

var _ runtime.Runtime = (*Endpoint)(nil)
var _ coll.Endpoint = (*Endpoint)(nil)

func (e *Endpoint) Init(args []string) error {
	if !e.state.CompareAndSwap(stateUninitialized, stateReady) {
		if e.state.Load() == stateFinalized {
			return runtime.Errorf(runtime.CodeFinalized, "rank %d already finalized", e.rank)
		}
		return runtime.Errorf(runtime.CodeAlreadyInitialized, "rank %d already initialized", e.rank)
	}
	log.Debug().Int("rank", e.rank).Int("size", e.Size()).Msg("local.Init")
	return nil
}

func (e *Endpoint) Finalize() error {
	if !e.state.CompareAndSwap(stateReady, stateFinalized) {
		return runtime.Errorf(runtime.CodeNotInitialized, "rank %d not initialized", e.rank)
	}
	log.Debug().Int("rank", e.rank).Msg("local.Finalize")
	return nil
}

func (e *Endpoint) Rank() int {
	return e.rank
}

func (e *Endpoint) Size() int {
	return e.group.Size()
}

func (e *Endpoint) ready() error {
	switch e.state.Load() {
	case stateReady:
		return nil
	case stateFinalized:
		return runtime.Errorf(runtime.CodeFinalized, "rank %d finalized", e.rank)
	default:
		return runtime.Errorf(runtime.CodeNotInitialized, "rank %d not initialized", e.rank)
	}
}

func (e *Endpoint) Barrier(h runtime.Handle) error {
	if err := e.ready(); err != nil {
		return err
	}
	return coll.Barrier(e, h)
}

func (e *Endpoint) Send(h runtime.Handle, buf []byte, count int, dt runtime.Datatype, dest, tag int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := runtime.CheckBuffer(buf, count, dt); err != nil {
		return err
	}
	if err := runtime.CheckSendTarget(dest, tag, e.Size()); err != nil {
		return err
	}
	return e.Post(uint32(h), dest, tag, dt, count, buf)
}

func (e *Endpoint) Recv(h runtime.Handle, buf []byte, count int, dt runtime.Datatype, src, tag int) (runtime.Status, error) {
	if err := e.ready(); err != nil {
		return runtime.Status{}, err
	}
	if err := runtime.CheckBuffer(buf, count, dt); err != nil {
		return runtime.Status{}, err
	}
	if err := runtime.CheckRecvSource(src, tag, e.Size()); err != nil {
		return runtime.Status{}, err
	}
	env, err := e.Take(uint32(h), src, tag)
	if err != nil {
		return runtime.Status{}, err
	}
	return env.Unpack(buf, count, dt)
}

func (e *Endpoint) Allgather(h runtime.Handle, send, recv []byte, count int, dt runtime.Datatype) error {
	if err := e.ready(); err != nil {
		return err
	}
	return coll.Allgather(e, h, send, recv, count, dt)
}

func (e *Endpoint) Allreduce(h runtime.Handle, send, recv []byte, count int, dt runtime.Datatype, op runtime.Op) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := runtime.CheckBuffer(send, count, dt); err != nil {
		return err
	}
	return coll.Allreduce(e, h, send, recv, count, dt, op)
}

// Post copies payload into dest's mailbox.
func (e *Endpoint) Post(ctx uint32, dest, tag int, dt runtime.Datatype, count int, payload []byte) error {
	buf := make([]byte, len(payload))
	copy(buf, payload)
	err := e.group.boxes[dest].Deliver(mailbox.Envelope{
		Context:  ctx,
		Source:   e.rank,
		Tag:      tag,
		Datatype: dt,
		Count:    count,
		Payload:  buf,
	})
	if errors.Is(err, mailbox.ErrClosed) {
		return runtime.Errorf(runtime.CodeComm, "rank %d mailbox closed", dest)
	}
	return err
}

func (e *Endpoint) Take(ctx uint32, src, tag int) (mailbox.Envelope, error) {
	return e.group.boxes[e.rank].Take(ctx, src, tag)
}
