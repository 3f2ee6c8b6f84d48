// Package coll implements the group collectives on top of point-to-point
// transfer.
//
// Collective traffic runs in a context derived from the caller's handle with
// the high bit set, so it can never be matched by a wildcard user receive.
// All members must call collectives in the same order; per-(source, tag)
// FIFO delivery then keeps consecutive collectives apart.
package coll

import (
	"github.com/danmuck/groupcomm/internal/mailbox"
	"github.com/danmuck/groupcomm/mpi/runtime"
)

const collectiveBit uint32 = 1 << 31

const (
	tagBarrier = 1
	tagGather  = 2
	tagFinal   = 3
)

// Endpoint is the point-to-point surface a runtime exposes to collectives.
type Endpoint interface {
	Rank() int
	Size() int
	Post(ctx uint32, dest, tag int, dt runtime.Datatype, count int, payload []byte) error
	Take(ctx uint32, src, tag int) (mailbox.Envelope, error)
}

// Context maps a user handle to its collective context.
func Context(h runtime.Handle) uint32 {
	return uint32(h) | collectiveBit
}

// IsCollective reports whether ctx belongs to collective traffic.
func IsCollective(ctx uint32) bool {
	return ctx&collectiveBit != 0
}

// Barrier blocks until every member has entered it (dissemination algorithm).
func Barrier(ep Endpoint, h runtime.Handle) error {
	return barrierTag(ep, Context(h), tagBarrier)
}

// FinalBarrier is the barrier a runtime runs before tearing down transport.
func FinalBarrier(ep Endpoint) error {
	return barrierTag(ep, Context(runtime.World), tagFinal)
}

func barrierTag(ep Endpoint, ctx uint32, tag int) error {
	size, rank := ep.Size(), ep.Rank()
	for dist := 1; dist < size; dist *= 2 {
		to := (rank + dist) % size
		from := (rank - dist + size) % size
		if err := ep.Post(ctx, to, tag, runtime.Uint8, 0, nil); err != nil {
			return err
		}
		if _, err := ep.Take(ctx, from, tag); err != nil {
			return err
		}
	}
	return nil
}

// Allgather places rank i's send block at block i of recv on every member.
func Allgather(ep Endpoint, h runtime.Handle, send, recv []byte, count int, dt runtime.Datatype) error {
	if err := runtime.CheckBuffer(send, count, dt); err != nil {
		return err
	}
	size, rank := ep.Size(), ep.Rank()
	if err := runtime.CheckBuffer(recv, count*size, dt); err != nil {
		return err
	}
	ctx := Context(h)
	block := len(send)
	for peer := 0; peer < size; peer++ {
		if peer == rank {
			continue
		}
		if err := ep.Post(ctx, peer, tagGather, dt, count, send); err != nil {
			return err
		}
	}
	copy(recv[rank*block:(rank+1)*block], send)
	for peer := 0; peer < size; peer++ {
		if peer == rank {
			continue
		}
		env, err := ep.Take(ctx, peer, tagGather)
		if err != nil {
			return err
		}
		if err := checkEnvelope(env, count, dt); err != nil {
			return err
		}
		copy(recv[peer*block:(peer+1)*block], env.Payload)
	}
	return nil
}

// Allreduce combines every member's send buffer with op. Blocks are folded in
// rank order so every member computes a bit-identical result.
func Allreduce(ep Endpoint, h runtime.Handle, send, recv []byte, count int, dt runtime.Datatype, op runtime.Op) error {
	if err := runtime.CheckBuffer(recv, count, dt); err != nil {
		return err
	}
	switch op {
	case runtime.OpMax, runtime.OpMin, runtime.OpSum:
	default:
		return runtime.Errorf(runtime.CodeOp, "unsupported reduction %d", uint8(op))
	}
	size := ep.Size()
	all := make([]byte, len(send)*size)
	if err := Allgather(ep, h, send, all, count, dt); err != nil {
		return err
	}
	block := len(send)
	copy(recv, all[:block])
	for peer := 1; peer < size; peer++ {
		if err := runtime.Reduce(op, dt, recv, all[peer*block:(peer+1)*block]); err != nil {
			return err
		}
	}
	return nil
}

func checkEnvelope(env mailbox.Envelope, count int, dt runtime.Datatype) error {
	if env.Datatype != dt {
		return runtime.Errorf(runtime.CodeType, "collective datatype mismatch from rank %d: got %s want %s", env.Source, env.Datatype, dt)
	}
	if env.Count != count {
		return runtime.Errorf(runtime.CodeTruncate, "collective count mismatch from rank %d: got %d want %d", env.Source, env.Count, count)
	}
	return nil
}
