package mpi

import (
	"time"

	"github.com/danmuck/groupcomm/internal/observability"
	"github.com/danmuck/groupcomm/mpi/runtime"
)

// AllGather collects one value from every member. Element i is rank i's
// value, identical on every member.
func AllGather[T Scalar](c *Comm, value T) ([]T, error) {
	const op = "all_gather"
	dt, err := prepare[T](c, op)
	if err != nil {
		return nil, err
	}
	send := encodeValues(dt, []T{value})
	recv := make([]byte, len(send)*c.size)
	start := time.Now()
	err = c.rt.Allgather(c.handle, send, recv, 1, dt)
	observability.RecordCollective(c.rank, op, time.Since(start), err == nil)
	if err != nil {
		return nil, wrap(op, err)
	}
	return decodeValues[T](dt, recv, c.size), nil
}

// AllMax returns the group-wide maximum of value.
func AllMax[T Scalar](c *Comm, value T) (T, error) {
	return allReduce(c, "all_max", runtime.OpMax, value)
}

// AllMin returns the group-wide minimum of value.
func AllMin[T Scalar](c *Comm, value T) (T, error) {
	return allReduce(c, "all_min", runtime.OpMin, value)
}

// AllSum returns the group-wide sum of value. Integer sums wrap like the
// element type does.
func AllSum[T Scalar](c *Comm, value T) (T, error) {
	return allReduce(c, "all_sum", runtime.OpSum, value)
}

func allReduce[T Scalar](c *Comm, op string, rop runtime.Op, value T) (T, error) {
	var zero T
	dt, err := prepare[T](c, op)
	if err != nil {
		return zero, err
	}
	send := encodeValues(dt, []T{value})
	recv := make([]byte, len(send))
	start := time.Now()
	err = c.rt.Allreduce(c.handle, send, recv, 1, dt, rop)
	observability.RecordCollective(c.rank, op, time.Since(start), err == nil)
	if err != nil {
		return zero, wrap(op, err)
	}
	return decodeValues[T](dt, recv, 1)[0], nil
}
