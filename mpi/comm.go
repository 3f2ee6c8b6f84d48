package mpi

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/danmuck/groupcomm/internal/observability"
	"github.com/danmuck/groupcomm/mpi/runtime"
	"github.com/rs/zerolog/log"
)

// Wildcards accepted by the receive operations.
const (
	AnySource = runtime.AnySource
	AnyTag    = runtime.AnyTag
)

// Status is the source, tag and element count a receive matched.
type Status = runtime.Status

// Comm is a communicator over every rank of an Env's group. Rank and size
// are fixed at construction.
type Comm struct {
	env    *Env
	rt     runtime.Runtime
	handle runtime.Handle
	rank   int
	size   int
	closed atomic.Bool
}

// NewComm opens a communicator on env. Every member must open its
// communicators in the same order so their context ids agree.
func NewComm(env *Env) (*Comm, error) {
	if env == nil {
		return nil, initError(runtime.CodeNotInitialized, "new_comm", "no environment")
	}
	h, err := env.acquire()
	if err != nil {
		return nil, err
	}
	c := &Comm{
		env:    env,
		rt:     env.rt,
		handle: h,
		rank:   env.rt.Rank(),
		size:   env.rt.Size(),
	}
	log.Debug().Int("rank", c.rank).Int("size", c.size).Uint32("context", uint32(h)).Msg("mpi.NewComm")
	return c, nil
}

// World opens a communicator on the process default Env.
func World() (*Comm, error) {
	env, ok := Default()
	if !ok {
		return nil, initError(runtime.CodeNotInitialized, "world", "process environment not initialized")
	}
	return NewComm(env)
}

func (c *Comm) Rank() int {
	return c.rank
}

func (c *Comm) Size() int {
	return c.size
}

// IsMaster reports whether this is rank 0.
func (c *Comm) IsMaster() bool {
	return c.rank == 0
}

// Barrier blocks until every member has entered it.
func (c *Comm) Barrier() error {
	const op = "barrier"
	if err := c.check(op); err != nil {
		return err
	}
	start := time.Now()
	err := c.rt.Barrier(c.handle)
	observability.RecordCollective(c.rank, op, time.Since(start), err == nil)
	return wrap(op, err)
}

// Close releases the communicator from its Env.
func (c *Comm) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return &Error{Code: runtime.CodeComm, Op: "close", Message: "communicator already closed"}
	}
	c.env.release()
	return nil
}

func (c *Comm) check(op string) error {
	if c == nil {
		return initError(runtime.CodeNotInitialized, op, "nil communicator")
	}
	if c.closed.Load() {
		return &Error{Code: runtime.CodeComm, Op: op, Message: "communicator closed"}
	}
	return nil
}

func prepare[T Scalar](c *Comm, op string) (runtime.Datatype, error) {
	if err := c.check(op); err != nil {
		return runtime.DatatypeInvalid, err
	}
	dt, err := DatatypeOf[T]()
	if err != nil {
		if e, ok := err.(*Error); ok {
			e.Op = op
		}
		return runtime.DatatypeInvalid, err
	}
	return dt, nil
}

// Send blocks until the runtime has accepted value for dest.
func Send[T Scalar](c *Comm, value T, dest, tag int) error {
	return sendValues(c, "send", []T{value}, dest, tag)
}

// SendSlice sends len(values) elements as one message.
func SendSlice[T Scalar](c *Comm, values []T, dest, tag int) error {
	return sendValues(c, "send_slice", values, dest, tag)
}

func sendValues[T Scalar](c *Comm, op string, values []T, dest, tag int) error {
	dt, err := prepare[T](c, op)
	if err != nil {
		return err
	}
	buf := encodeValues(dt, values)
	if err := c.rt.Send(c.handle, buf, len(values), dt, dest, tag); err != nil {
		return wrap(op, err)
	}
	observability.RecordMessage(c.rank, observability.DirectionSend, dt.String(), len(buf))
	return nil
}

// Recv blocks for one value from src with tag. Either may be a wildcard.
func Recv[T Scalar](c *Comm, src, tag int) (T, error) {
	v, _, err := RecvStatus[T](c, src, tag)
	return v, err
}

// RecvInto is Recv writing into out. out is left untouched on failure.
func RecvInto[T Scalar](c *Comm, src, tag int, out *T) error {
	if out == nil {
		return &Error{Code: runtime.CodeBuffer, Op: "recv", Message: "nil output"}
	}
	v, err := Recv[T](c, src, tag)
	if err != nil {
		return err
	}
	*out = v
	return nil
}

// RecvStatus is Recv that also reports the matched source and tag.
func RecvStatus[T Scalar](c *Comm, src, tag int) (T, Status, error) {
	var zero T
	vals, st, err := recvValues[T](c, "recv", src, tag, 1)
	if err != nil {
		return zero, st, err
	}
	if st.Count != 1 {
		return zero, st, &Error{Code: runtime.CodeCount, Op: "recv", Message: fmt.Sprintf("empty message from rank %d", st.Source)}
	}
	return vals[0], st, nil
}

// RecvSlice receives a message of at most count elements. The result holds
// exactly the elements sent.
func RecvSlice[T Scalar](c *Comm, src, tag, count int) ([]T, Status, error) {
	return recvValues[T](c, "recv_slice", src, tag, count)
}

func recvValues[T Scalar](c *Comm, op string, src, tag, count int) ([]T, Status, error) {
	dt, err := prepare[T](c, op)
	if err != nil {
		return nil, Status{}, err
	}
	if count < 0 {
		return nil, Status{}, &Error{Code: runtime.CodeCount, Op: op, Message: fmt.Sprintf("negative count %d", count)}
	}
	buf := make([]byte, count*dt.Size())
	st, err := c.rt.Recv(c.handle, buf, count, dt, src, tag)
	if err != nil {
		return nil, st, wrap(op, err)
	}
	observability.RecordMessage(c.rank, observability.DirectionRecv, dt.String(), st.Count*dt.Size())
	return decodeValues[T](dt, buf, st.Count), st, nil
}
