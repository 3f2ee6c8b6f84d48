package runtime

import "math"

// Wildcard sentinels accepted by Recv.
const (
	AnySource = -1
	AnyTag    = -1
)

// MaxTag is the largest tag a message can carry. Tags travel as int32.
const MaxTag = math.MaxInt32

// Handle identifies one communication context inside a group. Traffic on
// different handles never matches.
type Handle uint32

// World is the handle every runtime exposes before any communicator exists.
const World Handle = 0

// Status describes the message a receive actually matched.
type Status struct {
	Source int
	Tag    int
	Count  int
}

// Runtime is the blocking message-passing runtime a process group runs on.
//
// Buffers are little-endian element arrays of count elements of dt. All calls
// block until complete. Every failure is reported as a *StatusError.
type Runtime interface {
	Init(args []string) error
	Finalize() error
	Rank() int
	Size() int
	Barrier(h Handle) error
	Send(h Handle, buf []byte, count int, dt Datatype, dest, tag int) error
	Recv(h Handle, buf []byte, count int, dt Datatype, src, tag int) (Status, error)
	Allgather(h Handle, send, recv []byte, count int, dt Datatype) error
	Allreduce(h Handle, send, recv []byte, count int, dt Datatype, op Op) error
}

// CheckBuffer validates that buf holds exactly count elements of dt.
func CheckBuffer(buf []byte, count int, dt Datatype) error {
	if !dt.Valid() {
		return Errorf(CodeType, "invalid datatype %d", uint8(dt))
	}
	if count < 0 {
		return Errorf(CodeCount, "negative count %d", count)
	}
	if len(buf) != count*dt.Size() {
		return Errorf(CodeBuffer, "buffer holds %d bytes, want %d (%d x %s)", len(buf), count*dt.Size(), count, dt)
	}
	return nil
}

// CheckSendTarget validates a destination rank and tag for a send.
func CheckSendTarget(dest, tag, size int) error {
	if dest < 0 || dest >= size {
		return Errorf(CodeRank, "invalid destination rank %d for group of size %d", dest, size)
	}
	if tag < 0 || tag > MaxTag {
		return Errorf(CodeTag, "invalid tag %d", tag)
	}
	return nil
}

// CheckRecvSource validates a source rank and tag for a receive, allowing wildcards.
func CheckRecvSource(src, tag, size int) error {
	if src != AnySource && (src < 0 || src >= size) {
		return Errorf(CodeRank, "invalid source rank %d for group of size %d", src, size)
	}
	if tag != AnyTag && (tag < 0 || tag > MaxTag) {
		return Errorf(CodeTag, "invalid tag %d", tag)
	}
	return nil
}
