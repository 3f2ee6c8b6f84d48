// Package runtime owns the messaging runtime contract the communicator sits on.
//
// Ownership boundary:
// - Runtime interface (init/finalize, rank/size, p2p, collectives)
// - wire datatype tags and reduction ops
// - status codes and StatusError
// - native element-wise reduction kernels
//
// Implementations live in runtime/local (in-process goroutine ranks) and
// runtime/tcp (one process per rank over TCP).
package runtime
