// Package mpi is a typed communicator over a process group.
//
// A program initializes one Env, opens communicators from it, and calls
// the generic operations (Send, Recv, AllGather, AllMax, AllSum, ...) with
// any Scalar type. Element types are mapped to runtime datatypes by
// DatatypeOf; every non-success runtime status comes back as a *Error.
//
//	env, err := mpi.Init(os.Args[1:])
//	if err != nil {
//		log.Fatal().Err(err).Msg("init")
//	}
//	comm, _ := mpi.NewComm(env)
//	total, err := mpi.AllSum(comm, comm.Rank()+1)
//	...
//	_ = comm.Close()
//	_ = env.Finalize()
//
// All calls block. A Comm is driven by one goroutine at a time, and every
// member must enter collectives in the same order or the group deadlocks.
package mpi
