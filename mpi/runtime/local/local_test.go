package local

import (
	"errors"
	"testing"

	"github.com/danmuck/groupcomm/internal/testutil/testlog"
	"github.com/danmuck/groupcomm/mpi/runtime"
)

func u32(v uint32) []byte {
	b := make([]byte, 4)
	runtime.PutValue(runtime.Uint32, b, v)
	return b
}

func TestRunRingSendRecv(t *testing.T) {
	testlog.Start(t)
	const n = 4
	err := Run(n, func(rt runtime.Runtime) error {
		if err := rt.Init(nil); err != nil {
			return err
		}
		rank, size := rt.Rank(), rt.Size()
		next := (rank + 1) % size
		if rank == 0 {
			if err := rt.Send(runtime.World, u32(0), 1, runtime.Uint32, next, 256); err != nil {
				return err
			}
		}
		buf := make([]byte, 4)
		st, err := rt.Recv(runtime.World, buf, 1, runtime.Uint32, runtime.AnySource, runtime.AnyTag)
		if err != nil {
			return err
		}
		if st.Tag != 256 || st.Source != (rank-1+size)%size {
			return errors.New("unexpected status")
		}
		v := runtime.Value[uint32](runtime.Uint32, buf) + 1
		if rank != 0 {
			if err := rt.Send(runtime.World, u32(v), 1, runtime.Uint32, next, 256); err != nil {
				return err
			}
		} else if v != n {
			return errors.New("ring value mismatch at master")
		}
		return rt.Finalize()
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestEndpointLifecycleCodes(t *testing.T) {
	testlog.Start(t)
	ep := Self()
	if err := ep.Barrier(runtime.World); runtime.CodeOf(err) != runtime.CodeNotInitialized {
		t.Fatalf("expected CodeNotInitialized, got %v", err)
	}
	if err := ep.Init(nil); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := ep.Init(nil); runtime.CodeOf(err) != runtime.CodeAlreadyInitialized {
		t.Fatalf("expected CodeAlreadyInitialized, got %v", err)
	}
	if err := ep.Finalize(); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if err := ep.Send(runtime.World, u32(1), 1, runtime.Uint32, 0, 0); runtime.CodeOf(err) != runtime.CodeFinalized {
		t.Fatalf("expected CodeFinalized, got %v", err)
	}
}

func TestSendRecvErrorCodes(t *testing.T) {
	testlog.Start(t)
	g, err := NewGroup(2)
	if err != nil {
		t.Fatalf("new group: %v", err)
	}
	a, b := g.Endpoint(0), g.Endpoint(1)
	_ = a.Init(nil)
	_ = b.Init(nil)

	if err := a.Send(runtime.World, u32(1), 1, runtime.Uint32, 2, 0); runtime.CodeOf(err) != runtime.CodeRank {
		t.Fatalf("expected CodeRank, got %v", err)
	}
	if err := a.Send(runtime.World, u32(1), 1, runtime.Uint32, 1, -4); runtime.CodeOf(err) != runtime.CodeTag {
		t.Fatalf("expected CodeTag, got %v", err)
	}
	if err := a.Send(runtime.World, u32(1), 1, runtime.Uint32, 1, 3); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := b.Recv(runtime.World, make([]byte, 4), 1, runtime.Float32, 0, 3); runtime.CodeOf(err) != runtime.CodeType {
		t.Fatalf("expected CodeType, got %v", err)
	}
}

func TestNewGroupRejectsEmpty(t *testing.T) {
	testlog.Start(t)
	if _, err := NewGroup(0); !errors.Is(err, ErrInvalidSize) {
		t.Fatalf("expected ErrInvalidSize, got %v", err)
	}
}

func TestRunAbortsPeersOnFailure(t *testing.T) {
	testlog.Start(t)
	boom := errors.New("boom")
	err := Run(3, func(rt runtime.Runtime) error {
		_ = rt.Init(nil)
		if rt.Rank() == 2 {
			return boom
		}
		return rt.Barrier(runtime.World)
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected rank failure to surface, got %v", err)
	}
}
