package coll

import (
	"sync"
	"testing"

	"github.com/danmuck/groupcomm/internal/mailbox"
	"github.com/danmuck/groupcomm/internal/testutil/testlog"
	"github.com/danmuck/groupcomm/mpi/runtime"
)

type fakeEndpoint struct {
	rank  int
	boxes []*mailbox.Mailbox
}

func (f *fakeEndpoint) Rank() int { return f.rank }
func (f *fakeEndpoint) Size() int { return len(f.boxes) }

func (f *fakeEndpoint) Post(ctx uint32, dest, tag int, dt runtime.Datatype, count int, payload []byte) error {
	buf := append([]byte(nil), payload...)
	return f.boxes[dest].Deliver(mailbox.Envelope{
		Context: ctx, Source: f.rank, Tag: tag, Datatype: dt, Count: count, Payload: buf,
	})
}

func (f *fakeEndpoint) Take(ctx uint32, src, tag int) (mailbox.Envelope, error) {
	return f.boxes[f.rank].Take(ctx, src, tag)
}

func runGroup(t *testing.T, n int, fn func(ep *fakeEndpoint) error) {
	t.Helper()
	boxes := make([]*mailbox.Mailbox, n)
	for i := range boxes {
		boxes[i] = mailbox.New()
	}
	errs := make([]error, n)
	var wg sync.WaitGroup
	for r := 0; r < n; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			errs[r] = fn(&fakeEndpoint{rank: r, boxes: boxes})
		}(r)
	}
	wg.Wait()
	for r, err := range errs {
		if err != nil {
			t.Fatalf("rank %d: %v", r, err)
		}
	}
}

func i32(v int32) []byte {
	b := make([]byte, 4)
	runtime.PutValue(runtime.Int32, b, v)
	return b
}

func TestAllgatherOrdersByRank(t *testing.T) {
	testlog.Start(t)
	const n = 5
	results := make([][]byte, n)
	runGroup(t, n, func(ep *fakeEndpoint) error {
		recv := make([]byte, 4*n)
		if err := Allgather(ep, runtime.World, i32(int32(ep.rank*3)), recv, 1, runtime.Int32); err != nil {
			return err
		}
		results[ep.rank] = recv
		return nil
	})
	for r := 0; r < n; r++ {
		for i := 0; i < n; i++ {
			got := runtime.Value[int32](runtime.Int32, results[r][i*4:])
			if got != int32(i*3) {
				t.Fatalf("rank %d slot %d: got=%d want=%d", r, i, got, i*3)
			}
		}
	}
}

func TestAllreduceSumAndMaxAgree(t *testing.T) {
	testlog.Start(t)
	const n = 4
	sums := make([]int32, n)
	maxes := make([]int32, n)
	runGroup(t, n, func(ep *fakeEndpoint) error {
		out := make([]byte, 4)
		if err := Allreduce(ep, runtime.World, i32(int32((ep.rank+1)*10)), out, 1, runtime.Int32, runtime.OpSum); err != nil {
			return err
		}
		sums[ep.rank] = runtime.Value[int32](runtime.Int32, out)
		if err := Allreduce(ep, runtime.World, i32(int32((ep.rank+1)*10)), out, 1, runtime.Int32, runtime.OpMax); err != nil {
			return err
		}
		maxes[ep.rank] = runtime.Value[int32](runtime.Int32, out)
		return nil
	})
	for r := 0; r < n; r++ {
		if sums[r] != 100 || maxes[r] != 40 {
			t.Fatalf("rank %d: sum=%d max=%d", r, sums[r], maxes[r])
		}
	}
}

func TestBarrierThenWildcardUserTrafficIsUntouched(t *testing.T) {
	testlog.Start(t)
	runGroup(t, 3, func(ep *fakeEndpoint) error {
		if err := Barrier(ep, runtime.World); err != nil {
			return err
		}
		return Barrier(ep, runtime.World)
	})
	if !IsCollective(Context(runtime.World)) || IsCollective(uint32(runtime.World)) {
		t.Fatalf("collective context bit not applied")
	}
}

func TestAllgatherRejectsDatatypeMismatch(t *testing.T) {
	testlog.Start(t)
	boxes := []*mailbox.Mailbox{mailbox.New(), mailbox.New()}
	ep := &fakeEndpoint{rank: 0, boxes: boxes}
	peer := &fakeEndpoint{rank: 1, boxes: boxes}
	if err := peer.Post(Context(runtime.World), 0, tagGather, runtime.Float32, 1, make([]byte, 4)); err != nil {
		t.Fatalf("post: %v", err)
	}
	err := Allgather(ep, runtime.World, i32(1), make([]byte, 8), 1, runtime.Int32)
	if runtime.CodeOf(err) != runtime.CodeType {
		t.Fatalf("expected CodeType, got %v", err)
	}
}
