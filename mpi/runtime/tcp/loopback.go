package tcp

import (
	"context"
	"fmt"
	"net"

	"github.com/danmuck/groupcomm/internal/protocol/session"
	"github.com/danmuck/groupcomm/mpi/runtime"
	"golang.org/x/sync/errgroup"
)

// LoopbackConfigs binds n listeners on 127.0.0.1 and returns one Config per
// rank, each owning its pre-bound listener.
func LoopbackConfigs(groupID string, n int, sess session.Config) ([]Config, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: size %d", ErrInvalidConfig, n)
	}
	lns := make([]net.Listener, n)
	addrs := make([]string, n)
	for i := range lns {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			for _, prev := range lns[:i] {
				_ = prev.Close()
			}
			return nil, err
		}
		lns[i] = ln
		addrs[i] = ln.Addr().String()
	}
	cfgs := make([]Config, n)
	for i := range cfgs {
		cfgs[i] = Config{
			GroupID:  groupID,
			Rank:     i,
			Size:     n,
			Peers:    addrs,
			Session:  sess,
			Listener: lns[i],
		}
	}
	return cfgs, nil
}

// RunLoopback runs fn once per config on its own goroutine, each with a fresh
// uninitialized Runtime, and returns the first error. A failing rank aborts
// the others.
func RunLoopback(cfgs []Config, fn func(rt runtime.Runtime) error) error {
	rts := make([]*Runtime, len(cfgs))
	for i, cfg := range cfgs {
		rts[i] = New(cfg)
	}
	eg, ctx := errgroup.WithContext(context.Background())
	stop := context.AfterFunc(ctx, func() {
		for _, rt := range rts {
			rt.Abort(context.Cause(ctx))
		}
	})
	defer stop()
	for _, rt := range rts {
		eg.Go(func() error {
			if err := fn(rt); err != nil {
				return fmt.Errorf("rank %d: %w", rt.Rank(), err)
			}
			return nil
		})
	}
	return eg.Wait()
}
