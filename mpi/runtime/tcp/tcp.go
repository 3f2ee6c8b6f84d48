// Package tcp runs a process group across OS processes. Every pair of ranks
// shares one TCP (optionally TLS) connection: rank i dials every lower rank
// and accepts every higher one. Messages travel as framed data with their
// routing in the frame header.
package tcp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/groupcomm/internal/auth"
	"github.com/danmuck/groupcomm/internal/coll"
	"github.com/danmuck/groupcomm/internal/mailbox"
	"github.com/danmuck/groupcomm/internal/protocol/frame"
	"github.com/danmuck/groupcomm/internal/protocol/schema"
	"github.com/danmuck/groupcomm/internal/protocol/session"
	"github.com/danmuck/groupcomm/internal/server"
	"github.com/danmuck/groupcomm/mpi/runtime"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	stateUninitialized int32 = iota
	stateWiring
	stateReady
	stateFinalizing
	stateFinalized
)

var errRejected = errors.New("tcp: peer rejected handshake")

// Runtime is one rank of a tcp group. It implements runtime.Runtime.
type Runtime struct {
	cfg   Config
	auth  auth.Validator
	state atomic.Int32
	box   *mailbox.Mailbox

	mu     sync.Mutex
	ln     net.Listener
	peers  []*peer
	status *server.StatusServer
	wg     sync.WaitGroup
}

var _ runtime.Runtime = (*Runtime)(nil)
var _ coll.Endpoint = (*Runtime)(nil)

// New returns an uninitialized runtime. Zero session values and limits are
// filled from their defaults.
func New(cfg Config) *Runtime {
	cfg.Session = cfg.Session.WithDefaults()
	if cfg.Limits.MaxPayloadBytes == 0 {
		cfg.Limits = frame.DefaultLimits()
	}
	return &Runtime{
		cfg:  cfg,
		auth: auth.ForGroup(cfg.Token),
		box:  mailbox.New(),
	}
}

// Init wires the full mesh. It returns once every peer connection has
// completed its handshake or WireupTimeout expires.
func (r *Runtime) Init(args []string) error {
	if !r.state.CompareAndSwap(stateUninitialized, stateWiring) {
		switch r.state.Load() {
		case stateFinalizing, stateFinalized:
			return runtime.Errorf(runtime.CodeFinalized, "rank %d already finalized", r.cfg.Rank)
		default:
			return runtime.Errorf(runtime.CodeAlreadyInitialized, "rank %d already initialized", r.cfg.Rank)
		}
	}
	if err := r.cfg.Validate(); err != nil {
		r.state.Store(stateUninitialized)
		return runtime.Errorf(runtime.CodeArg, "%v", err)
	}

	start := time.Now()
	if err := r.wireup(); err != nil {
		r.closeTransport()
		r.state.Store(stateUninitialized)
		log.Error().Err(err).Int("rank", r.cfg.Rank).Str("group", r.cfg.GroupID).Msg("tcp.Init wireup failed")
		var se *runtime.StatusError
		if errors.As(err, &se) {
			return se
		}
		return runtime.Errorf(runtime.CodeComm, "wireup: %v", err)
	}

	for _, p := range r.peers {
		if p == nil {
			continue
		}
		r.wg.Add(1)
		go r.readLoop(p)
	}

	if r.cfg.MetricsAddr != "" {
		st := server.New(fmt.Sprintf("rank-%d", r.cfg.Rank), r.cfg.MetricsAddr, r, nil)
		if err := st.Start(); err != nil {
			log.Warn().Err(err).Str("addr", r.cfg.MetricsAddr).Msg("tcp: status server disabled")
		} else {
			r.status = st
		}
	}

	r.state.Store(stateReady)
	log.Info().
		Int("rank", r.cfg.Rank).
		Int("size", r.cfg.Size).
		Str("group", r.cfg.GroupID).
		Bool("tls", r.cfg.Session.TLS.Enabled).
		Dur("wireup", time.Since(start)).
		Msg("tcp.Init")
	return nil
}

// Finalize waits at a final barrier so no peer tears down while others still
// expect traffic, then closes every connection.
func (r *Runtime) Finalize() error {
	if !r.state.CompareAndSwap(stateReady, stateFinalizing) {
		return runtime.Errorf(runtime.CodeNotInitialized, "rank %d not initialized", r.cfg.Rank)
	}
	barrierErr := coll.FinalBarrier(r)
	r.closeTransport()
	r.box.Close(runtime.Errorf(runtime.CodeFinalized, "rank %d finalized", r.cfg.Rank))
	r.wg.Wait()
	if r.status != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = r.status.Shutdown(ctx)
		cancel()
	}
	r.state.Store(stateFinalized)
	log.Info().Int("rank", r.cfg.Rank).Msg("tcp.Finalize")
	return barrierErr
}

func (r *Runtime) Rank() int {
	return r.cfg.Rank
}

func (r *Runtime) Size() int {
	return r.cfg.Size
}

// Ready reports whether the mesh is wired and not yet finalizing.
func (r *Runtime) Ready() bool {
	return r.state.Load() == stateReady
}

func (r *Runtime) ready() error {
	switch r.state.Load() {
	case stateReady:
		return nil
	case stateFinalizing, stateFinalized:
		return runtime.Errorf(runtime.CodeFinalized, "rank %d finalized", r.cfg.Rank)
	default:
		return runtime.Errorf(runtime.CodeNotInitialized, "rank %d not initialized", r.cfg.Rank)
	}
}

func (r *Runtime) Barrier(h runtime.Handle) error {
	if err := r.ready(); err != nil {
		return err
	}
	return coll.Barrier(r, h)
}

func (r *Runtime) Send(h runtime.Handle, buf []byte, count int, dt runtime.Datatype, dest, tag int) error {
	if err := r.ready(); err != nil {
		return err
	}
	if err := runtime.CheckBuffer(buf, count, dt); err != nil {
		return err
	}
	if err := runtime.CheckSendTarget(dest, tag, r.cfg.Size); err != nil {
		return err
	}
	return r.Post(uint32(h), dest, tag, dt, count, buf)
}

func (r *Runtime) Recv(h runtime.Handle, buf []byte, count int, dt runtime.Datatype, src, tag int) (runtime.Status, error) {
	if err := r.ready(); err != nil {
		return runtime.Status{}, err
	}
	if err := runtime.CheckBuffer(buf, count, dt); err != nil {
		return runtime.Status{}, err
	}
	if err := runtime.CheckRecvSource(src, tag, r.cfg.Size); err != nil {
		return runtime.Status{}, err
	}
	env, err := r.Take(uint32(h), src, tag)
	if err != nil {
		return runtime.Status{}, err
	}
	return env.Unpack(buf, count, dt)
}

func (r *Runtime) Allgather(h runtime.Handle, send, recv []byte, count int, dt runtime.Datatype) error {
	if err := r.ready(); err != nil {
		return err
	}
	return coll.Allgather(r, h, send, recv, count, dt)
}

func (r *Runtime) Allreduce(h runtime.Handle, send, recv []byte, count int, dt runtime.Datatype, op runtime.Op) error {
	if err := r.ready(); err != nil {
		return err
	}
	if err := runtime.CheckBuffer(send, count, dt); err != nil {
		return err
	}
	return coll.Allreduce(r, h, send, recv, count, dt, op)
}

// Post sends one message. Self-sends skip the network.
func (r *Runtime) Post(ctx uint32, dest, tag int, dt runtime.Datatype, count int, payload []byte) error {
	if dest == r.cfg.Rank {
		buf := make([]byte, len(payload))
		copy(buf, payload)
		err := r.box.Deliver(mailbox.Envelope{
			Context:  ctx,
			Source:   r.cfg.Rank,
			Tag:      tag,
			Datatype: dt,
			Count:    count,
			Payload:  buf,
		})
		if err != nil {
			return runtime.Errorf(runtime.CodeComm, "rank %d mailbox closed", dest)
		}
		return nil
	}
	p := r.peer(dest)
	if p == nil {
		return runtime.Errorf(runtime.CodeComm, "no connection to rank %d", dest)
	}
	err := p.write(frame.Frame{
		Header: frame.Header{
			MessageType: schema.MsgData,
			Datatype:    uint8(dt),
			Context:     ctx,
			Source:      int32(r.cfg.Rank),
			Tag:         int32(tag),
			Count:       uint32(count),
		},
		Payload: payload,
	})
	if err != nil {
		return runtime.Errorf(runtime.CodeComm, "send to rank %d: %v", dest, err)
	}
	return nil
}

func (r *Runtime) Take(ctx uint32, src, tag int) (mailbox.Envelope, error) {
	env, err := r.box.Take(ctx, src, tag)
	if err != nil {
		var se *runtime.StatusError
		if errors.As(err, &se) {
			return mailbox.Envelope{}, se
		}
		return mailbox.Envelope{}, runtime.Errorf(runtime.CodeComm, "%v", err)
	}
	return env, nil
}

func (r *Runtime) peer(rank int) *peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rank < 0 || rank >= len(r.peers) {
		return nil
	}
	return r.peers[rank]
}

func (r *Runtime) setPeer(p *peer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.peers[p.rank] != nil {
		return fmt.Errorf("duplicate connection from rank %d", p.rank)
	}
	r.peers[p.rank] = p
	return nil
}

func (r *Runtime) wireup() error {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.Session.WireupTimeout)
	defer cancel()

	r.mu.Lock()
	r.peers = make([]*peer, r.cfg.Size)
	r.mu.Unlock()

	ln, err := r.listen()
	if err != nil {
		return runtime.Errorf(runtime.CodeComm, "listen %s: %v", r.cfg.Peers[r.cfg.Rank], err)
	}
	r.mu.Lock()
	r.ln = ln
	r.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(gctx, func() { _ = ln.Close() })
	defer stop()
	if higher := r.cfg.Size - 1 - r.cfg.Rank; higher > 0 {
		g.Go(func() error { return r.acceptPeers(gctx, ln, higher) })
	}
	for lower := 0; lower < r.cfg.Rank; lower++ {
		g.Go(func() error { return r.dialPeer(gctx, lower) })
	}
	err = g.Wait()

	// The mesh is complete or failed; no more peers will dial in.
	r.mu.Lock()
	r.ln = nil
	r.mu.Unlock()
	_ = ln.Close()
	if err != nil && ctx.Err() != nil && !errors.Is(err, errRejected) {
		return runtime.Errorf(runtime.CodeComm, "wireup timed out after %s: %v", r.cfg.Session.WireupTimeout, err)
	}
	return err
}

func (r *Runtime) listen() (net.Listener, error) {
	ln := r.cfg.Listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", r.cfg.Peers[r.cfg.Rank])
		if err != nil {
			return nil, err
		}
	}
	tlsCfg, err := r.cfg.Session.ServerTLSConfig()
	if err != nil {
		_ = ln.Close()
		return nil, err
	}
	if tlsCfg != nil {
		ln = tls.NewListener(ln, tlsCfg)
	}
	return ln, nil
}

func (r *Runtime) acceptPeers(ctx context.Context, ln net.Listener, want int) error {
	for got := 0; got < want; {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("accepted %d of %d peers: %w", got, want, ctx.Err())
			}
			return err
		}
		p, err := r.acceptHandshake(conn)
		if err != nil {
			log.Warn().Err(err).Int("rank", r.cfg.Rank).Str("remote", conn.RemoteAddr().String()).Msg("tcp: handshake refused")
			_ = conn.Close()
			continue
		}
		got++
		log.Debug().Int("rank", r.cfg.Rank).Int("peer", p.rank).Msg("tcp: accepted peer")
	}
	return nil
}

func (r *Runtime) acceptHandshake(conn net.Conn) (*peer, error) {
	_ = conn.SetDeadline(time.Now().Add(r.cfg.Session.HandshakeTimeout))
	hello, err := session.ReadHello(conn, r.cfg.Limits)
	if err != nil {
		return nil, err
	}

	reject := func(format string, args ...any) error {
		msg := fmt.Sprintf(format, args...)
		_ = session.WriteHelloAck(conn, session.HelloAck{
			GroupID: r.cfg.GroupID,
			Rank:    r.cfg.Rank,
			Size:    r.cfg.Size,
			Status:  schema.StatusRejected,
			Code:    uint32(runtime.CodeComm),
			Message: msg,
		}, r.cfg.Limits)
		return fmt.Errorf("%w: %s", errRejected, msg)
	}
	switch {
	case hello.GroupID != r.cfg.GroupID:
		return nil, reject("group id %q does not match %q", hello.GroupID, r.cfg.GroupID)
	case hello.Size != r.cfg.Size:
		return nil, reject("group size %d does not match %d", hello.Size, r.cfg.Size)
	case hello.Rank <= r.cfg.Rank:
		return nil, reject("rank %d must dial lower ranks only", hello.Rank)
	}
	if err := r.auth.Validate(hello.Token); err != nil {
		return nil, reject("rank %d: %v", hello.Rank, err)
	}

	p := newPeer(hello.Rank, conn, r.cfg)
	if err := r.setPeer(p); err != nil {
		return nil, reject("%v", err)
	}
	err = session.WriteHelloAck(conn, session.HelloAck{
		GroupID: r.cfg.GroupID,
		Rank:    r.cfg.Rank,
		Size:    r.cfg.Size,
		Status:  schema.StatusAccepted,
	}, r.cfg.Limits)
	if err != nil {
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})
	return p, nil
}

func (r *Runtime) dialPeer(ctx context.Context, rank int) error {
	addr := r.cfg.Peers[rank]
	backoff := session.NewBackoff(r.cfg.Session.Backoff, rand.New(rand.NewSource(time.Now().UnixNano()+int64(r.cfg.Rank))))
	for {
		p, err := r.dialOnce(ctx, rank, addr)
		if err == nil {
			log.Debug().Int("rank", r.cfg.Rank).Int("peer", rank).Int("attempts", backoff.Attempts()+1).Msg("tcp: dialed peer")
			return r.setPeer(p)
		}
		if errors.Is(err, errRejected) {
			return runtime.Errorf(runtime.CodeComm, "rank %d: %v", rank, err)
		}
		log.Debug().Err(err).Int("rank", r.cfg.Rank).Int("peer", rank).Msg("tcp: dial retry")
		if werr := backoff.Wait(ctx); werr != nil {
			return fmt.Errorf("dial rank %d at %s: %v: %w", rank, addr, err, werr)
		}
	}
}

func (r *Runtime) dialOnce(ctx context.Context, rank int, addr string) (*peer, error) {
	dialer := &net.Dialer{Timeout: r.cfg.Session.ConnectTimeout}
	var (
		conn net.Conn
		err  error
	)
	tlsCfg, err := r.cfg.Session.ClientTLSConfig(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: tls config: %v", errRejected, err)
	}
	if tlsCfg != nil {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: tlsCfg}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, err
	}

	_ = conn.SetDeadline(time.Now().Add(r.cfg.Session.HandshakeTimeout))
	err = session.WriteHello(conn, session.Hello{
		GroupID: r.cfg.GroupID,
		Rank:    r.cfg.Rank,
		Size:    r.cfg.Size,
		Token:   r.cfg.Token,
	}, r.cfg.Limits)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	ack, err := session.ReadHelloAck(conn, r.cfg.Limits)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := ack.Err(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %v", errRejected, err)
	}
	if ack.Rank != rank || ack.GroupID != r.cfg.GroupID || ack.Size != r.cfg.Size {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %s answered as rank %d of %q/%d", errRejected, addr, ack.Rank, ack.GroupID, ack.Size)
	}
	_ = conn.SetDeadline(time.Time{})
	return newPeer(rank, conn, r.cfg), nil
}

// readLoop delivers inbound data frames to the mailbox. A peer closing its
// side is only expected once this rank is finalizing; any earlier loss fails
// pending and future receives.
func (r *Runtime) readLoop(p *peer) {
	defer r.wg.Done()
	for {
		fr, err := frame.ReadFrame(p.conn, r.cfg.Limits)
		if err != nil {
			if r.finalizing() {
				return
			}
			if errors.Is(err, io.EOF) {
				err = fmt.Errorf("rank %d closed its connection", p.rank)
			}
			r.fail(p.rank, err)
			return
		}
		env, err := p.envelope(fr)
		if err != nil {
			r.fail(p.rank, err)
			return
		}
		if err := r.box.Deliver(env); err != nil {
			return
		}
	}
}

func (r *Runtime) finalizing() bool {
	s := r.state.Load()
	return s == stateFinalizing || s == stateFinalized
}

func (r *Runtime) fail(rank int, err error) {
	log.Error().Err(err).Int("rank", r.cfg.Rank).Int("peer", rank).Msg("tcp: peer connection lost")
	r.box.Close(runtime.Errorf(runtime.CodeComm, "connection to rank %d: %v", rank, err))
}

func (r *Runtime) closeTransport() {
	r.mu.Lock()
	ln := r.ln
	r.ln = nil
	peers := r.peers
	r.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}
	for _, p := range peers {
		if p != nil {
			_ = p.conn.Close()
		}
	}
}

// Abort tears down every connection and fails blocked receives. Peers see
// the lost connection and fail theirs.
func (r *Runtime) Abort(reason error) {
	r.box.Close(runtime.Errorf(runtime.CodeComm, "rank %d aborted: %v", r.cfg.Rank, reason))
	r.closeTransport()
}
