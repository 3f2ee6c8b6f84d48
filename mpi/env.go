package mpi

import (
	"os"
	"sync"

	"github.com/danmuck/groupcomm/mpi/runtime"
	"github.com/danmuck/groupcomm/mpi/runtime/local"
	"github.com/danmuck/groupcomm/mpi/runtime/tcp"
	"github.com/rs/zerolog/log"
)

// noCopy flags accidental copies of Env under go vet's copylocks check.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

type envState uint8

const (
	envUninitialized envState = iota
	envReady
	envFinalized
)

// maxHandle bounds communicator context ids; higher values are reserved
// for collective traffic.
const maxHandle = runtime.Handle(1<<31 - 1)

// Env scopes one initialized runtime. Communicators borrow it and must be
// closed before Finalize.
type Env struct {
	_ noCopy

	rt        runtime.Runtime
	isDefault bool

	mu     sync.Mutex
	state  envState
	comms  int
	handle runtime.Handle
}

type options struct {
	rt     runtime.Runtime
	getenv func(string) string
}

type Option func(*options)

// WithRuntime initializes rt instead of the process default runtime.
func WithRuntime(rt runtime.Runtime) Option {
	return func(o *options) {
		o.rt = rt
	}
}

// WithGetenv replaces os.Getenv when resolving the default runtime.
func WithGetenv(getenv func(string) string) Option {
	return func(o *options) {
		o.getenv = getenv
	}
}

var (
	defaultMu  sync.Mutex
	defaultEnv *Env
)

// Init initializes a runtime and returns its Env. Without WithRuntime the
// process default is used: a tcp group when args or the environment
// describe one, else a group of one. The default can be initialized once
// per process.
func Init(args []string, opts ...Option) (*Env, error) {
	o := options{getenv: os.Getenv}
	for _, opt := range opts {
		opt(&o)
	}
	if o.rt != nil {
		return start(o.rt, args, false)
	}

	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultEnv != nil {
		if defaultEnv.Finalized() {
			return nil, initError(runtime.CodeFinalized, "init", "process environment already finalized")
		}
		return nil, initError(runtime.CodeAlreadyInitialized, "init", "process environment already initialized")
	}
	rt, err := defaultRuntime(args, o.getenv)
	if err != nil {
		return nil, err
	}
	env, err := start(rt, args, true)
	if err != nil {
		return nil, err
	}
	defaultEnv = env
	return env, nil
}

func defaultRuntime(args []string, getenv func(string) string) (runtime.Runtime, error) {
	cfg, ok, err := tcp.ConfigFromArgs(args, getenv)
	if err != nil {
		return nil, initError(runtime.CodeArg, "init", "%v", err)
	}
	if !ok {
		return local.Self(), nil
	}
	return tcp.New(cfg), nil
}

func start(rt runtime.Runtime, args []string, isDefault bool) (*Env, error) {
	if err := rt.Init(args); err != nil {
		return nil, wrap("init", err)
	}
	env := &Env{rt: rt, isDefault: isDefault, state: envReady}
	log.Debug().
		Int("rank", rt.Rank()).
		Int("size", rt.Size()).
		Bool("default", isDefault).
		Msg("mpi.Init")
	return env, nil
}

// Default returns the process default Env while it is initialized.
func Default() (*Env, bool) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultEnv == nil || !defaultEnv.Initialized() {
		return nil, false
	}
	return defaultEnv, true
}

// Finalize shuts the runtime down. It fails while communicators are open
// and on an Env that is not initialized.
func (e *Env) Finalize() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.state {
	case envUninitialized:
		return initError(runtime.CodeNotInitialized, "finalize", "environment not initialized")
	case envFinalized:
		return initError(runtime.CodeFinalized, "finalize", "environment already finalized")
	}
	if e.comms > 0 {
		return initError(runtime.CodeArg, "finalize", "%d communicators still open", e.comms)
	}
	e.state = envFinalized
	err := e.rt.Finalize()
	log.Debug().Int("rank", e.rt.Rank()).Err(err).Msg("mpi.Finalize")
	return wrap("finalize", err)
}

func (e *Env) Initialized() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == envReady
}

func (e *Env) Finalized() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == envFinalized
}

// acquire registers a new communicator and hands out its context id.
func (e *Env) acquire() (runtime.Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.state {
	case envUninitialized:
		return 0, initError(runtime.CodeNotInitialized, "new_comm", "environment not initialized")
	case envFinalized:
		return 0, initError(runtime.CodeFinalized, "new_comm", "environment finalized")
	}
	if e.handle > maxHandle {
		return 0, &Error{Code: runtime.CodeComm, Op: "new_comm", Message: "communicator ids exhausted"}
	}
	h := e.handle
	e.handle++
	e.comms++
	return h, nil
}

func (e *Env) release() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.comms > 0 {
		e.comms--
	}
}
