// Package worker runs an engine behind a message endpoint.
//
// A Runtime boots its engine lazily, queues messages that arrive while the
// engine loads and then serves requests one at a time. Cancels are handled
// as soon as they arrive so they can interrupt a running search.
package worker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-chess/internal/mailbox"
	"github.com/wippyai/wasm-chess/protocol"
	"github.com/wippyai/wasm-chess/transport"
)

// State is the bootstrap state of a Runtime.
type State int32

const (
	StateUninitialized State = iota
	StateLoading
	StateReady
	StateBootFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateBootFailed:
		return "boot_failed"
	default:
		return "unknown"
	}
}

// BootFunc loads the engine. source is the module source carried by an Init
// message, empty when booting on a first request.
type BootFunc func(ctx context.Context, source string) (protocol.Engine, error)

// Observer receives runtime events. Implementations must be safe for
// concurrent use.
type Observer interface {
	BootFinished(err error, elapsed time.Duration)
	RequestFinished(method protocol.Method, outcome string, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) BootFinished(error, time.Duration)                      {}
func (nopObserver) RequestFinished(protocol.Method, string, time.Duration) {}

type bootResult struct {
	engine protocol.Engine
	err    error
	source string
}

type event struct {
	boot  *bootResult
	frame []byte
}

// Runtime owns one engine and one endpoint.
type Runtime struct {
	endpoint transport.Endpoint
	boot     BootFunc
	logger   *zap.Logger
	observer Observer
	events   *mailbox.Mailbox[event]
	jobs     *mailbox.Mailbox[protocol.Request]
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	id       string
	state    atomic.Int32
	attempts atomic.Int32
	running  atomic.Bool
	execWG   sync.WaitGroup

	// owned by the event loop
	dispatch func(protocol.Message)
	queue    []protocol.Message
	handler  *protocol.Handler
	engine   protocol.Engine
	bootErr  string
	started  time.Time
}

// Option configures a Runtime
type Option func(*Runtime)

// WithLogger sets the runtime logger
func WithLogger(l *zap.Logger) Option {
	return func(r *Runtime) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithObserver sets the runtime observer
func WithObserver(o Observer) Option {
	return func(r *Runtime) {
		if o != nil {
			r.observer = o
		}
	}
}

// New wires a runtime to endpoint. Inbound frames are accepted immediately
// and processed once Run is called.
func New(endpoint transport.Endpoint, boot BootFunc, opts ...Option) *Runtime {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runtime{
		endpoint: endpoint,
		boot:     boot,
		logger:   zap.NewNop(),
		observer: nopObserver{},
		events:   mailbox.New[event](),
		jobs:     mailbox.New[protocol.Request](),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		id:       uuid.NewString(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(zap.String("worker", r.id))
	r.dispatch = r.enqueue

	endpoint.SetHandler(func(frame []byte) {
		r.events.Put(event{frame: frame})
	})
	return r
}

// ID returns the runtime's instance id.
func (r *Runtime) ID() string {
	return r.id
}

// State returns the current bootstrap state.
func (r *Runtime) State() State {
	return State(r.state.Load())
}

// LoadAttempts returns how many times the boot function was invoked.
func (r *Runtime) LoadAttempts() int {
	return int(r.attempts.Load())
}

// Run processes events until ctx is done or Close is called. It then stops
// the executor and closes the engine.
func (r *Runtime) Run(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return nil
	}
	defer close(r.done)

	stop := context.AfterFunc(ctx, r.cancel)
	defer stop()

	for {
		ev, ok := r.events.Get(r.ctx)
		if !ok {
			break
		}
		switch {
		case ev.boot != nil:
			r.finishBoot(ev.boot)
		default:
			r.receive(ev.frame)
		}
	}

	r.shutdown()
	return ctx.Err()
}

// Close stops the runtime and waits for Run to return.
func (r *Runtime) Close() error {
	r.cancel()
	if r.running.Load() {
		<-r.done
	}
	return nil
}

func (r *Runtime) receive(frame []byte) {
	msg, err := protocol.Decode(frame)
	if err != nil {
		r.logger.Warn("dropping malformed frame", zap.Error(err))
		return
	}

	if init, ok := msg.(protocol.Init); ok {
		if r.State() == StateUninitialized {
			r.startBoot(init.ModuleSource)
		} else {
			r.logger.Debug("ignoring init", zap.String("state", r.State().String()))
		}
		return
	}

	switch msg.(type) {
	case protocol.Request, protocol.Cancel:
		r.dispatch(msg)
	default:
		r.logger.Debug("ignoring inbound message", zap.String("frame", string(frame)))
	}
}

// enqueue holds messages until the engine is ready. A first request boots
// the engine with default sources.
func (r *Runtime) enqueue(msg protocol.Message) {
	r.queue = append(r.queue, msg)
	if _, ok := msg.(protocol.Request); ok && r.State() == StateUninitialized {
		r.startBoot("")
	}
}

func (r *Runtime) startBoot(source string) {
	r.state.Store(int32(StateLoading))
	r.attempts.Add(1)
	r.started = time.Now()
	r.logger.Info("booting engine", zap.String("source", source))

	go func() {
		eng, err := r.boot(r.ctx, source)
		res := &bootResult{engine: eng, err: err, source: source}
		if !r.events.Put(event{boot: res}) && eng != nil {
			closeEngine(context.Background(), eng)
		}
	}()
}

func (r *Runtime) finishBoot(res *bootResult) {
	r.observer.BootFinished(res.err, time.Since(r.started))
	queued := r.queue
	r.queue = nil

	if res.err != nil {
		r.bootErr = res.err.Error()
		r.state.Store(int32(StateBootFailed))
		r.dispatch = r.rejectBootstrap
		r.logger.Error("engine boot failed", zap.Error(res.err))

		r.post(protocol.BootstrapError{Error: r.bootErr, SourceTried: sourceTried(res)})
		for _, msg := range queued {
			r.dispatch(msg)
		}
		return
	}

	r.engine = res.engine
	r.handler = protocol.NewHandler(res.engine, protocol.WithHandlerLogger(r.logger))
	r.execWG.Add(1)
	go r.execute()

	r.state.Store(int32(StateReady))
	r.logger.Info("engine ready", zap.Int("queued", len(queued)))
	for _, msg := range queued {
		r.live(msg)
	}
	r.dispatch = r.live
}

// sourceTried names the sources a failed boot attempted.
func sourceTried(res *bootResult) string {
	var st interface{ SourcesTried() []string }
	if errors.As(res.err, &st) && len(st.SourcesTried()) > 0 {
		return strings.Join(st.SourcesTried(), ", ")
	}
	return res.source
}

// live hands requests to the executor and answers cancels immediately.
func (r *Runtime) live(msg protocol.Message) {
	switch m := msg.(type) {
	case protocol.Request:
		r.jobs.Put(m)
	case protocol.Cancel:
		if resp := r.handler.Handle(r.ctx, m); resp != nil {
			r.post(resp)
		}
	}
}

// rejectBootstrap answers every request after a failed boot.
func (r *Runtime) rejectBootstrap(msg protocol.Message) {
	req, ok := msg.(protocol.Request)
	if !ok {
		return
	}
	r.observer.RequestFinished(req.Method, protocol.KindBootstrap, 0)
	r.post(protocol.Failure{
		ID:    req.ID,
		Error: protocol.ErrorInfo{Kind: protocol.KindBootstrap, Message: r.bootErr},
	})
}

// execute runs requests one at a time, in arrival order.
func (r *Runtime) execute() {
	defer r.execWG.Done()
	for {
		req, ok := r.jobs.Get(r.ctx)
		if !ok {
			return
		}
		start := time.Now()
		resp := r.handler.Handle(r.ctx, req)
		if resp == nil {
			continue
		}
		outcome := "ok"
		if f, ok := resp.(protocol.Failure); ok {
			outcome = f.Error.Kind
		}
		r.observer.RequestFinished(req.Method, outcome, time.Since(start))
		r.post(resp)
	}
}

func (r *Runtime) post(msg protocol.Message) {
	frame, err := protocol.Encode(msg)
	if err != nil {
		r.logger.Error("encode failed", zap.Error(err))
		return
	}
	if err := r.endpoint.Post(frame); err != nil {
		r.logger.Debug("post failed", zap.Error(err))
	}
}

func (r *Runtime) shutdown() {
	r.endpoint.SetHandler(nil)
	r.events.Close()
	// A boot can finish after the loop stopped reading; its engine is ours.
	for {
		ev, ok := r.events.Get(context.Background())
		if !ok {
			break
		}
		if ev.boot != nil && ev.boot.engine != nil {
			closeEngine(context.Background(), ev.boot.engine)
		}
	}
	r.jobs.Close()
	if r.engine != nil {
		r.engine.Stop(context.Background())
	}
	r.execWG.Wait()
	if r.engine != nil {
		closeEngine(context.Background(), r.engine)
	}
	r.logger.Debug("worker stopped", zap.String("state", r.State().String()))
}

func closeEngine(ctx context.Context, eng protocol.Engine) {
	if c, ok := eng.(interface{ Close(context.Context) error }); ok {
		c.Close(ctx)
	}
}
