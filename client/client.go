// Package client multiplexes engine calls over one worker endpoint.
//
// Every call gets a fresh correlation id and waits for the response carrying
// that id. Canceling a call's context sends a Cancel to the worker, which
// always answers with a canceled failure, so a canceled call never observes
// the engine's late result.
package client

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	wasmchess "github.com/wippyai/wasm-chess"
	"github.com/wippyai/wasm-chess/abi"
	"github.com/wippyai/wasm-chess/errors"
	"github.com/wippyai/wasm-chess/protocol"
	"github.com/wippyai/wasm-chess/transport"
)

var (
	// ErrDisposed rejects calls pending on, or made after, Dispose.
	ErrDisposed = &errors.Error{Phase: errors.PhaseProtocol, Kind: errors.KindClosed, Detail: "client disposed"}

	// ErrCanceled matches every canceled call, whether it was rejected
	// before sending or canceled by the worker.
	ErrCanceled = &errors.Error{Phase: errors.PhaseProtocol, Kind: errors.KindCanceled, Detail: "request canceled"}

	// ErrWorkerGone rejects calls pending on, or made after, the end of the
	// worker's stream.
	ErrWorkerGone = errors.Closed(errors.PhaseRuntime, "worker")
)

// doner is implemented by endpoints that can lose their peer, such as
// transport.Stream.
type doner interface {
	Done() <-chan struct{}
}

// ResponseError is a failure reported by the worker.
type ResponseError struct {
	Method  protocol.Method
	Kind    string
	Message string
	ID      int64
}

func (e *ResponseError) Error() string {
	return string(e.Method) + " failed (" + e.Kind + "): " + e.Message
}

// Is matches ErrCanceled for canceled failures, and a boundary sentinel such
// as abi.ErrInvalidPosition for boundary failures with the same code.
func (e *ResponseError) Is(target error) bool {
	if target == ErrCanceled {
		return e.Kind == protocol.KindCanceled
	}
	if be, ok := target.(*abi.BoundaryError); ok {
		code, ok := e.Status()
		return ok && code == be.Code && (be.Operation == "" || be.Operation == string(e.Method))
	}
	return false
}

// Status returns the engine status code of a boundary failure.
func (e *ResponseError) Status() (abi.StatusCode, bool) {
	rest, ok := strings.CutPrefix(e.Kind, protocol.KindBoundaryPrefix)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil {
		return 0, false
	}
	return abi.StatusCode(n), true
}

// IsCanceled reports whether err is a canceled call.
func IsCanceled(err error) bool {
	return stderrors.Is(err, ErrCanceled)
}

// IsWorkerGone reports whether err is the loss of the worker endpoint.
func IsWorkerGone(err error) bool {
	return stderrors.Is(err, ErrWorkerGone)
}

// IsBootstrap reports whether err is the worker's bootstrap failure.
func IsBootstrap(err error) bool {
	var re *ResponseError
	return stderrors.As(err, &re) && re.Kind == protocol.KindBootstrap
}

// Observer receives call events. Implementations must be safe for concurrent
// use.
type Observer interface {
	CallStarted(method protocol.Method)
	CallFinished(method protocol.Method, outcome string, elapsed time.Duration)
	CancelSent(method protocol.Method)
}

type nopObserver struct{}

func (nopObserver) CallStarted(protocol.Method)                         {}
func (nopObserver) CallFinished(protocol.Method, string, time.Duration) {}
func (nopObserver) CancelSent(protocol.Method)                          {}

type outcome struct {
	err    error
	result json.RawMessage
}

type pending struct {
	done   chan outcome
	method protocol.Method
}

// Client owns one endpoint and the calls pending on it.
type Client struct {
	endpoint      transport.Endpoint
	logger        *zap.Logger
	observer      Observer
	pending       map[int64]*pending
	onBootFailure func(protocol.BootstrapError)
	quit          chan struct{}
	closedErr     error
	nextID        atomic.Int64
	mu            sync.Mutex
}

// Option configures a Client
type Option func(*Client)

// WithLogger sets the client logger
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithObserver sets the client observer
func WithObserver(o Observer) Option {
	return func(c *Client) {
		if o != nil {
			c.observer = o
		}
	}
}

// New attaches a client to endpoint.
func New(endpoint transport.Endpoint, opts ...Option) *Client {
	c := &Client{
		endpoint: endpoint,
		logger:   zap.NewNop(),
		observer: nopObserver{},
		pending:  make(map[int64]*pending),
		quit:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	endpoint.SetHandler(c.receive)
	if d, ok := endpoint.(doner); ok {
		go c.watch(d.Done())
	}
	return c
}

// watch rejects every call once the peer's stream has ended. Frames read
// before the end are delivered first.
func (c *Client) watch(done <-chan struct{}) {
	select {
	case <-done:
		c.logger.Warn("worker endpoint closed", zap.Int("pending", c.Pending()))
		c.shutdown(ErrWorkerGone)
	case <-c.quit:
	}
}

// Init asks the worker to boot from source. An empty source uses the
// worker's default candidates.
func (c *Client) Init(source string) error {
	frame, err := protocol.Encode(protocol.Init{ModuleSource: source})
	if err != nil {
		return err
	}
	return c.endpoint.Post(frame)
}

// OnBootFailure registers fn for the worker's bootstrap failure notice.
// It replaces any earlier callback.
func (c *Client) OnBootFailure(fn func(protocol.BootstrapError)) {
	c.mu.Lock()
	c.onBootFailure = fn
	c.mu.Unlock()
}

// Pending returns the number of calls awaiting a response.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Call sends method with params and waits for its response.
//
// A context that is already done rejects the call without sending it. A
// context that ends while the call is pending sends one Cancel and the call
// completes with the worker's canceled failure.
func (c *Client) Call(ctx context.Context, method protocol.Method, params any) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(errors.PhaseProtocol, errors.KindCanceled, err, "request not sent")
	}

	var raw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseProtocol, errors.KindInvalidInput, err, "encode params")
		}
		raw = b
	}

	id := c.nextID.Add(1)
	p := &pending{method: method, done: make(chan outcome, 1)}

	c.mu.Lock()
	if c.closedErr != nil {
		err := c.closedErr
		c.mu.Unlock()
		return nil, err
	}
	c.pending[id] = p
	c.mu.Unlock()

	start := time.Now()
	c.observer.CallStarted(method)

	frame, err := protocol.Encode(protocol.Request{ID: id, Method: method, Params: raw})
	if err == nil {
		err = c.endpoint.Post(frame)
	}
	if err != nil {
		c.forget(id)
		c.observer.CallFinished(method, protocol.KindRuntime, time.Since(start))
		return nil, err
	}

	var out outcome
	select {
	case out = <-p.done:
	case <-ctx.Done():
		c.logger.Debug("canceling request", zap.Int64("id", id), zap.String("method", string(method)))
		if err := c.sendCancel(id); err != nil {
			c.forget(id)
			out = outcome{err: errors.Wrap(errors.PhaseProtocol, errors.KindCanceled, err, "cancel not delivered")}
			break
		}
		c.observer.CancelSent(method)
		out = <-p.done
	}

	c.observer.CallFinished(method, outcomeKind(out.err), time.Since(start))
	return out.result, out.err
}

func outcomeKind(err error) string {
	if err == nil {
		return "ok"
	}
	var re *ResponseError
	if stderrors.As(err, &re) {
		return re.Kind
	}
	if IsCanceled(err) {
		return protocol.KindCanceled
	}
	return protocol.KindRuntime
}

func (c *Client) sendCancel(id int64) error {
	frame, err := protocol.Encode(protocol.Cancel{ID: id})
	if err != nil {
		return err
	}
	return c.endpoint.Post(frame)
}

func (c *Client) forget(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// take removes and returns the pending call for id.
func (c *Client) take(id int64) *pending {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[id]
	if !ok {
		return nil
	}
	delete(c.pending, id)
	return p
}

func (c *Client) receive(frame []byte) {
	msg, err := protocol.Decode(frame)
	if err != nil {
		c.logger.Warn("dropping malformed frame", zap.Error(err))
		return
	}

	switch m := msg.(type) {
	case protocol.Success:
		if p := c.take(m.ID); p != nil {
			p.done <- outcome{result: m.Result}
			return
		}
		c.logger.Debug("ignoring response for unknown id", zap.Int64("id", m.ID))
	case protocol.Failure:
		if p := c.take(m.ID); p != nil {
			p.done <- outcome{err: &ResponseError{ID: m.ID, Method: p.method, Kind: m.Error.Kind, Message: m.Error.Message}}
			return
		}
		c.logger.Debug("ignoring failure for unknown id", zap.Int64("id", m.ID), zap.String("kind", m.Error.Kind))
	case protocol.BootstrapError:
		c.logger.Error("engine boot failed", zap.String("error", m.Error), zap.String("source", m.SourceTried))
		c.mu.Lock()
		fn := c.onBootFailure
		c.mu.Unlock()
		if fn != nil {
			fn(m)
		}
	}
}

// Dispose rejects every pending call with ErrDisposed and detaches from the
// endpoint. Responses arriving afterwards are not observed. It does not close
// the endpoint.
func (c *Client) Dispose() {
	c.shutdown(ErrDisposed)
	c.endpoint.SetHandler(nil)
}

// shutdown rejects pending and later calls with err. Only the first call
// has an effect.
func (c *Client) shutdown(err error) {
	c.mu.Lock()
	if c.closedErr != nil {
		c.mu.Unlock()
		return
	}
	c.closedErr = err
	calls := c.pending
	c.pending = make(map[int64]*pending)
	close(c.quit)
	c.mu.Unlock()

	for _, p := range calls {
		p.done <- outcome{err: err}
	}
}

// SetPosition loads position into the engine.
func (c *Client) SetPosition(ctx context.Context, position wasmchess.Position) error {
	_, err := c.Call(ctx, protocol.MethodSetPosition, protocol.SetPositionParams{FEN: string(position)})
	return err
}

// GenerateMoves lists the engine's moves for the current position.
func (c *Client) GenerateMoves(ctx context.Context) ([]wasmchess.Move, error) {
	var moves []wasmchess.Move
	if err := c.callInto(ctx, protocol.MethodGenerateMoves, nil, &moves); err != nil {
		return nil, err
	}
	if moves == nil {
		moves = []wasmchess.Move{}
	}
	return moves, nil
}

// BestMove searches the current position. A nil depth uses the engine
// default. The result is nil when the engine has no move.
func (c *Client) BestMove(ctx context.Context, depth *int) (*wasmchess.SearchResult, error) {
	var res *wasmchess.SearchResult
	if err := c.callInto(ctx, protocol.MethodBestMove, protocol.BestMoveParams{Depth: depth}, &res); err != nil {
		return nil, err
	}
	return res, nil
}

// IsInCheck reports whether the side to move is in check.
func (c *Client) IsInCheck(ctx context.Context) (bool, error) {
	var v bool
	err := c.callInto(ctx, protocol.MethodIsInCheck, nil, &v)
	return v, err
}

// SideToMove returns the side to move in the engine's position.
func (c *Client) SideToMove(ctx context.Context) (wasmchess.Side, error) {
	var v wasmchess.Side
	if err := c.callInto(ctx, protocol.MethodSideToMove, nil, &v); err != nil {
		return "", err
	}
	return v, nil
}

func (c *Client) callInto(ctx context.Context, method protocol.Method, params any, out any) error {
	raw, err := c.Call(ctx, method, params)
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.Malformed(string(method)+" result", err)
	}
	return nil
}
