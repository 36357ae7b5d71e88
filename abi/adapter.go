package abi

import (
	"bytes"
	"context"
	"math"
	"strconv"
	"strings"

	"go.uber.org/zap"

	wasmchess "github.com/wippyai/wasm-chess"
)

// DefaultDepth is the search depth used when BestMove is called without one.
const DefaultDepth = 5

// maxErrorMessage bounds reads of shim_error_message strings.
const maxErrorMessage = 64

// Instance is the callable side of an instantiated engine module.
type Instance interface {
	CallI32(ctx context.Context, name string, params ...int32) (int32, error)
	HasFunction(name string) bool
	Close(ctx context.Context) error
}

// Memory is the linear memory of an instantiated engine module.
type Memory interface {
	wasmchess.Memory
	wasmchess.MemorySizer
}

type window struct {
	ptr uint32
	cap uint32
}

// Adapter marshals host values across the engine ABI. It owns the input and
// output windows for the lifetime of the instance.
//
// Adapter is not safe for concurrent use, with one exception: Stop may be
// called from any goroutine while another call is running.
type Adapter struct {
	inst   Instance
	mem    Memory
	logger *zap.Logger
	in     window
	out    window
}

// Option configures an Adapter
type Option func(*Adapter)

// WithLogger sets the adapter logger
func WithLogger(l *zap.Logger) Option {
	return func(a *Adapter) {
		if l != nil {
			a.logger = l
		}
	}
}

// New reads the buffer windows once and returns a ready adapter. Windows that
// are empty or do not fit in memory are reported as StatusInvalidState.
func New(ctx context.Context, inst Instance, mem Memory, opts ...Option) (*Adapter, error) {
	a := &Adapter{
		inst:   inst,
		mem:    mem,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}

	if mem == nil {
		return nil, boundaryError("init", StatusInvalidState, "module has no linear memory")
	}

	var err error
	if a.in, err = a.readWindow(ctx, "input", fnInputPtr, fnInputCapacity); err != nil {
		return nil, err
	}
	if a.out, err = a.readWindow(ctx, "output", fnOutputPtr, fnOutputCapacity); err != nil {
		return nil, err
	}

	a.logger.Debug("adapter ready",
		zap.Uint32("input_ptr", a.in.ptr), zap.Uint32("input_capacity", a.in.cap),
		zap.Uint32("output_ptr", a.out.ptr), zap.Uint32("output_capacity", a.out.cap))
	return a, nil
}

func (a *Adapter) readWindow(ctx context.Context, which, ptrFn, capFn string) (window, error) {
	ptr, err := a.call(ctx, "init", ptrFn)
	if err != nil {
		return window{}, err
	}
	capacity, err := a.call(ctx, "init", capFn)
	if err != nil {
		return window{}, err
	}
	if ptr < 0 || capacity <= 0 {
		return window{}, boundaryError("init", StatusInvalidState,
			"%s window ptr=%d capacity=%d is invalid", which, ptr, capacity)
	}
	w := window{ptr: uint32(ptr), cap: uint32(capacity)}
	if uint64(w.ptr)+uint64(w.cap) > uint64(a.mem.Size()) {
		return window{}, boundaryError("init", StatusInvalidState,
			"%s window [%d, %d) exceeds memory size %d", which, w.ptr, uint64(w.ptr)+uint64(w.cap), a.mem.Size())
	}
	return w, nil
}

// InputCapacity returns the input window size including the terminator.
func (a *Adapter) InputCapacity() int {
	return int(a.in.cap)
}

// OutputCapacity returns the output window size.
func (a *Adapter) OutputCapacity() int {
	return int(a.out.cap)
}

// SetPosition loads a serialized position into the engine.
func (a *Adapter) SetPosition(ctx context.Context, position wasmchess.Position) error {
	const op = "setPosition"
	if err := a.writeInput(op, string(position)); err != nil {
		return err
	}
	rc, err := a.call(ctx, op, fnSetPosition)
	if err != nil {
		return err
	}
	if rc != 0 {
		return a.statusError(ctx, op, rc)
	}
	return nil
}

// GenerateMoves returns the engine's move list for the current position.
func (a *Adapter) GenerateMoves(ctx context.Context) ([]wasmchess.Move, error) {
	const op = "generateMoves"
	rc, err := a.call(ctx, op, fnGenerateMoves)
	if err != nil {
		return nil, err
	}
	if rc < 0 {
		return nil, a.statusError(ctx, op, rc)
	}
	out, err := a.readOutput(op)
	if err != nil {
		return nil, err
	}

	moves := []wasmchess.Move{}
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			moves = append(moves, wasmchess.Move(line))
		}
	}
	return moves, nil
}

// BestMove searches the current position. A nil depth uses DefaultDepth.
// A nil result with a nil error means the engine found no move.
func (a *Adapter) BestMove(ctx context.Context, depth *int) (*wasmchess.SearchResult, error) {
	const op = "bestMove"
	d := DefaultDepth
	if depth != nil {
		d = *depth
	}
	if d < 1 || d > math.MaxInt32 {
		return nil, boundaryError(op, StatusOutOfContract, "depth %d out of range", d)
	}

	// A stop left over from a superseded search must not cancel this one.
	if _, err := a.call(ctx, op, fnClearStop); err != nil {
		return nil, err
	}
	rc, err := a.call(ctx, op, fnBestMove, int32(d))
	if err != nil {
		return nil, err
	}
	if rc < 0 {
		return nil, a.statusError(ctx, op, rc)
	}
	out, err := a.readOutput(op)
	if err != nil {
		return nil, err
	}
	return parseSearchResult(out), nil
}

// parseSearchResult parses "move [score [depth]]". Malformed numbers are dropped.
func parseSearchResult(payload string) *wasmchess.SearchResult {
	fields := strings.Fields(payload)
	if len(fields) == 0 {
		return nil
	}
	result := &wasmchess.SearchResult{Move: wasmchess.Move(fields[0])}
	if len(fields) > 1 {
		if v, err := strconv.Atoi(fields[1]); err == nil {
			result.Score = &v
		}
	}
	if len(fields) > 2 {
		if v, err := strconv.Atoi(fields[2]); err == nil {
			result.Depth = &v
		}
	}
	return result
}

// IsInCheck reports whether the side to move is in check.
func (a *Adapter) IsInCheck(ctx context.Context) (bool, error) {
	const op = "isInCheck"
	rc, err := a.call(ctx, op, fnIsInCheck)
	if err != nil {
		return false, err
	}
	if rc < 0 {
		return false, a.statusError(ctx, op, rc)
	}
	return rc == 1, nil
}

// SideToMove returns the side to move in the current position.
func (a *Adapter) SideToMove(ctx context.Context) (wasmchess.Side, error) {
	const op = "sideToMove"
	rc, err := a.call(ctx, op, fnSideToMove)
	if err != nil {
		return "", err
	}
	switch rc {
	case 1:
		return wasmchess.White, nil
	case -1:
		return wasmchess.Black, nil
	default:
		return "", boundaryError(op, StatusInvalidState, "invalid side value %d", rc)
	}
}

// LastError returns the status recorded by the engine's most recent call.
func (a *Adapter) LastError(ctx context.Context) (StatusCode, error) {
	rc, err := a.call(ctx, "lastError", fnLastError)
	if err != nil {
		return StatusInvalidState, err
	}
	return Normalize(rc), nil
}

// Stop requests cooperative cancellation of a running search. It never
// touches the buffer windows.
func (a *Adapter) Stop(ctx context.Context) {
	if _, err := a.call(ctx, "stop", fnRequestStop); err != nil {
		a.logger.Warn("stop request failed", zap.Error(err))
	}
}

// Close releases the engine instance.
func (a *Adapter) Close(ctx context.Context) error {
	return a.inst.Close(ctx)
}

// writeInput writes text and a terminator, or nothing when it does not fit.
func (a *Adapter) writeInput(op, text string) error {
	if uint64(len(text))+1 > uint64(a.in.cap) {
		return boundaryError(op, StatusOutOfContract,
			"input exceeds boundary capacity (%d)", a.in.cap)
	}
	buf := make([]byte, len(text)+1)
	copy(buf, text)
	if err := a.mem.Write(a.in.ptr, buf); err != nil {
		return &BoundaryError{Code: StatusInvalidState, Operation: op, Message: op + ": " + err.Error(), Cause: err}
	}
	return nil
}

// readOutput reads the output window up to the first NUL or capacity.
func (a *Adapter) readOutput(op string) (string, error) {
	data, err := a.mem.Read(a.out.ptr, a.out.cap)
	if err != nil {
		return "", &BoundaryError{Code: StatusInvalidState, Operation: op, Message: op + ": " + err.Error(), Cause: err}
	}
	if i := bytes.IndexByte(data, 0); i >= 0 {
		data = data[:i]
	}
	return string(data), nil
}

// call invokes an export. Traps and host errors become StatusInvalidState.
func (a *Adapter) call(ctx context.Context, op, name string, params ...int32) (int32, error) {
	rc, err := a.inst.CallI32(ctx, name, params...)
	if err != nil {
		a.logger.Debug("engine call failed", zap.String("operation", op), zap.String("export", name), zap.Error(err))
		return 0, &BoundaryError{
			Code:      StatusInvalidState,
			Operation: op,
			Message:   op + ": " + err.Error(),
			Cause:     err,
		}
	}
	return rc, nil
}

func (a *Adapter) statusError(ctx context.Context, op string, rc int32) *BoundaryError {
	code := Normalize(rc)
	return &BoundaryError{
		Code:      code,
		Operation: op,
		Message:   op + ": " + a.describe(ctx, code),
	}
}

// describe names code, preferring the engine's own message when it exports one.
func (a *Adapter) describe(ctx context.Context, code StatusCode) string {
	if !a.inst.HasFunction(fnErrorMessage) {
		return code.String()
	}
	ptr, err := a.inst.CallI32(ctx, fnErrorMessage, int32(code))
	if err != nil || ptr <= 0 {
		return code.String()
	}
	n := uint32(maxErrorMessage)
	if size := a.mem.Size(); uint64(ptr)+uint64(n) > uint64(size) {
		if uint32(ptr) >= size {
			return code.String()
		}
		n = size - uint32(ptr)
	}
	data, err := a.mem.Read(uint32(ptr), n)
	if err != nil {
		return code.String()
	}
	if i := bytes.IndexByte(data, 0); i >= 0 {
		data = data[:i]
	}
	if len(data) == 0 {
		return code.String()
	}
	return string(data)
}
