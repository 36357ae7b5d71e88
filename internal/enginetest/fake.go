// Package enginetest provides a scriptable in-memory engine for tests.
package enginetest

import (
	"context"
	"sync"

	wasmchess "github.com/wippyai/wasm-chess"
	"github.com/wippyai/wasm-chess/abi"
)

// Fake implements protocol.Engine. Set fields before use; counters are safe
// to read concurrently.
type Fake struct {
	Err      error // returned by every operation when set
	Result   *wasmchess.SearchResult
	Results  map[wasmchess.Position]*wasmchess.SearchResult // per position, overrides Result
	Side     wasmchess.Side
	Moves    []wasmchess.Move
	InCheck  bool
	Block    bool // BestMove waits for Release, Stop or ctx
	StopEnds bool // Stop ends a blocked search with a canceled status

	started  chan struct{}
	release  chan struct{}
	calls    map[string]int
	position wasmchess.Position
	stops    int
	closes   int
	mu       sync.Mutex
}

// New returns a fake reporting white to move and no moves.
func New() *Fake {
	return &Fake{
		Side:    wasmchess.White,
		started: make(chan struct{}, 64),
		release: make(chan struct{}, 64),
		calls:   make(map[string]int),
	}
}

func (f *Fake) record(method string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[method]++
	return f.Err
}

// Calls returns how many times method ran.
func (f *Fake) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

// Stops returns how many times Stop ran.
func (f *Fake) Stops() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

// Position returns the last position set.
func (f *Fake) Position() wasmchess.Position {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.position
}

// Started receives once per BestMove call, when the search begins.
func (f *Fake) Started() <-chan struct{} {
	return f.started
}

// Release lets one blocked search finish normally.
func (f *Fake) Release() {
	f.release <- struct{}{}
}

func (f *Fake) SetPosition(_ context.Context, position wasmchess.Position) error {
	if err := f.record("setPosition"); err != nil {
		return err
	}
	f.mu.Lock()
	f.position = position
	f.mu.Unlock()
	return nil
}

func (f *Fake) GenerateMoves(context.Context) ([]wasmchess.Move, error) {
	if err := f.record("generateMoves"); err != nil {
		return nil, err
	}
	return append([]wasmchess.Move{}, f.Moves...), nil
}

func (f *Fake) BestMove(ctx context.Context, _ *int) (*wasmchess.SearchResult, error) {
	err := f.record("bestMove")
	f.started <- struct{}{}
	if err != nil {
		return nil, err
	}

	if f.Block {
		select {
		case _, ok := <-f.release:
			if !ok {
				return nil, &abi.BoundaryError{Code: abi.StatusCanceled, Operation: "bestMove", Message: "bestMove: canceled"}
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.Results[f.position]; ok {
		return r, nil
	}
	return f.Result, nil
}

func (f *Fake) IsInCheck(context.Context) (bool, error) {
	if err := f.record("isInCheck"); err != nil {
		return false, err
	}
	return f.InCheck, nil
}

func (f *Fake) SideToMove(context.Context) (wasmchess.Side, error) {
	if err := f.record("sideToMove"); err != nil {
		return "", err
	}
	return f.Side, nil
}

func (f *Fake) Stop(context.Context) {
	f.mu.Lock()
	f.stops++
	first := f.stops == 1
	f.mu.Unlock()
	if f.StopEnds && first {
		close(f.release)
	}
}

func (f *Fake) Close(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

// Closes returns how many times Close ran.
func (f *Fake) Closes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}
