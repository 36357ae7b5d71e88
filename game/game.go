// Package game runs a human-vs-engine game.
//
// An Orchestrator owns the turn state: the position, the ply history and
// whose turn it is. Human moves are checked against the legal moves the
// rules collaborator derives. Engine turns run as background searches; a
// newer search or a reset supersedes an older one, whose result is then
// ignored.
package game

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	wasmchess "github.com/wippyai/wasm-chess"
	"github.com/wippyai/wasm-chess/client"
	"github.com/wippyai/wasm-chess/rules"
)

// DefaultDepth is the search depth of engine turns.
const DefaultDepth = 3

var (
	ErrNotHumanTurn      = stderrors.New("not the human's turn")
	ErrNotEngineTurn     = stderrors.New("not the engine's turn")
	ErrInvalidMove       = stderrors.New("move must be UCI format, for example e2e4")
	ErrIllegalMove       = stderrors.New("illegal move")
	ErrEngineContract    = stderrors.New("engine contract violation")
	ErrEngineUnavailable = stderrors.New("engine unavailable")
)

// Engine is the part of the engine a game needs. *client.Client
// implements it.
type Engine interface {
	SetPosition(ctx context.Context, position wasmchess.Position) error
	BestMove(ctx context.Context, depth *int) (*wasmchess.SearchResult, error)
}

var _ Engine = (*client.Client)(nil)

// Rules derives the legal moves and outcome of a position.
type Rules interface {
	Analyze(start wasmchess.Position, plies []wasmchess.Move) (rules.Analysis, error)
}

// Phase is the orchestrator state.
type Phase int

const (
	PhaseBooting Phase = iota
	PhaseHumanTurn
	PhaseEngineTurn
	PhaseGameOver
	PhaseEngineUnavailable
)

func (p Phase) String() string {
	switch p {
	case PhaseBooting:
		return "booting"
	case PhaseHumanTurn:
		return "human_turn"
	case PhaseEngineTurn:
		return "engine_turn"
	case PhaseGameOver:
		return "game_over"
	case PhaseEngineUnavailable:
		return "engine_unavailable"
	default:
		return "unknown"
	}
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithLogger sets the orchestrator logger
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithHumanSide sets the side the human plays. The default is White.
func WithHumanSide(s wasmchess.Side) Option {
	return func(o *Orchestrator) {
		if s == wasmchess.White || s == wasmchess.Black {
			o.human = s
		}
	}
}

// WithDepth sets the engine search depth.
func WithDepth(depth int) Option {
	return func(o *Orchestrator) {
		if depth > 0 {
			o.depth = depth
		}
	}
}

// WithStart sets the initial position.
func WithStart(p wasmchess.Position) Option {
	return func(o *Orchestrator) {
		if p != "" {
			o.start = p
		}
	}
}

// Orchestrator runs one game against one engine connection.
type Orchestrator struct {
	engine Engine
	rules  Rules
	logger *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc

	human wasmchess.Side
	start wasmchess.Position
	depth int

	mu         sync.Mutex
	phase      Phase
	plies      []wasmchess.Move
	analysis   rules.Analysis
	feedback   string
	diagnostic string
	lastErr    error
	lastSearch *wasmchess.SearchResult
	generation uint64
	stopSearch context.CancelFunc
	searchDone chan struct{}
	listeners  []func(View)
}

// New creates an orchestrator in the booting phase. Call Start to confirm
// the engine.
func New(engine Engine, r Rules, opts ...Option) (*Orchestrator, error) {
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		engine: engine,
		rules:  r,
		logger: zap.NewNop(),
		ctx:    ctx,
		cancel: cancel,
		human:  wasmchess.White,
		start:  wasmchess.StartPosition,
		depth:  DefaultDepth,
		phase:  PhaseBooting,
	}
	for _, opt := range opts {
		opt(o)
	}

	a, err := r.Analyze(o.start, nil)
	if err != nil {
		cancel()
		return nil, err
	}
	o.analysis = a
	return o, nil
}

// OnChange registers fn to receive a view after every state change. fn runs
// on the goroutine that made the change and must not call back into the
// orchestrator synchronously.
func (o *Orchestrator) OnChange(fn func(View)) {
	o.mu.Lock()
	o.listeners = append(o.listeners, fn)
	o.mu.Unlock()
}

// Start confirms the engine by loading the initial position. Any failure
// makes the engine unavailable.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.phase != PhaseBooting {
		o.mu.Unlock()
		return nil
	}
	pos := o.analysis.Position
	o.mu.Unlock()

	err := o.engine.SetPosition(ctx, pos)

	o.mu.Lock()
	if o.phase != PhaseBooting {
		o.mu.Unlock()
		return nil
	}
	if err != nil {
		o.unavailableLocked(err, "Engine failed to start: ")
		o.commit()
		return fmt.Errorf("%w: %w", ErrEngineUnavailable, err)
	}
	o.feedback = "Engine ready."
	o.logger.Info("engine ready")
	o.resumeLocked()
	o.commit()
	return nil
}

// PlayHuman applies the human's move given in UCI. A rejected move leaves
// the game unchanged.
func (o *Orchestrator) PlayHuman(input string) error {
	o.mu.Lock()

	if o.phase != PhaseHumanTurn {
		o.feedback = "Wait for your turn."
		o.commit()
		return ErrNotHumanTurn
	}

	parsed, err := wasmchess.ParseMove(input)
	if err != nil {
		o.feedback = "Move must be UCI format, for example e2e4."
		o.commit()
		return fmt.Errorf("%w: %q", ErrInvalidMove, input)
	}
	legal, ok := o.analysis.Find(parsed)
	if !ok {
		o.feedback = fmt.Sprintf("Illegal move: %s.", parsed.Move())
		o.commit()
		return fmt.Errorf("%w: %s", ErrIllegalMove, parsed.Move())
	}

	if err := o.applyLocked(legal.Move()); err != nil {
		o.commit()
		return err
	}
	o.feedback = fmt.Sprintf("You played %s.", legal.Move())
	o.diagnostic = ""
	o.lastErr = nil
	o.resumeLocked()
	o.commit()
	return nil
}

// RequestEngineMove starts a new engine search. It retries a turn whose
// search failed, and supersedes a search still running.
func (o *Orchestrator) RequestEngineMove() error {
	o.mu.Lock()
	if o.phase != PhaseEngineTurn {
		o.mu.Unlock()
		return ErrNotEngineTurn
	}
	o.startSearchLocked()
	o.commit()
	return nil
}

// Reset discards the game and returns to the initial position, canceling
// any search. An unavailable or still booting engine stays so.
func (o *Orchestrator) Reset() error {
	a, err := o.rules.Analyze(o.start, nil)
	if err != nil {
		return err
	}

	o.mu.Lock()
	o.cancelSearchLocked()
	o.plies = nil
	o.analysis = a
	o.lastSearch = nil
	o.lastErr = nil
	o.diagnostic = ""
	o.feedback = "New game started."
	if o.phase != PhaseBooting && o.phase != PhaseEngineUnavailable {
		o.resumeLocked()
	}
	o.commit()
	return nil
}

// EngineUnavailable records that the engine failed to boot. It is terminal
// for this orchestrator.
func (o *Orchestrator) EngineUnavailable(err error) {
	o.mu.Lock()
	o.unavailableLocked(err, "Engine bootstrap failed: ")
	o.commit()
}

// LastError returns the most recent engine failure of the current turn.
func (o *Orchestrator) LastError() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastErr
}

// Wait blocks until no search is running or ctx is done.
func (o *Orchestrator) Wait(ctx context.Context) error {
	for {
		o.mu.Lock()
		done := o.searchDone
		o.mu.Unlock()
		if done == nil {
			return nil
		}
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close cancels any search and waits for it to end.
func (o *Orchestrator) Close() {
	o.cancel()
	o.mu.Lock()
	done := o.searchDone
	o.cancelSearchLocked()
	o.mu.Unlock()
	if done != nil {
		<-done
	}
}

// applyLocked appends move and recomputes the analysis.
func (o *Orchestrator) applyLocked(move wasmchess.Move) error {
	plies := append(append([]wasmchess.Move{}, o.plies...), move)
	a, err := o.rules.Analyze(o.start, plies)
	if err != nil {
		return err
	}
	o.plies = plies
	o.analysis = a
	return nil
}

// resumeLocked picks the phase for the current position and starts a search
// when it is the engine's turn.
func (o *Orchestrator) resumeLocked() {
	switch {
	case o.analysis.Terminal():
		o.phase = PhaseGameOver
		o.logger.Info("game over", zap.String("outcome", o.analysis.Outcome.String()), zap.Int("plies", len(o.plies)))
	case o.analysis.Side == o.human:
		o.phase = PhaseHumanTurn
	default:
		o.phase = PhaseEngineTurn
		o.startSearchLocked()
	}
}

func (o *Orchestrator) unavailableLocked(err error, prefix string) {
	o.cancelSearchLocked()
	o.phase = PhaseEngineUnavailable
	o.lastErr = fmt.Errorf("%w: %w", ErrEngineUnavailable, err)
	o.feedback = prefix + err.Error()
	o.diagnostic = err.Error()
	o.logger.Error("engine unavailable", zap.Error(err))
}

func (o *Orchestrator) cancelSearchLocked() {
	o.generation++
	if o.stopSearch != nil {
		o.stopSearch()
		o.stopSearch = nil
	}
	o.searchDone = nil
}

func (o *Orchestrator) startSearchLocked() {
	o.cancelSearchLocked()
	ctx, cancel := context.WithCancel(o.ctx)
	done := make(chan struct{})
	o.stopSearch = cancel
	o.searchDone = done
	gen := o.generation
	pos := o.analysis.Position

	o.logger.Debug("search started", zap.Uint64("generation", gen), zap.String("position", string(pos)))
	go o.search(ctx, gen, pos, done)
}

func (o *Orchestrator) search(ctx context.Context, gen uint64, pos wasmchess.Position, done chan struct{}) {
	defer close(done)

	depth := o.depth
	err := o.engine.SetPosition(ctx, pos)
	var res *wasmchess.SearchResult
	if err == nil {
		res, err = o.engine.BestMove(ctx, &depth)
	}

	o.mu.Lock()
	if gen != o.generation {
		o.mu.Unlock()
		o.logger.Debug("ignoring superseded search", zap.Uint64("generation", gen))
		return
	}
	o.stopSearch = nil
	o.searchDone = nil
	o.finishSearchLocked(res, err)
	o.commit()
}

func (o *Orchestrator) finishSearchLocked(res *wasmchess.SearchResult, err error) {
	if err != nil {
		if client.IsBootstrap(err) {
			o.unavailableLocked(err, "Engine bootstrap failed: ")
			return
		}
		if client.IsWorkerGone(err) {
			o.unavailableLocked(err, "Engine stopped: ")
			return
		}
		o.engineErrorLocked(err)
		return
	}

	if res == nil {
		o.engineErrorLocked(fmt.Errorf("%w: engine returned no move", ErrEngineContract))
		return
	}
	parsed, perr := wasmchess.ParseMove(string(res.Move))
	if perr != nil {
		o.engineErrorLocked(fmt.Errorf("%w: engine returned invalid move %q", ErrEngineContract, res.Move))
		return
	}
	legal, ok := o.analysis.Find(parsed)
	if !ok {
		o.engineErrorLocked(fmt.Errorf("%w: engine returned illegal move %q", ErrEngineContract, res.Move))
		return
	}
	if err := o.applyLocked(legal.Move()); err != nil {
		o.engineErrorLocked(fmt.Errorf("%w: %w", ErrEngineContract, err))
		return
	}

	o.lastSearch = res
	o.lastErr = nil
	o.diagnostic = ""
	o.feedback = fmt.Sprintf("Engine played %s.", legal.Move())
	if res.Depth != nil {
		o.feedback = fmt.Sprintf("Engine played %s at depth %d.", legal.Move(), *res.Depth)
	}
	o.resumeLocked()
}

// engineErrorLocked records a failed turn. The phase stays EngineTurn so the
// turn can be retried.
func (o *Orchestrator) engineErrorLocked(err error) {
	o.lastErr = err
	o.feedback = "Engine error: " + err.Error()
	o.diagnostic = err.Error()
	o.logger.Warn("engine turn failed", zap.Error(err))
}

// commit builds a view, unlocks and notifies listeners.
func (o *Orchestrator) commit() {
	v := o.viewLocked()
	listeners := append([]func(View){}, o.listeners...)
	o.mu.Unlock()
	for _, fn := range listeners {
		fn(v)
	}
}
