package game

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	wasmchess "github.com/wippyai/wasm-chess"
	"github.com/wippyai/wasm-chess/client"
	"github.com/wippyai/wasm-chess/internal/enginetest"
	"github.com/wippyai/wasm-chess/protocol"
	"github.com/wippyai/wasm-chess/rules"
	"github.com/wippyai/wasm-chess/transport"
	"github.com/wippyai/wasm-chess/worker"
)

type reply struct {
	res *wasmchess.SearchResult
	err error
}

// scriptEngine answers each BestMove call with a reply chosen by the test.
// Searches ignore cancellation so late results can be delivered.
type scriptEngine struct {
	setErr    error
	quit      chan struct{}
	started   chan int
	positions []wasmchess.Position
	depths    []int
	pending   []chan reply
	mu        sync.Mutex
	stopOnce  sync.Once
}

func newScriptEngine(t *testing.T) *scriptEngine {
	e := &scriptEngine{quit: make(chan struct{}), started: make(chan int, 16)}
	t.Cleanup(e.shutdown)
	return e
}

// shutdown ends every search still waiting for a reply.
func (e *scriptEngine) shutdown() {
	e.stopOnce.Do(func() { close(e.quit) })
}

func (e *scriptEngine) SetPosition(_ context.Context, p wasmchess.Position) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.positions = append(e.positions, p)
	return e.setErr
}

func (e *scriptEngine) BestMove(_ context.Context, depth *int) (*wasmchess.SearchResult, error) {
	ch := make(chan reply, 1)
	e.mu.Lock()
	idx := len(e.pending)
	e.pending = append(e.pending, ch)
	e.depths = append(e.depths, *depth)
	e.mu.Unlock()

	e.started <- idx
	select {
	case r := <-ch:
		return r.res, r.err
	case <-e.quit:
		return nil, context.Canceled
	}
}

func (e *scriptEngine) reply(i int, r reply) {
	e.mu.Lock()
	ch := e.pending[i]
	e.mu.Unlock()
	ch <- r
}

func (e *scriptEngine) lastPosition() wasmchess.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.positions) == 0 {
		return ""
	}
	return e.positions[len(e.positions)-1]
}

func (e *scriptEngine) searches() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

func (e *scriptEngine) waitStarted(t *testing.T) int {
	t.Helper()
	select {
	case i := <-e.started:
		return i
	case <-time.After(2 * time.Second):
		t.Fatal("search did not start")
		return -1
	}
}

func move(m string, depth int) reply {
	return reply{res: &wasmchess.SearchResult{Move: wasmchess.Move(m), Depth: &depth}}
}

func newGame(t *testing.T, e Engine, opts ...Option) *Orchestrator {
	t.Helper()
	o, err := New(e, rules.Standard{}, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		if s, ok := e.(*scriptEngine); ok {
			s.shutdown()
		}
		o.Close()
	})
	return o
}

func started(t *testing.T, e Engine, opts ...Option) *Orchestrator {
	t.Helper()
	o := newGame(t, e, opts...)
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return o
}

func wait(t *testing.T, o *Orchestrator) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := o.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func plies(ms ...string) []wasmchess.Move {
	out := make([]wasmchess.Move, len(ms))
	for i, m := range ms {
		out[i] = wasmchess.Move(m)
	}
	return out
}

func TestStart(t *testing.T) {
	e := newScriptEngine(t)
	o := newGame(t, e)

	v := o.View()
	if v.Phase != PhaseBooting || v.Status != StatusBooting || v.CanMove {
		t.Errorf("before start: %+v", v)
	}

	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	v = o.View()
	if v.Phase != PhaseHumanTurn || v.Status != StatusYourMoveWhite || !v.CanMove {
		t.Errorf("after start: phase %s status %q", v.Phase, v.Status)
	}
	if v.Feedback != "Engine ready." {
		t.Errorf("feedback = %q", v.Feedback)
	}
	if e.lastPosition() != wasmchess.StartPosition {
		t.Errorf("engine position = %q", e.lastPosition())
	}
	if got := v.Destinations["g1"]; !reflect.DeepEqual(got, []string{"f3", "h3"}) {
		t.Errorf("g1 destinations = %v", got)
	}
}

func TestStart_Failure(t *testing.T) {
	e := newScriptEngine(t)
	e.setErr = errors.New("no engine module found")
	o := newGame(t, e)

	err := o.Start(context.Background())
	if !errors.Is(err, ErrEngineUnavailable) {
		t.Fatalf("Start err = %v", err)
	}
	v := o.View()
	if v.Phase != PhaseEngineUnavailable || v.Status != StatusEngineFailed {
		t.Errorf("phase %s status %q", v.Phase, v.Status)
	}
	if v.Diagnostic != "no engine module found" {
		t.Errorf("diagnostic = %q", v.Diagnostic)
	}
	if err := o.PlayHuman("e2e4"); !errors.Is(err, ErrNotHumanTurn) {
		t.Errorf("PlayHuman err = %v", err)
	}

	// Reset keeps the engine unavailable.
	if err := o.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if o.View().Phase != PhaseEngineUnavailable {
		t.Error("reset recovered an unavailable engine")
	}
}

func TestPlayHuman_Rejected(t *testing.T) {
	tests := []struct {
		input string
		want  error
	}{
		{input: "e2e5", want: ErrIllegalMove},
		{input: "e7e5", want: ErrIllegalMove},
		{input: "e1g1", want: ErrIllegalMove},
		{input: "zz", want: ErrInvalidMove},
		{input: "", want: ErrInvalidMove},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			e := newScriptEngine(t)
			o := started(t, e)
			before := o.View()

			if err := o.PlayHuman(tt.input); !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}

			after := o.View()
			if after.Position != before.Position || after.Side != before.Side || after.Phase != before.Phase {
				t.Errorf("state changed: %+v -> %+v", before, after)
			}
			if len(after.Plies) != 0 {
				t.Errorf("plies = %v", after.Plies)
			}
			if !reflect.DeepEqual(after.Destinations, before.Destinations) {
				t.Error("destinations changed")
			}
			if e.searches() != 0 {
				t.Error("rejected move started a search")
			}
		})
	}
}

func TestPlayHuman_EngineTurn(t *testing.T) {
	e := newScriptEngine(t)
	o := newGame(t, e)
	if err := o.PlayHuman("e2e4"); !errors.Is(err, ErrNotHumanTurn) {
		t.Errorf("while booting: %v", err)
	}

	if err := o.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := o.PlayHuman("e2e4"); err != nil {
		t.Fatalf("PlayHuman: %v", err)
	}
	e.waitStarted(t)
	if err := o.PlayHuman("d2d4"); !errors.Is(err, ErrNotHumanTurn) {
		t.Errorf("during engine turn: %v", err)
	}
	if v := o.View(); v.Feedback != "Wait for your turn." || len(v.Plies) != 1 {
		t.Errorf("view = %+v", v)
	}
}

func TestTurnCycle(t *testing.T) {
	e := newScriptEngine(t)
	o := started(t, e)

	if err := o.PlayHuman("E2E4"); err != nil {
		t.Fatalf("PlayHuman: %v", err)
	}
	i := e.waitStarted(t)

	v := o.View()
	if !reflect.DeepEqual(v.Plies, plies("e2e4")) || v.Side != wasmchess.Black {
		t.Errorf("after human move: plies %v side %s", v.Plies, v.Side)
	}
	if v.Phase != PhaseEngineTurn || v.Status != StatusThinking || v.CanMove || len(v.Destinations) != 0 {
		t.Errorf("engine turn view: %+v", v)
	}
	if v.Feedback != "You played e2e4." {
		t.Errorf("feedback = %q", v.Feedback)
	}
	want := wasmchess.Position("rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b - - 0 1")
	if e.lastPosition() != want {
		t.Errorf("search position = %q", e.lastPosition())
	}

	e.reply(i, move("e7e5", 3))
	wait(t, o)

	v = o.View()
	if !reflect.DeepEqual(v.Plies, plies("e2e4", "e7e5")) || v.Side != wasmchess.White {
		t.Errorf("after engine move: plies %v side %s", v.Plies, v.Side)
	}
	if v.Phase != PhaseHumanTurn || v.Status != StatusYourMoveWhite {
		t.Errorf("phase %s status %q", v.Phase, v.Status)
	}
	if v.Feedback != "Engine played e7e5 at depth 3." {
		t.Errorf("feedback = %q", v.Feedback)
	}
	if v.LastSearch == nil || *v.LastSearch.Depth != 3 {
		t.Errorf("last search = %+v", v.LastSearch)
	}

	e.mu.Lock()
	depths := append([]int{}, e.depths...)
	e.mu.Unlock()
	if !reflect.DeepEqual(depths, []int{DefaultDepth}) {
		t.Errorf("depths = %v", depths)
	}
}

func TestSupersededSearchIgnored(t *testing.T) {
	e := newScriptEngine(t)
	o := started(t, e)

	if err := o.PlayHuman("e2e4"); err != nil {
		t.Fatal(err)
	}
	first := e.waitStarted(t)
	if err := o.RequestEngineMove(); err != nil {
		t.Fatalf("RequestEngineMove: %v", err)
	}
	second := e.waitStarted(t)

	e.reply(first, move("d7d5", 3))
	time.Sleep(20 * time.Millisecond)
	if v := o.View(); len(v.Plies) != 1 || v.Phase != PhaseEngineTurn {
		t.Fatalf("superseded result applied: %+v", v)
	}

	e.reply(second, move("e7e5", 3))
	wait(t, o)
	if v := o.View(); !reflect.DeepEqual(v.Plies, plies("e2e4", "e7e5")) {
		t.Errorf("plies = %v", v.Plies)
	}
}

func TestEngineErrors(t *testing.T) {
	tests := []struct {
		name     string
		reply    reply
		contract bool
	}{
		{name: "no move", reply: reply{}, contract: true},
		{name: "unparseable", reply: move("xyz", 1), contract: true},
		{name: "illegal", reply: move("e2e4", 1), contract: true},
		{name: "engine failure", reply: reply{err: &client.ResponseError{Method: protocol.MethodBestMove, Kind: "boundary:5", Message: "bestMove: invalid_state"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newScriptEngine(t)
			o := started(t, e)
			if err := o.PlayHuman("e2e4"); err != nil {
				t.Fatal(err)
			}
			e.reply(e.waitStarted(t), tt.reply)
			wait(t, o)

			err := o.LastError()
			if err == nil {
				t.Fatal("no error recorded")
			}
			if got := errors.Is(err, ErrEngineContract); got != tt.contract {
				t.Errorf("contract = %v for %v", got, err)
			}

			v := o.View()
			if v.Phase != PhaseEngineTurn || v.Status != StatusEngineToMoveBlack {
				t.Errorf("phase %s status %q", v.Phase, v.Status)
			}
			if !reflect.DeepEqual(v.Plies, plies("e2e4")) {
				t.Errorf("plies = %v", v.Plies)
			}
			if v.Diagnostic == "" {
				t.Error("no diagnostic")
			}

			// The turn can be retried.
			if err := o.RequestEngineMove(); err != nil {
				t.Fatalf("RequestEngineMove: %v", err)
			}
			e.reply(e.waitStarted(t), move("c7c5", 2))
			wait(t, o)
			if v := o.View(); !reflect.DeepEqual(v.Plies, plies("e2e4", "c7c5")) || o.LastError() != nil {
				t.Errorf("retry: plies %v err %v", v.Plies, o.LastError())
			}
		})
	}
}

func TestEngineLostDuringSearch(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		feedback string
	}{
		{
			name:     "bootstrap failure",
			err:      &client.ResponseError{Kind: protocol.KindBootstrap, Message: "no engine"},
			feedback: "Engine bootstrap failed: ",
		},
		{
			name:     "worker gone",
			err:      client.ErrWorkerGone,
			feedback: "Engine stopped: ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newScriptEngine(t)
			o := started(t, e)
			if err := o.PlayHuman("e2e4"); err != nil {
				t.Fatal(err)
			}
			e.reply(e.waitStarted(t), reply{err: tt.err})
			wait(t, o)

			v := o.View()
			if v.Phase != PhaseEngineUnavailable || v.Status != StatusEngineFailed {
				t.Errorf("phase %s status %q", v.Phase, v.Status)
			}
			if !strings.HasPrefix(v.Feedback, tt.feedback) {
				t.Errorf("feedback = %q", v.Feedback)
			}
			if !errors.Is(o.LastError(), ErrEngineUnavailable) {
				t.Errorf("last error = %v", o.LastError())
			}
			if err := o.RequestEngineMove(); !errors.Is(err, ErrNotEngineTurn) {
				t.Errorf("RequestEngineMove = %v", err)
			}
		})
	}
}

func TestEngineUnavailableNotice(t *testing.T) {
	e := newScriptEngine(t)
	o := started(t, e)
	if err := o.PlayHuman("e2e4"); err != nil {
		t.Fatal(err)
	}
	i := e.waitStarted(t)

	o.EngineUnavailable(errors.New("worker crashed"))
	e.reply(i, move("e7e5", 3))
	wait(t, o)

	v := o.View()
	if v.Phase != PhaseEngineUnavailable || len(v.Plies) != 1 {
		t.Errorf("view = %+v", v)
	}
	if v.Feedback != "Engine bootstrap failed: worker crashed" {
		t.Errorf("feedback = %q", v.Feedback)
	}
}

func TestReset(t *testing.T) {
	e := newScriptEngine(t)
	o := started(t, e)
	if err := o.PlayHuman("e2e4"); err != nil {
		t.Fatal(err)
	}
	i := e.waitStarted(t)

	if err := o.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	v := o.View()
	if len(v.Plies) != 0 || v.Phase != PhaseHumanTurn || v.Position != wasmchess.StartPosition || v.Searching {
		t.Errorf("after reset: %+v", v)
	}
	if v.Feedback != "New game started." {
		t.Errorf("feedback = %q", v.Feedback)
	}

	e.reply(i, move("e7e5", 3))
	time.Sleep(20 * time.Millisecond)
	if v := o.View(); len(v.Plies) != 0 {
		t.Errorf("result of canceled search applied: %v", v.Plies)
	}
}

func TestHumanPlaysBlack(t *testing.T) {
	e := newScriptEngine(t)
	o := started(t, e, WithHumanSide(wasmchess.Black), WithDepth(5))

	i := e.waitStarted(t)
	if v := o.View(); v.Phase != PhaseEngineTurn || v.CanMove {
		t.Errorf("view = %+v", v)
	}
	e.reply(i, move("d2d4", 5))
	wait(t, o)

	v := o.View()
	if v.Phase != PhaseHumanTurn || v.Status != StatusYourMoveBlack || v.Side != wasmchess.Black {
		t.Errorf("phase %s status %q side %s", v.Phase, v.Status, v.Side)
	}
	e.mu.Lock()
	depth := e.depths[0]
	e.mu.Unlock()
	if depth != 5 {
		t.Errorf("depth = %d", depth)
	}
}

func TestGameOver(t *testing.T) {
	e := newScriptEngine(t)
	o := started(t, e, WithStart("6k1/5ppp/8/8/8/8/8/R6K w - - 0 1"))

	if err := o.PlayHuman("a1a8"); err != nil {
		t.Fatalf("PlayHuman: %v", err)
	}
	v := o.View()
	if v.Phase != PhaseGameOver || v.Status != StatusWhiteWon || v.Outcome != rules.OutcomeCheckmate {
		t.Errorf("phase %s status %q outcome %s", v.Phase, v.Status, v.Outcome)
	}
	if !v.InCheck || v.CanMove {
		t.Errorf("view = %+v", v)
	}
	if e.searches() != 0 {
		t.Error("search started after checkmate")
	}
	if err := o.RequestEngineMove(); !errors.Is(err, ErrNotEngineTurn) {
		t.Errorf("RequestEngineMove = %v", err)
	}
}

func TestOnChange(t *testing.T) {
	e := newScriptEngine(t)
	o := newGame(t, e)

	var mu sync.Mutex
	var statuses []Status
	o.OnChange(func(v View) {
		mu.Lock()
		statuses = append(statuses, v.Status)
		mu.Unlock()
	})

	if err := o.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := o.PlayHuman("e2e4"); err != nil {
		t.Fatal(err)
	}
	e.reply(e.waitStarted(t), move("e7e5", 3))
	wait(t, o)

	mu.Lock()
	defer mu.Unlock()
	want := []Status{StatusYourMoveWhite, StatusThinking, StatusYourMoveWhite}
	if !reflect.DeepEqual(statuses, want) {
		t.Errorf("statuses = %q, want %q", statuses, want)
	}
}

func TestWait_Context(t *testing.T) {
	e := newScriptEngine(t)
	o := started(t, e)
	if err := o.PlayHuman("e2e4"); err != nil {
		t.Fatal(err)
	}
	e.waitStarted(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := o.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait = %v", err)
	}
}

func TestEndToEndThroughWorker(t *testing.T) {
	depth := 3
	fake := enginetest.New()
	fake.Result = &wasmchess.SearchResult{Move: "e7e5", Depth: &depth}

	local, remote := transport.Pipe()
	rt := worker.New(remote, func(context.Context, string) (protocol.Engine, error) { return fake, nil })
	go rt.Run(context.Background())
	c := client.New(local)
	t.Cleanup(func() {
		c.Dispose()
		rt.Close()
		local.Close()
	})

	o := started(t, c)
	if err := o.PlayHuman("e2e4"); err != nil {
		t.Fatalf("PlayHuman: %v", err)
	}
	wait(t, o)

	v := o.View()
	if !reflect.DeepEqual(v.Plies, plies("e2e4", "e7e5")) || v.Side != wasmchess.White {
		t.Errorf("plies %v side %s", v.Plies, v.Side)
	}
	if fake.Calls("bestMove") != 1 {
		t.Errorf("bestMove calls = %d", fake.Calls("bestMove"))
	}
	if fake.Position() != "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b - - 0 1" {
		t.Errorf("engine position = %q", fake.Position())
	}
}
