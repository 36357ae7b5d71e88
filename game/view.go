package game

import (
	wasmchess "github.com/wippyai/wasm-chess"
	"github.com/wippyai/wasm-chess/rules"
)

// Status is the primary, user-facing description of the game state. It is
// always one of the values below; error details go to View.Diagnostic.
type Status string

const (
	StatusBooting              Status = "Booting engine..."
	StatusEngineFailed         Status = "Engine failed to boot."
	StatusThinking             Status = "Engine is thinking..."
	StatusWhiteWon             Status = "Checkmate. White won."
	StatusBlackWon             Status = "Checkmate. Black won."
	StatusStalemate            Status = "Draw by stalemate."
	StatusInsufficientMaterial Status = "Draw by insufficient material."
	StatusRepetition           Status = "Draw by repetition."
	StatusFiftyMove            Status = "Draw by fifty-move rule."
	StatusYourMoveWhite        Status = "Your move (White)."
	StatusYourMoveBlack        Status = "Your move (Black)."
	StatusEngineToMoveWhite    Status = "Engine to move (White)."
	StatusEngineToMoveBlack    Status = "Engine to move (Black)."
)

// View is a snapshot of the game for presentation.
type View struct {
	Destinations map[string][]string // legal destinations by origin, empty unless the human may move
	LastSearch   *wasmchess.SearchResult
	Position     wasmchess.Position
	Side         wasmchess.Side
	HumanSide    wasmchess.Side
	Winner       wasmchess.Side
	Status       Status
	Feedback     string
	Diagnostic   string
	Plies        []wasmchess.Move
	Phase        Phase
	Outcome      rules.Outcome
	CanMove      bool
	InCheck      bool
	Searching    bool
}

// View returns the current snapshot.
func (o *Orchestrator) View() View {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.viewLocked()
}

func (o *Orchestrator) viewLocked() View {
	a := o.analysis
	v := View{
		Position:     a.Position,
		Side:         a.Side,
		HumanSide:    o.human,
		Winner:       a.Winner,
		Plies:        append([]wasmchess.Move{}, o.plies...),
		Phase:        o.phase,
		Outcome:      a.Outcome,
		InCheck:      a.InCheck,
		Searching:    o.searchDone != nil,
		Feedback:     o.feedback,
		Diagnostic:   o.diagnostic,
		LastSearch:   o.lastSearch,
		Destinations: map[string][]string{},
	}
	v.CanMove = o.phase == PhaseHumanTurn
	if v.CanMove {
		v.Destinations = a.Destinations()
	}
	v.Status = status(v)
	return v
}

func status(v View) Status {
	switch {
	case v.Phase == PhaseEngineUnavailable:
		return StatusEngineFailed
	case v.Phase == PhaseBooting:
		return StatusBooting
	case v.Searching:
		return StatusThinking
	}

	switch v.Outcome {
	case rules.OutcomeCheckmate:
		if v.Winner == wasmchess.White {
			return StatusWhiteWon
		}
		return StatusBlackWon
	case rules.OutcomeStalemate:
		return StatusStalemate
	case rules.OutcomeInsufficientMaterial:
		return StatusInsufficientMaterial
	case rules.OutcomeRepetition:
		return StatusRepetition
	case rules.OutcomeFiftyMove:
		return StatusFiftyMove
	}

	switch {
	case v.Side == v.HumanSide && v.Side == wasmchess.White:
		return StatusYourMoveWhite
	case v.Side == v.HumanSide:
		return StatusYourMoveBlack
	case v.Side == wasmchess.White:
		return StatusEngineToMoveWhite
	default:
		return StatusEngineToMoveBlack
	}
}
