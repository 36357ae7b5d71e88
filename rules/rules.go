// Package rules derives legal moves and game outcomes for the positions a
// game passes through. The engine's rule subset applies: no castling and no
// en passant.
package rules

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"

	"github.com/notnil/chess"

	wasmchess "github.com/wippyai/wasm-chess"
)

var (
	ErrInvalidPosition = stderrors.New("invalid position")
	ErrIllegalMove     = stderrors.New("illegal move")
)

// Outcome is how a game ended, or OutcomeNone while it is in progress.
type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeCheckmate
	OutcomeStalemate
	OutcomeInsufficientMaterial
	OutcomeRepetition
	OutcomeFiftyMove
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNone:
		return "none"
	case OutcomeCheckmate:
		return "checkmate"
	case OutcomeStalemate:
		return "stalemate"
	case OutcomeInsufficientMaterial:
		return "insufficient_material"
	case OutcomeRepetition:
		return "repetition"
	case OutcomeFiftyMove:
		return "fifty_move"
	default:
		return "unknown"
	}
}

// LegalMove is one legal (origin, destination, promotion) triple.
type LegalMove struct {
	From      string
	To        string
	Promotion string
}

// Move returns the UCI form.
func (m LegalMove) Move() wasmchess.Move {
	return wasmchess.Move(m.From + m.To + m.Promotion)
}

// Analysis describes one position.
type Analysis struct {
	Position wasmchess.Position
	Side     wasmchess.Side
	Winner   wasmchess.Side // set for checkmate
	Legal    []LegalMove
	Outcome  Outcome
	InCheck  bool
}

// Terminal reports whether the game is over.
func (a Analysis) Terminal() bool {
	return a.Outcome != OutcomeNone
}

// Destinations maps each origin square to its legal destinations, sorted
// and without duplicates from promotion choices.
func (a Analysis) Destinations() map[string][]string {
	dests := make(map[string][]string)
	seen := make(map[string]bool)
	for _, m := range a.Legal {
		key := m.From + m.To
		if seen[key] {
			continue
		}
		seen[key] = true
		dests[m.From] = append(dests[m.From], m.To)
	}
	for _, to := range dests {
		sort.Strings(to)
	}
	return dests
}

// Find returns the legal move matching p. A promotion that is required but
// not given defaults to a queen.
func (a Analysis) Find(p wasmchess.ParsedMove) (LegalMove, bool) {
	promotion := p.Promotion
	if promotion == "" && a.needsPromotion(p.From, p.To) {
		promotion = "q"
	}
	for _, m := range a.Legal {
		if m.From == p.From && m.To == p.To && m.Promotion == promotion {
			return m, true
		}
	}
	return LegalMove{}, false
}

func (a Analysis) needsPromotion(from, to string) bool {
	for _, m := range a.Legal {
		if m.From == from && m.To == to && m.Promotion != "" {
			return true
		}
	}
	return false
}

// Standard analyzes positions with standard chess rules restricted to the
// engine's subset.
type Standard struct{}

// Analyze replays plies from start and analyzes the resulting position.
// Start is normalized with wasmchess.LiteFEN first.
func (Standard) Analyze(start wasmchess.Position, plies []wasmchess.Move) (Analysis, error) {
	opt, err := chess.FEN(string(wasmchess.LiteFEN(start)))
	if err != nil {
		return Analysis{}, fmt.Errorf("%w: %v", ErrInvalidPosition, err)
	}
	g := chess.NewGame(opt)

	for i, ply := range plies {
		m := findMove(g, string(ply))
		if m == nil {
			return Analysis{}, fmt.Errorf("%w: ply %d %q", ErrIllegalMove, i+1, ply)
		}
		if err := g.Move(m); err != nil {
			return Analysis{}, fmt.Errorf("%w: ply %d %q: %v", ErrIllegalMove, i+1, ply, err)
		}
	}

	return analyze(g), nil
}

func analyze(g *chess.Game) Analysis {
	pos := g.Position()
	a := Analysis{
		Position: wasmchess.LiteFEN(wasmchess.Position(pos.String())),
		Side:     side(pos.Turn()),
	}
	for _, m := range legalMoves(g) {
		a.Legal = append(a.Legal, LegalMove{
			From:      m.S1().String(),
			To:        m.S2().String(),
			Promotion: promotion(m.Promo()),
		})
	}

	if moves := g.Moves(); len(moves) > 0 {
		a.InCheck = moves[len(moves)-1].HasTag(chess.Check)
	} else {
		a.InCheck = attacked(pos)
	}

	a.Outcome = outcome(g, len(a.Legal), a.InCheck)
	if a.Outcome == OutcomeCheckmate {
		a.Winner = a.Side.Opponent()
	}
	// Draws by rule leave moves on the board; a finished game has none.
	if a.Terminal() {
		a.Legal = nil
	}
	return a
}

// legalMoves drops en passant captures, which the engine does not play.
func legalMoves(g *chess.Game) []*chess.Move {
	var out []*chess.Move
	for _, m := range g.ValidMoves() {
		if m.HasTag(chess.EnPassant) {
			continue
		}
		out = append(out, m)
	}
	return out
}

func findMove(g *chess.Game, uci string) *chess.Move {
	p, err := wasmchess.ParseMove(uci)
	if err != nil {
		return nil
	}
	for _, m := range legalMoves(g) {
		if m.S1().String() == p.From && m.S2().String() == p.To && promotion(m.Promo()) == p.Promotion {
			return m
		}
	}
	return nil
}

func outcome(g *chess.Game, legal int, inCheck bool) Outcome {
	if g.Outcome() != chess.NoOutcome {
		switch g.Method() {
		case chess.Checkmate:
			return OutcomeCheckmate
		case chess.Stalemate:
			return OutcomeStalemate
		case chess.InsufficientMaterial:
			return OutcomeInsufficientMaterial
		case chess.FivefoldRepetition, chess.ThreefoldRepetition:
			return OutcomeRepetition
		case chess.SeventyFiveMoveRule, chess.FiftyMoveRule:
			return OutcomeFiftyMove
		}
	}

	for _, m := range g.EligibleDraws() {
		switch m {
		case chess.ThreefoldRepetition:
			return OutcomeRepetition
		case chess.FiftyMoveRule:
			return OutcomeFiftyMove
		}
	}

	// A position loaded without moves is not evaluated by the library, and
	// dropping en passant can leave no legal move.
	if legal == 0 {
		if inCheck {
			return OutcomeCheckmate
		}
		return OutcomeStalemate
	}
	return OutcomeNone
}

// attacked reports whether the side to move is in check, by asking whether
// the opponent, given the move, could capture the king.
func attacked(pos *chess.Position) bool {
	fields := strings.Fields(pos.String())
	if len(fields) != 6 {
		return false
	}
	turn := pos.Turn()
	var king string
	for sq, piece := range pos.Board().SquareMap() {
		if piece.Type() == chess.King && piece.Color() == turn {
			king = sq.String()
			break
		}
	}
	if king == "" {
		return false
	}

	fields[1] = string(side(turn).Opponent())
	fields[3] = "-"
	opt, err := chess.FEN(strings.Join(fields, " "))
	if err != nil {
		return false
	}
	for _, m := range chess.NewGame(opt).ValidMoves() {
		if m.S2().String() == king {
			return true
		}
	}
	return false
}

func side(c chess.Color) wasmchess.Side {
	if c == chess.Black {
		return wasmchess.Black
	}
	return wasmchess.White
}

func promotion(p chess.PieceType) string {
	switch p {
	case chess.Queen:
		return "q"
	case chess.Rook:
		return "r"
	case chess.Bishop:
		return "b"
	case chess.Knight:
		return "n"
	default:
		return ""
	}
}
