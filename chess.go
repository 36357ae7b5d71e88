package wasmchess

import (
	"fmt"
	"regexp"
	"strings"
)

// Position is a serialized board state (FEN).
type Position string

// StartPosition is the standard initial position with castling and en passant
// cleared, the rule subset the engine accepts.
const StartPosition Position = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w - - 0 1"

// MaxPositionLen bounds the length of a serialized position.
const MaxPositionLen = 128

// LiteFEN clears the castling and en passant fields of a six-field FEN.
// Other inputs are returned unchanged.
func LiteFEN(fen Position) Position {
	parts := strings.Split(string(fen), " ")
	if len(parts) != 6 {
		return fen
	}
	parts[2] = "-"
	parts[3] = "-"
	return Position(strings.Join(parts, " "))
}

// Side identifies the player to move.
type Side string

const (
	White Side = "w"
	Black Side = "b"
)

// Opponent returns the other side.
func (s Side) Opponent() Side {
	if s == White {
		return Black
	}
	return White
}

func (s Side) String() string {
	switch s {
	case White:
		return "White"
	case Black:
		return "Black"
	default:
		return "unknown"
	}
}

// Move is a UCI move string: {from}{to}{promotion?}.
type Move string

var moveGrammar = regexp.MustCompile(`^([a-h][1-8])([a-h][1-8])([qrbn])?$`)

// ParsedMove holds the parts of a validated Move.
type ParsedMove struct {
	From      string
	To        string
	Promotion string
}

// Move reassembles the UCI string.
func (p ParsedMove) Move() Move {
	return Move(p.From + p.To + p.Promotion)
}

// ParseMove normalizes s (trim, lower-case) and validates it against the UCI
// move grammar.
func ParseMove(s string) (ParsedMove, error) {
	normalized := strings.ToLower(strings.TrimSpace(s))
	m := moveGrammar.FindStringSubmatch(normalized)
	if m == nil {
		return ParsedMove{}, fmt.Errorf("invalid move %q: want {from}{to}{promotion?}, e.g. e2e4", s)
	}
	return ParsedMove{From: m[1], To: m[2], Promotion: m[3]}, nil
}

// SearchResult is the outcome of a best-move search. Score and Depth are nil
// when the engine did not report them.
type SearchResult struct {
	Score *int `json:"score,omitempty"`
	Depth *int `json:"depth,omitempty"`
	Move  Move `json:"move"`
}

// Memory is the engine's linear memory as seen by the ABI adapter.
type Memory interface {
	Read(offset uint32, length uint32) ([]byte, error)
	Write(offset uint32, data []byte) error
	WriteU8(offset uint32, value uint8) error
}

// MemorySizer reports the current size of linear memory in bytes.
type MemorySizer interface {
	Size() uint32
}
