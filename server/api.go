package server

import (
	"strings"

	wasmchess "github.com/wippyai/wasm-chess"
	"github.com/wippyai/wasm-chess/game"
)

// Error codes
const (
	CodeGameNotFound      = "GAME_NOT_FOUND"
	CodeInvalidMove       = "INVALID_MOVE"
	CodeIllegalMove       = "ILLEGAL_MOVE"
	CodeNotHumanTurn      = "NOT_HUMAN_TURN"
	CodeNotEngineTurn     = "NOT_ENGINE_TURN"
	CodeGameOver          = "GAME_OVER"
	CodeEngineUnavailable = "ENGINE_UNAVAILABLE"
	CodeInvalidRequest    = "INVALID_REQUEST"
	CodeInvalidFEN        = "INVALID_FEN"
	CodeResourceLimit     = "RESOURCE_LIMIT"
	CodeInternalError     = "INTERNAL_ERROR"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
}

// CreateGameRequest starts a game. Every field is optional.
type CreateGameRequest struct {
	HumanSide string `json:"humanSide" validate:"omitempty,oneof=white black"`
	FEN       string `json:"fen" validate:"omitempty,max=128"`
	Depth     int    `json:"depth" validate:"omitempty,min=1,max=8"`
}

// MoveRequest plays a human move in UCI.
type MoveRequest struct {
	Move string `json:"move" validate:"required,min=4,max=5"`
}

// GameResponse is the presentation view of one game.
type GameResponse struct {
	Destinations map[string][]string     `json:"destinations,omitempty"`
	LastSearch   *wasmchess.SearchResult `json:"lastSearch,omitempty"`
	ID           string                  `json:"gameId"`
	FEN          string                  `json:"fen"`
	Turn         string                  `json:"turn"`
	HumanSide    string                  `json:"humanSide"`
	Winner       string                  `json:"winner,omitempty"`
	Phase        string                  `json:"phase"`
	Status       string                  `json:"status"`
	Outcome      string                  `json:"outcome"`
	Feedback     string                  `json:"feedback,omitempty"`
	Diagnostic   string                  `json:"diagnostic,omitempty"`
	Moves        []wasmchess.Move        `json:"moves"`
	CanMove      bool                    `json:"canMove"`
	InCheck      bool                    `json:"inCheck"`
	Searching    bool                    `json:"searching"`
}

func newGameResponse(id string, v game.View) GameResponse {
	resp := GameResponse{
		ID:         id,
		FEN:        string(v.Position),
		Turn:       sideName(v.Side),
		HumanSide:  sideName(v.HumanSide),
		Phase:      v.Phase.String(),
		Status:     string(v.Status),
		Outcome:    v.Outcome.String(),
		Feedback:   v.Feedback,
		Diagnostic: v.Diagnostic,
		Moves:      v.Plies,
		LastSearch: v.LastSearch,
		CanMove:    v.CanMove,
		InCheck:    v.InCheck,
		Searching:  v.Searching,
	}
	if v.Winner != "" {
		resp.Winner = sideName(v.Winner)
	}
	if len(v.Destinations) > 0 {
		resp.Destinations = v.Destinations
	}
	return resp
}

func sideName(s wasmchess.Side) string {
	return strings.ToLower(s.String())
}
