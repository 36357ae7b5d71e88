// Package protocol defines the messages exchanged between an engine worker
// and its clients, and the handler that applies them to an engine.
package protocol

import "encoding/json"

// Method names a request dispatched to the engine.
type Method string

const (
	MethodSetPosition   Method = "setPosition"
	MethodGenerateMoves Method = "generateMoves"
	MethodBestMove      Method = "bestMove"
	MethodIsInCheck     Method = "isInCheck"
	MethodSideToMove    Method = "sideToMove"
)

// Wire type tags
const (
	TypeRequest        = "request"
	TypeCancel         = "cancel"
	TypeResponse       = "response"
	TypeInit           = "init"
	TypeBootstrapError = "bootstrap-error"
)

// Failure kinds
const (
	KindCanceled  = "canceled"
	KindRuntime   = "runtime"
	KindBootstrap = "bootstrap"
	// KindBoundaryPrefix is followed by the numeric status code.
	KindBoundaryPrefix = "boundary:"
)

// CanceledMessage is the message of every canceled failure.
const CanceledMessage = "request canceled"

// Message is one wire message. The set of implementations is closed.
type Message interface {
	messageType() string
}

// Request asks the worker to run one engine operation.
type Request struct {
	Method Method
	Params json.RawMessage
	ID     int64
}

// Cancel asks the worker to abandon request ID.
type Cancel struct {
	ID int64
}

// Success carries the result of request ID.
type Success struct {
	Result json.RawMessage
	ID     int64
}

// ErrorInfo describes a failed request.
type ErrorInfo struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Failure carries the error of request ID.
type Failure struct {
	Error ErrorInfo
	ID    int64
}

// Init asks the worker to boot, optionally from a specific module source.
type Init struct {
	ModuleSource string
}

// BootstrapError reports that the worker could not load its engine.
type BootstrapError struct {
	Error       string
	SourceTried string
}

func (Request) messageType() string        { return TypeRequest }
func (Cancel) messageType() string         { return TypeCancel }
func (Success) messageType() string        { return TypeResponse }
func (Failure) messageType() string        { return TypeResponse }
func (Init) messageType() string           { return TypeInit }
func (BootstrapError) messageType() string { return TypeBootstrapError }

// ResponseID returns the request id answered by m, if m is a response.
func ResponseID(m Message) (int64, bool) {
	switch v := m.(type) {
	case Success:
		return v.ID, true
	case Failure:
		return v.ID, true
	default:
		return 0, false
	}
}

// SetPositionParams are the params of MethodSetPosition.
type SetPositionParams struct {
	FEN string `json:"fen"`
}

// BestMoveParams are the params of MethodBestMove.
type BestMoveParams struct {
	Depth *int `json:"depth,omitempty"`
}
