package protocol

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strconv"
	"sync"

	"go.uber.org/zap"

	wasmchess "github.com/wippyai/wasm-chess"
	"github.com/wippyai/wasm-chess/abi"
)

// Engine is the operation set a worker exposes. *abi.Adapter implements it.
type Engine interface {
	SetPosition(ctx context.Context, position wasmchess.Position) error
	GenerateMoves(ctx context.Context) ([]wasmchess.Move, error)
	BestMove(ctx context.Context, depth *int) (*wasmchess.SearchResult, error)
	IsInCheck(ctx context.Context) (bool, error)
	SideToMove(ctx context.Context) (wasmchess.Side, error)
	Stop(ctx context.Context)
}

var _ Engine = (*abi.Adapter)(nil)

// maxAnswered bounds the answered ids kept above the low-water mark.
const maxAnswered = 1024

// Handler applies inbound messages to an Engine. It answers every request id
// at most once, even when a Request and its Cancel are handled concurrently.
type Handler struct {
	engine Engine
	logger *zap.Logger
	// Every id in [1, floor] is answered. Answered ids outside it are kept
	// in responded until the floor reaches them.
	responded map[int64]struct{}
	floor     int64
	mu        sync.Mutex
}

// HandlerOption configures a Handler
type HandlerOption func(*Handler)

// WithHandlerLogger sets the handler logger
func WithHandlerLogger(l *zap.Logger) HandlerOption {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// NewHandler creates a handler for e.
func NewHandler(e Engine, opts ...HandlerOption) *Handler {
	h := &Handler{
		engine:    e,
		logger:    zap.NewNop(),
		responded: make(map[int64]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle applies msg and returns the response to send, or nil.
//
// A Request whose id was already answered is not dispatched. A Cancel for an
// unanswered id requests a stop and answers with a canceled Failure; for an
// answered id it does nothing.
func (h *Handler) Handle(ctx context.Context, msg Message) Message {
	switch m := msg.(type) {
	case Request:
		if h.isResponded(m.ID) {
			h.logger.Debug("skipping answered request", zap.Int64("id", m.ID), zap.String("method", string(m.Method)))
			return nil
		}
		resp := h.dispatch(ctx, m)
		if !h.claim(m.ID) {
			h.logger.Debug("dropping late response", zap.Int64("id", m.ID), zap.String("method", string(m.Method)))
			return nil
		}
		return resp

	case Cancel:
		if !h.claim(m.ID) {
			return nil
		}
		h.engine.Stop(ctx)
		return Failure{ID: m.ID, Error: ErrorInfo{Kind: KindCanceled, Message: CanceledMessage}}

	default:
		h.logger.Debug("ignoring message", zap.String("type", msg.messageType()))
		return nil
	}
}

// claim marks id answered and reports whether the caller won the right to
// answer it.
func (h *Handler) claim(id int64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.answeredLocked(id) {
		return false
	}
	h.responded[id] = struct{}{}
	h.compactLocked()
	return true
}

func (h *Handler) isResponded(id int64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.answeredLocked(id)
}

func (h *Handler) answeredLocked(id int64) bool {
	if id >= 1 && id <= h.floor {
		return true
	}
	_, ok := h.responded[id]
	return ok
}

// compactLocked advances the floor over answered ids. Clients number
// requests 1, 2, 3, ..., so the set stays small unless an id never arrives;
// such a gap is skipped once the set is full.
func (h *Handler) compactLocked() {
	if len(h.responded) > maxAnswered {
		lowest := int64(0)
		for id := range h.responded {
			if id > h.floor && (lowest == 0 || id < lowest) {
				lowest = id
			}
		}
		if lowest > 0 {
			h.floor = lowest - 1
		}
	}
	for {
		if _, ok := h.responded[h.floor+1]; !ok {
			return
		}
		delete(h.responded, h.floor+1)
		h.floor++
	}
}

func (h *Handler) dispatch(ctx context.Context, req Request) Message {
	result, err := h.invoke(ctx, req)
	if err != nil {
		info := FailureInfo(err)
		h.logger.Debug("request failed",
			zap.Int64("id", req.ID),
			zap.String("method", string(req.Method)),
			zap.String("kind", info.Kind),
			zap.Error(err))
		return Failure{ID: req.ID, Error: info}
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return Failure{ID: req.ID, Error: ErrorInfo{Kind: KindRuntime, Message: err.Error()}}
	}
	return Success{ID: req.ID, Result: raw}
}

func (h *Handler) invoke(ctx context.Context, req Request) (any, error) {
	switch req.Method {
	case MethodSetPosition:
		// An empty fen is the engine's to reject.
		var p struct {
			FEN *string `json:"fen"`
		}
		if !decodeParams(req.Params, &p) || p.FEN == nil {
			return nil, fmt.Errorf("setPosition requires { fen: string }")
		}
		return nil, h.engine.SetPosition(ctx, wasmchess.Position(*p.FEN))

	case MethodGenerateMoves:
		return h.engine.GenerateMoves(ctx)

	case MethodBestMove:
		var p BestMoveParams
		if len(req.Params) > 0 && !decodeParams(req.Params, &p) {
			return nil, fmt.Errorf("bestMove takes { depth?: integer }")
		}
		res, err := h.engine.BestMove(ctx, p.Depth)
		if err != nil || res == nil {
			return nil, err
		}
		return res, nil

	case MethodIsInCheck:
		return h.engine.IsInCheck(ctx)

	case MethodSideToMove:
		return h.engine.SideToMove(ctx)

	default:
		return nil, fmt.Errorf("unsupported worker method: %s", req.Method)
	}
}

func decodeParams(raw json.RawMessage, v any) bool {
	if len(raw) == 0 || string(raw) == "null" {
		return true
	}
	return json.Unmarshal(raw, v) == nil
}

// FailureInfo maps an engine error to its wire form.
func FailureInfo(err error) ErrorInfo {
	var be *abi.BoundaryError
	if stderrors.As(err, &be) {
		return ErrorInfo{
			Kind:    KindBoundaryPrefix + strconv.Itoa(int(be.Code)),
			Message: be.Error(),
		}
	}
	return ErrorInfo{Kind: KindRuntime, Message: err.Error()}
}
