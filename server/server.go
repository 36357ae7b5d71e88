// Package server exposes human-vs-engine games over HTTP.
//
// Every game owns one engine connection, opened through a Dialer when the
// game is created and closed when it is deleted or the server shuts down.
package server

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	wasmchess "github.com/wippyai/wasm-chess"
	"github.com/wippyai/wasm-chess/game"
	"github.com/wippyai/wasm-chess/metrics"
	"github.com/wippyai/wasm-chess/rules"
)

const (
	defaultMaxGames = 64
	maxWait         = 30 * time.Second
)

// Conn is one engine connection.
type Conn interface {
	game.Engine
	io.Closer
}

// Dialer opens the engine connection of a new game.
type Dialer func(ctx context.Context) (Conn, error)

type entry struct {
	orch *game.Orchestrator
	conn Conn
}

func (e *entry) close() error {
	e.orch.Close()
	return e.conn.Close()
}

// Server holds the games and their HTTP routes.
type Server struct {
	app       *fiber.App
	dial      Dialer
	rules     game.Rules
	logger    *zap.Logger
	collector *metrics.Collector
	games     map[string]*entry
	gameOpts  []game.Option
	maxGames  int
	mu        sync.Mutex
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the server logger
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithCollector exposes c on /metrics and reports active games to it.
func WithCollector(c *metrics.Collector) Option {
	return func(s *Server) {
		s.collector = c
	}
}

// WithMaxGames limits concurrent games.
func WithMaxGames(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxGames = n
		}
	}
}

// WithGameOptions sets defaults applied to every game before the request's
// own settings.
func WithGameOptions(opts ...game.Option) Option {
	return func(s *Server) {
		s.gameOpts = append(s.gameOpts, opts...)
	}
}

// New builds a server that opens engines with dial.
func New(dial Dialer, opts ...Option) *Server {
	s := &Server{
		dial:     dial,
		rules:    rules.Standard{},
		logger:   zap.NewNop(),
		games:    make(map[string]*entry),
		maxGames: defaultMaxGames,
	}
	for _, opt := range opts {
		opt(s)
	}

	app := fiber.New(fiber.Config{
		ErrorHandler:          errorHandler,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          maxWait + 5*time.Second,
		IdleTimeout:           60 * time.Second,
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "${status} ${method} ${path} ${latency}\n",
		Output: zap.NewStdLog(s.logger).Writer(),
	}))
	app.Use(cors.New())

	app.Get("/health", s.health)
	if s.collector != nil {
		app.Get("/metrics", adaptor.HTTPHandler(s.collector.Handler()))
	}

	api := app.Group("/api/v1")
	api.Post("/games", s.createGame)
	api.Get("/games", s.listGames)
	api.Get("/games/:gameId", s.getGame)
	api.Delete("/games/:gameId", s.deleteGame)
	api.Post("/games/:gameId/moves", s.makeMove)
	api.Post("/games/:gameId/engine-move", s.engineMove)
	api.Post("/games/:gameId/reset", s.resetGame)

	s.app = app
	return s
}

// App returns the fiber application, for tests and embedding.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	s.logger.Info("listening", zap.String("addr", addr))
	return s.app.Listen(addr)
}

// Shutdown stops accepting requests and closes every game.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.app.ShutdownWithContext(ctx)

	s.mu.Lock()
	games := s.games
	s.games = make(map[string]*entry)
	s.mu.Unlock()

	for _, e := range games {
		err = multierr.Append(err, e.close())
	}
	s.setActive(0)
	return err
}

// apiError is a handler failure with its response.
type apiError struct {
	resp   ErrorResponse
	status int
}

func (e *apiError) Error() string {
	return e.resp.Error
}

func newAPIError(status int, code, msg, details string) *apiError {
	return &apiError{status: status, resp: ErrorResponse{Error: msg, Code: code, Details: details}}
}

// errorHandler provides consistent error responses
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	resp := ErrorResponse{Error: "internal server error", Code: CodeInternalError}

	var ae *apiError
	var fe *fiber.Error
	if stderrors.As(err, &ae) {
		code, resp = ae.status, ae.resp
	} else if stderrors.As(err, &fe) {
		code = fe.Code
		resp.Error = fe.Message
		switch code {
		case fiber.StatusNotFound:
			resp.Code = CodeGameNotFound
		case fiber.StatusBadRequest:
			resp.Code = CodeInvalidRequest
		}
	}
	return c.Status(code).JSON(resp)
}

func (s *Server) health(c *fiber.Ctx) error {
	s.mu.Lock()
	n := len(s.games)
	s.mu.Unlock()
	return c.JSON(fiber.Map{
		"status": "healthy",
		"time":   time.Now().Unix(),
		"games":  n,
	})
}

func (s *Server) createGame(c *fiber.Ctx) error {
	var req CreateGameRequest
	if len(c.Body()) > 0 {
		if err := parseBody(c, &req); err != nil {
			return err
		}
	}

	s.mu.Lock()
	full := len(s.games) >= s.maxGames
	s.mu.Unlock()
	if full {
		return newAPIError(fiber.StatusServiceUnavailable, CodeResourceLimit, "too many games",
			fmt.Sprintf("at most %d concurrent games", s.maxGames))
	}

	opts := append([]game.Option{}, s.gameOpts...)
	if req.HumanSide == "black" {
		opts = append(opts, game.WithHumanSide(wasmchess.Black))
	} else if req.HumanSide == "white" {
		opts = append(opts, game.WithHumanSide(wasmchess.White))
	}
	if req.FEN != "" {
		opts = append(opts, game.WithStart(wasmchess.Position(req.FEN)))
	}
	if req.Depth > 0 {
		opts = append(opts, game.WithDepth(req.Depth))
	}

	conn, err := s.dial(c.UserContext())
	if err != nil {
		s.logger.Error("engine connection failed", zap.Error(err))
		return newAPIError(fiber.StatusServiceUnavailable, CodeEngineUnavailable, "engine unavailable", err.Error())
	}

	id := uuid.NewString()
	orch, err := game.New(conn, s.rules, append(opts, game.WithLogger(s.logger.With(zap.String("game", id))))...)
	if err != nil {
		conn.Close()
		if stderrors.Is(err, rules.ErrInvalidPosition) {
			return newAPIError(fiber.StatusBadRequest, CodeInvalidFEN, "invalid position", err.Error())
		}
		return err
	}

	// A failed start leaves the game in the engine-unavailable phase, which
	// the response reports.
	if err := orch.Start(c.UserContext()); err != nil {
		s.logger.Warn("engine failed to start", zap.String("game", id), zap.Error(err))
	}

	e := &entry{orch: orch, conn: conn}
	s.mu.Lock()
	if len(s.games) >= s.maxGames {
		s.mu.Unlock()
		e.close()
		return newAPIError(fiber.StatusServiceUnavailable, CodeResourceLimit, "too many games",
			fmt.Sprintf("at most %d concurrent games", s.maxGames))
	}
	s.games[id] = e
	n := len(s.games)
	s.mu.Unlock()
	s.setActive(n)

	s.logger.Info("game created", zap.String("game", id))
	return c.Status(fiber.StatusCreated).JSON(newGameResponse(id, orch.View()))
}

func (s *Server) listGames(c *fiber.Ctx) error {
	s.mu.Lock()
	out := make([]GameResponse, 0, len(s.games))
	for id, e := range s.games {
		out = append(out, newGameResponse(id, e.orch.View()))
	}
	s.mu.Unlock()
	return c.JSON(out)
}

// getGame returns the game. With wait=true it first waits, up to timeout
// seconds, for a running engine search to finish.
func (s *Server) getGame(c *fiber.Ctx) error {
	id, e, err := s.lookup(c)
	if err != nil {
		return err
	}

	if c.Query("wait") == "true" {
		timeout := time.Duration(c.QueryInt("timeout", 10)) * time.Second
		if timeout <= 0 || timeout > maxWait {
			timeout = maxWait
		}
		ctx, cancel := context.WithTimeout(c.UserContext(), timeout)
		defer cancel()
		_ = e.orch.Wait(ctx)
	}
	return c.JSON(newGameResponse(id, e.orch.View()))
}

func (s *Server) deleteGame(c *fiber.Ctx) error {
	id, e, err := s.lookup(c)
	if err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.games, id)
	n := len(s.games)
	s.mu.Unlock()
	s.setActive(n)

	if err := e.close(); err != nil {
		s.logger.Warn("closing game", zap.String("game", id), zap.Error(err))
	}
	s.logger.Info("game deleted", zap.String("game", id))
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) makeMove(c *fiber.Ctx) error {
	id, e, err := s.lookup(c)
	if err != nil {
		return err
	}
	var req MoveRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	if err := e.orch.PlayHuman(req.Move); err != nil {
		return gameError(e.orch.View(), err)
	}
	return c.JSON(newGameResponse(id, e.orch.View()))
}

func (s *Server) engineMove(c *fiber.Ctx) error {
	id, e, err := s.lookup(c)
	if err != nil {
		return err
	}
	if err := e.orch.RequestEngineMove(); err != nil {
		return gameError(e.orch.View(), err)
	}
	return c.JSON(newGameResponse(id, e.orch.View()))
}

func (s *Server) resetGame(c *fiber.Ctx) error {
	id, e, err := s.lookup(c)
	if err != nil {
		return err
	}
	if err := e.orch.Reset(); err != nil {
		return err
	}
	return c.JSON(newGameResponse(id, e.orch.View()))
}

func (s *Server) lookup(c *fiber.Ctx) (string, *entry, error) {
	id := c.Params("gameId")
	if _, err := uuid.Parse(id); err != nil {
		return "", nil, newAPIError(fiber.StatusBadRequest, CodeInvalidRequest, "invalid game ID format", "game ID must be a valid UUID")
	}

	s.mu.Lock()
	e, ok := s.games[id]
	s.mu.Unlock()
	if !ok {
		return "", nil, newAPIError(fiber.StatusNotFound, CodeGameNotFound, "game not found", "")
	}
	return id, e, nil
}

func (s *Server) setActive(n int) {
	if s.collector != nil {
		s.collector.SetActiveGames(n)
	}
}

// gameError maps an orchestrator rejection to a response.
func gameError(v game.View, err error) error {
	status, code := fiber.StatusInternalServerError, CodeInternalError
	switch {
	case v.Phase == game.PhaseGameOver:
		status, code = fiber.StatusConflict, CodeGameOver
	case v.Phase == game.PhaseEngineUnavailable:
		status, code = fiber.StatusServiceUnavailable, CodeEngineUnavailable
	case stderrors.Is(err, game.ErrNotHumanTurn):
		status, code = fiber.StatusConflict, CodeNotHumanTurn
	case stderrors.Is(err, game.ErrNotEngineTurn):
		status, code = fiber.StatusConflict, CodeNotEngineTurn
	case stderrors.Is(err, game.ErrInvalidMove):
		status, code = fiber.StatusBadRequest, CodeInvalidMove
	case stderrors.Is(err, game.ErrIllegalMove):
		status, code = fiber.StatusUnprocessableEntity, CodeIllegalMove
	}
	return newAPIError(status, code, err.Error(), v.Feedback)
}

var validate = validator.New()

// parseBody decodes and validates a JSON body.
func parseBody(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return newAPIError(fiber.StatusBadRequest, CodeInvalidRequest, "invalid request body", err.Error())
	}
	if err := validate.Struct(out); err != nil {
		var errs validator.ValidationErrors
		if !stderrors.As(err, &errs) {
			return err
		}
		return newAPIError(fiber.StatusBadRequest, CodeInvalidRequest, "validation failed", validationDetails(errs))
	}
	return nil
}

func validationDetails(errs validator.ValidationErrors) string {
	var details strings.Builder
	for _, fe := range errs {
		if details.Len() > 0 {
			details.WriteString("; ")
		}
		switch fe.Tag() {
		case "required":
			details.WriteString(fmt.Sprintf("%s is required", fe.Field()))
		case "oneof":
			details.WriteString(fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param()))
		case "min", "max":
			bound := "at least"
			if fe.Tag() == "max" {
				bound = "at most"
			}
			if fe.Kind() == reflect.String {
				details.WriteString(fmt.Sprintf("%s must be %s %s characters", fe.Field(), bound, fe.Param()))
			} else {
				details.WriteString(fmt.Sprintf("%s must be %s %s", fe.Field(), bound, fe.Param()))
			}
		default:
			details.WriteString(fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag()))
		}
	}
	return details.String()
}
