package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/wasm-chess/config"
	"github.com/wippyai/wasm-chess/game"
	"github.com/wippyai/wasm-chess/host"
	"github.com/wippyai/wasm-chess/protocol"
	"github.com/wippyai/wasm-chess/rules"
)

const helpText = `Commands:
  e2e4       play a move in UCI (e7e8q promotes)
  moves      list legal moves
  board      show the board
  go         ask the engine to move, or retry a failed engine turn
  new        start a new game
  quit       leave`

func newPlayCommand() *cobra.Command {
	var (
		plain bool
		side  string
		depth int
	)

	cmd := &cobra.Command{
		Use:   "play",
		Short: "Play a game in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()
			if side != "" {
				cfg.Game.HumanSide = side
			}
			if depth > 0 {
				cfg.Game.Depth = depth
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			tui := !plain && term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
			var stderr io.Writer = os.Stderr
			if tui {
				// The alternate screen owns the terminal.
				logger, stderr = zap.NewNop(), io.Discard
			}

			s, err := newSession(cmd.Context(), cfg, logger, stderr)
			if err != nil {
				return err
			}
			defer s.close()

			if tui {
				return runInteractive(s)
			}
			return runPlain(cmd.Context(), s)
		},
	}

	cmd.Flags().BoolVar(&plain, "plain", false, "line mode instead of the full-screen board")
	cmd.Flags().StringVar(&side, "side", "", "side you play: white or black (overrides config)")
	cmd.Flags().IntVarP(&depth, "depth", "d", 0, "engine search depth (overrides config)")
	return cmd
}

// session is one game with its engine connection.
type session struct {
	orch   *game.Orchestrator
	conn   *host.Conn
	cancel context.CancelFunc
}

func newSession(ctx context.Context, cfg *config.Config, logger *zap.Logger, stderr io.Writer) (*session, error) {
	notices := make(chan protocol.BootstrapError, 1)
	conn, err := connect(ctx, cfg, connectOptions{
		logger: logger.Named("engine"),
		stderr: stderr,
		onBootFailure: func(b protocol.BootstrapError) {
			select {
			case notices <- b:
			default:
			}
		},
	})
	if err != nil {
		return nil, err
	}

	orch, err := game.New(conn, rules.Standard{},
		game.WithLogger(logger.Named("game")),
		game.WithHumanSide(cfg.HumanSide()),
		game.WithDepth(cfg.Game.Depth),
		game.WithStart(cfg.StartPosition()),
	)
	if err != nil {
		conn.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case b := <-notices:
			orch.EngineUnavailable(fmt.Errorf("%s (tried %s)", b.Error, b.SourceTried))
		case <-ctx.Done():
		}
	}()
	return &session{orch: orch, conn: conn, cancel: cancel}, nil
}

func (s *session) close() {
	s.cancel()
	s.orch.Close()
	s.conn.Close()
}

// dispatch runs one line of input. The reply is empty when the game view
// already reports the outcome.
func dispatch(o *game.Orchestrator, line string) (reply string, quit bool) {
	switch cmd := strings.ToLower(strings.TrimSpace(line)); cmd {
	case "":
		return "", false
	case "quit", "exit", "q":
		return "", true
	case "help", "?":
		return helpText, false
	case "new", "reset":
		if err := o.Reset(); err != nil {
			return "Reset failed: " + err.Error(), false
		}
		return "", false
	case "go", "engine":
		if err := o.RequestEngineMove(); err != nil {
			return "It is not the engine's turn.", false
		}
		return "", false
	case "moves":
		return legalMoves(o.View()), false
	case "board":
		v := o.View()
		return strings.TrimRight(plainBoard(v.Position, v.HumanSide), "\n"), false
	default:
		// Rejections are reported through the view's feedback.
		_ = o.PlayHuman(cmd)
		return "", false
	}
}

func legalMoves(v game.View) string {
	if !v.CanMove {
		return "No moves available now."
	}
	origins := make([]string, 0, len(v.Destinations))
	for from := range v.Destinations {
		origins = append(origins, from)
	}
	sort.Strings(origins)

	lines := make([]string, len(origins))
	for i, from := range origins {
		lines[i] = from + ": " + strings.Join(v.Destinations[from], " ")
	}
	return strings.Join(lines, "\n")
}

// printer writes view changes to a line-oriented terminal, skipping views
// that repeat the last feedback and status.
type printer struct {
	w    io.Writer
	last string
	mu   sync.Mutex
}

func (p *printer) show(v game.View) {
	key := v.Feedback + "|" + string(v.Status)
	p.mu.Lock()
	defer p.mu.Unlock()
	if key == p.last {
		return
	}
	p.last = key

	if v.Feedback != "" {
		fmt.Fprintln(p.w, v.Feedback)
	}
	if len(v.Plies) > 0 && v.Phase != game.PhaseEngineTurn {
		fmt.Fprint(p.w, plainBoard(v.Position, v.HumanSide))
	}
	fmt.Fprintln(p.w, v.Status)
}

func runPlain(ctx context.Context, s *session) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "move> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	out := rl.Stdout()
	fmt.Fprintln(out, "WebAssembly chess. Type 'help' for commands.")
	fmt.Fprintln(out, game.StatusBooting)

	p := &printer{w: out}
	s.orch.OnChange(p.show)
	if err := s.orch.Start(ctx); err != nil {
		return err
	}
	fmt.Fprint(out, plainBoard(s.orch.View().Position, s.orch.View().HumanSide))

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			if len(line) == 0 {
				return nil
			}
			continue
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		reply, quit := dispatch(s.orch, line)
		if quit {
			return nil
		}
		if reply != "" {
			fmt.Fprintln(out, reply)
		}
	}
}
