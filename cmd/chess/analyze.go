package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	wasmchess "github.com/wippyai/wasm-chess"
)

type analysis struct {
	BestMove *wasmchess.SearchResult `json:"bestMove"`
	FEN      string                  `json:"fen"`
	Side     string                  `json:"side"`
	Moves    []wasmchess.Move        `json:"moves"`
	InCheck  bool                    `json:"inCheck"`
}

func newAnalyzeCommand() *cobra.Command {
	var (
		fen     string
		depth   int
		timeout time.Duration
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Ask the engine about one position",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			if fen == "" {
				fen = string(cfg.StartPosition())
			}
			if !cmd.Flags().Changed("depth") {
				depth = cfg.Game.Depth
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			conn, err := connect(ctx, cfg, connectOptions{logger: logger, stderr: os.Stderr})
			if err != nil {
				return err
			}
			defer conn.Close()

			pos := wasmchess.LiteFEN(wasmchess.Position(fen))
			if err := conn.SetPosition(ctx, pos); err != nil {
				return fmt.Errorf("set position: %w", err)
			}
			out := analysis{FEN: string(pos)}
			side, err := conn.SideToMove(ctx)
			if err != nil {
				return fmt.Errorf("side to move: %w", err)
			}
			out.Side = side.String()
			if out.InCheck, err = conn.IsInCheck(ctx); err != nil {
				return fmt.Errorf("is in check: %w", err)
			}
			if out.Moves, err = conn.GenerateMoves(ctx); err != nil {
				return fmt.Errorf("generate moves: %w", err)
			}
			if out.BestMove, err = conn.BestMove(ctx, &depth); err != nil {
				return fmt.Errorf("best move: %w", err)
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}
			printAnalysis(cmd, out)
			return nil
		},
	}

	cmd.Flags().StringVar(&fen, "fen", "", "position in FEN (default: configured start)")
	cmd.Flags().IntVarP(&depth, "depth", "d", 3, "search depth")
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "overall time limit")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func printAnalysis(cmd *cobra.Command, a analysis) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Position: %s\n", a.FEN)
	fmt.Fprintf(w, "To move:  %s\n", a.Side)
	fmt.Fprintf(w, "In check: %v\n", a.InCheck)

	moves := make([]string, len(a.Moves))
	for i, m := range a.Moves {
		moves[i] = string(m)
	}
	fmt.Fprintf(w, "Moves:    %d %s\n", len(moves), strings.Join(moves, " "))

	if a.BestMove == nil {
		fmt.Fprintln(w, "Best:     none")
		return
	}
	fmt.Fprintf(w, "Best:     %s", a.BestMove.Move)
	if a.BestMove.Score != nil {
		fmt.Fprintf(w, " score %d", *a.BestMove.Score)
	}
	if a.BestMove.Depth != nil {
		fmt.Fprintf(w, " depth %d", *a.BestMove.Depth)
	}
	fmt.Fprintln(w)
}
