// Command chess plays against a WebAssembly chess engine and hosts engine
// workers.
//
//	chess play                 # terminal game, TUI or --plain line mode
//	chess analyze --fen FEN    # side, check, moves and best move of a position
//	chess inspect FILE.wasm    # exports and ABI verification of a module
//	chess serve                # HTTP API for concurrent games
//	chess worker               # worker on stdin/stdout, spawned by the others
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-chess/config"
)

var (
	configFile string
	enginePath string
	isolation  string
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "chess",
		Short:         "Play chess against a sandboxed WebAssembly engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path")
	root.PersistentFlags().StringVar(&enginePath, "engine", "", "engine module path (overrides config)")
	root.PersistentFlags().StringVar(&isolation, "isolation", "", "worker isolation: goroutine or process (overrides config)")

	root.AddCommand(newPlayCommand())
	root.AddCommand(newAnalyzeCommand())
	root.AddCommand(newInspectCommand())
	root.AddCommand(newServeCommand())
	root.AddCommand(newWorkerCommand())
	return root
}

// loadConfig reads the config file, then the environment, then flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv(os.Getenv)
	if enginePath != "" {
		cfg.Engine.Path = enginePath
	}
	if isolation != "" {
		cfg.Engine.Isolation = isolation
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger, err := cfg.Logger()
	if err != nil {
		return nil, nil, fmt.Errorf("build logger: %w", err)
	}
	return cfg, logger, nil
}
