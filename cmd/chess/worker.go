package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wippyai/wasm-chess/host"
)

func newWorkerCommand() *cobra.Command {
	return &cobra.Command{
		Use:    "worker",
		Short:  "Run an engine worker on stdin/stdout",
		Long:   "Run an engine worker speaking newline-delimited JSON frames on stdin and stdout. It exits when stdin closes.",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return host.Serve(ctx, os.Stdin, os.Stdout, host.Options{
				Logger:           logger.Named("worker"),
				MemoryLimitPages: cfg.Engine.MemoryLimitPages,
			})
		},
	}
}
