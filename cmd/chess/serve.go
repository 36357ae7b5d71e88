package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-chess/game"
	"github.com/wippyai/wasm-chess/metrics"
	"github.com/wippyai/wasm-chess/protocol"
	"github.com/wippyai/wasm-chess/server"
)

func newServeCommand() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve games over HTTP",
		Long:  "Serve the game API. Every game gets its own engine worker.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()
			if addr != "" {
				cfg.Server.Addr = addr
			}

			var collector *metrics.Collector
			if cfg.Metrics.Enabled {
				collector = metrics.NewCollector(nil)
			}

			dial := func(ctx context.Context) (server.Conn, error) {
				conn, err := connect(ctx, cfg, connectOptions{
					logger:    logger.Named("engine"),
					collector: collector,
					stderr:    os.Stderr,
					onBootFailure: func(b protocol.BootstrapError) {
						logger.Error("engine boot failed", zap.String("error", b.Error), zap.String("source", b.SourceTried))
					},
				})
				if err != nil {
					return nil, err
				}
				return conn, nil
			}

			srv := server.New(dial,
				server.WithLogger(logger.Named("http")),
				server.WithCollector(collector),
				server.WithMaxGames(cfg.Server.MaxGames),
				server.WithGameOptions(
					game.WithHumanSide(cfg.HumanSide()),
					game.WithDepth(cfg.Game.Depth),
					game.WithStart(cfg.StartPosition()),
				),
			)

			errc := make(chan error, 1)
			go func() { errc <- srv.Listen(cfg.Server.Addr) }()

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sig)

			select {
			case err := <-errc:
				return err
			case <-sig:
			}

			logger.Info("shutting down")
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	return cmd
}
