package main

import (
	"context"
	"io"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-chess/config"
	"github.com/wippyai/wasm-chess/host"
	"github.com/wippyai/wasm-chess/metrics"
	"github.com/wippyai/wasm-chess/protocol"
)

type connectOptions struct {
	logger        *zap.Logger
	collector     *metrics.Collector
	stderr        io.Writer
	onBootFailure func(protocol.BootstrapError)
}

// connect starts a worker per the engine config and asks it to boot.
func connect(ctx context.Context, cfg *config.Config, o connectOptions) (*host.Conn, error) {
	opts := host.Options{
		Logger:           o.logger,
		Stderr:           o.stderr,
		OnBootFailure:    o.onBootFailure,
		Args:             workerArgs(),
		Isolation:        cfg.Engine.Isolation,
		EnginePath:       cfg.Engine.Path,
		MemoryLimitPages: cfg.Engine.MemoryLimitPages,
	}
	if o.collector != nil {
		opts.ClientObserver = o.collector
		opts.WorkerObserver = o.collector
	}
	return host.Connect(ctx, opts)
}

// workerArgs are the arguments of a worker child process.
func workerArgs() []string {
	args := []string{"worker"}
	if configFile != "" {
		args = append(args, "--config", configFile)
	}
	return args
}
