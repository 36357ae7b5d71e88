// Package host connects a client to an engine worker, either in-process or
// in a child process.
package host

import (
	"context"
	"io"
	"os"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-chess/abi"
	"github.com/wippyai/wasm-chess/client"
	"github.com/wippyai/wasm-chess/engine"
	"github.com/wippyai/wasm-chess/errors"
	"github.com/wippyai/wasm-chess/loader"
	"github.com/wippyai/wasm-chess/protocol"
	"github.com/wippyai/wasm-chess/transport"
	"github.com/wippyai/wasm-chess/worker"
)

// Isolation modes.
const (
	Goroutine = "goroutine"
	Process   = "process"
)

// Options configures a connection.
type Options struct {
	Logger         *zap.Logger
	ClientObserver client.Observer
	WorkerObserver worker.Observer
	OnBootFailure  func(protocol.BootstrapError)
	Stderr         io.Writer // child stderr for process isolation

	// Executable and Args start the child for process isolation. Executable
	// defaults to the running binary.
	Executable string
	Args       []string

	Isolation        string
	EnginePath       string
	Defaults         []string // candidate paths after EnginePath; nil means loader.DefaultPaths
	MemoryLimitPages uint32
}

// Conn is a client bound to a running worker.
type Conn struct {
	*client.Client
	closers []func() error
}

// Connect starts a worker and asks it to boot the engine. It returns once
// Init is sent; boot failures arrive through OnBootFailure and fail every
// call.
func Connect(ctx context.Context, opts Options) (*Conn, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	var (
		ep      transport.Endpoint
		closers []func() error
	)
	switch opts.Isolation {
	case "", Goroutine:
		eng, err := engine.NewWazeroEngineWithConfig(ctx, &engine.Config{MemoryLimitPages: opts.MemoryLimitPages})
		if err != nil {
			return nil, err
		}
		local, remote := transport.Pipe()
		rt := worker.New(remote, newBoot(eng, opts), workerOptions(opts)...)
		go rt.Run(context.Background())

		ep = local
		closers = append(closers,
			rt.Close,
			local.Close,
			func() error { return eng.Close(context.Background()) },
		)
	case Process:
		exe := opts.Executable
		if exe == "" {
			var err error
			if exe, err = os.Executable(); err != nil {
				return nil, errors.Wrap(errors.PhaseBoot, errors.KindInstantiation, err, "locate executable")
			}
		}
		p, err := transport.Spawn(context.WithoutCancel(ctx), opts.Stderr, exe, opts.Args...)
		if err != nil {
			return nil, err
		}
		opts.Logger.Debug("worker process started", zap.Int("pid", p.Pid()))
		ep = p
		closers = append(closers, p.Close)
	default:
		return nil, errors.InvalidInput(errors.PhaseBoot, "unknown isolation "+opts.Isolation)
	}

	c := client.New(ep, client.WithLogger(opts.Logger), client.WithObserver(opts.ClientObserver))
	if opts.OnBootFailure != nil {
		c.OnBootFailure(opts.OnBootFailure)
	}
	conn := &Conn{Client: c, closers: closers}
	if err := c.Init(opts.EnginePath); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// Close disposes the client and stops the worker.
func (c *Conn) Close() error {
	c.Dispose()
	var err error
	for _, fn := range c.closers {
		err = multierr.Append(err, fn())
	}
	c.closers = nil
	return err
}

// Serve runs a worker on a frame stream until the peer closes it or ctx is
// done. It is the child side of process isolation.
func Serve(ctx context.Context, r io.Reader, w io.Writer, opts Options) error {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	eng, err := engine.NewWazeroEngineWithConfig(ctx, &engine.Config{MemoryLimitPages: opts.MemoryLimitPages})
	if err != nil {
		return err
	}
	defer eng.Close(context.Background())

	s := transport.NewStream(r, w)
	defer s.Close()
	return worker.Serve(ctx, s, newBoot(eng, opts), workerOptions(opts)...)
}

func newBoot(eng *engine.WazeroEngine, opts Options) worker.BootFunc {
	defaults := opts.Defaults
	if defaults == nil {
		defaults = loader.DefaultPaths()
	}
	ldr := loader.New(eng, loader.WithLogger(opts.Logger))
	return ldr.BootFunc(defaults, abi.WithLogger(opts.Logger))
}

func workerOptions(opts Options) []worker.Option {
	return []worker.Option{worker.WithLogger(opts.Logger), worker.WithObserver(opts.WorkerObserver)}
}
