package loader

import (
	"context"
	"os"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-chess/abi"
	"github.com/wippyai/wasm-chess/protocol"
)

// BootFunc returns the function a worker uses to obtain its engine. The
// source passed by the worker takes priority over EnvVar, which takes
// priority over defaults.
func (l *Loader) BootFunc(defaults []string, opts ...abi.Option) func(ctx context.Context, source string) (protocol.Engine, error) {
	return func(ctx context.Context, source string) (protocol.Engine, error) {
		candidates := Candidates(source, os.Getenv(EnvVar), defaults)
		adapter, res, err := l.Open(ctx, candidates, opts...)
		if err != nil {
			return nil, err
		}
		for _, f := range res.Failures {
			l.logger.Warn("engine candidate skipped", zap.String("source", f.Source), zap.Error(f.Err))
		}
		return adapter, nil
	}
}
