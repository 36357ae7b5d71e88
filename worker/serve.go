package worker

import (
	"context"
	"errors"

	"github.com/wippyai/wasm-chess/transport"
)

// Serve runs a runtime on endpoint until ctx is done or, for stream
// endpoints, the peer closes its side.
func Serve(ctx context.Context, endpoint transport.Endpoint, boot BootFunc, opts ...Option) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rt := New(endpoint, boot, opts...)
	if s, ok := endpoint.(interface{ Done() <-chan struct{} }); ok {
		go func() {
			select {
			case <-s.Done():
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	if err := rt.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
