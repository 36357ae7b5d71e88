package transport

import (
	"context"
	"io"
	"os/exec"
	"sync"

	"go.uber.org/multierr"

	"github.com/wippyai/wasm-chess/errors"
)

// Process is a child process speaking the stream protocol on its stdio.
type Process struct {
	*Stream
	cmd     *exec.Cmd
	waitErr error
	once    sync.Once
}

// Spawn starts name with args. The child reads frames on stdin and writes
// frames on stdout; its stderr goes to stderr when non-nil.
func Spawn(ctx context.Context, stderr io.Writer, name string, args ...string) (*Process, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.Wrap(errors.PhaseBoot, errors.KindInstantiation, err, "stdin pipe")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(errors.PhaseBoot, errors.KindInstantiation, err, "stdout pipe")
	}
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrap(errors.PhaseBoot, errors.KindInstantiation, err, "start "+name)
	}

	return &Process{Stream: NewStream(stdout, stdin), cmd: cmd}, nil
}

// Pid returns the child's process id.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Close closes the child's stdin, which ends a well-behaved worker, and
// waits for it to exit.
func (p *Process) Close() error {
	p.once.Do(func() {
		p.waitErr = multierr.Append(p.Stream.Close(), p.cmd.Wait())
	})
	return p.waitErr
}
