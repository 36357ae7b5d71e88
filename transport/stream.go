package transport

import (
	"bufio"
	"io"
	"sync"

	"go.uber.org/multierr"

	"github.com/wippyai/wasm-chess/errors"
)

// MaxFrameSize bounds one newline-delimited frame.
const MaxFrameSize = 1 << 20

// Stream exchanges newline-delimited frames over a reader and a writer.
type Stream struct {
	r      io.Reader
	w      io.Writer
	slot   handlerSlot
	done   chan struct{}
	err    error
	start  sync.Once
	wmu    sync.Mutex
	closed bool
}

// NewStream creates a stream endpoint. Reading starts with the first
// handler. Close closes r and w when they implement io.Closer.
func NewStream(r io.Reader, w io.Writer) *Stream {
	return &Stream{r: r, w: w, done: make(chan struct{})}
}

func (s *Stream) Post(frame []byte) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if s.closed {
		return errors.Closed(errors.PhaseProtocol, "stream")
	}
	buf := make([]byte, 0, len(frame)+1)
	buf = append(buf, frame...)
	buf = append(buf, '\n')
	if _, err := s.w.Write(buf); err != nil {
		return errors.Wrap(errors.PhaseProtocol, errors.KindClosed, err, "write frame")
	}
	return nil
}

func (s *Stream) SetHandler(h Handler) {
	s.slot.set(h)
	if h != nil {
		s.start.Do(func() { go s.read() })
	}
}

func (s *Stream) read() {
	defer close(s.done)
	sc := bufio.NewScanner(s.r)
	sc.Buffer(make([]byte, 0, 64*1024), MaxFrameSize)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		frame := make([]byte, len(line))
		copy(frame, line)
		s.slot.deliver(frame)
	}
	s.err = sc.Err()
}

// Done is closed when the read side reaches EOF or fails.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Err returns the read error, if any, once Done is closed.
func (s *Stream) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

func (s *Stream) Close() error {
	s.wmu.Lock()
	if s.closed {
		s.wmu.Unlock()
		return nil
	}
	s.closed = true
	s.wmu.Unlock()

	var err error
	if c, ok := s.w.(io.Closer); ok {
		err = multierr.Append(err, c.Close())
	}
	if c, ok := s.r.(io.Closer); ok {
		err = multierr.Append(err, c.Close())
	}
	return err
}
