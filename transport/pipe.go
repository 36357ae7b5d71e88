package transport

import (
	"context"
	"sync"

	"github.com/wippyai/wasm-chess/errors"
	"github.com/wippyai/wasm-chess/internal/mailbox"
)

// Port is one end of an in-process pipe.
type Port struct {
	inbox *mailbox.Mailbox[[]byte]
	peer  *Port
	pair  *pipeState
	slot  handlerSlot
	start sync.Once
}

type pipeState struct {
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

// Pipe returns two connected ports. A frame posted on one is delivered to
// the other's handler on that port's own goroutine.
func Pipe() (*Port, *Port) {
	ctx, cancel := context.WithCancel(context.Background())
	state := &pipeState{ctx: ctx, cancel: cancel}
	a := &Port{inbox: mailbox.New[[]byte](), pair: state}
	b := &Port{inbox: mailbox.New[[]byte](), pair: state}
	a.peer, b.peer = b, a
	return a, b
}

func (p *Port) Post(frame []byte) error {
	buf := make([]byte, len(frame))
	copy(buf, frame)
	if p.pair.ctx.Err() != nil || !p.peer.inbox.Put(buf) {
		return errors.Closed(errors.PhaseProtocol, "pipe")
	}
	return nil
}

func (p *Port) SetHandler(h Handler) {
	p.slot.set(h)
	if h != nil {
		p.start.Do(func() { go p.dispatch() })
	}
}

func (p *Port) dispatch() {
	for {
		frame, ok := p.inbox.Get(p.pair.ctx)
		if !ok {
			return
		}
		p.slot.deliver(frame)
	}
}

// Close closes both ends of the pipe. Undelivered frames are discarded.
func (p *Port) Close() error {
	p.pair.once.Do(func() {
		p.pair.cancel()
		p.inbox.Close()
		p.peer.inbox.Close()
	})
	return nil
}
