// Package transport carries protocol frames between a client and an engine
// worker.
//
// Every endpoint delivers inbound frames one at a time, in order, on its own
// goroutine. Delivery starts when the first handler is installed, so frames
// that arrive earlier are not lost.
package transport

import "sync/atomic"

// Handler receives one inbound frame. The frame is owned by the handler.
type Handler func(frame []byte)

// Endpoint is one side of a message channel.
type Endpoint interface {
	// Post sends a frame to the peer. It never blocks on the peer's handler.
	Post(frame []byte) error
	// SetHandler atomically replaces the inbound handler. Nil detaches it;
	// frames arriving while detached are dropped.
	SetHandler(h Handler)
	// Close shuts the endpoint down. It is safe to call more than once.
	Close() error
}

type handlerSlot struct {
	h atomic.Pointer[Handler]
}

func (s *handlerSlot) set(h Handler) {
	if h == nil {
		s.h.Store(nil)
		return
	}
	s.h.Store(&h)
}

func (s *handlerSlot) deliver(frame []byte) {
	if h := s.h.Load(); h != nil {
		(*h)(frame)
	}
}
