package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"
)

type collector struct {
	frames chan string
}

func newCollector() *collector {
	return &collector{frames: make(chan string, 256)}
}

func (c *collector) handle(frame []byte) {
	c.frames <- string(frame)
}

func (c *collector) next(t *testing.T) string {
	t.Helper()
	select {
	case f := <-c.frames:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return ""
	}
}

func TestPipe_RoundTrip(t *testing.T) {
	a, b := Pipe()
	defer a.Close()

	ca, cb := newCollector(), newCollector()
	a.SetHandler(ca.handle)
	b.SetHandler(cb.handle)

	if err := a.Post([]byte("ping")); err != nil {
		t.Fatalf("Post: %v", err)
	}
	if got := cb.next(t); got != "ping" {
		t.Errorf("b got %q", got)
	}
	if err := b.Post([]byte("pong")); err != nil {
		t.Fatalf("Post: %v", err)
	}
	if got := ca.next(t); got != "pong" {
		t.Errorf("a got %q", got)
	}
}

func TestPipe_OrderAndEarlyFrames(t *testing.T) {
	a, b := Pipe()
	defer a.Close()

	// Posted before b has a handler; must be delivered, in order.
	for i := 0; i < 100; i++ {
		if err := a.Post([]byte(fmt.Sprint(i))); err != nil {
			t.Fatalf("Post: %v", err)
		}
	}

	cb := newCollector()
	b.SetHandler(cb.handle)
	for i := 0; i < 100; i++ {
		if got := cb.next(t); got != fmt.Sprint(i) {
			t.Fatalf("frame %d = %q", i, got)
		}
	}
}

func TestPipe_PostCopiesFrame(t *testing.T) {
	a, b := Pipe()
	defer a.Close()
	cb := newCollector()
	b.SetHandler(cb.handle)

	buf := []byte("abc")
	a.Post(buf)
	buf[0] = 'x'
	if got := cb.next(t); got != "abc" {
		t.Errorf("got %q", got)
	}
}

func TestPipe_HandlerReplacement(t *testing.T) {
	a, b := Pipe()
	defer a.Close()

	first, second := newCollector(), newCollector()
	b.SetHandler(first.handle)
	a.Post([]byte("one"))
	if got := first.next(t); got != "one" {
		t.Fatalf("got %q", got)
	}

	b.SetHandler(second.handle)
	a.Post([]byte("two"))
	if got := second.next(t); got != "two" {
		t.Fatalf("got %q", got)
	}
	select {
	case f := <-first.frames:
		t.Errorf("replaced handler received %q", f)
	default:
	}
}

func TestPipe_Close(t *testing.T) {
	a, b := Pipe()
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := a.Post([]byte("x")); err == nil {
		t.Error("Post succeeded on closed pipe")
	}
	if err := b.Post([]byte("x")); err == nil {
		t.Error("Post succeeded on closed pipe")
	}
}

func TestStream_ReadFrames(t *testing.T) {
	in := strings.NewReader("one\n\ntwo\nthree")
	s := NewStream(in, io.Discard)
	c := newCollector()
	s.SetHandler(c.handle)

	for _, want := range []string{"one", "two", "three"} {
		if got := c.next(t); got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	}
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not finish at EOF")
	}
	if err := s.Err(); err != nil {
		t.Errorf("Err = %v", err)
	}
}

type lockedBuffer struct {
	buf bytes.Buffer
	mu  sync.Mutex
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestStream_Post(t *testing.T) {
	var out lockedBuffer
	s := NewStream(strings.NewReader(""), &out)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Post([]byte(fmt.Sprintf(`{"id":%d}`, i)))
		}(i)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
	if len(lines) != 20 {
		t.Fatalf("got %d lines", len(lines))
	}
	for _, l := range lines {
		if !strings.HasPrefix(l, `{"id":`) || !strings.HasSuffix(l, "}") {
			t.Errorf("interleaved frame %q", l)
		}
	}

	s.Close()
	if err := s.Post([]byte("x")); err == nil {
		t.Error("Post succeeded after Close")
	}
}

func TestStream_OverPipes(t *testing.T) {
	// client writes to c2w, worker reads it; worker writes to w2c, client reads it
	c2wR, c2wW := io.Pipe()
	w2cR, w2cW := io.Pipe()
	client := NewStream(w2cR, c2wW)
	worker := NewStream(c2wR, w2cW)
	defer client.Close()
	defer worker.Close()

	worker.SetHandler(func(frame []byte) {
		worker.Post(append([]byte("echo:"), frame...))
	})
	c := newCollector()
	client.SetHandler(c.handle)

	client.Post([]byte("hello"))
	if got := c.next(t); got != "echo:hello" {
		t.Errorf("got %q", got)
	}
}

func TestSpawn_Echo(t *testing.T) {
	if _, err := exec.LookPath("cat"); err != nil {
		t.Skip("cat not available")
	}

	p, err := Spawn(context.Background(), nil, "cat")
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if p.Pid() <= 0 {
		t.Errorf("Pid = %d", p.Pid())
	}

	c := newCollector()
	p.SetHandler(c.handle)
	p.Post([]byte(`{"type":"cancel","id":1}`))
	if got := c.next(t); got != `{"type":"cancel","id":1}` {
		t.Errorf("got %q", got)
	}

	if err := p.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
