package metrics

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/wippyai/wasm-chess/client"
	"github.com/wippyai/wasm-chess/internal/enginetest"
	"github.com/wippyai/wasm-chess/protocol"
	"github.com/wippyai/wasm-chess/transport"
	"github.com/wippyai/wasm-chess/worker"
)

func TestCollector_Records(t *testing.T) {
	c := NewCollector(nil)

	c.CallStarted(protocol.MethodBestMove)
	if got := testutil.ToFloat64(c.pending); got != 1 {
		t.Errorf("pending = %v", got)
	}
	c.CancelSent(protocol.MethodBestMove)
	c.CallFinished(protocol.MethodBestMove, protocol.KindCanceled, 10*time.Millisecond)
	c.BootFinished(nil, time.Millisecond)
	c.BootFinished(errors.New("boom"), time.Millisecond)
	c.RequestFinished(protocol.MethodIsInCheck, "ok", time.Millisecond)
	c.SetActiveGames(3)

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"pending", testutil.ToFloat64(c.pending), 0},
		{"canceled calls", testutil.ToFloat64(c.calls.WithLabelValues("bestMove", "canceled")), 1},
		{"cancels", testutil.ToFloat64(c.cancels.WithLabelValues("bestMove")), 1},
		{"boots ok", testutil.ToFloat64(c.boots.WithLabelValues("ok")), 1},
		{"boots failed", testutil.ToFloat64(c.boots.WithLabelValues("failed")), 1},
		{"requests", testutil.ToFloat64(c.requests.WithLabelValues("isInCheck", "ok")), 1},
		{"games", testutil.ToFloat64(c.games), 3},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestCollector_SharedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	if c.Registry() != reg {
		t.Error("registry not kept")
	}

	defer func() {
		if recover() == nil {
			t.Error("registering twice did not panic")
		}
	}()
	NewCollector(reg)
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector(nil)
	c.RequestFinished(protocol.MethodSideToMove, "ok", time.Millisecond)

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `wasmchess_worker_requests_total{method="sideToMove",outcome="ok"} 1`) {
		t.Errorf("metrics output missing request counter:\n%s", body)
	}
}

func TestCollector_ObservesClientAndWorker(t *testing.T) {
	c := NewCollector(nil)
	fake := enginetest.New()

	local, remote := transport.Pipe()
	rt := worker.New(remote, func(context.Context, string) (protocol.Engine, error) {
		return fake, nil
	}, worker.WithObserver(c))
	go rt.Run(context.Background())
	cl := client.New(local, client.WithObserver(c))
	defer func() {
		cl.Dispose()
		rt.Close()
		local.Close()
	}()

	if _, err := cl.SideToMove(context.Background()); err != nil {
		t.Fatalf("SideToMove: %v", err)
	}

	if got := testutil.ToFloat64(c.boots.WithLabelValues("ok")); got != 1 {
		t.Errorf("boots = %v", got)
	}
	if got := testutil.ToFloat64(c.requests.WithLabelValues("sideToMove", "ok")); got != 1 {
		t.Errorf("worker requests = %v", got)
	}
	if got := testutil.ToFloat64(c.calls.WithLabelValues("sideToMove", "ok")); got != 1 {
		t.Errorf("client calls = %v", got)
	}
}
