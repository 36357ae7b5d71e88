package engine

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-chess/errors"
	"github.com/wippyai/wasm-chess/internal/shimtest"
)

func TestNewWazeroEngineWithConfig(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		cfg  *Config
		name string
	}{
		{nil, "nil config"},
		{&Config{}, "default config"},
		{&Config{MemoryLimitPages: 256}, "16MB limit"},
		{&Config{MemoryLimitPages: 1024}, "64MB limit"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			engine, err := NewWazeroEngineWithConfig(ctx, tc.cfg)
			if err != nil {
				t.Fatalf("NewWazeroEngineWithConfig failed: %v", err)
			}
			defer engine.Close(ctx)

			if engine.runtime == nil {
				t.Error("engine runtime should not be nil")
			}
		})
	}
}

func TestWazeroEngine_Close(t *testing.T) {
	ctx := context.Background()

	engine, err := NewWazeroEngine(ctx)
	if err != nil {
		t.Fatalf("NewWazeroEngine failed: %v", err)
	}

	if err := engine.Close(ctx); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestWazeroEngine_CompileInvalid(t *testing.T) {
	ctx := context.Background()
	eng, err := NewWazeroEngine(ctx)
	if err != nil {
		t.Fatalf("NewWazeroEngine: %v", err)
	}
	defer eng.Close(ctx)

	if _, err := eng.Compile(ctx, []byte("not wasm")); err == nil {
		t.Fatal("expected compile error")
	}
}

func TestWazeroEngine_CompileCache(t *testing.T) {
	ctx := context.Background()
	eng, err := NewWazeroEngine(ctx)
	if err != nil {
		t.Fatalf("NewWazeroEngine: %v", err)
	}
	defer eng.Close(ctx)

	bin := shimtest.DefaultShim().Bytes()
	a, err := eng.Compile(ctx, bin)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	b, err := eng.Compile(ctx, bin)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if a != b {
		t.Error("identical binaries should share a compiled module")
	}
}

func TestWazeroModule_ExportedFunctions(t *testing.T) {
	ctx := context.Background()
	eng, err := NewWazeroEngine(ctx)
	if err != nil {
		t.Fatalf("NewWazeroEngine: %v", err)
	}
	defer eng.Close(ctx)

	mod, err := eng.Compile(ctx, shimtest.DefaultShim().Bytes())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	funcs := mod.ExportedFunctions()
	if len(funcs) != 12 {
		t.Errorf("got %d exported functions, want 12", len(funcs))
	}

	tests := []struct {
		name string
		want string
	}{
		{"shim_input_ptr", "() -> (i32)"},
		{"shim_best_move", "(i32) -> (i32)"},
		{"shim_request_stop", "() -> ()"},
	}
	for _, tc := range tests {
		sig, ok := funcs[tc.name]
		if !ok {
			t.Errorf("%s not exported", tc.name)
			continue
		}
		if got := sig.String(); got != tc.want {
			t.Errorf("%s signature = %s, want %s", tc.name, got, tc.want)
		}
	}

	if mems := mod.ExportedMemories(); len(mems) != 1 || mems[0] != "memory" {
		t.Errorf("ExportedMemories = %v, want [memory]", mems)
	}
	if mod.ImportsWASI() {
		t.Error("shim should not import WASI")
	}
}

func TestSignature_Equal(t *testing.T) {
	i32 := api.ValueTypeI32
	a := Signature{Params: []api.ValueType{i32}, Results: []api.ValueType{i32}}
	b := Signature{Params: []api.ValueType{i32}, Results: []api.ValueType{i32}}
	c := Signature{Results: []api.ValueType{i32}}

	if !a.Equal(b) {
		t.Error("equal signatures reported different")
	}
	if a.Equal(c) {
		t.Error("different signatures reported equal")
	}
}

func TestWazeroInstance_CallI32(t *testing.T) {
	ctx := context.Background()
	eng, err := NewWazeroEngine(ctx)
	if err != nil {
		t.Fatalf("NewWazeroEngine: %v", err)
	}
	defer eng.Close(ctx)

	shim := shimtest.DefaultShim()
	shim.BestMoveResult = 7
	mod, err := eng.Compile(ctx, shim.Bytes())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	inst, err := mod.Instantiate(ctx)
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	defer inst.Close(ctx)

	got, err := inst.CallI32(ctx, "shim_best_move", 4)
	if err != nil {
		t.Fatalf("shim_best_move: %v", err)
	}
	if got != 7 {
		t.Errorf("shim_best_move = %d, want 7", got)
	}

	depth, err := inst.Memory().Read(shimtest.DepthAddr, 4)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if depth[0] != 4 {
		t.Errorf("recorded depth = %d, want 4", depth[0])
	}

	if _, err := inst.CallI32(ctx, "shim_request_stop"); err != nil {
		t.Fatalf("shim_request_stop: %v", err)
	}
	stops, _ := inst.Memory().Read(shimtest.StopCountAddr, 1)
	if stops[0] != 1 {
		t.Errorf("stop count = %d, want 1", stops[0])
	}
}

func TestWazeroInstance_MissingFunction(t *testing.T) {
	ctx := context.Background()
	eng, err := NewWazeroEngine(ctx)
	if err != nil {
		t.Fatalf("NewWazeroEngine: %v", err)
	}
	defer eng.Close(ctx)

	mod, err := eng.Compile(ctx, shimtest.DefaultShim().Bytes())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	inst, err := mod.Instantiate(ctx)
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	defer inst.Close(ctx)

	if inst.HasFunction("shim_nope") {
		t.Error("HasFunction reported a missing export")
	}
	_, err = inst.CallI32(ctx, "shim_nope")
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseRuntime, Kind: errors.KindNotFound}) {
		t.Errorf("expected not_found error, got %v", err)
	}
}

func TestWazeroInstance_IndependentState(t *testing.T) {
	ctx := context.Background()
	eng, err := NewWazeroEngine(ctx)
	if err != nil {
		t.Fatalf("NewWazeroEngine: %v", err)
	}
	defer eng.Close(ctx)

	mod, err := eng.Compile(ctx, shimtest.DefaultShim().Bytes())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	a, err := mod.Instantiate(ctx)
	if err != nil {
		t.Fatalf("Instantiate(a): %v", err)
	}
	defer a.Close(ctx)
	b, err := mod.Instantiate(ctx)
	if err != nil {
		t.Fatalf("Instantiate(b): %v", err)
	}
	defer b.Close(ctx)

	if _, err := a.CallI32(ctx, "shim_clear_stop"); err != nil {
		t.Fatalf("shim_clear_stop: %v", err)
	}
	got, _ := b.Memory().Read(shimtest.ClearCountAddr, 1)
	if got[0] != 0 {
		t.Errorf("instance b observed instance a's state: %d", got[0])
	}
}

func TestWazeroInstance_Closed(t *testing.T) {
	ctx := context.Background()
	eng, err := NewWazeroEngine(ctx)
	if err != nil {
		t.Fatalf("NewWazeroEngine: %v", err)
	}
	defer eng.Close(ctx)

	mod, err := eng.Compile(ctx, shimtest.DefaultShim().Bytes())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	inst, err := mod.Instantiate(ctx)
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	if err := inst.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := inst.Close(ctx); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if _, err := inst.CallI32(ctx, "shim_input_ptr"); err == nil {
		t.Error("expected error calling a closed instance")
	}
}

func TestWazeroMemory_Bounds(t *testing.T) {
	ctx := context.Background()
	eng, err := NewWazeroEngine(ctx)
	if err != nil {
		t.Fatalf("NewWazeroEngine: %v", err)
	}
	defer eng.Close(ctx)

	mod, err := eng.Compile(ctx, shimtest.DefaultShim().Bytes())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	inst, err := mod.Instantiate(ctx)
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	defer inst.Close(ctx)

	mem := inst.Memory()
	if mem.Size() != 65536 {
		t.Fatalf("Size = %d, want 65536", mem.Size())
	}
	if err := mem.Write(65530, []byte("0123456789")); err == nil {
		t.Error("expected out of bounds write error")
	}
	if _, err := mem.Read(65535, 2); err == nil {
		t.Error("expected out of bounds read error")
	}
	if err := mem.WriteU8(65535, 1); err != nil {
		t.Errorf("WriteU8 at last byte: %v", err)
	}
}

func TestWazeroEngine_MemoryLimit(t *testing.T) {
	ctx := context.Background()

	eng, err := NewWazeroEngineWithConfig(ctx, &Config{MemoryLimitPages: 1})
	if err != nil {
		t.Fatalf("NewWazeroEngineWithConfig failed: %v", err)
	}
	defer eng.Close(ctx)

	shim := shimtest.DefaultShim()
	shim.MemoryPages = 2
	if _, err := eng.Compile(ctx, shim.Bytes()); err == nil {
		t.Error("expected memory above the limit to be rejected")
	}
}

func TestWazeroModule_InstantiateWithWASI(t *testing.T) {
	ctx := context.Background()
	eng, err := NewWazeroEngine(ctx)
	if err != nil {
		t.Fatalf("NewWazeroEngine: %v", err)
	}
	defer eng.Close(ctx)

	m := shimtest.DefaultShim().Module()
	m.Imports = append(m.Imports, shimtest.Import{
		Module:  WasiModuleName,
		Name:    "proc_exit",
		Params:  []byte{shimtest.I32},
		Results: nil,
	})

	mod, err := eng.Compile(ctx, m.Encode())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !mod.ImportsWASI() {
		t.Fatal("expected WASI import to be detected")
	}

	for i := 0; i < 2; i++ {
		inst, err := mod.Instantiate(ctx)
		if err != nil {
			t.Fatalf("Instantiate #%d: %v", i, err)
		}
		inst.Close(ctx)
	}
}
