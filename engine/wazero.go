package engine

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	wasmchess "github.com/wippyai/wasm-chess"
	"github.com/wippyai/wasm-chess/errors"
)

// WasiModuleName is the import namespace of WASI preview1.
const WasiModuleName = "wasi_snapshot_preview1"

// WazeroEngine compiles and instantiates engine modules on one wazero runtime.
type WazeroEngine struct {
	runtime      wazero.Runtime
	cache        map[[sha256.Size]byte]*WazeroModule
	cacheMu      sync.Mutex
	wasiInitMu   sync.Mutex
	wasiInitDone atomic.Bool
}

// Config holds configuration for engine creation
type Config struct {
	// MemoryLimitPages sets the maximum memory per instance in pages (64KB each).
	// 0 means default (65536 pages = 4GB).
	// 256 = 16MB, 1024 = 64MB, 4096 = 256MB
	MemoryLimitPages uint32
}

// NewWazeroEngine creates a new wazero-based engine
func NewWazeroEngine(ctx context.Context) (*WazeroEngine, error) {
	return NewWazeroEngineWithConfig(ctx, nil)
}

// NewWazeroEngineWithConfig creates a new engine with custom configuration
func NewWazeroEngineWithConfig(ctx context.Context, cfg *Config) (*WazeroEngine, error) {
	runtimeCfg := wazero.NewRuntimeConfig()

	if cfg != nil && cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}

	runtime := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)
	return &WazeroEngine{
		runtime: runtime,
		cache:   make(map[[sha256.Size]byte]*WazeroModule),
	}, nil
}

// Compile validates and compiles a core module. Identical binaries share one
// compiled module.
func (e *WazeroEngine) Compile(ctx context.Context, wasmBytes []byte) (*WazeroModule, error) {
	key := sha256.Sum256(wasmBytes)

	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()

	if m, ok := e.cache[key]; ok {
		return m, nil
	}

	compiled, err := e.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, fmt.Errorf("compile failed: %w", err)
	}

	m := &WazeroModule{
		engine:   e,
		compiled: compiled,
		hash:     key,
	}
	e.cache[key] = m
	Logger().Debug("module compiled",
		zap.String("sha256", fmt.Sprintf("%x", key[:8])),
		zap.Int("exports", len(compiled.ExportedFunctions())))
	return m, nil
}

func (e *WazeroEngine) Close(ctx context.Context) error {
	e.cacheMu.Lock()
	e.cache = make(map[[sha256.Size]byte]*WazeroModule)
	e.cacheMu.Unlock()
	return e.runtime.Close(ctx)
}

// InitWASI instantiates the WASI preview1 host module for this engine's runtime.
// Safe for concurrent calls from multiple modules sharing the same engine.
func (e *WazeroEngine) InitWASI(ctx context.Context) error {
	if e.wasiInitDone.Load() {
		return nil
	}

	e.wasiInitMu.Lock()
	defer e.wasiInitMu.Unlock()

	if e.wasiInitDone.Load() {
		return nil
	}

	if e.runtime.Module(WasiModuleName) != nil {
		e.wasiInitDone.Store(true)
		return nil
	}

	if _, err := instantiateWASI(ctx, e.runtime); err != nil {
		return fmt.Errorf("instantiate WASI: %w", err)
	}

	e.wasiInitDone.Store(true)
	return nil
}

// Signature is a core function type
type Signature struct {
	Params  []api.ValueType
	Results []api.ValueType
}

// Equal reports whether both signatures have identical types.
func (s Signature) Equal(o Signature) bool {
	return equalTypes(s.Params, o.Params) && equalTypes(s.Results, o.Results)
}

func (s Signature) String() string {
	return "(" + typeNames(s.Params) + ") -> (" + typeNames(s.Results) + ")"
}

func equalTypes(a, b []api.ValueType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func typeNames(ts []api.ValueType) string {
	names := make([]string, len(ts))
	for i, t := range ts {
		names[i] = api.ValueTypeName(t)
	}
	return strings.Join(names, ", ")
}

// WazeroModule is a compiled engine module
type WazeroModule struct {
	engine   *WazeroEngine
	compiled wazero.CompiledModule
	hash     [sha256.Size]byte
}

// ExportedFunctions returns the signature of every exported function.
func (m *WazeroModule) ExportedFunctions() map[string]Signature {
	defs := m.compiled.ExportedFunctions()
	out := make(map[string]Signature, len(defs))
	for name, def := range defs {
		out[name] = Signature{Params: def.ParamTypes(), Results: def.ResultTypes()}
	}
	return out
}

// ExportedMemories returns the names of exported memories.
func (m *WazeroModule) ExportedMemories() []string {
	defs := m.compiled.ExportedMemories()
	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ExportNames returns all export names (functions and memories), sorted.
func (m *WazeroModule) ExportNames() []string {
	names := m.ExportedMemories()
	for name := range m.compiled.ExportedFunctions() {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ImportsWASI reports whether the module imports any WASI preview1 function.
func (m *WazeroModule) ImportsWASI() bool {
	for _, def := range m.compiled.ImportedFunctions() {
		if mod, _, ok := def.Import(); ok && mod == WasiModuleName {
			return true
		}
	}
	return false
}

// Instantiate creates a fresh instance. Every instance has its own linear
// memory and module state.
func (m *WazeroModule) Instantiate(ctx context.Context) (*WazeroInstance, error) {
	if m.ImportsWASI() {
		if err := m.engine.InitWASI(ctx); err != nil {
			return nil, err
		}
	}

	modConfig := wazero.NewModuleConfig().
		WithName(""). // anonymous for parallel instantiation
		WithStartFunctions("_initialize").
		WithStdout(&logWriter{stream: "stdout"}).
		WithStderr(&logWriter{stream: "stderr"})

	instance, err := m.engine.runtime.InstantiateModule(ctx, m.compiled, modConfig)
	if err != nil {
		return nil, fmt.Errorf("instantiate failed: %w", err)
	}

	inst := &WazeroInstance{
		instance:  instance,
		funcCache: make(map[string]api.Function),
	}
	if mem := instance.ExportedMemory("memory"); mem != nil {
		inst.memory = &WazeroMemory{mem: mem}
	}
	return inst, nil
}

// WazeroInstance is a running engine module.
type WazeroInstance struct {
	instance  api.Module
	memory    *WazeroMemory
	funcCache map[string]api.Function
	cacheMu   sync.RWMutex
	closed    atomic.Bool
}

// Memory returns the exported "memory", or nil when absent.
func (i *WazeroInstance) Memory() *WazeroMemory {
	return i.memory
}

// HasFunction reports whether name is an exported function.
func (i *WazeroInstance) HasFunction(name string) bool {
	return i.function(name) != nil
}

func (i *WazeroInstance) function(name string) api.Function {
	i.cacheMu.RLock()
	fn, ok := i.funcCache[name]
	i.cacheMu.RUnlock()
	if ok {
		return fn
	}

	fn = i.instance.ExportedFunction(name)
	if fn == nil {
		return nil
	}

	i.cacheMu.Lock()
	i.funcCache[name] = fn
	i.cacheMu.Unlock()
	return fn
}

// Call invokes an exported function with raw wasm values.
func (i *WazeroInstance) Call(ctx context.Context, name string, params ...uint64) ([]uint64, error) {
	if i.closed.Load() {
		return nil, errors.Closed(errors.PhaseRuntime, "instance")
	}
	fn := i.function(name)
	if fn == nil {
		return nil, errors.NotFound(errors.PhaseRuntime, "function", name)
	}
	return fn.Call(ctx, params...)
}

// CallI32 invokes an export taking and returning i32 values. Functions with
// no results return 0.
func (i *WazeroInstance) CallI32(ctx context.Context, name string, params ...int32) (int32, error) {
	raw := make([]uint64, len(params))
	for n, p := range params {
		raw[n] = api.EncodeI32(p)
	}
	results, err := i.Call(ctx, name, raw...)
	if err != nil {
		return 0, err
	}
	if len(results) == 0 {
		return 0, nil
	}
	return api.DecodeI32(results[0]), nil
}

func (i *WazeroInstance) Close(ctx context.Context) error {
	if !i.closed.CompareAndSwap(false, true) {
		return nil
	}
	i.cacheMu.Lock()
	i.funcCache = nil
	i.cacheMu.Unlock()
	return i.instance.Close(ctx)
}

// WazeroMemory wraps wazero memory to implement wasmchess.Memory
type WazeroMemory struct {
	mem api.Memory
}

// Read returns a copy of length bytes at offset.
func (m *WazeroMemory) Read(offset uint32, length uint32) ([]byte, error) {
	data, ok := m.mem.Read(offset, length)
	if !ok {
		return nil, errors.OutOfBounds(errors.PhaseMarshal, offset, length, m.mem.Size())
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (m *WazeroMemory) Write(offset uint32, data []byte) error {
	if !m.mem.Write(offset, data) {
		return errors.OutOfBounds(errors.PhaseMarshal, offset, uint32(len(data)), m.mem.Size())
	}
	return nil
}

func (m *WazeroMemory) WriteU8(offset uint32, value uint8) error {
	if !m.mem.WriteByte(offset, value) {
		return errors.OutOfBounds(errors.PhaseMarshal, offset, 1, m.mem.Size())
	}
	return nil
}

func (m *WazeroMemory) Size() uint32 {
	if m.mem == nil {
		return 0
	}
	return m.mem.Size()
}

// Compile-time check that WazeroMemory implements wasmchess.Memory and MemorySizer
var _ wasmchess.Memory = (*WazeroMemory)(nil)
var _ wasmchess.MemorySizer = (*WazeroMemory)(nil)
