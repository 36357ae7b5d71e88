package loader

import (
	"context"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-chess/abi"
	"github.com/wippyai/wasm-chess/engine"
	"github.com/wippyai/wasm-chess/errors"
)

// Failure records why one candidate was rejected.
type Failure struct {
	Err    error
	Source string
}

// Result is a successful load.
type Result struct {
	Instance *engine.WazeroInstance
	Source   Source
	Failures []Failure // candidates rejected before Source
}

// LoadError is returned when every candidate failed.
type LoadError struct {
	Err   error // multierr aggregate, one per candidate
	Tried []string
}

func (e *LoadError) Error() string {
	if len(e.Tried) == 0 {
		return "[load] not_found: no module candidates configured"
	}
	return "[load] all module candidates failed (" + strings.Join(e.Tried, ", ") + "): " + e.Err.Error()
}

func (e *LoadError) Unwrap() []error {
	return multierr.Errors(e.Err)
}

// SourcesTried lists the candidates in the order they were attempted.
func (e *LoadError) SourcesTried() []string {
	return e.Tried
}

// Loader turns module sources into verified engine instances.
type Loader struct {
	engine   *engine.WazeroEngine
	logger   *zap.Logger
	required []abi.Capability
}

// Option configures a Loader
type Option func(*Loader)

// WithLogger sets the loader logger
func WithLogger(l *zap.Logger) Option {
	return func(ld *Loader) {
		if l != nil {
			ld.logger = l
		}
	}
}

// WithRequired replaces the capability set checked on every candidate.
func WithRequired(caps []abi.Capability) Option {
	return func(ld *Loader) {
		ld.required = caps
	}
}

// New creates a loader compiling on eng. By default candidates must export
// abi.Required().
func New(eng *engine.WazeroEngine, opts ...Option) *Loader {
	ld := &Loader{
		engine:   eng,
		logger:   zap.NewNop(),
		required: abi.Required(),
	}
	for _, opt := range opts {
		opt(ld)
	}
	return ld
}

// Load tries candidates in order. The first one that resolves, compiles,
// exports every required capability and instantiates wins.
func (l *Loader) Load(ctx context.Context, candidates []Source) (*Result, error) {
	return l.load(ctx, candidates, nil)
}

// Open loads like Load and wraps the instance in an adapter. A candidate
// whose buffer windows are unusable counts as a failed candidate.
func (l *Loader) Open(ctx context.Context, candidates []Source, opts ...abi.Option) (*abi.Adapter, *Result, error) {
	var adapter *abi.Adapter
	res, err := l.load(ctx, candidates, func(inst *engine.WazeroInstance) error {
		mem := inst.Memory()
		if mem == nil {
			return errors.NotFound(errors.PhaseValidate, "memory", abi.MemoryExport)
		}
		a, err := abi.New(ctx, inst, mem, opts...)
		if err != nil {
			return err
		}
		adapter = a
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return adapter, res, nil
}

func (l *Loader) load(ctx context.Context, candidates []Source, accept func(*engine.WazeroInstance) error) (*Result, error) {
	var (
		failures []Failure
		combined error
		tried    []string
	)

	for _, src := range candidates {
		name := src.String()
		tried = append(tried, name)

		inst, err := l.attempt(ctx, src)
		if err == nil && accept != nil {
			if err = accept(inst); err != nil {
				inst.Close(ctx)
			}
		}
		if err != nil {
			l.logger.Debug("module candidate rejected", zap.String("source", name), zap.Error(err))
			failures = append(failures, Failure{Source: name, Err: err})
			combined = multierr.Append(combined, err)
			continue
		}

		l.logger.Info("module loaded",
			zap.String("source", name),
			zap.Int("rejected", len(failures)))
		return &Result{Instance: inst, Source: src, Failures: failures}, nil
	}

	return nil, &LoadError{Err: combined, Tried: tried}
}

func (l *Loader) attempt(ctx context.Context, src Source) (*engine.WazeroInstance, error) {
	name := src.String()

	data, err := src.Resolve()
	if err != nil {
		return nil, err
	}

	mod, err := l.engine.Compile(ctx, data)
	if err != nil {
		return nil, errors.Compile(name, err)
	}

	if err := abi.Verify(name, mod, l.required); err != nil {
		return nil, err
	}

	inst, err := mod.Instantiate(ctx)
	if err != nil {
		return nil, errors.Instantiation(name, err)
	}
	return inst, nil
}
