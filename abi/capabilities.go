package abi

import (
	"regexp"
	"strings"
	"sync"

	"github.com/tetratelabs/wazero/api"
	"go.bytecodealliance.org/wit"

	"github.com/wippyai/wasm-chess/engine"
	"github.com/wippyai/wasm-chess/errors"
)

// MemoryExport is the name of the linear memory every engine exports.
const MemoryExport = "memory"

// Surface is the engine ABI in WIT notation. Export names are the WIT names
// with dashes replaced by underscores.
const Surface = `
shim-input-ptr: func() -> s32;
shim-input-capacity: func() -> s32;
shim-output-ptr: func() -> s32;
shim-output-capacity: func() -> s32;
shim-last-error: func() -> s32;
shim-side-to-move: func() -> s32;
shim-request-stop: func();
shim-clear-stop: func();
shim-set-position: func() -> s32;
shim-generate-moves: func() -> s32;
shim-best-move: func(depth: s32) -> s32;
shim-is-in-check: func() -> s32;
`

// OptionalSurface lists exports the adapter uses when present.
const OptionalSurface = `
shim-error-message: func(code: s32) -> u32;
`

// Export names used by the adapter.
const (
	fnInputPtr       = "shim_input_ptr"
	fnInputCapacity  = "shim_input_capacity"
	fnOutputPtr      = "shim_output_ptr"
	fnOutputCapacity = "shim_output_capacity"
	fnLastError      = "shim_last_error"
	fnSideToMove     = "shim_side_to_move"
	fnRequestStop    = "shim_request_stop"
	fnClearStop      = "shim_clear_stop"
	fnSetPosition    = "shim_set_position"
	fnGenerateMoves  = "shim_generate_moves"
	fnBestMove       = "shim_best_move"
	fnIsInCheck      = "shim_is_in_check"
	fnErrorMessage   = "shim_error_message"
)

// Capability is one required export. A nil Signature checks presence only.
type Capability struct {
	Signature *engine.Signature
	Name      string
	Memory    bool
}

// Inspector exposes the export surface of a compiled module.
type Inspector interface {
	ExportedFunctions() map[string]engine.Signature
	ExportedMemories() []string
}

var (
	requiredOnce sync.Once
	required     []Capability
	requiredErr  error
)

// Required returns the memory export plus every function in Surface.
func Required() []Capability {
	requiredOnce.Do(func() {
		var funcs []Capability
		funcs, requiredErr = ParseSurface(Surface)
		required = append([]Capability{{Name: MemoryExport, Memory: true}}, funcs...)
	})
	if requiredErr != nil {
		panic(requiredErr)
	}
	return append([]Capability(nil), required...)
}

// RequireNames builds presence-only capabilities. "memory" names the linear
// memory export.
func RequireNames(names ...string) []Capability {
	caps := make([]Capability, len(names))
	for i, name := range names {
		caps[i] = Capability{Name: name, Memory: name == MemoryExport}
	}
	return caps
}

var funcPattern = regexp.MustCompile(`([a-zA-Z_][a-zA-Z0-9_-]*)\s*:\s*func\s*\(([^)]*)\)(?:\s*->\s*([^;]+))?`)

// ParseSurface extracts function capabilities from WIT text, in order.
func ParseSurface(witText string) ([]Capability, error) {
	var caps []Capability

	for _, match := range funcPattern.FindAllStringSubmatch(witText, -1) {
		sig := &engine.Signature{}

		if params := strings.TrimSpace(match[2]); params != "" {
			for _, p := range strings.Split(params, ",") {
				typStr := p
				if idx := strings.LastIndex(p, ":"); idx != -1 {
					typStr = p[idx+1:]
				}
				vt, err := coreType(typStr)
				if err != nil {
					return nil, err
				}
				sig.Params = append(sig.Params, vt)
			}
		}

		if result := strings.TrimSpace(match[3]); result != "" {
			vt, err := coreType(result)
			if err != nil {
				return nil, err
			}
			sig.Results = []api.ValueType{vt}
		}

		caps = append(caps, Capability{
			Name:      strings.ReplaceAll(match[1], "-", "_"),
			Signature: sig,
		})
	}

	if len(caps) == 0 {
		return nil, errors.InvalidInput(errors.PhaseValidate, "no functions found in WIT text")
	}
	return caps, nil
}

// coreType maps a WIT primitive to its flat core value type.
func coreType(s string) (api.ValueType, error) {
	t, err := wit.ParseType(strings.TrimSpace(s))
	if err != nil {
		return 0, errors.Wrap(errors.PhaseValidate, errors.KindInvalidData, err, "parse type "+s)
	}
	switch t.(type) {
	case wit.Bool, wit.S8, wit.U8, wit.S16, wit.U16, wit.S32, wit.U32, wit.Char:
		return api.ValueTypeI32, nil
	case wit.S64, wit.U64:
		return api.ValueTypeI64, nil
	case wit.F32:
		return api.ValueTypeF32, nil
	case wit.F64:
		return api.ValueTypeF64, nil
	default:
		return 0, errors.New(errors.PhaseValidate, errors.KindUnsupported).
			Detail("type %s has no flat core representation", s).
			Build()
	}
}

// Verify checks that mod exports every capability. All offending exports
// are reported in one *errors.MissingCapabilityError.
func Verify(source string, mod Inspector, caps []Capability) error {
	funcs := mod.ExportedFunctions()
	memories := make(map[string]bool)
	for _, name := range mod.ExportedMemories() {
		memories[name] = true
	}

	var missing []errors.Capability
	for _, c := range caps {
		if c.Memory {
			if !memories[c.Name] {
				missing = append(missing, errors.Capability{Name: c.Name})
			}
			continue
		}
		sig, ok := funcs[c.Name]
		if !ok {
			missing = append(missing, errors.Capability{Name: c.Name})
			continue
		}
		if c.Signature != nil && !sig.Equal(*c.Signature) {
			missing = append(missing, errors.Capability{
				Name:   c.Name,
				Reason: "signature " + sig.String() + ", want " + c.Signature.String(),
			})
		}
	}

	if len(missing) == 0 {
		return nil
	}
	return &errors.MissingCapabilityError{Source: source, Capabilities: missing}
}
