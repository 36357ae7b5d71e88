package loader

import (
	"os"
	"path/filepath"

	"github.com/wippyai/wasm-chess/errors"
)

// EnvVar names the environment variable holding an engine path.
const EnvVar = "WASMCHESS_ENGINE_PATH"

// EngineFile is the conventional file name of the engine module.
const EngineFile = "sameshi-engine.wasm"

// Source is a module binary, either in memory or at a path.
type Source struct {
	Name  string
	Path  string
	Bytes []byte
}

// Binary returns a source backed by an in-memory image.
func Binary(name string, b []byte) Source {
	return Source{Name: name, Bytes: b}
}

// Path returns a source read from the file system.
func Path(p string) Source {
	return Source{Path: p}
}

func (s Source) String() string {
	switch {
	case s.Path != "":
		return s.Path
	case s.Name != "":
		return s.Name
	default:
		return "<binary>"
	}
}

// Resolve returns the module bytes.
func (s Source) Resolve() ([]byte, error) {
	if s.Bytes != nil {
		return s.Bytes, nil
	}
	if s.Path == "" {
		return nil, errors.InvalidInput(errors.PhaseLoad, "source has neither bytes nor path")
	}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, errors.Load(s.Path, err)
	}
	return data, nil
}

// DefaultPaths returns the conventional engine locations, relative to the
// working directory and then next to the executable.
func DefaultPaths() []string {
	paths := []string{
		filepath.Join("artifacts", "wasm", EngineFile),
		filepath.Join("wasm", EngineFile),
	}
	if exe, err := os.Executable(); err == nil {
		paths = append(paths, filepath.Join(filepath.Dir(exe), EngineFile))
	}
	return paths
}

// Candidates orders path candidates by priority: override, then env, then
// defaults. Empty entries are skipped and duplicates keep their first place.
func Candidates(override, env string, defaults []string) []Source {
	seen := make(map[string]bool)
	var out []Source
	add := func(p string) {
		if p == "" || seen[p] {
			return
		}
		seen[p] = true
		out = append(out, Path(p))
	}

	add(override)
	add(env)
	for _, p := range defaults {
		add(p)
	}
	return out
}
