// Package shimtest builds small core WebAssembly modules for tests.
//
// The encoder covers only what engine ABI tests need: i32 functions with
// constant or memory-touching bodies, one exported memory, function imports
// and active data segments.
package shimtest

// Value types
const (
	I32 byte = 0x7f
	I64 byte = 0x7e
)

// Section ids
const (
	sectionType     = 1
	sectionImport   = 2
	sectionFunction = 3
	sectionMemory   = 5
	sectionExport   = 7
	sectionCode     = 10
	sectionData     = 11
)

const (
	kindFunc   = 0x00
	kindMemory = 0x02
)

// Func is a function definition. Name empty means not exported.
type Func struct {
	Name    string
	Params  []byte
	Results []byte
	Body    []byte // instructions, without the trailing end
}

// Import is an imported function.
type Import struct {
	Module  string
	Name    string
	Params  []byte
	Results []byte
}

// Segment is an active data segment in memory 0.
type Segment struct {
	Data   []byte
	Offset uint32
}

// Module is a buildable core module.
type Module struct {
	MemoryName  string // export name of memory 0, empty to not export
	Imports     []Import
	Funcs       []Func
	Data        []Segment
	MemoryPages uint32 // 0 means no memory
}

type funcType struct {
	params  string
	results string
}

// Encode encodes the module to WebAssembly binary format
func (m *Module) Encode() []byte {
	var types []funcType
	typeIndex := func(params, results []byte) uint32 {
		ft := funcType{params: string(params), results: string(results)}
		for i, t := range types {
			if t == ft {
				return uint32(i)
			}
		}
		types = append(types, ft)
		return uint32(len(types) - 1)
	}

	importTypes := make([]uint32, len(m.Imports))
	for i, imp := range m.Imports {
		importTypes[i] = typeIndex(imp.Params, imp.Results)
	}
	funcTypes := make([]uint32, len(m.Funcs))
	for i, f := range m.Funcs {
		funcTypes[i] = typeIndex(f.Params, f.Results)
	}

	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

	if len(types) > 0 {
		var sec []byte
		sec = AppendU32(sec, uint32(len(types)))
		for _, t := range types {
			sec = append(sec, 0x60)
			sec = appendVec(sec, []byte(t.params))
			sec = appendVec(sec, []byte(t.results))
		}
		out = appendSection(out, sectionType, sec)
	}

	if len(m.Imports) > 0 {
		var sec []byte
		sec = AppendU32(sec, uint32(len(m.Imports)))
		for i, imp := range m.Imports {
			sec = appendName(sec, imp.Module)
			sec = appendName(sec, imp.Name)
			sec = append(sec, kindFunc)
			sec = AppendU32(sec, importTypes[i])
		}
		out = appendSection(out, sectionImport, sec)
	}

	if len(m.Funcs) > 0 {
		var sec []byte
		sec = AppendU32(sec, uint32(len(m.Funcs)))
		for _, idx := range funcTypes {
			sec = AppendU32(sec, idx)
		}
		out = appendSection(out, sectionFunction, sec)
	}

	if m.MemoryPages > 0 {
		var sec []byte
		sec = AppendU32(sec, 1)
		sec = append(sec, 0x00) // limits: min only
		sec = AppendU32(sec, m.MemoryPages)
		out = appendSection(out, sectionMemory, sec)
	}

	var exports []byte
	exportCount := uint32(0)
	if m.MemoryPages > 0 && m.MemoryName != "" {
		exports = appendName(exports, m.MemoryName)
		exports = append(exports, kindMemory)
		exports = AppendU32(exports, 0)
		exportCount++
	}
	for i, f := range m.Funcs {
		if f.Name == "" {
			continue
		}
		exports = appendName(exports, f.Name)
		exports = append(exports, kindFunc)
		exports = AppendU32(exports, uint32(len(m.Imports)+i))
		exportCount++
	}
	if exportCount > 0 {
		sec := AppendU32(nil, exportCount)
		out = appendSection(out, sectionExport, append(sec, exports...))
	}

	if len(m.Funcs) > 0 {
		var sec []byte
		sec = AppendU32(sec, uint32(len(m.Funcs)))
		for _, f := range m.Funcs {
			body := []byte{0x00} // no locals
			body = append(body, f.Body...)
			body = append(body, 0x0b)
			sec = appendVec(sec, body)
		}
		out = appendSection(out, sectionCode, sec)
	}

	if len(m.Data) > 0 {
		var sec []byte
		sec = AppendU32(sec, uint32(len(m.Data)))
		for _, d := range m.Data {
			sec = append(sec, 0x00)
			sec = append(sec, I32Const(int32(d.Offset))...)
			sec = append(sec, 0x0b)
			sec = appendVec(sec, d.Data)
		}
		out = appendSection(out, sectionData, sec)
	}

	return out
}

func appendSection(out []byte, id byte, payload []byte) []byte {
	out = append(out, id)
	return appendVec(out, payload)
}

func appendVec(out []byte, payload []byte) []byte {
	out = AppendU32(out, uint32(len(payload)))
	return append(out, payload...)
}

func appendName(out []byte, name string) []byte {
	return appendVec(out, []byte(name))
}

// AppendU32 appends v as unsigned LEB128
func AppendU32(out []byte, v uint32) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			out = append(out, b|0x80)
			continue
		}
		return append(out, b)
	}
}

// AppendS32 appends v as signed LEB128
func AppendS32(out []byte, v int32) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		done := (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0)
		if done {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

// Instructions

// I32Const pushes v.
func I32Const(v int32) []byte {
	return AppendS32([]byte{0x41}, v)
}

// LocalGet pushes local idx.
func LocalGet(idx uint32) []byte {
	return AppendU32([]byte{0x20}, idx)
}

// I32Load loads from the address on the stack plus offset.
func I32Load(offset uint32) []byte {
	return AppendU32([]byte{0x28, 0x02}, offset)
}

// I32Store stores the top value at the address below it plus offset.
func I32Store(offset uint32) []byte {
	return AppendU32([]byte{0x36, 0x02}, offset)
}

// I32Add adds the two top values.
func I32Add() []byte {
	return []byte{0x6a}
}

// Unreachable traps.
func Unreachable() []byte {
	return []byte{0x00}
}

// Seq concatenates instruction sequences.
func Seq(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
