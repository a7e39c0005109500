// Package testbed assembles small WebAssembly modules in memory for tests.
//
// Imports must be declared before defined functions and globals so the
// indices returned by the builder stay valid.
package testbed

import (
	"slices"

	"github.com/wippyai/wasm-contract/wasm"
)

// Builder collects module entities and produces a *wasm.Module with its
// sections in canonical order.
type Builder struct {
	types    []wasm.FuncType
	imports  []wasm.Import
	funcs    []uint32
	bodies   []wasm.FuncBody
	memories []wasm.MemoryType
	globals  []wasm.Global
	exports  []wasm.Export
	elements []uint32
	customs  []*wasm.CustomSection
	start    *uint32

	importedFuncs   uint32
	importedGlobals uint32
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Sig is shorthand for a function type.
func Sig(params []wasm.ValType, results ...wasm.ValType) wasm.FuncType {
	return wasm.FuncType{Params: params, Results: results}
}

// Void is the () -> () signature.
var Void = wasm.FuncType{}

func (b *Builder) typeIndex(t wasm.FuncType) uint32 {
	for i, existing := range b.types {
		if existing.Equal(t) {
			return uint32(i)
		}
	}
	b.types = append(b.types, t)
	return uint32(len(b.types) - 1)
}

// ImportFunc declares an imported function and returns its function index.
func (b *Builder) ImportFunc(module, name string, t wasm.FuncType) uint32 {
	b.imports = append(b.imports, wasm.Import{
		Module: module,
		Name:   name,
		Desc:   wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: b.typeIndex(t)},
	})
	b.importedFuncs++
	return b.importedFuncs - 1
}

// ImportMemory declares an imported memory.
func (b *Builder) ImportMemory(module, name string, minPages uint64, maxPages *uint64) {
	b.imports = append(b.imports, wasm.Import{
		Module: module,
		Name:   name,
		Desc: wasm.ImportDesc{
			Kind:   wasm.KindMemory,
			Memory: &wasm.MemoryType{Limits: wasm.Limits{Min: minPages, Max: maxPages}},
		},
	})
}

// ImportGlobal declares an imported immutable i32 global and returns its index.
func (b *Builder) ImportGlobal(module, name string) uint32 {
	b.imports = append(b.imports, wasm.Import{
		Module: module,
		Name:   name,
		Desc:   wasm.ImportDesc{Kind: wasm.KindGlobal, Global: &wasm.GlobalType{ValType: wasm.ValI32}},
	})
	b.importedGlobals++
	return b.importedGlobals - 1
}

// Memory defines a memory.
func (b *Builder) Memory(minPages uint64, maxPages *uint64) {
	b.memories = append(b.memories, wasm.MemoryType{Limits: wasm.Limits{Min: minPages, Max: maxPages}})
}

// Func defines a function with the given instruction stream (which must end
// with the end opcode, see Body) and returns its function index.
func (b *Builder) Func(t wasm.FuncType, code []byte, locals ...wasm.LocalEntry) uint32 {
	b.funcs = append(b.funcs, b.typeIndex(t))
	b.bodies = append(b.bodies, wasm.FuncBody{Locals: locals, Code: slices.Clone(code)})
	return b.importedFuncs + uint32(len(b.funcs)-1)
}

// Global defines a mutable i32 global initialised to v and returns its index.
func (b *Builder) Global(v int32) uint32 {
	b.globals = append(b.globals, wasm.Global{
		Type: wasm.GlobalType{ValType: wasm.ValI32, Mutable: true},
		Init: Body(I32Const(v)),
	})
	return b.importedGlobals + uint32(len(b.globals)-1)
}

// Export exports an entity.
func (b *Builder) Export(name string, kind byte, idx uint32) {
	b.exports = append(b.exports, wasm.Export{Name: name, Kind: kind, Index: idx})
}

// ExportFunc exports a function.
func (b *Builder) ExportFunc(name string, idx uint32) {
	b.Export(name, wasm.KindFunc, idx)
}

// Start sets the start function.
func (b *Builder) Start(idx uint32) {
	b.start = &idx
}

// Table places functions in an active element segment of a funcref table.
func (b *Builder) Table(funcs ...uint32) {
	b.elements = append(b.elements, funcs...)
}

// Custom adds a custom section after all other sections.
func (b *Builder) Custom(name string, data []byte) {
	b.customs = append(b.customs, &wasm.CustomSection{Name: name, Data: data})
}

// Module returns the assembled module.
func (b *Builder) Module() *wasm.Module {
	m := &wasm.Module{}
	add := func(s wasm.Section) { m.Sections = append(m.Sections, s) }

	if len(b.types) > 0 {
		add(&wasm.TypeSection{Types: slices.Clone(b.types)})
	}
	if len(b.imports) > 0 {
		add(&wasm.ImportSection{Imports: slices.Clone(b.imports)})
	}
	if len(b.funcs) > 0 {
		add(&wasm.FunctionSection{TypeIndices: slices.Clone(b.funcs)})
	}
	if len(b.elements) > 0 {
		n := uint64(len(b.elements))
		add(&wasm.TableSection{Tables: []wasm.TableType{{
			ElemType: wasm.ValFuncRef,
			Limits:   wasm.Limits{Min: n, Max: &n},
		}}})
	}
	if len(b.memories) > 0 {
		add(&wasm.MemorySection{Memories: slices.Clone(b.memories)})
	}
	if len(b.globals) > 0 {
		add(&wasm.GlobalSection{Globals: slices.Clone(b.globals)})
	}
	if len(b.exports) > 0 {
		add(&wasm.ExportSection{Exports: slices.Clone(b.exports)})
	}
	if b.start != nil {
		add(&wasm.StartSection{FuncIndex: *b.start})
	}
	if len(b.elements) > 0 {
		add(&wasm.ElementSection{Elements: []wasm.Element{{
			Offset:   Body(I32Const(0)),
			FuncIdxs: slices.Clone(b.elements),
		}}})
	}
	if len(b.bodies) > 0 {
		add(&wasm.CodeSection{Bodies: slices.Clone(b.bodies)})
	}
	for _, c := range b.customs {
		add(c)
	}
	return m
}

// Bytes returns the encoded module.
func (b *Builder) Bytes() []byte {
	return b.Module().Encode()
}

// Body concatenates instructions and appends the final end opcode.
func Body(instrs ...[]byte) []byte {
	var out []byte
	for _, in := range instrs {
		out = append(out, in...)
	}
	return append(out, wasm.OpEnd)
}

// Op returns a single-byte instruction.
func Op(op byte) []byte {
	return []byte{op}
}

// Call returns call idx.
func Call(idx uint32) []byte {
	return append([]byte{wasm.OpCall}, uleb(uint64(idx))...)
}

// ReturnCall returns return_call idx.
func ReturnCall(idx uint32) []byte {
	return append([]byte{wasm.OpReturnCall}, uleb(uint64(idx))...)
}

// RefFunc returns ref.func idx.
func RefFunc(idx uint32) []byte {
	return append([]byte{wasm.OpRefFunc}, uleb(uint64(idx))...)
}

// GlobalGet returns global.get idx.
func GlobalGet(idx uint32) []byte {
	return append([]byte{wasm.OpGlobalGet}, uleb(uint64(idx))...)
}

// GlobalSet returns global.set idx.
func GlobalSet(idx uint32) []byte {
	return append([]byte{wasm.OpGlobalSet}, uleb(uint64(idx))...)
}

// I32Const returns i32.const v.
func I32Const(v int32) []byte {
	return append([]byte{wasm.OpI32Const}, sleb(int64(v))...)
}

// F32Const returns f32.const 0.
func F32Const() []byte {
	return []byte{wasm.OpF32Const, 0, 0, 0, 0}
}

// Drop returns drop.
func Drop() []byte {
	return []byte{wasm.OpDrop}
}

func uleb(v uint64) []byte {
	var out []byte
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

func sleb(v int64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

// Pages returns a pointer to n, for memory maximums.
func Pages(n uint64) *uint64 {
	return &n
}
