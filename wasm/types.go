package wasm

import (
	"slices"
	"strings"
)

// ValType represents a WebAssembly value type.
type ValType byte

func (v ValType) String() string {
	switch v {
	case ValI32:
		return "i32"
	case ValI64:
		return "i64"
	case ValF32:
		return "f32"
	case ValF64:
		return "f64"
	case ValV128:
		return "v128"
	case ValFuncRef:
		return "funcref"
	case ValExternRef:
		return "externref"
	default:
		return "unknown"
	}
}

// IsFloat reports whether v is a floating point value type.
func (v ValType) IsFloat() bool {
	return v == ValF32 || v == ValF64
}

func validValType(b byte) bool {
	switch ValType(b) {
	case ValI32, ValI64, ValF32, ValF64, ValV128, ValFuncRef, ValExternRef:
		return true
	}
	return false
}

// ParseValType parses the textual name of a value type.
func ParseValType(s string) (ValType, bool) {
	for _, v := range []ValType{ValI32, ValI64, ValF32, ValF64, ValV128, ValFuncRef, ValExternRef} {
		if v.String() == s {
			return v, true
		}
	}
	return 0, false
}

// FuncType is a function signature.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

// Equal reports whether both signatures have identical params and results.
func (f FuncType) Equal(o FuncType) bool {
	return slices.Equal(f.Params, o.Params) && slices.Equal(f.Results, o.Results)
}

// String renders the signature as "(i32, i64) -> (i32)".
func (f FuncType) String() string {
	var b strings.Builder
	writeValList(&b, f.Params)
	b.WriteString(" -> ")
	writeValList(&b, f.Results)
	return b.String()
}

func writeValList(b *strings.Builder, vs []ValType) {
	b.WriteByte('(')
	for i, v := range vs {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(v.String())
	}
	b.WriteByte(')')
}

func (f FuncType) clone() FuncType {
	return FuncType{Params: slices.Clone(f.Params), Results: slices.Clone(f.Results)}
}

// Limits describes size constraints for tables and memories.
type Limits struct {
	Max      *uint64
	Min      uint64
	Shared   bool
	Memory64 bool
}

func (l Limits) clone() Limits {
	if l.Max != nil {
		v := *l.Max
		l.Max = &v
	}
	return l
}

// MemoryType describes a linear memory, in 64KiB pages.
type MemoryType struct {
	Limits Limits
}

// TableType describes a table of references.
type TableType struct {
	Limits   Limits
	ElemType ValType
}

// GlobalType describes a global's value type and mutability.
type GlobalType struct {
	ValType ValType
	Mutable bool
}

// TagType describes an exception tag.
type TagType struct {
	Attribute byte
	TypeIdx   uint32
}

// ImportDesc describes an imported item. Exactly one field matching Kind is set.
type ImportDesc struct {
	Table   *TableType
	Memory  *MemoryType
	Global  *GlobalType
	Tag     *TagType
	TypeIdx uint32
	Kind    byte
}

// Import is a named external dependency.
type Import struct {
	Module string
	Name   string
	Desc   ImportDesc
}

// Target returns "module.name".
func (i Import) Target() string {
	return i.Module + "." + i.Name
}

func (i Import) clone() Import {
	d := i.Desc
	if d.Table != nil {
		t := *d.Table
		t.Limits = t.Limits.clone()
		d.Table = &t
	}
	if d.Memory != nil {
		mem := MemoryType{Limits: d.Memory.Limits.clone()}
		d.Memory = &mem
	}
	if d.Global != nil {
		g := *d.Global
		d.Global = &g
	}
	if d.Tag != nil {
		t := *d.Tag
		d.Tag = &t
	}
	i.Desc = d
	return i
}

// Global is a module-defined global with its constant init expression,
// including the terminating end opcode.
type Global struct {
	Init []byte
	Type GlobalType
}

// Export is a named entry point.
type Export struct {
	Name  string
	Kind  byte
	Index uint32
}

// Element is an element segment. Flags select the encoding:
//   - bit 0: passive or declarative (no offset)
//   - bit 1: explicit table index (active) or declarative (passive)
//   - bit 2: elements are expressions instead of function indices
type Element struct {
	Offset   []byte
	FuncIdxs []uint32
	Exprs    [][]byte
	Flags    uint32
	TableIdx uint32
	ElemKind byte
	RefType  ValType
}

// Active reports whether the segment is applied at instantiation.
func (e Element) Active() bool {
	return e.Flags&0x01 == 0
}

func (e Element) clone() Element {
	e.Offset = slices.Clone(e.Offset)
	e.FuncIdxs = slices.Clone(e.FuncIdxs)
	if e.Exprs != nil {
		exprs := make([][]byte, len(e.Exprs))
		for i, x := range e.Exprs {
			exprs[i] = slices.Clone(x)
		}
		e.Exprs = exprs
	}
	return e
}

// LocalEntry declares Count locals of one type.
type LocalEntry struct {
	Count uint32
	Type  ValType
}

// FuncBody holds a function's locals and its instruction stream,
// including the final end opcode.
type FuncBody struct {
	Locals []LocalEntry
	Code   []byte
}

func (b FuncBody) clone() FuncBody {
	return FuncBody{Locals: slices.Clone(b.Locals), Code: slices.Clone(b.Code)}
}

// DataSegment is a data segment. Flags: 0 active memory 0, 1 passive, 2 active with memory index.
type DataSegment struct {
	Offset []byte
	Init   []byte
	Flags  uint32
	MemIdx uint32
}

func (d DataSegment) clone() DataSegment {
	d.Offset = slices.Clone(d.Offset)
	d.Init = slices.Clone(d.Init)
	return d
}
