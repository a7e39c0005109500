package wasm

import (
	"slices"

	"github.com/wippyai/wasm-contract/wasm/internal/binary"
)

// Section is one variant of the closed set of module sections.
//
// Sections returned by Parse remember their exact encoding and Encode
// re-emits it verbatim. Sections built in code (or by transforms) carry no
// encoding and are serialized canonically. Treat parsed sections as values:
// build a new section instead of editing fields of a parsed one.
type Section interface {
	// ID returns the binary section id.
	ID() byte

	// Raw returns the original encoding (id, size and payload) or nil.
	Raw() []byte

	encodePayload(w *binary.Writer)
	setRaw(raw []byte)
	clone() Section
}

type encoding struct {
	raw []byte
}

func (e encoding) Raw() []byte { return e.raw }

func (e *encoding) setRaw(raw []byte) { e.raw = raw }

func (e encoding) copy() encoding { return encoding{raw: slices.Clone(e.raw)} }

// TypeSection holds function signatures.
type TypeSection struct {
	encoding
	Types []FuncType
}

func (*TypeSection) ID() byte { return SectionType }

func (s *TypeSection) clone() Section {
	types := make([]FuncType, len(s.Types))
	for i, t := range s.Types {
		types[i] = t.clone()
	}
	return &TypeSection{encoding: s.copy(), Types: types}
}

// ImportSection holds imports.
type ImportSection struct {
	encoding
	Imports []Import
}

func (*ImportSection) ID() byte { return SectionImport }

func (s *ImportSection) clone() Section {
	imports := make([]Import, len(s.Imports))
	for i, imp := range s.Imports {
		imports[i] = imp.clone()
	}
	return &ImportSection{encoding: s.copy(), Imports: imports}
}

// FunctionSection holds the type index of every defined function.
type FunctionSection struct {
	encoding
	TypeIndices []uint32
}

func (*FunctionSection) ID() byte { return SectionFunction }

func (s *FunctionSection) clone() Section {
	return &FunctionSection{encoding: s.copy(), TypeIndices: slices.Clone(s.TypeIndices)}
}

// TableSection holds defined tables.
type TableSection struct {
	encoding
	Tables []TableType
}

func (*TableSection) ID() byte { return SectionTable }

func (s *TableSection) clone() Section {
	tables := make([]TableType, len(s.Tables))
	for i, t := range s.Tables {
		t.Limits = t.Limits.clone()
		tables[i] = t
	}
	return &TableSection{encoding: s.copy(), Tables: tables}
}

// MemorySection holds defined memories.
type MemorySection struct {
	encoding
	Memories []MemoryType
}

func (*MemorySection) ID() byte { return SectionMemory }

func (s *MemorySection) clone() Section {
	mems := make([]MemoryType, len(s.Memories))
	for i, m := range s.Memories {
		mems[i] = MemoryType{Limits: m.Limits.clone()}
	}
	return &MemorySection{encoding: s.copy(), Memories: mems}
}

// GlobalSection holds defined globals.
type GlobalSection struct {
	encoding
	Globals []Global
}

func (*GlobalSection) ID() byte { return SectionGlobal }

func (s *GlobalSection) clone() Section {
	globals := make([]Global, len(s.Globals))
	for i, g := range s.Globals {
		globals[i] = Global{Type: g.Type, Init: slices.Clone(g.Init)}
	}
	return &GlobalSection{encoding: s.copy(), Globals: globals}
}

// ExportSection holds exports.
type ExportSection struct {
	encoding
	Exports []Export
}

func (*ExportSection) ID() byte { return SectionExport }

func (s *ExportSection) clone() Section {
	return &ExportSection{encoding: s.copy(), Exports: slices.Clone(s.Exports)}
}

// StartSection names the start function.
type StartSection struct {
	encoding
	FuncIndex uint32
}

func (*StartSection) ID() byte { return SectionStart }

func (s *StartSection) clone() Section {
	c := *s
	c.encoding = s.copy()
	return &c
}

// ElementSection holds element segments.
type ElementSection struct {
	encoding
	Elements []Element
}

func (*ElementSection) ID() byte { return SectionElement }

func (s *ElementSection) clone() Section {
	elems := make([]Element, len(s.Elements))
	for i, e := range s.Elements {
		elems[i] = e.clone()
	}
	return &ElementSection{encoding: s.copy(), Elements: elems}
}

// DataCountSection declares the number of data segments.
type DataCountSection struct {
	encoding
	Count uint32
}

func (*DataCountSection) ID() byte { return SectionDataCount }

func (s *DataCountSection) clone() Section {
	c := *s
	c.encoding = s.copy()
	return &c
}

// CodeSection holds the bodies of defined functions.
type CodeSection struct {
	encoding
	Bodies []FuncBody
}

func (*CodeSection) ID() byte { return SectionCode }

func (s *CodeSection) clone() Section {
	bodies := make([]FuncBody, len(s.Bodies))
	for i, b := range s.Bodies {
		bodies[i] = b.clone()
	}
	return &CodeSection{encoding: s.copy(), Bodies: bodies}
}

// DataSection holds data segments.
type DataSection struct {
	encoding
	Segments []DataSegment
}

func (*DataSection) ID() byte { return SectionData }

func (s *DataSection) clone() Section {
	segs := make([]DataSegment, len(s.Segments))
	for i, d := range s.Segments {
		segs[i] = d.clone()
	}
	return &DataSection{encoding: s.copy(), Segments: segs}
}

// TagSection holds exception tags.
type TagSection struct {
	encoding
	Tags []TagType
}

func (*TagSection) ID() byte { return SectionTag }

func (s *TagSection) clone() Section {
	return &TagSection{encoding: s.copy(), Tags: slices.Clone(s.Tags)}
}

// CustomSection is a named section with an uninterpreted payload.
type CustomSection struct {
	encoding
	Name string
	Data []byte
}

func (*CustomSection) ID() byte { return SectionCustom }

func (s *CustomSection) clone() Section {
	return &CustomSection{encoding: s.copy(), Name: s.Name, Data: slices.Clone(s.Data)}
}

// OpaqueSection preserves a section with an id this package does not know.
type OpaqueSection struct {
	encoding
	Payload   []byte
	SectionID byte
}

func (s *OpaqueSection) ID() byte { return s.SectionID }

func (s *OpaqueSection) clone() Section {
	return &OpaqueSection{encoding: s.copy(), SectionID: s.SectionID, Payload: slices.Clone(s.Payload)}
}
