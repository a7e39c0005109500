package wasm

import (
	"github.com/wippyai/wasm-contract/wasm/internal/binary"
)

// Encode encodes the module to WebAssembly binary format.
// Parsed sections are emitted from their original encoding; all others are
// encoded canonically.
func (m *Module) Encode() []byte {
	w := binary.NewWriter()
	w.WriteU32LE(Magic)
	w.WriteU32LE(Version)
	for _, s := range m.Sections {
		if raw := s.Raw(); raw != nil {
			w.WriteBytes(raw)
			continue
		}
		writeSection(w, s)
	}
	return w.Bytes()
}

// EncodeSection returns the canonical encoding (id, size, payload) of s,
// ignoring any remembered original encoding.
func EncodeSection(s Section) []byte {
	w := binary.NewWriter()
	writeSection(w, s)
	return w.Bytes()
}

func writeSection(w *binary.Writer, s Section) {
	payload := binary.NewWriter()
	s.encodePayload(payload)
	w.Byte(s.ID())
	w.WriteU32(uint32(payload.Len()))
	w.WriteBytes(payload.Bytes())
}

func (s *TypeSection) encodePayload(w *binary.Writer) {
	w.WriteU32(uint32(len(s.Types)))
	for _, t := range s.Types {
		w.Byte(FuncTypeByte)
		writeValTypes(w, t.Params)
		writeValTypes(w, t.Results)
	}
}

func (s *ImportSection) encodePayload(w *binary.Writer) {
	w.WriteU32(uint32(len(s.Imports)))
	for _, imp := range s.Imports {
		w.WriteName(imp.Module)
		w.WriteName(imp.Name)
		w.Byte(imp.Desc.Kind)
		switch imp.Desc.Kind {
		case KindFunc:
			w.WriteU32(imp.Desc.TypeIdx)
		case KindTable:
			writeTableType(w, derefOr(imp.Desc.Table, TableType{ElemType: ValFuncRef}))
		case KindMemory:
			writeLimits(w, derefOr(imp.Desc.Memory, MemoryType{}).Limits)
		case KindGlobal:
			writeGlobalType(w, derefOr(imp.Desc.Global, GlobalType{ValType: ValI32}))
		case KindTag:
			writeTagType(w, derefOr(imp.Desc.Tag, TagType{}))
		}
	}
}

func derefOr[T any](p *T, def T) T {
	if p == nil {
		return def
	}
	return *p
}

func (s *FunctionSection) encodePayload(w *binary.Writer) {
	w.WriteU32(uint32(len(s.TypeIndices)))
	for _, idx := range s.TypeIndices {
		w.WriteU32(idx)
	}
}

func (s *TableSection) encodePayload(w *binary.Writer) {
	w.WriteU32(uint32(len(s.Tables)))
	for _, t := range s.Tables {
		writeTableType(w, t)
	}
}

func (s *MemorySection) encodePayload(w *binary.Writer) {
	w.WriteU32(uint32(len(s.Memories)))
	for _, m := range s.Memories {
		writeLimits(w, m.Limits)
	}
}

func (s *GlobalSection) encodePayload(w *binary.Writer) {
	w.WriteU32(uint32(len(s.Globals)))
	for _, g := range s.Globals {
		writeGlobalType(w, g.Type)
		w.WriteBytes(g.Init)
	}
}

func (s *ExportSection) encodePayload(w *binary.Writer) {
	w.WriteU32(uint32(len(s.Exports)))
	for _, e := range s.Exports {
		w.WriteName(e.Name)
		w.Byte(e.Kind)
		w.WriteU32(e.Index)
	}
}

func (s *StartSection) encodePayload(w *binary.Writer) {
	w.WriteU32(s.FuncIndex)
}

func (s *ElementSection) encodePayload(w *binary.Writer) {
	w.WriteU32(uint32(len(s.Elements)))
	for _, e := range s.Elements {
		w.WriteU32(e.Flags)
		active := e.Flags&0x01 == 0
		if active && e.Flags&0x02 != 0 {
			w.WriteU32(e.TableIdx)
		}
		if active {
			w.WriteBytes(e.Offset)
		}
		usesExprs := e.Flags&0x04 != 0
		if e.Flags&0x03 != 0 {
			if usesExprs {
				w.Byte(byte(e.RefType))
			} else {
				w.Byte(e.ElemKind)
			}
		}
		if usesExprs {
			w.WriteU32(uint32(len(e.Exprs)))
			for _, expr := range e.Exprs {
				w.WriteBytes(expr)
			}
		} else {
			w.WriteU32(uint32(len(e.FuncIdxs)))
			for _, idx := range e.FuncIdxs {
				w.WriteU32(idx)
			}
		}
	}
}

func (s *DataCountSection) encodePayload(w *binary.Writer) {
	w.WriteU32(s.Count)
}

func (s *CodeSection) encodePayload(w *binary.Writer) {
	w.WriteU32(uint32(len(s.Bodies)))
	for _, b := range s.Bodies {
		body := binary.NewWriter()
		body.WriteU32(uint32(len(b.Locals)))
		for _, l := range b.Locals {
			body.WriteU32(l.Count)
			body.Byte(byte(l.Type))
		}
		body.WriteBytes(b.Code)
		w.WriteU32(uint32(body.Len()))
		w.WriteBytes(body.Bytes())
	}
}

func (s *DataSection) encodePayload(w *binary.Writer) {
	w.WriteU32(uint32(len(s.Segments)))
	for _, d := range s.Segments {
		w.WriteU32(d.Flags)
		if d.Flags == 2 {
			w.WriteU32(d.MemIdx)
		}
		if d.Flags != 1 {
			w.WriteBytes(d.Offset)
		}
		w.WriteU32(uint32(len(d.Init)))
		w.WriteBytes(d.Init)
	}
}

func (s *TagSection) encodePayload(w *binary.Writer) {
	w.WriteU32(uint32(len(s.Tags)))
	for _, t := range s.Tags {
		writeTagType(w, t)
	}
}

func (s *CustomSection) encodePayload(w *binary.Writer) {
	w.WriteName(s.Name)
	w.WriteBytes(s.Data)
}

func (s *OpaqueSection) encodePayload(w *binary.Writer) {
	w.WriteBytes(s.Payload)
}

func writeValTypes(w *binary.Writer, types []ValType) {
	w.WriteU32(uint32(len(types)))
	for _, t := range types {
		w.Byte(byte(t))
	}
}

func writeLimits(w *binary.Writer, l Limits) {
	var flags byte
	if l.Max != nil {
		flags |= LimitsHasMax
	}
	if l.Shared {
		flags |= LimitsShared
	}
	if l.Memory64 {
		flags |= LimitsMemory64
	}
	w.Byte(flags)
	w.WriteU64(l.Min)
	if l.Max != nil {
		w.WriteU64(*l.Max)
	}
}

func writeTableType(w *binary.Writer, t TableType) {
	w.Byte(byte(t.ElemType))
	writeLimits(w, t.Limits)
}

func writeGlobalType(w *binary.Writer, g GlobalType) {
	w.Byte(byte(g.ValType))
	if g.Mutable {
		w.Byte(1)
	} else {
		w.Byte(0)
	}
}

func writeTagType(w *binary.Writer, t TagType) {
	w.Byte(t.Attribute)
	w.WriteU32(t.TypeIdx)
}
