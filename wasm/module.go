package wasm

// Module is a parsed WebAssembly module: an ordered list of sections.
type Module struct {
	Sections []Section
}

func findSection[T Section](m *Module) T {
	var zero T
	for _, s := range m.Sections {
		if t, ok := s.(T); ok {
			return t
		}
	}
	return zero
}

// TypeSection returns the type section or nil.
func (m *Module) TypeSection() *TypeSection { return findSection[*TypeSection](m) }

// ImportSection returns the import section or nil.
func (m *Module) ImportSection() *ImportSection { return findSection[*ImportSection](m) }

// FunctionSection returns the function section or nil.
func (m *Module) FunctionSection() *FunctionSection { return findSection[*FunctionSection](m) }

// TableSection returns the table section or nil.
func (m *Module) TableSection() *TableSection { return findSection[*TableSection](m) }

// MemorySection returns the memory section or nil.
func (m *Module) MemorySection() *MemorySection { return findSection[*MemorySection](m) }

// GlobalSection returns the global section or nil.
func (m *Module) GlobalSection() *GlobalSection { return findSection[*GlobalSection](m) }

// ExportSection returns the export section or nil.
func (m *Module) ExportSection() *ExportSection { return findSection[*ExportSection](m) }

// StartSection returns the start section or nil.
func (m *Module) StartSection() *StartSection { return findSection[*StartSection](m) }

// ElementSection returns the element section or nil.
func (m *Module) ElementSection() *ElementSection { return findSection[*ElementSection](m) }

// CodeSection returns the code section or nil.
func (m *Module) CodeSection() *CodeSection { return findSection[*CodeSection](m) }

// DataSection returns the data section or nil.
func (m *Module) DataSection() *DataSection { return findSection[*DataSection](m) }

// Types returns the function signatures.
func (m *Module) Types() []FuncType {
	if s := m.TypeSection(); s != nil {
		return s.Types
	}
	return nil
}

// Imports returns the imports.
func (m *Module) Imports() []Import {
	if s := m.ImportSection(); s != nil {
		return s.Imports
	}
	return nil
}

// Functions returns the type index of every defined function.
func (m *Module) Functions() []uint32 {
	if s := m.FunctionSection(); s != nil {
		return s.TypeIndices
	}
	return nil
}

// Memories returns the defined memories.
func (m *Module) Memories() []MemoryType {
	if s := m.MemorySection(); s != nil {
		return s.Memories
	}
	return nil
}

// Tables returns the defined tables.
func (m *Module) Tables() []TableType {
	if s := m.TableSection(); s != nil {
		return s.Tables
	}
	return nil
}

// Globals returns the defined globals.
func (m *Module) Globals() []Global {
	if s := m.GlobalSection(); s != nil {
		return s.Globals
	}
	return nil
}

// Exports returns the exports.
func (m *Module) Exports() []Export {
	if s := m.ExportSection(); s != nil {
		return s.Exports
	}
	return nil
}

// Start returns the start function index.
func (m *Module) Start() (uint32, bool) {
	if s := m.StartSection(); s != nil {
		return s.FuncIndex, true
	}
	return 0, false
}

// Elements returns the element segments.
func (m *Module) Elements() []Element {
	if s := m.ElementSection(); s != nil {
		return s.Elements
	}
	return nil
}

// Bodies returns the function bodies.
func (m *Module) Bodies() []FuncBody {
	if s := m.CodeSection(); s != nil {
		return s.Bodies
	}
	return nil
}

// CustomSections returns every custom section in module order.
func (m *Module) CustomSections() []*CustomSection {
	var out []*CustomSection
	for _, s := range m.Sections {
		if c, ok := s.(*CustomSection); ok {
			out = append(out, c)
		}
	}
	return out
}

// Export returns the export with the given name.
func (m *Module) Export(name string) (Export, bool) {
	for _, e := range m.Exports() {
		if e.Name == name {
			return e, true
		}
	}
	return Export{}, false
}

func (m *Module) countImports(kind byte) int {
	count := 0
	for _, imp := range m.Imports() {
		if imp.Desc.Kind == kind {
			count++
		}
	}
	return count
}

// NumImportedFuncs returns the number of imported functions
func (m *Module) NumImportedFuncs() int { return m.countImports(KindFunc) }

// NumImportedGlobals returns the number of imported globals
func (m *Module) NumImportedGlobals() int { return m.countImports(KindGlobal) }

// NumImportedMemories returns the number of imported memories
func (m *Module) NumImportedMemories() int { return m.countImports(KindMemory) }

// NumImportedTables returns the number of imported tables
func (m *Module) NumImportedTables() int { return m.countImports(KindTable) }

// NumFuncs returns the size of the function index space.
func (m *Module) NumFuncs() int {
	return m.NumImportedFuncs() + len(m.Functions())
}

// NumGlobals returns the size of the global index space.
func (m *Module) NumGlobals() int {
	return m.NumImportedGlobals() + len(m.Globals())
}

// FuncType returns the signature of a function in the function index space.
func (m *Module) FuncType(funcIdx uint32) (FuncType, bool) {
	types := m.Types()
	typeIdx, ok := m.funcTypeIndex(funcIdx)
	if !ok || int(typeIdx) >= len(types) {
		return FuncType{}, false
	}
	return types[typeIdx], true
}

func (m *Module) funcTypeIndex(funcIdx uint32) (uint32, bool) {
	n := funcIdx
	for _, imp := range m.Imports() {
		if imp.Desc.Kind != KindFunc {
			continue
		}
		if n == 0 {
			return imp.Desc.TypeIdx, true
		}
		n--
	}
	funcs := m.Functions()
	if int(n) >= len(funcs) {
		return 0, false
	}
	return funcs[n], true
}

// MemoryLimits returns the limits of every memory in the memory index space,
// imported memories first.
func (m *Module) MemoryLimits() []Limits {
	var out []Limits
	for _, imp := range m.Imports() {
		if imp.Desc.Kind == KindMemory && imp.Desc.Memory != nil {
			out = append(out, imp.Desc.Memory.Limits)
		}
	}
	for _, mem := range m.Memories() {
		out = append(out, mem.Limits)
	}
	return out
}

// Clone returns a deep copy that shares no memory with m.
func (m *Module) Clone() *Module {
	c := &Module{Sections: make([]Section, len(m.Sections))}
	for i, s := range m.Sections {
		c.Sections[i] = s.clone()
	}
	return c
}
