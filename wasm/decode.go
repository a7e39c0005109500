package wasm

import (
	stderrors "errors"
	"fmt"
	"slices"

	"github.com/wippyai/wasm-contract/errors"
	"github.com/wippyai/wasm-contract/wasm/internal/binary"
)

// Parse decodes a WebAssembly binary module.
//
// The input is copied; the returned module does not alias data. Every
// section remembers its exact encoding so Encode reproduces data byte for
// byte. Failures are *errors.Error values in PhaseParse with
// KindMalformedModule, the absolute byte offset of the problem and one of
// the Err* sentinels in their cause chain.
func Parse(data []byte) (*Module, error) {
	d := &decoder{data: slices.Clone(data)}
	m, err := d.parse()
	if err != nil {
		return nil, err
	}
	return m, nil
}

type decoder struct {
	data []byte

	numTypes   uint32
	numFuncs   uint32
	numTables  uint32
	numMems    uint32
	numGlobals uint32
	numTags    uint32

	definedFuncs   uint32
	funcSectionOff int
	hasCode        bool
	dataCount      *uint32
	dataCountOff   int
	hasData        bool
}

// malformed builds a parse error. The section path is filled in by wrap.
func malformed(cause error, offset int, format string, args ...any) *errors.Error {
	if format != "" {
		cause = fmt.Errorf("%w: %s", cause, fmt.Sprintf(format, args...))
	}
	return errors.Malformed(ruleFor(cause), offset, "", cause)
}

// wrap converts reader and scanner failures into parse errors attributed to section.
func wrap(err error, section string) error {
	var e *errors.Error
	if stderrors.As(err, &e) {
		if len(e.Path) == 0 {
			e.Path = []string{section}
		}
		return e
	}
	var pe *binary.ParseError
	if !stderrors.As(err, &pe) {
		return errors.Malformed(ruleFor(err), 0, section, err)
	}
	cause := pe.Err
	switch {
	case stderrors.Is(cause, ErrTruncated) && section != "header":
		// Contents ran past the declared payload size.
		cause = fmt.Errorf("%w: %w", ErrSectionLength, cause)
	case stderrors.Is(cause, binary.ErrInvalidUTF8):
		cause = fmt.Errorf("%w: %w", ErrInvalidEncoding, cause)
	}
	return errors.Malformed(ruleFor(cause), pe.Offset, section, cause)
}

func (d *decoder) parse() (*Module, error) {
	if len(d.data) < 4 || [4]byte(d.data[:4]) != [4]byte{0x00, 'a', 's', 'm'} {
		return nil, wrap(malformed(ErrInvalidMagic, 0, ""), "header")
	}
	if len(d.data) < 8 || [4]byte(d.data[4:8]) != [4]byte{byte(Version), 0, 0, 0} {
		return nil, wrap(malformed(ErrInvalidVersion, 4, ""), "header")
	}

	m := &Module{}
	r := binary.NewReader(d.data, 0)
	if _, err := r.ReadBytes(8); err != nil {
		return nil, wrap(err, "header")
	}

	var lastOrder int
	var lastID byte
	for r.Len() > 0 {
		start := r.Position()
		id, err := r.ReadByte()
		if err != nil {
			return nil, wrap(err, "header")
		}
		name := SectionName(id)
		size, err := r.ReadU32()
		if err != nil {
			return nil, wrap(err, "header")
		}
		if int(size) > r.Len() {
			return nil, wrap(malformed(ErrSectionLength, start,
				"declares %d bytes, %d available", size, r.Len()), name)
		}

		if id != SectionCustom && id <= SectionTag {
			order := sectionOrder(id)
			if order <= lastOrder {
				return nil, wrap(malformed(ErrSectionOrder, start,
					"%s section after %s section", name, SectionName(lastID)), name)
			}
			lastOrder, lastID = order, id
		}

		payloadOff := r.Offset()
		payload, _ := r.ReadBytes(int(size))
		sr := binary.NewReader(payload, payloadOff)

		sec, err := d.section(id, sr)
		if err != nil {
			return nil, wrap(err, name)
		}
		if sr.Len() != 0 {
			return nil, wrap(malformed(ErrSectionLength, sr.Offset(),
				"%d bytes left after section contents", sr.Len()), name)
		}
		sec.setRaw(d.data[start:r.Position()])
		m.Sections = append(m.Sections, sec)
	}

	if d.definedFuncs > 0 && !d.hasCode {
		return nil, wrap(malformed(ErrCountMismatch, d.funcSectionOff,
			"%d functions declared without a code section", d.definedFuncs), "function")
	}
	if d.dataCount != nil && *d.dataCount > 0 && !d.hasData {
		return nil, wrap(malformed(ErrCountMismatch, d.dataCountOff,
			"data count %d without a data section", *d.dataCount), "datacount")
	}
	return m, nil
}

// sectionOrder returns the canonical position of a known non-custom section.
// Tag sits between memory and global; data count precedes code.
func sectionOrder(id byte) int {
	switch id {
	case SectionType:
		return 1
	case SectionImport:
		return 2
	case SectionFunction:
		return 3
	case SectionTable:
		return 4
	case SectionMemory:
		return 5
	case SectionTag:
		return 6
	case SectionGlobal:
		return 7
	case SectionExport:
		return 8
	case SectionStart:
		return 9
	case SectionElement:
		return 10
	case SectionDataCount:
		return 11
	case SectionCode:
		return 12
	case SectionData:
		return 13
	}
	return 0
}

func (d *decoder) section(id byte, r *binary.Reader) (Section, error) {
	switch id {
	case SectionCustom:
		return d.customSection(r)
	case SectionType:
		return d.typeSection(r)
	case SectionImport:
		return d.importSection(r)
	case SectionFunction:
		return d.functionSection(r)
	case SectionTable:
		return d.tableSection(r)
	case SectionMemory:
		return d.memorySection(r)
	case SectionGlobal:
		return d.globalSection(r)
	case SectionExport:
		return d.exportSection(r)
	case SectionStart:
		return d.startSection(r)
	case SectionElement:
		return d.elementSection(r)
	case SectionCode:
		return d.codeSection(r)
	case SectionData:
		return d.dataSection(r)
	case SectionDataCount:
		return d.dataCountSection(r)
	case SectionTag:
		return d.tagSection(r)
	default:
		return &OpaqueSection{SectionID: id, Payload: r.ReadRemaining()}, nil
	}
}

// index reads an index and checks it against the size of its index space.
func (d *decoder) index(r *binary.Reader, limit uint32, space string) (uint32, error) {
	off := r.Offset()
	idx, err := r.ReadU32()
	if err != nil {
		return 0, err
	}
	if idx >= limit {
		return 0, malformed(ErrIndexOutOfRange, off, "%s index %d, %d defined", space, idx, limit)
	}
	return idx, nil
}

// count reads a vector length. Every entry takes at least one byte, so a
// count larger than the remaining payload cannot be satisfied.
func count(r *binary.Reader) (uint32, error) {
	off := r.Offset()
	n, err := r.ReadU32()
	if err != nil {
		return 0, err
	}
	if int(n) > r.Len() {
		return 0, malformed(ErrSectionLength, off, "vector of %d entries in %d bytes", n, r.Len())
	}
	return n, nil
}

func (d *decoder) customSection(r *binary.Reader) (*CustomSection, error) {
	name, err := r.ReadName()
	if err != nil {
		return nil, err
	}
	return &CustomSection{Name: name, Data: r.ReadRemaining()}, nil
}

func (d *decoder) typeSection(r *binary.Reader) (*TypeSection, error) {
	n, err := count(r)
	if err != nil {
		return nil, err
	}
	s := &TypeSection{Types: make([]FuncType, n)}
	for i := range s.Types {
		off := r.Offset()
		form, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if form != FuncTypeByte {
			return nil, malformed(ErrInvalidEncoding, off, "type form 0x%02x, only function types are supported", form)
		}
		if s.Types[i].Params, err = readValTypes(r); err != nil {
			return nil, err
		}
		if s.Types[i].Results, err = readValTypes(r); err != nil {
			return nil, err
		}
	}
	d.numTypes = n
	return s, nil
}

func readValTypes(r *binary.Reader) ([]ValType, error) {
	n, err := count(r)
	if err != nil {
		return nil, err
	}
	types := make([]ValType, n)
	for i := range types {
		t, err := readValType(r)
		if err != nil {
			return nil, err
		}
		types[i] = t
	}
	return types, nil
}

func readValType(r *binary.Reader) (ValType, error) {
	off := r.Offset()
	b, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	if !validValType(b) {
		return 0, malformed(ErrInvalidEncoding, off, "value type 0x%02x", b)
	}
	return ValType(b), nil
}

func (d *decoder) importSection(r *binary.Reader) (*ImportSection, error) {
	n, err := count(r)
	if err != nil {
		return nil, err
	}
	s := &ImportSection{Imports: make([]Import, n)}
	for i := range s.Imports {
		imp := &s.Imports[i]
		if imp.Module, err = r.ReadName(); err != nil {
			return nil, err
		}
		if imp.Name, err = r.ReadName(); err != nil {
			return nil, err
		}
		off := r.Offset()
		kind, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		imp.Desc.Kind = kind
		switch kind {
		case KindFunc:
			if imp.Desc.TypeIdx, err = d.index(r, d.numTypes, "type"); err != nil {
				return nil, err
			}
			d.numFuncs++
		case KindTable:
			t, err := readTableType(r)
			if err != nil {
				return nil, err
			}
			imp.Desc.Table = &t
			d.numTables++
		case KindMemory:
			l, err := readLimits(r)
			if err != nil {
				return nil, err
			}
			imp.Desc.Memory = &MemoryType{Limits: l}
			d.numMems++
		case KindGlobal:
			g, err := readGlobalType(r)
			if err != nil {
				return nil, err
			}
			imp.Desc.Global = &g
			d.numGlobals++
		case KindTag:
			t, err := d.readTagType(r)
			if err != nil {
				return nil, err
			}
			imp.Desc.Tag = &t
			d.numTags++
		default:
			return nil, malformed(ErrInvalidEncoding, off, "import kind 0x%02x", kind)
		}
	}
	return s, nil
}

func (d *decoder) functionSection(r *binary.Reader) (*FunctionSection, error) {
	d.funcSectionOff = r.Offset()
	n, err := count(r)
	if err != nil {
		return nil, err
	}
	s := &FunctionSection{TypeIndices: make([]uint32, n)}
	for i := range s.TypeIndices {
		if s.TypeIndices[i], err = d.index(r, d.numTypes, "type"); err != nil {
			return nil, err
		}
	}
	d.definedFuncs = n
	d.numFuncs += n
	return s, nil
}

func (d *decoder) tableSection(r *binary.Reader) (*TableSection, error) {
	n, err := count(r)
	if err != nil {
		return nil, err
	}
	s := &TableSection{Tables: make([]TableType, n)}
	for i := range s.Tables {
		if s.Tables[i], err = readTableType(r); err != nil {
			return nil, err
		}
	}
	d.numTables += n
	return s, nil
}

func (d *decoder) memorySection(r *binary.Reader) (*MemorySection, error) {
	n, err := count(r)
	if err != nil {
		return nil, err
	}
	s := &MemorySection{Memories: make([]MemoryType, n)}
	for i := range s.Memories {
		if s.Memories[i].Limits, err = readLimits(r); err != nil {
			return nil, err
		}
	}
	d.numMems += n
	return s, nil
}

func (d *decoder) tagSection(r *binary.Reader) (*TagSection, error) {
	n, err := count(r)
	if err != nil {
		return nil, err
	}
	s := &TagSection{Tags: make([]TagType, n)}
	for i := range s.Tags {
		if s.Tags[i], err = d.readTagType(r); err != nil {
			return nil, err
		}
	}
	d.numTags += n
	return s, nil
}

func (d *decoder) globalSection(r *binary.Reader) (*GlobalSection, error) {
	n, err := count(r)
	if err != nil {
		return nil, err
	}
	s := &GlobalSection{Globals: make([]Global, n)}
	for i := range s.Globals {
		if s.Globals[i].Type, err = readGlobalType(r); err != nil {
			return nil, err
		}
		if s.Globals[i].Init, err = d.readConstExpr(r); err != nil {
			return nil, err
		}
		d.numGlobals++
	}
	return s, nil
}

func (d *decoder) exportSection(r *binary.Reader) (*ExportSection, error) {
	n, err := count(r)
	if err != nil {
		return nil, err
	}
	s := &ExportSection{Exports: make([]Export, n)}
	seen := make(map[string]struct{}, n)
	for i := range s.Exports {
		off := r.Offset()
		name, err := r.ReadName()
		if err != nil {
			return nil, err
		}
		if _, dup := seen[name]; dup {
			return nil, malformed(ErrDuplicateExport, off, "%q", name)
		}
		seen[name] = struct{}{}

		kindOff := r.Offset()
		kind, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		var limit uint32
		switch kind {
		case KindFunc:
			limit = d.numFuncs
		case KindTable:
			limit = d.numTables
		case KindMemory:
			limit = d.numMems
		case KindGlobal:
			limit = d.numGlobals
		case KindTag:
			limit = d.numTags
		default:
			return nil, malformed(ErrInvalidEncoding, kindOff, "export kind 0x%02x", kind)
		}
		idx, err := d.index(r, limit, KindName(kind))
		if err != nil {
			return nil, err
		}
		s.Exports[i] = Export{Name: name, Kind: kind, Index: idx}
	}
	return s, nil
}

func (d *decoder) startSection(r *binary.Reader) (*StartSection, error) {
	idx, err := d.index(r, d.numFuncs, "function")
	if err != nil {
		return nil, err
	}
	return &StartSection{FuncIndex: idx}, nil
}

func (d *decoder) elementSection(r *binary.Reader) (*ElementSection, error) {
	n, err := count(r)
	if err != nil {
		return nil, err
	}
	s := &ElementSection{Elements: make([]Element, n)}
	for i := range s.Elements {
		off := r.Offset()
		flags, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		if flags > 7 {
			return nil, malformed(ErrInvalidEncoding, off, "element segment flags %d", flags)
		}
		e := Element{Flags: flags}
		active := flags&0x01 == 0
		explicitTable := flags&0x02 != 0
		usesExprs := flags&0x04 != 0

		if active && explicitTable {
			if e.TableIdx, err = d.index(r, d.numTables, "table"); err != nil {
				return nil, err
			}
		}
		if active {
			if e.Offset, err = d.readConstExpr(r); err != nil {
				return nil, err
			}
		}
		if flags&0x03 != 0 {
			if usesExprs {
				if e.RefType, err = readRefType(r); err != nil {
					return nil, err
				}
			} else {
				kindOff := r.Offset()
				if e.ElemKind, err = r.ReadByte(); err != nil {
					return nil, err
				}
				if e.ElemKind != 0x00 {
					return nil, malformed(ErrInvalidEncoding, kindOff, "element kind 0x%02x", e.ElemKind)
				}
			}
		}

		items, err := count(r)
		if err != nil {
			return nil, err
		}
		if usesExprs {
			e.Exprs = make([][]byte, items)
			for j := range e.Exprs {
				if e.Exprs[j], err = d.readConstExpr(r); err != nil {
					return nil, err
				}
			}
		} else {
			e.FuncIdxs = make([]uint32, items)
			for j := range e.FuncIdxs {
				if e.FuncIdxs[j], err = d.index(r, d.numFuncs, "function"); err != nil {
					return nil, err
				}
			}
		}
		s.Elements[i] = e
	}
	return s, nil
}

func (d *decoder) dataCountSection(r *binary.Reader) (*DataCountSection, error) {
	d.dataCountOff = r.Offset()
	n, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	d.dataCount = &n
	return &DataCountSection{Count: n}, nil
}

func (d *decoder) codeSection(r *binary.Reader) (*CodeSection, error) {
	off := r.Offset()
	n, err := count(r)
	if err != nil {
		return nil, err
	}
	if n != d.definedFuncs {
		return nil, malformed(ErrCountMismatch, off, "%d bodies for %d declared functions", n, d.definedFuncs)
	}
	d.hasCode = true

	s := &CodeSection{Bodies: make([]FuncBody, n)}
	for i := range s.Bodies {
		size, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		bodyOff := r.Offset()
		body, err := r.ReadBytes(int(size))
		if err != nil {
			return nil, err
		}
		if s.Bodies[i], err = d.readBody(binary.NewReader(body, bodyOff)); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (d *decoder) readBody(br *binary.Reader) (FuncBody, error) {
	groups, err := count(br)
	if err != nil {
		return FuncBody{}, err
	}
	var locals []LocalEntry
	var total uint64
	for j := uint32(0); j < groups; j++ {
		off := br.Offset()
		n, err := br.ReadU32()
		if err != nil {
			return FuncBody{}, err
		}
		total += uint64(n)
		if total > 1<<32-1 {
			return FuncBody{}, malformed(ErrInvalidEncoding, off, "too many locals")
		}
		t, err := readValType(br)
		if err != nil {
			return FuncBody{}, err
		}
		locals = append(locals, LocalEntry{Count: n, Type: t})
	}

	codeOff := br.Offset()
	code := br.ReadRemaining()
	err = scanBody(binary.NewReader(code, codeOff), d.checkRefs(codeOff))
	if err != nil {
		return FuncBody{}, err
	}
	return FuncBody{Locals: locals, Code: code}, nil
}

// checkRefs verifies function and global references of an instruction
// stream whose first byte sits at absolute offset base.
func (d *decoder) checkRefs(base int) func(Instruction) error {
	return func(ins Instruction) error {
		switch ins.IndexKind {
		case IndexFunc:
			if ins.Index >= d.numFuncs {
				return malformed(ErrIndexOutOfRange, base+ins.idxStart,
					"function index %d, %d defined", ins.Index, d.numFuncs)
			}
		case IndexGlobal:
			if ins.Index >= d.numGlobals {
				return malformed(ErrIndexOutOfRange, base+ins.idxStart,
					"global index %d, %d defined", ins.Index, d.numGlobals)
			}
		}
		return nil
	}
}

// readConstExpr reads a constant expression up to and including its end opcode.
func (d *decoder) readConstExpr(r *binary.Reader) ([]byte, error) {
	start := r.Position()
	if err := scanStream(r, d.checkRefs(r.Offset())); err != nil {
		return nil, err
	}
	return r.Since(start), nil
}

func (d *decoder) dataSection(r *binary.Reader) (*DataSection, error) {
	off := r.Offset()
	n, err := count(r)
	if err != nil {
		return nil, err
	}
	if d.dataCount != nil && *d.dataCount != n {
		return nil, malformed(ErrCountMismatch, off, "%d segments, data count declares %d", n, *d.dataCount)
	}
	d.hasData = true

	s := &DataSection{Segments: make([]DataSegment, n)}
	for i := range s.Segments {
		flagOff := r.Offset()
		flags, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		if flags > 2 {
			return nil, malformed(ErrInvalidEncoding, flagOff, "data segment flags %d", flags)
		}
		seg := DataSegment{Flags: flags}
		if flags == 2 {
			if seg.MemIdx, err = d.index(r, d.numMems, "memory"); err != nil {
				return nil, err
			}
		}
		if flags != 1 {
			if seg.Offset, err = d.readConstExpr(r); err != nil {
				return nil, err
			}
		}
		size, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		if seg.Init, err = r.ReadBytes(int(size)); err != nil {
			return nil, err
		}
		s.Segments[i] = seg
	}
	return s, nil
}

func readLimits(r *binary.Reader) (Limits, error) {
	off := r.Offset()
	flags, err := r.ReadByte()
	if err != nil {
		return Limits{}, err
	}
	if flags > LimitsHasMax|LimitsShared|LimitsMemory64 {
		return Limits{}, malformed(ErrInvalidEncoding, off, "limits flags 0x%02x", flags)
	}
	l := Limits{
		Shared:   flags&LimitsShared != 0,
		Memory64: flags&LimitsMemory64 != 0,
	}
	read := func() (uint64, error) {
		if l.Memory64 {
			return r.ReadU64()
		}
		v, err := r.ReadU32()
		return uint64(v), err
	}
	if l.Min, err = read(); err != nil {
		return Limits{}, err
	}
	if flags&LimitsHasMax != 0 {
		hi, err := read()
		if err != nil {
			return Limits{}, err
		}
		if l.Min > hi {
			return Limits{}, malformed(ErrInvalidEncoding, off, "limits minimum %d exceeds maximum %d", l.Min, hi)
		}
		l.Max = &hi
	}
	return l, nil
}

func readRefType(r *binary.Reader) (ValType, error) {
	off := r.Offset()
	b, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	if ValType(b) != ValFuncRef && ValType(b) != ValExternRef {
		return 0, malformed(ErrInvalidEncoding, off, "reference type 0x%02x", b)
	}
	return ValType(b), nil
}

func readTableType(r *binary.Reader) (TableType, error) {
	elem, err := readRefType(r)
	if err != nil {
		return TableType{}, err
	}
	l, err := readLimits(r)
	if err != nil {
		return TableType{}, err
	}
	return TableType{ElemType: elem, Limits: l}, nil
}

func readGlobalType(r *binary.Reader) (GlobalType, error) {
	t, err := readValType(r)
	if err != nil {
		return GlobalType{}, err
	}
	off := r.Offset()
	mut, err := r.ReadByte()
	if err != nil {
		return GlobalType{}, err
	}
	if mut > 1 {
		return GlobalType{}, malformed(ErrInvalidEncoding, off, "global mutability 0x%02x", mut)
	}
	return GlobalType{ValType: t, Mutable: mut == 1}, nil
}

func (d *decoder) readTagType(r *binary.Reader) (TagType, error) {
	off := r.Offset()
	attr, err := r.ReadByte()
	if err != nil {
		return TagType{}, err
	}
	if attr != 0 {
		return TagType{}, malformed(ErrInvalidEncoding, off, "tag attribute 0x%02x", attr)
	}
	idx, err := d.index(r, d.numTypes, "type")
	if err != nil {
		return TagType{}, err
	}
	return TagType{Attribute: attr, TypeIdx: idx}, nil
}
