package wasm

import (
	"fmt"
	"strings"

	"github.com/wippyai/wasm-contract/wasm/internal/binary"
)

// Class is a set of instruction classes an execution profile can forbid.
// An instruction may belong to several classes (i32.trunc_sat_f32_s is both
// a saturating conversion and a float instruction).
type Class uint16

const (
	ClassFloat Class = 1 << iota
	ClassSIMD
	ClassAtomic
	ClassBulkMemory
	ClassReferenceTypes
	ClassTailCall
	ClassException
	ClassSignExtension
	ClassSaturatingConversion
	ClassMemoryGrow
)

var classNames = []struct {
	name  string
	class Class
}{
	{"float", ClassFloat},
	{"simd", ClassSIMD},
	{"atomic", ClassAtomic},
	{"bulk-memory", ClassBulkMemory},
	{"reference-types", ClassReferenceTypes},
	{"tail-call", ClassTailCall},
	{"exception", ClassException},
	{"sign-extension", ClassSignExtension},
	{"saturating-conversion", ClassSaturatingConversion},
	{"memory-grow", ClassMemoryGrow},
}

// ParseClass returns the class with the given name.
func ParseClass(name string) (Class, bool) {
	for _, c := range classNames {
		if c.name == name {
			return c.class, true
		}
	}
	return 0, false
}

// ClassNames lists every known class name.
func ClassNames() []string {
	out := make([]string, len(classNames))
	for i, c := range classNames {
		out[i] = c.name
	}
	return out
}

// Has reports whether c and o share a class.
func (c Class) Has(o Class) bool {
	return c&o != 0
}

// Names returns the names of every class in c.
func (c Class) Names() []string {
	var out []string
	for _, n := range classNames {
		if c&n.class != 0 {
			out = append(out, n.name)
		}
	}
	return out
}

func (c Class) String() string {
	if c == 0 {
		return "core"
	}
	return strings.Join(c.Names(), "|")
}

// IndexKind tells which index space an instruction's index immediate refers to.
type IndexKind uint8

const (
	IndexNone IndexKind = iota
	IndexFunc
	IndexGlobal
)

// Instruction is one decoded instruction of a code or constant expression stream.
type Instruction struct {
	// Offset is relative to the start of the scanned stream.
	Offset    int
	SubOpcode uint32
	Index     uint32
	Class     Class
	Opcode    byte
	IndexKind IndexKind

	idxStart int
	idxEnd   int
}

// Prefixed reports whether the instruction uses a 0xFC, 0xFD or 0xFE prefix.
func (i Instruction) Prefixed() bool {
	return i.Opcode == OpPrefixMisc || i.Opcode == OpPrefixSIMD || i.Opcode == OpPrefixAtomic
}

// OpcodeString renders the opcode as "0x10" or, for prefixed instructions, "0xfc:8".
func (i Instruction) OpcodeString() string {
	if i.Prefixed() {
		return fmt.Sprintf("0x%02x:%d", i.Opcode, i.SubOpcode)
	}
	return fmt.Sprintf("0x%02x", i.Opcode)
}

// ScanInstructions decodes the instruction stream code and calls fn for every
// instruction in order. The stream must end with the end opcode that closes
// the outermost block. Scanning stops at the first error returned by fn.
func ScanInstructions(code []byte, fn func(Instruction) error) error {
	return scanBody(binary.NewReader(code, 0), fn)
}

// scanBody scans a stream that must end exactly at the outermost end.
func scanBody(r *binary.Reader, fn func(Instruction) error) error {
	if err := scanStream(r, fn); err != nil {
		return err
	}
	if r.Len() > 0 {
		return &binary.ParseError{
			Offset: r.Offset(),
			Err:    fmt.Errorf("%w: %d bytes after final end", ErrInvalidEncoding, r.Len()),
		}
	}
	return nil
}

// scanStream consumes instructions from r until the outermost end.
// The reader may hold trailing data only when it is shared with the
// enclosing section (constant expressions); function bodies are checked by
// the caller.
func scanStream(r *binary.Reader, fn func(Instruction) error) error {
	s := scanner{r: r, start: r.Position()}
	for {
		ins, err := s.next()
		if err != nil {
			return err
		}
		if fn != nil {
			if err := fn(ins); err != nil {
				return err
			}
		}
		if s.depth < 0 {
			return nil
		}
	}
}

type scanner struct {
	r     *binary.Reader
	start int
	depth int
}

func (s *scanner) fail(pos int, format string, args ...any) error {
	return &binary.ParseError{
		Offset: s.r.Offset() - (s.r.Position() - pos),
		Err:    fmt.Errorf("%w: %s", ErrInvalidEncoding, fmt.Sprintf(format, args...)),
	}
}

func (s *scanner) next() (Instruction, error) {
	pos := s.r.Position()
	ins := Instruction{Offset: pos - s.start}
	op, err := s.r.ReadByte()
	if err != nil {
		return ins, err
	}
	ins.Opcode = op
	ins.Class = opcodeClass(op)

	switch op {
	case OpBlock, OpLoop, OpIf, OpTry:
		s.depth++
		_, err = s.r.ReadS64()
	case OpTryTable:
		s.depth++
		err = s.tryTable()
	case OpEnd:
		s.depth--
	case OpDelegate:
		s.depth--
		_, err = s.r.ReadU32()
	case OpBr, OpBrIf, OpCatch, OpThrow, OpRethrow,
		OpLocalGet, OpLocalSet, OpLocalTee, OpTableGet, OpTableSet,
		OpCallRef, OpReturnCallRef, OpBrOnNull, OpBrOnNonNull,
		OpMemorySize, OpMemoryGrow:
		_, err = s.r.ReadU32()
	case OpBrTable:
		err = s.u32Vector(1)
	case OpCall, OpReturnCall, OpRefFunc:
		err = s.index(&ins, IndexFunc)
	case OpGlobalGet, OpGlobalSet:
		err = s.index(&ins, IndexGlobal)
	case OpCallIndirect, OpReturnCallIndirect:
		err = s.u32s(2)
	case OpSelectType:
		err = s.selectTypes()
	case OpI32Const:
		_, err = s.r.ReadS32()
	case OpI64Const, OpRefNull:
		_, err = s.r.ReadS64()
	case OpF32Const:
		_, err = s.r.ReadBytes(4)
	case OpF64Const:
		_, err = s.r.ReadBytes(8)
	case OpPrefixMisc:
		err = s.misc(&ins, pos)
	case OpPrefixSIMD:
		err = s.simd(&ins, pos)
	case OpPrefixAtomic:
		err = s.atomic(&ins, pos)
	default:
		switch {
		case op >= OpI32Load && op <= OpI64Store32:
			err = s.memarg()
		case noImmediate(op):
		default:
			return ins, s.fail(pos, "unknown opcode 0x%02x", op)
		}
	}
	return ins, err
}

func noImmediate(op byte) bool {
	switch op {
	case OpUnreachable, OpNop, OpElse, OpThrowRef, OpReturn, OpCatchAll,
		OpDrop, OpSelect, OpRefIsNull, OpRefAsNonNull:
		return true
	}
	return op >= OpI32Eqz && op <= OpI64Extend32S
}

func (s *scanner) index(ins *Instruction, kind IndexKind) error {
	ins.idxStart = s.r.Position() - s.start
	idx, err := s.r.ReadU32()
	if err != nil {
		return err
	}
	ins.idxEnd = s.r.Position() - s.start
	ins.Index = idx
	ins.IndexKind = kind
	return nil
}

func (s *scanner) u32s(n int) error {
	for i := 0; i < n; i++ {
		if _, err := s.r.ReadU32(); err != nil {
			return err
		}
	}
	return nil
}

func (s *scanner) u32Vector(extra int) error {
	count, err := s.r.ReadU32()
	if err != nil {
		return err
	}
	return s.u32s(int(count) + extra)
}

func (s *scanner) selectTypes() error {
	count, err := s.r.ReadU32()
	if err != nil {
		return err
	}
	_, err = s.r.ReadBytes(int(count))
	return err
}

func (s *scanner) tryTable() error {
	if _, err := s.r.ReadS64(); err != nil {
		return err
	}
	count, err := s.r.ReadU32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		pos := s.r.Position()
		kind, err := s.r.ReadByte()
		if err != nil {
			return err
		}
		switch kind {
		case 0, 1: // catch, catch_ref: tag and label
			err = s.u32s(2)
		case 2, 3: // catch_all, catch_all_ref: label
			err = s.u32s(1)
		default:
			return s.fail(pos, "invalid catch kind %d", kind)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *scanner) memarg() error {
	align, err := s.r.ReadU32()
	if err != nil {
		return err
	}
	// Bit 6 of the alignment field signals an explicit memory index.
	if align&0x40 != 0 {
		if _, err := s.r.ReadU32(); err != nil {
			return err
		}
	}
	_, err = s.r.ReadU64()
	return err
}

func (s *scanner) misc(ins *Instruction, pos int) error {
	sub, err := s.r.ReadU32()
	if err != nil {
		return err
	}
	ins.SubOpcode = sub
	switch {
	case sub <= MiscI64TruncSatF64U:
		ins.Class = ClassSaturatingConversion | ClassFloat
		return nil
	case sub == MiscMemoryInit, sub == MiscMemoryCopy, sub == MiscTableInit, sub == MiscTableCopy:
		ins.Class = ClassBulkMemory
		return s.u32s(2)
	case sub == MiscDataDrop, sub == MiscMemoryFill, sub == MiscElemDrop, sub == MiscMemoryDiscard:
		ins.Class = ClassBulkMemory
		return s.u32s(1)
	case sub >= MiscTableGrow && sub <= MiscTableFill:
		ins.Class = ClassReferenceTypes
		return s.u32s(1)
	}
	return s.fail(pos, "unknown 0xfc sub-opcode %d", sub)
}

func (s *scanner) simd(ins *Instruction, pos int) error {
	sub, err := s.r.ReadU32()
	if err != nil {
		return err
	}
	ins.SubOpcode = sub
	switch {
	case sub <= SimdV128Store, sub == SimdLoad32Zero, sub == SimdLoad64Zero:
		return s.memarg()
	case sub == SimdV128Const, sub == SimdI8x16Shuffle:
		_, err = s.r.ReadBytes(16)
		return err
	case sub >= SimdExtractLaneMin && sub <= SimdReplaceLaneMax:
		_, err = s.r.ReadByte()
		return err
	case sub >= SimdLoadLaneMin && sub <= SimdStoreLaneMax:
		if err := s.memarg(); err != nil {
			return err
		}
		_, err = s.r.ReadByte()
		return err
	case sub <= SimdMaxOpcode:
		return nil
	}
	return s.fail(pos, "unknown 0xfd sub-opcode %d", sub)
}

func (s *scanner) atomic(ins *Instruction, pos int) error {
	sub, err := s.r.ReadU32()
	if err != nil {
		return err
	}
	ins.SubOpcode = sub
	switch {
	case sub == AtomicFence:
		_, err = s.r.ReadByte()
		return err
	case sub <= 0x02, sub >= 0x10 && sub <= AtomicMaxOpcode:
		return s.memarg()
	}
	return s.fail(pos, "unknown 0xfe sub-opcode %d", sub)
}

// opcodeClass classifies single-byte opcodes. Prefixed opcodes are refined
// once the sub-opcode is known.
func opcodeClass(op byte) Class {
	switch {
	case op == OpF32Load, op == OpF64Load, op == OpF32Store, op == OpF64Store,
		op == OpF32Const, op == OpF64Const,
		op >= OpF32Eq && op <= OpF64Ge,
		op >= OpF32Abs && op <= OpF64Copysign,
		op >= OpI32TruncF32S && op <= OpI32TruncF64U,
		op >= OpI64TruncF32S && op <= OpF64ReinterpretI64:
		return ClassFloat
	case op == OpMemoryGrow:
		return ClassMemoryGrow
	case op >= OpI32Extend8S && op <= OpI64Extend32S:
		return ClassSignExtension
	case op == OpReturnCall, op == OpReturnCallIndirect, op == OpReturnCallRef:
		return ClassTailCall
	case op >= OpTry && op <= OpThrowRef, op == OpDelegate, op == OpCatchAll, op == OpTryTable:
		return ClassException
	case op >= OpRefNull && op <= OpBrOnNonNull, op == OpSelectType,
		op == OpTableGet, op == OpTableSet, op == OpCallRef:
		return ClassReferenceTypes
	case op == OpPrefixSIMD:
		return ClassSIMD
	case op == OpPrefixAtomic:
		return ClassAtomic
	}
	return 0
}

// IndexMap maps old function and global indices to new ones. A nil map
// leaves that index space untouched.
type IndexMap struct {
	Funcs   map[uint32]uint32
	Globals map[uint32]uint32
}

// RewriteIndices returns a copy of code with every function index (call,
// return_call, ref.func) and global index (global.get, global.set) remapped.
// All other bytes are copied verbatim, as are indices that map to themselves.
func RewriteIndices(code []byte, remap IndexMap) ([]byte, error) {
	w := binary.NewWriter()
	last := 0
	err := ScanInstructions(code, func(ins Instruction) error {
		var table map[uint32]uint32
		switch ins.IndexKind {
		case IndexFunc:
			table = remap.Funcs
		case IndexGlobal:
			table = remap.Globals
		}
		if table == nil {
			return nil
		}
		idx, ok := table[ins.Index]
		if !ok {
			return fmt.Errorf("%w: no mapping for index %d at offset %d", ErrIndexOutOfRange, ins.Index, ins.Offset)
		}
		if idx == ins.Index {
			return nil
		}
		w.WriteBytes(code[last:ins.idxStart])
		w.WriteU32(idx)
		last = ins.idxEnd
		return nil
	})
	if err != nil {
		return nil, err
	}
	w.WriteBytes(code[last:])
	return w.Bytes(), nil
}
