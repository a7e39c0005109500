package wasm

// Binary header.
const (
	// Magic is "\0asm" read as a little-endian uint32.
	Magic uint32 = 0x6D736100

	// Version is the only binary format version accepted by Parse.
	Version uint32 = 0x01
)

// Section IDs. Known sections must appear in canonical order (see sectionOrder);
// custom sections may appear anywhere.
const (
	SectionCustom    byte = 0
	SectionType      byte = 1
	SectionImport    byte = 2
	SectionFunction  byte = 3
	SectionTable     byte = 4
	SectionMemory    byte = 5
	SectionGlobal    byte = 6
	SectionExport    byte = 7
	SectionStart     byte = 8
	SectionElement   byte = 9
	SectionCode      byte = 10
	SectionData      byte = 11
	SectionDataCount byte = 12
	SectionTag       byte = 13
)

// SectionName returns the lowercase name of a section ID.
func SectionName(id byte) string {
	switch id {
	case SectionCustom:
		return "custom"
	case SectionType:
		return "type"
	case SectionImport:
		return "import"
	case SectionFunction:
		return "function"
	case SectionTable:
		return "table"
	case SectionMemory:
		return "memory"
	case SectionGlobal:
		return "global"
	case SectionExport:
		return "export"
	case SectionStart:
		return "start"
	case SectionElement:
		return "element"
	case SectionCode:
		return "code"
	case SectionData:
		return "data"
	case SectionDataCount:
		return "datacount"
	case SectionTag:
		return "tag"
	default:
		return "unknown"
	}
}

// Import/export descriptor kinds.
const (
	KindFunc   byte = 0
	KindTable  byte = 1
	KindMemory byte = 2
	KindGlobal byte = 3
	KindTag    byte = 4
)

// KindName returns the name used for an import/export kind in reports and profiles.
func KindName(kind byte) string {
	switch kind {
	case KindFunc:
		return "func"
	case KindTable:
		return "table"
	case KindMemory:
		return "memory"
	case KindGlobal:
		return "global"
	case KindTag:
		return "tag"
	default:
		return "unknown"
	}
}

// ParseKind is the inverse of KindName.
func ParseKind(name string) (byte, bool) {
	switch name {
	case "func", "function":
		return KindFunc, true
	case "table":
		return KindTable, true
	case "memory":
		return KindMemory, true
	case "global":
		return KindGlobal, true
	case "tag":
		return KindTag, true
	}
	return 0, false
}

// Value types.
const (
	ValI32       ValType = 0x7F
	ValI64       ValType = 0x7E
	ValF32       ValType = 0x7D
	ValF64       ValType = 0x7C
	ValV128      ValType = 0x7B
	ValFuncRef   ValType = 0x70
	ValExternRef ValType = 0x6F
)

// FuncTypeByte prefixes every entry of the type section.
const FuncTypeByte byte = 0x60

// Limits flags
const (
	LimitsHasMax   byte = 0x01
	LimitsShared   byte = 0x02
	LimitsMemory64 byte = 0x04
)

// Control and call opcodes
const (
	OpUnreachable        byte = 0x00
	OpNop                byte = 0x01
	OpBlock              byte = 0x02
	OpLoop               byte = 0x03
	OpIf                 byte = 0x04
	OpElse               byte = 0x05
	OpTry                byte = 0x06
	OpCatch              byte = 0x07
	OpThrow              byte = 0x08
	OpRethrow            byte = 0x09
	OpThrowRef           byte = 0x0A
	OpEnd                byte = 0x0B
	OpBr                 byte = 0x0C
	OpBrIf               byte = 0x0D
	OpBrTable            byte = 0x0E
	OpReturn             byte = 0x0F
	OpCall               byte = 0x10
	OpCallIndirect       byte = 0x11
	OpReturnCall         byte = 0x12
	OpReturnCallIndirect byte = 0x13
	OpCallRef            byte = 0x14
	OpReturnCallRef      byte = 0x15
	OpDelegate           byte = 0x18
	OpCatchAll           byte = 0x19
	OpDrop               byte = 0x1A
	OpSelect             byte = 0x1B
	OpSelectType         byte = 0x1C
	OpTryTable           byte = 0x1F
)

// Variable, table and memory opcodes
const (
	OpLocalGet   byte = 0x20
	OpLocalSet   byte = 0x21
	OpLocalTee   byte = 0x22
	OpGlobalGet  byte = 0x23
	OpGlobalSet  byte = 0x24
	OpTableGet   byte = 0x25
	OpTableSet   byte = 0x26
	OpI32Load    byte = 0x28
	OpF32Load    byte = 0x2A
	OpF64Load    byte = 0x2B
	OpF32Store   byte = 0x38
	OpF64Store   byte = 0x39
	OpI64Store32 byte = 0x3E
	OpMemorySize byte = 0x3F
	OpMemoryGrow byte = 0x40
)

// Numeric opcodes referenced by the scanner. Ranges in between are plain
// stack instructions without immediates.
const (
	OpI32Const          byte = 0x41
	OpI64Const          byte = 0x42
	OpF32Const          byte = 0x43
	OpF64Const          byte = 0x44
	OpI32Eqz            byte = 0x45
	OpI32Add            byte = 0x6A
	OpI64Add            byte = 0x7C
	OpF32Eq             byte = 0x5B
	OpF64Ge             byte = 0x66
	OpF32Abs            byte = 0x8B
	OpF64Copysign       byte = 0xA6
	OpI32WrapI64        byte = 0xA7
	OpI32TruncF32S      byte = 0xA8
	OpI32TruncF64U      byte = 0xAB
	OpI64ExtendI32S     byte = 0xAC
	OpI64ExtendI32U     byte = 0xAD
	OpI64TruncF32S      byte = 0xAE
	OpF64ReinterpretI64 byte = 0xBF
	OpI32Extend8S       byte = 0xC0
	OpI64Extend32S      byte = 0xC4
)

// Reference opcodes
const (
	OpRefNull      byte = 0xD0
	OpRefIsNull    byte = 0xD1
	OpRefFunc      byte = 0xD2
	OpRefAsNonNull byte = 0xD3
	OpBrOnNull     byte = 0xD4
	OpBrOnNonNull  byte = 0xD6
)

// Prefix opcodes
const (
	OpPrefixMisc   byte = 0xFC
	OpPrefixSIMD   byte = 0xFD
	OpPrefixAtomic byte = 0xFE
)

// 0xFC sub-opcodes
const (
	MiscI32TruncSatF32S uint32 = 0
	MiscI64TruncSatF64U uint32 = 7
	MiscMemoryInit      uint32 = 8
	MiscDataDrop        uint32 = 9
	MiscMemoryCopy      uint32 = 10
	MiscMemoryFill      uint32 = 11
	MiscTableInit       uint32 = 12
	MiscElemDrop        uint32 = 13
	MiscTableCopy       uint32 = 14
	MiscTableGrow       uint32 = 15
	MiscTableSize       uint32 = 16
	MiscTableFill       uint32 = 17
	MiscMemoryDiscard   uint32 = 18
)

// 0xFD sub-opcodes with immediates
const (
	SimdV128Load       uint32 = 0x00
	SimdV128Store      uint32 = 0x0B
	SimdV128Const      uint32 = 0x0C
	SimdI8x16Shuffle   uint32 = 0x0D
	SimdExtractLaneMin uint32 = 0x15
	SimdReplaceLaneMax uint32 = 0x22
	SimdLoadLaneMin    uint32 = 0x54
	SimdStoreLaneMax   uint32 = 0x5B
	SimdLoad32Zero     uint32 = 0x5C
	SimdLoad64Zero     uint32 = 0x5D
	SimdMaxOpcode      uint32 = 0x113
)

// 0xFE sub-opcodes
const (
	AtomicFence     uint32 = 0x03
	AtomicMaxOpcode uint32 = 0x4E
)
