package wasm

import (
	"errors"

	"github.com/wippyai/wasm-contract/wasm/internal/binary"
)

// Causes of a malformed module. Parse returns an *errors.Error whose cause
// chain contains exactly one of these, so callers can tell them apart with
// errors.Is.
var (
	ErrInvalidMagic    = errors.New("invalid wasm magic number")
	ErrInvalidVersion  = errors.New("invalid wasm version")
	ErrTruncated       = binary.ErrTruncated
	ErrSectionLength   = errors.New("section length mismatch")
	ErrSectionOrder    = errors.New("section out of order")
	ErrIndexOutOfRange = errors.New("index out of range")
	ErrDuplicateExport = errors.New("duplicate export name")
	ErrCountMismatch   = errors.New("count mismatch")
	ErrLEB128          = binary.ErrOverflow
	ErrInvalidEncoding = errors.New("invalid encoding")
)

// ruleFor maps a cause to the rule name reported in errors.Error.Rule.
func ruleFor(err error) string {
	switch {
	case errors.Is(err, ErrInvalidMagic):
		return "magic"
	case errors.Is(err, ErrInvalidVersion):
		return "version"
	case errors.Is(err, ErrSectionLength):
		return "section_length"
	case errors.Is(err, ErrTruncated):
		return "truncated"
	case errors.Is(err, ErrSectionOrder):
		return "section_order"
	case errors.Is(err, ErrIndexOutOfRange):
		return "index_out_of_range"
	case errors.Is(err, ErrDuplicateExport):
		return "unique_export_name"
	case errors.Is(err, ErrCountMismatch):
		return "count_mismatch"
	case errors.Is(err, ErrLEB128):
		return "leb128"
	default:
		return "encoding"
	}
}
