package transcode

import (
	"encoding/binary"
	"math/big"
	"strconv"
	"strings"
	"unicode/utf8"

	"go.bytecodealliance.org/wit"

	"github.com/wippyai/wasm-contract/errors"
	"github.com/wippyai/wasm-contract/metadata"
)

// Safety limits for encoded sizes.
const (
	MaxStringSize = 16 << 20
	MaxListLength = 1 << 20
)

// AppendCompact appends the SCALE compact encoding of n.
func AppendCompact(dst []byte, n uint64) []byte {
	switch {
	case n < 1<<6:
		return append(dst, byte(n<<2))
	case n < 1<<14:
		return binary.LittleEndian.AppendUint16(dst, uint16(n<<2)|0b01)
	case n < 1<<30:
		return binary.LittleEndian.AppendUint32(dst, uint32(n<<2)|0b10)
	}
	var le [8]byte
	binary.LittleEndian.PutUint64(le[:], n)
	size := 8
	for size > 4 && le[size-1] == 0 {
		size--
	}
	dst = append(dst, byte(size-4)<<2|0b11)
	return append(dst, le[:size]...)
}

// intSpec describes a fixed width integer.
type intSpec struct {
	name   string
	bits   uint
	signed bool
}

func intOf(t metadata.Type) (intSpec, bool) {
	switch t.Prim.(type) {
	case wit.U8:
		return intSpec{"u8", 8, false}, true
	case wit.U16:
		return intSpec{"u16", 16, false}, true
	case wit.U32:
		return intSpec{"u32", 32, false}, true
	case wit.U64:
		return intSpec{"u64", 64, false}, true
	case wit.S8:
		return intSpec{"s8", 8, true}, true
	case wit.S16:
		return intSpec{"s16", 16, true}, true
	case wit.S32:
		return intSpec{"s32", 32, true}, true
	case wit.S64:
		return intSpec{"s64", 64, true}, true
	}
	switch t.Name {
	case "u128":
		return intSpec{"u128", 128, false}, true
	case "s128":
		return intSpec{"s128", 128, true}, true
	}
	return intSpec{}, false
}

func (s intSpec) bounds() (lo, hi *big.Int) {
	one := big.NewInt(1)
	if !s.signed {
		return new(big.Int), new(big.Int).Sub(new(big.Int).Lsh(one, s.bits), one)
	}
	half := new(big.Int).Lsh(one, s.bits-1)
	return new(big.Int).Neg(half), new(big.Int).Sub(half, one)
}

// appendInt appends n as little-endian two's complement of the given width.
func (s intSpec) appendInt(dst []byte, n *big.Int) []byte {
	v := n
	if n.Sign() < 0 {
		v = new(big.Int).Add(n, new(big.Int).Lsh(big.NewInt(1), s.bits))
	}
	be := v.FillBytes(make([]byte, s.bits/8))
	for i := len(be) - 1; i >= 0; i-- {
		dst = append(dst, be[i])
	}
	return dst
}

// maxEncodeDepth bounds the nesting of encoded values, including a bare
// value unwrapped through a recursive single-field type.
const maxEncodeDepth = 128

// encoder appends SCALE encodings of values of a single type.
type encoder struct {
	types *metadata.Registry
	out   []byte
	path  []string
}

func (e *encoder) at(seg string) func() {
	e.path = append(e.path, seg)
	return func() { e.path = e.path[:len(e.path)-1] }
}

func (e *encoder) pathCopy() []string {
	return append([]string(nil), e.path...)
}

func (e *encoder) mismatch(t metadata.Type, v Value) error {
	return errors.TypeMismatch(errors.PhaseTranscode, e.pathCopy(), t.String(), v.describe())
}

func (e *encoder) encode(t metadata.Type, v Value) error {
	if len(e.path) > maxEncodeDepth {
		return errors.New(errors.PhaseTranscode, errors.KindInvalidInput).
			Rule("depth").
			Path(e.pathCopy()...).
			Detail("%s is nested more than %d levels deep", t, maxEncodeDepth).
			Build()
	}
	switch t.Kind {
	case metadata.KindPrimitive:
		return e.primitive(t, v)
	case metadata.KindList:
		return e.sequence(t, v, true)
	case metadata.KindArray:
		return e.sequence(t, v, false)
	case metadata.KindOption:
		return e.option(t, v)
	case metadata.KindResult:
		return e.result(t, v)
	case metadata.KindTuple:
		return e.tuple(t, v)
	case metadata.KindNamed:
		return e.named(t, v)
	}
	return errors.Inconsistency(errors.PhaseTranscode, "unknown type kind "+strconv.Itoa(int(t.Kind)))
}

func (e *encoder) primitive(t metadata.Type, v Value) error {
	if spec, ok := intOf(t); ok {
		return e.integer(spec, v)
	}
	switch t.Prim.(type) {
	case wit.Bool:
		if v.Kind != ValueBool {
			return e.mismatch(t, v)
		}
		if v.Bool {
			e.out = append(e.out, 1)
		} else {
			e.out = append(e.out, 0)
		}
		return nil
	case wit.String:
		if v.Kind != ValueString {
			return e.mismatch(t, v)
		}
		if len(v.Str) > MaxStringSize {
			return errors.Overflow(errors.PhaseTranscode, e.pathCopy(), len(v.Str), "string length")
		}
		if !utf8.ValidString(v.Str) {
			return errors.New(errors.PhaseTranscode, errors.KindInvalidInput).
				Rule("utf8").
				Path(e.pathCopy()...).
				Detail("string is not valid UTF-8").
				Build()
		}
		e.out = AppendCompact(e.out, uint64(len(v.Str)))
		e.out = append(e.out, v.Str...)
		return nil
	case wit.F32, wit.F64, wit.Char:
		return errors.New(errors.PhaseTranscode, errors.KindUnsupported).
			Rule("primitive").
			Path(e.pathCopy()...).
			Detail("%s has no SCALE encoding", t.Name).
			Build()
	}
	return errors.Inconsistency(errors.PhaseTranscode, "unknown primitive "+t.Name)
}

func (e *encoder) integer(spec intSpec, v Value) error {
	var n *big.Int
	switch v.Kind {
	case ValueInt:
		n = v.Int
	case ValueString:
		parsed, ok := parseInt(v.Str)
		if !ok {
			return errors.TypeMismatch(errors.PhaseTranscode, e.pathCopy(), spec.name, strconv.Quote(v.Str))
		}
		n = parsed
	default:
		return errors.TypeMismatch(errors.PhaseTranscode, e.pathCopy(), spec.name, v.describe())
	}
	lo, hi := spec.bounds()
	if n.Cmp(lo) < 0 || n.Cmp(hi) > 0 {
		return errors.Overflow(errors.PhaseTranscode, e.pathCopy(), n.String(), spec.name)
	}
	e.out = spec.appendInt(e.out, n)
	return nil
}

func (e *encoder) sequence(t metadata.Type, v Value, prefixed bool) error {
	elem := t.Elem()
	var n int
	switch v.Kind {
	case ValueSeq:
		n = len(v.Elems)
	case ValueBytes:
		if elem.Kind != metadata.KindPrimitive || elem.Name != "u8" {
			return e.mismatch(t, v)
		}
		n = len(v.Bytes)
	default:
		return e.mismatch(t, v)
	}

	if prefixed {
		if n > MaxListLength {
			return errors.Overflow(errors.PhaseTranscode, e.pathCopy(), n, "list length")
		}
		e.out = AppendCompact(e.out, uint64(n))
	} else if uint64(n) != uint64(t.Len) {
		return errors.New(errors.PhaseTranscode, errors.KindInvalidInput).
			Rule("array_length").
			Path(e.pathCopy()...).
			Detail("%s needs %d elements, got %d", t, t.Len, n).
			Build()
	}

	if v.Kind == ValueBytes {
		e.out = append(e.out, v.Bytes...)
		return nil
	}
	for i, item := range v.Elems {
		done := e.at("[" + strconv.Itoa(i) + "]")
		err := e.encode(elem, item)
		done()
		if err != nil {
			return err
		}
	}
	return nil
}

// payload returns the single value carried by a variant.
func (e *encoder) payload(t metadata.Type, v Value) (Value, error) {
	switch len(v.Elems) {
	case 1:
		return v.Elems[0], nil
	case 0:
		return Value{Kind: ValueTuple, Elems: []Value{}}, nil
	}
	return Value{}, e.mismatch(t, Value{Kind: ValueTuple, Elems: v.Elems})
}

func (e *encoder) option(t metadata.Type, v Value) error {
	if v.Kind != ValueVariant {
		return e.mismatch(t, v)
	}
	switch v.Ident {
	case "None":
		e.out = append(e.out, 0)
		return nil
	case "Some":
		inner, err := e.payload(t, v)
		if err != nil {
			return err
		}
		e.out = append(e.out, 1)
		defer e.at("some")()
		return e.encode(t.Elem(), inner)
	}
	return e.mismatch(t, v)
}

func (e *encoder) result(t metadata.Type, v Value) error {
	if v.Kind != ValueVariant {
		return e.mismatch(t, v)
	}
	var tag byte
	var typ metadata.Type
	switch v.Ident {
	case "Ok":
		tag, typ = 0, t.Elems[0]
	case "Err":
		tag, typ = 1, t.Elems[1]
	default:
		return e.mismatch(t, v)
	}
	inner, err := e.payload(t, v)
	if err != nil {
		return err
	}
	e.out = append(e.out, tag)
	defer e.at(strings.ToLower(v.Ident))()
	return e.encode(typ, inner)
}

func (e *encoder) tuple(t metadata.Type, v Value) error {
	if v.Kind != ValueTuple {
		// A one-field tuple also accepts its bare field.
		if len(t.Elems) == 1 {
			return e.encode(t.Elems[0], v)
		}
		return e.mismatch(t, v)
	}
	if len(v.Elems) != len(t.Elems) {
		return errors.TypeMismatch(errors.PhaseTranscode, e.pathCopy(), t.String(),
			"tuple of "+strconv.Itoa(len(v.Elems)))
	}
	for i, ft := range t.Elems {
		done := e.at("." + strconv.Itoa(i))
		err := e.encode(ft, v.Elems[i])
		done()
		if err != nil {
			return err
		}
	}
	return nil
}

func (e *encoder) named(t metadata.Type, v Value) error {
	l, ok := e.types.Lookup(t.Name)
	if !ok {
		return errors.New(errors.PhaseTranscode, errors.KindUnsupported).
			Rule("named_type").
			Path(e.pathCopy()...).
			Detail("named type %s has no definition", t.Name).
			Build()
	}
	if l.Enum {
		return e.variant(t, l, v)
	}
	return e.composite(t, l.Fields, v, l.MatchesName)
}

// composite encodes a struct or a variant's fields in declaration order.
// Named fields take a map; unnamed fields take a tuple or Name(...). A
// single field also accepts its bare value. matches checks the optional
// name written before the fields.
func (e *encoder) composite(t metadata.Type, fields []metadata.Field, v Value, matches func(string) bool) error {
	switch {
	case v.Kind == ValueMap && (v.Ident == "" || matches(v.Ident)):
		return e.byName(t, fields, v)
	case v.Kind == ValueTuple, v.Kind == ValueVariant && matches(v.Ident):
		if metadata.Named(fields) && len(v.Elems) > 0 {
			return errors.New(errors.PhaseTranscode, errors.KindInvalidInput).
				Rule("named_fields").
				Path(e.pathCopy()...).
				Detail("%s has named fields, write them as { name: value }", t).
				Build()
		}
		return e.positional(t, fields, v.Elems)
	case len(fields) == 1:
		defer e.at(fieldSeg(fields[0], 0))()
		return e.encode(fields[0].Type, v)
	}
	return e.mismatch(t, v)
}

func (e *encoder) byName(t metadata.Type, fields []metadata.Field, v Value) error {
	if len(fields) > 0 && !metadata.Named(fields) {
		return e.mismatch(t, v)
	}
	if len(v.Fields) != len(fields) {
		for _, f := range v.Fields {
			if !hasField(fields, f.Name) {
				return errors.New(errors.PhaseTranscode, errors.KindInvalidInput).
					Rule("unknown_field").
					Path(e.pathCopy()...).
					Value(f.Name).
					Detail("%s has no field %s", t, f.Name).
					Build()
			}
		}
	}
	for _, f := range fields {
		fv, ok := v.Field(f.Name)
		if !ok {
			return errors.New(errors.PhaseTranscode, errors.KindInvalidInput).
				Rule("missing_field").
				Path(e.pathCopy()...).
				Value(f.Name).
				Detail("%s needs field %s", t, f.Name).
				Build()
		}
		done := e.at("." + f.Name)
		err := e.encode(f.Type, fv)
		done()
		if err != nil {
			return err
		}
	}
	return nil
}

func (e *encoder) positional(t metadata.Type, fields []metadata.Field, elems []Value) error {
	if len(elems) != len(fields) {
		return errors.TypeMismatch(errors.PhaseTranscode, e.pathCopy(), t.String(),
			"tuple of "+strconv.Itoa(len(elems)))
	}
	for i, f := range fields {
		done := e.at(fieldSeg(f, i))
		err := e.encode(f.Type, elems[i])
		done()
		if err != nil {
			return err
		}
	}
	return nil
}

// variant writes the case index byte followed by the case's fields. A case
// is written as Name, Name(a, b) or Name { a: 1 }.
func (e *encoder) variant(t metadata.Type, l *metadata.Layout, v Value) error {
	var ident string
	switch v.Kind {
	case ValueVariant, ValueMap:
		ident = v.Ident
	case ValueString:
		ident = v.Str
	}
	if ident == "" {
		return e.mismatch(t, v)
	}
	name := ident
	if i := strings.LastIndex(ident, "::"); i >= 0 {
		if !l.MatchesName(ident[:i]) {
			return e.mismatch(t, v)
		}
		name = ident[i+2:]
	}
	idx, c, ok := l.Variant(name)
	if !ok {
		return errors.NotFound(errors.PhaseTranscode, l.Name+" variant", name)
	}

	e.out = append(e.out, byte(idx))
	defer e.at("." + c.Name)()
	switch v.Kind {
	case ValueMap:
		return e.byName(t, c.Fields, v)
	case ValueVariant:
		if metadata.Named(c.Fields) {
			return errors.New(errors.PhaseTranscode, errors.KindInvalidInput).
				Rule("named_fields").
				Path(e.pathCopy()...).
				Detail("%s::%s has named fields, write them as { name: value }", t, c.Name).
				Build()
		}
		return e.positional(t, c.Fields, v.Elems)
	}
	return e.positional(t, c.Fields, nil)
}

func fieldSeg(f metadata.Field, i int) string {
	if f.Name != "" {
		return "." + f.Name
	}
	return "." + strconv.Itoa(i)
}

func hasField(fields []metadata.Field, name string) bool {
	for _, f := range fields {
		if f.Name == name {
			return true
		}
	}
	return false
}

// EncodeValue returns the SCALE encoding of v as type t. Named types fail
// as unsupported; use EncodeValueWith to resolve them.
func EncodeValue(t metadata.Type, v Value) ([]byte, error) {
	return EncodeValueWith(nil, t, v)
}

// EncodeValueWith is EncodeValue with named types resolved through types.
func EncodeValueWith(types *metadata.Registry, t metadata.Type, v Value) ([]byte, error) {
	e := &encoder{types: types}
	if err := e.encode(t, v); err != nil {
		return nil, err
	}
	return e.out, nil
}
