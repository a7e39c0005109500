package metadata

import (
	"strconv"
	"strings"

	"go.bytecodealliance.org/wit"

	"github.com/wippyai/wasm-contract/errors"
)

// Kind is the shape of an ABI type.
type Kind uint8

const (
	KindPrimitive Kind = iota
	KindList
	KindOption
	KindTuple
	KindResult
	KindArray
	KindNamed
)

// maxTypeDepth bounds nesting in ParseType.
const maxTypeDepth = 32

// Type is a parsed ABI type. Elems holds the element type of list, option
// and array, the ok and err types of result, and the fields of tuple.
type Type struct {
	// Prim is the WIT primitive for Kind == KindPrimitive. It is nil for
	// u128 and s128, which WIT does not define.
	Prim  wit.Type
	Name  string
	Elems []Type
	Len   uint32
	Kind  Kind
}

// String returns the canonical spelling used in signatures and documents.
func (t Type) String() string {
	var b strings.Builder
	t.write(&b)
	return b.String()
}

func (t Type) write(b *strings.Builder) {
	switch t.Kind {
	case KindPrimitive, KindNamed:
		b.WriteString(t.Name)
	case KindList:
		b.WriteString("list<")
		t.Elems[0].write(b)
		b.WriteByte('>')
	case KindOption:
		b.WriteString("option<")
		t.Elems[0].write(b)
		b.WriteByte('>')
	case KindResult:
		b.WriteString("result<")
		t.Elems[0].write(b)
		b.WriteByte(',')
		t.Elems[1].write(b)
		b.WriteByte('>')
	case KindTuple:
		b.WriteString("tuple<")
		for i, e := range t.Elems {
			if i > 0 {
				b.WriteByte(',')
			}
			e.write(b)
		}
		b.WriteByte('>')
	case KindArray:
		b.WriteByte('[')
		t.Elems[0].write(b)
		b.WriteByte(';')
		b.WriteString(strconv.FormatUint(uint64(t.Len), 10))
		b.WriteByte(']')
	}
}

// Elem returns the element type of list, option and array types.
func (t Type) Elem() Type {
	return t.Elems[0]
}

// aliases maps Rust spellings to canonical primitive names.
var aliases = map[string]string{
	"i8":     "s8",
	"i16":    "s16",
	"i32":    "s32",
	"i64":    "s64",
	"i128":   "s128",
	"usize":  "u32",
	"isize":  "s32",
	"String": "string",
	"str":    "string",
}

// ParseType parses an ABI type. It accepts the canonical spelling
// (list<u8>, option<T>, tuple<A,B>, result<T,E>, [T;N]) as well as the Rust
// forms Vec<T>, Option<T>, Result<T,E>, (A, B), [T; N], &str and the
// i8..i128 integer names.
func ParseType(s string) (Type, error) {
	p := &typeParser{src: s}
	t, err := p.typ(0)
	if err != nil {
		return Type{}, err
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return Type{}, p.fail("unexpected %q", p.src[p.pos:])
	}
	return t, nil
}

// CanonicalType returns the canonical spelling of s.
func CanonicalType(s string) (string, error) {
	t, err := ParseType(s)
	if err != nil {
		return "", err
	}
	return t.String(), nil
}

// primitives maps canonical names to their WIT types. u128 and s128 are
// handled separately.
var primitives = map[string]wit.Type{
	"bool":   wit.Bool{},
	"u8":     wit.U8{},
	"u16":    wit.U16{},
	"u32":    wit.U32{},
	"u64":    wit.U64{},
	"s8":     wit.S8{},
	"s16":    wit.S16{},
	"s32":    wit.S32{},
	"s64":    wit.S64{},
	"f32":    wit.F32{},
	"f64":    wit.F64{},
	"char":   wit.Char{},
	"string": wit.String{},
}

func primitive(name string) (Type, bool) {
	if canon, ok := aliases[name]; ok {
		name = canon
	}
	switch name {
	case "u128", "s128":
		return Type{Kind: KindPrimitive, Name: name}, true
	}
	w, ok := primitives[name]
	if !ok {
		return Type{}, false
	}
	return Type{Kind: KindPrimitive, Name: name, Prim: w}, true
}

type typeParser struct {
	src string
	pos int
}

func (p *typeParser) fail(format string, args ...any) error {
	return errors.New(errors.PhaseMetadata, errors.KindInvalidInput).
		Rule("abi_type").
		Value(p.src).
		Detail("type %q at %d: "+format, append([]any{p.src, p.pos}, args...)...).
		Build()
}

func (p *typeParser) skipSpace() {
	for p.pos < len(p.src) && (p.src[p.pos] == ' ' || p.src[p.pos] == '\t' || p.src[p.pos] == '\n') {
		p.pos++
	}
}

func (p *typeParser) peek() byte {
	p.skipSpace()
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

func (p *typeParser) accept(c byte) bool {
	if p.peek() == c {
		p.pos++
		return true
	}
	return false
}

func (p *typeParser) expect(c byte) error {
	if !p.accept(c) {
		return p.fail("expected %q", c)
	}
	return nil
}

func isIdentByte(c byte, first bool) bool {
	switch {
	case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		return true
	case c >= '0' && c <= '9':
		return !first
	}
	return false
}

// ident reads an identifier, allowing :: path separators.
func (p *typeParser) ident() string {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if isIdentByte(c, p.pos == start) {
			p.pos++
			continue
		}
		if c == ':' && p.pos+2 < len(p.src) && p.src[p.pos+1] == ':' && isIdentByte(p.src[p.pos+2], true) && p.pos > start {
			p.pos += 2
			continue
		}
		break
	}
	return p.src[start:p.pos]
}

func (p *typeParser) number() (uint32, error) {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.src) && p.src[p.pos] >= '0' && p.src[p.pos] <= '9' {
		p.pos++
	}
	n, err := strconv.ParseUint(p.src[start:p.pos], 10, 32)
	if err != nil {
		return 0, p.fail("bad array length")
	}
	return uint32(n), nil
}

func (p *typeParser) typ(depth int) (Type, error) {
	if depth > maxTypeDepth {
		return Type{}, p.fail("nested too deeply")
	}

	switch p.peek() {
	case '&':
		p.pos++
		return p.typ(depth + 1)
	case '(':
		p.pos++
		elems, err := p.list(depth, ')')
		if err != nil {
			return Type{}, err
		}
		return Type{Kind: KindTuple, Elems: elems}, nil
	case '[':
		p.pos++
		elem, err := p.typ(depth + 1)
		if err != nil {
			return Type{}, err
		}
		if err := p.expect(';'); err != nil {
			return Type{}, err
		}
		n, err := p.number()
		if err != nil {
			return Type{}, err
		}
		if err := p.expect(']'); err != nil {
			return Type{}, err
		}
		return Type{Kind: KindArray, Elems: []Type{elem}, Len: n}, nil
	}

	name := p.ident()
	if name == "" {
		return Type{}, p.fail("expected a type")
	}

	if p.peek() != '<' {
		if t, ok := primitive(name); ok {
			return t, nil
		}
		switch name {
		case "list", "Vec", "option", "Option", "result", "Result", "tuple":
			return Type{}, p.fail("%s needs type arguments", name)
		}
		return Type{Kind: KindNamed, Name: name}, nil
	}

	p.pos++
	args, err := p.list(depth, '>')
	if err != nil {
		return Type{}, err
	}
	arity := func(n int) error {
		if len(args) != n {
			return p.fail("%s takes %d type argument(s), got %d", name, n, len(args))
		}
		return nil
	}
	switch name {
	case "list", "Vec":
		if err := arity(1); err != nil {
			return Type{}, err
		}
		return Type{Kind: KindList, Elems: args}, nil
	case "option", "Option":
		if err := arity(1); err != nil {
			return Type{}, err
		}
		return Type{Kind: KindOption, Elems: args}, nil
	case "result", "Result":
		if err := arity(2); err != nil {
			return Type{}, err
		}
		return Type{Kind: KindResult, Elems: args}, nil
	case "tuple":
		return Type{Kind: KindTuple, Elems: args}, nil
	}
	return Type{}, p.fail("generic type %s is not supported", name)
}

// list parses comma separated types up to the closing byte. The opening
// byte has been consumed. A trailing comma is allowed.
func (p *typeParser) list(depth int, closing byte) ([]Type, error) {
	var out []Type
	for {
		if p.accept(closing) {
			return out, nil
		}
		t, err := p.typ(depth + 1)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
		if p.accept(',') {
			continue
		}
		if err := p.expect(closing); err != nil {
			return nil, err
		}
		return out, nil
	}
}
