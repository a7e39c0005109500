package transcode

import (
	"encoding/hex"
	"math/big"
	"strconv"
	"strings"

	"github.com/wippyai/wasm-contract/errors"
)

// ValueKind is the syntactic shape of a parsed argument.
type ValueKind uint8

const (
	ValueBool ValueKind = iota
	ValueInt
	ValueString
	ValueBytes
	ValueSeq
	ValueTuple
	// ValueVariant is an identifier with optional payload: None, Some(v),
	// Ok(v), Err(v), Transfer(1, 2).
	ValueVariant
	// ValueMap is a braced list of named fields, optionally prefixed by a
	// type or variant name: { to: 1 } or Point { x: 1, y: 2 }.
	ValueMap
)

var valueKindNames = [...]string{
	ValueBool:    "bool",
	ValueInt:     "integer",
	ValueString:  "string",
	ValueBytes:   "bytes",
	ValueSeq:     "sequence",
	ValueTuple:   "tuple",
	ValueVariant: "variant",
	ValueMap:     "map",
}

func (k ValueKind) String() string {
	if int(k) < len(valueKindNames) {
		return valueKindNames[k]
	}
	return "value(" + strconv.Itoa(int(k)) + ")"
}

// Value is a parsed textual argument.
type Value struct {
	Int    *big.Int
	Str    string
	Ident  string
	Bytes  []byte
	Elems  []Value
	Fields []FieldValue
	Bool   bool
	Kind   ValueKind
}

// FieldValue is one entry of a ValueMap.
type FieldValue struct {
	Name  string
	Value Value
}

// Field returns the value of the named map entry.
func (v Value) Field(name string) (Value, bool) {
	for _, f := range v.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return Value{}, false
}

// describe names the value for type mismatch errors.
func (v Value) describe() string {
	if v.Ident != "" && (v.Kind == ValueVariant || v.Kind == ValueMap) {
		return v.Ident
	}
	return v.Kind.String()
}

// ParseValue parses one textual argument:
//
//	true, false           bool
//	42, -7, 1_000_000     integer
//	"text", text          string
//	0xdead                bytes
//	[a, b]                sequence
//	(a, b)                tuple
//	None, Some(v)         option
//	Ok(v), Err(v)         result
//	{ a: 1, b: 2 }        struct fields by name
//	Name(a, b)            enum variant or tuple struct
//	Name { a: 1 }         enum variant or struct with named fields
//
// Names may carry a module path: a::Color::Red.
func ParseValue(s string) (Value, error) {
	p := &valueParser{src: s}
	v, err := p.value(0)
	if err != nil {
		return Value{}, err
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return Value{}, p.fail("unexpected %q", p.src[p.pos:])
	}
	return v, nil
}

// SplitArgs splits s into the source text of consecutive values. Values are
// separated by whitespace, so quoted strings, tuples and maps may contain
// spaces. Each part parses with ParseValue.
func SplitArgs(s string) ([]string, error) {
	p := &valueParser{src: s}
	var out []string
	for p.peek() != 0 {
		start := p.pos
		if _, err := p.value(0); err != nil {
			return nil, err
		}
		if p.pos < len(p.src) && !isSpace(p.src[p.pos]) {
			return nil, p.fail("expected whitespace after %q", p.src[start:p.pos])
		}
		out = append(out, p.src[start:p.pos])
	}
	return out, nil
}

// maxValueDepth bounds nesting in ParseValue.
const maxValueDepth = 64

type valueParser struct {
	src string
	pos int
}

func (p *valueParser) fail(format string, args ...any) error {
	return errors.New(errors.PhaseTranscode, errors.KindInvalidInput).
		Rule("value_syntax").
		Value(p.src).
		Detail("value %q at %d: "+format, append([]any{p.src, p.pos}, args...)...).
		Build()
}

func (p *valueParser) skipSpace() {
	for p.pos < len(p.src) && isSpace(p.src[p.pos]) {
		p.pos++
	}
}

func (p *valueParser) peek() byte {
	p.skipSpace()
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

func (p *valueParser) accept(c byte) bool {
	if p.peek() == c {
		p.pos++
		return true
	}
	return false
}

func (p *valueParser) value(depth int) (Value, error) {
	if depth > maxValueDepth {
		return Value{}, p.fail("nested too deeply")
	}
	c := p.peek()
	switch {
	case c == 0:
		return Value{}, p.fail("expected a value")
	case c == '"':
		return p.quoted()
	case c == '[':
		p.pos++
		elems, err := p.elems(depth, ']')
		return Value{Kind: ValueSeq, Elems: elems}, err
	case c == '(':
		p.pos++
		elems, err := p.elems(depth, ')')
		return Value{Kind: ValueTuple, Elems: elems}, err
	case c == '{':
		p.pos++
		fields, err := p.fields(depth)
		return Value{Kind: ValueMap, Fields: fields}, err
	case c == '0' && p.pos+1 < len(p.src) && (p.src[p.pos+1] == 'x' || p.src[p.pos+1] == 'X'):
		return p.hexBytes()
	case c == '-' || c == '+' || (c >= '0' && c <= '9'):
		return p.integer()
	case isWordByte(c):
		return p.word(depth)
	}
	return Value{}, p.fail("unexpected %q", c)
}

// elems parses comma separated values up to closing. The opening byte has
// been consumed. A trailing comma is allowed.
func (p *valueParser) elems(depth int, closing byte) ([]Value, error) {
	out := []Value{}
	for {
		if p.accept(closing) {
			return out, nil
		}
		v, err := p.value(depth + 1)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
		if p.accept(',') {
			continue
		}
		if !p.accept(closing) {
			return nil, p.fail("expected %q", closing)
		}
		return out, nil
	}
}

// fields parses name: value pairs up to '}'. The '{' has been consumed.
func (p *valueParser) fields(depth int) ([]FieldValue, error) {
	out := []FieldValue{}
	seen := make(map[string]bool)
	for {
		if p.accept('}') {
			return out, nil
		}
		name := p.name()
		if name == "" {
			return nil, p.fail("expected a field name")
		}
		if seen[name] {
			return nil, p.fail("field %s repeated", name)
		}
		seen[name] = true
		if !p.accept(':') {
			return nil, p.fail("expected ':' after %s", name)
		}
		v, err := p.value(depth + 1)
		if err != nil {
			return nil, err
		}
		out = append(out, FieldValue{Name: name, Value: v})
		if p.accept(',') {
			continue
		}
		if !p.accept('}') {
			return nil, p.fail("expected '}'")
		}
		return out, nil
	}
}

// name scans an identifier, which is empty when none starts at pos.
func (p *valueParser) name() string {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.src) && (p.src[p.pos] == '_' || isDigit(p.src[p.pos]) || isLetter(p.src[p.pos])) {
		p.pos++
	}
	return p.src[start:p.pos]
}

func (p *valueParser) quoted() (Value, error) {
	start := p.pos
	p.pos++
	for p.pos < len(p.src) {
		switch p.src[p.pos] {
		case '\\':
			p.pos += 2
			continue
		case '"':
			p.pos++
			s, err := strconv.Unquote(p.src[start:p.pos])
			if err != nil {
				return Value{}, p.fail("bad string literal")
			}
			return Value{Kind: ValueString, Str: s}, nil
		}
		p.pos++
	}
	return Value{}, p.fail("unterminated string")
}

func (p *valueParser) hexBytes() (Value, error) {
	p.pos += 2
	start := p.pos
	for p.pos < len(p.src) && isHexByte(p.src[p.pos]) {
		p.pos++
	}
	raw, err := hex.DecodeString(p.src[start:p.pos])
	if err != nil {
		return Value{}, p.fail("bad hex literal")
	}
	return Value{Kind: ValueBytes, Bytes: raw}, nil
}

func (p *valueParser) integer() (Value, error) {
	start := p.pos
	if p.src[p.pos] == '-' || p.src[p.pos] == '+' {
		p.pos++
	}
	for p.pos < len(p.src) && (isDigit(p.src[p.pos]) || p.src[p.pos] == '_') {
		p.pos++
	}
	n, ok := parseInt(p.src[start:p.pos])
	if !ok {
		return Value{}, p.fail("bad integer literal")
	}
	return Value{Kind: ValueInt, Int: n}, nil
}

func (p *valueParser) word(depth int) (Value, error) {
	start := p.pos
	for p.pos < len(p.src) {
		if isWordByte(p.src[p.pos]) {
			p.pos++
		} else if strings.HasPrefix(p.src[p.pos:], "::") {
			p.pos += 2
		} else {
			break
		}
	}
	w := p.src[start:p.pos]

	switch w {
	case "true", "false":
		return Value{Kind: ValueBool, Bool: w == "true"}, nil
	case "None":
		return Value{Kind: ValueVariant, Ident: w}, nil
	}
	if p.peek() == '(' {
		p.pos++
		elems, err := p.elems(depth, ')')
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: ValueVariant, Ident: w, Elems: elems}, nil
	}
	if p.peek() == '{' {
		p.pos++
		fields, err := p.fields(depth)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: ValueMap, Ident: w, Fields: fields}, nil
	}
	p.pos = start + len(w)
	return Value{Kind: ValueString, Str: w}, nil
}

// parseInt parses a decimal integer, ignoring _ and , separators.
func parseInt(s string) (*big.Int, bool) {
	clean := strings.NewReplacer("_", "", ",", "").Replace(s)
	digits := strings.TrimLeft(clean, "+-")
	if digits == "" || len(clean)-len(digits) > 1 {
		return nil, false
	}
	return new(big.Int).SetString(clean, 10)
}

func isSpace(c byte) bool { return c == ' ' || c == '\t' || c == '\n' || c == '\r' }

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isHexByte(c byte) bool {
	return isDigit(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func isLetter(c byte) bool { return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }

func isWordByte(c byte) bool {
	return c == '_' || c == '-' || c == '.' || isDigit(c) || isLetter(c)
}
