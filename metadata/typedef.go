package metadata

import (
	"strconv"
	"strings"

	"github.com/wippyai/wasm-contract/errors"
)

// MaxVariants is the number of cases an enum can have: the case index is
// encoded as one byte.
const MaxVariants = 256

// TypeDef declares a named type used by arguments. A definition with
// Variants is an enum; otherwise it is a struct made of Fields. Struct and
// variant fields are either all named or all unnamed (tuple structs).
type TypeDef struct {
	Name     string       `json:"name" yaml:"name"`
	Fields   []Arg        `json:"fields,omitempty" yaml:"fields,omitempty"`
	Variants []VariantDef `json:"variants,omitempty" yaml:"variants,omitempty"`
	Docs     []string     `json:"docs,omitempty" yaml:"docs,omitempty"`
}

// VariantDef is one case of an enum.
type VariantDef struct {
	Name   string `json:"name" yaml:"name"`
	Fields []Arg  `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// IsEnum reports whether d declares variants.
func (d TypeDef) IsEnum() bool {
	return len(d.Variants) > 0
}

// Field is a resolved struct or variant field. Name is empty for tuple
// fields.
type Field struct {
	Name string
	Type Type
}

// Case is a resolved enum variant. Its index is its position.
type Case struct {
	Name   string
	Fields []Field
}

// Layout is the resolved shape of a named type.
type Layout struct {
	Name   string
	Fields []Field
	Cases  []Case
	Enum   bool
}

// Variant returns the index and definition of the named case.
func (l *Layout) Variant(name string) (int, *Case, bool) {
	for i := range l.Cases {
		if l.Cases[i].Name == name {
			return i, &l.Cases[i], true
		}
	}
	return 0, nil, false
}

// Named reports whether fields are addressed by name.
func Named(fields []Field) bool {
	return len(fields) > 0 && fields[0].Name != ""
}

// Registry resolves named types to their layouts. A nil *Registry resolves
// nothing.
type Registry struct {
	layouts map[string]*Layout
}

// NewRegistry checks defs and parses every field type.
func NewRegistry(defs []TypeDef) (*Registry, error) {
	canon, err := canonicalTypeDefs(defs)
	if err != nil {
		return nil, err
	}
	r := &Registry{layouts: make(map[string]*Layout, len(canon))}
	for _, d := range canon {
		l := &Layout{Name: d.Name, Enum: d.IsEnum()}
		if l.Fields, err = resolveFields(d.Fields); err != nil {
			return nil, err
		}
		for _, v := range d.Variants {
			fields, err := resolveFields(v.Fields)
			if err != nil {
				return nil, err
			}
			l.Cases = append(l.Cases, Case{Name: v.Name, Fields: fields})
		}
		r.layouts[d.Name] = l
	}
	return r, nil
}

// Lookup returns the layout of a named type.
func (r *Registry) Lookup(name string) (*Layout, bool) {
	if r == nil {
		return nil, false
	}
	l, ok := r.layouts[name]
	return l, ok
}

// Len returns the number of defined types.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.layouts)
}

func resolveFields(args []Arg) ([]Field, error) {
	if len(args) == 0 {
		return nil, nil
	}
	out := make([]Field, len(args))
	for i, a := range args {
		t, err := ParseType(a.Type)
		if err != nil {
			return nil, err
		}
		out[i] = Field{Name: a.Name, Type: t}
	}
	return out, nil
}

// canonicalTypeDefs validates defs and rewrites field types to their
// canonical spelling.
func canonicalTypeDefs(defs []TypeDef) ([]TypeDef, error) {
	out := make([]TypeDef, 0, len(defs))
	seen := make(map[string]bool, len(defs))
	for i, d := range defs {
		t, err := ParseType(d.Name)
		if err != nil || t.Kind != KindNamed || t.Name != d.Name {
			return nil, typeDefError("type_name", []string{"types"}, d.Name,
				"type %d: %q is not a type name", i, d.Name)
		}
		if seen[d.Name] {
			return nil, typeDefError("type_name", []string{"types"}, d.Name,
				"type %s defined twice", d.Name)
		}
		seen[d.Name] = true

		if len(d.Fields) > 0 && len(d.Variants) > 0 {
			return nil, typeDefError("type_shape", []string{"types", d.Name}, d.Name,
				"type %s has both fields and variants", d.Name)
		}
		if len(d.Variants) > MaxVariants {
			return nil, typeDefError("variant_count", []string{"types", d.Name}, len(d.Variants),
				"enum %s has %d variants, at most %d fit the index byte", d.Name, len(d.Variants), MaxVariants)
		}

		c := TypeDef{Name: d.Name, Docs: copyStrings(d.Docs)}
		if c.Fields, err = canonicalFields([]string{"types", d.Name}, d.Fields); err != nil {
			return nil, err
		}
		cases := make(map[string]bool, len(d.Variants))
		for _, v := range d.Variants {
			if !validName(v.Name) || cases[v.Name] {
				return nil, typeDefError("variant_name", []string{"types", d.Name}, v.Name,
					"enum %s: variant %q is invalid or repeated", d.Name, v.Name)
			}
			cases[v.Name] = true
			fields, err := canonicalFields([]string{"types", d.Name, v.Name}, v.Fields)
			if err != nil {
				return nil, err
			}
			c.Variants = append(c.Variants, VariantDef{Name: v.Name, Fields: fields})
		}
		out = append(out, c)
	}
	return out, nil
}

// canonicalFields accepts all-named or all-unnamed fields.
func canonicalFields(path []string, args []Arg) ([]Arg, error) {
	if len(args) == 0 {
		return nil, nil
	}
	named := args[0].Name != ""
	out := make([]Arg, 0, len(args))
	names := make(map[string]bool, len(args))
	for i, a := range args {
		if (a.Name != "") != named {
			return nil, typeDefError("field_name", path, a.Name,
				"field %d: named and unnamed fields are mixed", i)
		}
		if named && (!validName(a.Name) || names[a.Name]) {
			return nil, typeDefError("field_name", path, a.Name,
				"field %q is invalid or repeated", a.Name)
		}
		names[a.Name] = true
		t, err := CanonicalType(a.Type)
		if err != nil {
			return nil, withPath(err, append(append([]string(nil), path...), fieldLabel(a.Name, i))...)
		}
		out = append(out, Arg{Name: a.Name, Type: t})
	}
	return out, nil
}

func fieldLabel(name string, i int) string {
	if name != "" {
		return name
	}
	return strconv.Itoa(i)
}

func typeDefError(rule string, path []string, value any, format string, args ...any) error {
	return errors.New(errors.PhaseMetadata, errors.KindInvalidInput).
		Rule(rule).
		Path(path...).
		Value(value).
		Detail(format, args...).
		Build()
}

// shortName drops the module path of a type name: a::b::Point is Point.
func shortName(name string) string {
	if i := strings.LastIndex(name, "::"); i >= 0 {
		return name[i+2:]
	}
	return name
}

// MatchesName reports whether ident names the type: either its full name
// or its name without the module path.
func (l *Layout) MatchesName(ident string) bool {
	return ident == l.Name || ident == shortName(l.Name)
}

func cloneTypeDefs(in []TypeDef) []TypeDef {
	if in == nil {
		return nil
	}
	out := make([]TypeDef, len(in))
	for i, d := range in {
		d.Fields = cloneArgs(d.Fields)
		d.Docs = copyStrings(d.Docs)
		if d.Variants != nil {
			vs := make([]VariantDef, len(d.Variants))
			for j, v := range d.Variants {
				v.Fields = cloneArgs(v.Fields)
				vs[j] = v
			}
			d.Variants = vs
		}
		out[i] = d
	}
	return out
}
