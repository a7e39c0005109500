package profile

import (
	"fmt"
	"slices"
	"strings"

	"github.com/wippyai/wasm-contract/errors"
	"github.com/wippyai/wasm-contract/wasm"
)

// ViolationKind identifies the rule a module broke.
type ViolationKind string

const (
	DisallowedImport        ViolationKind = "disallowed_import"
	DisallowedInstruction   ViolationKind = "disallowed_instruction"
	MissingExport           ViolationKind = "missing_export"
	ExportSignatureMismatch ViolationKind = "export_signature_mismatch"
	MemoryLimitExceeded     ViolationKind = "memory_limit_exceeded"
	UndecodableCode         ViolationKind = "undecodable_code"
)

// Violation is one broken rule. Only the fields relevant to Kind are set.
type Violation struct {
	Cause    error
	Kind     ViolationKind
	Location string

	// DisallowedImport
	Module string
	Field  string

	// DisallowedInstruction, UndecodableCode
	FunctionIndex uint32
	Offset        int
	Class         wasm.Class
	Opcode        string

	// MissingExport, ExportSignatureMismatch
	Export string
	Want   string
	Got    string

	// MemoryLimitExceeded
	MemoryIndex uint32
	Pages       uint64
	Limit       uint64
}

func (v Violation) String() string {
	switch v.Kind {
	case DisallowedImport:
		return fmt.Sprintf("%s: import %s.%s is not allowed", v.Location, v.Module, v.Field)
	case DisallowedInstruction:
		return fmt.Sprintf("%s: %s instruction %s is not allowed", v.Location, v.Class, v.Opcode)
	case MissingExport:
		return fmt.Sprintf("%s: required export %q is missing", v.Location, v.Export)
	case ExportSignatureMismatch:
		return fmt.Sprintf("%s: export %q is %s, want %s", v.Location, v.Export, v.Got, v.Want)
	case MemoryLimitExceeded:
		return fmt.Sprintf("%s: %d pages exceed the limit of %d", v.Location, v.Pages, v.Limit)
	case UndecodableCode:
		return fmt.Sprintf("%s: cannot decode code: %v", v.Location, v.Cause)
	default:
		return fmt.Sprintf("%s: %s", v.Location, v.Kind)
	}
}

// Report is the immutable result of Validate. An empty report is a pass.
type Report struct {
	violations []Violation
}

// Empty reports whether the module passed.
func (r Report) Empty() bool {
	return len(r.violations) == 0
}

// Len returns the number of violations.
func (r Report) Len() int {
	return len(r.violations)
}

// Violations returns a copy of the violations in report order: imports,
// instructions, exports, memories.
func (r Report) Violations() []Violation {
	return slices.Clone(r.violations)
}

// ByKind returns the violations of one kind.
func (r Report) ByKind(kind ViolationKind) []Violation {
	var out []Violation
	for _, v := range r.violations {
		if v.Kind == kind {
			out = append(out, v)
		}
	}
	return out
}

func (r Report) String() string {
	lines := make([]string, len(r.violations))
	for i, v := range r.violations {
		lines[i] = v.String()
	}
	return strings.Join(lines, "; ")
}

// Err returns nil for an empty report, otherwise a validation failure
// listing every violation. The report itself is the error's Value.
func (r Report) Err() error {
	if r.Empty() {
		return nil
	}
	e := errors.ValidationFailed(r, fmt.Sprintf("%d violation(s): %s", len(r.violations), r))
	e.Rule = string(r.violations[0].Kind)
	return e
}

// Validate checks m against p and reports every violation. It is pure and
// deterministic.
func Validate(m *wasm.Module, p *Profile) Report {
	var out []Violation
	out = checkImports(out, m, p)
	out = checkInstructions(out, m, p)
	out = checkExports(out, m, p)
	out = checkMemory(out, m, p)
	return Report{violations: out}
}

func checkImports(out []Violation, m *wasm.Module, p *Profile) []Violation {
	for i, imp := range m.Imports() {
		if p.AllowsImport(imp.Module, imp.Name) {
			continue
		}
		out = append(out, Violation{
			Kind:     DisallowedImport,
			Location: fmt.Sprintf("import[%d]", i),
			Module:   imp.Module,
			Field:    imp.Name,
		})
	}
	return out
}

func checkInstructions(out []Violation, m *wasm.Module, p *Profile) []Violation {
	if p.disallowed == 0 {
		return out
	}
	base := uint32(m.NumImportedFuncs())
	for i, body := range m.Bodies() {
		fn := base + uint32(i)
		err := wasm.ScanInstructions(body.Code, func(ins wasm.Instruction) error {
			if !ins.Class.Has(p.disallowed) {
				return nil
			}
			out = append(out, Violation{
				Kind:          DisallowedInstruction,
				Location:      fmt.Sprintf("func[%d]+%d", fn, ins.Offset),
				FunctionIndex: fn,
				Offset:        ins.Offset,
				Class:         ins.Class & p.disallowed,
				Opcode:        ins.OpcodeString(),
			})
			return nil
		})
		if err != nil {
			out = append(out, Violation{
				Kind:          UndecodableCode,
				Location:      fmt.Sprintf("func[%d]", fn),
				FunctionIndex: fn,
				Cause:         err,
			})
		}
	}
	return out
}

func checkExports(out []Violation, m *wasm.Module, p *Profile) []Violation {
	for _, req := range p.exports {
		loc := fmt.Sprintf("export %q", req.Name)
		exp, ok := m.Export(req.Name)
		if !ok {
			out = append(out, Violation{Kind: MissingExport, Location: loc, Export: req.Name})
			continue
		}
		if exp.Kind != req.Kind {
			out = append(out, Violation{
				Kind:     ExportSignatureMismatch,
				Location: loc,
				Export:   req.Name,
				Want:     wasm.KindName(req.Kind),
				Got:      wasm.KindName(exp.Kind),
			})
			continue
		}
		if req.Signature == nil {
			continue
		}
		got, ok := m.FuncType(exp.Index)
		if ok && got.Equal(*req.Signature) {
			continue
		}
		gotStr := "unresolved"
		if ok {
			gotStr = got.String()
		}
		out = append(out, Violation{
			Kind:     ExportSignatureMismatch,
			Location: loc,
			Export:   req.Name,
			Want:     req.Signature.String(),
			Got:      gotStr,
		})
	}
	return out
}

// checkMemory flags a memory whose declared maximum exceeds the limit. With
// CheckInitial, a memory without a maximum is flagged when its initial size
// exceeds it.
func checkMemory(out []Violation, m *wasm.Module, p *Profile) []Violation {
	if !p.hasMax {
		return out
	}
	for i, l := range m.MemoryLimits() {
		var pages uint64
		switch {
		case l.Max != nil:
			pages = max(l.Min, *l.Max)
		case p.checkInitial:
			pages = l.Min
		default:
			continue
		}
		if pages <= p.maxPages {
			continue
		}
		out = append(out, Violation{
			Kind:        MemoryLimitExceeded,
			Location:    fmt.Sprintf("memory[%d]", i),
			MemoryIndex: uint32(i),
			Pages:       pages,
			Limit:       p.maxPages,
		})
	}
	return out
}
