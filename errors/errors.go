package errors

import (
	"fmt"
	"strconv"
	"strings"
)

// Phase indicates which pipeline stage produced the error
type Phase string

const (
	PhaseCompile   Phase = "compile"   // external compiler step
	PhaseParse     Phase = "parse"     // binary module decoding
	PhaseValidate  Phase = "validate"  // execution profile checks
	PhaseStrip     Phase = "strip"     // custom section and dead code removal
	PhaseOptimize  Phase = "optimize"  // external optimizer collaborator
	PhaseMetadata  Phase = "metadata"  // ABI document construction
	PhasePackage   Phase = "package"   // bundle assembly and persistence
	PhaseConfig    Phase = "config"    // profile and package facts loading
	PhaseTranscode Phase = "transcode" // call data encoding
)

// Kind categorizes the error
type Kind string

const (
	KindMalformedModule         Kind = "malformed_module"
	KindValidationFailure       Kind = "validation_failure"
	KindSelectorCollision       Kind = "selector_collision"
	KindCollaboratorUnavailable Kind = "collaborator_unavailable"
	KindCollaboratorRejected    Kind = "collaborator_rejected"
	KindInternalInconsistency   Kind = "internal_inconsistency"
	KindCompileFailed           Kind = "compile_failed"
	KindInvalidInput            Kind = "invalid_input"
	KindTypeMismatch            Kind = "type_mismatch"
	KindOverflow                Kind = "overflow"
	KindNotFound                Kind = "not_found"
	KindUnsupported             Kind = "unsupported"
)

// Error is the structured error type used throughout the module
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Rule   string // specific violated rule, e.g. "section_length"
	Detail string
	Path   []string

	// Offset is an absolute byte offset into the input, valid when HasOffset is set.
	Offset    int
	HasOffset bool
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Rule != "" {
		b.WriteByte('(')
		b.WriteString(e.Rule)
		b.WriteByte(')')
	}

	if e.HasOffset {
		b.WriteString(" at byte ")
		b.WriteString(strconv.Itoa(e.Offset))
	}

	if len(e.Path) > 0 {
		b.WriteString(" in ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error.
// Phase and Kind must match; Rule is compared only when the target sets it.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if e.Phase != t.Phase || e.Kind != t.Kind {
		return false
	}
	return t.Rule == "" || t.Rule == e.Rule
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Rule sets the violated rule
func (b *Builder) Rule(rule string) *Builder {
	b.err.Rule = rule
	return b
}

// At sets the absolute byte offset
func (b *Builder) At(offset int) *Builder {
	b.err.Offset = offset
	b.err.HasOffset = true
	return b
}

// Path sets the location path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// Malformed creates a malformed module error located at a byte offset
func Malformed(rule string, offset int, section string, cause error) *Error {
	e := &Error{
		Phase:     PhaseParse,
		Kind:      KindMalformedModule,
		Rule:      rule,
		Offset:    offset,
		HasOffset: true,
		Cause:     cause,
	}
	if section != "" {
		e.Path = []string{section}
	}
	return e
}

// ValidationFailed creates a validation failure carrying the full report
func ValidationFailed(report any, detail string) *Error {
	return &Error{
		Phase:  PhaseValidate,
		Kind:   KindValidationFailure,
		Detail: detail,
		Value:  report,
	}
}

// SelectorCollision creates a selector collision error between two entries
func SelectorCollision(set, nameA, nameB, selector string) *Error {
	return &Error{
		Phase:  PhaseMetadata,
		Kind:   KindSelectorCollision,
		Rule:   "unique_" + set + "_selector",
		Path:   []string{set},
		Detail: fmt.Sprintf("%q and %q share selector %s", nameA, nameB, selector),
		Value:  [2]string{nameA, nameB},
	}
}

// CollaboratorUnavailable creates an error for an optimizer that could not run
func CollaboratorUnavailable(cause error) *Error {
	return &Error{
		Phase:  PhaseOptimize,
		Kind:   KindCollaboratorUnavailable,
		Detail: "optimizer unavailable",
		Cause:  cause,
	}
}

// CollaboratorRejected creates an error for optimizer output that was discarded
func CollaboratorRejected(rule, detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseOptimize,
		Kind:   KindCollaboratorRejected,
		Rule:   rule,
		Detail: detail,
		Cause:  cause,
	}
}

// Inconsistency creates an internal inconsistency error.
// It signals a defect in the pipeline itself.
func Inconsistency(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInternalInconsistency,
		Detail: detail,
	}
}

// CompileFailed wraps an error returned by the external compile step
func CompileFailed(cause error) *Error {
	return &Error{
		Phase:  PhaseCompile,
		Kind:   KindCompileFailed,
		Detail: "compile contract",
		Cause:  cause,
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// TypeMismatch creates a type mismatch error
func TypeMismatch(phase Phase, path []string, want, got string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindTypeMismatch,
		Path:   path,
		Detail: fmt.Sprintf("expected %s, got %s", want, got),
	}
}

// Overflow creates an overflow error
func Overflow(phase Phase, path []string, value any, targetType string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOverflow,
		Path:   path,
		Detail: fmt.Sprintf("value %v overflows %s", value, targetType),
		Value:  value,
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}
