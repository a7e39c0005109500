package strip

import (
	"context"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-contract/engine"
	"github.com/wippyai/wasm-contract/errors"
	"github.com/wippyai/wasm-contract/profile"
	"github.com/wippyai/wasm-contract/wasm"
)

// Optimizer is the external size optimizer: bytes in, bytes out.
type Optimizer interface {
	Optimize(ctx context.Context, code []byte) ([]byte, error)
}

// Checker compiles candidate bytes; *engine.Engine implements it.
type Checker interface {
	Check(ctx context.Context, code []byte) (*engine.Summary, error)
}

type checkFunc func(ctx context.Context, code []byte) (*engine.Summary, error)

func (f checkFunc) Check(ctx context.Context, code []byte) (*engine.Summary, error) {
	return f(ctx, code)
}

// DefaultTimeout bounds an optimizer call when Options.Timeout is zero.
const DefaultTimeout = 30 * time.Second

// Options configures Run.
type Options struct {
	// Profile is re-checked on optimizer output. Its required exports are
	// the roots when Roots is empty.
	Profile *profile.Profile
	// Optimizer is optional.
	Optimizer Optimizer
	// Checker compiles optimizer output; nil uses engine.Check.
	Checker Checker
	// Roots are export names to keep.
	Roots []string
	// KeepCustom names custom sections to keep even if DeveloperOnly.
	KeepCustom []string
	// Timeout bounds the optimizer call.
	Timeout time.Duration
}

// Warning records a non-fatal collaborator problem. Err is an
// errors.KindCollaboratorUnavailable or errors.KindCollaboratorRejected error.
type Warning struct {
	Err *errors.Error
}

// Kind returns the warning's error kind.
func (w Warning) Kind() errors.Kind {
	return w.Err.Kind
}

func (w Warning) String() string {
	return w.Err.Error()
}

// Result is the output of Run.
type Result struct {
	Module   *wasm.Module
	Code     []byte
	Warnings []Warning
	Stats    Stats

	SizeBefore int
	// SizeStripped is the size after Module, before the optimizer.
	SizeStripped int
	// Optimized is set when optimizer output was accepted.
	Optimized bool
}

// Run strips m and, when an optimizer is configured, tries to shrink it
// further. Optimizer failures never fail the run.
func Run(ctx context.Context, m *wasm.Module, opts Options) (*Result, error) {
	roots := opts.Roots
	if len(roots) == 0 && opts.Profile != nil {
		roots = opts.Profile.RequiredExportNames()
	}

	before := len(m.Encode())
	stripped, stats, err := Module(m, roots, opts.KeepCustom)
	if err != nil {
		return nil, err
	}
	code := stripped.Encode()

	res := &Result{
		Module:       stripped,
		Code:         code,
		Stats:        stats,
		SizeBefore:   before,
		SizeStripped: len(code),
	}
	Logger().Info("module stripped",
		zap.Int("size_before", before),
		zap.Int("size_after", len(code)),
		zap.Int("custom_sections", stats.CustomSections),
		zap.Int("functions", stats.Functions),
		zap.Int("globals", stats.Globals),
		zap.Int("exports", stats.Exports))

	if opts.Optimizer == nil {
		return res, nil
	}

	optimized, optCode, werr := optimize(ctx, stripped, code, roots, opts)
	if werr != nil {
		w := Warning{Err: werr}
		res.Warnings = append(res.Warnings, w)
		Logger().Warn("optimizer output discarded",
			zap.String("kind", string(werr.Kind)),
			zap.String("rule", werr.Rule),
			zap.Error(werr))
		return res, nil
	}

	res.Module = optimized
	res.Code = optCode
	res.Optimized = true
	Logger().Info("optimizer output accepted",
		zap.Int("size_before", len(code)),
		zap.Int("size_after", len(optCode)))
	return res, nil
}

// optimize calls the collaborator and accepts its output only if it keeps
// the guarantees the stripped module already has.
func optimize(ctx context.Context, in *wasm.Module, code []byte, roots []string, opts Options) (*wasm.Module, []byte, *errors.Error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	octx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := opts.Optimizer.Optimize(octx, slices.Clone(code))
	if err != nil {
		return nil, nil, errors.CollaboratorUnavailable(err)
	}
	if ctxErr := octx.Err(); ctxErr != nil {
		return nil, nil, errors.CollaboratorUnavailable(ctxErr)
	}
	out = slices.Clone(out)

	if len(out) > len(code) {
		return nil, nil, errors.CollaboratorRejected("size", "output is larger than input", nil)
	}

	om, err := wasm.Parse(out)
	if err != nil {
		return nil, nil, errors.CollaboratorRejected("parse", "output does not parse", err)
	}

	checker := opts.Checker
	if checker == nil {
		checker = checkFunc(engine.Check)
	}
	if _, err := checker.Check(ctx, out); err != nil {
		return nil, nil, errors.CollaboratorRejected("compile", "output does not compile", err)
	}

	if opts.Profile != nil {
		if report := profile.Validate(om, opts.Profile); !report.Empty() {
			return nil, nil, errors.CollaboratorRejected("profile", "output violates the execution profile", report.Err())
		}
	}

	for _, name := range rootNames(in, roots) {
		want, _ := in.Export(name)
		got, ok := om.Export(name)
		if !ok || got.Kind != want.Kind {
			return nil, nil, errors.CollaboratorRejected("required_exports", "output changed export "+name, nil)
		}
	}

	allowed := make(map[string]bool)
	for _, imp := range in.Imports() {
		allowed[imp.Target()] = true
	}
	for _, imp := range om.Imports() {
		if !allowed[imp.Target()] {
			return nil, nil, errors.CollaboratorRejected("import_targets", "output imports "+imp.Target(), nil)
		}
	}
	return om, out, nil
}

// rootNames returns roots, or every export name when roots is empty.
func rootNames(m *wasm.Module, roots []string) []string {
	if len(roots) > 0 {
		return roots
	}
	var names []string
	for _, e := range m.Exports() {
		names = append(names, e.Name)
	}
	return names
}
