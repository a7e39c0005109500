package pipeline

import (
	"context"
	stderrors "errors"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-contract/bundle"
	"github.com/wippyai/wasm-contract/errors"
	"github.com/wippyai/wasm-contract/metadata"
	"github.com/wippyai/wasm-contract/profile"
	"github.com/wippyai/wasm-contract/strip"
	"github.com/wippyai/wasm-contract/wasm"
)

// Stage names used in logs and metrics.
const (
	StageCompile  = "compile"
	StageParse    = "parse"
	StageValidate = "validate"
	StageStrip    = "strip"
	StageMetadata = "metadata"
	StagePackage  = "package"
)

// Compiler produces the raw module. It is the collaborator that turns
// contract source into Wasm.
type Compiler interface {
	Compile(ctx context.Context) ([]byte, error)
}

// CompilerFunc adapts a function to Compiler.
type CompilerFunc func(ctx context.Context) ([]byte, error)

// Compile calls f.
func (f CompilerFunc) Compile(ctx context.Context) ([]byte, error) {
	return f(ctx)
}

// Options are the inputs of a build besides the module itself.
type Options struct {
	// Profile is required.
	Profile   *profile.Profile
	Interface metadata.InterfaceSpec
	Package   metadata.PackageFacts

	// Optimizer is optional; its problems become warnings.
	Optimizer        strip.Optimizer
	OptimizerTimeout time.Duration
	// Checker compiles optimizer output; nil uses the engine package.
	Checker    strip.Checker
	KeepCustom []string

	// Metadata options such as metadata.WithLanguage.
	Metadata []metadata.Option

	Logger  *zap.Logger
	Metrics *Metrics
}

// Result is a successful build.
type Result struct {
	Bundle   *bundle.Bundle
	Warnings []strip.Warning
	Stats    strip.Stats

	SizeInput    int
	SizeStripped int
	SizeFinal    int
	// Optimized is set when optimizer output was accepted.
	Optimized bool
}

// Build runs the pipeline on raw module bytes: parse, validate against the
// profile, strip and optimize, build metadata for the final bytes, package.
// Any stage error stops the build. Optimizer problems do not; they are
// returned as warnings.
func Build(ctx context.Context, code []byte, opts Options) (*Result, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	res, err := run(ctx, code, opts, log)
	outcome := "ok"
	if err != nil {
		outcome = "failed"
		var e *errors.Error
		if stderrors.As(err, &e) {
			outcome = string(e.Kind)
		}
		log.Error("build failed", zap.Error(err))
	}
	opts.Metrics.observeOutcome(outcome)
	return res, err
}

// BuildFrom compiles with c and builds the result. A compile error is fatal
// and no other stage runs.
func BuildFrom(ctx context.Context, c Compiler, opts Options) (*Result, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	var code []byte
	err := stage(opts, log, StageCompile, func() error {
		var err error
		code, err = c.Compile(ctx)
		if err != nil {
			return errors.CompileFailed(err)
		}
		return nil
	})
	if err != nil {
		log.Error("build failed", zap.Error(err))
		opts.Metrics.observeOutcome(string(errors.KindCompileFailed))
		return nil, err
	}
	return Build(ctx, code, opts)
}

func run(ctx context.Context, code []byte, opts Options, log *zap.Logger) (*Result, error) {
	if opts.Profile == nil {
		return nil, errors.InvalidInput(errors.PhaseConfig, "execution profile is required")
	}

	var m *wasm.Module
	if err := stage(opts, log, StageParse, func() error {
		var err error
		m, err = wasm.Parse(code)
		return err
	}); err != nil {
		return nil, err
	}

	if err := stage(opts, log, StageValidate, func() error {
		report := profile.Validate(m, opts.Profile)
		if report.Empty() {
			return nil
		}
		for _, v := range report.Violations() {
			log.Info("profile violation", zap.String("kind", string(v.Kind)), zap.String("detail", v.String()))
		}
		return report.Err()
	}); err != nil {
		return nil, err
	}

	var stripped *strip.Result
	if err := stage(opts, log, StageStrip, func() error {
		var err error
		stripped, err = strip.Run(ctx, m, strip.Options{
			Profile:    opts.Profile,
			Optimizer:  opts.Optimizer,
			Checker:    opts.Checker,
			KeepCustom: opts.KeepCustom,
			Timeout:    opts.OptimizerTimeout,
		})
		return err
	}); err != nil {
		return nil, err
	}
	for _, w := range stripped.Warnings {
		log.Warn("optimizer skipped",
			zap.String("kind", string(w.Kind())),
			zap.String("rule", w.Err.Rule),
			zap.Error(w.Err))
	}
	opts.Metrics.observeWarnings(stripped.Warnings)

	final := stripped.Code
	var doc *metadata.Document
	if err := stage(opts, log, StageMetadata, func() error {
		var err error
		doc, err = metadata.Build(opts.Interface, opts.Package, metadata.HashCode(final), opts.Metadata...)
		return err
	}); err != nil {
		return nil, err
	}

	var b *bundle.Bundle
	if err := stage(opts, log, StagePackage, func() error {
		var err error
		b, err = bundle.Package(final, doc)
		return err
	}); err != nil {
		return nil, err
	}

	opts.Metrics.observeSizes(len(code), len(final))
	log.Info("build finished",
		zap.String("contract", b.Name()),
		zap.String("hash", b.Hash().String()),
		zap.Int("size_input", len(code)),
		zap.Int("size_final", len(final)),
		zap.Bool("optimized", stripped.Optimized),
		zap.Int("warnings", len(stripped.Warnings)))

	return &Result{
		Bundle:       b,
		Warnings:     stripped.Warnings,
		Stats:        stripped.Stats,
		SizeInput:    len(code),
		SizeStripped: stripped.SizeStripped,
		SizeFinal:    len(final),
		Optimized:    stripped.Optimized,
	}, nil
}

// stage runs fn, timing and logging it.
func stage(opts Options, log *zap.Logger, name string, fn func() error) error {
	start := time.Now()
	log.Debug("stage started", zap.String("stage", name))
	err := fn()
	elapsed := time.Since(start)
	opts.Metrics.observeStage(name, elapsed)
	if err != nil {
		log.Debug("stage failed", zap.String("stage", name), zap.Duration("elapsed", elapsed), zap.Error(err))
		return err
	}
	log.Debug("stage finished", zap.String("stage", name), zap.Duration("elapsed", elapsed))
	return nil
}
