package pipeline_test

import (
	"context"
	stderrors "errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wippyai/wasm-contract/errors"
	"github.com/wippyai/wasm-contract/internal/testbed"
	"github.com/wippyai/wasm-contract/metadata"
	"github.com/wippyai/wasm-contract/optimizer"
	"github.com/wippyai/wasm-contract/pipeline"
	"github.com/wippyai/wasm-contract/profile"
	"github.com/wippyai/wasm-contract/wasm"
)

func contractProfile(t *testing.T) *profile.Profile {
	t.Helper()
	p, err := profile.Load(strings.NewReader(`
allowed_import_targets: [seal0.*, env.memory]
disallowed_instruction_kinds: [float]
required_exports:
  - name: call
    signature: {params: [], results: []}
  - name: deploy
    signature: {params: [], results: []}
memory_limits:
  max_pages: 16
`))
	require.NoError(t, err)
	return p
}

// contract has one dead function, a debug section and the given extra
// imports.
func contract(extraImports ...string) []byte {
	b := testbed.NewBuilder()
	ret := b.ImportFunc("seal0", "seal_return", testbed.Void)
	for _, name := range extraImports {
		module, field, _ := strings.Cut(name, ".")
		b.ImportFunc(module, field, testbed.Void)
	}
	b.ImportMemory("env", "memory", 1, testbed.Pages(16))
	b.Func(testbed.Void, testbed.Body(testbed.I32Const(1), testbed.Drop()))
	b.ExportFunc("call", b.Func(testbed.Void, testbed.Body(testbed.Call(ret))))
	b.ExportFunc("deploy", b.Func(testbed.Void, testbed.Body()))
	b.Custom("producers", []byte{0x00})
	return b.Bytes()
}

func options(t *testing.T) pipeline.Options {
	return pipeline.Options{
		Profile: contractProfile(t),
		Interface: metadata.InterfaceSpec{
			Constructors: []metadata.Constructor{{Name: "new"}},
			Messages: []metadata.Message{
				{Name: "transfer", Args: []metadata.Arg{{Name: "value", Type: "u32"}}, Mutates: true},
				{Name: "transfer", Args: []metadata.Arg{{Name: "value", Type: "u64"}}, Mutates: true},
			},
		},
		Package:  metadata.PackageFacts{Name: "token", Version: "1.2.3", Authors: []string{"dev"}},
		Metadata: []metadata.Option{metadata.WithLanguage("ink! 5.0.0")},
	}
}

func TestBuild(t *testing.T) {
	input := contract()
	res, err := pipeline.Build(context.Background(), input, options(t))
	require.NoError(t, err)
	require.Empty(t, res.Warnings)
	require.False(t, res.Optimized)

	require.Equal(t, len(input), res.SizeInput)
	require.Less(t, res.SizeFinal, res.SizeInput)
	require.Equal(t, 1, res.Stats.Functions)
	require.Equal(t, 1, res.Stats.CustomSections)

	code := res.Bundle.Code()
	require.Equal(t, res.SizeFinal, len(code))
	require.Equal(t, metadata.HashCode(code), res.Bundle.Hash())

	doc := res.Bundle.Document()
	require.Equal(t, metadata.HashCode(code).String(), doc.Source.Hash)
	require.Equal(t, "ink! 5.0.0", doc.Source.Language)
	require.NotEqual(t, doc.Spec.Messages[0].Selector, doc.Spec.Messages[1].Selector)

	m, err := wasm.Parse(code)
	require.NoError(t, err)
	require.True(t, profile.Validate(m, contractProfile(t)).Empty())
}

func TestBuild_FatalStages(t *testing.T) {
	tests := []struct {
		name   string
		code   []byte
		mutate func(*pipeline.Options)
		phase  errors.Phase
		kind   errors.Kind
	}{
		{"malformed", []byte("\x00asm\x02\x00\x00\x00"), nil, errors.PhaseParse, errors.KindMalformedModule},
		{"disallowed import", contract("env.unknown_fn"), nil, errors.PhaseValidate, errors.KindValidationFailure},
		{"selector collision", contract(), func(o *pipeline.Options) {
			o.Interface.Messages = append(o.Interface.Messages, o.Interface.Messages[0])
		}, errors.PhaseMetadata, errors.KindSelectorCollision},
		{"bad package", contract(), func(o *pipeline.Options) {
			o.Package.Version = "latest"
		}, errors.PhaseMetadata, errors.KindInvalidInput},
		{"no profile", contract(), func(o *pipeline.Options) {
			o.Profile = nil
		}, errors.PhaseConfig, errors.KindInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := options(t)
			if tt.mutate != nil {
				tt.mutate(&opts)
			}
			res, err := pipeline.Build(context.Background(), tt.code, opts)
			require.Nil(t, res)
			require.ErrorIs(t, err, &errors.Error{Phase: tt.phase, Kind: tt.kind})
		})
	}
}

func TestBuild_ValidationReportListsViolations(t *testing.T) {
	_, err := pipeline.Build(context.Background(), contract("env.unknown_fn"), options(t))
	var e *errors.Error
	require.ErrorAs(t, err, &e)
	report, ok := e.Value.(profile.Report)
	require.True(t, ok)
	require.Len(t, report.ByKind(profile.DisallowedImport), 1)
	require.Equal(t, "env", report.Violations()[0].Module)
	require.Equal(t, "unknown_fn", report.Violations()[0].Field)
}

func TestBuild_OptimizerWarning(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	opts := options(t)
	opts.Logger = zap.New(core)
	opts.Optimizer = optimizer.Func(func(context.Context, []byte) ([]byte, error) {
		return nil, stderrors.New("wasm-opt crashed")
	})

	res, err := pipeline.Build(context.Background(), contract(), opts)
	require.NoError(t, err)
	require.False(t, res.Optimized)
	require.Len(t, res.Warnings, 1)
	require.Equal(t, errors.KindCollaboratorUnavailable, res.Warnings[0].Kind())
	require.Equal(t, metadata.HashCode(res.Bundle.Code()), res.Bundle.Hash())

	warned := logs.FilterMessage("optimizer skipped").All()
	require.Len(t, warned, 1)
	require.Equal(t, string(errors.KindCollaboratorUnavailable), warned[0].ContextMap()["kind"])
}

func TestBuildFrom(t *testing.T) {
	compiled := pipeline.CompilerFunc(func(context.Context) ([]byte, error) {
		return contract(), nil
	})
	res, err := pipeline.BuildFrom(context.Background(), compiled, options(t))
	require.NoError(t, err)
	require.NotNil(t, res.Bundle)

	cause := stderrors.New("cargo failed")
	broken := pipeline.CompilerFunc(func(context.Context) ([]byte, error) {
		return nil, cause
	})
	_, err = pipeline.BuildFrom(context.Background(), broken, options(t))
	require.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseCompile, Kind: errors.KindCompileFailed})
	require.ErrorIs(t, err, cause)
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := pipeline.NewMetrics(reg)
	require.NoError(t, err)

	opts := options(t)
	opts.Metrics = m
	_, err = pipeline.Build(context.Background(), contract(), opts)
	require.NoError(t, err)
	_, err = pipeline.Build(context.Background(), contract("env.unknown_fn"), opts)
	require.Error(t, err)

	opts.Optimizer = optimizer.Func(func(context.Context, []byte) ([]byte, error) {
		return []byte("junk"), nil
	})
	_, err = pipeline.Build(context.Background(), contract(), opts)
	require.NoError(t, err)

	expected := `
# HELP contract_build_builds_total Pipeline runs by outcome: ok or the error kind.
# TYPE contract_build_builds_total counter
contract_build_builds_total{outcome="ok"} 2
contract_build_builds_total{outcome="validation_failure"} 1
# HELP contract_build_collaborator_warnings_total Discarded optimizer runs by warning kind and rule.
# TYPE contract_build_collaborator_warnings_total counter
contract_build_collaborator_warnings_total{kind="collaborator_rejected",rule="parse"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"contract_build_builds_total", "contract_build_collaborator_warnings_total"))

	// One series per stage that ran.
	n, err := testutil.GatherAndCount(reg, "contract_build_stage_duration_seconds")
	require.NoError(t, err)
	require.Equal(t, 5, n)

	_, err = pipeline.NewMetrics(reg)
	require.Error(t, err, "collectors are already registered")
}
