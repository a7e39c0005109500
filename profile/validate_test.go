package profile_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wippyai/wasm-contract/errors"
	"github.com/wippyai/wasm-contract/internal/testbed"
	"github.com/wippyai/wasm-contract/profile"
	"github.com/wippyai/wasm-contract/wasm"
)

func mustProfile(t *testing.T, cfg profile.Config) *profile.Profile {
	t.Helper()
	p, err := profile.New(cfg)
	require.NoError(t, err)
	return p
}

func voidSig() *profile.SignatureConfig {
	return &profile.SignatureConfig{Params: []string{}, Results: []string{}}
}

func TestValidate_DisallowedImport(t *testing.T) {
	b := testbed.NewBuilder()
	b.ImportMemory("env", "memory", 1, nil)
	b.ImportFunc("env", "unknown_fn", testbed.Void)
	m := b.Module()

	p := mustProfile(t, profile.Config{AllowedImportTargets: []string{"env.memory"}})
	report := profile.Validate(m, p)

	require.Equal(t, 1, report.Len())
	v := report.Violations()[0]
	require.Equal(t, profile.DisallowedImport, v.Kind)
	require.Equal(t, "env", v.Module)
	require.Equal(t, "unknown_fn", v.Field)
	require.Equal(t, "import[1]", v.Location)
}

func TestValidate_MissingExport(t *testing.T) {
	p := mustProfile(t, profile.Config{
		RequiredExports: []profile.ExportConfig{{Name: "call", Signature: voidSig()}},
	})

	b := testbed.NewBuilder()
	b.ExportFunc("deploy", b.Func(testbed.Void, testbed.Body()))
	report := profile.Validate(b.Module(), p)
	require.Equal(t, 1, report.Len())
	require.Equal(t, profile.MissingExport, report.Violations()[0].Kind)
	require.Equal(t, "call", report.Violations()[0].Export)

	b.ExportFunc("call", b.Func(testbed.Void, testbed.Body()))
	report = profile.Validate(b.Module(), p)
	require.True(t, report.Empty(), report.String())
	require.NoError(t, report.Err())
}

func TestValidate_ExportSignatureMismatch(t *testing.T) {
	p := mustProfile(t, profile.Config{
		RequiredExports: []profile.ExportConfig{
			{Name: "call", Signature: voidSig()},
			{Name: "deploy"},
		},
	})

	b := testbed.NewBuilder()
	b.ExportFunc("call", b.Func(testbed.Sig([]wasm.ValType{wasm.ValI32}), testbed.Body()))
	b.Export("deploy", wasm.KindGlobal, b.Global(0))

	report := profile.Validate(b.Module(), p)
	got := report.ByKind(profile.ExportSignatureMismatch)
	require.Len(t, got, 2)
	require.Equal(t, "() -> ()", got[0].Want)
	require.Equal(t, "(i32) -> ()", got[0].Got)
	require.Equal(t, "func", got[1].Want)
	require.Equal(t, "global", got[1].Got)
}

func TestValidate_DisallowedInstruction(t *testing.T) {
	b := testbed.NewBuilder()
	b.ImportFunc("seal0", "seal_return", testbed.Void)
	b.Func(testbed.Void, testbed.Body())
	b.Func(testbed.Void, testbed.Body(
		testbed.I32Const(1),
		testbed.Drop(),
		testbed.F32Const(),
		testbed.Drop(),
	))

	p := mustProfile(t, profile.Config{
		AllowedImportTargets:       []string{"seal0.*"},
		DisallowedInstructionKinds: []string{"float"},
	})
	report := profile.Validate(b.Module(), p)
	require.Equal(t, 1, report.Len())

	v := report.Violations()[0]
	require.Equal(t, profile.DisallowedInstruction, v.Kind)
	require.Equal(t, uint32(2), v.FunctionIndex)
	require.Equal(t, 3, v.Offset)
	require.Equal(t, wasm.ClassFloat, v.Class)
	require.Equal(t, "0x43", v.Opcode)
}

func TestValidate_UndecodableCode(t *testing.T) {
	m := &wasm.Module{Sections: []wasm.Section{
		&wasm.TypeSection{Types: []wasm.FuncType{{}}},
		&wasm.FunctionSection{TypeIndices: []uint32{0}},
		&wasm.CodeSection{Bodies: []wasm.FuncBody{{Code: []byte{wasm.OpNop}}}},
	}}
	p := mustProfile(t, profile.Config{DisallowedInstructionKinds: []string{"float"}})

	report := profile.Validate(m, p)
	require.Equal(t, 1, report.Len())
	require.Equal(t, profile.UndecodableCode, report.Violations()[0].Kind)
	require.ErrorIs(t, report.Violations()[0].Cause, wasm.ErrTruncated)
}

func TestValidate_MemoryLimit(t *testing.T) {
	tests := []struct {
		name         string
		min          uint64
		max          *uint64
		checkInitial bool
		violates     bool
	}{
		{"within", 1, testbed.Pages(16), false, false},
		{"max above", 1, testbed.Pages(17), false, true},
		{"no max", 2, nil, false, false},
		// Only a declared maximum is bounded unless CheckInitial is set.
		{"no max, initial above", 20, nil, false, false},
		{"no max, initial above, check initial", 20, nil, true, true},
		{"no max, initial within, check initial", 16, nil, true, false},
		{"max above, check initial", 1, testbed.Pages(17), true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := mustProfile(t, profile.Config{MemoryLimits: profile.MemoryLimitsConfig{
				MaxPages:     testbed.Pages(16),
				CheckInitial: tt.checkInitial,
			}})
			b := testbed.NewBuilder()
			b.ImportMemory("env", "memory", tt.min, tt.max)
			report := profile.Validate(b.Module(), p)
			require.Equal(t, tt.violates, !report.Empty(), report.String())
			if tt.violates {
				v := report.Violations()[0]
				require.Equal(t, profile.MemoryLimitExceeded, v.Kind)
				require.Equal(t, uint64(16), v.Limit)
			}
		})
	}
}

func TestLoad_CheckInitial(t *testing.T) {
	p, err := profile.Load(strings.NewReader("memory_limits: {max_pages: 4, check_initial: true}\n"))
	require.NoError(t, err)

	b := testbed.NewBuilder()
	b.ImportMemory("env", "memory", 20, nil)
	require.Len(t, profile.Validate(b.Module(), p).ByKind(profile.MemoryLimitExceeded), 1)
	require.Len(t, profile.Validate(b.Module(), profile.Baseline()).ByKind(profile.MemoryLimitExceeded), 1)
}

// Each independently broken rule shows up exactly once.
func TestValidate_ReportsEveryViolation(t *testing.T) {
	b := testbed.NewBuilder()
	b.ImportFunc("env", "gas", testbed.Void)
	b.ImportMemory("env", "memory", 1, testbed.Pages(64))
	b.ExportFunc("call", b.Func(testbed.Sig(nil, wasm.ValI32), testbed.Body(testbed.I32Const(0))))
	b.Func(testbed.Void, testbed.Body(testbed.F32Const(), testbed.Drop()))

	p := mustProfile(t, profile.Config{
		AllowedImportTargets:       []string{"env.memory"},
		DisallowedInstructionKinds: []string{"float"},
		RequiredExports: []profile.ExportConfig{
			{Name: "deploy"},
			{Name: "call", Signature: voidSig()},
		},
		MemoryLimits: profile.MemoryLimitsConfig{MaxPages: testbed.Pages(16)},
	})

	report := profile.Validate(b.Module(), p)
	var kinds []profile.ViolationKind
	for _, v := range report.Violations() {
		kinds = append(kinds, v.Kind)
	}
	require.Equal(t, []profile.ViolationKind{
		profile.DisallowedImport,
		profile.DisallowedInstruction,
		profile.MissingExport,
		profile.ExportSignatureMismatch,
		profile.MemoryLimitExceeded,
	}, kinds)

	err := report.Err()
	require.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseValidate, Kind: errors.KindValidationFailure})
	for _, v := range report.Violations() {
		require.Contains(t, err.Error(), v.String())
	}
}

func TestValidate_Deterministic(t *testing.T) {
	b := testbed.NewBuilder()
	b.ImportFunc("a", "x", testbed.Void)
	b.ImportFunc("b", "y", testbed.Void)
	m := b.Module()
	p := mustProfile(t, profile.Config{})

	first := profile.Validate(m, p)
	second := profile.Validate(m, p)
	require.Equal(t, first.Violations(), second.Violations())
	require.Equal(t, 2, first.Len())
}
