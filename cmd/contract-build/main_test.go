package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-contract/bundle"
	"github.com/wippyai/wasm-contract/errors"
	"github.com/wippyai/wasm-contract/internal/testbed"
)

const testProfile = `
allowed_import_targets: [seal0.*]
disallowed_instruction_kinds: [float]
required_exports:
  - name: call
    signature: {params: [], results: []}
memory_limits:
  max_pages: 16
`

const testInterface = `{
  "constructors": [{"name": "new", "args": [{"name": "supply", "type": "u128"}]}],
  "messages": [
    {"name": "transfer", "args": [{"name": "to", "type": "[u8; 4]"}, {"name": "value", "type": "u32"}], "mutates": true},
    {"name": "total_supply", "return_type": "u128"},
    {"name": "greet", "args": [{"name": "who", "type": "String"}, {"name": "times", "type": "u8"}]}
  ]
}`

const testPackage = `
name: token
version: 0.1.0
authors: [dev]
`

func writeInputs(t *testing.T, imports ...string) config {
	t.Helper()
	dir := t.TempDir()

	b := testbed.NewBuilder()
	for _, name := range append([]string{"seal0.seal_return"}, imports...) {
		module, field, _ := strings.Cut(name, ".")
		b.ImportFunc(module, field, testbed.Void)
	}
	b.Memory(1, testbed.Pages(16))
	b.Func(testbed.Void, testbed.Body(testbed.I32Const(7), testbed.Drop()))
	b.ExportFunc("call", b.Func(testbed.Void, testbed.Body(testbed.Call(0))))
	b.Custom("producers", []byte{0x00})

	files := map[string]string{
		"token.wasm":   string(b.Bytes()),
		"profile.yaml": testProfile,
		"iface.json":   testInterface,
		"package.yaml": testPackage,
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return config{
		wasm:     filepath.Join(dir, "token.wasm"),
		iface:    filepath.Join(dir, "iface.json"),
		pkg:      filepath.Join(dir, "package.yaml"),
		profile:  filepath.Join(dir, "profile.yaml"),
		language: "ink! 5.0.0",
	}
}

func TestRun(t *testing.T) {
	cfg := writeInputs(t)
	cfg.archive = filepath.Join(filepath.Dir(cfg.wasm), "out", "token.zip")
	cfg.calls = []string{"transfer 0x01020304 5", `greet "hi there" 2`}

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), cfg, zap.NewNop(), &out, newStyles(false)))

	b, err := bundle.ReadFile(strings.TrimSuffix(cfg.wasm, ".wasm") + ".contract")
	require.NoError(t, err)
	require.Equal(t, "token", b.Name())
	require.Equal(t, "ink! 5.0.0", b.Document().Source.Language)

	fromZip, err := bundle.ReadArchiveFile(cfg.archive)
	require.NoError(t, err)
	require.Equal(t, b.Hash(), fromZip.Hash())
	require.Equal(t, b.Code(), fromZip.Code())

	report := out.String()
	require.Contains(t, report, "token 0.1.0")
	require.Contains(t, report, b.Hash().String())
	require.Contains(t, report, "transfer([u8;4],u32)")
	require.Contains(t, report, "0102030405000000")
	require.Contains(t, report, "20686920746865726502", "quoted argument keeps its space")
	require.Contains(t, report, "1 functions")
	require.Contains(t, report, cfg.archive)
}

func TestRun_ExplicitOutput(t *testing.T) {
	cfg := writeInputs(t)
	cfg.out = filepath.Join(t.TempDir(), "nested", "token.contract")

	require.NoError(t, run(context.Background(), cfg, zap.NewNop(), &bytes.Buffer{}, newStyles(false)))
	_, err := bundle.ReadFile(cfg.out)
	require.NoError(t, err)
}

func TestRun_ValidationFailure(t *testing.T) {
	cfg := writeInputs(t, "env.debug_print")

	var out bytes.Buffer
	err := run(context.Background(), cfg, zap.NewNop(), &out, newStyles(false))
	require.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseValidate, Kind: errors.KindValidationFailure})
	require.Empty(t, out.String())

	var listed bytes.Buffer
	printViolations(&listed, err, newStyles(false))
	require.Contains(t, listed.String(), "env.debug_print")

	_, statErr := os.Stat(strings.TrimSuffix(cfg.wasm, ".wasm") + ".contract")
	require.True(t, os.IsNotExist(statErr), "no bundle is written for a failed build")
}

func TestRun_MissingOptimizerIsAWarning(t *testing.T) {
	cfg := writeInputs(t)
	cfg.optimizer = filepath.Join(t.TempDir(), "no-such-wasm-opt")

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), cfg, zap.NewNop(), &out, newStyles(false)))
	require.Contains(t, out.String(), "skipped ("+string(errors.KindCollaboratorUnavailable)+")")
}

func TestRun_BadInputs(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(t *testing.T, cfg *config)
		kind   errors.Kind
	}{
		{"unknown interface field", func(t *testing.T, cfg *config) {
			require.NoError(t, os.WriteFile(cfg.iface, []byte(`{"messages": [], "selectors": []}`), 0o644))
		}, errors.KindInvalidInput},
		{"missing profile", func(t *testing.T, cfg *config) {
			cfg.profile = filepath.Join(t.TempDir(), "absent.yaml")
		}, errors.KindNotFound},
		{"bad version", func(t *testing.T, cfg *config) {
			require.NoError(t, os.WriteFile(cfg.pkg, []byte("name: token\nversion: v1\nauthors: []\n"), 0o644))
		}, errors.KindInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := writeInputs(t)
			tt.mutate(t, &cfg)
			err := run(context.Background(), cfg, zap.NewNop(), &bytes.Buffer{}, newStyles(false))
			var e *errors.Error
			require.ErrorAs(t, err, &e)
			require.Equal(t, tt.kind, e.Kind)
		})
	}
}

func TestPrintSchema(t *testing.T) {
	for _, which := range []string{"metadata", "bundle"} {
		var out bytes.Buffer
		require.NoError(t, printSchema(&out, which))
		require.Contains(t, out.String(), `"format_version"`)
	}
	var out bytes.Buffer
	require.NoError(t, printSchema(&out, "bundle"))
	require.Contains(t, out.String(), `"source_wasm"`)

	require.Error(t, printSchema(&bytes.Buffer{}, "profile"))
}

func TestParseCall(t *testing.T) {
	name, args, err := parseCall(`  greet "hello world" (1, 2) `)
	require.NoError(t, err)
	require.Equal(t, "greet", name)
	require.Equal(t, []string{`"hello world"`, "(1, 2)"}, args)

	name, args, err = parseCall("flip")
	require.NoError(t, err)
	require.Equal(t, "flip", name)
	require.Empty(t, args)

	_, _, err = parseCall(`greet "open`)
	require.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseTranscode, Kind: errors.KindInvalidInput, Rule: "value_syntax"})
}

func TestSplitList(t *testing.T) {
	require.Nil(t, splitList(""))
	require.Equal(t, []string{"name", "producers"}, splitList(" name, ,producers"))
}
