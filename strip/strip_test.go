package strip_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wippyai/wasm-contract/errors"
	"github.com/wippyai/wasm-contract/internal/testbed"
	"github.com/wippyai/wasm-contract/profile"
	"github.com/wippyai/wasm-contract/strip"
	"github.com/wippyai/wasm-contract/wasm"
)

func TestDeveloperOnly(t *testing.T) {
	for _, name := range []string{
		"name", "producers", "sourceMappingURL", "external_debug_info",
		"target_features", "linking", "reloc.CODE", ".debug_info", ".debug_line",
	} {
		require.True(t, strip.DeveloperOnly(name), name)
	}
	for _, name := range []string{"contract-metadata", "debug", "names", ""} {
		require.False(t, strip.DeveloperOnly(name), name)
	}
}

// tenFunctions builds a module with ten defined functions. Function indices
// are shifted by the single import, so defined function i has index i+1.
//
//	f0 "call"   -> f7
//	f1 "deploy"
//	f7          -> global 1
//	f4          -> f5, global 0  (dead)
//	f9 "dump"   -> f0            (dead, export is not a root)
func tenFunctions() *wasm.Module {
	b := testbed.NewBuilder()
	ret := b.ImportFunc("seal0", "seal_return", testbed.Void)
	b.ImportMemory("env", "memory", 1, testbed.Pages(16))
	g0 := b.Global(1)
	g1 := b.Global(2)

	fn := func(i int) uint32 { return uint32(i) + 1 }
	bodies := map[int][]byte{
		0: testbed.Body(testbed.Call(fn(7))),
		1: testbed.Body(testbed.Call(ret)),
		4: testbed.Body(testbed.Call(fn(5)), testbed.GlobalGet(g0), testbed.Drop()),
		7: testbed.Body(testbed.GlobalGet(g1), testbed.Drop()),
		9: testbed.Body(testbed.Call(fn(0))),
	}
	for i := 0; i < 10; i++ {
		body, ok := bodies[i]
		if !ok {
			body = testbed.Body(testbed.I32Const(int32(i)), testbed.Drop())
		}
		b.Func(testbed.Void, body)
	}
	b.ExportFunc("call", fn(0))
	b.ExportFunc("deploy", fn(1))
	b.ExportFunc("dump", fn(9))
	b.Custom("name", []byte{0x00})
	b.Custom("contract-info", []byte("kept"))
	return b.Module()
}

func contractProfile(t *testing.T) *profile.Profile {
	t.Helper()
	void := &profile.SignatureConfig{Params: []string{}, Results: []string{}}
	p, err := profile.New(profile.Config{
		AllowedImportTargets:       []string{"seal0.*", "env.memory"},
		DisallowedInstructionKinds: []string{"float"},
		RequiredExports: []profile.ExportConfig{
			{Name: "call", Signature: void},
			{Name: "deploy", Signature: void},
		},
		MemoryLimits: profile.MemoryLimitsConfig{MaxPages: testbed.Pages(16)},
	})
	require.NoError(t, err)
	return p
}

func reparse(t *testing.T, m *wasm.Module) *wasm.Module {
	t.Helper()
	out, err := wasm.Parse(m.Encode())
	require.NoError(t, err)
	return out
}

func TestModule_KeepsOnlyReachable(t *testing.T) {
	m := tenFunctions()
	out, stats, err := strip.Module(m, []string{"call", "deploy"}, nil)
	require.NoError(t, err)
	out = reparse(t, out)

	require.Equal(t, strip.Stats{CustomSections: 1, Functions: 7, Globals: 1, Exports: 1}, stats)
	require.True(t, stats.Removed())

	// f0, f1 and f7 survive as functions 1, 2 and 3.
	require.Len(t, out.Bodies(), 3)
	require.Equal(t, testbed.Body(testbed.Call(3)), out.Bodies()[0].Code)
	require.Equal(t, testbed.Body(testbed.Call(0)), out.Bodies()[1].Code)
	require.Equal(t, testbed.Body(testbed.GlobalGet(0), testbed.Drop()), out.Bodies()[2].Code)

	require.Len(t, out.Globals(), 1)
	require.Equal(t, testbed.Body(testbed.I32Const(2)), out.Globals()[0].Init)

	var names []string
	for _, e := range out.Exports() {
		names = append(names, e.Name)
	}
	require.Equal(t, []string{"call", "deploy"}, names)
	deploy, _ := out.Export("deploy")
	require.Equal(t, uint32(2), deploy.Index)

	customs := out.CustomSections()
	require.Len(t, customs, 1)
	require.Equal(t, "contract-info", customs[0].Name)

	// Imports and types are untouched.
	require.Equal(t, wasm.EncodeSection(m.ImportSection()), wasm.EncodeSection(out.ImportSection()))
	require.Equal(t, wasm.EncodeSection(m.TypeSection()), wasm.EncodeSection(out.TypeSection()))
}

func TestModule_Idempotent(t *testing.T) {
	modules := map[string]*wasm.Module{
		"ten functions": tenFunctions(),
		"table and start": func() *wasm.Module {
			b := testbed.NewBuilder()
			b.Func(testbed.Void, testbed.Body())
			indirect := b.Func(testbed.Void, testbed.Body())
			start := b.Func(testbed.Void, testbed.Body())
			b.ExportFunc("call", b.Func(testbed.Void, testbed.Body()))
			b.Table(indirect)
			b.Start(start)
			b.Custom("producers", []byte{0x00})
			return b.Module()
		}(),
	}
	for name, m := range modules {
		t.Run(name, func(t *testing.T) {
			once, _, err := strip.Module(m, nil, nil)
			require.NoError(t, err)
			once = reparse(t, once)

			twice, stats, err := strip.Module(once, nil, nil)
			require.NoError(t, err)
			require.False(t, stats.Removed())
			require.Equal(t, once.Encode(), twice.Encode())
		})
	}
}

func TestModule_TableAndStartAreRoots(t *testing.T) {
	b := testbed.NewBuilder()
	b.Func(testbed.Void, testbed.Body()) // dead
	indirect := b.Func(testbed.Void, testbed.Body())
	start := b.Func(testbed.Void, testbed.Body(testbed.I32Const(9), testbed.Drop()))
	b.ExportFunc("call", b.Func(testbed.Void, testbed.Body()))
	b.Table(indirect)
	b.Start(start)

	out, stats, err := strip.Module(b.Module(), []string{"call"}, nil)
	require.NoError(t, err)
	out = reparse(t, out)

	require.Equal(t, 1, stats.Functions)
	require.Len(t, out.Bodies(), 3)
	require.Equal(t, []uint32{0}, out.Elements()[0].FuncIdxs)
	s, ok := out.Start()
	require.True(t, ok)
	require.Equal(t, uint32(1), s)
	require.Equal(t, testbed.Body(testbed.I32Const(9), testbed.Drop()), out.Bodies()[s].Code)
}

func TestModule_EmptyRootsKeepEveryExport(t *testing.T) {
	m := tenFunctions()
	out, stats, err := strip.Module(m, nil, nil)
	require.NoError(t, err)
	require.Zero(t, stats.Exports)
	// f9 stays alive through its export and keeps f0 and f7 alive.
	require.Equal(t, 6, stats.Functions)
	require.Len(t, reparse(t, out).Exports(), 3)
}

func TestModule_KeepCustom(t *testing.T) {
	b := testbed.NewBuilder()
	b.ExportFunc("call", b.Func(testbed.Void, testbed.Body()))
	b.Custom("producers", []byte{0x01})
	b.Custom(".debug_info", []byte{0x02})

	out, stats, err := strip.Module(b.Module(), nil, []string{"producers"})
	require.NoError(t, err)
	require.Equal(t, 1, stats.CustomSections)
	require.Len(t, out.CustomSections(), 1)
	require.Equal(t, "producers", out.CustomSections()[0].Name)
}

func TestModule_UnknownRoot(t *testing.T) {
	_, _, err := strip.Module(tenFunctions(), []string{"missing"}, nil)
	require.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseStrip, Kind: errors.KindNotFound})
}

func TestModule_DoesNotModifyInput(t *testing.T) {
	m := tenFunctions()
	before := m.Encode()
	_, _, err := strip.Module(m, []string{"call"}, nil)
	require.NoError(t, err)
	require.Equal(t, before, m.Encode())
}

func TestModule_PreservesProfile(t *testing.T) {
	p := contractProfile(t)
	m := tenFunctions()
	require.True(t, profile.Validate(m, p).Empty())

	out, _, err := strip.Module(m, p.RequiredExportNames(), nil)
	require.NoError(t, err)
	report := profile.Validate(reparse(t, out), p)
	require.True(t, report.Empty(), report.String())
}
