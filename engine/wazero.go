package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"
	"go.uber.org/zap"
)

// ErrRejected is the cause of every Check failure due to the module itself.
var ErrRejected = errors.New("module rejected by engine")

// Config holds configuration for engine creation
type Config struct {
	// MemoryLimitPages caps memories during compilation (64KB pages).
	// 0 means the wazero default.
	MemoryLimitPages uint32

	// EnableThreads accepts atomic instructions and shared memory.
	EnableThreads bool

	// Interpreter selects wazero's interpreter instead of the compiler,
	// which makes checks cheaper on platforms where compilation is slow.
	Interpreter bool
}

// Engine wraps a wazero runtime used only for compilation checks.
type Engine struct {
	runtime wazero.Runtime
}

// New creates an engine. A nil cfg uses defaults.
func New(ctx context.Context, cfg *Config) *Engine {
	runtimeCfg := wazero.NewRuntimeConfig()
	if cfg != nil && cfg.Interpreter {
		runtimeCfg = wazero.NewRuntimeConfigInterpreter()
	}
	if cfg != nil {
		if cfg.MemoryLimitPages > 0 {
			runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
		}
		if cfg.EnableThreads {
			runtimeCfg = runtimeCfg.WithCoreFeatures(api.CoreFeaturesV2 | experimental.CoreFeaturesThreads)
		}
	}
	return &Engine{runtime: wazero.NewRuntimeWithConfig(ctx, runtimeCfg)}
}

// Close releases the runtime.
func (e *Engine) Close(ctx context.Context) error {
	return e.runtime.Close(ctx)
}

// Summary describes a module as seen by the runtime.
type Summary struct {
	// Imports lists "module.name" for every imported function and memory.
	Imports []string
	// Exports lists exported function and memory names.
	Exports []string
	// Memory is the declared maximum of the first memory in pages, if any.
	MemoryMax *uint32
}

// Check compiles code and reports what the runtime saw. The compiled module
// is released before returning.
func (e *Engine) Check(ctx context.Context, code []byte) (*Summary, error) {
	compiled, err := e.runtime.CompileModule(ctx, code)
	if err != nil {
		Logger().Debug("engine rejected module", zap.Int("size", len(code)), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrRejected, err)
	}
	defer compiled.Close(ctx)

	s := &Summary{}
	for _, fn := range compiled.ImportedFunctions() {
		mod, name, _ := fn.Import()
		s.Imports = append(s.Imports, mod+"."+name)
	}
	for _, mem := range compiled.ImportedMemories() {
		mod, name, _ := mem.Import()
		s.Imports = append(s.Imports, mod+"."+name)
		s.setMemory(mem)
	}
	for name := range compiled.ExportedFunctions() {
		s.Exports = append(s.Exports, name)
	}
	for name, mem := range compiled.ExportedMemories() {
		s.Exports = append(s.Exports, name)
		s.setMemory(mem)
	}
	sort.Strings(s.Imports)
	sort.Strings(s.Exports)

	Logger().Debug("engine accepted module",
		zap.Int("size", len(code)),
		zap.Int("imports", len(s.Imports)),
		zap.Int("exports", len(s.Exports)))
	return s, nil
}

func (s *Summary) setMemory(mem api.MemoryDefinition) {
	if s.MemoryMax != nil {
		return
	}
	if hi, ok := mem.Max(); ok {
		s.MemoryMax = &hi
	}
}

// Check compiles code with a throwaway interpreter runtime.
func Check(ctx context.Context, code []byte) (*Summary, error) {
	e := New(ctx, &Config{Interpreter: true})
	defer e.Close(ctx)
	return e.Check(ctx, code)
}
