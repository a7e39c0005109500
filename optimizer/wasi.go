package optimizer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const guestDir = "/work"

// Wasm runs an optimizer compiled to wasip1 inside wazero. The guest sees
// a scratch directory mounted at /work and is invoked like Command:
//
//	optimizer <args...> /work/in.wasm -o /work/out.wasm
type Wasm struct {
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
	args     []string
}

// NewWasm compiles the optimizer binary. args default to DefaultArgs when nil.
func NewWasm(ctx context.Context, binary []byte, args []string) (*Wasm, error) {
	rt := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().WithCloseOnContextDone(true))
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		return nil, multierr.Append(fmt.Errorf("%w: wasi: %w", ErrUnavailable, err), rt.Close(ctx))
	}
	compiled, err := rt.CompileModule(ctx, binary)
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("%w: compile optimizer: %w", ErrUnavailable, err), rt.Close(ctx))
	}
	if args == nil {
		args = DefaultArgs
	}
	return &Wasm{runtime: rt, compiled: compiled, args: args}, nil
}

// LoadWasm reads the optimizer binary from path and compiles it.
func LoadWasm(ctx context.Context, path string, args []string) (*Wasm, error) {
	binary, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return NewWasm(ctx, binary, args)
}

// Close releases the runtime and the compiled optimizer.
func (w *Wasm) Close(ctx context.Context) error {
	return w.runtime.Close(ctx)
}

// Optimize runs one fresh guest instance on code.
func (w *Wasm) Optimize(ctx context.Context, code []byte) (out []byte, err error) {
	dir, err := os.MkdirTemp("", "contract-opt-wasm-")
	if err != nil {
		return nil, fmt.Errorf("%w: scratch dir: %w", ErrUnavailable, err)
	}
	defer func() {
		err = multierr.Append(err, os.RemoveAll(dir))
	}()

	if err := os.WriteFile(filepath.Join(dir, "in.wasm"), code, 0o600); err != nil {
		return nil, fmt.Errorf("%w: write input: %w", ErrUnavailable, err)
	}

	argv := append([]string{"wasm-opt"}, w.args...)
	argv = append(argv, guestDir+"/in.wasm", "-o", guestDir+"/out.wasm")

	var stderr bytes.Buffer
	cfg := wazero.NewModuleConfig().
		WithName("").
		WithArgs(argv...).
		WithStderr(&stderr).
		WithFSConfig(wazero.NewFSConfig().WithDirMount(dir, guestDir))

	mod, runErr := w.runtime.InstantiateModule(ctx, w.compiled, cfg)
	if mod != nil {
		defer func() {
			err = multierr.Append(err, mod.Close(ctx))
		}()
	}
	if status := exitCode(runErr); status != 0 {
		Logger().Debug("wasm optimizer failed",
			zap.Uint32("exit_code", status),
			zap.String("stderr", strings.TrimSpace(stderr.String())),
			zap.Error(runErr))
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, ctxErr)
		}
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, runErr)
	}

	out, err = os.ReadFile(filepath.Join(dir, "out.wasm"))
	if err != nil {
		return nil, fmt.Errorf("%w: no output: %w", ErrUnavailable, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: empty output", ErrUnavailable)
	}
	return out, nil
}

// exitCode maps an instantiation error to a process exit code. A guest that
// calls proc_exit(0) counts as success.
func exitCode(err error) uint32 {
	if err == nil {
		return 0
	}
	var exit *sys.ExitError
	if errors.As(err, &exit) {
		return exit.ExitCode()
	}
	return 1
}
