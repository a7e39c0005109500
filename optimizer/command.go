package optimizer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// ErrUnavailable is wrapped by every error that means the optimizer produced
// no usable output: missing binary, crash, timeout or empty result.
var ErrUnavailable = errors.New("optimizer unavailable")

// DefaultArgs optimize aggressively for size.
var DefaultArgs = []string{"-Oz"}

// Func adapts an ordinary function to the optimizer contract.
type Func func(ctx context.Context, code []byte) ([]byte, error)

// Optimize calls f.
func (f Func) Optimize(ctx context.Context, code []byte) ([]byte, error) {
	return f(ctx, code)
}

// Command runs an external optimizer process. The process is invoked as
//
//	<Path> <Args...> <input> -o <output>
//
// with both files in a fresh scratch directory.
type Command struct {
	// Path is the binary, looked up in PATH when it has no separator.
	Path string
	// Args default to DefaultArgs when nil.
	Args []string
	// ScratchDir is the parent of the per-run directory; "" uses os.TempDir.
	ScratchDir string
}

// NewCommand returns a Command for path with DefaultArgs.
func NewCommand(path string) *Command {
	return &Command{Path: path}
}

// Optimize runs the process on code and returns the output file's bytes.
func (c *Command) Optimize(ctx context.Context, code []byte) (out []byte, err error) {
	bin, err := exec.LookPath(c.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	dir, err := os.MkdirTemp(c.ScratchDir, "contract-opt-")
	if err != nil {
		return nil, fmt.Errorf("%w: scratch dir: %w", ErrUnavailable, err)
	}
	defer func() {
		err = multierr.Append(err, os.RemoveAll(dir))
	}()

	in := filepath.Join(dir, "in.wasm")
	outPath := filepath.Join(dir, "out.wasm")
	if err := os.WriteFile(in, code, 0o600); err != nil {
		return nil, fmt.Errorf("%w: write input: %w", ErrUnavailable, err)
	}

	args := c.Args
	if args == nil {
		args = DefaultArgs
	}
	argv := append(append([]string{}, args...), in, "-o", outPath)

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, argv...)
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	start := time.Now()
	runErr := cmd.Run()
	Logger().Debug("optimizer process finished",
		zap.String("path", bin),
		zap.Strings("args", argv),
		zap.Duration("elapsed", time.Since(start)),
		zap.Error(runErr))

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, ctxErr)
	}
	if runErr != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return nil, fmt.Errorf("%w: %w: %s", ErrUnavailable, runErr, msg)
		}
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, runErr)
	}

	out, err = os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("%w: read output: %w", ErrUnavailable, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: empty output", ErrUnavailable)
	}
	return out, nil
}
