package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"

	"github.com/wippyai/wasm-contract/bundle"
	"github.com/wippyai/wasm-contract/engine"
	"github.com/wippyai/wasm-contract/metadata"
	"github.com/wippyai/wasm-contract/optimizer"
	"github.com/wippyai/wasm-contract/pipeline"
	"github.com/wippyai/wasm-contract/profile"
	"github.com/wippyai/wasm-contract/strip"
	"github.com/wippyai/wasm-contract/transcode"
)

type config struct {
	wasm      string
	iface     string
	pkg       string
	profile   string
	out       string
	archive   string
	optimizer string
	optWasm   string
	timeout   time.Duration
	language  string
	compiler  string
	keep      string
	calls     []string
}

type callFlag []string

func (c *callFlag) String() string     { return strings.Join(*c, "; ") }
func (c *callFlag) Set(s string) error { *c = append(*c, s); return nil }

func main() {
	var (
		cfg    config
		calls  callFlag
		schema = flag.String("schema", "", "Print the JSON Schema of \"metadata\" or \"bundle\" and exit")
		v      = flag.Bool("v", false, "Verbose logging")
	)
	flag.StringVar(&cfg.wasm, "wasm", "", "Path to the compiled contract module")
	flag.StringVar(&cfg.iface, "interface", "", "Path to the interface description (JSON)")
	flag.StringVar(&cfg.pkg, "package", "", "Path to the package facts (YAML)")
	flag.StringVar(&cfg.profile, "profile", "", "Path to the execution profile (YAML)")
	flag.StringVar(&cfg.out, "out", "", "Output bundle path (default: <wasm>.contract)")
	flag.StringVar(&cfg.archive, "archive", "", "Also write a zip archive to this path")
	flag.StringVar(&cfg.optimizer, "optimizer", "", "Optimizer binary, e.g. wasm-opt")
	flag.StringVar(&cfg.optWasm, "optimizer-wasm", "", "Optimizer compiled to WASI, run in-process")
	flag.DurationVar(&cfg.timeout, "optimizer-timeout", strip.DefaultTimeout, "Optimizer time limit")
	flag.StringVar(&cfg.language, "language", metadata.DefaultLanguage, "Source language recorded in metadata")
	flag.StringVar(&cfg.compiler, "compiler", "", "Compiler recorded in metadata")
	flag.StringVar(&cfg.keep, "keep-custom", "", "Custom sections to keep (comma-separated)")
	flag.Var(&calls, "call", "Encode call data for \"message arg...\" after the build (repeatable)")
	flag.Parse()
	cfg.calls = calls

	st := newStyles(term.IsTerminal(int(os.Stdout.Fd())))

	if *schema != "" {
		if err := printSchema(os.Stdout, *schema); err != nil {
			fmt.Fprintln(os.Stderr, st.err.Render(fmt.Sprintf("Error: %v", err)))
			os.Exit(1)
		}
		return
	}

	if cfg.wasm == "" || cfg.iface == "" || cfg.pkg == "" || cfg.profile == "" {
		fmt.Fprintln(os.Stderr, "Usage: contract-build -wasm <file.wasm> -interface <iface.json> -package <contract.yaml> -profile <profile.yaml>")
		fmt.Fprintln(os.Stderr, "                      [-out <file.contract>] [-archive <file.zip>] [-optimizer wasm-opt | -optimizer-wasm <opt.wasm>]")
		fmt.Fprintln(os.Stderr, "       contract-build -schema metadata|bundle")
		os.Exit(1)
	}

	log, err := newLogger(*v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	engine.SetLogger(log.Named("engine"))
	optimizer.SetLogger(log.Named("optimizer"))
	strip.SetLogger(log.Named("strip"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, cfg, log, os.Stdout, st); err != nil {
		fmt.Fprintln(os.Stderr, st.err.Render(fmt.Sprintf("Error: %v", err)))
		printViolations(os.Stderr, err, st)
		os.Exit(1)
	}
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	return cfg.Build()
}

func run(ctx context.Context, cfg config, log *zap.Logger, out io.Writer, st styles) (err error) {
	code, err := os.ReadFile(cfg.wasm)
	if err != nil {
		return fmt.Errorf("read module: %w", err)
	}
	iface, err := metadata.LoadInterfaceFile(cfg.iface)
	if err != nil {
		return err
	}
	facts, err := metadata.LoadPackageFactsFile(cfg.pkg)
	if err != nil {
		return err
	}
	prof, err := profile.LoadFile(cfg.profile)
	if err != nil {
		return err
	}

	opts := pipeline.Options{
		Profile:          prof,
		Interface:        *iface,
		Package:          *facts,
		OptimizerTimeout: cfg.timeout,
		KeepCustom:       splitList(cfg.keep),
		Metadata:         []metadata.Option{metadata.WithLanguage(cfg.language)},
		Logger:           log,
	}
	if cfg.compiler != "" {
		opts.Metadata = append(opts.Metadata, metadata.WithCompiler(cfg.compiler))
	}

	switch {
	case cfg.optWasm != "":
		w, loadErr := optimizer.LoadWasm(ctx, cfg.optWasm, nil)
		if loadErr != nil {
			// The build goes on without it, as with any optimizer failure.
			log.Warn("optimizer unavailable", zap.String("path", cfg.optWasm), zap.Error(loadErr))
			break
		}
		defer func() { err = multierr.Append(err, w.Close(ctx)) }()
		opts.Optimizer = w
	case cfg.optimizer != "":
		opts.Optimizer = optimizer.NewCommand(cfg.optimizer)
	}

	res, err := pipeline.Build(ctx, code, opts)
	if err != nil {
		return err
	}

	outPath := cfg.out
	if outPath == "" {
		outPath = strings.TrimSuffix(cfg.wasm, ".wasm") + ".contract"
	}
	if err := bundle.WriteFile(outPath, res.Bundle); err != nil {
		return err
	}
	written := []string{outPath}
	if cfg.archive != "" {
		if err := bundle.WriteArchiveFile(cfg.archive, res.Bundle); err != nil {
			return err
		}
		written = append(written, cfg.archive)
	}

	var encoded []callData
	if len(cfg.calls) > 0 {
		enc, err := transcode.New(res.Bundle.Document())
		if err != nil {
			return err
		}
		for _, c := range cfg.calls {
			name, args, err := parseCall(c)
			if err != nil {
				return err
			}
			if name == "" {
				continue
			}
			data, err := enc.EncodeMessage(name, args...)
			if err != nil {
				return err
			}
			encoded = append(encoded, callData{call: c, data: data})
		}
	}

	printReport(out, res, written, encoded, st)
	return nil
}

// parseCall splits "message arg..." into the message name and its
// arguments. Quoted strings, tuples and maps may contain spaces.
func parseCall(s string) (string, []string, error) {
	s = strings.TrimSpace(s)
	i := strings.IndexAny(s, " \t\n\r")
	if i < 0 {
		return s, nil, nil
	}
	args, err := transcode.SplitArgs(s[i:])
	if err != nil {
		return "", nil, err
	}
	return s[:i], args, nil
}

func printSchema(w io.Writer, which string) error {
	var (
		data []byte
		err  error
	)
	switch which {
	case "metadata":
		data, err = metadata.SchemaJSON()
	case "bundle":
		data, err = json.MarshalIndent(bundle.Schema(), "", "  ")
		data = append(data, '\n')
	default:
		return fmt.Errorf("unknown schema %q: want metadata or bundle", which)
	}
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
