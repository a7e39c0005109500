package profile

import (
	"io"
	"os"
	"slices"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/wippyai/wasm-contract/errors"
	"github.com/wippyai/wasm-contract/wasm"
)

// AnyField in an import target allows every field of a module, as in "seal0.*".
const AnyField = "*"

// Config is the serialized form of a Profile.
type Config struct {
	MemoryLimits               MemoryLimitsConfig `yaml:"memory_limits" json:"memory_limits"`
	AllowedImportTargets       []string           `yaml:"allowed_import_targets" json:"allowed_import_targets"`
	DisallowedInstructionKinds []string           `yaml:"disallowed_instruction_kinds" json:"disallowed_instruction_kinds"`
	RequiredExports            []ExportConfig     `yaml:"required_exports" json:"required_exports"`
}

// ExportConfig describes one required export. Kind defaults to "func".
// Signature is only checked when set.
type ExportConfig struct {
	Signature *SignatureConfig `yaml:"signature,omitempty" json:"signature,omitempty"`
	Name      string           `yaml:"name" json:"name"`
	Kind      string           `yaml:"kind,omitempty" json:"kind,omitempty"`
}

// SignatureConfig lists value type names, e.g. ["i32", "i64"].
type SignatureConfig struct {
	Params  []string `yaml:"params" json:"params"`
	Results []string `yaml:"results" json:"results"`
}

// MemoryLimitsConfig bounds memory size. A nil MaxPages means unbounded.
type MemoryLimitsConfig struct {
	MaxPages *uint64 `yaml:"max_pages,omitempty" json:"max_pages,omitempty"`
	// CheckInitial also holds memories that declare no maximum to the
	// limit, by their initial size. Only declared maximums are checked
	// without it.
	CheckInitial bool `yaml:"check_initial,omitempty" json:"check_initial,omitempty"`
}

// RequiredExport is a compiled ExportConfig.
type RequiredExport struct {
	Signature *wasm.FuncType
	Name      string
	Kind      byte
}

// Profile is an immutable execution profile.
type Profile struct {
	imports    map[string]map[string]bool
	exports    []RequiredExport
	maxPages     uint64
	disallowed   wasm.Class
	hasMax       bool
	checkInitial bool
}

// New validates cfg and builds a Profile from it.
func New(cfg Config) (*Profile, error) {
	p := &Profile{imports: make(map[string]map[string]bool)}

	for _, target := range cfg.AllowedImportTargets {
		i := strings.LastIndexByte(target, '.')
		if i <= 0 || i == len(target)-1 {
			return nil, configError("import_target", "import target %q is not of the form module.field", target)
		}
		module, field := target[:i], target[i+1:]
		if p.imports[module] == nil {
			p.imports[module] = make(map[string]bool)
		}
		p.imports[module][field] = true
	}

	for _, name := range cfg.DisallowedInstructionKinds {
		c, ok := wasm.ParseClass(name)
		if !ok {
			return nil, configError("instruction_kind", "unknown instruction kind %q (known: %s)",
				name, strings.Join(wasm.ClassNames(), ", "))
		}
		p.disallowed |= c
	}

	seen := make(map[string]bool, len(cfg.RequiredExports))
	for _, ec := range cfg.RequiredExports {
		if ec.Name == "" {
			return nil, configError("required_export", "required export without a name")
		}
		if seen[ec.Name] {
			return nil, configError("required_export", "required export %q listed twice", ec.Name)
		}
		seen[ec.Name] = true

		re := RequiredExport{Name: ec.Name, Kind: wasm.KindFunc}
		if ec.Kind != "" {
			kind, ok := wasm.ParseKind(ec.Kind)
			if !ok {
				return nil, configError("required_export", "export %q has unknown kind %q", ec.Name, ec.Kind)
			}
			re.Kind = kind
		}
		if ec.Signature != nil {
			if re.Kind != wasm.KindFunc {
				return nil, configError("required_export", "export %q: signature given for a %s export",
					ec.Name, wasm.KindName(re.Kind))
			}
			sig, err := parseSignature(ec.Name, *ec.Signature)
			if err != nil {
				return nil, err
			}
			re.Signature = &sig
		}
		p.exports = append(p.exports, re)
	}

	if cfg.MemoryLimits.MaxPages != nil {
		p.maxPages = *cfg.MemoryLimits.MaxPages
		p.hasMax = true
		p.checkInitial = cfg.MemoryLimits.CheckInitial
	}
	return p, nil
}

func parseSignature(export string, sc SignatureConfig) (wasm.FuncType, error) {
	parse := func(names []string) ([]wasm.ValType, error) {
		out := make([]wasm.ValType, 0, len(names))
		for _, n := range names {
			v, ok := wasm.ParseValType(n)
			if !ok {
				return nil, configError("required_export", "export %q: unknown value type %q", export, n)
			}
			out = append(out, v)
		}
		return out, nil
	}
	params, err := parse(sc.Params)
	if err != nil {
		return wasm.FuncType{}, err
	}
	results, err := parse(sc.Results)
	if err != nil {
		return wasm.FuncType{}, err
	}
	return wasm.FuncType{Params: params, Results: results}, nil
}

func configError(rule, format string, args ...any) *errors.Error {
	return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
		Rule(rule).
		Path("profile").
		Detail(format, args...).
		Build()
}

// Load reads a YAML profile. Unknown keys are rejected.
func Load(r io.Reader) (*Profile, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		if err == io.EOF {
			return nil, configError("yaml", "empty profile")
		}
		return nil, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Rule("yaml").
			Path("profile").
			Detail("decode profile").
			Cause(err).
			Build()
	}
	return New(cfg)
}

// LoadFile reads a YAML profile from path.
func LoadFile(path string) (*Profile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindNotFound, err, "open profile")
	}
	defer f.Close()
	return Load(f)
}

// BaselineConfig is a starting point for pallet-contracts style targets:
// host functions from the seal modules, an imported env.memory capped at 16
// pages (growable memories included), no floating point or other non-deterministic extensions, and the
// deploy/call entry points. Real deployments should load their own profile.
func BaselineConfig() Config {
	maxPages := uint64(16)
	void := &SignatureConfig{Params: []string{}, Results: []string{}}
	return Config{
		AllowedImportTargets: []string{"seal0.*", "seal1.*", "seal2.*", "env.memory"},
		DisallowedInstructionKinds: []string{
			"float", "simd", "atomic", "reference-types", "tail-call", "exception",
		},
		RequiredExports: []ExportConfig{
			{Name: "deploy", Kind: "func", Signature: void},
			{Name: "call", Kind: "func", Signature: void},
		},
		MemoryLimits: MemoryLimitsConfig{MaxPages: &maxPages, CheckInitial: true},
	}
}

// Baseline returns the Profile built from BaselineConfig.
func Baseline() *Profile {
	p, err := New(BaselineConfig())
	if err != nil {
		panic(err)
	}
	return p
}

// AllowsImport reports whether module.field is an allowed import target.
func (p *Profile) AllowsImport(module, field string) bool {
	fields := p.imports[module]
	return fields[field] || fields[AnyField]
}

// AllowedImportTargets returns the allowed targets in sorted order.
func (p *Profile) AllowedImportTargets() []string {
	var out []string
	for module, fields := range p.imports {
		for field := range fields {
			out = append(out, module+"."+field)
		}
	}
	sort.Strings(out)
	return out
}

// Disallowed returns the set of forbidden instruction classes.
func (p *Profile) Disallowed() wasm.Class {
	return p.disallowed
}

// RequiredExports returns a copy of the required exports in declaration order.
func (p *Profile) RequiredExports() []RequiredExport {
	out := slices.Clone(p.exports)
	for i := range out {
		if out[i].Signature != nil {
			sig := wasm.FuncType{
				Params:  slices.Clone(out[i].Signature.Params),
				Results: slices.Clone(out[i].Signature.Results),
			}
			out[i].Signature = &sig
		}
	}
	return out
}

// RequiredExportNames returns the names of the required exports.
func (p *Profile) RequiredExportNames() []string {
	names := make([]string, len(p.exports))
	for i, e := range p.exports {
		names[i] = e.Name
	}
	return names
}

// MaxPages returns the memory page limit, if any.
func (p *Profile) MaxPages() (uint64, bool) {
	return p.maxPages, p.hasMax
}
