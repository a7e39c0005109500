package metadata

import (
	"encoding/json"
	"io"
	"net/url"
	"os"
	"strings"

	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"

	"github.com/wippyai/wasm-contract/errors"
)

// Arg is a named, typed argument or event field.
type Arg struct {
	Name string `json:"name" yaml:"name"`
	Type string `json:"type" yaml:"type"`
	// Indexed marks topic fields of events.
	Indexed bool `json:"indexed,omitempty" yaml:"indexed,omitempty"`
}

// Constructor is an entry point run once at deployment.
type Constructor struct {
	Name    string   `json:"name" yaml:"name"`
	Args    []Arg    `json:"args,omitempty" yaml:"args,omitempty"`
	Docs    []string `json:"docs,omitempty" yaml:"docs,omitempty"`
	Payable bool     `json:"payable,omitempty" yaml:"payable,omitempty"`
}

// Message is a callable entry point.
type Message struct {
	Name       string   `json:"name" yaml:"name"`
	Args       []Arg    `json:"args,omitempty" yaml:"args,omitempty"`
	ReturnType string   `json:"return_type,omitempty" yaml:"return_type,omitempty"`
	Docs       []string `json:"docs,omitempty" yaml:"docs,omitempty"`
	Mutates    bool     `json:"mutates,omitempty" yaml:"mutates,omitempty"`
	Payable    bool     `json:"payable,omitempty" yaml:"payable,omitempty"`
}

// Event is a declared event. Events have no selector.
type Event struct {
	Name   string   `json:"name" yaml:"name"`
	Fields []Arg    `json:"fields,omitempty" yaml:"fields,omitempty"`
	Docs   []string `json:"docs,omitempty" yaml:"docs,omitempty"`
}

// InterfaceSpec is the contract's declared interface, extracted from its
// source by other tooling.
type InterfaceSpec struct {
	Constructors []Constructor `json:"constructors" yaml:"constructors"`
	Messages     []Message     `json:"messages" yaml:"messages"`
	Events       []Event       `json:"events,omitempty" yaml:"events,omitempty"`
	// Types defines the named types that arguments refer to.
	Types []TypeDef `json:"types,omitempty" yaml:"types,omitempty"`
}

// LoadInterface decodes a JSON InterfaceSpec. Unknown fields are rejected.
func LoadInterface(r io.Reader) (*InterfaceSpec, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	var spec InterfaceSpec
	if err := dec.Decode(&spec); err != nil {
		return nil, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Rule("json").
			Path("interface").
			Detail("decode interface").
			Cause(err).
			Build()
	}
	return &spec, nil
}

// LoadInterfaceFile reads a JSON InterfaceSpec from path.
func LoadInterfaceFile(path string) (*InterfaceSpec, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindNotFound, err, "open interface")
	}
	defer f.Close()
	return LoadInterface(f)
}

// PackageFacts are the project facts recorded in the contract section.
type PackageFacts struct {
	Name          string   `json:"name" yaml:"name"`
	Version       string   `json:"version" yaml:"version"`
	Authors       []string `json:"authors" yaml:"authors"`
	Documentation string   `json:"documentation,omitempty" yaml:"documentation,omitempty"`
	Description   string   `json:"description,omitempty" yaml:"description,omitempty"`
	Repository    string   `json:"repository,omitempty" yaml:"repository,omitempty"`
	Homepage      string   `json:"homepage,omitempty" yaml:"homepage,omitempty"`
	License       string   `json:"license,omitempty" yaml:"license,omitempty"`
}

// LoadPackageFacts decodes YAML (or JSON) package facts.
func LoadPackageFacts(r io.Reader) (*PackageFacts, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var facts PackageFacts
	if err := dec.Decode(&facts); err != nil {
		return nil, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Rule("yaml").
			Path("package").
			Detail("decode package facts").
			Cause(err).
			Build()
	}
	return &facts, nil
}

// LoadPackageFactsFile reads package facts from path.
func LoadPackageFactsFile(path string) (*PackageFacts, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindNotFound, err, "open package facts")
	}
	defer f.Close()
	return LoadPackageFacts(f)
}

// Validate checks the name, the semantic version and the URLs.
func (f PackageFacts) Validate() error {
	if strings.TrimSpace(f.Name) == "" {
		return factsError("name", "package name is empty")
	}
	if !ValidVersion(f.Version) {
		return factsError("version", "version %q is not a semantic version", f.Version)
	}
	for _, u := range []struct{ field, value string }{
		{"documentation", f.Documentation},
		{"repository", f.Repository},
		{"homepage", f.Homepage},
	} {
		if u.value != "" && !absoluteURL(u.value) {
			return factsError(u.field, "%s %q is not an absolute URL", u.field, u.value)
		}
	}
	return nil
}

// ValidVersion reports whether v is a semantic version such as "1.2.3".
func ValidVersion(v string) bool {
	return v != "" && !strings.HasPrefix(v, "v") && semver.IsValid("v"+v) && semver.Canonical("v"+v) == "v"+strings.SplitN(v, "+", 2)[0]
}

func absoluteURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && u.IsAbs() && u.Host != ""
}

func factsError(field, format string, args ...any) *errors.Error {
	return errors.New(errors.PhaseMetadata, errors.KindInvalidInput).
		Rule("package_" + field).
		Path("contract", field).
		Detail(format, args...).
		Build()
}
