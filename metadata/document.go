package metadata

import (
	"bytes"
	"encoding/json"
	"strings"

	"golang.org/x/mod/semver"

	"github.com/wippyai/wasm-contract/errors"
)

// FormatVersion is the version of the document layout. The hash algorithm
// and the signature canonicalization are pinned to its major version.
const FormatVersion = "1.0.0"

// DefaultLanguage is recorded when no language is supplied.
const DefaultLanguage = "unknown"

// Document is the metadata document shipped with a contract.
type Document struct {
	FormatVersion string       `json:"format_version" jsonschema:"pattern=^[0-9]+\\.[0-9]+\\.[0-9]+"`
	Source        Source       `json:"source"`
	Contract      PackageFacts `json:"contract"`
	Spec          Spec         `json:"spec"`
}

// Source identifies the code the document describes.
type Source struct {
	Hash          string `json:"hash" jsonschema:"pattern=^0x[0-9a-f]{64}$"`
	HashAlgorithm string `json:"hash_algorithm" jsonschema:"enum=blake2b-256"`
	Language      string `json:"language"`
	Compiler      string `json:"compiler,omitempty"`
}

// Spec holds the callable interface with computed selectors.
type Spec struct {
	Constructors []Entry      `json:"constructors"`
	Messages     []Entry      `json:"messages"`
	Events       []EventEntry `json:"events"`
	Types        []TypeDef    `json:"types,omitempty"`
}

// Entry is a constructor or message with its selector. Mutates is set for
// messages only.
type Entry struct {
	Name       string   `json:"name"`
	Selector   string   `json:"selector" jsonschema:"pattern=^0x[0-9a-f]{8}$"`
	Args       []Arg    `json:"args"`
	ReturnType string   `json:"return_type,omitempty"`
	Mutates    *bool    `json:"mutates,omitempty"`
	Payable    bool     `json:"payable,omitempty"`
	Docs       []string `json:"docs,omitempty"`
}

// Signature returns the canonical signature the selector was computed from.
func (e Entry) Signature() string {
	types := make([]string, len(e.Args))
	for i, a := range e.Args {
		types[i] = a.Type
	}
	return Signature(e.Name, types)
}

// EventEntry is a declared event.
type EventEntry struct {
	Name   string   `json:"name"`
	Fields []Arg    `json:"fields"`
	Docs   []string `json:"docs,omitempty"`
}

// Signature builds name(t1,t2,...) from canonical type spellings.
func Signature(name string, types []string) string {
	return name + "(" + strings.Join(types, ",") + ")"
}

type options struct {
	hasher   Hasher
	language string
	compiler string
}

// Option configures Build.
type Option func(*options)

// WithLanguage records the source language, e.g. "ink! 5.0.0".
func WithLanguage(language string) Option {
	return func(o *options) { o.language = language }
}

// WithCompiler records the compiler that produced the code.
func WithCompiler(compiler string) Option {
	return func(o *options) { o.compiler = compiler }
}

// withHasher replaces the selector hash function. The document always
// records HashAlgorithm, so only tests may use it.
func withHasher(h Hasher) Option {
	return func(o *options) { o.hasher = h }
}

// Build produces the metadata document for the code identified by hash.
// It fails when package facts are invalid, when a type does not parse, or
// when two constructors or two messages share a selector. Type definitions
// are checked and stored in canonical form.
func Build(spec InterfaceSpec, facts PackageFacts, hash CodeHash, opts ...Option) (*Document, error) {
	o := options{hasher: Blake2b256, language: DefaultLanguage}
	for _, opt := range opts {
		opt(&o)
	}

	if err := facts.Validate(); err != nil {
		return nil, err
	}

	contract := facts
	contract.Authors = nonNil(facts.Authors)

	doc := &Document{
		FormatVersion: FormatVersion,
		Source: Source{
			Hash:          hash.String(),
			HashAlgorithm: HashAlgorithm,
			Language:      o.language,
			Compiler:      o.compiler,
		},
		Contract: contract,
		Spec: Spec{
			Constructors: make([]Entry, 0, len(spec.Constructors)),
			Messages:     make([]Entry, 0, len(spec.Messages)),
			Events:       make([]EventEntry, 0, len(spec.Events)),
		},
	}

	seen := make(map[Selector]string)
	for i, c := range spec.Constructors {
		e, sel, err := entry("constructor", i, c.Name, c.Args, "", o.hasher)
		if err != nil {
			return nil, err
		}
		if err := claim(seen, "constructor", sel, e.Signature()); err != nil {
			return nil, err
		}
		e.Payable = c.Payable
		e.Docs = copyStrings(c.Docs)
		doc.Spec.Constructors = append(doc.Spec.Constructors, e)
	}

	seen = make(map[Selector]string)
	for i, m := range spec.Messages {
		e, sel, err := entry("message", i, m.Name, m.Args, m.ReturnType, o.hasher)
		if err != nil {
			return nil, err
		}
		if err := claim(seen, "message", sel, e.Signature()); err != nil {
			return nil, err
		}
		mutates := m.Mutates
		e.Mutates = &mutates
		e.Payable = m.Payable
		e.Docs = copyStrings(m.Docs)
		doc.Spec.Messages = append(doc.Spec.Messages, e)
	}

	for i, ev := range spec.Events {
		if !validName(ev.Name) {
			return nil, nameError("event", i, ev.Name)
		}
		fields, err := canonicalArgs("event", ev.Name, ev.Fields)
		if err != nil {
			return nil, err
		}
		doc.Spec.Events = append(doc.Spec.Events, EventEntry{
			Name:   ev.Name,
			Fields: fields,
			Docs:   copyStrings(ev.Docs),
		})
	}

	types, err := canonicalTypeDefs(spec.Types)
	if err != nil {
		return nil, err
	}
	if len(types) > 0 {
		doc.Spec.Types = types
	}

	return doc, nil
}

func entry(set string, i int, name string, args []Arg, ret string, h Hasher) (Entry, Selector, error) {
	if !validName(name) {
		return Entry{}, Selector{}, nameError(set, i, name)
	}
	canon, err := canonicalArgs(set, name, args)
	if err != nil {
		return Entry{}, Selector{}, err
	}
	e := Entry{Name: name, Args: canon}
	if ret != "" {
		t, err := CanonicalType(ret)
		if err != nil {
			return Entry{}, Selector{}, withPath(err, set, name, "return_type")
		}
		if t != "tuple<>" {
			e.ReturnType = t
		}
	}
	sel := ComputeSelector(h, e.Signature())
	e.Selector = sel.String()
	return e, sel, nil
}

func claim(seen map[Selector]string, set string, sel Selector, signature string) error {
	if prev, ok := seen[sel]; ok {
		return errors.SelectorCollision(set, prev, signature, sel.String())
	}
	seen[sel] = signature
	return nil
}

func canonicalArgs(set, owner string, args []Arg) ([]Arg, error) {
	out := make([]Arg, 0, len(args))
	names := make(map[string]bool, len(args))
	for _, a := range args {
		if !validName(a.Name) {
			return nil, errors.New(errors.PhaseMetadata, errors.KindInvalidInput).
				Rule("arg_name").
				Path(set, owner).
				Value(a.Name).
				Detail("argument name %q is not an identifier", a.Name).
				Build()
		}
		if names[a.Name] {
			return nil, errors.New(errors.PhaseMetadata, errors.KindInvalidInput).
				Rule("arg_name").
				Path(set, owner).
				Value(a.Name).
				Detail("argument %q declared twice", a.Name).
				Build()
		}
		names[a.Name] = true
		t, err := CanonicalType(a.Type)
		if err != nil {
			return nil, withPath(err, set, owner, a.Name)
		}
		out = append(out, Arg{Name: a.Name, Type: t, Indexed: a.Indexed})
	}
	return out, nil
}

func withPath(err error, path ...string) error {
	if e, ok := err.(*errors.Error); ok {
		e.Path = path
	}
	return err
}

func validName(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isIdentByte(s[i], i == 0) {
			return false
		}
	}
	return true
}

func nameError(set string, i int, name string) error {
	return errors.New(errors.PhaseMetadata, errors.KindInvalidInput).
		Rule(set + "_name").
		Path(set).
		Value(name).
		Detail("%s %d has invalid name %q", set, i, name).
		Build()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return copyStrings(s)
}

func copyStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append(make([]string, 0, len(s)), s...)
}

// JSON returns the canonical serialization. Equal documents always produce
// equal bytes.
func (d *Document) JSON() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(d); err != nil {
		return nil, errors.Wrap(errors.PhaseMetadata, errors.KindInternalInconsistency, err, "encode document")
	}
	return buf.Bytes(), nil
}

// Clone returns a deep copy.
func (d *Document) Clone() *Document {
	out := *d
	out.Contract.Authors = copyStrings(d.Contract.Authors)
	out.Spec.Constructors = cloneEntries(d.Spec.Constructors)
	out.Spec.Messages = cloneEntries(d.Spec.Messages)
	if d.Spec.Events != nil {
		out.Spec.Events = make([]EventEntry, len(d.Spec.Events))
		for i, ev := range d.Spec.Events {
			ev.Fields = cloneArgs(ev.Fields)
			ev.Docs = copyStrings(ev.Docs)
			out.Spec.Events[i] = ev
		}
	}
	out.Spec.Types = cloneTypeDefs(d.Spec.Types)
	return &out
}

func cloneEntries(in []Entry) []Entry {
	if in == nil {
		return nil
	}
	out := make([]Entry, len(in))
	for i, e := range in {
		e.Args = cloneArgs(e.Args)
		e.Docs = copyStrings(e.Docs)
		if e.Mutates != nil {
			m := *e.Mutates
			e.Mutates = &m
		}
		out[i] = e
	}
	return out
}

func cloneArgs(in []Arg) []Arg {
	if in == nil {
		return nil
	}
	return append(make([]Arg, 0, len(in)), in...)
}

// CodeHash parses Source.Hash.
func (d *Document) CodeHash() (CodeHash, error) {
	return ParseCodeHash(d.Source.Hash)
}

// Check verifies that the document can be read by this version: the major
// format version and the hash algorithm must match, and the hash and every
// selector must be well formed.
func (d *Document) Check() error {
	if err := CheckFormatVersion(d.FormatVersion); err != nil {
		return err
	}
	if d.Source.HashAlgorithm != HashAlgorithm {
		return errors.New(errors.PhaseMetadata, errors.KindUnsupported).
			Rule("hash_algorithm").
			Path("source", "hash_algorithm").
			Value(d.Source.HashAlgorithm).
			Detail("hash algorithm %q is not %q", d.Source.HashAlgorithm, HashAlgorithm).
			Build()
	}
	if _, err := d.CodeHash(); err != nil {
		return withPath(err, "source", "hash")
	}
	for _, set := range [][]Entry{d.Spec.Constructors, d.Spec.Messages} {
		for _, e := range set {
			if _, err := ParseSelector(e.Selector); err != nil {
				return withPath(err, "spec", e.Name, "selector")
			}
		}
	}
	return nil
}

// CheckFormatVersion accepts any version with the same major as
// FormatVersion.
func CheckFormatVersion(v string) error {
	if !ValidVersion(v) {
		return errors.New(errors.PhaseMetadata, errors.KindInvalidInput).
			Rule("format_version").
			Value(v).
			Detail("format version %q is not a semantic version", v).
			Build()
	}
	if semver.Major("v"+v) != semver.Major("v"+FormatVersion) {
		return errors.New(errors.PhaseMetadata, errors.KindUnsupported).
			Rule("format_version").
			Value(v).
			Detail("format version %s is not compatible with %s", v, FormatVersion).
			Build()
	}
	return nil
}

// ParseDocument decodes and checks a document produced by JSON.
func ParseDocument(data []byte) (*Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var d Document
	if err := dec.Decode(&d); err != nil {
		return nil, errors.New(errors.PhaseMetadata, errors.KindInvalidInput).
			Rule("json").
			Detail("decode document").
			Cause(err).
			Build()
	}
	if err := d.Check(); err != nil {
		return nil, err
	}
	return &d, nil
}
