package bundle

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	sjsonschema "github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/wippyai/wasm-contract/errors"
	"github.com/wippyai/wasm-contract/metadata"
)

// SchemaID identifies the schema of the JSON form.
const SchemaID = "https://wippy.ai/schemas/contract-bundle/v1.json"

// contractFile is the JSON form: the document fields plus the code.
type contractFile struct {
	metadata.Document
	SourceWasm string `json:"source_wasm" jsonschema:"pattern=^0x([0-9a-f]{2})*$"`
}

// Schema returns the JSON Schema of the JSON form.
func Schema() *jsonschema.Schema {
	s := metadata.NewReflector().Reflect(&contractFile{})
	s.ID = SchemaID
	s.Title = "Contract bundle"
	s.Description = "Contract metadata with the module bytes in source_wasm."
	return s
}

// JSON returns the JSON form. Equal bundles produce equal bytes.
func (b *Bundle) JSON() ([]byte, error) {
	f := contractFile{Document: *b.doc, SourceWasm: "0x" + hex.EncodeToString(b.code)}
	return encodeJSON(f)
}

// MetadataJSON returns the document alone, as stored in archives.
func (b *Bundle) MetadataJSON() ([]byte, error) {
	return b.doc.JSON()
}

func encodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, errors.Wrap(errors.PhasePackage, errors.KindInternalInconsistency, err, "encode bundle")
	}
	return buf.Bytes(), nil
}

// Decode reads the JSON form. The input must match the schema and a
// compatible format version, and the code must hash to source.hash.
func Decode(data []byte) (*Bundle, error) {
	if err := checkJSON(data, bundleSchema); err != nil {
		return nil, err
	}

	var f contractFile
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return nil, decodeError("json", err)
	}
	if err := f.Document.Check(); err != nil {
		return nil, inPackagePhase(err)
	}
	code, err := hex.DecodeString(strings.TrimPrefix(f.SourceWasm, "0x"))
	if err != nil || !strings.HasPrefix(f.SourceWasm, "0x") {
		return nil, errors.New(errors.PhasePackage, errors.KindInvalidInput).
			Rule("source_wasm").
			Path("source_wasm").
			Detail("source_wasm must be 0x followed by hex digits").
			Cause(err).
			Build()
	}
	return assemble(code, &f.Document)
}

// decodeDocument reads a metadata.json archive entry.
func decodeDocument(data []byte) (*metadata.Document, error) {
	if err := checkJSON(data, documentSchema); err != nil {
		return nil, err
	}
	doc, err := metadata.ParseDocument(data)
	if err != nil {
		return nil, inPackagePhase(err)
	}
	return doc, nil
}

// checkJSON parses data, checks its format version and validates it
// against the schema.
func checkJSON(data []byte, v *validator) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return decodeError("json", err)
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return errors.New(errors.PhasePackage, errors.KindInvalidInput).
			Rule("json").
			Detail("bundle is not a JSON object").
			Build()
	}
	version, _ := obj["format_version"].(string)
	if err := metadata.CheckFormatVersion(version); err != nil {
		return inPackagePhase(err)
	}
	if err := v.validate(raw); err != nil {
		if e, ok := err.(*errors.Error); ok {
			return e
		}
		return decodeError("schema", err)
	}
	return nil
}

func decodeError(rule string, cause error) error {
	return errors.New(errors.PhasePackage, errors.KindInvalidInput).
		Rule(rule).
		Detail("decode bundle").
		Cause(cause).
		Build()
}

// inPackagePhase reports a metadata error found while decoding as a
// package error with the same kind and rule.
func inPackagePhase(err error) error {
	e, ok := err.(*errors.Error)
	if !ok {
		return errors.Wrap(errors.PhasePackage, errors.KindInvalidInput, err, "decode bundle")
	}
	out := *e
	out.Phase = errors.PhasePackage
	return &out
}

// validator compiles a generated schema on first use.
type validator struct {
	schema func() *jsonschema.Schema
	id     string

	once     sync.Once
	compiled *sjsonschema.Schema
	err      error
}

var (
	bundleSchema   = &validator{schema: Schema, id: SchemaID}
	documentSchema = &validator{schema: metadata.Schema, id: metadata.SchemaID}
)

func (v *validator) validate(doc any) error {
	v.once.Do(func() {
		data, err := json.Marshal(v.schema())
		if err != nil {
			v.err = err
			return
		}
		c := sjsonschema.NewCompiler()
		if err := c.AddResource(v.id, bytes.NewReader(data)); err != nil {
			v.err = err
			return
		}
		v.compiled, v.err = c.Compile(v.id)
	})
	if v.err != nil {
		return errors.Wrap(errors.PhasePackage, errors.KindInternalInconsistency, v.err, "compile schema")
	}
	return v.compiled.Validate(doc)
}
