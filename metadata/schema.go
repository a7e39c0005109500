package metadata

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// SchemaID identifies the document schema.
const SchemaID = "https://wippy.ai/schemas/contract-metadata/v1.json"

// NewReflector returns the reflector used for the document schema, so
// packages wrapping Document produce matching schemas.
func NewReflector() *jsonschema.Reflector {
	return &jsonschema.Reflector{DoNotReference: true}
}

// Schema returns the JSON Schema of Document.
func Schema() *jsonschema.Schema {
	s := NewReflector().Reflect(&Document{})
	s.ID = SchemaID
	s.Title = "Contract metadata"
	s.Description = "Interface description of a compiled contract, addressed by its code hash."
	return s
}

// SchemaJSON returns Schema indented for writing to disk.
func SchemaJSON() ([]byte, error) {
	data, err := json.MarshalIndent(Schema(), "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
