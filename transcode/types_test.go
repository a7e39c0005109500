package transcode_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wippyai/wasm-contract/errors"
	"github.com/wippyai/wasm-contract/metadata"
	"github.com/wippyai/wasm-contract/transcode"
)

var testTypes = []metadata.TypeDef{
	{Name: "Transfer", Fields: []metadata.Arg{{Name: "from", Type: "u8"}, {Name: "to", Type: "u8"}}},
	{Name: "Pair", Fields: []metadata.Arg{{Type: "u8"}, {Type: "u16"}}},
	{Name: "Wrapper", Fields: []metadata.Arg{{Name: "inner", Type: "u32"}}},
	{Name: "Unit"},
	{Name: "Color", Variants: []metadata.VariantDef{
		{Name: "Red"},
		{Name: "Green"},
		{Name: "Rgb", Fields: []metadata.Arg{{Type: "u8"}, {Type: "u8"}, {Type: "u8"}}},
		{Name: "Named", Fields: []metadata.Arg{{Name: "code", Type: "u16"}}},
	}},
	{Name: "a::Nested", Fields: []metadata.Arg{{Name: "color", Type: "Color"}, {Name: "pair", Type: "Option<Pair>"}}},
	{Name: "Node", Fields: []metadata.Arg{{Name: "next", Type: "Node"}}},
}

func encodeTyped(t *testing.T, typ, value string) ([]byte, error) {
	t.Helper()
	reg, err := metadata.NewRegistry(testTypes)
	require.NoError(t, err)
	ty, err := metadata.ParseType(typ)
	require.NoError(t, err)
	v, err := transcode.ParseValue(value)
	require.NoError(t, err)
	return transcode.EncodeValueWith(reg, ty, v)
}

func TestEncodeValueWith(t *testing.T) {
	tests := []struct {
		typ, value string
		want       []byte
	}{
		// Structs are their fields in declaration order.
		{"Transfer", "{ from: 1, to: 2 }", []byte{0x01, 0x02}},
		{"Transfer", "Transfer { to: 2, from: 1, }", []byte{0x01, 0x02}},
		{"Pair", "(1, 2)", []byte{0x01, 0x02, 0x00}},
		{"Pair", "Pair(1, 2)", []byte{0x01, 0x02, 0x00}},
		{"Wrapper", "7", []byte{0x07, 0x00, 0x00, 0x00}},
		{"Wrapper", "{ inner: 7 }", []byte{0x07, 0x00, 0x00, 0x00}},
		{"Unit", "()", []byte{}},
		{"Unit", "{}", []byte{}},

		// Enums are the case index followed by the case's fields.
		{"Color", "Red", []byte{0x00}},
		{"Color", "Color::Green", []byte{0x01}},
		{"Color", "Rgb(1, 2, 3)", []byte{0x02, 0x01, 0x02, 0x03}},
		{"Color", "Named { code: 513 }", []byte{0x03, 0x01, 0x02}},
		{"Vec<Color>", "[Red, Green]", []byte{0x08, 0x00, 0x01}},

		{"a::Nested", "{ color: Red, pair: Some((1, 2)) }", []byte{0x00, 0x01, 0x01, 0x02, 0x00}},
		{"a::Nested", "Nested { color: Rgb(0, 0, 0), pair: None }", []byte{0x02, 0x00, 0x00, 0x00, 0x00}},
		{"a::Nested", "a::Nested { pair: None, color: Color::Red }", []byte{0x00, 0x00}},
	}
	for _, tt := range tests {
		t.Run(tt.typ+" "+tt.value, func(t *testing.T) {
			got, err := encodeTyped(t, tt.typ, tt.value)
			require.NoError(t, err)
			require.Equal(t, tt.want, append([]byte{}, got...))
		})
	}
}

func TestEncodeValueWith_Errors(t *testing.T) {
	tests := []struct {
		typ, value string
		kind       errors.Kind
		rule       string
	}{
		{"Transfer", "(1, 2)", errors.KindInvalidInput, "named_fields"},
		{"Transfer", "{ from: 1 }", errors.KindInvalidInput, "missing_field"},
		{"Transfer", "{ from: 1, to: 2, memo: 3 }", errors.KindInvalidInput, "unknown_field"},
		{"Transfer", "Other { from: 1, to: 2 }", errors.KindTypeMismatch, ""},
		{"Transfer", "{ from: 256, to: 2 }", errors.KindOverflow, ""},
		{"Pair", "{ a: 1 }", errors.KindTypeMismatch, ""},
		{"Pair", "(1)", errors.KindTypeMismatch, ""},
		{"Color", "Blue", errors.KindNotFound, ""},
		{"Color", "Shade::Red", errors.KindTypeMismatch, ""},
		{"Color", "Rgb(1)", errors.KindTypeMismatch, ""},
		{"Color", "Red(1)", errors.KindTypeMismatch, ""},
		{"Color", "Named(1)", errors.KindInvalidInput, "named_fields"},
		{"Color", "1", errors.KindTypeMismatch, ""},
		{"Node", "1", errors.KindInvalidInput, "depth"},
		{"Undefined", "1", errors.KindUnsupported, "named_type"},
	}
	for _, tt := range tests {
		t.Run(tt.typ+" "+tt.value, func(t *testing.T) {
			_, err := encodeTyped(t, tt.typ, tt.value)
			require.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseTranscode, Kind: tt.kind, Rule: tt.rule})
		})
	}
}

func TestEncodeValueWith_FieldPath(t *testing.T) {
	_, err := encodeTyped(t, "a::Nested", "{ color: Rgb(1, 2, 300), pair: None }")
	var e *errors.Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, errors.KindOverflow, e.Kind)
	require.Equal(t, []string{".color", ".Rgb", ".2"}, e.Path)
}

func TestEncodeValue_NamedWithoutRegistry(t *testing.T) {
	_, err := encode(t, "Transfer", "{ from: 1, to: 2 }")
	require.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseTranscode, Kind: errors.KindUnsupported, Rule: "named_type"})
}

func TestParseValue_Maps(t *testing.T) {
	v, err := transcode.ParseValue("{ from: 1, to: Some(2) }")
	require.NoError(t, err)
	require.Equal(t, transcode.ValueMap, v.Kind)
	require.Empty(t, v.Ident)
	require.Len(t, v.Fields, 2)
	to, ok := v.Field("to")
	require.True(t, ok)
	require.Equal(t, transcode.ValueVariant, to.Kind)
	require.Equal(t, "Some", to.Ident)

	v, err = transcode.ParseValue("a::Color::Named { code: 1 }")
	require.NoError(t, err)
	require.Equal(t, transcode.ValueMap, v.Kind)
	require.Equal(t, "a::Color::Named", v.Ident)

	v, err = transcode.ParseValue("Transfer(1, 2)")
	require.NoError(t, err)
	require.Equal(t, transcode.ValueVariant, v.Kind)
	require.Len(t, v.Elems, 2)

	for _, in := range []string{"{ a 1 }", "{ a: 1, a: 2 }", "{ a: 1", "{ : 1 }", "Point { x: 1"} {
		_, err := transcode.ParseValue(in)
		require.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseTranscode, Kind: errors.KindInvalidInput, Rule: "value_syntax"}, in)
	}
}

func TestSplitArgs(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"  1 0x02  bare ", []string{"1", "0x02", "bare"}},
		{`"hello world" 5`, []string{`"hello world"`, "5"}},
		{"(1, 2) [3, 4] { from: 1, to: 2 }", []string{"(1, 2)", "[3, 4]", "{ from: 1, to: 2 }"}},
		{"Transfer { from: 1, to: 2 } Some( 1 )", []string{"Transfer { from: 1, to: 2 }", "Some( 1 )"}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := transcode.SplitArgs(tt.in)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}

	for _, in := range []string{`"open`, `"a"b`, "(1, 2"} {
		_, err := transcode.SplitArgs(in)
		require.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseTranscode, Kind: errors.KindInvalidInput, Rule: "value_syntax"}, in)
	}
}

func TestEncoder_Types(t *testing.T) {
	spec := metadata.InterfaceSpec{
		Messages: []metadata.Message{
			{Name: "transfer", Args: []metadata.Arg{{Name: "t", Type: "Transfer"}}},
			{Name: "paint", Args: []metadata.Arg{{Name: "c", Type: "Color"}}},
		},
		Types: testTypes,
	}
	doc, err := metadata.Build(spec, metadata.PackageFacts{Name: "typed", Version: "1.0.0"}, metadata.HashCode(nil))
	require.NoError(t, err)

	enc, err := transcode.New(doc)
	require.NoError(t, err)

	got, err := enc.EncodeMessage("transfer", "{ from: 1, to: 2 }")
	require.NoError(t, err)
	require.Equal(t, append(selector("transfer(Transfer)"), 0x01, 0x02), got)

	got, err = enc.EncodeMessage("paint", "Rgb(1, 2, 3)")
	require.NoError(t, err)
	require.Equal(t, append(selector("paint(Color)"), 0x02, 0x01, 0x02, 0x03), got)
}

func TestNew_RejectsBadTypes(t *testing.T) {
	doc := document(t)
	doc.Spec.Types = []metadata.TypeDef{{Name: "u32"}}
	_, err := transcode.New(doc)
	require.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseMetadata, Kind: errors.KindInvalidInput, Rule: "type_name"})
}
