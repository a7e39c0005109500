package transcode_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wippyai/wasm-contract/errors"
	"github.com/wippyai/wasm-contract/metadata"
	"github.com/wippyai/wasm-contract/transcode"
)

func TestAppendCompact(t *testing.T) {
	tests := []struct {
		n    uint64
		want []byte
	}{
		{0, []byte{0x00}},
		{1, []byte{0x04}},
		{42, []byte{0xa8}},
		{63, []byte{0xfc}},
		{64, []byte{0x01, 0x01}},
		{16383, []byte{0xfd, 0xff}},
		{16384, []byte{0x02, 0x00, 0x01, 0x00}},
		{1<<30 - 1, []byte{0xfe, 0xff, 0xff, 0xff}},
		{1 << 30, []byte{0x03, 0x00, 0x00, 0x00, 0x40}},
		{1 << 32, []byte{0x07, 0x00, 0x00, 0x00, 0x00, 0x01}},
		{1<<64 - 1, []byte{0x13, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, transcode.AppendCompact(nil, tt.n), "n=%d", tt.n)
	}
}

func encode(t *testing.T, typ, value string) ([]byte, error) {
	t.Helper()
	ty, err := metadata.ParseType(typ)
	require.NoError(t, err)
	v, err := transcode.ParseValue(value)
	require.NoError(t, err)
	return transcode.EncodeValue(ty, v)
}

func TestEncodeValue(t *testing.T) {
	tests := []struct {
		typ, value string
		want       []byte
	}{
		{"bool", "true", []byte{0x01}},
		{"bool", "false", []byte{0x00}},
		{"u8", "255", []byte{0xff}},
		{"u16", "513", []byte{0x01, 0x02}},
		{"u32", "1_000", []byte{0xe8, 0x03, 0x00, 0x00}},
		{"u64", `"1,000,000"`, []byte{0x40, 0x42, 0x0f, 0x00, 0x00, 0x00, 0x00, 0x00}},
		{"i8", "-1", []byte{0xff}},
		{"i16", "-2", []byte{0xfe, 0xff}},
		{"i64", "-1", []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}},
		{"u128", "1", append([]byte{0x01}, make([]byte, 15)...)},
		{"i128", "-1", []byte(strings.Repeat("\xff", 16))},
		{"u128", `"340282366920938463463374607431768211455"`, []byte(strings.Repeat("\xff", 16))},
		{"String", `"hi"`, []byte{0x08, 'h', 'i'}},
		{"String", "bare", []byte{0x10, 'b', 'a', 'r', 'e'}},
		{"Vec<u8>", "0x0102", []byte{0x08, 0x01, 0x02}},
		{"Vec<u8>", "[1, 2]", []byte{0x08, 0x01, 0x02}},
		{"Vec<u16>", "[]", []byte{0x00}},
		{"Vec<bool>", "[true, false,]", []byte{0x08, 0x01, 0x00}},
		{"[u8; 4]", "0xdeadbeef", []byte{0xde, 0xad, 0xbe, 0xef}},
		{"[u16; 2]", "[1, 2]", []byte{0x01, 0x00, 0x02, 0x00}},
		{"Option<u8>", "None", []byte{0x00}},
		{"Option<u8>", "Some(7)", []byte{0x01, 0x07}},
		{"Result<(), u8>", "Ok(())", []byte{0x00}},
		{"Result<u8, String>", `Err("no")`, []byte{0x01, 0x08, 'n', 'o'}},
		{"(u8, bool)", "(1, true)", []byte{0x01, 0x01}},
		{"(u8,)", "9", []byte{0x09}},
		{"Vec<Option<u8>>", "[None, Some(1)]", []byte{0x08, 0x00, 0x01, 0x01}},
	}
	for _, tt := range tests {
		t.Run(tt.typ+" "+tt.value, func(t *testing.T) {
			got, err := encode(t, tt.typ, tt.value)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestEncodeValue_Errors(t *testing.T) {
	tests := []struct {
		typ, value string
		kind       errors.Kind
		rule       string
	}{
		{"u8", "256", errors.KindOverflow, ""},
		{"u8", "-1", errors.KindOverflow, ""},
		{"i8", "128", errors.KindOverflow, ""},
		{"i8", "-129", errors.KindOverflow, ""},
		{"u128", `"340282366920938463463374607431768211456"`, errors.KindOverflow, ""},
		{"u32", "true", errors.KindTypeMismatch, ""},
		{"u32", `"ten"`, errors.KindTypeMismatch, ""},
		{"bool", "1", errors.KindTypeMismatch, ""},
		{"String", "[1]", errors.KindTypeMismatch, ""},
		{"Vec<u16>", "0x0102", errors.KindTypeMismatch, ""},
		{"[u8; 4]", "0x01", errors.KindInvalidInput, "array_length"},
		{"Option<u8>", "Ok(1)", errors.KindTypeMismatch, ""},
		{"Option<u8>", "Some(1, 2)", errors.KindTypeMismatch, ""},
		{"Result<u8, u8>", "None", errors.KindTypeMismatch, ""},
		{"(u8, u8)", "(1)", errors.KindTypeMismatch, ""},
		{"AccountId", "0x00", errors.KindUnsupported, "named_type"},
		{"f32", "1", errors.KindUnsupported, "primitive"},
		{"char", "a", errors.KindUnsupported, "primitive"},
	}
	for _, tt := range tests {
		t.Run(tt.typ+" "+tt.value, func(t *testing.T) {
			_, err := encode(t, tt.typ, tt.value)
			require.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseTranscode, Kind: tt.kind, Rule: tt.rule})
		})
	}
}

func TestParseValue_Invalid(t *testing.T) {
	for _, in := range []string{"", "[1, 2", "(1", `"open`, "0xabc", "1 2", "--1", "@", "Some(1"} {
		t.Run(in, func(t *testing.T) {
			_, err := transcode.ParseValue(in)
			require.ErrorIs(t, err, &errors.Error{
				Phase: errors.PhaseTranscode,
				Kind:  errors.KindInvalidInput,
				Rule:  "value_syntax",
			})
		})
	}
}

func document(t *testing.T) *metadata.Document {
	t.Helper()
	spec := metadata.InterfaceSpec{
		Constructors: []metadata.Constructor{
			{Name: "new", Args: []metadata.Arg{{Name: "init", Type: "bool"}}},
		},
		Messages: []metadata.Message{
			{Name: "flip", Mutates: true},
			{Name: "transfer", Args: []metadata.Arg{{Name: "value", Type: "u32"}}},
			{Name: "transfer", Args: []metadata.Arg{{Name: "value", Type: "u64"}}},
			{Name: "set", Args: []metadata.Arg{{Name: "key", Type: "[u8; 2]"}, {Name: "value", Type: "Option<String>"}}},
		},
	}
	facts := metadata.PackageFacts{Name: "flipper", Version: "1.0.0"}
	doc, err := metadata.Build(spec, facts, metadata.HashCode(nil))
	require.NoError(t, err)
	return doc
}

func selector(sig string) []byte {
	s := metadata.ComputeSelector(metadata.Blake2b256, sig)
	return s[:]
}

func TestEncoder(t *testing.T) {
	enc, err := transcode.New(document(t))
	require.NoError(t, err)

	got, err := enc.EncodeConstructor("new", "true")
	require.NoError(t, err)
	require.Equal(t, append(selector("new(bool)"), 0x01), got)

	got, err = enc.EncodeMessage("flip")
	require.NoError(t, err)
	require.Equal(t, selector("flip()"), got)

	got, err = enc.EncodeMessage("set", "0xabcd", `Some("x")`)
	require.NoError(t, err)
	require.Equal(t, append(selector("set([u8;2],option<string>)"), 0xab, 0xcd, 0x01, 0x04, 'x'), got)

	got, err = enc.EncodeMessage("transfer(u64)", "5")
	require.NoError(t, err)
	require.Equal(t, append(selector("transfer(u64)"), 5, 0, 0, 0, 0, 0, 0, 0), got)

	require.Equal(t, []string{"flip()", "transfer(u32)", "transfer(u64)", "set([u8;2],option<string>)"}, enc.Signatures())
}

func TestEncoder_Errors(t *testing.T) {
	enc, err := transcode.New(document(t))
	require.NoError(t, err)

	_, err = enc.EncodeMessage("missing")
	require.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseTranscode, Kind: errors.KindNotFound})

	_, err = enc.EncodeConstructor("flip")
	require.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseTranscode, Kind: errors.KindNotFound})

	_, err = enc.EncodeMessage("transfer", "1")
	require.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseTranscode, Kind: errors.KindInvalidInput, Rule: "ambiguous_message"})

	_, err = enc.EncodeMessage("flip", "1")
	require.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseTranscode, Kind: errors.KindInvalidInput, Rule: "arg_count"})

	_, err = enc.EncodeMessage("transfer(u32)", "4294967296")
	require.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseTranscode, Kind: errors.KindOverflow})
	var e *errors.Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, []string{"message", "transfer", "value"}, e.Path)

	_, err = enc.EncodeMessage("set", "[1, 2", "None")
	require.ErrorAs(t, err, &e)
	require.Equal(t, "value_syntax", e.Rule)
	require.Equal(t, []string{"message", "set", "key"}, e.Path)
}

func TestNew_RejectsBadSelector(t *testing.T) {
	doc := document(t)
	doc.Spec.Messages[0].Selector = "0x12"
	_, err := transcode.New(doc)
	require.Error(t, err)
}
