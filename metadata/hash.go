package metadata

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/wippyai/wasm-contract/errors"
)

// HashAlgorithm identifies the code hash and selector hash. It is pinned to
// the major FormatVersion.
const HashAlgorithm = "blake2b-256"

// CodeHash is the BLAKE2b-256 digest of the final module bytes.
type CodeHash [32]byte

// HashCode hashes the exact bytes that will be packaged.
func HashCode(code []byte) CodeHash {
	return blake2b.Sum256(code)
}

// String returns the 0x-prefixed lowercase hex form stored in documents.
func (h CodeHash) String() string {
	return "0x" + hex.EncodeToString(h[:])
}

// ParseCodeHash parses the form produced by String.
func ParseCodeHash(s string) (CodeHash, error) {
	var h CodeHash
	raw, err := decodeHex(s)
	if err != nil || len(raw) != len(h) || !strings.HasPrefix(s, "0x") {
		return h, errors.New(errors.PhaseMetadata, errors.KindInvalidInput).
			Rule("code_hash").
			Value(s).
			Detail("code hash must be 0x followed by 64 hex digits").
			Build()
	}
	copy(h[:], raw)
	return h, nil
}

func decodeHex(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(s, "0x"))
}

// Hasher computes the digest selectors are taken from.
type Hasher func(data []byte) []byte

// Blake2b256 is the default Hasher.
func Blake2b256(data []byte) []byte {
	sum := blake2b.Sum256(data)
	return sum[:]
}

// Selector is the 4-byte dispatch identifier of a message or constructor.
type Selector [4]byte

// String returns the 0x-prefixed hex form.
func (s Selector) String() string {
	return "0x" + hex.EncodeToString(s[:])
}

// ParseSelector parses the form produced by String.
func ParseSelector(s string) (Selector, error) {
	var sel Selector
	raw, err := decodeHex(s)
	if err != nil || len(raw) != len(sel) || !strings.HasPrefix(s, "0x") {
		return sel, errors.New(errors.PhaseMetadata, errors.KindInvalidInput).
			Rule("selector").
			Value(s).
			Detail("selector must be 0x followed by 8 hex digits").
			Build()
	}
	copy(sel[:], raw)
	return sel, nil
}

// ComputeSelector hashes a canonical signature and keeps the first 4 bytes.
func ComputeSelector(h Hasher, signature string) Selector {
	var sel Selector
	copy(sel[:], h([]byte(signature)))
	return sel
}
