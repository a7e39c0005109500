package bundle

import (
	"github.com/wippyai/wasm-contract/errors"
	"github.com/wippyai/wasm-contract/metadata"
)

// Bundle is a contract module together with the document that describes it.
// It cannot be modified after Package returns it.
type Bundle struct {
	doc  *metadata.Document
	code []byte
	hash metadata.CodeHash
}

// Package joins the final module bytes with their document. The document's
// source hash must be the hash of code; a mismatch means the document was
// built for different bytes and is reported as an internal inconsistency.
func Package(code []byte, doc *metadata.Document) (*Bundle, error) {
	if doc == nil {
		return nil, errors.InvalidInput(errors.PhasePackage, "nil document")
	}
	b, err := assemble(code, doc)
	if err != nil {
		if e, ok := err.(*errors.Error); ok && e.Rule == "hash_mismatch" {
			e.Kind = errors.KindInternalInconsistency
		}
		return nil, err
	}
	return b, nil
}

// assemble copies code and doc and verifies the hash.
func assemble(code []byte, doc *metadata.Document) (*Bundle, error) {
	want, err := doc.CodeHash()
	if err != nil {
		return nil, errors.New(errors.PhasePackage, errors.KindInvalidInput).
			Rule("code_hash").
			Path("source", "hash").
			Cause(err).
			Build()
	}
	got := metadata.HashCode(code)
	if got != want {
		return nil, errors.New(errors.PhasePackage, errors.KindInvalidInput).
			Rule("hash_mismatch").
			Path("source", "hash").
			Detail("document names %s, code hashes to %s", want, got).
			Build()
	}
	return &Bundle{
		doc:  doc.Clone(),
		code: append([]byte(nil), code...),
		hash: got,
	}, nil
}

// Code returns a copy of the module bytes.
func (b *Bundle) Code() []byte {
	return append([]byte(nil), b.code...)
}

// Size is the length of the module in bytes.
func (b *Bundle) Size() int {
	return len(b.code)
}

// Document returns a copy of the metadata document.
func (b *Bundle) Document() *metadata.Document {
	return b.doc.Clone()
}

// Hash is the code hash the bundle is addressed by.
func (b *Bundle) Hash() metadata.CodeHash {
	return b.hash
}

// Name is the contract name from the package facts.
func (b *Bundle) Name() string {
	return b.doc.Contract.Name
}
