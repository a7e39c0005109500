// Package bundle packages a contract module with its metadata document.
//
// A Bundle is addressed by the BLAKE2b-256 hash of its code, and Package
// refuses a document whose source.hash names other bytes. Bundles have two
// serialized forms:
//
//   - JSON (.contract): the document fields plus source_wasm, the code as
//     0x-prefixed hex.
//   - Archive (.zip): <name>.wasm and metadata.json, with fixed timestamps
//     so equal bundles give equal archives.
//
// WriteFile and WriteArchiveFile never leave a partial file behind. Decode
// and ReadArchive validate against the generated JSON Schema, check the
// format version and verify the hash again.
package bundle
