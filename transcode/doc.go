// Package transcode encodes contract calls from textual arguments.
//
// Call data is the 4-byte selector of a constructor or message followed by
// the SCALE encoding of each argument, as declared in the metadata document.
// Integers are little-endian and fixed width, lists and strings carry a
// compact length prefix, fixed arrays do not, and option and result values
// start with a tag byte. Structs defined in the document's types are their
// fields in order; an enum value is its case index byte followed by the
// case's fields.
//
//	enc, _ := transcode.New(doc)
//	data, err := enc.EncodeMessage("transfer", "0xd43593c7", "1_000")
//
// Named types without a definition are rejected, as are floating point and
// char arguments.
package transcode
