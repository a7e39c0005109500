// Package metadata builds the document that describes a contract's callable
// interface.
//
// Each constructor and message gets a 4-byte selector: the first bytes of
// the BLAKE2b-256 digest of its canonical signature, such as
// "transfer(u32,list<u8>)". Argument types are normalized by ParseType first,
// so "Vec<u8>" and "list<u8>" select the same entry. Selectors must be
// unique within the constructor set and within the message set.
//
// The document records the hash of the exact code it describes. Its JSON
// form is deterministic and Schema describes it.
package metadata
