// Package errors provides structured error types for the contract build pipeline.
//
// Errors are categorized by Phase (which stage failed) and Kind (error category).
// An optional Rule names the specific rule that was violated, and parse errors
// carry the absolute byte offset of the problem.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseParse, errors.KindMalformedModule).
//		Rule("section_length").
//		At(42).
//		Path("code").
//		Detail("section declares %d bytes, %d available", 10, 4).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.SelectorCollision("messages", "a", "b", "0x01020304")
//	err := errors.Inconsistency(errors.PhasePackage, "hash mismatch")
//
// All errors implement the standard error interface and support errors.Is/As.
// Fatal errors keep the full cause chain reachable through Unwrap.
package errors
