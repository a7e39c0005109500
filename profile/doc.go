// Package profile defines execution profiles and validates modules against
// them.
//
// A profile is policy, not mechanism: it lists the import targets a contract
// may use, the instruction classes it must not contain, the exports it has
// to provide and the largest memory it may declare. Profiles are usually
// loaded from YAML:
//
//	allowed_import_targets: [seal0.*, env.memory]
//	disallowed_instruction_kinds: [float, simd]
//	required_exports:
//	  - name: call
//	    signature: {params: [], results: []}
//	memory_limits:
//	  max_pages: 16
//
// Validate never stops at the first problem. It returns a Report holding
// every violation, and Report.Err turns a failing report into an
// errors.KindValidationFailure error.
package profile
