// Package strip shrinks a validated contract module without changing what
// it can do.
//
// Module is the pure part. It removes developer-only custom sections, then
// keeps only the functions and globals reachable from the root exports, the
// start function and element segments, renumbering every reference that
// survives. Running it twice gives the same bytes as running it once.
//
// Run adds the optional external optimizer. Its output is trusted only after
// it parses, compiles, passes the same profile, keeps every required export
// and import target unchanged, and is no larger than its input. Anything
// else becomes a Warning and the stripped module is used instead.
package strip
