// Package pipeline turns a compiled contract module into a bundle.
//
// The stages run in a fixed order and each one hands the next a fresh value:
//
//	compile -> parse -> validate -> strip/optimize -> metadata -> package
//
// Every stage error is fatal and keeps its phase and cause. The optimizer is
// the exception: when it fails or produces output that does not hold up,
// the build continues with the stripped module and reports a warning in
// Result.Warnings.
//
// Stages are logged through the zap logger in Options and timed in Metrics
// when one is supplied.
package pipeline
