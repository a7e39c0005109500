// Package optimizer provides backends for the external size optimizer used
// by the strip stage.
//
// Every backend has the same byte-in/byte-out contract:
//
//	Optimize(ctx context.Context, code []byte) ([]byte, error)
//
// Command runs a binary such as wasm-opt as a child process, Wasm hosts an
// optimizer compiled to WASI inside wazero, and Func adapts a plain
// function. Any failure to produce output wraps ErrUnavailable. Backends do
// not judge their own output; the strip stage re-validates it.
package optimizer
