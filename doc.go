// Package wasmcontract builds deployable smart-contract bundles from
// compiled WebAssembly modules.
//
// A build takes a raw module, checks it against an execution profile,
// removes what the chain does not need, and packages the final bytes
// with a metadata document whose selectors and code hash are derived
// from them.
//
// # Architecture Overview
//
//	wasmcontract/
//	├── errors/             Structured errors: phase, kind, rule, offset
//	├── wasm/               Module parser and writer, instruction scanner
//	├── profile/            Execution profiles and the validator
//	├── engine/             wazero compile check for candidate binaries
//	├── optimizer/          External and in-process optimizer backends
//	├── strip/              Custom-section removal, dead code elimination
//	├── metadata/           ABI types, selectors, metadata document, schema
//	├── transcode/          SCALE call data for messages and constructors
//	├── bundle/             Content-addressed bundle, JSON and zip forms
//	├── pipeline/           Stage chain, logging and metrics
//	└── cmd/contract-build/ Command line front end
//
// # Quick Start
//
//	prof, err := profile.LoadFile("profile.yaml")
//	if err != nil {
//		return err
//	}
//	res, err := pipeline.Build(ctx, code, pipeline.Options{
//		Profile:   prof,
//		Interface: iface,
//		Package:   facts,
//		Optimizer: optimizer.NewCommand("wasm-opt"),
//	})
//	if err != nil {
//		return err
//	}
//	return bundle.WriteFile("token.contract", res.Bundle)
//
// # Errors
//
// Every failure is an *errors.Error carrying the phase that failed and a
// kind. Match them with errors.Is:
//
//	if errors.Is(err, &errors.Error{Phase: errors.PhaseValidate, Kind: errors.KindValidationFailure}) {
//		report := err.(*errors.Error).Value.(profile.Report)
//	}
//
// Optimizer failures never fail a build. They are returned as warnings and
// the stripped module is packaged instead.
package wasmcontract
