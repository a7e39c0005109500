// Package wasm provides WebAssembly binary format parsing and encoding for
// contract build tooling.
//
// A Module is an ordered list of sections. Each section is one of the
// tagged variants declared in this package; section ids the package does not
// know are kept as OpaqueSection values so nothing is lost on the way
// through.
//
// # Parsing
//
//	data, _ := os.ReadFile("contract.wasm")
//	m, err := wasm.Parse(data)
//	if err != nil {
//	    var e *errors.Error
//	    if stderrors.As(err, &e) {
//	        log.Fatalf("%s at byte %d", e.Rule, e.Offset)
//	    }
//	}
//
// Parse checks structure only: header, section sizes and order, index
// spaces, export name uniqueness, function/code counts and that every
// instruction stream decodes. Failures are *errors.Error values in the parse
// phase whose cause is one of the sentinels in errors.go.
//
// # Encoding
//
// Sections that came from Parse remember their exact bytes and are written
// back verbatim, so Parse(b).Encode() reproduces b. Sections constructed in
// code are encoded canonically:
//
//	out := m.Encode()
//
// Transforms should therefore build replacement sections instead of editing
// parsed ones in place.
//
// # Instructions
//
// ScanInstructions walks a function body and reports each instruction with
// its offset, instruction Class and index immediate. RewriteIndices re-encodes
// function and global indices through an IndexMap and copies every other
// byte unchanged.
package wasm
