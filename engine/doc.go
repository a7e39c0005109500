// Package engine compiles candidate contract binaries with wazero to prove
// that a real runtime accepts them.
//
// The check never instantiates or runs a module. It is used after every
// transform that produces new bytes, most importantly on the output of the
// external optimizer, whose result is only trusted once it compiles:
//
//	eng := engine.New(ctx, &engine.Config{MemoryLimitPages: 16})
//	defer eng.Close(ctx)
//
//	summary, err := eng.Check(ctx, code)
//	if errors.Is(err, engine.ErrRejected) {
//	    // discard code
//	}
//
// Summary reports the import targets and exported names wazero saw, which
// callers use to compare a transformed module with its input.
package engine
