package strip

import (
	"fmt"

	"github.com/wippyai/wasm-contract/errors"
	"github.com/wippyai/wasm-contract/wasm"
)

// refs are the functions and globals one instruction stream refers to.
type refs struct {
	funcs   []uint32
	globals []uint32
}

// collectRefs scans code for call, return_call, ref.func, global.get and
// global.set immediates.
func collectRefs(code []byte) (refs, error) {
	var r refs
	err := wasm.ScanInstructions(code, func(ins wasm.Instruction) error {
		switch ins.IndexKind {
		case wasm.IndexFunc:
			r.funcs = appendUnique(r.funcs, ins.Index)
		case wasm.IndexGlobal:
			r.globals = appendUnique(r.globals, ins.Index)
		}
		return nil
	})
	return r, err
}

func appendUnique(slice []uint32, val uint32) []uint32 {
	for _, v := range slice {
		if v == val {
			return slice
		}
	}
	return append(slice, val)
}

// liveSet computes the functions and globals transitively referenced from a
// set of roots. Imported entities are leaves.
type liveSet struct {
	bodies  []wasm.FuncBody
	globals []wasm.Global

	funcs    map[uint32]bool
	globalsL map[uint32]bool

	pendingFuncs   []uint32
	pendingGlobals []uint32

	importedFuncs   uint32
	importedGlobals uint32
}

func newLiveSet(m *wasm.Module) *liveSet {
	return &liveSet{
		bodies:          m.Bodies(),
		globals:         m.Globals(),
		funcs:           make(map[uint32]bool),
		globalsL:        make(map[uint32]bool),
		importedFuncs:   uint32(m.NumImportedFuncs()),
		importedGlobals: uint32(m.NumImportedGlobals()),
	}
}

func (l *liveSet) markFunc(idx uint32) {
	if !l.funcs[idx] {
		l.funcs[idx] = true
		l.pendingFuncs = append(l.pendingFuncs, idx)
	}
}

func (l *liveSet) markGlobal(idx uint32) {
	if !l.globalsL[idx] {
		l.globalsL[idx] = true
		l.pendingGlobals = append(l.pendingGlobals, idx)
	}
}

// markRefs marks everything an instruction stream refers to.
func (l *liveSet) markRefs(code []byte, where string) error {
	r, err := collectRefs(code)
	if err != nil {
		return errors.Wrap(errors.PhaseStrip, errors.KindMalformedModule, err, "scan "+where)
	}
	for _, f := range r.funcs {
		l.markFunc(f)
	}
	for _, g := range r.globals {
		l.markGlobal(g)
	}
	return nil
}

// run drains the work lists.
func (l *liveSet) run() error {
	for len(l.pendingFuncs) > 0 || len(l.pendingGlobals) > 0 {
		if n := len(l.pendingFuncs); n > 0 {
			idx := l.pendingFuncs[n-1]
			l.pendingFuncs = l.pendingFuncs[:n-1]
			if idx < l.importedFuncs {
				continue
			}
			local := idx - l.importedFuncs
			if int(local) >= len(l.bodies) {
				return outOfRange("function", idx)
			}
			if err := l.markRefs(l.bodies[local].Code, fmt.Sprintf("function %d", idx)); err != nil {
				return err
			}
			continue
		}

		n := len(l.pendingGlobals)
		idx := l.pendingGlobals[n-1]
		l.pendingGlobals = l.pendingGlobals[:n-1]
		if idx < l.importedGlobals {
			continue
		}
		local := idx - l.importedGlobals
		if int(local) >= len(l.globals) {
			return outOfRange("global", idx)
		}
		if err := l.markRefs(l.globals[local].Init, fmt.Sprintf("global %d", idx)); err != nil {
			return err
		}
	}
	return nil
}

func outOfRange(space string, idx uint32) error {
	return errors.New(errors.PhaseStrip, errors.KindMalformedModule).
		Rule("index_out_of_range").
		Detail("%s index %d out of range", space, idx).
		Build()
}

// indexMaps assigns new indices: imports keep theirs, live defined entities
// are numbered densely in their original order.
func (l *liveSet) indexMaps() wasm.IndexMap {
	return wasm.IndexMap{
		Funcs:   denseMap(l.funcs, l.importedFuncs, len(l.bodies)),
		Globals: denseMap(l.globalsL, l.importedGlobals, len(l.globals)),
	}
}

func denseMap(live map[uint32]bool, imported uint32, defined int) map[uint32]uint32 {
	out := make(map[uint32]uint32, int(imported)+len(live))
	for i := uint32(0); i < imported; i++ {
		out[i] = i
	}
	next := imported
	for i := 0; i < defined; i++ {
		idx := imported + uint32(i)
		if live[idx] {
			out[idx] = next
			next++
		}
	}
	return out
}

// liveFuncs counts live defined functions.
func (l *liveSet) liveFuncs() int {
	n := 0
	for idx := range l.funcs {
		if idx >= l.importedFuncs {
			n++
		}
	}
	return n
}

// liveGlobals counts live defined globals.
func (l *liveSet) liveGlobals() int {
	n := 0
	for idx := range l.globalsL {
		if idx >= l.importedGlobals {
			n++
		}
	}
	return n
}
