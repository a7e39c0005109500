package strip

import (
	"fmt"
	"slices"

	"github.com/wippyai/wasm-contract/errors"
	"github.com/wippyai/wasm-contract/wasm"
)

// Stats counts what Module removed.
type Stats struct {
	CustomSections int `json:"custom_sections"`
	Functions      int `json:"functions"`
	Globals        int `json:"globals"`
	Exports        int `json:"exports"`
}

// Removed reports whether anything was removed.
func (s Stats) Removed() bool {
	return s != Stats{}
}

// Module returns a stripped copy of m. Custom sections that are
// DeveloperOnly are dropped unless named in keepCustom. Function and global
// exports not named in roots are dropped; when roots is empty every export
// is a root. Memory, table and tag exports are always kept. A kept name
// section is still dropped once functions are renumbered.
//
// Sections that need no change are carried over with their original
// encoding, so stripping an already stripped module is a no-op.
func Module(m *wasm.Module, roots []string, keepCustom []string) (*wasm.Module, Stats, error) {
	var stats Stats
	c := m.Clone()

	rootSet := make(map[string]bool, len(roots))
	for _, name := range roots {
		if _, ok := c.Export(name); !ok {
			return nil, stats, errors.NotFound(errors.PhaseStrip, "root export", name)
		}
		rootSet[name] = true
	}

	live := newLiveSet(c)
	var exports []wasm.Export
	for _, e := range c.Exports() {
		if len(rootSet) > 0 && !rootSet[e.Name] && (e.Kind == wasm.KindFunc || e.Kind == wasm.KindGlobal) {
			stats.Exports++
			continue
		}
		exports = append(exports, e)
		switch e.Kind {
		case wasm.KindFunc:
			live.markFunc(e.Index)
		case wasm.KindGlobal:
			live.markGlobal(e.Index)
		}
	}
	if start, ok := c.Start(); ok {
		live.markFunc(start)
	}
	for i, el := range c.Elements() {
		for _, f := range el.FuncIdxs {
			live.markFunc(f)
		}
		where := fmt.Sprintf("element %d", i)
		for _, expr := range el.Exprs {
			if err := live.markRefs(expr, where); err != nil {
				return nil, stats, err
			}
		}
		if el.Active() {
			if err := live.markRefs(el.Offset, where); err != nil {
				return nil, stats, err
			}
		}
	}
	for i, d := range dataSegments(c) {
		if d.Flags != 1 {
			if err := live.markRefs(d.Offset, fmt.Sprintf("data %d", i)); err != nil {
				return nil, stats, err
			}
		}
	}
	if err := live.run(); err != nil {
		return nil, stats, err
	}

	stats.Functions = len(c.Bodies()) - live.liveFuncs()
	stats.Globals = len(c.Globals()) - live.liveGlobals()
	reindex := stats.Functions > 0 || stats.Globals > 0
	rewrite := reindex || stats.Exports > 0

	keep := make(map[string]bool, len(keepCustom))
	for _, name := range keepCustom {
		keep[name] = true
	}

	var remap wasm.IndexMap
	if reindex {
		remap = live.indexMaps()
	}

	out := &wasm.Module{}
	for _, s := range c.Sections {
		if cs, ok := s.(*wasm.CustomSection); ok {
			// Debug names would describe the old function numbering.
			if (DeveloperOnly(cs.Name) && !keep[cs.Name]) || (cs.Name == "name" && stats.Functions > 0) {
				stats.CustomSections++
				continue
			}
			out.Sections = append(out.Sections, s)
			continue
		}
		if !rewrite {
			out.Sections = append(out.Sections, s)
			continue
		}

		ns, err := rebuild(s, live, remap, exports, reindex)
		if err != nil {
			return nil, stats, err
		}
		if ns != nil {
			out.Sections = append(out.Sections, ns)
		}
	}
	return out, stats, nil
}

func dataSegments(m *wasm.Module) []wasm.DataSegment {
	if ds := m.DataSection(); ds != nil {
		return ds.Segments
	}
	return nil
}

// rebuild returns the replacement for s, s itself when it is unaffected, or
// nil when the section ends up empty.
func rebuild(s wasm.Section, live *liveSet, remap wasm.IndexMap, exports []wasm.Export, reindex bool) (wasm.Section, error) {
	if _, ok := s.(*wasm.ExportSection); ok {
		ns := &wasm.ExportSection{Exports: make([]wasm.Export, len(exports))}
		for i, e := range exports {
			e.Index = mapExport(e, remap)
			ns.Exports[i] = e
		}
		if len(ns.Exports) == 0 {
			return nil, nil
		}
		return ns, nil
	}
	if !reindex {
		return s, nil
	}

	switch s := s.(type) {
	case *wasm.FunctionSection:
		ns := &wasm.FunctionSection{}
		for i, typeIdx := range s.TypeIndices {
			if live.funcs[live.importedFuncs+uint32(i)] {
				ns.TypeIndices = append(ns.TypeIndices, typeIdx)
			}
		}
		if len(ns.TypeIndices) == 0 {
			return nil, nil
		}
		return ns, nil

	case *wasm.CodeSection:
		ns := &wasm.CodeSection{}
		for i, body := range s.Bodies {
			idx := live.importedFuncs + uint32(i)
			if !live.funcs[idx] {
				continue
			}
			code, err := rewriteCode(body.Code, remap, fmt.Sprintf("function %d", idx))
			if err != nil {
				return nil, err
			}
			ns.Bodies = append(ns.Bodies, wasm.FuncBody{Locals: slices.Clone(body.Locals), Code: code})
		}
		if len(ns.Bodies) == 0 {
			return nil, nil
		}
		return ns, nil

	case *wasm.GlobalSection:
		ns := &wasm.GlobalSection{}
		for i, g := range s.Globals {
			idx := live.importedGlobals + uint32(i)
			if !live.globalsL[idx] {
				continue
			}
			init, err := rewriteCode(g.Init, remap, fmt.Sprintf("global %d", idx))
			if err != nil {
				return nil, err
			}
			ns.Globals = append(ns.Globals, wasm.Global{Type: g.Type, Init: init})
		}
		if len(ns.Globals) == 0 {
			return nil, nil
		}
		return ns, nil

	case *wasm.StartSection:
		return &wasm.StartSection{FuncIndex: remap.Funcs[s.FuncIndex]}, nil

	case *wasm.ElementSection:
		ns := &wasm.ElementSection{Elements: make([]wasm.Element, len(s.Elements))}
		for i, el := range s.Elements {
			where := fmt.Sprintf("element %d", i)
			if el.Active() {
				off, err := rewriteCode(el.Offset, remap, where)
				if err != nil {
					return nil, err
				}
				el.Offset = off
			}
			if el.FuncIdxs != nil {
				idxs := make([]uint32, len(el.FuncIdxs))
				for j, f := range el.FuncIdxs {
					idxs[j] = remap.Funcs[f]
				}
				el.FuncIdxs = idxs
			}
			if el.Exprs != nil {
				exprs := make([][]byte, len(el.Exprs))
				for j, expr := range el.Exprs {
					x, err := rewriteCode(expr, remap, where)
					if err != nil {
						return nil, err
					}
					exprs[j] = x
				}
				el.Exprs = exprs
			}
			ns.Elements[i] = el
		}
		return ns, nil

	case *wasm.DataSection:
		ns := &wasm.DataSection{Segments: make([]wasm.DataSegment, len(s.Segments))}
		for i, d := range s.Segments {
			if d.Flags != 1 {
				off, err := rewriteCode(d.Offset, remap, fmt.Sprintf("data %d", i))
				if err != nil {
					return nil, err
				}
				d.Offset = off
			}
			ns.Segments[i] = d
		}
		return ns, nil
	}
	return s, nil
}

func mapExport(e wasm.Export, remap wasm.IndexMap) uint32 {
	var table map[uint32]uint32
	switch e.Kind {
	case wasm.KindFunc:
		table = remap.Funcs
	case wasm.KindGlobal:
		table = remap.Globals
	}
	if table == nil {
		return e.Index
	}
	return table[e.Index]
}

func rewriteCode(code []byte, remap wasm.IndexMap, where string) ([]byte, error) {
	out, err := wasm.RewriteIndices(code, remap)
	if err != nil {
		return nil, errors.New(errors.PhaseStrip, errors.KindInternalInconsistency).
			Detail("renumber %s", where).
			Cause(err).
			Build()
	}
	return out, nil
}
