// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package agent // import "go.opentelemetry.io/jvm-stackwalker/agent"

import (
	"context"
	"slices"

	"go.opentelemetry.io/jvm-stackwalker/libpf"
	"go.opentelemetry.io/jvm-stackwalker/stackwalker"
	"go.opentelemetry.io/jvm-stackwalker/symtab"
	"go.opentelemetry.io/jvm-stackwalker/vmstructs"
)

const (
	interpreterSymbol = "Interpreter"
	callStubSymbol    = "call_stub"
)

// Walk unwinds the thread whose registers are pc, sp and fp and returns its
// frames, youngest first. The walk ends at the first entry frame unless
// ContinuePastEntry is set, at a zero pc, when the stack pointer stops
// growing or when MaxDepth frames were produced. A cancelled ctx returns the
// frames collected so far with the context error.
func (a *Agent) Walk(ctx context.Context, pc, sp, fp libpf.Address) ([]Frame, error) {
	a.stats.walks.Add(1)

	layout := a.layout.Load()
	w := stackwalker.New(layout, a.rm, a.frames, pc, sp, fp)

	frames := make([]Frame, 0, 16)
	for {
		if err := ctx.Err(); err != nil {
			return frames, err
		}
		if len(frames) >= a.cfg.MaxDepth {
			a.stats.truncated.Add(1)
			return frames, nil
		}
		cur := w.Cursor()
		if cur.PC == 0 {
			return frames, nil
		}

		sf := w.Next()
		frames = append(frames, a.attribute(layout, &sf))
		a.stats.frames.Add(1)

		if sf.Kind == stackwalker.KindEntry && !a.cfg.ContinuePastEntry {
			return frames, nil
		}
		if next := w.Cursor(); next.SP <= cur.SP {
			return frames, nil
		}
	}
}

// attribute turns a walked frame into an attributed frame. The method found
// by the walker wins over the address based lookup.
func (a *Agent) attribute(layout *vmstructs.Layout, sf *stackwalker.Frame) Frame {
	pc := sf.Cursor.PC
	switch {
	case sf.Method.Valid():
		f := a.managedFrame(sf.Method)
		f.PC = pc
		f.Walk = sf.Kind
		return f
	case sf.Kind == stackwalker.KindEntry:
		return Frame{Kind: KindStub, PC: pc, Walk: sf.Kind, Symbol: callStubSymbol}
	}

	f := a.symbolize(layout, pc)
	f.Walk = sf.Kind
	return f
}

// Symbolize attributes a single address. Lookups go from the most to the
// least specific source: methods reported as compiled, the JVM code cache,
// the perf map and finally the native libraries.
func (a *Agent) Symbolize(pc libpf.Address) Frame {
	return a.symbolize(a.layout.Load(), pc)
}

func (a *Agent) symbolize(layout *vmstructs.Layout, pc libpf.Address) Frame {
	if id, ok := a.compiled.Find(pc); ok && layout.Available() {
		if m := layout.MethodFromID(libpf.Address(id)); m.Valid() {
			f := a.managedFrame(m)
			f.PC = pc
			return f
		}
	}

	if layout.Available() {
		if layout.Interpreter().Contains(pc) {
			return Frame{Kind: KindStub, PC: pc, Symbol: interpreterSymbol}
		}
		if blob, ok := layout.FindBlob(pc); ok {
			if blob.IsNMethod() {
				if m := blob.Method(); m.Valid() {
					f := a.managedFrame(m)
					f.PC = pc
					return f
				}
			}
			return Frame{Kind: KindStub, PC: pc, Symbol: blob.Name()}
		}
	}

	if name, ok := a.perfMap.Find(pc); ok {
		f := perfMapFrame(name)
		f.PC = pc
		return f
	}

	if lib := a.libraryOf(pc); lib != nil {
		return Frame{
			Kind:    KindNative,
			PC:      pc,
			Symbol:  lib.BinarySearch(pc),
			Library: lib.Name(),
		}
	}

	a.stats.unknownFrames.Add(1)
	return Frame{Kind: KindUnknown, PC: pc}
}

// managedFrame resolves the identity of method m through the cache. Only
// fully resolved identities are cached, a partial one may still be under
// construction in the target.
func (a *Agent) managedFrame(m vmstructs.Method) Frame {
	id, ok := a.identities.Get(m.Address())
	if !ok {
		id = m.Identity()
		if id.Known() {
			a.identities.Add(m.Address(), id)
		} else {
			a.stats.identityMisses.Add(1)
		}
	}
	return Frame{
		Kind:      KindManaged,
		Class:     javaClassName(id.Class),
		Method:    id.Name,
		Signature: id.Signature,
	}
}

// libraryOf returns the library whose bounds contain pc.
func (a *Agent) libraryOf(pc libpf.Address) *symtab.Library {
	i, found := slices.BinarySearchFunc(a.libs, pc, func(lib *symtab.Library, pc libpf.Address) int {
		minAddr, maxAddr := lib.Bounds()
		switch {
		case pc < minAddr:
			return 1
		case pc >= maxAddr:
			return -1
		default:
			return 0
		}
	})
	if !found {
		return nil
	}
	return a.libs[i]
}
