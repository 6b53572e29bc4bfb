// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package stackwalker steps through the frames of a HotSpot thread: entry
// frames of the call stub, template interpreter frames, compiled code frames
// and frame pointer chained native frames. It only produces frames. Depth
// limits, termination and corrupt stack detection are left to the caller.
package stackwalker // import "go.opentelemetry.io/jvm-stackwalker/stackwalker"

import (
	"go.opentelemetry.io/jvm-stackwalker/libpf"
	"go.opentelemetry.io/jvm-stackwalker/remotememory"
	"go.opentelemetry.io/jvm-stackwalker/vmstructs"
)

// Cursor is the register state of one frame.
type Cursor struct {
	PC, SP, FP libpf.Address
	// UnextendedSP is the stack pointer before the interpreter extended the
	// frame; it equals SP for every other frame kind.
	UnextendedSP libpf.Address
}

// FrameKind classifies a frame.
type FrameKind uint8

const (
	// KindNative is frame pointer chained code outside of the JVM code cache.
	KindNative FrameKind = iota
	// KindEntry is the call stub frame where native code called into Java.
	KindEntry
	// KindInterpreted is a template interpreter frame.
	KindInterpreted
	// KindCompiled is a code cache frame: an nmethod or a runtime stub.
	KindCompiled
)

var frameKindNames = [...]string{
	KindNative:      "native",
	KindEntry:       "entry",
	KindInterpreted: "interpreted",
	KindCompiled:    "compiled",
}

func (k FrameKind) String() string {
	if int(k) < len(frameKindNames) {
		return frameKindNames[k]
	}
	return "invalid"
}

// Frame is one step of the walk.
type Frame struct {
	Kind   FrameKind
	Cursor Cursor
	// Method is set for interpreted frames and compiled nmethod frames.
	Method vmstructs.Method
	// Blob is set for compiled frames.
	Blob vmstructs.CodeBlob
}

// Walker holds the cursor of one walk. It is created per sample and is not
// safe for concurrent use.
type Walker struct {
	layout *vmstructs.Layout
	rm     remotememory.RemoteMemory
	frames FrameLayout
	cur    Cursor
}

// New starts a walk at the given registers.
func New(layout *vmstructs.Layout, rm remotememory.RemoteMemory, frames FrameLayout,
	pc, sp, fp libpf.Address) *Walker {
	return &Walker{
		layout: layout,
		rm:     rm,
		frames: frames,
		cur:    Cursor{PC: pc, SP: sp, FP: fp, UnextendedSP: sp},
	}
}

// Cursor returns the current register state.
func (w *Walker) Cursor() Cursor {
	return w.cur
}

// Classify returns the kind of the current frame.
func (w *Walker) Classify() FrameKind {
	kind, _ := w.classify()
	return kind
}

func (w *Walker) classify() (FrameKind, vmstructs.CodeBlob) {
	l := w.layout
	pc := w.cur.PC
	if !l.Available() {
		return KindNative, vmstructs.CodeBlob{}
	}
	if stub := l.CallStubReturnAddress(); stub != 0 && pc == stub {
		return KindEntry, vmstructs.CodeBlob{}
	}
	if l.Interpreter().Contains(pc) {
		return KindInterpreted, vmstructs.CodeBlob{}
	}
	if blob, ok := l.FindBlob(pc); ok {
		return KindCompiled, blob
	}
	return KindNative, vmstructs.CodeBlob{}
}

// Next returns the current frame and moves the cursor to its caller.
func (w *Walker) Next() Frame {
	kind, blob := w.classify()
	f := Frame{Kind: kind, Cursor: w.cur}

	switch kind {
	case KindEntry:
		w.stepEntry()
	case KindInterpreted:
		f.Method = w.layout.InterpretedFrameMethod(w.slotAddr(w.frames.InterpreterMethod))
		w.stepInterpreted()
	case KindCompiled:
		f.Blob = blob
		f.Method = blob.Method()
		w.stepCompiled(blob)
	default:
		w.stepNative()
	}
	return f
}

// slotAddr returns the address of the frame slot at word offset off.
func (w *Walker) slotAddr(off int) libpf.Address {
	if w.cur.FP == 0 {
		return 0
	}
	return w.cur.FP.Words(off)
}

// slot reads the frame slot at word offset off.
func (w *Walker) slot(off int) libpf.Address {
	if addr := w.slotAddr(off); addr != 0 {
		return w.rm.Ptr(addr)
	}
	return 0
}

func (w *Walker) set(pc, sp, fp, unextendedSP libpf.Address) {
	w.cur = Cursor{PC: pc, SP: sp, FP: fp, UnextendedSP: unextendedSP}
}

// stepEntry resumes at the last Java frame recorded in the call wrapper's
// anchor. A zero anchor pc is recovered from the word below the anchor sp.
func (w *Walker) stepEntry() {
	anchor := w.layout.EntryFrameWrapper(w.slotAddr(w.frames.EntryCallWrapper)).Anchor()
	sp := anchor.SP()
	fp := anchor.FP()
	pc := anchor.PC()
	if pc == 0 && sp != 0 {
		pc = w.rm.Ptr(sp.Words(-1))
	}
	w.set(pc, sp, fp, sp)
}

// stepInterpreted follows the frame pointer chain and restores the sender's
// unextended sp from the interpreter frame.
func (w *Walker) stepInterpreted() {
	fp := w.slot(w.frames.Link)
	pc := w.slot(w.frames.ReturnAddress)
	sp := w.slotAddr(w.frames.SenderSP)
	unextendedSP := w.slot(w.frames.InterpreterSenderSP)
	w.set(pc, sp, fp, unextendedSP)
}

// stepCompiled uses the fixed frame size of the blob: the caller frame starts
// frame size words above the unextended sp, with the saved fp and return
// address right below it.
func (w *Walker) stepCompiled(blob vmstructs.CodeBlob) {
	sp := w.cur.UnextendedSP.Words(int(blob.FrameSize()))
	fp := w.rm.Ptr(sp.Words(-2))
	pc := w.rm.Ptr(sp.Words(-1))
	w.set(pc, sp, fp, sp)
}

func (w *Walker) stepNative() {
	fp := w.slot(w.frames.Link)
	pc := w.slot(w.frames.ReturnAddress)
	sp := w.slotAddr(w.frames.SenderSP)
	w.set(pc, sp, fp, sp)
}
