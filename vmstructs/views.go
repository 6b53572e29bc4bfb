// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package vmstructs // import "go.opentelemetry.io/jvm-stackwalker/vmstructs"

import (
	"go.opentelemetry.io/jvm-stackwalker/libpf"
	"go.opentelemetry.io/jvm-stackwalker/remotememory"
)

// nullLayout backs zero value views.
var nullLayout = newLayout(remotememory.RemoteMemory{})

// view is the base of every typed view: a JVM object address interpreted
// with the discovered layout. Views are not validated, the producer of a view
// guarantees the kind of object at its address. A zero address is the null
// sentinel, every accessor of a null view returns zero values.
type view struct {
	l    *Layout
	addr libpf.Address
}

// Valid reports whether the view points to an object.
func (v view) Valid() bool {
	return v.addr != 0 && v.l != nil
}

func (v view) layout() *Layout {
	if v.l == nil {
		return nullLayout
	}
	return v.l
}

// Address returns the object address in the target process.
func (v view) Address() libpf.Address {
	return v.addr
}

// at returns the address of the field at off, or 0 when the view is null or
// the offset is unknown.
func (v view) at(off int) libpf.Address {
	if !v.Valid() || off < 0 {
		return 0
	}
	return v.addr + libpf.Address(off)
}

func (v view) ptr(off int) libpf.Address {
	if a := v.at(off); a != 0 {
		return v.l.rm.Ptr(a)
	}
	return 0
}

func (v view) int32(off int) int32 {
	if a := v.at(off); a != 0 {
		return v.l.rm.Int32(a)
	}
	return 0
}

func (v view) uint16(off int) uint16 {
	if a := v.at(off); a != 0 {
		return v.l.rm.Uint16(a)
	}
	return 0
}

func (v view) uint8(off int) uint8 {
	if a := v.at(off); a != 0 {
		return v.l.rm.Uint8(a)
	}
	return 0
}

// Symbol is an interned JVM string (class and method names).
type Symbol struct{ view }

// Length returns the symbol length in bytes.
func (s Symbol) Length() int {
	return int(s.uint16(s.layout().offsets.Symbol.Length))
}

// String returns the symbol body, or "" for null or unreadable symbols.
func (s Symbol) String() string {
	n := s.Length()
	body := s.at(s.layout().offsets.Symbol.Body)
	if n == 0 || body == 0 {
		return ""
	}
	buf := make([]byte, n)
	if s.l.rm.Read(body, buf) != nil {
		return ""
	}
	return string(buf)
}

// Klass is the JVM metadata of a class.
type Klass struct{ view }

// Name returns the class name symbol, in internal form (java/lang/String).
func (k Klass) Name() Symbol {
	return Symbol{view{k.l, k.ptr(k.layout().offsets.Klass.Name)}}
}

// ClassMirror is a java.lang.Class instance.
type ClassMirror struct{ view }

// Klass returns the class described by the mirror.
func (c ClassMirror) Klass() Klass {
	return Klass{view{c.l, c.ptr(c.layout().statics.JavaLangClass.KlassOffset)}}
}

// ClassFromMirror returns the view of the java.lang.Class object at oop.
func (l *Layout) ClassFromMirror(oop libpf.Address) ClassMirror {
	return ClassMirror{view{l, oop}}
}

// FrameAnchor records the last Java frame of a thread that called into the VM.
type FrameAnchor struct{ view }

// SP returns the last Java stack pointer.
func (a FrameAnchor) SP() libpf.Address {
	return a.ptr(a.layout().offsets.JavaFrameAnchor.LastJavaSP)
}

// FP returns the last Java frame pointer.
func (a FrameAnchor) FP() libpf.Address {
	return a.ptr(a.layout().offsets.JavaFrameAnchor.LastJavaFP)
}

// PC returns the last Java pc, which is zero unless the VM stored it.
func (a FrameAnchor) PC() libpf.Address {
	return a.ptr(a.layout().offsets.JavaFrameAnchor.LastJavaPC)
}

// CallWrapper is the JavaCallWrapper kept in an entry frame.
type CallWrapper struct{ view }

// Anchor returns the frame anchor embedded in the wrapper.
func (w CallWrapper) Anchor() FrameAnchor {
	return FrameAnchor{view{w.l, w.at(w.layout().offsets.JavaCallWrapper.Anchor)}}
}

// EntryFrameWrapper returns the call wrapper of an entry frame. The slot
// holds a JavaCallWrapper*, which is dereferenced.
func (l *Layout) EntryFrameWrapper(slot libpf.Address) CallWrapper {
	if slot == 0 {
		return CallWrapper{view{l, 0}}
	}
	return CallWrapper{view{l, l.rm.Ptr(slot)}}
}

// StubQueue is the queue of generated code holding the template interpreter.
type StubQueue struct{ view }

// Buffer returns the start of the stub buffer.
func (q StubQueue) Buffer() libpf.Address {
	return q.ptr(q.layout().offsets.StubQueue.StubBuffer)
}

// Limit returns the number of bytes in use in the stub buffer.
func (q StubQueue) Limit() int32 {
	return q.int32(q.layout().offsets.StubQueue.BufferLimit)
}

// Contains reports whether pc is inside the used part of the buffer.
func (q StubQueue) Contains(pc libpf.Address) bool {
	buf := q.Buffer()
	limit := q.Limit()
	return buf != 0 && limit > 0 && pc >= buf && pc < buf+libpf.Address(limit)
}

// Interpreter returns the StubQueue of the template interpreter.
func (l *Layout) Interpreter() StubQueue {
	return StubQueue{view{l, l.statics.AbstractInterpreter.Code}}
}

// VirtualSpace is a reserved address range, partially committed.
type VirtualSpace struct{ view }

// Low returns the start of the committed range.
func (s VirtualSpace) Low() libpf.Address {
	return s.ptr(s.layout().offsets.VirtualSpace.Low)
}

// High returns the end of the committed range.
func (s VirtualSpace) High() libpf.Address {
	return s.ptr(s.layout().offsets.VirtualSpace.High)
}

// LowBoundary returns the start of the reserved range.
func (s VirtualSpace) LowBoundary() libpf.Address {
	return s.ptr(s.layout().offsets.VirtualSpace.LowBoundary)
}

// HighBoundary returns the end of the reserved range.
func (s VirtualSpace) HighBoundary() libpf.Address {
	return s.ptr(s.layout().offsets.VirtualSpace.HighBoundary)
}

// Contains reports whether pc is inside the committed range.
func (s VirtualSpace) Contains(pc libpf.Address) bool {
	return s.Valid() && pc >= s.Low() && pc < s.High()
}
