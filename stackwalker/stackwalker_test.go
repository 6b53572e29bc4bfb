// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package stackwalker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/jvm-stackwalker/libpf"
	"go.opentelemetry.io/jvm-stackwalker/testsupport"
	"go.opentelemetry.io/jvm-stackwalker/vmstructs"
)

const (
	nativePC  = libpf.Address(0xdead000)
	callerPC  = libpf.Address(0xbeef000)
	frameSize = 6
)

// mixedStack is a synthetic thread: native -> interpreted -> compiled ->
// entry -> native, youngest first.
type mixedStack struct {
	jvm    *testsupport.JVM
	layout *vmstructs.Layout
	stack  libpf.Address
	blob   libpf.Address
	method libpf.Address
	nm     libpf.Address
}

func newMixedStack(t *testing.T) *mixedStack {
	t.Helper()
	jvm := testsupport.NewJVM()
	s := &mixedStack{jvm: jvm, stack: jvm.Alloc(0x1000)}
	st := s.stack

	s.method = jvm.NewMethod("com/example/Worker", "loop", "()V")
	s.nm = jvm.NewMethod("com/example/Worker", "compute", "(I)J")
	s.blob = jvm.AddBlob(8, 4, "nmethod", frameSize, true)
	jvm.SetBlobMethod(s.blob, s.nm)

	// Native frame.
	jvm.PutPtr(st+0x100, st+0x200)
	jvm.PutPtr(st+0x108, jvm.InterpreterStart+0x100)

	// Interpreted frame, called from compiled code through an adapter that
	// extended the stack.
	jvm.PutPtr(st+0x200, 0x1234)
	jvm.PutPtr(st+0x208, s.blob+0x20)
	jvm.PutPtr(st+0x200-8, st+0x240)
	jvm.PutPtr(st+0x200-24, s.method)

	// Compiled frame: caller frame starts at 0x240 + 6 words.
	jvm.PutPtr(st+0x270-16, st+0x400)
	jvm.PutPtr(st+0x270-8, jvm.CallStubReturn)

	// Entry frame.
	wrapper := jvm.NewCallWrapper(st+0x800, st+0x900, 0)
	jvm.PutPtr(st+0x400-6*8, wrapper)
	jvm.PutPtr(st+0x800-8, callerPC)

	layout, err := vmstructs.Discover(jvm.Lib, jvm.RemoteMemory())
	require.NoError(t, err)
	require.True(t, layout.Available())
	s.layout = layout
	return s
}

func TestWalkMixedStack(t *testing.T) {
	s := newMixedStack(t)
	st := s.stack
	w := New(s.layout, s.jvm.RemoteMemory(), AMD64, nativePC, st+0xf0, st+0x100)

	expected := []struct {
		kind   FrameKind
		cursor Cursor
	}{
		{KindNative, Cursor{PC: nativePC, SP: st + 0xf0, FP: st + 0x100, UnextendedSP: st + 0xf0}},
		{KindInterpreted, Cursor{PC: s.jvm.InterpreterStart + 0x100, SP: st + 0x110,
			FP: st + 0x200, UnextendedSP: st + 0x110}},
		{KindCompiled, Cursor{PC: s.blob + 0x20, SP: st + 0x210, FP: 0x1234,
			UnextendedSP: st + 0x240}},
		{KindEntry, Cursor{PC: s.jvm.CallStubReturn, SP: st + 0x270, FP: st + 0x400,
			UnextendedSP: st + 0x270}},
		{KindNative, Cursor{PC: callerPC, SP: st + 0x800, FP: st + 0x900,
			UnextendedSP: st + 0x800}},
	}

	for i, want := range expected {
		require.Equal(t, want.kind, w.Classify(), "frame %d", i)
		f := w.Next()
		assert.Equal(t, want.kind, f.Kind, "frame %d", i)
		assert.Equal(t, want.cursor, f.Cursor, "frame %d", i)

		switch f.Kind {
		case KindInterpreted:
			assert.Equal(t, s.method, f.Method.Address())
			assert.Equal(t, "loop", f.Method.Identity().Name)
		case KindCompiled:
			assert.Equal(t, s.blob, f.Blob.Address())
			assert.Equal(t, "compute", f.Method.Identity().Name)
		default:
			assert.False(t, f.Method.Valid())
		}
	}

	// The outermost native frame has a null frame pointer chain.
	assert.Equal(t, Cursor{SP: st + 0x910, UnextendedSP: st + 0x910}, w.Cursor())
}

func TestInterpretedSenderSP(t *testing.T) {
	s := newMixedStack(t)
	st := s.stack
	w := New(s.layout, s.jvm.RemoteMemory(), AMD64,
		s.jvm.InterpreterStart+0x100, st+0x110, st+0x200)

	f := w.Next()
	require.Equal(t, KindInterpreted, f.Kind)
	cur := w.Cursor()
	assert.Equal(t, st+0x210, cur.SP)
	assert.Equal(t, st+0x240, cur.UnextendedSP)
	assert.NotEqual(t, cur.SP, cur.UnextendedSP)
}

func TestCompiledFrameSize(t *testing.T) {
	tests := map[string]struct {
		frameSize int32
		sp        libpf.Address
	}{
		"small frame":        {frameSize: 2, sp: 0x100},
		"large frame":        {frameSize: 64, sp: 0x100},
		"frame at stack end": {frameSize: 4, sp: 0xfe0},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			jvm := testsupport.NewJVM()
			stack := jvm.Alloc(0x1400)
			blob := jvm.AddBlob(3, 2, "nmethod", tc.frameSize, true)
			sp := stack + tc.sp
			prevSP := sp + libpf.Address(tc.frameSize)*libpf.WordSize
			jvm.PutPtr(prevSP-16, 0xf00)
			jvm.PutPtr(prevSP-8, nativePC)

			layout, err := vmstructs.Discover(jvm.Lib, jvm.RemoteMemory())
			require.NoError(t, err)
			w := New(layout, jvm.RemoteMemory(), AMD64, blob+8, sp, 0)
			f := w.Next()
			require.Equal(t, KindCompiled, f.Kind)
			assert.Equal(t, Cursor{PC: nativePC, SP: prevSP, FP: 0xf00, UnextendedSP: prevSP},
				w.Cursor())
		})
	}
}

func TestEntryFrame(t *testing.T) {
	for name, frames := range map[string]FrameLayout{"amd64": AMD64, "arm64": ARM64} {
		t.Run(name, func(t *testing.T) {
			jvm := testsupport.NewJVM()
			stack := jvm.Alloc(0x1000)
			fp := stack + 0x400
			wrapper := jvm.NewCallWrapper(stack+0x600, stack+0x700, 0x4242)
			jvm.PutPtr(fp.Words(frames.EntryCallWrapper), wrapper)

			layout, err := vmstructs.Discover(jvm.Lib, jvm.RemoteMemory())
			require.NoError(t, err)
			w := New(layout, jvm.RemoteMemory(), frames, jvm.CallStubReturn, stack+0x300, fp)
			assert.Equal(t, KindEntry, w.Next().Kind)
			assert.Equal(t, Cursor{PC: 0x4242, SP: stack + 0x600, FP: stack + 0x700,
				UnextendedSP: stack + 0x600}, w.Cursor())
		})
	}
}

func TestUnavailableLayoutIsNative(t *testing.T) {
	jvm := testsupport.NewJVM(testsupport.WithoutField("CodeBlob", "_frame_size"))
	stack := jvm.Alloc(0x100)
	jvm.PutPtr(stack, stack+0x40)
	jvm.PutPtr(stack+8, nativePC)

	layout, err := vmstructs.Discover(jvm.Lib, jvm.RemoteMemory())
	require.NoError(t, err)
	require.False(t, layout.Available())

	// Even the call stub return address is treated as native code.
	w := New(layout, jvm.RemoteMemory(), AMD64, jvm.CallStubReturn, stack-0x10, stack)
	f := w.Next()
	assert.Equal(t, KindNative, f.Kind)
	assert.Equal(t, Cursor{PC: nativePC, SP: stack + 16, FP: stack + 0x40,
		UnextendedSP: stack + 16}, w.Cursor())
}

func TestFrameKindString(t *testing.T) {
	assert.Equal(t, "compiled", KindCompiled.String())
	assert.Equal(t, "invalid", FrameKind(42).String())

	fl, ok := ForArch("arm64")
	require.True(t, ok)
	assert.Equal(t, ARM64, fl)
	_, ok = ForArch("riscv64")
	assert.False(t, ok)
}
