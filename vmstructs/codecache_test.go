// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package vmstructs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/jvm-stackwalker/libpf"
	"go.opentelemetry.io/jvm-stackwalker/testsupport"
)

func TestCodeHeapFindBlob(t *testing.T) {
	jvm := testsupport.NewJVM()
	blob := jvm.AddBlob(20, 4, "nmethod", 6, true)
	unused := jvm.AddBlob(30, 2, "BufferBlob", 0, false)
	// Free sentinel at index 5, chain map[10]=3 -> map[7]=0.
	jvm.SetSegment(5, 0xff)
	jvm.SetSegment(7, 0)
	jvm.SetSegment(10, 3)
	jvm.PutUint8(jvm.SegmentAddress(7)+testsupport.BlockUsed, 1)
	chained := jvm.SegmentAddress(7) + testsupport.HeapBlockSize

	l := discover(t, jvm)
	heaps := l.CodeHeaps()
	require.Len(t, heaps, 1)
	heap := heaps[0]

	tests := map[string]struct {
		pc      libpf.Address
		outcome BlobOutcome
		blob    libpf.Address
	}{
		"below the heap":        {pc: jvm.CodeStart - 1, outcome: BlobOutside},
		"end of the heap":       {pc: jvm.CodeEnd, outcome: BlobOutside},
		"free sentinel":         {pc: jvm.SegmentAddress(5) + 3, outcome: BlobFreeSegment},
		"chained run length":    {pc: jvm.SegmentAddress(10) + 1, outcome: BlobFound, blob: chained},
		"first segment":         {pc: jvm.SegmentAddress(20) + 0x20, outcome: BlobFound, blob: blob},
		"last segment":          {pc: jvm.SegmentAddress(23) + 0x3f, outcome: BlobFound, blob: blob},
		"block not in use":      {pc: jvm.SegmentAddress(31), outcome: BlobUnused, blob: unused},
		"segment after a block": {pc: jvm.SegmentAddress(24), outcome: BlobFreeSegment},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			res := heap.FindBlob(tc.pc)
			assert.Equal(t, tc.outcome, res.Outcome, res.Outcome.String())
			assert.Equal(t, tc.blob, res.Blob.Address())
		})
	}
}

func TestLayoutFindBlob(t *testing.T) {
	for name, opts := range map[string][]testsupport.Option{
		"segmented heaps": nil,
		"single heap":     {testsupport.WithSingleCodeHeap()},
		"no type sizes":   {testsupport.WithoutTypeSizes()},
	} {
		t.Run(name, func(t *testing.T) {
			jvm := testsupport.NewJVM(opts...)
			addr := jvm.AddBlob(40, 2, "nmethod", 4, true)
			l := discover(t, jvm)

			blob, ok := l.FindBlob(addr + 0x10)
			require.True(t, ok)
			assert.Equal(t, addr, blob.Address())
			assert.True(t, blob.IsNMethod())
			assert.Equal(t, int32(4), blob.FrameSize())
			assert.Equal(t, int32(2<<testsupport.SegmentShift-testsupport.HeapBlockSize),
				blob.Size())

			// The block header precedes the blob and is not part of it.
			_, ok = l.FindBlob(jvm.SegmentAddress(40))
			assert.False(t, ok)
			_, ok = l.FindBlob(jvm.SegmentAddress(42))
			assert.False(t, ok)
		})
	}
}

func TestCodeHeapsNotInitialized(t *testing.T) {
	jvm := testsupport.NewJVM()
	l := discover(t, jvm)
	require.Len(t, l.CodeHeaps(), 1)

	// An empty _heaps array means the code cache is not set up yet.
	heapsVar, ok := l.Static("CodeCache", "_heaps")
	require.True(t, ok)
	jvm.PutInt32(libpf.Address(heapsVar)+testsupport.ArrayLen, 0)
	assert.Empty(t, l.CodeHeaps())
	_, found := l.FindBlob(jvm.SegmentAddress(1))
	assert.False(t, found)
}

func TestBlobKinds(t *testing.T) {
	jvm := testsupport.NewJVM()
	stub := jvm.AddBlob(1, 1, "StubRoutines (1)", 0, true)
	nm := jvm.AddBlob(2, 3, "nmethod", 8, true)
	method := jvm.NewMethod("java/util/HashMap", "get", "(Ljava/lang/Object;)Ljava/lang/Object;")
	jvm.SetBlobMethod(nm, method)
	l := discover(t, jvm)

	blob, ok := l.FindBlob(stub + 8)
	require.True(t, ok)
	assert.Equal(t, "StubRoutines (1)", blob.Name())
	assert.False(t, blob.IsNMethod())
	assert.False(t, blob.Method().Valid())

	blob, ok = l.FindBlob(nm + 0x40)
	require.True(t, ok)
	require.True(t, blob.IsNMethod())
	assert.Equal(t, method, blob.Method().Address())
	assert.Equal(t, "get", blob.Method().Identity().Name)
}
