// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package vmstructs // import "go.opentelemetry.io/jvm-stackwalker/vmstructs"

import (
	"strings"

	"go.opentelemetry.io/jvm-stackwalker/libpf"
)

const (
	// segmapFree marks a segment that belongs to no block.
	segmapFree = 0xff

	// maxHeaps bounds the CodeCache::_heaps array, JDK has at most three
	// segmented heaps.
	maxHeaps = 16

	// maxBlobName bounds the blob name read for classification.
	maxBlobName = 256
)

// CodeBlob describes one block of generated code: a compiled method
// (nmethod) or a runtime stub.
type CodeBlob struct{ view }

// Name returns the blob name, for nmethods this is the literal "nmethod".
func (b CodeBlob) Name() string {
	name := b.ptr(b.layout().offsets.CodeBlob.Name)
	if name == 0 {
		return ""
	}
	s := b.l.rm.String(name)
	if len(s) > maxBlobName {
		s = s[:maxBlobName]
	}
	return s
}

// Size returns the total size of the blob in bytes, including its header.
func (b CodeBlob) Size() int32 {
	return b.int32(b.layout().offsets.CodeBlob.Size)
}

// FrameSize returns the fixed frame size of the code in words.
func (b CodeBlob) FrameSize() int32 {
	return b.int32(b.layout().offsets.CodeBlob.FrameSize)
}

// Contains reports whether pc is inside [blob, blob+size).
func (b CodeBlob) Contains(pc libpf.Address) bool {
	size := b.Size()
	return b.Valid() && size > 0 && pc >= b.addr && pc < b.addr+libpf.Address(size)
}

// IsNMethod reports whether the blob is a compiled Java method, as opposed
// to a generated runtime stub.
func (b CodeBlob) IsNMethod() bool {
	return strings.HasSuffix(b.Name(), "nmethod")
}

// Method returns the Java method of an nmethod blob.
func (b CodeBlob) Method() Method {
	if !b.IsNMethod() {
		return Method{view{b.l, 0}}
	}
	return Method{view{b.l, b.ptr(b.layout().offsets.NMethod.Method)}}
}

// BlobOutcome is the result kind of a code heap lookup.
type BlobOutcome uint8

const (
	// BlobOutside means pc is not in the committed part of the heap.
	BlobOutside BlobOutcome = iota
	// BlobFreeSegment means pc maps to a free segment.
	BlobFreeSegment
	// BlobUnused means the segment chain leads to a block marked free. The
	// blob address is still reported for diagnostics.
	BlobUnused
	// BlobFound means the chain leads to an allocated block.
	BlobFound
)

var blobOutcomeNames = [...]string{
	BlobOutside:     "outside",
	BlobFreeSegment: "free segment",
	BlobUnused:      "unused block",
	BlobFound:       "found",
}

func (o BlobOutcome) String() string {
	if int(o) < len(blobOutcomeNames) {
		return blobOutcomeNames[o]
	}
	return "invalid"
}

// BlobLookup is the result of a code heap lookup.
type BlobLookup struct {
	Outcome BlobOutcome
	// Blob is set for BlobUnused and BlobFound. A found blob may still not
	// contain pc, when pc is in the tail of the block's last segment.
	Blob CodeBlob
}

// CodeHeap is one segmented heap of the code cache.
type CodeHeap struct{ view }

// Memory returns the space holding the code.
func (h CodeHeap) Memory() VirtualSpace {
	return VirtualSpace{view{h.l, h.at(h.layout().offsets.CodeHeap.Memory)}}
}

// Segmap returns the space holding the segment map.
func (h CodeHeap) Segmap() VirtualSpace {
	return VirtualSpace{view{h.l, h.at(h.layout().offsets.CodeHeap.Segmap)}}
}

// Log2SegmentSize returns the segment size shift.
func (h CodeHeap) Log2SegmentSize() uint {
	return uint(h.int32(h.layout().offsets.CodeHeap.Log2SegmentSize)) & 63
}

// FindBlob locates the block containing pc through the segment map. Each map
// byte is either free, 0 for the first segment of a block, or the number of
// segments to step back towards the first segment.
func (h CodeHeap) FindBlob(pc libpf.Address) BlobLookup {
	memory := h.Memory()
	if !memory.Contains(pc) {
		return BlobLookup{Outcome: BlobOutside}
	}

	low := memory.Low()
	shift := h.Log2SegmentSize()
	segmap := h.Segmap().Low()
	i := uint64(pc-low) >> shift

	b := h.l.rm.Uint8(segmap + libpf.Address(i))
	if b == segmapFree {
		return BlobLookup{Outcome: BlobFreeSegment}
	}
	for b > 0 {
		if uint64(b) > i {
			return BlobLookup{Outcome: BlobFreeSegment}
		}
		i -= uint64(b)
		b = h.l.rm.Uint8(segmap + libpf.Address(i))
		if b == segmapFree {
			return BlobLookup{Outcome: BlobFreeSegment}
		}
	}

	block := low + libpf.Address(i<<shift)
	blob := CodeBlob{view{h.l, block + h.l.heapBlockSize()}}
	if h.l.rm.Uint8(block+libpf.Address(h.layout().offsets.HeapBlockHeader.Used)) == 0 {
		return BlobLookup{Outcome: BlobUnused, Blob: blob}
	}
	return BlobLookup{Outcome: BlobFound, Blob: blob}
}

// heapBlockSize is sizeof(HeapBlock), the header preceding each blob.
func (l *Layout) heapBlockSize() libpf.Address {
	if size, ok := l.SizeOf("HeapBlock"); ok {
		return libpf.Address(size)
	}
	return libpf.Address(2 * libpf.WordSize)
}

// CodeHeaps returns the code heaps of the code cache: the single
// CodeCache::_heap of JDK 8, or the CodeCache::_heaps array of JDK 9+.
func (l *Layout) CodeHeaps() []CodeHeap {
	if heap := l.statics.CodeCache.Heap; heap != 0 {
		return []CodeHeap{{view{l, heap}}}
	}

	heaps := GrowableArray{view{l, l.statics.CodeCache.Heaps}}
	n := heaps.Len()
	data := heaps.Data()
	if n <= 0 || n > maxHeaps || data == 0 {
		return nil
	}
	result := make([]CodeHeap, 0, n)
	for i := range n {
		if heap := l.rm.Ptr(data.Words(int(i))); heap != 0 {
			result = append(result, CodeHeap{view{l, heap}})
		}
	}
	return result
}

// FindBlob returns the code blob containing pc from any code heap.
func (l *Layout) FindBlob(pc libpf.Address) (CodeBlob, bool) {
	for _, heap := range l.CodeHeaps() {
		res := heap.FindBlob(pc)
		if res.Outcome == BlobFound && res.Blob.Contains(pc) {
			return res.Blob, true
		}
	}
	return CodeBlob{}, false
}

// GrowableArray is a HotSpot GrowableArray of pointers.
type GrowableArray struct{ view }

// Len returns the number of elements.
func (a GrowableArray) Len() int32 {
	return a.int32(a.layout().offsets.GrowableArrayBase.Len)
}

// Data returns the element storage.
func (a GrowableArray) Data() libpf.Address {
	return a.ptr(a.layout().offsets.GrowableArrayInt.Data)
}
