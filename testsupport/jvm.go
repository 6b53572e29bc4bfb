// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package testsupport // import "go.opentelemetry.io/jvm-stackwalker/testsupport"

import (
	"go.opentelemetry.io/jvm-stackwalker/libpf"
	"go.opentelemetry.io/jvm-stackwalker/symtab"
)

// Field offsets and sizes of the fake JVM.
const (
	KlassName               = 16
	SymbolLength            = 2
	SymbolBody              = 6
	AnchorSP                = 0
	AnchorFP                = 8
	AnchorPC                = 16
	WrapperAnchor           = 24
	StubQueueBuffer         = 8
	StubQueueLimit          = 20
	HeapMemory              = 0
	HeapSegmap              = 48
	HeapLog2SegmentSize     = 96
	VSLowBoundary           = 0
	VSHighBoundary          = 8
	VSLow                   = 16
	VSHigh                  = 24
	BlockUsed               = 8
	BlobName                = 0
	BlobSize                = 8
	BlobFrameSize           = 12
	NMethodMethod           = 24
	MethodConstMethod       = 8
	ConstMethodConstants    = 8
	ConstMethodNameIndex    = 34
	ConstMethodSignatureIdx = 36
	PoolHolder              = 24
	ArrayLen                = 0
	ArrayData               = 8
	MirrorKlassOffset       = 72
	ConstantPoolSize        = 64
	HeapBlockSize           = 16

	SegmentShift    = 6
	HeapSegments    = 256
	InterpreterSize = 0x1800
)

// Layout of the introspection table entries, matching HotSpot's
// VMStructEntry and VMTypeEntry.
const (
	structEntryStride   = 48
	structTypeName      = 0
	structFieldName     = 8
	structOffset        = 32
	structAddress       = 40
	typeEntryStride     = 40
	typeEntryTypeName   = 0
	typeEntrySizeOffset = 32
)

// StructEntry is one gHotSpotVMStructs entry. Address is set for static
// fields.
type StructEntry struct {
	Type, Field string
	Offset      uint64
	Address     libpf.Address
}

// TypeEntry is one gHotSpotVMTypes entry.
type TypeEntry struct {
	Type string
	Size uint64
}

type jvmConfig struct {
	skip         map[string]bool
	singleHeap   bool
	noTypes      bool
	symbolLength bool
	compiledName bool
}

// Option customizes NewJVM.
type Option func(*jvmConfig)

// WithoutField leaves typeName::fieldName out of gHotSpotVMStructs.
func WithoutField(typeName, fieldName string) Option {
	return func(c *jvmConfig) {
		c.skip[typeName+"::"+fieldName] = true
	}
}

// WithSingleCodeHeap publishes the code heap through CodeCache::_heap, as
// JDK 8 does.
func WithSingleCodeHeap() Option {
	return func(c *jvmConfig) { c.singleHeap = true }
}

// WithoutTypeSizes omits gHotSpotVMTypes.
func WithoutTypeSizes() Option {
	return func(c *jvmConfig) { c.noTypes = true }
}

// WithSymbolLength describes Symbol::_length instead of the JDK 12+
// Symbol::_length_and_refcount.
func WithSymbolLength() Option {
	return func(c *jvmConfig) { c.symbolLength = true }
}

// WithCompiledMethod names the nmethod type CompiledMethod, as JDK 9 to 22
// do.
func WithCompiledMethod() Option {
	return func(c *jvmConfig) { c.compiledName = true }
}

// JVM is a fake HotSpot JVM in synthetic memory.
type JVM struct {
	*Memory

	// Lib holds the libjvm exports, unsorted.
	Lib *symtab.Library

	CallStubReturn   libpf.Address
	InterpreterStart libpf.Address
	InterpreterEnd   libpf.Address
	CodeStart        libpf.Address
	CodeEnd          libpf.Address

	Heap   libpf.Address
	segmap libpf.Address
}

// NewJVM builds a fake JVM in a fresh 1 MiB address space.
func NewJVM(opts ...Option) *JVM {
	cfg := jvmConfig{skip: map[string]bool{}}
	for _, opt := range opts {
		opt(&cfg)
	}

	m := NewMemory(1 << 20)
	j := &JVM{Memory: m, Lib: symtab.NewLibrary("libjvm.so", 0, 0)}

	// Interpreter.
	queue := m.Alloc(32)
	j.InterpreterStart = m.Alloc(0x2000)
	j.InterpreterEnd = j.InterpreterStart + InterpreterSize
	m.PutPtr(queue+StubQueueBuffer, j.InterpreterStart)
	m.PutInt32(queue+StubQueueLimit, InterpreterSize)

	// Call stub, outside of the code heap.
	stubs := m.Alloc(0x100)
	j.CallStubReturn = stubs + 0x40

	// Code heap, everything committed and free.
	j.Heap = m.Alloc(128)
	j.CodeStart = m.AllocAligned(HeapSegments<<SegmentShift, 1<<SegmentShift)
	j.CodeEnd = j.CodeStart + HeapSegments<<SegmentShift
	j.segmap = m.Alloc(HeapSegments)
	for i := range HeapSegments {
		m.PutUint8(j.segmap+libpf.Address(i), 0xff)
	}
	j.putSpace(j.Heap+HeapMemory, j.CodeStart, j.CodeEnd)
	j.putSpace(j.Heap+HeapSegmap, j.segmap, j.segmap+HeapSegments)
	m.PutInt32(j.Heap+HeapLog2SegmentSize, SegmentShift)

	heaps := m.Alloc(16)
	heapsData := m.Alloc(8)
	m.PutInt32(heaps+ArrayLen, 1)
	m.PutPtr(heaps+ArrayData, heapsData)
	m.PutPtr(heapsData, j.Heap)

	// Static fields.
	klassOffsetVar := m.Alloc(8)
	m.PutInt32(klassOffsetVar, MirrorKlassOffset)
	callStubVar := m.Alloc(8)
	m.PutPtr(callStubVar, j.CallStubReturn)
	interpreterVar := m.Alloc(8)
	m.PutPtr(interpreterVar, queue)
	codeCacheVar := m.Alloc(8)

	nmethodType := "nmethod"
	if cfg.compiledName {
		nmethodType = "CompiledMethod"
	}
	entries := []StructEntry{
		{Type: "Klass", Field: "_name", Offset: KlassName},
		{Type: "Symbol", Field: "_body", Offset: SymbolBody},
		{Type: "JavaFrameAnchor", Field: "_last_Java_sp", Offset: AnchorSP},
		{Type: "JavaFrameAnchor", Field: "_last_Java_pc", Offset: AnchorPC},
		{Type: "JavaFrameAnchor", Field: "_last_Java_fp", Offset: AnchorFP},
		{Type: "JavaCallWrapper", Field: "_anchor", Offset: WrapperAnchor},
		{Type: "StubQueue", Field: "_stub_buffer", Offset: StubQueueBuffer},
		{Type: "StubQueue", Field: "_buffer_limit", Offset: StubQueueLimit},
		{Type: "CodeHeap", Field: "_memory", Offset: HeapMemory},
		{Type: "CodeHeap", Field: "_segmap", Offset: HeapSegmap},
		{Type: "CodeHeap", Field: "_log2_segment_size", Offset: HeapLog2SegmentSize},
		{Type: "VirtualSpace", Field: "_low_boundary", Offset: VSLowBoundary},
		{Type: "VirtualSpace", Field: "_high_boundary", Offset: VSHighBoundary},
		{Type: "VirtualSpace", Field: "_low", Offset: VSLow},
		{Type: "VirtualSpace", Field: "_high", Offset: VSHigh},
		{Type: "HeapBlock::Header", Field: "_used", Offset: BlockUsed},
		{Type: "CodeBlob", Field: "_name", Offset: BlobName},
		{Type: "CodeBlob", Field: "_size", Offset: BlobSize},
		{Type: "CodeBlob", Field: "_frame_size", Offset: BlobFrameSize},
		{Type: nmethodType, Field: "_method", Offset: NMethodMethod},
		{Type: "Method", Field: "_constMethod", Offset: MethodConstMethod},
		{Type: "ConstMethod", Field: "_constants", Offset: ConstMethodConstants},
		{Type: "ConstMethod", Field: "_name_index", Offset: ConstMethodNameIndex},
		{Type: "ConstMethod", Field: "_signature_index", Offset: ConstMethodSignatureIdx},
		{Type: "ConstantPool", Field: "_pool_holder", Offset: PoolHolder},
		{Type: "GrowableArrayBase", Field: "_len", Offset: ArrayLen},
		{Type: "GrowableArray<int>", Field: "_data", Offset: ArrayData},
		// Fields nobody asks for are skipped.
		{Type: "Thread", Field: "_osthread", Offset: 0x100},
		{Type: "java_lang_Class", Field: "_klass_offset", Address: klassOffsetVar},
		{Type: "StubRoutines", Field: "_call_stub_return_address", Address: callStubVar},
		{Type: "AbstractInterpreter", Field: "_code", Address: interpreterVar},
	}
	if cfg.symbolLength {
		entries = append(entries, StructEntry{Type: "Symbol", Field: "_length",
			Offset: SymbolLength})
	} else {
		entries = append(entries, StructEntry{Type: "Symbol", Field: "_length_and_refcount",
			Offset: SymbolLength - 2})
	}
	if cfg.singleHeap {
		m.PutPtr(codeCacheVar, j.Heap)
		entries = append(entries, StructEntry{Type: "CodeCache", Field: "_heap",
			Address: codeCacheVar})
	} else {
		m.PutPtr(codeCacheVar, heaps)
		entries = append(entries, StructEntry{Type: "CodeCache", Field: "_heaps",
			Address: codeCacheVar})
	}

	kept := entries[:0]
	for _, e := range entries {
		if !cfg.skip[e.Type+"::"+e.Field] {
			kept = append(kept, e)
		}
	}
	j.WriteVMStructs(kept)
	if !cfg.noTypes {
		j.WriteVMTypes([]TypeEntry{
			{Type: "ConstantPool", Size: ConstantPoolSize},
			{Type: "HeapBlock", Size: HeapBlockSize},
			{Type: "Method", Size: 88},
		})
	}
	return j
}

func (j *JVM) putSpace(addr, low, high libpf.Address) {
	j.PutPtr(addr+VSLowBoundary, low)
	j.PutPtr(addr+VSHighBoundary, high)
	j.PutPtr(addr+VSLow, low)
	j.PutPtr(addr+VSHigh, high)
}

// export allocates an 8 byte global holding v and exports it from libjvm.
func (j *JVM) export(name string, v uint64) {
	addr := j.Alloc(8)
	j.PutUint64(addr, v)
	j.Lib.Add(addr, 8, name)
}

// WriteVMStructs writes a NULL terminated gHotSpotVMStructs table and its
// describing globals.
func (j *JVM) WriteVMStructs(entries []StructEntry) {
	table := j.Alloc((len(entries) + 1) * structEntryStride)
	for i, e := range entries {
		addr := table + libpf.Address(i*structEntryStride)
		j.PutPtr(addr+structTypeName, j.CString(e.Type))
		j.PutPtr(addr+structFieldName, j.CString(e.Field))
		j.PutUint64(addr+structOffset, e.Offset)
		j.PutPtr(addr+structAddress, e.Address)
	}
	j.export("gHotSpotVMStructs", uint64(table))
	j.export("gHotSpotVMStructEntryArrayStride", structEntryStride)
	j.export("gHotSpotVMStructEntryTypeNameOffset", structTypeName)
	j.export("gHotSpotVMStructEntryFieldNameOffset", structFieldName)
	j.export("gHotSpotVMStructEntryOffsetOffset", structOffset)
	j.export("gHotSpotVMStructEntryAddressOffset", structAddress)
}

// WriteVMTypes writes a NULL terminated gHotSpotVMTypes table and its
// describing globals.
func (j *JVM) WriteVMTypes(entries []TypeEntry) {
	table := j.Alloc((len(entries) + 1) * typeEntryStride)
	for i, e := range entries {
		addr := table + libpf.Address(i*typeEntryStride)
		j.PutPtr(addr+typeEntryTypeName, j.CString(e.Type))
		j.PutUint64(addr+typeEntrySizeOffset, e.Size)
	}
	j.export("gHotSpotVMTypes", uint64(table))
	j.export("gHotSpotVMTypeEntryArrayStride", typeEntryStride)
	j.export("gHotSpotVMTypeEntryTypeNameOffset", typeEntryTypeName)
	j.export("gHotSpotVMTypeEntrySizeOffset", typeEntrySizeOffset)
}

// NewSymbol allocates a HotSpot Symbol holding s.
func (j *JVM) NewSymbol(s string) libpf.Address {
	addr := j.Alloc(SymbolBody + len(s))
	j.PutUint16(addr+SymbolLength, uint16(len(s)))
	j.PutBytes(addr+SymbolBody, []byte(s))
	return addr
}

// NewKlass allocates a Klass named name.
func (j *JVM) NewKlass(name string) libpf.Address {
	klass := j.Alloc(32)
	j.PutPtr(klass+KlassName, j.NewSymbol(name))
	return klass
}

// NewMirror allocates the java.lang.Class instance of klass.
func (j *JVM) NewMirror(klass libpf.Address) libpf.Address {
	mirror := j.Alloc(MirrorKlassOffset + 8)
	j.PutPtr(mirror+MirrorKlassOffset, klass)
	return mirror
}

// NewMethod allocates a Method with its ConstMethod, ConstantPool and
// holder Klass. The name lives in pool slot 1, the signature in slot 2.
func (j *JVM) NewMethod(class, name, signature string) libpf.Address {
	pool := j.Alloc(ConstantPoolSize + 3*8)
	j.PutPtr(pool+PoolHolder, j.NewKlass(class))
	j.PutPtr(pool+ConstantPoolSize+1*8, j.NewSymbol(name))
	// Unresolved entries carry the low bit.
	j.PutPtr(pool+ConstantPoolSize+2*8, j.NewSymbol(signature)|1)

	cm := j.Alloc(48)
	j.PutPtr(cm+ConstMethodConstants, pool)
	j.PutUint16(cm+ConstMethodNameIndex, 1)
	j.PutUint16(cm+ConstMethodSignatureIdx, 2)

	method := j.Alloc(32)
	j.PutPtr(method+MethodConstMethod, cm)
	return method
}

// NewMethodID allocates a jmethodID for method.
func (j *JVM) NewMethodID(method libpf.Address) libpf.Address {
	id := j.Alloc(8)
	j.PutPtr(id, method)
	return id
}

// NewCallWrapper allocates a JavaCallWrapper whose anchor holds the last
// Java frame.
func (j *JVM) NewCallWrapper(sp, fp, pc libpf.Address) libpf.Address {
	wrapper := j.Alloc(WrapperAnchor + 24)
	j.PutPtr(wrapper+WrapperAnchor+AnchorSP, sp)
	j.PutPtr(wrapper+WrapperAnchor+AnchorFP, fp)
	j.PutPtr(wrapper+WrapperAnchor+AnchorPC, pc)
	return wrapper
}

// SegmentAddress returns the start address of code heap segment i.
func (j *JVM) SegmentAddress(i int) libpf.Address {
	return j.CodeStart + libpf.Address(i<<SegmentShift)
}

// SetSegment stores v in segment map entry i.
func (j *JVM) SetSegment(i int, v uint8) {
	j.PutUint8(j.segmap+libpf.Address(i), v)
}

// AddBlob allocates a heap block covering segments [first, first+segments)
// and places a CodeBlob named name after its header. The blob spans the rest
// of the block.
func (j *JVM) AddBlob(first, segments int, name string, frameSize int32, used bool) libpf.Address {
	for k := range segments {
		j.SetSegment(first+k, uint8(min(k, 0xfe)))
	}
	block := j.SegmentAddress(first)
	j.PutUint64(block, uint64(segments))
	if used {
		j.PutUint8(block+BlockUsed, 1)
	}

	blob := block + HeapBlockSize
	j.PutPtr(blob+BlobName, j.CString(name))
	j.PutInt32(blob+BlobSize, int32(segments<<SegmentShift-HeapBlockSize))
	j.PutInt32(blob+BlobFrameSize, frameSize)
	return blob
}

// SetBlobMethod links an nmethod blob to its Method.
func (j *JVM) SetBlobMethod(blob, method libpf.Address) {
	j.PutPtr(blob+NMethodMethod, method)
}
