// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package vmstructs discovers the private field layout of a running HotSpot
// JVM from its self-describing gHotSpotVMStructs and gHotSpotVMTypes tables
// and provides typed views over the JVM's internal objects.
package vmstructs // import "go.opentelemetry.io/jvm-stackwalker/vmstructs"

import (
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"

	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/jvm-stackwalker/libpf"
	npsr "go.opentelemetry.io/jvm-stackwalker/nopanicslicereader"
	"go.opentelemetry.io/jvm-stackwalker/remotememory"
)

// ErrIntrospectionTable is returned when libjvm does not export a usable
// gHotSpotVMStructs table.
var ErrIntrospectionTable = errors.New("bad HotSpot introspection table")

// SymbolFinder locates an exported symbol by name prefix. The address
// returned is the runtime address in the target process.
type SymbolFinder interface {
	FindSymbol(prefix string) (libpf.Address, bool)
}

// offsets are the field offsets read from gHotSpotVMStructs. The struct and
// field tags follow the JVM naming; a comma separated tag lists alternative
// names used by different JDK versions. Fields tagged optional do not affect
// Layout.Available.
type offsets struct {
	Klass struct {
		Name int `name:"_name"`
	} `name:"Klass"`
	Symbol struct {
		Length            int `name:"_length"`
		LengthAndRefcount int `name:"_length_and_refcount" optional:"true"`
		Body              int `name:"_body"`
	} `name:"Symbol"`
	JavaFrameAnchor struct {
		LastJavaSP int `name:"_last_Java_sp"`
		LastJavaPC int `name:"_last_Java_pc"`
		LastJavaFP int `name:"_last_Java_fp"`
	} `name:"JavaFrameAnchor"`
	JavaCallWrapper struct {
		Anchor int `name:"_anchor"`
	} `name:"JavaCallWrapper"`
	StubQueue struct {
		StubBuffer  int `name:"_stub_buffer"`
		BufferLimit int `name:"_buffer_limit"`
	} `name:"StubQueue"`
	CodeHeap struct {
		Memory          int `name:"_memory"`
		Segmap          int `name:"_segmap"`
		Log2SegmentSize int `name:"_log2_segment_size"`
	} `name:"CodeHeap"`
	VirtualSpace struct {
		LowBoundary  int `name:"_low_boundary"`
		HighBoundary int `name:"_high_boundary"`
		Low          int `name:"_low"`
		High         int `name:"_high"`
	} `name:"VirtualSpace"`
	HeapBlockHeader struct {
		Used int `name:"_used"`
	} `name:"HeapBlock::Header"`
	CodeBlob struct {
		Name      int `name:"_name"`
		Size      int `name:"_size"`
		FrameSize int `name:"_frame_size"`
	} `name:"CodeBlob"`
	NMethod struct {
		Method int `name:"_method" optional:"true"`
	} `name:"nmethod,CompiledMethod"`
	Method struct {
		ConstMethod int `name:"_constMethod" optional:"true"`
	} `name:"Method"`
	ConstMethod struct {
		Constants      int `name:"_constants" optional:"true"`
		NameIndex      int `name:"_name_index" optional:"true"`
		SignatureIndex int `name:"_signature_index" optional:"true"`
	} `name:"ConstMethod"`
	ConstantPool struct {
		PoolHolder int `name:"_pool_holder" optional:"true"`
	} `name:"ConstantPool"`
	GrowableArrayBase struct {
		Len int `name:"_len" optional:"true"`
	} `name:"GrowableArrayBase,GenericGrowableArray"`
	GrowableArrayInt struct {
		Data int `name:"_data" optional:"true"`
	} `name:"GrowableArray<int>"`
}

// statics are the values of static fields listed in gHotSpotVMStructs.
// Address typed fields hold the dereferenced pointer, int fields the
// dereferenced 32-bit value.
type statics struct {
	JavaLangClass struct {
		KlassOffset int `name:"_klass_offset"`
	} `name:"java_lang_Class"`
	StubRoutines struct {
		CallStubReturnAddress libpf.Address `name:"_call_stub_return_address"`
	} `name:"StubRoutines"`
	AbstractInterpreter struct {
		Code libpf.Address `name:"_code"`
	} `name:"AbstractInterpreter"`
	CodeCache struct {
		Heap  libpf.Address `name:"_heap"`
		Heaps libpf.Address `name:"_heaps"`
	} `name:"CodeCache"`
}

// sizes are the type sizes read from gHotSpotVMTypes.
type sizes struct {
	ConstantPool struct {
		Sizeof uint
	} `name:"ConstantPool"`
	HeapBlock struct {
		Sizeof uint
	} `name:"HeapBlock"`
}

// Layout is the discovered layout of one JVM. It is immutable once Discover
// returns and is shared by pointer between all walkers.
type Layout struct {
	rm remotememory.RemoteMemory

	offsets offsets
	statics statics
	sizes   sizes

	available bool
}

// introspectionTable holds the dereferenced describing globals of one
// introspection table.
type introspectionTable struct {
	base, stride               libpf.Address
	typeOffset, fieldOffset    uint
	valueOffset, addressOffset uint
}

var (
	structsTable = [...]string{
		"gHotSpotVMStructs",
		"gHotSpotVMStructEntryArrayStride",
		"gHotSpotVMStructEntryTypeNameOffset",
		"gHotSpotVMStructEntryFieldNameOffset",
		"gHotSpotVMStructEntryOffsetOffset",
		"gHotSpotVMStructEntryAddressOffset",
	}
	typesTable = [...]string{
		"gHotSpotVMTypes",
		"gHotSpotVMTypeEntryArrayStride",
		"gHotSpotVMTypeEntryTypeNameOffset",
		"",
		"gHotSpotVMTypeEntrySizeOffset",
		"",
	}
)

// resolveTable finds and dereferences the describing globals. Missing
// symbols read as zero.
func resolveTable(syms SymbolFinder, rm remotememory.RemoteMemory,
	names [6]string) introspectionTable {
	var vals [6]libpf.Address
	for i, name := range names {
		if name == "" {
			continue
		}
		if addr, ok := syms.FindSymbol(name); ok {
			vals[i] = rm.Ptr(addr)
		}
	}
	return introspectionTable{
		base:          vals[0],
		stride:        vals[1],
		typeOffset:    uint(vals[2]),
		fieldOffset:   uint(vals[3]),
		valueOffset:   uint(vals[4]),
		addressOffset: uint(vals[5]),
	}
}

func newLayout(rm remotememory.RemoteMemory) *Layout {
	l := &Layout{rm: rm}
	forEachField(reflect.ValueOf(&l.offsets).Elem(), func(f reflect.Value, _, _ string, _ bool) {
		f.SetInt(-1)
	})
	l.statics.JavaLangClass.KlassOffset = -1
	return l
}

// Discover reads the layout of the JVM whose libjvm exports are searchable
// through syms. The returned layout is never nil: on error it reports itself
// unavailable, and it may also be unavailable without an error when the JVM
// lacks required fields.
func Discover(syms SymbolFinder, rm remotememory.RemoteMemory) (*Layout, error) {
	l := newLayout(rm)

	structs := resolveTable(syms, rm, structsTable)
	if err := l.parseStructs(&structs); err != nil {
		return l, err
	}

	// Type sizes are best effort, older JVMs still work with the defaults.
	types := resolveTable(syms, rm, typesTable)
	if types.base != 0 && types.stride != 0 {
		if err := l.parseTypes(&types); err != nil {
			log.Debugf("Failed to parse gHotSpotVMTypes: %v", err)
		}
	}

	l.finalize()
	return l, nil
}

// entries iterates the table until an entry with a null type name (or field
// name, for the structs table) is found.
func (l *Layout) entries(it *introspectionTable,
	visit func(e []byte, typeName, fieldName string)) error {
	if it.base == 0 || it.stride == 0 {
		return fmt.Errorf("%w (%#x / %d)", ErrIntrospectionTable, it.base, it.stride)
	}

	e := make([]byte, it.stride)
	for addr := it.base; ; addr += it.stride {
		if err := l.rm.Read(addr, e); err != nil {
			return fmt.Errorf("failed to read introspection entry at %#x: %w", addr, err)
		}
		typeNamePtr := npsr.Ptr(e, it.typeOffset)
		if typeNamePtr == 0 {
			return nil
		}
		fieldName := ""
		if it.fieldOffset != 0 {
			fieldNamePtr := npsr.Ptr(e, it.fieldOffset)
			if fieldNamePtr == 0 {
				return nil
			}
			fieldName = l.rm.String(fieldNamePtr)
		}
		visit(e, l.rm.String(typeNamePtr), fieldName)
	}
}

func (l *Layout) parseStructs(it *introspectionTable) error {
	offs := reflect.ValueOf(&l.offsets).Elem()
	stat := reflect.ValueOf(&l.statics).Elem()

	return l.entries(it, func(e []byte, typeName, fieldName string) {
		if fieldName == "" || fieldName[0] != '_' {
			return
		}

		addr := npsr.Ptr(e, it.addressOffset)
		if addr == 0 {
			f := lookupField(offs, typeName, fieldName)
			if !f.IsValid() {
				return
			}
			value := npsr.Uint64(e, it.valueOffset)
			log.Debugf("JVM %v::%v = %v", typeName, fieldName, value)
			f.SetInt(int64(value))
			return
		}

		f := lookupField(stat, typeName, fieldName)
		if !f.IsValid() {
			return
		}
		switch f.Kind() {
		case reflect.Int:
			f.SetInt(int64(l.rm.Int32(addr)))
		case reflect.Uintptr:
			f.SetUint(uint64(l.rm.Ptr(addr)))
		default:
			panic(fmt.Sprintf("bug: unexpected static field type: %v", f.Kind()))
		}
		log.Debugf("JVM %v::%v @ %#x = %#x", typeName, fieldName, addr, f.Interface())
	})
}

func (l *Layout) parseTypes(it *introspectionTable) error {
	types := reflect.ValueOf(&l.sizes).Elem()

	return l.entries(it, func(e []byte, typeName, _ string) {
		f := lookupField(types, typeName, "Sizeof")
		if !f.IsValid() {
			return
		}
		value := npsr.Uint64(e, it.valueOffset)
		log.Debugf("JVM sizeof(%v) = %v", typeName, value)
		f.SetUint(value)
	})
}

// finalize merges alternative field names and computes availability.
func (l *Layout) finalize() {
	vms := &l.offsets
	// JDK12+: _length lives two bytes into _length_and_refcount.
	if vms.Symbol.Length < 0 && vms.Symbol.LengthAndRefcount >= 0 {
		vms.Symbol.Length = vms.Symbol.LengthAndRefcount + 2
	}

	available := true
	forEachField(reflect.ValueOf(vms).Elem(), func(f reflect.Value, typeName, fieldName string,
		optional bool) {
		if !optional && f.Int() < 0 {
			log.Debugf("JVM %v::%v not found", typeName, fieldName)
			available = false
		}
	})
	l.available = available
}

// Available reports whether every required offset was discovered.
func (l *Layout) Available() bool {
	return l != nil && l.available
}

// Offset returns the discovered offset of typeName::fieldName, or -1.
func (l *Layout) Offset(typeName, fieldName string) int {
	f := lookupField(reflect.ValueOf(&l.offsets).Elem(), typeName, fieldName)
	if !f.IsValid() {
		return -1
	}
	return int(f.Int())
}

// Static returns the value of the static field typeName::fieldName.
func (l *Layout) Static(typeName, fieldName string) (uint64, bool) {
	f := lookupField(reflect.ValueOf(&l.statics).Elem(), typeName, fieldName)
	switch {
	case !f.IsValid():
		return 0, false
	case f.Kind() == reflect.Int:
		return uint64(f.Int()), f.Int() >= 0
	default:
		return f.Uint(), f.Uint() != 0
	}
}

// SizeOf returns the size of typeName from gHotSpotVMTypes.
func (l *Layout) SizeOf(typeName string) (uint, bool) {
	f := lookupField(reflect.ValueOf(&l.sizes).Elem(), typeName, "Sizeof")
	if !f.IsValid() || f.Uint() == 0 {
		return 0, false
	}
	return uint(f.Uint()), true
}

// CallStubReturnAddress is the return address of the call stub, which
// marks entry frames.
func (l *Layout) CallStubReturnAddress() libpf.Address {
	return l.statics.StubRoutines.CallStubReturnAddress
}

// Dump writes every known field as "Type::field = value" lines.
func (l *Layout) Dump(w io.Writer) error {
	var err error
	printf := func(format string, args ...any) {
		if err == nil {
			_, err = fmt.Fprintf(w, format, args...)
		}
	}

	printf("available = %v\n", l.available)
	forEachField(reflect.ValueOf(&l.offsets).Elem(), func(f reflect.Value, typeName,
		fieldName string, _ bool) {
		printf("%s::%s = %d\n", typeName, fieldName, f.Int())
	})
	forEachField(reflect.ValueOf(&l.statics).Elem(), func(f reflect.Value, typeName,
		fieldName string, _ bool) {
		if f.Kind() == reflect.Int {
			printf("%s::%s = %d\n", typeName, fieldName, f.Int())
		} else {
			printf("%s::%s = %#x\n", typeName, fieldName, f.Uint())
		}
	})
	forEachField(reflect.ValueOf(&l.sizes).Elem(), func(f reflect.Value, typeName,
		_ string, _ bool) {
		printf("sizeof(%s) = %d\n", typeName, f.Uint())
	})
	return err
}

// javaNames returns the alternative JVM names of a struct field.
func javaNames(field *reflect.StructField) []string {
	if tag, ok := field.Tag.Lookup("name"); ok {
		return strings.Split(tag, ",")
	}
	return []string{field.Name}
}

// fieldByJavaName searches obj for a field by its JVM name using the struct tags.
func fieldByJavaName(obj reflect.Value, name string) reflect.Value {
	objType := obj.Type()
	for i := range obj.NumField() {
		field := objType.Field(i)
		for _, javaName := range javaNames(&field) {
			if javaName == name {
				return obj.Field(i)
			}
		}
	}
	return reflect.Value{}
}

func lookupField(obj reflect.Value, typeName, fieldName string) reflect.Value {
	t := fieldByJavaName(obj, typeName)
	if !t.IsValid() {
		return t
	}
	return fieldByJavaName(t, fieldName)
}

// forEachField calls visitor for every leaf of a two level layout struct
// with the primary JVM type and field names.
func forEachField(obj reflect.Value, visitor func(f reflect.Value, typeName, fieldName string,
	optional bool)) {
	objType := obj.Type()
	for i := range obj.NumField() {
		typeField := objType.Field(i)
		typeName := javaNames(&typeField)[0]
		t := obj.Field(i)
		for j := range t.NumField() {
			field := t.Type().Field(j)
			_, optional := field.Tag.Lookup("optional")
			visitor(t.Field(j), typeName, javaNames(&field)[0], optional)
		}
	}
}
