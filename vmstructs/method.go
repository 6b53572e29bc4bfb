// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package vmstructs // import "go.opentelemetry.io/jvm-stackwalker/vmstructs"

import (
	"go.opentelemetry.io/jvm-stackwalker/libpf"
)

// UnknownName is reported for any part of a method identity that could not
// be resolved.
const UnknownName = "unknown"

// Method is the JVM metadata of a Java method.
type Method struct{ view }

// MethodFromID resolves a jmethodID, a pointer to a slot holding the Method*.
func (l *Layout) MethodFromID(id libpf.Address) Method {
	if id == 0 {
		return Method{view{l, 0}}
	}
	return Method{view{l, l.rm.Ptr(id)}}
}

// InterpretedFrameMethod reads the Method* stored in the interpreter frame
// slot at slot.
func (l *Layout) InterpretedFrameMethod(slot libpf.Address) Method {
	if slot == 0 {
		return Method{view{l, 0}}
	}
	return Method{view{l, l.rm.Ptr(slot)}}
}

// ConstMethod returns the immutable part of the method.
func (m Method) ConstMethod() ConstMethod {
	return ConstMethod{view{m.l, m.ptr(m.layout().offsets.Method.ConstMethod)}}
}

// MethodIdentity names a Java method. Class is in internal form
// (java/lang/String).
type MethodIdentity struct {
	Class     string
	Name      string
	Signature string
}

// Known reports whether both the class and the method name were resolved.
func (id MethodIdentity) Known() bool {
	return id.Class != UnknownName && id.Name != UnknownName
}

// Identity resolves the declaring class and method name by following
// Method -> ConstMethod -> ConstantPool -> holder Klass -> name Symbol and
// ConstMethod name index -> constant pool slot -> Symbol. Any null link
// yields UnknownName for the affected part.
func (m Method) Identity() MethodIdentity {
	id := MethodIdentity{Class: UnknownName, Name: UnknownName}

	cm := m.ConstMethod()
	pool := cm.Constants()
	if !pool.Valid() {
		return id
	}
	if name := pool.Holder().Name().String(); name != "" {
		id.Class = name
	}
	if name := pool.SymbolAt(cm.NameIndex()).String(); name != "" {
		id.Name = name
	}
	id.Signature = pool.SymbolAt(cm.SignatureIndex()).String()
	return id
}

// ConstMethod is the read-only part of a method.
type ConstMethod struct{ view }

// Constants returns the constant pool of the declaring class.
func (c ConstMethod) Constants() ConstantPool {
	return ConstantPool{view{c.l, c.ptr(c.layout().offsets.ConstMethod.Constants)}}
}

// NameIndex returns the constant pool index of the method name.
func (c ConstMethod) NameIndex() uint16 {
	return c.uint16(c.layout().offsets.ConstMethod.NameIndex)
}

// SignatureIndex returns the constant pool index of the method signature.
func (c ConstMethod) SignatureIndex() uint16 {
	return c.uint16(c.layout().offsets.ConstMethod.SignatureIndex)
}

// ConstantPool is the runtime constant pool of a class.
type ConstantPool struct{ view }

// Holder returns the class owning the pool.
func (p ConstantPool) Holder() Klass {
	return Klass{view{p.l, p.ptr(p.layout().offsets.ConstantPool.PoolHolder)}}
}

// SymbolAt returns the symbol in pool slot ndx. The slots follow the pool
// header. Index zero is never valid.
func (p ConstantPool) SymbolAt(ndx uint16) Symbol {
	l := p.layout()
	size, ok := l.SizeOf("ConstantPool")
	if ndx == 0 || !ok || !p.Valid() {
		return Symbol{view{p.l, 0}}
	}
	slot := p.addr + libpf.Address(size) + libpf.Address(ndx)*libpf.WordSize
	// The lowest bit flags an unresolved entry on some JDKs.
	return Symbol{view{p.l, l.rm.Ptr(slot) &^ 1}}
}
