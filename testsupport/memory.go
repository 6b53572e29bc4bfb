// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package testsupport builds synthetic target process memory for tests: a
// flat little-endian address space, and on top of it a fake HotSpot JVM with
// introspection tables, an interpreter, a code cache and method metadata.
package testsupport // import "go.opentelemetry.io/jvm-stackwalker/testsupport"

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"go.opentelemetry.io/jvm-stackwalker/libpf"
	"go.opentelemetry.io/jvm-stackwalker/remotememory"
)

// Memory is a synthetic address space. Address a maps to byte a of the
// backing buffer; reads past the end fail.
type Memory struct {
	buf  []byte
	next libpf.Address
}

// NewMemory creates a zeroed address space of size bytes. The first page is
// never handed out by Alloc, so small addresses stay unused.
func NewMemory(size int) *Memory {
	return &Memory{buf: make([]byte, size), next: 0x1000}
}

// RemoteMemory returns a reader over the address space. Later writes are
// visible through it.
func (m *Memory) RemoteMemory() remotememory.RemoteMemory {
	return remotememory.RemoteMemory{ReaderAt: bytes.NewReader(m.buf)}
}

// Size returns the size of the address space.
func (m *Memory) Size() libpf.Address {
	return libpf.Address(len(m.buf))
}

// Alloc reserves n zeroed bytes aligned to 16.
func (m *Memory) Alloc(n int) libpf.Address {
	addr := m.next
	m.next = (addr + libpf.Address(n) + 15) &^ 15
	if int(m.next) > len(m.buf) {
		panic(fmt.Sprintf("synthetic memory exhausted allocating %d bytes", n))
	}
	return addr
}

// AllocAligned reserves n zeroed bytes aligned to align, a power of two.
func (m *Memory) AllocAligned(n, align int) libpf.Address {
	m.next = (m.next + libpf.Address(align-1)) &^ libpf.Address(align-1)
	return m.Alloc(n)
}

// PutBytes copies b to addr.
func (m *Memory) PutBytes(addr libpf.Address, b []byte) {
	copy(m.buf[addr:], b)
}

// PutUint8 stores v at addr.
func (m *Memory) PutUint8(addr libpf.Address, v uint8) {
	m.buf[addr] = v
}

// PutUint16 stores v at addr.
func (m *Memory) PutUint16(addr libpf.Address, v uint16) {
	binary.LittleEndian.PutUint16(m.buf[addr:], v)
}

// PutUint32 stores v at addr.
func (m *Memory) PutUint32(addr libpf.Address, v uint32) {
	binary.LittleEndian.PutUint32(m.buf[addr:], v)
}

// PutInt32 stores v at addr.
func (m *Memory) PutInt32(addr libpf.Address, v int32) {
	m.PutUint32(addr, uint32(v))
}

// PutUint64 stores v at addr.
func (m *Memory) PutUint64(addr libpf.Address, v uint64) {
	binary.LittleEndian.PutUint64(m.buf[addr:], v)
}

// PutPtr stores the pointer v at addr.
func (m *Memory) PutPtr(addr, v libpf.Address) {
	m.PutUint64(addr, uint64(v))
}

// CString allocates a NUL terminated copy of s.
func (m *Memory) CString(s string) libpf.Address {
	addr := m.Alloc(len(s) + 1)
	m.PutBytes(addr, []byte(s))
	return addr
}
