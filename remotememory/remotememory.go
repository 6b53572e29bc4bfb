// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// remotememory provides access to memory space of a process. The ReaderAt
// interface is used for the basic access, and various convenience functions are
// provided to help reading specific data types. Every helper returns the zero
// value when the read fails, so callers walking JVM structures can treat an
// unreadable location like the null sentinel.
package remotememory // import "go.opentelemetry.io/jvm-stackwalker/remotememory"

import (
	"bytes"
	"encoding/binary"
	"io"

	"go.opentelemetry.io/jvm-stackwalker/libpf"
)

// maxStringLen bounds the C strings read from the target (type names, blob names).
const maxStringLen = 4096

// RemoteMemory implements a set of convenience functions to access the remote memory
type RemoteMemory struct {
	io.ReaderAt
}

// Valid determines if this RemoteMemory instance contains a valid reference to target process
func (rm RemoteMemory) Valid() bool {
	return rm.ReaderAt != nil
}

// Read fills slice p[] with data from remote memory at address addr
func (rm RemoteMemory) Read(addr libpf.Address, p []byte) error {
	_, err := rm.ReadAt(p, int64(addr))
	return err
}

// Ptr reads a native pointer from remote memory
func (rm RemoteMemory) Ptr(addr libpf.Address) libpf.Address {
	return libpf.Address(rm.Uint64(addr))
}

// Uint8 reads an 8-bit unsigned integer from remote memory
func (rm RemoteMemory) Uint8(addr libpf.Address) uint8 {
	var buf [1]byte
	if rm.Read(addr, buf[:]) != nil {
		return 0
	}
	return buf[0]
}

// Uint16 reads a 16-bit unsigned integer from remote memory
func (rm RemoteMemory) Uint16(addr libpf.Address) uint16 {
	var buf [2]byte
	if rm.Read(addr, buf[:]) != nil {
		return 0
	}
	return binary.LittleEndian.Uint16(buf[:])
}

// Uint32 reads a 32-bit unsigned integer from remote memory
func (rm RemoteMemory) Uint32(addr libpf.Address) uint32 {
	var buf [4]byte
	if rm.Read(addr, buf[:]) != nil {
		return 0
	}
	return binary.LittleEndian.Uint32(buf[:])
}

// Int32 reads a 32-bit signed integer from remote memory
func (rm RemoteMemory) Int32(addr libpf.Address) int32 {
	return int32(rm.Uint32(addr))
}

// Uint64 reads a 64-bit unsigned integer from remote memory
func (rm RemoteMemory) Uint64(addr libpf.Address) uint64 {
	var buf [8]byte
	if rm.Read(addr, buf[:]) != nil {
		return 0
	}
	return binary.LittleEndian.Uint64(buf[:])
}

// String reads a zero terminated string from remote memory
func (rm RemoteMemory) String(addr libpf.Address) string {
	if addr == 0 {
		return ""
	}
	buf := make([]byte, 256)
	for {
		n, err := rm.ReadAt(buf, int64(addr))
		if n == 0 || (err != nil && err != io.EOF) {
			return ""
		}
		if zeroIdx := bytes.IndexByte(buf[:n], 0); zeroIdx >= 0 {
			return string(buf[:zeroIdx])
		}
		if n != len(buf) || len(buf) >= maxStringLen {
			// Not a zero terminated string
			return ""
		}
		buf = make([]byte, 2*len(buf))
	}
}

// StringPtr reads a zero terminate string by first dereferencing a string pointer
// from target memory
func (rm RemoteMemory) StringPtr(addr libpf.Address) string {
	return rm.String(rm.Ptr(addr))
}

// ProcessVirtualMemory implements RemoteMemory by using process_vm_readv syscalls
// to read the remote memory.
type ProcessVirtualMemory struct {
	pid libpf.PID
}

// NewProcessVirtualMemory returns ProcessVirtualMemory implementation of RemoteMemory.
func NewProcessVirtualMemory(pid libpf.PID) RemoteMemory {
	return RemoteMemory{ReaderAt: ProcessVirtualMemory{pid}}
}
