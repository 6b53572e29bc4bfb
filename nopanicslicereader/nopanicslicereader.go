// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// nopanicslicereader provides little convenience utilities to read "native" endian
// values from a slice at given offset. Zeroes are returned on out of bounds access
// instead of panic.
package nopanicslicereader // import "go.opentelemetry.io/jvm-stackwalker/nopanicslicereader"

import (
	"encoding/binary"

	"go.opentelemetry.io/jvm-stackwalker/libpf"
)

// Uint64 reads one 64-bit unsigned integer from given byte slice offset
func Uint64(b []byte, offs uint) uint64 {
	if offs+8 > uint(len(b)) || offs+8 < offs {
		return 0
	}
	return binary.LittleEndian.Uint64(b[offs:])
}

// Ptr reads one native sized pointer from given byte slice offset
func Ptr(b []byte, offs uint) libpf.Address {
	return libpf.Address(Uint64(b, offs))
}
