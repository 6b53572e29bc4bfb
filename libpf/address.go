// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package libpf // import "go.opentelemetry.io/jvm-stackwalker/libpf"

import "go.opentelemetry.io/jvm-stackwalker/libpf/hash"

// Address represents an address, or offset within a process
type Address uintptr

// WordSize is the size of a native pointer in the target process.
const WordSize = 8

// Hash32 returns a 32 bits hash of the input.
// It's main purpose is to be used as key for caching.
func (adr Address) Hash32() uint32 {
	return uint32(adr.Hash())
}

// Hash returns a 64 bits hash of the input.
func (adr Address) Hash() uint64 {
	return hash.Uint64(uint64(adr))
}

// Words returns the address moved by n native words. n may be negative.
func (adr Address) Words(n int) Address {
	return Address(int64(adr) + int64(n)*WordSize)
}
