// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package process // import "go.opentelemetry.io/jvm-stackwalker/process"

import (
	"debug/elf"
	"strings"

	"go.opentelemetry.io/jvm-stackwalker/libpf"
)

// VdsoPathName is the path of the vDSO mapping.
const VdsoPathName = "[vdso]"

// Mapping contains information about a memory mapping
type Mapping struct {
	// Vaddr is the virtual memory start for this mapping
	Vaddr libpf.Address
	// Length is the length of the mapping
	Length uint64
	// Flags contains the mapping flags and permissions
	Flags elf.ProgFlag
	// FileOffset contains for file backed mappings the offset from the file start
	FileOffset uint64
	// Inode holds the mapped file's inode number
	Inode uint64
	// Path contains the file name for file backed mappings
	Path string
}

// End returns the first address past the mapping.
func (m *Mapping) End() libpf.Address {
	return m.Vaddr + libpf.Address(m.Length)
}

func (m *Mapping) IsExecutable() bool {
	return m.Flags&elf.PF_X == elf.PF_X
}

func (m *Mapping) IsAnonymous() bool {
	return m.Path == "" || m.IsMemFD()
}

func (m *Mapping) IsMemFD() bool {
	return strings.HasPrefix(m.Path, "/memfd:")
}

func (m *Mapping) IsVDSO() bool {
	return m.Path == VdsoPathName
}

// Registers is the unwinding relevant CPU state of a thread.
type Registers struct {
	PC, SP, FP libpf.Address
}
