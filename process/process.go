// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package process reads the state of a target process: its memory mappings
// and the registers of a stopped thread.
package process // import "go.opentelemetry.io/jvm-stackwalker/process"

import (
	"debug/elf"
	"fmt"
	"path"
	"strings"

	"github.com/prometheus/procfs"

	"go.opentelemetry.io/jvm-stackwalker/libpf"
)

// DefaultProcRoot is the mount point of procfs.
const DefaultProcRoot = procfs.DefaultMountPoint

func trimMappingPath(path string) string {
	// Trim the deleted indication from the path.
	// See path_with_deleted in linux/fs/d_path.c
	path = strings.TrimSuffix(path, " (deleted)")
	if path == "/dev/zero" {
		// Some JIT engines map JIT area from /dev/zero
		// make it anonymous.
		return ""
	}
	return path
}

func convertMapping(pm *procfs.ProcMap) Mapping {
	var flags elf.ProgFlag
	if pm.Perms != nil {
		if pm.Perms.Read {
			flags |= elf.PF_R
		}
		if pm.Perms.Write {
			flags |= elf.PF_W
		}
		if pm.Perms.Execute {
			flags |= elf.PF_X
		}
	}
	return Mapping{
		Vaddr:      libpf.Address(pm.StartAddr),
		Length:     uint64(pm.EndAddr - pm.StartAddr),
		Flags:      flags,
		FileOffset: uint64(pm.Offset),
		Inode:      pm.Inode,
		Path:       trimMappingPath(pm.Pathname),
	}
}

// Mappings returns the memory mappings of pid read from the procfs mounted
// at procRoot.
func Mappings(procRoot string, pid libpf.PID) ([]Mapping, error) {
	fs, err := procfs.NewFS(procRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to open procfs at %s: %w", procRoot, err)
	}
	proc, err := fs.Proc(int(pid))
	if err != nil {
		return nil, fmt.Errorf("error opening process %d: %w", pid, err)
	}
	maps, err := proc.ProcMaps()
	if err != nil {
		return nil, fmt.Errorf("error reading process %d memory maps: %w", pid, err)
	}

	mappings := make([]Mapping, 0, len(maps))
	for _, pm := range maps {
		mappings = append(mappings, convertMapping(pm))
	}
	return mappings, nil
}

// ExecutableMappings filters the file backed executable mappings.
func ExecutableMappings(mappings []Mapping) []Mapping {
	result := make([]Mapping, 0, len(mappings))
	for i := range mappings {
		m := &mappings[i]
		if m.IsExecutable() && !m.IsAnonymous() && !m.IsVDSO() &&
			!strings.HasPrefix(m.Path, "[") {
			result = append(result, *m)
		}
	}
	return result
}

// MappingFile returns the path through which the file backing m can be
// opened from this process, also when the target lives in another mount
// namespace.
func MappingFile(procRoot string, pid libpf.PID, m *Mapping) string {
	if m.IsAnonymous() || m.IsVDSO() {
		return ""
	}
	return path.Join(procRoot, fmt.Sprint(pid), "root", m.Path)
}
