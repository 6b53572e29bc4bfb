// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package nativelib loads the symbols of a mapped ELF library into a
// symtab.Library at their runtime addresses.
package nativelib // import "go.opentelemetry.io/jvm-stackwalker/nativelib"

import (
	"bytes"
	"debug/elf"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/ianlancetaylor/demangle"
	"github.com/ulikunitz/xz"

	"go.opentelemetry.io/jvm-stackwalker/libpf"
	"go.opentelemetry.io/jvm-stackwalker/process"
	"go.opentelemetry.io/jvm-stackwalker/symtab"
)

// maxMiniDebugInfo bounds the decompressed .gnu_debugdata section.
const maxMiniDebugInfo = 64 << 20

// Open reads the symbols of the ELF file at path, mapped into the target by
// mapping m. The returned library is unsorted so that well known globals can
// be looked up with FindSymbol before it is sorted.
func Open(path string, m *process.Mapping) (*symtab.Library, error) {
	ef, err := elf.Open(path)
	if err != nil {
		return nil, err
	}
	defer ef.Close()

	return Load(ef, filepath.Base(m.Path), m)
}

// Load is Open for an already opened ELF file. name becomes the library name.
func Load(ef *elf.File, name string, m *process.Mapping) (*symtab.Library, error) {
	bias := loadBias(ef, m)
	lib := symtab.NewLibrary(name, m.Vaddr, m.End())

	type key struct {
		value uint64
		name  string
	}
	seen := make(map[key]struct{})
	add := func(syms []elf.Symbol, sections []*elf.Section) {
		for i := range syms {
			sym := &syms[i]
			if !wanted(sym, sections) {
				continue
			}
			k := key{sym.Value, sym.Name}
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			lib.Add(libpf.Address(sym.Value)+bias, sym.Size, symbolName(sym.Name))
		}
	}

	if syms, err := ef.DynamicSymbols(); err == nil {
		add(syms, ef.Sections)
	} else if !errors.Is(err, elf.ErrNoSymbols) {
		return nil, fmt.Errorf("failed to read .dynsym of %s: %w", name, err)
	}
	if syms, err := ef.Symbols(); err == nil {
		add(syms, ef.Sections)
	} else if !errors.Is(err, elf.ErrNoSymbols) {
		return nil, fmt.Errorf("failed to read .symtab of %s: %w", name, err)
	}
	if sec := ef.Section(".gnu_debugdata"); sec != nil {
		data, err := sec.Data()
		if err != nil {
			return nil, fmt.Errorf("failed to read .gnu_debugdata of %s: %w", name, err)
		}
		syms, sections, err := miniDebugSymbols(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse .gnu_debugdata of %s: %w", name, err)
		}
		add(syms, sections)
	}
	return lib, nil
}

// symbolName demangles C++ names. Other names are returned unchanged.
func symbolName(name string) string {
	return demangle.Filter(name, demangle.NoClones)
}

// wanted selects defined function and data symbols, and untyped labels in
// executable sections. Those are mostly zero-length assembly entry points.
// ARM mapping symbols ($x, $d) are not code labels.
func wanted(sym *elf.Symbol, sections []*elf.Section) bool {
	if sym.Section == elf.SHN_UNDEF || sym.Value == 0 || sym.Name == "" {
		return false
	}
	switch elf.ST_TYPE(sym.Info) {
	case elf.STT_FUNC, elf.STT_OBJECT:
		return true
	case elf.STT_NOTYPE:
		if strings.HasPrefix(sym.Name, "$") || int(sym.Section) >= len(sections) {
			return false
		}
		return sections[sym.Section].Flags&elf.SHF_EXECINSTR != 0
	default:
		return false
	}
}

// miniDebugSymbols returns the symbols of the xz compressed ELF image stored
// in .gnu_debugdata (MiniDebugInfo), along with that image's sections.
func miniDebugSymbols(data []byte) ([]elf.Symbol, []*elf.Section, error) {
	r, err := xz.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, nil, err
	}
	var uncompressed bytes.Buffer
	if _, err = io.Copy(&uncompressed, io.LimitReader(r, maxMiniDebugInfo)); err != nil {
		return nil, nil, err
	}
	ef, err := elf.NewFile(bytes.NewReader(uncompressed.Bytes()))
	if err != nil {
		return nil, nil, err
	}
	syms, err := ef.Symbols()
	if errors.Is(err, elf.ErrNoSymbols) {
		return nil, ef.Sections, nil
	}
	return syms, ef.Sections, err
}

// loadBias returns the difference between the runtime and link time
// addresses of the file. The PT_LOAD segment covering the mapping's file
// offset gives the link time address of the mapping start.
func loadBias(ef *elf.File, m *process.Mapping) libpf.Address {
	if ef.Type != elf.ET_DYN {
		return 0
	}
	for _, p := range ef.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		align := max(p.Align, 1)
		start := p.Off &^ (align - 1)
		if m.FileOffset < start || m.FileOffset >= p.Off+p.Filesz {
			continue
		}
		linkAddr := int64(p.Vaddr) - int64(p.Off) + int64(m.FileOffset)
		return libpf.Address(int64(m.Vaddr) - linkAddr)
	}
	// No segment matched, assume the first page is mapped at offset zero.
	return m.Vaddr - libpf.Address(m.FileOffset)
}
