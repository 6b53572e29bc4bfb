// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package nativelib

import (
	"bytes"
	"debug/elf"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"

	"go.opentelemetry.io/jvm-stackwalker/libpf"
	"go.opentelemetry.io/jvm-stackwalker/process"
)

func TestLoadBias(t *testing.T) {
	progs := []*elf.Prog{
		{ProgHeader: elf.ProgHeader{Type: elf.PT_PHDR, Off: 0x40, Vaddr: 0x40}},
		{ProgHeader: elf.ProgHeader{Type: elf.PT_LOAD, Off: 0, Vaddr: 0,
			Filesz: 0x1000, Align: 0x1000}},
		{ProgHeader: elf.ProgHeader{Type: elf.PT_LOAD, Off: 0x1000, Vaddr: 0x201000,
			Filesz: 0x5000, Align: 0x1000}},
		{ProgHeader: elf.ProgHeader{Type: elf.PT_LOAD, Off: 0x6f10, Vaddr: 0x407f10,
			Filesz: 0x200, Align: 0x1000}},
	}

	tests := map[string]struct {
		fileType elf.Type
		mapping  process.Mapping
		bias     libpf.Address
	}{
		"executable": {
			fileType: elf.ET_EXEC,
			mapping:  process.Mapping{Vaddr: 0x401000, FileOffset: 0x1000},
			bias:     0,
		},
		"shared object first segment": {
			fileType: elf.ET_DYN,
			mapping:  process.Mapping{Vaddr: 0x7f0000000000, FileOffset: 0},
			bias:     0x7f0000000000,
		},
		"shared object text segment": {
			fileType: elf.ET_DYN,
			mapping:  process.Mapping{Vaddr: 0x7f0000201000, FileOffset: 0x1000},
			bias:     0x7f0000000000,
		},
		"unaligned segment offset": {
			fileType: elf.ET_DYN,
			mapping:  process.Mapping{Vaddr: 0x7f0000407000, FileOffset: 0x6000},
			bias:     0x7f0000000000,
		},
		"no matching segment": {
			fileType: elf.ET_DYN,
			mapping:  process.Mapping{Vaddr: 0x7f0000100000, FileOffset: 0x10000},
			bias:     0x7f00000f0000,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			ef := &elf.File{FileHeader: elf.FileHeader{Type: tc.fileType}, Progs: progs}
			assert.Equal(t, tc.bias, loadBias(ef, &tc.mapping))
		})
	}
}

func TestSymbolName(t *testing.T) {
	assert.Equal(t, "JavaThread::run()", symbolName("_ZN10JavaThread3runEv"))
	assert.Equal(t, "gHotSpotVMStructs", symbolName("gHotSpotVMStructs"))
	assert.Equal(t, "runtime.main", symbolName("runtime.main"))
}

func TestWanted(t *testing.T) {
	sections := []*elf.Section{
		{SectionHeader: elf.SectionHeader{Type: elf.SHT_NULL}},
		{SectionHeader: elf.SectionHeader{Name: ".text", Type: elf.SHT_PROGBITS,
			Flags: elf.SHF_ALLOC | elf.SHF_EXECINSTR}},
		{SectionHeader: elf.SectionHeader{Name: ".data", Type: elf.SHT_PROGBITS,
			Flags: elf.SHF_ALLOC | elf.SHF_WRITE}},
	}
	sym := func(name string, typ elf.SymType, section elf.SectionIndex, value uint64) elf.Symbol {
		return elf.Symbol{Name: name, Info: elf.ST_INFO(elf.STB_GLOBAL, typ),
			Section: section, Value: value}
	}

	tests := map[string]struct {
		sym    elf.Symbol
		wanted bool
	}{
		"function":            {sym: sym("JVM_GetStackTrace", elf.STT_FUNC, 1, 0x1000), wanted: true},
		"object":              {sym: sym("gHotSpotVMStructs", elf.STT_OBJECT, 2, 0x2000), wanted: true},
		"label in text":       {sym: sym("call_stub_entry", elf.STT_NOTYPE, 1, 0x1100), wanted: true},
		"label in data":       {sym: sym("data_start", elf.STT_NOTYPE, 2, 0x2000)},
		"absolute label":      {sym: sym("_end", elf.STT_NOTYPE, elf.SHN_ABS, 0x3000)},
		"arm mapping symbol":  {sym: sym("$x", elf.STT_NOTYPE, 1, 0x1100)},
		"undefined function":  {sym: sym("malloc", elf.STT_FUNC, elf.SHN_UNDEF, 0)},
		"zero value function": {sym: sym("weak_hook", elf.STT_FUNC, 1, 0)},
		"section symbol":      {sym: sym(".text", elf.STT_SECTION, 1, 0x1000)},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.wanted, wanted(&tc.sym, sections))
		})
	}
}

// selfSymbol returns the symbol table entry of name in the test binary.
func selfSymbol(t *testing.T, ef *elf.File, name string) elf.Symbol {
	t.Helper()
	syms, err := ef.Symbols()
	if err != nil {
		t.Skipf("test binary has no symbol table: %v", err)
	}
	for _, sym := range syms {
		if sym.Name == name {
			return sym
		}
	}
	t.Skipf("symbol %s not found in test binary", name)
	return elf.Symbol{}
}

func TestOpenSelf(t *testing.T) {
	exe, err := os.Executable()
	require.NoError(t, err)
	ef, err := elf.Open(exe)
	if err != nil {
		t.Skipf("test binary is not ELF: %v", err)
	}
	defer ef.Close()
	want := selfSymbol(t, ef, "runtime.main")

	m := process.Mapping{
		Vaddr:  0x7f0000000000,
		Length: 0x10000000,
		Flags:  elf.PF_R | elf.PF_X,
		Path:   exe,
	}
	lib, err := Open(exe, &m)
	require.NoError(t, err)
	require.Positive(t, lib.Len())
	bias := loadBias(ef, &m)

	addr, ok := lib.FindSymbol("runtime.main")
	require.True(t, ok)
	assert.Equal(t, libpf.Address(want.Value)+bias, addr)

	lib.Sort()
	minAddr, maxAddr := lib.Bounds()
	assert.Equal(t, m.Vaddr, minAddr)
	assert.Equal(t, m.End(), maxAddr)
	assert.Equal(t, "runtime.main", lib.BinarySearch(addr+1))
}

func TestMiniDebugSymbols(t *testing.T) {
	if testing.Short() {
		t.Skip("compresses the test binary")
	}
	exe, err := os.Executable()
	require.NoError(t, err)
	image, err := os.ReadFile(exe)
	require.NoError(t, err)
	ef, err := elf.NewFile(bytes.NewReader(image))
	if err != nil {
		t.Skipf("test binary is not ELF: %v", err)
	}
	want := selfSymbol(t, ef, "runtime.main")

	var compressed bytes.Buffer
	w, err := xz.NewWriter(&compressed)
	require.NoError(t, err)
	_, err = w.Write(image)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	syms, sections, err := miniDebugSymbols(compressed.Bytes())
	require.NoError(t, err)
	assert.Contains(t, syms, want)
	assert.Len(t, sections, len(ef.Sections))

	_, _, err = miniDebugSymbols([]byte("not xz"))
	assert.Error(t, err)
}
