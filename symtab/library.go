// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package symtab // import "go.opentelemetry.io/jvm-stackwalker/symtab"

import (
	"cmp"
	"slices"
	"strings"

	"go.opentelemetry.io/jvm-stackwalker/libpf"
)

// Library is the symbol table of one loaded native library. It is filled
// once with Add, then frozen with Sort. BinarySearch must only be used after
// Sort; FindSymbol and Find work in either state.
type Library struct {
	name             string
	minAddr, maxAddr libpf.Address
	symbols          []Range[string]
	sorted           bool
}

// NewLibrary creates an empty library table. Zero bounds are replaced by the
// symbol extent when the table is sorted.
func NewLibrary(name string, minAddr, maxAddr libpf.Address) *Library {
	return &Library{
		name:    name,
		minAddr: minAddr,
		maxAddr: maxAddr,
		symbols: make([]Range[string], 0, DefaultCapacity),
	}
}

// Name returns the library name, also used as the fallback symbol.
func (l *Library) Name() string {
	return l.name
}

// Bounds returns the [min, max) address range of the library.
func (l *Library) Bounds() (minAddr, maxAddr libpf.Address) {
	return l.minAddr, l.maxAddr
}

// Contains reports whether addr is within the library bounds.
func (l *Library) Contains(addr libpf.Address) bool {
	return addr >= l.minAddr && addr < l.maxAddr
}

// Len returns the number of symbols.
func (l *Library) Len() int {
	return len(l.symbols)
}

// Add registers the symbol name at [start, start+length).
func (l *Library) Add(start libpf.Address, length uint64, name string) {
	l.symbols = append(l.symbols, Range[string]{
		Start:  start,
		End:    start + libpf.Address(length),
		Handle: name,
	})
	l.sorted = false
}

func compareRanges(a, b Range[string]) int {
	if c := cmp.Compare(a.Start, b.Start); c != 0 {
		return c
	}
	// Larger ranges first for equal starts.
	return cmp.Compare(b.End, a.End)
}

// Sort orders the symbols by start address, and by descending end address
// for equal starts, then fills in unset bounds.
func (l *Library) Sort() {
	if len(l.symbols) == 0 {
		return
	}
	if !l.sorted {
		slices.SortFunc(l.symbols, compareRanges)
		l.sorted = true
	}
	if l.minAddr == 0 {
		l.minAddr = l.symbols[0].Start
	}
	if l.maxAddr == 0 {
		l.maxAddr = l.symbols[len(l.symbols)-1].End
	}
}

// Sorted reports whether Sort was called since the last Add.
func (l *Library) Sorted() bool {
	return l.sorted
}

// BinarySearch returns the symbol containing addr. An address in the gap
// right after a zero-length symbol (assembly entry points and generated
// labels) is attributed to that symbol. Any other address gets the library
// name, so native frames always have at least library attribution.
func (l *Library) BinarySearch(addr libpf.Address) string {
	low, high := 0, len(l.symbols)-1
	for low <= high {
		mid := int(uint(low+high) >> 1)
		switch sym := &l.symbols[mid]; {
		case sym.End <= addr:
			low = mid + 1
		case sym.Start > addr:
			high = mid - 1
		default:
			return sym.Handle
		}
	}

	if low > 0 && l.symbols[low-1].Start == l.symbols[low-1].End {
		return l.symbols[low-1].Handle
	}
	return l.name
}

// Find returns the first symbol containing addr using a linear scan.
func (l *Library) Find(addr libpf.Address) (string, bool) {
	for i := range l.symbols {
		if l.symbols[i].Contains(addr) {
			return l.symbols[i].Handle, true
		}
	}
	return "", false
}

// FindSymbol returns the start address of the first symbol whose name
// starts with prefix.
func (l *Library) FindSymbol(prefix string) (libpf.Address, bool) {
	for i := range l.symbols {
		if l.symbols[i].Handle != "" && strings.HasPrefix(l.symbols[i].Handle, prefix) {
			return l.symbols[i].Start, true
		}
	}
	return 0, false
}
