// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package symtab holds the address range tables used to attribute a program
// counter to a symbol: Table for ranges registered and evicted while the
// target runs (JIT compiled methods), and Library for the exports of one
// loaded native library.
package symtab // import "go.opentelemetry.io/jvm-stackwalker/symtab"

import (
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/jvm-stackwalker/libpf"
)

// DefaultCapacity is the initial number of slots of a Table.
const DefaultCapacity = 1000

// Range maps the address range [Start, End) to Handle.
type Range[H comparable] struct {
	Start, End libpf.Address
	Handle     H
}

// Contains reports whether addr is inside the range. Zero-length ranges
// contain nothing.
func (r *Range[H]) Contains(addr libpf.Address) bool {
	return addr >= r.Start && addr < r.End
}

// slots is one generation of backing storage. Entries below count are
// always set; a published generation never changes its length.
type slots[H comparable] struct {
	entries []atomic.Pointer[Range[H]]
	count   atomic.Int64
}

// Table is an unsorted, append-only table of address ranges. Writers are
// serialized internally. Readers never block: they scan the generation of
// storage that was current when they started, which stays valid even if a
// concurrent Add replaces it with a larger one.
type Table[H comparable] struct {
	// mu serializes Add, Remove and growth.
	mu  sync.Mutex
	cur atomic.Pointer[slots[H]]
}

// NewTable returns an empty table with room for capacity ranges before the
// first growth.
func NewTable[H comparable](capacity int) *Table[H] {
	t := &Table[H]{}
	t.cur.Store(&slots[H]{entries: make([]atomic.Pointer[Range[H]], max(capacity, 1))})
	return t
}

// Add appends the range [start, start+length) with the given handle. No
// uniqueness check is done: a range for a live handle must be removed before
// it is added again, otherwise lookups may return the stale one.
func (t *Table[H]) Add(start libpf.Address, length uint32, handle H) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.cur.Load()
	n := s.count.Load()
	if int(n) == len(s.entries) {
		s = t.grow(s, n)
	}
	s.entries[n].Store(&Range[H]{
		Start:  start,
		End:    start + libpf.Address(length),
		Handle: handle,
	})
	s.count.Store(n + 1)
}

// grow publishes a copy of s with twice the capacity. Caller holds mu.
func (t *Table[H]) grow(s *slots[H], n int64) *slots[H] {
	ns := &slots[H]{entries: make([]atomic.Pointer[Range[H]], 2*len(s.entries))}
	for i := range n {
		ns.entries[i].Store(s.entries[i].Load())
	}
	ns.count.Store(n)
	t.cur.Store(ns)
	return ns
}

// Remove clears the handle of the first range matching (start, handle). The
// slot itself is kept so that concurrent scans never see entries move.
// Removing an unknown range is a no-op.
func (t *Table[H]) Remove(start libpf.Address, handle H) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var zero H
	s := t.cur.Load()
	n := s.count.Load()
	for i := range n {
		r := s.entries[i].Load()
		if r.Start != start || r.Handle != handle || r.Handle == zero {
			continue
		}
		cleared := *r
		cleared.Handle = zero
		s.entries[i].Store(&cleared)
		return
	}
}

// Find returns the handle of the first live range, in insertion order, that
// contains addr.
func (t *Table[H]) Find(addr libpf.Address) (H, bool) {
	var zero H
	s := t.cur.Load()
	n := s.count.Load()
	for i := range n {
		r := s.entries[i].Load()
		if r.Handle != zero && r.Contains(addr) {
			return r.Handle, true
		}
	}
	return zero, false
}

// Len returns the number of slots in use, including removed ones.
func (t *Table[H]) Len() int {
	return int(t.cur.Load().count.Load())
}

// Cap returns the current slot capacity.
func (t *Table[H]) Cap() int {
	return len(t.cur.Load().entries)
}
