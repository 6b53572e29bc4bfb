// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package symtab

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/jvm-stackwalker/libpf"
)

func TestTableFind(t *testing.T) {
	table := NewTable[string](DefaultCapacity)
	table.Add(0x1000, 0x100, "first")
	table.Add(0x1080, 0x100, "overlapping")
	table.Add(0x2000, 0, "empty")

	tests := map[string]struct {
		addr  libpf.Address
		want  string
		found bool
	}{
		"start is inclusive":       {addr: 0x1000, want: "first", found: true},
		"first insertion wins":     {addr: 0x10a0, want: "first", found: true},
		"second range tail":        {addr: 0x1100, want: "overlapping", found: true},
		"end is exclusive":         {addr: 0x1180, found: false},
		"zero-length is not found": {addr: 0x2000, found: false},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			got, ok := table.Find(tc.addr)
			assert.Equal(t, tc.found, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestTableRemove(t *testing.T) {
	table := NewTable[uint64](4)
	table.Add(0x1000, 0x100, 1)
	table.Add(0x1000, 0x100, 2)
	require.Equal(t, 2, table.Len())

	// Absent entries are ignored.
	table.Remove(0x1000, 3)
	table.Remove(0x2000, 1)
	got, ok := table.Find(0x1010)
	require.True(t, ok)
	assert.Equal(t, uint64(1), got)

	table.Remove(0x1000, 1)
	assert.Equal(t, 2, table.Len())
	got, ok = table.Find(0x1010)
	require.True(t, ok)
	assert.Equal(t, uint64(2), got)

	table.Remove(0x1000, 2)
	_, ok = table.Find(0x1010)
	assert.False(t, ok)
	assert.Equal(t, 2, table.Len())

	// Re-adding after removal makes the range visible again.
	table.Add(0x1000, 0x100, 1)
	got, ok = table.Find(0x1010)
	require.True(t, ok)
	assert.Equal(t, uint64(1), got)
}

func TestTableGrowth(t *testing.T) {
	const capacity = 8
	table := NewTable[int](capacity)
	for i := 1; i <= capacity+1; i++ {
		table.Add(libpf.Address(i*0x100), 0x10, i)
	}
	assert.Equal(t, capacity+1, table.Len())
	assert.Equal(t, 2*capacity, table.Cap())

	for i := 1; i <= capacity+1; i++ {
		got, ok := table.Find(libpf.Address(i*0x100 + 8))
		require.True(t, ok)
		assert.Equal(t, i, got)
	}
}

func TestTableConcurrentReaders(t *testing.T) {
	table := NewTable[int](1)
	table.Add(0x10, 0x10, -1)

	const writes = 5000
	var wg sync.WaitGroup
	done := make(chan struct{})

	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				// The first range is never removed and must survive every
				// growth step.
				got, ok := table.Find(0x18)
				if !assert.True(t, ok) || !assert.Equal(t, -1, got) {
					return
				}
			}
		}()
	}

	for i := 1; i <= writes; i++ {
		table.Add(libpf.Address(0x1000+i*0x10), 0x10, i)
		if i%3 == 0 {
			table.Remove(libpf.Address(0x1000+i*0x10), i)
		}
	}
	close(done)
	wg.Wait()

	assert.Equal(t, writes+1, table.Len())
	_, ok := table.Find(0x1000 + 3*0x10)
	assert.False(t, ok)
	got, ok := table.Find(0x1000 + 4*0x10)
	require.True(t, ok)
	assert.Equal(t, 4, got)
}
