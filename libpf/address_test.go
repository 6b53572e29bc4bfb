// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package libpf

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddressWords(t *testing.T) {
	tests := map[string]struct {
		addr   Address
		words  int
		expect Address
	}{
		"zero":     {addr: 0x1000, words: 0, expect: 0x1000},
		"forward":  {addr: 0x1000, words: 2, expect: 0x1010},
		"backward": {addr: 0x1000, words: -6, expect: 0x0fd0},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.expect, tc.addr.Words(tc.words))
		})
	}
}

func TestAddressHash32(t *testing.T) {
	assert.Equal(t, uint32(0), Address(0).Hash32())
	assert.NotEqual(t, Address(0x1000).Hash32(), Address(0x1008).Hash32())
}
