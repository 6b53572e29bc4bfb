// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package hash

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUint64(t *testing.T) {
	tests := map[string]struct {
		input  uint64
		expect uint64
	}{
		"0":          {input: 0, expect: 0},
		"1":          {input: 1, expect: 12994781566227106604},
		"uint32 max": {input: uint64(math.MaxUint32), expect: 14731816277868330182},
		"uint64 max": {input: math.MaxUint64, expect: 7256831767414464289},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.expect, Uint64(tc.input))
		})
	}
}
