// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/jvm-stackwalker/agent"
	"go.opentelemetry.io/jvm-stackwalker/libpf"
	"go.opentelemetry.io/jvm-stackwalker/process"
)

type fakeThread struct {
	events  *[]string
	regs    process.Registers
	regsErr error
}

func (f *fakeThread) Registers() (process.Registers, error) {
	*f.events = append(*f.events, "registers")
	return f.regs, f.regsErr
}

func (f *fakeThread) Close() error {
	*f.events = append(*f.events, "resume")
	return errors.New("already detached")
}

type fakeWalker struct {
	events *[]string
	got    process.Registers
}

func (f *fakeWalker) Walk(_ context.Context, pc, sp, fp libpf.Address) ([]agent.Frame, error) {
	*f.events = append(*f.events, "walk")
	f.got = process.Registers{PC: pc, SP: sp, FP: fp}
	return []agent.Frame{{Kind: agent.KindStub, PC: pc, Symbol: "call_stub"}}, nil
}

func TestWalkThread(t *testing.T) {
	tests := map[string]struct {
		regsErr  error
		expected []string
	}{
		"walk before resume": {
			expected: []string{"registers", "walk", "resume"},
		},
		"registers unavailable": {
			regsErr:  errors.New("no such process"),
			expected: []string{"registers", "resume"},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			var events []string
			regs := process.Registers{PC: 0x1000, SP: 0x7ff0, FP: 0x8000}
			thread := &fakeThread{events: &events, regs: regs, regsErr: tc.regsErr}
			walker := &fakeWalker{events: &events}

			frames, err := walkThread(context.Background(), thread, walker, 42)
			assert.Equal(t, tc.expected, events)
			if tc.regsErr != nil {
				require.ErrorIs(t, err, tc.regsErr)
				return
			}
			require.NoError(t, err)
			assert.Len(t, frames, 1)
			assert.Equal(t, regs, walker.got)
		})
	}
}
