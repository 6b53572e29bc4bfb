//go:build !linux || (!amd64 && !arm64)

// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package process // import "go.opentelemetry.io/jvm-stackwalker/process"

import (
	"errors"

	"go.opentelemetry.io/jvm-stackwalker/libpf"
)

// Tracer is a ptrace attachment to one thread of a process.
type Tracer struct{}

// NewPtrace is not supported on this platform.
func NewPtrace(_, _ libpf.PID) (*Tracer, error) {
	return nil, errors.New("ptrace is not supported on this platform")
}

// Registers is not supported on this platform.
func (t *Tracer) Registers() (Registers, error) {
	return Registers{}, errors.ErrUnsupported
}

// Close is a no-op.
func (t *Tracer) Close() error {
	return nil
}
