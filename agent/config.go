// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package agent // import "go.opentelemetry.io/jvm-stackwalker/agent"

import (
	"fmt"
	"runtime"

	"go.opentelemetry.io/jvm-stackwalker/process"
	"go.opentelemetry.io/jvm-stackwalker/stackwalker"
)

const (
	// DefaultMaxDepth is the default maximum number of frames per walk.
	DefaultMaxDepth = 1024
	// DefaultMethodCacheSize is the default number of cached method identities.
	DefaultMethodCacheSize = 4096
)

// Config holds the agent options. The zero value is usable.
type Config struct {
	// ProcRoot is the procfs mount point.
	ProcRoot string
	// Arch selects the frame layout by GOARCH name; empty means the host.
	Arch string
	// MaxDepth limits the frames of one walk.
	MaxDepth int
	// ContinuePastEntry keeps walking the native frames that called into
	// the JVM instead of stopping at the entry frame.
	ContinuePastEntry bool
	// MethodCacheSize is the capacity of the method identity cache.
	MethodCacheSize uint32
	// DumpLayout logs the discovered JVM layout at debug level.
	DumpLayout bool
	// Concurrency bounds the number of libraries loaded in parallel.
	Concurrency int
}

func (c *Config) applyDefaults() {
	if c.ProcRoot == "" {
		c.ProcRoot = process.DefaultProcRoot
	}
	if c.Arch == "" {
		c.Arch = runtime.GOARCH
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = DefaultMaxDepth
	}
	if c.MethodCacheSize == 0 {
		c.MethodCacheSize = DefaultMethodCacheSize
	}
	if c.Concurrency <= 0 {
		c.Concurrency = runtime.NumCPU()
	}
}

func (c *Config) frameLayout() (stackwalker.FrameLayout, error) {
	if c.Arch == runtime.GOARCH {
		return stackwalker.Host, nil
	}
	fl, ok := stackwalker.ForArch(c.Arch)
	if !ok {
		return fl, fmt.Errorf("unsupported architecture %q", c.Arch)
	}
	return fl, nil
}
