// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package agent ties the JVM introspection pieces together for one process:
// it loads the native libraries, discovers the JVM layout, tracks compiled
// methods and turns register snapshots into attributed frames.
package agent // import "go.opentelemetry.io/jvm-stackwalker/agent"

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"

	lru "github.com/elastic/go-freelru"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"go.opentelemetry.io/jvm-stackwalker/libpf"
	"go.opentelemetry.io/jvm-stackwalker/nativelib"
	"go.opentelemetry.io/jvm-stackwalker/process"
	"go.opentelemetry.io/jvm-stackwalker/remotememory"
	"go.opentelemetry.io/jvm-stackwalker/stackwalker"
	"go.opentelemetry.io/jvm-stackwalker/symtab"
	"go.opentelemetry.io/jvm-stackwalker/vmstructs"
)

// ErrNoLibJVM is returned when no loaded library is libjvm.
var ErrNoLibJVM = errors.New("libjvm not found")

const libjvmPrefix = "libjvm"

// MethodID identifies a method to the agent: the jmethodID handed out by
// the JVM, which points to the Method* slot.
type MethodID libpf.Address

// Stats are the counters of an agent.
type Stats struct {
	Walks          uint64
	Frames         uint64
	Truncated      uint64
	UnknownFrames  uint64
	IdentityMisses uint64
}

type stats struct {
	walks          atomic.Uint64
	frames         atomic.Uint64
	truncated      atomic.Uint64
	unknownFrames  atomic.Uint64
	identityMisses atomic.Uint64
}

// Agent holds the introspection state of one JVM process. All methods are
// safe for concurrent use.
type Agent struct {
	cfg    Config
	rm     remotememory.RemoteMemory
	frames stackwalker.FrameLayout

	libs   []*symtab.Library
	libjvm *symtab.Library
	// layout is never nil after New. Rediscover replaces it.
	layout atomic.Pointer[vmstructs.Layout]

	compiled *symtab.Table[MethodID]
	perfMap  *symtab.Table[string]

	identities *lru.SyncedLRU[libpf.Address, vmstructs.MethodIdentity]

	stats stats
}

// Attach loads the libraries mapped into process pid and discovers the JVM
// layout. Libraries that fail to load are skipped with a warning.
func Attach(ctx context.Context, pid libpf.PID, cfg Config) (*Agent, error) {
	cfg.applyDefaults()

	mappings, err := process.Mappings(cfg.ProcRoot, pid)
	if err != nil {
		return nil, err
	}
	mappings = process.ExecutableMappings(mappings)

	libs := make([]*symtab.Library, len(mappings))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Concurrency)
	for i := range mappings {
		m := &mappings[i]
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			lib, err := nativelib.Open(process.MappingFile(cfg.ProcRoot, pid, m), m)
			if err != nil {
				log.Warnf("Failed to load symbols of %s: %v", m.Path, err)
				lib = symtab.NewLibrary(filepath.Base(m.Path), m.Vaddr, m.End())
			}
			libs[i] = lib
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	a, err := New(remotememory.NewProcessVirtualMemory(pid), libs, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to attach to %v: %w", pid, err)
	}
	log.Infof("Attached to %v: %d libraries, JVM layout available: %v",
		pid, len(libs), a.Available())
	return a, nil
}

// New creates an agent over already loaded libraries. The libraries must
// still be unsorted; New sorts them after the layout has been discovered.
func New(rm remotememory.RemoteMemory, libs []*symtab.Library, cfg Config) (*Agent, error) {
	cfg.applyDefaults()
	frames, err := cfg.frameLayout()
	if err != nil {
		return nil, err
	}

	identities, err := lru.NewSynced[libpf.Address, vmstructs.MethodIdentity](
		cfg.MethodCacheSize, libpf.Address.Hash32)
	if err != nil {
		return nil, fmt.Errorf("failed to create method cache: %w", err)
	}

	a := &Agent{
		cfg:        cfg,
		rm:         rm,
		frames:     frames,
		compiled:   symtab.NewTable[MethodID](symtab.DefaultCapacity),
		perfMap:    symtab.NewTable[string](symtab.DefaultCapacity),
		identities: identities,
	}
	for _, lib := range libs {
		if lib == nil {
			continue
		}
		a.libs = append(a.libs, lib)
		if a.libjvm == nil && strings.HasPrefix(lib.Name(), libjvmPrefix) {
			a.libjvm = lib
		}
	}
	if a.libjvm == nil {
		return nil, ErrNoLibJVM
	}

	if err := a.Rediscover(); err != nil {
		log.Warnf("JVM layout discovery failed: %v", err)
	}

	for _, lib := range a.libs {
		lib.Sort()
	}
	slices.SortFunc(a.libs, func(x, y *symtab.Library) int {
		xmin, _ := x.Bounds()
		ymin, _ := y.Bounds()
		return cmp.Compare(xmin, ymin)
	})
	return a, nil
}

// Layout returns the JVM layout discovered by New or the last Rediscover.
// The layout may be unavailable but is never nil.
func (a *Agent) Layout() *vmstructs.Layout {
	return a.layout.Load()
}

// Rediscover reads the JVM layout again and publishes it for later walks.
// It is meant for a JVM that was still initializing at attach time and is
// never called from Walk or Symbolize. On error the unavailable layout is
// published as well.
func (a *Agent) Rediscover() error {
	l, err := vmstructs.Discover(a.libjvm, a.rm)
	a.layout.Store(l)
	if err != nil {
		return err
	}
	if a.cfg.DumpLayout && log.IsLevelEnabled(log.DebugLevel) {
		w := log.StandardLogger().WriterLevel(log.DebugLevel)
		if err := l.Dump(w); err != nil {
			log.Debugf("Failed to dump JVM layout: %v", err)
		}
		_ = w.Close()
	}
	return nil
}

// Available reports whether the JVM layout was discovered with every
// required field.
func (a *Agent) Available() bool {
	return a.layout.Load().Available()
}

// MethodCompiled records that method id has code at [start, start+length).
func (a *Agent) MethodCompiled(start libpf.Address, length uint32, id MethodID) {
	a.compiled.Add(start, length, id)
}

// MethodEvicted records that the code of method id at start was unloaded.
func (a *Agent) MethodEvicted(start libpf.Address, id MethodID) {
	a.compiled.Remove(start, id)
}

// Stats returns a snapshot of the agent counters.
func (a *Agent) Stats() Stats {
	return Stats{
		Walks:          a.stats.walks.Load(),
		Frames:         a.stats.frames.Load(),
		Truncated:      a.stats.truncated.Load(),
		UnknownFrames:  a.stats.unknownFrames.Load(),
		IdentityMisses: a.stats.identityMisses.Load(),
	}
}

// Libraries returns the loaded libraries ordered by address.
func (a *Agent) Libraries() []*symtab.Library {
	return a.libs
}
