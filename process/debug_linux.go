//go:build linux && (amd64 || arm64)

// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package process // import "go.opentelemetry.io/jvm-stackwalker/process"

import (
	"debug/elf"
	"fmt"
	"os"
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"

	"go.opentelemetry.io/jvm-stackwalker/libpf"
)

func ptraceGetRegset(tid, regset int, data []byte) error {
	iovec := unix.Iovec{
		Base: &data[0],
		Len:  uint64(len(data)),
	}
	_, _, errno := unix.RawSyscall6(unix.SYS_PTRACE, unix.PTRACE_GETREGSET,
		uintptr(tid), uintptr(regset), uintptr(unsafe.Pointer(&iovec)), 0, 0)
	if errno != 0 {
		return fmt.Errorf("ptrace GETREGSET failed with errno %d", errno)
	}

	return nil
}

// Tracer is a ptrace attachment to one thread of a process.
type Tracer struct {
	tid int
}

// NewPtrace stops thread tid of pid with ptrace. The calling goroutine is
// locked to its OS thread until Close, as ptrace requires all requests to
// come from the attaching thread.
func NewPtrace(pid, tid libpf.PID) (*Tracer, error) {
	if _, err := os.Stat(fmt.Sprintf("/proc/%d/task/%d", pid, tid)); err != nil {
		return nil, fmt.Errorf("thread %d of process %d: %w", tid, pid, err)
	}

	runtime.LockOSThread()
	if err := unix.PtraceAttach(int(tid)); err != nil {
		runtime.UnlockOSThread()
		return nil, fmt.Errorf("failed to attach to thread %d: %w", tid, err)
	}

	// The stop happens asynchronously and needs to be waited for.
	status := unix.WaitStatus(0)
	_, _ = unix.Wait4(int(tid), &status, unix.WALL, nil)
	return &Tracer{tid: int(tid)}, nil
}

// Registers returns the registers of the stopped thread.
func (t *Tracer) Registers() (Registers, error) {
	prStatus := make([]byte, regsetWords*8)
	if err := ptraceGetRegset(t.tid, int(elf.NT_PRSTATUS), prStatus); err != nil {
		return Registers{}, fmt.Errorf("failed to get LWP %d registers: %w", t.tid, err)
	}
	return decodeRegisters(prStatus), nil
}

// Close detaches from the thread and lets it continue.
func (t *Tracer) Close() error {
	err := unix.PtraceDetach(t.tid)
	runtime.UnlockOSThread()
	return err
}
