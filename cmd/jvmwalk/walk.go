// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/peterbourgon/ff/v3/ffcli"
	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/jvm-stackwalker/agent"
	"go.opentelemetry.io/jvm-stackwalker/libpf"
	"go.opentelemetry.io/jvm-stackwalker/process"
)

type walkCmd struct {
	global     *globalArgs
	pid        int
	tid        int
	maxDepth   int
	pastEntry  bool
	dumpLayout bool
}

func newWalkCmd(global *globalArgs) *ffcli.Command {
	args := &walkCmd{global: global}

	set := flag.NewFlagSet("walk", flag.ExitOnError)
	set.IntVar(&args.pid, "pid", 0, "PID of the JVM")
	set.IntVar(&args.tid, "tid", 0, "Thread to walk (default: the main thread)")
	set.IntVar(&args.maxDepth, "max-depth", agent.DefaultMaxDepth, "Maximum number of frames")
	set.BoolVar(&args.pastEntry, "past-entry", false,
		"Continue into the native frames that called into Java")
	set.BoolVar(&args.dumpLayout, "dump-layout", false, "Log the JVM layout at debug level")

	return &ffcli.Command{
		Name:       "walk",
		Exec:       args.exec,
		ShortUsage: "walk -pid <pid> [-tid <tid>]",
		ShortHelp:  "Stop a thread and print its attributed stack",
		FlagSet:    set,
	}
}

func (cmd *walkCmd) exec(ctx context.Context, _ []string) error {
	a, err := cmd.global.attach(ctx, cmd.pid, agent.Config{
		MaxDepth:          cmd.maxDepth,
		ContinuePastEntry: cmd.pastEntry,
		DumpLayout:        cmd.dumpLayout,
	})
	if err != nil {
		return err
	}
	tid := cmd.tid
	if tid == 0 {
		tid = cmd.pid
	}

	tracer, err := process.NewPtrace(libpf.PID(cmd.pid), libpf.PID(tid))
	if err != nil {
		return fmt.Errorf("failed to stop thread %d: %w", tid, err)
	}
	frames, err := walkThread(ctx, tracer, a, tid)
	if err != nil {
		return err
	}
	for i := range frames {
		f := &frames[i]
		fmt.Printf("#%-3d %#016x %-11s %s\n", i, uint64(f.PC), f.Walk, f.String())
	}
	return nil
}

// stoppedThread is a thread held stopped until Close.
type stoppedThread interface {
	Registers() (process.Registers, error)
	Close() error
}

type stackWalker interface {
	Walk(ctx context.Context, pc, sp, fp libpf.Address) ([]agent.Frame, error)
}

// walkThread walks the stack of a stopped thread and resumes the thread
// once the walk is done.
func walkThread(ctx context.Context, thread stoppedThread, w stackWalker,
	tid int) ([]agent.Frame, error) {
	defer func() {
		if err := thread.Close(); err != nil {
			log.Warnf("Failed to detach from thread %d: %v", tid, err)
		}
	}()

	regs, err := thread.Registers()
	if err != nil {
		return nil, err
	}
	log.Debugf("Thread %d: pc=%#x sp=%#x fp=%#x", tid, regs.PC, regs.SP, regs.FP)
	return w.Walk(ctx, regs.PC, regs.SP, regs.FP)
}
