// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// jvmwalk is a diagnostic tool for the JVM introspection of a running
// HotSpot process: it dumps the discovered layout, symbolizes addresses and
// walks the stack of a live thread.

package main

import (
	"context"
	"errors"
	"flag"
	"os"

	"github.com/peterbourgon/ff/v3"
	"github.com/peterbourgon/ff/v3/ffcli"
	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/jvm-stackwalker/agent"
	"go.opentelemetry.io/jvm-stackwalker/libpf"
	"go.opentelemetry.io/jvm-stackwalker/process"
)

const envVarPrefix = "JVMWALK"

// globalArgs are the flags shared by every subcommand.
type globalArgs struct {
	verbose  bool
	procRoot string
	arch     string
}

func (g *globalArgs) register(set *flag.FlagSet) {
	set.BoolVar(&g.verbose, "v", false, "Enable debug logging")
	set.StringVar(&g.procRoot, "proc-root", process.DefaultProcRoot, "Mount point of procfs")
	set.StringVar(&g.arch, "arch", "", "Frame layout architecture (default: host)")
}

// attach applies the global flags to cfg and attaches to pid.
func (g *globalArgs) attach(ctx context.Context, pid int, cfg agent.Config) (*agent.Agent, error) {
	if g.verbose {
		log.SetLevel(log.DebugLevel)
	}
	if pid <= 0 {
		return nil, errors.New("please specify `-pid`")
	}
	cfg.ProcRoot = g.procRoot
	cfg.Arch = g.arch
	return agent.Attach(ctx, libpf.PID(pid), cfg)
}

func main() {
	log.SetReportCaller(false)
	log.SetFormatter(&log.TextFormatter{})

	global := &globalArgs{}
	set := flag.NewFlagSet("jvmwalk", flag.ExitOnError)
	global.register(set)

	root := ffcli.Command{
		Name:       "jvmwalk",
		ShortUsage: "jvmwalk [flags] <subcommand> [flags]",
		ShortHelp:  "Inspect the JVM internals of a running HotSpot process",
		FlagSet:    set,
		Options:    []ff.Option{ff.WithEnvVarPrefix(envVarPrefix)},
		Subcommands: []*ffcli.Command{
			newLayoutCmd(global),
			newSymbolizeCmd(global),
			newWalkCmd(global),
		},
		Exec: func(context.Context, []string) error {
			return flag.ErrHelp
		},
	}

	if err := root.ParseAndRun(context.Background(), os.Args[1:]); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			log.Fatalf("%v", err)
		}
	}
}
