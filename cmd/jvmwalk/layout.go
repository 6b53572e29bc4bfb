// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"os"

	"github.com/peterbourgon/ff/v3/ffcli"

	"go.opentelemetry.io/jvm-stackwalker/agent"
)

type layoutCmd struct {
	global *globalArgs
	pid    int
}

func newLayoutCmd(global *globalArgs) *ffcli.Command {
	args := &layoutCmd{global: global}

	set := flag.NewFlagSet("layout", flag.ExitOnError)
	set.IntVar(&args.pid, "pid", 0, "PID of the JVM")

	return &ffcli.Command{
		Name:       "layout",
		Exec:       args.exec,
		ShortUsage: "layout -pid <pid>",
		ShortHelp:  "Dump the discovered JVM field offsets and type sizes",
		FlagSet:    set,
	}
}

func (cmd *layoutCmd) exec(ctx context.Context, _ []string) error {
	a, err := cmd.global.attach(ctx, cmd.pid, agent.Config{})
	if err != nil {
		return err
	}
	return a.Layout().Dump(os.Stdout)
}
