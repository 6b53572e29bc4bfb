// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/peterbourgon/ff/v3/ffcli"
	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/jvm-stackwalker/agent"
	"go.opentelemetry.io/jvm-stackwalker/libpf"
)

type symbolizeCmd struct {
	global  *globalArgs
	pid     int
	perfMap string
}

func newSymbolizeCmd(global *globalArgs) *ffcli.Command {
	args := &symbolizeCmd{global: global}

	set := flag.NewFlagSet("symbolize", flag.ExitOnError)
	set.IntVar(&args.pid, "pid", 0, "PID of the JVM")
	set.StringVar(&args.perfMap, "perf-map", "",
		"Perf map to load (default: /tmp/perf-<pid>.map of the target, if present)")

	return &ffcli.Command{
		Name:       "symbolize",
		Exec:       args.exec,
		ShortUsage: "symbolize -pid <pid> <hex address>...",
		ShortHelp:  "Attribute code addresses to Java methods, stubs or native symbols",
		FlagSet:    set,
	}
}

func (cmd *symbolizeCmd) exec(ctx context.Context, rest []string) error {
	if len(rest) == 0 {
		return errors.New("no addresses given")
	}
	addrs, err := parseAddresses(rest)
	if err != nil {
		return err
	}

	a, err := cmd.global.attach(ctx, cmd.pid, agent.Config{})
	if err != nil {
		return err
	}
	if err := cmd.loadPerfMap(a); err != nil {
		return err
	}

	for _, addr := range addrs {
		f := a.Symbolize(addr)
		fmt.Printf("%#016x %-8s %s\n", uint64(addr), f.Kind, f.String())
	}
	return nil
}

func (cmd *symbolizeCmd) loadPerfMap(a *agent.Agent) error {
	path := cmd.perfMap
	explicit := path != ""
	if !explicit {
		path = filepath.Join(cmd.global.procRoot, strconv.Itoa(cmd.pid), "root", "tmp",
			fmt.Sprintf("perf-%d.map", cmd.pid))
	}

	f, err := os.Open(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	defer f.Close()

	n, err := a.LoadPerfMap(f)
	if err != nil {
		return err
	}
	log.Debugf("Loaded %d perf map entries from %s", n, path)
	return nil
}

// parseAddresses parses hexadecimal addresses with an optional 0x prefix.
func parseAddresses(args []string) ([]libpf.Address, error) {
	addrs := make([]libpf.Address, 0, len(args))
	for _, arg := range args {
		v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(arg), "0x"), 16, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse address %q: %v", arg, err)
		}
		addrs = append(addrs, libpf.Address(v))
	}
	return addrs, nil
}
