// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package agent // import "go.opentelemetry.io/jvm-stackwalker/agent"

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/jvm-stackwalker/libpf"
)

// LoadPerfMap reads a perf map as written by the JVM to /tmp/perf-<pid>.map.
// Each line is "<hex start> <hex size> <name>". Malformed lines are skipped.
// It returns the number of entries added.
func (a *Agent) LoadPerfMap(r io.Reader) (int, error) {
	scanner := bufio.NewScanner(r)
	n := 0
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		start, size, name, err := parsePerfMapLine(line)
		if err != nil {
			log.Debugf("Skipping perf map line %d: %v", lineNo, err)
			continue
		}
		a.perfMap.Add(start, size, name)
		n++
	}
	if err := scanner.Err(); err != nil {
		return n, fmt.Errorf("failed to read perf map: %w", err)
	}
	return n, nil
}

func parsePerfMapLine(line string) (libpf.Address, uint32, string, error) {
	fields := strings.SplitN(line, " ", 3)
	if len(fields) != 3 || fields[2] == "" {
		return 0, 0, "", fmt.Errorf("expected 3 fields: %q", line)
	}
	start, err := strconv.ParseUint(strings.TrimPrefix(fields[0], "0x"), 16, 64)
	if err != nil {
		return 0, 0, "", fmt.Errorf("bad start address: %w", err)
	}
	size, err := strconv.ParseUint(strings.TrimPrefix(fields[1], "0x"), 16, 64)
	if err != nil {
		return 0, 0, "", fmt.Errorf("bad size: %w", err)
	}
	if size == 0 || size > math.MaxUint32 {
		return 0, 0, "", fmt.Errorf("size %#x out of range", size)
	}
	return libpf.Address(start), uint32(size), fields[2], nil
}

// perfMapFrame converts a perf map name. Java methods are written as
// "Lcom/example/Foo;::bar" and become managed frames; any other name is a
// stub.
func perfMapFrame(name string) Frame {
	class, method, ok := strings.Cut(name, "::")
	if !ok || !strings.HasPrefix(class, "L") || !strings.HasSuffix(class, ";") {
		return Frame{Kind: KindStub, Symbol: name}
	}
	class = class[1 : len(class)-1]
	return Frame{
		Kind:   KindManaged,
		Class:  javaClassName(class),
		Method: method,
	}
}
