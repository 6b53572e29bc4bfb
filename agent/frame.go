// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package agent // import "go.opentelemetry.io/jvm-stackwalker/agent"

import (
	"encoding/binary"
	"regexp"
	"strings"

	"github.com/zeebo/xxh3"

	"go.opentelemetry.io/jvm-stackwalker/libpf"
	"go.opentelemetry.io/jvm-stackwalker/stackwalker"
)

// FrameKind is the attribution kind of a frame.
type FrameKind uint8

const (
	// KindUnknown frames could not be attributed.
	KindUnknown FrameKind = iota
	// KindManaged frames run a Java method.
	KindManaged
	// KindNative frames run code of a native library.
	KindNative
	// KindStub frames run code generated by the JVM that is not a Java
	// method.
	KindStub
)

var frameKindNames = [...]string{
	KindUnknown: "unknown",
	KindManaged: "managed",
	KindNative:  "native",
	KindStub:    "stub",
}

func (k FrameKind) String() string {
	if int(k) < len(frameKindNames) {
		return frameKindNames[k]
	}
	return "invalid"
}

// Frame is an attributed frame.
type Frame struct {
	Kind FrameKind
	PC   libpf.Address
	// Walk is how the stack walker classified the frame. It is unset for
	// frames returned by Symbolize.
	Walk stackwalker.FrameKind

	// Class and Method are set for managed frames. Class uses dots as
	// package separators.
	Class     string
	Method    string
	Signature string

	// Symbol is set for native and stub frames, Library for native frames.
	Symbol  string
	Library string
}

// hiddenClassRegex matches the address suffix of hidden and lambda classes.
var hiddenClassRegex = regexp.MustCompile(`/0x[0-9a-f]{8,16}$`)

const hiddenClassMask = "/0x0"

// javaClassName converts an internal class name to its source form. The
// address suffix of hidden classes is masked so that their frames aggregate.
func javaClassName(klass string) string {
	suffix := ""
	if loc := hiddenClassRegex.FindStringIndex(klass); loc != nil {
		klass, suffix = klass[:loc[0]], hiddenClassMask
	}
	return strings.ReplaceAll(klass, "/", ".") + suffix
}

func (f Frame) String() string {
	switch f.Kind {
	case KindManaged:
		if f.Class == "" {
			return f.Method
		}
		return f.Class + "." + f.Method
	case KindNative:
		return f.Library + "!" + f.Symbol
	case KindStub:
		return "[" + f.Symbol + "]"
	default:
		return "unknown"
	}
}

// ID returns a hash identifying what the frame runs, independent of the
// exact pc. Equal frames of different samples have equal IDs.
func (f Frame) ID() uint64 {
	buf := make([]byte, 0, 1+len(f.Class)+len(f.Method)+len(f.Signature)+
		len(f.Symbol)+len(f.Library)+20)
	buf = append(buf, byte(f.Kind))
	for _, s := range [...]string{f.Class, f.Method, f.Signature, f.Symbol, f.Library} {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s)))
		buf = append(buf, s...)
	}
	return xxh3.Hash(buf)
}
