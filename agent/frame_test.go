// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJavaClassName(t *testing.T) {
	tests := map[string]struct {
		klass    string
		expected string
	}{
		"plain":        {klass: "java/lang/String", expected: "java.lang.String"},
		"nested":       {klass: "com/example/Outer$Inner", expected: "com.example.Outer$Inner"},
		"hidden class": {klass: "com/example/Foo$$Lambda/0x0000000801234567", expected: "com.example.Foo$$Lambda/0x0"},
		"short suffix": {klass: "com/example/Foo/0x12", expected: "com.example.Foo.0x12"},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.expected, javaClassName(tc.klass))
		})
	}
}

func TestFrameID(t *testing.T) {
	a := Frame{Kind: KindManaged, PC: 0x1000, Class: "com.example.Foo", Method: "bar"}
	b := Frame{Kind: KindManaged, PC: 0x2000, Class: "com.example.Foo", Method: "bar"}
	assert.Equal(t, a.ID(), b.ID())

	c := Frame{Kind: KindStub, Symbol: "com.example.Foo.bar"}
	assert.NotEqual(t, a.ID(), c.ID())

	// Field boundaries are part of the hash.
	d := Frame{Kind: KindManaged, Class: "com.example.Foob", Method: "ar"}
	assert.NotEqual(t, a.ID(), d.ID())
}

func TestFrameString(t *testing.T) {
	tests := map[string]struct {
		frame    Frame
		expected string
	}{
		"managed":       {Frame{Kind: KindManaged, Class: "a.B", Method: "c"}, "a.B.c"},
		"managed class": {Frame{Kind: KindManaged, Method: "c"}, "c"},
		"native":        {Frame{Kind: KindNative, Library: "libc.so.6", Symbol: "read"}, "libc.so.6!read"},
		"stub":          {Frame{Kind: KindStub, Symbol: "Interpreter"}, "[Interpreter]"},
		"unknown":       {Frame{}, "unknown"},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.frame.String())
		})
	}
	assert.Equal(t, "stub", KindStub.String())
	assert.Equal(t, "invalid", FrameKind(9).String())
}

func TestFrameStringer(t *testing.T) {
	var s fmt.Stringer = Frame{Kind: KindStub, Symbol: "call_stub"}
	assert.Equal(t, "[call_stub]", s.String())
	assert.Equal(t, "[call_stub]", fmt.Sprint(Frame{Kind: KindStub, Symbol: "call_stub"}))

	// Attribution results are usable without taking their address.
	newFrame := func() Frame { return Frame{Kind: KindManaged, Class: "a.B", Method: "c"} }
	assert.Equal(t, "a.B.c", newFrame().String())
	assert.Equal(t, newFrame().ID(), newFrame().ID())
}

func TestPerfMapFrame(t *testing.T) {
	f := perfMapFrame("Ljava/util/HashMap;::get")
	assert.Equal(t, KindManaged, f.Kind)
	assert.Equal(t, "java.util.HashMap", f.Class)
	assert.Equal(t, "get", f.Method)

	f = perfMapFrame("Interpreter")
	assert.Equal(t, KindStub, f.Kind)
	assert.Equal(t, "Interpreter", f.Symbol)
}
