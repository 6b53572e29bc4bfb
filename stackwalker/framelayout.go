// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package stackwalker // import "go.opentelemetry.io/jvm-stackwalker/stackwalker"

// FrameLayout holds the word offsets, relative to the frame pointer, of the
// HotSpot frame slots used while stepping.
type FrameLayout struct {
	// EntryCallWrapper is the slot holding the JavaCallWrapper* of an entry
	// frame.
	EntryCallWrapper int
	// InterpreterSenderSP is the slot holding the caller's unextended sp.
	InterpreterSenderSP int
	// InterpreterMethod is the slot holding the Method* being interpreted.
	InterpreterMethod int
	// Link is the saved caller frame pointer.
	Link int
	// ReturnAddress is the saved caller pc.
	ReturnAddress int
	// SenderSP is the caller stack pointer of a frame pointer chained frame.
	SenderSP int
}

var (
	// AMD64 is the x86-64 frame layout.
	AMD64 = FrameLayout{
		EntryCallWrapper:    -6,
		InterpreterSenderSP: -1,
		InterpreterMethod:   -3,
		Link:                0,
		ReturnAddress:       1,
		SenderSP:            2,
	}

	// ARM64 is the aarch64 frame layout.
	ARM64 = FrameLayout{
		EntryCallWrapper:    -8,
		InterpreterSenderSP: -1,
		InterpreterMethod:   -3,
		Link:                0,
		ReturnAddress:       1,
		SenderSP:            2,
	}
)

// ForArch returns the frame layout of a GOARCH name.
func ForArch(goarch string) (FrameLayout, bool) {
	switch goarch {
	case "amd64":
		return AMD64, true
	case "arm64":
		return ARM64, true
	default:
		return FrameLayout{}, false
	}
}
