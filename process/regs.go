// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package process // import "go.opentelemetry.io/jvm-stackwalker/process"

import (
	"encoding/binary"

	"go.opentelemetry.io/jvm-stackwalker/libpf"
)

const (
	// struct user_regs_struct word indexes on x86-64.
	amd64RegsWords = 27
	amd64RBP       = 4
	amd64RIP       = 16
	amd64RSP       = 19

	// struct user_pt_regs word indexes on arm64.
	arm64RegsWords = 34
	arm64FP        = 29
	arm64SP        = 31
	arm64PC        = 32
)

func regWord(prStatus []byte, ndx int) libpf.Address {
	if (ndx+1)*8 > len(prStatus) {
		return 0
	}
	return libpf.Address(binary.LittleEndian.Uint64(prStatus[ndx*8:]))
}

// decodeAMD64 extracts the registers from an x86-64 NT_PRSTATUS regset.
func decodeAMD64(prStatus []byte) Registers {
	return Registers{
		PC: regWord(prStatus, amd64RIP),
		SP: regWord(prStatus, amd64RSP),
		FP: regWord(prStatus, amd64RBP),
	}
}

// decodeARM64 extracts the registers from an arm64 NT_PRSTATUS regset.
func decodeARM64(prStatus []byte) Registers {
	return Registers{
		PC: regWord(prStatus, arm64PC),
		SP: regWord(prStatus, arm64SP),
		FP: regWord(prStatus, arm64FP),
	}
}
