//go:build linux && amd64

// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package process // import "go.opentelemetry.io/jvm-stackwalker/process"

const regsetWords = amd64RegsWords + 1

var decodeRegisters = decodeAMD64
