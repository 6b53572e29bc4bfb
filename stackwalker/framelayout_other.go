// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !amd64 && !arm64

package stackwalker // import "go.opentelemetry.io/jvm-stackwalker/stackwalker"

// Host defaults to the x86-64 layout on architectures HotSpot frames are not
// described for.
var Host = AMD64
