// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package stackwalker // import "go.opentelemetry.io/jvm-stackwalker/stackwalker"

// Host is the frame layout of the machine running the walker.
var Host = AMD64
