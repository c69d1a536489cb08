// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports build information for fusexauth binaries.
//
// [GitCommit], [BuildTime], and [Version] may be injected with
// -ldflags -X. When GitCommit is not injected, the VCS revision that
// the go tool stamps into the binary is used instead.
package version
