// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds the entrypoint error handler for fusexauth
// binaries: the one place that writes to stderr before a structured
// logger exists.
package process
