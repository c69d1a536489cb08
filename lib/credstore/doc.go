// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package credstore is a content-addressed directory of credential
// copies.
//
// When a process's credential file is only reachable through another
// mount namespace, its bytes are read out and written here, and the
// copy's path is what the client library is given. Each copy is named
// by a BLAKE3 keyed hash of its contents, so identical credentials
// share one file and a changed credential gets a new path (which in
// turn invalidates anything keyed by the old one).
//
// Files are mode 0400 inside a 0700 directory and are written through
// a temporary file and rename, so a reader never sees a partial copy.
// [Open] deletes copies left by a previous run.
package credstore
