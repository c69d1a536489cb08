// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret holds credential bytes outside the Go heap.
//
// A [Buffer] is an anonymous mmap region that is mlocked against swap
// and marked MADV_DONTDUMP. Close zeroes and unmaps it; any later
// access panics. The authentication layer uses it for credential cache
// contents copied out of another mount namespace, which live only as
// long as it takes to write them into the credential store.
//
// Constructors:
//
//   - [New] allocates a zero-filled buffer
//   - [NewFromBytes] copies into protected memory and zeroes the source
//   - [NewFromReader] drains a reader up to a size limit
//   - [ReadFile] reads a whole file through NewFromReader
package secret
