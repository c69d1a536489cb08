// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package krb5ccache decides whether a Kerberos credential cache still
// holds a usable ticket, applying the same rule as `klist -s`:
//
//   - if the cache holds a TGT for its default principal's realm
//     (krbtgt/REALM@REALM), it is usable iff at least one such TGT is
//     unexpired
//   - otherwise it is usable iff any non-configuration credential is
//     unexpired
//
// FILE: caches (and bare paths) are parsed with
// github.com/jcmturner/gokrb5/v8/credentials. KEYRING: caches are read
// key by key with keyctl(2) and reassembled into a version 4 ccache
// stream before parsing, since the kernel stores each credential in
// the ccache wire encoding. KCM: caches are accepted by name when they
// name the checked uid (KCM:, KCM:<uid>, KCM:<uid>:<subsidiary>); the
// daemon itself refuses other users. DIR:, MEMORY: and API: caches are
// reported as [ErrUnsupported].
//
// Keyring permission checks use the caller's fsuid, so callers that
// check on behalf of another user switch fsuid around [Checker.Check].
// Linux only.
package krb5ccache
