// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package auth resolves which credentials a FUSE request should be
// forwarded with.
//
// Every filesystem request arrives with a caller (pid, uid, gid). The
// [ProcessCache] maps that caller to a [ProcessSnapshot]: the process's
// identity ([ProcessInfo], guarded against pid reuse by start time)
// plus a [BoundIdentity], which pairs a connection [LoginIdentifier]
// with [TrustedCredentials] ready to be rendered as client connection
// parameters.
//
// Discovery reads the environment of the process (or its parent, when
// the process has forked but not exec'd) through the
// [EnvironmentReader], a small worker pool whose callers only ever wait
// with a deadline: reading /proc/<pid>/environ can block indefinitely
// while that process is inside execve. Candidate credentials found in
// the environment (KRB5CCNAME, X509_USER_PROXY, BEARER_TOKEN_FILE,
// OAUTH2_TOKEN, XrdSecsssENDORSEMENT) are checked by the
// [CredentialValidator]: credential files must be owned by the caller
// and unreadable by anyone else ([SecurityChecker]), keyrings must
// belong to the caller, and Kerberos caches must hold a current ticket.
// If nothing validates, the global eosfusebind binding and well-known
// default paths are tried, then unix authentication, which always
// succeeds.
//
// Validated credentials are cached per [UserCredentials] by the
// [BoundIdentityProvider], so processes sharing a credential share one
// connection. Both caches are [shardcache.Cache] instances with idle
// expiry; a cached snapshot pins its identity, so a credential that any
// live process snapshot refers to is never swept.
//
// [AuthenticationGroup] builds the whole stack from a [config.Config].
package auth
