// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"slices"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// TrustedCredentials is a UserCredentials claim that passed
// validation. It is initialized exactly once; afterwards only the
// invalidation flag changes, and that flag is safe to set from any
// goroutine.
type TrustedCredentials struct {
	initialized bool
	creds       UserCredentials
	mtime       time.Time
	copyPath    string

	invalidated atomic.Bool
}

// Initialize records a validated claim. mtime is the credential file's
// modification time (zero for types without a file). copyPath, when
// non-empty, is a credential-store copy used in place of the claimed
// path. Initialize panics if called twice.
func (t *TrustedCredentials) Initialize(creds UserCredentials, mtime time.Time, copyPath string) {
	if t.initialized {
		panic("auth: TrustedCredentials initialized twice")
	}
	t.initialized = true
	t.creds = creds
	t.mtime = mtime
	t.copyPath = copyPath
}

// Initialized reports whether Initialize has run.
func (t *TrustedCredentials) Initialized() bool {
	return t.initialized
}

// Valid reports whether the credentials are initialized and not
// invalidated.
func (t *TrustedCredentials) Valid() bool {
	return t.initialized && !t.invalidated.Load()
}

// Invalidate marks the credentials unusable.
func (t *TrustedCredentials) Invalidate() {
	t.invalidated.Store(true)
}

// UserCredentials returns the validated claim.
func (t *TrustedCredentials) UserCredentials() UserCredentials {
	return t.creds
}

// MTime returns the credential file mtime recorded at validation.
func (t *TrustedCredentials) MTime() time.Time {
	return t.mtime
}

// CopyPath returns the credential-store copy, or "".
func (t *TrustedCredentials) CopyPath() string {
	return t.copyPath
}

// ToXrdParams renders the connection parameters the client library
// authenticates with, as key=value pairs sorted by key and joined by
// '&'. Values are not escaped: ccache names and paths are passed
// through verbatim.
func (t *TrustedCredentials) ToXrdParams() string {
	if !t.initialized {
		return "xrd.wantprot=unix"
	}

	params := make(map[string]string)
	switch t.creds.Type {
	case CredentialKrb5:
		params["xrd.k5ccname"] = t.effectivePath()
		params["xrd.wantprot"] = "krb5,unix"
	case CredentialKrk5:
		params["xrd.k5ccname"] = t.creds.Keyring
		params["xrd.wantprot"] = "krb5,unix"
	case CredentialKcm:
		params["xrd.k5ccname"] = t.creds.Kcm
		params["xrd.wantprot"] = "krb5,unix"
	case CredentialX509:
		params["xrd.gsiusrpxy"] = t.effectivePath()
		params["xrd.wantprot"] = "gsi,unix"
	case CredentialZTN:
		params["xrd.ztn"] = t.effectivePath()
		params["xrd.wantprot"] = "ztn,unix"
	case CredentialSSS, CredentialOAuth2:
		params["xrd.wantprot"] = "sss,unix"
	default:
		return "xrd.wantprot=unix"
	}
	params["xrd.secuid"] = strconv.FormatUint(uint64(t.creds.UID), 10)
	params["xrd.secgid"] = strconv.FormatUint(uint64(t.creds.GID), 10)

	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	var builder strings.Builder
	for i, key := range keys {
		if i > 0 {
			builder.WriteByte('&')
		}
		builder.WriteString(key)
		builder.WriteByte('=')
		builder.WriteString(params[key])
	}
	return builder.String()
}

func (t *TrustedCredentials) effectivePath() string {
	if t.copyPath != "" {
		return t.copyPath
	}
	return t.creds.Fname
}
