// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"fmt"
	"time"
)

// BoundIdentity pairs a connection login with the credentials it
// authenticates with. It is immutable apart from the credentials'
// invalidation flag.
type BoundIdentity struct {
	login   LoginIdentifier
	creds   *TrustedCredentials
	created time.Time
}

// NewBoundIdentity binds login to creds. A nil creds means
// uninitialized credentials, which render as plain unix auth.
func NewBoundIdentity(login LoginIdentifier, creds *TrustedCredentials, created time.Time) *BoundIdentity {
	if creds == nil {
		creds = &TrustedCredentials{}
	}
	return &BoundIdentity{login: login, creds: creds, created: created}
}

// Login returns the connection login.
func (b *BoundIdentity) Login() LoginIdentifier {
	return b.login
}

// Credentials returns the bound credentials.
func (b *BoundIdentity) Credentials() *TrustedCredentials {
	return b.creds
}

// Created returns when the identity was bound.
func (b *BoundIdentity) Created() time.Time {
	return b.created
}

// Age returns how long ago the identity was bound.
func (b *BoundIdentity) Age(now time.Time) time.Duration {
	return now.Sub(b.created)
}

// XrdCreds returns the connection parameters.
func (b *BoundIdentity) XrdCreds() string {
	return b.creds.ToXrdParams()
}

// SecretKey returns the EOS_FUSE_SECRET the credentials were claimed
// with.
func (b *BoundIdentity) SecretKey() string {
	return b.creds.UserCredentials().SecretKey
}

// Describe renders the identity for logs.
func (b *BoundIdentity) Describe() string {
	if !b.creds.Initialized() {
		return fmt.Sprintf("login %s (unix)", b.login)
	}
	return fmt.Sprintf("login %s (%s)", b.login, b.creds.UserCredentials().Describe())
}
