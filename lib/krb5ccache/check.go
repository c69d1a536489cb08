// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package krb5ccache

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jcmturner/gokrb5/v8/credentials"

	"github.com/bureau-foundation/fusexauth/lib/clock"
)

var (
	// ErrNoCurrentTicket means the cache parsed but holds nothing
	// unexpired that klist would accept.
	ErrNoCurrentTicket = errors.New("krb5ccache: no current ticket")

	// ErrUnsupported is returned for cache types this package cannot
	// read (DIR:, MEMORY:, API:).
	ErrUnsupported = errors.New("krb5ccache: unsupported cache type")

	// ErrMalformed wraps parse failures.
	ErrMalformed = errors.New("krb5ccache: malformed credential cache")
)

// KeyringReader fetches the raw parts of a KEYRING: cache. The default
// reads the kernel keyring; tests substitute canned contents.
type KeyringReader func(name string, uid uint32) (KeyringContents, error)

// Checker applies the klist rule to named caches.
type Checker struct {
	clock   clock.Clock
	keyring KeyringReader
}

// NewChecker returns a Checker reading the real kernel keyring. A nil
// clock uses real time.
func NewChecker(clk clock.Clock) *Checker {
	return NewCheckerWithKeyring(clk, ReadKeyring)
}

// NewCheckerWithKeyring returns a Checker with a custom keyring source.
func NewCheckerWithKeyring(clk clock.Clock, keyring KeyringReader) *Checker {
	if clk == nil {
		clk = clock.Real()
	}
	return &Checker{clock: clk, keyring: keyring}
}

// Check returns nil if the cache called name (a KRB5CCNAME value)
// holds a current ticket. uid is the owner the cache is resolved for;
// it selects the persistent keyring.
func (c *Checker) Check(name string, uid uint32) error {
	kind, residual := splitName(name)
	switch kind {
	case "FILE":
		data, err := os.ReadFile(residual)
		if err != nil {
			return fmt.Errorf("krb5ccache: reading %s: %w", residual, err)
		}
		cache, err := Parse(data)
		if err != nil {
			return err
		}
		return Validate(cache, c.clock.Now())

	case "KEYRING":
		contents, err := c.keyring(name, uid)
		if err != nil {
			return fmt.Errorf("krb5ccache: reading keyring %s: %w", name, err)
		}
		cache, err := Parse(contents.Assemble())
		if err != nil {
			return err
		}
		return Validate(cache, c.clock.Now())

	case "KCM":
		// The KCM daemon serves a cache only to its owning uid, and the
		// check runs under that fsuid, so the name is all there is to
		// validate here.
		if !kcmNameFor(residual, uid) {
			return fmt.Errorf("krb5ccache: %s does not belong to uid %d", name, uid)
		}
		return nil

	default:
		return fmt.Errorf("%w: %s", ErrUnsupported, kind)
	}
}

// kcmNameFor reports whether the residual of a KCM: name is empty,
// <uid>, or <uid>:<anything>.
func kcmNameFor(residual string, uid uint32) bool {
	if residual == "" {
		return true
	}
	owner, _, _ := strings.Cut(residual, ":")
	return owner == strconv.FormatUint(uint64(uid), 10)
}

// splitName separates "TYPE:residual". Names without a recognizable
// type prefix are FILE caches, matching libkrb5.
func splitName(name string) (string, string) {
	kind, residual, found := strings.Cut(name, ":")
	if !found || strings.Contains(kind, "/") {
		return "FILE", name
	}
	return strings.ToUpper(kind), residual
}

// Parse decodes a ccache stream.
func Parse(data []byte) (cache *credentials.CCache, err error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("%w: %d bytes", ErrMalformed, len(data))
	}
	// The gokrb5 parser indexes without bounds checks and panics on
	// truncated input. Capping capacity at the length makes every
	// overrun a panic instead of a read of stale bytes.
	data = data[:len(data):len(data)]
	defer func() {
		if recovered := recover(); recovered != nil {
			cache, err = nil, fmt.Errorf("%w: %v", ErrMalformed, recovered)
		}
	}()

	cache = new(credentials.CCache)
	if err := cache.Unmarshal(data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return cache, nil
}

// Validate applies the klist rule at time now. Every credential is
// scanned. If the cache holds a local TGT, one of them must be current;
// otherwise any current ticket other than a config entry is enough.
func Validate(cache *credentials.CCache, now time.Time) error {
	realm := cache.DefaultPrincipal.Realm
	var foundTGT, foundCurrentTGT, foundCurrentCred bool
	var latestTGT time.Time

	for _, credential := range cache.Credentials {
		switch {
		case isLocalTGT(credential, realm):
			foundTGT = true
			if credential.EndTime.After(now) {
				foundCurrentTGT = true
			}
			if credential.EndTime.After(latestTGT) {
				latestTGT = credential.EndTime
			}
		case !isConfigEntry(credential) && credential.EndTime.After(now):
			foundCurrentCred = true
		}
	}

	if foundTGT {
		if foundCurrentTGT {
			return nil
		}
		return fmt.Errorf("%w: TGT for %s expired at %s", ErrNoCurrentTicket, realm, latestTGT.UTC().Format(time.RFC3339))
	}
	if foundCurrentCred {
		return nil
	}
	return fmt.Errorf("%w: cache holds no current tickets", ErrNoCurrentTicket)
}

// isConfigEntry recognizes MIT in-cache configuration records, which
// are stored as credentials but are not tickets.
func isConfigEntry(credential *credentials.Credential) bool {
	return strings.HasPrefix(credential.Server.Realm, "X-CACHECONF")
}

func isLocalTGT(credential *credentials.Credential, realm string) bool {
	name := credential.Server.PrincipalName.NameString
	return credential.Server.Realm == realm &&
		len(name) == 2 && name[0] == "krbtgt" && name[1] == realm
}
