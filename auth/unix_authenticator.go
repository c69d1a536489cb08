// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"sync"

	"github.com/bureau-foundation/fusexauth/lib/clock"
	"github.com/bureau-foundation/fusexauth/lib/shardcache"
)

type uidGID struct {
	uid, gid uint32
}

// UnixAuthenticator produces identities that authenticate by uid and
// gid alone. It never fails.
type UnixAuthenticator struct {
	clock clock.Clock

	mu       sync.Mutex
	counters map[uidGID]uint64
}

// NewUnixAuthenticator returns an authenticator stamping identities
// with clk (real time when nil).
func NewUnixAuthenticator(clk clock.Clock) *UnixAuthenticator {
	if clk == nil {
		clk = clock.Real()
	}
	return &UnixAuthenticator{clock: clk, counters: make(map[uidGID]uint64)}
}

// CreateIdentity returns the unix identity for (uid, gid). The login
// changes only when reconnect is set, so repeated calls keep reusing
// one connection. The credentials are left uninitialized: they render
// as plain unix auth and never count as valid, so a cached snapshot
// holding one is rediscovered on every access, in case the process
// has since acquired real credentials.
func (u *UnixAuthenticator) CreateIdentity(pid int, uid, gid uint32, reconnect bool, scope *LogbookScope) *shardcache.Handle[*BoundIdentity] {
	u.mu.Lock()
	key := uidGID{uid: uid, gid: gid}
	if reconnect {
		u.counters[key]++
	}
	connection := u.counters[key]
	u.mu.Unlock()

	login := NewUnixLoginIdentifier(uid, gid, pid, connection)
	scope.Insert("unix authentication as uid=%d gid=%d, login %s", uid, gid, login)
	return shardcache.Detached(NewBoundIdentity(login, nil, u.clock.Now()))
}
