// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"os/user"
	"strconv"
	"sync"
)

// SSSEntity is the identity an SSS or OAuth2 login presents to the
// backend's shared-secret security layer.
type SSSEntity struct {
	Name        string `cbor:"name"`
	Group       string `cbor:"group"`
	Endorsement string `cbor:"endorsement,omitempty"`
}

// SSSRegistry receives the entity of every new SSS or OAuth2 login.
type SSSRegistry interface {
	Register(login string, entity SSSEntity)
}

// MemorySSSRegistry keeps registrations in memory.
type MemorySSSRegistry struct {
	mu       sync.Mutex
	entities map[string]SSSEntity
}

// NewMemorySSSRegistry returns an empty registry.
func NewMemorySSSRegistry() *MemorySSSRegistry {
	return &MemorySSSRegistry{entities: make(map[string]SSSEntity)}
}

// Register records entity under login, replacing any earlier entry.
func (r *MemorySSSRegistry) Register(login string, entity SSSEntity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entities[login] = entity
}

// Lookup returns the entity registered under login.
func (r *MemorySSSRegistry) Lookup(login string) (SSSEntity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entity, ok := r.entities[login]
	return entity, ok
}

// Len returns the number of registrations.
func (r *MemorySSSRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entities)
}

// sssEntityFor names the owner of creds, falling back to nobody and
// nogroup for ids with no passwd or group entry.
func sssEntityFor(creds UserCredentials) SSSEntity {
	entity := SSSEntity{Name: "nobody", Group: "nogroup", Endorsement: creds.Endorsement}
	if account, err := user.LookupId(strconv.FormatUint(uint64(creds.UID), 10)); err == nil {
		entity.Name = account.Username
	}
	if group, err := user.LookupGroupId(strconv.FormatUint(uint64(creds.GID), 10)); err == nil {
		entity.Group = group.Name
	}
	return entity
}
