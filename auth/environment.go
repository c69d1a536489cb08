// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"bytes"
	"slices"
	"strings"
)

// Environment is a process environment as a list of KEY=VALUE entries
// in their original order. Entries without '=' are kept as opaque
// tokens that no key matches.
type Environment struct {
	entries []string
}

// ParseEnvironment splits the NUL-separated contents of
// /proc/<pid>/environ. Empty records are dropped.
func ParseEnvironment(data []byte) Environment {
	var env Environment
	for _, record := range bytes.Split(data, []byte{0}) {
		if len(record) > 0 {
			env.entries = append(env.entries, string(record))
		}
	}
	return env
}

// NewEnvironment builds an Environment from entries.
func NewEnvironment(entries ...string) Environment {
	return Environment{entries: slices.Clone(entries)}
}

// Push appends an entry.
func (e *Environment) Push(entry string) {
	e.entries = append(e.entries, entry)
}

// Get returns the value of the first entry for key, or "" if none.
func (e Environment) Get(key string) string {
	value, _ := e.Lookup(key)
	return value
}

// Lookup returns the value of the first entry for key and whether one
// exists.
func (e Environment) Lookup(key string) (string, bool) {
	prefix := key + "="
	for _, entry := range e.entries {
		if value, found := strings.CutPrefix(entry, prefix); found {
			return value, true
		}
	}
	return "", false
}

// Entries returns a copy of the entries.
func (e Environment) Entries() []string {
	return slices.Clone(e.entries)
}

// Len returns the number of entries.
func (e Environment) Len() int {
	return len(e.entries)
}

// Equal reports whether both environments hold the same entries in
// the same order.
func (e Environment) Equal(other Environment) bool {
	return slices.Equal(e.entries, other.entries)
}
