// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package shardcache

import "sync/atomic"

// entry is the shared cell behind a map slot and its handles.
type entry[V any] struct {
	value V

	// holders counts the map slot (while present) plus every
	// unreleased Handle.
	holders atomic.Int64

	// marked is guarded by the owning shard's mutex.
	marked bool

	finalize func(V)
}

func newEntry[V any](value V, finalize func(V)) *entry[V] {
	created := &entry[V]{value: value, finalize: finalize}
	created.holders.Store(1)
	return created
}

// drop releases one holder and finalizes on the last one.
func (e *entry[V]) drop() {
	if e.holders.Add(-1) == 0 && e.finalize != nil {
		e.finalize(e.value)
	}
}

// Handle is one holder's reference to a cached value. Handles are not
// copied; pass the pointer. Release is idempotent and a nil Handle is
// safe to Release.
type Handle[V any] struct {
	entry    *entry[V]
	released atomic.Bool
}

func acquire[V any](held *entry[V]) *Handle[V] {
	held.holders.Add(1)
	return &Handle[V]{entry: held}
}

// Detached wraps a value that no cache owns. Releasing it does nothing
// beyond marking the handle released.
func Detached[V any](value V) *Handle[V] {
	return &Handle[V]{entry: newEntry(value, nil)}
}

// Value returns the held value. It stays valid after Release and after
// eviction; only the cache's bookkeeping changes.
func (h *Handle[V]) Value() V {
	return h.entry.value
}

// Release gives up this holder's reference.
func (h *Handle[V]) Release() {
	if h == nil {
		return
	}
	if h.released.CompareAndSwap(false, true) {
		h.entry.drop()
	}
}

// Holders reports the current holder count of the underlying entry,
// map slot included. Intended for instrumentation.
func (h *Handle[V]) Holders() int64 {
	return h.entry.holders.Load()
}
