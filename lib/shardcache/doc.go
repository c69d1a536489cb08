// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package shardcache is a concurrent map split into independently
// locked shards, with optional mark-and-sweep expiry of idle entries.
//
// A key lives in shard hash(key) & (shards-1). Every operation takes
// only that shard's mutex, for the whole operation, so traffic on
// different shards never contends. Nothing blocking runs under a shard
// lock.
//
// # Shared ownership
//
// Values are shared between the map and callers through [Handle]s.
// [Cache.Retrieve] and [Cache.Store] hand out a Handle that counts as
// one holder of the entry until [Handle.Release]. The map itself is one
// more holder. When the last holder lets go, the optional Finalize
// callback runs, which is how a value releases whatever it pins in
// turn. A Handle keeps its value readable after the map has evicted or
// replaced the entry.
//
// # Expiry
//
// With a TTL, a background goroutine sweeps every TTL. An entry the
// previous sweep marked is evicted. An entry held only by the map is
// marked. An entry with outstanding handles is left unmarked and is
// never evicted while those handles live. Retrieve clears the mark, so
// an idle entry leaves the map between one and two TTLs after its last
// use. Without a TTL no goroutine runs and nothing expires.
package shardcache
