// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package shardcache

import (
	"errors"
	"fmt"
	"hash/maphash"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/fusexauth/lib/clock"
)

// ErrShardOutOfRange is returned by [Cache.Shard] for an index at or
// beyond [Cache.Shards].
var ErrShardOutOfRange = errors.New("shardcache: shard index out of range")

const (
	// DefaultShardBits gives 64 shards.
	DefaultShardBits = 6

	// MaxShardBits bounds the shard table at 2^20 slots.
	MaxShardBits = 20
)

// Options configures a Cache.
type Options[K comparable, V any] struct {
	// ShardBits selects 2^ShardBits shards. Zero means
	// DefaultShardBits. Values above MaxShardBits panic.
	ShardBits uint8

	// TTL enables background expiry with this sweep period. Zero
	// disables expiry and the sweeper goroutine.
	TTL time.Duration

	// Hash maps a key to its shard. Nil uses maphash with a per-cache
	// random seed.
	Hash func(K) uint64

	// Finalize runs once per stored value, after the map and every
	// handle have released it. It runs without any shard lock held.
	Finalize func(V)

	// Clock drives the sweeper. Nil means clock.Real().
	Clock clock.Clock

	// Logger receives sweep statistics at debug level. Nil discards.
	Logger *slog.Logger
}

// Cache is a sharded concurrent map with optional idle expiry. The
// zero value is not usable; construct with New and Close when done if
// a TTL was set.
type Cache[K comparable, V any] struct {
	shards   []shard[K, V]
	mask     uint64
	hash     func(K) uint64
	finalize func(V)
	ttl      time.Duration
	clock    clock.Clock
	logger   *slog.Logger

	stop      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once

	// afterSweep is a test hook called at the end of every sweep.
	afterSweep func()
}

type shard[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]*entry[V]
}

// New creates a Cache and, if options.TTL is positive, starts its
// sweeper.
func New[K comparable, V any](options Options[K, V]) *Cache[K, V] {
	return newCache(options, nil)
}

func newCache[K comparable, V any](options Options[K, V], afterSweep func()) *Cache[K, V] {
	bits := options.ShardBits
	if bits == 0 {
		bits = DefaultShardBits
	}
	if bits > MaxShardBits {
		panic(fmt.Sprintf("shardcache: ShardBits %d exceeds %d", bits, MaxShardBits))
	}

	hash := options.Hash
	if hash == nil {
		seed := maphash.MakeSeed()
		hash = func(key K) uint64 { return maphash.Comparable(seed, key) }
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	count := 1 << bits
	cache := &Cache[K, V]{
		shards:     make([]shard[K, V], count),
		mask:       uint64(count - 1),
		hash:       hash,
		finalize:   options.Finalize,
		ttl:        options.TTL,
		clock:      options.Clock,
		logger:     options.Logger,
		stop:       make(chan struct{}),
		stopped:    make(chan struct{}),
		afterSweep: afterSweep,
	}

	if cache.ttl > 0 {
		// The ticker is created before the goroutine starts so a fake
		// clock sees it registered as soon as New returns.
		ticker := cache.clock.NewTicker(cache.ttl)
		go cache.sweepLoop(ticker)
	} else {
		close(cache.stopped)
	}
	return cache
}

func (c *Cache[K, V]) shardFor(key K) *shard[K, V] {
	return &c.shards[c.hash(key)&c.mask]
}

// Retrieve returns a handle to the value stored under key and clears
// the entry's expiry mark. The caller must Release the handle.
func (c *Cache[K, V]) Retrieve(key K) (*Handle[V], bool) {
	target := c.shardFor(key)
	target.mu.Lock()
	defer target.mu.Unlock()

	found, ok := target.entries[key]
	if !ok {
		return nil, false
	}
	found.marked = false
	return acquire(found), true
}

// Contains reports whether key is present without touching its mark.
func (c *Cache[K, V]) Contains(key K) bool {
	target := c.shardFor(key)
	target.mu.Lock()
	defer target.mu.Unlock()
	_, ok := target.entries[key]
	return ok
}

// Store inserts value under key. With replace, any existing entry is
// overwritten and the new value's handle is returned with true.
// Without replace, an existing entry wins: its handle is returned with
// false and value is discarded (Finalize is not called for it, since
// the cache never owned it).
func (c *Cache[K, V]) Store(key K, value V, replace bool) (*Handle[V], bool) {
	target := c.shardFor(key)
	target.mu.Lock()

	existing, present := target.entries[key]
	if present && !replace {
		handle := acquire(existing)
		target.mu.Unlock()
		return handle, false
	}

	fresh := newEntry(value, c.finalize)
	handle := acquire(fresh)
	if target.entries == nil {
		target.entries = make(map[K]*entry[V])
	}
	target.entries[key] = fresh
	target.mu.Unlock()

	if present {
		existing.drop()
	}
	return handle, true
}

// Invalidate removes key. It reports true whether or not the key was
// present; callers propagate it as a success signal.
func (c *Cache[K, V]) Invalidate(key K) bool {
	target := c.shardFor(key)
	target.mu.Lock()
	removed, present := target.entries[key]
	delete(target.entries, key)
	target.mu.Unlock()

	if present {
		removed.drop()
	}
	return true
}

// Clear empties every shard, one at a time.
func (c *Cache[K, V]) Clear() {
	for i := range c.shards {
		target := &c.shards[i]
		target.mu.Lock()
		removed := target.entries
		target.entries = nil
		target.mu.Unlock()

		for _, held := range removed {
			held.drop()
		}
	}
}

// Shard returns a copy of the contents of shard index.
func (c *Cache[K, V]) Shard(index int) (map[K]V, error) {
	if index < 0 || index >= len(c.shards) {
		return nil, fmt.Errorf("%w: %d not in [0, %d)", ErrShardOutOfRange, index, len(c.shards))
	}

	target := &c.shards[index]
	target.mu.Lock()
	defer target.mu.Unlock()

	snapshot := make(map[K]V, len(target.entries))
	for key, held := range target.entries {
		snapshot[key] = held.value
	}
	return snapshot, nil
}

// Entries returns the number of stored entries across all shards.
func (c *Cache[K, V]) Entries() int {
	total := 0
	for i := range c.shards {
		target := &c.shards[i]
		target.mu.Lock()
		total += len(target.entries)
		target.mu.Unlock()
	}
	return total
}

// Shards returns the shard count.
func (c *Cache[K, V]) Shards() int {
	return len(c.shards)
}

// Sweep runs one mark-and-sweep pass over every shard and returns how
// many entries it evicted. The background sweeper calls it once per
// TTL; callers may also invoke it directly.
func (c *Cache[K, V]) Sweep() int {
	evicted, marked := 0, 0
	for i := range c.shards {
		target := &c.shards[i]
		var removed []*entry[V]

		target.mu.Lock()
		for key, held := range target.entries {
			switch {
			case held.marked:
				delete(target.entries, key)
				removed = append(removed, held)
			case held.holders.Load() == 1:
				held.marked = true
				marked++
			}
		}
		target.mu.Unlock()

		for _, held := range removed {
			held.drop()
		}
		evicted += len(removed)
	}

	if evicted > 0 || marked > 0 {
		c.logger.Debug("cache sweep", "evicted", evicted, "marked", marked)
	}
	if c.afterSweep != nil {
		c.afterSweep()
	}
	return evicted
}

func (c *Cache[K, V]) sweepLoop(ticker *clock.Ticker) {
	defer close(c.stopped)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}

// Close stops the sweeper and waits for it to exit. Stored entries are
// kept. Safe to call more than once.
func (c *Cache[K, V]) Close() {
	c.closeOnce.Do(func() { close(c.stop) })
	<-c.stopped
}
