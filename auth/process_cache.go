// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/bureau-foundation/fusexauth/lib/clock"
	"github.com/bureau-foundation/fusexauth/lib/config"
	"github.com/bureau-foundation/fusexauth/lib/shardcache"
)

// ErrNoCaller is returned by RetrieveCaller for a context that carries
// no FUSE caller.
var ErrNoCaller = errors.New("auth: context carries no fuse caller")

// processCacheShardBits gives the process cache 2^16 shards.
const processCacheShardBits = 16

type processKey struct {
	pid      int
	uid, gid uint32
}

// ProcessSnapshot binds one process, as seen by one (uid, gid), to the
// identity its requests are forwarded with. A snapshot holds its
// identity's credential-cache entry until the snapshot itself is
// dropped from the process cache and released by every caller.
type ProcessSnapshot struct {
	info     *ProcessInfo
	jail     JailInformation
	identity *shardcache.Handle[*BoundIdentity]
}

// Info returns the process as it was when the snapshot was taken.
func (s *ProcessSnapshot) Info() *ProcessInfo {
	return s.info
}

// Jail returns the jail the process was resolved in.
func (s *ProcessSnapshot) Jail() JailInformation {
	return s.jail
}

// Identity returns the bound identity.
func (s *ProcessSnapshot) Identity() *BoundIdentity {
	return s.identity.Value()
}

// Login returns the connection login.
func (s *ProcessSnapshot) Login() LoginIdentifier {
	return s.Identity().Login()
}

// XrdCreds returns the connection parameters.
func (s *ProcessSnapshot) XrdCreds() string {
	return s.Identity().XrdCreds()
}

// Request is one identity lookup.
type Request struct {
	PID      int
	UID, GID uint32

	// Reconnect forces a fresh login, discarding cached state.
	Reconnect bool

	// ExecveAlarm is set while the caller itself is emulating an
	// execve of PID, so the process's own environment is about to be
	// replaced: the parent's is consulted instead.
	ExecveAlarm bool

	// Logbook, if active, records every decision.
	Logbook *Logbook
}

type execveAlarmKey struct{}

// WithExecveAlarm marks ctx as running inside an execve of the calling
// process. RetrieveCaller honors the mark.
func WithExecveAlarm(ctx context.Context) context.Context {
	return context.WithValue(ctx, execveAlarmKey{}, true)
}

// ExecveAlarmFrom reports whether ctx was marked by WithExecveAlarm.
func ExecveAlarmFrom(ctx context.Context) bool {
	alarm, _ := ctx.Value(execveAlarmKey{}).(bool)
	return alarm
}

// ProcessCacheOptions configures a ProcessCache. Every field but
// Clock and Logger is required.
type ProcessCacheOptions struct {
	Config    *config.Config
	Provider  *BoundIdentityProvider
	Unix      *UnixAuthenticator
	Processes *ProcessInfoProvider
	Jails     *JailResolver
	Clock     clock.Clock
	Logger    *slog.Logger
}

// ProcessCache maps (pid, uid, gid) to a ProcessSnapshot, discovering
// the identity on first use and whenever the cached one stops being
// trustworthy: the pid was recycled, or the credentials changed.
type ProcessCache struct {
	config    *config.Config
	provider  *BoundIdentityProvider
	unix      *UnixAuthenticator
	processes *ProcessInfoProvider
	jails     *JailResolver
	logger    *slog.Logger

	cache *shardcache.Cache[processKey, *ProcessSnapshot]
}

// NewProcessCache returns a cache whose snapshots expire after the
// configured process TTL of inactivity. Close stops the sweeper.
func NewProcessCache(options ProcessCacheOptions) *ProcessCache {
	if options.Config == nil || options.Provider == nil || options.Unix == nil ||
		options.Processes == nil || options.Jails == nil {
		panic("auth: NewProcessCache missing a required component")
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &ProcessCache{
		config:    options.Config,
		provider:  options.Provider,
		unix:      options.Unix,
		processes: options.Processes,
		jails:     options.Jails,
		logger:    options.Logger,
		cache: shardcache.New(shardcache.Options[processKey, *ProcessSnapshot]{
			ShardBits: processCacheShardBits,
			TTL:       options.Config.ProcessTTL(),
			Clock:     options.Clock,
			Logger:    options.Logger.With("cache", "processes"),
			Finalize: func(snapshot *ProcessSnapshot) {
				snapshot.identity.Release()
			},
		}),
	}
}

// Close stops the process cache sweeper.
func (c *ProcessCache) Close() {
	c.cache.Close()
}

// Entries returns the number of cached snapshots.
func (c *ProcessCache) Entries() int {
	return c.cache.Entries()
}

// Retrieve is RetrieveRequest without an execve alarm or logbook.
func (c *ProcessCache) Retrieve(pid int, uid, gid uint32, reconnect bool) (*shardcache.Handle[*ProcessSnapshot], error) {
	return c.RetrieveRequest(Request{PID: pid, UID: uid, GID: gid, Reconnect: reconnect})
}

// RetrieveCaller looks up the caller of the FUSE request carried by
// ctx.
func (c *ProcessCache) RetrieveCaller(ctx context.Context, reconnect bool) (*shardcache.Handle[*ProcessSnapshot], error) {
	caller, ok := fuse.FromContext(ctx)
	if !ok {
		return nil, ErrNoCaller
	}
	return c.RetrieveRequest(Request{
		PID:         int(caller.Pid),
		UID:         caller.Uid,
		GID:         caller.Gid,
		Reconnect:   reconnect,
		ExecveAlarm: ExecveAlarmFrom(ctx),
	})
}

// RetrieveRequest returns the snapshot for the request, or
// ErrProcessNotFound when the process has to be inspected and cannot
// be. The handle must be released.
//
// A cached snapshot is served when the process it describes is gone:
// release events arrive after the process exits. Two concurrent
// discoveries for one key both succeed; the later store wins.
func (c *ProcessCache) RetrieveRequest(request Request) (*shardcache.Handle[*ProcessSnapshot], error) {
	scope := request.Logbook.Scope("pid %d uid %d gid %d", request.PID, request.UID, request.GID)
	jail := c.jails.ResolveOrReturnMyJail(request.PID)
	key := processKey{pid: request.PID, uid: request.UID, gid: request.GID}

	if cached, found := c.cache.Retrieve(key); found {
		if !request.Reconnect {
			current, err := c.processes.RetrieveBasic(request.PID)
			if err != nil {
				scope.Insert("process is gone, serving cached snapshot")
				return cached, nil
			}
			snapshot := cached.Value()
			if snapshot.info.IsSameProcess(current) && c.provider.CheckValidity(jail, snapshot.Identity()) {
				scope.Insert("cache hit: %s", snapshot.Identity().Describe())
				return cached, nil
			}
			scope.Insert("cached snapshot is stale")
		}
		cached.Release()
	}

	info, err := c.processes.RetrieveFull(request.PID)
	if err != nil {
		scope.Insert("cannot inspect process: %v", err)
		return nil, err
	}

	identity := c.discoverBoundIdentity(jail, info, request, scope)
	snapshot := &ProcessSnapshot{info: info, jail: jail, identity: identity}
	handle, _ := c.cache.Store(key, snapshot, true)
	return handle, nil
}

func (c *ProcessCache) discoverBoundIdentity(jail JailInformation, info *ProcessInfo, request Request, scope *LogbookScope) *shardcache.Handle[*BoundIdentity] {
	uid, gid, reconnect := request.UID, request.GID, request.Reconnect
	if !c.config.AnyMechanism() {
		return c.unix.CreateIdentity(info.PID(), uid, gid, reconnect, scope)
	}

	checkParentFirst := request.ExecveAlarm || (c.config.ForknoexecHeuristic && info.ForkedNoExec())
	hasParent := info.PPID() > 1
	parentTried := false

	if checkParentFirst && hasParent {
		parentTried = true
		if identity := c.provider.PidEnvironmentToBoundIdentity(jail, info.PPID(), uid, gid, reconnect, scope); identity != nil {
			return identity
		}
	}
	if !request.ExecveAlarm {
		if identity := c.provider.PidEnvironmentToBoundIdentity(jail, info.PID(), uid, gid, reconnect, scope); identity != nil {
			return identity
		}
	}
	if !parentTried && hasParent {
		if identity := c.provider.PidEnvironmentToBoundIdentity(jail, info.PPID(), uid, gid, reconnect, scope); identity != nil {
			return identity
		}
	}
	if identity := c.provider.GlobalBindingToBoundIdentity(jail, uid, gid, reconnect, scope); identity != nil {
		return identity
	}
	if identity := c.provider.DefaultPathsToBoundIdentity(jail, uid, gid, reconnect, scope); identity != nil {
		return identity
	}
	if c.config.FallbackToNobody {
		if identity := c.provider.UserCredsToBoundIdentity(jail, NobodyCredentials(), reconnect, scope.Scope("nobody")); identity != nil {
			return identity
		}
	}
	return c.unix.CreateIdentity(info.PID(), uid, gid, reconnect, scope)
}
