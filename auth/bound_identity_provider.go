// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/fusexauth/lib/clock"
	"github.com/bureau-foundation/fusexauth/lib/config"
	"github.com/bureau-foundation/fusexauth/lib/shardcache"
)

// maxIdentityAge bounds how long a cached identity is reused, however
// valid its credentials still look.
const maxIdentityAge = 24 * time.Hour

// credentialCacheShardBits gives the credential cache 2^16 shards.
const credentialCacheShardBits = 16

// Environment variables consulted during discovery.
const (
	envKrb5CCName      = "KRB5CCNAME"
	envX509UserProxy   = "X509_USER_PROXY"
	envOAuth2Token     = "OAUTH2_TOKEN"
	envBearerTokenFile = "BEARER_TOKEN_FILE"
	envXDGRuntimeDir   = "XDG_RUNTIME_DIR"
	envSSSEndorsement  = "XrdSecsssENDORSEMENT"
	envFuseSecret      = "EOS_FUSE_SECRET"
)

// ProviderOptions configures a BoundIdentityProvider.
type ProviderOptions struct {
	// Config selects mechanisms and their order. Required.
	Config *config.Config

	// Validator checks claims. Required.
	Validator *CredentialValidator

	// Environ reads process environments. Required for
	// PidEnvironmentToBoundIdentity.
	Environ *EnvironmentReader

	// SSS receives SSS and OAuth2 logins. Nil drops them.
	SSS SSSRegistry

	// Clock stamps identities and drives cache expiry. Nil means
	// real time.
	Clock clock.Clock

	// Logger receives timeout warnings. Nil discards.
	Logger *slog.Logger
}

// BoundIdentityProvider turns credential claims into bound identities,
// caching one identity per distinct claim. Methods returning a handle
// return nil when no usable identity was found; a non-nil handle must
// be released by the caller.
type BoundIdentityProvider struct {
	config    *config.Config
	validator *CredentialValidator
	environ   *EnvironmentReader
	sss       SSSRegistry
	clock     clock.Clock
	logger    *slog.Logger

	cache      *shardcache.Cache[UserCredentials, *BoundIdentity]
	connection atomic.Uint64
}

// NewBoundIdentityProvider returns a provider whose credential cache
// expires identities idle for the configured credential TTL. Close
// stops the cache sweeper.
func NewBoundIdentityProvider(options ProviderOptions) *BoundIdentityProvider {
	if options.Config == nil || options.Validator == nil {
		panic("auth: NewBoundIdentityProvider requires Config and Validator")
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &BoundIdentityProvider{
		config:    options.Config,
		validator: options.Validator,
		environ:   options.Environ,
		sss:       options.SSS,
		clock:     options.Clock,
		logger:    options.Logger,
		cache: shardcache.New(shardcache.Options[UserCredentials, *BoundIdentity]{
			ShardBits: credentialCacheShardBits,
			TTL:       options.Config.CredentialTTL(),
			Clock:     options.Clock,
			Logger:    options.Logger.With("cache", "credentials"),
		}),
	}
}

// Close stops the credential cache sweeper.
func (p *BoundIdentityProvider) Close() {
	p.cache.Close()
}

// Entries returns the number of cached identities.
func (p *BoundIdentityProvider) Entries() int {
	return p.cache.Entries()
}

// UserCredsToBoundIdentity returns the identity for creds, reusing the
// cached one while it stays valid. reconnect discards any cached
// identity so that a fresh login is issued.
func (p *BoundIdentityProvider) UserCredsToBoundIdentity(jail JailInformation, creds UserCredentials, reconnect bool, scope *LogbookScope) *shardcache.Handle[*BoundIdentity] {
	if cached, found := p.cache.Retrieve(creds); found {
		switch {
		case reconnect:
			cached.Value().Credentials().Invalidate()
			p.cache.Invalidate(creds)
			scope.Insert("reconnect: dropped cached %s", cached.Value().Describe())
			cached.Release()
		case p.validator.CheckValidity(jail, cached.Value().Credentials()):
			scope.Insert("reusing cached %s", cached.Value().Describe())
			return cached
		default:
			scope.Insert("cached %s is no longer valid", cached.Value().Describe())
			cached.Release()
		}
	}

	trusted := &TrustedCredentials{}
	if !p.validator.Validate(jail, creds, trusted, scope) {
		return nil
	}

	login := NewLoginIdentifier(p.connection.Add(1))
	identity := NewBoundIdentity(login, trusted, p.clock.Now())
	p.registerSSS(identity)

	handle, _ := p.cache.Store(creds, identity, true)
	scope.Insert("bound %s", identity.Describe())
	return handle
}

func (p *BoundIdentityProvider) registerSSS(identity *BoundIdentity) {
	creds := identity.Credentials().UserCredentials()
	if creds.Type != CredentialSSS && creds.Type != CredentialOAuth2 {
		return
	}
	if p.sss == nil {
		return
	}
	p.sss.Register(identity.Login().String(), sssEntityFor(creds))
}

// CheckValidity reports whether a cached identity may still be used:
// it has credentials, is younger than a day, and its credentials pass
// CredentialValidator.CheckValidity.
func (p *BoundIdentityProvider) CheckValidity(jail JailInformation, identity *BoundIdentity) bool {
	if identity == nil || identity.Credentials() == nil {
		return false
	}
	if identity.Age(p.clock.Now()) > maxIdentityAge {
		return false
	}
	return p.validator.CheckValidity(jail, identity.Credentials())
}

// strategy tries one credential mechanism against an environment.
type strategy func(jail JailInformation, env Environment, uid, gid uint32, reconnect bool, scope *LogbookScope) *shardcache.Handle[*BoundIdentity]

// EnvironmentToBoundIdentity tries every enabled mechanism against env
// and returns the first identity that validates. When skipSSS is set,
// SSS is tried only if env carries an explicit endorsement.
func (p *BoundIdentityProvider) EnvironmentToBoundIdentity(jail JailInformation, env Environment, uid, gid uint32, reconnect bool, scope *LogbookScope, skipSSS bool) *shardcache.Handle[*BoundIdentity] {
	var order []strategy
	if p.config.TryKrb5First {
		order = append(order, p.krb5EnvToBoundIdentity, p.x509EnvToBoundIdentity)
	} else {
		order = append(order, p.x509EnvToBoundIdentity, p.krb5EnvToBoundIdentity)
	}
	order = append(order, p.ztnEnvToBoundIdentity, p.oauth2EnvToBoundIdentity)

	_, hasEndorsement := env.Lookup(envSSSEndorsement)
	if p.config.UseSSS && (!skipSSS || hasEndorsement) {
		order = append(order, p.sssEnvToBoundIdentity)
	}

	for _, try := range order {
		if handle := try(jail, env, uid, gid, reconnect, scope); handle != nil {
			return handle
		}
	}
	return nil
}

// PidEnvironmentToBoundIdentity reads the environment of pid, waiting
// at most the configured environ deadlock timeout, and discovers
// credentials from it.
func (p *BoundIdentityProvider) PidEnvironmentToBoundIdentity(jail JailInformation, pid int, uid, gid uint32, reconnect bool, scope *LogbookScope) *shardcache.Handle[*BoundIdentity] {
	if p.environ == nil {
		panic("auth: PidEnvironmentToBoundIdentity without an EnvironmentReader")
	}

	timeout := p.config.EnvironTimeout()
	future := p.environ.StageRequest(pid)
	if !future.WaitUntilDeadline(timeout) {
		p.logger.Warn("timeout retrieving environment, process may be in execve",
			"pid", pid, "timeout", timeout, "queued_since", future.QueuedSince())
		scope.Insert("timed out after %v reading environment of pid %d", timeout, pid)
		return nil
	}

	env, _ := future.Get()
	child := scope.Scope("environment of pid %d (%d entries)", pid, env.Len())
	return p.EnvironmentToBoundIdentity(jail, env, uid, gid, reconnect, child, true)
}

// GlobalBindingToBoundIdentity tries the administrator-managed
// bindings uid<uid>.krb5 and uid<uid>.x509 in the global binding
// directory.
func (p *BoundIdentityProvider) GlobalBindingToBoundIdentity(jail JailInformation, uid, gid uint32, reconnect bool, scope *LogbookScope) *shardcache.Handle[*BoundIdentity] {
	if p.config.GlobalBindingDir == "" {
		return nil
	}
	base := filepath.Join(p.config.GlobalBindingDir, fmt.Sprintf("uid%d", uid))
	env := NewEnvironment(
		envKrb5CCName+"=FILE:"+base+".krb5",
		envX509UserProxy+"="+base+".x509",
	)
	child := scope.Scope("global binding in %s", p.config.GlobalBindingDir)
	return p.EnvironmentToBoundIdentity(jail, env, uid, gid, reconnect, child, true)
}

// DefaultPathsToBoundIdentity tries the well-known per-uid default
// locations of each credential type.
func (p *BoundIdentityProvider) DefaultPathsToBoundIdentity(jail JailInformation, uid, gid uint32, reconnect bool, scope *LogbookScope) *shardcache.Handle[*BoundIdentity] {
	env := NewEnvironment(
		envKrb5CCName+"="+p.config.Krb5CcacheFor(uid),
		fmt.Sprintf("%s=/tmp/x509up_u%d", envX509UserProxy, uid),
		fmt.Sprintf("%s=FILE:/tmp/oauthtk_%d", envOAuth2Token, uid),
	)
	child := scope.Scope("default paths")
	return p.EnvironmentToBoundIdentity(jail, env, uid, gid, reconnect, child, false)
}

func (p *BoundIdentityProvider) krb5EnvToBoundIdentity(jail JailInformation, env Environment, uid, gid uint32, reconnect bool, scope *LogbookScope) *shardcache.Handle[*BoundIdentity] {
	if !p.config.UseKrb5 {
		return nil
	}
	name := env.Get(envKrb5CCName)
	key := env.Get(envFuseSecret)

	var creds UserCredentials
	switch {
	case strings.HasPrefix(name, "KEYRING"):
		creds = NewKeyringCredentials(jail.ID, name, uid, gid, key)
	case strings.HasPrefix(name, "KCM"):
		creds = NewKcmCredentials(jail.ID, name, uid, gid, key)
	default:
		path := strings.TrimPrefix(name, "FILE:")
		if path == "" {
			scope.Insert("krb5: no %s", envKrb5CCName)
			return nil
		}
		creds = NewKrb5Credentials(jail.ID, path, uid, gid, key)
	}
	return p.UserCredsToBoundIdentity(jail, creds, reconnect, scope.Scope("krb5: %s", name))
}

func (p *BoundIdentityProvider) x509EnvToBoundIdentity(jail JailInformation, env Environment, uid, gid uint32, reconnect bool, scope *LogbookScope) *shardcache.Handle[*BoundIdentity] {
	if !p.config.UseX509 {
		return nil
	}
	path := env.Get(envX509UserProxy)
	if path == "" {
		scope.Insert("x509: no %s", envX509UserProxy)
		return nil
	}
	creds := NewX509Credentials(jail.ID, path, uid, gid, env.Get(envFuseSecret))
	return p.UserCredsToBoundIdentity(jail, creds, reconnect, scope.Scope("x509: %s", path))
}

func (p *BoundIdentityProvider) ztnEnvToBoundIdentity(jail JailInformation, env Environment, uid, gid uint32, reconnect bool, scope *LogbookScope) *shardcache.Handle[*BoundIdentity] {
	if !p.config.UseZTN {
		return nil
	}
	path := env.Get(envBearerTokenFile)
	if path == "" {
		if runtimeDir := env.Get(envXDGRuntimeDir); runtimeDir != "" {
			path = filepath.Join(runtimeDir, fmt.Sprintf("bt_u%d", uid))
		}
	}
	if path == "" {
		scope.Insert("ztn: no %s or %s", envBearerTokenFile, envXDGRuntimeDir)
		return nil
	}
	creds := NewZTNCredentials(jail.ID, path, uid, gid, env.Get(envFuseSecret))
	return p.UserCredsToBoundIdentity(jail, creds, reconnect, scope.Scope("ztn: %s", path))
}

func (p *BoundIdentityProvider) oauth2EnvToBoundIdentity(jail JailInformation, env Environment, uid, gid uint32, reconnect bool, scope *LogbookScope) *shardcache.Handle[*BoundIdentity] {
	if !p.config.UseOAuth2 {
		return nil
	}
	path := strings.TrimPrefix(env.Get(envOAuth2Token), "FILE:")
	if path == "" {
		scope.Insert("oauth2: no %s", envOAuth2Token)
		return nil
	}
	creds := NewOAuth2Credentials(jail.ID, path, uid, gid, env.Get(envFuseSecret))
	return p.UserCredsToBoundIdentity(jail, creds, reconnect, scope.Scope("oauth2: %s", path))
}

func (p *BoundIdentityProvider) sssEnvToBoundIdentity(jail JailInformation, env Environment, uid, gid uint32, reconnect bool, scope *LogbookScope) *shardcache.Handle[*BoundIdentity] {
	creds := NewSSSCredentials(env.Get(envSSSEndorsement), uid, gid, env.Get(envFuseSecret))
	return p.UserCredsToBoundIdentity(jail, creds, reconnect, scope.Scope("sss"))
}
