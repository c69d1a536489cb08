// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/bureau-foundation/fusexauth/lib/clock"
	"github.com/bureau-foundation/fusexauth/lib/config"
	"github.com/bureau-foundation/fusexauth/lib/credstore"
)

// GroupOptions configures an AuthenticationGroup.
type GroupOptions struct {
	// Config is the validated configuration. Required.
	Config *config.Config

	// Clock drives every cache, deadline and identity timestamp.
	// Nil means real time.
	Clock clock.Clock

	// Logger is shared by every component. Nil discards.
	Logger *slog.Logger

	// Tickets and RunAs override the Kerberos ticket check and the
	// fsuid switch, mainly for tests.
	Tickets TicketChecker
	RunAs   RunAsFunc

	// SSS receives SSS and OAuth2 logins. Nil uses a
	// MemorySSSRegistry.
	SSS SSSRegistry
}

// AuthenticationGroup owns the whole credential stack, built in
// dependency order. Fields are exported for tests and diagnostics that
// need to inject into a component.
type AuthenticationGroup struct {
	Config       *config.Config
	Environ      *EnvironmentReader
	Security     *SecurityChecker
	Store        *credstore.Store
	Validator    *CredentialValidator
	Unix         *UnixAuthenticator
	Provider     *BoundIdentityProvider
	Processes    *ProcessInfoProvider
	Jails        *JailResolver
	ProcessCache *ProcessCache
	SSS          SSSRegistry
}

// NewAuthenticationGroup builds every component. Close releases the
// background goroutines.
func NewAuthenticationGroup(options GroupOptions) (*AuthenticationGroup, error) {
	cfg := options.Config
	if cfg == nil {
		return nil, errors.New("auth: NewAuthenticationGroup requires a config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("auth: %w", err)
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if options.SSS == nil {
		options.SSS = NewMemorySSSRegistry()
	}

	jails, err := NewJailResolver(cfg.ProcRoot, logger)
	if err != nil {
		return nil, err
	}

	var store *credstore.Store
	if cfg.CredentialStore != "" {
		store, err = credstore.Open(cfg.CredentialStore, logger.With("component", "credstore"))
		if err != nil {
			return nil, fmt.Errorf("auth: opening credential store: %w", err)
		}
	}

	group := &AuthenticationGroup{
		Config: cfg,
		Environ: NewEnvironmentReader(EnvironmentReaderOptions{
			Workers:  cfg.EnvironReaderWorkers,
			ProcRoot: cfg.ProcRoot,
			Clock:    options.Clock,
			Logger:   logger.With("component", "environ"),
		}),
		Security:  NewSecurityChecker(cfg.ProcRoot),
		Store:     store,
		Unix:      NewUnixAuthenticator(options.Clock),
		Processes: NewProcessInfoProvider(cfg.ProcRoot),
		Jails:     jails,
		SSS:       options.SSS,
	}
	group.Validator = NewCredentialValidator(ValidatorOptions{
		Checker: group.Security,
		Store:   store,
		Tickets: options.Tickets,
		RunAs:   options.RunAs,
		Clock:   options.Clock,
		Logger:  logger.With("component", "validator"),
	})
	group.Provider = NewBoundIdentityProvider(ProviderOptions{
		Config:    cfg,
		Validator: group.Validator,
		Environ:   group.Environ,
		SSS:       group.SSS,
		Clock:     options.Clock,
		Logger:    logger.With("component", "identity"),
	})
	group.ProcessCache = NewProcessCache(ProcessCacheOptions{
		Config:    cfg,
		Provider:  group.Provider,
		Unix:      group.Unix,
		Processes: group.Processes,
		Jails:     group.Jails,
		Clock:     options.Clock,
		Logger:    logger.With("component", "processes"),
	})
	return group, nil
}

// Close stops the caches and joins the environ workers, in reverse
// construction order.
func (g *AuthenticationGroup) Close() {
	g.ProcessCache.Close()
	g.Provider.Close()
	g.Environ.Close()
}
