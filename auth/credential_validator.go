// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/bureau-foundation/fusexauth/lib/clock"
	"github.com/bureau-foundation/fusexauth/lib/credstore"
	"github.com/bureau-foundation/fusexauth/lib/krb5ccache"
)

// TicketChecker decides whether a Kerberos ccache holds a usable
// ticket. name is the full ccache name (KEYRING:..., KCM:...).
type TicketChecker interface {
	Check(name string, uid uint32) error
}

// ValidatorOptions configures a CredentialValidator.
type ValidatorOptions struct {
	// Checker performs file ownership checks. Required.
	Checker *SecurityChecker

	// Store receives copies of credentials only readable from
	// another jail. Nil rejects such credentials.
	Store *credstore.Store

	// Tickets validates keyring and KCM ccaches. Nil uses
	// krb5ccache.NewChecker.
	Tickets TicketChecker

	// RunAs switches filesystem identity around ticket checks. Nil
	// uses RunWithFsid.
	RunAs RunAsFunc

	// Clock drives the default ticket checker. Nil means real time.
	Clock clock.Clock

	// Logger receives security warnings. Nil discards.
	Logger *slog.Logger
}

// CredentialValidator promotes UserCredentials to TrustedCredentials.
type CredentialValidator struct {
	checker *SecurityChecker
	store   *credstore.Store
	tickets TicketChecker
	runAs   RunAsFunc
	logger  *slog.Logger
}

// NewCredentialValidator returns a validator. It panics without a
// SecurityChecker.
func NewCredentialValidator(options ValidatorOptions) *CredentialValidator {
	if options.Checker == nil {
		panic("auth: NewCredentialValidator requires a SecurityChecker")
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Tickets == nil {
		options.Tickets = krb5ccache.NewChecker(options.Clock)
	}
	if options.RunAs == nil {
		options.RunAs = RunWithFsid
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &CredentialValidator{
		checker: options.Checker,
		store:   options.Store,
		tickets: options.Tickets,
		runAs:   options.RunAs,
		logger:  options.Logger,
	}
}

// Validate checks creds as claimed by a process in jail and, on
// success, initializes out. It panics for CredentialInvalid.
func (v *CredentialValidator) Validate(jail JailInformation, creds UserCredentials, out *TrustedCredentials, scope *LogbookScope) bool {
	switch creds.Type {
	case CredentialInvalid:
		panic("auth: validating credentials of invalid type")

	case CredentialSSS, CredentialNobody:
		out.Initialize(creds, time.Time{}, "")
		return true

	case CredentialKrk5:
		if !CheckKeyringUID(creds.Keyring, creds.UID) {
			v.logger.Warn("keyring does not belong to claiming uid",
				"security", true, "keyring", creds.Keyring, "uid", creds.UID)
			scope.Insert("rejected %s: keyring does not belong to uid %d", creds.Keyring, creds.UID)
			return false
		}
		return v.validateTicket(creds.Keyring, creds, out, scope)

	case CredentialKcm:
		if !CheckKcmUID(creds.Kcm, creds.UID) {
			v.logger.Warn("kcm cache does not belong to claiming uid",
				"security", true, "kcm", creds.Kcm, "uid", creds.UID)
			scope.Insert("rejected %s: kcm cache does not belong to uid %d", creds.Kcm, creds.UID)
			return false
		}
		return v.validateTicket(creds.Kcm, creds, out, scope)

	case CredentialKrb5, CredentialX509, CredentialOAuth2, CredentialZTN:
		return v.validateFile(jail, creds, out, scope)

	default:
		panic(fmt.Sprintf("auth: validating credentials of unknown type %d", int(creds.Type)))
	}
}

func (v *CredentialValidator) validateTicket(name string, creds UserCredentials, out *TrustedCredentials, scope *LogbookScope) bool {
	var checkErr error
	err := v.runAs(creds.UID, creds.GID, func() error {
		checkErr = v.tickets.Check(name, creds.UID)
		return nil
	})
	if err != nil {
		v.logger.Error("cannot switch filesystem identity", "uid", creds.UID, "gid", creds.GID, "error", err)
		scope.Insert("rejected %s: %v", name, err)
		return false
	}
	if checkErr != nil {
		scope.Insert("rejected %s: %v", name, checkErr)
		return false
	}
	out.Initialize(creds, time.Time{}, "")
	scope.Insert("accepted %s", name)
	return true
}

func (v *CredentialValidator) validateFile(jail JailInformation, creds UserCredentials, out *TrustedCredentials, scope *LogbookScope) bool {
	info := v.checker.Lookup(jail, creds.Fname, creds.UID, creds.GID)
	switch info.State {
	case CredentialOK:
		out.Initialize(creds, info.MTime, "")
		scope.Insert("accepted %s", creds.Fname)
		return true

	case CredentialOKWithContents:
		defer info.Contents.Close()
		if v.store == nil {
			scope.Insert("rejected %s: file is in another jail and no credential store is configured", creds.Fname)
			return false
		}
		copyPath, err := v.store.Put(info.Contents.Bytes())
		if err != nil {
			v.logger.Warn("cannot copy credential into store", "path", creds.Fname, "error", err)
			scope.Insert("rejected %s: %v", creds.Fname, err)
			return false
		}
		out.Initialize(creds, info.MTime, copyPath)
		scope.Insert("accepted %s as copy %s", creds.Fname, copyPath)
		return true

	default:
		scope.Insert("rejected %s: %s", creds.Fname, info.State)
		return false
	}
}

// CheckValidity reports whether previously validated credentials are
// still usable: not invalidated and, for file credentials, the file
// unchanged since validation. A changed file invalidates creds.
func (v *CredentialValidator) CheckValidity(jail JailInformation, creds *TrustedCredentials) bool {
	if !creds.Valid() {
		return false
	}

	claim := creds.UserCredentials()
	switch claim.Type {
	case CredentialKrk5, CredentialKcm, CredentialSSS, CredentialNobody:
		return true
	}

	info := v.checker.Lookup(jail, claim.Fname, claim.UID, claim.GID)
	if info.Contents != nil {
		info.Contents.Close()
	}
	if info.State != CredentialOK && info.State != CredentialOKWithContents {
		creds.Invalidate()
		return false
	}
	if !info.MTime.Equal(creds.MTime()) {
		creds.Invalidate()
		return false
	}
	return true
}

// CheckKeyringUID reports whether keyring is the persistent keyring of
// uid: exactly KEYRING:persistent:<uid>, or a subsidiary name under it.
func CheckKeyringUID(keyring string, uid uint32) bool {
	base := "KEYRING:persistent:" + strconv.FormatUint(uint64(uid), 10)
	return keyring == base || strings.HasPrefix(keyring, base+":")
}

// CheckKcmUID reports whether a KCM ccache name may be used by uid.
// The bare KCM: name is the caller's default cache, which the daemon
// resolves by peer credentials; an explicit name must lead with uid.
func CheckKcmUID(kcm string, uid uint32) bool {
	if kcm == "KCM:" {
		return true
	}
	base := "KCM:" + strconv.FormatUint(uint64(uid), 10)
	return kcm == base || strings.HasPrefix(kcm, base+":")
}
