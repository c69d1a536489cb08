// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/fusexauth/lib/secret"
)

// maxCredentialSize bounds how much of a foreign-jail credential file
// is copied into memory.
const maxCredentialSize = 1 << 20

// CredentialState is the outcome of a SecurityChecker lookup.
type CredentialState int

const (
	// CredentialOK means the file may be handed to the client
	// library by its own path.
	CredentialOK CredentialState = iota

	// CredentialOKWithContents means the file passed the checks but
	// lives in another jail; its contents are returned and must be
	// copied somewhere the client library can read.
	CredentialOKWithContents

	// CredentialCannotStat means the path is empty, relative, or does
	// not resolve.
	CredentialCannotStat

	// CredentialBadPermissions means the file is not owned by the
	// claiming uid, is accessible to group or others, or is not
	// readable by its owner.
	CredentialBadPermissions
)

func (s CredentialState) String() string {
	switch s {
	case CredentialOK:
		return "ok"
	case CredentialOKWithContents:
		return "ok-with-contents"
	case CredentialCannotStat:
		return "cannot-stat"
	case CredentialBadPermissions:
		return "bad-permissions"
	default:
		return "CredentialState(" + strconv.Itoa(int(s)) + ")"
	}
}

// SecurityInfo is the result of a lookup. MTime is zero unless State
// is CredentialOK or CredentialOKWithContents. Contents is set only
// for CredentialOKWithContents and belongs to the caller, who must
// Close it.
type SecurityInfo struct {
	State    CredentialState
	MTime    time.Time
	Contents *secret.Buffer
}

type injectedFile struct {
	uid      uint32
	mode     uint32
	mtime    time.Time
	contents []byte
}

// SecurityChecker performs the preliminary ownership and permission
// check on credential files. It is only a first line: the client
// library re-reads the file later under the caller's fsuid, and the
// window between the two is accepted.
type SecurityChecker struct {
	procRoot string

	mu       sync.Mutex
	injected map[string]injectedFile
}

// NewSecurityChecker returns a checker that stats real files, reaching
// foreign jails through procRoot ("/proc" when empty).
func NewSecurityChecker(procRoot string) *SecurityChecker {
	if procRoot == "" {
		procRoot = "/proc"
	}
	return &SecurityChecker{procRoot: procRoot, injected: make(map[string]injectedFile)}
}

// Inject simulates a file at path. Once anything is injected, the
// checker never touches the real filesystem: paths not injected are
// CredentialCannotStat.
func (c *SecurityChecker) Inject(path string, uid, mode uint32, mtime time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.injected[path] = injectedFile{uid: uid, mode: mode, mtime: mtime}
}

// InjectContents simulates a file that passes checks from another
// jail, so lookups report CredentialOKWithContents with a copy of
// contents.
func (c *SecurityChecker) InjectContents(path string, uid, mode uint32, mtime time.Time, contents []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.injected[path] = injectedFile{uid: uid, mode: mode, mtime: mtime, contents: append([]byte(nil), contents...)}
}

// Lookup checks that path, as seen from jail, is a credential file
// the claiming uid may use. gid is not part of the rule but is carried
// for callers that log it.
func (c *SecurityChecker) Lookup(jail JailInformation, path string, uid, gid uint32) SecurityInfo {
	if path == "" || !filepath.IsAbs(path) {
		return SecurityInfo{State: CredentialCannotStat}
	}

	if info, simulated := c.lookupInjected(path, uid); simulated {
		return info
	}

	target := path
	if jail.Foreign {
		target = filepath.Join(c.procRoot, strconv.Itoa(jail.PID), "root", path)
	}

	var st unix.Stat_t
	if err := unix.Stat(target, &st); err != nil {
		return SecurityInfo{State: CredentialCannotStat}
	}
	if !permissionsOK(st.Uid, st.Mode, uid) {
		return SecurityInfo{State: CredentialBadPermissions}
	}
	mtime := time.Unix(st.Mtim.Unix())

	if !jail.Foreign {
		return SecurityInfo{State: CredentialOK, MTime: mtime}
	}

	contents, err := secret.ReadFile(target, maxCredentialSize)
	if err != nil {
		return SecurityInfo{State: CredentialCannotStat}
	}
	return SecurityInfo{State: CredentialOKWithContents, MTime: mtime, Contents: contents}
}

func (c *SecurityChecker) lookupInjected(path string, uid uint32) (SecurityInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.injected) == 0 {
		return SecurityInfo{}, false
	}
	file, ok := c.injected[path]
	if !ok {
		return SecurityInfo{State: CredentialCannotStat}, true
	}
	if !permissionsOK(file.uid, file.mode, uid) {
		return SecurityInfo{State: CredentialBadPermissions}, true
	}
	if file.contents == nil {
		return SecurityInfo{State: CredentialOK, MTime: file.mtime}, true
	}
	contents, err := secret.NewFromBytes(append([]byte(nil), file.contents...))
	if err != nil {
		return SecurityInfo{State: CredentialCannotStat}, true
	}
	return SecurityInfo{State: CredentialOKWithContents, MTime: file.mtime, Contents: contents}, true
}

func permissionsOK(owner, mode, uid uint32) bool {
	return owner == uid && mode&0o077 == 0 && mode&0o400 != 0
}
