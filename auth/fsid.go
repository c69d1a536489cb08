// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// RunAsFunc runs fn with filesystem access checks made as uid/gid.
type RunAsFunc func(uid, gid uint32, fn func() error) error

// RunWithFsid runs fn on a dedicated OS thread whose fsuid and fsgid
// are switched to uid and gid for the duration. fsuid is per-thread,
// so the rest of the process keeps its own identity throughout.
//
// setfsuid reports the previous value rather than failure; the switch
// is confirmed by reading the value back. If the original identity
// cannot be restored the thread is left locked so the runtime
// discards it instead of reusing it.
func RunWithFsid(uid, gid uint32, fn func() error) error {
	result := make(chan error, 1)
	go func() {
		runtime.LockOSThread()
		restored := false
		defer func() {
			if restored {
				runtime.UnlockOSThread()
			}
		}()
		result <- runSwitched(uid, gid, fn, &restored)
	}()
	return <-result
}

func runSwitched(uid, gid uint32, fn func() error, restored *bool) error {
	previousGID, _ := unix.SetfsgidRetGid(int(gid))
	previousUID, _ := unix.SetfsuidRetUid(int(uid))

	restore := func() {
		unix.SetfsuidRetUid(previousUID)
		unix.SetfsgidRetGid(previousGID)
		currentUID, _ := unix.SetfsuidRetUid(-1)
		currentGID, _ := unix.SetfsgidRetGid(-1)
		*restored = currentUID == previousUID && currentGID == previousGID
	}
	defer restore()

	currentGID, _ := unix.SetfsgidRetGid(-1)
	currentUID, _ := unix.SetfsuidRetUid(-1)
	if currentUID != int(uid) || currentGID != int(gid) {
		return fmt.Errorf("switching fsuid/fsgid to %d/%d: now %d/%d", uid, gid, currentUID, currentGID)
	}
	return fn()
}
