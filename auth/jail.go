// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"

	"golang.org/x/sys/unix"
)

// JailIdentifier names a filesystem root by the device and inode of
// its root directory. Two processes share a jail when their roots are
// the same directory.
type JailIdentifier struct {
	Dev uint64 `cbor:"dev"`
	Ino uint64 `cbor:"ino"`
}

// String renders the identifier as dev:ino.
func (j JailIdentifier) String() string {
	return fmt.Sprintf("%d:%d", j.Dev, j.Ino)
}

// JailInformation is the jail of one process.
type JailInformation struct {
	ID JailIdentifier `cbor:"id"`

	// PID is the process the jail was resolved through. Paths inside
	// a foreign jail are reached through /proc/<PID>/root.
	PID int `cbor:"pid"`

	// Foreign is true when the jail differs from our own root.
	Foreign bool `cbor:"foreign"`
}

// JailResolver maps processes to their filesystem roots.
type JailResolver struct {
	procRoot string
	logger   *slog.Logger
	mine     JailInformation
}

// NewJailResolver resolves our own jail once, by stat of "/", and
// returns a resolver for other processes.
func NewJailResolver(procRoot string, logger *slog.Logger) (*JailResolver, error) {
	if procRoot == "" {
		procRoot = "/proc"
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	id, err := statJail("/")
	if err != nil {
		return nil, fmt.Errorf("resolving own jail: %w", err)
	}
	return &JailResolver{
		procRoot: procRoot,
		logger:   logger,
		mine:     JailInformation{ID: id, PID: unix.Getpid()},
	}, nil
}

// MyJail returns the jail this process runs in.
func (r *JailResolver) MyJail() JailInformation {
	return r.mine
}

// Resolve returns the jail of pid.
func (r *JailResolver) Resolve(pid int) (JailInformation, error) {
	id, err := statJail(filepath.Join(r.procRoot, strconv.Itoa(pid), "root"))
	if err != nil {
		return JailInformation{}, fmt.Errorf("resolving jail of pid %d: %w", pid, err)
	}
	return JailInformation{ID: id, PID: pid, Foreign: id != r.mine.ID}, nil
}

// ResolveOrReturnMyJail is Resolve, falling back to our own jail when
// the process root cannot be inspected (typically because the process
// has exited).
func (r *JailResolver) ResolveOrReturnMyJail(pid int) JailInformation {
	jail, err := r.Resolve(pid)
	if err != nil {
		r.logger.Warn("cannot resolve jail, assuming our own", "pid", pid, "error", err)
		return r.mine
	}
	return jail
}

func statJail(path string) (JailIdentifier, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return JailIdentifier{}, err
	}
	return JailIdentifier{Dev: uint64(st.Dev), Ino: st.Ino}, nil
}
