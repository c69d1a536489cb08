// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"path/filepath"
	"strings"
)

// pfForkNoExec is the kernel PF_FORKNOEXEC task flag: forked but has
// not called execve.
const pfForkNoExec = 0x00000040

// RmInfo describes an rm invocation, for callers that guard against
// recursive deletion of mount roots.
type RmInfo struct {
	IsRm      bool `cbor:"is_rm"`
	Recursive bool `cbor:"recursive"`
}

// ProcessInfo identifies a process and what it is running. Each
// group of fields is filled once; filling it again panics.
type ProcessInfo struct {
	pid       int
	ppid      int
	pgrp      int
	sid       int
	startTime uint64
	flags     uint64

	cmd     []string
	exe     string
	rm      RmInfo
	hasStat bool
	hasCmd  bool
}

// FillStat records the fields parsed from /proc/<pid>/stat.
func (p *ProcessInfo) FillStat(pid, ppid, pgrp, sid int, startTime, flags uint64) {
	if p.hasStat {
		panic("auth: ProcessInfo stat filled twice")
	}
	p.hasStat = true
	p.pid, p.ppid, p.pgrp, p.sid = pid, ppid, pgrp, sid
	p.startTime, p.flags = startTime, flags
}

// FillCmdline records argv and the executable path, and derives
// RmInfo from argv.
func (p *ProcessInfo) FillCmdline(cmd []string, exe string) {
	if p.hasCmd {
		panic("auth: ProcessInfo cmdline filled twice")
	}
	p.hasCmd = true
	p.cmd = cmd
	p.exe = exe
	p.rm = rmInfoFor(cmd)
}

// IsEmpty reports whether nothing has been filled.
func (p *ProcessInfo) IsEmpty() bool {
	return !p.hasStat && !p.hasCmd
}

func (p *ProcessInfo) PID() int          { return p.pid }
func (p *ProcessInfo) PPID() int         { return p.ppid }
func (p *ProcessInfo) PGRP() int         { return p.pgrp }
func (p *ProcessInfo) SID() int          { return p.sid }
func (p *ProcessInfo) StartTime() uint64 { return p.startTime }
func (p *ProcessInfo) Flags() uint64     { return p.flags }
func (p *ProcessInfo) Cmd() []string     { return p.cmd }
func (p *ProcessInfo) Exe() string       { return p.exe }
func (p *ProcessInfo) RmInfo() RmInfo    { return p.rm }

// ForkedNoExec reports the PF_FORKNOEXEC flag.
func (p *ProcessInfo) ForkedNoExec() bool {
	return p.flags&pfForkNoExec != 0
}

// CmdString joins argv with spaces.
func (p *ProcessInfo) CmdString() string {
	return strings.Join(p.cmd, " ")
}

// IsSameProcess reports whether both describe one process: the same
// pid started at the same time. A recycled pid has a later start time.
func (p *ProcessInfo) IsSameProcess(other *ProcessInfo) bool {
	return p.pid == other.pid && p.startTime == other.startTime
}

// UpdateIfSameProcess copies the fields that change over a process's
// lifetime (parent, group and session, after reparenting or setsid)
// from fresh, if fresh is the same process. It reports whether it did.
//
// ProcessCache never calls it: snapshots are shared between holders
// and their ProcessInfo is immutable once cached. It is for callers
// that own a private ProcessInfo, such as a FUSE layer tracking a
// process group for rm protection, and want it refreshed in place.
func (p *ProcessInfo) UpdateIfSameProcess(fresh *ProcessInfo) bool {
	if !p.IsSameProcess(fresh) {
		return false
	}
	p.ppid = fresh.ppid
	p.pgrp = fresh.pgrp
	p.sid = fresh.sid
	return true
}

func rmInfoFor(cmd []string) RmInfo {
	if len(cmd) == 0 || filepath.Base(cmd[0]) != "rm" {
		return RmInfo{}
	}
	info := RmInfo{IsRm: true}
	for _, arg := range cmd[1:] {
		if arg == "--" {
			break
		}
		switch {
		case arg == "--recursive":
			info.Recursive = true
		case strings.HasPrefix(arg, "--"):
		case strings.HasPrefix(arg, "-") && strings.ContainsAny(arg[1:], "rR"):
			info.Recursive = true
		}
	}
	return info
}
