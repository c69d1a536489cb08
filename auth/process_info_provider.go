// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// ErrProcessNotFound is returned when a process cannot be inspected,
// usually because it has exited.
var ErrProcessNotFound = errors.New("auth: process not found")

// ErrMalformedStat is returned for a /proc/<pid>/stat line that does
// not parse.
var ErrMalformedStat = errors.New("auth: malformed stat line")

// ProcessInfoProvider reads process information from procfs, or from
// injected entries in tests.
type ProcessInfoProvider struct {
	procRoot string

	mu       sync.Mutex
	injected map[int]ProcessInfo
}

// NewProcessInfoProvider reads from procRoot ("/proc" when empty).
func NewProcessInfoProvider(procRoot string) *ProcessInfoProvider {
	if procRoot == "" {
		procRoot = "/proc"
	}
	return &ProcessInfoProvider{procRoot: procRoot, injected: make(map[int]ProcessInfo)}
}

// Inject serves info for pid. Once anything is injected, procfs is
// never read: other pids are ErrProcessNotFound.
func (p *ProcessInfoProvider) Inject(pid int, info ProcessInfo) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.injected[pid] = info
}

// RemoveInjection undoes Inject for pid.
func (p *ProcessInfoProvider) RemoveInjection(pid int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.injected, pid)
}

func (p *ProcessInfoProvider) lookupInjected(pid int) (ProcessInfo, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.injected) == 0 {
		return ProcessInfo{}, false, nil
	}
	info, ok := p.injected[pid]
	if !ok {
		return ProcessInfo{}, true, fmt.Errorf("pid %d: %w", pid, ErrProcessNotFound)
	}
	return info, true, nil
}

// RetrieveBasic reads only the stat line: enough for IsSameProcess.
func (p *ProcessInfoProvider) RetrieveBasic(pid int) (*ProcessInfo, error) {
	if injected, simulated, err := p.lookupInjected(pid); simulated {
		if err != nil {
			return nil, err
		}
		basic := &ProcessInfo{}
		basic.FillStat(injected.pid, injected.ppid, injected.pgrp, injected.sid, injected.startTime, injected.flags)
		return basic, nil
	}

	info := &ProcessInfo{}
	if err := p.readStat(pid, info); err != nil {
		return nil, err
	}
	return info, nil
}

// RetrieveFull reads the stat line, argv and executable path. An
// unreadable exe link (kernel threads, other users' processes) leaves
// Exe empty.
func (p *ProcessInfoProvider) RetrieveFull(pid int) (*ProcessInfo, error) {
	if injected, simulated, err := p.lookupInjected(pid); simulated {
		if err != nil {
			return nil, err
		}
		full := injected
		full.cmd = append([]string(nil), injected.cmd...)
		return &full, nil
	}

	info := &ProcessInfo{}
	if err := p.readStat(pid, info); err != nil {
		return nil, err
	}
	base := filepath.Join(p.procRoot, strconv.Itoa(pid))
	cmdline, err := os.ReadFile(filepath.Join(base, "cmdline"))
	if err != nil {
		return nil, fmt.Errorf("pid %d: %w: %v", pid, ErrProcessNotFound, err)
	}
	exe, _ := os.Readlink(filepath.Join(base, "exe"))
	info.FillCmdline(ParseCmdline(cmdline), exe)
	return info, nil
}

func (p *ProcessInfoProvider) readStat(pid int, info *ProcessInfo) error {
	data, err := os.ReadFile(filepath.Join(p.procRoot, strconv.Itoa(pid), "stat"))
	if err != nil {
		return fmt.Errorf("pid %d: %w: %v", pid, ErrProcessNotFound, err)
	}
	if err := ParseStat(string(data), info); err != nil {
		return fmt.Errorf("pid %d: %w", pid, err)
	}
	return nil
}

// ParseStat fills info from a /proc/<pid>/stat line. The command name
// is parenthesized and may itself contain spaces and parentheses, so
// fields are counted from the last ')'.
func ParseStat(line string, info *ProcessInfo) error {
	open := strings.IndexByte(line, '(')
	closing := strings.LastIndexByte(line, ')')
	if open < 0 || closing < open {
		return ErrMalformedStat
	}
	pid, err := strconv.Atoi(strings.TrimSpace(line[:open]))
	if err != nil {
		return fmt.Errorf("%w: pid: %v", ErrMalformedStat, err)
	}

	// After the name: state ppid pgrp session tty_nr tpgid flags ...
	// with starttime the 20th field.
	fields := strings.Fields(line[closing+1:])
	if len(fields) < 20 {
		return fmt.Errorf("%w: %d fields after command name", ErrMalformedStat, len(fields))
	}

	// ppid, pgrp, session
	var ids [3]int
	for i := range ids {
		if ids[i], err = strconv.Atoi(fields[i+1]); err != nil {
			return fmt.Errorf("%w: field %d: %v", ErrMalformedStat, i+1, err)
		}
	}
	flags, err := strconv.ParseUint(fields[6], 10, 64)
	if err != nil {
		return fmt.Errorf("%w: flags: %v", ErrMalformedStat, err)
	}
	startTime, err := strconv.ParseUint(fields[19], 10, 64)
	if err != nil {
		return fmt.Errorf("%w: starttime: %v", ErrMalformedStat, err)
	}

	info.FillStat(pid, ids[0], ids[1], ids[2], startTime, flags)
	return nil
}

// ParseCmdline splits NUL-separated argv. A trailing NUL does not add
// an empty argument.
func ParseCmdline(data []byte) []string {
	data = bytes.TrimSuffix(data, []byte{0})
	if len(data) == 0 {
		return nil
	}
	parts := bytes.Split(data, []byte{0})
	cmd := make([]string, len(parts))
	for i, part := range parts {
		cmd[i] = string(part)
	}
	return cmd
}
