// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/bureau-foundation/fusexauth/lib/clock"
)

// slowEnvironRead is the read duration above which a warning is
// logged: a read that slow is usually stuck behind an execve.
const slowEnvironRead = 5 * time.Millisecond

// FutureEnvironment is the pending result of a staged environ read.
// All callers that staged the same pid while it was queued share one
// FutureEnvironment.
type FutureEnvironment struct {
	queuedSince time.Time
	clock       clock.Clock
	done        chan struct{}
	env         Environment
}

// QueuedSince returns when the request was first staged.
func (f *FutureEnvironment) QueuedSince() time.Time {
	return f.queuedSince
}

// WaitUntilDeadline waits for the read until QueuedSince plus timeout
// and reports whether it completed. There is deliberately no unbounded
// wait: the read may never finish.
func (f *FutureEnvironment) WaitUntilDeadline(timeout time.Duration) bool {
	select {
	case <-f.done:
		return true
	default:
	}

	remaining := f.queuedSince.Add(timeout).Sub(f.clock.Now())
	if remaining <= 0 {
		return false
	}
	select {
	case <-f.done:
		return true
	case <-f.clock.After(remaining):
		select {
		case <-f.done:
			return true
		default:
			return false
		}
	}
}

// Done is closed when the read completes.
func (f *FutureEnvironment) Done() <-chan struct{} {
	return f.done
}

// Get returns the environment and whether the read has completed.
// It never blocks.
func (f *FutureEnvironment) Get() (Environment, bool) {
	select {
	case <-f.done:
		return f.env, true
	default:
		return Environment{}, false
	}
}

// EnvironmentReaderOptions configures an EnvironmentReader.
type EnvironmentReaderOptions struct {
	// Workers is the pool size. Zero means 3.
	Workers int

	// ProcRoot is the proc mount. Empty means /proc.
	ProcRoot string

	// Clock stamps requests and drives injected delays. Nil means
	// real time.
	Clock clock.Clock

	// Logger receives slow-read warnings. Nil discards.
	Logger *slog.Logger
}

type injectedEnvironment struct {
	env   Environment
	delay time.Duration
}

// EnvironmentReader reads process environments on a fixed worker pool
// so that a read stuck in the kernel holds up only a worker, never the
// caller.
type EnvironmentReader struct {
	procRoot string
	clock    clock.Clock
	logger   *slog.Logger

	mu       sync.Mutex
	wake     *sync.Cond
	queue    []int
	pending  map[int]*FutureEnvironment
	injected map[int]injectedEnvironment
	shutdown bool

	workers sync.WaitGroup
}

// NewEnvironmentReader starts the worker pool. Close stops it.
func NewEnvironmentReader(options EnvironmentReaderOptions) *EnvironmentReader {
	if options.Workers <= 0 {
		options.Workers = 3
	}
	if options.ProcRoot == "" {
		options.ProcRoot = "/proc"
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	reader := &EnvironmentReader{
		procRoot: options.ProcRoot,
		clock:    options.Clock,
		logger:   options.Logger,
		pending:  make(map[int]*FutureEnvironment),
		injected: make(map[int]injectedEnvironment),
	}
	reader.wake = sync.NewCond(&reader.mu)

	for i := 0; i < options.Workers; i++ {
		reader.workers.Add(1)
		go reader.work()
	}
	return reader
}

// StageRequest queues a read of pid's environment, or joins the read
// already queued for it.
func (r *EnvironmentReader) StageRequest(pid int) *FutureEnvironment {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.pending[pid]; ok {
		return existing
	}

	future := &FutureEnvironment{
		queuedSince: r.clock.Now(),
		clock:       r.clock,
		done:        make(chan struct{}),
	}
	r.pending[pid] = future
	r.queue = append(r.queue, pid)
	r.wake.Signal()
	return future
}

// Inject makes reads of pid return env after delay instead of reading
// procfs.
func (r *EnvironmentReader) Inject(pid int, env Environment, delay time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.injected[pid] = injectedEnvironment{env: env, delay: delay}
}

// RemoveInjection undoes Inject for pid.
func (r *EnvironmentReader) RemoveInjection(pid int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.injected, pid)
}

// Close stops the workers and waits for them. Requests still queued
// are abandoned; their futures never complete. A worker stuck in a
// read delays Close until the read returns.
func (r *EnvironmentReader) Close() {
	r.mu.Lock()
	r.shutdown = true
	r.wake.Broadcast()
	r.mu.Unlock()
	r.workers.Wait()
}

func (r *EnvironmentReader) work() {
	defer r.workers.Done()
	for {
		r.mu.Lock()
		for len(r.queue) == 0 && !r.shutdown {
			r.wake.Wait()
		}
		if r.shutdown {
			r.mu.Unlock()
			return
		}
		pid := r.queue[0]
		r.queue = r.queue[1:]
		future := r.pending[pid]
		injection, isInjected := r.injected[pid]
		r.mu.Unlock()

		started := r.clock.Now()
		if isInjected {
			r.clock.Sleep(injection.delay)
			future.env = injection.env
		} else {
			future.env = r.readEnviron(pid)
		}
		if elapsed := r.clock.Now().Sub(started); elapsed > slowEnvironRead {
			r.logger.Warn("slow environ read", "pid", pid, "duration", elapsed)
		}

		r.mu.Lock()
		delete(r.pending, pid)
		r.mu.Unlock()
		close(future.done)
	}
}

// readEnviron returns an empty Environment on any failure: a process
// that vanished or hid its environment has no credentials to offer.
func (r *EnvironmentReader) readEnviron(pid int) Environment {
	data, err := os.ReadFile(filepath.Join(r.procRoot, strconv.Itoa(pid), "environ"))
	if err != nil {
		r.logger.Debug("cannot read environ", "pid", pid, "error", err)
		return Environment{}
	}
	return ParseEnvironment(data)
}
