// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"os"
	"path/filepath"
	"testing"
)

func TestJailResolver(t *testing.T) {
	procRoot := t.TempDir()

	// pid 5 shares our root; pid 6 lives under a different directory.
	if err := os.MkdirAll(filepath.Join(procRoot, "5"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink("/", filepath.Join(procRoot, "5", "root")); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(procRoot, "6", "root"), 0o755); err != nil {
		t.Fatal(err)
	}

	resolver, err := NewJailResolver(procRoot, nil)
	if err != nil {
		t.Fatalf("NewJailResolver: %v", err)
	}
	mine := resolver.MyJail()
	if mine.Foreign {
		t.Fatal("own jail reported foreign")
	}

	shared, err := resolver.Resolve(5)
	if err != nil {
		t.Fatalf("Resolve(5): %v", err)
	}
	if shared.Foreign || shared.ID != mine.ID || shared.PID != 5 {
		t.Fatalf("Resolve(5) = %+v, want our jail %v", shared, mine.ID)
	}

	other, err := resolver.Resolve(6)
	if err != nil {
		t.Fatalf("Resolve(6): %v", err)
	}
	if !other.Foreign || other.ID == mine.ID {
		t.Fatalf("Resolve(6) = %+v, want a foreign jail", other)
	}

	if _, err := resolver.Resolve(7); err == nil {
		t.Fatal("Resolve of a missing pid succeeded")
	}
	if got := resolver.ResolveOrReturnMyJail(7); got != mine {
		t.Fatalf("ResolveOrReturnMyJail(7) = %+v, want %+v", got, mine)
	}
}
