// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package credstore

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "credential-store"), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return store
}

func TestOpen_CreatesPrivateDirectory(t *testing.T) {
	store := openStore(t)
	info, err := os.Stat(store.Dir())
	if err != nil {
		t.Fatalf("stat store dir: %v", err)
	}
	if !info.IsDir() || info.Mode().Perm() != 0o700 {
		t.Fatalf("store dir mode = %v, want drwx------", info.Mode())
	}
}

func TestOpen_RejectsRelativePath(t *testing.T) {
	if _, err := Open("relative/store", nil); err == nil {
		t.Fatal("Open(relative) succeeded")
	}
}

func TestPut_ContentAddressed(t *testing.T) {
	store := openStore(t)

	first, err := store.Put([]byte("ccache one"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	again, err := store.Put([]byte("ccache one"))
	if err != nil {
		t.Fatalf("Put again: %v", err)
	}
	other, err := store.Put([]byte("ccache two"))
	if err != nil {
		t.Fatalf("Put other: %v", err)
	}

	if first != again {
		t.Errorf("same contents stored at %s and %s", first, again)
	}
	if first == other {
		t.Errorf("different contents share path %s", first)
	}
	if first != store.PathFor([]byte("ccache one")) {
		t.Errorf("PathFor disagrees with Put: %s vs %s", store.PathFor([]byte("ccache one")), first)
	}
	if filepath.Dir(first) != store.Dir() || !strings.HasPrefix(filepath.Base(first), filePrefix) {
		t.Errorf("Put path %s not a store file under %s", first, store.Dir())
	}
	// 64 hex characters of digest.
	if got := len(filepath.Base(first)) - len(filePrefix); got != 64 {
		t.Errorf("digest length = %d, want 64", got)
	}
}

func TestPut_WritesReadOnlyCopy(t *testing.T) {
	store := openStore(t)
	contents := []byte("\x05\x04binary\x00ccache")

	path, err := store.Put(contents)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat copy: %v", err)
	}
	if info.Mode().Perm() != 0o400 {
		t.Errorf("copy mode = %v, want -r--------", info.Mode())
	}
	read, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading copy: %v", err)
	}
	if string(read) != string(contents) {
		t.Errorf("copy = %q, want %q", read, contents)
	}

	entries, err := os.ReadDir(store.Dir())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("store holds %d files, want 1 (temporary file left behind?)", len(entries))
	}
}

func TestPut_Empty(t *testing.T) {
	store := openStore(t)
	if _, err := store.Put(nil); !errors.Is(err, ErrEmptyContents) {
		t.Fatalf("Put(nil) error = %v, want ErrEmptyContents", err)
	}
}

func TestOpen_RemovesStaleCopies(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "store")
	store, err := Open(dir, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	stale, err := store.Put([]byte("from a previous run"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	abandoned := filepath.Join(dir, tempPrefix+"123")
	unrelated := filepath.Join(dir, "README")
	for _, path := range []string{abandoned, unrelated} {
		if err := os.WriteFile(path, []byte("x"), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := Open(dir, nil); err != nil {
		t.Fatalf("reopen: %v", err)
	}

	for _, path := range []string{stale, abandoned} {
		if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("%s survived reopen (err=%v)", filepath.Base(path), err)
		}
	}
	if _, err := os.Stat(unrelated); err != nil {
		t.Errorf("unrelated file removed: %v", err)
	}
}
