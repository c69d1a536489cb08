// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"slices"
	"testing"
)

func TestParseEnvironment(t *testing.T) {
	env := ParseEnvironment([]byte("KRB5CCNAME=FILE:/tmp/krb5cc_5\x00\x00HOME=/home/u\x00opaque\x00EMPTY=\x00"))

	if env.Len() != 4 {
		t.Fatalf("Len() = %d, want 4 (entries %q)", env.Len(), env.Entries())
	}
	if got := env.Get("KRB5CCNAME"); got != "FILE:/tmp/krb5cc_5" {
		t.Fatalf("Get(KRB5CCNAME) = %q", got)
	}
	if value, ok := env.Lookup("EMPTY"); !ok || value != "" {
		t.Fatalf("Lookup(EMPTY) = %q, %v, want \"\", true", value, ok)
	}
	if _, ok := env.Lookup("opaque"); ok {
		t.Fatal("an entry without '=' must not match a key")
	}
	if _, ok := env.Lookup("HOM"); ok {
		t.Fatal("a key prefix must not match")
	}
}

func TestEnvironmentFirstEntryWins(t *testing.T) {
	env := NewEnvironment("A=1", "A=2")
	if got := env.Get("A"); got != "1" {
		t.Fatalf("Get(A) = %q, want 1", got)
	}
}

func TestEnvironmentPushAndEqual(t *testing.T) {
	var env Environment
	env.Push("A=1")
	env.Push("B=2")

	if !env.Equal(NewEnvironment("A=1", "B=2")) {
		t.Fatalf("Equal: %q differs", env.Entries())
	}
	if env.Equal(NewEnvironment("B=2", "A=1")) {
		t.Fatal("Equal must respect order")
	}

	entries := env.Entries()
	entries[0] = "mutated"
	if !slices.Equal(env.Entries(), []string{"A=1", "B=2"}) {
		t.Fatal("Entries must return a copy")
	}
}

func TestNewEnvironmentCopiesInput(t *testing.T) {
	source := []string{"A=1"}
	env := NewEnvironment(source...)
	source[0] = "A=2"
	if got := env.Get("A"); got != "1" {
		t.Fatalf("Get(A) = %q after caller mutated its slice", got)
	}
}
