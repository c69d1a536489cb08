// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import "testing"

func TestNewLoginIdentifier(t *testing.T) {
	cases := []struct {
		connection uint64
		want       string
	}{
		{0, "AAAAAAAA"},
		{1, "AAAAAAAB"},
		{64, "AAAAAABA"},
		// Only the low 42 bits are encoded.
		{1<<42 + 5, "AAAAAAAF"},
	}
	for _, tc := range cases {
		login := NewLoginIdentifier(tc.connection)
		if got := login.String(); got != tc.want {
			t.Fatalf("NewLoginIdentifier(%d) = %q, want %q", tc.connection, got, tc.want)
		}
		if len(login.String()) != 8 {
			t.Fatalf("NewLoginIdentifier(%d) has length %d", tc.connection, len(login.String()))
		}
		if login.ConnectionID() != tc.connection {
			t.Fatalf("ConnectionID() = %d, want %d", login.ConnectionID(), tc.connection)
		}
	}

	if NewLoginIdentifier(77) != NewLoginIdentifier(77) {
		t.Fatal("NewLoginIdentifier is not deterministic")
	}
}

func TestNewUnixLoginIdentifier(t *testing.T) {
	cases := []struct {
		name       string
		uid, gid   uint32
		pid        int
		connection uint64
		want       string
	}{
		{"small ids", 5, 6, 1234, 0, "*AAUABgA"},
		{"reconnected", 5, 6, 1234, 1, "*AAUABgB"},
		{"other uid", 7, 6, 1234, 0, "*AAcABgA"},
		{"pid ignored for small ids", 5, 6, 99, 0, "*AAUABgA"},
		{"large uid uses pid", 70000, 6, 1234, 0, "~AAAE0gA"},
		{"connection wraps at 10 bits", 70000, 6, 1234, 1025, "~AAAE0gB"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := NewUnixLoginIdentifier(tc.uid, tc.gid, tc.pid, tc.connection)
			if got.String() != tc.want {
				t.Fatalf("NewUnixLoginIdentifier = %q, want %q", got, tc.want)
			}
			if got.ConnectionID() != tc.connection {
				t.Fatalf("ConnectionID() = %d, want %d", got.ConnectionID(), tc.connection)
			}
		})
	}
}

func TestLoginIdentifierMarshalText(t *testing.T) {
	text, err := NewLoginIdentifier(1).MarshalText()
	if err != nil {
		t.Fatalf("MarshalText: %v", err)
	}
	if string(text) != "AAAAAAAB" {
		t.Fatalf("MarshalText = %q", text)
	}
}
