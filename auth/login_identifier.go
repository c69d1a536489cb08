// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package auth

// loginAlphabet maps 6-bit groups to login characters.
const loginAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+_"

// LoginIdentifier is the 8-character user name a backend connection
// logs in with. Distinct identifiers mean distinct connections.
type LoginIdentifier struct {
	id         string
	connection uint64
}

// NewLoginIdentifier derives a login from a connection counter: 'A'
// followed by the low 42 bits of connection, six bits per character,
// most significant first.
func NewLoginIdentifier(connection uint64) LoginIdentifier {
	return LoginIdentifier{id: "A" + encodeLogin(connection), connection: connection}
}

// NewUnixLoginIdentifier derives a login for unix authentication.
// When uid and gid both fit in 16 bits the login is '*' followed by
// uid, gid and the low 10 bits of connection; otherwise it is '~'
// followed by pid and the low 10 bits of connection.
func NewUnixLoginIdentifier(uid, gid uint32, pid int, connection uint64) LoginIdentifier {
	if uid <= 0xffff && gid <= 0xffff {
		packed := uint64(uid)<<26 | uint64(gid)<<10 | connection&0x3ff
		return LoginIdentifier{id: "*" + encodeLogin(packed), connection: connection}
	}
	packed := uint64(pid)<<10 | connection&0x3ff
	return LoginIdentifier{id: "~" + encodeLogin(packed), connection: connection}
}

// encodeLogin renders the low 42 bits of value as seven characters.
func encodeLogin(value uint64) string {
	var out [7]byte
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = loginAlphabet[value&0x3f]
		value >>= 6
	}
	return string(out[:])
}

// String returns the 8-character login.
func (l LoginIdentifier) String() string {
	return l.id
}

// ConnectionID returns the counter the login was derived from.
func (l LoginIdentifier) ConnectionID() uint64 {
	return l.connection
}

// MarshalText implements encoding.TextMarshaler.
func (l LoginIdentifier) MarshalText() ([]byte, error) {
	return []byte(l.id), nil
}
