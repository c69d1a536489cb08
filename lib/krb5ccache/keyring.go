// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package krb5ccache

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// Key descriptions used by MIT's keyring ccache.
const (
	collectionName  = "_krb"
	primaryKeyName  = "krb_ccache:primary"
	principalKey    = "__krb5_princ__"
	timeOffsetsKey  = "__krb5_time_offsets__"
	defaultResidual = "tkt"
)

// KeyringContents is one keyring ccache: the marshalled default
// principal and each marshalled credential, all in ccache version 4
// encoding.
type KeyringContents struct {
	Principal   []byte
	Credentials [][]byte
}

// Assemble lays the parts out as a version 4 ccache stream with an
// empty header.
func (k KeyringContents) Assemble() []byte {
	size := 4 + len(k.Principal)
	for _, credential := range k.Credentials {
		size += len(credential)
	}
	stream := make([]byte, 0, size)
	stream = append(stream, 0x05, 0x04, 0x00, 0x00)
	stream = append(stream, k.Principal...)
	for _, credential := range k.Credentials {
		stream = append(stream, credential...)
	}
	return stream
}

// ReadKeyring reads a KEYRING:persistent:<uid>[:<subsidiary>] cache
// from the kernel. Other keyring flavours (session, user, process,
// thread) belong to the calling process's own keyrings and cannot
// name another process's credentials, so they are rejected.
func ReadKeyring(name string, uid uint32) (KeyringContents, error) {
	parsed, err := parseKeyringName(name)
	if err != nil {
		return KeyringContents{}, err
	}
	if parsed.uid != uid {
		return KeyringContents{}, fmt.Errorf("keyring %s belongs to uid %d, not %d", name, parsed.uid, uid)
	}

	persistent, err := unix.KeyctlInt(unix.KEYCTL_GET_PERSISTENT, int(uid), unix.KEY_SPEC_PROCESS_KEYRING, 0, 0)
	if err != nil {
		return KeyringContents{}, fmt.Errorf("getting persistent keyring: %w", err)
	}
	collection, err := unix.KeyctlSearch(persistent, "keyring", collectionName, 0)
	if err != nil {
		return KeyringContents{}, fmt.Errorf("finding %s collection: %w", collectionName, err)
	}

	residual := parsed.subsidiary
	if residual == "" {
		residual = primaryResidual(collection)
	}
	cache, err := unix.KeyctlSearch(collection, "keyring", residual, 0)
	if err != nil {
		return KeyringContents{}, fmt.Errorf("finding cache %q: %w", residual, err)
	}

	children, err := keyringChildren(cache)
	if err != nil {
		return KeyringContents{}, err
	}

	var contents KeyringContents
	for _, child := range children {
		description, err := keyDescription(child)
		if err != nil {
			continue
		}
		switch description {
		case timeOffsetsKey:
			continue
		case principalKey:
			contents.Principal, err = readKey(child)
		default:
			var payload []byte
			payload, err = readKey(child)
			if err == nil {
				contents.Credentials = append(contents.Credentials, payload)
			}
		}
		if err != nil {
			return KeyringContents{}, fmt.Errorf("reading key %q: %w", description, err)
		}
	}
	if contents.Principal == nil {
		return KeyringContents{}, errors.New("cache keyring has no principal")
	}
	return contents, nil
}

type keyringName struct {
	uid        uint32
	subsidiary string
}

func parseKeyringName(name string) (keyringName, error) {
	residual, ok := strings.CutPrefix(name, "KEYRING:persistent:")
	if !ok {
		return keyringName{}, fmt.Errorf("%w: %s (only persistent keyrings are readable)", ErrUnsupported, name)
	}
	uidPart, subsidiary, _ := strings.Cut(residual, ":")
	uid, err := strconv.ParseUint(uidPart, 10, 32)
	if err != nil {
		return keyringName{}, fmt.Errorf("keyring name %s: bad uid %q", name, uidPart)
	}
	return keyringName{uid: uint32(uid), subsidiary: subsidiary}, nil
}

// primaryResidual reads the collection's primary cache pointer: a
// big-endian version (1), a big-endian length, then the name.
func primaryResidual(collection int) string {
	primary, err := unix.KeyctlSearch(collection, "user", primaryKeyName, 0)
	if err != nil {
		return defaultResidual
	}
	payload, err := readKey(primary)
	if err != nil || len(payload) < 8 || binary.BigEndian.Uint32(payload) != 1 {
		return defaultResidual
	}
	length := binary.BigEndian.Uint32(payload[4:])
	if uint32(len(payload)-8) < length {
		return defaultResidual
	}
	return string(payload[8 : 8+length])
}

// readKey returns a key's payload, growing the buffer until it fits.
func readKey(id int) ([]byte, error) {
	buffer := make([]byte, 4096)
	for {
		size, err := unix.KeyctlBuffer(unix.KEYCTL_READ, id, buffer, 0)
		if err != nil {
			return nil, err
		}
		if size <= len(buffer) {
			return buffer[:size], nil
		}
		buffer = make([]byte, size)
	}
}

// keyringChildren lists the key serials linked into a keyring. The
// kernel returns them as native-endian int32 values.
func keyringChildren(id int) ([]int, error) {
	payload, err := readKey(id)
	if err != nil {
		return nil, fmt.Errorf("listing keyring: %w", err)
	}
	count := len(payload) / 4
	children := make([]int, 0, count)
	for i := 0; i < count; i++ {
		serial := int32(binary.NativeEndian.Uint32(payload[4*i:]))
		children = append(children, int(serial))
	}
	return children, nil
}

// keyDescription returns the description field of
// "type;uid;gid;perm;description".
func keyDescription(id int) (string, error) {
	described, err := unix.KeyctlString(unix.KEYCTL_DESCRIBE, id)
	if err != nil {
		return "", err
	}
	fields := strings.SplitN(described, ";", 5)
	if len(fields) != 5 {
		return "", fmt.Errorf("unexpected key description %q", described)
	}
	return fields[4], nil
}
