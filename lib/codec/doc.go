// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the shared CBOR configuration.
//
// Authentication logbooks and other machine-readable diagnostics are
// encoded with Core Deterministic Encoding (RFC 8949 §4.2): sorted map
// keys, smallest integer encoding, no indefinite-length items. The
// same logbook always produces the same bytes, so two runs of
// fusex-whoami can be compared with cmp.
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//	text, err := codec.Diagnose(data)
//
// Types implementing encoding.TextMarshaler (credential types, login
// identifiers) are written as CBOR text strings.
package codec
