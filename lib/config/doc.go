// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the credential-resolution configuration.
//
// Configuration comes from exactly one file, named either by the
// FUSEX_AUTH_CONFIG environment variable ([Load]) or a --config flag
// ([LoadFile]). There is no search path and no per-field environment
// override, so the file on disk is the whole story.
//
// Two formats are accepted, chosen by extension:
//
//   - .yaml and .yml are parsed with gopkg.in/yaml.v3
//   - .json, .jsonc, and .conf are JSON with comments and trailing
//     commas (the fuse client's native format), normalized with
//     github.com/tidwall/jsonc before decoding
//
// Fields missing from the file keep their [Default] value. Durations
// are strings in time.ParseDuration syntax; [Config.Validate] rejects
// values that do not parse.
package config
