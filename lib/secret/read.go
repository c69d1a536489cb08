// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"fmt"
	"os"
)

// ReadFile reads the file at path into a new Buffer. Contents are kept
// byte-for-byte (credential caches are binary). Files larger than
// limit fail with ErrTooLarge.
func ReadFile(path string, limit int) (*Buffer, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	buffer, err := NewFromReader(file, limit)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return buffer, nil
}
