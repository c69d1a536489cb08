// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package credstore

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeebo/blake3"
)

// ErrEmptyContents is returned by Put for a zero-length credential.
var ErrEmptyContents = errors.New("credstore: empty credential contents")

const (
	// filePrefix marks files owned by the store. Cleanup only touches
	// names carrying it.
	filePrefix = "eos-fusex-store-"
	tempPrefix = ".incoming-"
)

// contentKey separates credential-store digests from any other use of
// BLAKE3 over the same bytes.
var contentKey = [32]byte{
	'f', 'u', 's', 'e', 'x', '.', 'c', 'r', 'e', 'd', 's', 't', 'o', 'r', 'e', '.',
	'c', 'o', 'n', 't', 'e', 'n', 't', 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// Store is an open credential store directory. Safe for concurrent
// use: writers of the same contents race on rename to an identical
// file.
type Store struct {
	dir    string
	logger *slog.Logger
}

// Open prepares dir (creating it 0700 if needed) and removes stale
// copies. A nil logger discards.
func Open(dir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if !filepath.IsAbs(dir) {
		return nil, fmt.Errorf("credstore: directory %q is not absolute", dir)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("credstore: creating %s: %w", dir, err)
	}
	if err := os.Chmod(dir, 0o700); err != nil {
		return nil, fmt.Errorf("credstore: restricting %s: %w", dir, err)
	}

	store := &Store{dir: dir, logger: logger}
	removed, err := store.cleanup()
	if err != nil {
		return nil, err
	}
	if removed > 0 {
		logger.Info("removed stale credential copies", "dir", dir, "count", removed)
	}
	return store, nil
}

// Dir returns the store directory.
func (s *Store) Dir() string {
	return s.dir
}

// PathFor returns where contents would be stored, without writing.
func (s *Store) PathFor(contents []byte) string {
	return filepath.Join(s.dir, filePrefix+digest(contents))
}

// Put stores contents and returns the path of the copy. Storing the
// same bytes twice returns the same path and writes once.
func (s *Store) Put(contents []byte) (string, error) {
	if len(contents) == 0 {
		return "", ErrEmptyContents
	}

	target := s.PathFor(contents)
	if info, err := os.Lstat(target); err == nil && info.Mode().IsRegular() && info.Size() == int64(len(contents)) {
		return target, nil
	}

	temp, err := os.CreateTemp(s.dir, tempPrefix+"*")
	if err != nil {
		return "", fmt.Errorf("credstore: creating temporary file: %w", err)
	}
	tempPath := temp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tempPath)
		}
	}()

	if _, err := temp.Write(contents); err != nil {
		temp.Close()
		return "", fmt.Errorf("credstore: writing %s: %w", tempPath, err)
	}
	if err := temp.Chmod(0o400); err != nil {
		temp.Close()
		return "", fmt.Errorf("credstore: chmod %s: %w", tempPath, err)
	}
	if err := temp.Sync(); err != nil {
		temp.Close()
		return "", fmt.Errorf("credstore: sync %s: %w", tempPath, err)
	}
	if err := temp.Close(); err != nil {
		return "", fmt.Errorf("credstore: closing %s: %w", tempPath, err)
	}
	if err := os.Rename(tempPath, target); err != nil {
		return "", fmt.Errorf("credstore: publishing %s: %w", target, err)
	}
	committed = true

	s.logger.Debug("stored credential copy", "path", target, "bytes", len(contents))
	return target, nil
}

// cleanup deletes every store-owned file in the directory.
func (s *Store) cleanup() (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("credstore: listing %s: %w", s.dir, err)
	}

	removed := 0
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, filePrefix) && !strings.HasPrefix(name, tempPrefix) {
			continue
		}
		if entry.IsDir() {
			continue
		}
		err := os.Remove(filepath.Join(s.dir, name))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, fmt.Errorf("credstore: removing stale %s: %w", name, err)
		}
		removed++
	}
	return removed, nil
}

func digest(contents []byte) string {
	hasher, err := blake3.NewKeyed(contentKey[:])
	if err != nil {
		panic("credstore: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(contents)
	return hex.EncodeToString(hasher.Sum(nil))
}
