// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"os"
	"strconv"
	"testing"

	"github.com/hanwen/go-fuse/v2/fuse"
)

func itoa(value int) string    { return strconv.Itoa(value) }
func utoa(value uint64) string { return strconv.FormatUint(value, 10) }

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
}

// callerContext carries a FUSE caller the way go-fuse hands requests
// to a filesystem.
func callerContext(ctx context.Context, pid, uid, gid uint32) context.Context {
	return fuse.NewContext(ctx, &fuse.Caller{Owner: fuse.Owner{Uid: uid, Gid: gid}, Pid: pid})
}
