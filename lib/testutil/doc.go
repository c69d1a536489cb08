// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds the wait helpers shared by the credential
// stack's tests.
//
// [RequireReceive] and [RequireClosed] wrap the select-with-timeout
// pattern so a broken test fails instead of hanging. They are the only
// place tests wait on wall-clock time; everything else goes through a
// fake clock.
package testutil
