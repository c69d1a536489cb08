// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ExitError carries a specific exit status out of run().
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }

func (e *ExitError) Unwrap() error { return e.Err }

// Fatal reports err on stderr as "<program>: error: <err>" and exits.
// The status is 1 unless err wraps an *ExitError.
func Fatal(err error) {
	os.Exit(report(os.Stderr, filepath.Base(os.Args[0]), err))
}

func report(w io.Writer, program string, err error) int {
	fmt.Fprintf(w, "%s: error: %v\n", program, err)
	var exit *ExitError
	if errors.As(err, &exit) && exit.Code != 0 {
		return exit.Code
	}
	return 1
}
