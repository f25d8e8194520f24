// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/AleutianAI/drydock/cmd/drydock/internal/deploy"
	"github.com/AleutianAI/drydock/pkg/ux"
)

// exitError carries a non-zero process exit code out of a command.
//
// # Description
//
// Commands whose result was already printed (a failed run summary, a
// critical smoke report) return an exitError with a nil err so main exits
// with the right code without printing anything else.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// exitWith returns nil for code 0, otherwise an exitError.
func exitWith(code int, err error) error {
	if code == 0 && err == nil {
		return nil
	}
	if code == 0 {
		code = 1
	}
	return &exitError{code: code, err: err}
}

// exitCodeOf maps a command error onto the process exit code.
func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return 1
}

// reportError prints err with its failure class. Silent exit errors print
// nothing.
func reportError(w io.Writer, err error) {
	var ee *exitError
	if errors.As(err, &ee) && ee.err == nil {
		return
	}
	p := ux.NewPrinter(w)
	msg := err.Error()
	if class := deploy.Classify(err); class != deploy.ClassNone && !strings.HasPrefix(msg, string(class)) {
		msg = fmt.Sprintf("%s: %s", class, msg)
	}
	p.Error(msg)
}
