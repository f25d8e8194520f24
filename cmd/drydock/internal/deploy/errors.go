// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package deploy

import (
	"errors"
	"fmt"

	"github.com/AleutianAI/drydock/cmd/drydock/internal/dbverify"
	"github.com/AleutianAI/drydock/cmd/drydock/internal/infra/process"
	"github.com/AleutianAI/drydock/cmd/drydock/internal/registry"
	"github.com/AleutianAI/drydock/cmd/drydock/internal/secrets"
	"github.com/AleutianAI/drydock/cmd/drydock/internal/snapshot"
)

// ErrorClass is the failure taxonomy shared by every drydock command.
type ErrorClass string

const (
	ClassNone                     ErrorClass = ""
	ClassPreflightFailure         ErrorClass = "PreflightFailure"
	ClassBackupFailure            ErrorClass = "BackupFailure"
	ClassDatabaseBootstrapFailure ErrorClass = "DatabaseBootstrapFailure"
	ClassCriticalHealthFailure    ErrorClass = "CriticalHealthFailure"
	ClassApplicationHealthFailure ErrorClass = "ApplicationHealthFailure"
	ClassRemediationFailure       ErrorClass = "RemediationFailure"
	ClassConnectivityFailure      ErrorClass = "ConnectivityFailure"
	ClassSecretsDiffConflict      ErrorClass = "SecretsDiffConflict"
	ClassConfigurationError       ErrorClass = "ConfigurationError"
)

// Fatal reports whether the class stops a pipeline.
//
// ApplicationHealthFailure and RemediationFailure accumulate into the summary
// instead.
func (c ErrorClass) Fatal() bool {
	switch c {
	case ClassNone, ClassApplicationHealthFailure, ClassRemediationFailure:
		return false
	default:
		return true
	}
}

var (
	// ErrDeploymentInProgress is returned when another run holds the lease.
	ErrDeploymentInProgress = errors.New("deployment already in progress")

	// ErrNoSnapshot refuses a rollback for a run without a snapshot.
	ErrNoSnapshot = errors.New("no snapshot recorded for run")

	// ErrPanicRecovered wraps a panic caught at the executor entry.
	ErrPanicRecovered = errors.New("panic recovered")
)

// StageError attaches a class and pipeline stage to an error.
type StageError struct {
	Class ErrorClass
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	if e.Stage == "" {
		return fmt.Sprintf("%s: %v", e.Class, e.Err)
	}
	return fmt.Sprintf("%s during %s: %v", e.Class, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// NewStageError wraps err; a nil err yields nil.
func NewStageError(class ErrorClass, stage string, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Class: class, Stage: stage, Err: err}
}

// Classify returns the class carried by err, inferring it from the package
// sentinels when err is not a StageError.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassNone
	}
	var se *StageError
	if errors.As(err, &se) {
		return se.Class
	}
	var ce *registry.ConfigurationError
	switch {
	case errors.As(err, &ce), errors.Is(err, registry.ErrUnknownService):
		return ClassConfigurationError
	case errors.Is(err, snapshot.ErrRequired), errors.Is(err, ErrNoSnapshot):
		return ClassBackupFailure
	case errors.Is(err, ErrDeploymentInProgress), errors.Is(err, process.ErrLeaseHeld):
		return ClassPreflightFailure
	case errors.Is(err, dbverify.ErrDatabaseMissing):
		return ClassDatabaseBootstrapFailure
	case errors.Is(err, secrets.ErrDiffConflict):
		return ClassSecretsDiffConflict
	}
	return ClassNone
}

// leaseError converts a lease failure into ErrDeploymentInProgress while
// keeping the holder details in the message.
func leaseError(err error) error {
	if errors.Is(err, process.ErrLeaseHeld) {
		return fmt.Errorf("%w: %v", ErrDeploymentInProgress, err)
	}
	return fmt.Errorf("failed to acquire run lease: %w", err)
}

// recoverPanic converts a recovered panic into an error on errPtr.
//
// # Examples
//
//	func (e *Executor) Run(ctx context.Context, req Request) (run *Run, err error) {
//	    defer func() {
//	        recoverPanic(recover(), &err)
//	    }()
//	    ...
//	}
func recoverPanic(r interface{}, errPtr *error) {
	if r == nil {
		return
	}

	var panicErr error
	switch v := r.(type) {
	case error:
		panicErr = fmt.Errorf("%w: %v", ErrPanicRecovered, v)
	case string:
		panicErr = fmt.Errorf("%w: %s", ErrPanicRecovered, v)
	default:
		panicErr = fmt.Errorf("%w: %v", ErrPanicRecovered, v)
	}

	if *errPtr == nil {
		*errPtr = panicErr
	}
}
