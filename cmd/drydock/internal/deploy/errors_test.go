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
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/AleutianAI/drydock/cmd/drydock/internal/dbverify"
	"github.com/AleutianAI/drydock/cmd/drydock/internal/infra/process"
	"github.com/AleutianAI/drydock/cmd/drydock/internal/registry"
	"github.com/AleutianAI/drydock/cmd/drydock/internal/secrets"
	"github.com/AleutianAI/drydock/cmd/drydock/internal/snapshot"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"nil", nil, ClassNone},
		{"stage error", NewStageError(ClassConnectivityFailure, "connect", errors.New("refused")), ClassConnectivityFailure},
		{"wrapped stage error", fmt.Errorf("deploy: %w", NewStageError(ClassSecretsDiffConflict, "pull", errors.New("x"))), ClassSecretsDiffConflict},
		{"configuration", &registry.ConfigurationError{Field: "services", Err: registry.ErrUnknownService}, ClassConfigurationError},
		{"backup required", fmt.Errorf("%w: dump", snapshot.ErrRequired), ClassBackupFailure},
		{"no snapshot", fmt.Errorf("%w abc", ErrNoSnapshot), ClassBackupFailure},
		{"database", fmt.Errorf("%w: fleet", dbverify.ErrDatabaseMissing), ClassDatabaseBootstrapFailure},
		{"lease", leaseError(&process.LeaseHeldError{HolderPID: 1}), ClassPreflightFailure},
		{"secrets conflict", fmt.Errorf("%w: 1 changed", secrets.ErrDiffConflict), ClassSecretsDiffConflict},
		{"unknown", errors.New("boom"), ClassNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestErrorClass_Fatal(t *testing.T) {
	assert.True(t, ClassCriticalHealthFailure.Fatal())
	assert.True(t, ClassDatabaseBootstrapFailure.Fatal())
	assert.True(t, ClassSecretsDiffConflict.Fatal())
	assert.False(t, ClassApplicationHealthFailure.Fatal())
	assert.False(t, ClassRemediationFailure.Fatal())
	assert.False(t, ClassNone.Fatal())
}

func TestStageError_Format(t *testing.T) {
	err := NewStageError(ClassPreflightFailure, "pull", errors.New("registry unreachable"))
	assert.Equal(t, "PreflightFailure during pull: registry unreachable", err.Error())
	assert.Nil(t, NewStageError(ClassPreflightFailure, "pull", nil))

	inner := errors.New("inner")
	assert.True(t, errors.Is(NewStageError(ClassBackupFailure, "", inner), inner))
}

func TestRecoverPanic(t *testing.T) {
	var err error
	recoverPanic("boom", &err)
	assert.True(t, errors.Is(err, ErrPanicRecovered))
	assert.Contains(t, err.Error(), "boom")

	existing := errors.New("first")
	err = existing
	recoverPanic(errors.New("second"), &err)
	assert.Equal(t, existing, err)

	err = nil
	recoverPanic(nil, &err)
	assert.NoError(t, err)
}
