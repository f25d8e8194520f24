// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package remote

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/drydock/cmd/drydock/internal/secrets"
)

func TestRedactor(t *testing.T) {
	set, err := secrets.Parse([]byte("DB_URL=postgres://u:hunter22@db/app\n"))
	require.NoError(t, err)
	defer set.Destroy()
	r := NewRedactor(set)

	got := r.Redact("dial postgres://u:hunter22@db/app failed; API_TOKEN=abc123 user=bob")
	assert.NotContains(t, got, "hunter22")
	assert.NotContains(t, got, "abc123")
	assert.Contains(t, got, "[REDACTED:DB_URL]")
	assert.Contains(t, got, "API_TOKEN=[REDACTED]")
	assert.Contains(t, got, "user=bob")
}

func TestRedactor_Nil(t *testing.T) {
	var r *Redactor
	assert.Equal(t, "db_password=[REDACTED]", r.Redact("db_password=x"))
	assert.Equal(t, "plain", NewRedactor(nil).Redact("plain"))
}
