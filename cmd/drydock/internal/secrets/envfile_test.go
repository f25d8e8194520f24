// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package secrets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleEnv = `# fleet secrets
DISCORD_TOKEN=disc-0123456789
export TWITCH_SECRET="tw secret \"quoted\""
POSTGRES_PASSWORD='pg-pass word'
REDIS_URL=redis://cache:6379 # trailing comment

EMPTY=
`

func parseString(t *testing.T, s string) *Set {
	t.Helper()
	set, err := Parse([]byte(s))
	require.NoError(t, err)
	t.Cleanup(set.Destroy)
	return set
}

func TestParse(t *testing.T) {
	set := parseString(t, sampleEnv)

	assert.Equal(t, []string{"DISCORD_TOKEN", "TWITCH_SECRET", "POSTGRES_PASSWORD", "REDIS_URL", "EMPTY"}, set.Keys())
	assert.Equal(t, "disc-0123456789", string(set.values["DISCORD_TOKEN"].Bytes()))
	assert.Equal(t, `tw secret "quoted"`, string(set.values["TWITCH_SECRET"].Bytes()))
	assert.Equal(t, "pg-pass word", string(set.values["POSTGRES_PASSWORD"].Bytes()))
	assert.Equal(t, "redis://cache:6379", string(set.values["REDIS_URL"].Bytes()))
	assert.True(t, set.Has("EMPTY"))
}

func TestParse_WipesInput(t *testing.T) {
	data := []byte("API_KEY=supersecret\n")
	set, err := Parse(data)
	require.NoError(t, err)
	defer set.Destroy()
	assert.NotContains(t, string(data), "supersecret")
}

func TestParse_ErrorsNeverEchoContent(t *testing.T) {
	_, err := Parse([]byte("GOOD=1\nthis line leaks hunter2\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
	assert.NotContains(t, err.Error(), "hunter2")

	_, err = Parse([]byte("9BAD=x\n"))
	assert.Error(t, err)

	for _, doc := range []string{
		"A=1\nmy hunter2 token=x\n",
		"A=1\nTOKEN=\"hunter2\n",
		"A=1\nTOKEN='hunter2' hunter2\n",
	} {
		_, err := Parse([]byte(doc))
		require.Error(t, err, doc)
		assert.Contains(t, err.Error(), "line 2")
		assert.NotContains(t, err.Error(), "hunter2")
	}
}

func TestParse_QuotedValueWithComment(t *testing.T) {
	set := parseString(t, "A=\"two words\" # note\nB='x#y'   #note\nC=\"esc \\\" q\"#tight\n")

	assert.Equal(t, "two words", string(set.values["A"].Bytes()))
	assert.Equal(t, "x#y", string(set.values["B"].Bytes()))
	assert.Equal(t, `esc " q`, string(set.values["C"].Bytes()))
}

func TestEncode_RoundTrip(t *testing.T) {
	set := parseString(t, sampleEnv)
	buf := set.Encode()
	defer buf.Destroy()

	again, err := Parse(append([]byte(nil), buf.Bytes()...))
	require.NoError(t, err)
	defer again.Destroy()

	assert.Equal(t, set.Keys(), again.Keys())
	d := Compute(set, again)
	assert.Equal(t, set.Len(), d.Count(Unchanged))
}

func TestRedact(t *testing.T) {
	set := parseString(t, sampleEnv)
	out := set.Redact("auth failed with disc-0123456789 for user x")
	assert.Equal(t, "auth failed with [REDACTED:DISCORD_TOKEN] for user x", out)
	assert.Equal(t, "nothing here", set.Redact("nothing here"))
}

func TestParseKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(sampleEnv), 0600))
	keys, err := ParseKeys(path)
	require.NoError(t, err)
	assert.Len(t, keys, 5)

	_, err = ParseKeys(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestPut_ReplacesKeepsOrder(t *testing.T) {
	set := NewSet()
	defer set.Destroy()
	set.Put("A", []byte("1"))
	set.Put("B", []byte("2"))
	set.Put("A", []byte("3"))
	assert.Equal(t, []string{"A", "B"}, set.Keys())
	assert.Equal(t, "3", string(set.values["A"].Bytes()))
}
