// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePersonalityLevel(t *testing.T) {
	tests := []struct {
		in   string
		want PersonalityLevel
	}{
		{"full", PersonalityFull},
		{"F", PersonalityFull},
		{"std", PersonalityStandard},
		{"minimal", PersonalityMinimal},
		{"quiet", PersonalityMachine},
		{"machine", PersonalityMachine},
		{"bogus", PersonalityStandard},
		{"", PersonalityStandard},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParsePersonalityLevel(tt.in))
		})
	}
}

func TestInitPersonality_FlagBeatsEnv(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)
	t.Setenv(PersonalityEnv, "minimal")

	InitPersonality("machine")
	assert.Equal(t, PersonalityMachine, GetPersonality().Level)
	assert.False(t, GetPersonality().ShowTips)

	InitPersonality("")
	assert.Equal(t, PersonalityMinimal, GetPersonality().Level)
	assert.True(t, GetPersonality().ShowTips)
}

func TestPrinter_MachineOutputIsPlain(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinterWithLevel(&buf, PersonalityMachine)

	p.Title("ignored")
	p.Muted("ignored")
	p.Success("db healthy")
	p.Status(IconError, "proxy", "connection refused")
	p.Summary(Count{Label: "passed", N: 3}, Count{Label: "failed", N: 1})

	assert.Equal(t,
		"OK\tdb healthy\nFAIL\tproxy\tconnection refused\nSUMMARY: passed=3 failed=1\n",
		buf.String())
}

func TestPrinter_MinimalInlinesDetail(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinterWithLevel(&buf, PersonalityMinimal)

	p.Status(IconWarning, "cache", "slow response")
	p.Box("rollback", "drydock up --rollback=abc\nsecond")

	out := buf.String()
	assert.Contains(t, out, "cache (slow response)")
	assert.Contains(t, out, "rollback: drydock up --rollback=abc; second")
}

func TestPrinter_StandardContainsText(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinterWithLevel(&buf, PersonalityStandard)

	p.Title("Deploy")
	p.Info("tier 0")
	p.Error("boom")

	out := buf.String()
	assert.Contains(t, out, "Deploy")
	assert.Contains(t, out, "tier 0")
	assert.Contains(t, out, "boom")
	assert.False(t, p.Machine())
}

func TestWithSpinner_Machine(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)
	SetPersonalityLevel(PersonalityMachine)

	var buf bytes.Buffer
	p := NewPrinter(&buf)

	require.NoError(t, WithSpinner(p, "pulling images", func() error { return nil }))
	err := WithSpinner(p, "building app", func() error { return errors.New("exit 1") })
	require.Error(t, err)

	assert.Equal(t,
		"PROGRESS: pulling images\nOK\tpulling images\nPROGRESS: building app\nFAIL\tbuilding app: exit 1\n",
		buf.String())
}

func TestSpinner_StopIsIdempotent(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)
	SetPersonalityLevel(PersonalityStandard)

	var buf bytes.Buffer
	s := NewSpinner(&buf, "waiting")
	s.Start()
	s.Start()
	s.UpdateMessage("still waiting")
	s.Stop()
	s.Stop()
	assert.Contains(t, buf.String(), "\r\033[K")
}

func TestProgressBar(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	SetPersonalityLevel(PersonalityMachine)
	assert.Equal(t, "2/4", ProgressBar(2, 4, 10))

	SetPersonalityLevel(PersonalityStandard)
	assert.Contains(t, ProgressBar(2, 4, 10), "50%")
	assert.Equal(t, "0/0", ProgressBar(0, 0, 10))
}
