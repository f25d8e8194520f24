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
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/drydock/cmd/drydock/config"
	"github.com/AleutianAI/drydock/cmd/drydock/internal/deploy"
)

func environments() []config.EnvironmentConfig {
	return []config.EnvironmentConfig{
		{
			Name: "cloud", Kind: config.EnvCloud, Enabled: true,
			Capabilities: []string{"tls", "backups"},
			Endpoints:    map[string]string{"api": "https://api.example.com"},
			Markers: config.DetectionMarkers{
				Files:     []string{"/etc/drydock/cloud"},
				Hostnames: []string{"prod-*"},
			},
		},
		{
			Name: "workstation", Kind: config.EnvWorkstation, Enabled: true,
			Markers: config.DetectionMarkers{Endpoints: []string{"10.0.0.5:2375"}},
		},
		{Name: "legacy", Kind: config.EnvCloud, Enabled: false,
			Markers: config.DetectionMarkers{Hostnames: []string{"*"}}},
		{Name: "laptop", Kind: config.EnvLocal, Enabled: true},
	}
}

func fakeDetector(env map[string]string, files []string, host string, reachable []string) *Detector {
	d := NewDetector(environments())
	d.getenv = func(k string) string { return env[k] }
	d.exists = func(p string) bool {
		for _, f := range files {
			if f == p {
				return true
			}
		}
		return false
	}
	d.hostname = func() (string, error) { return host, nil }
	d.dial = func(_ context.Context, addr string) error {
		for _, r := range reachable {
			if r == addr {
				return nil
			}
		}
		return errors.New("connection refused")
	}
	return d
}

func TestDetect(t *testing.T) {
	tests := []struct {
		name      string
		env       map[string]string
		files     []string
		host      string
		reachable []string
		want      string
		source    Source
	}{
		{"override wins", map[string]string{EnvironmentEnv: "workstation"}, []string{"/etc/drydock/cloud"}, "prod-1", nil, "workstation", SourceOverride},
		{"override may name a disabled environment", map[string]string{EnvironmentEnv: "legacy"}, nil, "", nil, "legacy", SourceOverride},
		{"marker file", nil, []string{"/etc/drydock/cloud"}, "dev", nil, "cloud", SourceMarker},
		{"hostname pattern", nil, nil, "prod-7", nil, "cloud", SourceHostname},
		{"disabled environments are ignored", nil, nil, "anything", nil, "laptop", SourceFallback},
		{"reachable endpoint", nil, nil, "dev", []string{"10.0.0.5:2375"}, "workstation", SourceEndpoint},
		{"fallback to local", nil, nil, "dev", nil, "laptop", SourceFallback},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := fakeDetector(tt.env, tt.files, tt.host, tt.reachable).Detect(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Environment.Name)
			assert.Equal(t, tt.source, got.Source)
		})
	}
}

func TestDetect_ExposesCapabilitiesAndEndpoints(t *testing.T) {
	got, err := fakeDetector(nil, []string{"/etc/drydock/cloud"}, "", nil).Detect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"tls", "backups"}, got.Capabilities())
	assert.Equal(t, "https://api.example.com", got.Endpoints()["api"])
	assert.Equal(t, "/etc/drydock/cloud", got.Evidence)
}

func TestDetect_UnknownOverride(t *testing.T) {
	_, err := fakeDetector(map[string]string{EnvironmentEnv: "mars"}, nil, "", nil).Detect(context.Background())
	assert.ErrorIs(t, err, ErrUnknownEnvironment)
	assert.Equal(t, deploy.ClassConfigurationError, deploy.Classify(err))
}

func TestDetect_NothingMatches(t *testing.T) {
	d := NewDetector([]config.EnvironmentConfig{{Name: "cloud", Kind: config.EnvCloud, Enabled: true}})
	d.getenv = func(string) string { return "" }
	d.hostname = func() (string, error) { return "dev", nil }
	_, err := d.Detect(context.Background())
	assert.ErrorIs(t, err, ErrNoEnvironment)
}
