// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package registry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/drydock/cmd/drydock/config"
)

func fleet() []Service {
	return []Service{
		{Name: "api", Tier: 1, DependsOn: []string{"db"}, Health: config.HealthHTTP, HealthURL: "http://localhost:8080/health"},
		{Name: "db", Tier: 0, Critical: true, Health: config.HealthProcess},
		{Name: "proxy", Tier: 0, Critical: true, Health: config.HealthHTTP},
		{Name: "site", Tier: 3, Health: config.HealthNone},
		{Name: "bot", Tier: 2, DependsOn: []string{"api"}},
	}
}

func TestNew_OrdersByTier(t *testing.T) {
	r, err := New(fleet())
	require.NoError(t, err)

	assert.Equal(t, []int{0, 1, 2, 3}, r.TiersInOrder())
	assert.Equal(t, []string{"db", "proxy", "api", "bot", "site"}, r.Names())

	tier0 := r.ServicesInTier(0)
	require.Len(t, tier0, 2)
	assert.Equal(t, "db", tier0[0].Name)
	assert.Empty(t, r.ServicesInTier(7))
}

func TestNew_RejectsBadDependencies(t *testing.T) {
	tests := []struct {
		name     string
		services []Service
		want     error
	}{
		{
			name: "same tier",
			services: []Service{
				{Name: "db", Tier: 0},
				{Name: "cache", Tier: 0, DependsOn: []string{"db"}},
			},
			want: ErrTierOrder,
		},
		{
			name: "later tier",
			services: []Service{
				{Name: "db", Tier: 0, DependsOn: []string{"api"}},
				{Name: "api", Tier: 1},
			},
			want: ErrTierOrder,
		},
		{
			name:     "unknown",
			services: []Service{{Name: "api", Tier: 1, DependsOn: []string{"ghost"}}},
			want:     ErrUnknownService,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.services)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want))
			var cfgErr *ConfigurationError
			assert.ErrorAs(t, err, &cfgErr)
		})
	}
}

func TestNew_RejectsDuplicates(t *testing.T) {
	_, err := New([]Service{{Name: "db"}, {Name: "db", Tier: 1}})
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}

func TestLookups(t *testing.T) {
	r, err := New(fleet())
	require.NoError(t, err)

	crit, err := r.IsCritical("db")
	require.NoError(t, err)
	assert.True(t, crit)

	crit, err = r.IsCritical("api")
	require.NoError(t, err)
	assert.False(t, crit)

	shape, err := r.HealthShape("site")
	require.NoError(t, err)
	assert.Equal(t, config.HealthNone, shape)

	_, err = r.IsCritical("ghost")
	assert.True(t, errors.Is(err, ErrUnknownService))
	_, err = r.HealthShape("ghost")
	assert.True(t, errors.Is(err, ErrUnknownService))
}

func TestSelect(t *testing.T) {
	r, err := New(fleet())
	require.NoError(t, err)

	all, err := r.Select(nil)
	require.NoError(t, err)
	assert.Len(t, all, 5)

	sub, err := r.Select([]string{"site", "db"})
	require.NoError(t, err)
	require.Len(t, sub, 2)
	assert.Equal(t, "db", sub[0].Name)
	assert.Equal(t, "site", sub[1].Name)

	_, err = r.Select([]string{"db", "ghost"})
	assert.True(t, errors.Is(err, ErrUnknownService))
}

func TestGroupByTier(t *testing.T) {
	r, err := New(fleet())
	require.NoError(t, err)

	groups := GroupByTier(r.All())
	require.Len(t, groups, 4)
	assert.Len(t, groups[0], 2)
	assert.Equal(t, 3, groups[3][0].Tier)
	assert.Nil(t, GroupByTier(nil))
}

func TestFromConfig_DefaultFleet(t *testing.T) {
	cfg := config.DefaultConfig()
	r, err := FromConfig(&cfg)
	require.NoError(t, err)

	svc, err := r.Service("redis")
	require.NoError(t, err)
	assert.Equal(t, "fleet-redis", svc.Container)
	assert.True(t, svc.Critical)
	assert.Equal(t, []int{0, 1, 2, 3}, r.TiersInOrder())
}
