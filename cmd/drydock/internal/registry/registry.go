// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package registry holds the static, tier-ordered description of the fleet.
package registry

import (
	"errors"
	"fmt"
	"sort"

	"github.com/AleutianAI/drydock/cmd/drydock/config"
)

// ErrUnknownService is returned for names that are not in the registry.
var ErrUnknownService = errors.New("unknown service")

// ErrTierOrder is returned when a dependency does not point at an earlier tier.
var ErrTierOrder = errors.New("dependency must be in an earlier tier")

// ConfigurationError reports a static configuration problem detected by the
// registry.
type ConfigurationError struct {
	Field string
	Err   error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error (%s): %v", e.Field, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// Service is one immutable service descriptor.
type Service struct {
	Name      string
	Tier      int
	DependsOn []string
	Critical  bool
	Health    config.HealthShape

	// HealthURL is polled for the http shape when the container reports no
	// health status of its own.
	HealthURL    string
	ExpectStatus int

	Container string
	Image     string
	Build     bool
}

// Registry is the tier-ordered service list. It is read-only after New.
type Registry struct {
	services []Service
	byName   map[string]int
	tiers    []int
}

// New builds a registry and enforces the tier DAG.
//
// # Description
//
// Services are kept in tier order, then in declaration order within a tier.
// Every explicit dependency must name a known service in a strictly earlier
// tier, which makes the tier ordering a valid topological order.
//
// # Outputs
//
//   - *Registry: Ready for lookups.
//   - error: *ConfigurationError wrapping ErrUnknownService or ErrTierOrder.
func New(services []Service) (*Registry, error) {
	r := &Registry{
		services: make([]Service, len(services)),
		byName:   make(map[string]int, len(services)),
	}
	copy(r.services, services)
	sort.SliceStable(r.services, func(i, j int) bool {
		return r.services[i].Tier < r.services[j].Tier
	})

	for i, svc := range r.services {
		if svc.Tier < 0 {
			return nil, &ConfigurationError{Field: "services." + svc.Name + ".tier", Err: fmt.Errorf("negative tier %d", svc.Tier)}
		}
		if _, dup := r.byName[svc.Name]; dup {
			return nil, &ConfigurationError{Field: "services." + svc.Name, Err: errors.New("duplicate service")}
		}
		r.byName[svc.Name] = i
		if len(r.tiers) == 0 || r.tiers[len(r.tiers)-1] != svc.Tier {
			r.tiers = append(r.tiers, svc.Tier)
		}
	}

	for _, svc := range r.services {
		for _, dep := range svc.DependsOn {
			idx, ok := r.byName[dep]
			if !ok {
				return nil, &ConfigurationError{
					Field: "services." + svc.Name + ".depends_on",
					Err:   fmt.Errorf("%w %q", ErrUnknownService, dep),
				}
			}
			if r.services[idx].Tier >= svc.Tier {
				return nil, &ConfigurationError{
					Field: "services." + svc.Name + ".depends_on",
					Err: fmt.Errorf("%w: %s (tier %d) depends on %s (tier %d)",
						ErrTierOrder, svc.Name, svc.Tier, dep, r.services[idx].Tier),
				}
			}
		}
	}
	return r, nil
}

// FromConfig builds a registry from the services section of cfg.
func FromConfig(cfg *config.DrydockConfig) (*Registry, error) {
	services := make([]Service, 0, len(cfg.Services))
	for _, sc := range cfg.Services {
		services = append(services, Service{
			Name:         sc.Name,
			Tier:         sc.Tier,
			DependsOn:    sc.DependsOn,
			Critical:     sc.Critical,
			Health:       sc.Health,
			HealthURL:    sc.HealthURL,
			ExpectStatus: sc.ExpectStatus,
			Container:    cfg.ContainerName(sc),
			Image:        sc.Image,
			Build:        sc.Build,
		})
	}
	return New(services)
}

// TiersInOrder returns the distinct tier numbers, lowest first.
func (r *Registry) TiersInOrder() []int {
	out := make([]int, len(r.tiers))
	copy(out, r.tiers)
	return out
}

// ServicesInTier returns the services of tier n in declaration order.
func (r *Registry) ServicesInTier(n int) []Service {
	var out []Service
	for _, svc := range r.services {
		if svc.Tier == n {
			out = append(out, svc)
		}
	}
	return out
}

// Service looks up one service by name.
func (r *Registry) Service(name string) (Service, error) {
	idx, ok := r.byName[name]
	if !ok {
		return Service{}, &ConfigurationError{Field: "service", Err: fmt.Errorf("%w %q", ErrUnknownService, name)}
	}
	return r.services[idx], nil
}

// IsCritical reports whether the named service is critical.
func (r *Registry) IsCritical(name string) (bool, error) {
	svc, err := r.Service(name)
	if err != nil {
		return false, err
	}
	return svc.Critical, nil
}

// HealthShape returns the health check shape of the named service.
func (r *Registry) HealthShape(name string) (config.HealthShape, error) {
	svc, err := r.Service(name)
	if err != nil {
		return "", err
	}
	return svc.Health, nil
}

// Names returns every service name in tier order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.services))
	for i, svc := range r.services {
		out[i] = svc.Name
	}
	return out
}

// All returns every service in tier order.
func (r *Registry) All() []Service {
	out := make([]Service, len(r.services))
	copy(out, r.services)
	return out
}

// Select returns the named services in tier order. An empty request selects
// everything. Unknown names are rejected before anything is returned.
func (r *Registry) Select(names []string) ([]Service, error) {
	if len(names) == 0 {
		return r.All(), nil
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		if _, ok := r.byName[n]; !ok {
			return nil, &ConfigurationError{Field: "services", Err: fmt.Errorf("%w %q", ErrUnknownService, n)}
		}
		want[n] = true
	}
	var out []Service
	for _, svc := range r.services {
		if want[svc.Name] {
			out = append(out, svc)
		}
	}
	return out, nil
}

// GroupByTier splits services (already in tier order) into tier buckets.
func GroupByTier(services []Service) [][]Service {
	var groups [][]Service
	for _, svc := range services {
		n := len(groups)
		if n == 0 || groups[n-1][0].Tier != svc.Tier {
			groups = append(groups, []Service{svc})
			continue
		}
		groups[n-1] = append(groups[n-1], svc)
	}
	return groups
}
