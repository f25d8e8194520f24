// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Package probe runs named, categorized health probes against an environment.

Probes are declared in configuration and grouped into the service,
infrastructure and ai categories. A failing probe that names an owning
service can be remediated: the service is restarted, a settle delay
elapses, and the probe is checked again. The re-check is final. Probes that
cannot be remediated, or whose remediation fails, carry an ordered list of
manual recovery steps.
*/
package probe

import (
	"fmt"
	"slices"

	"github.com/AleutianAI/drydock/cmd/drydock/config"
)

// Registry holds the configured probes in declaration order.
type Registry struct {
	probes []config.ProbeConfig
}

// NewRegistry validates names and categories.
func NewRegistry(probes []config.ProbeConfig) (*Registry, error) {
	seen := make(map[string]bool, len(probes))
	for _, p := range probes {
		if p.Name == "" {
			return nil, fmt.Errorf("probe without a name")
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("duplicate probe %q", p.Name)
		}
		seen[p.Name] = true
		if _, err := config.ParseProbeCategory(string(p.Category)); err != nil {
			return nil, fmt.Errorf("probe %q: %w", p.Name, err)
		}
	}
	return &Registry{probes: slices.Clone(probes)}, nil
}

// Len returns the number of registered probes.
func (r *Registry) Len() int { return len(r.probes) }

// Filter narrows a selection.
type Filter struct {
	// Environment is the detected or requested environment name. Probes
	// restricted to other environments are skipped.
	Environment string

	// Category limits the selection when set.
	Category config.ProbeCategory
}

// Select splits the registry into probes to run and probes skipped for the
// environment. Probes outside the category are not returned at all.
func (r *Registry) Select(f Filter) (run, skipped []config.ProbeConfig) {
	for _, p := range r.probes {
		if f.Category != "" && p.Category != f.Category {
			continue
		}
		if len(p.Environments) > 0 && !slices.Contains(p.Environments, f.Environment) {
			skipped = append(skipped, p)
			continue
		}
		run = append(run, p)
	}
	return run, skipped
}
