// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// configValidate is the shared validator instance for config structs.
var configValidate *validator.Validate

func init() {
	configValidate = validator.New()
}

// Validate checks struct tags and cross references between sections.
//
// # Description
//
// Struct tags cover shape (required fields, closed enumerations, ports).
// The cross-reference pass covers what tags cannot express: unique service
// and environment names, dependency and check references that point at real
// services, and the escalation checks named in the smoke section. Tier
// ordering itself is enforced when the service registry is built.
//
// # Outputs
//
//   - error: Joined list of every problem found, nil when the config is usable.
func Validate(cfg *DrydockConfig) error {
	if err := configValidate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	var problems []error
	services := make(map[string]bool, len(cfg.Services))
	for _, svc := range cfg.Services {
		if services[svc.Name] {
			problems = append(problems, fmt.Errorf("duplicate service %q", svc.Name))
		}
		services[svc.Name] = true
	}
	for _, svc := range cfg.Services {
		for _, dep := range svc.DependsOn {
			if !services[dep] {
				problems = append(problems, fmt.Errorf("service %q depends on unknown service %q", svc.Name, dep))
			}
		}
	}
	if cfg.Database.Service != "" && !services[cfg.Database.Service] {
		problems = append(problems, fmt.Errorf("database.service %q is not a configured service", cfg.Database.Service))
	}

	checks := make(map[string]SmokeCheckConfig, len(cfg.Smoke.Checks))
	for _, c := range cfg.Smoke.Checks {
		if _, dup := checks[c.Name]; dup {
			problems = append(problems, fmt.Errorf("duplicate smoke check %q", c.Name))
		}
		checks[c.Name] = c
		if c.Service != "" && !services[c.Service] {
			problems = append(problems, fmt.Errorf("smoke check %q owned by unknown service %q", c.Name, c.Service))
		}
	}
	for _, name := range []string{cfg.Smoke.Database, cfg.Smoke.Proxy, cfg.Smoke.Cache} {
		if name == "" {
			continue
		}
		c, ok := checks[name]
		switch {
		case !ok:
			problems = append(problems, fmt.Errorf("escalation check %q is not a configured smoke check", name))
		case c.Optional:
			problems = append(problems, fmt.Errorf("escalation check %q cannot be optional", name))
		}
	}

	envs := make(map[string]bool, len(cfg.Environments))
	for _, env := range cfg.Environments {
		if envs[env.Name] {
			problems = append(problems, fmt.Errorf("duplicate environment %q", env.Name))
		}
		envs[env.Name] = true
	}
	for _, p := range cfg.Probes {
		if p.Kind != CheckContainer && p.Target == "" {
			problems = append(problems, fmt.Errorf("probe %q needs a target", p.Name))
		}
		if p.Kind == CheckContainer && p.Service == "" {
			problems = append(problems, fmt.Errorf("container probe %q needs a service", p.Name))
		}
		for _, e := range p.Environments {
			if !envs[e] {
				problems = append(problems, fmt.Errorf("probe %q restricted to unknown environment %q", p.Name, e))
			}
		}
	}
	for _, r := range cfg.Secrets.BackupRecipients {
		if !strings.HasPrefix(r, "age1") {
			problems = append(problems, fmt.Errorf("secrets backup recipient %q is not an age public key", r))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(problems...))
	}
	return nil
}

// Environment returns the named environment.
func (c *DrydockConfig) Environment(name string) (EnvironmentConfig, bool) {
	for _, env := range c.Environments {
		if env.Name == name {
			return env, true
		}
	}
	return EnvironmentConfig{}, false
}

// ContainerName resolves the container backing a service.
func (c *DrydockConfig) ContainerName(svc ServiceConfig) string {
	if svc.Container != "" {
		return svc.Container
	}
	return c.Project.ContainerPrefix + svc.Name
}
