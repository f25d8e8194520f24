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
	"fmt"
	"strings"
)

// RuntimeKind selects the container control plane.
type RuntimeKind string

const (
	RuntimeCompose RuntimeKind = "compose"
	RuntimeDocker  RuntimeKind = "docker"
)

// HealthShape is how a service proves it is alive.
type HealthShape string

const (
	// HealthHTTP polls an HTTP path unless the container reports its own health.
	HealthHTTP HealthShape = "http"

	// HealthProcess relies on container liveness (and container health if defined).
	HealthProcess HealthShape = "process"

	// HealthNone means running is the whole contract.
	HealthNone HealthShape = "none"
)

// SmokeCategory orders smoke checks. The order of SmokeCategories is the
// execution order.
type SmokeCategory string

const (
	CategoryInfrastructure SmokeCategory = "infrastructure"
	CategoryCore           SmokeCategory = "core"
	CategoryWorkers        SmokeCategory = "workers"
	CategorySites          SmokeCategory = "sites"
	CategoryUtilities      SmokeCategory = "utilities"
)

// SmokeCategories lists every smoke category in execution order.
var SmokeCategories = []SmokeCategory{
	CategoryInfrastructure,
	CategoryCore,
	CategoryWorkers,
	CategorySites,
	CategoryUtilities,
}

// CheckKind is the transport a smoke check or probe uses.
type CheckKind string

const (
	CheckHTTP      CheckKind = "http"
	CheckTCP       CheckKind = "tcp"
	CheckPostgres  CheckKind = "postgres"
	CheckRedis     CheckKind = "redis"
	CheckContainer CheckKind = "container"
)

// ProbeCategory groups probes in the remote probe registry.
type ProbeCategory string

const (
	ProbeService        ProbeCategory = "service"
	ProbeInfrastructure ProbeCategory = "infrastructure"
	ProbeAI             ProbeCategory = "ai"
)

// ProbeCategories lists every probe category.
var ProbeCategories = []ProbeCategory{ProbeService, ProbeInfrastructure, ProbeAI}

// EnvironmentKind selects the deployer implementation for an environment.
type EnvironmentKind string

const (
	EnvCloud       EnvironmentKind = "cloud"
	EnvLocal       EnvironmentKind = "local"
	EnvWorkstation EnvironmentKind = "workstation"
)

// EnvironmentKinds lists every environment kind.
var EnvironmentKinds = []EnvironmentKind{EnvCloud, EnvLocal, EnvWorkstation}

// ParseSmokeCategory rejects anything outside SmokeCategories.
func ParseSmokeCategory(s string) (SmokeCategory, error) {
	for _, c := range SmokeCategories {
		if strings.EqualFold(s, string(c)) {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown smoke category %q (want one of %s)", s, joinValues(SmokeCategories))
}

// ParseProbeCategory rejects anything outside ProbeCategories.
func ParseProbeCategory(s string) (ProbeCategory, error) {
	for _, c := range ProbeCategories {
		if strings.EqualFold(s, string(c)) {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown probe category %q (want one of %s)", s, joinValues(ProbeCategories))
}

// ParseEnvironmentKind rejects anything outside EnvironmentKinds.
func ParseEnvironmentKind(s string) (EnvironmentKind, error) {
	for _, k := range EnvironmentKinds {
		if strings.EqualFold(s, string(k)) {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown environment kind %q (want one of %s)", s, joinValues(EnvironmentKinds))
}

// CategoryIndex returns the execution position of c, or -1.
func CategoryIndex(c SmokeCategory) int {
	for i, cat := range SmokeCategories {
		if cat == c {
			return i
		}
	}
	return -1
}

func joinValues[T ~string](values []T) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = string(v)
	}
	return strings.Join(parts, ", ")
}
