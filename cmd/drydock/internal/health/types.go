// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package health

import (
	"net/http"
	"time"
)

// Status is the outcome of a readiness check.
type Status string

const (
	// StatusHealthy means the runtime or the HTTP endpoint confirmed health.
	StatusHealthy Status = "healthy"

	// StatusRunningNoCheck means the container runs and nothing more can be
	// asked of it. Counts as success.
	StatusRunningNoCheck Status = "running-no-check"

	// StatusUnhealthy means the container runs but its check kept failing.
	StatusUnhealthy Status = "unhealthy"

	// StatusNotRunning means there is no running container.
	StatusNotRunning Status = "not-running"
)

// OK reports whether s counts as a successful check.
func (s Status) OK() bool {
	return s == StatusHealthy || s == StatusRunningNoCheck
}

// Result is the transient outcome of verifying one service.
type Result struct {
	Service  string        `json:"service"`
	Status   Status        `json:"status"`
	Attempts int           `json:"attempts"`
	Elapsed  time.Duration `json:"elapsed"`
	Critical bool          `json:"critical"`

	// Fatal is set when a critical service did not become healthy; the
	// caller must abort.
	Fatal bool `json:"fatal"`

	Message string `json:"message,omitempty"`
}

// OK reports whether the service passed.
func (r Result) OK() bool {
	return r.Status.OK()
}

// HTTPClient is the slice of *http.Client the prober needs.
//
// # Examples
//
//	type MockHTTPClient struct {
//	    DoFunc func(*http.Request) (*http.Response, error)
//	}
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds prober defaults.
type Config struct {
	MaxAttempts int
	Interval    time.Duration
	HTTPTimeout time.Duration

	// PollInterval is how often WaitRunning re-inspects a starting container.
	PollInterval time.Duration
}

// DefaultConfig returns six attempts ten seconds apart.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  6,
		Interval:     10 * time.Second,
		HTTPTimeout:  5 * time.Second,
		PollInterval: time.Second,
	}
}

// phase is a state of the polling machine.
type phase int

const (
	phasePending phase = iota
	phaseChecking
	phaseWaiting
	phaseDone
)

func (p phase) String() string {
	switch p {
	case phasePending:
		return "pending"
	case phaseChecking:
		return "checking"
	case phaseWaiting:
		return "waiting"
	default:
		return "done"
	}
}

// observation is what one check attempt concluded.
type observation int

const (
	obsHealthy observation = iota
	obsRunningNoCheck
	obsRetry
	obsNotRunning
)
