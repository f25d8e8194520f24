// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package resilience runs multi-step remote operations with compensation.
//
// A remote deployment is connect -> deploy -> verify. When verification fails
// (or the deploy itself fails part way) the completed steps are compensated
// in reverse order, which is how rollback-on-fail is wired.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// SagaStep is one step with an optional compensation.
type SagaStep struct {
	Name string

	Execute func(ctx context.Context) error

	// Compensate undoes Execute. Nil means nothing to undo.
	Compensate func(ctx context.Context) error

	// CompensateOwnFailure also compensates this step when it fails itself,
	// for steps that can leave partial state behind.
	CompensateOwnFailure bool

	// Timeout overrides SagaConfig.StepTimeout.
	Timeout time.Duration
}

// SagaConfig configures a Saga.
type SagaConfig struct {
	StepTimeout         time.Duration
	CompensationTimeout time.Duration

	// CompensateOnFail enables compensation. When false a failure only stops
	// the saga.
	CompensateOnFail bool

	Logger *slog.Logger

	OnStepStart  func(step SagaStep)
	OnStepFail   func(step SagaStep, err error)
	OnCompensate func(step SagaStep, err error)
}

// DefaultSagaConfig returns generous timeouts with compensation enabled.
func DefaultSagaConfig() SagaConfig {
	return SagaConfig{
		StepTimeout:         10 * time.Minute,
		CompensationTimeout: 10 * time.Minute,
		CompensateOnFail:    true,
		Logger:              slog.Default(),
	}
}

// SagaResult summarizes one Execute call.
type SagaResult struct {
	Success            bool
	CompletedSteps     []string
	FailedStep         string
	Compensated        []string
	CompensationErrors []CompensationError
	Duration           time.Duration
	Err                error
}

// CompensationError records a compensation that failed.
type CompensationError struct {
	StepName string
	Err      error
}

// ErrStepTimeout is returned when a step outlives its timeout.
var ErrStepTimeout = errors.New("step timed out")

// Saga executes steps in order and compensates on failure.
type Saga struct {
	config SagaConfig
	steps  []SagaStep
	mu     sync.Mutex
}

// NewSaga creates an empty saga.
func NewSaga(config SagaConfig) *Saga {
	def := DefaultSagaConfig()
	if config.StepTimeout <= 0 {
		config.StepTimeout = def.StepTimeout
	}
	if config.CompensationTimeout <= 0 {
		config.CompensationTimeout = def.CompensationTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Saga{config: config}
}

// AddStep appends a step.
func (s *Saga) AddStep(step SagaStep) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, step)
}

// StepCount returns the number of registered steps.
func (s *Saga) StepCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.steps)
}

// Execute runs every step.
//
// # Description
//
// Steps run sequentially. On the first failure (or ctx cancellation) the
// completed steps, plus the failing one when it asks for it, are compensated
// in reverse order on a context detached from ctx so that a cancelled
// deployment still gets rolled back.
//
// # Outputs
//
//   - SagaResult: Always populated; Err mirrors the returned error.
//   - error: The failing step's error wrapped with its name.
func (s *Saga) Execute(ctx context.Context) (SagaResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	var result SagaResult
	var completed []SagaStep

	for _, step := range s.steps {
		if ctx.Err() != nil {
			result.Err = fmt.Errorf("saga cancelled before step %q: %w", step.Name, ctx.Err())
			result.FailedStep = step.Name
			s.compensate(completed, &result)
			result.Duration = time.Since(start)
			return result, result.Err
		}

		timeout := step.Timeout
		if timeout <= 0 {
			timeout = s.config.StepTimeout
		}

		if err := s.executeStep(ctx, step, timeout); err != nil {
			result.Err = fmt.Errorf("saga failed at step %q: %w", step.Name, err)
			result.FailedStep = step.Name
			if s.config.OnStepFail != nil {
				s.config.OnStepFail(step, err)
			}
			toUndo := completed
			if step.CompensateOwnFailure {
				toUndo = append(append([]SagaStep(nil), completed...), step)
			}
			s.compensate(toUndo, &result)
			result.Duration = time.Since(start)
			return result, result.Err
		}

		completed = append(completed, step)
		result.CompletedSteps = append(result.CompletedSteps, step.Name)
	}

	result.Success = true
	result.Duration = time.Since(start)
	return result, nil
}

func (s *Saga) executeStep(ctx context.Context, step SagaStep, timeout time.Duration) error {
	if s.config.OnStepStart != nil {
		s.config.OnStepStart(step)
	}
	s.config.Logger.Info("executing step", "step", step.Name)
	start := time.Now()

	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- step.Execute(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			s.config.Logger.Error("step failed", "step", step.Name, "duration", time.Since(start), "error", err)
			return err
		}
		s.config.Logger.Info("step completed", "step", step.Name, "duration", time.Since(start))
		return nil
	case <-stepCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w after %v", ErrStepTimeout, timeout)
	}
}

func (s *Saga) compensate(steps []SagaStep, result *SagaResult) {
	if !s.config.CompensateOnFail || len(steps) == 0 {
		return
	}
	s.config.Logger.Info("compensating steps", "count", len(steps))

	for i := len(steps) - 1; i >= 0; i-- {
		step := steps[i]
		if step.Compensate == nil {
			continue
		}
		stepCtx, cancel := context.WithTimeout(context.Background(), s.config.CompensationTimeout)
		err := step.Compensate(stepCtx)
		cancel()

		if err != nil {
			s.config.Logger.Warn("compensation failed", "step", step.Name, "error", err)
			result.CompensationErrors = append(result.CompensationErrors, CompensationError{StepName: step.Name, Err: err})
		} else {
			s.config.Logger.Info("compensated step", "step", step.Name)
			result.Compensated = append(result.Compensated, step.Name)
		}
		if s.config.OnCompensate != nil {
			s.config.OnCompensate(step, err)
		}
	}
}
