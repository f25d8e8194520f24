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
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/AleutianAI/drydock/cmd/drydock/config"
	"github.com/AleutianAI/drydock/cmd/drydock/internal/deploy"
	"github.com/AleutianAI/drydock/cmd/drydock/internal/secrets"
	"github.com/AleutianAI/drydock/pkg/ux"
)

// ErrNonInteractive is returned when input is needed but no terminal is
// attached.
var ErrNonInteractive = errors.New("input required but session is not interactive")

// Connection parameters that may be missing.
const (
	ParamHost       = "host"
	ParamUser       = "user"
	ParamPort       = "port"
	ParamKey        = "key"
	ParamDockerHost = "docker_host"
)

// ConnectionOverrides come from deploy command flags.
type ConnectionOverrides struct {
	Host string
	User string
	Port int
	Key  string
}

// Apply copies the non-empty overrides into env.
func (o ConnectionOverrides) Apply(env *config.EnvironmentConfig) {
	if o.Host != "" {
		env.Host = o.Host
		if env.Kind == config.EnvWorkstation && env.DockerHost == "" {
			env.DockerHost = "ssh://" + o.Host
		}
	}
	if o.User != "" {
		env.User = o.User
	}
	if o.Port != 0 {
		env.Port = o.Port
	}
	if o.Key != "" {
		env.KeyPath = o.Key
	}
}

// MissingParams lists the connection parameters env still needs.
func MissingParams(env config.EnvironmentConfig) []string {
	var missing []string
	switch env.Kind {
	case config.EnvCloud:
		if env.Host == "" {
			missing = append(missing, ParamHost)
		}
		if env.User == "" {
			missing = append(missing, ParamUser)
		}
	case config.EnvWorkstation:
		if env.DockerHost == "" {
			missing = append(missing, ParamDockerHost)
		}
	}
	return missing
}

// Prompter asks the operator for input.
type Prompter interface {
	Interactive() bool
	ConnectionParams(env *config.EnvironmentConfig, missing []string) error
	ConfirmRollback(env string, cause error) (bool, error)
	ConfirmDiff(env string, diff secrets.Diff) (bool, error)
}

// CompleteConnection fills missing parameters by prompting. Sessions
// without a terminal fail with a ConnectivityFailure naming what is
// missing.
func CompleteConnection(env *config.EnvironmentConfig, p Prompter) error {
	missing := MissingParams(*env)
	if len(missing) == 0 {
		return nil
	}
	if p == nil || !p.Interactive() {
		return deploy.NewStageError(deploy.ClassConnectivityFailure, "connect "+env.Name,
			fmt.Errorf("%w: missing %s", ErrNonInteractive, strings.Join(missing, ", ")))
	}
	if err := p.ConnectionParams(env, missing); err != nil {
		return err
	}
	if still := MissingParams(*env); len(still) > 0 {
		return deploy.NewStageError(deploy.ClassConnectivityFailure, "connect "+env.Name,
			fmt.Errorf("missing %s", strings.Join(still, ", ")))
	}
	return nil
}

// HuhPrompter prompts with huh forms when stdin and stdout are terminals.
type HuhPrompter struct{}

var _ Prompter = HuhPrompter{}

func (HuhPrompter) Interactive() bool { return ux.IsInteractive() }

func (HuhPrompter) ConnectionParams(env *config.EnvironmentConfig, missing []string) error {
	port := ""
	if env.Port != 0 {
		port = strconv.Itoa(env.Port)
	}
	var fields []huh.Field
	for _, m := range missing {
		switch m {
		case ParamHost:
			fields = append(fields, huh.NewInput().Title("Host for "+env.Name).Value(&env.Host).Validate(required))
			fields = append(fields, huh.NewInput().Title("SSH port").Placeholder("22").Value(&port).Validate(optionalPort))
		case ParamUser:
			fields = append(fields, huh.NewInput().Title("SSH user").Value(&env.User).Validate(required))
		case ParamKey:
			fields = append(fields, huh.NewInput().Title("Private key path").Value(&env.KeyPath))
		case ParamDockerHost:
			fields = append(fields, huh.NewInput().Title("Docker host for "+env.Name).
				Placeholder("ssh://user@workstation").Value(&env.DockerHost).Validate(required))
		}
	}
	if len(fields) == 0 {
		return nil
	}
	if err := huh.NewForm(huh.NewGroup(fields...)).Run(); err != nil {
		return err
	}
	if port != "" {
		env.Port, _ = strconv.Atoi(port)
	}
	return nil
}

func (HuhPrompter) ConfirmRollback(env string, cause error) (bool, error) {
	ok := false
	err := huh.NewConfirm().
		Title("Deployment to " + env + " failed").
		Description(cause.Error()).
		Affirmative("Roll back").
		Negative("Leave as is").
		Value(&ok).
		Run()
	return ok, err
}

// ConfirmDiff shows key names only.
func (HuhPrompter) ConfirmDiff(env string, diff secrets.Diff) (bool, error) {
	ok := false
	err := huh.NewConfirm().
		Title("Overwrite local secrets from " + env + "?").
		Description(diff.String()).
		Affirmative("Overwrite").
		Negative("Cancel").
		Value(&ok).
		Run()
	return ok, err
}

func required(s string) error {
	if strings.TrimSpace(s) == "" {
		return errors.New("required")
	}
	return nil
}

func optionalPort(s string) error {
	if s == "" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > 65535 {
		return errors.New("port must be 1-65535")
	}
	return nil
}

// MockPrompter implements Prompter for tests.
type MockPrompter struct {
	IsInteractive bool
	Fill          func(env *config.EnvironmentConfig, missing []string) error
	Rollback      bool
	Overwrite     bool
	Asked         []string
}

func (m *MockPrompter) Interactive() bool { return m.IsInteractive }

func (m *MockPrompter) ConnectionParams(env *config.EnvironmentConfig, missing []string) error {
	m.Asked = append(m.Asked, missing...)
	if m.Fill != nil {
		return m.Fill(env, missing)
	}
	return nil
}

func (m *MockPrompter) ConfirmRollback(string, error) (bool, error) {
	m.Asked = append(m.Asked, "rollback")
	return m.Rollback, nil
}

func (m *MockPrompter) ConfirmDiff(string, secrets.Diff) (bool, error) {
	m.Asked = append(m.Asked, "diff")
	return m.Overwrite, nil
}
