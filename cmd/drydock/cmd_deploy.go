// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/drydock/cmd/drydock/config"
	"github.com/AleutianAI/drydock/cmd/drydock/internal/infra/docker"
	"github.com/AleutianAI/drydock/cmd/drydock/internal/remote"
	"github.com/AleutianAI/drydock/cmd/drydock/internal/secrets"
	"github.com/AleutianAI/drydock/pkg/ux"
	"github.com/AleutianAI/drydock/pkg/validation"
)

// knownSecrets loads the local secrets file for redaction. A missing or
// unreadable file yields nil; remote output is then masked by pattern only.
func (a *app) knownSecrets() *secrets.Set {
	path := a.cfg.Secrets.Source
	if path == "" {
		return nil
	}
	set, err := secrets.ParseFile(path)
	if err != nil {
		a.logger.Debug("secrets file not loaded for redaction", "path", path, "error", err)
		return nil
	}
	return set
}

// deployerFactory registers one builder per environment kind.
//
// # Description
//
// Cloud environments are driven over SSH. Local environments run the
// executor and smoke runner in this process. Workstations are driven
// through the Docker Engine API at the environment's docker_host.
func (a *app) deployerFactory(redactor *remote.Redactor) *remote.Factory {
	f := remote.NewFactory()
	f.Register(config.EnvCloud, func(env config.EnvironmentConfig) (remote.Deployer, error) {
		dial := func(ctx context.Context, sc remote.SSHConfig) (remote.Commander, error) {
			ch, err := remote.DialSSH(ctx, sc, redactor, a.logger)
			if err != nil {
				return nil, err
			}
			return ch, nil
		}
		return remote.NewCloudDeployer(env, a.cfg.Remote, dial, a.logger)
	})
	f.Register(config.EnvLocal, func(env config.EnvironmentConfig) (remote.Deployer, error) {
		exec, err := a.Executor(newPrinterReporter(a.printer))
		if err != nil {
			return nil, err
		}
		sr, err := a.SmokeRunner(false)
		if err != nil {
			return nil, err
		}
		return remote.NewLocalDeployer(env, exec, sr, a.logger)
	})
	f.Register(config.EnvWorkstation, func(env config.EnvironmentConfig) (remote.Deployer, error) {
		containers := make(map[string]string)
		images := make(map[string]string)
		for _, svc := range a.registry.All() {
			containers[svc.Name] = svc.Container
			if svc.Image != "" {
				images[svc.Name] = svc.Image
			}
		}
		dial := func(host string) (remote.RuntimeCloser, error) {
			rt, err := docker.New(docker.Config{Host: host, Containers: containers, Images: images}, a.logger)
			if err != nil {
				return nil, err
			}
			return rt, nil
		}
		return remote.NewWorkstationDeployer(env, a.registry.Names(), dial, a.logger)
	})
	return f
}

func runDeploy(cmd *cobra.Command, args []string) error {
	envName := args[0]
	if err := validation.ValidateName("environment", envName); err != nil {
		return err
	}
	if err := validation.ValidateNames("service", deployServices); err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	known := a.knownSecrets()
	if known != nil {
		defer known.Destroy()
	}
	redactor := remote.NewRedactor(known)

	// Remote commands carry their own timeout; the step bound sits above it.
	stepTimeout := a.cfg.Remote.CommandTimeout + a.cfg.Remote.DialTimeout
	orch := remote.NewOrchestrator(a.cfg.Environments, a.deployerFactory(redactor),
		remote.HuhPrompter{}, a.tracer, a.logger, stepTimeout)

	a.printer.Status(ux.IconArrow, "Deploying to "+envName, "")
	out, deployErr := orch.Deploy(ctx, remote.DeployOptions{
		Environment: envName,
		Request: remote.DeployRequest{
			Services: deployServices,
			Force:    deployForce,
			DryRun:   deployDryRun,
		},
		SkipVerify:     deploySkipVerify,
		RollbackOnFail: deployRollbackOnFail,
		Overrides: remote.ConnectionOverrides{
			Host: deployHost,
			User: deployUser,
			Port: deployPort,
			Key:  deployKey,
		},
	})
	if out != nil {
		printOutcome(a.printer, out, deployErr)
	}
	return deployErr
}

func printOutcome(p *ux.Printer, out *remote.Outcome, err error) {
	title := "Deployed " + out.Environment + " (" + string(out.Kind) + ")"
	lines := []string{"steps: " + strings.Join(out.Completed, ", ")}
	if out.FailedStep != "" {
		title = "Deployment to " + out.Environment + " failed"
		lines = append(lines, "failed step: "+out.FailedStep)
	}
	if out.RolledBack {
		if out.RollbackErr != nil {
			lines = append(lines, "rollback failed: "+out.RollbackErr.Error())
		} else {
			lines = append(lines, "rolled back")
		}
	}
	lines = append(lines, "duration: "+out.Duration.Round(time.Millisecond).String())
	if err != nil {
		p.ErrorBox(title, strings.Join(lines, "\n"))
		return
	}
	p.Box(title, strings.Join(lines, "\n"))
}
