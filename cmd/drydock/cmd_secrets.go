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
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/drydock/cmd/drydock/internal/deploy"
	"github.com/AleutianAI/drydock/cmd/drydock/internal/remote"
	"github.com/AleutianAI/drydock/cmd/drydock/internal/secrets"
	"github.com/AleutianAI/drydock/pkg/ux"
	"github.com/AleutianAI/drydock/pkg/validation"
)

// newSyncer wires the synchronizer. local seeds the redactor so transport
// errors never echo a known value; it may be nil.
func (a *app) newSyncer(local *secrets.Set, confirm secrets.Confirmer) (*secrets.Syncer, error) {
	dial := remote.NewTransportDialer(a.cfg.Remote, remote.NewRedactor(local), a.logger)
	s, err := secrets.NewSyncer(secrets.Config{
		Targets:    a.cfg.Environments,
		BackupDir:  a.cfg.Secrets.BackupDir,
		Recipients: a.cfg.Secrets.BackupRecipients,
	}, dial, confirm, a.logger)
	if err != nil {
		return nil, deploy.NewStageError(deploy.ClassConfigurationError, "secrets", err)
	}
	return s, nil
}

func (a *app) secretsSource(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if a.cfg.Secrets.Source != "" {
		return a.cfg.Secrets.Source, nil
	}
	return "", deploy.NewStageError(deploy.ClassConfigurationError, "secrets",
		errors.New("no secrets file: set secrets.source or pass --source/--output"))
}

func runSecretsSync(cmd *cobra.Command, args []string) error {
	if secretsEnvironment != "" {
		if err := validation.ValidateName("environment", secretsEnvironment); err != nil {
			return err
		}
	}
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	path, err := a.secretsSource(secretsSource)
	if err != nil {
		return err
	}
	local, err := secrets.ParseFile(path)
	if err != nil {
		return deploy.NewStageError(deploy.ClassPreflightFailure, "read "+path, err)
	}
	defer local.Destroy()

	syncer, err := a.newSyncer(local, nil)
	if err != nil {
		return err
	}
	results, syncErr := syncer.Sync(ctx, local, secrets.SyncOptions{
		Environment: secretsEnvironment,
		DryRun:      secretsDryRun,
		Backup:      secretsBackup,
	})
	printSyncResults(a.printer, results, secretsDryRun)
	if syncErr != nil {
		if len(results) == 0 {
			return deploy.NewStageError(deploy.ClassConfigurationError, "secrets sync", syncErr)
		}
		return exitWith(1, nil)
	}
	return nil
}

func printSyncResults(p *ux.Printer, results []secrets.SyncResult, dryRun bool) {
	p.Title("Secrets sync")
	var written, failed int
	for _, r := range results {
		switch {
		case r.Error != "":
			failed++
			p.Status(ux.IconError, r.Environment, r.Error)
		case dryRun:
			p.Status(ux.IconPending, r.Environment, "would write "+r.Path+": "+r.Diff.Summary())
		default:
			written++
			detail := r.Diff.Summary()
			if r.BackupPath != "" {
				detail += ", backup " + r.BackupPath
			}
			p.Status(ux.IconSuccess, r.Environment, detail)
		}
		if r.Error == "" {
			printDiff(p, r.Diff)
		}
	}
	p.Summary(
		ux.Count{Label: "targets", N: len(results)},
		ux.Count{Label: "written", N: written, Icon: ux.IconSuccess},
		ux.Count{Label: "failed", N: failed, Icon: ux.IconError},
	)
}

// printDiff lists changed keys. Values are never part of a Diff.
func printDiff(p *ux.Printer, d secrets.Diff) {
	for _, e := range d.Entries {
		if e.Change == secrets.Unchanged {
			continue
		}
		p.Muted("    " + string(e.Change) + " " + e.Key)
	}
}

func runSecretsPull(cmd *cobra.Command, args []string) error {
	env := args[0]
	if err := validation.ValidateName("environment", env); err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	output, err := a.secretsSource(pullOutput)
	if err != nil {
		return err
	}
	// The current file, when readable, seeds the redactor.
	var known *secrets.Set
	if set, err := secrets.ParseFile(output); err == nil {
		known = set
		defer set.Destroy()
	} else if !errors.Is(err, os.ErrNotExist) {
		a.logger.Warn("local secrets file unreadable", "path", output, "error", err)
	}

	var confirm secrets.Confirmer
	prompter := remote.HuhPrompter{}
	if prompter.Interactive() {
		confirm = prompter.ConfirmDiff
	}
	syncer, err := a.newSyncer(known, confirm)
	if err != nil {
		return err
	}

	res, err := syncer.Pull(ctx, secrets.PullOptions{
		Environment: env,
		Output:      output,
		DryRun:      secretsDryRun,
		Backup:      secretsBackup,
		Yes:         pullYes,
	})
	if res != nil {
		printPullResult(a.printer, res, secretsDryRun)
	}
	return err
}

func printPullResult(p *ux.Printer, r *secrets.PullResult, dryRun bool) {
	switch {
	case r.Written:
		detail := r.Diff.Summary()
		if r.BackupPath != "" {
			detail += ", backup " + r.BackupPath
		}
		p.Status(ux.IconSuccess, "pulled "+r.Environment+" into "+r.Output, detail)
	case dryRun:
		p.Status(ux.IconPending, "would pull "+r.Environment+" into "+r.Output, r.Diff.Summary())
	default:
		p.Status(ux.IconWarning, "nothing written to "+r.Output, r.Diff.Summary())
	}
	printDiff(p, r.Diff)
}
