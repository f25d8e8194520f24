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
	"github.com/spf13/cobra"

	"github.com/AleutianAI/drydock/pkg/ux"
)

// --- Global Command Variables ---
var (
	configPath  string
	personality = newPersonalityFlag() // UX personality level (full/standard/minimal/machine)
	logLevel    = newLogLevelFlag()

	// up
	upDryRun        bool
	upForce         bool
	upSkipBackup    bool
	upSkipPreflight bool
	upRollback      string

	// smoke
	smokeAutoFix bool
	smokeJSON    bool
	smokeQuiet   bool

	// secrets
	secretsEnvironment string
	secretsSource      string
	secretsDryRun      bool
	secretsBackup      bool
	pullOutput         string
	pullYes            bool

	// deploy
	deployForce          bool
	deployServices       []string
	deployDryRun         bool
	deploySkipVerify     bool
	deployRollbackOnFail bool
	deployHost           string
	deployUser           string
	deployPort           int
	deployKey            string

	// status
	statusEnvironment string
	statusCategory    = newProbeCategoryFlag()
	statusRemediate   bool
	statusParallel    bool
	statusWatch       bool
	statusJSON        bool

	// snapshot, runs, env
	pruneDays  int
	runsLimit  int
	outputJSON bool

	rootCmd = &cobra.Command{
		Use:   "drydock",
		Short: "Deploy, verify and roll back a tiered container fleet",
		Long: `drydock brings a fleet of containerized services up tier by tier,
verifies their health, smoke-tests the result, and restores the last
snapshot when a deployment goes wrong. It also drives the same workflow on
remote environments and keeps their secret files in sync.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			ux.InitPersonality(personality.String())
		},
	}

	// --- Local pipeline ---
	upCmd = &cobra.Command{
		Use:   "up [services...]",
		Short: "Deploy the fleet, or the named services, tier by tier",
		Long: `Runs preflight, snapshots the current state, pulls and builds images,
then starts each tier and waits for it to become healthy before the next.
A critical service that does not become healthy aborts the run.

With --rollback the snapshot of the given run (or the latest one) is
restored instead.`,
		RunE: runUp, // Defined in cmd_up.go
	}
	smokeCmd = &cobra.Command{
		Use:   "smoke",
		Short: "Smoke-test the running fleet",
		Long: `Runs every configured smoke check, category by category. Exit codes:
  0  all checks passed
  1  at least one check failed or was skipped
  2  more than one of database, proxy and cache failed; the run was aborted`,
		Args: cobra.NoArgs,
		RunE: runSmoke, // Defined in cmd_smoke.go
	}
	healthCmd = &cobra.Command{
		Use:   "health",
		Short: "Check every service once and report its health",
		Args:  cobra.NoArgs,
		RunE:  runHealth, // Defined in cmd_health.go
	}

	// --- Secrets ---
	secretsCmd = &cobra.Command{
		Use:   "secrets",
		Short: "Synchronize secret files with remote environments",
	}
	secretsSyncCmd = &cobra.Command{
		Use:   "sync",
		Short: "Push the local secrets file to every enabled environment",
		Args:  cobra.NoArgs,
		RunE:  runSecretsSync, // Defined in cmd_secrets.go
	}
	secretsPullCmd = &cobra.Command{
		Use:   "pull <environment>",
		Short: "Replace the local secrets file with an environment's copy",
		Args:  cobra.ExactArgs(1),
		RunE:  runSecretsPull, // Defined in cmd_secrets.go
	}

	// --- Remote ---
	deployCmd = &cobra.Command{
		Use:   "deploy <environment>",
		Short: "Deploy to a named environment and verify it",
		Long: `Connects to the environment, runs the deployment there, then runs the
smoke test. Missing connection parameters are asked for interactively.
With --rollback-on-fail a failed deployment or verification restores the
previous state automatically.`,
		Args: cobra.ExactArgs(1),
		RunE: runDeploy, // Defined in cmd_deploy.go
	}
	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Run the probe registry against the current environment",
		Args:  cobra.NoArgs,
		RunE:  runStatus, // Defined in cmd_status.go
	}
	envCmd = &cobra.Command{
		Use:   "env",
		Short: "Inspect configured environments",
	}
	envDetectCmd = &cobra.Command{
		Use:   "detect",
		Short: "Print the environment this host belongs to",
		Args:  cobra.NoArgs,
		RunE:  runEnvDetect, // Defined in cmd_env.go
	}

	// --- Snapshots and runs ---
	snapshotCmd = &cobra.Command{
		Use:   "snapshot",
		Short: "Manage deployment snapshots",
	}
	snapshotListCmd = &cobra.Command{
		Use:   "list",
		Short: "List snapshots, newest first",
		Args:  cobra.NoArgs,
		RunE:  runSnapshotList, // Defined in cmd_snapshot.go
	}
	snapshotPruneCmd = &cobra.Command{
		Use:   "prune",
		Short: "Delete snapshots older than the retention period",
		Args:  cobra.NoArgs,
		RunE:  runSnapshotPrune, // Defined in cmd_snapshot.go
	}
	snapshotUploadCmd = &cobra.Command{
		Use:   "upload [snapshot-id]",
		Short: "Copy a snapshot (default: latest) to the off-host bucket",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runSnapshotUpload, // Defined in cmd_snapshot.go
	}
	runsCmd = &cobra.Command{
		Use:   "runs",
		Short: "Inspect archived deployment runs",
	}
	runsListCmd = &cobra.Command{
		Use:   "list",
		Short: "List recent runs, newest first",
		Args:  cobra.NoArgs,
		RunE:  runRunsList, // Defined in cmd_runs.go
	}
	runsShowCmd = &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run; a unique id prefix is enough",
		Args:  cobra.ExactArgs(1),
		RunE:  runRunsShow, // Defined in cmd_runs.go
	}
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "Config file (default $DRYDOCK_CONFIG or ~/.drydock/drydock.yaml)")
	pf.Var(personality, "personality", "Output style: "+personality.Usage()+" (default: auto)")
	pf.Var(logLevel, "log-level", "Log level: "+logLevel.Usage()+" (default: log.level)")

	rootCmd.AddCommand(upCmd)
	upCmd.Flags().BoolVar(&upDryRun, "dry-run", false, "Describe the plan without changing anything")
	upCmd.Flags().BoolVar(&upForce, "force", false, "Continue past image pull and build failures")
	upCmd.Flags().BoolVar(&upSkipBackup, "skip-backup", false, "Do not snapshot before deploying")
	upCmd.Flags().BoolVar(&upSkipPreflight, "skip-preflight", false, "Do not run preflight checks")
	upCmd.Flags().StringVar(&upRollback, "rollback", "", "Restore the snapshot of a run (default: latest)")
	upCmd.Flags().Lookup("rollback").NoOptDefVal = rollbackLatest

	rootCmd.AddCommand(smokeCmd)
	smokeCmd.Flags().BoolVar(&smokeAutoFix, "auto-fix", false, "Restart the owning service of each failed check once")
	smokeCmd.Flags().BoolVar(&smokeJSON, "json", false, "Print the report as JSON")
	smokeCmd.Flags().BoolVar(&smokeQuiet, "quiet", false, "Print a single summary line")
	smokeCmd.MarkFlagsMutuallyExclusive("json", "quiet")

	rootCmd.AddCommand(healthCmd)

	rootCmd.AddCommand(secretsCmd)
	secretsCmd.AddCommand(secretsSyncCmd)
	secretsSyncCmd.Flags().StringVar(&secretsEnvironment, "environment", "", "Only sync this environment")
	secretsSyncCmd.Flags().StringVar(&secretsSource, "source", "", "Local secrets file (default: secrets.source)")
	secretsSyncCmd.Flags().BoolVar(&secretsDryRun, "dry-run", false, "Show the key-level diff without writing")
	secretsSyncCmd.Flags().BoolVar(&secretsBackup, "backup", false, "Copy each remote file aside before replacing it")
	secretsCmd.AddCommand(secretsPullCmd)
	secretsPullCmd.Flags().StringVar(&pullOutput, "output", "", "Local file to overwrite (default: secrets.source)")
	secretsPullCmd.Flags().BoolVar(&secretsDryRun, "dry-run", false, "Show the key-level diff without writing")
	secretsPullCmd.Flags().BoolVar(&secretsBackup, "backup", false, "Back up the local file before overwriting it")
	secretsPullCmd.Flags().BoolVarP(&pullYes, "yes", "y", false, "Accept changed and removed keys without asking")

	rootCmd.AddCommand(deployCmd)
	deployCmd.Flags().BoolVar(&deployForce, "force", false, "Continue past image pull failures")
	deployCmd.Flags().StringSliceVar(&deployServices, "service", nil, "Deploy only these services (repeatable)")
	deployCmd.Flags().BoolVar(&deployDryRun, "dry-run", false, "Describe the deployment without changing anything")
	deployCmd.Flags().BoolVar(&deploySkipVerify, "skip-verify", false, "Do not run the smoke test afterwards")
	deployCmd.Flags().BoolVar(&deployRollbackOnFail, "rollback-on-fail", false, "Roll back automatically when deploy or verify fails")
	deployCmd.Flags().StringVar(&deployHost, "host", "", "Override the environment host")
	deployCmd.Flags().StringVar(&deployUser, "user", "", "Override the SSH user")
	deployCmd.Flags().IntVar(&deployPort, "port", 0, "Override the SSH port")
	deployCmd.Flags().StringVar(&deployKey, "key", "", "Override the SSH private key path")

	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVar(&statusEnvironment, "environment", "", "Environment name (default: detected)")
	statusCmd.Flags().Var(statusCategory, "category", "Only run probes of this category: "+statusCategory.Usage())
	statusCmd.Flags().BoolVar(&statusRemediate, "remediate", false, "Restart the service behind each failing probe once")
	statusCmd.Flags().BoolVar(&statusParallel, "parallel", false, "Run probes concurrently")
	statusCmd.Flags().BoolVar(&statusWatch, "watch", false, "Repeat every remote.watch_interval until interrupted")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print the report as JSON")

	rootCmd.AddCommand(envCmd)
	envCmd.AddCommand(envDetectCmd)
	envDetectCmd.Flags().BoolVar(&outputJSON, "json", false, "Print the detection as JSON")

	rootCmd.AddCommand(snapshotCmd)
	snapshotCmd.AddCommand(snapshotListCmd)
	snapshotListCmd.Flags().BoolVar(&outputJSON, "json", false, "Print snapshots as JSON")
	snapshotCmd.AddCommand(snapshotPruneCmd)
	snapshotPruneCmd.Flags().IntVar(&pruneDays, "days", 0, "Retention in days (default: backup.retain_days)")
	snapshotCmd.AddCommand(snapshotUploadCmd)

	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsListCmd)
	runsListCmd.Flags().IntVar(&runsLimit, "limit", 20, "Maximum number of runs")
	runsListCmd.Flags().BoolVar(&outputJSON, "json", false, "Print runs as JSON")
	runsCmd.AddCommand(runsShowCmd)
	runsShowCmd.Flags().BoolVar(&outputJSON, "json", false, "Print the run as JSON")
}
