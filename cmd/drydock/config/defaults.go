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
	"os"
	"path/filepath"
	"time"
)

// Defaults that the rest of the tool relies on when a field is left empty.
const (
	DefaultMaxAttempts     = 6
	DefaultHealthInterval  = 10 * time.Second
	DefaultStartTimeout    = 60 * time.Second
	DefaultHTTPTimeout     = 5 * time.Second
	DefaultRetainDays      = 7
	DefaultSettleDelay     = 10 * time.Second
	DefaultSmokeTimeout    = 5 * time.Second
	DefaultWarnLatency     = 2 * time.Second
	DefaultSmokeWorkers    = 4
	DefaultCommandTimeout  = 5 * time.Minute
	DefaultDialTimeout     = 10 * time.Second
	DefaultWatchInterval   = 30 * time.Second
	DefaultMinFreeDiskMB   = 1024
	DefaultDBInitAttempts  = 1
	DefaultConnectTimeout  = 5 * time.Second
	DefaultRemoteBinary    = "drydock"
	DefaultContainerPrefix = "fleet-"
)

// DrydockHome returns ~/.drydock, falling back to ./.drydock.
func DrydockHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".drydock"
	}
	return filepath.Join(home, ".drydock")
}

// DefaultConfig describes the stock fleet: a postgres database, a redis cache
// and a caddy reverse proxy as critical infrastructure, an API and dashboard
// as core services, chat-bot workers, and static sites.
func DefaultConfig() DrydockConfig {
	base := DrydockHome()
	return DrydockConfig{
		StateDir: filepath.Join(base, "state"),
		Project: ProjectConfig{
			Name:            "fleet",
			Runtime:         RuntimeCompose,
			WorkDir:         "/srv/fleet",
			ComposeFiles:    []string{"docker-compose.yml"},
			ComposeCommand:  []string{"docker", "compose"},
			Engine:          "docker",
			ContainerPrefix: DefaultContainerPrefix,
			ConfigFile:      "/srv/fleet/docker-compose.yml",
		},
		Services: []ServiceConfig{
			{Name: "postgres", Tier: 0, Critical: true, Health: HealthProcess, Image: "postgres:16"},
			{Name: "redis", Tier: 0, Critical: true, Health: HealthProcess, Image: "redis:7"},
			{Name: "caddy", Tier: 0, Critical: true, Health: HealthHTTP, HealthURL: "http://localhost:2019/config/", Image: "caddy:2"},
			{Name: "api", Tier: 1, Critical: true, Health: HealthHTTP, HealthURL: "http://localhost:8080/health", Build: true, DependsOn: []string{"postgres", "redis"}},
			{Name: "dashboard", Tier: 1, Health: HealthHTTP, HealthURL: "http://localhost:3000/api/health", Build: true},
			{Name: "discord-bot", Tier: 2, Health: HealthHTTP, HealthURL: "http://localhost:8091/health", Build: true, DependsOn: []string{"api"}},
			{Name: "twitch-bot", Tier: 2, Health: HealthProcess, Build: true, DependsOn: []string{"api"}},
			{Name: "notifier", Tier: 2, Health: HealthProcess, Build: true},
			{Name: "site-docs", Tier: 3, Health: HealthNone, Image: "nginx:alpine"},
			{Name: "site-landing", Tier: 3, Health: HealthNone, Image: "nginx:alpine"},
		},
		Database: DatabaseConfig{
			Service:        "postgres",
			DSN:            "postgres://postgres@localhost:5432/postgres?sslmode=disable",
			Required:       []string{"fleet", "dashboard", "bots"},
			InitAttempts:   DefaultDBInitAttempts,
			DumpCommand:    []string{"pg_dumpall", "-U", "postgres"},
			RestoreCommand: []string{"psql", "-U", "postgres", "-d", "postgres"},
			SettleDelay:    DefaultSettleDelay,
			ConnectTimeout: DefaultConnectTimeout,
		},
		Health: HealthConfig{
			MaxAttempts:  DefaultMaxAttempts,
			Interval:     DefaultHealthInterval,
			StartTimeout: DefaultStartTimeout,
			HTTPTimeout:  DefaultHTTPTimeout,
		},
		Backup: BackupConfig{
			Dir:        filepath.Join(base, "backups"),
			RetainDays: DefaultRetainDays,
		},
		Preflight: PreflightConfig{
			MinFreeDiskMB:      DefaultMinFreeDiskMB,
			SecretsFile:        "/srv/fleet/.env",
			RequiredSecretKeys: []string{"POSTGRES_PASSWORD", "DISCORD_TOKEN"},
		},
		Smoke: SmokeConfig{
			Timeout:     DefaultSmokeTimeout,
			WarnLatency: DefaultWarnLatency,
			SettleDelay: DefaultSettleDelay,
			Workers:     DefaultSmokeWorkers,
			Database:    "database",
			Proxy:       "proxy",
			Cache:       "cache",
			Checks: []SmokeCheckConfig{
				{Name: "database", Category: CategoryInfrastructure, Kind: CheckPostgres, Target: "postgres://postgres@localhost:5432/postgres?sslmode=disable", Service: "postgres"},
				{Name: "proxy", Category: CategoryInfrastructure, Kind: CheckHTTP, Target: "http://localhost:2019/config/", Service: "caddy"},
				{Name: "cache", Category: CategoryInfrastructure, Kind: CheckRedis, Target: "localhost:6379", Service: "redis"},
				{Name: "api", Category: CategoryCore, Kind: CheckHTTP, Target: "http://localhost:8080/health", ExpectBody: "ok", Service: "api"},
				{Name: "dashboard", Category: CategoryCore, Kind: CheckHTTP, Target: "http://localhost:3000/api/health", Service: "dashboard"},
				{Name: "discord-bot", Category: CategoryWorkers, Kind: CheckHTTP, Target: "http://localhost:8091/health", Service: "discord-bot"},
				{Name: "site-docs", Category: CategorySites, Kind: CheckHTTP, Target: "http://localhost/docs/", Service: "site-docs", Optional: true},
				{Name: "site-landing", Category: CategorySites, Kind: CheckHTTP, Target: "http://localhost/", Service: "site-landing"},
				{Name: "metrics", Category: CategoryUtilities, Kind: CheckTCP, Target: "localhost:9100", Optional: true},
			},
		},
		Environments: []EnvironmentConfig{
			{
				Name:              "cloud",
				Kind:              EnvCloud,
				Enabled:           true,
				Port:              22,
				User:              "deploy",
				RemoteConfigPath:  "/home/deploy/.drydock/drydock.yaml",
				RemoteSecretsPath: "/srv/fleet/.env",
				RemoteBinary:      DefaultRemoteBinary,
				Capabilities:      []string{"deploy", "rollback", "secrets", "smoke"},
				Markers:           DetectionMarkers{Files: []string{"/etc/drydock/cloud"}},
			},
			{
				Name:         "local",
				Kind:         EnvLocal,
				Enabled:      true,
				Capabilities: []string{"deploy", "rollback", "smoke", "build"},
				Endpoints:    map[string]string{"api": "http://localhost:8080", "dashboard": "http://localhost:3000"},
				Markers:      DetectionMarkers{Endpoints: []string{"localhost:2019"}},
			},
			{
				Name:         "workstation",
				Kind:         EnvWorkstation,
				Enabled:      false,
				DockerHost:   "ssh://dev@workstation",
				Capabilities: []string{"deploy"},
			},
		},
		Secrets: SecretsConfig{
			Source:    "/srv/fleet/.env",
			BackupDir: filepath.Join(base, "secret-backups"),
		},
		Remote: RemoteConfig{
			CommandTimeout: DefaultCommandTimeout,
			DialTimeout:    DefaultDialTimeout,
			WatchInterval:  DefaultWatchInterval,
			SettleDelay:    DefaultSettleDelay,
		},
		Probes: []ProbeConfig{
			{Name: "postgres", Category: ProbeInfrastructure, Kind: CheckContainer, Service: "postgres",
				Runbook: []string{"Inspect logs: docker logs fleet-postgres", "Check disk usage on the data volume", "Restore the latest snapshot with: drydock up --rollback"}},
			{Name: "redis", Category: ProbeInfrastructure, Kind: CheckRedis, Target: "localhost:6379", Service: "redis"},
			{Name: "api", Category: ProbeService, Kind: CheckHTTP, Target: "http://localhost:8080/health", Service: "api"},
			{Name: "discord-bot", Category: ProbeService, Kind: CheckContainer, Service: "discord-bot"},
			{Name: "llm-gateway", Category: ProbeAI, Kind: CheckHTTP, Target: "http://localhost:11434/",
				Runbook: []string{"Confirm the model server is running on the host", "Check the API key in the secrets file"}},
		},
		Log: LogConfig{Level: "info"},
	}
}

// applyDefaults fills zero values after YAML decoding.
func applyDefaults(cfg *DrydockConfig) {
	base := DrydockHome()
	if cfg.StateDir == "" {
		cfg.StateDir = filepath.Join(base, "state")
	}
	if cfg.Project.Runtime == "" {
		cfg.Project.Runtime = RuntimeCompose
	}
	if len(cfg.Project.ComposeCommand) == 0 {
		cfg.Project.ComposeCommand = []string{"docker", "compose"}
	}
	if cfg.Project.Engine == "" {
		cfg.Project.Engine = "docker"
	}
	for i := range cfg.Services {
		if cfg.Services[i].Health == "" {
			cfg.Services[i].Health = HealthProcess
		}
	}
	if cfg.Database.InitAttempts == 0 {
		cfg.Database.InitAttempts = DefaultDBInitAttempts
	}
	if cfg.Database.SettleDelay == 0 {
		cfg.Database.SettleDelay = DefaultSettleDelay
	}
	if cfg.Database.ConnectTimeout == 0 {
		cfg.Database.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.Health.MaxAttempts == 0 {
		cfg.Health.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Health.Interval == 0 {
		cfg.Health.Interval = DefaultHealthInterval
	}
	if cfg.Health.StartTimeout == 0 {
		cfg.Health.StartTimeout = DefaultStartTimeout
	}
	if cfg.Health.HTTPTimeout == 0 {
		cfg.Health.HTTPTimeout = DefaultHTTPTimeout
	}
	if cfg.Backup.Dir == "" {
		cfg.Backup.Dir = filepath.Join(base, "backups")
	}
	if cfg.Backup.RetainDays == 0 {
		cfg.Backup.RetainDays = DefaultRetainDays
	}
	if cfg.Smoke.Timeout == 0 {
		cfg.Smoke.Timeout = DefaultSmokeTimeout
	}
	if cfg.Smoke.WarnLatency == 0 {
		cfg.Smoke.WarnLatency = DefaultWarnLatency
	}
	if cfg.Smoke.SettleDelay == 0 {
		cfg.Smoke.SettleDelay = DefaultSettleDelay
	}
	if cfg.Smoke.Workers == 0 {
		cfg.Smoke.Workers = DefaultSmokeWorkers
	}
	for i := range cfg.Environments {
		if cfg.Environments[i].RemoteBinary == "" {
			cfg.Environments[i].RemoteBinary = DefaultRemoteBinary
		}
		if cfg.Environments[i].Port == 0 && cfg.Environments[i].Kind == EnvCloud {
			cfg.Environments[i].Port = 22
		}
	}
	if cfg.Secrets.BackupDir == "" {
		cfg.Secrets.BackupDir = filepath.Join(base, "secret-backups")
	}
	if cfg.Remote.CommandTimeout == 0 {
		cfg.Remote.CommandTimeout = DefaultCommandTimeout
	}
	if cfg.Remote.DialTimeout == 0 {
		cfg.Remote.DialTimeout = DefaultDialTimeout
	}
	if cfg.Remote.WatchInterval == 0 {
		cfg.Remote.WatchInterval = DefaultWatchInterval
	}
	if cfg.Remote.SettleDelay == 0 {
		cfg.Remote.SettleDelay = DefaultSettleDelay
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}
