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

import "time"

// DrydockConfig is the root of ~/.drydock/drydock.yaml.
//
// # Description
//
// Everything drydock knows about the fleet is static and lives here: the
// service tiers, database bootstrap policy, health polling parameters, backup
// retention, smoke checks, named environments and secrets targets. Nothing in
// this struct is mutated after Load returns.
type DrydockConfig struct {
	// StateDir holds the run store, the run lease and the metrics textfile.
	StateDir string `yaml:"state_dir"`

	Project      ProjectConfig       `yaml:"project"`
	Services     []ServiceConfig     `yaml:"services" validate:"required,min=1,dive"`
	Database     DatabaseConfig      `yaml:"database"`
	Health       HealthConfig        `yaml:"health"`
	Backup       BackupConfig        `yaml:"backup"`
	Preflight    PreflightConfig     `yaml:"preflight"`
	Smoke        SmokeConfig         `yaml:"smoke"`
	Environments []EnvironmentConfig `yaml:"environments" validate:"dive"`
	Secrets      SecretsConfig       `yaml:"secrets"`
	Remote       RemoteConfig        `yaml:"remote"`
	Probes       []ProbeConfig       `yaml:"probes" validate:"dive"`
	Telemetry    TelemetryConfig     `yaml:"telemetry"`
	Log          LogConfig           `yaml:"log"`
}

// ProjectConfig describes how the fleet's containers are controlled.
type ProjectConfig struct {
	Name string `yaml:"name" validate:"required"`

	// Runtime selects the container control plane: "compose" or "docker".
	Runtime RuntimeKind `yaml:"runtime" validate:"omitempty,oneof=compose docker"`

	// WorkDir is where compose commands run.
	WorkDir string `yaml:"work_dir"`

	ComposeFiles   []string `yaml:"compose_files"`
	ComposeCommand []string `yaml:"compose_command"`

	// Engine is the container CLI used for inspect/exec (docker or podman).
	Engine string `yaml:"engine"`

	// ContainerPrefix is prepended to service names when a service does not
	// name its container explicitly.
	ContainerPrefix string `yaml:"container_prefix"`

	// DockerHost overrides DOCKER_HOST for the docker runtime.
	DockerHost string `yaml:"docker_host"`

	// ConfigFile is the active configuration file copied into each snapshot.
	ConfigFile string `yaml:"config_file"`
}

// ServiceConfig is the YAML form of one service descriptor.
type ServiceConfig struct {
	Name      string   `yaml:"name" validate:"required,hostname_rfc1123"`
	Tier      int      `yaml:"tier" validate:"min=0"`
	DependsOn []string `yaml:"depends_on,omitempty"`
	Critical  bool     `yaml:"critical"`

	Health       HealthShape `yaml:"health" validate:"omitempty,oneof=http process none"`
	HealthURL    string      `yaml:"health_url,omitempty" validate:"required_if=Health http"`
	ExpectStatus int         `yaml:"expect_status,omitempty"`

	Container string `yaml:"container,omitempty"`
	Image     string `yaml:"image,omitempty"`

	// Build marks services whose image is built from local sources.
	Build bool `yaml:"build,omitempty"`
}

// DatabaseConfig drives the bootstrap verifier and the snapshot dump.
type DatabaseConfig struct {
	// Service is the registry name of the database service.
	Service string `yaml:"service"`

	// DSN connects to the admin database (usually "postgres").
	DSN string `yaml:"dsn"`

	Required []string `yaml:"required"`

	// InitCommand runs inside the database container when databases are
	// missing. Empty means CREATE DATABASE for each missing name.
	InitCommand []string `yaml:"init_command,omitempty"`

	// InitAttempts is how many times initialization is tried before the run
	// is aborted.
	InitAttempts int `yaml:"init_attempts" validate:"min=0"`

	DumpCommand    []string      `yaml:"dump_command"`
	RestoreCommand []string      `yaml:"restore_command"`
	SettleDelay    time.Duration `yaml:"settle_delay"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// HealthConfig holds the readiness polling parameters.
type HealthConfig struct {
	MaxAttempts  int           `yaml:"max_attempts" validate:"min=0"`
	Interval     time.Duration `yaml:"interval"`
	StartTimeout time.Duration `yaml:"start_timeout"`
	HTTPTimeout  time.Duration `yaml:"http_timeout"`
}

// BackupConfig controls snapshot creation and retention.
type BackupConfig struct {
	Dir        string `yaml:"dir"`
	RetainDays int    `yaml:"retain_days" validate:"min=0"`

	// Require turns a failed snapshot (including a failed dump) into a fatal
	// error for the run.
	Require bool `yaml:"require"`

	GCS GCSConfig `yaml:"gcs"`
}

// GCSConfig configures off-host snapshot copies.
type GCSConfig struct {
	Bucket          string `yaml:"bucket"`
	Project         string `yaml:"project"`
	CredentialsFile string `yaml:"credentials_file"`
	Prefix          string `yaml:"prefix"`
	AutoUpload      bool   `yaml:"auto_upload"`
}

// PreflightConfig lists the checks run before any mutation.
type PreflightConfig struct {
	MinFreeDiskMB      uint64   `yaml:"min_free_disk_mb"`
	SecretsFile        string   `yaml:"secrets_file"`
	RequiredSecretKeys []string `yaml:"required_secret_keys"`
}

// SmokeConfig configures the post-deployment smoke test.
type SmokeConfig struct {
	Timeout     time.Duration `yaml:"timeout"`
	WarnLatency time.Duration `yaml:"warn_latency"`
	SettleDelay time.Duration `yaml:"settle_delay"`
	Workers     int           `yaml:"workers" validate:"min=0"`

	// Database, Proxy and Cache name the checks whose combined failure
	// escalates to a critical abort.
	Database string `yaml:"database_check"`
	Proxy    string `yaml:"proxy_check"`
	Cache    string `yaml:"cache_check"`

	Checks []SmokeCheckConfig `yaml:"checks" validate:"dive"`
}

// SmokeCheckConfig is one smoke check.
type SmokeCheckConfig struct {
	Name     string        `yaml:"name" validate:"required"`
	Category SmokeCategory `yaml:"category" validate:"required,oneof=infrastructure core workers sites utilities"`
	Kind     CheckKind     `yaml:"kind" validate:"required,oneof=http tcp postgres redis"`

	// Target is a URL, host:port, DSN or redis address depending on Kind.
	Target string `yaml:"target" validate:"required"`

	ExpectStatus int    `yaml:"expect_status,omitempty"`
	ExpectBody   string `yaml:"expect_body,omitempty"`

	// Service owns the check; auto-fix restarts it.
	Service  string `yaml:"service,omitempty"`
	Optional bool   `yaml:"optional,omitempty"`
}

// EnvironmentConfig is one named deployment target.
type EnvironmentConfig struct {
	Name    string          `yaml:"name" validate:"required"`
	Kind    EnvironmentKind `yaml:"kind" validate:"required,oneof=cloud local workstation"`
	Enabled bool            `yaml:"enabled"`

	Host           string `yaml:"host,omitempty"`
	Port           int    `yaml:"port,omitempty" validate:"omitempty,min=1,max=65535"`
	User           string `yaml:"user,omitempty"`
	KeyPath        string `yaml:"key_path,omitempty"`
	KnownHostsPath string `yaml:"known_hosts_path,omitempty"`
	DockerHost     string `yaml:"docker_host,omitempty"`

	RemoteConfigPath  string `yaml:"remote_config_path,omitempty"`
	RemoteSecretsPath string `yaml:"remote_secrets_path,omitempty"`
	RemoteBinary      string `yaml:"remote_binary,omitempty"`

	Capabilities []string          `yaml:"capabilities,omitempty"`
	Endpoints    map[string]string `yaml:"endpoints,omitempty"`
	Markers      DetectionMarkers  `yaml:"markers,omitempty"`

	// Options carries deployer-specific settings decoded per kind.
	Options map[string]any `yaml:"options,omitempty"`
}

// DetectionMarkers are the local signals that identify an environment.
type DetectionMarkers struct {
	Hostnames []string `yaml:"hostnames,omitempty"`
	Files     []string `yaml:"files,omitempty"`
	Endpoints []string `yaml:"endpoints,omitempty"`
}

// SecretsConfig configures the secrets synchronizer.
type SecretsConfig struct {
	Source    string `yaml:"source"`
	BackupDir string `yaml:"backup_dir"`

	// BackupRecipients are age public keys; when set, local secret-file
	// backups are encrypted.
	BackupRecipients []string `yaml:"backup_recipients,omitempty"`
}

// RemoteConfig bounds remote command execution.
type RemoteConfig struct {
	CommandTimeout time.Duration `yaml:"command_timeout"`
	DialTimeout    time.Duration `yaml:"dial_timeout"`
	WatchInterval  time.Duration `yaml:"watch_interval"`
	SettleDelay    time.Duration `yaml:"settle_delay"`
}

// ProbeConfig is one entry in the probe registry.
type ProbeConfig struct {
	Name     string        `yaml:"name" validate:"required"`
	Category ProbeCategory `yaml:"category" validate:"required,oneof=service infrastructure ai"`
	Kind     CheckKind     `yaml:"kind" validate:"required,oneof=http tcp postgres redis container"`
	Target   string        `yaml:"target"`

	ExpectStatus int `yaml:"expect_status,omitempty"`

	// Service makes the probe remediable by restarting that service.
	Service string   `yaml:"service,omitempty"`
	Runbook []string `yaml:"runbook,omitempty"`

	// Environments restricts the probe to the named environments.
	Environments []string `yaml:"environments,omitempty"`
}

// TelemetryConfig configures metrics export and tracing.
type TelemetryConfig struct {
	MetricsTextfile string `yaml:"metrics_textfile"`
	TracingEndpoint string `yaml:"tracing_endpoint"`
	TracingInsecure bool   `yaml:"tracing_insecure"`
}

// LogConfig sets the slog level.
type LogConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
}
