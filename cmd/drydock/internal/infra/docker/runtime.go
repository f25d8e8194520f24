// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package docker implements container.Runtime against the Docker Engine API.
// It is used for hosts reached through DOCKER_HOST (including ssh://) where
// no compose project is checked out.
package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/docker/docker/api/types"
	containertypes "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/AleutianAI/drydock/cmd/drydock/internal/infra/container"
)

// engineAPI is the subset of the Docker client drydock calls.
type engineAPI interface {
	Ping(ctx context.Context) (types.Ping, error)
	ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error)
	ContainerInspect(ctx context.Context, container string) (types.ContainerJSON, error)
	ContainerStart(ctx context.Context, container string, options containertypes.StartOptions) error
	ContainerRestart(ctx context.Context, container string, options containertypes.StopOptions) error
	ContainerStop(ctx context.Context, container string, options containertypes.StopOptions) error
	ContainerCreate(ctx context.Context, config *containertypes.Config, hostConfig *containertypes.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (containertypes.CreateResponse, error)
	ContainerRename(ctx context.Context, container, newContainerName string) error
	ContainerRemove(ctx context.Context, container string, options containertypes.RemoveOptions) error
	ContainerExecCreate(ctx context.Context, container string, options containertypes.ExecOptions) (types.IDResponse, error)
	ContainerExecAttach(ctx context.Context, execID string, config containertypes.ExecAttachOptions) (types.HijackedResponse, error)
	ContainerExecInspect(ctx context.Context, execID string) (containertypes.ExecInspect, error)
	Close() error
}

// Config configures the Docker runtime.
type Config struct {
	// Host overrides DOCKER_HOST, e.g. "ssh://dev@workstation".
	Host string

	// Containers maps service names to container names.
	Containers map[string]string

	// Images maps service names to the image reference pulled for them.
	Images map[string]string
}

// Runtime talks to a Docker daemon.
type Runtime struct {
	api    engineAPI
	config Config
	logger *slog.Logger
}

// New connects to the daemon named by cfg.Host or the environment.
func New(cfg Config, logger *slog.Logger) (*Runtime, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if cfg.Host != "" {
		opts = append(opts, client.WithHost(cfg.Host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return newWithAPI(cli, cfg, logger), nil
}

func newWithAPI(api engineAPI, cfg Config, logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runtime{api: api, config: cfg, logger: logger}
}

// Close releases the client connection.
func (r *Runtime) Close() error {
	return r.api.Close()
}

func (r *Runtime) Ping(ctx context.Context) error {
	ping, err := r.api.Ping(ctx)
	if err != nil {
		return fmt.Errorf("docker ping: %w", err)
	}
	if ping.APIVersion == "" {
		return errors.New("docker ping returned empty API version")
	}
	return nil
}

// Pull pulls the configured image of each service, falling back to the
// image the running container was created from.
func (r *Runtime) Pull(ctx context.Context, services []string) error {
	for _, svc := range services {
		ref := r.config.Images[svc]
		if ref == "" {
			st, err := r.State(ctx, svc)
			if err != nil {
				return err
			}
			ref = st.Image
		}
		if ref == "" {
			continue
		}
		rc, err := r.api.ImagePull(ctx, ref, image.PullOptions{})
		if err != nil {
			return fmt.Errorf("pull %s for %s: %w", ref, svc, err)
		}
		// The pull only completes once the progress stream is drained.
		_, copyErr := io.Copy(io.Discard, rc)
		rc.Close()
		if copyErr != nil {
			return fmt.Errorf("pull %s for %s: %w", ref, svc, copyErr)
		}
		r.logger.Info("pulled image", "service", svc, "image", ref)
	}
	return nil
}

// Build is not available over the Engine API without a build context.
func (r *Runtime) Build(ctx context.Context, services []string) error {
	if len(services) == 0 {
		return nil
	}
	return fmt.Errorf("build %s: %w", strings.Join(services, ", "), errors.ErrUnsupported)
}

func (r *Runtime) Start(ctx context.Context, service string) error {
	return r.wrap(service, r.api.ContainerStart(ctx, r.containerName(service), containertypes.StartOptions{}))
}

func (r *Runtime) Restart(ctx context.Context, service string) error {
	return r.wrap(service, r.api.ContainerRestart(ctx, r.containerName(service), containertypes.StopOptions{}))
}

// Recreate replaces the service's container with one created from the
// service image, keeping the old container's configuration.
//
// # Description
//
// A restart keeps the image a container was created from, so a pulled image
// only runs after a recreate. The old container is stopped and renamed, the
// new one is created under the original name and started, and the old one is
// removed. If the new container cannot be created or started, the old one is
// renamed back and started again.
func (r *Runtime) Recreate(ctx context.Context, service string) error {
	name := r.containerName(service)
	info, err := r.api.ContainerInspect(ctx, name)
	if err != nil {
		return r.wrap(service, err)
	}
	if info.ContainerJSONBase == nil || info.Config == nil {
		return fmt.Errorf("%s: inspect returned no configuration", service)
	}

	cfg := *info.Config
	if ref := r.config.Images[service]; ref != "" {
		cfg.Image = ref
	}
	var netCfg *network.NetworkingConfig
	if info.NetworkSettings != nil && len(info.NetworkSettings.Networks) > 0 {
		netCfg = &network.NetworkingConfig{EndpointsConfig: make(map[string]*network.EndpointSettings)}
		for net, ep := range info.NetworkSettings.Networks {
			if ep == nil {
				continue
			}
			netCfg.EndpointsConfig[net] = &network.EndpointSettings{
				Aliases:    ep.Aliases,
				Links:      ep.Links,
				IPAMConfig: ep.IPAMConfig,
				DriverOpts: ep.DriverOpts,
			}
		}
	}

	previous := name + "-previous"
	if err := r.api.ContainerStop(ctx, info.ID, containertypes.StopOptions{}); err != nil {
		return r.wrap(service, err)
	}
	if err := r.api.ContainerRename(ctx, info.ID, previous); err != nil {
		return fmt.Errorf("%s: rename %s: %w", service, name, err)
	}

	created, err := r.api.ContainerCreate(ctx, &cfg, info.HostConfig, netCfg, nil, name)
	if err == nil {
		err = r.api.ContainerStart(ctx, created.ID, containertypes.StartOptions{})
	}
	if err != nil {
		r.restorePrevious(ctx, service, info.ID, created.ID, name)
		return fmt.Errorf("%s: recreate from %s: %w", service, cfg.Image, err)
	}

	if err := r.api.ContainerRemove(ctx, info.ID, containertypes.RemoveOptions{}); err != nil {
		r.logger.Warn("old container left behind", "service", service, "container", previous, "error", err)
	}
	r.logger.Info("container recreated", "service", service, "container", name, "image", cfg.Image)
	return nil
}

func (r *Runtime) restorePrevious(ctx context.Context, service, oldID, newID, name string) {
	if newID != "" {
		if err := r.api.ContainerRemove(ctx, newID, containertypes.RemoveOptions{Force: true}); err != nil {
			r.logger.Warn("failed to remove new container", "service", service, "error", err)
		}
	}
	if err := r.api.ContainerRename(ctx, oldID, name); err != nil {
		r.logger.Error("failed to restore container name", "service", service, "error", err)
		return
	}
	if err := r.api.ContainerStart(ctx, oldID, containertypes.StartOptions{}); err != nil {
		r.logger.Error("failed to restart previous container", "service", service, "error", err)
	}
}

func (r *Runtime) Stop(ctx context.Context, service string) error {
	return r.wrap(service, r.api.ContainerStop(ctx, r.containerName(service), containertypes.StopOptions{}))
}

func (r *Runtime) State(ctx context.Context, service string) (container.State, error) {
	name := r.containerName(service)
	info, err := r.api.ContainerInspect(ctx, name)
	if err != nil {
		return container.State{Service: service, Container: name}, r.wrap(service, err)
	}
	st := container.State{
		Service:   service,
		Container: strings.TrimPrefix(info.Name, "/"),
		ImageID:   info.Image,
	}
	if info.Config != nil {
		st.Image = info.Config.Image
	}
	if info.State != nil {
		st.Running = info.State.Running
		st.Status = info.State.Status
		if info.State.Health != nil {
			st.Health = info.State.Health.Status
		}
	}
	return st, nil
}

func (r *Runtime) Images(ctx context.Context, services []string) (map[string]string, error) {
	out := make(map[string]string, len(services))
	for _, svc := range services {
		st, err := r.State(ctx, svc)
		if errors.Is(err, container.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[svc] = st.ImageID
	}
	return out, nil
}

// Exec runs cmd in the container and fails on a non-zero exit code.
func (r *Runtime) Exec(ctx context.Context, service string, cmd []string, stdin io.Reader, stdout io.Writer) error {
	name := r.containerName(service)
	created, err := r.api.ContainerExecCreate(ctx, name, containertypes.ExecOptions{
		Cmd:          cmd,
		AttachStdin:  stdin != nil,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return r.wrap(service, err)
	}
	hijacked, err := r.api.ContainerExecAttach(ctx, created.ID, containertypes.ExecAttachOptions{})
	if err != nil {
		return fmt.Errorf("attach exec in %s: %w", name, err)
	}
	defer hijacked.Close()

	if stdin != nil {
		go func() {
			_, _ = io.Copy(hijacked.Conn, stdin)
			_ = hijacked.CloseWrite()
		}()
	}
	if stdout == nil {
		stdout = io.Discard
	}
	var stderr strings.Builder
	if _, err := stdcopy.StdCopy(stdout, &stderr, hijacked.Reader); err != nil {
		return fmt.Errorf("read exec output from %s: %w", name, err)
	}

	inspect, err := r.api.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return fmt.Errorf("inspect exec in %s: %w", name, err)
	}
	if inspect.ExitCode != 0 {
		return fmt.Errorf("exec %s in %s exited %d: %s", strings.Join(cmd, " "), name, inspect.ExitCode, strings.TrimSpace(stderr.String()))
	}
	return nil
}

func (r *Runtime) wrap(service string, err error) error {
	if err == nil {
		return nil
	}
	if errdefs.IsNotFound(err) {
		return fmt.Errorf("%s (%s): %w", service, r.containerName(service), container.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", service, err)
}

func (r *Runtime) containerName(service string) string {
	if name, ok := r.config.Containers[service]; ok && name != "" {
		return name
	}
	return service
}

var _ container.Runtime = (*Runtime)(nil)
