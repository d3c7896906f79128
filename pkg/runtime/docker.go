/*
Copyright 2021 The Crossplane Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package runtime

import (
	"context"
	"io"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	errNewDockerClient = "cannot create docker client"
	errPingDocker      = "cannot reach docker daemon"
	errPullImage       = "cannot pull image"
	errCreateContainer = "cannot create container"
	errStartContainer  = "cannot start container"
	errStopContainer   = "cannot stop container"
	errRemoveContainer = "cannot remove container"
	errInspect         = "cannot inspect container"
	errEnsureNetwork   = "cannot ensure network"
)

// Docker is the ContainerRuntime implementation over the docker engine API.
type Docker struct {
	cli *client.Client
	log *logrus.Entry
}

var _ ContainerRuntime = &Docker{}

// NewDocker connects to the docker daemon. host overrides environment
// detection when non-empty. API version negotiation keeps the client
// compatible with whatever daemon the developer runs.
func NewDocker(log *logrus.Entry, host string) (*Docker, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, errors.Wrap(err, errNewDockerClient)
	}
	return &Docker{cli: cli, log: log}, nil
}

// Ping verifies the daemon is reachable.
func (d *Docker) Ping(ctx context.Context) error {
	_, err := d.cli.Ping(ctx)
	return errors.Wrap(err, errPingDocker)
}

// EnsureNetwork creates the named bridge network if it does not exist.
func (d *Docker) EnsureNetwork(ctx context.Context, name string) error {
	_, err := d.cli.NetworkInspect(ctx, name, network.InspectOptions{})
	if err == nil {
		return nil
	}
	if !IsNotFound(err) {
		return errors.Wrap(err, errEnsureNetwork)
	}
	d.log.WithField("network", name).Info("creating bridge network")
	_, err = d.cli.NetworkCreate(ctx, name, network.CreateOptions{Driver: "bridge"})
	return errors.Wrap(err, errEnsureNetwork)
}

// Create creates a container for spec, pulling the image on first use. The
// container runs an idle process so it stays alive until stopped.
func (d *Docker) Create(ctx context.Context, spec Spec) (string, error) {
	cfg, hostCfg, netCfg := containerConfig(spec)

	resp, err := d.cli.ContainerCreate(ctx, cfg, hostCfg, netCfg, nil, spec.Name)
	if IsNotFound(err) {
		if err := d.pull(ctx, spec.Image); err != nil {
			return "", err
		}
		resp, err = d.cli.ContainerCreate(ctx, cfg, hostCfg, netCfg, nil, spec.Name)
	}
	if err != nil {
		return "", errors.Wrap(err, errCreateContainer)
	}
	return resp.ID, nil
}

func (d *Docker) pull(ctx context.Context, ref string) error {
	d.log.WithField("image", ref).Info("pulling image")
	rc, err := d.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return errors.Wrap(err, errPullImage)
	}
	defer rc.Close() // nolint:errcheck
	// The pull completes only once the progress stream is drained.
	_, err = io.Copy(io.Discard, rc)
	return errors.Wrap(err, errPullImage)
}

// Start starts a created or stopped container.
func (d *Docker) Start(ctx context.Context, id string) error {
	return errors.Wrap(d.cli.ContainerStart(ctx, id, container.StartOptions{}), errStartContainer)
}

// Stop stops a running container, preserving it for a later start.
func (d *Docker) Stop(ctx context.Context, id string) error {
	return errors.Wrap(d.cli.ContainerStop(ctx, id, container.StopOptions{}), errStopContainer)
}

// Remove force-removes a container.
func (d *Docker) Remove(ctx context.Context, id string) error {
	err := d.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
	return errors.Wrap(err, errRemoveContainer)
}

// Inspect reports the container's running state and its address on the
// first attached network.
func (d *Docker) Inspect(ctx context.Context, id string) (Status, error) {
	resp, err := d.cli.ContainerInspect(ctx, id)
	if err != nil {
		return Status{}, errors.Wrap(err, errInspect)
	}

	st := Status{
		ID:   resp.ID,
		Name: strings.TrimPrefix(resp.Name, "/"),
	}
	if resp.State != nil {
		st.Running = resp.State.Running
	}
	if resp.NetworkSettings != nil {
		for _, ep := range resp.NetworkSettings.Networks {
			if ep.IPAddress != "" {
				st.IPAddress = ep.IPAddress
				break
			}
		}
	}
	return st, nil
}

// containerConfig maps a Spec to the engine's create parameters.
func containerConfig(spec Spec) (*container.Config, *container.HostConfig, *network.NetworkingConfig) {
	cfg := &container.Config{
		Image:  spec.Image,
		Labels: spec.Labels,
		Env:    spec.Env,
		Cmd:    []string{"tail", "-f", "/dev/null"},
	}
	hostCfg := &container.HostConfig{}
	var netCfg *network.NetworkingConfig
	if spec.Network != "" {
		netCfg = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{
				spec.Network: {},
			},
		}
	}
	return cfg, hostCfg, netCfg
}
