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

// Package config carries the emulator's runtime configuration.
package config

import (
	"time"

	"github.com/imdario/mergo"
	"github.com/pkg/errors"
)

const (
	errMergeDefaults = "cannot merge configuration defaults"
	errNoListen      = "listen address must not be empty"
	errNoStorageRoot = "storage root must not be empty"
	errNoProject     = "default project must not be empty"
	errBadInterval   = "intervals and timeouts must be positive"
)

// Config is the full emulator configuration. Zero values are filled from
// Default by Merge, so a partially populated Config is always usable.
type Config struct {
	// ListenAddress is the host:port the HTTP server binds.
	ListenAddress string

	// StorageRoot is the directory holding object content. Bucket content
	// lives under <StorageRoot>/<bucket>/, resumable upload temp files under
	// <StorageRoot>/tmp/.
	StorageRoot string

	// SnapshotPath, when set, makes the metadata store persist a JSON
	// snapshot after every transaction and reload it on startup. Empty means
	// memory only.
	SnapshotPath string

	// DockerHost overrides the container runtime endpoint. Empty defers to
	// the runtime's environment detection (DOCKER_HOST et al).
	DockerHost string

	// InstanceImage is the container image backing emulated VM instances.
	InstanceImage string

	// SignedURLSecret is the HMAC secret signed URLs are verified against.
	SignedURLSecret string

	// DefaultProject is the project auto-created at startup.
	DefaultProject string

	// LifecycleInterval is the wake period of the bucket lifecycle executor.
	LifecycleInterval time.Duration

	// ReconcileInterval is the wake period of the instance reconciler.
	ReconcileInterval time.Duration

	// ContainerTimeout bounds the container runtime probe at startup.
	ContainerTimeout time.Duration

	// RequestTimeout bounds every inbound HTTP request.
	RequestTimeout time.Duration

	// Debug enables debug logging.
	Debug bool
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		ListenAddress:     ":8787",
		StorageRoot:       "/var/lib/gcp-emulator/storage",
		InstanceImage:     "alpine:3.18",
		SignedURLSecret:   "emulator-unsafe-secret",
		DefaultProject:    "local-project",
		LifecycleInterval: 5 * time.Minute,
		ReconcileInterval: 5 * time.Second,
		ContainerTimeout:  30 * time.Second,
		RequestTimeout:    60 * time.Second,
	}
}

// Merge fills c's zero fields from Default and returns the result.
func Merge(c Config) (Config, error) {
	if err := mergo.Merge(&c, Default()); err != nil {
		return Config{}, errors.Wrap(err, errMergeDefaults)
	}
	return c, nil
}

// Validate reports the first structural problem with c.
func (c Config) Validate() error {
	switch {
	case c.ListenAddress == "":
		return errors.New(errNoListen)
	case c.StorageRoot == "":
		return errors.New(errNoStorageRoot)
	case c.DefaultProject == "":
		return errors.New(errNoProject)
	case c.LifecycleInterval <= 0, c.ReconcileInterval <= 0, c.ContainerTimeout <= 0, c.RequestTimeout <= 0:
		return errors.New(errBadInterval)
	}
	return nil
}
