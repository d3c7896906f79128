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

// Package runtime abstracts the container engine backing emulated VM
// instances. The compute control plane talks to this interface only; the
// docker implementation and a scriptable fake satisfy it.
package runtime

import (
	"context"

	cerrdefs "github.com/containerd/errdefs"
)

// Spec describes the container to create for an instance.
type Spec struct {
	// Name is the container name, derived from the instance identity.
	Name string
	// Image is the container image backing the instance.
	Image string
	// Network is the bridge network the container attaches to.
	Network string
	Labels  map[string]string
	Env     []string
}

// Status is the observed state of a container.
type Status struct {
	ID        string
	Name      string
	Running   bool
	IPAddress string
}

// ContainerRuntime is the engine API the compute control plane consumes.
// Every call must respect ctx cancellation.
type ContainerRuntime interface {
	// Ping verifies the engine is reachable.
	Ping(ctx context.Context) error
	// EnsureNetwork creates the named bridge network if it does not exist.
	EnsureNetwork(ctx context.Context, name string) error
	// Create creates a container and returns its id. The container is not
	// started.
	Create(ctx context.Context, spec Spec) (string, error)
	Start(ctx context.Context, id string) error
	Stop(ctx context.Context, id string) error
	// Remove force-removes a container, stopping it first if needed.
	Remove(ctx context.Context, id string) error
	// Inspect returns the observed status of a container.
	Inspect(ctx context.Context, id string) (Status, error)
}

// IsNotFound tells whether err reports a missing container, image or
// network.
func IsNotFound(err error) bool {
	return cerrdefs.IsNotFound(err)
}

// IsConflict tells whether err reports a name collision, which is how the
// engine answers an attempt to create a container whose name is taken.
func IsConflict(err error) bool {
	return cerrdefs.IsConflict(err)
}
