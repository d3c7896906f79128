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
	"fmt"
	"sync"

	cerrdefs "github.com/containerd/errdefs"
)

// FakeContainer is the state the fake engine keeps per container.
type FakeContainer struct {
	ID      string
	Spec    Spec
	Running bool
	IP      string
}

// Fake is an in-memory ContainerRuntime for tests. Error fields, when set,
// are returned by the corresponding call. All methods are safe for
// concurrent use.
type Fake struct {
	mu         sync.Mutex
	containers map[string]*FakeContainer
	networks   map[string]bool
	next       int

	// NextIP, when non-empty, is assigned to the next created container.
	NextIP string

	PingErr    error
	NetworkErr error
	CreateErr  error
	StartErr   error
	StopErr    error
	RemoveErr  error
	InspectErr error
}

var _ ContainerRuntime = &Fake{}

// NewFake returns an empty fake engine.
func NewFake() *Fake {
	return &Fake{
		containers: map[string]*FakeContainer{},
		networks:   map[string]bool{},
	}
}

// Ping implements ContainerRuntime.
func (f *Fake) Ping(_ context.Context) error { return f.PingErr }

// EnsureNetwork implements ContainerRuntime.
func (f *Fake) EnsureNetwork(_ context.Context, name string) error {
	if f.NetworkErr != nil {
		return f.NetworkErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.networks[name] = true
	return nil
}

// Create implements ContainerRuntime. Like the real engine it refuses a
// name that is already taken.
func (f *Fake) Create(_ context.Context, spec Spec) (string, error) {
	if f.CreateErr != nil {
		return "", f.CreateErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.containers {
		if c.Spec.Name == spec.Name {
			return "", fmt.Errorf("container name %s already in use: %w", spec.Name, cerrdefs.ErrConflict)
		}
	}
	f.next++
	id := fmt.Sprintf("fake-%d", f.next)
	f.containers[id] = &FakeContainer{ID: id, Spec: spec, IP: f.NextIP}
	return id, nil
}

// Start implements ContainerRuntime.
func (f *Fake) Start(_ context.Context, id string) error {
	if f.StartErr != nil {
		return f.StartErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[id]
	if !ok {
		return fmt.Errorf("no such container %s: %w", id, cerrdefs.ErrNotFound)
	}
	c.Running = true
	return nil
}

// Stop implements ContainerRuntime.
func (f *Fake) Stop(_ context.Context, id string) error {
	if f.StopErr != nil {
		return f.StopErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[id]
	if !ok {
		return fmt.Errorf("no such container %s: %w", id, cerrdefs.ErrNotFound)
	}
	c.Running = false
	return nil
}

// Remove implements ContainerRuntime.
func (f *Fake) Remove(_ context.Context, id string) error {
	if f.RemoveErr != nil {
		return f.RemoveErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.containers[id]; !ok {
		return fmt.Errorf("no such container %s: %w", id, cerrdefs.ErrNotFound)
	}
	delete(f.containers, id)
	return nil
}

// Inspect implements ContainerRuntime. As with the real engine, id may be a
// container id or a container name.
func (f *Fake) Inspect(_ context.Context, id string) (Status, error) {
	if f.InspectErr != nil {
		return Status{}, f.InspectErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[id]
	if !ok {
		for _, byName := range f.containers {
			if byName.Spec.Name == id {
				c, ok = byName, true
				break
			}
		}
	}
	if !ok {
		return Status{}, fmt.Errorf("no such container %s: %w", id, cerrdefs.ErrNotFound)
	}
	return Status{ID: c.ID, Name: c.Spec.Name, Running: c.Running, IPAddress: c.IP}, nil
}

// Get returns the fake container with the given id, or nil.
func (f *Fake) Get(id string) *FakeContainer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.containers[id]
}

// Len returns the number of containers the fake engine holds.
func (f *Fake) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.containers)
}

// HasNetwork tells whether EnsureNetwork was called for name.
func (f *Fake) HasNetwork(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.networks[name]
}

// MarkCrashed flips a container to not-running without going through Stop,
// simulating a crash for reconciler tests.
func (f *Fake) MarkCrashed(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.containers[id]; ok {
		c.Running = false
	}
}

// SetIP overrides a container's address, simulating engine-side assignment.
func (f *Fake) SetIP(id, ip string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.containers[id]; ok {
		c.IP = ip
	}
}
