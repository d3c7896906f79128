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

// Package compute implements the emulated VM control plane. Instances are
// rows in the shared store backed by real containers; the state machine
// drives PROVISIONING through RUNNING on create, and a background
// reconciler folds observed container state back into instance status.
package compute

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/crossplane-contrib/gcp-emulator/pkg/runtime"
	"github.com/crossplane-contrib/gcp-emulator/pkg/store"
)

// Service exposes the compute APIs over the shared store and a container
// runtime.
type Service struct {
	store *store.Store
	rt    runtime.ContainerRuntime
	log   *logrus.Entry
	now   func() time.Time
	// image backs every instance container; machine types only size the
	// catalogue entry, they do not pick images.
	image string
}

// New returns a compute service creating instance containers from image.
func New(st *store.Store, rt runtime.ContainerRuntime, log *logrus.Entry, image string) *Service {
	return &Service{store: st, rt: rt, log: log, now: time.Now, image: image}
}

// ContainerName derives the deterministic container name of an instance, so
// containers survive emulator restarts and remain adoptable.
func ContainerName(project, zone, name string) string {
	return "gce-" + project + "-" + zone + "-" + name
}

// networkName derives the per-project bridge network name.
func networkName(project string) string {
	return "gce-" + project
}
