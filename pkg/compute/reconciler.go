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

package compute

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/crossplane-contrib/gcp-emulator/pkg/runtime"
	"github.com/crossplane-contrib/gcp-emulator/pkg/store"
)

// observation is one instance's engine-side state gathered during a
// reconcile pass, applied back under the lock only if the row has not moved
// since it was read.
type observation struct {
	key        string
	seen       store.InstanceStatus
	terminated bool
	ip         string
}

// RunReconciler folds container state into instance status every interval
// until ctx is cancelled.
func (s *Service) RunReconciler(ctx context.Context, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			s.Reconcile(ctx)
		}
	}
}

// Reconcile runs a single pass: every RUNNING or STOPPING instance is
// checked against the engine. A lost or exited container terminates the
// row; a healthy container re-syncs its IP.
func (s *Service) Reconcile(ctx context.Context) {
	type candidate struct {
		key         string
		status      store.InstanceStatus
		containerID string
	}
	var candidates []candidate
	err := s.store.View(func(st *store.State) error {
		for key, inst := range st.Instances {
			if inst.Status != store.StatusRunning && inst.Status != store.StatusStopping {
				continue
			}
			candidates = append(candidates, candidate{key: key, status: inst.Status, containerID: inst.ContainerID})
		}
		return nil
	})
	if err != nil {
		s.log.WithError(err).Warn("reconcile pass cannot read instances")
		return
	}

	var observed []observation
	for _, c := range candidates {
		obs := observation{key: c.key, seen: c.status}
		status, err := s.rt.Inspect(ctx, c.containerID)
		switch {
		case runtime.IsNotFound(err):
			obs.terminated = true
		case err != nil:
			s.log.WithError(err).WithField("instance", c.key).Warn("reconcile cannot inspect container")
			continue
		case !status.Running:
			obs.terminated = true
		default:
			obs.ip = status.IPAddress
		}
		observed = append(observed, obs)
	}
	if len(observed) == 0 {
		return
	}

	err = s.store.Update(func(st *store.State) error {
		for _, obs := range observed {
			inst, ok := st.Instances[obs.key]
			if !ok || inst.Status != obs.seen {
				continue
			}
			if obs.terminated {
				now := s.now()
				inst.Status = store.StatusTerminated
				inst.LastStopAt = &now
				s.log.WithFields(logrus.Fields{"instance": obs.key}).Info("reconciled crashed instance to TERMINATED")
				continue
			}
			refreshInternalIP(inst, obs.ip)
		}
		return nil
	})
	if err != nil {
		s.log.WithError(err).Warn("reconcile pass cannot apply observations")
	}
}
