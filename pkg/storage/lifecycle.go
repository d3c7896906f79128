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

package storage

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"

	"github.com/crossplane-contrib/gcp-emulator/pkg/apierror"
	"github.com/crossplane-contrib/gcp-emulator/pkg/store"
)

// storageClassArchive is the class the Archive action assigns.
const storageClassArchive = "ARCHIVE"

var lifecycleActions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "gcp_emulator",
	Subsystem: "storage",
	Name:      "lifecycle_actions_total",
	Help:      "Lifecycle rule applications by action.",
}, []string{"action"})

// RunLifecycle applies age-based bucket rules every interval until ctx is
// cancelled.
func (s *Service) RunLifecycle(ctx context.Context, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			s.SweepLifecycle()
		}
	}
}

// SweepLifecycle runs a single pass over every bucket's lifecycle rules.
// Live latest versions created strictly before now minus the rule's age are
// deleted or archived. Each object is its own transaction; a failure is
// logged and the sweep moves on. Archiving an already archived object is a
// no-op, so repeated sweeps over the same clock converge.
func (s *Service) SweepLifecycle() {
	type target struct {
		project string
		bucket  string
		object  string
		action  string
	}
	var targets []target
	now := s.now()
	err := s.store.View(func(st *store.State) error {
		for _, b := range st.Buckets {
			key := store.BucketKey(b.Project, b.Name)
			for _, rule := range b.LifecycleRules {
				cutoff := now.Add(-time.Duration(rule.AgeDays) * 24 * time.Hour)
				for _, o := range st.LiveObjects(key) {
					if !o.CreatedAt.Before(cutoff) {
						continue
					}
					if rule.Action == store.LifecycleActionArchive && o.StorageClass == storageClassArchive {
						continue
					}
					targets = append(targets, target{project: b.Project, bucket: b.Name, object: o.Name, action: rule.Action})
				}
			}
		}
		return nil
	})
	if err != nil {
		s.log.WithError(err).Warn("cannot scan buckets for lifecycle rules")
		return
	}

	for _, t := range targets {
		var err error
		switch t.action {
		case store.LifecycleActionDelete:
			err = s.lifecycleDelete(t.project, t.bucket, t.object)
		case store.LifecycleActionArchive:
			err = s.lifecycleArchive(t.project, t.bucket, t.object)
		}
		if err != nil {
			s.log.WithError(err).WithFields(logrus.Fields{
				"bucket": t.bucket,
				"object": t.object,
				"action": t.action,
			}).Warn("lifecycle action failed")
			continue
		}
		lifecycleActions.WithLabelValues(t.action).Inc()
	}
}

func (s *Service) lifecycleDelete(project, bucket, object string) error {
	var (
		b       *store.Bucket
		deleted *store.Object
	)
	err := s.store.Update(func(st *store.State) error {
		got, ok := st.Buckets[store.BucketKey(project, bucket)]
		if !ok {
			return apierror.NotFound(errBucketNotFound, bucket)
		}
		rec, err := softDeleteObject(st, got, object, s.now())
		if err != nil {
			return err
		}
		b, deleted = got, rec
		return nil
	})
	if apierror.IsNotFound(err) {
		// A request or an overlapping rule deleted it between the scan and
		// this transaction.
		return nil
	}
	if err != nil {
		return err
	}
	s.notify(b, store.EventDelete, deleted)
	return nil
}

func (s *Service) lifecycleArchive(project, bucket, object string) error {
	return s.store.Update(func(st *store.State) error {
		key := store.BucketKey(project, bucket)
		latest := liveLatest(st, key, object)
		if latest == nil || latest.StorageClass == storageClassArchive {
			return nil
		}
		now := s.now()
		for _, row := range []*store.Object{latest, findVersion(st.Versions[key][object], latest.Generation)} {
			if row == nil {
				continue
			}
			row.StorageClass = storageClassArchive
			row.Metageneration++
			row.UpdatedAt = now
		}
		return nil
	})
}
