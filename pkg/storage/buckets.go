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
	"os"
	"time"

	"github.com/imdario/mergo"
	"github.com/pkg/errors"
	"google.golang.org/api/storage/v1"

	"github.com/crossplane-contrib/gcp-emulator/pkg/apierror"
	"github.com/crossplane-contrib/gcp-emulator/pkg/store"
	"github.com/crossplane-contrib/gcp-emulator/pkg/validation"
)

const (
	errBucketNotFound = "bucket %q not found"
	errMergeLabels    = "cannot merge labels"
	errRemoveContent  = "cannot remove bucket content"

	defaultLocation     = "US"
	defaultStorageClass = "STANDARD"
)

// CreateBucket creates a bucket in project. (project, name) must be unique;
// the same name may exist in other projects.
func (s *Service) CreateBucket(project string, b *storage.Bucket) (*storage.Bucket, error) {
	var rec *store.Bucket
	err := s.store.Update(func(st *store.State) error {
		st.EnsureProject(project, s.now())
		r, err := newBucketRecord(project, s.now(), b)
		if err != nil {
			return err
		}
		key := store.BucketKey(project, r.Name)
		if _, ok := st.Buckets[key]; ok {
			return apierror.Conflict("bucket %q already exists in project %s", r.Name, project)
		}
		st.Buckets[key] = r
		st.Objects[key] = map[string]*store.Object{}
		st.Versions[key] = map[string][]*store.Object{}
		rec = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return GenerateBucket(rec), nil
}

// GetBucket returns a bucket by name.
func (s *Service) GetBucket(name string) (*storage.Bucket, error) {
	var out *storage.Bucket
	err := s.store.View(func(st *store.State) error {
		b := st.FindBucket(name)
		if b == nil {
			return apierror.NotFound(errBucketNotFound, name)
		}
		out = GenerateBucket(b)
		return nil
	})
	return out, err
}

// ListBuckets lists a project's buckets.
func (s *Service) ListBuckets(project string) (*storage.Buckets, error) {
	out := &storage.Buckets{Kind: "storage#buckets"}
	err := s.store.View(func(st *store.State) error {
		for _, b := range st.BucketsOf(project) {
			out.Items = append(out.Items, GenerateBucket(b))
		}
		return nil
	})
	return out, err
}

// PatchBucket applies a metadata patch: versioning, labels, CORS, lifecycle
// and storage class. Every patch bumps the metageneration.
func (s *Service) PatchBucket(name string, patch *storage.Bucket) (*storage.Bucket, error) {
	var rec *store.Bucket
	err := s.store.Update(func(st *store.State) error {
		b := st.FindBucket(name)
		if b == nil {
			return apierror.NotFound(errBucketNotFound, name)
		}
		if err := patchBucketRecord(b, patch, s.now()); err != nil {
			return err
		}
		rec = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return GenerateBucket(rec), nil
}

// DeleteBucket removes an empty bucket, its soft-deleted object rows and its
// content directory. A bucket with live objects is not deletable.
func (s *Service) DeleteBucket(name string) error {
	return s.store.Update(func(st *store.State) error {
		b := st.FindBucket(name)
		if b == nil {
			return apierror.NotFound(errBucketNotFound, name)
		}
		key := store.BucketKey(b.Project, b.Name)
		if n := len(st.LiveObjects(key)); n > 0 {
			return apierror.Conflict("bucket %q is not empty: %d live objects", name, n)
		}
		// Content goes first; a crash before commit leaves dangling rows
		// that the startup scan reconciles.
		if err := os.RemoveAll(s.bucketDir(b.Project, b.Name)); err != nil {
			return errors.Wrap(err, errRemoveContent)
		}
		delete(st.Buckets, key)
		delete(st.Objects, key)
		delete(st.Versions, key)
		delete(st.Policies, bucketPolicyResource(b.Project, b.Name))
		return nil
	})
}

func newBucketRecord(project string, now time.Time, b *storage.Bucket) (*store.Bucket, error) {
	if err := validation.BucketName(b.Name); err != nil {
		return nil, err
	}
	rec := &store.Bucket{
		Name:           b.Name,
		Project:        project,
		Location:       b.Location,
		StorageClass:   b.StorageClass,
		Metageneration: 1,
		Labels:         copyLabels(b.Labels),
		Notifications:  map[string]*store.NotificationConfig{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if rec.Location == "" {
		rec.Location = defaultLocation
	}
	if rec.StorageClass == "" {
		rec.StorageClass = defaultStorageClass
	}
	if b.Versioning != nil {
		rec.VersioningEnabled = b.Versioning.Enabled
	}
	rec.CORS = corsFromWire(b.Cors)
	rules, err := lifecycleFromWire(b.Lifecycle)
	if err != nil {
		return nil, err
	}
	rec.LifecycleRules = rules
	return rec, nil
}

func patchBucketRecord(b *store.Bucket, patch *storage.Bucket, now time.Time) error {
	if patch.Location != "" && patch.Location != b.Location {
		return apierror.Invalid("bucket location cannot be changed")
	}
	if patch.Versioning != nil {
		b.VersioningEnabled = patch.Versioning.Enabled
	}
	if patch.StorageClass != "" {
		b.StorageClass = patch.StorageClass
	}
	if patch.Labels != nil {
		if b.Labels == nil {
			b.Labels = map[string]string{}
		}
		if err := mergo.Merge(&b.Labels, patch.Labels, mergo.WithOverride); err != nil {
			return errors.Wrap(err, errMergeLabels)
		}
		for k, v := range b.Labels {
			if v == "" {
				delete(b.Labels, k)
			}
		}
	}
	if patch.Cors != nil {
		b.CORS = corsFromWire(patch.Cors)
	}
	if patch.Lifecycle != nil {
		rules, err := lifecycleFromWire(patch.Lifecycle)
		if err != nil {
			return err
		}
		b.LifecycleRules = rules
	}
	b.Metageneration++
	b.UpdatedAt = now
	return nil
}

func copyLabels(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
