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
	"fmt"

	iamv1 "google.golang.org/api/iam/v1"
	"google.golang.org/api/storage/v1"

	"github.com/crossplane-contrib/gcp-emulator/pkg/iam"
	"github.com/crossplane-contrib/gcp-emulator/pkg/store"
)

// bucketPolicyResource is the store key of a bucket's policy. Keys are
// project-qualified because the same bucket name may exist in several
// projects; the wire resourceId keeps the provider's project-less form.
func bucketPolicyResource(project, name string) string {
	return fmt.Sprintf("projects/%s/buckets/%s", project, name)
}

// GetBucketPolicy returns the stored policy of a bucket. Policies are
// echoed, never enforced; a bucket without one reports the empty-policy
// etag.
func (s *Service) GetBucketPolicy(bucket string) (*storage.Policy, error) {
	var out *storage.Policy
	err := s.store.View(func(st *store.State) error {
		b, err := bucketOf(st, bucket)
		if err != nil {
			return err
		}
		out = toStoragePolicy(iam.PolicyOn(st, bucketPolicyResource(b.Project, b.Name)), b.Name)
		return nil
	})
	return out, err
}

// SetBucketPolicy stores a bucket policy after the etag precondition check.
func (s *Service) SetBucketPolicy(bucket string, p *storage.Policy) (*storage.Policy, error) {
	var out *storage.Policy
	err := s.store.Update(func(st *store.State) error {
		b, err := bucketOf(st, bucket)
		if err != nil {
			return err
		}
		applied, err := iam.ApplyPolicy(st, bucketPolicyResource(b.Project, b.Name), fromStoragePolicy(p))
		if err != nil {
			return err
		}
		out = toStoragePolicy(applied, b.Name)
		return nil
	})
	return out, err
}

// TestBucketPermissions filters the requested permissions down to those
// granted by any role bound on the bucket's policy.
func (s *Service) TestBucketPermissions(bucket string, permissions []string) ([]string, error) {
	var out []string
	err := s.store.View(func(st *store.State) error {
		b, err := bucketOf(st, bucket)
		if err != nil {
			return err
		}
		out = iam.Permitted(st, bucketPolicyResource(b.Project, b.Name), permissions)
		return nil
	})
	return out, err
}

func toStoragePolicy(p *iamv1.Policy, bucket string) *storage.Policy {
	out := &storage.Policy{
		Kind:       "storage#policy",
		ResourceId: "projects/_/buckets/" + bucket,
		Etag:       p.Etag,
		Version:    p.Version,
	}
	for _, b := range p.Bindings {
		out.Bindings = append(out.Bindings, &storage.PolicyBindings{
			Role:    b.Role,
			Members: append([]string{}, b.Members...),
		})
	}
	return out
}

func fromStoragePolicy(p *storage.Policy) *iamv1.Policy {
	out := &iamv1.Policy{Etag: p.Etag, Version: p.Version}
	for _, b := range p.Bindings {
		if b == nil {
			continue
		}
		out.Bindings = append(out.Bindings, &iamv1.Binding{
			Role:    b.Role,
			Members: append([]string{}, b.Members...),
		})
	}
	return out
}
