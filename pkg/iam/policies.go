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

package iam

import (
	"encoding/base64"
	"encoding/binary"
	"strings"

	iam "google.golang.org/api/iam/v1"

	"github.com/crossplane-contrib/gcp-emulator/pkg/apierror"
	"github.com/crossplane-contrib/gcp-emulator/pkg/gcp"
	"github.com/crossplane-contrib/gcp-emulator/pkg/store"
)

// emptyPolicyEtag is what the provider reports for a resource that never
// had a policy set.
const emptyPolicyEtag = "ACAB"

// rolePermissions is the static role to permission map backing
// testIamPermissions. A trailing ".*" grants every permission under the
// prefix; "*" grants everything. The table is deliberately small; it only
// needs to cover the roles developers bind against an emulator.
var rolePermissions = map[string][]string{
	"roles/owner":  {"*"},
	"roles/editor": {"*"},
	"roles/viewer": {
		"storage.buckets.get", "storage.buckets.list",
		"storage.objects.get", "storage.objects.list",
		"compute.instances.get", "compute.instances.list",
		"iam.serviceAccounts.get", "iam.serviceAccounts.list",
	},
	"roles/storage.admin":           {"storage.*"},
	"roles/storage.objectAdmin":     {"storage.objects.*"},
	"roles/storage.objectViewer":    {"storage.objects.get", "storage.objects.list"},
	"roles/storage.objectCreator":   {"storage.objects.create"},
	"roles/compute.admin":           {"compute.*"},
	"roles/compute.viewer":          {"compute.instances.get", "compute.instances.list"},
	"roles/iam.serviceAccountAdmin": {"iam.serviceAccounts.*"},
	"roles/iam.serviceAccountUser": {
		"iam.serviceAccounts.actAs",
		"iam.serviceAccounts.get",
		"iam.serviceAccounts.list",
	},
}

// GetServiceAccountPolicy returns the account's stored policy, or an empty
// one with the provider's empty-policy etag.
func (s *Service) GetServiceAccountPolicy(project, ref string) (*iam.Policy, error) {
	var out *iam.Policy
	err := s.store.View(func(st *store.State) error {
		acct, err := resolveAccount(st, project, ref)
		if err != nil {
			return err
		}
		out = PolicyOn(st, gcp.ServiceAccountRRN(project, acct.Email))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SetServiceAccountPolicy replaces the account's stored policy. A non-empty
// etag in the request must match the current one.
func (s *Service) SetServiceAccountPolicy(project, ref string, req *iam.SetIamPolicyRequest) (*iam.Policy, error) {
	if req == nil || req.Policy == nil {
		return nil, apierror.Invalid("policy is required")
	}
	var out *iam.Policy
	err := s.store.Update(func(st *store.State) error {
		acct, err := resolveAccount(st, project, ref)
		if err != nil {
			return err
		}
		out, err = ApplyPolicy(st, gcp.ServiceAccountRRN(project, acct.Email), req.Policy)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// TestServiceAccountPermissions intersects the requested permissions with
// the union of permissions implied by every role bound on the account's
// policy. The emulator has no caller identity, so all bindings count.
func (s *Service) TestServiceAccountPermissions(project, ref string, req *iam.TestIamPermissionsRequest) (*iam.TestIamPermissionsResponse, error) {
	out := &iam.TestIamPermissionsResponse{}
	err := s.store.View(func(st *store.State) error {
		acct, err := resolveAccount(st, project, ref)
		if err != nil {
			return err
		}
		if req != nil {
			out.Permissions = Permitted(st, gcp.ServiceAccountRRN(project, acct.Email), req.Permissions)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PolicyOn reads the stored policy for any resource. Callers run it inside
// a store transaction; bucket policies go through here too.
func PolicyOn(st *store.State, resource string) *iam.Policy {
	rec, ok := st.Policies[resource]
	if !ok {
		return &iam.Policy{Etag: emptyPolicyEtag, Version: 1}
	}
	return GeneratePolicy(rec)
}

// ApplyPolicy stores a policy for any resource after checking the etag
// precondition. An empty request etag skips the check.
func ApplyPolicy(st *store.State, resource string, p *iam.Policy) (*iam.Policy, error) {
	current := emptyPolicyEtag
	if rec, ok := st.Policies[resource]; ok {
		current = rec.Etag
	}
	if p.Etag != "" && p.Etag != current {
		return nil, apierror.ConditionNotMet("policy etag %q does not match %q", p.Etag, current)
	}

	rec := &store.Policy{
		Resource: resource,
		Etag:     nextEtag(current),
		Version:  p.Version,
	}
	if rec.Version == 0 {
		rec.Version = 1
	}
	for _, b := range p.Bindings {
		rec.Bindings = append(rec.Bindings, store.PolicyBinding{Role: b.Role, Members: append([]string{}, b.Members...)})
	}
	st.Policies[resource] = rec
	return GeneratePolicy(rec), nil
}

// Permitted filters requested permissions down to those granted by the
// roles bound on the resource's policy, preserving request order.
func Permitted(st *store.State, resource string, requested []string) []string {
	rec, ok := st.Policies[resource]
	if !ok {
		return nil
	}
	var out []string
	for _, perm := range requested {
		for _, b := range rec.Bindings {
			if roleGrants(b.Role, perm) {
				out = append(out, perm)
				break
			}
		}
	}
	return out
}

func roleGrants(role, perm string) bool {
	for _, grant := range rolePermissions[role] {
		switch {
		case grant == "*":
			return true
		case strings.HasSuffix(grant, ".*"):
			if strings.HasPrefix(perm, grant[:len(grant)-1]) {
				return true
			}
		case grant == perm:
			return true
		}
	}
	return false
}

// GeneratePolicy produces the wire representation of a stored policy.
func GeneratePolicy(rec *store.Policy) *iam.Policy {
	out := &iam.Policy{Etag: rec.Etag, Version: rec.Version}
	for _, b := range rec.Bindings {
		out.Bindings = append(out.Bindings, &iam.Binding{Role: b.Role, Members: append([]string{}, b.Members...)})
	}
	return out
}

// nextEtag derives the successor of an etag. Etags are the provider's
// protobuf shape, a 0x08 tag byte followed by a varint revision, so "CAE="
// follows the empty-policy etag and "CAI=" follows that.
func nextEtag(current string) string {
	var rev uint64
	if raw, err := base64.StdEncoding.DecodeString(current); err == nil && len(raw) > 1 && raw[0] == 0x8 {
		rev, _ = binary.Uvarint(raw[1:])
	}
	return base64.StdEncoding.EncodeToString(binary.AppendUvarint([]byte{0x8}, rev+1))
}
