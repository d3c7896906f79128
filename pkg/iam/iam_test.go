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
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
	iam "google.golang.org/api/iam/v1"

	"github.com/crossplane-contrib/gcp-emulator/pkg/apierror"
	"github.com/crossplane-contrib/gcp-emulator/pkg/store"
)

const testUniqueID = "100000000000000000001"

var testTime = time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)

func testService(t *testing.T) *Service {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	st, err := store.New(logrus.NewEntry(log), "")
	if err != nil {
		t.Fatalf("store.New(...): %v", err)
	}
	s := New(st, logrus.NewEntry(log))
	s.now = func() time.Time { return testTime }
	s.uniqueID = func() string { return testUniqueID }
	return s
}

func createAccount(t *testing.T, s *Service) *iam.ServiceAccount {
	t.Helper()
	sa, err := s.CreateServiceAccount("p1", &iam.CreateServiceAccountRequest{
		AccountId:      "build-robot",
		ServiceAccount: &iam.ServiceAccount{DisplayName: "Build robot"},
	})
	if err != nil {
		t.Fatalf("CreateServiceAccount(...): %v", err)
	}
	return sa
}

func TestCreateServiceAccount(t *testing.T) {
	s := testService(t)

	got := createAccount(t, s)
	want := &iam.ServiceAccount{
		Name:           "projects/p1/serviceAccounts/build-robot@p1.iam.gserviceaccount.com",
		ProjectId:      "p1",
		UniqueId:       testUniqueID,
		Email:          "build-robot@p1.iam.gserviceaccount.com",
		DisplayName:    "Build robot",
		Oauth2ClientId: testUniqueID,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("CreateServiceAccount(...): -want, +got:\n%s", diff)
	}
}

func TestUniqueIDShape(t *testing.T) {
	id := newUniqueID()
	if len(id) != 21 {
		t.Errorf("unique id %q has %d digits, want 21", id, len(id))
	}
	if id[0] != '1' {
		t.Errorf("unique id %q should start with 1", id)
	}
}

func TestGetServiceAccountByReference(t *testing.T) {
	s := testService(t)
	created := createAccount(t, s)

	byEmail, err := s.GetServiceAccount("p1", created.Email)
	if err != nil {
		t.Fatalf("GetServiceAccount(email): %v", err)
	}
	byID, err := s.GetServiceAccount("p1", testUniqueID)
	if err != nil {
		t.Fatalf("GetServiceAccount(uniqueId): %v", err)
	}
	if diff := cmp.Diff(byEmail, byID); diff != "" {
		t.Errorf("lookups disagree: -email, +id:\n%s", diff)
	}

	if _, err := s.GetServiceAccount("other", created.Email); !apierror.IsNotFound(err) {
		t.Errorf("cross-project lookup should be notFound, got %v", err)
	}
	if _, err := s.GetServiceAccount("p1", "nobody@p1.iam.gserviceaccount.com"); !apierror.IsNotFound(err) {
		t.Errorf("unknown email should be notFound, got %v", err)
	}
}

func TestCreateServiceAccountValidation(t *testing.T) {
	cases := map[string]string{
		"TooShort":    "ab",
		"Uppercase":   "Build-Robot",
		"LeadsDigit":  "1robot",
		"TrailsDash":  "robot-",
		"Underscores": "build_robot",
	}

	for name, id := range cases {
		t.Run(name, func(t *testing.T) {
			s := testService(t)
			_, err := s.CreateServiceAccount("p1", &iam.CreateServiceAccountRequest{AccountId: id})
			if apierror.FromError(err).Code != 400 {
				t.Errorf("CreateServiceAccount(%q) = %v, want invalid", id, err)
			}
		})
	}
}

func TestCreateServiceAccountConflict(t *testing.T) {
	s := testService(t)
	createAccount(t, s)

	_, err := s.CreateServiceAccount("p1", &iam.CreateServiceAccountRequest{AccountId: "build-robot"})
	if !apierror.IsConflict(err) {
		t.Errorf("duplicate account should conflict, got %v", err)
	}
}

func TestServiceAccountDisable(t *testing.T) {
	s := testService(t)
	created := createAccount(t, s)

	if err := s.SetServiceAccountDisabled("p1", created.Email, true); err != nil {
		t.Fatalf("disable: %v", err)
	}
	got, _ := s.GetServiceAccount("p1", created.Email)
	if !got.Disabled {
		t.Error("account should be disabled")
	}

	if err := s.SetServiceAccountDisabled("p1", created.Email, false); err != nil {
		t.Fatalf("enable: %v", err)
	}
	got, _ = s.GetServiceAccount("p1", created.Email)
	if got.Disabled {
		t.Error("account should be enabled again")
	}
}

func TestUpdateServiceAccount(t *testing.T) {
	s := testService(t)
	created := createAccount(t, s)

	got, err := s.UpdateServiceAccount("p1", created.Email, &iam.ServiceAccount{
		DisplayName: "Renamed",
		Description: "now with a description",
	})
	if err != nil {
		t.Fatalf("UpdateServiceAccount(...): %v", err)
	}
	if got.DisplayName != "Renamed" || got.Description != "now with a description" {
		t.Errorf("update result = %+v", got)
	}
	if got.Email != created.Email || got.UniqueId != created.UniqueId {
		t.Error("immutable fields must survive an update")
	}
}

func TestDeleteServiceAccountCascades(t *testing.T) {
	s := testService(t)
	created := createAccount(t, s)

	key, err := s.CreateKey("p1", created.Email, &iam.CreateServiceAccountKeyRequest{KeyAlgorithm: algRSA1024})
	if err != nil {
		t.Fatalf("CreateKey(...): %v", err)
	}
	if _, err := s.SetServiceAccountPolicy("p1", created.Email, &iam.SetIamPolicyRequest{
		Policy: &iam.Policy{Bindings: []*iam.Binding{{Role: "roles/viewer", Members: []string{"user:a@example.com"}}}},
	}); err != nil {
		t.Fatalf("SetServiceAccountPolicy(...): %v", err)
	}

	if err := s.DeleteServiceAccount("p1", created.Email); err != nil {
		t.Fatalf("DeleteServiceAccount(...): %v", err)
	}
	if _, err := s.GetServiceAccount("p1", created.Email); !apierror.IsNotFound(err) {
		t.Errorf("account should be gone, got %v", err)
	}

	keyID, _ := ParseKeyID(key.Name)
	err = s.store.View(func(st *store.State) error {
		if _, ok := st.ServiceAccountKeys[keyID]; ok {
			t.Error("keys should cascade with the account")
		}
		if _, ok := st.Policies["projects/p1/serviceAccounts/"+created.Email]; ok {
			t.Error("policy should cascade with the account")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View(...): %v", err)
	}
}

func TestCreateKeyCredentials(t *testing.T) {
	s := testService(t)
	created := createAccount(t, s)

	key, err := s.CreateKey("p1", created.Email, nil)
	if err != nil {
		t.Fatalf("CreateKey(...): %v", err)
	}
	if key.KeyAlgorithm != algRSA2048 || key.PrivateKeyType != "TYPE_GOOGLE_CREDENTIALS_FILE" {
		t.Errorf("key = %+v", key)
	}
	if key.ValidAfterTime != "2024-04-01T09:00:00.000Z" || key.ValidBeforeTime != "2034-04-01T09:00:00.000Z" {
		t.Errorf("validity window = %s .. %s", key.ValidAfterTime, key.ValidBeforeTime)
	}

	raw, err := base64.StdEncoding.DecodeString(key.PrivateKeyData)
	if err != nil {
		t.Fatalf("privateKeyData is not base64: %v", err)
	}
	var creds credentialsFile
	if err := json.Unmarshal(raw, &creds); err != nil {
		t.Fatalf("privateKeyData is not a credentials file: %v", err)
	}
	if creds.Type != "service_account" || creds.ClientEmail != created.Email || creds.ProjectID != "p1" {
		t.Errorf("credentials = %+v", creds)
	}

	block, _ := pem.Decode([]byte(creds.PrivateKey))
	if block == nil || block.Type != "PRIVATE KEY" {
		t.Fatalf("private_key is not a PEM private key")
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		t.Fatalf("ParsePKCS8PrivateKey(...): %v", err)
	}
	rsaKey, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		t.Fatalf("parsed key is %T, want RSA", parsed)
	}
	if got := rsaKey.N.BitLen(); got != 2048 {
		t.Errorf("key size = %d, want 2048", got)
	}
}

func TestKeyMetadataOnly(t *testing.T) {
	s := testService(t)
	created := createAccount(t, s)

	key, err := s.CreateKey("p1", created.Email, &iam.CreateServiceAccountKeyRequest{KeyAlgorithm: algRSA1024})
	if err != nil {
		t.Fatalf("CreateKey(...): %v", err)
	}

	got, err := s.GetKey("p1", created.Email, key.Name)
	if err != nil {
		t.Fatalf("GetKey(...): %v", err)
	}
	if got.PrivateKeyData != "" {
		t.Error("get must not return private material")
	}
	if got.Name != key.Name || got.KeyOrigin != "GOOGLE_PROVIDED" || got.KeyType != "USER_MANAGED" {
		t.Errorf("key metadata = %+v", got)
	}

	list, err := s.ListKeys("p1", created.Email)
	if err != nil {
		t.Fatalf("ListKeys(...): %v", err)
	}
	if len(list.Keys) != 1 || list.Keys[0].PrivateKeyData != "" {
		t.Errorf("list = %+v", list.Keys)
	}

	if err := s.DeleteKey("p1", created.Email, key.Name); err != nil {
		t.Fatalf("DeleteKey(...): %v", err)
	}
	if _, err := s.GetKey("p1", created.Email, key.Name); !apierror.IsNotFound(err) {
		t.Errorf("deleted key should be notFound, got %v", err)
	}
}

func TestCreateKeyUnsupportedAlgorithm(t *testing.T) {
	s := testService(t)
	created := createAccount(t, s)

	_, err := s.CreateKey("p1", created.Email, &iam.CreateServiceAccountKeyRequest{KeyAlgorithm: "KEY_ALG_ECDSA_P256"})
	if apierror.FromError(err).Code != 400 {
		t.Errorf("unsupported algorithm = %v, want invalid", err)
	}
}

func TestParseKeyID(t *testing.T) {
	cases := map[string]struct {
		ref  string
		want string
	}{
		"Bare": {ref: "abc123", want: "abc123"},
		"RRN":  {ref: "projects/p1/serviceAccounts/a@p1.iam.gserviceaccount.com/keys/abc123", want: "abc123"},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := ParseKeyID(tc.ref)
			if err != nil {
				t.Fatalf("ParseKeyID(%q): %v", tc.ref, err)
			}
			if got != tc.want {
				t.Errorf("ParseKeyID(%q) = %q, want %q", tc.ref, got, tc.want)
			}
		})
	}
}

func TestPolicyLifecycle(t *testing.T) {
	s := testService(t)
	created := createAccount(t, s)

	empty, err := s.GetServiceAccountPolicy("p1", created.Email)
	if err != nil {
		t.Fatalf("GetServiceAccountPolicy(...): %v", err)
	}
	if empty.Etag != emptyPolicyEtag || len(empty.Bindings) != 0 {
		t.Errorf("fresh policy = %+v", empty)
	}

	set, err := s.SetServiceAccountPolicy("p1", created.Email, &iam.SetIamPolicyRequest{
		Policy: &iam.Policy{Bindings: []*iam.Binding{
			{Role: "roles/iam.serviceAccountUser", Members: []string{"user:dev@example.com"}},
		}},
	})
	if err != nil {
		t.Fatalf("SetServiceAccountPolicy(...): %v", err)
	}
	if set.Etag != "CAE=" {
		t.Errorf("first etag = %q, want CAE=", set.Etag)
	}

	got, _ := s.GetServiceAccountPolicy("p1", created.Email)
	if diff := cmp.Diff(set, got); diff != "" {
		t.Errorf("stored policy: -set, +got:\n%s", diff)
	}

	// A stale etag is refused; the matching one advances the revision.
	_, err = s.SetServiceAccountPolicy("p1", created.Email, &iam.SetIamPolicyRequest{
		Policy: &iam.Policy{Etag: emptyPolicyEtag},
	})
	if !apierror.IsConditionNotMet(err) {
		t.Errorf("stale etag should be conditionNotMet, got %v", err)
	}

	next, err := s.SetServiceAccountPolicy("p1", created.Email, &iam.SetIamPolicyRequest{
		Policy: &iam.Policy{Etag: "CAE="},
	})
	if err != nil {
		t.Fatalf("second set: %v", err)
	}
	if next.Etag != "CAI=" {
		t.Errorf("second etag = %q, want CAI=", next.Etag)
	}
}

func TestTestServiceAccountPermissions(t *testing.T) {
	cases := map[string]struct {
		role      string
		requested []string
		want      []string
	}{
		"ObjectViewer": {
			role:      "roles/storage.objectViewer",
			requested: []string{"storage.objects.get", "storage.objects.delete", "compute.instances.get"},
			want:      []string{"storage.objects.get"},
		},
		"StorageAdminPrefix": {
			role:      "roles/storage.admin",
			requested: []string{"storage.buckets.delete", "compute.instances.get"},
			want:      []string{"storage.buckets.delete"},
		},
		"OwnerEverything": {
			role:      "roles/owner",
			requested: []string{"compute.instances.delete", "storage.objects.get"},
			want:      []string{"compute.instances.delete", "storage.objects.get"},
		},
		"UnknownRole": {
			role:      "roles/mystery",
			requested: []string{"storage.objects.get"},
			want:      nil,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			s := testService(t)
			created := createAccount(t, s)
			if _, err := s.SetServiceAccountPolicy("p1", created.Email, &iam.SetIamPolicyRequest{
				Policy: &iam.Policy{Bindings: []*iam.Binding{{Role: tc.role, Members: []string{"user:dev@example.com"}}}},
			}); err != nil {
				t.Fatalf("SetServiceAccountPolicy(...): %v", err)
			}

			got, err := s.TestServiceAccountPermissions("p1", created.Email, &iam.TestIamPermissionsRequest{Permissions: tc.requested})
			if err != nil {
				t.Fatalf("TestServiceAccountPermissions(...): %v", err)
			}
			if diff := cmp.Diff(tc.want, got.Permissions); diff != "" {
				t.Errorf("permissions: -want, +got:\n%s", diff)
			}
		})
	}
}

func TestPermissionsWithoutPolicy(t *testing.T) {
	s := testService(t)
	created := createAccount(t, s)

	got, err := s.TestServiceAccountPermissions("p1", created.Email, &iam.TestIamPermissionsRequest{
		Permissions: []string{"storage.objects.get"},
	})
	if err != nil {
		t.Fatalf("TestServiceAccountPermissions(...): %v", err)
	}
	if len(got.Permissions) != 0 {
		t.Errorf("no policy should grant nothing, got %v", got.Permissions)
	}
}
