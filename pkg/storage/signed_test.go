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
	"testing"
	"time"

	"github.com/crossplane-contrib/gcp-emulator/pkg/apierror"
)

func TestSignedURLRoundTrip(t *testing.T) {
	s := testService(t)
	path := "/storage-media/photos/a.txt"

	q := s.SignURL("GET", path, testTime.Add(15*time.Minute))
	if err := s.VerifySignedURL("GET", path, q); err != nil {
		t.Errorf("VerifySignedURL(...): %v", err)
	}
	if q.Get(ParamExpires) != "900" {
		t.Errorf("%s = %q, want 900", ParamExpires, q.Get(ParamExpires))
	}
}

func TestSignedURLExpiry(t *testing.T) {
	s := testService(t)
	path := "/storage-media/photos/a.txt"
	q := s.SignURL("GET", path, testTime)

	// A request at exactly the expiry timestamp is still valid.
	if err := s.VerifySignedURL("GET", path, q); err != nil {
		t.Errorf("VerifySignedURL at expiry: %v", err)
	}

	s.now = func() time.Time { return testTime.Add(time.Second) }
	if err := s.VerifySignedURL("GET", path, q); apierror.FromError(err).Code != 400 {
		t.Errorf("VerifySignedURL past expiry = %v, want invalid", err)
	}
}

func TestSignedURLTamper(t *testing.T) {
	s := testService(t)
	q := s.SignURL("GET", "/storage-media/photos/a.txt", testTime.Add(time.Hour))

	if err := s.VerifySignedURL("GET", "/storage-media/photos/b.txt", q); apierror.FromError(err).Code != 400 {
		t.Errorf("different path should fail verification, got %v", err)
	}
	if err := s.VerifySignedURL("PUT", "/storage-media/photos/a.txt", q); apierror.FromError(err).Code != 400 {
		t.Errorf("different method should fail verification, got %v", err)
	}

	q.Set(ParamSignature, "AAAA")
	if err := s.VerifySignedURL("GET", "/storage-media/photos/a.txt", q); apierror.FromError(err).Code != 400 {
		t.Errorf("forged signature should fail verification, got %v", err)
	}
}

func TestSignedURLMethodAndAlgorithm(t *testing.T) {
	s := testService(t)
	path := "/storage-media/photos/a.txt"

	q := s.SignURL("PUT", path, testTime.Add(time.Hour))
	if err := s.VerifySignedURL("PUT", path, q); err != nil {
		t.Errorf("PUT should be signable: %v", err)
	}

	if err := s.VerifySignedURL("POST", path, q); apierror.FromError(err).Code != 400 {
		t.Errorf("POST = %v, want invalid", err)
	}

	q = s.SignURL("GET", path, testTime.Add(time.Hour))
	q.Set(ParamAlgorithm, "GOOG4-RSA-SHA256")
	if err := s.VerifySignedURL("GET", path, q); apierror.FromError(err).Code != 400 {
		t.Errorf("unsupported algorithm = %v, want invalid", err)
	}
}

func TestSignedURLBadTimestamp(t *testing.T) {
	s := testService(t)
	path := "/storage-media/photos/a.txt"
	q := s.SignURL("GET", path, testTime.Add(time.Hour))
	q.Set(ParamTimestamp, "soon")

	if err := s.VerifySignedURL("GET", path, q); apierror.FromError(err).Code != 400 {
		t.Errorf("unparseable timestamp = %v, want invalid", err)
	}
}
