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
	"io"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/api/storage/v1"

	"github.com/crossplane-contrib/gcp-emulator/pkg/store"
)

var testTime = time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)

func testService(t *testing.T) *Service {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	st, err := store.New(logrus.NewEntry(log), "")
	if err != nil {
		t.Fatalf("store.New(...): %v", err)
	}
	s := New(st, logrus.NewEntry(log), t.TempDir(), "test-secret")
	s.now = func() time.Time { return testTime }
	return s
}

func createBucket(t *testing.T, s *Service, project, name string) *storage.Bucket {
	t.Helper()
	b, err := s.CreateBucket(project, &storage.Bucket{Name: name})
	if err != nil {
		t.Fatalf("CreateBucket(%q): %v", name, err)
	}
	return b
}

func enableVersioning(t *testing.T, s *Service, bucket string) {
	t.Helper()
	_, err := s.PatchBucket(bucket, &storage.Bucket{Versioning: &storage.BucketVersioning{Enabled: true}})
	if err != nil {
		t.Fatalf("PatchBucket(%q): %v", bucket, err)
	}
}

func insertObject(t *testing.T, s *Service, bucket, name, content string) *storage.Object {
	t.Helper()
	o, err := s.InsertObject(InsertRequest{Bucket: bucket, Name: name, Media: strings.NewReader(content)})
	if err != nil {
		t.Fatalf("InsertObject(%s/%s): %v", bucket, name, err)
	}
	return o
}

func readContent(t *testing.T, s *Service, bucket, name string, generation int64) string {
	t.Helper()
	_, r, err := s.Content(bucket, name, generation)
	if err != nil {
		t.Fatalf("Content(%s/%s@%d): %v", bucket, name, generation, err)
	}
	defer r.Close() // nolint:errcheck
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("reading content: %v", err)
	}
	return string(data)
}
