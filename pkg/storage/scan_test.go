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
	"path/filepath"
	"testing"

	"github.com/crossplane-contrib/gcp-emulator/pkg/apierror"
)

func TestStartupSweepsOrphanTempFiles(t *testing.T) {
	s := testService(t)
	createBucket(t, s, "p1", "photos")
	id := startUpload(t, s, "photos", "pending.txt", -1)

	orphan := filepath.Join(s.tempDir(), "upload-crashed")
	if err := os.WriteFile(orphan, []byte("partial"), 0o644); err != nil {
		t.Fatalf("writing orphan: %v", err)
	}

	if err := s.Startup(); err != nil {
		t.Fatalf("Startup(): %v", err)
	}
	if _, err := os.Stat(orphan); !os.IsNotExist(err) {
		t.Errorf("orphan temp file should be gone, stat err = %v", err)
	}
	// The live session's temp file survives.
	if _, err := os.Stat(filepath.Join(s.tempDir(), id)); err != nil {
		t.Errorf("session temp file should survive: %v", err)
	}
}

func TestStartupSoftDeletesRowsWithoutContent(t *testing.T) {
	s := testService(t)
	createBucket(t, s, "p1", "photos")
	enableVersioning(t, s, "photos")
	insertObject(t, s, "photos", "a.txt", "one")
	insertObject(t, s, "photos", "a.txt", "two")

	// Simulate a crash between a delete's unlink and its row commit.
	if err := os.Remove(s.versionPath("p1", "photos", "a.txt", 2)); err != nil {
		t.Fatalf("removing version file: %v", err)
	}

	if err := s.Startup(); err != nil {
		t.Fatalf("Startup(): %v", err)
	}
	got, err := s.GetObject("photos", "a.txt", 0)
	if err != nil {
		t.Fatalf("GetObject(...): %v", err)
	}
	if got.Generation != 1 {
		t.Errorf("latest generation = %d, want the surviving 1", got.Generation)
	}
	if content := readContent(t, s, "photos", "a.txt", 0); content != "one" {
		t.Errorf("content = %q, want one", content)
	}
}

func TestStartupDropsObjectWhenAllContentMissing(t *testing.T) {
	s := testService(t)
	createBucket(t, s, "p1", "photos")
	insertObject(t, s, "photos", "a.txt", "one")

	if err := os.Remove(s.versionPath("p1", "photos", "a.txt", 1)); err != nil {
		t.Fatalf("removing version file: %v", err)
	}

	if err := s.Startup(); err != nil {
		t.Fatalf("Startup(): %v", err)
	}
	if _, err := s.GetObject("photos", "a.txt", 0); !apierror.IsNotFound(err) {
		t.Errorf("GetObject = %v, want notFound", err)
	}

	// Generation numbers stay reserved across the reconcile.
	got := insertObject(t, s, "photos", "a.txt", "two")
	if got.Generation != 2 {
		t.Errorf("generation after reconcile = %d, want 2", got.Generation)
	}
}

func TestStartupSweepsUnreferencedContent(t *testing.T) {
	s := testService(t)
	createBucket(t, s, "p1", "photos")
	insertObject(t, s, "photos", "a.txt", "one")

	// Simulate a crash between an insert's rename and its row commit.
	stray := filepath.Join(filepath.Dir(s.versionPath("p1", "photos", "a.txt", 1)), "v9")
	if err := os.WriteFile(stray, []byte("uncommitted"), 0o644); err != nil {
		t.Fatalf("writing stray file: %v", err)
	}

	if err := s.Startup(); err != nil {
		t.Fatalf("Startup(): %v", err)
	}
	if _, err := os.Stat(stray); !os.IsNotExist(err) {
		t.Errorf("stray content file should be gone, stat err = %v", err)
	}
	if content := readContent(t, s, "photos", "a.txt", 0); content != "one" {
		t.Errorf("committed content = %q, want one", content)
	}
}

func TestStartupOnEmptyRoot(t *testing.T) {
	s := testService(t)
	if err := s.Startup(); err != nil {
		t.Fatalf("Startup() on empty root: %v", err)
	}
}
