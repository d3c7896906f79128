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

// Package storage emulates the Cloud Storage JSON API: project-scoped
// buckets, versioned objects with media, multipart and resumable uploads,
// downloads, copies, signed URLs and webhook change notifications. Object
// metadata lives in the shared store; object content lives on the local
// filesystem under one directory per bucket.
package storage

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/crossplane-contrib/gcp-emulator/pkg/apierror"
	"github.com/crossplane-contrib/gcp-emulator/pkg/store"
)

const (
	errMakeRoot    = "cannot create storage root"
	errTempFile    = "cannot create temp file"
	errResolveRoot = "cannot resolve storage root"
	errResolvePath = "cannot resolve content path"
	errCommitFile  = "cannot move content into place"
)

// webhookTimeout bounds a single notification POST.
const webhookTimeout = 5 * time.Second

// Service implements the storage API operations. All methods are safe for
// concurrent use; metadata mutations serialize through the store and content
// renames happen inside the owning transaction.
type Service struct {
	store  *store.Store
	log    *logrus.Entry
	root   string
	secret string
	now    func() time.Time

	webhooks *http.Client
}

// New returns a storage Service rooted at root. secret is the HMAC key
// signed URLs are verified against.
func New(st *store.Store, log *logrus.Entry, root, secret string) *Service {
	return &Service{
		store:    st,
		log:      log,
		root:     root,
		secret:   secret,
		now:      time.Now,
		webhooks: &http.Client{Timeout: webhookTimeout},
	}
}

// bucketDir is the content directory of one bucket. Project id and bucket
// name are joined with a double underscore; project ids cannot contain
// underscores, so the join is unambiguous even though bucket names can.
func (s *Service) bucketDir(project, bucket string) string {
	return filepath.Join(s.root, project+"__"+bucket)
}

// versionPath is the content file of one object generation. The object name
// is path-escaped into a single directory entry, so names containing slashes
// can neither collide with each other nor name a path outside the bucket
// directory.
func (s *Service) versionPath(project, bucket, object string, generation int64) string {
	return filepath.Join(s.bucketDir(project, bucket), url.PathEscape(object), fmt.Sprintf("v%d", generation))
}

func (s *Service) tempDir() string {
	return filepath.Join(s.root, "tmp")
}

// tempFile creates a scratch file under <root>/tmp. Temp files live on the
// same device as the bucket directories, so the finalizing rename is atomic.
func (s *Service) tempFile(pattern string) (*os.File, error) {
	if err := os.MkdirAll(s.tempDir(), 0o755); err != nil {
		return nil, errors.Wrap(err, errTempFile)
	}
	f, err := os.CreateTemp(s.tempDir(), pattern)
	return f, errors.Wrap(err, errTempFile)
}

// resolveInRoot resolves path's directory through symbolic links and checks
// the result is still inside the storage root. The directory must exist; the
// file itself need not. Containment is checked against the resolved root, so
// a symlinked root does not defeat the guard.
func (s *Service) resolveInRoot(path string) (string, error) {
	root, err := filepath.EvalSymlinks(s.root)
	if err != nil {
		return "", errors.Wrap(err, errResolveRoot)
	}
	dir, err := filepath.EvalSymlinks(filepath.Dir(path))
	if err != nil {
		return "", errors.Wrap(err, errResolvePath)
	}
	resolved := filepath.Join(dir, filepath.Base(path))
	if !strings.HasPrefix(resolved, root+string(filepath.Separator)) {
		return "", apierror.Invalid("path %q escapes the storage root", path)
	}
	return resolved, nil
}

// commitContent moves a fully written temp file into its version path.
// Callers run it inside the transaction that installs the version row, after
// every precondition has passed, so a crash between rename and commit leaves
// at worst an orphan file for the startup scan.
func (s *Service) commitContent(tmp, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return errors.Wrap(err, errCommitFile)
	}
	resolved, err := s.resolveInRoot(dst)
	if err != nil {
		return err
	}
	return errors.Wrap(os.Rename(tmp, resolved), errCommitFile)
}

// openContent opens a version file for reading, re-checking containment in
// case anything on the path was swapped for a link since the write.
func (s *Service) openContent(path string) (*os.File, error) {
	resolved, err := s.resolveInRoot(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(resolved)
	if os.IsNotExist(err) {
		return nil, apierror.NotFound("object content is missing")
	}
	return f, errors.Wrap(err, errResolvePath)
}

// EnsureRoot creates the storage root and its temp directory. Called once at
// startup before any request is served.
func (s *Service) EnsureRoot() error {
	return errors.Wrap(os.MkdirAll(s.tempDir(), 0o755), errMakeRoot)
}

// PurgeProjectContent removes every content file a project owns: its bucket
// directories and the temp files of upload sessions targeting its buckets.
// Deleting the metadata rows is the caller's job.
func (s *Service) PurgeProjectContent(project string) error {
	var paths []string
	_ = s.store.View(func(st *store.State) error {
		for _, b := range st.BucketsOf(project) {
			paths = append(paths, s.bucketDir(project, b.Name))
		}
		for _, sess := range st.Sessions {
			if sess.Project == project {
				paths = append(paths, sess.TempPath)
			}
		}
		return nil
	})
	for _, p := range paths {
		if err := os.RemoveAll(p); err != nil {
			return errors.Wrap(err, errRemoveContent)
		}
	}
	return nil
}
