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

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/crossplane-contrib/gcp-emulator/pkg/store"
)

const errScanRoot = "cannot scan storage root"

// Startup reconciles the metadata store with the content tree before the
// first request is served. Version rows whose backing file vanished are
// soft-deleted; content and temp files no row or session references are
// removed. Both directions follow from the crash ordering: writes rename
// content into place before committing rows, deletes unlink before removing
// rows.
func (s *Service) Startup() error {
	if err := s.EnsureRoot(); err != nil {
		return err
	}
	if err := s.dropRowsWithoutContent(); err != nil {
		return err
	}
	return s.sweepOrphanFiles()
}

func (s *Service) dropRowsWithoutContent() error {
	return s.store.Update(func(st *store.State) error {
		for key, byName := range st.Versions {
			for name, versions := range byName {
				changed := false
				for _, v := range versions {
					if v.Deleted {
						continue
					}
					if _, err := os.Stat(v.FilePath); err == nil {
						continue
					} else if !os.IsNotExist(err) {
						return errors.Wrap(err, errScanRoot)
					}
					v.Deleted = true
					v.IsLatest = false
					v.UpdatedAt = s.now()
					changed = true
					s.log.WithFields(logrus.Fields{
						"object":     name,
						"generation": v.Generation,
					}).Warn("version content is missing; soft-deleting the row")
				}
				if !changed {
					continue
				}
				if promoted := highestLive(versions); promoted != nil {
					promoted.IsLatest = true
					st.Objects[key][name] = promoted.Clone()
				} else if row, ok := st.Objects[key][name]; ok {
					row.Deleted = true
					row.IsLatest = false
					row.UpdatedAt = s.now()
				}
			}
		}
		return nil
	})
}

func (s *Service) sweepOrphanFiles() error {
	referenced := map[string]bool{}
	err := s.store.View(func(st *store.State) error {
		for _, byName := range st.Versions {
			for _, versions := range byName {
				for _, v := range versions {
					referenced[v.FilePath] = true
				}
			}
		}
		for _, sess := range st.Sessions {
			referenced[sess.TempPath] = true
		}
		return nil
	})
	if err != nil {
		return err
	}

	entries, err := os.ReadDir(s.root)
	if err != nil {
		return errors.Wrap(err, errScanRoot)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(s.root, e.Name())
		if e.Name() == "tmp" {
			s.removeUnreferenced(dir, referenced)
			continue
		}
		s.sweepBucketDir(dir, referenced)
	}
	return nil
}

// sweepBucketDir removes content files no version row references, then any
// directories the removals emptied.
func (s *Service) sweepBucketDir(dir string, referenced map[string]bool) {
	objDirs, err := os.ReadDir(dir)
	if err != nil {
		s.log.WithError(err).WithField("dir", dir).Warn("cannot scan bucket directory")
		return
	}
	for _, od := range objDirs {
		if !od.IsDir() {
			continue
		}
		sub := filepath.Join(dir, od.Name())
		s.removeUnreferenced(sub, referenced)
		_ = os.Remove(sub) // fails while the directory still has entries
	}
	_ = os.Remove(dir)
}

// removeUnreferenced deletes every regular file under dir that referenced
// does not list.
func (s *Service) removeUnreferenced(dir string, referenced map[string]bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		s.log.WithError(err).WithField("dir", dir).Warn("cannot scan content directory")
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if referenced[path] {
			continue
		}
		if err := os.Remove(path); err != nil {
			s.log.WithError(err).WithField("path", path).Warn("cannot remove orphan file")
			continue
		}
		s.log.WithField("path", path).Info("removed orphan content file")
	}
}
