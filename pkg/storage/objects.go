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
)

const (
	errObjectNotFound  = "object %q not found"
	errVersionNotFound = "object %q generation %d not found"
	errMergeMetadata   = "cannot merge metadata"
	errRemoveVersion   = "cannot remove version content"

	defaultContentType = "application/octet-stream"
)

// Preconditions are the if-generation and if-metageneration query parameters
// of an object mutation. Nil fields are absent parameters.
type Preconditions struct {
	IfGenerationMatch        *int64
	IfGenerationNotMatch     *int64
	IfMetagenerationMatch    *int64
	IfMetagenerationNotMatch *int64
}

// check evaluates p against the current live latest version, nil when the
// object does not exist. ifGenerationMatch=0 demands non-existence;
// non-existence satisfies any ifGenerationNotMatch.
func (p Preconditions) check(latest *store.Object) error {
	var gen, meta int64
	if latest != nil {
		gen, meta = latest.Generation, latest.Metageneration
	}
	if p.IfGenerationMatch != nil {
		want := *p.IfGenerationMatch
		switch {
		case want == 0 && latest != nil:
			return apierror.ConditionNotMet("object already exists at generation %d", gen)
		case want != 0 && gen != want:
			return apierror.ConditionNotMet("generation %d does not match required %d", gen, want)
		}
	}
	if p.IfGenerationNotMatch != nil && latest != nil && gen == *p.IfGenerationNotMatch {
		return apierror.ConditionNotMet("generation matches excluded %d", gen)
	}
	if p.IfMetagenerationMatch != nil && (latest == nil || meta != *p.IfMetagenerationMatch) {
		return apierror.ConditionNotMet("metageneration %d does not match required %d", meta, *p.IfMetagenerationMatch)
	}
	if p.IfMetagenerationNotMatch != nil && latest != nil && meta == *p.IfMetagenerationNotMatch {
		return apierror.ConditionNotMet("metageneration matches excluded %d", meta)
	}
	return nil
}

func bucketOf(st *store.State, name string) (*store.Bucket, error) {
	if b := st.FindBucket(name); b != nil {
		return b, nil
	}
	return nil, apierror.NotFound(errBucketNotFound, name)
}

// liveLatest returns the live latest row of an object, nil when the object
// is absent or soft-deleted.
func liveLatest(st *store.State, key, name string) *store.Object {
	if o, ok := st.Objects[key][name]; ok && !o.Deleted {
		return o
	}
	return nil
}

func findVersion(versions []*store.Object, generation int64) *store.Object {
	for _, v := range versions {
		if v.Generation == generation {
			return v
		}
	}
	return nil
}

func maxGeneration(versions []*store.Object) int64 {
	var max int64
	for _, v := range versions {
		if v.Generation > max {
			max = v.Generation
		}
	}
	return max
}

// highestLive returns the live version with the highest generation.
func highestLive(versions []*store.Object) *store.Object {
	var best *store.Object
	for _, v := range versions {
		if v.Deleted {
			continue
		}
		if best == nil || v.Generation > best.Generation {
			best = v
		}
	}
	return best
}

// staged is a fully written temp file waiting to become an object version.
type staged struct {
	name         string
	contentType  string
	cacheControl string
	// storageClass overrides the bucket's class when set; copies preserve
	// the source class through it.
	storageClass string
	metadata     map[string]string
	size         int64
	md5          string
	crc32c       string
	tmpPath      string
	pre          Preconditions
}

// commitVersion renames staged content into its version path and installs
// the new latest row, demoting the previous latest. With versioning off the
// demoted row is also soft-deleted. Generations only ever grow, so a
// released number is never handed out again. Runs inside a store
// transaction.
func (s *Service) commitVersion(st *store.State, bucket string, stage staged) (*store.Object, *store.Bucket, error) {
	b, err := bucketOf(st, bucket)
	if err != nil {
		return nil, nil, err
	}
	key := store.BucketKey(b.Project, b.Name)
	versions := st.Versions[key][stage.name]
	if err := stage.pre.check(liveLatest(st, key, stage.name)); err != nil {
		return nil, nil, err
	}

	now := s.now()
	row := &store.Object{
		Bucket:         b.Name,
		Project:        b.Project,
		Name:           stage.name,
		Generation:     maxGeneration(versions) + 1,
		Metageneration: 1,
		Size:           stage.size,
		ContentType:    stage.contentType,
		CacheControl:   stage.cacheControl,
		StorageClass:   stage.storageClass,
		MD5:            stage.md5,
		CRC32C:         stage.crc32c,
		IsLatest:       true,
		Metadata:       copyLabels(stage.metadata),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if row.ContentType == "" {
		row.ContentType = defaultContentType
	}
	if row.StorageClass == "" {
		row.StorageClass = b.StorageClass
	}
	row.FilePath = s.versionPath(b.Project, b.Name, stage.name, row.Generation)

	// Content first. A failed rename leaves the rows untouched; a crash
	// after it leaves an orphan file for the startup scan.
	if err := s.commitContent(stage.tmpPath, row.FilePath); err != nil {
		return nil, nil, err
	}

	for _, v := range versions {
		if !v.IsLatest {
			continue
		}
		v.IsLatest = false
		if !b.VersioningEnabled && !v.Deleted {
			v.Deleted = true
			v.UpdatedAt = now
		}
	}
	if st.Objects[key] == nil {
		st.Objects[key] = map[string]*store.Object{}
	}
	if st.Versions[key] == nil {
		st.Versions[key] = map[string][]*store.Object{}
	}
	st.Versions[key][stage.name] = append(versions, row)
	st.Objects[key][stage.name] = row.Clone()
	return row, b, nil
}

// GetObject returns object metadata. Generation zero selects the live
// latest; a pinned generation selects that version row if it has not been
// deleted.
func (s *Service) GetObject(bucket, name string, generation int64) (*storage.Object, error) {
	var out *storage.Object
	err := s.store.View(func(st *store.State) error {
		rec, err := objectVersion(st, bucket, name, generation)
		if err != nil {
			return err
		}
		out = GenerateObject(rec)
		return nil
	})
	return out, err
}

func objectVersion(st *store.State, bucket, name string, generation int64) (*store.Object, error) {
	b, err := bucketOf(st, bucket)
	if err != nil {
		return nil, err
	}
	key := store.BucketKey(b.Project, b.Name)
	if generation == 0 {
		if rec := liveLatest(st, key, name); rec != nil {
			return rec, nil
		}
		return nil, apierror.NotFound(errObjectNotFound, name)
	}
	if v := findVersion(st.Versions[key][name], generation); v != nil && !v.Deleted {
		return v, nil
	}
	return nil, apierror.NotFound(errVersionNotFound, name, generation)
}

// DeleteObject deletes an object. With a generation, exactly that version
// row and its content file are removed and the next-highest live version is
// promoted back to latest; without one, every version is soft-deleted and
// the object disappears from listings while its generation numbers stay
// reserved.
func (s *Service) DeleteObject(bucket, name string, generation int64, pre Preconditions) error {
	var (
		b       *store.Bucket
		deleted *store.Object
	)
	err := s.store.Update(func(st *store.State) error {
		var err error
		b, deleted, err = s.deleteObjectRows(st, bucket, name, generation, pre)
		return err
	})
	if err != nil {
		return err
	}
	s.notify(b, store.EventDelete, deleted)
	return nil
}

func (s *Service) deleteObjectRows(st *store.State, bucket, name string, generation int64, pre Preconditions) (*store.Bucket, *store.Object, error) {
	b, err := bucketOf(st, bucket)
	if err != nil {
		return nil, nil, err
	}
	key := store.BucketKey(b.Project, b.Name)
	if err := pre.check(liveLatest(st, key, name)); err != nil {
		return nil, nil, err
	}
	now := s.now()

	if generation == 0 {
		latest, err := softDeleteObject(st, b, name, now)
		if err != nil {
			return nil, nil, err
		}
		return b, latest, nil
	}

	versions := st.Versions[key][name]
	v := findVersion(versions, generation)
	if v == nil || v.Deleted {
		return nil, nil, apierror.NotFound(errVersionNotFound, name, generation)
	}
	// Unlink before commit; a crash in between leaves a dangling row for
	// the startup scan.
	if err := os.Remove(v.FilePath); err != nil && !os.IsNotExist(err) {
		return nil, nil, errors.Wrap(err, errRemoveVersion)
	}
	kept := make([]*store.Object, 0, len(versions)-1)
	for _, o := range versions {
		if o.Generation != generation {
			kept = append(kept, o)
		}
	}
	st.Versions[key][name] = kept
	if v.IsLatest {
		if promoted := highestLive(kept); promoted != nil {
			promoted.IsLatest = true
			st.Objects[key][name] = promoted.Clone()
		} else {
			delete(st.Objects[key], name)
		}
	}
	return b, v, nil
}

// softDeleteObject marks every version of an object deleted without touching
// content files, and returns the row that was latest. Runs inside a store
// transaction.
func softDeleteObject(st *store.State, b *store.Bucket, name string, now time.Time) (*store.Object, error) {
	key := store.BucketKey(b.Project, b.Name)
	latest := liveLatest(st, key, name)
	if latest == nil {
		return nil, apierror.NotFound(errObjectNotFound, name)
	}
	for _, v := range st.Versions[key][name] {
		if v.Deleted {
			continue
		}
		v.Deleted = true
		v.IsLatest = false
		v.UpdatedAt = now
	}
	latest.Deleted = true
	latest.IsLatest = false
	latest.UpdatedAt = now
	return latest, nil
}

// PatchObject merges a metadata patch into the live latest version: custom
// metadata keys merge with empty values unsetting, content-type and
// cache-control update when supplied. The metageneration bumps; content and
// generation are untouched.
func (s *Service) PatchObject(bucket, name string, patch *storage.Object, pre Preconditions) (*storage.Object, error) {
	var (
		b   *store.Bucket
		rec *store.Object
	)
	err := s.store.Update(func(st *store.State) error {
		bb, err := bucketOf(st, bucket)
		if err != nil {
			return err
		}
		key := store.BucketKey(bb.Project, bb.Name)
		latest := liveLatest(st, key, name)
		if latest == nil {
			return apierror.NotFound(errObjectNotFound, name)
		}
		if err := pre.check(latest); err != nil {
			return err
		}
		for _, row := range []*store.Object{latest, findVersion(st.Versions[key][name], latest.Generation)} {
			if row == nil {
				continue
			}
			if err := patchObjectRow(row, patch, s.now()); err != nil {
				return err
			}
		}
		b, rec = bb, latest
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.notify(b, store.EventMetadataUpdate, rec)
	return GenerateObject(rec), nil
}

func patchObjectRow(row *store.Object, patch *storage.Object, now time.Time) error {
	if patch.ContentType != "" {
		row.ContentType = patch.ContentType
	}
	if patch.CacheControl != "" {
		row.CacheControl = patch.CacheControl
	}
	if patch.Metadata != nil {
		if row.Metadata == nil {
			row.Metadata = map[string]string{}
		}
		if err := mergo.Merge(&row.Metadata, patch.Metadata, mergo.WithOverride); err != nil {
			return errors.Wrap(err, errMergeMetadata)
		}
		for k, v := range row.Metadata {
			if v == "" {
				delete(row.Metadata, k)
			}
		}
	}
	row.Metageneration++
	row.UpdatedAt = now
	return nil
}
