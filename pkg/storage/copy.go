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
	"os"

	"github.com/pkg/errors"
	"google.golang.org/api/storage/v1"

	"github.com/crossplane-contrib/gcp-emulator/pkg/store"
	"github.com/crossplane-contrib/gcp-emulator/pkg/validation"
)

// CopyObject copies one version, the live latest unless generation pins one,
// into a destination object. Content type, cache control, custom metadata,
// storage class and checksums are preserved; non-empty fields on dst
// override the preserved metadata. The destination gets a fresh generation
// under its own bucket's versioning rules.
func (s *Service) CopyObject(srcBucket, srcName string, generation int64, dstBucket, dstName string, dst *storage.Object, pre Preconditions) (*storage.Object, error) {
	if err := validation.ObjectName(dstName); err != nil {
		return nil, err
	}

	src, r, err := s.Content(srcBucket, srcName, generation)
	if err != nil {
		return nil, err
	}
	tmp, err := s.tempFile("copy-*")
	if err != nil {
		r.Close() // nolint:errcheck
		return nil, err
	}
	_, err = io.Copy(tmp, r)
	r.Close() // nolint:errcheck
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp.Name()) // nolint:errcheck
		return nil, errors.Wrap(err, errStageContent)
	}

	stage := staged{
		name:         dstName,
		contentType:  src.ContentType,
		cacheControl: src.CacheControl,
		storageClass: src.StorageClass,
		metadata:     copyLabels(src.Metadata),
		size:         src.Size,
		md5:          src.MD5,
		crc32c:       src.CRC32C,
		tmpPath:      tmp.Name(),
		pre:          pre,
	}
	if dst != nil {
		if dst.ContentType != "" {
			stage.contentType = dst.ContentType
		}
		if dst.CacheControl != "" {
			stage.cacheControl = dst.CacheControl
		}
		if dst.Metadata != nil {
			stage.metadata = copyLabels(dst.Metadata)
		}
	}

	var (
		row *store.Object
		b   *store.Bucket
	)
	err = s.store.Update(func(st *store.State) error {
		var err error
		row, b, err = s.commitVersion(st, dstBucket, stage)
		return err
	})
	if err != nil {
		os.Remove(tmp.Name()) // nolint:errcheck
		return nil, err
	}
	s.notify(b, store.EventFinalize, row)
	return GenerateObject(row), nil
}

// RewriteObject is the single-shot rewrite the SDK's Copier drives. The
// emulator copies everything in one call, so the response is always done
// with no continuation token.
func (s *Service) RewriteObject(srcBucket, srcName string, generation int64, dstBucket, dstName string, dst *storage.Object, pre Preconditions) (*storage.RewriteResponse, error) {
	obj, err := s.CopyObject(srcBucket, srcName, generation, dstBucket, dstName, dst, pre)
	if err != nil {
		return nil, err
	}
	return &storage.RewriteResponse{
		Kind:                "storage#rewriteResponse",
		Done:                true,
		ObjectSize:          int64(obj.Size),
		TotalBytesRewritten: int64(obj.Size),
		Resource:            obj,
	}, nil
}
