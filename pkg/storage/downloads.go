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
	"io"

	"github.com/crossplane-contrib/gcp-emulator/pkg/store"
)

// Content returns the metadata row and an open reader for one object
// version. Generation zero selects the live latest. The caller owns closing
// the reader.
func (s *Service) Content(bucket, name string, generation int64) (*store.Object, io.ReadCloser, error) {
	var rec *store.Object
	err := s.store.View(func(st *store.State) error {
		got, err := objectVersion(st, bucket, name, generation)
		if err != nil {
			return err
		}
		rec = got
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	f, err := s.openContent(rec.FilePath)
	if err != nil {
		return nil, nil, err
	}
	return rec, f, nil
}

// HashHeader renders the X-Goog-Hash response value of a version: both
// digests in hex, CRC32C first.
func HashHeader(o *store.Object) string {
	return fmt.Sprintf("crc32c=%s,md5=%s", o.CRC32C, o.MD5)
}
