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
	"sort"
	"strings"

	"google.golang.org/api/storage/v1"

	"github.com/crossplane-contrib/gcp-emulator/pkg/store"
)

// ListQuery is the supported subset of object list parameters.
type ListQuery struct {
	Prefix    string
	Delimiter string
	PageToken string
	// MaxResults caps items plus prefixes per page; zero means the default
	// of 1000.
	MaxResults int64
	// Versions includes every non-deleted generation, oldest first per
	// name, instead of only live latest rows.
	Versions bool
}

const defaultPageSize = 1000

// ListObjects lists a bucket's objects. With a delimiter, names that
// continue past it after the prefix are rolled up into prefixes entries;
// the rest populate items. Entries stream in lexicographic order and the
// page token is the key of the first entry of the next page.
func (s *Service) ListObjects(bucket string, q ListQuery) (*storage.Objects, error) {
	if q.MaxResults <= 0 {
		q.MaxResults = defaultPageSize
	}
	out := &storage.Objects{Kind: "storage#objects"}
	err := s.store.View(func(st *store.State) error {
		b, err := bucketOf(st, bucket)
		if err != nil {
			return err
		}
		key := store.BucketKey(b.Project, b.Name)

		type entry struct {
			key    string
			prefix string
			row    *store.Object
		}
		var entries []entry
		seenPrefix := map[string]bool{}

		add := func(name string, rows []*store.Object) {
			if !strings.HasPrefix(name, q.Prefix) {
				return
			}
			if q.Delimiter != "" {
				rest := name[len(q.Prefix):]
				if i := strings.Index(rest, q.Delimiter); i >= 0 {
					p := q.Prefix + rest[:i+len(q.Delimiter)]
					if !seenPrefix[p] {
						seenPrefix[p] = true
						entries = append(entries, entry{key: p, prefix: p})
					}
					return
				}
			}
			for _, row := range rows {
				entries = append(entries, entry{key: fmt.Sprintf("%s\x00%012d", name, row.Generation), row: row})
			}
		}

		if q.Versions {
			names := make([]string, 0, len(st.Versions[key]))
			for name := range st.Versions[key] {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				rows := make([]*store.Object, 0, len(st.Versions[key][name]))
				for _, v := range st.Versions[key][name] {
					if !v.Deleted {
						rows = append(rows, v)
					}
				}
				sort.Slice(rows, func(i, j int) bool { return rows[i].Generation < rows[j].Generation })
				if len(rows) > 0 {
					add(name, rows)
				}
			}
		} else {
			for _, o := range st.LiveObjects(key) {
				add(o.Name, []*store.Object{o})
			}
		}

		sort.Slice(entries, func(i, j int) bool { return entries[i].key < entries[j].key })

		var count int64
		for _, e := range entries {
			if q.PageToken != "" && e.key < q.PageToken {
				continue
			}
			if count == q.MaxResults {
				out.NextPageToken = e.key
				break
			}
			if e.prefix != "" {
				out.Prefixes = append(out.Prefixes, e.prefix)
			} else {
				out.Items = append(out.Items, GenerateObject(e.row))
			}
			count++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
