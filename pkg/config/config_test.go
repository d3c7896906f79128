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

package config

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestMerge(t *testing.T) {
	cases := map[string]struct {
		in   Config
		want Config
	}{
		"AllDefaults": {
			in:   Config{},
			want: Default(),
		},
		"OverridesKept": {
			in: Config{
				ListenAddress:     "127.0.0.1:9000",
				StorageRoot:       "/tmp/objects",
				ReconcileInterval: time.Second,
			},
			want: func() Config {
				c := Default()
				c.ListenAddress = "127.0.0.1:9000"
				c.StorageRoot = "/tmp/objects"
				c.ReconcileInterval = time.Second
				return c
			}(),
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := Merge(tc.in)
			if err != nil {
				t.Fatalf("Merge(...): %v", err)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("Merge(...): -want, +got:\n%s", diff)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	valid := Default()

	cases := map[string]struct {
		mod     func(Config) Config
		wantErr bool
	}{
		"Default": {
			mod: func(c Config) Config { return c },
		},
		"NoListen": {
			mod:     func(c Config) Config { c.ListenAddress = ""; return c },
			wantErr: true,
		},
		"NoStorageRoot": {
			mod:     func(c Config) Config { c.StorageRoot = ""; return c },
			wantErr: true,
		},
		"NoProject": {
			mod:     func(c Config) Config { c.DefaultProject = ""; return c },
			wantErr: true,
		},
		"ZeroInterval": {
			mod:     func(c Config) Config { c.ReconcileInterval = 0; return c },
			wantErr: true,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			err := tc.mod(valid).Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}
