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

// Package iam implements the emulated identity registry: service accounts,
// their keys, and IAM policy documents. Policies are stored and echoed;
// nothing in the emulator makes an authorization decision from them.
package iam

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/crossplane-contrib/gcp-emulator/pkg/store"
)

// Service exposes the identity APIs over the shared store.
type Service struct {
	store *store.Store
	log   *logrus.Entry
	now   func() time.Time
	// uniqueID mints service account unique ids; swapped in tests.
	uniqueID func() string
}

// New returns an identity service.
func New(st *store.Store, log *logrus.Entry) *Service {
	return &Service{store: st, log: log, now: time.Now, uniqueID: newUniqueID}
}

// newUniqueID mints a 21-digit numeric id the way the provider does: all
// real unique ids are 21 digits and start with 1, so a fixed leading digit
// plus a zero-padded random 64-bit tail reproduces the shape.
func newUniqueID() string {
	id := uuid.New()
	return fmt.Sprintf("1%020d", binary.BigEndian.Uint64(id[:8]))
}
