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

// Package vpc implements the emulated networking plane: per-project IP
// allocation and the firewall, network, subnetwork, route, router and
// address metadata APIs. Nothing here forwards a packet; records exist so
// that SDKs and the compute control plane see a coherent network model.
package vpc

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/crossplane-contrib/gcp-emulator/pkg/store"
)

// Service exposes the networking APIs over the shared store.
type Service struct {
	store *store.Store
	log   *logrus.Entry
	now   func() time.Time
}

// New returns a networking service.
func New(st *store.Store, log *logrus.Entry) *Service {
	return &Service{store: st, log: log, now: time.Now}
}
