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

package compute

import (
	"fmt"
	"sort"

	compute "google.golang.org/api/compute/v1"

	"github.com/crossplane-contrib/gcp-emulator/pkg/apierror"
	"github.com/crossplane-contrib/gcp-emulator/pkg/gcp"
)

// machineSpec is one immutable catalogue entry, sized like the real
// machine type of the same name.
type machineSpec struct {
	vcpus     int64
	memoryMiB int64
	shared    bool
}

// machineTypes is the static catalogue, available identically in every
// zone.
var machineTypes = map[string]machineSpec{
	"e2-micro":       {vcpus: 2, memoryMiB: 1024, shared: true},
	"e2-small":       {vcpus: 2, memoryMiB: 2048, shared: true},
	"e2-medium":      {vcpus: 2, memoryMiB: 4096, shared: true},
	"e2-standard-2":  {vcpus: 2, memoryMiB: 8192},
	"e2-standard-4":  {vcpus: 4, memoryMiB: 16384},
	"e2-standard-8":  {vcpus: 8, memoryMiB: 32768},
	"n1-standard-1":  {vcpus: 1, memoryMiB: 3840},
	"n1-standard-2":  {vcpus: 2, memoryMiB: 7680},
	"n1-standard-4":  {vcpus: 4, memoryMiB: 15360},
	"n1-standard-8":  {vcpus: 8, memoryMiB: 30720},
	"n1-standard-16": {vcpus: 16, memoryMiB: 61440},
	"n2-standard-2":  {vcpus: 2, memoryMiB: 8192},
	"n2-standard-4":  {vcpus: 4, memoryMiB: 16384},
	"n2-standard-8":  {vcpus: 8, memoryMiB: 32768},
	"f1-micro":       {vcpus: 1, memoryMiB: 614, shared: true},
	"g1-small":       {vcpus: 1, memoryMiB: 1740, shared: true},
	"c2-standard-4":  {vcpus: 4, memoryMiB: 16384},
	"c2-standard-8":  {vcpus: 8, memoryMiB: 32768},
}

// zones is the fixed zone list instances can be placed in.
var zones = []string{
	"us-central1-a", "us-central1-b", "us-central1-c", "us-central1-f",
	"us-east1-b", "us-east1-c", "us-east1-d",
	"europe-west1-b", "europe-west1-c", "europe-west1-d",
	"asia-east1-a", "asia-east1-b",
}

// KnownZone tells whether the catalogue covers a zone.
func KnownZone(zone string) bool {
	for _, z := range zones {
		if z == zone {
			return true
		}
	}
	return false
}

// ResolveMachineType accepts a short name or a fully qualified machine type
// URL and returns the short name after checking the catalogue.
func ResolveMachineType(ref string) (string, error) {
	name := gcp.ResourceName(ref)
	if _, ok := machineTypes[name]; !ok {
		return "", apierror.Invalid("invalid machine type %q", ref)
	}
	return name, nil
}

// GetMachineType returns one catalogue entry for a zone.
func (s *Service) GetMachineType(project, zone, name string) (*compute.MachineType, error) {
	if !KnownZone(zone) {
		return nil, apierror.NotFound("zone %q not found", zone)
	}
	spec, ok := machineTypes[name]
	if !ok {
		return nil, apierror.NotFound("machine type %q not found in zone %q", name, zone)
	}
	return generateMachineType(project, zone, name, spec), nil
}

// ListMachineTypes returns the catalogue for a zone sorted by name.
func (s *Service) ListMachineTypes(project, zone string) (*compute.MachineTypeList, error) {
	if !KnownZone(zone) {
		return nil, apierror.NotFound("zone %q not found", zone)
	}
	out := &compute.MachineTypeList{
		Kind:  "compute#machineTypeList",
		Id:    fmt.Sprintf("projects/%s/zones/%s/machineTypes", project, zone),
		Items: []*compute.MachineType{},
	}
	names := make([]string, 0, len(machineTypes))
	for name := range machineTypes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		out.Items = append(out.Items, generateMachineType(project, zone, name, machineTypes[name]))
	}
	return out, nil
}

// ListZones returns the fixed zone list.
func (s *Service) ListZones(project string) (*compute.ZoneList, error) {
	out := &compute.ZoneList{
		Kind:  "compute#zoneList",
		Id:    fmt.Sprintf("projects/%s/zones", project),
		Items: []*compute.Zone{},
	}
	for _, zone := range zones {
		out.Items = append(out.Items, &compute.Zone{
			Kind:     "compute#zone",
			Id:       gcp.NumericID(zone),
			Name:     zone,
			Status:   "UP",
			Region:   gcp.RegionSelfLink(project, gcp.ZoneToRegion(zone)),
			SelfLink: gcp.ZoneSelfLink(project, zone),
		})
	}
	return out, nil
}

func generateMachineType(project, zone, name string, spec machineSpec) *compute.MachineType {
	return &compute.MachineType{
		Kind:        "compute#machineType",
		Id:          gcp.NumericID(zone + "/" + name),
		Name:        name,
		Description: fmt.Sprintf("%d vCPUs, %d MB RAM", spec.vcpus, spec.memoryMiB),
		GuestCpus:   spec.vcpus,
		MemoryMb:    spec.memoryMiB,
		IsSharedCpu: spec.shared,
		Zone:        zone,
		SelfLink:    gcp.ZonalSelfLink(project, zone, "machineTypes", name),
	}
}
