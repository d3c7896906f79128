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

package vpc

import (
	"time"

	compute "google.golang.org/api/compute/v1"

	"github.com/crossplane-contrib/gcp-emulator/pkg/apierror"
	"github.com/crossplane-contrib/gcp-emulator/pkg/gcp"
	"github.com/crossplane-contrib/gcp-emulator/pkg/operations"
	"github.com/crossplane-contrib/gcp-emulator/pkg/store"
	"github.com/crossplane-contrib/gcp-emulator/pkg/validation"
)

// Address statuses and types.
const (
	AddressStatusReserved = "RESERVED"
	AddressStatusInUse    = "IN_USE"
	AddressTypeExternal   = "EXTERNAL"
	AddressTypeInternal   = "INTERNAL"
)

// CreateAddress reserves an address record. When the request names no
// literal address, an external one is drawn from the project's pool.
func (s *Service) CreateAddress(project, region string, a *compute.Address) (*compute.Operation, error) {
	if err := validation.ResourceName("address", a.Name); err != nil {
		return nil, err
	}

	var op *store.Operation
	err := s.store.Update(func(st *store.State) error {
		st.EnsureProject(project, s.now())
		key := store.RegionalKey(project, region, a.Name)
		if _, ok := st.Addresses[key]; ok {
			return apierror.Conflict("address %q already exists in region %q", a.Name, region)
		}
		rec := &store.Address{
			Name:        a.Name,
			Project:     project,
			Region:      region,
			Address:     a.Address,
			AddressType: a.AddressType,
			Status:      AddressStatusReserved,
			Description: a.Description,
			CreatedAt:   s.now(),
		}
		if rec.AddressType == "" {
			rec.AddressType = AddressTypeExternal
		}
		if rec.Address == "" {
			if rec.AddressType == AddressTypeInternal {
				rec.Address = AllocateInternal(st.Allocations[project])
			} else {
				ip, err := AllocateExternal(st.Allocations[project])
				if err != nil {
					return err
				}
				rec.Address = ip
			}
		}
		st.Addresses[key] = rec
		op = operations.Done(s.now(), project, operations.TypeInsert, operations.Regional(region),
			gcp.RegionalSelfLink(project, region, "addresses", a.Name), a.Name)
		operations.Insert(st, op)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return operations.GenerateOperation(op), nil
}

// GetAddress returns one address record.
func (s *Service) GetAddress(project, region, name string) (*compute.Address, error) {
	var out *compute.Address
	err := s.store.View(func(st *store.State) error {
		a, ok := st.Addresses[store.RegionalKey(project, region, name)]
		if !ok {
			return apierror.NotFound("address %q not found in region %q", name, region)
		}
		out = GenerateAddress(a)
		return nil
	})
	return out, err
}

// ListAddresses returns a project's addresses in a region sorted by name.
func (s *Service) ListAddresses(project, region string) (*compute.AddressList, error) {
	out := &compute.AddressList{
		Kind:  "compute#addressList",
		Id:    "projects/" + project + "/regions/" + region + "/addresses",
		Items: []*compute.Address{},
	}
	err := s.store.View(func(st *store.State) error {
		for _, a := range st.AddressesOf(project, region) {
			out.Items = append(out.Items, GenerateAddress(a))
		}
		return nil
	})
	return out, err
}

// DeleteAddress removes an address record. The underlying IP is never
// returned to the pool.
func (s *Service) DeleteAddress(project, region, name string) (*compute.Operation, error) {
	var op *store.Operation
	err := s.store.Update(func(st *store.State) error {
		key := store.RegionalKey(project, region, name)
		a, ok := st.Addresses[key]
		if !ok {
			return apierror.NotFound("address %q not found in region %q", name, region)
		}
		if a.Status == AddressStatusInUse {
			return apierror.Conflict("address %q is in use", name)
		}
		delete(st.Addresses, key)
		op = operations.Done(s.now(), project, operations.TypeDelete, operations.Regional(region),
			gcp.RegionalSelfLink(project, region, "addresses", name), name)
		operations.Insert(st, op)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return operations.GenerateOperation(op), nil
}

// RecordInstanceAddress upserts the address record mirroring an instance's
// external IP grant. The compute control plane calls it inside the instance
// create transaction.
func RecordInstanceAddress(st *store.State, now time.Time, inst *store.Instance, ip string) {
	region := gcp.ZoneToRegion(inst.Zone)
	key := store.RegionalKey(inst.Project, region, "auto-"+inst.Name)
	st.Addresses[key] = &store.Address{
		Name:        "auto-" + inst.Name,
		Project:     inst.Project,
		Region:      region,
		Address:     ip,
		AddressType: AddressTypeExternal,
		Status:      AddressStatusInUse,
		Users:       []string{gcp.ZonalSelfLink(inst.Project, inst.Zone, "instances", inst.Name)},
		CreatedAt:   now,
	}
}

// ReleaseInstanceAddress flips the instance's auto address back to RESERVED
// on instance delete; the IP stays allocated.
func ReleaseInstanceAddress(st *store.State, inst *store.Instance) {
	region := gcp.ZoneToRegion(inst.Zone)
	key := store.RegionalKey(inst.Project, region, "auto-"+inst.Name)
	if a, ok := st.Addresses[key]; ok {
		a.Status = AddressStatusReserved
		a.Users = nil
	}
}

// GenerateAddress produces the wire representation of an address record.
func GenerateAddress(a *store.Address) *compute.Address {
	return &compute.Address{
		Kind:              "compute#address",
		Id:                gcp.NumericID(store.RegionalKey(a.Project, a.Region, a.Name)),
		Name:              a.Name,
		Description:       a.Description,
		Address:           a.Address,
		AddressType:       a.AddressType,
		Status:            a.Status,
		Users:             a.Users,
		Region:            gcp.RegionSelfLink(a.Project, a.Region),
		CreationTimestamp: gcp.FormatTime(a.CreatedAt),
		SelfLink:          gcp.RegionalSelfLink(a.Project, a.Region, "addresses", a.Name),
	}
}
