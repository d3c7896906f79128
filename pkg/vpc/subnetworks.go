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
	"net"

	compute "google.golang.org/api/compute/v1"

	"github.com/crossplane-contrib/gcp-emulator/pkg/apierror"
	"github.com/crossplane-contrib/gcp-emulator/pkg/gcp"
	"github.com/crossplane-contrib/gcp-emulator/pkg/operations"
	"github.com/crossplane-contrib/gcp-emulator/pkg/store"
	"github.com/crossplane-contrib/gcp-emulator/pkg/validation"
)

// CreateSubnetwork validates and stores a subnetwork and returns the DONE
// operation.
func (s *Service) CreateSubnetwork(project, region string, sn *compute.Subnetwork) (*compute.Operation, error) {
	if err := validation.ResourceName("subnetwork", sn.Name); err != nil {
		return nil, err
	}
	if err := validation.SubnetCIDR(sn.IpCidrRange); err != nil {
		return nil, err
	}
	network := gcp.ResourceName(sn.Network)
	if network == "" {
		network = "default"
	}

	var op *store.Operation
	err := s.store.Update(func(st *store.State) error {
		st.EnsureProject(project, s.now())
		key := store.RegionalKey(project, region, sn.Name)
		if _, ok := st.Subnetworks[key]; ok {
			return apierror.Conflict("subnetwork %q already exists in region %q", sn.Name, region)
		}
		if _, ok := st.Networks[store.ScopedKey(project, network)]; !ok {
			return apierror.NotFound("network %q not found", network)
		}
		st.Subnetworks[key] = &store.Subnetwork{
			Name:                  sn.Name,
			Project:               project,
			Region:                region,
			Network:               network,
			CIDR:                  sn.IpCidrRange,
			PrivateIPGoogleAccess: sn.PrivateIpGoogleAccess,
			Description:           sn.Description,
			CreatedAt:             s.now(),
		}
		op = operations.Done(s.now(), project, operations.TypeInsert, operations.Regional(region),
			gcp.RegionalSelfLink(project, region, "subnetworks", sn.Name), sn.Name)
		operations.Insert(st, op)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return operations.GenerateOperation(op), nil
}

// GetSubnetwork returns one subnetwork.
func (s *Service) GetSubnetwork(project, region, name string) (*compute.Subnetwork, error) {
	var out *compute.Subnetwork
	err := s.store.View(func(st *store.State) error {
		sn, ok := st.Subnetworks[store.RegionalKey(project, region, name)]
		if !ok {
			return apierror.NotFound("subnetwork %q not found in region %q", name, region)
		}
		out = GenerateSubnetwork(sn)
		return nil
	})
	return out, err
}

// ListSubnetworks returns a project's subnetworks in a region sorted by
// name.
func (s *Service) ListSubnetworks(project, region string) (*compute.SubnetworkList, error) {
	out := &compute.SubnetworkList{
		Kind:  "compute#subnetworkList",
		Id:    "projects/" + project + "/regions/" + region + "/subnetworks",
		Items: []*compute.Subnetwork{},
	}
	err := s.store.View(func(st *store.State) error {
		for _, sn := range st.SubnetworksOf(project, region) {
			out.Items = append(out.Items, GenerateSubnetwork(sn))
		}
		return nil
	})
	return out, err
}

// DeleteSubnetwork removes a subnetwork and returns the DONE operation.
func (s *Service) DeleteSubnetwork(project, region, name string) (*compute.Operation, error) {
	var op *store.Operation
	err := s.store.Update(func(st *store.State) error {
		key := store.RegionalKey(project, region, name)
		if _, ok := st.Subnetworks[key]; !ok {
			return apierror.NotFound("subnetwork %q not found in region %q", name, region)
		}
		delete(st.Subnetworks, key)
		op = operations.Done(s.now(), project, operations.TypeDelete, operations.Regional(region),
			gcp.RegionalSelfLink(project, region, "subnetworks", name), name)
		operations.Insert(st, op)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return operations.GenerateOperation(op), nil
}

// GenerateSubnetwork produces the wire representation of a subnetwork
// record.
func GenerateSubnetwork(sn *store.Subnetwork) *compute.Subnetwork {
	return &compute.Subnetwork{
		Kind:                  "compute#subnetwork",
		Id:                    gcp.NumericID(store.RegionalKey(sn.Project, sn.Region, sn.Name)),
		Name:                  sn.Name,
		Description:           sn.Description,
		IpCidrRange:           sn.CIDR,
		GatewayAddress:        gatewayOf(sn.CIDR),
		Network:               gcp.GlobalSelfLink(sn.Project, "networks", sn.Network),
		Region:                gcp.RegionSelfLink(sn.Project, sn.Region),
		PrivateIpGoogleAccess: sn.PrivateIPGoogleAccess,
		CreationTimestamp:     gcp.FormatTime(sn.CreatedAt),
		SelfLink:              gcp.RegionalSelfLink(sn.Project, sn.Region, "subnetworks", sn.Name),
	}
}

// gatewayOf returns the first usable address of an IPv4 CIDR, the
// conventional gateway.
func gatewayOf(cidr string) string {
	_, ipNet, err := net.ParseCIDR(cidr)
	if err != nil {
		return ""
	}
	ip := ipNet.IP.To4()
	if ip == nil {
		return ""
	}
	gw := make(net.IP, len(ip))
	copy(gw, ip)
	gw[3]++
	return gw.String()
}
