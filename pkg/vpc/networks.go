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
	"sort"

	compute "google.golang.org/api/compute/v1"

	"github.com/crossplane-contrib/gcp-emulator/pkg/apierror"
	"github.com/crossplane-contrib/gcp-emulator/pkg/gcp"
	"github.com/crossplane-contrib/gcp-emulator/pkg/operations"
	"github.com/crossplane-contrib/gcp-emulator/pkg/store"
	"github.com/crossplane-contrib/gcp-emulator/pkg/validation"
)

// CreateNetwork stores a network record and returns the DONE operation.
func (s *Service) CreateNetwork(project string, n *compute.Network) (*compute.Operation, error) {
	if err := validation.ResourceName("network", n.Name); err != nil {
		return nil, err
	}

	var op *store.Operation
	err := s.store.Update(func(st *store.State) error {
		st.EnsureProject(project, s.now())
		key := store.ScopedKey(project, n.Name)
		if _, ok := st.Networks[key]; ok {
			return apierror.Conflict("network %q already exists", n.Name)
		}
		rec := &store.Network{
			Name:                  n.Name,
			Project:               project,
			Description:           n.Description,
			AutoCreateSubnetworks: n.AutoCreateSubnetworks,
			RoutingMode:           "REGIONAL",
			CreatedAt:             s.now(),
		}
		if n.RoutingConfig != nil && n.RoutingConfig.RoutingMode != "" {
			rec.RoutingMode = n.RoutingConfig.RoutingMode
		}
		st.Networks[key] = rec
		op = operations.Done(s.now(), project, operations.TypeInsert, operations.Global(),
			gcp.GlobalSelfLink(project, "networks", n.Name), n.Name)
		operations.Insert(st, op)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return operations.GenerateOperation(op), nil
}

// GetNetwork returns one network.
func (s *Service) GetNetwork(project, name string) (*compute.Network, error) {
	var out *compute.Network
	err := s.store.View(func(st *store.State) error {
		n, ok := st.Networks[store.ScopedKey(project, name)]
		if !ok {
			return apierror.NotFound("network %q not found", name)
		}
		out = GenerateNetwork(n, subnetworkLinks(st, project, name))
		return nil
	})
	return out, err
}

// ListNetworks returns a project's networks sorted by name.
func (s *Service) ListNetworks(project string) (*compute.NetworkList, error) {
	out := &compute.NetworkList{
		Kind:  "compute#networkList",
		Id:    "projects/" + project + "/global/networks",
		Items: []*compute.Network{},
	}
	err := s.store.View(func(st *store.State) error {
		for _, n := range st.NetworksOf(project) {
			out.Items = append(out.Items, GenerateNetwork(n, subnetworkLinks(st, project, n.Name)))
		}
		return nil
	})
	return out, err
}

// DeleteNetwork removes a network that nothing references anymore.
func (s *Service) DeleteNetwork(project, name string) (*compute.Operation, error) {
	var op *store.Operation
	err := s.store.Update(func(st *store.State) error {
		key := store.ScopedKey(project, name)
		if _, ok := st.Networks[key]; !ok {
			return apierror.NotFound("network %q not found", name)
		}
		for _, sn := range st.Subnetworks {
			if sn.Project == project && sn.Network == name {
				return apierror.Conflict("network %q still has subnetwork %q", name, sn.Name)
			}
		}
		for _, fw := range st.Firewalls {
			if fw.Project == project && fw.Network == name {
				return apierror.Conflict("network %q still has firewall %q", name, fw.Name)
			}
		}
		for _, inst := range st.Instances {
			if inst.Project != project {
				continue
			}
			for _, nic := range inst.NetworkInterfaces {
				if gcp.ResourceName(nic.Network) == name {
					return apierror.Conflict("network %q is in use by instance %q", name, inst.Name)
				}
			}
		}
		delete(st.Networks, key)
		op = operations.Done(s.now(), project, operations.TypeDelete, operations.Global(),
			gcp.GlobalSelfLink(project, "networks", name), name)
		operations.Insert(st, op)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return operations.GenerateOperation(op), nil
}

func subnetworkLinks(st *store.State, project, network string) []string {
	links := []string{}
	for _, sn := range st.Subnetworks {
		if sn.Project == project && sn.Network == network {
			links = append(links, gcp.RegionalSelfLink(project, sn.Region, "subnetworks", sn.Name))
		}
	}
	sort.Strings(links)
	return links
}

// GenerateNetwork produces the wire representation of a network record.
func GenerateNetwork(n *store.Network, subnetworks []string) *compute.Network {
	return &compute.Network{
		Kind:                  "compute#network",
		Id:                    gcp.NumericID(store.ScopedKey(n.Project, n.Name)),
		Name:                  n.Name,
		Description:           n.Description,
		AutoCreateSubnetworks: n.AutoCreateSubnetworks,
		RoutingConfig:         &compute.NetworkRoutingConfig{RoutingMode: n.RoutingMode},
		Subnetworks:           subnetworks,
		CreationTimestamp:     gcp.FormatTime(n.CreatedAt),
		SelfLink:              gcp.GlobalSelfLink(n.Project, "networks", n.Name),
	}
}
