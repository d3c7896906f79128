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
	"fmt"

	compute "google.golang.org/api/compute/v1"

	"github.com/crossplane-contrib/gcp-emulator/pkg/apierror"
	"github.com/crossplane-contrib/gcp-emulator/pkg/gcp"
	"github.com/crossplane-contrib/gcp-emulator/pkg/operations"
	"github.com/crossplane-contrib/gcp-emulator/pkg/store"
	"github.com/crossplane-contrib/gcp-emulator/pkg/validation"
)

const defaultRoutePriority = 1000

// CreateRoute stores a route record and returns the DONE operation. Routes
// are metadata only; no forwarding table changes.
func (s *Service) CreateRoute(project string, r *compute.Route) (*compute.Operation, error) {
	if err := validation.ResourceName("route", r.Name); err != nil {
		return nil, err
	}
	if err := validation.FirewallCIDR(r.DestRange); err != nil {
		return nil, err
	}
	network := gcp.ResourceName(r.Network)
	if network == "" {
		network = "default"
	}

	var op *store.Operation
	err := s.store.Update(func(st *store.State) error {
		st.EnsureProject(project, s.now())
		key := store.ScopedKey(project, r.Name)
		if _, ok := st.Routes[key]; ok {
			return apierror.Conflict("route %q already exists", r.Name)
		}
		if _, ok := st.Networks[store.ScopedKey(project, network)]; !ok {
			return apierror.NotFound("network %q not found", network)
		}
		rec := &store.Route{
			Name:           r.Name,
			Project:        project,
			Network:        network,
			DestRange:      r.DestRange,
			Priority:       r.Priority,
			NextHopGateway: gcp.ResourceName(r.NextHopGateway),
			NextHopIP:      r.NextHopIp,
			Tags:           r.Tags,
			Description:    r.Description,
			CreatedAt:      s.now(),
		}
		if rec.Priority == 0 {
			rec.Priority = defaultRoutePriority
		}
		if rec.NextHopGateway == "" && rec.NextHopIP == "" {
			rec.NextHopGateway = "default-internet-gateway"
		}
		st.Routes[key] = rec
		op = operations.Done(s.now(), project, operations.TypeInsert, operations.Global(),
			gcp.GlobalSelfLink(project, "routes", r.Name), r.Name)
		operations.Insert(st, op)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return operations.GenerateOperation(op), nil
}

// GetRoute returns one route.
func (s *Service) GetRoute(project, name string) (*compute.Route, error) {
	var out *compute.Route
	err := s.store.View(func(st *store.State) error {
		r, ok := st.Routes[store.ScopedKey(project, name)]
		if !ok {
			return apierror.NotFound("route %q not found", name)
		}
		out = GenerateRoute(r)
		return nil
	})
	return out, err
}

// ListRoutes returns a project's routes sorted by name.
func (s *Service) ListRoutes(project string) (*compute.RouteList, error) {
	out := &compute.RouteList{
		Kind:  "compute#routeList",
		Id:    "projects/" + project + "/global/routes",
		Items: []*compute.Route{},
	}
	err := s.store.View(func(st *store.State) error {
		for _, r := range st.RoutesOf(project) {
			out.Items = append(out.Items, GenerateRoute(r))
		}
		return nil
	})
	return out, err
}

// DeleteRoute removes a route and returns the DONE operation.
func (s *Service) DeleteRoute(project, name string) (*compute.Operation, error) {
	var op *store.Operation
	err := s.store.Update(func(st *store.State) error {
		key := store.ScopedKey(project, name)
		if _, ok := st.Routes[key]; !ok {
			return apierror.NotFound("route %q not found", name)
		}
		delete(st.Routes, key)
		op = operations.Done(s.now(), project, operations.TypeDelete, operations.Global(),
			gcp.GlobalSelfLink(project, "routes", name), name)
		operations.Insert(st, op)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return operations.GenerateOperation(op), nil
}

// GenerateRoute produces the wire representation of a route record.
func GenerateRoute(r *store.Route) *compute.Route {
	out := &compute.Route{
		Kind:              "compute#route",
		Id:                gcp.NumericID(store.ScopedKey(r.Project, r.Name)),
		Name:              r.Name,
		Description:       r.Description,
		DestRange:         r.DestRange,
		Priority:          r.Priority,
		Network:           gcp.GlobalSelfLink(r.Project, "networks", r.Network),
		Tags:              r.Tags,
		NextHopIp:         r.NextHopIP,
		CreationTimestamp: gcp.FormatTime(r.CreatedAt),
		SelfLink:          gcp.GlobalSelfLink(r.Project, "routes", r.Name),
	}
	if r.NextHopGateway != "" {
		out.NextHopGateway = fmt.Sprintf("%s/projects/%s/global/gateways/%s", gcp.ComputeAPIBase, r.Project, r.NextHopGateway)
	}
	return out
}

// CreateRouter stores a router record and returns the DONE operation.
func (s *Service) CreateRouter(project, region string, r *compute.Router) (*compute.Operation, error) {
	if err := validation.ResourceName("router", r.Name); err != nil {
		return nil, err
	}
	network := gcp.ResourceName(r.Network)
	if network == "" {
		network = "default"
	}

	var op *store.Operation
	err := s.store.Update(func(st *store.State) error {
		st.EnsureProject(project, s.now())
		key := store.RegionalKey(project, region, r.Name)
		if _, ok := st.Routers[key]; ok {
			return apierror.Conflict("router %q already exists in region %q", r.Name, region)
		}
		if _, ok := st.Networks[store.ScopedKey(project, network)]; !ok {
			return apierror.NotFound("network %q not found", network)
		}
		rec := &store.Router{
			Name:        r.Name,
			Project:     project,
			Region:      region,
			Network:     network,
			Description: r.Description,
			CreatedAt:   s.now(),
		}
		if r.Bgp != nil {
			rec.ASN = r.Bgp.Asn
		}
		st.Routers[key] = rec
		op = operations.Done(s.now(), project, operations.TypeInsert, operations.Regional(region),
			gcp.RegionalSelfLink(project, region, "routers", r.Name), r.Name)
		operations.Insert(st, op)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return operations.GenerateOperation(op), nil
}

// GetRouter returns one router.
func (s *Service) GetRouter(project, region, name string) (*compute.Router, error) {
	var out *compute.Router
	err := s.store.View(func(st *store.State) error {
		r, ok := st.Routers[store.RegionalKey(project, region, name)]
		if !ok {
			return apierror.NotFound("router %q not found in region %q", name, region)
		}
		out = GenerateRouter(r)
		return nil
	})
	return out, err
}

// ListRouters returns a project's routers in a region sorted by name.
func (s *Service) ListRouters(project, region string) (*compute.RouterList, error) {
	out := &compute.RouterList{
		Kind:  "compute#routerList",
		Id:    "projects/" + project + "/regions/" + region + "/routers",
		Items: []*compute.Router{},
	}
	err := s.store.View(func(st *store.State) error {
		for _, r := range st.RoutersOf(project, region) {
			out.Items = append(out.Items, GenerateRouter(r))
		}
		return nil
	})
	return out, err
}

// DeleteRouter removes a router and returns the DONE operation.
func (s *Service) DeleteRouter(project, region, name string) (*compute.Operation, error) {
	var op *store.Operation
	err := s.store.Update(func(st *store.State) error {
		key := store.RegionalKey(project, region, name)
		if _, ok := st.Routers[key]; !ok {
			return apierror.NotFound("router %q not found in region %q", name, region)
		}
		delete(st.Routers, key)
		op = operations.Done(s.now(), project, operations.TypeDelete, operations.Regional(region),
			gcp.RegionalSelfLink(project, region, "routers", name), name)
		operations.Insert(st, op)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return operations.GenerateOperation(op), nil
}

// GenerateRouter produces the wire representation of a router record.
func GenerateRouter(r *store.Router) *compute.Router {
	out := &compute.Router{
		Kind:              "compute#router",
		Id:                gcp.NumericID(store.RegionalKey(r.Project, r.Region, r.Name)),
		Name:              r.Name,
		Description:       r.Description,
		Network:           gcp.GlobalSelfLink(r.Project, "networks", r.Network),
		Region:            gcp.RegionSelfLink(r.Project, r.Region),
		CreationTimestamp: gcp.FormatTime(r.CreatedAt),
		SelfLink:          gcp.RegionalSelfLink(r.Project, r.Region, "routers", r.Name),
	}
	if r.ASN != 0 {
		out.Bgp = &compute.RouterBgp{Asn: r.ASN}
	}
	return out
}
