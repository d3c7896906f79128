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

package server

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/gorilla/mux"
	computeapi "google.golang.org/api/compute/v1"

	"github.com/crossplane-contrib/gcp-emulator/pkg/apierror"
	"github.com/crossplane-contrib/gcp-emulator/pkg/operations"
	"github.com/crossplane-contrib/gcp-emulator/pkg/store"
)

func (s *Server) computeRoutes(r *mux.Router) {
	r.HandleFunc("/projects/{project}/zones", s.listZones).Methods(http.MethodGet)
	r.HandleFunc("/projects/{project}/zones/{zone}/machineTypes", s.listMachineTypes).Methods(http.MethodGet)
	r.HandleFunc("/projects/{project}/zones/{zone}/machineTypes/{type}", s.getMachineType).Methods(http.MethodGet)

	r.HandleFunc("/projects/{project}/zones/{zone}/instances", s.createInstance).Methods(http.MethodPost)
	r.HandleFunc("/projects/{project}/zones/{zone}/instances", s.listInstances).Methods(http.MethodGet)
	r.HandleFunc("/projects/{project}/zones/{zone}/instances/{instance}", s.getInstance).Methods(http.MethodGet)
	r.HandleFunc("/projects/{project}/zones/{zone}/instances/{instance}", s.deleteInstance).Methods(http.MethodDelete)
	r.HandleFunc("/projects/{project}/zones/{zone}/instances/{instance}/start", s.startInstance).Methods(http.MethodPost)
	r.HandleFunc("/projects/{project}/zones/{zone}/instances/{instance}/stop", s.stopInstance).Methods(http.MethodPost)
	r.HandleFunc("/projects/{project}/zones/{zone}/instances/{instance}/reset", s.resetInstance).Methods(http.MethodPost)
	r.HandleFunc("/projects/{project}/aggregated/instances", s.aggregatedInstances).Methods(http.MethodGet)

	for _, scope := range []string{"/global", "/regions/{region}", "/zones/{zone}"} {
		r.HandleFunc("/projects/{project}"+scope+"/operations", s.listOperations).Methods(http.MethodGet)
		r.HandleFunc("/projects/{project}"+scope+"/operations/{operation}", s.getOperation).Methods(http.MethodGet)
		r.HandleFunc("/projects/{project}"+scope+"/operations/{operation}/wait", s.getOperation).Methods(http.MethodPost)
	}

	r.HandleFunc("/projects/{project}/global/networks", s.createNetwork).Methods(http.MethodPost)
	r.HandleFunc("/projects/{project}/global/networks", s.listNetworks).Methods(http.MethodGet)
	r.HandleFunc("/projects/{project}/global/networks/{network}", s.getNetwork).Methods(http.MethodGet)
	r.HandleFunc("/projects/{project}/global/networks/{network}", s.deleteNetwork).Methods(http.MethodDelete)

	r.HandleFunc("/projects/{project}/regions/{region}/subnetworks", s.createSubnetwork).Methods(http.MethodPost)
	r.HandleFunc("/projects/{project}/regions/{region}/subnetworks", s.listSubnetworks).Methods(http.MethodGet)
	r.HandleFunc("/projects/{project}/regions/{region}/subnetworks/{subnetwork}", s.getSubnetwork).Methods(http.MethodGet)
	r.HandleFunc("/projects/{project}/regions/{region}/subnetworks/{subnetwork}", s.deleteSubnetwork).Methods(http.MethodDelete)

	r.HandleFunc("/projects/{project}/global/routes", s.createRoute).Methods(http.MethodPost)
	r.HandleFunc("/projects/{project}/global/routes", s.listRoutes).Methods(http.MethodGet)
	r.HandleFunc("/projects/{project}/global/routes/{route}", s.getRoute).Methods(http.MethodGet)
	r.HandleFunc("/projects/{project}/global/routes/{route}", s.deleteRoute).Methods(http.MethodDelete)

	r.HandleFunc("/projects/{project}/regions/{region}/routers", s.createRouter).Methods(http.MethodPost)
	r.HandleFunc("/projects/{project}/regions/{region}/routers", s.listRouters).Methods(http.MethodGet)
	r.HandleFunc("/projects/{project}/regions/{region}/routers/{router}", s.getRouter).Methods(http.MethodGet)
	r.HandleFunc("/projects/{project}/regions/{region}/routers/{router}", s.deleteRouter).Methods(http.MethodDelete)

	r.HandleFunc("/projects/{project}/regions/{region}/addresses", s.createAddress).Methods(http.MethodPost)
	r.HandleFunc("/projects/{project}/regions/{region}/addresses", s.listAddresses).Methods(http.MethodGet)
	r.HandleFunc("/projects/{project}/regions/{region}/addresses/{address}", s.getAddress).Methods(http.MethodGet)
	r.HandleFunc("/projects/{project}/regions/{region}/addresses/{address}", s.deleteAddress).Methods(http.MethodDelete)

	r.HandleFunc("/projects/{project}/global/firewalls", s.createFirewall).Methods(http.MethodPost)
	r.HandleFunc("/projects/{project}/global/firewalls", s.listFirewalls).Methods(http.MethodGet)
	r.HandleFunc("/projects/{project}/global/firewalls/{firewall}", s.getFirewall).Methods(http.MethodGet)
	r.HandleFunc("/projects/{project}/global/firewalls/{firewall}", s.patchFirewall).Methods(http.MethodPatch)
	r.HandleFunc("/projects/{project}/global/firewalls/{firewall}", s.deleteFirewall).Methods(http.MethodDelete)
}

// respond writes out unless err is set. Compute handlers all end here;
// their out is an operation or a resource document.
func respond(w http.ResponseWriter, out interface{}, err error) {
	if err != nil {
		apierror.Write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) listZones(w http.ResponseWriter, r *http.Request) {
	out, err := s.compute.ListZones(mux.Vars(r)["project"])
	respond(w, out, err)
}

func (s *Server) listMachineTypes(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	out, err := s.compute.ListMachineTypes(vars["project"], vars["zone"])
	respond(w, out, err)
}

func (s *Server) getMachineType(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	out, err := s.compute.GetMachineType(vars["project"], vars["zone"], vars["type"])
	respond(w, out, err)
}

func (s *Server) createInstance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	req := &computeapi.Instance{}
	if err := decodeJSON(r, req); err != nil {
		apierror.Write(w, err)
		return
	}
	out, err := s.compute.CreateInstance(r.Context(), vars["project"], vars["zone"], req)
	respond(w, out, err)
}

func (s *Server) listInstances(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	project, zone := vars["project"], vars["zone"]
	if zone == "-" || zone == "*" {
		s.listInstancesAllZones(w, project)
		return
	}
	out, err := s.compute.ListInstances(project, zone)
	respond(w, out, err)
}

// listInstancesAllZones flattens the aggregated view into a plain instance
// list, the shape tools using the zone wildcard expect.
func (s *Server) listInstancesAllZones(w http.ResponseWriter, project string) {
	agg, err := s.compute.AggregatedInstances(project)
	if err != nil {
		apierror.Write(w, err)
		return
	}
	out := &computeapi.InstanceList{
		Kind:  "compute#instanceList",
		Id:    fmt.Sprintf("projects/%s/aggregated/instances", project),
		Items: []*computeapi.Instance{},
	}
	for _, scoped := range agg.Items {
		out.Items = append(out.Items, scoped.Instances...)
	}
	sort.Slice(out.Items, func(i, j int) bool { return out.Items[i].Name < out.Items[j].Name })
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getInstance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	out, err := s.compute.GetInstance(vars["project"], vars["zone"], vars["instance"])
	respond(w, out, err)
}

func (s *Server) deleteInstance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	out, err := s.compute.DeleteInstance(r.Context(), vars["project"], vars["zone"], vars["instance"])
	respond(w, out, err)
}

func (s *Server) startInstance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	out, err := s.compute.StartInstance(r.Context(), vars["project"], vars["zone"], vars["instance"])
	respond(w, out, err)
}

func (s *Server) stopInstance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	out, err := s.compute.StopInstance(r.Context(), vars["project"], vars["zone"], vars["instance"])
	respond(w, out, err)
}

func (s *Server) resetInstance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	out, err := s.compute.ResetInstance(r.Context(), vars["project"], vars["zone"], vars["instance"])
	respond(w, out, err)
}

func (s *Server) aggregatedInstances(w http.ResponseWriter, r *http.Request) {
	out, err := s.compute.AggregatedInstances(mux.Vars(r)["project"])
	respond(w, out, err)
}

// scopeFromVars derives the operation scope from whichever of the zone and
// region variables the matched route carries.
func scopeFromVars(vars map[string]string) operations.Scope {
	if zone := vars["zone"]; zone != "" {
		return operations.Zonal(zone)
	}
	if region := vars["region"]; region != "" {
		return operations.Regional(region)
	}
	return operations.Global()
}

// getOperation serves both the get and wait routes. Operations are born
// DONE, so waiting returns the stored document immediately.
func (s *Server) getOperation(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var out *computeapi.Operation
	err := s.store.View(func(st *store.State) error {
		op, err := operations.Get(st, vars["project"], scopeFromVars(vars), vars["operation"])
		if err != nil {
			return err
		}
		out = operations.GenerateOperation(op)
		return nil
	})
	respond(w, out, err)
}

func (s *Server) listOperations(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var out *computeapi.OperationList
	err := s.store.View(func(st *store.State) error {
		out = operations.GenerateOperationList(operations.List(st, vars["project"], scopeFromVars(vars)))
		return nil
	})
	respond(w, out, err)
}

func (s *Server) createNetwork(w http.ResponseWriter, r *http.Request) {
	n := &computeapi.Network{}
	if err := decodeJSON(r, n); err != nil {
		apierror.Write(w, err)
		return
	}
	out, err := s.vpc.CreateNetwork(mux.Vars(r)["project"], n)
	respond(w, out, err)
}

func (s *Server) listNetworks(w http.ResponseWriter, r *http.Request) {
	out, err := s.vpc.ListNetworks(mux.Vars(r)["project"])
	respond(w, out, err)
}

func (s *Server) getNetwork(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	out, err := s.vpc.GetNetwork(vars["project"], vars["network"])
	respond(w, out, err)
}

func (s *Server) deleteNetwork(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	out, err := s.vpc.DeleteNetwork(vars["project"], vars["network"])
	respond(w, out, err)
}

func (s *Server) createSubnetwork(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	sn := &computeapi.Subnetwork{}
	if err := decodeJSON(r, sn); err != nil {
		apierror.Write(w, err)
		return
	}
	out, err := s.vpc.CreateSubnetwork(vars["project"], vars["region"], sn)
	respond(w, out, err)
}

func (s *Server) listSubnetworks(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	out, err := s.vpc.ListSubnetworks(vars["project"], vars["region"])
	respond(w, out, err)
}

func (s *Server) getSubnetwork(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	out, err := s.vpc.GetSubnetwork(vars["project"], vars["region"], vars["subnetwork"])
	respond(w, out, err)
}

func (s *Server) deleteSubnetwork(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	out, err := s.vpc.DeleteSubnetwork(vars["project"], vars["region"], vars["subnetwork"])
	respond(w, out, err)
}

func (s *Server) createRoute(w http.ResponseWriter, r *http.Request) {
	rt := &computeapi.Route{}
	if err := decodeJSON(r, rt); err != nil {
		apierror.Write(w, err)
		return
	}
	out, err := s.vpc.CreateRoute(mux.Vars(r)["project"], rt)
	respond(w, out, err)
}

func (s *Server) listRoutes(w http.ResponseWriter, r *http.Request) {
	out, err := s.vpc.ListRoutes(mux.Vars(r)["project"])
	respond(w, out, err)
}

func (s *Server) getRoute(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	out, err := s.vpc.GetRoute(vars["project"], vars["route"])
	respond(w, out, err)
}

func (s *Server) deleteRoute(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	out, err := s.vpc.DeleteRoute(vars["project"], vars["route"])
	respond(w, out, err)
}

func (s *Server) createRouter(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	rt := &computeapi.Router{}
	if err := decodeJSON(r, rt); err != nil {
		apierror.Write(w, err)
		return
	}
	out, err := s.vpc.CreateRouter(vars["project"], vars["region"], rt)
	respond(w, out, err)
}

func (s *Server) listRouters(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	out, err := s.vpc.ListRouters(vars["project"], vars["region"])
	respond(w, out, err)
}

func (s *Server) getRouter(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	out, err := s.vpc.GetRouter(vars["project"], vars["region"], vars["router"])
	respond(w, out, err)
}

func (s *Server) deleteRouter(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	out, err := s.vpc.DeleteRouter(vars["project"], vars["region"], vars["router"])
	respond(w, out, err)
}

func (s *Server) createAddress(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	a := &computeapi.Address{}
	if err := decodeJSON(r, a); err != nil {
		apierror.Write(w, err)
		return
	}
	out, err := s.vpc.CreateAddress(vars["project"], vars["region"], a)
	respond(w, out, err)
}

func (s *Server) listAddresses(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	out, err := s.vpc.ListAddresses(vars["project"], vars["region"])
	respond(w, out, err)
}

func (s *Server) getAddress(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	out, err := s.vpc.GetAddress(vars["project"], vars["region"], vars["address"])
	respond(w, out, err)
}

func (s *Server) deleteAddress(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	out, err := s.vpc.DeleteAddress(vars["project"], vars["region"], vars["address"])
	respond(w, out, err)
}

func (s *Server) createFirewall(w http.ResponseWriter, r *http.Request) {
	fw := &computeapi.Firewall{}
	if err := decodeJSON(r, fw); err != nil {
		apierror.Write(w, err)
		return
	}
	out, err := s.vpc.CreateFirewall(mux.Vars(r)["project"], fw)
	respond(w, out, err)
}

func (s *Server) listFirewalls(w http.ResponseWriter, r *http.Request) {
	out, err := s.vpc.ListFirewalls(mux.Vars(r)["project"])
	respond(w, out, err)
}

func (s *Server) getFirewall(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	out, err := s.vpc.GetFirewall(vars["project"], vars["firewall"])
	respond(w, out, err)
}

func (s *Server) patchFirewall(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	patch := &computeapi.Firewall{}
	if err := decodeJSON(r, patch); err != nil {
		apierror.Write(w, err)
		return
	}
	out, err := s.vpc.PatchFirewall(vars["project"], vars["firewall"], patch)
	respond(w, out, err)
}

func (s *Server) deleteFirewall(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	out, err := s.vpc.DeleteFirewall(vars["project"], vars["firewall"])
	respond(w, out, err)
}
