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
	"context"
	"net/http"
	"testing"

	"github.com/pkg/errors"
	computeapi "google.golang.org/api/compute/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

func computeClient(t *testing.T, env *testEnv) *computeapi.Service {
	t.Helper()
	svc, err := computeapi.NewService(context.Background(),
		option.WithEndpoint(env.ts.URL+"/compute/v1/"),
		option.WithoutAuthentication())
	if err != nil {
		t.Fatalf("compute.NewService(...): %v", err)
	}
	return svc
}

func TestComputeClientInstanceLifecycle(t *testing.T) {
	env := newTestEnv(t)
	svc := computeClient(t, env)

	op, err := svc.Instances.Insert("demo", "us-central1-a", &computeapi.Instance{
		Name:        "web-1",
		MachineType: "zones/us-central1-a/machineTypes/e2-small",
	}).Do()
	if err != nil {
		t.Fatalf("Instances.Insert(...): %v", err)
	}
	if op.Status != "DONE" || op.OperationType != "insert" {
		t.Errorf("operation: got %s %s, want DONE insert", op.Status, op.OperationType)
	}

	waited, err := svc.ZoneOperations.Wait("demo", "us-central1-a", op.Name).Do()
	if err != nil {
		t.Fatalf("ZoneOperations.Wait(...): %v", err)
	}
	if waited.Status != "DONE" {
		t.Errorf("waited status: got %q, want DONE", waited.Status)
	}

	inst, err := svc.Instances.Get("demo", "us-central1-a", "web-1").Do()
	if err != nil {
		t.Fatalf("Instances.Get(...): %v", err)
	}
	if inst.Status != "RUNNING" {
		t.Errorf("status: got %q, want RUNNING", inst.Status)
	}
	if len(inst.NetworkInterfaces) != 1 {
		t.Fatalf("interfaces: got %+v", inst.NetworkInterfaces)
	}
	nic := inst.NetworkInterfaces[0]
	if nic.NetworkIP != "10.0.0.1" {
		t.Errorf("networkIP: got %q, want 10.0.0.1", nic.NetworkIP)
	}
	if len(nic.AccessConfigs) != 1 || nic.AccessConfigs[0].NatIP != "203.0.113.10" {
		t.Errorf("accessConfigs: got %+v", nic.AccessConfigs)
	}
	if env.rt.Len() != 1 {
		t.Errorf("containers: got %d, want 1", env.rt.Len())
	}

	list, err := svc.Instances.List("demo", "us-central1-a").Do()
	if err != nil {
		t.Fatalf("Instances.List(...): %v", err)
	}
	if len(list.Items) != 1 || list.Items[0].Name != "web-1" {
		t.Errorf("list: got %+v, want web-1", list.Items)
	}

	agg, err := svc.Instances.AggregatedList("demo").Do()
	if err != nil {
		t.Fatalf("Instances.AggregatedList(...): %v", err)
	}
	scoped, ok := agg.Items["zones/us-central1-a"]
	if !ok || len(scoped.Instances) != 1 {
		t.Errorf("aggregated: got %+v, want web-1 under zones/us-central1-a", agg.Items)
	}

	if _, err := svc.Instances.Stop("demo", "us-central1-a", "web-1").Do(); err != nil {
		t.Fatalf("Instances.Stop(...): %v", err)
	}
	inst, err = svc.Instances.Get("demo", "us-central1-a", "web-1").Do()
	if err != nil {
		t.Fatalf("Instances.Get(...): %v", err)
	}
	if inst.Status != "TERMINATED" {
		t.Errorf("status after stop: got %q, want TERMINATED", inst.Status)
	}

	if _, err := svc.Instances.Start("demo", "us-central1-a", "web-1").Do(); err != nil {
		t.Fatalf("Instances.Start(...): %v", err)
	}
	inst, err = svc.Instances.Get("demo", "us-central1-a", "web-1").Do()
	if err != nil {
		t.Fatalf("Instances.Get(...): %v", err)
	}
	if inst.Status != "RUNNING" {
		t.Errorf("status after start: got %q, want RUNNING", inst.Status)
	}

	if _, err := svc.Instances.Delete("demo", "us-central1-a", "web-1").Do(); err != nil {
		t.Fatalf("Instances.Delete(...): %v", err)
	}
	_, err = svc.Instances.Get("demo", "us-central1-a", "web-1").Do()
	gerr := &googleapi.Error{}
	if !errors.As(err, &gerr) || gerr.Code != http.StatusNotFound {
		t.Errorf("get after delete: got %v, want a 404", err)
	}
	if env.rt.Len() != 0 {
		t.Errorf("containers after delete: got %d, want 0", env.rt.Len())
	}
}

func TestComputeClientCatalogue(t *testing.T) {
	env := newTestEnv(t)
	svc := computeClient(t, env)

	zones, err := svc.Zones.List("demo").Do()
	if err != nil {
		t.Fatalf("Zones.List(...): %v", err)
	}
	found := false
	for _, z := range zones.Items {
		if z.Name == "us-central1-a" {
			found = true
			if z.Status != "UP" {
				t.Errorf("zone status: got %q, want UP", z.Status)
			}
		}
	}
	if !found {
		t.Error("zone us-central1-a is missing from the list")
	}

	types, err := svc.MachineTypes.List("demo", "us-central1-a").Do()
	if err != nil {
		t.Fatalf("MachineTypes.List(...): %v", err)
	}
	if len(types.Items) == 0 {
		t.Fatal("machine type catalogue is empty")
	}

	mt, err := svc.MachineTypes.Get("demo", "us-central1-a", "e2-small").Do()
	if err != nil {
		t.Fatalf("MachineTypes.Get(...): %v", err)
	}
	if mt.Name != "e2-small" || mt.GuestCpus == 0 || mt.MemoryMb == 0 {
		t.Errorf("machine type: got %+v", mt)
	}

	_, err = svc.MachineTypes.Get("demo", "us-central1-a", "e2-imaginary").Do()
	gerr := &googleapi.Error{}
	if !errors.As(err, &gerr) || gerr.Code != http.StatusNotFound {
		t.Errorf("unknown type: got %v, want a 404", err)
	}
}

func TestComputeClientNetworking(t *testing.T) {
	env := newTestEnv(t)
	registerProject(t, env, "demo")
	svc := computeClient(t, env)

	if _, err := svc.Networks.Insert("demo", &computeapi.Network{Name: "backbone"}).Do(); err != nil {
		t.Fatalf("Networks.Insert(...): %v", err)
	}
	nets, err := svc.Networks.List("demo").Do()
	if err != nil {
		t.Fatalf("Networks.List(...): %v", err)
	}
	if len(nets.Items) != 2 {
		t.Errorf("networks: got %d, want default plus backbone", len(nets.Items))
	}

	if _, err := svc.Subnetworks.Insert("demo", "us-central1", &computeapi.Subnetwork{
		Name: "apps", IpCidrRange: "10.128.0.0/20",
	}).Do(); err != nil {
		t.Fatalf("Subnetworks.Insert(...): %v", err)
	}
	sn, err := svc.Subnetworks.Get("demo", "us-central1", "apps").Do()
	if err != nil {
		t.Fatalf("Subnetworks.Get(...): %v", err)
	}
	if sn.GatewayAddress != "10.128.0.1" {
		t.Errorf("gateway: got %q, want 10.128.0.1", sn.GatewayAddress)
	}

	if _, err := svc.Routes.Insert("demo", &computeapi.Route{
		Name: "egress", DestRange: "0.0.0.0/0",
	}).Do(); err != nil {
		t.Fatalf("Routes.Insert(...): %v", err)
	}
	rt, err := svc.Routes.Get("demo", "egress").Do()
	if err != nil {
		t.Fatalf("Routes.Get(...): %v", err)
	}
	if rt.Priority != 1000 {
		t.Errorf("route priority: got %d, want 1000", rt.Priority)
	}

	if _, err := svc.Routers.Insert("demo", "us-central1", &computeapi.Router{
		Name: "edge", Bgp: &computeapi.RouterBgp{Asn: 64512},
	}).Do(); err != nil {
		t.Fatalf("Routers.Insert(...): %v", err)
	}

	if _, err := svc.Addresses.Insert("demo", "us-central1", &computeapi.Address{Name: "nat"}).Do(); err != nil {
		t.Fatalf("Addresses.Insert(...): %v", err)
	}
	addr, err := svc.Addresses.Get("demo", "us-central1", "nat").Do()
	if err != nil {
		t.Fatalf("Addresses.Get(...): %v", err)
	}
	if addr.Address != "203.0.113.10" || addr.Status != "RESERVED" {
		t.Errorf("address: got %s %s, want 203.0.113.10 RESERVED", addr.Address, addr.Status)
	}

	if _, err := svc.Firewalls.Insert("demo", &computeapi.Firewall{
		Name:      "allow-http",
		Direction: "INGRESS",
		Allowed: []*computeapi.FirewallAllowed{
			{IPProtocol: "tcp", Ports: []string{"80", "443"}},
		},
		SourceRanges: []string{"0.0.0.0/0"},
		TargetTags:   []string{"web"},
	}).Do(); err != nil {
		t.Fatalf("Firewalls.Insert(...): %v", err)
	}
	if _, err := svc.Firewalls.Patch("demo", "allow-http", &computeapi.Firewall{
		Description: "front door",
	}).Do(); err != nil {
		t.Fatalf("Firewalls.Patch(...): %v", err)
	}
	fw, err := svc.Firewalls.Get("demo", "allow-http").Do()
	if err != nil {
		t.Fatalf("Firewalls.Get(...): %v", err)
	}
	if fw.Description != "front door" {
		t.Errorf("description: got %q, want front door", fw.Description)
	}
	if len(fw.Allowed) != 1 || fw.Allowed[0].IPProtocol != "tcp" {
		t.Errorf("allowed: got %+v, want the stored tcp rule", fw.Allowed)
	}
	if _, err := svc.Firewalls.Delete("demo", "allow-http").Do(); err != nil {
		t.Fatalf("Firewalls.Delete(...): %v", err)
	}

	ops, err := svc.GlobalOperations.List("demo").Do()
	if err != nil {
		t.Fatalf("GlobalOperations.List(...): %v", err)
	}
	if len(ops.Items) == 0 {
		t.Error("global operations list is empty after global mutations")
	}
	for _, op := range ops.Items {
		if op.Status != "DONE" {
			t.Errorf("operation %s: status %q, want DONE", op.Name, op.Status)
		}
	}
}
