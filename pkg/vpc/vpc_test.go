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
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
	compute "google.golang.org/api/compute/v1"

	"github.com/crossplane-contrib/gcp-emulator/pkg/apierror"
	"github.com/crossplane-contrib/gcp-emulator/pkg/store"
)

var testTime = time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)

func testService(t *testing.T) *Service {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	st, err := store.New(logrus.NewEntry(log), "")
	if err != nil {
		t.Fatalf("store.New(...): %v", err)
	}
	s := New(st, logrus.NewEntry(log))
	s.now = func() time.Time { return testTime }
	return s
}

func firewallFixture() *compute.Firewall {
	return &compute.Firewall{
		Name:      "allow-http",
		Direction: "INGRESS",
		Allowed: []*compute.FirewallAllowed{
			{IPProtocol: "tcp", Ports: []string{"80", "443"}},
		},
		SourceRanges: []string{"0.0.0.0/0"},
		TargetTags:   []string{"web"},
	}
}

func TestCreateFirewall(t *testing.T) {
	s := testService(t)

	op, err := s.CreateFirewall("p1", firewallFixture())
	if err != nil {
		t.Fatalf("CreateFirewall(...): %v", err)
	}
	if op.Status != "DONE" || op.OperationType != "insert" {
		t.Errorf("operation = %+v, want DONE insert", op)
	}

	got, err := s.GetFirewall("p1", "allow-http")
	if err != nil {
		t.Fatalf("GetFirewall(...): %v", err)
	}
	want := &compute.Firewall{
		Kind:              "compute#firewall",
		Id:                got.Id,
		Name:              "allow-http",
		Direction:         "INGRESS",
		Priority:          1000,
		Network:           "https://www.googleapis.com/compute/v1/projects/p1/global/networks/default",
		Allowed:           []*compute.FirewallAllowed{{IPProtocol: "tcp", Ports: []string{"80", "443"}}},
		SourceRanges:      []string{"0.0.0.0/0"},
		TargetTags:        []string{"web"},
		CreationTimestamp: "2024-04-01T09:00:00.000Z",
		SelfLink:          "https://www.googleapis.com/compute/v1/projects/p1/global/firewalls/allow-http",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("GetFirewall(...): -want, +got:\n%s", diff)
	}
}

func TestCreateFirewallConflict(t *testing.T) {
	s := testService(t)

	if _, err := s.CreateFirewall("p1", firewallFixture()); err != nil {
		t.Fatalf("first create: %v", err)
	}
	_, err := s.CreateFirewall("p1", firewallFixture())
	if !apierror.IsConflict(err) {
		t.Errorf("second create should conflict, got %v", err)
	}
}

func TestCreateFirewallValidation(t *testing.T) {
	cases := map[string]struct {
		mod func(*compute.Firewall)
	}{
		"BadName":          {mod: func(f *compute.Firewall) { f.Name = "Allow_HTTP" }},
		"BadDirection":     {mod: func(f *compute.Firewall) { f.Direction = "SIDEWAYS" }},
		"BadPriority":      {mod: func(f *compute.Firewall) { f.Priority = 70000 }},
		"BadProtocol":      {mod: func(f *compute.Firewall) { f.Allowed[0].IPProtocol = "sctp" }},
		"BadPort":          {mod: func(f *compute.Firewall) { f.Allowed[0].Ports = []string{"http"} }},
		"PortOutOfRange":   {mod: func(f *compute.Firewall) { f.Allowed[0].Ports = []string{"65536"} }},
		"BadSourceRange":   {mod: func(f *compute.Firewall) { f.SourceRanges = []string{"10.0.0.0"} }},
		"NoEntries":        {mod: func(f *compute.Firewall) { f.Allowed = nil }},
		"AllowedAndDenied": {mod: func(f *compute.Firewall) { f.Denied = []*compute.FirewallDenied{{IPProtocol: "udp"}} }},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			s := testService(t)
			fw := firewallFixture()
			tc.mod(fw)
			_, err := s.CreateFirewall("p1", fw)
			if apierror.FromError(err).Code != 400 {
				t.Errorf("CreateFirewall(...) = %v, want invalid", err)
			}
		})
	}
}

func TestFirewallDenied(t *testing.T) {
	s := testService(t)

	fw := &compute.Firewall{
		Name:   "deny-all-egress",
		Denied: []*compute.FirewallDenied{{IPProtocol: "all"}},
	}
	fw.Direction = "EGRESS"
	fw.DestinationRanges = []string{"0.0.0.0/0"}
	if _, err := s.CreateFirewall("p1", fw); err != nil {
		t.Fatalf("CreateFirewall(...): %v", err)
	}

	got, err := s.GetFirewall("p1", "deny-all-egress")
	if err != nil {
		t.Fatalf("GetFirewall(...): %v", err)
	}
	if len(got.Denied) != 1 || got.Denied[0].IPProtocol != "all" || len(got.Allowed) != 0 {
		t.Errorf("GetFirewall(...) = %+v, want denied entry only", got)
	}
}

func TestPatchFirewall(t *testing.T) {
	s := testService(t)
	if _, err := s.CreateFirewall("p1", firewallFixture()); err != nil {
		t.Fatalf("create: %v", err)
	}

	op, err := s.PatchFirewall("p1", "allow-http", &compute.Firewall{
		Priority:     2000,
		SourceRanges: []string{"10.0.0.0/8"},
	})
	if err != nil {
		t.Fatalf("PatchFirewall(...): %v", err)
	}
	if op.OperationType != "patch" {
		t.Errorf("operation type = %q, want patch", op.OperationType)
	}

	got, _ := s.GetFirewall("p1", "allow-http")
	if got.Priority != 2000 {
		t.Errorf("priority = %d, want 2000", got.Priority)
	}
	if diff := cmp.Diff([]string{"10.0.0.0/8"}, got.SourceRanges); diff != "" {
		t.Errorf("source ranges: -want, +got:\n%s", diff)
	}
	if len(got.Allowed) != 1 {
		t.Error("unpatched allowed entries must survive")
	}

	if _, err := s.PatchFirewall("p1", "allow-http", &compute.Firewall{Priority: 70000}); apierror.FromError(err).Code != 400 {
		t.Errorf("invalid patch should fail validation, got %v", err)
	}
}

func TestDeleteFirewall(t *testing.T) {
	s := testService(t)
	if _, err := s.CreateFirewall("p1", firewallFixture()); err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := s.DeleteFirewall("p1", "allow-http"); err != nil {
		t.Fatalf("DeleteFirewall(...): %v", err)
	}
	if _, err := s.GetFirewall("p1", "allow-http"); !apierror.IsNotFound(err) {
		t.Errorf("deleted firewall should be notFound, got %v", err)
	}
	if _, err := s.DeleteFirewall("p1", "allow-http"); !apierror.IsNotFound(err) {
		t.Errorf("double delete should be notFound, got %v", err)
	}
}

func TestListFirewalls(t *testing.T) {
	s := testService(t)
	fw1 := firewallFixture()
	fw2 := firewallFixture()
	fw2.Name = "allow-ssh"
	fw2.Allowed = []*compute.FirewallAllowed{{IPProtocol: "tcp", Ports: []string{"22"}}}
	if _, err := s.CreateFirewall("p1", fw1); err != nil {
		t.Fatal(err)
	}
	if _, err := s.CreateFirewall("p1", fw2); err != nil {
		t.Fatal(err)
	}

	list, err := s.ListFirewalls("p1")
	if err != nil {
		t.Fatalf("ListFirewalls(...): %v", err)
	}
	if list.Kind != "compute#firewallList" || len(list.Items) != 2 {
		t.Fatalf("list = %+v", list)
	}
	if list.Items[0].Name != "allow-http" || list.Items[1].Name != "allow-ssh" {
		t.Errorf("list order = %q, %q", list.Items[0].Name, list.Items[1].Name)
	}

	empty, err := s.ListFirewalls("other")
	if err != nil || len(empty.Items) != 0 {
		t.Errorf("ListFirewalls(other) = %+v, %v", empty, err)
	}
}

func TestAppliesTo(t *testing.T) {
	cases := map[string]struct {
		ruleTags     []string
		instanceTags []string
		want         bool
	}{
		"NoTargetTags":   {ruleTags: nil, instanceTags: []string{"web"}, want: true},
		"Intersection":   {ruleTags: []string{"web", "db"}, instanceTags: []string{"web"}, want: true},
		"NoIntersection": {ruleTags: []string{"db"}, instanceTags: []string{"web"}, want: false},
		"InstanceNoTags": {ruleTags: []string{"db"}, instanceTags: nil, want: false},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			fw := &store.FirewallRule{TargetTags: tc.ruleTags}
			inst := &store.Instance{Tags: tc.instanceTags}
			if got := AppliesTo(fw, inst); got != tc.want {
				t.Errorf("AppliesTo(...) = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestNetworkLifecycle(t *testing.T) {
	s := testService(t)

	if _, err := s.CreateNetwork("p1", &compute.Network{Name: "prod"}); err != nil {
		t.Fatalf("CreateNetwork(...): %v", err)
	}
	if _, err := s.CreateNetwork("p1", &compute.Network{Name: "prod"}); !apierror.IsConflict(err) {
		t.Errorf("duplicate network should conflict, got %v", err)
	}

	// The default network is auto-created with the project.
	list, err := s.ListNetworks("p1")
	if err != nil {
		t.Fatalf("ListNetworks(...): %v", err)
	}
	if len(list.Items) != 2 || list.Items[0].Name != "default" || list.Items[1].Name != "prod" {
		t.Fatalf("networks = %+v", list.Items)
	}

	if _, err := s.DeleteNetwork("p1", "prod"); err != nil {
		t.Fatalf("DeleteNetwork(...): %v", err)
	}
	if _, err := s.GetNetwork("p1", "prod"); !apierror.IsNotFound(err) {
		t.Errorf("deleted network should be notFound, got %v", err)
	}
}

func TestDeleteNetworkInUse(t *testing.T) {
	s := testService(t)
	if _, err := s.CreateFirewall("p1", firewallFixture()); err != nil {
		t.Fatal(err)
	}

	_, err := s.DeleteNetwork("p1", "default")
	if !apierror.IsConflict(err) {
		t.Errorf("deleting a referenced network should conflict, got %v", err)
	}
}

func TestSubnetworkLifecycle(t *testing.T) {
	s := testService(t)

	sn := &compute.Subnetwork{Name: "apps", IpCidrRange: "10.128.0.0/20"}
	if _, err := s.CreateSubnetwork("p1", "us-central1", sn); err != nil {
		t.Fatalf("CreateSubnetwork(...): %v", err)
	}

	got, err := s.GetSubnetwork("p1", "us-central1", "apps")
	if err != nil {
		t.Fatalf("GetSubnetwork(...): %v", err)
	}
	if got.GatewayAddress != "10.128.0.1" {
		t.Errorf("gateway = %q, want 10.128.0.1", got.GatewayAddress)
	}
	if got.Region != "https://www.googleapis.com/compute/v1/projects/p1/regions/us-central1" {
		t.Errorf("region = %q", got.Region)
	}

	// The parent network now reports the subnetwork link.
	n, err := s.GetNetwork("p1", "default")
	if err != nil {
		t.Fatalf("GetNetwork(...): %v", err)
	}
	if len(n.Subnetworks) != 1 {
		t.Errorf("network subnetworks = %v", n.Subnetworks)
	}

	if _, err := s.DeleteSubnetwork("p1", "us-central1", "apps"); err != nil {
		t.Fatalf("DeleteSubnetwork(...): %v", err)
	}
}

func TestSubnetworkCIDRBounds(t *testing.T) {
	s := testService(t)

	for _, cidr := range []string{"0.0.0.0/0", "10.0.0.0/7", "10.0.0.0/30", "not-a-cidr"} {
		_, err := s.CreateSubnetwork("p1", "us-central1", &compute.Subnetwork{Name: "bad", IpCidrRange: cidr})
		if apierror.FromError(err).Code != 400 {
			t.Errorf("CreateSubnetwork(%q) = %v, want invalid", cidr, err)
		}
	}
}

func TestRouteLifecycle(t *testing.T) {
	s := testService(t)

	r := &compute.Route{Name: "to-nowhere", DestRange: "192.168.0.0/16"}
	if _, err := s.CreateRoute("p1", r); err != nil {
		t.Fatalf("CreateRoute(...): %v", err)
	}

	got, err := s.GetRoute("p1", "to-nowhere")
	if err != nil {
		t.Fatalf("GetRoute(...): %v", err)
	}
	if got.Priority != 1000 {
		t.Errorf("default priority = %d, want 1000", got.Priority)
	}
	if got.NextHopGateway == "" {
		t.Error("default next hop should be the internet gateway")
	}

	list, _ := s.ListRoutes("p1")
	if len(list.Items) != 1 {
		t.Errorf("routes = %d, want 1", len(list.Items))
	}
	if _, err := s.DeleteRoute("p1", "to-nowhere"); err != nil {
		t.Fatalf("DeleteRoute(...): %v", err)
	}
}

func TestRouterLifecycle(t *testing.T) {
	s := testService(t)

	r := &compute.Router{Name: "edge", Bgp: &compute.RouterBgp{Asn: 64512}}
	if _, err := s.CreateRouter("p1", "us-central1", r); err != nil {
		t.Fatalf("CreateRouter(...): %v", err)
	}

	got, err := s.GetRouter("p1", "us-central1", "edge")
	if err != nil {
		t.Fatalf("GetRouter(...): %v", err)
	}
	if got.Bgp == nil || got.Bgp.Asn != 64512 {
		t.Errorf("router bgp = %+v", got.Bgp)
	}

	if _, err := s.DeleteRouter("p1", "us-central1", "edge"); err != nil {
		t.Fatalf("DeleteRouter(...): %v", err)
	}
	if list, _ := s.ListRouters("p1", "us-central1"); len(list.Items) != 0 {
		t.Errorf("routers after delete = %d", len(list.Items))
	}
}

func TestAddressAutoAllocation(t *testing.T) {
	s := testService(t)

	if _, err := s.CreateAddress("p1", "us-central1", &compute.Address{Name: "nat"}); err != nil {
		t.Fatalf("CreateAddress(...): %v", err)
	}

	got, err := s.GetAddress("p1", "us-central1", "nat")
	if err != nil {
		t.Fatalf("GetAddress(...): %v", err)
	}
	if got.Address != "203.0.113.10" {
		t.Errorf("auto-allocated address = %q, want 203.0.113.10", got.Address)
	}
	if got.Status != "RESERVED" || got.AddressType != "EXTERNAL" {
		t.Errorf("address = %+v", got)
	}

	explicit := &compute.Address{Name: "pinned", Address: "203.0.113.200"}
	if _, err := s.CreateAddress("p1", "us-central1", explicit); err != nil {
		t.Fatalf("CreateAddress(explicit): %v", err)
	}
	pinned, _ := s.GetAddress("p1", "us-central1", "pinned")
	if pinned.Address != "203.0.113.200" {
		t.Errorf("pinned address = %q", pinned.Address)
	}
}

func TestInstanceAddressRecords(t *testing.T) {
	s := testService(t)

	inst := &store.Instance{Name: "vm1", Project: "p1", Zone: "us-central1-a"}
	err := s.store.Update(func(st *store.State) error {
		st.EnsureProject("p1", testTime)
		RecordInstanceAddress(st, testTime, inst, "203.0.113.10")
		return nil
	})
	if err != nil {
		t.Fatalf("Update(...): %v", err)
	}

	got, err := s.GetAddress("p1", "us-central1", "auto-vm1")
	if err != nil {
		t.Fatalf("GetAddress(...): %v", err)
	}
	if got.Status != "IN_USE" || len(got.Users) != 1 {
		t.Errorf("auto address = %+v", got)
	}

	// Deleting an in-use address is refused.
	if _, err := s.DeleteAddress("p1", "us-central1", "auto-vm1"); !apierror.IsConflict(err) {
		t.Errorf("deleting in-use address should conflict, got %v", err)
	}

	_ = s.store.Update(func(st *store.State) error {
		ReleaseInstanceAddress(st, inst)
		return nil
	})
	if _, err := s.DeleteAddress("p1", "us-central1", "auto-vm1"); err != nil {
		t.Errorf("released address should delete cleanly: %v", err)
	}
}

func TestOperationsRetrievable(t *testing.T) {
	s := testService(t)

	op, err := s.CreateFirewall("p1", firewallFixture())
	if err != nil {
		t.Fatalf("CreateFirewall(...): %v", err)
	}

	// The operation returned by a mutation must be stored under its scope.
	err = s.store.View(func(st *store.State) error {
		if _, ok := st.Operations[store.OperationKey("p1", "global", op.Name)]; !ok {
			t.Errorf("operation %q not retrievable in global scope", op.Name)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View(...): %v", err)
	}
}
