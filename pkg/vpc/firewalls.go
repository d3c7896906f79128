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

	"github.com/sirupsen/logrus"
	compute "google.golang.org/api/compute/v1"

	"github.com/crossplane-contrib/gcp-emulator/pkg/apierror"
	"github.com/crossplane-contrib/gcp-emulator/pkg/gcp"
	"github.com/crossplane-contrib/gcp-emulator/pkg/operations"
	"github.com/crossplane-contrib/gcp-emulator/pkg/store"
	"github.com/crossplane-contrib/gcp-emulator/pkg/validation"
)

// Firewall defaults applied when the request omits the field, matching the
// provider's documented defaults.
const (
	defaultFirewallPriority = 1000
	defaultDirection        = "INGRESS"
)

// Firewall rule actions.
const (
	ActionAllow = "ALLOW"
	ActionDeny  = "DENY"
)

// CreateFirewall validates and stores a firewall rule and returns the DONE
// operation.
func (s *Service) CreateFirewall(project string, fw *compute.Firewall) (*compute.Operation, error) {
	rec, err := newFirewallRecord(project, s.now(), fw)
	if err != nil {
		return nil, err
	}

	var op *store.Operation
	err = s.store.Update(func(st *store.State) error {
		st.EnsureProject(project, s.now())
		key := store.ScopedKey(project, rec.Name)
		if _, ok := st.Firewalls[key]; ok {
			return apierror.Conflict("firewall %q already exists", rec.Name)
		}
		if _, ok := st.Networks[store.ScopedKey(project, rec.Network)]; !ok {
			return apierror.NotFound("network %q not found", rec.Network)
		}
		st.Firewalls[key] = rec
		op = operations.Done(s.now(), project, operations.TypeInsert, operations.Global(),
			gcp.GlobalSelfLink(project, "firewalls", rec.Name), rec.Name)
		operations.Insert(st, op)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"project": project, "firewall": rec.Name}).Debug("firewall created")
	return operations.GenerateOperation(op), nil
}

// GetFirewall returns one firewall rule.
func (s *Service) GetFirewall(project, name string) (*compute.Firewall, error) {
	var out *compute.Firewall
	err := s.store.View(func(st *store.State) error {
		fw, ok := st.Firewalls[store.ScopedKey(project, name)]
		if !ok {
			return apierror.NotFound("firewall %q not found", name)
		}
		out = GenerateFirewall(fw)
		return nil
	})
	return out, err
}

// ListFirewalls returns a project's firewall rules sorted by name.
func (s *Service) ListFirewalls(project string) (*compute.FirewallList, error) {
	out := &compute.FirewallList{
		Kind:  "compute#firewallList",
		Id:    "projects/" + project + "/global/firewalls",
		Items: []*compute.Firewall{},
	}
	err := s.store.View(func(st *store.State) error {
		for _, fw := range st.FirewallsOf(project) {
			out.Items = append(out.Items, GenerateFirewall(fw))
		}
		return nil
	})
	return out, err
}

// DeleteFirewall removes a firewall rule and returns the DONE operation.
func (s *Service) DeleteFirewall(project, name string) (*compute.Operation, error) {
	var op *store.Operation
	err := s.store.Update(func(st *store.State) error {
		key := store.ScopedKey(project, name)
		if _, ok := st.Firewalls[key]; !ok {
			return apierror.NotFound("firewall %q not found", name)
		}
		delete(st.Firewalls, key)
		op = operations.Done(s.now(), project, operations.TypeDelete, operations.Global(),
			gcp.GlobalSelfLink(project, "firewalls", name), name)
		operations.Insert(st, op)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return operations.GenerateOperation(op), nil
}

// PatchFirewall applies a partial update to a firewall rule. Only fields
// present in the patch change; the scalar zero values mean "keep".
func (s *Service) PatchFirewall(project, name string, patch *compute.Firewall) (*compute.Operation, error) {
	var op *store.Operation
	err := s.store.Update(func(st *store.State) error {
		fw, ok := st.Firewalls[store.ScopedKey(project, name)]
		if !ok {
			return apierror.NotFound("firewall %q not found", name)
		}
		if err := patchFirewallRecord(fw, patch); err != nil {
			return err
		}
		op = operations.Done(s.now(), project, operations.TypePatch, operations.Global(),
			gcp.GlobalSelfLink(project, "firewalls", name), name)
		operations.Insert(st, op)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return operations.GenerateOperation(op), nil
}

func newFirewallRecord(project string, now time.Time, fw *compute.Firewall) (*store.FirewallRule, error) {
	if err := validation.ResourceName("firewall", fw.Name); err != nil {
		return nil, err
	}

	rec := &store.FirewallRule{
		Name:              fw.Name,
		Project:           project,
		Network:           gcp.ResourceName(fw.Network),
		Description:       fw.Description,
		Direction:         fw.Direction,
		Priority:          fw.Priority,
		SourceRanges:      fw.SourceRanges,
		DestinationRanges: fw.DestinationRanges,
		TargetTags:        fw.TargetTags,
		CreatedAt:         now,
	}
	if rec.Network == "" {
		rec.Network = "default"
	}
	if rec.Direction == "" {
		rec.Direction = defaultDirection
	}
	if rec.Priority == 0 {
		rec.Priority = defaultFirewallPriority
	}

	switch {
	case len(fw.Allowed) > 0 && len(fw.Denied) > 0:
		return nil, apierror.Invalid("firewall %q must not carry both allowed and denied entries", fw.Name)
	case len(fw.Allowed) > 0:
		rec.Action = ActionAllow
		for _, e := range fw.Allowed {
			rec.Rules = append(rec.Rules, store.FirewallAllowed{Protocol: e.IPProtocol, Ports: e.Ports})
		}
	case len(fw.Denied) > 0:
		rec.Action = ActionDeny
		for _, e := range fw.Denied {
			rec.Rules = append(rec.Rules, store.FirewallAllowed{Protocol: e.IPProtocol, Ports: e.Ports})
		}
	default:
		return nil, apierror.Invalid("firewall %q needs at least one allowed or denied entry", fw.Name)
	}

	if err := validateFirewallRecord(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func validateFirewallRecord(rec *store.FirewallRule) error {
	if err := validation.Direction(rec.Direction); err != nil {
		return err
	}
	if err := validation.Priority(rec.Priority); err != nil {
		return err
	}
	for _, r := range rec.Rules {
		if err := validation.Protocol(r.Protocol); err != nil {
			return err
		}
		if err := validation.Ports(r.Ports); err != nil {
			return err
		}
	}
	for _, cidr := range rec.SourceRanges {
		if err := validation.FirewallCIDR(cidr); err != nil {
			return err
		}
	}
	for _, cidr := range rec.DestinationRanges {
		if err := validation.FirewallCIDR(cidr); err != nil {
			return err
		}
	}
	return nil
}

func patchFirewallRecord(rec *store.FirewallRule, patch *compute.Firewall) error {
	next := *rec
	if patch.Description != "" {
		next.Description = patch.Description
	}
	if patch.Direction != "" {
		next.Direction = patch.Direction
	}
	if patch.Priority != 0 {
		next.Priority = patch.Priority
	}
	if len(patch.SourceRanges) > 0 {
		next.SourceRanges = patch.SourceRanges
	}
	if len(patch.DestinationRanges) > 0 {
		next.DestinationRanges = patch.DestinationRanges
	}
	if len(patch.TargetTags) > 0 {
		next.TargetTags = patch.TargetTags
	}
	if len(patch.Allowed) > 0 && len(patch.Denied) > 0 {
		return apierror.Invalid("firewall %q must not carry both allowed and denied entries", rec.Name)
	}
	if len(patch.Allowed) > 0 {
		next.Action = ActionAllow
		next.Rules = nil
		for _, e := range patch.Allowed {
			next.Rules = append(next.Rules, store.FirewallAllowed{Protocol: e.IPProtocol, Ports: e.Ports})
		}
	}
	if len(patch.Denied) > 0 {
		next.Action = ActionDeny
		next.Rules = nil
		for _, e := range patch.Denied {
			next.Rules = append(next.Rules, store.FirewallAllowed{Protocol: e.IPProtocol, Ports: e.Ports})
		}
	}
	if err := validateFirewallRecord(&next); err != nil {
		return err
	}
	*rec = next
	return nil
}

// GenerateFirewall produces the wire representation of a firewall record.
func GenerateFirewall(fw *store.FirewallRule) *compute.Firewall {
	out := &compute.Firewall{
		Kind:              "compute#firewall",
		Id:                gcp.NumericID(store.ScopedKey(fw.Project, fw.Name)),
		Name:              fw.Name,
		Description:       fw.Description,
		Direction:         fw.Direction,
		Priority:          fw.Priority,
		Network:           gcp.GlobalSelfLink(fw.Project, "networks", fw.Network),
		SourceRanges:      fw.SourceRanges,
		DestinationRanges: fw.DestinationRanges,
		TargetTags:        fw.TargetTags,
		CreationTimestamp: gcp.FormatTime(fw.CreatedAt),
		SelfLink:          gcp.GlobalSelfLink(fw.Project, "firewalls", fw.Name),
	}
	for _, r := range fw.Rules {
		switch fw.Action {
		case ActionDeny:
			out.Denied = append(out.Denied, &compute.FirewallDenied{IPProtocol: r.Protocol, Ports: r.Ports})
		default:
			out.Allowed = append(out.Allowed, &compute.FirewallAllowed{IPProtocol: r.Protocol, Ports: r.Ports})
		}
	}
	return out
}

// AppliesTo tells whether a firewall rule matches an instance: either the
// rule names no target tags, or the tag sets intersect. Matching is advisory
// only; no traffic is filtered.
func AppliesTo(fw *store.FirewallRule, inst *store.Instance) bool {
	if len(fw.TargetTags) == 0 {
		return true
	}
	for _, want := range fw.TargetTags {
		for _, have := range inst.Tags {
			if want == have {
				return true
			}
		}
	}
	return false
}
