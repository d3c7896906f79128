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
	"sort"

	compute "google.golang.org/api/compute/v1"

	"github.com/crossplane-contrib/gcp-emulator/pkg/gcp"
	"github.com/crossplane-contrib/gcp-emulator/pkg/store"
)

// GenerateInstance produces the wire representation of an instance row. The
// first interface carries the instance's internal IP and, through its
// access config, the external NAT IP.
func GenerateInstance(i *store.Instance) *compute.Instance {
	out := &compute.Instance{
		Kind:              "compute#instance",
		Id:                gcp.NumericID(store.InstanceKey(i.Project, i.Zone, i.Name)),
		Name:              i.Name,
		Status:            string(i.Status),
		Zone:              gcp.ZoneSelfLink(i.Project, i.Zone),
		MachineType:       gcp.ZonalSelfLink(i.Project, i.Zone, "machineTypes", i.MachineType),
		CreationTimestamp: gcp.FormatTime(i.CreatedAt),
		SelfLink:          gcp.ZonalSelfLink(i.Project, i.Zone, "instances", i.Name),
		Labels:            i.Labels,
	}

	if len(i.Tags) > 0 {
		out.Tags = &compute.Tags{Items: i.Tags}
	}
	if len(i.Metadata) > 0 {
		md := &compute.Metadata{Kind: "compute#metadata"}
		keys := make([]string, 0, len(i.Metadata))
		for k := range i.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			md.Items = append(md.Items, &compute.MetadataItems{Key: k, Value: gcp.StringPtr(i.Metadata[k])})
		}
		out.Metadata = md
	}

	for idx, ni := range i.NetworkInterfaces {
		wire := &compute.NetworkInterface{
			Kind:    "compute#networkInterface",
			Name:    ni.Name,
			Network: gcp.GlobalSelfLink(i.Project, "networks", ni.Network),
		}
		if ni.Subnetwork != "" {
			wire.Subnetwork = gcp.RegionalSelfLink(i.Project, gcp.ZoneToRegion(i.Zone), "subnetworks", ni.Subnetwork)
		}
		if idx == 0 {
			wire.NetworkIP = i.InternalIP
			if i.ExternalIP != "" {
				wire.AccessConfigs = []*compute.AccessConfig{{
					Kind:  "compute#accessConfig",
					Type:  "ONE_TO_ONE_NAT",
					Name:  "External NAT",
					NatIP: i.ExternalIP,
				}}
			}
		}
		out.NetworkInterfaces = append(out.NetworkInterfaces, wire)
	}

	for idx, d := range i.Disks {
		out.Disks = append(out.Disks, &compute.AttachedDisk{
			Kind:       "compute#attachedDisk",
			Index:      int64(idx),
			DeviceName: d.DeviceName,
			Boot:       d.Boot,
			Mode:       "READ_WRITE",
			Type:       "PERSISTENT",
		})
	}

	for _, email := range i.ServiceAccounts {
		out.ServiceAccounts = append(out.ServiceAccounts, &compute.ServiceAccount{Email: email})
	}

	if i.LastStartAt != nil {
		out.LastStartTimestamp = gcp.FormatTime(*i.LastStartAt)
	}
	if i.LastStopAt != nil {
		out.LastStopTimestamp = gcp.FormatTime(*i.LastStopAt)
	}
	return out
}
