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
	"context"
	"fmt"
	"sort"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	compute "google.golang.org/api/compute/v1"

	"github.com/crossplane-contrib/gcp-emulator/pkg/apierror"
	"github.com/crossplane-contrib/gcp-emulator/pkg/gcp"
	"github.com/crossplane-contrib/gcp-emulator/pkg/operations"
	"github.com/crossplane-contrib/gcp-emulator/pkg/runtime"
	"github.com/crossplane-contrib/gcp-emulator/pkg/store"
	"github.com/crossplane-contrib/gcp-emulator/pkg/validation"
	"github.com/crossplane-contrib/gcp-emulator/pkg/vpc"
)

const (
	errEnsureNetwork    = "cannot ensure instance network"
	errCreateContainer  = "cannot create instance container"
	errStartContainer   = "cannot start instance container"
	errStopContainer    = "cannot stop instance container"
	errRemoveContainer  = "cannot remove instance container"
	errInstanceNotFound = "instance %q not found"
)

// invalidState is the fixed-format error for a lifecycle verb applied in
// the wrong status.
func invalidState(name, verb string, status store.InstanceStatus) error {
	return apierror.Invalid("instance %q in status %s does not allow %s", name, status, verb)
}

// CreateInstance drives the create state machine: the row is inserted in
// PROVISIONING, moves to STAGING while IPs are allocated and the container
// is brought up, and commits as RUNNING together with the DONE operation.
// Any failure on the way unwinds the row and its allocations.
func (s *Service) CreateInstance(ctx context.Context, project, zone string, req *compute.Instance) (*compute.Operation, error) {
	if !KnownZone(zone) {
		return nil, apierror.NotFound("zone %q not found", zone)
	}
	rec, err := newInstanceRecord(project, zone, req)
	if err != nil {
		return nil, err
	}

	key := store.InstanceKey(project, zone, rec.Name)
	err = s.store.Update(func(st *store.State) error {
		st.EnsureProject(project, s.now())
		if _, ok := st.Instances[key]; ok {
			return apierror.Conflict("instance %q already exists in zone %s", rec.Name, zone)
		}
		for _, ni := range rec.NetworkInterfaces {
			if _, ok := st.Networks[store.ScopedKey(project, ni.Network)]; !ok {
				return apierror.NotFound("network %q not found", ni.Network)
			}
		}
		rec.Status = store.StatusProvisioning
		rec.CreatedAt = s.now()
		st.Instances[key] = rec
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = s.store.Update(func(st *store.State) error {
		inst := st.Instances[key]
		alloc := st.Allocations[project]
		inst.InternalIP = vpc.AllocateInternal(alloc)
		ext, err := vpc.AllocateExternal(alloc)
		if err != nil {
			return err
		}
		inst.ExternalIP = ext
		if len(inst.NetworkInterfaces) > 0 {
			inst.NetworkInterfaces[0].NetworkIP = inst.InternalIP
			inst.NetworkInterfaces[0].NatIP = inst.ExternalIP
		}
		inst.Status = store.StatusStaging
		vpc.RecordInstanceAddress(st, s.now(), inst, ext)
		return nil
	})
	if err != nil {
		s.abandonCreate(project, zone, rec.Name, "")
		return nil, err
	}

	containerID, ip, err := s.bringUp(ctx, project, zone, rec)
	if err != nil {
		s.abandonCreate(project, zone, rec.Name, containerID)
		return nil, err
	}

	var op *store.Operation
	err = s.store.Update(func(st *store.State) error {
		inst, ok := st.Instances[key]
		if !ok {
			return apierror.NotFound(errInstanceNotFound, rec.Name)
		}
		now := s.now()
		inst.ContainerID = containerID
		refreshInternalIP(inst, ip)
		inst.Status = store.StatusRunning
		inst.LastStartAt = &now
		op = operations.Done(now, project, operations.TypeInsert, operations.Zonal(zone),
			gcp.ZonalSelfLink(project, zone, "instances", rec.Name), rec.Name)
		operations.Insert(st, op)
		return nil
	})
	if err != nil {
		s.abandonCreate(project, zone, rec.Name, containerID)
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"project":   project,
		"zone":      zone,
		"instance":  rec.Name,
		"container": containerID,
	}).Info("instance running")
	return operations.GenerateOperation(op), nil
}

// bringUp creates and starts the instance container, adopting a leftover
// container of the same name from an earlier run. It returns the container
// id and the engine-assigned IP, which may be empty.
func (s *Service) bringUp(ctx context.Context, project, zone string, rec *store.Instance) (string, string, error) {
	spec := runtime.Spec{
		Name:    ContainerName(project, zone, rec.Name),
		Image:   s.image,
		Network: networkName(project),
		Labels: map[string]string{
			"gcp-emulator/project":  project,
			"gcp-emulator/zone":     zone,
			"gcp-emulator/instance": rec.Name,
		},
		Env: envFromMetadata(rec.Metadata),
	}
	if err := s.rt.EnsureNetwork(ctx, spec.Network); err != nil {
		return "", "", errors.Wrap(err, errEnsureNetwork)
	}

	id, err := s.rt.Create(ctx, spec)
	if runtime.IsConflict(err) {
		prior, ierr := s.rt.Inspect(ctx, spec.Name)
		if ierr != nil {
			return "", "", errors.Wrap(err, errCreateContainer)
		}
		s.log.WithField("container", prior.ID).Info("adopted existing instance container")
		id, err = prior.ID, nil
	}
	if err != nil {
		return "", "", errors.Wrap(err, errCreateContainer)
	}
	if err := s.rt.Start(ctx, id); err != nil {
		return id, "", errors.Wrap(err, errStartContainer)
	}

	status, err := s.rt.Inspect(ctx, id)
	if err != nil {
		// The allocator's assignment stands when the engine cannot be asked.
		s.log.WithError(err).Warn("cannot inspect instance container after start")
		return id, "", nil
	}
	return id, status.IPAddress, nil
}

// abandonCreate unwinds a partially created instance: the row goes away,
// the internal IP returns to the pool, the auto address record is dropped
// and the container, if any, is removed. The external counter stays
// advanced; external IPs are never handed out twice.
func (s *Service) abandonCreate(project, zone, name, containerID string) {
	err := s.store.Update(func(st *store.State) error {
		key := store.InstanceKey(project, zone, name)
		inst, ok := st.Instances[key]
		if !ok {
			return nil
		}
		if alloc := st.Allocations[project]; alloc != nil && inst.InternalIP != "" {
			vpc.ReleaseInternal(alloc, inst.InternalIP)
		}
		delete(st.Addresses, store.RegionalKey(project, gcp.ZoneToRegion(zone), "auto-"+name))
		delete(st.Instances, key)
		return nil
	})
	if err != nil {
		s.log.WithError(err).Warn("cannot unwind instance create")
	}
	if containerID != "" {
		if err := s.rt.Remove(context.Background(), containerID); err != nil && !runtime.IsNotFound(err) {
			s.log.WithError(err).Warn("cannot remove container while unwinding create")
		}
	}
}

// StopInstance drives RUNNING through STOPPING to TERMINATED. The container
// is stopped but kept, along with both IPs.
func (s *Service) StopInstance(ctx context.Context, project, zone, name string) (*compute.Operation, error) {
	key := store.InstanceKey(project, zone, name)
	var containerID string
	err := s.store.Update(func(st *store.State) error {
		inst, ok := st.Instances[key]
		if !ok {
			return apierror.NotFound(errInstanceNotFound, name)
		}
		if inst.Status != store.StatusRunning {
			return invalidState(name, "stop", inst.Status)
		}
		now := s.now()
		inst.Status = store.StatusStopping
		inst.LastStopAt = &now
		containerID = inst.ContainerID
		return nil
	})
	if err != nil {
		return nil, err
	}

	if containerID != "" {
		if err := s.rt.Stop(ctx, containerID); err != nil && !runtime.IsNotFound(err) {
			return nil, errors.Wrap(err, errStopContainer)
		}
	}

	var op *store.Operation
	err = s.store.Update(func(st *store.State) error {
		inst, ok := st.Instances[key]
		if !ok {
			return apierror.NotFound(errInstanceNotFound, name)
		}
		inst.Status = store.StatusTerminated
		op = operations.Done(s.now(), project, operations.TypeStop, operations.Zonal(zone),
			gcp.ZonalSelfLink(project, zone, "instances", name), name)
		operations.Insert(st, op)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"project": project, "zone": zone, "instance": name}).Info("instance stopped")
	return operations.GenerateOperation(op), nil
}

// StartInstance drives TERMINATED through STAGING back to RUNNING. The
// prior container is restarted, or recreated if it no longer exists; the
// external IP persists and the internal IP is re-allocated only if absent.
func (s *Service) StartInstance(ctx context.Context, project, zone, name string) (*compute.Operation, error) {
	key := store.InstanceKey(project, zone, name)
	var rec *store.Instance
	err := s.store.Update(func(st *store.State) error {
		inst, ok := st.Instances[key]
		if !ok {
			return apierror.NotFound(errInstanceNotFound, name)
		}
		if inst.Status != store.StatusTerminated {
			return invalidState(name, "start", inst.Status)
		}
		inst.Status = store.StatusStaging
		if inst.InternalIP == "" {
			inst.InternalIP = vpc.AllocateInternal(st.Allocations[project])
			if len(inst.NetworkInterfaces) > 0 {
				inst.NetworkInterfaces[0].NetworkIP = inst.InternalIP
			}
		}
		rec = inst
		return nil
	})
	if err != nil {
		return nil, err
	}

	containerID, ip, err := s.restart(ctx, project, zone, rec)
	if err != nil {
		s.revertToTerminated(key)
		return nil, err
	}

	var op *store.Operation
	err = s.store.Update(func(st *store.State) error {
		inst, ok := st.Instances[key]
		if !ok {
			return apierror.NotFound(errInstanceNotFound, name)
		}
		now := s.now()
		inst.ContainerID = containerID
		refreshInternalIP(inst, ip)
		inst.Status = store.StatusRunning
		inst.LastStartAt = &now
		op = operations.Done(now, project, operations.TypeStart, operations.Zonal(zone),
			gcp.ZonalSelfLink(project, zone, "instances", name), name)
		operations.Insert(st, op)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"project": project, "zone": zone, "instance": name}).Info("instance started")
	return operations.GenerateOperation(op), nil
}

// restart brings an existing instance's container back up, recreating it
// when the engine lost it.
func (s *Service) restart(ctx context.Context, project, zone string, rec *store.Instance) (string, string, error) {
	id := rec.ContainerID
	if id != "" {
		err := s.rt.Start(ctx, id)
		if err == nil {
			status, ierr := s.rt.Inspect(ctx, id)
			if ierr != nil {
				return id, "", nil
			}
			return id, status.IPAddress, nil
		}
		if !runtime.IsNotFound(err) {
			return id, "", errors.Wrap(err, errStartContainer)
		}
	}
	return s.bringUp(ctx, project, zone, rec)
}

// revertToTerminated is the start compensation: the instance stays
// TERMINATED when its container cannot be brought up.
func (s *Service) revertToTerminated(key string) {
	err := s.store.Update(func(st *store.State) error {
		if inst, ok := st.Instances[key]; ok && inst.Status == store.StatusStaging {
			inst.Status = store.StatusTerminated
		}
		return nil
	})
	if err != nil {
		s.log.WithError(err).Warn("cannot revert instance to TERMINATED")
	}
}

// ResetInstance restarts a RUNNING instance's container. The instance never
// leaves RUNNING; only the container bounces.
func (s *Service) ResetInstance(ctx context.Context, project, zone, name string) (*compute.Operation, error) {
	key := store.InstanceKey(project, zone, name)
	var containerID string
	err := s.store.View(func(st *store.State) error {
		inst, ok := st.Instances[key]
		if !ok {
			return apierror.NotFound(errInstanceNotFound, name)
		}
		if inst.Status != store.StatusRunning {
			return invalidState(name, "reset", inst.Status)
		}
		containerID = inst.ContainerID
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.rt.Stop(ctx, containerID); err != nil && !runtime.IsNotFound(err) {
		return nil, errors.Wrap(err, errStopContainer)
	}
	if err := s.rt.Start(ctx, containerID); err != nil {
		return nil, errors.Wrap(err, errStartContainer)
	}
	status, ierr := s.rt.Inspect(ctx, containerID)

	var op *store.Operation
	err = s.store.Update(func(st *store.State) error {
		inst, ok := st.Instances[key]
		if !ok {
			return apierror.NotFound(errInstanceNotFound, name)
		}
		now := s.now()
		if ierr == nil {
			refreshInternalIP(inst, status.IPAddress)
		}
		inst.LastStartAt = &now
		op = operations.Done(now, project, operations.TypeReset, operations.Zonal(zone),
			gcp.ZonalSelfLink(project, zone, "instances", name), name)
		operations.Insert(st, op)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return operations.GenerateOperation(op), nil
}

// DeleteInstance removes an instance from any state. A live container is
// stopped and removed; the internal IP returns to the pool while the
// external IP stays out of circulation, its auto address record flipping to
// RESERVED.
func (s *Service) DeleteInstance(ctx context.Context, project, zone, name string) (*compute.Operation, error) {
	key := store.InstanceKey(project, zone, name)
	var containerID string
	var running bool
	err := s.store.Update(func(st *store.State) error {
		inst, ok := st.Instances[key]
		if !ok {
			return apierror.NotFound(errInstanceNotFound, name)
		}
		containerID = inst.ContainerID
		running = inst.Status == store.StatusRunning
		if running {
			now := s.now()
			inst.Status = store.StatusStopping
			inst.LastStopAt = &now
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if containerID != "" {
		if running {
			if err := s.rt.Stop(ctx, containerID); err != nil && !runtime.IsNotFound(err) {
				return nil, errors.Wrap(err, errStopContainer)
			}
		}
		if err := s.rt.Remove(ctx, containerID); err != nil && !runtime.IsNotFound(err) {
			return nil, errors.Wrap(err, errRemoveContainer)
		}
	}

	var op *store.Operation
	err = s.store.Update(func(st *store.State) error {
		inst, ok := st.Instances[key]
		if !ok {
			return apierror.NotFound(errInstanceNotFound, name)
		}
		if alloc := st.Allocations[project]; alloc != nil && inst.InternalIP != "" {
			vpc.ReleaseInternal(alloc, inst.InternalIP)
		}
		vpc.ReleaseInstanceAddress(st, inst)
		delete(st.Instances, key)
		op = operations.Done(s.now(), project, operations.TypeDelete, operations.Zonal(zone),
			gcp.ZonalSelfLink(project, zone, "instances", name), name)
		operations.Insert(st, op)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"project": project, "zone": zone, "instance": name}).Info("instance deleted")
	return operations.GenerateOperation(op), nil
}

// GetInstance returns the current row.
func (s *Service) GetInstance(project, zone, name string) (*compute.Instance, error) {
	var out *compute.Instance
	err := s.store.View(func(st *store.State) error {
		inst, ok := st.Instances[store.InstanceKey(project, zone, name)]
		if !ok {
			return apierror.NotFound(errInstanceNotFound, name)
		}
		out = GenerateInstance(inst)
		return nil
	})
	return out, err
}

// ListInstances returns a zone's instances sorted by name.
func (s *Service) ListInstances(project, zone string) (*compute.InstanceList, error) {
	out := &compute.InstanceList{
		Kind:  "compute#instanceList",
		Id:    fmt.Sprintf("projects/%s/zones/%s/instances", project, zone),
		Items: []*compute.Instance{},
	}
	err := s.store.View(func(st *store.State) error {
		for _, inst := range st.InstancesOf(project, zone) {
			out.Items = append(out.Items, GenerateInstance(inst))
		}
		return nil
	})
	return out, err
}

// PurgeProjectContainers force-removes every container backing a project's
// instances. Row deletion is the caller's job. Removal failures are logged
// and skipped so one stuck container cannot strand the project.
func (s *Service) PurgeProjectContainers(ctx context.Context, project string) {
	var ids []string
	_ = s.store.View(func(st *store.State) error {
		for _, inst := range st.Instances {
			if inst.Project == project && inst.ContainerID != "" {
				ids = append(ids, inst.ContainerID)
			}
		}
		return nil
	})
	for _, id := range ids {
		if err := s.rt.Remove(ctx, id); err != nil && !runtime.IsNotFound(err) {
			s.log.WithError(err).WithFields(logrus.Fields{"project": project, "container": id}).
				Warn("cannot remove container while purging project")
		}
	}
}

// AggregatedInstances returns every instance of the project grouped by
// zone, the shape the SDK's AggregatedList call expects. Zone wildcards on
// the list path resolve here too.
func (s *Service) AggregatedInstances(project string) (*compute.InstanceAggregatedList, error) {
	out := &compute.InstanceAggregatedList{
		Kind:  "compute#instanceAggregatedList",
		Id:    fmt.Sprintf("projects/%s/aggregated/instances", project),
		Items: map[string]compute.InstancesScopedList{},
	}
	err := s.store.View(func(st *store.State) error {
		for _, inst := range st.InstancesOf(project, "") {
			scope := "zones/" + inst.Zone
			entry := out.Items[scope]
			entry.Instances = append(entry.Instances, GenerateInstance(inst))
			out.Items[scope] = entry
		}
		return nil
	})
	return out, err
}

// newInstanceRecord validates the create request and shapes the stored row.
func newInstanceRecord(project, zone string, req *compute.Instance) (*store.Instance, error) {
	if req == nil || req.Name == "" {
		return nil, apierror.Invalid("instance name is required")
	}
	if err := validation.ResourceName("instance", req.Name); err != nil {
		return nil, err
	}
	machineType, err := ResolveMachineType(req.MachineType)
	if err != nil {
		return nil, err
	}

	rec := &store.Instance{
		Name:        req.Name,
		Project:     project,
		Zone:        zone,
		MachineType: machineType,
		Labels:      req.Labels,
	}
	if req.Tags != nil {
		rec.Tags = req.Tags.Items
	}
	if req.Metadata != nil {
		rec.Metadata = map[string]string{}
		for _, item := range req.Metadata.Items {
			rec.Metadata[item.Key] = gcp.StringValue(item.Value)
		}
	}
	for i, ni := range req.NetworkInterfaces {
		rec.NetworkInterfaces = append(rec.NetworkInterfaces, store.NetworkInterface{
			Name:       fmt.Sprintf("nic%d", i),
			Network:    gcp.ResourceName(ni.Network),
			Subnetwork: gcp.ResourceName(ni.Subnetwork),
		})
	}
	if len(rec.NetworkInterfaces) == 0 {
		rec.NetworkInterfaces = []store.NetworkInterface{{Name: "nic0", Network: "default"}}
	}
	for _, d := range req.Disks {
		disk := store.Disk{DeviceName: d.DeviceName, Boot: d.Boot}
		if d.InitializeParams != nil {
			disk.SourceImage = d.InitializeParams.SourceImage
			disk.SizeGB = d.InitializeParams.DiskSizeGb
		}
		rec.Disks = append(rec.Disks, disk)
	}
	for _, sa := range req.ServiceAccounts {
		rec.ServiceAccounts = append(rec.ServiceAccounts, sa.Email)
	}
	return rec, nil
}

// refreshInternalIP folds the engine-reported address into the row when the
// engine disagrees with the allocator.
func refreshInternalIP(inst *store.Instance, ip string) {
	if ip == "" || ip == inst.InternalIP {
		return
	}
	inst.InternalIP = ip
	if len(inst.NetworkInterfaces) > 0 {
		inst.NetworkInterfaces[0].NetworkIP = ip
	}
}

// envFromMetadata passes instance metadata into the container environment,
// sorted so container specs are deterministic.
func envFromMetadata(md map[string]string) []string {
	if len(md) == 0 {
		return nil
	}
	keys := make([]string, 0, len(md))
	for k := range md {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+md[k])
	}
	return out
}
